package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const maxBodyBytes = 8 << 20

// Statuses that indicate bot detection rather than a broken page.
var blockedStatuses = map[int]bool{
	http.StatusForbidden:          true,
	http.StatusTooManyRequests:    true,
	http.StatusServiceUnavailable: true,
}

func get(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: bad url %q: %v", ErrConfig, url, err)
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if blockedStatuses[resp.StatusCode] {
		return nil, fmt.Errorf("%w: HTTP %d from %s", ErrBlocked, resp.StatusCode, url)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d from %s", ErrUpstream, resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return body, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	body, err := get(ctx, client, url, map[string]string{"Accept": "application/json"})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUpstream, url, err)
	}
	return nil
}

func getDocument(ctx context.Context, client *http.Client, url string) (*goquery.Document, error) {
	body, err := get(ctx, client, url, nil)
	if err != nil {
		return nil, err
	}
	return parseDocument(string(body))
}

func parseDocument(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", ErrUpstream, err)
	}
	return doc, nil
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
