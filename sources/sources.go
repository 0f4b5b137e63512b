// Package sources loads the external building list.
package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/roxie-moxie/moxie-buildings-sub000/models"
)

const maxListBytes = 16 << 20

// Provider loads the full building list on every call.
type Provider interface {
	Load(ctx context.Context) ([]models.SourceRecord, error)
}

// New picks a provider for location. http(s) locations are fetched with
// client and parsed as CSV (a published sheet export); local files are
// parsed by extension.
func New(location string, client *http.Client) (Provider, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		if client == nil {
			client = http.DefaultClient
		}
		return &CSV{open: remote(client, location)}, nil
	}

	switch strings.ToLower(filepath.Ext(location)) {
	case ".yaml", ".yml":
		return &YAML{Path: location}, nil
	case ".csv":
		return &CSV{open: local(location)}, nil
	}
	return nil, fmt.Errorf("unsupported source list %q: want .yaml, .yml, .csv or an http(s) CSV export", location)
}

type opener func(ctx context.Context) (io.ReadCloser, error)

func local(path string) opener {
	return func(context.Context) (io.ReadCloser, error) {
		return os.Open(path)
	}
}

func remote(client *http.Client, url string) opener {
	return func(ctx context.Context) (io.ReadCloser, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetch source list: HTTP %d", resp.StatusCode)
		}
		return struct {
			io.Reader
			io.Closer
		}{io.LimitReader(resp.Body, maxListBytes), resp.Body}, nil
	}
}
