package render

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// Playwright renders pages with a shared Chromium launched on first use.
type Playwright struct {
	headless bool

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

func NewPlaywright(headless bool) *Playwright {
	return &Playwright{headless: headless}
}

func (r *Playwright) ensureBrowser() (playwright.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil && r.browser.IsConnected() {
		return r.browser, nil
	}

	if r.pw == nil {
		pw, err := playwright.Run()
		if err != nil {
			return nil, fmt.Errorf("failed to start playwright: %w", err)
		}
		r.pw = pw
	}

	browser, err := r.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(r.headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	r.browser = browser
	log.Println("Playwright: chromium launched")
	return browser, nil
}

func (r *Playwright) Render(ctx context.Context, url string) (string, error) {
	browser, err := r.ensureBrowser()
	if err != nil {
		return "", err
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(userAgent),
		Locale:    playwright.String("en-US"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create context: %w", err)
	}
	defer bctx.Close()

	page, err := bctx.NewPage()
	if err != nil {
		return "", fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	// Closing the context aborts navigation when the caller gives up.
	stop := context.AfterFunc(ctx, func() { bctx.Close() })
	defer stop()

	timeout := float64(navTimeout(ctx).Milliseconds())
	if _, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(timeout),
	}); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}

	html, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("read content %s: %w", url, err)
	}
	return html, nil
}

func (r *Playwright) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		r.browser.Close()
		r.browser = nil
	}
	if r.pw != nil {
		err := r.pw.Stop()
		r.pw = nil
		return err
	}
	return nil
}
