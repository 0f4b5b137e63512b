package render

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const rodIdleWait = 2 * time.Second

// Rod renders pages through go-rod with stealth patches applied to every
// page, for families that challenge plain automation.
type Rod struct {
	headless bool
	launch   func(headless bool) (*rod.Browser, error)
	alive    func(*rod.Browser) bool

	mu      sync.Mutex
	browser *rod.Browser
}

func NewRod(headless bool) *Rod {
	return &Rod{headless: headless, launch: launchRod, alive: rodAlive}
}

// ensureBrowser returns the running browser, relaunching it when the
// previous one has crashed or lost its connection.
func (r *Rod) ensureBrowser() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		if r.alive(r.browser) {
			return r.browser, nil
		}
		log.Println("Rod: chrome connection lost, relaunching")
		r.browser = nil
	}

	browser, err := r.launch(r.headless)
	if err != nil {
		return nil, err
	}
	r.browser = browser
	log.Println("Rod: chrome launched")
	return browser, nil
}

func launchRod(headless bool) (*rod.Browser, error) {
	controlURL, err := launcher.New().
		Headless(headless).
		Set("disable-blink-features", "AutomationControlled").
		Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to chrome: %w", err)
	}
	return browser, nil
}

// rodAlive asks the browser for its version, the cheapest CDP round trip.
func rodAlive(b *rod.Browser) bool {
	_, err := b.Timeout(5 * time.Second).Version()
	return err == nil
}

func (r *Rod) Render(ctx context.Context, url string) (string, error) {
	browser, err := r.ensureBrowser()
	if err != nil {
		return "", err
	}

	page, err := stealth.Page(browser)
	if err != nil {
		return "", fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx).Timeout(navTimeout(ctx))
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: userAgent}); err != nil {
		return "", fmt.Errorf("set user agent: %w", err)
	}
	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load %s: %w", url, err)
	}
	// Widgets inject their markup after load; give XHRs a moment to settle.
	if err := page.WaitIdle(rodIdleWait); err != nil && ctx.Err() != nil {
		return "", ctx.Err()
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read content %s: %w", url, err)
	}
	return html, nil
}

func (r *Rod) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.browser = nil
	return err
}
