package httputil

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/roxie-moxie/moxie-buildings-sub000/config"
)

const maxRedirects = 10

type Clients struct {
	Scraping *http.Client // optionally proxied, for target sites
	API      *http.Client // direct, for the extraction service and sheet exports
}

func NewClients(cfg config.ScraperConfig) (*Clients, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 4

	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	scraping := &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
		Jar:       jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	return &Clients{
		Scraping: scraping,
		API:      &http.Client{Timeout: 90 * time.Second},
	}, nil
}
