package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/roxie-moxie/moxie-buildings-sub000/config"
)

func TestNewClientsProxy(t *testing.T) {
	c, err := NewClients(config.ScraperConfig{ProxyURL: "http://proxy.local:3128"})
	if err != nil {
		t.Fatalf("NewClients: %v", err)
	}
	tr := c.Scraping.Transport.(*http.Transport)
	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	u, err := tr.Proxy(req)
	if err != nil || u == nil || u.Host != "proxy.local:3128" {
		t.Fatalf("proxy = %v, %v", u, err)
	}

	if _, err := NewClients(config.ScraperConfig{ProxyURL: "://bad"}); err == nil {
		t.Fatal("expected error for bad proxy url")
	}
}

func TestScrapingClientFollowsRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusMovedPermanently)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClients(config.ScraperConfig{})
	if err != nil {
		t.Fatalf("NewClients: %v", err)
	}
	resp, err := c.Scraping.Get(srv.URL + "/old")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if resp.Request.URL.Path != "/new" {
		t.Fatalf("final path = %s", resp.Request.URL.Path)
	}
}
