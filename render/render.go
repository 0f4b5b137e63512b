// Package render turns a URL into fully rendered HTML using a headless
// browser. Backends share one browser process per Renderer and open a fresh
// page per call.
package render

import (
	"context"
	"fmt"
	"time"
)

const (
	defaultNavTimeout = 45 * time.Second
	userAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Renderer renders a page and returns its HTML after client-side scripts ran.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
	Close() error
}

// New returns the renderer backend named by kind ("playwright" or "rod").
func New(kind string, headless bool) (Renderer, error) {
	switch kind {
	case "", "playwright":
		return NewPlaywright(headless), nil
	case "rod":
		return NewRod(headless), nil
	default:
		return nil, fmt.Errorf("unknown renderer: %s", kind)
	}
}

func navTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 && d < defaultNavTimeout {
			return d
		}
	}
	return defaultNavTimeout
}
