package scraper

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/roxie-moxie/moxie-buildings-sub000/llm"
	"github.com/roxie-moxie/moxie-buildings-sub000/models"
	"github.com/roxie-moxie/moxie-buildings-sub000/render"
)

var llmSubpages = []string{"/floorplans", "/floor-plans", "/availability"}

// LLM is the fallback for sites with no known structure: render, reduce to
// markdown, and ask the extraction service for records. When the primary page
// yields nothing, a few likely subpages are tried.
type LLM struct {
	renderer  render.Renderer
	extractor Extractor
	cleaner   *llm.Cleaner
}

func NewLLM(renderer render.Renderer, extractor Extractor, maxChars int) *LLM {
	return &LLM{
		renderer:  renderer,
		extractor: extractor,
		cleaner:   llm.NewCleaner(maxChars),
	}
}

func (s *LLM) ID() string { return StrategyLLM }

func (s *LLM) Scrape(ctx context.Context, src models.Source) ([]models.RawUnit, error) {
	if s.extractor == nil {
		return nil, configErr("no extraction service configured (ANTHROPIC_API_KEY)")
	}

	units, err := s.scrapePage(ctx, src.URL)
	if err != nil {
		return nil, err
	}
	if len(units) > 0 {
		return units, nil
	}

	for _, page := range llmCandidatePages(src.URL) {
		sub, err := s.scrapePage(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("LLM: candidate %s: %v", page, err)
			continue
		}
		if len(sub) > 0 {
			log.Printf("LLM: %d units from %s", len(sub), page)
			return sub, nil
		}
	}
	return units, nil
}

func (s *LLM) scrapePage(ctx context.Context, pageURL string) ([]models.RawUnit, error) {
	html, err := s.renderer.Render(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("llm render %s: %w", pageURL, err)
	}
	content, err := s.cleaner.Clean(html, pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: clean %s: %v", ErrUpstream, pageURL, err)
	}
	if content == "" {
		return []models.RawUnit{}, nil
	}
	units, err := s.extractor.Extract(ctx, pageURL, content)
	if err != nil {
		return nil, fmt.Errorf("%w: extract %s: %v", ErrUpstream, pageURL, err)
	}
	return units, nil
}

func llmCandidatePages(pageURL string) []string {
	u, err := url.Parse(strings.TrimRight(pageURL, "/"))
	if err != nil || u.Host == "" {
		return nil
	}
	path := strings.TrimRight(u.Path, "/")
	var pages []string
	for _, p := range llmSubpages {
		if strings.HasSuffix(path, p) {
			continue
		}
		pages = append(pages, u.Scheme+"://"+u.Host+p)
	}
	return pages
}
