package llm

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// DefaultMaxChars bounds the content sent per page.
const DefaultMaxChars = 40000

// Elements that never carry unit data.
const boilerplate = "script, style, noscript, svg, iframe, nav, footer, header, form, button, link, meta"

// Cleaner reduces rendered HTML to compact markdown.
type Cleaner struct {
	policy    *bluemonday.Policy
	converter *converter.Converter
	maxChars  int
}

func NewCleaner(maxChars int) *Cleaner {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Cleaner{
		policy: bluemonday.UGCPolicy(),
		converter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		maxChars: maxChars,
	}
}

// Clean strips boilerplate and markup from html and converts what is left
// to markdown, truncated to the cleaner's limit.
func (c *Cleaner) Clean(html, pageURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find(boilerplate).Remove()

	body, err := doc.Find("body").Html()
	if err != nil || strings.TrimSpace(body) == "" {
		body, err = doc.Html()
		if err != nil {
			return "", fmt.Errorf("serialize html: %w", err)
		}
	}

	sanitized := c.policy.Sanitize(body)

	md, err := c.converter.ConvertString(sanitized, converter.WithDomain(pageURL))
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	md = collapseBlankLines(md)

	if len(md) > c.maxChars {
		md = truncateUTF8(md, c.maxChars)
	}
	return md, nil
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	blank := false
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if l == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func truncateUTF8(s string, n int) string {
	for n > 0 && n < len(s) && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
