// Package identity matches building names coming from different systems.
package identity

import (
	"regexp"
	"strings"
)

var (
	wordReplacements = map[string]string{
		"street":     "st",
		"avenue":     "ave",
		"drive":      "dr",
		"road":       "rd",
		"boulevard":  "blvd",
		"lane":       "ln",
		"court":      "ct",
		"place":      "pl",
		"terrace":    "ter",
		"parkway":    "pkwy",
		"square":     "sq",
		"north":      "n",
		"south":      "s",
		"east":       "e",
		"west":       "w",
		"apartments": "apts",
		"apartment":  "apt",
		"the":        "",
	}
	nonAlnumRegex = regexp.MustCompile(`[^a-z0-9 ]`)
)

// NormalizeName lowercases name, drops punctuation and abbreviates common
// street words so "The Ardus on North Street" and "Ardus on N. St" agree.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = nonAlnumRegex.ReplaceAllString(name, "")

	words := strings.Fields(name)
	out := words[:0]
	for _, w := range words {
		if r, ok := wordReplacements[w]; ok {
			w = r
		}
		if w != "" {
			out = append(out, w)
		}
	}
	return strings.Join(out, " ")
}

// SameBuilding reports whether two names refer to the same building: after
// normalization one must contain the other. Empty names never match.
func SameBuilding(a, b string) bool {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return false
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}
