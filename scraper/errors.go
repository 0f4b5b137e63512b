package scraper

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Error kinds returned (wrapped) by strategies. Classify maps any error to
// the tag stored in the run log.
var (
	ErrConfig   = errors.New("configuration error")
	ErrBlocked  = errors.New("request blocked")
	ErrUpstream = errors.New("upstream error")
	ErrNoMatch  = errors.New("no known page structure matched")
	ErrTimeout  = errors.New("scrape timed out")
)

const maxErrorDetail = 1000

// Classify returns a short tag for err: config, blocked, upstream, nomatch,
// timeout or transient.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrBlocked):
		return "blocked"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrNoMatch):
		return "nomatch"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	default:
		return "transient"
	}
}

// ErrorDetail formats err for the run log: "[kind] message", capped at 1000
// bytes without splitting a rune.
func ErrorDetail(err error) string {
	if err == nil {
		return ""
	}
	detail := fmt.Sprintf("[%s] %s", Classify(err), err.Error())
	if len(detail) > maxErrorDetail {
		n := maxErrorDetail
		for n > 0 && !utf8.RuneStart(detail[n]) {
			n--
		}
		detail = detail[:n]
	}
	return detail
}

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}
