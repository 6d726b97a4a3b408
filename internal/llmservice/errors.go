package llmservice

import (
	"context"
	"errors"
	"net"
	"regexp"

	"documind/internal/models"
)

var (
	permanentPattern = regexp.MustCompile(`(?i)(\b40[0134]\b|\b422\b|unauthori[sz]ed|forbidden|invalid api key|incorrect api key|authentication|permission denied|invalid request|malformed|bad request|context length)`)
	transientPattern = regexp.MustCompile(`(?i)(\b429\b|\b50[0234]\b|rate limit|timeout|timed out|temporarily|try again|overloaded|unavailable|connection refused|connection reset|\bEOF\b)`)
)

// isRetryableError reports whether a failed chat call may succeed when
// repeated.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, models.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	if permanentPattern.MatchString(msg) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return transientPattern.MatchString(msg)
}
