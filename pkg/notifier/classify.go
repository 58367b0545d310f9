package notifier

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/schedkit/schedkit/pkg/queue"
)

// transientMarkers are provider error fragments that indicate a retry may
// succeed.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"rate limit",
	"too many requests",
	"temporarily unavailable",
	"service unavailable",
}

// permanentMarkers are provider error fragments that indicate the request
// itself is broken and retrying cannot help.
var permanentMarkers = []string{
	"invalid",
	"not found",
	"malformed",
	"unauthorized",
	"forbidden",
	"rejected",
}

// Classify wraps a delivery error with retry severity for the job queue.
// Network-level failures and throttling are transient; provider rejections
// of the request itself are permanent. Anything unrecognized stays
// transient so a flaky provider gets the benefit of the doubt.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.As(err, &netErr):
		return queue.Transient(err)
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return queue.Transient(err)
		}
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return queue.Permanent(err)
		}
	}

	return queue.Transient(err)
}
