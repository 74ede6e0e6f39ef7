package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"aistudio/internal/domain"
)

// ClassifyHTTPStatus maps a provider HTTP status code onto the transient vs
// permanent error taxonomy. Rate limits and upstream hiccups are retryable;
// everything else ends the current attempt.
func ClassifyHTTPStatus(op string, status int, body string) error {
	reason := fmt.Sprintf("%s: provider returned %d", op, status)
	if body != "" {
		reason = fmt.Sprintf("%s: %s", reason, body)
	}
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout:
		return domain.NewTransientError(reason, nil)
	default:
		return domain.NewPermanentError(reason, nil)
	}
}

// ClassifyTransportError maps network-level failures. Timeouts and temporary
// network conditions are transient; context cancellation propagates as-is so
// the orchestrator can tell a cancelled job from a broken provider.
func ClassifyTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.NewTransientError(op+": network timeout", err)
	}
	return domain.NewTransientError(op+": request failed", err)
}
