package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"notes-embedding-worker/internal/domain"
)

// classify maps a provider failure onto the task error kinds. Network errors,
// timeouts, 408, 429 and 5xx are transient; any other 4xx means the request
// itself is bad and will never succeed.
func classify(op string, status int, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.Transient(op, err)
	}
	switch {
	case status == 0:
		return domain.Transient(op, err)
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return domain.Transient(op, err)
	case status >= 400 && status < 500:
		return domain.Terminal(op, fmt.Errorf("http %d: %w", status, err))
	default:
		return domain.Transient(op, err)
	}
}
