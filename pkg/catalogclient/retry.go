package catalogclient

import (
	"context"
	"errors"
	"net/http"
	"syscall"
	"time"

	"github.com/palantir/compute-module-dataset-catalog/pkg/card"
	"github.com/palantir/compute-module-dataset-catalog/pkg/pipeline/core"
	"github.com/palantir/compute-module-dataset-catalog/pkg/pipeline/worker"
)

// IsTransient reports whether a failed call is worth retrying: 429 and 5xx
// responses (except 501), timeouts and refused or reset connections.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		if he.StatusCode == http.StatusNotImplemented {
			return false
		}
		return he.StatusCode == http.StatusTooManyRequests || he.StatusCode/100 == 5
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return worker.IsTransient(err)
}

func retryTransient(ctx context.Context, attempts int, initialSleep time.Duration, f func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	sleep := initialSleep
	var lastErr error
	for i := 0; i < attempts; i++ {
		err := f()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) || i == attempts-1 {
			return err
		}

		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		sleep *= 2
		if sleep > 2*time.Second {
			sleep = 2 * time.Second
		}
	}
	return lastErr
}

// FetchSchemas fetches the default-version schema of each dataset on the
// worker pool. Per-dataset failures are reported in the results unless
// opts.FailurePolicy is fail-fast.
func (c *Client) FetchSchemas(ctx context.Context, identifiers []string, opts worker.Options) ([]worker.Result[string, card.Schema], error) {
	task := core.TaskFunc[string, card.Schema](func(ctx context.Context, id string) (card.Schema, error) {
		s, err := c.GetSchema(ctx, id, "")
		if err != nil && IsTransient(err) {
			// GetSchema has retried already; allow the pool one more round.
			return s, &core.LimitedTransientError{Err: err, ExtraRetries: 1}
		}
		return s, err
	})
	return worker.Run(ctx, identifiers, task, opts)
}
