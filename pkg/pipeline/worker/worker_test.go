package worker_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/palantir/compute-module-dataset-catalog/pkg/pipeline/core"
	"github.com/palantir/compute-module-dataset-catalog/pkg/pipeline/worker"
)

func fastRetries(policy worker.FailurePolicy, retries int) worker.Options {
	return worker.Options{
		Workers:           1,
		MaxRetries:        retries,
		FailurePolicy:     policy,
		TaskTimeout:       1 * time.Second,
		BackoffInitial:    1 * time.Millisecond,
		BackoffMax:        2 * time.Millisecond,
		BackoffJitterFrac: 0,
	}
}

func TestRun_RetriesTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	task := core.TaskFunc[string, string](func(_ context.Context, name string) (string, error) {
		if calls.Add(1) <= 2 {
			return "", &core.TransientError{Err: errors.New("try again")}
		}
		return name + ".md", nil
	})

	out, err := worker.Run(context.Background(), []string{"media_sum"}, task, fastRetries(worker.FailurePolicyPartialOutput, 3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Err != nil || out[0].Output != "media_sum.md" {
		t.Fatalf("unexpected output: %#v", out)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestRun_DoesNotRetryPermanent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	task := core.TaskFunc[string, string](func(_ context.Context, _ string) (string, error) {
		calls.Add(1)
		return "", errors.New("permanent")
	})

	out, err := worker.Run(context.Background(), []string{"media_sum"}, task, fastRetries(worker.FailurePolicyPartialOutput, 10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Err == nil || out[0].Err.Error() != "permanent" {
		t.Fatalf("unexpected output: %#v", out)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 call, got %d", got)
	}
}

func TestRun_RespectsPerErrorRetryCap(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	task := core.TaskFunc[string, string](func(_ context.Context, _ string) (string, error) {
		calls.Add(1)
		return "", &core.LimitedTransientError{Err: errors.New("busy"), ExtraRetries: 1}
	})

	out, err := worker.Run(context.Background(), []string{"media_sum"}, task, fastRetries(worker.FailurePolicyPartialOutput, 10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Err == nil {
		t.Fatalf("expected error output, got %#v", out[0])
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 calls (1 initial + 1 retry), got %d", got)
	}
}

func TestRun_FailFastStops(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	task := core.TaskFunc[string, string](func(_ context.Context, name string) (string, error) {
		calls.Add(1)
		if name == "broken" {
			return "", errors.New("boom")
		}
		t.Errorf("unexpected call for %q", name)
		return "", nil
	})

	out, err := worker.Run(context.Background(), []string{"broken", "media_sum"}, task, worker.Options{
		Workers:       1,
		FailurePolicy: worker.FailurePolicyFailFast,
	})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom error, got %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil output on fail-fast, got %#v", out)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 call, got %d", got)
	}
}

func TestRun_PartialOutputKeepsInputOrder(t *testing.T) {
	t.Parallel()

	task := core.TaskFunc[string, int](func(_ context.Context, name string) (int, error) {
		if name == "broken" {
			return 0, errors.New("boom")
		}
		return len(name), nil
	})

	items := []string{"broken", "media_sum", "web_questions"}
	out, err := worker.Run(context.Background(), items, task, worker.Options{Workers: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 outputs, got %d", len(out))
	}
	if out[0].Err == nil || out[0].Input != "broken" {
		t.Fatalf("unexpected out[0]: %#v", out[0])
	}
	if out[1].Output != 9 || out[2].Output != 13 || out[2].Index != 2 {
		t.Fatalf("unexpected outputs: %#v", out)
	}
}

func TestRunWithCallback_CompletionOrder(t *testing.T) {
	t.Parallel()

	releaseSlow := make(chan struct{})
	startedSlow := make(chan struct{})
	task := core.TaskFunc[string, string](func(_ context.Context, name string) (string, error) {
		if name == "slow" {
			close(startedSlow)
			<-releaseSlow
		}
		return name, nil
	})

	var mu sync.Mutex
	var seen []string
	firstSeen := make(chan string, 1)
	doneErr := make(chan error, 1)
	go func() {
		_, err := worker.RunWithCallback(
			context.Background(),
			[]string{"slow", "fast"},
			task,
			func(res worker.Result[string, string]) error {
				mu.Lock()
				defer mu.Unlock()
				seen = append(seen, res.Input)
				if len(seen) == 1 {
					firstSeen <- res.Input
				}
				return nil
			},
			worker.Options{Workers: 2},
		)
		doneErr <- err
	}()

	select {
	case <-startedSlow:
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for slow task to start")
	}
	select {
	case got := <-firstSeen:
		if got != "fast" {
			t.Fatalf("expected fast callback first, got %q", got)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for first callback")
	}

	close(releaseSlow)
	select {
	case err := <-doneErr:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(seen, []string{"fast", "slow"}) {
		t.Fatalf("unexpected callback order: %v", seen)
	}
}

func TestRunWithCallback_CallbackErrorStopsRun(t *testing.T) {
	t.Parallel()

	callbackErr := errors.New("callback failed")
	_, err := worker.RunWithCallback(
		context.Background(),
		[]string{"media_sum"},
		core.TaskFunc[string, string](func(_ context.Context, name string) (string, error) {
			return name, nil
		}),
		func(worker.Result[string, string]) error {
			return callbackErr
		},
		worker.Options{Workers: 1},
	)
	if !errors.Is(err, callbackErr) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestBackoff_CapsAtMax(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 10 * time.Millisecond},
		{1, 20 * time.Millisecond},
		{2, 40 * time.Millisecond},
		{5, 50 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := worker.Backoff(10*time.Millisecond, 50*time.Millisecond, 0, tt.attempt); got != tt.want {
			t.Fatalf("Backoff(attempt=%d)=%v want=%v", tt.attempt, got, tt.want)
		}
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	if worker.IsTransient(nil) || worker.IsTransient(errors.New("x")) {
		t.Fatalf("plain errors must not be transient")
	}
	if !worker.IsTransient(context.DeadlineExceeded) {
		t.Fatalf("deadline must be transient")
	}
	if !worker.IsTransient(&core.TransientError{Err: errors.New("x")}) {
		t.Fatalf("marked error must be transient")
	}
}
