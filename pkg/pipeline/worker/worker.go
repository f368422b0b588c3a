package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/palantir/compute-module-dataset-catalog/pkg/pipeline/core"
	"golang.org/x/time/rate"
)

type FailurePolicy int

const (
	// FailurePolicyPartialOutput records per-item errors and keeps going.
	FailurePolicyPartialOutput FailurePolicy = iota
	// FailurePolicyFailFast cancels the batch on the first item error.
	FailurePolicyFailFast
)

type Options struct {
	Workers     int
	MaxRetries  int
	TaskTimeout time.Duration

	// RateLimitRPS is a global limit across all workers. Set to <=0 to disable.
	RateLimitRPS float64

	FailurePolicy FailurePolicy

	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// BackoffJitterFrac applies +/- jitter to backoff sleeps (0.2 = +/-20%).
	BackoffJitterFrac float64
}

// Result is the outcome for one item, stored at the item's input index.
type Result[In any, Out any] struct {
	Index  int
	Input  In
	Output Out
	Err    error
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.TaskTimeout <= 0 {
		o.TaskTimeout = 30 * time.Second
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 100 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 2 * time.Second
	}
	if o.BackoffJitterFrac < 0 {
		o.BackoffJitterFrac = 0
	}
	return o
}

// Run executes task for every item and returns results in input order.
func Run[In any, Out any](ctx context.Context, items []In, task core.Task[In, Out], opts Options) ([]Result[In, Out], error) {
	return RunWithCallback(ctx, items, task, nil, opts)
}

// RunWithCallback is Run with onResult invoked in completion order. A callback
// error cancels the batch and is returned.
func RunWithCallback[In any, Out any](
	ctx context.Context,
	items []In,
	task core.Task[In, Out],
	onResult func(Result[In, Out]) error,
	opts Options,
) ([]Result[In, Out], error) {
	opts = opts.withDefaults()
	p := &pool[In, Out]{task: task, opts: opts}
	if opts.RateLimitRPS > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.cancel = cancel

	indexes := make(chan int)
	done := make(chan Result[In, Out], opts.Workers)

	var wg sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(runCtx, items, indexes, done)
		}()
	}

	go func() {
		defer close(indexes)
		for i := range items {
			select {
			case indexes <- i:
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	out := make([]Result[In, Out], len(items))
	for res := range done {
		out[res.Index] = res
		if onResult != nil {
			if err := onResult(res); err != nil {
				p.fail(err)
			}
		}
	}

	if err := p.firstErr(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type pool[In any, Out any] struct {
	task    core.Task[In, Out]
	opts    Options
	limiter *rate.Limiter
	cancel  context.CancelFunc

	mu  sync.Mutex
	err error
}

func (p *pool[In, Out]) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = err
		p.cancel()
	}
}

func (p *pool[In, Out]) firstErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *pool[In, Out]) work(ctx context.Context, items []In, indexes <-chan int, done chan<- Result[In, Out]) {
	for idx := range indexes {
		if ctx.Err() != nil {
			return
		}
		out, err := p.attempt(ctx, items[idx])
		res := Result[In, Out]{Index: idx, Input: items[idx], Output: out, Err: err}
		select {
		case done <- res:
		case <-ctx.Done():
			return
		}
		if err != nil && p.opts.FailurePolicy == FailurePolicyFailFast {
			p.fail(err)
			return
		}
	}
}

// attempt runs the task for one item, retrying transient failures with backoff.
func (p *pool[In, Out]) attempt(ctx context.Context, item In) (Out, error) {
	var last Out
	for try := 0; ; try++ {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return last, err
			}
		}

		taskCtx, cancel := context.WithTimeout(ctx, p.opts.TaskTimeout)
		out, err := p.task.Do(taskCtx, item)
		cancel()
		last = out
		if err == nil {
			return out, nil
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return last, ctx.Err()
		}
		if !IsTransient(err) || try >= retryBudget(p.opts.MaxRetries, err) {
			return last, err
		}

		t := time.NewTimer(Backoff(p.opts.BackoffInitial, p.opts.BackoffMax, p.opts.BackoffJitterFrac, try))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return last, ctx.Err()
		}
	}
}

type retryCap interface {
	MaxExtraRetries() int
}

func retryBudget(configured int, err error) int {
	if configured < 0 {
		configured = 0
	}
	var capErr retryCap
	if errors.As(err, &capErr) {
		if limited := max(capErr.MaxExtraRetries(), 0); limited < configured {
			return limited
		}
	}
	return configured
}

// IsTransient reports whether err is worth retrying: explicitly marked transient
// errors, deadline expiries and network timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *core.TransientError
	if errors.As(err, &te) {
		return true
	}
	var lte *core.LimitedTransientError
	if errors.As(err, &lte) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// Backoff returns the sleep before retry number attempt (0-based): initial doubled
// per attempt, capped at max, with +/- jitterFrac applied.
func Backoff(initial, max time.Duration, jitterFrac float64, attempt int) time.Duration {
	sleep := initial
	for i := 0; i < attempt && sleep < max; i++ {
		sleep *= 2
	}
	if sleep > max {
		sleep = max
	}
	if jitterFrac <= 0 {
		return sleep
	}
	j := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(sleep) * j)
}
