// Package batch turns an arbitrary-size item collection into a complete,
// order-preserving result sequence by driving concurrent model invocations
// with bounded concurrency, retry with backoff, and split-on-exhaustion.
package batch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dan-solli/themefinder/pkg/llm"
	"github.com/dan-solli/themefinder/pkg/metrics"
	"github.com/dan-solli/themefinder/pkg/theme"
)

const (
	defaultMaxBatchSize   = 10
	defaultMaxConcurrency = 5
	defaultMaxRetries     = 3
	defaultBackoffBase    = 1 * time.Second
	defaultBackoffCap     = 30 * time.Second
)

// Item is one unit of batchable work: a stable id plus the text the model
// sees. Responses and candidate themes both map onto it.
type Item struct {
	ID   string
	Text string
}

// Config holds the batching and resilience knobs.
type Config struct {
	MaxBatchSize   int
	MaxConcurrency int
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = defaultMaxBatchSize
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = defaultMaxConcurrency
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = defaultBackoffCap
	}
	return c
}

// CallFunc performs one model invocation over a batch of items and returns
// one result per item. Implementations render the prompt, call the model and
// validate the reply; the processor owns everything around that.
type CallFunc[R any] func(ctx context.Context, items []Item) ([]R, error)

// Outcome is the resolved output of a Run: one result per non-failed item in
// original input order, plus the permanent failures.
type Outcome[R any] struct {
	Results  []R
	Failures []theme.Failure
}

// OutageError is returned when every batch of a stage failed after the full
// retry/split policy. Producing an empty result silently would be wrong, so
// the orchestrator treats this as fatal.
type OutageError struct {
	Items int
	Err   error
}

func (e *OutageError) Error() string {
	return fmt.Sprintf("all %d items failed, provider presumed down: %v", e.Items, e.Err)
}

func (e *OutageError) Unwrap() error {
	return e.Err
}

// permanentError marks a call failure that must not be retried or split.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the processor fails the batch immediately instead
// of retrying. Used for caller-input problems a retry cannot fix.
func Permanent(err error) error {
	return &permanentError{err: err}
}

// Processor drives batched, concurrent, retried model work for one pipeline
// stage. The semaphore and the failure accumulator are the only state shared
// across invocations; each batch's working data is private to its worker.
type Processor struct {
	cfg     Config
	stage   string
	sem     *semaphore.Weighted
	metrics metrics.Collector
}

// NewProcessor creates a processor for one stage. A nil collector disables
// metrics.
func NewProcessor(cfg Config, stage string, collector metrics.Collector) *Processor {
	cfg = cfg.withDefaults()
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}
	return &Processor{
		cfg:     cfg,
		stage:   stage,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		metrics: collector,
	}
}

// Partition splits items into contiguous batches of at most maxBatchSize.
// Concatenating the batches in order reconstructs the original sequence.
func Partition(items []Item, maxBatchSize int) [][]Item {
	if len(items) == 0 {
		return nil
	}
	if maxBatchSize <= 0 {
		maxBatchSize = defaultMaxBatchSize
	}

	batches := make([][]Item, 0, (len(items)+maxBatchSize-1)/maxBatchSize)
	for start := 0; start < len(items); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}

// Run processes items through call and reassembles the results in original
// input order. Failed batches are retried with exponential backoff, then
// split in half and requeued until single-item batches either succeed or are
// recorded as permanent failures.
//
// On caller cancellation Run returns whatever is already resolved together
// with the context error. When nothing at all succeeded, Run returns an
// *OutageError.
func Run[R any](ctx context.Context, p *Processor, items []Item, call CallFunc[R], key func(R) string) (*Outcome[R], error) {
	out := &Outcome[R]{}
	if len(items) == 0 {
		return out, nil
	}

	results := make(map[string]R, len(items))
	var failures []theme.Failure
	var lastErr error
	var mu sync.Mutex

	// Explicit work queue instead of recursion: splits from one wave become
	// the next wave. This bounds memory and keeps cancellation mid-split
	// straightforward.
	queue := Partition(items, p.cfg.MaxBatchSize)
	for len(queue) > 0 && ctx.Err() == nil {
		var next [][]Item
		var wg sync.WaitGroup

		for _, b := range queue {
			if err := p.sem.Acquire(ctx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func(b []Item) {
				defer wg.Done()
				defer p.sem.Release(1)

				rows, attempts, err := attempt(ctx, p, b, call)

				mu.Lock()
				defer mu.Unlock()

				if err == nil {
					for _, r := range rows {
						results[key(r)] = r
					}
					return
				}
				if ctx.Err() != nil {
					// Cancelled mid-flight: the batch stays unresolved
					// rather than being reported as a permanent failure.
					return
				}

				lastErr = err
				if len(b) > 1 {
					// Splitting isolates the offending item instead of
					// discarding the whole batch.
					mid := len(b) / 2
					next = append(next, b[:mid], b[mid:])
					p.metrics.RecordSplit(ctx, p.stage)
					return
				}
				failures = append(failures, theme.Failure{
					ID:       b[0].ID,
					Reason:   failureReason(err),
					Attempts: attempts,
					Detail:   err.Error(),
				})
			}(b)
		}

		wg.Wait()
		queue = next
	}

	out.Failures = failures
	for _, it := range items {
		if r, ok := results[it.ID]; ok {
			out.Results = append(out.Results, r)
		}
	}

	if err := ctx.Err(); err != nil {
		return out, err
	}
	if len(results) == 0 {
		return out, &OutageError{Items: len(items), Err: lastErr}
	}
	return out, nil
}

// attempt runs one batch through call with up to MaxRetries retries and
// exponential backoff with jitter. Returns the results, the number of
// attempts made, and the final error if all attempts failed.
func attempt[R any](ctx context.Context, p *Processor, items []Item, call CallFunc[R]) ([]R, int, error) {
	var lastErr error
	delay := p.cfg.BackoffBase

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			p.metrics.RecordRetry(ctx, p.stage)
			// Jitter: random value between 0.5x and 1.5x of delay.
			jitter := delay/2 + time.Duration(rand.Int63n(int64(delay)))
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return nil, attempt, ctx.Err()
			}
			delay *= 2
			if delay > p.cfg.BackoffCap {
				delay = p.cfg.BackoffCap
			}
		}

		rows, err := call(ctx, items)
		if err == nil {
			p.metrics.RecordLLMCall(ctx, p.stage, "success")
			return rows, attempt + 1, nil
		}
		p.metrics.RecordLLMCall(ctx, p.stage, "error")
		lastErr = err

		if ctx.Err() != nil {
			return nil, attempt + 1, ctx.Err()
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return nil, attempt + 1, perm.err
		}
	}

	return nil, p.cfg.MaxRetries + 1, fmt.Errorf("batch of %d failed after %d retries: %w", len(items), p.cfg.MaxRetries, lastErr)
}

// failureReason tags a permanent failure for the failure list.
func failureReason(err error) string {
	if llm.IsTransport(err) {
		return theme.ReasonTransportExhausted
	}
	return theme.ReasonValidationExhausted
}
