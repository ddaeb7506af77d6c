package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dan-solli/themefinder/pkg/llm"
	"github.com/dan-solli/themefinder/pkg/theme"
)

// echo is the result type used by most tests: the item id plus a payload.
type echo struct {
	ID      string
	Payload string
}

func makeItems(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{ID: fmt.Sprintf("r%d", i+1), Text: fmt.Sprintf("response %d", i+1)}
	}
	return items
}

func echoCall(ctx context.Context, b []Item) ([]echo, error) {
	out := make([]echo, len(b))
	for i, it := range b {
		out[i] = echo{ID: it.ID, Payload: "ok:" + it.Text}
	}
	return out, nil
}

func echoKey(e echo) string { return e.ID }

func fastConfig() Config {
	return Config{
		MaxBatchSize:   4,
		MaxConcurrency: 3,
		MaxRetries:     1,
		BackoffBase:    time.Millisecond,
		BackoffCap:     2 * time.Millisecond,
	}
}

func TestPartition_SizesAndRecomposition(t *testing.T) {
	for _, n := range []int{1, 3, 4, 5, 10, 17} {
		items := makeItems(n)
		batches := Partition(items, 4)

		var recomposed []Item
		for _, b := range batches {
			if len(b) == 0 || len(b) > 4 {
				t.Fatalf("n=%d: batch size %d out of range", n, len(b))
			}
			recomposed = append(recomposed, b...)
		}

		if len(recomposed) != n {
			t.Fatalf("n=%d: recomposed %d items", n, len(recomposed))
		}
		for i := range items {
			if recomposed[i].ID != items[i].ID {
				t.Errorf("n=%d: item %d reordered: got %s want %s", n, i, recomposed[i].ID, items[i].ID)
			}
		}
	}
}

func TestPartition_TenByFour(t *testing.T) {
	batches := Partition(makeItems(10), 4)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	sizes := []int{len(batches[0]), len(batches[1]), len(batches[2])}
	if sizes[0] != 4 || sizes[1] != 4 || sizes[2] != 2 {
		t.Errorf("expected sizes (4,4,2), got %v", sizes)
	}
}

func TestPartition_Empty(t *testing.T) {
	if batches := Partition(nil, 4); batches != nil {
		t.Errorf("expected nil for empty input, got %d batches", len(batches))
	}
}

func TestRun_AllSuccess(t *testing.T) {
	p := NewProcessor(fastConfig(), "test", nil)
	items := makeItems(10)

	out, err := Run(context.Background(), p, items, echoCall, echoKey)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(out.Failures) != 0 {
		t.Fatalf("expected no failures, got %d", len(out.Failures))
	}
	if len(out.Results) != 10 {
		t.Fatalf("expected 10 results, got %d", len(out.Results))
	}
	for i, r := range out.Results {
		want := fmt.Sprintf("r%d", i+1)
		if r.ID != want {
			t.Errorf("result %d out of order: got %s want %s", i, r.ID, want)
		}
	}
}

func TestRun_RetryThenSucceed(t *testing.T) {
	p := NewProcessor(Config{
		MaxBatchSize:   10,
		MaxConcurrency: 1,
		MaxRetries:     3,
		BackoffBase:    time.Millisecond,
		BackoffCap:     2 * time.Millisecond,
	}, "test", nil)

	var mu sync.Mutex
	calls := 0
	call := func(ctx context.Context, b []Item) ([]echo, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n <= 2 {
			return nil, &llm.TransportError{Status: 429, Err: errors.New("rate limited")}
		}
		return echoCall(ctx, b)
	}

	out, err := Run(context.Background(), p, makeItems(5), call, echoKey)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(out.Results) != 5 || len(out.Failures) != 0 {
		t.Errorf("expected 5 results and no failures, got %d/%d", len(out.Results), len(out.Failures))
	}
}

func TestRun_SplitIsolatesPoisonedItem(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 0
	p := NewProcessor(cfg, "test", nil)

	call := func(ctx context.Context, b []Item) ([]echo, error) {
		for _, it := range b {
			if it.ID == "r3" {
				return nil, errors.New("validation failed: missing ids: r3")
			}
		}
		return echoCall(ctx, b)
	}

	out, err := Run(context.Background(), p, makeItems(8), call, echoKey)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(out.Failures) != 1 {
		t.Fatalf("expected exactly 1 failure, got %d: %+v", len(out.Failures), out.Failures)
	}
	f := out.Failures[0]
	if f.ID != "r3" {
		t.Errorf("expected r3 to fail, got %s", f.ID)
	}
	if f.Reason != theme.ReasonValidationExhausted {
		t.Errorf("expected reason %s, got %s", theme.ReasonValidationExhausted, f.Reason)
	}

	if len(out.Results) != 7 {
		t.Fatalf("expected 7 results, got %d", len(out.Results))
	}
	for _, r := range out.Results {
		if r.ID == "r3" {
			t.Error("failed item must not appear in results")
		}
	}
	// Order of the survivors must still match input order.
	want := []string{"r1", "r2", "r4", "r5", "r6", "r7", "r8"}
	for i, r := range out.Results {
		if r.ID != want[i] {
			t.Errorf("result %d: got %s want %s", i, r.ID, want[i])
		}
	}
}

func TestRun_TransportFailureReason(t *testing.T) {
	cfg := fastConfig()
	p := NewProcessor(cfg, "test", nil)

	call := func(ctx context.Context, b []Item) ([]echo, error) {
		for _, it := range b {
			if it.ID == "r2" {
				return nil, &llm.TransportError{Err: errors.New("connection reset")}
			}
		}
		return echoCall(ctx, b)
	}

	out, err := Run(context.Background(), p, makeItems(4), call, echoKey)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(out.Failures) != 1 || out.Failures[0].ID != "r2" {
		t.Fatalf("expected r2 to fail, got %+v", out.Failures)
	}
	if out.Failures[0].Reason != theme.ReasonTransportExhausted {
		t.Errorf("expected transport reason, got %s", out.Failures[0].Reason)
	}
}

func TestRun_Outage(t *testing.T) {
	p := NewProcessor(fastConfig(), "test", nil)

	call := func(ctx context.Context, b []Item) ([]echo, error) {
		return nil, &llm.TransportError{Status: 503, Err: errors.New("service unavailable")}
	}

	out, err := Run(context.Background(), p, makeItems(6), call, echoKey)
	if err == nil {
		t.Fatal("expected outage error, got nil")
	}
	var outage *OutageError
	if !errors.As(err, &outage) {
		t.Fatalf("expected *OutageError, got %T: %v", err, err)
	}
	if outage.Items != 6 {
		t.Errorf("expected 6 items in outage, got %d", outage.Items)
	}
	if len(out.Results) != 0 {
		t.Errorf("expected no results during outage, got %d", len(out.Results))
	}
}

func TestRun_PermanentSkipsRetries(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxBatchSize = 1
	cfg.MaxRetries = 3
	p := NewProcessor(cfg, "test", nil)

	var mu sync.Mutex
	calls := 0
	call := func(ctx context.Context, b []Item) ([]echo, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil, Permanent(errors.New("bad caller input"))
	}

	_, err := Run(context.Background(), p, makeItems(1), call, echoKey)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls != 1 {
		t.Errorf("permanent error must not be retried, got %d calls", calls)
	}
}

func TestRun_Cancellation(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxConcurrency = 1
	cfg.MaxBatchSize = 2
	p := NewProcessor(cfg, "test", nil)

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	calls := 0
	call := func(ctx context.Context, b []Item) ([]echo, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return echoCall(ctx, b)
		}
		cancel()
		return nil, ctx.Err()
	}

	out, err := Run(ctx, p, makeItems(6), call, echoKey)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	// Whatever resolved before cancellation is returned.
	if len(out.Results) != 2 {
		t.Errorf("expected the first batch's 2 results, got %d", len(out.Results))
	}
	for _, f := range out.Failures {
		if strings.Contains(f.Detail, "context canceled") {
			t.Errorf("cancelled batches must not be recorded as permanent failures: %+v", f)
		}
	}
}

func TestRun_EmptyInput(t *testing.T) {
	p := NewProcessor(fastConfig(), "test", nil)
	out, err := Run(context.Background(), p, nil, echoCall, echoKey)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(out.Results) != 0 || len(out.Failures) != 0 {
		t.Errorf("expected empty outcome, got %d/%d", len(out.Results), len(out.Failures))
	}
}
