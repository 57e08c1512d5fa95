package fn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestResult(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok result misclassified")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatalf("Unwrap = (%d, %v)", v, err)
	}

	e := Err[int](errors.New("boom"))
	if e.IsOk() {
		t.Fatal("Err result misclassified")
	}
	if e.UnwrapOr(7) != 7 {
		t.Fatal("UnwrapOr fallback not used")
	}
}

func TestFromPair(t *testing.T) {
	if FromPair(1, nil).IsErr() {
		t.Error("FromPair with nil error should be ok")
	}
	if FromPair(0, errors.New("x")).IsOk() {
		t.Error("FromPair with error should be err")
	}
}

func TestCollect(t *testing.T) {
	ok := Collect([]Result[int]{Ok(1), Ok(2)})
	vs, err := ok.Unwrap()
	if err != nil || len(vs) != 2 {
		t.Fatalf("Collect ok = (%v, %v)", vs, err)
	}

	bad := Collect([]Result[int]{Ok(1), Err[int](errors.New("mid")), Ok(3)})
	if bad.IsOk() {
		t.Fatal("Collect should fail on first error")
	}
}

func TestThenShortCircuits(t *testing.T) {
	first := func(_ context.Context, n int) Result[int] { return Err[int](errors.New("first")) }
	var called bool
	second := func(_ context.Context, n int) Result[int] { called = true; return Ok(n) }

	r := Then(first, second)(context.Background(), 1)
	if r.IsOk() || called {
		t.Fatal("second stage ran after first failed")
	}
}

func TestPipeline(t *testing.T) {
	double := MapStage(func(n int) int { return n * 2 })
	inc := MapStage(func(n int) int { return n + 1 })

	r := Pipeline(double, inc)(context.Background(), 5)
	if v, _ := r.Unwrap(); v != 11 {
		t.Fatalf("pipeline = %d, want 11", v)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	var calls atomic.Int32
	opts := RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond}

	r := Retry(context.Background(), opts, func(context.Context) Result[int] {
		if calls.Add(1) < 3 {
			return Err[int](errors.New("transient"))
		}
		return Ok(9)
	})
	if v, err := r.Unwrap(); err != nil || v != 9 {
		t.Fatalf("retry = (%d, %v)", v, err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	var calls int
	opts := RetryOpts{
		MaxAttempts: 5,
		InitialWait: time.Millisecond,
		RetryIf:     func(err error) bool { return !errors.Is(err, permanent) },
	}

	r := Retry(context.Background(), opts, func(context.Context) Result[int] {
		calls++
		return Err[int](permanent)
	})
	if r.IsOk() {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opts := RetryOpts{MaxAttempts: 3, InitialWait: time.Hour}

	r := Retry(ctx, opts, func(context.Context) Result[int] {
		return Err[int](errors.New("transient"))
	})
	_, err := r.Unwrap()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestParMapPreservesOrder(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}
	out := ParMap(items, 3, func(n int) int { return n * n })
	for i, v := range out {
		if v != items[i]*items[i] {
			t.Fatalf("out[%d] = %d", i, v)
		}
	}
}

func TestSliceHelpers(t *testing.T) {
	if got := Map([]int{1, 2}, func(n int) int { return n + 1 }); got[0] != 2 || got[1] != 3 {
		t.Errorf("Map = %v", got)
	}
	if got := Filter([]int{1, 2, 3}, func(n int) bool { return n%2 == 1 }); len(got) != 2 {
		t.Errorf("Filter = %v", got)
	}
	if got := Unique([]string{"a", "b", "a"}); len(got) != 2 {
		t.Errorf("Unique = %v", got)
	}
	type kv struct{ k string }
	if got := UniqueBy([]kv{{"x"}, {"y"}, {"x"}}, func(v kv) string { return v.k }); len(got) != 2 {
		t.Errorf("UniqueBy = %v", got)
	}
	if got := Chunk([]int{1, 2, 3, 4, 5}, 2); len(got) != 3 || len(got[2]) != 1 {
		t.Errorf("Chunk = %v", got)
	}
	if Chunk([]int{1}, 0) != nil {
		t.Error("Chunk with n=0 should be nil")
	}
}
