package vidaa

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAsyncRunsJobsInOrder(t *testing.T) {
	a := NewAsync(nil, 8, testLogger())
	defer a.Close()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	for i := 0; i < 3; i++ {
		i := i
		job := func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if i == 2 {
				close(done)
			}
		}
		if err := a.Submit(job); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("jobs never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		if got != i {
			t.Fatalf("order = %v, want sequential", order)
		}
	}
}

func TestAsyncQueueFull(t *testing.T) {
	a := NewAsync(nil, 1, testLogger())

	gate := make(chan struct{})
	started := make(chan struct{})
	if err := a.Submit(func() { close(started); <-gate }); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started // worker is now busy

	if err := a.Submit(func() {}); err != nil {
		t.Fatalf("queued Submit: %v", err)
	}
	if err := a.Submit(func() {}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Submit on full queue: %v, want ErrQueueFull", err)
	}

	close(gate)
	a.Close()
}

func TestAsyncCallHonorsContext(t *testing.T) {
	a := NewAsync(nil, 4, testLogger())

	gate := make(chan struct{})
	started := make(chan struct{})
	if err := a.Submit(func() { close(started); <-gate }); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := a.Call(ctx, func() {})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Call = %v, want deadline exceeded", err)
	}

	close(gate)
	a.Close()
}

func TestAsyncSubmitAfterClose(t *testing.T) {
	a := NewAsync(nil, 4, testLogger())
	a.Close()
	if err := a.Submit(func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after close: %v, want ErrClosed", err)
	}
}
