package memory

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue[string](1)
	result := make(chan string, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	if err := q.Enqueue(context.Background(), "event-1"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got != "event-1" {
			t.Fatalf("expected event-1, got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qDequeue.Dequeue(ctx); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	qEnqueue := NewQueue[int](1)
	if err := qEnqueue.Enqueue(context.Background(), 1); err != nil {
		t.Fatalf("failed to prime enqueue queue: %v", err)
	}
	if qEnqueue.Len() != 1 {
		t.Fatalf("expected one buffered item, got %d", qEnqueue.Len())
	}
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if err := qEnqueue.Enqueue(ctx, 2); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
}

func TestQueueCloseDrainsBufferedItems(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](2)
	if err := q.Enqueue(context.Background(), 7); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	q.Close()

	if err := q.Enqueue(context.Background(), 8); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
	got, err := q.Dequeue(context.Background())
	if err != nil || got != 7 {
		t.Fatalf("expected buffered item 7, got %d, %v", got, err)
	}
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed once drained, got %v", err)
	}
	// Closing twice should be safe.
	q.Close()
}

func TestQueueCloseWithBlockedEnqueue(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- q.Enqueue(ctx, 1) }()
	time.Sleep(5 * time.Millisecond)
	q.Close()

	// Either the enqueue saw the deadline while blocked or it started after Close.
	if err := <-done; !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrClosed) {
		t.Fatalf("expected blocked enqueue to fail cleanly, got %v", err)
	}
}
