package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueue_PushPop(t *testing.T) {
	q := New[int](10, 0)

	for i := 0; i < 5; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}
	if q.Len() != 5 {
		t.Errorf("Len() = %d, want 5", q.Len())
	}

	for i := 0; i < 5; i++ {
		val, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop() returned false for item %d", i)
		}
		if val != i {
			t.Errorf("popped %d, want %d", val, i)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Error("TryPop() on empty queue returned true")
	}
}

func TestQueue_GrowsWhenFull(t *testing.T) {
	q := New[int](4, 0)

	for i := 0; i < 100; i++ {
		q.Push(i)
	}

	stats := q.Stats()
	if stats.Count != 100 {
		t.Errorf("Count = %d, want 100", stats.Count)
	}
	if stats.Resizes < 5 {
		t.Errorf("Resizes = %d, expected at least 5", stats.Resizes)
	}
	if stats.Dropped != 0 {
		t.Errorf("Dropped = %d, want 0 without a limit", stats.Dropped)
	}

	for i := 0; i < 100; i++ {
		if val, _ := q.TryPop(); val != i {
			t.Fatalf("popped %d, want %d", val, i)
		}
	}
}

func TestQueue_LimitDropsOldest(t *testing.T) {
	q := New[int](2, 4)

	for i := 0; i < 6; i++ {
		q.Push(i)
	}

	if q.Cap() != 4 {
		t.Errorf("Cap() = %d, want 4", q.Cap())
	}
	if got := q.Stats().Dropped; got != 2 {
		t.Errorf("Dropped = %d, want 2", got)
	}

	got := q.Drain(0)
	want := []int{2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("Drain() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Drain()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestQueue_WrapAroundGrow(t *testing.T) {
	q := New[int](4, 0)

	q.Push(1)
	q.Push(2)
	q.Push(3)
	q.TryPop()
	q.TryPop()

	// Wraps, then grows while wrapped.
	for i := 4; i <= 8; i++ {
		q.Push(i)
	}

	for _, want := range []int{3, 4, 5, 6, 7, 8} {
		got, ok := q.TryPop()
		if !ok || got != want {
			t.Fatalf("TryPop() = %d, %v; want %d", got, ok, want)
		}
	}
}

func TestQueue_PopBlocks(t *testing.T) {
	q := New[int](1, 0)
	received := make(chan int, 1)

	go func() {
		val, err := q.Pop(context.Background())
		if err == nil {
			received <- val
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push(42)

	select {
	case val := <-received:
		if val != 42 {
			t.Errorf("popped %d, want 42", val)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for blocked Pop")
	}
}

func TestQueue_PopContext(t *testing.T) {
	q := New[int](1, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Pop() error = %v, want DeadlineExceeded", err)
	}
}

func TestQueue_Close(t *testing.T) {
	q := New[int](4, 0)
	q.Push(1)
	q.Push(2)
	q.Close()
	q.Close()

	if q.Push(3) {
		t.Error("Push after Close returned true")
	}

	ctx := context.Background()
	for _, want := range []int{1, 2} {
		got, err := q.Pop(ctx)
		if err != nil || got != want {
			t.Fatalf("Pop() = %d, %v; want %d", got, err, want)
		}
	}
	if _, err := q.Pop(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Pop() on closed queue error = %v, want ErrClosed", err)
	}
}

func TestQueue_CloseUnblocksPop(t *testing.T) {
	q := New[int](1, 0)
	done := make(chan error, 1)

	go func() {
		_, err := q.Pop(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Pop() error = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Pop")
	}
}

func TestQueue_ConcurrentPushPop(t *testing.T) {
	q := New[int](8, 0)
	const numItems = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < numItems; i++ {
			q.Push(i)
		}
	}()

	received := make([]int, 0, numItems)
	for len(received) < numItems {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		val, err := q.Pop(ctx)
		cancel()
		if err != nil {
			t.Fatalf("Pop() error = %v after %d items", err, len(received))
		}
		received = append(received, val)
	}
	wg.Wait()

	// Single producer and single consumer keep FIFO order.
	for i, val := range received {
		if val != i {
			t.Fatalf("received[%d] = %d", i, val)
		}
	}
}

func TestNew_MinCapacity(t *testing.T) {
	if q := New[int](0, 0); q.Cap() != 1 {
		t.Errorf("Cap() = %d, want 1 for initial capacity 0", q.Cap())
	}
	if q := New[int](10, 3); q.Cap() != 3 {
		t.Errorf("Cap() = %d, want 3 when limit is below initial capacity", q.Cap())
	}
}
