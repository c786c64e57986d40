package rdma

import (
	"testing"
	"time"
)

func TestCompletionQueuePollOrdersFIFO(t *testing.T) {
	cq := NewCompletionQueue()
	cq.Push(WorkCompletion{WRID: 1})
	cq.Push(WorkCompletion{WRID: 2})

	wc, ok := cq.Poll()
	if !ok || wc.WRID != 1 {
		t.Fatalf("first Poll() = %+v, %v, want WRID 1", wc, ok)
	}
	wc, ok = cq.Poll()
	if !ok || wc.WRID != 2 {
		t.Fatalf("second Poll() = %+v, %v, want WRID 2", wc, ok)
	}
}

func TestCompletionQueuePollBlocksUntilPush(t *testing.T) {
	cq := NewCompletionQueue()
	done := make(chan WorkCompletion, 1)
	go func() {
		wc, _ := cq.Poll()
		done <- wc
	}()

	select {
	case <-done:
		t.Fatal("Poll() returned before any completion was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	cq.Push(WorkCompletion{WRID: 7})
	select {
	case wc := <-done:
		if wc.WRID != 7 {
			t.Errorf("Poll() = %+v, want WRID 7", wc)
		}
	case <-time.After(time.Second):
		t.Fatal("Poll() did not unblock after Push")
	}
}

func TestCompletionQueueCloseUnblocksPoll(t *testing.T) {
	cq := NewCompletionQueue()
	done := make(chan bool, 1)
	go func() {
		_, ok := cq.Poll()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	cq.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Poll() after Close() with no pending items should report ok=false")
		}
	case <-time.After(time.Second):
		t.Fatal("Poll() did not unblock after Close")
	}
}

func TestCompletionQueueTryPollNonBlocking(t *testing.T) {
	cq := NewCompletionQueue()
	if _, ok := cq.TryPoll(); ok {
		t.Fatal("TryPoll() on empty queue should report ok=false")
	}
	cq.Push(WorkCompletion{WRID: 3})
	wc, ok := cq.TryPoll()
	if !ok || wc.WRID != 3 {
		t.Fatalf("TryPoll() = %+v, %v, want WRID 3", wc, ok)
	}
}
