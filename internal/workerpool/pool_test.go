package workerpool

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsTasks(t *testing.T) {
	p := New(4, 16)
	defer p.Stop()

	var count atomic.Int32
	for i := 0; i < 20; i++ {
		if err := p.Submit(func() { count.Add(1) }); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for count.Load() != 20 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := count.Load(); got != 20 {
		t.Fatalf("got %d completed tasks, want 20", got)
	}
}

func TestSubmitAfterStopReturnsErrStopped(t *testing.T) {
	p := New(2, 4)
	p.Stop()

	if err := p.Submit(func() {}); err != ErrStopped {
		t.Fatalf("got %v, want ErrStopped", err)
	}
}

func TestStopWaitsForInFlightTask(t *testing.T) {
	p := New(1, 1)

	started := make(chan struct{})
	finished := make(chan struct{})
	_ = p.Submit(func() {
		close(started)
		time.Sleep(20 * time.Millisecond)
		close(finished)
	})
	<-started

	p.Stop()
	select {
	case <-finished:
	default:
		t.Fatalf("Stop returned before in-flight task finished")
	}
}
