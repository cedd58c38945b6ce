package runloop

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestDrainRunsInOrder(t *testing.T) {
	l := New()

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}

	if n := l.Drain(); n != 5 {
		t.Fatalf("Drain ran %d tasks, want 5", n)
	}

	for i, v := range got {
		if v != i {
			t.Errorf("task %d ran out of order: got %d", i, v)
		}
	}
}

func TestDrainRunsTasksPostedByTasks(t *testing.T) {
	l := New()

	order := []string{}
	l.Post(func() {
		order = append(order, "outer")
		l.Post(func() {
			order = append(order, "inner")
		})
	})
	l.Post(func() {
		order = append(order, "second")
	})

	l.Drain()

	// The nested task lands behind everything queued at post time.
	want := []string{"outer", "second", "inner"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if l.Len() != 0 {
		t.Errorf("queue not empty after Drain: %d", l.Len())
	}
}

func TestPostNilIsIgnored(t *testing.T) {
	l := New()
	l.Post(nil)
	if l.Len() != 0 {
		t.Errorf("nil task was queued")
	}
}

func TestRunExecutesPostedTasks(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.Run(ctx)
	}()

	l.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task was not executed by Run")
	}

	cancel()
	wg.Wait()
}
