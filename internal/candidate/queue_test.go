package candidate

import (
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func TestQueueAppliesInArrivalOrder(t *testing.T) {
	q := NewQueue[string](zap.NewNop())
	for _, c := range []string{"c1", "c2"} {
		if err := q.Enqueue(c); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if q.Len() != 2 {
		t.Fatalf("Len=%d, want 2", q.Len())
	}

	var got []string
	n, err := q.DrainInto(func(c string) error {
		got = append(got, c)
		return nil
	})
	if err != nil || n != 2 {
		t.Fatalf("DrainInto = %d, %v", n, err)
	}
	if err := q.Enqueue("c3"); err != nil {
		t.Fatalf("Enqueue after drain: %v", err)
	}

	want := []string{"c1", "c2", "c3"}
	if len(got) != len(want) {
		t.Fatalf("applied %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("applied %v, want %v", got, want)
		}
	}
	if q.Len() != 0 || !q.Drained() {
		t.Fatal("queue should be empty and drained")
	}
}

func TestQueueSkipsFailedCandidates(t *testing.T) {
	q := NewQueue[int](zap.NewNop())
	for i := 1; i <= 3; i++ {
		q.Enqueue(i)
	}

	var got []int
	n, err := q.DrainInto(func(c int) error {
		if c == 2 {
			return errors.New("malformed")
		}
		got = append(got, c)
		return nil
	})
	if err != nil {
		t.Fatalf("DrainInto: %v", err)
	}
	if n != 2 || len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("applied %v (n=%d)", got, n)
	}
}

func TestQueueDrainsOnce(t *testing.T) {
	q := NewQueue[int](zap.NewNop())
	noop := func(int) error { return nil }
	if _, err := q.DrainInto(noop); err != nil {
		t.Fatalf("first drain: %v", err)
	}
	if _, err := q.DrainInto(noop); !errors.Is(err, ErrAlreadyDrained) {
		t.Fatalf("second drain: %v", err)
	}
}

func TestQueueClear(t *testing.T) {
	q := NewQueue[int](zap.NewNop())
	q.Enqueue(1)
	q.Clear()

	if q.Len() != 0 {
		t.Fatal("Clear should drop pending candidates")
	}
	if err := q.Enqueue(2); !errors.Is(err, ErrClosed) {
		t.Fatalf("Enqueue after Clear: %v", err)
	}
	if _, err := q.DrainInto(func(int) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("DrainInto after Clear: %v", err)
	}
}

// Candidates racing the drain must still be applied exactly once and in
// the order each producer sent them.
func TestQueueConcurrentEnqueueDuringDrain(t *testing.T) {
	q := NewQueue[int](zap.NewNop())
	const producers, perProducer = 4, 200

	var mu sync.Mutex
	seen := make(map[int]int)
	last := make(map[int]int)
	apply := func(c int) error {
		mu.Lock()
		defer mu.Unlock()
		seen[c]++
		p, seq := c/perProducer, c%perProducer
		if prev, ok := last[p]; ok && seq <= prev {
			t.Errorf("producer %d: %d applied after %d", p, seq, prev)
		}
		last[p] = seq
		return nil
	}

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(p*perProducer + i)
			}
		}(p)
	}
	q.DrainInto(apply)
	wg.Wait()

	if len(seen) != producers*perProducer {
		t.Fatalf("applied %d distinct candidates, want %d", len(seen), producers*perProducer)
	}
	for c, n := range seen {
		if n != 1 {
			t.Fatalf("candidate %d applied %d times", c, n)
		}
	}
}
