package util

import (
	"sync"
	"testing"
	"time"
)

func TestMPSCBasicOperations(t *testing.T) {
	q := NewMPSC[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) = false, want true", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case v := <-q.Recv():
			if v != i {
				t.Errorf("Recv() = %d, want %d", v, i)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for item %d", i)
		}
	}

	select {
	case v := <-q.Recv():
		t.Errorf("queue should be empty, got %d", v)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestMPSCConcurrentProducers(t *testing.T) {
	q := NewMPSC[int]()
	defer q.Close()

	const producers = 10
	const perProducer = 1000

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(p*perProducer + i)
			}
		}(p)
	}

	seen := make(map[int]bool, producers*perProducer)
	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}

	timeout := time.After(5 * time.Second)
	for len(seen) < producers*perProducer {
		select {
		case v := <-q.Recv():
			if seen[v] {
				t.Fatalf("duplicate item %d", v)
			}
			seen[v] = true

			// per producer order is kept
			p, i := v/perProducer, v%perProducer
			if i <= last[p] {
				t.Fatalf("producer %d: item %d after %d", p, i, last[p])
			}
			last[p] = i
		case <-timeout:
			t.Fatalf("received %d of %d items", len(seen), producers*perProducer)
		}
	}
	wg.Wait()
}

func TestMPSCClose(t *testing.T) {
	q := NewMPSC[string]()

	q.Push("a")
	q.Push("b")
	q.Close()

	if q.Push("c") {
		t.Errorf("Push() after Close() = true, want false")
	}
	if !q.IsClosed() {
		t.Errorf("IsClosed() = false after Close()")
	}

	var got []string
	for v := range q.Recv() {
		got = append(got, v)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("drained items = %v, want [a b]", got)
	}

	select {
	case <-q.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() not closed after drain")
	}
}

func TestMPSCWakeup(t *testing.T) {
	q := NewMPSC[int]()
	defer q.Close()

	// the consumer is idle before every push
	for i := 0; i < 100; i++ {
		time.Sleep(100 * time.Microsecond)
		q.Push(i)
		select {
		case v := <-q.Recv():
			if v != i {
				t.Fatalf("Recv() = %d, want %d", v, i)
			}
		case <-time.After(time.Second):
			t.Fatalf("consumer missed wakeup for item %d", i)
		}
	}
}

func TestGenerateSeed(t *testing.T) {
	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		s := GenerateSeed()
		if s == 0 {
			t.Fatalf("GenerateSeed() = 0")
		}
		seen[s] = true
	}
	if len(seen) < 99 {
		t.Errorf("GenerateSeed() produced %d distinct values of 100", len(seen))
	}
}

func BenchmarkMPSCMultiProducer(b *testing.B) {
	q := NewMPSC[int]()
	defer q.Close()

	go func() {
		for range q.Recv() {
		}
	}()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			q.Push(i)
			i++
		}
	})
}
