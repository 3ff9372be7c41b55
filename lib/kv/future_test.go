package kv

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestFutureCompletesOnce(t *testing.T) {
	f := NewFuture()
	if f.IsDone() {
		t.Fatal("IsDone() = true for a new future")
	}
	if _, _, ok := f.Result(); ok {
		t.Fatal("Result() ok = true for a new future")
	}

	if !f.Complete(&Result{Cas: 1}, nil) {
		t.Fatal("first Complete() = false, want true")
	}
	if f.Complete(&Result{Cas: 2}, nil) {
		t.Error("second Complete() = true, want false")
	}
	if f.Cancel() {
		t.Error("Cancel() after Complete() = true, want false")
	}

	res, err := f.Get()
	if err != nil || res.Cas != 1 {
		t.Errorf("Get() = (%+v, %v), want cas 1 and no error", res, err)
	}
}

func TestFutureErrorDropsResult(t *testing.T) {
	f := NewFuture()
	f.Complete(&Result{Cas: 1}, NewError(KindTimeout, "late"))

	res, err, ok := f.Result()
	if !ok {
		t.Fatal("Result() ok = false after Complete()")
	}
	if res != nil {
		t.Errorf("Result() res = %+v, want nil with an error", res)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Result() err = %v, want timeout", err)
	}
}

func TestFutureConcurrentComplete(t *testing.T) {
	f := NewFuture()
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if f.Complete(&Result{Cas: uint64(i + 1)}, nil) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("Complete() succeeded %d times, want 1", winners)
	}
}

func TestFutureOnComplete(t *testing.T) {
	f := NewFuture()

	var before []uint64
	f.OnComplete(func(res *Result, err error) {
		// continuations run before waiters are released
		select {
		case <-f.Done():
			t.Error("Done() closed before the continuation ran")
		default:
		}
		before = append(before, res.Cas)
	})

	f.Complete(&Result{Cas: 7}, nil)
	<-f.Done()
	if len(before) != 1 || before[0] != 7 {
		t.Errorf("continuation saw %v, want [7]", before)
	}

	// registered after completion, runs immediately
	ran := false
	f.OnComplete(func(res *Result, err error) {
		ran = res != nil && res.Cas == 7
	})
	if !ran {
		t.Error("OnComplete() after completion did not run immediately")
	}
}

func TestFutureWait(t *testing.T) {
	f := NewFuture()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() err = %v, want %v", err, context.DeadlineExceeded)
	}
	if f.IsDone() {
		t.Error("Wait() returning on the context completed the future")
	}

	go f.Cancel()
	if _, err := f.Wait(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Errorf("Wait() err = %v, want cancelled", err)
	}
}
