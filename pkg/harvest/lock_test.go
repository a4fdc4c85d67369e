package harvest

import (
	"context"
	"sync"
	"testing"
)

func TestLocalLockerMutualExclusion(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var held bool
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, "field-1")
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			if held {
				t.Error("two holders inside the field-1 critical section")
			}
			held = true
			mu.Unlock()

			mu.Lock()
			held = false
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
}

func TestLocalLockerIndependentFields(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	releaseA, err := locker.Acquire(ctx, "field-a")
	if err != nil {
		t.Fatal(err)
	}
	defer releaseA()

	// A different field must not block.
	releaseB, err := locker.Acquire(ctx, "field-b")
	if err != nil {
		t.Fatal(err)
	}
	releaseB()
}
