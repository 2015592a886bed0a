// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aql_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/aql"
)

var orders = []aql.MemoryOrder{aql.Relaxed, aql.Acquire, aql.Release, aql.AcqRel}

func openRuntime(t *testing.T, cfg aql.Config) *aql.Runtime {
	t.Helper()
	rt, err := aql.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

func createSignal(t *testing.T, rt *aql.Runtime, initial aql.SignalValue) *aql.Signal {
	t.Helper()
	s, err := rt.CreateSignal(initial, nil)
	if err != nil {
		t.Fatalf("CreateSignal: %v", err)
	}
	t.Cleanup(func() { s.Destroy() })
	return s
}

// =============================================================================
// Signal - Basic Operations
// =============================================================================

func TestSignalStoreLoad(t *testing.T) {
	rt := openRuntime(t, aql.Config{})
	s := createSignal(t, rt, 7)

	if s.Handle() == 0 {
		t.Fatal("Handle: got 0, want non-zero")
	}
	if v := s.Load(aql.Relaxed); v != 7 {
		t.Fatalf("initial Load: got %d, want 7", v)
	}
	for i, st := range orders {
		for _, ld := range orders {
			want := aql.SignalValue(i*100 + int(ld))
			s.Store(st, want)
			if got := s.Load(ld); got != want {
				t.Fatalf("Store(%v)/Load(%v): got %d, want %d", st, ld, got, want)
			}
		}
	}
	s.SilentStore(aql.Release, -3)
	if v := s.Load(aql.Acquire); v != -3 {
		t.Fatalf("SilentStore: got %d, want -3", v)
	}
}

func TestSignalReadModifyWrite(t *testing.T) {
	rt := openRuntime(t, aql.Config{})
	s := createSignal(t, rt, 10)

	s.Add(aql.AcqRel, 5)
	if v := s.Load(aql.Acquire); v != 15 {
		t.Fatalf("Add: got %d, want 15", v)
	}
	s.Subtract(aql.Release, 3)
	if v := s.Load(aql.Acquire); v != 12 {
		t.Fatalf("Subtract: got %d, want 12", v)
	}
	s.And(aql.Relaxed, 0b1010)
	if v := s.Load(aql.Acquire); v != 0b1000 {
		t.Fatalf("And: got %#b, want 0b1000", v)
	}
	s.Or(aql.Release, 0b0011)
	if v := s.Load(aql.Acquire); v != 0b1011 {
		t.Fatalf("Or: got %#b, want 0b1011", v)
	}
	s.Xor(aql.AcqRel, 0b1111)
	if v := s.Load(aql.Acquire); v != 0b0100 {
		t.Fatalf("Xor: got %#b, want 0b0100", v)
	}
	if old := s.Exchange(aql.AcqRel, 42); old != 0b0100 {
		t.Fatalf("Exchange: got old %d, want 4", old)
	}

	// Successful CAS returns expected
	if got := s.CompareAndSwap(aql.AcqRel, 42, 43); got != 42 {
		t.Fatalf("CompareAndSwap hit: got %d, want 42", got)
	}
	// Failed CAS returns the observed value and leaves it unchanged
	if got := s.CompareAndSwap(aql.AcqRel, 42, 99); got != 43 {
		t.Fatalf("CompareAndSwap miss: got %d, want 43", got)
	}
	if v := s.Load(aql.Acquire); v != 43 {
		t.Fatalf("after failed CAS: got %d, want 43", v)
	}
}

func TestSignalAddEveryOrder(t *testing.T) {
	rt := openRuntime(t, aql.Config{})
	for _, o := range orders {
		t.Run(o.String(), func(t *testing.T) {
			s := createSignal(t, rt, 0)
			s.Add(o, 4)
			s.Subtract(o, 1)
			if v := s.Load(aql.Acquire); v != 3 {
				t.Fatalf("Add/Subtract with %v: got %d, want 3", o, v)
			}
		})
	}
}

func TestSignalConcurrentSubtract(t *testing.T) {
	const workers, each = 8, 1000
	rt := openRuntime(t, aql.Config{})
	s := createSignal(t, rt, workers*each)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range each {
				s.Subtract(aql.Release, 1)
			}
		}()
	}
	v := s.Wait(aql.Acquire, aql.ConditionEq, 0, 10*time.Second, aql.WaitBlocked)
	wg.Wait()
	if v != 0 {
		t.Fatalf("Wait: got %d, want 0", v)
	}
}

func TestInvalidMemoryOrderPanics(t *testing.T) {
	rt := openRuntime(t, aql.Config{})
	s := createSignal(t, rt, 0)
	defer func() {
		if recover() == nil {
			t.Fatal("Load with invalid order did not panic")
		}
	}()
	s.Load(aql.MemoryOrder(9))
}

// =============================================================================
// Signal - Wait
// =============================================================================

func TestSignalWaitSatisfied(t *testing.T) {
	rt := openRuntime(t, aql.Config{})
	s := createSignal(t, rt, 5)

	tests := []struct {
		cond    aql.Condition
		compare aql.SignalValue
	}{
		{aql.ConditionEq, 5},
		{aql.ConditionNe, 4},
		{aql.ConditionLt, 6},
		{aql.ConditionGte, 5},
	}
	for _, tt := range tests {
		start := time.Now()
		v := s.Wait(aql.Acquire, tt.cond, tt.compare, aql.WaitForever, aql.WaitBlocked)
		if v != 5 {
			t.Fatalf("Wait(%v %d): got %d, want 5", tt.cond, tt.compare, v)
		}
		if d := time.Since(start); d > time.Second {
			t.Fatalf("Wait(%v %d) took %v on a satisfied condition", tt.cond, tt.compare, d)
		}
	}
}

func TestSignalWaitTimeout(t *testing.T) {
	rt := openRuntime(t, aql.Config{})
	s := createSignal(t, rt, 1)

	for _, hint := range []aql.WaitState{aql.WaitBlocked, aql.WaitActive} {
		const timeout = 20 * time.Millisecond
		start := time.Now()
		v := s.Wait(aql.Acquire, aql.ConditionEq, 0, timeout, hint)
		elapsed := time.Since(start)
		if v != 1 {
			t.Fatalf("hint %d: got %d, want 1", hint, v)
		}
		if elapsed < timeout {
			t.Fatalf("hint %d: returned after %v, want >= %v", hint, elapsed, timeout)
		}
	}

	// Zero timeout polls once
	if v := s.Wait(aql.Relaxed, aql.ConditionEq, 0, 0, aql.WaitBlocked); v != 1 {
		t.Fatalf("zero timeout: got %d, want 1", v)
	}
}

func TestSignalWaitWakes(t *testing.T) {
	rt := openRuntime(t, aql.Config{})

	for _, hint := range []aql.WaitState{aql.WaitBlocked, aql.WaitActive} {
		s := createSignal(t, rt, 1)
		go func() {
			time.Sleep(10 * time.Millisecond)
			s.Store(aql.Release, 0)
		}()
		v := s.Wait(aql.Acquire, aql.ConditionEq, 0, 10*time.Second, hint)
		if v != 0 {
			t.Fatalf("hint %d: got %d, want 0", hint, v)
		}
	}
}

func TestSignalWaitSilentStore(t *testing.T) {
	rt := openRuntime(t, aql.Config{})
	s := createSignal(t, rt, 1)

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.SilentStore(aql.Release, 0)
	}()
	// A silent store does not wake the waiter, but the next poll sees it
	if v := s.Wait(aql.Acquire, aql.ConditionEq, 0, 10*time.Second, aql.WaitBlocked); v != 0 {
		t.Fatalf("got %d, want 0", v)
	}
}

// =============================================================================
// Signal - Lifetime
// =============================================================================

func TestSignalDestroy(t *testing.T) {
	rt := openRuntime(t, aql.Config{})
	s, err := rt.CreateSignal(0, nil)
	if err != nil {
		t.Fatalf("CreateSignal: %v", err)
	}
	h := s.Handle()
	if got, ok := rt.LookupSignal(h); !ok || got != s {
		t.Fatalf("LookupSignal: got (%p, %v), want (%p, true)", got, ok, s)
	}

	if err := s.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := s.Destroy(); !errors.Is(err, aql.ErrInvalidSignal) {
		t.Fatalf("second Destroy: got %v, want ErrInvalidSignal", err)
	}
	if _, ok := rt.LookupSignal(h); ok {
		t.Fatal("LookupSignal resolved a destroyed handle")
	}
	if _, ok := rt.LookupSignal(0); ok {
		t.Fatal("LookupSignal resolved the zero handle")
	}
}

func TestSignalHandleReuse(t *testing.T) {
	rt := openRuntime(t, aql.Config{MaxSignals: 1})
	a, err := rt.CreateSignal(0, nil)
	if err != nil {
		t.Fatalf("CreateSignal: %v", err)
	}
	old := a.Handle()
	a.Destroy()

	b := createSignal(t, rt, 0)
	if b.Handle() == old {
		t.Fatalf("reused slot kept handle %#x", uint64(old))
	}
	if _, ok := rt.LookupSignal(old); ok {
		t.Fatal("stale handle resolved after slot reuse")
	}
}

func TestSignalOutOfResources(t *testing.T) {
	rt := openRuntime(t, aql.Config{MaxSignals: 2})
	createSignal(t, rt, 0)
	createSignal(t, rt, 0)
	if _, err := rt.CreateSignal(0, nil); !errors.Is(err, aql.ErrOutOfResources) {
		t.Fatalf("third CreateSignal: got %v, want ErrOutOfResources", err)
	}
}

func TestSignalConsumers(t *testing.T) {
	rt := openRuntime(t, aql.Config{MaxSignalConsumers: 1})
	agents := rt.Agents()

	s, err := rt.CreateSignal(0, agents[:1])
	if err != nil {
		t.Fatalf("CreateSignal with one consumer: %v", err)
	}
	defer s.Destroy()
	if c := s.Consumers(); len(c) != 1 || c[0] != agents[0] {
		t.Fatalf("Consumers: got %v, want [%v]", c, agents[0])
	}

	if _, err := rt.CreateSignal(0, agents); !errors.Is(err, aql.ErrInvalidArgument) {
		t.Fatalf("too many consumers: got %v, want ErrInvalidArgument", err)
	}

	other := openRuntime(t, aql.Config{})
	if _, err := rt.CreateSignal(0, other.Agents()[:1]); !errors.Is(err, aql.ErrInvalidArgument) {
		t.Fatalf("foreign consumer: got %v, want ErrInvalidArgument", err)
	}
}

func TestSignalAfterClose(t *testing.T) {
	rt, err := aql.Open(aql.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := rt.CreateSignal(0, nil); !errors.Is(err, aql.ErrNotInitialized) {
		t.Fatalf("CreateSignal after Close: got %v, want ErrNotInitialized", err)
	}
}

func TestSignalDestroyedIsInert(t *testing.T) {
	rt := openRuntime(t, aql.Config{MaxSignals: 1})
	a, err := rt.CreateSignal(5, nil)
	if err != nil {
		t.Fatalf("CreateSignal: %v", err)
	}
	a.Destroy()

	// b takes over a's only slot
	b := createSignal(t, rt, 100)

	a.Store(aql.Release, 0)
	a.SilentStore(aql.Relaxed, 1)
	a.Add(aql.AcqRel, 7)
	a.Subtract(aql.Release, 7)
	a.And(aql.AcqRel, 0)
	a.Or(aql.AcqRel, 0xff)
	a.Xor(aql.AcqRel, 0xff)
	if v := a.Exchange(aql.AcqRel, 9); v != 0 {
		t.Fatalf("Exchange on destroyed signal: got %d, want 0", v)
	}
	if v := a.CompareAndSwap(aql.AcqRel, 100, 1); v == 100 {
		t.Fatal("CompareAndSwap on destroyed signal reported a swap")
	}
	if v := b.Load(aql.Acquire); v != 100 {
		t.Fatalf("live signal changed through a destroyed one: got %d, want 100", v)
	}

	if v := a.Load(aql.Acquire); v != 0 {
		t.Fatalf("Load on destroyed signal: got %d, want 0", v)
	}
	if v := a.Wait(aql.Acquire, aql.ConditionEq, 100, aql.WaitForever, aql.WaitBlocked); v != 0 {
		t.Fatalf("Wait on destroyed signal: got %d, want 0", v)
	}
}

func TestSignalDestroyEndsWait(t *testing.T) {
	rt := openRuntime(t, aql.Config{})
	s, err := rt.CreateSignal(1, nil)
	if err != nil {
		t.Fatalf("CreateSignal: %v", err)
	}

	done := make(chan aql.SignalValue, 1)
	go func() {
		done <- s.Wait(aql.Acquire, aql.ConditionEq, 0, aql.WaitForever, aql.WaitBlocked)
	}()
	time.Sleep(5 * time.Millisecond)
	s.Destroy()

	select {
	case v := <-done:
		if v != 0 {
			t.Fatalf("Wait: got %d, want 0", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Destroy")
	}
}

func TestSignalConcurrentCreateUnique(t *testing.T) {
	const workers, perWorker = 8, 64
	rt := openRuntime(t, aql.Config{MaxSignals: workers * perWorker})

	var mu sync.Mutex
	seen := make(map[aql.SignalHandle]bool, workers*perWorker)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				s, err := rt.CreateSignal(0, nil)
				if err != nil {
					t.Errorf("CreateSignal: %v", err)
					return
				}
				mu.Lock()
				if seen[s.Handle()] {
					t.Errorf("handle %#x handed out twice", uint64(s.Handle()))
				}
				seen[s.Handle()] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Fatalf("got %d handles, want %d", len(seen), workers*perWorker)
	}
	if _, err := rt.CreateSignal(0, nil); !errors.Is(err, aql.ErrOutOfResources) {
		t.Fatalf("CreateSignal past the table: got %v, want ErrOutOfResources", err)
	}
}
