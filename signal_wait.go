// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aql

import (
	"time"

	"code.hybscloud.com/spin"
)

const (
	// waitSpins is how many polls a blocked wait spins before parking.
	waitSpins = 128

	// parkQuantum bounds a single park. A mutation racing a waiter's
	// registration can miss the wake-up; the waiter then sees the value
	// on the next quantum.
	parkQuantum = time.Millisecond

	// clockEvery is how many active polls run between deadline checks.
	clockEvery = 64
)

// Wait blocks until "value <cond> compare" holds or timeout elapses and
// returns the last value observed.
//
// order applies to the loads the wait performs: Acquire makes writes
// released before the satisfying store visible to the caller, Relaxed
// does not. A timeout of WaitForever never expires; a timeout <= 0 polls
// once. Timing out is not an error: compare the result against the
// condition to tell the two outcomes apart.
//
// hint is advisory. WaitActive busy-polls; WaitBlocked spins briefly and
// then parks the goroutine. A wait on a destroyed signal returns 0, and
// Destroy ends waits in progress.
func (s *Signal) Wait(order MemoryOrder, cond Condition, compare SignalValue, timeout time.Duration, hint WaitState) SignalValue {
	order.check()
	if !s.live() {
		return 0
	}
	c := s.cell
	v := c.load(order)
	if cond.Holds(v, compare) || timeout <= 0 {
		return v
	}

	w := newWaitDeadline(timeout)
	sw := spin.Wait{}
	for i := 1; hint == WaitActive || i <= waitSpins; i++ {
		sw.Once()
		v = c.load(order)
		if cond.Holds(v, compare) {
			return v
		}
		if i%clockEvery == 0 {
			if !s.live() {
				return 0
			}
			if w.expired() {
				return v
			}
		}
	}

	c.waiters.Add(1)
	defer c.waiters.Add(-1)

	timer := time.NewTimer(parkQuantum)
	defer timer.Stop()
	for {
		ch := c.wakeChan()
		if !s.live() {
			return 0
		}
		v = c.load(order)
		if cond.Holds(v, compare) {
			return v
		}
		d, ok := w.next(parkQuantum)
		if !ok {
			return v
		}
		timer.Reset(d)
		select {
		case <-ch:
		case <-timer.C:
		}
	}
}

// waitDeadline tracks the remaining time of a wait.
type waitDeadline struct {
	forever bool
	at      time.Time
}

func newWaitDeadline(timeout time.Duration) waitDeadline {
	if timeout >= WaitForever {
		return waitDeadline{forever: true}
	}
	return waitDeadline{at: time.Now().Add(timeout)}
}

func (w waitDeadline) expired() bool {
	return !w.forever && !time.Now().Before(w.at)
}

// next returns how long to sleep, capped at quantum.
// Returns false once the deadline has passed.
func (w waitDeadline) next(quantum time.Duration) (time.Duration, bool) {
	if w.forever {
		return quantum, true
	}
	rem := time.Until(w.at)
	if rem <= 0 {
		return 0, false
	}
	return min(rem, quantum), true
}
