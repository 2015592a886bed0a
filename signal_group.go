// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aql

import (
	"fmt"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"
)

// SignalGroup is a fixed set of signals waited on together.
//
// The group maps each member's native handle back to the caller's value
// of type T, because the underlying wait reports only the handle and the
// value of the signal that satisfied its condition. Membership is fixed
// at creation. Destroying the group does not destroy its members;
// destroying a member while the group is in use makes WaitAny fail.
type SignalGroup[T SignalBase] struct {
	rt        *Runtime
	handles   []SignalHandle
	sigs      []*Signal
	members   map[SignalHandle]T
	consumers []*Agent
	destroyed atomix.Bool
}

// NewSignalGroup creates a group over signals.
//
// Every member must be a live signal of rt and appear once; duplicates
// would make the handle map ambiguous. Returns ErrInvalidArgument for an
// empty list, duplicates, or an invalid consumer list, and
// ErrInvalidSignal for a member that does not resolve.
func NewSignalGroup[T SignalBase](rt *Runtime, signals []T, consumers []*Agent) (*SignalGroup[T], error) {
	if err := rt.checkOpen(); err != nil {
		return nil, err
	}
	if len(signals) == 0 {
		return nil, fmt.Errorf("aql: empty signal group: %w", ErrInvalidArgument)
	}
	if err := rt.checkConsumers(consumers); err != nil {
		return nil, err
	}

	g := &SignalGroup[T]{
		rt:        rt,
		handles:   make([]SignalHandle, len(signals)),
		sigs:      make([]*Signal, len(signals)),
		members:   make(map[SignalHandle]T, len(signals)),
		consumers: append([]*Agent(nil), consumers...),
	}
	for i, m := range signals {
		h := m.Handle()
		s, ok := rt.LookupSignal(h)
		if !ok {
			return nil, fmt.Errorf("aql: group member %d handle %#x: %w", i, uint64(h), ErrInvalidSignal)
		}
		if _, dup := g.members[h]; dup {
			return nil, fmt.Errorf("aql: group member %d duplicates handle %#x: %w", i, uint64(h), ErrInvalidArgument)
		}
		g.handles[i] = h
		g.sigs[i] = s
		g.members[h] = m
	}
	return g, nil
}

// Len returns the number of members.
func (g *SignalGroup[T]) Len() int { return len(g.handles) }

// Consumers returns the agents declared at creation.
func (g *SignalGroup[T]) Consumers() []*Agent {
	return append([]*Agent(nil), g.consumers...)
}

// Destroy releases the group. Members keep their own lifetimes.
// Returns ErrInvalidArgument if the group was already destroyed.
func (g *SignalGroup[T]) Destroy() error {
	if g.destroyed.LoadAcquire() {
		return ErrInvalidArgument
	}
	g.destroyed.StoreRelease(true)
	return nil
}

// WaitAny blocks until some member satisfies its condition and returns
// that member with the value observed.
//
// conds and values are parallel to the member list given at creation:
// member i is satisfied when "value_i <conds[i]> values[i]". Members are
// polled in order, so the lowest satisfied index wins a tie. Returns
// ErrInvalidArgument on a length mismatch, ErrInvalidSignal once a member
// has been destroyed, and ErrException if the satisfied handle is not in
// the group, which is an internal fault.
func (g *SignalGroup[T]) WaitAny(order MemoryOrder, conds []Condition, values []SignalValue, hint WaitState) (T, SignalValue, error) {
	var zero T
	order.check()
	if g.destroyed.LoadAcquire() {
		return zero, 0, ErrInvalidArgument
	}
	if len(conds) != len(g.handles) || len(values) != len(g.handles) {
		return zero, 0, fmt.Errorf("aql: %d conditions and %d values for %d members: %w",
			len(conds), len(values), len(g.handles), ErrInvalidArgument)
	}

	h, v, live := g.waitAny(order, conds, values, hint)
	if !live {
		return zero, 0, fmt.Errorf("aql: group member handle %#x destroyed: %w", uint64(h), ErrInvalidSignal)
	}
	m, ok := g.members[h]
	if !ok {
		return zero, v, fmt.Errorf("aql: group wait returned foreign handle %#x: %w", uint64(h), ErrException)
	}
	return m, v, nil
}

// waitAny is the native wait: it knows only handles and signals.
// The bool is false when a member was destroyed; the handle names it.
func (g *SignalGroup[T]) waitAny(order MemoryOrder, conds []Condition, values []SignalValue, hint WaitState) (SignalHandle, SignalValue, bool) {
	sw := spin.Wait{}
	backoff := iox.Backoff{}
	for i := 0; ; i++ {
		for j, s := range g.sigs {
			if !s.live() {
				return g.handles[j], 0, false
			}
			v := s.cell.load(order)
			if conds[j].Holds(v, values[j]) {
				return g.handles[j], v, true
			}
		}
		if hint == WaitActive || i < waitSpins {
			sw.Once()
			continue
		}
		backoff.Wait()
	}
}
