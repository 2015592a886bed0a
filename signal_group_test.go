// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aql_test

import (
	"errors"
	"testing"
	"time"

	"code.hybscloud.com/aql"
)

// namedSignal wraps a signal in a caller type to check that WaitAny hands
// back the caller's value, not the native one.
type namedSignal struct {
	name string
	sig  *aql.Signal
}

func (n *namedSignal) Handle() aql.SignalHandle { return n.sig.Handle() }

func TestSignalGroupWaitAny(t *testing.T) {
	rt := openRuntime(t, aql.Config{})
	a := &namedSignal{"A", createSignal(t, rt, 1)}
	b := &namedSignal{"B", createSignal(t, rt, 1)}

	g, err := aql.NewSignalGroup(rt, []*namedSignal{a, b}, nil)
	if err != nil {
		t.Fatalf("NewSignalGroup: %v", err)
	}
	defer g.Destroy()
	if g.Len() != 2 {
		t.Fatalf("Len: got %d, want 2", g.Len())
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		b.sig.Store(aql.Release, 0)
	}()
	m, v, err := g.WaitAny(aql.Acquire,
		[]aql.Condition{aql.ConditionEq, aql.ConditionEq},
		[]aql.SignalValue{0, 0}, aql.WaitBlocked)
	if err != nil {
		t.Fatalf("WaitAny: %v", err)
	}
	if m != b {
		t.Fatalf("WaitAny member: got %q, want %q", m.name, "B")
	}
	if v != 0 {
		t.Fatalf("WaitAny value: got %d, want 0", v)
	}
}

func TestSignalGroupLowestIndexWins(t *testing.T) {
	rt := openRuntime(t, aql.Config{})
	sigs := []*aql.Signal{createSignal(t, rt, 3), createSignal(t, rt, 3), createSignal(t, rt, 3)}
	g, err := aql.NewSignalGroup(rt, sigs, nil)
	if err != nil {
		t.Fatalf("NewSignalGroup: %v", err)
	}

	conds := []aql.Condition{aql.ConditionLt, aql.ConditionGte, aql.ConditionGte}
	values := []aql.SignalValue{0, 3, 3}
	m, v, err := g.WaitAny(aql.Relaxed, conds, values, aql.WaitActive)
	if err != nil {
		t.Fatalf("WaitAny: %v", err)
	}
	if m != sigs[1] || v != 3 {
		t.Fatalf("WaitAny: got (%#x, %d), want (%#x, 3)", uint64(m.Handle()), v, uint64(sigs[1].Handle()))
	}
}

func TestSignalGroupInvalid(t *testing.T) {
	rt := openRuntime(t, aql.Config{})
	a := createSignal(t, rt, 0)

	if _, err := aql.NewSignalGroup(rt, []*aql.Signal{}, nil); !errors.Is(err, aql.ErrInvalidArgument) {
		t.Fatalf("empty group: got %v, want ErrInvalidArgument", err)
	}
	if _, err := aql.NewSignalGroup(rt, []*aql.Signal{a, a}, nil); !errors.Is(err, aql.ErrInvalidArgument) {
		t.Fatalf("duplicate member: got %v, want ErrInvalidArgument", err)
	}

	dead, _ := rt.CreateSignal(0, nil)
	dead.Destroy()
	if _, err := aql.NewSignalGroup(rt, []*aql.Signal{a, dead}, nil); !errors.Is(err, aql.ErrInvalidSignal) {
		t.Fatalf("destroyed member: got %v, want ErrInvalidSignal", err)
	}

	g, err := aql.NewSignalGroup(rt, []*aql.Signal{a}, nil)
	if err != nil {
		t.Fatalf("NewSignalGroup: %v", err)
	}
	_, _, err = g.WaitAny(aql.Acquire, []aql.Condition{aql.ConditionEq}, nil, aql.WaitBlocked)
	if !errors.Is(err, aql.ErrInvalidArgument) {
		t.Fatalf("length mismatch: got %v, want ErrInvalidArgument", err)
	}

	if err := g.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := g.Destroy(); !errors.Is(err, aql.ErrInvalidArgument) {
		t.Fatalf("second Destroy: got %v, want ErrInvalidArgument", err)
	}
	// Members outlive the group
	if _, ok := rt.LookupSignal(a.Handle()); !ok {
		t.Fatal("group Destroy destroyed a member")
	}
}

func TestSignalGroupDestroyedMember(t *testing.T) {
	rt := openRuntime(t, aql.Config{MaxSignals: 2})
	a := createSignal(t, rt, 1)
	b, err := rt.CreateSignal(1, nil)
	if err != nil {
		t.Fatalf("CreateSignal: %v", err)
	}
	g, err := aql.NewSignalGroup(rt, []*aql.Signal{a, b}, nil)
	if err != nil {
		t.Fatalf("NewSignalGroup: %v", err)
	}
	defer g.Destroy()

	b.Destroy()
	// The new signal takes b's slot and already satisfies b's condition
	createSignal(t, rt, 0)

	m, _, err := g.WaitAny(aql.Acquire,
		[]aql.Condition{aql.ConditionEq, aql.ConditionEq},
		[]aql.SignalValue{0, 0}, aql.WaitActive)
	if !errors.Is(err, aql.ErrInvalidSignal) {
		t.Fatalf("WaitAny: got (%v, %v), want ErrInvalidSignal", m, err)
	}
}
