// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aql

import (
	"math"
	"time"
)

// MemoryOrder selects the memory ordering of an atomic operation.
//
// Callers choose the ordering to establish happens-before with the
// consumer. A release store after the last write to consumer-visible
// memory makes those writes visible to a consumer that acquires the
// same location.
//
// An ordering that does not apply to an operation is strengthened:
// Release or AcqRel on a load behaves as Acquire, Acquire or AcqRel on a
// store behaves as Release. Add and Subtract are always AcqRel.
type MemoryOrder uint8

// Memory orderings.
const (
	Relaxed MemoryOrder = iota
	Acquire
	Release
	AcqRel
)

func (o MemoryOrder) String() string {
	switch o {
	case Relaxed:
		return "relaxed"
	case Acquire:
		return "acquire"
	case Release:
		return "release"
	case AcqRel:
		return "acq_rel"
	}
	return "invalid"
}

func (o MemoryOrder) check() {
	if o > AcqRel {
		panic("aql: invalid memory order")
	}
}

// SignalValue is the value held by a signal.
type SignalValue = int64

// SignalHandle is the opaque handle of a signal.
//
// The zero handle never refers to a signal; packets use it to mean
// "no completion signal".
type SignalHandle uint64

// SignalBase is implemented by anything that names a signal.
//
// *Signal implements SignalBase. Callers may wrap signals in their own
// types and build a SignalGroup over those.
type SignalBase interface {
	Handle() SignalHandle
}

// Condition is the predicate a wait evaluates as
// "value <condition> compare".
type Condition uint8

// Wait conditions.
const (
	ConditionEq Condition = iota
	ConditionNe
	ConditionLt
	ConditionGte
)

func (c Condition) String() string {
	switch c {
	case ConditionEq:
		return "eq"
	case ConditionNe:
		return "ne"
	case ConditionLt:
		return "lt"
	case ConditionGte:
		return "gte"
	}
	return "invalid"
}

// Holds reports whether value satisfies the condition against compare.
func (c Condition) Holds(value, compare SignalValue) bool {
	switch c {
	case ConditionEq:
		return value == compare
	case ConditionNe:
		return value != compare
	case ConditionLt:
		return value < compare
	case ConditionGte:
		return value >= compare
	}
	panic("aql: invalid wait condition")
}

// WaitState is a hint for how a waiting thread should spend its time.
//
// The hint may not be honored exactly. Only the condition and timeout
// semantics of a wait are guaranteed.
type WaitState uint8

// Wait states.
const (
	// WaitBlocked permits the waiter to be descheduled.
	WaitBlocked WaitState = iota
	// WaitActive requests busy waiting for lower wake-up latency.
	WaitActive
)

// WaitForever is the timeout that never expires.
const WaitForever = time.Duration(math.MaxInt64)
