// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aql

import (
	"errors"
	"fmt"

	"code.hybscloud.com/iox"
)

// Status is a runtime status code.
//
// The numeric values match the status codes of the external HSA runtime
// so that codes can be passed across the host/device boundary unchanged.
// A Status is an error; compare with errors.Is against the Err* sentinels.
type Status int32

// Status codes.
const (
	StatusSuccess              Status = 0x0
	StatusInvalidArgument      Status = 0x1001
	StatusInvalidQueueCreation Status = 0x1002
	StatusInvalidAllocation    Status = 0x1003
	StatusInvalidAgent         Status = 0x1004
	StatusInvalidRegion        Status = 0x1005
	StatusInvalidSignal        Status = 0x1006
	StatusInvalidQueue         Status = 0x1007
	StatusOutOfResources       Status = 0x1008
	StatusInvalidPacketFormat  Status = 0x1009
	StatusResourceFree         Status = 0x100A
	StatusNotInitialized       Status = 0x100B
	StatusRefCountOverflow     Status = 0x100C
	StatusIncompatibleArgs     Status = 0x100D
	StatusInvalidIndex         Status = 0x100E
	StatusException            Status = 0x1016
)

var statusNames = map[Status]string{
	StatusSuccess:              "success",
	StatusInvalidArgument:      "invalid argument",
	StatusInvalidQueueCreation: "invalid queue creation",
	StatusInvalidAllocation:    "invalid allocation",
	StatusInvalidAgent:         "invalid agent",
	StatusInvalidRegion:        "invalid region",
	StatusInvalidSignal:        "invalid signal",
	StatusInvalidQueue:         "invalid queue",
	StatusOutOfResources:       "out of resources",
	StatusInvalidPacketFormat:  "invalid packet format",
	StatusResourceFree:         "resource free",
	StatusNotInitialized:       "not initialized",
	StatusRefCountOverflow:     "reference count overflow",
	StatusIncompatibleArgs:     "incompatible arguments",
	StatusInvalidIndex:         "invalid index",
	StatusException:            "exception",
}

// Error implements the error interface.
func (s Status) Error() string {
	if name, ok := statusNames[s]; ok {
		return "aql: " + name
	}
	return fmt.Sprintf("aql: status 0x%x", int32(s))
}

// Sentinel errors for errors.Is comparisons.
var (
	ErrInvalidArgument      error = StatusInvalidArgument
	ErrInvalidQueueCreation error = StatusInvalidQueueCreation
	ErrInvalidAgent         error = StatusInvalidAgent
	ErrInvalidSignal        error = StatusInvalidSignal
	ErrInvalidQueue         error = StatusInvalidQueue
	ErrOutOfResources       error = StatusOutOfResources
	ErrInvalidPacketFormat  error = StatusInvalidPacketFormat
	ErrNotInitialized       error = StatusNotInitialized
	ErrIncompatibleArgs     error = StatusIncompatibleArgs

	// ErrException reports an internal-consistency fault, such as a group
	// wait returning a handle that is not a member of the group. It is
	// fatal and must not be retried.
	ErrException error = StatusException
)

// StatusOf extracts the Status carried by err.
// Returns StatusSuccess for nil and StatusException for errors that carry
// no Status.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return StatusException
}

// ErrWouldBlock indicates the operation cannot proceed immediately.
//
// Returned by TrySubmit when the ring has no slot the consumer has
// retired. It is a control flow signal, not a failure.
//
// This is an alias for [iox.ErrWouldBlock] for ecosystem consistency.
var ErrWouldBlock = iox.ErrWouldBlock

// IsWouldBlock reports whether err indicates the operation would block.
// Delegates to [iox.IsWouldBlock] for wrapped error support.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsSemantic reports whether err is a control flow signal (not a failure).
// Delegates to [iox.IsSemantic].
func IsSemantic(err error) bool {
	return iox.IsSemantic(err)
}

// IsNonFailure reports whether err represents a non-failure condition.
// Delegates to [iox.IsNonFailure].
func IsNonFailure(err error) bool {
	return iox.IsNonFailure(err)
}
