// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aql

import (
	"strings"

	"code.hybscloud.com/atomix"
)

// AgentHandle is the opaque handle of an agent.
type AgentHandle uint64

// DeviceType is the kind of hardware an agent represents.
type DeviceType uint8

// Device types.
const (
	DeviceCPU DeviceType = iota
	DeviceGPU
	DeviceDSP
)

func (d DeviceType) String() string {
	switch d {
	case DeviceCPU:
		return "CPU"
	case DeviceGPU:
		return "GPU"
	case DeviceDSP:
		return "DSP"
	}
	return "unknown"
}

// AgentFeature is the set of packet kinds an agent can execute.
// Bit values match the external runtime.
type AgentFeature uint32

// Agent features.
const (
	AgentFeatureKernelDispatch AgentFeature = 1 << 0
	AgentFeatureAgentDispatch  AgentFeature = 1 << 1
)

// Has reports whether every feature in f is present.
func (s AgentFeature) Has(f AgentFeature) bool { return s&f == f }

func (s AgentFeature) String() string {
	var parts []string
	if s.Has(AgentFeatureKernelDispatch) {
		parts = append(parts, "kernel-dispatch")
	}
	if s.Has(AgentFeatureAgentDispatch) {
		parts = append(parts, "agent-dispatch")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// QueueFeature is the set of packet kinds a queue accepts.
// Bit values match the external runtime.
type QueueFeature uint32

// Queue features.
const (
	QueueFeatureKernelDispatch QueueFeature = 1 << 0
	QueueFeatureAgentDispatch  QueueFeature = 1 << 1
)

// Has reports whether every feature in f is present.
func (s QueueFeature) Has(f QueueFeature) bool { return s&f == f }

// QueueType declares the producer discipline of a queue.
type QueueType uint8

// Queue types.
const (
	// QueueMulti allows any number of producer goroutines.
	QueueMulti QueueType = iota
	// QueueSingle promises a single producer.
	QueueSingle
)

func (t QueueType) String() string {
	if t == QueueSingle {
		return "single"
	}
	return "multi"
}

// AgentConfig describes an agent's capabilities.
//
// Capabilities come from device enumeration, which is outside this
// package. Zero values select the defaults noted on each field.
type AgentConfig struct {
	Name     string
	Vendor   string
	Device   DeviceType
	Features AgentFeature // default: kernel dispatch

	QueueMinSize uint32 // default: 4
	QueueMaxSize uint32 // default: 131072
	QueuesMax    uint32 // default: 64

	// QueueType is the most permissive queue type the agent supports.
	// An agent of type QueueSingle rejects multi-producer queues.
	QueueType QueueType

	WavefrontSize uint32 // default: 64
}

// Agent is an immutable capability record for a compute device.
type Agent struct {
	handle   AgentHandle
	name     string
	vendor   string
	device   DeviceType
	features AgentFeature

	queueMinSize  uint32
	queueMaxSize  uint32
	queuesMax     uint32
	queueType     QueueType
	wavefrontSize uint32

	queues atomix.Int32 // live queues
}

func newAgent(handle AgentHandle, cfg AgentConfig) *Agent {
	a := &Agent{
		handle:        handle,
		name:          cfg.Name,
		vendor:        cfg.Vendor,
		device:        cfg.Device,
		features:      cfg.Features,
		queueMinSize:  cfg.QueueMinSize,
		queueMaxSize:  cfg.QueueMaxSize,
		queuesMax:     cfg.QueuesMax,
		queueType:     cfg.QueueType,
		wavefrontSize: cfg.WavefrontSize,
	}
	if a.features == 0 {
		a.features = AgentFeatureKernelDispatch
	}
	if a.queueMinSize == 0 {
		a.queueMinSize = 4
	}
	a.queueMinSize = uint32(roundToPow2(int(a.queueMinSize)))
	if a.queueMaxSize == 0 {
		a.queueMaxSize = 1 << 17
	}
	if a.queueMaxSize < a.queueMinSize {
		a.queueMaxSize = a.queueMinSize
	}
	if a.queuesMax == 0 {
		a.queuesMax = 64
	}
	if a.wavefrontSize == 0 {
		a.wavefrontSize = 64
	}
	return a
}

// Handle returns the agent handle.
func (a *Agent) Handle() AgentHandle { return a.handle }

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// Vendor returns the vendor name.
func (a *Agent) Vendor() string { return a.vendor }

// Device returns the device type.
func (a *Agent) Device() DeviceType { return a.device }

// Features returns the packet kinds the agent executes.
func (a *Agent) Features() AgentFeature { return a.features }

// QueueMinSize returns the smallest queue the agent allocates, in packets.
func (a *Agent) QueueMinSize() uint32 { return a.queueMinSize }

// QueueMaxSize returns the largest queue the agent allocates, in packets.
func (a *Agent) QueueMaxSize() uint32 { return a.queueMaxSize }

// QueuesMax returns the number of queues that may be live at once.
func (a *Agent) QueuesMax() uint32 { return a.queuesMax }

// QueueType returns the most permissive queue type supported.
func (a *Agent) QueueType() QueueType { return a.queueType }

// WavefrontSize returns the number of work-items per wavefront.
func (a *Agent) WavefrontSize() uint32 { return a.wavefrontSize }

func (a *Agent) String() string {
	return a.name + " (" + a.device.String() + ")"
}
