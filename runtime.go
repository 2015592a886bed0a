// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aql

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/lfq"
)

// Runtime defaults.
const (
	DefaultMaxSignals         = 4096
	DefaultMaxSignalConsumers = 32
)

// Config configures a Runtime. Zero values select defaults.
type Config struct {
	// Agents lists the devices visible to the runtime.
	// Default: one CPU agent with agent dispatch and one GPU agent with
	// kernel dispatch.
	Agents []AgentConfig

	// MaxSignals bounds the number of live signals, doorbells included.
	// Default: DefaultMaxSignals.
	MaxSignals int

	// MaxSignalConsumers bounds the consumer list of a signal or group.
	// Default: DefaultMaxSignalConsumers.
	MaxSignalConsumers int
}

// DefaultAgents returns the agent set used when Config.Agents is empty.
func DefaultAgents() []AgentConfig {
	return []AgentConfig{
		{
			Name:      "host",
			Vendor:    "generic",
			Device:    DeviceCPU,
			Features:  AgentFeatureAgentDispatch,
			QueueType: QueueMulti,
		},
		{
			Name:      "soft-gpu",
			Vendor:    "generic",
			Device:    DeviceGPU,
			Features:  AgentFeatureKernelDispatch,
			QueueType: QueueMulti,
		},
	}
}

// Endianness is the byte order of the host.
type Endianness uint8

// Byte orders.
const (
	LittleEndian Endianness = iota
	BigEndian
)

func (e Endianness) String() string {
	if e == BigEndian {
		return "big"
	}
	return "little"
}

// MachineModel is the address width of the host.
type MachineModel uint8

// Machine models.
const (
	MachineModelSmall MachineModel = iota // 32-bit
	MachineModelLarge                     // 64-bit
)

func (m MachineModel) String() string {
	if m == MachineModelLarge {
		return "large"
	}
	return "small"
}

// SystemInfo describes the runtime and the host.
type SystemInfo struct {
	VersionMajor uint16
	VersionMinor uint16

	// TimestampFrequency is the tick rate of Timestamp in Hz.
	TimestampFrequency uint64

	// SignalMaxWait is the longest timeout a wait honors before it
	// behaves as WaitForever.
	SignalMaxWait time.Duration

	Endianness   Endianness
	MachineModel MachineModel
}

// Runtime owns agents and the signal table.
//
// A Runtime brackets all use of the package: signals, groups and queues
// are created through it and must not outlive it. Open and Close are not
// safe for concurrent use with each other; everything else is.
type Runtime struct {
	agents       []*Agent
	cells        []signalCell
	free         *lfq.MPMCCompactIndirect // free signal slot indices
	maxConsumers int
	start        time.Time

	queueIDs atomix.Uint64
	open     atomix.Bool
	mu       sync.Mutex
}

// Open initializes a runtime.
// Returns ErrInvalidArgument for negative limits.
func Open(cfg Config) (*Runtime, error) {
	if cfg.MaxSignals < 0 || cfg.MaxSignalConsumers < 0 {
		return nil, fmt.Errorf("aql: negative runtime limit: %w", ErrInvalidArgument)
	}
	if cfg.MaxSignals == 0 {
		cfg.MaxSignals = DefaultMaxSignals
	}
	if cfg.MaxSignalConsumers == 0 {
		cfg.MaxSignalConsumers = DefaultMaxSignalConsumers
	}
	agents := cfg.Agents
	if len(agents) == 0 {
		agents = DefaultAgents()
	}

	rt := &Runtime{
		agents:       make([]*Agent, len(agents)),
		cells:        make([]signalCell, cfg.MaxSignals),
		free:         freeSlots(cfg.MaxSignals),
		maxConsumers: cfg.MaxSignalConsumers,
		start:        time.Now(),
	}
	for i, ac := range agents {
		if ac.Name == "" {
			ac.Name = fmt.Sprintf("agent-%d", i)
		}
		rt.agents[i] = newAgent(AgentHandle(i+1), ac)
	}
	for i := range rt.cells {
		rt.cells[i].gen.StoreRelaxed(1)
	}
	rt.open.StoreRelease(true)
	return rt, nil
}

// freeSlots returns a queue holding the slot indices 0..n-1 in order.
func freeSlots(n int) *lfq.MPMCCompactIndirect {
	q := lfq.NewMPMCCompactIndirect(max(n, 2))
	for i := range n {
		if err := q.Enqueue(uintptr(i)); err != nil {
			panic("aql: signal slot queue overflow")
		}
	}
	return q
}

// Close shuts the runtime down.
// Returns ErrNotInitialized if the runtime is already closed.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.open.LoadAcquire() {
		return ErrNotInitialized
	}
	rt.open.StoreRelease(false)
	return nil
}

func (rt *Runtime) checkOpen() error {
	if !rt.open.LoadAcquire() {
		return ErrNotInitialized
	}
	return nil
}

// Agents returns the agents known to the runtime.
func (rt *Runtime) Agents() []*Agent {
	return append([]*Agent(nil), rt.agents...)
}

// AgentsByDevice returns the agents of device type d.
func (rt *Runtime) AgentsByDevice(d DeviceType) []*Agent {
	var out []*Agent
	for _, a := range rt.agents {
		if a.device == d {
			out = append(out, a)
		}
	}
	return out
}

func (rt *Runtime) owns(a *Agent) bool {
	if a == nil || a.handle == 0 || int(a.handle) > len(rt.agents) {
		return false
	}
	return rt.agents[a.handle-1] == a
}

// checkConsumers validates a consumer list.
func (rt *Runtime) checkConsumers(consumers []*Agent) error {
	if len(consumers) > rt.maxConsumers {
		return fmt.Errorf("aql: %d consumers exceed limit %d: %w", len(consumers), rt.maxConsumers, ErrInvalidArgument)
	}
	for _, a := range consumers {
		if !rt.owns(a) {
			return fmt.Errorf("aql: consumer is not an agent of this runtime: %w", ErrInvalidArgument)
		}
	}
	return nil
}

// SystemInfo returns the runtime and host description.
func (rt *Runtime) SystemInfo() SystemInfo {
	info := SystemInfo{
		VersionMajor:       1,
		VersionMinor:       1,
		TimestampFrequency: uint64(time.Second / time.Nanosecond),
		SignalMaxWait:      WaitForever,
		Endianness:         hostEndianness(),
		MachineModel:       MachineModelSmall,
	}
	if unsafe.Sizeof(uintptr(0)) == 8 {
		info.MachineModel = MachineModelLarge
	}
	return info
}

// Timestamp returns a monotonic tick count at TimestampFrequency.
func (rt *Runtime) Timestamp() uint64 {
	return uint64(time.Since(rt.start))
}

func hostEndianness() Endianness {
	x := uint16(1)
	if *(*byte)(unsafe.Pointer(&x)) == 1 {
		return LittleEndian
	}
	return BigEndian
}
