// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aql

import (
	"context"
	"fmt"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"
	"golang.org/x/sys/cpu"
)

// idleWait bounds how long Run sleeps on the doorbell between polls.
// A doorbell store that repeats the last value does not wake the wait.
const idleWait = time.Millisecond

// KernelFunc executes a kernel dispatch packet.
type KernelFunc func(ctx context.Context, p *KernelDispatchPacket) error

// AgentDispatchFunc executes an agent dispatch packet.
type AgentDispatchFunc func(ctx context.Context, p *AgentDispatchPacket) error

// VendorFunc executes a vendor-specific packet given its wire image.
type VendorFunc func(ctx context.Context, raw *[PacketSize]byte) error

// Processor is a software packet processor: the consumer side of a queue
// run in the host process.
//
// It consumes packets in index order. For each packet it acquires the
// header, executes the packet, subtracts 1 from the completion signal with
// release ordering, resets the header to INVALID and advances the read
// index with release ordering. Barrier packets hold the queue until their
// dependencies are satisfied.
//
// Register handlers before calling Run or Step. A Processor is the single
// consumer of its queue: do not run two on the same queue.
type Processor struct {
	q  *Queue
	rt *Runtime

	kernels map[uint64]KernelFunc
	agents  map[uint16]AgentDispatchFunc
	vendor  VendorFunc

	_         cpu.CacheLinePad
	processed atomix.Uint64
	_         cpu.CacheLinePad
}

// NewProcessor creates a processor consuming q.
func NewProcessor(q *Queue) *Processor {
	return &Processor{
		q:       q,
		rt:      q.rt,
		kernels: make(map[uint64]KernelFunc),
		agents:  make(map[uint16]AgentDispatchFunc),
	}
}

// HandleKernel registers fn for dispatches of kernelObject.
func (p *Processor) HandleKernel(kernelObject uint64, fn KernelFunc) *Processor {
	p.kernels[kernelObject] = fn
	return p
}

// HandleAgentDispatch registers fn for agent dispatches of type typ.
func (p *Processor) HandleAgentDispatch(typ uint16, fn AgentDispatchFunc) *Processor {
	p.agents[typ] = fn
	return p
}

// HandleVendor registers fn for vendor-specific packets.
func (p *Processor) HandleVendor(fn VendorFunc) *Processor {
	p.vendor = fn
	return p
}

// Processed returns the number of packets retired.
func (p *Processor) Processed() uint64 {
	return p.processed.LoadAcquire()
}

// Step processes the packet at the read index if one is published.
//
// Returns false with a nil error when there is no work or the queue is
// inactive. When execution fails the packet is not retired: its completion
// signal is untouched and the read index does not move. A completion
// signal that does not resolve fails the step before the packet runs.
func (p *Processor) Step(ctx context.Context) (bool, error) {
	if !p.q.IsActive() {
		return false, nil
	}
	index := p.q.readIndex.LoadRelaxed()
	raw := p.q.ReadPacket(index)
	h := DecodeHeader(le.Uint16(raw[0:]))
	if h.Type == PacketTypeInvalid {
		return false, nil
	}

	var done *Signal
	if cs := completionSignalOf(&raw); cs != 0 {
		s, ok := p.rt.LookupSignal(cs)
		if !ok {
			return false, fmt.Errorf("aql: queue %d packet %d completion signal %#x: %w", p.q.id, index, uint64(cs), ErrInvalidSignal)
		}
		done = s
	}
	if err := p.execute(ctx, h, &raw); err != nil {
		return false, fmt.Errorf("aql: queue %d packet %d: %w", p.q.id, index, err)
	}
	if done != nil {
		done.Subtract(Release, 1)
	}
	p.q.retire(index)
	p.processed.AddAcqRel(1)
	return true, nil
}

// Run consumes packets until ctx is done or a packet fails.
//
// Between packets it waits on the doorbell for a value other than the one
// seen before the last empty poll, at most idleWait at a time.
func (p *Processor) Run(ctx context.Context) error {
	db := p.q.doorbell
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		last := db.Load(Acquire)
		did, err := p.Step(ctx)
		if err != nil {
			return err
		}
		if !did {
			db.Wait(Acquire, ConditionNe, last, idleWait, WaitBlocked)
		}
	}
}

func (p *Processor) execute(ctx context.Context, h Header, raw *[PacketSize]byte) error {
	switch h.Type {
	case PacketTypeKernelDispatch:
		if !p.q.features.Has(QueueFeatureKernelDispatch) {
			return fmt.Errorf("kernel dispatch on queue without kernel dispatch: %w", ErrInvalidPacketFormat)
		}
		kd := DecodeKernelDispatchPacket(raw)
		if dims := kd.Dimensions(); dims == 0 {
			return fmt.Errorf("kernel dispatch with %d dimensions: %w", dims, ErrInvalidPacketFormat)
		}
		fn, ok := p.kernels[kd.KernelObject]
		if !ok {
			return fmt.Errorf("no kernel for object %#x: %w", kd.KernelObject, ErrException)
		}
		return fn(ctx, &kd)

	case PacketTypeAgentDispatch:
		if !p.q.features.Has(QueueFeatureAgentDispatch) {
			return fmt.Errorf("agent dispatch on queue without agent dispatch: %w", ErrInvalidPacketFormat)
		}
		ad := DecodeAgentDispatchPacket(raw)
		fn, ok := p.agents[ad.Type]
		if !ok {
			return fmt.Errorf("no agent function for type %d: %w", ad.Type, ErrException)
		}
		return fn(ctx, &ad)

	case PacketTypeBarrierAnd, PacketTypeBarrierOr:
		bp := DecodeBarrierPacket(raw)
		return p.waitBarrier(ctx, h.Type == PacketTypeBarrierAnd, bp.DepSignal[:])

	case PacketTypeVendorSpecific:
		if p.vendor == nil {
			return fmt.Errorf("no vendor packet handler: %w", ErrInvalidPacketFormat)
		}
		return p.vendor(ctx, raw)
	}
	return fmt.Errorf("packet type %v: %w", h.Type, ErrInvalidPacketFormat)
}

// waitBarrier blocks until every (all) or some (!all) dependency signal
// reaches 0. Zero handles are ignored; a barrier with no dependencies
// completes at once.
func (p *Processor) waitBarrier(ctx context.Context, all bool, deps []SignalHandle) error {
	var sigs []*Signal
	for i, h := range deps {
		if h == 0 {
			continue
		}
		s, ok := p.rt.LookupSignal(h)
		if !ok {
			return fmt.Errorf("barrier dependency %d handle %#x: %w", i, uint64(h), ErrInvalidSignal)
		}
		sigs = append(sigs, s)
	}
	if len(sigs) == 0 {
		return nil
	}

	sw := spin.Wait{}
	backoff := iox.Backoff{}
	for i := 0; ; i++ {
		if barrierSatisfied(all, sigs) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if i < waitSpins {
			sw.Once()
			continue
		}
		backoff.Wait()
	}
}

func barrierSatisfied(all bool, sigs []*Signal) bool {
	for _, s := range sigs {
		done := s.Load(Acquire) == 0
		if all && !done {
			return false
		}
		if !all && done {
			return true
		}
	}
	return all
}
