// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package aql implements the host side of the Architected Queuing Language
// submission protocol.
//
// A host thread hands work to a compute agent by writing a 64-byte packet
// into a ring buffer shared with the agent, publishing it by atomically
// storing its header, and ringing a doorbell signal. The agent reports
// completion by decrementing a completion signal the host waits on.
//
// The package provides:
//
//   - Signal: an atomically updated 64-bit value with ordered operations
//     and a condition wait
//   - SignalGroup: a set of signals waited on together
//   - Packet encoders: header and setup words, kernel dispatch, barrier
//     and agent dispatch packets in wire format
//   - Queue: the multi-producer ring buffer with reserve, publish and
//     doorbell operations
//   - Processor: a software consumer that executes packets in the host
//     process
//
// # Quick Start
//
//	rt, err := aql.Open(aql.Config{})
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	gpu := rt.AgentsByDevice(aql.DeviceGPU)[0]
//	q, err := rt.CreateQueue(gpu, aql.New(256))
//	if err != nil {
//	    return err
//	}
//	defer q.Destroy()
//
//	done, _ := rt.CreateSignal(1, nil)
//	defer done.Destroy()
//
//	pkt, err := aql.NewKernelDispatchPacket(aql.KernelDispatch{
//	    Header: aql.Header{
//	        Type:              aql.PacketTypeKernelDispatch,
//	        Barrier:           true,
//	        AcquireFenceScope: aql.FenceScopeSystem,
//	        ReleaseFenceScope: aql.FenceScopeSystem,
//	    },
//	    Dimensions:       1,
//	    WorkgroupSize:    []uint16{256},
//	    GridSize:         []uint32{1 << 20},
//	    KernelObject:     kernel,
//	    KernargAddress:   kernarg,
//	    CompletionSignal: done.Handle(),
//	})
//	if err != nil {
//	    return err
//	}
//	q.Submit(&pkt)
//	done.Wait(aql.Acquire, aql.ConditionEq, 0, aql.WaitForever, aql.WaitBlocked)
//
// # Submission Protocol
//
// Submit is three steps, exposed separately for callers that batch:
//
//	index := q.Reserve()      // relaxed fetch-add on the write index
//	q.Publish(index, &pkt)    // copy bytes [4,64), then release-store the header word
//	q.RingDoorbell(index)     // release-store index into the doorbell
//
// The fetch-add is the only point where producers synchronize with each
// other. The header store is the only point where a producer synchronizes
// with the consumer: the consumer treats a slot as ready only after it
// acquires a header whose type is not INVALID, so it never observes a
// partially written packet.
//
// Submit does not check for a full ring. If more than Size packets are in
// flight the producer overwrites a slot the consumer has not retired. Keep
// LoadWriteIndex - LoadReadIndex below Size, or probe with TrySubmit:
//
//	backoff := iox.Backoff{}
//	for {
//	    _, err := q.TrySubmit(&pkt)
//	    if err == nil {
//	        break
//	    }
//	    if !aql.IsWouldBlock(err) {
//	        return err
//	    }
//	    backoff.Wait()
//	}
//
// # Signals
//
// Every signal operation takes a [MemoryOrder]. Orderings that do not
// apply to an operation are strengthened: a Release load behaves as
// Acquire, an Acquire store as Release.
//
// Wait returns the last value it observed, whether or not the condition
// holds; a timeout is not an error. The wait hint selects busy polling
// (WaitActive) or brief spinning followed by parking (WaitBlocked).
//
// A SignalGroup maps the native handle reported by a multi-signal wait
// back to the caller's own signal value:
//
//	g, err := aql.NewSignalGroup(rt, []*aql.Signal{a, b}, nil)
//	s, v, err := g.WaitAny(aql.Acquire,
//	    []aql.Condition{aql.ConditionEq, aql.ConditionEq},
//	    []aql.SignalValue{0, 0}, aql.WaitBlocked)
//
// # Soft Queues
//
// A Processor drains a queue in the host process. Handlers are keyed by
// kernel object and agent dispatch type:
//
//	p := aql.NewProcessor(q).
//	    HandleKernel(kernel, func(ctx context.Context, d *aql.KernelDispatchPacket) error {
//	        return run(d)
//	    })
//	go p.Run(ctx)
//
// # Error Handling
//
// Failures are [Status] codes wrapped with context; match them with
// errors.Is against the Err sentinels or recover the code with StatusOf.
// TrySubmit returns [ErrWouldBlock], sourced from [code.hybscloud.com/iox]:
//
//	aql.IsWouldBlock(err)  // true if the ring is full
//	aql.IsSemantic(err)    // true if control flow signal
//	aql.IsNonFailure(err)  // true if nil or ErrWouldBlock
//
// Programming errors, such as an out-of-range MemoryOrder, panic.
//
// # Race Detection
//
// The packet body is ordered by the release store of the header word, a
// happens-before edge the race detector does not observe through
// [code.hybscloud.com/atomix]. Tests that submit and consume on different
// goroutines are skipped when [RaceEnabled] is set.
//
// # Dependencies
//
// This package uses [code.hybscloud.com/atomix] for atomic primitives with
// explicit memory ordering, [code.hybscloud.com/spin] for CPU pause
// instructions, [code.hybscloud.com/iox] for semantic errors and backoff,
// [code.hybscloud.com/lfq] for the free signal slot queue, and
// [golang.org/x/sys/cpu] for cache line padding.
package aql
