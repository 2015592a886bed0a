// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command vectorcopy dispatches a copy kernel through a soft queue and
// validates the result.
//
// The kernel runs on an in-process Processor. Input, output and kernel
// arguments live in mapped regions whose addresses travel in the packet
// the same way they would for a device.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"code.hybscloud.com/aql"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

type options struct {
	size      int
	grid      uint32
	workgroup uint16
	queueSize int
	timeout   time.Duration
}

func main() {
	klog.InitFlags(nil)
	var opts options
	flag.IntVar(&opts.size, "size", 4<<20, "bytes to copy")
	grid := flag.Uint("grid", 1<<20, "grid size in work-items")
	workgroup := flag.Uint("workgroup", 256, "workgroup size in work-items")
	flag.IntVar(&opts.queueSize, "queue-size", 0, "queue size in packets (0 = agent maximum)")
	flag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "completion timeout")
	flag.Parse()
	defer klog.Flush()

	opts.grid = uint32(*grid)
	opts.workgroup = uint16(*workgroup)

	if err := run(context.Background(), os.Stdout, opts); err != nil {
		klog.Fatalf("vectorcopy: %v", err)
	}
}

func run(ctx context.Context, w io.Writer, opts options) error {
	if opts.size <= 0 || opts.grid == 0 || opts.workgroup == 0 {
		return errors.Errorf("size %d, grid %d and workgroup %d must be positive", opts.size, opts.grid, opts.workgroup)
	}

	rt, err := aql.Open(aql.Config{})
	if err != nil {
		return errors.Wrap(err, "opening runtime")
	}
	defer rt.Close()

	gpus := rt.AgentsByDevice(aql.DeviceGPU)
	if len(gpus) == 0 {
		return errors.New("no GPU agent")
	}
	agent := gpus[0]
	klog.Infof("agent %s", agent)

	size := opts.queueSize
	if size == 0 {
		size = int(agent.QueueMaxSize())
	}
	q, err := rt.CreateQueue(agent, aql.New(size).SingleProducer())
	if err != nil {
		return errors.Wrap(err, "creating queue")
	}
	defer q.Destroy()
	klog.V(1).Infof("queue %d: %d packets", q.ID(), q.Size())

	data, err := newRegion(2 * opts.size)
	if err != nil {
		return errors.Wrap(err, "allocating data region")
	}
	defer data.release()
	kernarg, err := newRegion(kernargSize)
	if err != nil {
		return errors.Wrap(err, "allocating kernarg region")
	}
	defer kernarg.release()

	in, out := data.mem[:opts.size], data.mem[opts.size:]
	for i := range in {
		in[i] = byte(i)
	}
	putKernargs(kernarg.mem, copyArgs{
		in:  data.addr(0),
		out: data.addr(opts.size),
		n:   uint64(opts.size),
	})

	done, err := rt.CreateSignal(1, nil)
	if err != nil {
		return errors.Wrap(err, "creating completion signal")
	}
	defer done.Destroy()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p := aql.NewProcessor(q).HandleKernel(vectorCopyKernel, copyKernel(data, kernarg))
	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx) }()

	pkt, err := aql.NewKernelDispatchPacket(aql.KernelDispatch{
		Header: aql.Header{
			Type:              aql.PacketTypeKernelDispatch,
			AcquireFenceScope: aql.FenceScopeSystem,
			ReleaseFenceScope: aql.FenceScopeSystem,
		},
		Dimensions:       1,
		WorkgroupSize:    []uint16{opts.workgroup},
		GridSize:         []uint32{opts.grid},
		KernelObject:     vectorCopyKernel,
		KernargAddress:   kernarg.addr(0),
		CompletionSignal: done.Handle(),
	})
	if err != nil {
		return errors.Wrap(err, "building dispatch packet")
	}

	// Single producer: the write index is ours alone.
	index := q.LoadWriteIndex(aql.Relaxed)
	q.Publish(index, &pkt)
	q.AddWriteIndex(aql.Relaxed, 1)
	q.RingDoorbell(index)
	klog.Infof("dispatching packet %d", index)

	start := time.Now()
	if v := done.Wait(aql.Acquire, aql.ConditionEq, 0, opts.timeout, aql.WaitBlocked); v != 0 {
		cancel()
		if rerr := <-runErr; rerr != nil && !errors.Is(rerr, context.Canceled) {
			return errors.Wrap(rerr, "processing queue")
		}
		return errors.Errorf("no completion after %v (signal %d)", opts.timeout, v)
	}
	klog.V(1).Infof("completed in %v", time.Since(start))

	cancel()
	if rerr := <-runErr; !errors.Is(rerr, context.Canceled) {
		return errors.Wrap(rerr, "processing queue")
	}

	for i := range in {
		if in[i] != out[i] {
			fmt.Fprintln(w, "VALIDATION FAILED!")
			return errors.Errorf("bad index %d: got %d, want %d", i, out[i], in[i])
		}
	}
	fmt.Fprintln(w, "Passed validation.")
	return nil
}
