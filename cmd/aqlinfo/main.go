// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command aqlinfo prints the runtime description and the agents it knows.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"code.hybscloud.com/aql"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)
	var (
		maxSignals = flag.Int("max-signals", 0, "signal table size (0 = default)")
		probe      = flag.Bool("probe", false, "create and destroy a queue on every agent")
	)
	flag.Parse()
	defer klog.Flush()

	if err := run(os.Stdout, aql.Config{MaxSignals: *maxSignals}, *probe); err != nil {
		klog.Fatalf("aqlinfo: %v", err)
	}
}

func run(w io.Writer, cfg aql.Config, probe bool) error {
	rt, err := aql.Open(cfg)
	if err != nil {
		return errors.Wrap(err, "opening runtime")
	}
	defer rt.Close()
	klog.V(1).Infof("runtime open with %d agents", len(rt.Agents()))

	info := rt.SystemInfo()
	freq := float64(info.TimestampFrequency)
	fmt.Fprintf(w, "[System]\n")
	fmt.Fprintf(w, "  * version: %d.%d\n", info.VersionMajor, info.VersionMinor)
	fmt.Fprintf(w, "  * timestamp: %.6f [s] (freq: %.1f [MHz])\n", float64(rt.Timestamp())/freq, freq/1e6)
	fmt.Fprintf(w, "  * signal-max-wait: %v\n", info.SignalMaxWait)
	fmt.Fprintf(w, "  * endianness: %v\n", info.Endianness)
	fmt.Fprintf(w, "  * machine model: %v\n", info.MachineModel)

	for _, a := range rt.Agents() {
		fmt.Fprintf(w, "[Agent %d (%v)]\n", a.Handle(), a.Device())
		fmt.Fprintf(w, "  * name: %s\n", a.Name())
		fmt.Fprintf(w, "  * vendor: %s\n", a.Vendor())
		fmt.Fprintf(w, "  * feature: %v\n", a.Features())
		fmt.Fprintf(w, "  * wavefront size: %d\n", a.WavefrontSize())
		fmt.Fprintf(w, "  * queues max: %d\n", a.QueuesMax())
		fmt.Fprintf(w, "  * queue min/max/type: %d / %d / %v\n", a.QueueMinSize(), a.QueueMaxSize(), a.QueueType())

		if probe {
			if err := probeQueue(w, rt, a); err != nil {
				return errors.Wrapf(err, "probing agent %s", a.Name())
			}
		}
	}
	return nil
}

// probeQueue creates the smallest queue the agent allows and reports it.
func probeQueue(w io.Writer, rt *aql.Runtime, a *aql.Agent) error {
	b := aql.New(int(a.QueueMinSize()))
	if a.QueueType() == aql.QueueSingle {
		b.SingleProducer()
	}
	q, err := rt.CreateQueue(a, b)
	if err != nil {
		return errors.Wrap(err, "creating queue")
	}
	fmt.Fprintf(w, "  * probe queue %d: size %d at %p, doorbell %#x\n",
		q.ID(), q.Size(), q.BaseAddress(), uint64(q.DoorbellSignal().Handle()))
	klog.V(2).Infof("agent %s: queue %d created", a.Name(), q.ID())
	return errors.Wrap(q.Destroy(), "destroying queue")
}
