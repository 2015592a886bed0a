// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"code.hybscloud.com/aql"
)

func TestRun(t *testing.T) {
	if aql.RaceEnabled {
		t.Skip("kernel output is ordered by the completion signal")
	}
	tests := []options{
		{size: 4096, grid: 1024, workgroup: 64, queueSize: 16, timeout: 10 * time.Second},
		{size: 1000, grid: 7, workgroup: 3, timeout: 10 * time.Second},
		{size: 10, grid: 64, workgroup: 256, queueSize: 4, timeout: 10 * time.Second},
	}
	for _, opts := range tests {
		var out bytes.Buffer
		if err := run(context.Background(), &out, opts); err != nil {
			t.Fatalf("run(%+v): %v", opts, err)
		}
		if !strings.Contains(out.String(), "Passed validation.") {
			t.Fatalf("run(%+v) output: %q", opts, out.String())
		}
	}
}

func TestRunInvalidOptions(t *testing.T) {
	if err := run(context.Background(), &bytes.Buffer{}, options{size: 0, grid: 1, workgroup: 1}); err == nil {
		t.Fatal("run accepted a zero size")
	}
}

func TestRegionSlice(t *testing.T) {
	r, err := newRegion(64)
	if err != nil {
		t.Fatalf("newRegion: %v", err)
	}
	defer r.release()

	b, err := r.slice(r.addr(16), 16)
	if err != nil {
		t.Fatalf("slice: %v", err)
	}
	b[0] = 0xAB
	if r.mem[16] != 0xAB {
		t.Fatal("slice does not alias the region")
	}

	if _, err := r.slice(r.addr(60), 8); !errors.Is(err, aql.ErrInvalidArgument) {
		t.Fatalf("overrun: got %v, want ErrInvalidArgument", err)
	}
	if _, err := r.slice(r.base-1, 1); !errors.Is(err, aql.ErrInvalidArgument) {
		t.Fatalf("underrun: got %v, want ErrInvalidArgument", err)
	}
}

func TestKernargsRoundTrip(t *testing.T) {
	var buf [kernargSize]byte
	want := copyArgs{in: 0x1000, out: 0x2000, n: 4096}
	putKernargs(buf[:], want)
	if got := getKernargs(buf[:]); got != want {
		t.Fatalf("getKernargs: got %+v, want %+v", got, want)
	}
}
