// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/binary"
	"runtime"
	"unsafe"

	"code.hybscloud.com/aql"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// vectorCopyKernel is the kernel object of the copy kernel.
const vectorCopyKernel = 0x76636f7079

// kernargSize is the size of copyArgs in its kernarg encoding.
const kernargSize = 24

// copyArgs are the kernel arguments: two region addresses and a length.
type copyArgs struct {
	in, out uintptr
	n       uint64
}

func putKernargs(dst []byte, a copyArgs) {
	binary.LittleEndian.PutUint64(dst[0:], uint64(a.in))
	binary.LittleEndian.PutUint64(dst[8:], uint64(a.out))
	binary.LittleEndian.PutUint64(dst[16:], a.n)
}

func getKernargs(src []byte) copyArgs {
	return copyArgs{
		in:  uintptr(binary.LittleEndian.Uint64(src[0:])),
		out: uintptr(binary.LittleEndian.Uint64(src[8:])),
		n:   binary.LittleEndian.Uint64(src[16:]),
	}
}

// region is memory whose addresses are handed to the agent.
type region struct {
	mem     []byte
	base    uintptr
	release func() error
}

func newRegion(size int) (*region, error) {
	mem, release, err := mapRegion(size)
	if err != nil {
		return nil, err
	}
	return &region{
		mem:     mem,
		base:    uintptr(unsafe.Pointer(unsafe.SliceData(mem))),
		release: release,
	}, nil
}

func (r *region) addr(off int) uintptr {
	return r.base + uintptr(off)
}

// slice returns the n bytes at addr, which must lie inside the region.
func (r *region) slice(addr uintptr, n uint64) ([]byte, error) {
	if addr < r.base || uint64(addr-r.base)+n > uint64(len(r.mem)) {
		return nil, errors.Wrapf(aql.ErrInvalidArgument, "address %#x+%d outside region %#x+%d", addr, n, r.base, len(r.mem))
	}
	off := addr - r.base
	return r.mem[off : uint64(off)+n], nil
}

// copyKernel returns the copy kernel. Work-item i copies the i-th chunk
// of the input; workgroups run in parallel, bounded by GOMAXPROCS.
func copyKernel(data, kernarg *region) aql.KernelFunc {
	return func(ctx context.Context, d *aql.KernelDispatchPacket) error {
		raw, err := kernarg.slice(d.KernargAddress, kernargSize)
		if err != nil {
			return errors.Wrap(err, "kernargs")
		}
		args := getKernargs(raw)
		src, err := data.slice(args.in, args.n)
		if err != nil {
			return errors.Wrap(err, "input")
		}
		dst, err := data.slice(args.out, args.n)
		if err != nil {
			return errors.Wrap(err, "output")
		}

		grid := uint64(d.GridSizeX)
		wg := uint64(d.WorkgroupSizeX)
		if grid == 0 || wg == 0 {
			return errors.Wrapf(aql.ErrInvalidPacketFormat, "grid %d workgroup %d", grid, wg)
		}
		chunk := (args.n + grid - 1) / grid
		groups := (grid + wg - 1) / wg

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(runtime.GOMAXPROCS(0))
		for group := range groups {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				lo := min(group*wg*chunk, args.n)
				hi := min((group+1)*wg*chunk, args.n)
				copy(dst[lo:hi], src[lo:hi])
				return nil
			})
		}
		return g.Wait()
	}
}
