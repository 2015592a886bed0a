// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build unix

package main

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// mapRegion maps size bytes of anonymous memory. The mapping is outside
// the Go heap, so its addresses stay valid while packets carry them.
func mapRegion(size int) ([]byte, func() error, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "mmap %d bytes", size)
	}
	return mem, func() error { return unix.Munmap(mem) }, nil
}
