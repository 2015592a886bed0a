// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !unix

package main

// mapRegion allocates size bytes on the Go heap. The caller keeps the
// slice reachable for as long as packets carry its addresses.
func mapRegion(size int) ([]byte, func() error, error) {
	return make([]byte, size), func() error { return nil }, nil
}
