// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build race

package aql

// RaceEnabled is true when the race detector is active.
// Used by tests to skip cross-goroutine submission tests: the packet body
// is published by the header word's release store, an ordering the race
// detector does not track through atomix.
const RaceEnabled = true
