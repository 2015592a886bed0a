// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aql

import (
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"
	"golang.org/x/sys/cpu"
)

// signalCell is one slot of the runtime signal table.
//
// A handle is (gen << 32 | index+1). Destroy bumps gen so stale handles
// stop resolving once the slot is freed.
type signalCell struct {
	value   atomix.Int64
	gen     atomix.Uint32
	waiters atomix.Int32

	mu    sync.Mutex
	wake  chan struct{} // closed on the next notifying mutation
	owner *Signal
	_     cpu.CacheLinePad
}

// notify wakes parked waiters. The waiter count check keeps mutations
// without waiters off the mutex.
func (c *signalCell) notify() {
	if c.waiters.Load() == 0 {
		return
	}
	c.mu.Lock()
	if c.wake != nil {
		close(c.wake)
		c.wake = nil
	}
	c.mu.Unlock()
}

func (c *signalCell) wakeChan() <-chan struct{} {
	c.mu.Lock()
	if c.wake == nil {
		c.wake = make(chan struct{})
	}
	ch := c.wake
	c.mu.Unlock()
	return ch
}

func (c *signalCell) load(order MemoryOrder) SignalValue {
	if order == Relaxed {
		return c.value.LoadRelaxed()
	}
	return c.value.LoadAcquire()
}

func (c *signalCell) cas(order MemoryOrder, old, next SignalValue) bool {
	if order == Relaxed {
		return c.value.CompareAndSwapRelaxed(old, next)
	}
	return c.value.CompareAndSwapAcqRel(old, next)
}

// update applies f atomically and returns the previous value.
func (c *signalCell) update(order MemoryOrder, f func(SignalValue) SignalValue) SignalValue {
	sw := spin.Wait{}
	for {
		old := c.load(order)
		if c.cas(order, old, f(old)) {
			return old
		}
		sw.Once()
	}
}

// Signal is an atomically updated 64-bit value used to notify completion.
//
// A Signal is obtained only from Runtime.CreateSignal and released with
// Destroy. It must not be destroyed while a queue uses it as a doorbell
// or a submitted packet names it as a completion signal, nor concurrently
// with its other methods.
//
// Once destroyed, mutations have no effect and Load and Wait return 0, so
// a stale Signal never reaches the slot's next occupant.
type Signal struct {
	rt        *Runtime
	cell      *signalCell
	index     uintptr
	gen       uint32
	handle    SignalHandle
	consumers []*Agent
}

// CreateSignal creates a signal with an initial value.
//
// consumers lists the agents that may wait on the signal; an empty list
// makes it visible to all agents. Returns ErrInvalidArgument when the list
// exceeds Config.MaxSignalConsumers or names a foreign agent, and
// ErrOutOfResources when every signal slot is in use.
func (rt *Runtime) CreateSignal(initial SignalValue, consumers []*Agent) (*Signal, error) {
	if err := rt.checkOpen(); err != nil {
		return nil, err
	}
	if err := rt.checkConsumers(consumers); err != nil {
		return nil, err
	}
	idx, err := rt.free.Dequeue()
	if iox.IsWouldBlock(err) {
		return nil, ErrOutOfResources
	}
	if err != nil {
		return nil, err
	}

	c := &rt.cells[idx]
	s := &Signal{
		rt:        rt,
		cell:      c,
		index:     idx,
		consumers: append([]*Agent(nil), consumers...),
	}
	c.value.StoreRelease(initial)
	c.mu.Lock()
	s.gen = c.gen.LoadRelaxed()
	s.handle = SignalHandle(uint64(s.gen)<<32 | uint64(idx+1))
	c.owner = s
	c.mu.Unlock()
	return s, nil
}

// LookupSignal resolves a handle to its live signal.
func (rt *Runtime) LookupSignal(h SignalHandle) (*Signal, bool) {
	idx := uint64(uint32(h))
	if idx == 0 || idx > uint64(len(rt.cells)) {
		return nil, false
	}
	c := &rt.cells[idx-1]
	c.mu.Lock()
	s := c.owner
	c.mu.Unlock()
	if s == nil || s.handle != h {
		return nil, false
	}
	return s, true
}

// Destroy releases the signal and invalidates its handle.
// Returns ErrInvalidSignal if the signal was already destroyed.
func (s *Signal) Destroy() error {
	c := s.cell
	c.mu.Lock()
	if c.owner != s {
		c.mu.Unlock()
		return ErrInvalidSignal
	}
	c.owner = nil
	c.gen.StoreRelease(s.gen + 1)
	if c.wake != nil {
		close(c.wake)
		c.wake = nil
	}
	c.mu.Unlock()

	// The slot count never exceeds the queue capacity, so Enqueue cannot block.
	_ = s.rt.free.Enqueue(s.index)
	return nil
}

// live reports whether the cell still belongs to s.
func (s *Signal) live() bool {
	return s.cell.gen.LoadAcquire() == s.gen
}

// Handle returns the opaque signal handle.
func (s *Signal) Handle() SignalHandle { return s.handle }

// Consumers returns the agents declared at creation.
func (s *Signal) Consumers() []*Agent {
	return append([]*Agent(nil), s.consumers...)
}

// Load returns the current value.
func (s *Signal) Load(order MemoryOrder) SignalValue {
	order.check()
	if !s.live() {
		return 0
	}
	return s.cell.load(order)
}

// Store sets the value and wakes waiters.
func (s *Signal) Store(order MemoryOrder, value SignalValue) {
	order.check()
	if !s.live() {
		return
	}
	s.store(order, value)
	s.cell.notify()
}

// SilentStore sets the value without waking waiters.
// Waiters still observe the value on their next poll.
func (s *Signal) SilentStore(order MemoryOrder, value SignalValue) {
	order.check()
	if !s.live() {
		return
	}
	s.store(order, value)
}

func (s *Signal) store(order MemoryOrder, value SignalValue) {
	if order == Relaxed {
		s.cell.value.StoreRelaxed(value)
		return
	}
	s.cell.value.StoreRelease(value)
}

// Exchange sets the value and returns the previous one.
func (s *Signal) Exchange(order MemoryOrder, value SignalValue) SignalValue {
	order.check()
	if !s.live() {
		return 0
	}
	old := s.cell.update(order, func(SignalValue) SignalValue { return value })
	s.cell.notify()
	return old
}

// CompareAndSwap sets the value to value if it equals expected.
// Returns the value observed before the operation; the swap happened
// iff the result equals expected. On a destroyed signal nothing is
// stored and the result differs from expected.
func (s *Signal) CompareAndSwap(order MemoryOrder, expected, value SignalValue) SignalValue {
	order.check()
	if !s.live() {
		return ^expected
	}
	sw := spin.Wait{}
	for {
		cur := s.cell.load(order)
		if cur != expected {
			return cur
		}
		if s.cell.cas(order, expected, value) {
			s.cell.notify()
			return expected
		}
		sw.Once()
	}
}

// Add adds delta to the value.
//
// The add is always performed acquire-release, which is at least as
// strong as any order; order is still validated.
func (s *Signal) Add(order MemoryOrder, delta SignalValue) {
	order.check()
	if !s.live() {
		return
	}
	s.cell.value.AddAcqRel(delta)
	s.cell.notify()
}

// Subtract subtracts delta from the value.
// Like Add it is always acquire-release.
func (s *Signal) Subtract(order MemoryOrder, delta SignalValue) {
	order.check()
	if !s.live() {
		return
	}
	s.cell.value.AddAcqRel(-delta)
	s.cell.notify()
}

// And performs a bitwise AND with mask.
func (s *Signal) And(order MemoryOrder, mask SignalValue) {
	s.apply(order, func(v SignalValue) SignalValue { return v & mask })
}

// Or performs a bitwise OR with mask.
func (s *Signal) Or(order MemoryOrder, mask SignalValue) {
	s.apply(order, func(v SignalValue) SignalValue { return v | mask })
}

// Xor performs a bitwise XOR with mask.
func (s *Signal) Xor(order MemoryOrder, mask SignalValue) {
	s.apply(order, func(v SignalValue) SignalValue { return v ^ mask })
}

func (s *Signal) apply(order MemoryOrder, f func(SignalValue) SignalValue) {
	order.check()
	if !s.live() {
		return
	}
	s.cell.update(order, f)
	s.cell.notify()
}
