// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aql

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
	"golang.org/x/sys/cpu"
)

// packetSlot is one 64-byte ring entry.
//
// word holds header | setup<<16 in host byte order, so its memory image
// is the first four wire bytes of the packet. It is the only field
// accessed atomically; body is written by the reserving producer and
// read by the consumer after it acquires word.
type packetSlot struct {
	word atomix.Uint32
	body [PacketSize - 4]byte
}

// invalidWord is the header word of an unpublished or retired slot.
var invalidWord = headerWord(EncodeHeader(Header{Type: PacketTypeInvalid}), 0)

// headerWord returns the 32-bit value whose memory image is the
// little-endian header followed by the little-endian setup.
func headerWord(header, setup uint16) uint32 {
	var b [4]byte
	le.PutUint16(b[0:], header)
	le.PutUint16(b[2:], setup)
	return binary.NativeEndian.Uint32(b[:])
}

// Queue is a ring of packet slots shared with a consuming agent.
//
// Producers reserve a slot with an atomic add on the write index, copy the
// packet body into it, and publish the header word with a release store.
// The consumer acquires the header, executes the packet, and advances the
// read index. Indices are 64-bit counters that never wrap; the slot offset
// is index & (Size-1).
//
// Submission never blocks and does not detect a full ring: writing into a
// slot the consumer has not retired corrupts an in-flight packet. Callers
// keep LoadWriteIndex - LoadReadIndex below Size, or use TrySubmit.
type Queue struct {
	_          cpu.CacheLinePad
	writeIndex atomix.Uint64 // producers (FAA)
	_          cpu.CacheLinePad
	readIndex  atomix.Uint64 // consumer
	_          cpu.CacheLinePad
	active     atomix.Bool
	_          cpu.CacheLinePad

	slots    []packetSlot
	backing  []byte
	mask     uint64
	size     uint32
	typ      QueueType
	features QueueFeature
	agent    *Agent
	id       uint64
	rt       *Runtime

	doorbell     *Signal
	ownsDoorbell bool

	privateSegmentSize uint32
	groupSegmentSize   uint32

	destroyed atomix.Bool
}

// CreateQueue creates a queue on agent with a runtime-owned doorbell
// signal. The doorbell is destroyed with the queue.
//
// Returns ErrInvalidQueueCreation if the size is zero or above the
// agent's maximum, the agent rejects the queue type, or the requested
// features are not executed by the agent; ErrOutOfResources if the agent
// already has QueuesMax queues or no signal slot is left for the doorbell.
func (rt *Runtime) CreateQueue(agent *Agent, b *QueueBuilder) (*Queue, error) {
	return rt.createQueue(agent, b, nil)
}

// CreateSoftQueue creates a queue whose doorbell is the caller's signal.
// The doorbell is not destroyed with the queue.
func (rt *Runtime) CreateSoftQueue(agent *Agent, b *QueueBuilder, doorbell *Signal) (*Queue, error) {
	if doorbell == nil {
		return nil, fmt.Errorf("aql: soft queue without doorbell: %w", ErrInvalidArgument)
	}
	if s, ok := rt.LookupSignal(doorbell.Handle()); !ok || s != doorbell {
		return nil, fmt.Errorf("aql: soft queue doorbell: %w", ErrInvalidSignal)
	}
	return rt.createQueue(agent, b, doorbell)
}

func (rt *Runtime) createQueue(agent *Agent, b *QueueBuilder, doorbell *Signal) (*Queue, error) {
	if err := rt.checkOpen(); err != nil {
		return nil, err
	}
	if !rt.owns(agent) {
		return nil, ErrInvalidAgent
	}
	if b == nil {
		return nil, fmt.Errorf("aql: nil queue builder: %w", ErrInvalidArgument)
	}
	size, features, err := agent.queueGeometry(b)
	if err != nil {
		return nil, err
	}

	if uint32(agent.queues.AddAcqRel(1)) > agent.queuesMax {
		agent.queues.AddAcqRel(-1)
		return nil, fmt.Errorf("aql: agent %s has %d queues: %w", agent.name, agent.queuesMax, ErrOutOfResources)
	}

	owns := false
	if doorbell == nil {
		doorbell, err = rt.CreateSignal(0, nil)
		if err != nil {
			agent.queues.AddAcqRel(-1)
			return nil, err
		}
		owns = true
	}

	q := &Queue{
		mask:               uint64(size - 1),
		size:               size,
		typ:                b.Type(),
		features:           features,
		agent:              agent,
		id:                 rt.queueIDs.AddAcqRel(1),
		rt:                 rt,
		doorbell:           doorbell,
		ownsDoorbell:       owns,
		privateSegmentSize: b.opts.privateSegmentSize,
		groupSegmentSize:   b.opts.groupSegmentSize,
	}
	q.allocSlots()
	q.active.StoreRelease(true)
	return q, nil
}

// queueGeometry validates a builder against the agent and returns the
// allocated size and feature set.
func (a *Agent) queueGeometry(b *QueueBuilder) (uint32, QueueFeature, error) {
	req := b.opts.size
	if req <= 0 || uint64(req) > uint64(a.queueMaxSize) {
		return 0, 0, fmt.Errorf("aql: queue size %d outside (0, %d]: %w", req, a.queueMaxSize, ErrInvalidQueueCreation)
	}
	if a.queueType == QueueSingle && b.Type() == QueueMulti {
		return 0, 0, fmt.Errorf("aql: agent %s supports single-producer queues only: %w", a.name, ErrInvalidQueueCreation)
	}

	agentFeatures := QueueFeature(a.features)
	features := b.opts.features
	if features == 0 {
		features = agentFeatures
	}
	if !agentFeatures.Has(features) {
		return 0, 0, fmt.Errorf("aql: agent %s does not execute queue features %#x: %w", a.name, uint32(features), ErrInvalidQueueCreation)
	}

	size := uint32(roundToPow2(req))
	if size < a.queueMinSize {
		size = a.queueMinSize
	}
	if size > a.queueMaxSize {
		return 0, 0, fmt.Errorf("aql: queue size %d rounds to %d above %d: %w", req, size, a.queueMaxSize, ErrInvalidQueueCreation)
	}
	return size, features, nil
}

// allocSlots allocates the ring aligned to a packet boundary and marks
// every slot INVALID.
func (q *Queue) allocSlots() {
	n := int(q.size)
	q.backing = make([]byte, n*PacketSize+PacketSize-1)
	base := unsafe.Pointer(unsafe.SliceData(q.backing))
	off := (PacketSize - int(uintptr(base)%PacketSize)) % PacketSize
	q.slots = unsafe.Slice((*packetSlot)(unsafe.Add(base, off)), n)
	for i := range q.slots {
		q.slots[i].word.StoreRelaxed(invalidWord)
	}
}

// Size returns the number of packet slots.
func (q *Queue) Size() uint32 { return q.size }

// BaseAddress returns the address of slot 0. It is PacketSize aligned.
func (q *Queue) BaseAddress() unsafe.Pointer {
	return unsafe.Pointer(unsafe.SliceData(q.slots))
}

// DoorbellSignal returns the signal rung on submission.
func (q *Queue) DoorbellSignal() *Signal { return q.doorbell }

// Type returns the producer discipline declared at creation.
func (q *Queue) Type() QueueType { return q.typ }

// Features returns the packet kinds the queue accepts.
func (q *Queue) Features() QueueFeature { return q.features }

// Agent returns the consuming agent.
func (q *Queue) Agent() *Agent { return q.agent }

// ID returns the runtime-unique queue identifier.
func (q *Queue) ID() uint64 { return q.id }

// PrivateSegmentSize returns the private segment hint.
func (q *Queue) PrivateSegmentSize() uint32 { return q.privateSegmentSize }

// GroupSegmentSize returns the group segment hint.
func (q *Queue) GroupSegmentSize() uint32 { return q.groupSegmentSize }

// LoadWriteIndex returns the write index.
func (q *Queue) LoadWriteIndex(order MemoryOrder) uint64 {
	order.check()
	if order == Relaxed {
		return q.writeIndex.LoadRelaxed()
	}
	return q.writeIndex.LoadAcquire()
}

// StoreWriteIndex sets the write index. Only meaningful on
// single-producer queues.
func (q *Queue) StoreWriteIndex(order MemoryOrder, value uint64) {
	order.check()
	if order == Relaxed {
		q.writeIndex.StoreRelaxed(value)
		return
	}
	q.writeIndex.StoreRelease(value)
}

// AddWriteIndex adds n to the write index and returns the previous value.
func (q *Queue) AddWriteIndex(order MemoryOrder, n uint64) uint64 {
	order.check()
	return q.writeIndex.AddAcqRel(n) - n
}

// CompareAndSwapWriteIndex sets the write index to value if it equals
// expected and returns the value observed before the operation.
func (q *Queue) CompareAndSwapWriteIndex(order MemoryOrder, expected, value uint64) uint64 {
	order.check()
	sw := spin.Wait{}
	for {
		cur := q.LoadWriteIndex(order)
		if cur != expected {
			return cur
		}
		var ok bool
		if order == Relaxed {
			ok = q.writeIndex.CompareAndSwapRelaxed(expected, value)
		} else {
			ok = q.writeIndex.CompareAndSwapAcqRel(expected, value)
		}
		if ok {
			return expected
		}
		sw.Once()
	}
}

// LoadReadIndex returns the read index.
func (q *Queue) LoadReadIndex(order MemoryOrder) uint64 {
	order.check()
	if order == Relaxed {
		return q.readIndex.LoadRelaxed()
	}
	return q.readIndex.LoadAcquire()
}

// StoreReadIndex sets the read index. Only the consumer calls it.
func (q *Queue) StoreReadIndex(order MemoryOrder, value uint64) {
	order.check()
	if order == Relaxed {
		q.readIndex.StoreRelaxed(value)
		return
	}
	q.readIndex.StoreRelease(value)
}

// Reserve claims the next packet index for the caller.
//
// The add orders nothing the consumer relies on: publication happens in
// Publish. No two callers receive the same index.
func (q *Queue) Reserve() uint64 {
	return q.AddWriteIndex(Relaxed, 1)
}

// SlotOffset returns the ring slot used by index.
func (q *Queue) SlotOffset(index uint64) uint64 {
	return index & q.mask
}

func (q *Queue) slot(index uint64) *packetSlot {
	return &q.slots[index&q.mask]
}

// Publish writes p into the slot reserved for index.
//
// Everything but the header word is copied with plain stores, then the
// header word is stored with release ordering. A consumer that acquires
// the header therefore observes the whole body. The caller must own index
// through Reserve (or a write index CAS) and the slot must be retired.
// Publish does nothing on a destroyed queue.
func (q *Queue) Publish(index uint64, p Packet) {
	if q.destroyed.LoadAcquire() {
		return
	}
	var buf [PacketSize]byte
	p.EncodePacket(&buf)
	s := q.slot(index)
	copy(s.body[:], buf[4:])
	s.word.StoreRelease(binary.NativeEndian.Uint32(buf[0:4]))
}

// RingDoorbell notifies the consumer that packets up to index may be ready.
// It does nothing on a destroyed queue.
func (q *Queue) RingDoorbell(index uint64) {
	if q.destroyed.LoadAcquire() {
		return
	}
	q.doorbell.Store(Release, SignalValue(index))
}

// Submit reserves a slot, publishes p and rings the doorbell.
// Returns the packet index. On a destroyed queue nothing is reserved and
// the current write index is returned.
func (q *Queue) Submit(p Packet) uint64 {
	if q.destroyed.LoadAcquire() {
		return q.writeIndex.LoadAcquire()
	}
	index := q.Reserve()
	q.Publish(index, p)
	q.RingDoorbell(index)
	return index
}

// TrySubmit is Submit that only reserves a slot the consumer has retired.
// Returns ErrWouldBlock when the ring is full and ErrInvalidQueue once the
// queue is destroyed.
func (q *Queue) TrySubmit(p Packet) (uint64, error) {
	sw := spin.Wait{}
	for {
		if q.destroyed.LoadAcquire() {
			return 0, ErrInvalidQueue
		}
		w := q.writeIndex.LoadAcquire()
		r := q.readIndex.LoadAcquire()
		if w >= r+uint64(q.size) {
			return 0, ErrWouldBlock
		}
		if q.writeIndex.CompareAndSwapAcqRel(w, w+1) {
			q.Publish(w, p)
			q.RingDoorbell(w)
			return w, nil
		}
		sw.Once()
	}
}

// ReadPacket returns the wire image of the slot used by index.
// The header word is loaded with acquire ordering before the body is read.
func (q *Queue) ReadPacket(index uint64) [PacketSize]byte {
	var buf [PacketSize]byte
	s := q.slot(index)
	binary.NativeEndian.PutUint32(buf[0:4], s.word.LoadAcquire())
	copy(buf[4:], s.body[:])
	return buf
}

// retire marks the slot used by index INVALID and releases it to
// producers by advancing the read index.
func (q *Queue) retire(index uint64) {
	q.slot(index).word.StoreRelease(invalidWord)
	q.readIndex.StoreRelease(index + 1)
}

// Inactivate stops the consumer from processing the queue without
// releasing it. Packets already published stay in the ring.
func (q *Queue) Inactivate() error {
	if q.isDestroyed() {
		return ErrInvalidQueue
	}
	q.active.StoreRelease(false)
	return nil
}

// Activate resumes processing of an inactive queue.
func (q *Queue) Activate() error {
	if q.isDestroyed() {
		return ErrInvalidQueue
	}
	q.active.StoreRelease(true)
	return nil
}

// IsActive reports whether the consumer may process the queue.
func (q *Queue) IsActive() bool {
	return q.active.LoadAcquire()
}

func (q *Queue) isDestroyed() bool {
	return q.destroyed.LoadAcquire()
}

// Destroy releases the queue, and its doorbell if the runtime created it.
//
// Destroy does not wait for in-flight packets: the caller must know the
// consumer has retired every submitted packet. Returns ErrInvalidQueue if
// the queue was already destroyed.
func (q *Queue) Destroy() error {
	if !q.destroyed.CompareAndSwapAcqRel(false, true) {
		return ErrInvalidQueue
	}

	q.active.StoreRelease(false)
	q.agent.queues.AddAcqRel(-1)
	if q.ownsDoorbell {
		return q.doorbell.Destroy()
	}
	return nil
}
