// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aql

import "math"

// SegmentSizeUnspecified leaves a segment size hint to the agent.
const SegmentSizeUnspecified = math.MaxUint32

// queueOptions configures queue creation.
type queueOptions struct {
	// Requested size in packets (rounds up to next power of 2)
	size int

	// Producer constraint (determines queue type)
	singleProducer bool

	// Packet kinds the queue accepts; zero means all the agent executes
	features QueueFeature

	// Segment size hints
	privateSegmentSize uint32
	groupSegmentSize   uint32
}

// QueueBuilder describes a queue with fluent configuration.
//
// Example:
//
//	// Multi-producer queue of 256 packets
//	q, err := rt.CreateQueue(gpu, aql.New(256))
//
//	// Single-producer queue with segment size hints
//	q, err := rt.CreateQueue(gpu, aql.New(1024).SingleProducer().PrivateSegmentSize(64))
type QueueBuilder struct {
	opts queueOptions
}

// New creates a queue builder with the requested size in packets.
//
// The agent rounds the size up to the next power of 2 and to at least its
// minimum queue size. Size is validated at creation, not here.
func New(size int) *QueueBuilder {
	return &QueueBuilder{opts: queueOptions{
		size:               size,
		privateSegmentSize: SegmentSizeUnspecified,
		groupSegmentSize:   SegmentSizeUnspecified,
	}}
}

// SingleProducer declares that only one goroutine will submit packets.
func (b *QueueBuilder) SingleProducer() *QueueBuilder {
	b.opts.singleProducer = true
	return b
}

// Features restricts the packet kinds the queue accepts.
func (b *QueueBuilder) Features(f QueueFeature) *QueueBuilder {
	b.opts.features = f
	return b
}

// PrivateSegmentSize hints the per-work-item private memory used by
// dispatches on the queue.
func (b *QueueBuilder) PrivateSegmentSize(n uint32) *QueueBuilder {
	b.opts.privateSegmentSize = n
	return b
}

// GroupSegmentSize hints the per-workgroup memory used by dispatches on
// the queue.
func (b *QueueBuilder) GroupSegmentSize(n uint32) *QueueBuilder {
	b.opts.groupSegmentSize = n
	return b
}

// Type returns the queue type the builder describes.
func (b *QueueBuilder) Type() QueueType {
	if b.opts.singleProducer {
		return QueueSingle
	}
	return QueueMulti
}

// roundToPow2 rounds n up to the next power of 2.
func roundToPow2(n int) int {
	if n < 2 {
		return 2
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
