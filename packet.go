// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aql

import (
	"encoding/binary"
	"fmt"
)

// PacketSize is the size of every AQL packet in bytes.
const PacketSize = 64

// PacketType is the packet format code stored in the low byte of the header.
type PacketType uint8

// Packet types.
const (
	PacketTypeVendorSpecific PacketType = 0
	PacketTypeInvalid        PacketType = 1
	PacketTypeKernelDispatch PacketType = 2
	PacketTypeBarrierAnd     PacketType = 3
	PacketTypeAgentDispatch  PacketType = 4
	PacketTypeBarrierOr      PacketType = 5
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeVendorSpecific:
		return "vendor-specific"
	case PacketTypeInvalid:
		return "invalid"
	case PacketTypeKernelDispatch:
		return "kernel-dispatch"
	case PacketTypeBarrierAnd:
		return "barrier-and"
	case PacketTypeAgentDispatch:
		return "agent-dispatch"
	case PacketTypeBarrierOr:
		return "barrier-or"
	}
	return fmt.Sprintf("packet-type(%d)", uint8(t))
}

// FenceScope is the breadth of memory visibility a packet establishes on
// acquire or release.
type FenceScope uint8

// Fence scopes.
const (
	FenceScopeNone   FenceScope = 0
	FenceScopeAgent  FenceScope = 1
	FenceScopeSystem FenceScope = 2
)

func (s FenceScope) String() string {
	switch s {
	case FenceScopeNone:
		return "none"
	case FenceScopeAgent:
		return "agent"
	case FenceScopeSystem:
		return "system"
	}
	return fmt.Sprintf("fence-scope(%d)", uint8(s))
}

// Header bit layout. Offsets are fixed by the packet processor protocol.
const (
	headerTypeShift         = 0
	headerTypeWidth         = 8
	headerBarrierShift      = 8
	headerAcquireScopeShift = 9
	headerReleaseScopeShift = 11
	headerScopeWidth        = 2

	setupDimensionsShift = 0
	setupDimensionsWidth = 2
)

// Header is the decoded form of a packet's 16-bit header word.
type Header struct {
	Type              PacketType
	Barrier           bool
	AcquireFenceScope FenceScope
	ReleaseFenceScope FenceScope
}

// EncodeHeader packs h into a header word.
//
// Type occupies bits [0,8), the barrier flag bit 8, the acquire fence
// scope bits [9,11) and the release fence scope bits [11,13). Fields wider
// than their bit range are truncated.
func EncodeHeader(h Header) uint16 {
	const scopeMask = 1<<headerScopeWidth - 1
	w := uint16(h.Type) << headerTypeShift
	if h.Barrier {
		w |= 1 << headerBarrierShift
	}
	w |= uint16(h.AcquireFenceScope&scopeMask) << headerAcquireScopeShift
	w |= uint16(h.ReleaseFenceScope&scopeMask) << headerReleaseScopeShift
	return w
}

// DecodeHeader unpacks a header word.
func DecodeHeader(w uint16) Header {
	const scopeMask = 1<<headerScopeWidth - 1
	return Header{
		Type:              PacketType(w >> headerTypeShift & (1<<headerTypeWidth - 1)),
		Barrier:           w>>headerBarrierShift&1 != 0,
		AcquireFenceScope: FenceScope(w >> headerAcquireScopeShift & scopeMask),
		ReleaseFenceScope: FenceScope(w >> headerReleaseScopeShift & scopeMask),
	}
}

// EncodeSetup packs the dispatch dimension count into a setup word.
// dims must be in 1..3.
func EncodeSetup(dims uint8) uint16 {
	return uint16(dims&(1<<setupDimensionsWidth-1)) << setupDimensionsShift
}

// DecodeSetup unpacks the dispatch dimension count from a setup word.
func DecodeSetup(w uint16) uint8 {
	return uint8(w >> setupDimensionsShift & (1<<setupDimensionsWidth - 1))
}

// Packet is a command descriptor that can be written to a queue slot.
//
// EncodePacket writes all 64 bytes in wire format, header included. The
// queue publishes bytes [0,4) with a single atomic store after copying
// the rest, so implementations need not care about ordering.
type Packet interface {
	PacketHeader() uint16
	EncodePacket(dst *[PacketSize]byte)
}

var le = binary.LittleEndian

// KernelDispatchPacket launches a kernel on the consumer agent.
type KernelDispatchPacket struct {
	Header             uint16
	Setup              uint16
	WorkgroupSizeX     uint16
	WorkgroupSizeY     uint16
	WorkgroupSizeZ     uint16
	GridSizeX          uint32
	GridSizeY          uint32
	GridSizeZ          uint32
	PrivateSegmentSize uint32
	GroupSegmentSize   uint32
	KernelObject       uint64
	KernargAddress     uintptr
	CompletionSignal   SignalHandle
}

// KernelDispatch is the argument set for NewKernelDispatchPacket.
type KernelDispatch struct {
	Header             Header
	Dimensions         uint8
	WorkgroupSize      []uint16
	GridSize           []uint32
	PrivateSegmentSize uint32
	GroupSegmentSize   uint32
	KernelObject       uint64
	KernargAddress     uintptr
	CompletionSignal   SignalHandle
}

// NewKernelDispatchPacket builds a kernel dispatch packet.
//
// Dimensions must be 1, 2 or 3 and both geometry slices must have exactly
// that many entries. Sizes for dimensions beyond Dimensions are set to 1.
// On failure it returns ErrInvalidArgument and a zero packet.
func NewKernelDispatchPacket(d KernelDispatch) (KernelDispatchPacket, error) {
	dims := int(d.Dimensions)
	if dims == 0 || dims > 3 || len(d.WorkgroupSize) != dims || len(d.GridSize) != dims {
		return KernelDispatchPacket{}, fmt.Errorf("aql: dispatch dimensions %d with %d workgroup and %d grid sizes: %w",
			dims, len(d.WorkgroupSize), len(d.GridSize), ErrInvalidArgument)
	}

	wg := [3]uint16{1, 1, 1}
	grid := [3]uint32{1, 1, 1}
	copy(wg[:], d.WorkgroupSize)
	copy(grid[:], d.GridSize)

	return KernelDispatchPacket{
		Header:             EncodeHeader(d.Header),
		Setup:              EncodeSetup(d.Dimensions),
		WorkgroupSizeX:     wg[0],
		WorkgroupSizeY:     wg[1],
		WorkgroupSizeZ:     wg[2],
		GridSizeX:          grid[0],
		GridSizeY:          grid[1],
		GridSizeZ:          grid[2],
		PrivateSegmentSize: d.PrivateSegmentSize,
		GroupSegmentSize:   d.GroupSegmentSize,
		KernelObject:       d.KernelObject,
		KernargAddress:     d.KernargAddress,
		CompletionSignal:   d.CompletionSignal,
	}, nil
}

// PacketHeader returns the header word.
func (p *KernelDispatchPacket) PacketHeader() uint16 { return p.Header }

// Dimensions returns the dispatch dimension count from the setup word.
func (p *KernelDispatchPacket) Dimensions() uint8 { return DecodeSetup(p.Setup) }

// EncodePacket writes the packet in wire format.
func (p *KernelDispatchPacket) EncodePacket(dst *[PacketSize]byte) {
	le.PutUint16(dst[0:], p.Header)
	le.PutUint16(dst[2:], p.Setup)
	le.PutUint16(dst[4:], p.WorkgroupSizeX)
	le.PutUint16(dst[6:], p.WorkgroupSizeY)
	le.PutUint16(dst[8:], p.WorkgroupSizeZ)
	le.PutUint16(dst[10:], 0)
	le.PutUint32(dst[12:], p.GridSizeX)
	le.PutUint32(dst[16:], p.GridSizeY)
	le.PutUint32(dst[20:], p.GridSizeZ)
	le.PutUint32(dst[24:], p.PrivateSegmentSize)
	le.PutUint32(dst[28:], p.GroupSegmentSize)
	le.PutUint64(dst[32:], p.KernelObject)
	le.PutUint64(dst[40:], uint64(p.KernargAddress))
	le.PutUint64(dst[48:], 0)
	le.PutUint64(dst[56:], uint64(p.CompletionSignal))
}

// DecodeKernelDispatchPacket reads a kernel dispatch packet in wire format.
func DecodeKernelDispatchPacket(src *[PacketSize]byte) KernelDispatchPacket {
	return KernelDispatchPacket{
		Header:             le.Uint16(src[0:]),
		Setup:              le.Uint16(src[2:]),
		WorkgroupSizeX:     le.Uint16(src[4:]),
		WorkgroupSizeY:     le.Uint16(src[6:]),
		WorkgroupSizeZ:     le.Uint16(src[8:]),
		GridSizeX:          le.Uint32(src[12:]),
		GridSizeY:          le.Uint32(src[16:]),
		GridSizeZ:          le.Uint32(src[20:]),
		PrivateSegmentSize: le.Uint32(src[24:]),
		GroupSegmentSize:   le.Uint32(src[28:]),
		KernelObject:       le.Uint64(src[32:]),
		KernargAddress:     uintptr(le.Uint64(src[40:])),
		CompletionSignal:   SignalHandle(le.Uint64(src[56:])),
	}
}

// BarrierDependencies is the number of dependency signals in a barrier packet.
const BarrierDependencies = 5

// BarrierPacket holds a queue until its dependency signals are satisfied.
//
// With a barrier-AND header the packet completes once every non-zero
// dependency has value 0; with barrier-OR once any of them has.
type BarrierPacket struct {
	Header           uint16
	DepSignal        [BarrierDependencies]SignalHandle
	CompletionSignal SignalHandle
}

// NewBarrierPacket builds a barrier packet of type PacketTypeBarrierAnd or
// PacketTypeBarrierOr. Returns ErrInvalidArgument for any other type or
// more than BarrierDependencies dependencies.
func NewBarrierPacket(h Header, deps []SignalHandle, completion SignalHandle) (BarrierPacket, error) {
	if h.Type != PacketTypeBarrierAnd && h.Type != PacketTypeBarrierOr {
		return BarrierPacket{}, fmt.Errorf("aql: barrier packet with type %v: %w", h.Type, ErrInvalidArgument)
	}
	if len(deps) > BarrierDependencies {
		return BarrierPacket{}, fmt.Errorf("aql: barrier packet with %d dependencies: %w", len(deps), ErrInvalidArgument)
	}
	p := BarrierPacket{Header: EncodeHeader(h), CompletionSignal: completion}
	copy(p.DepSignal[:], deps)
	return p, nil
}

// PacketHeader returns the header word.
func (p *BarrierPacket) PacketHeader() uint16 { return p.Header }

// EncodePacket writes the packet in wire format.
func (p *BarrierPacket) EncodePacket(dst *[PacketSize]byte) {
	le.PutUint16(dst[0:], p.Header)
	le.PutUint16(dst[2:], 0)
	le.PutUint32(dst[4:], 0)
	for i, h := range p.DepSignal {
		le.PutUint64(dst[8+8*i:], uint64(h))
	}
	le.PutUint64(dst[48:], 0)
	le.PutUint64(dst[56:], uint64(p.CompletionSignal))
}

// DecodeBarrierPacket reads a barrier packet in wire format.
func DecodeBarrierPacket(src *[PacketSize]byte) BarrierPacket {
	p := BarrierPacket{
		Header:           le.Uint16(src[0:]),
		CompletionSignal: SignalHandle(le.Uint64(src[56:])),
	}
	for i := range p.DepSignal {
		p.DepSignal[i] = SignalHandle(le.Uint64(src[8+8*i:]))
	}
	return p
}

// AgentDispatchArgs is the number of arguments in an agent dispatch packet.
const AgentDispatchArgs = 4

// AgentDispatchPacket asks the consumer agent to run a built-in function
// identified by Type.
type AgentDispatchPacket struct {
	Header           uint16
	Type             uint16
	ReturnAddress    uintptr
	Arg              [AgentDispatchArgs]uint64
	CompletionSignal SignalHandle
}

// PacketHeader returns the header word.
func (p *AgentDispatchPacket) PacketHeader() uint16 { return p.Header }

// EncodePacket writes the packet in wire format.
func (p *AgentDispatchPacket) EncodePacket(dst *[PacketSize]byte) {
	le.PutUint16(dst[0:], p.Header)
	le.PutUint16(dst[2:], p.Type)
	le.PutUint32(dst[4:], 0)
	le.PutUint64(dst[8:], uint64(p.ReturnAddress))
	for i, a := range p.Arg {
		le.PutUint64(dst[16+8*i:], a)
	}
	le.PutUint64(dst[48:], 0)
	le.PutUint64(dst[56:], uint64(p.CompletionSignal))
}

// DecodeAgentDispatchPacket reads an agent dispatch packet in wire format.
func DecodeAgentDispatchPacket(src *[PacketSize]byte) AgentDispatchPacket {
	p := AgentDispatchPacket{
		Header:           le.Uint16(src[0:]),
		Type:             le.Uint16(src[2:]),
		ReturnAddress:    uintptr(le.Uint64(src[8:])),
		CompletionSignal: SignalHandle(le.Uint64(src[56:])),
	}
	for i := range p.Arg {
		p.Arg[i] = le.Uint64(src[16+8*i:])
	}
	return p
}

// completionSignalOf returns the completion signal field, which sits at
// byte 56 in every architected packet format.
func completionSignalOf(src *[PacketSize]byte) SignalHandle {
	return SignalHandle(le.Uint64(src[56:]))
}
