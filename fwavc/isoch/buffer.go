// Package isoch implements the receive-side isochronous pipeline: buffer
// layout (C6), DCL program construction (C7), packet processing (C8), the
// audio clock PLL (C9), and the orchestrator that wires them together with
// an OS-provided port (C10).
//
// None of this package talks to FireWire hardware directly. The OS driver
// surface — allocating DMA memory, building DCL chains, opening an
// isochronous channel — is represented by the Port interface; a host
// application backs it with its own driver bindings.
package isoch

import "unsafe"

const pageSize = 4096

// Region names a per-packet slice within the buffer (spec.md §4.7).
type Region int

const (
	RegionIsochHeader Region = iota
	RegionCIPHeader
	RegionData
	RegionTimestamp
)

const (
	isochHeaderSize = 4
	cipHeaderSize   = 8
	timestampSize   = 4
)

// PacketRegions are one packet's four non-contiguous slots within the
// Buffer's single allocation (spec.md §4.7: "DMA scatter/gather descriptors
// for a packet reference three non-contiguous per-packet slots").
type PacketRegions struct {
	IsochHeader []byte
	CIPHeader   []byte
	Data        []byte
	Timestamp   []byte
}

// Buffer is the Isoch Buffer Manager (C6): one page-aligned contiguous
// allocation subdivided into four parallel per-packet arrays.
type Buffer struct {
	NumGroups       int
	PacketsPerGroup int
	PacketDataSize  int
	TotalPackets    int

	raw []byte // the full, page-aligned allocation

	isochHeaderOff int
	cipHeaderOff   int
	dataOff        int
	timestampOff   int
}

// NewBuffer allocates and lays out a Buffer per spec.md §4.7.
func NewBuffer(numGroups, packetsPerGroup, packetDataSize int) *Buffer {
	total := numGroups * packetsPerGroup

	isochHeaderBytes := isochHeaderSize * total
	cipHeaderBytes := cipHeaderSize * total
	dataBytes := packetDataSize * total
	timestampBytes := timestampSize * total

	size := isochHeaderBytes + cipHeaderBytes + dataBytes + timestampBytes
	size = alignUp(size, pageSize)

	b := &Buffer{
		NumGroups:       numGroups,
		PacketsPerGroup: packetsPerGroup,
		PacketDataSize:  packetDataSize,
		TotalPackets:    total,
		raw:             pageAlignedAlloc(size),
	}
	b.isochHeaderOff = 0
	b.cipHeaderOff = b.isochHeaderOff + isochHeaderBytes
	b.dataOff = b.cipHeaderOff + cipHeaderBytes
	b.timestampOff = b.dataOff + dataBytes
	return b
}

func alignUp(n, align int) int {
	if n%align == 0 {
		return n
	}
	return n + (align - n%align)
}

// pageAlignedAlloc returns a page-aligned slice of exactly size bytes,
// carved out of a slightly larger backing allocation (Go gives no direct
// control over slice alignment, so alignment is recovered by hand from the
// allocation's address).
func pageAlignedAlloc(size int) []byte {
	backing := make([]byte, size+pageSize)
	addr := uintptr(unsafe.Pointer(&backing[0]))
	pad := (pageSize - int(addr%pageSize)) % pageSize
	return backing[pad : pad+size]
}

// Bytes returns the whole allocation, suitable for a single DMA range
// registration with the OS (spec.md §4.7: "overall buffer range is passed
// as a single DMA range").
func (b *Buffer) Bytes() []byte { return b.raw }

// Packet returns packet index i's four regions. i must be in
// [0, TotalPackets).
func (b *Buffer) Packet(i int) PacketRegions {
	return PacketRegions{
		IsochHeader: b.raw[b.isochHeaderOff+i*isochHeaderSize : b.isochHeaderOff+(i+1)*isochHeaderSize],
		CIPHeader:   b.raw[b.cipHeaderOff+i*cipHeaderSize : b.cipHeaderOff+(i+1)*cipHeaderSize],
		Data:        b.raw[b.dataOff+i*b.PacketDataSize : b.dataOff+(i+1)*b.PacketDataSize],
		Timestamp:   b.raw[b.timestampOff+i*timestampSize : b.timestampOff+(i+1)*timestampSize],
	}
}

// RegionOffset returns packet i's byte offset (within Bytes()) for region r,
// for callers building their own scatter-list descriptors instead of going
// through Packet.
func (b *Buffer) RegionOffset(r Region, i int) int {
	switch r {
	case RegionIsochHeader:
		return b.isochHeaderOff + i*isochHeaderSize
	case RegionCIPHeader:
		return b.cipHeaderOff + i*cipHeaderSize
	case RegionData:
		return b.dataOff + i*b.PacketDataSize
	case RegionTimestamp:
		return b.timestampOff + i*timestampSize
	default:
		return -1
	}
}

// GroupPacketIndex converts (group, packetInGroup) to the flat packet index
// used by Packet and RegionOffset.
func (b *Buffer) GroupPacketIndex(group, packetInGroup int) int {
	return group*b.PacketsPerGroup + packetInGroup
}
