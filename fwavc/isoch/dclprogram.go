package isoch

// DMARange is one scatter/gather entry: an offset and length within a
// Buffer's single allocation (spec.md §4.7, §4.8).
type DMARange struct {
	Offset int
	Length int
}

// DCLFlags mark per-descriptor behavior (spec.md §4.8: "dynamic and
// updated-before-callback").
type DCLFlags struct {
	Dynamic               bool
	UpdatedBeforeCallback bool
}

// DCL is one receive-packet descriptor: a three-range scatter list plus a
// timestamp slot (spec.md §4.8).
type DCL struct {
	PacketIndex int
	Scatter     [3]DMARange // isoch-header, CIP-header, data
	Timestamp   DMARange
	Flags       DCLFlags

	// GroupIndex and HasCallback describe the completion callback carried
	// by the last DCL of every Nth group and of the final group.
	GroupIndex  int
	HasCallback bool
}

// GroupMetadata is the user-data a group-completion DCL callback carries:
// which group completed, and a back-pointer to the owning Program so the
// callback can read out that group's packets (spec.md §4.8).
type GroupMetadata struct {
	GroupIndex int
	Program    *Program
}

// Program is the Isoch DCL Program (C7): one DCL per packet slot, in packet
// order, with a periodic completion callback. The DCLs carry no branch
// target: neither the links between them nor the circular jump from the
// last DCL back to HeadIndex is stored in the Program.
type Program struct {
	Buffer                *Buffer
	CallbackGroupInterval int
	DCLs                  []DCL
	Groups                []GroupMetadata

	// HeadIndex is the program's entry point, exposed to the orchestrator
	// (spec.md §4.8: "the program exposes its head pointer").
	HeadIndex int

	boundToPort bool
}

// DefaultCallbackGroupInterval is N in spec.md §4.8 ("every Nth group").
const DefaultCallbackGroupInterval = 1

// BuildProgram constructs the DCL program over buf's packet slots
// (spec.md §4.8). callbackGroupInterval <= 0 defaults to
// DefaultCallbackGroupInterval.
func BuildProgram(buf *Buffer, callbackGroupInterval int) *Program {
	if callbackGroupInterval <= 0 {
		callbackGroupInterval = DefaultCallbackGroupInterval
	}
	p := &Program{
		Buffer:                buf,
		CallbackGroupInterval: callbackGroupInterval,
		DCLs:                  make([]DCL, buf.TotalPackets),
		HeadIndex:             0,
	}

	for i := 0; i < buf.TotalPackets; i++ {
		p.DCLs[i] = DCL{
			PacketIndex: i,
			Scatter: [3]DMARange{
				{Offset: buf.RegionOffset(RegionIsochHeader, i), Length: isochHeaderSize},
				{Offset: buf.RegionOffset(RegionCIPHeader, i), Length: cipHeaderSize},
				{Offset: buf.RegionOffset(RegionData, i), Length: buf.PacketDataSize},
			},
			Timestamp: DMARange{Offset: buf.RegionOffset(RegionTimestamp, i), Length: timestampSize},
			Flags:     DCLFlags{Dynamic: true, UpdatedBeforeCallback: true},
		}
	}

	for group := 0; group < buf.NumGroups; group++ {
		if (group+1)%callbackGroupInterval != 0 && group != buf.NumGroups-1 {
			continue
		}
		lastPacketOfGroup := buf.GroupPacketIndex(group, buf.PacketsPerGroup-1)
		p.DCLs[lastPacketOfGroup].HasCallback = true
		p.DCLs[lastPacketOfGroup].GroupIndex = group
		p.Groups = append(p.Groups, GroupMetadata{GroupIndex: group, Program: p})
	}

	return p
}

// PacketsInGroup returns the flat packet indices belonging to group.
func (p *Program) PacketsInGroup(group int) []int {
	out := make([]int, p.Buffer.PacketsPerGroup)
	for i := range out {
		out[i] = p.Buffer.GroupPacketIndex(group, i)
	}
	return out
}

// FixupJumps notifies port that the circular branch (last DCL -> head) is
// now meaningful, once the program is bound to a local port (spec.md §4.8).
// It is safe to call again after a buffer re-allocation following overrun
// recovery.
func (p *Program) FixupJumps(port Port) error {
	p.boundToPort = true
	return port.FixupJumps()
}
