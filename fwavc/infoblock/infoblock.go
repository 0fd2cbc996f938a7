// Package infoblock implements the AVC Info Block Parser (C4, spec.md §4.4):
// parsing the recursive tree of typed information blocks embedded in a
// descriptor, tolerating truncation and malformed nesting without ever
// failing outright (spec.md §7: "C4 never fails").
package infoblock

import "encoding/binary"

// Type is the 16-bit info block type code (TA 2002013 / TA 2001007, as
// surfaced by original_source/include/FWA/Enums.hpp's InfoBlockType).
type Type uint16

const (
	TypeRawText               Type = 0x000A
	TypeName                  Type = 0x000B
	TypeGeneralMusicStatus    Type = 0x8100
	TypeMusicOutputPlugStatus Type = 0x8101
	TypeSourcePlugStatus      Type = 0x8102
	TypeAudioInfo             Type = 0x8103
	TypeMidiInfo              Type = 0x8104
	TypeSmpteTimeCodeInfo     Type = 0x8105
	TypeSampleCountInfo       Type = 0x8106
	TypeAudioSyncInfo         Type = 0x8107
	TypeRoutingStatus         Type = 0x8108
	TypeSubunitPlugInfo       Type = 0x8109
	TypeClusterInfo           Type = 0x810A
	TypeMusicPlugInfo         Type = 0x810B
	TypeUnknown               Type = 0xFFFF
)

// NameInfo is the parsed primary-fields payload of a Name info block.
type NameInfo struct {
	NameDataReferenceType  byte
	NameDataAttributes     byte
	MaximumNumberOfChars   uint16
}

// GeneralMusicStatus is the parsed payload of a GeneralMusicStatus block.
type GeneralMusicStatus struct {
	CurrentTransmitCapability byte
	CurrentReceiveCapability  byte
	CurrentLatencyCapability  uint32
}

// AudioInfo is the parsed payload of an AudioInfo block (spec.md §8 E3).
type AudioInfo struct {
	NumAudioStreams byte
}

// MidiInfo is the parsed payload of a MidiInfo block.
type MidiInfo struct {
	NumMIDIStreams byte
}

// RoutingStatus is the parsed payload of a RoutingStatus block.
type RoutingStatus struct {
	NumSubunitDestPlugs   byte
	NumSubunitSourcePlugs byte
	NumMusicPlugs         uint16
}

// SubunitPlugInfo is the parsed payload of a SubunitPlugInfo block.
type SubunitPlugInfo struct {
	SubunitPlugID  byte
	SignalFormat   uint16
	PlugType       byte
	NumClusters    uint16
	NumChannels    uint16
}

// ClusterSignal is one (music_plug_id, stream_position, stream_location)
// entry inside a ClusterInfo block.
type ClusterSignal struct {
	MusicPlugID     uint16
	StreamPosition  byte
	StreamLocation  byte
}

// ClusterInfo is the parsed payload of a ClusterInfo block (spec.md §4.4
// step 2).
type ClusterInfo struct {
	StreamFormat byte
	PortType     byte
	NumSignals   byte
	Signals      []ClusterSignal
}

// MusicPlugEndpoint is one side (source or destination) of a MusicPlugInfo
// block's routing.
type MusicPlugEndpoint struct {
	FunctionBlockType byte
	PlugID            byte
	FunctionBlockID   byte
	StreamPosition    byte
	StreamLocation    byte
}

// MusicPlugInfo is the parsed payload of a MusicPlugInfo block.
type MusicPlugInfo struct {
	PlugType    byte
	MusicPlugID uint16
	Routing     byte
	Source      MusicPlugEndpoint
	Destination MusicPlugEndpoint
}

// Block is one node of the recursive info-block tree (spec.md §3). At most
// one of the typed payload fields (RawText through SourcePlugNumber) is
// non-nil, chosen by Type; all are nil for types without a decoder here
// (unrecognized codes, SmpteTimeCodeInfo, SampleCountInfo, AudioSyncInfo)
// and for too-short primary field data — parsing never fails, it just
// leaves the block's semantic payload empty while Raw stays accessible.
type Block struct {
	Type                Type
	CompoundLength      uint16
	PrimaryFieldsLength uint16
	Raw                 []byte
	Truncated           bool

	RawText                    *string
	Name                       *NameInfo
	GeneralMusicStatus         *GeneralMusicStatus
	AudioInfo                  *AudioInfo
	MidiInfo                   *MidiInfo
	RoutingStatus              *RoutingStatus
	SubunitPlugInfo            *SubunitPlugInfo
	ClusterInfo                *ClusterInfo
	MusicPlugInfo              *MusicPlugInfo
	MusicOutputPlugSourceCount *byte
	SourcePlugNumber           *byte

	Nested []*Block
}

const headerSize = 6 // compound_length(2) + type(2) + primary_fields_length(2)

// Parse decodes one info block (and its nested children) from buf, which is
// expected to contain exactly one top-level block's bytes (spec.md §4.4).
// It never returns an error: malformed or truncated input yields a Block
// with Truncated set and/or empty typed payloads, per spec.md §7.
func Parse(buf []byte) *Block {
	b := &Block{Raw: buf}
	if len(buf) < headerSize {
		b.Truncated = true
		return b
	}
	b.CompoundLength = binary.BigEndian.Uint16(buf[0:2])
	b.Type = Type(binary.BigEndian.Uint16(buf[2:4]))
	b.PrimaryFieldsLength = binary.BigEndian.Uint16(buf[4:6])

	total := int(b.CompoundLength) + 2
	if total > len(buf) {
		b.Truncated = true
		total = len(buf)
	}

	primStart := headerSize
	primEnd := primStart + int(b.PrimaryFieldsLength)
	if primEnd > total {
		primEnd = total
	}
	if primEnd < primStart {
		primEnd = primStart
	}
	primary := buf[primStart:primEnd]
	b.parsePrimary(primary)

	nestedStart := primEnd
	b.Nested = parseNested(buf[nestedStart:total])

	return b
}

func (b *Block) parsePrimary(p []byte) {
	switch b.Type {
	case TypeRawText:
		s := string(p)
		b.RawText = &s
	case TypeName:
		if len(p) >= 4 {
			b.Name = &NameInfo{
				NameDataReferenceType: p[0],
				NameDataAttributes:    p[1],
				MaximumNumberOfChars:  binary.BigEndian.Uint16(p[2:4]),
			}
		}
	case TypeGeneralMusicStatus:
		if len(p) >= 6 {
			b.GeneralMusicStatus = &GeneralMusicStatus{
				CurrentTransmitCapability: p[0],
				CurrentReceiveCapability:  p[1],
				CurrentLatencyCapability:  binary.BigEndian.Uint32(p[2:6]),
			}
		}
	case TypeMusicOutputPlugStatus:
		if len(p) >= 1 {
			v := p[0]
			b.MusicOutputPlugSourceCount = &v
		}
	case TypeSourcePlugStatus:
		if len(p) >= 1 {
			v := p[0]
			b.SourcePlugNumber = &v
		}
	case TypeAudioInfo:
		if len(p) >= 1 {
			b.AudioInfo = &AudioInfo{NumAudioStreams: p[0]}
		}
	case TypeMidiInfo:
		if len(p) >= 1 {
			b.MidiInfo = &MidiInfo{NumMIDIStreams: p[0]}
		}
	case TypeRoutingStatus:
		if len(p) >= 4 {
			b.RoutingStatus = &RoutingStatus{
				NumSubunitDestPlugs:   p[0],
				NumSubunitSourcePlugs: p[1],
				NumMusicPlugs:         binary.BigEndian.Uint16(p[2:4]),
			}
		}
	case TypeSubunitPlugInfo:
		if len(p) >= 8 {
			b.SubunitPlugInfo = &SubunitPlugInfo{
				SubunitPlugID: p[0],
				SignalFormat:  binary.BigEndian.Uint16(p[1:3]),
				PlugType:      p[3],
				NumClusters:   binary.BigEndian.Uint16(p[4:6]),
				NumChannels:   binary.BigEndian.Uint16(p[6:8]),
			}
		}
	case TypeClusterInfo:
		if len(p) >= 3 {
			numSignals := p[2]
			ci := &ClusterInfo{StreamFormat: p[0], PortType: p[1], NumSignals: numSignals}
			for i := 0; i < int(numSignals); i++ {
				off := 3 + i*4
				if off+4 > len(p) {
					break // tolerate truncation; keep signals gathered so far
				}
				ci.Signals = append(ci.Signals, ClusterSignal{
					MusicPlugID:    binary.BigEndian.Uint16(p[off : off+2]),
					StreamPosition: p[off+2],
					StreamLocation: p[off+3],
				})
			}
			b.ClusterInfo = ci
		}
	case TypeMusicPlugInfo:
		if len(p) >= 14 {
			b.MusicPlugInfo = &MusicPlugInfo{
				PlugType:    p[0],
				MusicPlugID: binary.BigEndian.Uint16(p[1:3]),
				Routing:     p[3],
				Source: MusicPlugEndpoint{
					FunctionBlockType: p[4],
					PlugID:            p[5],
					FunctionBlockID:   p[6],
					StreamPosition:    p[7],
					StreamLocation:    p[8],
				},
				Destination: MusicPlugEndpoint{
					FunctionBlockType: p[9],
					PlugID:            p[10],
					FunctionBlockID:   p[11],
					StreamPosition:    p[12],
					StreamLocation:    p[13],
				},
			}
		}
	}
}

// parseNested walks the secondary-fields area of a parent block, slicing
// out each nested block and recursing (spec.md §4.4 step 3).
func parseNested(area []byte) []*Block {
	var out []*Block
	pos := 0
	for pos < len(area) {
		if pos+2 > len(area) {
			break
		}
		claimedCompoundLen := int(binary.BigEndian.Uint16(area[pos : pos+2]))
		claimedTotal := claimedCompoundLen + 2

		if claimedTotal < 4 {
			// Invalid size: advance 4 bytes and continue (spec.md §4.4 step 3).
			pos += 4
			continue
		}

		available := len(area) - pos
		if claimedTotal > available {
			// Can't recover alignment for siblings after this: parse what's
			// available and stop.
			out = append(out, Parse(area[pos:]))
			break
		}

		out = append(out, Parse(area[pos:pos+claimedTotal]))
		pos += claimedTotal
	}
	return out
}
