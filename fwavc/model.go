package fwavc

import "github.com/kvaudio/fwavc/infoblock"

// PlugDirection is the direction of an AudioPlug (spec.md §3).
type PlugDirection int

const (
	DirectionInput PlugDirection = iota
	DirectionOutput
)

// PlugUsage classifies where an AudioPlug lives (spec.md §3).
type PlugUsage int

const (
	UsageIsochronous PlugUsage = iota
	UsageExternal
	UsageMusicSubunit
	UsageAudioSubunit
)

// SampleRate enumerates the rates a stream format can name (spec.md §3).
type SampleRate int

const (
	SampleRateUnknown SampleRate = iota
	SampleRateDontCare
	SampleRate22050
	SampleRate24000
	SampleRate32000
	SampleRate44100
	SampleRate48000
	SampleRate88200
	SampleRate96000
	SampleRate176400
	SampleRate192000
)

// sampleRateFromCode maps the AV/C sample-rate code (spec.md §4.6.1) to
// SampleRate. Unknown codes map to SampleRateUnknown rather than an error, so
// a reserved rate code alone never makes stream format parsing fail (spec.md §4.6.1's catalogue is
// exhaustive for the codes AV/C defines, but devices can send a reserved
// value).
func sampleRateFromCode(code byte) SampleRate {
	switch code {
	case 0x00:
		return SampleRate22050
	case 0x01:
		return SampleRate24000
	case 0x02:
		return SampleRate32000
	case 0x03:
		return SampleRate44100
	case 0x04:
		return SampleRate48000
	case 0x05:
		return SampleRate96000
	case 0x06:
		return SampleRate176400
	case 0x07:
		return SampleRate192000
	case 0x0A:
		return SampleRate88200
	case 0x0F:
		return SampleRateDontCare
	default:
		return SampleRateUnknown
	}
}

// FormatType is the stream-format family (spec.md §3).
type FormatType int

const (
	FormatTypeUnknown FormatType = iota
	FormatTypeCompoundAM824
	FormatTypeSimpleAM824
)

// ChannelFormatCode enumerates the per-entry format codes inside a Compound
// AM824 stream format (spec.md §3).
type ChannelFormatCode int

const (
	ChannelFormatMBLA ChannelFormatCode = iota
	ChannelFormatIEC60958_3
	ChannelFormatIEC61937
	ChannelFormatOneBit
	ChannelFormatHighPrecisionMBLA
	ChannelFormatMIDIConformant
	ChannelFormatSMPTETimeCode
	ChannelFormatSampleCount
	ChannelFormatAncillary
	ChannelFormatSyncStream
	ChannelFormatDontCare
)

// channelFormatFromWireCode maps an AV/C stream format code byte (TA
// 2001007) to ChannelFormatCode. Unrecognized/reserved codes fall back to
// MBLA; callers that need the raw byte keep ChannelFormatInfo.RawCode.
func channelFormatFromWireCode(code byte) ChannelFormatCode {
	switch code {
	case 0x00:
		return ChannelFormatIEC60958_3
	case 0x01, 0x02, 0x03, 0x04, 0x05:
		return ChannelFormatIEC61937
	case 0x06, 0x07:
		return ChannelFormatMBLA
	case 0x08, 0x09, 0x0A, 0x0B:
		return ChannelFormatOneBit
	case 0x0C:
		return ChannelFormatHighPrecisionMBLA
	case 0x0D:
		return ChannelFormatMIDIConformant
	case 0x0E:
		return ChannelFormatSMPTETimeCode
	case 0x0F:
		return ChannelFormatSampleCount
	case 0x10:
		return ChannelFormatAncillary
	case 0x40:
		return ChannelFormatSyncStream
	case 0xFF:
		return ChannelFormatDontCare
	default:
		return ChannelFormatMBLA
	}
}

// ChannelFormatInfo is one (channel_count, format_code) entry of a Compound
// AM824 stream format (spec.md §3).
type ChannelFormatInfo struct {
	ChannelCount int
	Format       ChannelFormatCode
	RawCode      byte
}

// AudioStreamFormat describes a stream format, current or supported
// (spec.md §3).
type AudioStreamFormat struct {
	Type         FormatType
	SampleRate   SampleRate
	IsSyncSource bool
	Channels     []ChannelFormatInfo // only meaningful for Compound AM824
	SimpleFormat ChannelFormatCode   // only meaningful for Simple AM824
}

// FrameWidth sums ChannelCount across Channels — invariant: for Compound
// AM824, this equals the logical frame width (spec.md §3 Invariants).
func (f AudioStreamFormat) FrameWidth() int {
	total := 0
	for _, c := range f.Channels {
		total += c.ChannelCount
	}
	return total
}

// StandardSourceConnection is the upstream connection for a plug discovered
// via SIGNAL SOURCE (spec.md §3).
type StandardSourceConnection struct {
	SourceSubunit byte
	SourcePlug    byte
	Status        byte
}

// MusicDestinationConnection is the upstream connection for a music-subunit
// plug discovered via the DESTINATION PLUG CONFIGURE fallback (spec.md §3).
type MusicDestinationConnection struct {
	DestPlugID      byte
	StreamPosition0 byte
	StreamPosition1 byte
}

// AudioPlug is one plug on the unit or a subunit (spec.md §3).
type AudioPlug struct {
	Subunit   byte // SubunitAddressUnit for unit plugs
	PlugNum   byte
	Direction PlugDirection
	Usage     PlugUsage

	CurrentFormat   *AudioStreamFormat
	SupportedFormat []AudioStreamFormat

	StandardSource *StandardSourceConnection   // input plugs only
	MusicDest      *MusicDestinationConnection // music-subunit input plugs only

	Name string // optional, empty if unknown
}

// MusicSubunit models the Music subunit's plugs and status descriptor
// (spec.md §3).
type MusicSubunit struct {
	Address byte
	DestPlugs, SourcePlugs []AudioPlug

	StatusDescriptorRaw []byte
	InfoBlocks          []*infoblock.Block
}

// AudioSubunit models the Audio subunit's plugs (spec.md §3).
type AudioSubunit struct {
	Address                byte
	DestPlugs, SourcePlugs []AudioPlug
}

// DeviceInfo is the root of the topology model (spec.md §3). It is built
// once by the Topology Parser and is read-only thereafter: concurrent
// readers need no synchronization (spec.md §5).
type DeviceInfo struct {
	IsoInCount, IsoOutCount   int
	ExtInCount, ExtOutCount   int

	IsoInPlugs, IsoOutPlugs   []AudioPlug
	ExtInPlugs, ExtOutPlugs   []AudioPlug

	Music *MusicSubunit
	Audio *AudioSubunit
}
