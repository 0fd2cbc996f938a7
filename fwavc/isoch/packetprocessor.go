package isoch

import "encoding/binary"

// cipFmtAMDTP is the CIP fmt field value for AM824 (spec.md §4.9 step 2).
const cipFmtAMDTP = 0x10

// cipFdfNoData marks a packet carrying no audio data (spec.md §4.9 step 3).
const cipFdfNoData = 0xFF

// am824Label is the AM824 label byte for 24-bit MBLA audio (spec.md §6).
const am824Label = 0x40

// IsochHeader is the decoded 32-bit isoch packet header (spec.md §6).
type IsochHeader struct {
	DataLength uint16
	Tag        byte
	Channel    byte
	Tcode      byte
	Sy         byte
}

func decodeIsochHeader(b []byte) IsochHeader {
	v := binary.BigEndian.Uint32(b)
	return IsochHeader{
		DataLength: uint16(v >> 16),
		Tag:        byte(v>>14) & 0x03,
		Channel:    byte(v>>8) & 0x3F,
		Tcode:      byte(v>>4) & 0x0F,
		Sy:         byte(v) & 0x0F,
	}
}

// CIPHeader is the decoded two-quadlet CIP header (spec.md §6).
type CIPHeader struct {
	SID byte
	DBS byte
	DBC byte
	FMT byte
	FDF byte
	SYT uint16
}

func decodeCIPHeader(b []byte) CIPHeader {
	q0 := binary.BigEndian.Uint32(b[0:4])
	q1 := binary.BigEndian.Uint32(b[4:8])
	return CIPHeader{
		SID: byte(q0>>24) & 0x3F,
		DBS: byte(q0 >> 16),
		DBC: byte(q0),
		FMT: byte(q1>>24) & 0x3F,
		FDF: byte(q1 >> 16),
		SYT: uint16(q1),
	}
}

// AudioFrame is one decoded stereo frame, ready for the ring buffer
// (spec.md §3, §4.9 step 5).
type AudioFrame struct {
	Left, Right          float32
	AbsoluteSampleIndex  uint64
}

// PacketTimingInfo accompanies every processed packet (spec.md §4.9 step 6).
type PacketTimingInfo struct {
	FWTimestamp         uint32
	SYT                 uint16
	FirstDBC            byte
	NumSamplesInPacket  int
	FDF                 byte
	SFC                 byte
	FirstAbsSampleIndex uint64
}

// PacketProcessor is C8: one stateful instance per receive session, driving
// DBC continuity tracking and AM824 sample decoding.
type PacketProcessor struct {
	expectedDBC                byte
	dbcInitialized             bool
	currentAbsoluteSampleIndex uint64
	sampleIndexInitialized     bool
	lastPacketNumDataBlocks    int
	lastPacketWasNoData        bool

	// OnDiscontinuity, if set, is invoked when DBC does not match the
	// expected value (spec.md §7: "C8 signals discontinuity via log").
	OnDiscontinuity func(expected, got byte)
}

// NewPacketProcessor creates a fresh, uninitialized processor.
func NewPacketProcessor() *PacketProcessor {
	return &PacketProcessor{}
}

// Reset restores the processor to its just-constructed state, called on
// buffer overrun (spec.md §4.9 step 7).
func (pp *PacketProcessor) Reset() {
	pp.dbcInitialized = false
	pp.sampleIndexInitialized = false
	pp.lastPacketNumDataBlocks = 0
	pp.lastPacketWasNoData = false
	pp.currentAbsoluteSampleIndex = 0
}

// Process decodes one isochronous packet and returns the frames it
// produced (nil for NO_DATA or non-AMDTP packets) along with the packet's
// timing info. isFirstEver reports whether this is the very first DATA
// packet this processor has ever seen, so the caller can seed the PLL
// (spec.md §4.9 step 4: "emit a zero-sample timing record").
func (pp *PacketProcessor) Process(isochHeaderBytes, cipHeaderBytes, dataBytes []byte, fwTimestamp uint32) (frames []AudioFrame, timing PacketTimingInfo, isFirstEver bool, ok bool) {
	_ = decodeIsochHeader(isochHeaderBytes) // data_length/tag/channel/tcode/sy not otherwise consumed
	cip := decodeCIPHeader(cipHeaderBytes)

	if cip.FMT != cipFmtAMDTP {
		return nil, PacketTimingInfo{}, false, false // not AMDTP; drop silently
	}

	dbsBytes := int(cip.DBS) * 4
	samplesPerBlock := 0
	numDataBlocks := 0
	if cip.DBS > 0 {
		samplesPerBlock = dbsBytes / 4
		numDataBlocks = len(dataBytes) / dbsBytes
	}
	isNoData := cip.FDF == cipFdfNoData

	isFirstEver = pp.applyDBCContinuity(cip.DBC, numDataBlocks, isNoData, samplesPerBlock)

	packetStartIndex := pp.currentAbsoluteSampleIndex
	timing = PacketTimingInfo{
		FWTimestamp:         fwTimestamp,
		SYT:                 cip.SYT,
		FirstDBC:            cip.DBC,
		NumSamplesInPacket:  numDataBlocks * samplesPerBlock,
		FDF:                 cip.FDF,
		SFC:                 sfcFromFDF(cip.FDF),
		FirstAbsSampleIndex: packetStartIndex,
	}

	if isNoData {
		return nil, timing, isFirstEver, true
	}

	frames = decodeAM824Frames(dataBytes, numDataBlocks, samplesPerBlock, packetStartIndex)
	pp.currentAbsoluteSampleIndex += uint64(numDataBlocks*samplesPerBlock) / 2
	return frames, timing, isFirstEver, true
}

// applyDBCContinuity implements spec.md §4.9 step 4 and returns whether
// this packet is the first DATA packet ever seen by this processor.
func (pp *PacketProcessor) applyDBCContinuity(dbc byte, numDataBlocks int, isNoData bool, samplesPerBlock int) bool {
	if !pp.dbcInitialized {
		if isNoData {
			return false
		}
		pp.expectedDBC = dbc
		pp.lastPacketNumDataBlocks = numDataBlocks
		pp.lastPacketWasNoData = false
		pp.dbcInitialized = true
		pp.sampleIndexInitialized = true
		return true
	}

	nextExpected := pp.expectedDBC
	if !pp.lastPacketWasNoData {
		nextExpected = byte((int(pp.expectedDBC) + pp.lastPacketNumDataBlocks) % 256)
	}
	if dbc != nextExpected {
		diff := int8(dbc - nextExpected)
		if pp.OnDiscontinuity != nil {
			pp.OnDiscontinuity(nextExpected, dbc)
		}
		if diff > 0 {
			pp.currentAbsoluteSampleIndex += uint64(int(diff)*samplesPerBlock) / 2
		}
	}

	pp.expectedDBC = dbc
	pp.lastPacketNumDataBlocks = numDataBlocks
	pp.lastPacketWasNoData = isNoData
	return false
}

func decodeAM824Frames(data []byte, numDataBlocks, samplesPerBlock int, startIndex uint64) []AudioFrame {
	totalSamples := numDataBlocks * samplesPerBlock
	frames := make([]AudioFrame, 0, totalSamples/2)
	for i := 0; i+1 < totalSamples; i += 2 {
		left := decodeAM824Sample(data[i*4 : i*4+4])
		right := decodeAM824Sample(data[(i+1)*4 : (i+1)*4+4])
		frames = append(frames, AudioFrame{
			Left:                left,
			Right:               right,
			AbsoluteSampleIndex: startIndex + uint64(i/2),
		})
	}
	return frames
}

// sfcFromFDF extracts the sample-frequency code carried in an AM824 FDF's
// low 3 bits (spec.md §4.9 step 6; original_source IsochPacketProcessor's
// getSFCFromFDF). Meaningless for a NO_DATA FDF, but harmless to compute.
func sfcFromFDF(fdf byte) byte {
	return fdf & 0x07
}

// decodeAM824Sample converts one big-endian AM824 32-bit word to a
// normalized float32 sample (spec.md §4.9 step 5, §6 E4).
func decodeAM824Sample(word []byte) float32 {
	v := binary.BigEndian.Uint32(word)
	raw := int32(v & 0x00FFFFFF)
	if raw&0x00800000 != 0 {
		raw |= ^int32(0x00FFFFFF) // sign-extend from bit 23
	}
	return float32(raw) / float32(1<<23-1)
}
