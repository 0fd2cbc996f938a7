package fwavc

import "github.com/kvaudio/fwavc/fwerr"

// EXTENDED STREAM FORMAT INFO response header sizes (spec.md §4.6.1): one
// extra byte on the "supported formats" query echoes back the list index.
const (
	streamFormatHeaderSizeCurrent   = 10
	streamFormatHeaderSizeSupported = 11
)

const (
	signatureCompoundHi byte = 0x90
	signatureCompoundLo byte = 0x40
	signatureSimpleHi   byte = 0x90
	signatureSimpleLo   byte = 0x00
)

const syncSourceFlagBit = 0x04

// ParseStreamFormatResponse strips the fixed-size header from an EXTENDED
// STREAM FORMAT INFO status response and parses the format block that
// follows (spec.md §4.6.1). forSupportedQuery selects the 11-byte header
// used by subfunction 0xC1 vs. the 10-byte header of 0xC0.
func ParseStreamFormatResponse(resp []byte, forSupportedQuery bool) (AudioStreamFormat, error) {
	headerSize := streamFormatHeaderSizeCurrent
	if forSupportedQuery {
		headerSize = streamFormatHeaderSizeSupported
	}
	if len(resp) < headerSize {
		return AudioStreamFormat{}, fwerr.New(fwerr.KindBadResponse, "short stream format response header")
	}
	return ParseStreamFormatBlock(resp[headerSize:])
}

// ParseStreamFormatBlock parses just the format block (the bytes after the
// EXTENDED STREAM FORMAT INFO header) per spec.md §4.6.1.
func ParseStreamFormatBlock(block []byte) (AudioStreamFormat, error) {
	if len(block) < 2 {
		return AudioStreamFormat{}, fwerr.New(fwerr.KindBadResponse, "empty stream format block")
	}
	switch {
	case block[0] == signatureCompoundHi && block[1] == signatureCompoundLo:
		return parseCompoundAM824(block[2:])
	case block[0] == signatureSimpleHi && block[1] == signatureSimpleLo:
		return parseSimpleAM824(block[2:])
	default:
		return AudioStreamFormat{}, fwerr.New(fwerr.KindBadResponse, "unrecognized stream format signature")
	}
}

func parseCompoundAM824(b []byte) (AudioStreamFormat, error) {
	if len(b) < 3 {
		return AudioStreamFormat{}, fwerr.New(fwerr.KindBadResponse, "short compound AM824 format")
	}
	f := AudioStreamFormat{
		Type:         FormatTypeCompoundAM824,
		SampleRate:   sampleRateFromCode(b[0]),
		IsSyncSource: b[1]&syncSourceFlagBit != 0,
	}
	count := int(b[2])
	pos := 3
	for i := 0; i < count; i++ {
		if pos+2 > len(b) {
			break // tolerate truncation; keep what was parsed
		}
		f.Channels = append(f.Channels, ChannelFormatInfo{
			ChannelCount: int(b[pos]),
			Format:       channelFormatFromWireCode(b[pos+1]),
			RawCode:      b[pos+1],
		})
		pos += 2
	}
	return f, nil
}

func parseSimpleAM824(b []byte) (AudioStreamFormat, error) {
	f := AudioStreamFormat{Type: FormatTypeSimpleAM824}
	switch len(b) {
	case 0:
		return AudioStreamFormat{}, fwerr.New(fwerr.KindBadResponse, "empty simple AM824 format")
	case 1, 2:
		// 3-byte total form (format_code only); rate is "don't care".
		f.SimpleFormat = channelFormatFromWireCode(b[0])
		f.SampleRate = SampleRateDontCare
	default:
		// 6-byte total form: format_code, reserved, rate_nibble<<4|0x0F, reserved.
		f.SimpleFormat = channelFormatFromWireCode(b[0])
		f.SampleRate = sampleRateFromCode(b[2] >> 4)
	}
	return f, nil
}

// SerializeStreamFormatBlock is the inverse of ParseStreamFormatBlock for
// Compound AM824 formats, used by tests exercising the round-trip property
// (spec.md §8 property 2) and by in-process device simulators. Simple
// AM824 is not round-tripped (the wire form is lossy about which length
// variant was used).
func SerializeStreamFormatBlock(f AudioStreamFormat) []byte {
	if f.Type != FormatTypeCompoundAM824 {
		return nil
	}
	out := []byte{signatureCompoundHi, signatureCompoundLo, sampleRateToCode(f.SampleRate), 0, byte(len(f.Channels))}
	if f.IsSyncSource {
		out[3] = syncSourceFlagBit
	}
	for _, c := range f.Channels {
		out = append(out, byte(c.ChannelCount), c.RawCode)
	}
	return out
}

func sampleRateToCode(r SampleRate) byte {
	switch r {
	case SampleRate22050:
		return 0x00
	case SampleRate24000:
		return 0x01
	case SampleRate32000:
		return 0x02
	case SampleRate44100:
		return 0x03
	case SampleRate48000:
		return 0x04
	case SampleRate96000:
		return 0x05
	case SampleRate176400:
		return 0x06
	case SampleRate192000:
		return 0x07
	case SampleRate88200:
		return 0x0A
	case SampleRateDontCare:
		return 0x0F
	default:
		return 0xFF
	}
}
