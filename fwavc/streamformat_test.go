package fwavc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseStreamFormatBlockCompoundAM824(t *testing.T) {
	block := []byte{signatureCompoundHi, signatureCompoundLo, 0x04, syncSourceFlagBit, 0x02, 0x02, 0x06, 0x02, 0x06}
	f, err := ParseStreamFormatBlock(block)
	require.NoError(t, err)
	assert.Equal(t, FormatTypeCompoundAM824, f.Type)
	assert.Equal(t, SampleRate48000, f.SampleRate)
	assert.True(t, f.IsSyncSource)
	require.Len(t, f.Channels, 2)
	assert.Equal(t, 2, f.Channels[0].ChannelCount)
	assert.Equal(t, ChannelFormatMBLA, f.Channels[0].Format)
	assert.Equal(t, 4, f.FrameWidth())
}

func TestParseStreamFormatBlockToleratesTruncatedChannelList(t *testing.T) {
	// count says 3 channel entries but only 1 is present.
	block := []byte{signatureCompoundHi, signatureCompoundLo, 0x04, 0x00, 0x03, 0x02, 0x06}
	f, err := ParseStreamFormatBlock(block)
	require.NoError(t, err)
	assert.Len(t, f.Channels, 1, "truncated channel list must be tolerated, not fail")
}

func TestParseStreamFormatBlockRejectsUnknownSignature(t *testing.T) {
	_, err := ParseStreamFormatBlock([]byte{0x00, 0x00})
	assert.Error(t, err)
}

func TestParseStreamFormatResponseStripsHeaderByQueryKind(t *testing.T) {
	block := []byte{signatureCompoundHi, signatureCompoundLo, 0x04, 0x00, 0x00}
	header := make([]byte, streamFormatHeaderSizeCurrent)
	resp := append(header, block...)
	f, err := ParseStreamFormatResponse(resp, false)
	require.NoError(t, err)
	assert.Equal(t, FormatTypeCompoundAM824, f.Type)
}

// TestStreamFormatCompoundRoundTrip checks spec.md §8 property 2:
// Parse(Serialize(x)) reproduces x's sample rate, sync flag, and channel
// list for any Compound AM824 format.
func TestStreamFormatCompoundRoundTrip(t *testing.T) {
	rates := []SampleRate{
		SampleRate22050, SampleRate24000, SampleRate32000, SampleRate44100,
		SampleRate48000, SampleRate88200, SampleRate96000, SampleRate176400,
		SampleRate192000, SampleRateDontCare,
	}
	codes := []byte{0x00, 0x01, 0x06, 0x08, 0x0C, 0x0D, 0x0E, 0x0F, 0x10, 0x40, 0xFF}

	rapid.Check(t, func(t *rapid.T) {
		rate := rapid.SampledFrom(rates).Draw(t, "rate")
		sync := rapid.Bool().Draw(t, "sync")
		n := rapid.IntRange(0, 6).Draw(t, "numChannels")

		var channels []ChannelFormatInfo
		for i := 0; i < n; i++ {
			code := rapid.SampledFrom(codes).Draw(t, "code")
			count := rapid.IntRange(1, 8).Draw(t, "count")
			channels = append(channels, ChannelFormatInfo{
				ChannelCount: count,
				Format:       channelFormatFromWireCode(code),
				RawCode:      code,
			})
		}

		original := AudioStreamFormat{
			Type:         FormatTypeCompoundAM824,
			SampleRate:   rate,
			IsSyncSource: sync,
			Channels:     channels,
		}

		wire := SerializeStreamFormatBlock(original)
		require.NotNil(t, wire)

		decoded, err := ParseStreamFormatBlock(wire)
		require.NoError(t, err)

		assert.Equal(t, original.SampleRate, decoded.SampleRate)
		assert.Equal(t, original.IsSyncSource, decoded.IsSyncSource)
		require.Len(t, decoded.Channels, len(original.Channels))
		for i := range original.Channels {
			assert.Equal(t, original.Channels[i].ChannelCount, decoded.Channels[i].ChannelCount)
			assert.Equal(t, original.Channels[i].RawCode, decoded.Channels[i].RawCode)
		}
	})
}

func TestSerializeStreamFormatBlockReturnsNilForSimpleFormat(t *testing.T) {
	assert.Nil(t, SerializeStreamFormatBlock(AudioStreamFormat{Type: FormatTypeSimpleAM824}))
}
