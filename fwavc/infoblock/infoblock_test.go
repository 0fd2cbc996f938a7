package infoblock

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// buildBlock assembles one info block's wire bytes: header + primary fields
// + nested block bytes, with compound_length computed to cover everything
// after itself (spec.md §4.4).
func buildBlock(typ Type, primary []byte, nested []byte) []byte {
	body := append(append([]byte{}, primary...), nested...)
	compoundLength := 4 + len(body) // type(2) + primary_fields_length(2) + body
	out := make([]byte, 0, 2+compoundLength)
	var clBuf, tyBuf, pflBuf [2]byte
	binary.BigEndian.PutUint16(clBuf[:], uint16(compoundLength))
	binary.BigEndian.PutUint16(tyBuf[:], uint16(typ))
	binary.BigEndian.PutUint16(pflBuf[:], uint16(len(primary)))
	out = append(out, clBuf[:]...)
	out = append(out, tyBuf[:]...)
	out = append(out, pflBuf[:]...)
	out = append(out, body...)
	return out
}

func TestParseAudioInfoBlock(t *testing.T) {
	raw := buildBlock(TypeAudioInfo, []byte{0x02}, nil)
	b := Parse(raw)
	require.NotNil(t, b.AudioInfo)
	assert.Equal(t, byte(2), b.AudioInfo.NumAudioStreams)
	assert.False(t, b.Truncated)
}

func TestParseNestedGeneralMusicStatusAndAudioInfo(t *testing.T) {
	audio := buildBlock(TypeAudioInfo, []byte{0x01}, nil)
	parent := buildBlock(TypeGeneralMusicStatus, []byte{0x01, 0x02, 0x00, 0x00, 0x00, 0x00}, audio)

	b := Parse(parent)
	require.NotNil(t, b.GeneralMusicStatus)
	require.Len(t, b.Nested, 1)
	require.NotNil(t, b.Nested[0].AudioInfo)
	assert.Equal(t, byte(1), b.Nested[0].AudioInfo.NumAudioStreams)
}

func TestParseTooShortForHeaderMarksTruncated(t *testing.T) {
	b := Parse([]byte{0x00, 0x01})
	assert.True(t, b.Truncated)
}

func TestParseClampsCompoundLengthLongerThanBuffer(t *testing.T) {
	raw := buildBlock(TypeAudioInfo, []byte{0x03}, nil)
	truncated := raw[:len(raw)-1] // lop off the last byte of primary fields
	b := Parse(truncated)
	assert.True(t, b.Truncated)
}

func TestParseClusterInfoStopsAtTruncatedSignal(t *testing.T) {
	// Declare 2 signals but only provide bytes for one.
	primary := []byte{0x00, 0x01, 0x02, 0x00, 0x01, 0x02, 0x03}
	raw := buildBlock(TypeClusterInfo, primary, nil)
	b := Parse(raw)
	require.NotNil(t, b.ClusterInfo)
	assert.Equal(t, byte(2), b.ClusterInfo.NumSignals)
	assert.Len(t, b.ClusterInfo.Signals, 1, "truncated second signal must be tolerated, not crash or fabricate data")
}

func TestParseNeverPanicsOnArbitraryBytes(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		buf := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "buf")
		assert.NotPanics(t, func() {
			Parse(buf)
		})
	})
}

func TestParseUnknownTypeLeavesAllTypedFieldsNil(t *testing.T) {
	raw := buildBlock(Type(0x9999), []byte{0xAA, 0xBB}, nil)
	b := Parse(raw)
	assert.Nil(t, b.AudioInfo)
	assert.Nil(t, b.GeneralMusicStatus)
	assert.Nil(t, b.Name)
	assert.Equal(t, []byte{0xAA, 0xBB}, b.Raw[6:8])
}
