package topology

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvaudio/fwavc"
)

// fakeDeviceTransport answers every AV/C request a topology Discover() walk
// can issue for a one-input-plug, one-Music-subunit device, dispatching on
// opcode (frame[2]) and, where an opcode is reused for multiple queries, on
// the subfunction/page byte (frame[3]) or the trailing list-index byte.
type fakeDeviceTransport struct {
	failSubunitInfo    bool
	failSubunitCounts  bool
	failDescriptorRead bool
}

const testMusicAddr byte = 0x60 // SubunitAddress(0x0C, 0)

func streamFormatResp() []byte {
	header := make([]byte, 10) // streamFormatHeaderSizeCurrent
	header[0] = fwavc.StatusImplemented
	block := []byte{0x90, 0x40, 0x04, 0x00, 0x00} // compound AM824 signature, 48k, no channels
	return append(header, block...)
}

func (f *fakeDeviceTransport) Send(_ context.Context, frame []byte) ([]byte, error) {
	opcode := frame[2]
	switch opcode {
	case 0x02: // PLUG INFO
		if frame[3] == 0x00 {
			// unit: 1 iso-in, 0 iso-out, 0/0 ext
			return []byte{fwavc.StatusImplemented, 0xFF, 0x02, 0x00, 0x01, 0x00, 0x00, 0x00}, nil
		}
		// subunit plug counts
		if f.failSubunitCounts {
			return []byte{fwavc.StatusNotImplemented}, nil
		}
		return []byte{fwavc.StatusImplemented, frame[1], 0x02, 0x01, 0x01, 0x01}, nil
	case 0x31: // SUBUNIT INFO
		if f.failSubunitInfo {
			return []byte{fwavc.StatusRejected}, nil
		}
		return []byte{fwavc.StatusImplemented, 0xFF, 0x31, 0x07, testMusicAddr, 0xFF, 0xFF, 0xFF}, nil
	case 0xBF: // EXTENDED STREAM FORMAT INFO
		if frame[3] == 0xC1 { // supported query: succeed on index 0, reject afterward
			listIndex := frame[len(frame)-1]
			if listIndex > 0 {
				return []byte{fwavc.StatusRejected}, nil
			}
			// supported responses carry one more header byte than current ones
			resp := streamFormatResp()
			return append(resp[:10:10], append([]byte{listIndex}, resp[10:]...)...), nil
		}
		return streamFormatResp(), nil
	case 0x1A: // SIGNAL SOURCE
		return []byte{fwavc.StatusImplemented, 0xFF, 0x1A, 0xFF, 0xFF, 0x60, 0x02, 0x00}, nil
	case 0x09: // READ DESCRIPTOR (music subunit status descriptor)
		if f.failDescriptorRead {
			return []byte{fwavc.StatusRejected}, nil
		}
		payload := []byte{0, 1, 2, 3, 4, 5, 6, 7} // 8 header bytes, no info blocks follow
		out := []byte{fwavc.StatusImplemented, 0x01, 0x09, 0x10, 0x00, byte(len(payload))}
		out = append(out, payload...)
		return out, nil
	default:
		return []byte{fwavc.StatusNotImplemented}, nil
	}
}

func TestDiscoverBuildsFullDeviceModel(t *testing.T) {
	tr := &fakeDeviceTransport{}
	info, err := Discover(context.Background(), tr)
	require.NoError(t, err)
	require.NotNil(t, info)

	assert.Equal(t, 1, info.IsoInCount)
	assert.Equal(t, 0, info.IsoOutCount)
	require.Len(t, info.IsoInPlugs, 1)
	assert.NotNil(t, info.IsoInPlugs[0].CurrentFormat)

	require.NotNil(t, info.Music)
	assert.Equal(t, testMusicAddr, info.Music.Address)
	assert.Len(t, info.Music.DestPlugs, 1)
	assert.Len(t, info.Music.SourcePlugs, 1)
	assert.NotNil(t, info.Music.StatusDescriptorRaw)

	assert.Nil(t, info.Audio, "no Audio subunit was reported by SUBUNIT INFO")
}

func TestDiscoverFailsHardOnlyWhenUnitPlugCountsFail(t *testing.T) {
	tr := &failingUnitCountsTransport{}
	info, err := Discover(context.Background(), tr)
	assert.Error(t, err)
	assert.Nil(t, info)
}

type failingUnitCountsTransport struct{}

func (failingUnitCountsTransport) Send(_ context.Context, _ []byte) ([]byte, error) {
	return []byte{fwavc.StatusRejected}, nil
}

func TestDiscoverToleratesSubunitInfoFailure(t *testing.T) {
	tr := &fakeDeviceTransport{failSubunitInfo: true}
	info, err := Discover(context.Background(), tr)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, 1, info.IsoInCount, "unit-level discovery must survive a subunit discovery failure")
	assert.Nil(t, info.Music)
	assert.Nil(t, info.Audio)
}

func TestDiscoverKeepsMusicSubunitWithNoPlugsWhenCountsFail(t *testing.T) {
	tr := &fakeDeviceTransport{failSubunitCounts: true}
	info, err := Discover(context.Background(), tr)
	require.NoError(t, err)
	require.NotNil(t, info.Music)
	assert.Empty(t, info.Music.DestPlugs)
	assert.Empty(t, info.Music.SourcePlugs)
}

func TestDiscoverToleratesStatusDescriptorReadFailure(t *testing.T) {
	tr := &fakeDeviceTransport{failDescriptorRead: true}
	info, err := Discover(context.Background(), tr)
	require.NoError(t, err)
	require.NotNil(t, info.Music)
	assert.Nil(t, info.Music.StatusDescriptorRaw)
	assert.Nil(t, info.Music.InfoBlocks)
}
