package fwavc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvaudio/fwavc/fwerr"
)

type fakeTransport struct {
	fn func(frame []byte) ([]byte, error)
}

func (f fakeTransport) Send(_ context.Context, frame []byte) ([]byte, error) {
	return f.fn(frame)
}

func TestSubunitAddressPacksTypeAndID(t *testing.T) {
	assert.Equal(t, byte(0x60), SubunitAddress(0x0C, 0x00)) // music subunit 0
	assert.Equal(t, byte(0x09), SubunitAddress(0x01, 0x01))
}

func TestQueryUnitPlugCountsParsesE1Scenario(t *testing.T) {
	// E1: unit PLUG INFO response 0C FF 02 00 01 01 02 02 gives 1 iso-in,
	// 1 iso-out, 2 ext-in, 2 ext-out.
	resp := []byte{StatusImplemented, SubunitAddressUnit, 0x02, 0x00, 0x01, 0x01, 0x02, 0x02}
	tr := fakeTransport{fn: func(frame []byte) ([]byte, error) { return resp, nil }}

	counts, err := QueryUnitPlugCounts(context.Background(), tr)
	require.NoError(t, err)
	assert.Equal(t, PlugCounts{IsoIn: 1, IsoOut: 1, ExtIn: 2, ExtOut: 2}, counts)
}

func TestQueryUnitPlugCountsRejectsShortResponse(t *testing.T) {
	tr := fakeTransport{fn: func(frame []byte) ([]byte, error) { return []byte{StatusImplemented}, nil }}
	_, err := QueryUnitPlugCounts(context.Background(), tr)
	assert.Error(t, err)
}

func TestQuerySubunitsSkipsUnusedFFEntries(t *testing.T) {
	resp := []byte{StatusImplemented, SubunitAddressUnit, 0x31, 0x07, SubunitAddress(0x0C, 0), 0xFF, 0xFF, SubunitAddress(0x08, 0)}
	tr := fakeTransport{fn: func(frame []byte) ([]byte, error) { return resp, nil }}

	subunits, err := QuerySubunits(context.Background(), tr)
	require.NoError(t, err)
	require.Len(t, subunits, 2)
	assert.True(t, subunits[0].IsMusicSubunit())
	assert.True(t, subunits[1].IsAudioSubunit())
}

func TestQuerySignalSourceParsesConnection(t *testing.T) {
	resp := []byte{StatusImplemented, 0xFF, 0x1A, 0xFF, 0xFF, 0x60, 0x02, 0x00}
	tr := fakeTransport{fn: func(frame []byte) ([]byte, error) { return resp, nil }}
	conn, err := QuerySignalSource(context.Background(), tr, 0x60, 0x00)
	require.NoError(t, err)
	assert.Equal(t, SignalSourceConnection{SourceSubunit: 0x60, SourcePlug: 0x02, Status: 0x00}, conn)
}

func TestQueryDestinationPlugConfigureReturnsResultCode(t *testing.T) {
	resp := []byte{StatusImplemented, 0x60, 0x40, 0xFF, 0x00, 0xFF, DestPlugResultConnected, 0x01, 0x02}
	tr := fakeTransport{fn: func(frame []byte) ([]byte, error) { return resp, nil }}
	result, conn, err := QueryDestinationPlugConfigure(context.Background(), tr, 0x60, 0x00)
	require.NoError(t, err)
	assert.Equal(t, DestPlugResultConnected, result)
	assert.Equal(t, byte(0x01), conn.StreamPosition0)
	assert.Equal(t, byte(0x02), conn.StreamPosition1)
}

func TestValidateStatusRejectedMapsToProtocolRejectedKind(t *testing.T) {
	tr := fakeTransport{fn: func(frame []byte) ([]byte, error) { return []byte{StatusRejected}, nil }}
	_, err := QueryUnitPlugCounts(context.Background(), tr)
	assert.ErrorIs(t, err, fwerr.ErrProtocolRejected)
}

func TestSerializingTransportSerializesConcurrentSends(t *testing.T) {
	calls := 0
	inner := func(_ context.Context, frame []byte) ([]byte, error) {
		calls++
		return []byte{StatusAccepted}, nil
	}
	st := NewSerializingTransport(inner)

	done := make(chan struct{}, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, _ = st.Send(context.Background(), []byte{0x00})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Equal(t, 8, calls)
}

