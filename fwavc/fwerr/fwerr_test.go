package fwerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesOnKindAlone(t *testing.T) {
	err := Wrap(KindTransportIO, "send failed", errors.New("EPIPE"))
	assert.True(t, errors.Is(err, New(KindTransportIO, "")))
	assert.False(t, errors.Is(err, New(KindBusy, "")))
}

func TestErrorUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(KindBadResponse, "short frame", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestErrorStringIncludesCauseWhenPresent(t *testing.T) {
	cause := errors.New("EPIPE")
	err := Wrap(KindTransportIO, "send failed", cause)
	assert.Contains(t, err.Error(), "send failed")
	assert.Contains(t, err.Error(), "EPIPE")
}

func TestErrorStringWithoutMessageFallsBackToKind(t *testing.T) {
	err := New(KindBusy, "")
	assert.Equal(t, KindBusy.String(), err.Error())
}

func TestSentinelsCompareByKind(t *testing.T) {
	assert.True(t, errors.Is(New(KindNotReady, "device offline"), ErrNotReady))
	assert.True(t, errors.Is(New(KindTransportTimeout, "slow device"), ErrTimeout))
}
