// Package fwavc drives an IEEE-1394 (FireWire) AV/C audio device: discovering
// its topology through the AV/C command protocol (avc.go, descriptor
// accessor, info block parser, topology parser) and operating the receive
// isochronous stream that moves PCM audio from device to host (the isoch
// subpackage).
//
// The OS-specific FireWire driver surface — creating isochronous ports,
// DCL pools, channels — is deliberately not implemented here; it is
// represented by the small interfaces each component accepts (Transport,
// isoch.Port, isoch.HostClock), which a host application backs with its own
// driver bindings.
package fwavc

import (
	"context"
	"sync"
	"time"

	"github.com/kvaudio/fwavc/fwerr"
	"github.com/kvaudio/fwavc/internal/logging"
)

// Command type, the first byte of an outbound AV/C frame (spec.md §6).
const (
	CommandTypeControl         byte = 0x00
	CommandTypeStatus          byte = 0x01
	CommandTypeSpecificInquiry byte = 0x02
	CommandTypeNotify          byte = 0x03
)

// Response status, the first byte of an inbound AV/C frame (spec.md §4.3).
const (
	StatusNotImplemented byte = 0x08
	StatusAccepted       byte = 0x09
	StatusRejected       byte = 0x0A
	StatusImplemented    byte = 0x0C
	StatusInterim        byte = 0x0F
)

// Subunit address constants (spec.md §3).
const (
	SubunitAddressUnit byte = 0xFF
	subunitTypeMusic   byte = 0x0C
	subunitTypeAudio   byte = 0x08
)

// SubunitAddress encodes (subunit_type<<3)|subunit_id, or SubunitAddressUnit
// for the unit itself.
func SubunitAddress(subunitType, id byte) byte {
	return (subunitType << 3) | (id & 0x07)
}

// Transport is C1: the host's AV/C command/response channel to one device.
// send is opaque to the protocol engine; implementations serialize
// concurrent calls internally (spec.md §4.1, §5) and must never be invoked
// from the isoch thread.
type Transport interface {
	Send(ctx context.Context, frame []byte) ([]byte, error)
}

// SerializingTransport wraps an underlying Transport that is not itself
// concurrency-safe, serializing Send calls with a mutex the way spec.md §4.1
// requires ("concurrent calls from multiple threads are serialized
// internally").
type SerializingTransport struct {
	mu   sync.Mutex
	next func(ctx context.Context, frame []byte) ([]byte, error)
}

// NewSerializingTransport wraps send, a possibly non-thread-safe function
// talking to the OS driver, as a Transport.
func NewSerializingTransport(send func(ctx context.Context, frame []byte) ([]byte, error)) *SerializingTransport {
	return &SerializingTransport{next: send}
}

func (t *SerializingTransport) Send(ctx context.Context, frame []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	resp, err := t.next(ctx, frame)
	if err != nil {
		return nil, fwerr.Wrap(fwerr.KindTransportIO, "transport send failed", err)
	}
	return resp, nil
}

// DefaultSendTimeout bounds a single command/response round trip (spec.md
// §5: "up to a timeout of several hundred milliseconds").
const DefaultSendTimeout = 500 * time.Millisecond

var log = logging.For("avc")

// sendWithTimeout wraps t.Send with DefaultSendTimeout if ctx has no
// deadline already.
func sendWithTimeout(ctx context.Context, t Transport, frame []byte) ([]byte, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultSendTimeout)
		defer cancel()
	}
	resp, err := t.Send(ctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fwerr.Wrap(fwerr.KindTransportTimeout, "avc command timed out", err)
		}
		return nil, fwerr.Wrap(fwerr.KindTransportIO, "avc transport error", err)
	}
	return resp, nil
}

// validateStatus maps the first byte of a response frame per spec.md §4.3.
func validateStatus(resp []byte) error {
	if len(resp) == 0 {
		return fwerr.New(fwerr.KindBadResponse, "empty response")
	}
	switch resp[0] {
	case StatusAccepted, StatusImplemented, StatusInterim:
		return nil
	case StatusRejected:
		return fwerr.New(fwerr.KindProtocolRejected, "target rejected command")
	case StatusNotImplemented:
		return fwerr.New(fwerr.KindProtocolUnsupported, "target does not implement command")
	default:
		return fwerr.New(fwerr.KindBadResponse, "unrecognized response status")
	}
}

// writeSubfunctionOK checks the high nibble of a write response's
// subfunction byte (spec.md §4.3): 0,1,3,4 succeed; 2 is target rejection.
func writeSubfunctionOK(subfunctionByte byte) error {
	switch subfunctionByte >> 4 {
	case 0x0, 0x1, 0x3, 0x4:
		return nil
	case 0x2:
		return fwerr.New(fwerr.KindProtocolRejected, "target rejected write")
	default:
		return fwerr.New(fwerr.KindBadResponse, "unrecognized write subfunction result")
	}
}

// PlugCounts is the response payload of a unit-addressed PLUG INFO query
// (spec.md §6, scenario E1).
type PlugCounts struct {
	IsoIn, IsoOut, ExtIn, ExtOut int
}

// QueryUnitPlugCounts issues PLUG INFO (opcode 0x02, subfunction 0x00)
// addressed to the unit (spec.md §4.5 stage 1, §6 E1).
func QueryUnitPlugCounts(ctx context.Context, t Transport) (PlugCounts, error) {
	frame := []byte{CommandTypeStatus, SubunitAddressUnit, 0x02, 0x00, 0xFF, 0xFF, 0xFF, 0xFF}
	resp, err := sendWithTimeout(ctx, t, frame)
	if err != nil {
		return PlugCounts{}, err
	}
	if err := validateStatus(resp); err != nil {
		return PlugCounts{}, err
	}
	if len(resp) < 8 {
		return PlugCounts{}, fwerr.New(fwerr.KindBadResponse, "short PLUG INFO response")
	}
	return PlugCounts{
		IsoIn:  int(resp[4]),
		IsoOut: int(resp[5]),
		ExtIn:  int(resp[6]),
		ExtOut: int(resp[7]),
	}, nil
}

// QuerySubunitPlugCounts issues PLUG INFO subfunction 0x01 addressed to one
// subunit, returning (destPlugCount, sourcePlugCount) per spec.md §4.5
// stage 4. A NOT IMPLEMENTED response is reported via the error so callers
// can mark the subunit as having no accessible plugs without aborting.
func QuerySubunitPlugCounts(ctx context.Context, t Transport, subunitAddr byte) (destCount, srcCount int, err error) {
	frame := []byte{CommandTypeStatus, subunitAddr, 0x02, 0x01, 0xFF, 0xFF, 0xFF, 0xFF}
	resp, sendErr := sendWithTimeout(ctx, t, frame)
	if sendErr != nil {
		return 0, 0, sendErr
	}
	if err := validateStatus(resp); err != nil {
		return 0, 0, err
	}
	if len(resp) < 6 {
		return 0, 0, fwerr.New(fwerr.KindBadResponse, "short subunit PLUG INFO response")
	}
	return int(resp[4]), int(resp[5]), nil
}

// SubunitDescriptor is one entry from SUBUNIT INFO (spec.md §4.5 stage 3).
type SubunitDescriptor struct {
	Type byte
	ID   byte
}

// QuerySubunits issues SUBUNIT INFO (opcode 0x31, page 7) and decodes each
// non-0xFF subunit entry byte (the operands after the page byte) into
// (type, id) per spec.md §4.5 stage 3.
func QuerySubunits(ctx context.Context, t Transport) ([]SubunitDescriptor, error) {
	const page = 7
	frame := []byte{CommandTypeStatus, SubunitAddressUnit, 0x31, page & 0x0F, 0xFF, 0xFF, 0xFF, 0xFF}
	resp, err := sendWithTimeout(ctx, t, frame)
	if err != nil {
		return nil, err
	}
	if err := validateStatus(resp); err != nil {
		return nil, err
	}
	if len(resp) < 4 {
		return nil, fwerr.New(fwerr.KindBadResponse, "short SUBUNIT INFO response")
	}
	var subunits []SubunitDescriptor
	for _, b := range resp[4:] {
		if b == 0xFF {
			continue
		}
		subunits = append(subunits, SubunitDescriptor{Type: b >> 3, ID: b & 0x07})
	}
	return subunits, nil
}

// IsMusicSubunit reports whether d addresses the Music subunit type (0x0C).
func (d SubunitDescriptor) IsMusicSubunit() bool { return d.Type == subunitTypeMusic }

// IsAudioSubunit reports whether d addresses the Audio subunit type (0x08).
func (d SubunitDescriptor) IsAudioSubunit() bool { return d.Type == subunitTypeAudio }

// Address returns the one-byte subunit address for d.
func (d SubunitDescriptor) Address() byte { return SubunitAddress(d.Type, d.ID) }

// SignalSourceConnection is the standard SIGNAL SOURCE response payload
// (spec.md §3, §4.6 step 3).
type SignalSourceConnection struct {
	SourceSubunit byte
	SourcePlug    byte
	Status        byte
}

// QuerySignalSource issues SIGNAL SOURCE status (opcode 0x1A) for one
// destination plug (spec.md §4.6 step 3).
func QuerySignalSource(ctx context.Context, t Transport, destSubunit, destPlug byte) (SignalSourceConnection, error) {
	frame := []byte{CommandTypeStatus, SubunitAddressUnit, 0x1A, 0xFF, 0xFF, destSubunit, destPlug}
	resp, err := sendWithTimeout(ctx, t, frame)
	if err != nil {
		return SignalSourceConnection{}, err
	}
	if err := validateStatus(resp); err != nil {
		return SignalSourceConnection{}, err
	}
	if len(resp) < 7 {
		return SignalSourceConnection{}, fwerr.New(fwerr.KindBadResponse, "short SIGNAL SOURCE response")
	}
	conn := SignalSourceConnection{
		SourceSubunit: resp[5],
		SourcePlug:    resp[6],
	}
	if len(resp) >= 8 {
		conn.Status = resp[7]
	}
	return conn, nil
}

// DestinationPlugConnection is the fallback connection-status result from
// DESTINATION PLUG CONFIGURE status, used when SIGNAL SOURCE is not
// implemented for music-subunit plugs (spec.md §4.6 step 3).
type DestinationPlugConnection struct {
	DestPlugID       byte
	StreamPosition0  byte
	StreamPosition1  byte
}

// Result codes for DESTINATION PLUG CONFIGURE's subcommand-result byte.
const (
	DestPlugResultConnected          byte = 0x00
	DestPlugResultNoConnection       byte = 0x01
	DestPlugResultMusicPlugMissing   byte = 0x03
	DestPlugResultSubunitPlugMissing byte = 0x04
)

// QueryDestinationPlugConfigure issues DESTINATION PLUG CONFIGURE status
// (opcode 0x40) for one music-subunit destination plug. The subcommand
// result byte is returned as-is (offset 6 of the response) so the caller can
// branch on the four documented codes (spec.md §4.6 step 3).
func QueryDestinationPlugConfigure(ctx context.Context, t Transport, musicSubunitAddr, destPlug byte) (result byte, conn DestinationPlugConnection, err error) {
	frame := []byte{CommandTypeStatus, musicSubunitAddr, 0x40, 0xFF, destPlug, 0xFF, 0xFF}
	resp, sendErr := sendWithTimeout(ctx, t, frame)
	if sendErr != nil {
		return 0, DestinationPlugConnection{}, sendErr
	}
	if err := validateStatus(resp); err != nil {
		return 0, DestinationPlugConnection{}, err
	}
	if len(resp) < 7 {
		return 0, DestinationPlugConnection{}, fwerr.New(fwerr.KindBadResponse, "short DESTINATION PLUG CONFIGURE response")
	}
	result = resp[6]
	conn = DestinationPlugConnection{DestPlugID: destPlug}
	if len(resp) >= 9 {
		conn.StreamPosition0 = resp[7]
		conn.StreamPosition1 = resp[8]
	}
	return result, conn, nil
}
