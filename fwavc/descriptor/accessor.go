package descriptor

import (
	"context"
	"encoding/binary"

	"github.com/kvaudio/fwavc/fwerr"
)

// Transport is the narrow AV/C command/response interface the accessor
// needs; fwavc.Transport and fwavc.SerializingTransport satisfy it.
type Transport interface {
	Send(ctx context.Context, frame []byte) ([]byte, error)
}

const (
	opOpenDescriptor   byte = 0x08
	opReadDescriptor   byte = 0x09
	opWriteDescriptor  byte = 0x0A
	opCreateDescriptor byte = 0x0C
	opReadInfoBlock    byte = 0x06
	opWriteInfoBlock   byte = 0x07

	subOpenRead  byte = 0x01
	subOpenWrite byte = 0x03
	subClose     byte = 0x00

	subDelete              byte = 0x40
	subWritePartialReplace byte = 0x50

	// read_result_status values (spec.md §4.3).
	readResultComplete        byte = 0x10
	readResultMoreAvailable   byte = 0x11
	readResultRequestTooLarge byte = 0x12

	maxChunkSize = 256
	maxReadIters = 1024
)

func validateStatus(resp []byte) error {
	if len(resp) == 0 {
		return fwerr.New(fwerr.KindBadResponse, "empty response")
	}
	switch resp[0] {
	case 0x09, 0x0C, 0x0F: // ACCEPTED, IMPLEMENTED, INTERIM
		return nil
	case 0x0A: // REJECTED
		return fwerr.New(fwerr.KindProtocolRejected, "target rejected command")
	case 0x08: // NOT IMPLEMENTED
		return fwerr.New(fwerr.KindProtocolUnsupported, "target does not implement command")
	default:
		return fwerr.New(fwerr.KindBadResponse, "unrecognized response status")
	}
}

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

// Accessor is the Descriptor Accessor (C3): builds AV/C frames, dispatches
// via Transport, and validates responses for descriptor and info-block
// open/read/write/create/delete operations (spec.md §4.3).
type Accessor struct {
	Transport Transport
}

func NewAccessor(t Transport) *Accessor { return &Accessor{Transport: t} }

const cmdControl byte = 0x00
const cmdStatus byte = 0x01

func (a *Accessor) openClose(ctx context.Context, target byte, specifier []byte, subfunction byte) error {
	frame := make([]byte, 0, 4+len(specifier))
	frame = append(frame, cmdControl, target, opOpenDescriptor, subfunction)
	frame = append(frame, specifier...)
	resp, err := a.Transport.Send(ctx, frame)
	if err != nil {
		return fwerr.Wrap(fwerr.KindTransportIO, "open/close descriptor send failed", err)
	}
	return validateStatus(resp)
}

func (a *Accessor) OpenForRead(ctx context.Context, target byte, specifier []byte) error {
	return a.openClose(ctx, target, specifier, subOpenRead)
}

func (a *Accessor) OpenForWrite(ctx context.Context, target byte, specifier []byte) error {
	return a.openClose(ctx, target, specifier, subOpenWrite)
}

func (a *Accessor) Close(ctx context.Context, target byte, specifier []byte) error {
	return a.openClose(ctx, target, specifier, subClose)
}

// readResponse is the decoded shape of a READ DESCRIPTOR / READ INFO BLOCK
// response: a read_result_status byte, a 16-bit payload length, and the
// payload itself.
type readResponse struct {
	status  byte
	payload []byte
}

func parseReadResponse(resp []byte) (readResponse, error) {
	if err := validateStatus(resp); err != nil {
		return readResponse{}, err
	}
	// [status][opcode][subfunction-or-zero][read_result_status][len_hi][len_lo][data...]
	if len(resp) < 6 {
		return readResponse{}, fwerr.New(fwerr.KindBadResponse, "short read response")
	}
	status := resp[3]
	declaredLen := int(binary.BigEndian.Uint16(resp[4:6]))
	data := resp[6:]
	if declaredLen < len(data) {
		data = data[:declaredLen]
	}
	return readResponse{status: status, payload: data}, nil
}

func buildReadFrame(opcode, target byte, specifier []byte, chunkSize uint16, offset uint32) []byte {
	frame := make([]byte, 0, 4+len(specifier)+6)
	frame = append(frame, cmdStatus, target, opcode)
	frame = append(frame, specifier...)
	var szBuf [2]byte
	binary.BigEndian.PutUint16(szBuf[:], chunkSize)
	frame = append(frame, szBuf[:]...)
	var offBuf [4]byte
	binary.BigEndian.PutUint32(offBuf[:], offset)
	frame = append(frame, offBuf[:]...)
	return frame
}

// chunkedRead drives the chunked read loop common to descriptor reads and
// info-block reads (spec.md §4.3). length==0 means "read until the target
// says complete".
func chunkedRead(ctx context.Context, t Transport, opcode, target byte, specifier []byte, offset uint32, length int) ([]byte, error) {
	var accumulator []byte
	curOffset := offset
	remaining := length

	for iter := 0; iter < maxReadIters; iter++ {
		chunk := maxChunkSize
		if length > 0 && remaining < chunk {
			chunk = remaining
		}
		frame := buildReadFrame(opcode, target, specifier, uint16(chunk), curOffset)
		resp, err := t.Send(ctx, frame)
		if err != nil {
			return nil, fwerr.Wrap(fwerr.KindTransportIO, "chunked read send failed", err)
		}
		parsed, err := parseReadResponse(resp)
		if err != nil {
			return nil, err
		}

		appended := len(parsed.payload)
		accumulator = append(accumulator, parsed.payload...)
		curOffset += uint32(appended)
		if length > 0 {
			remaining -= appended
		}

		if parsed.status == readResultComplete || parsed.status == readResultRequestTooLarge {
			break
		}
		if parsed.status == readResultMoreAvailable {
			if appended == 0 {
				// Avoid livelock against a target that always claims
				// "more data" with nothing actually returned.
				break
			}
			continue
		}
		return nil, fwerr.New(fwerr.KindBadResponse, "unrecognized read_result_status")
	}

	if length > 0 && len(accumulator) > length {
		accumulator = accumulator[:length]
	}

	// Fallback for targets that misreport residual length (spec.md §4.3,
	// §9 open question): if the first chunk's self-describing length field
	// (its own first two bytes) exceeds what the status loop accumulated,
	// discard and re-read using only that self-described length.
	if len(accumulator) >= 2 {
		selfDescribed := int(binary.BigEndian.Uint16(accumulator[:2]))
		if selfDescribed > len(accumulator) {
			return rereadWithSelfDescribedLength(ctx, t, opcode, target, specifier, selfDescribed)
		}
	}

	return accumulator, nil
}

func rereadWithSelfDescribedLength(ctx context.Context, t Transport, opcode, target byte, specifier []byte, selfDescribedLen int) ([]byte, error) {
	out := make([]byte, 0, selfDescribedLen)
	curOffset := uint32(0)
	for iter := 0; iter < maxReadIters && len(out) < selfDescribedLen; iter++ {
		remaining := selfDescribedLen - len(out)
		chunk := maxChunkSize
		if remaining < chunk {
			chunk = remaining
		}
		frame := buildReadFrame(opcode, target, specifier, uint16(chunk), curOffset)
		resp, err := t.Send(ctx, frame)
		if err != nil {
			return nil, fwerr.Wrap(fwerr.KindTransportIO, "fallback reread send failed", err)
		}
		parsed, err := parseReadResponse(resp)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed.payload...)
		curOffset += uint32(len(parsed.payload))
		if len(parsed.payload) == 0 {
			break
		}
	}
	if len(out) > selfDescribedLen {
		out = out[:selfDescribedLen]
	}
	return out, nil
}

// Read implements READ DESCRIPTOR (opcode 0x09): reads length bytes
// (0 = until the target signals completion) starting at offset.
func (a *Accessor) Read(ctx context.Context, target byte, specifier []byte, offset uint32, length int) ([]byte, error) {
	return chunkedRead(ctx, a.Transport, opReadDescriptor, target, specifier, offset, length)
}

// ReadInfoBlock implements READ INFO BLOCK (opcode 0x06).
func (a *Accessor) ReadInfoBlock(ctx context.Context, target byte, path []byte, offset uint32, length int) ([]byte, error) {
	return chunkedRead(ctx, a.Transport, opReadInfoBlock, target, path, offset, length)
}

// CreateResult is the operand data of a successful CREATE DESCRIPTOR
// response (spec.md §4.3): the new entry's list id and/or position, when
// the target assigns one.
type CreateResult struct {
	ListID        *uint64
	EntryPosition *uint64
}

// Create implements CREATE DESCRIPTOR (opcode 0x0C).
func (a *Accessor) Create(ctx context.Context, target byte, subfunction byte, specifierWhere, specifierWhat []byte) (CreateResult, error) {
	frame := make([]byte, 0, 4+len(specifierWhere)+len(specifierWhat))
	frame = append(frame, cmdControl, target, opCreateDescriptor, subfunction)
	frame = append(frame, specifierWhere...)
	frame = append(frame, specifierWhat...)
	resp, err := a.Transport.Send(ctx, frame)
	if err != nil {
		return CreateResult{}, fwerr.Wrap(fwerr.KindTransportIO, "create descriptor send failed", err)
	}
	if err := validateStatus(resp); err != nil {
		return CreateResult{}, err
	}
	// Operand layout after the fixed header is target-defined; a minimal
	// 8-byte list id + 2-byte entry position tail is accepted if present.
	var result CreateResult
	if len(resp) >= 4+8 {
		id := binary.BigEndian.Uint64(resp[4:12])
		result.ListID = &id
	}
	if len(resp) >= 4+8+2 {
		pos := uint64(binary.BigEndian.Uint16(resp[12:14]))
		result.EntryPosition = &pos
	}
	return result, nil
}

// Delete implements WRITE DESCRIPTOR subfunction 0x40.
func (a *Accessor) Delete(ctx context.Context, target byte, specifier []byte, groupTag byte) error {
	frame := make([]byte, 0, 5+len(specifier))
	frame = append(frame, cmdControl, target, opWriteDescriptor, subDelete, groupTag)
	frame = append(frame, specifier...)
	resp, err := a.Transport.Send(ctx, frame)
	if err != nil {
		return fwerr.Wrap(fwerr.KindTransportIO, "delete descriptor send failed", err)
	}
	if err := validateStatus(resp); err != nil {
		return err
	}
	if len(resp) < 4 {
		return fwerr.New(fwerr.KindBadResponse, "short delete response")
	}
	return writeSubfunctionOK(resp[3])
}

func buildWriteFrame(opcode, target, subfunction, groupTag byte, specifier []byte, offset uint32, originalLength int, replacement []byte) []byte {
	frame := make([]byte, 0, 5+len(specifier)+4+2+len(replacement))
	frame = append(frame, cmdControl, target, opcode, subfunction, groupTag)
	frame = append(frame, specifier...)
	var offBuf [4]byte
	binary.BigEndian.PutUint32(offBuf[:], offset)
	frame = append(frame, offBuf[:]...)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(originalLength))
	frame = append(frame, lenBuf[:]...)
	frame = append(frame, replacement...)
	return frame
}

// WritePartialReplace implements WRITE DESCRIPTOR subfunction 0x50.
func (a *Accessor) WritePartialReplace(ctx context.Context, target byte, specifier []byte, offset uint32, originalLength int, replacement []byte, groupTag byte) error {
	frame := buildWriteFrame(opWriteDescriptor, target, subWritePartialReplace, groupTag, specifier, offset, originalLength, replacement)
	resp, err := a.Transport.Send(ctx, frame)
	if err != nil {
		return fwerr.Wrap(fwerr.KindTransportIO, "write partial replace send failed", err)
	}
	if err := validateStatus(resp); err != nil {
		return err
	}
	if len(resp) < 4 {
		return fwerr.New(fwerr.KindBadResponse, "short write response")
	}
	return writeSubfunctionOK(resp[3])
}

// WriteInfoBlock implements WRITE INFO BLOCK (opcode 0x07, subfunction 0x50).
func (a *Accessor) WriteInfoBlock(ctx context.Context, target byte, path []byte, offset uint32, originalLength int, replacement []byte, groupTag byte) error {
	frame := buildWriteFrame(opWriteInfoBlock, target, subWritePartialReplace, groupTag, path, offset, originalLength, replacement)
	resp, err := a.Transport.Send(ctx, frame)
	if err != nil {
		return fwerr.Wrap(fwerr.KindTransportIO, "write info block send failed", err)
	}
	if err := validateStatus(resp); err != nil {
		return err
	}
	if len(resp) < 4 {
		return fwerr.New(fwerr.KindBadResponse, "short write response")
	}
	return writeSubfunctionOK(resp[3])
}
