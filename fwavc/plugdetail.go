package fwavc

import (
	"context"
	"errors"

	"github.com/kvaudio/fwavc/fwerr"
)

// EXTENDED STREAM FORMAT INFO opcodes (spec.md §4.6 step 1, §9 open
// question): try the primary opcode first; on NOT IMPLEMENTED, fall back
// to an alternate and remember which one worked for the rest of this
// parser's life — never persisted across sessions.
const (
	opcodeStreamFormatPrimary byte = 0xBF
)

// Either alternate value observed in the field is accepted (spec.md §9:
// "kAVCStreamFormatOpcodeAlternate is 0x2F in most of the source but
// appears elsewhere as 0xFE").
var opcodeStreamFormatAlternates = []byte{0x2F, 0xFE}

const (
	subfunctionStreamFormatCurrent   byte = 0xC0
	subfunctionStreamFormatSupported byte = 0xC1

	maxSupportedFormatIndices = 16
)

// PlugDetailParser is §4.6: queries current/supported stream formats and
// signal-source connections for one plug. One instance is shared across an
// entire topology discovery session so the opcode fallback (below) is
// learned once and reused (spec.md §4.6 step 1, §9).
type PlugDetailParser struct {
	Transport     Transport
	workingOpcode byte // 0 = not yet determined; try primary first
}

// NewPlugDetailParser creates a parser that starts by trying the primary
// opcode 0xBF.
func NewPlugDetailParser(t Transport) *PlugDetailParser {
	return &PlugDetailParser{Transport: t}
}

func (p *PlugDetailParser) candidateOpcodes() []byte {
	if p.workingOpcode != 0 {
		return []byte{p.workingOpcode}
	}
	out := make([]byte, 0, 1+len(opcodeStreamFormatAlternates))
	out = append(out, opcodeStreamFormatPrimary)
	out = append(out, opcodeStreamFormatAlternates...)
	return out
}

func buildStreamFormatFrame(opcode, subunit, subfunction, plugNum byte, listIndex int, forSupported bool) []byte {
	frame := []byte{CommandTypeStatus, subunit, opcode, subfunction, plugNum, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	if forSupported {
		frame = append(frame, byte(listIndex))
	}
	return frame
}

// queryStreamFormat issues the EXTENDED STREAM FORMAT INFO command, trying
// opcodes from candidateOpcodes() in order and latching onto the first one
// that doesn't come back NOT IMPLEMENTED (spec.md §4.6 step 1).
func (p *PlugDetailParser) queryStreamFormat(ctx context.Context, subunit, subfunction, plugNum byte, listIndex int, forSupported bool) ([]byte, error) {
	var lastErr error
	for _, opcode := range p.candidateOpcodes() {
		frame := buildStreamFormatFrame(opcode, subunit, subfunction, plugNum, listIndex, forSupported)
		resp, err := sendWithTimeout(ctx, p.Transport, frame)
		if err != nil {
			return nil, err
		}
		if err := validateStatus(resp); err != nil {
			var fe *fwerr.Error
			if errors.As(err, &fe) && fe.Kind == fwerr.KindProtocolUnsupported {
				lastErr = err
				continue // try next candidate opcode
			}
			return nil, err
		}
		p.workingOpcode = opcode
		return resp, nil
	}
	if lastErr == nil {
		lastErr = fwerr.New(fwerr.KindProtocolUnsupported, "no stream format opcode succeeded")
	}
	return nil, lastErr
}

// GetCurrentStreamFormat implements spec.md §4.6 step 1.
func (p *PlugDetailParser) GetCurrentStreamFormat(ctx context.Context, subunit, plugNum byte) (*AudioStreamFormat, error) {
	resp, err := p.queryStreamFormat(ctx, subunit, subfunctionStreamFormatCurrent, plugNum, 0, false)
	if err != nil {
		return nil, err
	}
	fmtVal, err := ParseStreamFormatResponse(resp, false)
	if err != nil {
		return nil, err
	}
	return &fmtVal, nil
}

// GetSupportedStreamFormats implements spec.md §4.6 step 2.
func (p *PlugDetailParser) GetSupportedStreamFormats(ctx context.Context, subunit, plugNum byte) ([]AudioStreamFormat, error) {
	var formats []AudioStreamFormat
	for idx := 0; idx < maxSupportedFormatIndices; idx++ {
		resp, err := p.queryStreamFormat(ctx, subunit, subfunctionStreamFormatSupported, plugNum, idx, true)
		if err != nil {
			var fe *fwerr.Error
			if errors.As(err, &fe) && (fe.Kind == fwerr.KindProtocolRejected || fe.Kind == fwerr.KindProtocolUnsupported) {
				break
			}
			return formats, err
		}
		fmtVal, err := ParseStreamFormatResponse(resp, true)
		if err != nil {
			break
		}
		formats = append(formats, fmtVal)
	}
	return formats, nil
}

// GetSignalSource implements spec.md §4.6 step 3: SIGNAL SOURCE with a
// DESTINATION PLUG CONFIGURE fallback for music-subunit plugs.
func (p *PlugDetailParser) GetSignalSource(ctx context.Context, destSubunit, destPlug byte, isMusicSubunit bool) (*StandardSourceConnection, *MusicDestinationConnection, error) {
	conn, err := QuerySignalSource(ctx, p.Transport, destSubunit, destPlug)
	if err == nil {
		return &StandardSourceConnection{
			SourceSubunit: conn.SourceSubunit,
			SourcePlug:    conn.SourcePlug,
			Status:        conn.Status,
		}, nil, nil
	}

	var fe *fwerr.Error
	if !errors.As(err, &fe) || fe.Kind != fwerr.KindProtocolUnsupported || !isMusicSubunit {
		return nil, nil, err
	}

	result, dpc, dpcErr := QueryDestinationPlugConfigure(ctx, p.Transport, destSubunit, destPlug)
	if dpcErr != nil {
		return nil, nil, dpcErr
	}
	switch result {
	case DestPlugResultConnected:
		return nil, &MusicDestinationConnection{
			DestPlugID:      dpc.DestPlugID,
			StreamPosition0: dpc.StreamPosition0,
			StreamPosition1: dpc.StreamPosition1,
		}, nil
	case DestPlugResultNoConnection, DestPlugResultMusicPlugMissing, DestPlugResultSubunitPlugMissing:
		return nil, nil, nil // no connection; not an error (spec.md §4.6 step 3)
	default:
		return nil, nil, fwerr.New(fwerr.KindBadResponse, "unrecognized DESTINATION PLUG CONFIGURE result")
	}
}

// DescribePlug runs the full §4.6 sequence for one plug and fills in a
// fresh AudioPlug. Per-step failures are returned as (plug, err) so the
// Topology Parser (spec.md §4.5) can log and keep whatever fields did
// resolve rather than discarding the whole plug.
func (p *PlugDetailParser) DescribePlug(ctx context.Context, subunit, plugNum byte, direction PlugDirection, usage PlugUsage) (AudioPlug, error) {
	plug := AudioPlug{Subunit: subunit, PlugNum: plugNum, Direction: direction, Usage: usage}

	if cur, err := p.GetCurrentStreamFormat(ctx, subunit, plugNum); err == nil {
		plug.CurrentFormat = cur
	} else {
		return plug, err
	}

	if supported, err := p.GetSupportedStreamFormats(ctx, subunit, plugNum); err == nil {
		plug.SupportedFormat = supported
	}

	if direction == DirectionInput {
		std, musicDest, err := p.GetSignalSource(ctx, subunit, plugNum, usage == UsageMusicSubunit)
		if err == nil {
			plug.StandardSource = std
			plug.MusicDest = musicDest
		}
	}

	return plug, nil
}
