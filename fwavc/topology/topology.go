// Package topology implements the Topology Parser (C5, spec.md §4.5): five
// ordered discovery stages that build a *fwavc.DeviceInfo from a live
// Transport, each isolated so one stage's partial failure still lets later
// stages run and leaves whatever was discovered in place.
package topology

import (
	"context"

	"github.com/kvaudio/fwavc"
	"github.com/kvaudio/fwavc/descriptor"
	"github.com/kvaudio/fwavc/infoblock"
	"github.com/kvaudio/fwavc/internal/logging"
)

var log = logging.For("topology")

// Discover runs all five stages of spec.md §4.5 against t and returns the
// resulting device model. It does not fail on a single plug or subunit's
// query error — those are logged and the corresponding field is left at its
// zero value, per spec.md §4.5's "partial failure yields a partial model".
func Discover(ctx context.Context, t fwavc.Transport) (*fwavc.DeviceInfo, error) {
	parser := fwavc.NewPlugDetailParser(t)
	info := &fwavc.DeviceInfo{}

	// Stage 1: unit plug counts.
	counts, err := fwavc.QueryUnitPlugCounts(ctx, t)
	if err != nil {
		return nil, err // no plug counts means there is nothing else to discover
	}
	info.IsoInCount, info.IsoOutCount = counts.IsoIn, counts.IsoOut
	info.ExtInCount, info.ExtOutCount = counts.ExtIn, counts.ExtOut

	// Stage 2: unit plugs (iso-in/out, then external-in/out).
	info.IsoInPlugs = describeUnitPlugs(ctx, parser, counts.IsoIn, fwavc.DirectionInput, fwavc.UsageIsochronous)
	info.IsoOutPlugs = describeUnitPlugs(ctx, parser, counts.IsoOut, fwavc.DirectionOutput, fwavc.UsageIsochronous)
	info.ExtInPlugs = describeUnitPlugs(ctx, parser, counts.ExtIn, fwavc.DirectionInput, fwavc.UsageExternal)
	info.ExtOutPlugs = describeUnitPlugs(ctx, parser, counts.ExtOut, fwavc.DirectionOutput, fwavc.UsageExternal)

	// Stage 3: discover subunits; remember the first Music and first Audio
	// instance (spec.md §4.5 stage 3).
	subunits, err := fwavc.QuerySubunits(ctx, t)
	if err != nil {
		log.Warn("SUBUNIT INFO failed, no subunits discovered", "err", err)
		return info, nil
	}
	var musicSubunit, audioSubunit *fwavc.SubunitDescriptor
	for i := range subunits {
		s := subunits[i]
		if s.IsMusicSubunit() && musicSubunit == nil {
			musicSubunit = &s
		}
		if s.IsAudioSubunit() && audioSubunit == nil {
			audioSubunit = &s
		}
	}

	// Stage 4: per-subunit plug discovery.
	if musicSubunit != nil {
		info.Music = discoverMusicSubunit(ctx, t, parser, musicSubunit.Address())
	}
	if audioSubunit != nil {
		info.Audio = discoverAudioSubunit(ctx, parser, audioSubunit.Address())
	}

	return info, nil
}

func describeUnitPlugs(ctx context.Context, parser *fwavc.PlugDetailParser, count int, direction fwavc.PlugDirection, usage fwavc.PlugUsage) []fwavc.AudioPlug {
	plugs := make([]fwavc.AudioPlug, 0, count)
	for plugNum := 0; plugNum < count; plugNum++ {
		plug, err := parser.DescribePlug(ctx, fwavc.SubunitAddressUnit, byte(plugNum), direction, usage)
		if err != nil {
			log.Warn("plug detail query failed, keeping partial plug", "plug", plugNum, "err", err)
		}
		plugs = append(plugs, plug)
	}
	return plugs
}

// discoverMusicSubunit runs stage 4 and stage 5 for the Music subunit.
func discoverMusicSubunit(ctx context.Context, t fwavc.Transport, parser *fwavc.PlugDetailParser, addr byte) *fwavc.MusicSubunit {
	m := &fwavc.MusicSubunit{Address: addr}

	destCount, srcCount, err := fwavc.QuerySubunitPlugCounts(ctx, t, addr)
	if err != nil {
		log.Warn("music subunit has no accessible plugs", "err", err)
		return m // subunit stays in the model with no plugs (spec.md §4.5)
	}
	m.DestPlugs = describeSubunitPlugs(ctx, parser, addr, destCount, fwavc.DirectionInput, fwavc.UsageMusicSubunit)
	m.SourcePlugs = describeSubunitPlugs(ctx, parser, addr, srcCount, fwavc.DirectionOutput, fwavc.UsageMusicSubunit)

	// Stage 5: identifier/status descriptor, handed to the info block parser.
	acc := descriptor.NewAccessor(transportAdapter{t})
	spec := descriptor.Build(descriptor.Specifier{Type: descriptor.TypeUnitSubunit}, descriptor.Sizes{})
	raw, err := acc.Read(ctx, addr, spec, 0, 0)
	if err != nil {
		log.Warn("music subunit status descriptor read failed", "err", err)
		return m
	}
	m.StatusDescriptorRaw = raw
	m.InfoBlocks = parseStatusDescriptorInfoBlocks(raw)
	return m
}

func discoverAudioSubunit(ctx context.Context, parser *fwavc.PlugDetailParser, addr byte) *fwavc.AudioSubunit {
	a := &fwavc.AudioSubunit{Address: addr}
	destCount, srcCount, err := fwavc.QuerySubunitPlugCounts(ctx, parser.Transport, addr)
	if err != nil {
		log.Warn("audio subunit has no accessible plugs", "err", err)
		return a
	}
	a.DestPlugs = describeSubunitPlugs(ctx, parser, addr, destCount, fwavc.DirectionInput, fwavc.UsageAudioSubunit)
	a.SourcePlugs = describeSubunitPlugs(ctx, parser, addr, srcCount, fwavc.DirectionOutput, fwavc.UsageAudioSubunit)
	return a
}

func describeSubunitPlugs(ctx context.Context, parser *fwavc.PlugDetailParser, addr byte, count int, direction fwavc.PlugDirection, usage fwavc.PlugUsage) []fwavc.AudioPlug {
	plugs := make([]fwavc.AudioPlug, 0, count)
	for plugNum := 0; plugNum < count; plugNum++ {
		plug, err := parser.DescribePlug(ctx, addr, byte(plugNum), direction, usage)
		if err != nil {
			log.Warn("subunit plug detail query failed, keeping partial plug", "subunit", addr, "plug", plugNum, "err", err)
		}
		plugs = append(plugs, plug)
	}
	return plugs
}

// parseStatusDescriptorInfoBlocks hands the status descriptor body to the
// info block parser. The descriptor's own length header and the actually
// received byte count sometimes disagree (spec.md §9 open question); the
// received bytes are authoritative: the descriptor's length header is never
// consulted, and everything after the fixed 8-byte prefix is parsed as a
// run of top-level info blocks, stepping by each block's own
// compound_length until a block would run past the received bytes.
func parseStatusDescriptorInfoBlocks(raw []byte) []*infoblock.Block {
	const statusDescriptorHeaderSize = 8 // generation_id, size, list_id(2), root_object_id... (device-specific prefix)
	if len(raw) <= statusDescriptorHeaderSize {
		return nil
	}
	body := raw[statusDescriptorHeaderSize:]
	var blocks []*infoblock.Block
	pos := 0
	for pos+6 <= len(body) {
		b := infoblock.Parse(body[pos:])
		blocks = append(blocks, b)
		advance := int(b.CompoundLength) + 2
		if advance <= 0 || pos+advance > len(body) {
			break
		}
		pos += advance
	}
	return blocks
}

// transportAdapter lets a fwavc.Transport satisfy descriptor.Transport
// without fwavc and descriptor importing each other.
type transportAdapter struct {
	t fwavc.Transport
}

func (a transportAdapter) Send(ctx context.Context, frame []byte) ([]byte, error) {
	return a.t.Send(ctx, frame)
}
