// Package descriptor implements the Descriptor Specifier Codec (C2) and the
// Descriptor Accessor (C3) from spec.md §4.2–§4.3: building and parsing the
// byte sequences that address descriptors, lists, and entries, and driving
// the chunked read/write command sequences against them.
package descriptor

import "github.com/kvaudio/fwavc/fwerr"

// SpecifierType identifies a descriptor specifier by its leading byte
// (spec.md §4.2).
type SpecifierType byte

const (
	TypeUnitSubunit                      SpecifierType = 0x00
	TypeListByID                         SpecifierType = 0x10
	TypeListByType                       SpecifierType = 0x11
	TypeEntryByPosition                  SpecifierType = 0x20
	TypeEntryByObjectIDInListTypeRoot    SpecifierType = 0x21
	TypeEntryByTypeCreate                SpecifierType = 0x22
	TypeEntryByObjectIDGeneral           SpecifierType = 0x23
	TypeEntryByObjectIDInSubunit         SpecifierType = 0x24
	TypeEntryByObjectIDInSubunitListRoot SpecifierType = 0x25
)

// Default field widths substituted when the target's discovered size is 0
// (spec.md §4.2).
const (
	DefaultSizeOfListID        = 2
	DefaultSizeOfObjectID      = 0 // 0 means "unsupported"
	DefaultSizeOfEntryPosition = 2
)

// Sizes are the three dynamic field widths a target advertises during
// discovery; zero fields fall back to the package defaults above.
type Sizes struct {
	ListID        int
	ObjectID      int
	EntryPosition int
}

func effective(discovered, def int) int {
	if discovered == 0 {
		return def
	}
	return discovered
}

func (s Sizes) effectiveListID() int { return effective(s.ListID, DefaultSizeOfListID) }
func (s Sizes) effectiveObjectID() int { return effective(s.ObjectID, DefaultSizeOfObjectID) }
func (s Sizes) effectiveEntryPosition() int { return effective(s.EntryPosition, DefaultSizeOfEntryPosition) }

// Specifier is the decoded or to-be-built content of a descriptor specifier.
// Only the fields relevant to Type are meaningful — mirrors the tagged
// union the original implementation models with std::variant
// (FWA/DescriptorSpecifier.hpp).
type Specifier struct {
	Type SpecifierType

	ListID        uint64
	ListType      byte
	EntryPosition uint64
	RootListID    uint64
	ObjectID      uint64
	EntryType     byte
}

func putMSB(dst []byte, v uint64, width int) {
	for i := 0; i < width; i++ {
		shift := uint((width - 1 - i) * 8)
		dst[i] = byte(v >> shift)
	}
}

func getMSB(src []byte, width int) uint64 {
	var v uint64
	for i := 0; i < width; i++ {
		v = (v << 8) | uint64(src[i])
	}
	return v
}

// Build serializes s into its wire form using sizes for the dynamic field
// widths. It returns an empty slice if a required dynamic size resolves to
// 0 (i.e. "unsupported" — spec.md §4.2's "build returns an empty sequence
// on missing required operand").
func Build(s Specifier, sizes Sizes) []byte {
	switch s.Type {
	case TypeUnitSubunit:
		return []byte{byte(TypeUnitSubunit)}

	case TypeListByID:
		w := sizes.effectiveListID()
		out := make([]byte, 1+w)
		out[0] = byte(TypeListByID)
		putMSB(out[1:], s.ListID, w)
		return out

	case TypeListByType:
		return []byte{byte(TypeListByType), s.ListType}

	case TypeEntryByPosition:
		lw := sizes.effectiveListID()
		pw := sizes.effectiveEntryPosition()
		out := make([]byte, 1+lw+pw)
		out[0] = byte(TypeEntryByPosition)
		putMSB(out[1:1+lw], s.ListID, lw)
		putMSB(out[1+lw:], s.EntryPosition, pw)
		return out

	case TypeEntryByObjectIDInListTypeRoot:
		ow := sizes.effectiveObjectID()
		if ow == 0 {
			return nil
		}
		lw := sizes.effectiveListID()
		out := make([]byte, 1+lw+1+ow)
		out[0] = byte(TypeEntryByObjectIDInListTypeRoot)
		putMSB(out[1:1+lw], s.RootListID, lw)
		out[1+lw] = s.ListType
		putMSB(out[2+lw:], s.ObjectID, ow)
		return out

	case TypeEntryByTypeCreate:
		return []byte{byte(TypeEntryByTypeCreate), s.EntryType}

	case TypeEntryByObjectIDGeneral:
		ow := sizes.effectiveObjectID()
		if ow == 0 {
			return nil
		}
		out := make([]byte, 1+ow)
		out[0] = byte(TypeEntryByObjectIDGeneral)
		putMSB(out[1:], s.ObjectID, ow)
		return out

	case TypeEntryByObjectIDInSubunit, TypeEntryByObjectIDInSubunitListRoot:
		// Size-only support (spec.md §4.2): full content encoding for the
		// subunit-scoped variants is not implemented.
		return nil

	default:
		return nil
	}
}

// ParseResult is the structured output of Parse: the decoded Specifier plus
// how many bytes of the input it consumed, so a caller can advance a
// cursor over a sequence of specifiers (spec.md §4.2).
type ParseResult struct {
	Specifier    Specifier
	ConsumedSize int
}

// Parse decodes one specifier from the front of buf.
func Parse(buf []byte, sizes Sizes) (ParseResult, error) {
	if len(buf) == 0 {
		return ParseResult{}, fwerr.New(fwerr.KindBadArgument, "empty specifier buffer")
	}
	t := SpecifierType(buf[0])
	switch t {
	case TypeUnitSubunit:
		return ParseResult{Specifier{Type: t}, 1}, nil

	case TypeListByID:
		w := sizes.effectiveListID()
		if len(buf) < 1+w {
			return ParseResult{}, fwerr.New(fwerr.KindBadResponse, "truncated list-by-id specifier")
		}
		return ParseResult{Specifier{Type: t, ListID: getMSB(buf[1:], w)}, 1 + w}, nil

	case TypeListByType:
		if len(buf) < 2 {
			return ParseResult{}, fwerr.New(fwerr.KindBadResponse, "truncated list-by-type specifier")
		}
		return ParseResult{Specifier{Type: t, ListType: buf[1]}, 2}, nil

	case TypeEntryByPosition:
		lw := sizes.effectiveListID()
		pw := sizes.effectiveEntryPosition()
		if len(buf) < 1+lw+pw {
			return ParseResult{}, fwerr.New(fwerr.KindBadResponse, "truncated entry-by-position specifier")
		}
		return ParseResult{Specifier{
			Type:          t,
			ListID:        getMSB(buf[1:1+lw], lw),
			EntryPosition: getMSB(buf[1+lw:1+lw+pw], pw),
		}, 1 + lw + pw}, nil

	case TypeEntryByObjectIDInListTypeRoot:
		ow := sizes.effectiveObjectID()
		lw := sizes.effectiveListID()
		if ow == 0 || len(buf) < 1+lw+1+ow {
			return ParseResult{}, fwerr.New(fwerr.KindBadResponse, "truncated/unsupported entry-by-object-id-in-list specifier")
		}
		return ParseResult{Specifier{
			Type:       t,
			RootListID: getMSB(buf[1:1+lw], lw),
			ListType:   buf[1+lw],
			ObjectID:   getMSB(buf[2+lw:2+lw+ow], ow),
		}, 1 + lw + 1 + ow}, nil

	case TypeEntryByTypeCreate:
		if len(buf) < 2 {
			return ParseResult{}, fwerr.New(fwerr.KindBadResponse, "truncated entry-by-type specifier")
		}
		return ParseResult{Specifier{Type: t, EntryType: buf[1]}, 2}, nil

	case TypeEntryByObjectIDGeneral:
		ow := sizes.effectiveObjectID()
		if ow == 0 || len(buf) < 1+ow {
			return ParseResult{}, fwerr.New(fwerr.KindBadResponse, "truncated/unsupported entry-by-object-id specifier")
		}
		return ParseResult{Specifier{Type: t, ObjectID: getMSB(buf[1:1+ow], ow)}, 1 + ow}, nil

	case TypeEntryByObjectIDInSubunit, TypeEntryByObjectIDInSubunitListRoot:
		return ParseResult{}, fwerr.New(fwerr.KindProtocolUnsupported, "subunit-scoped specifier content not implemented")

	default:
		return ParseResult{}, fwerr.New(fwerr.KindBadResponse, "unrecognized specifier type")
	}
}

// ExpectedSize gives the fixed wire size for a specifier type whose layout
// depends only on the type and the dynamic sizes, or 0 for the
// subunit-dependent variants 0x24/0x25 (spec.md §4.2).
func ExpectedSize(t SpecifierType, sizes Sizes) int {
	switch t {
	case TypeUnitSubunit:
		return 1
	case TypeListByID:
		return 1 + sizes.effectiveListID()
	case TypeListByType:
		return 2
	case TypeEntryByPosition:
		return 1 + sizes.effectiveListID() + sizes.effectiveEntryPosition()
	case TypeEntryByObjectIDInListTypeRoot:
		ow := sizes.effectiveObjectID()
		if ow == 0 {
			return 0
		}
		return 1 + sizes.effectiveListID() + 1 + ow
	case TypeEntryByTypeCreate:
		return 2
	case TypeEntryByObjectIDGeneral:
		ow := sizes.effectiveObjectID()
		if ow == 0 {
			return 0
		}
		return 1 + ow
	default:
		return 0
	}
}
