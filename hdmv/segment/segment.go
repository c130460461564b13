/*
NAME
  segment.go

DESCRIPTION
  segment.go decodes the 3-byte HDMV segment header (type, size) and
  implements the sequence-assembly rules of spec §4.5.1: fragmentable
  segment types (ODS, ICS) are reassembled from first/continuation/last
  fragments into one logical payload; non-fragmentable types are treated as
  first+last in one.

AUTHOR
  Saxon Nelson-Milton <saxon@ausocean.org>, The Australian Ocean Laboratory (AusOcean)

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package segment decodes HDMV (PGS/IGS) segment headers and reassembles
// fragmented ODS/ICS sequences, grounded on the container/mts/psi section
// framing idiom (pointer field -> table header -> syntax section)
// generalized to PGS/IGS's simpler type|size|payload segments
// (SPEC_FULL.md, MODULE hdmv/segment).
package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ausocean/bdavcore/bitio"
)

// Type identifies an HDMV segment's role (spec §3.2 glossary).
type Type byte

// Segment types, per the HDMV PGS/IGS wire format.
const (
	TypePDS Type = 0x14
	TypeODS Type = 0x15
	TypePCS Type = 0x16
	TypeWDS Type = 0x17
	TypeICS Type = 0x18
	TypeEND Type = 0x80
)

func (t Type) String() string {
	switch t {
	case TypePDS:
		return "PDS"
	case TypeODS:
		return "ODS"
	case TypePCS:
		return "PCS"
	case TypeWDS:
		return "WDS"
	case TypeICS:
		return "ICS"
	case TypeEND:
		return "END"
	default:
		return fmt.Sprintf("Type(0x%02x)", byte(t))
	}
}

// Fragmentable reports whether t may be split across sequence-start,
// continuation and sequence-last segments (spec §3.2: "ODS and ICS can be
// fragmented across sequence-start/continuation/last segments").
func (t Type) Fragmentable() bool { return t == TypeODS || t == TypeICS }

// Header is the 3-byte segment header copied verbatim into the PES
// reconstruction command (spec §4.5.5: "a single copy-from-source command
// ... including its 3-byte header").
type Header struct {
	Type   Type
	Size   uint16
	Offset int64 // Byte offset of the header's first byte in the source file.
}

// ReadHeader reads one 3-byte segment header from r.
func ReadHeader(r *bitio.Reader) (Header, error) {
	offset := r.TellByte()
	t, err := r.ReadBits(8)
	if err == bitio.ErrShortRead {
		return Header{}, io.EOF
	}
	if err != nil {
		return Header{}, err
	}
	size, err := r.ReadBits(16)
	if err != nil {
		return Header{}, err
	}
	return Header{Type: Type(t), Size: uint16(size), Offset: offset}, nil
}

// FragFlags is the sequence-descriptor bit pair carried in the first byte of
// a fragmentable segment's payload (top two bits: 0x80 last_in_sequence,
// 0x40 first_in_sequence; both set denotes a whole, unfragmented segment).
type FragFlags struct {
	First bool
	Last  bool
}

// ParseFragFlags decodes FragFlags from a fragmentable segment's leading
// payload byte.
func ParseFragFlags(b byte) FragFlags {
	return FragFlags{First: b&0x40 != 0, Last: b&0x80 != 0}
}

// ErrNoPendingSequence is returned for a continuation/last fragment with no
// open sequence (spec §4.5.1: "Missing ... fragments are fatal").
var ErrNoPendingSequence = errors.New("segment: continuation/last fragment with no pending sequence")

// ErrSequenceAlreadyOpen is returned for a first fragment of a type/id pair
// that already has a pending, unfinished sequence.
var ErrSequenceAlreadyOpen = errors.New("segment: first_in_sequence received while a sequence is still open")

// pending accumulates one in-progress fragmented sequence.
type pending struct {
	payload []byte
}

// Assembler reassembles fragmented ODS/ICS sequences keyed by (type, id),
// where id is the object_id (ODS) or a constant (ICS has one composition
// per DS, so its key is always 0) (spec §4.5.1).
type Assembler struct {
	open map[key]*pending
}

type key struct {
	t  Type
	id uint16
}

// NewAssembler constructs an empty Assembler.
func NewAssembler() *Assembler {
	return &Assembler{open: make(map[key]*pending)}
}

// Feed appends one fragment's payload (with FragFlags already stripped by
// the caller, if this segment type carries them) to the sequence identified
// by (t, id). first/last come from ParseFragFlags for fragmentable types, or
// (true, true) for whole segments. Feed returns the assembled payload and
// true once last is reached; otherwise it returns (nil, false).
func (a *Assembler) Feed(t Type, id uint16, first, last bool, body []byte) ([]byte, bool, error) {
	k := key{t, id}
	if first {
		if _, open := a.open[k]; open {
			return nil, false, ErrSequenceAlreadyOpen
		}
		a.open[k] = &pending{payload: append([]byte(nil), body...)}
	} else {
		p, open := a.open[k]
		if !open {
			return nil, false, ErrNoPendingSequence
		}
		p.payload = append(p.payload, body...)
	}
	if !last {
		return nil, false, nil
	}
	p, open := a.open[k]
	if !open {
		return nil, false, ErrNoPendingSequence
	}
	delete(a.open, k)
	return p.payload, true, nil
}

// Pending lists every sequence still open, of any type, as "TYPE id=N"
// strings (used by DS completion checks, spec §4.5.2: "All opened sequences
// must be closed").
func (a *Assembler) Pending() []string {
	var out []string
	for k := range a.open {
		out = append(out, fmt.Sprintf("%s id=%d", k.t, k.id))
	}
	return out
}

// ObjectIDFromHeader reads the first two bytes of an ODS/PDS-style payload
// as a big-endian id, the common convention for object_id/palette_id.
func ObjectIDFromHeader(payload []byte) (uint16, error) {
	if len(payload) < 2 {
		return 0, fmt.Errorf("segment: payload too short for id")
	}
	return binary.BigEndian.Uint16(payload[:2]), nil
}
