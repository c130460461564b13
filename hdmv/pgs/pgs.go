/*
NAME
  pgs.go

DESCRIPTION
  pgs.go decodes the Presentation Graphics segment payloads: PCS
  (presentation composition), WDS (window), PDS (palette), ODS (object) and
  END, as used by the HDMV subtitle timestamp re-derivation of spec §4.5.4.

AUTHOR
  Saxon Nelson-Milton <saxon@ausocean.org>, The Australian Ocean Laboratory (AusOcean)

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package pgs decodes Presentation Graphics Stream segment payloads (spec
// §3.2, §4.5), grounded on the same byte-template decoding idiom as
// container/mts/psi's fixed-layout PAT/PMT bytes, generalized to PGS's
// composition/window/palette/object records (SPEC_FULL.md, MODULE
// hdmv/pgs).
package pgs

import (
	"encoding/binary"
	"fmt"
)

// VideoDescriptor is the 5-byte video format/frame-rate header common to
// PCS and ICS.
type VideoDescriptor struct {
	Width     uint16
	Height    uint16
	FrameRate byte
}

func decodeVideoDescriptor(b []byte) (VideoDescriptor, error) {
	if len(b) < 5 {
		return VideoDescriptor{}, fmt.Errorf("pgs: video descriptor too short")
	}
	return VideoDescriptor{
		Width:     binary.BigEndian.Uint16(b[0:2]),
		Height:    binary.BigEndian.Uint16(b[2:4]),
		FrameRate: b[4],
	}, nil
}

// Composition states a PCS/ICS may declare (spec §4.5.2).
const (
	CompositionNormal          = 0x00
	CompositionAcquisitionPoint = 0x40
	CompositionEpochStart      = 0x80
)

// CompositionObject places one object at (X, Y) in the composition, with an
// optional crop rectangle.
type CompositionObject struct {
	ObjectID  uint16
	WindowID  byte
	Cropped   bool
	X, Y      uint16
	CropX     uint16
	CropY     uint16
	CropW     uint16
	CropH     uint16
}

// PCS is a decoded Presentation Composition Segment.
type PCS struct {
	Video             VideoDescriptor
	CompositionNumber uint16
	CompositionState  byte
	PaletteUpdateFlag bool
	PaletteID         byte
	Objects           []CompositionObject
}

// DecodePCS decodes a PCS payload (the segment's payload bytes, header
// already stripped).
func DecodePCS(b []byte) (*PCS, error) {
	if len(b) < 11 {
		return nil, fmt.Errorf("pgs: PCS payload too short")
	}
	vd, err := decodeVideoDescriptor(b[0:5])
	if err != nil {
		return nil, err
	}
	p := &PCS{
		Video:             vd,
		CompositionNumber: binary.BigEndian.Uint16(b[5:7]),
		CompositionState:  b[7],
		PaletteUpdateFlag: b[8]&0x80 != 0,
		PaletteID:         b[9],
	}
	n := int(b[10])
	off := 11
	for i := 0; i < n; i++ {
		if off+8 > len(b) {
			return nil, fmt.Errorf("pgs: PCS composition object %d truncated", i)
		}
		obj := CompositionObject{
			ObjectID: binary.BigEndian.Uint16(b[off : off+2]),
			WindowID: b[off+2],
			Cropped:  b[off+3]&0x80 != 0,
			X:        binary.BigEndian.Uint16(b[off+4 : off+6]),
			Y:        binary.BigEndian.Uint16(b[off+6 : off+8]),
		}
		off += 8
		if obj.Cropped {
			if off+8 > len(b) {
				return nil, fmt.Errorf("pgs: PCS crop rectangle %d truncated", i)
			}
			obj.CropX = binary.BigEndian.Uint16(b[off : off+2])
			obj.CropY = binary.BigEndian.Uint16(b[off+2 : off+4])
			obj.CropW = binary.BigEndian.Uint16(b[off+4 : off+6])
			obj.CropH = binary.BigEndian.Uint16(b[off+6 : off+8])
			off += 8
		}
		p.Objects = append(p.Objects, obj)
	}
	return p, nil
}

// Window is one rectangular drawing region declared by a WDS.
type Window struct {
	ID            byte
	X, Y          uint16
	Width, Height uint16
}

// WDS is a decoded Window Definition Segment.
type WDS struct {
	Windows []Window
}

// DecodeWDS decodes a WDS payload.
func DecodeWDS(b []byte) (*WDS, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("pgs: WDS payload too short")
	}
	n := int(b[0])
	w := &WDS{}
	off := 1
	for i := 0; i < n; i++ {
		if off+9 > len(b) {
			return nil, fmt.Errorf("pgs: WDS window %d truncated", i)
		}
		w.Windows = append(w.Windows, Window{
			ID:     b[off],
			X:      binary.BigEndian.Uint16(b[off+1 : off+3]),
			Y:      binary.BigEndian.Uint16(b[off+3 : off+5]),
			Width:  binary.BigEndian.Uint16(b[off+5 : off+7]),
			Height: binary.BigEndian.Uint16(b[off+7 : off+9]),
		})
		off += 9
	}
	return w, nil
}

// PaletteEntry is one Y/Cr/Cb/alpha palette entry.
type PaletteEntry struct {
	ID           byte
	Y, Cr, Cb, A byte
}

// PDS is a decoded Palette Definition Segment.
type PDS struct {
	PaletteID      byte
	PaletteVersion byte
	Entries        []PaletteEntry
}

// DecodePDS decodes a PDS payload; shared verbatim by the igs package, since
// PDS is identical between PGS and IGS.
func DecodePDS(b []byte) (*PDS, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("pgs: PDS payload too short")
	}
	p := &PDS{PaletteID: b[0], PaletteVersion: b[1]}
	for off := 2; off+5 <= len(b); off += 5 {
		p.Entries = append(p.Entries, PaletteEntry{
			ID: b[off], Y: b[off+1], Cr: b[off+2], Cb: b[off+3], A: b[off+4],
		})
	}
	return p, nil
}

// ODS is a decoded (and, where fragmented, fully reassembled) Object
// Definition Segment.
type ODS struct {
	ObjectID      uint16
	ObjectVersion byte
	Width, Height uint16
	Data          []byte // RLE-coded bitmap data, opaque to this module.
}

// DecodeODS decodes a reassembled ODS payload. The caller is responsible for
// stripping the leading last_in_sequence/first_in_sequence flag byte and
// reassembling fragments via segment.Assembler before calling this; Width
// and Height are only present in the first fragment, which is why
// reassembly must happen first.
func DecodeODS(b []byte) (*ODS, error) {
	if len(b) < 7 {
		return nil, fmt.Errorf("pgs: ODS payload too short")
	}
	return &ODS{
		ObjectID:      binary.BigEndian.Uint16(b[0:2]),
		ObjectVersion: b[2],
		Width:         binary.BigEndian.Uint16(b[3:5]),
		Height:        binary.BigEndian.Uint16(b[5:7]),
		Data:          b[7:],
	}, nil
}

// PixelCount returns the object's decoded-bitmap area, used by the
// OD_DECODE_DURATION/ODS-decode-duration formulas of spec §4.5.4.
func (o *ODS) PixelCount() uint64 { return uint64(o.Width) * uint64(o.Height) }

// Area returns a window's pixel area, used by the window-transfer-duration
// formula of spec §4.5.4.
func (w Window) Area() uint64 { return uint64(w.Width) * uint64(w.Height) }
