/*
NAME
  igs.go

DESCRIPTION
  igs.go decodes the Interactive Graphics (menu) composition segment, and
  re-exports the PDS/ODS/END decoders from the pgs package, which are
  byte-for-byte identical between the two HDMV graphics families.

AUTHOR
  Saxon Nelson-Milton <saxon@ausocean.org>, The Australian Ocean Laboratory (AusOcean)

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package igs decodes Interactive Graphics Stream composition segments
// (spec §3.2, §4.5), reusing pgs's PDS/ODS decoders where the wire formats
// coincide (SPEC_FULL.md, MODULE hdmv/igs).
package igs

import (
	"encoding/binary"
	"fmt"

	"github.com/ausocean/bdavcore/hdmv/pgs"
)

// PDS, ODS, PaletteEntry and the video descriptor are identical to PGS.
type (
	PDS             = pgs.PDS
	ODS             = pgs.ODS
	PaletteEntry    = pgs.PaletteEntry
	VideoDescriptor = pgs.VideoDescriptor
)

// DecodePDS and DecodeODS are the shared PGS/IGS decoders.
var (
	DecodePDS = pgs.DecodePDS
	DecodeODS = pgs.DecodeODS
)

// EffectWindow is one window drawn during a page's in/out effect, or as a
// button's state image; it shares PGS's window rectangle shape.
type EffectWindow struct {
	X, Y          uint16
	Width, Height uint16
}

// Area returns the window's pixel area (spec §4.5.4 in-effect-window-area
// transfer-duration formula).
func (w EffectWindow) Area() uint64 { return uint64(w.Width) * uint64(w.Height) }

// Effect is one composition applied over a sequence of windows, used for a
// page's in_effects/out_effects.
type Effect struct {
	Windows []EffectWindow
}

// Button is one interactive button of a page; ObjectWidth/ObjectHeight give
// its normal-state image's area, which the default button's initial area
// transfer-duration formula of spec §4.5.4 needs.
type Button struct {
	ButtonID      uint16
	ObjectWidth   uint16
	ObjectHeight  uint16
	IsDefault     bool
}

// Page is one interactive-composition page.
type Page struct {
	PageID      byte
	PageVersion byte
	InEffects   []Effect
	OutEffects  []Effect
	Buttons     []Button
}

// DefaultButton returns the page's default-selected button, if any.
func (p Page) DefaultButton() (Button, bool) {
	for _, b := range p.Buttons {
		if b.IsDefault {
			return b, true
		}
	}
	return Button{}, false
}

// InEffectArea sums the pixel area of every window drawn by the page's
// in-effect, the quantity ICTransferDurationIGS compares against the
// default button's object area (spec §4.5.4).
func (p Page) InEffectArea() uint64 {
	var total uint64
	for _, e := range p.InEffects {
		for _, w := range e.Windows {
			total += w.Area()
		}
	}
	return total
}

// ICS is a decoded (and, where fragmented, fully reassembled) Interactive
// Composition Segment. This captures the fields the timestamp re-derivation
// algebra of spec §4.5.4 needs (video format, composition state/number, and
// per-page effect/button geometry); unparsed bytes after the last page are
// opaque UO-mask and button-state-table data not otherwise needed here.
type ICS struct {
	Video                 VideoDescriptor
	CompositionNumber     uint16
	CompositionState      byte
	StreamModel           byte
	UITimeout             uint32
	Pages                 []Page
}

// FirstPageInEffectArea returns the first page's in-effect window area, or
// zero if no pages were decoded yet (spec §4.5.4).
func (ics *ICS) FirstPageInEffectArea() uint64 {
	if len(ics.Pages) == 0 {
		return 0
	}
	return ics.Pages[0].InEffectArea()
}

// DefaultButtonArea returns the first page's default button's object area,
// or zero if there is no default button (spec §4.5.4).
func (ics *ICS) DefaultButtonArea() uint64 {
	if len(ics.Pages) == 0 {
		return 0
	}
	b, ok := ics.Pages[0].DefaultButton()
	if !ok {
		return 0
	}
	return uint64(b.ObjectWidth) * uint64(b.ObjectHeight)
}

// DecodeICS decodes a reassembled ICS payload.
func DecodeICS(b []byte) (*ICS, error) {
	if len(b) < 9 {
		return nil, fmt.Errorf("igs: ICS payload too short")
	}
	vd := VideoDescriptor{
		Width:     binary.BigEndian.Uint16(b[0:2]),
		Height:    binary.BigEndian.Uint16(b[2:4]),
		FrameRate: b[4],
	}
	ics := &ICS{
		Video:             vd,
		CompositionNumber: binary.BigEndian.Uint16(b[5:7]),
		CompositionState:  b[7],
		StreamModel:       b[8],
	}
	if len(b) < 13 {
		return ics, nil
	}
	ics.UITimeout = binary.BigEndian.Uint32(b[9:13])

	off := 13
	if off >= len(b) {
		return ics, nil
	}
	pageCount := int(b[off])
	off++
	for i := 0; i < pageCount && off+2 <= len(b); i++ {
		page := Page{PageID: b[off], PageVersion: b[off+1]}
		off += 2

		var err error
		off, page.InEffects, err = decodeEffects(b, off)
		if err != nil {
			return nil, fmt.Errorf("igs: page %d in_effects: %w", i, err)
		}
		off, page.OutEffects, err = decodeEffects(b, off)
		if err != nil {
			return nil, fmt.Errorf("igs: page %d out_effects: %w", i, err)
		}
		if off >= len(b) {
			ics.Pages = append(ics.Pages, page)
			break
		}
		buttonCount := int(b[off])
		off++
		for j := 0; j < buttonCount && off+14 <= len(b); j++ {
			btn := Button{
				ButtonID:     binary.BigEndian.Uint16(b[off : off+2]),
				IsDefault:    b[off+2]&0x80 != 0,
				ObjectWidth:  binary.BigEndian.Uint16(b[off+10 : off+12]),
				ObjectHeight: binary.BigEndian.Uint16(b[off+12 : off+14]),
			}
			off += 14
			page.Buttons = append(page.Buttons, btn)
		}
		ics.Pages = append(ics.Pages, page)
	}
	return ics, nil
}

// decodeEffects decodes one effect-sequence block: a window count byte
// followed by that many 8-byte window rectangles.
func decodeEffects(b []byte, off int) (int, []Effect, error) {
	if off >= len(b) {
		return off, nil, nil
	}
	n := int(b[off])
	off++
	e := Effect{}
	for i := 0; i < n; i++ {
		if off+8 > len(b) {
			return off, nil, fmt.Errorf("window %d truncated", i)
		}
		e.Windows = append(e.Windows, EffectWindow{
			X:      binary.BigEndian.Uint16(b[off : off+2]),
			Y:      binary.BigEndian.Uint16(b[off+2 : off+4]),
			Width:  binary.BigEndian.Uint16(b[off+4 : off+6]),
			Height: binary.BigEndian.Uint16(b[off+6 : off+8]),
		})
		off += 8
	}
	return off, []Effect{e}, nil
}
