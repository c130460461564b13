/*
NAME
  hdmv.go

DESCRIPTION
  hdmv.go implements the HDMV Display Set / Epoch state machine of spec
  §4.5.2-§4.5.3: display-set lifecycle (uninitialised -> initialised ->
  completed), epoch-start/duplicate/constancy validation, and the sequence
  inventory that tracks which palette/object a display set is allowed to
  reuse from a prior one.

AUTHOR
  Saxon Nelson-Milton <saxon@ausocean.org>, The Australian Ocean Laboratory (AusOcean)

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package hdmv drives the PGS/IGS Display Set and Epoch state machine and
// re-derives decode/presentation timestamps per spec §4.5, grounded on
// container/mts's single-owner stream-state idiom (one struct accumulating
// state across a parse loop, as in container/mts/meta.go) generalized to
// HDMV's display-set/epoch lifecycle (SPEC_FULL.md, MODULE hdmv).
package hdmv

import (
	"fmt"
	"io"

	"github.com/ausocean/bdavcore/esms"
	"github.com/ausocean/bdavcore/hdmv/pgs"
	"github.com/ausocean/bdavcore/hdmv/segment"
	"github.com/ausocean/utils/logging"
)

// Kind distinguishes the two HDMV graphics families, which differ in
// segment vocabulary (WDS only exists for PGS) and timing formulas.
type Kind int

const (
	KindPGS Kind = iota
	KindIGS
)

func (k Kind) String() string {
	if k == KindIGS {
		return "IGS"
	}
	return "PGS"
}

// DSState is a display set's position in its lifecycle (spec §4.5.2).
type DSState int

const (
	StateUninitialised DSState = iota
	StateInitialised
	StateCompleted
)

// ErrEpochNotStarted is returned when the first display set of a stream (or
// of an epoch boundary the caller declares) is not an epoch_start
// composition. Supplemented behavior: the teacher's upstream parsers treat
// an unexpected leading fragment as fatal rather than silently dropping it,
// and this module follows that precedent rather than trying to recover a
// partial epoch (SPEC_FULL.md, MODULE hdmv).
var ErrEpochNotStarted = fmt.Errorf("hdmv: display set stream does not begin with an epoch_start composition")

// ErrVideoDescriptorChanged is returned when a non-epoch_start display set's
// video_descriptor differs from the epoch's (spec §4.5.2 constancy check).
var ErrVideoDescriptorChanged = fmt.Errorf("hdmv: video_descriptor changed within an epoch")

// ErrCompositionNumberGap is returned when composition_number is neither the
// previous value (duplicate) nor previous+1 mod 2^16.
var ErrCompositionNumberGap = fmt.Errorf("hdmv: composition_number is neither a duplicate nor a successor")

// ErrDuplicateMismatch is returned when a duplicate display set (same
// composition_number as the previous one) does not reproduce the same
// segment content.
var ErrDuplicateMismatch = fmt.Errorf("hdmv: duplicate display set content does not match the original")

// ErrOpenSequences is returned if an END segment arrives while an ODS/ICS
// sequence is still open (spec §4.5.1/§4.5.2).
var ErrOpenSequences = fmt.Errorf("hdmv: END segment arrived with sequences still open")

// ErrIntervalOverlap is returned when a display set's re-derived
// [decode_time, pres_time] interval overlaps the previous display set's
// (spec §4.5.4; IGS forbids any overlap, PGS is checked the same way here
// since both share the single-decoder-pipeline constraint this rule
// protects).
var ErrIntervalOverlap = fmt.Errorf("hdmv: display set decode/presentation interval overlaps the previous one")

// invEntry records which display set last defined or updated one
// palette/object, for the sequence-inventory rules of spec §4.5.3.
type invEntry struct {
	version  byte
	dsIndex  int
	checksum uint64 // cheap content fingerprint, for duplicate-DS equality checks.
}

// CompositionInfo carries the fields the display-set state machine needs
// from a composition segment (PCS for PGS, ICS for IGS), so Epoch.Begin does
// not need to depend on either segment-type package directly.
type CompositionInfo struct {
	Video             pgs.VideoDescriptor
	CompositionNumber uint16
	CompositionState  byte
}

// Epoch accumulates cross-display-set state: the video format the epoch was
// opened with, and the palette/object inventory later display sets may
// reference instead of redefining.
type Epoch struct {
	kind Kind
	log  logging.Logger

	started  bool
	video    pgs.VideoDescriptor
	palettes map[uint16]*invEntry
	objects  map[uint16]*invEntry

	haveComposition bool
	lastComposition uint16

	dsIndex int

	// Previous display set's [decode_time, pres_time] interval, for the
	// ordering-overlap check of spec §4.5.4.
	havePrevInterval bool
	prevDecodeTime   uint64
	prevPresTime     uint64
}

// NewEpoch constructs an Epoch tracker for one HDMV graphics stream.
func NewEpoch(kind Kind, log logging.Logger) *Epoch {
	if log == nil {
		log = logging.New(logging.Error, io.Discard, true)
	}
	return &Epoch{
		kind:     kind,
		log:      log,
		palettes: make(map[uint16]*invEntry),
		objects:  make(map[uint16]*invEntry),
	}
}

// DisplaySet is one decoded display set under construction.
type DisplaySet struct {
	Index             int
	State             DSState
	Kind              Kind
	CompositionNumber uint16
	CompositionState  byte
	Video             pgs.VideoDescriptor
	IsDuplicate       bool

	asm *segment.Assembler

	// Segments seen, in parse order, with their source-file header for
	// PES reconstruction.
	segments []segRecord

	paletteIDs []uint16
	objectIDs  []uint16

	checksum uint64

	// Geometry accumulated while decoding this display set's segments, fed
	// to the timing formulas of timing.go at END (spec §4.5.4). Simplified:
	// PGS objects are attributed to the display set's first window rather
	// than the composition's precise per-object window assignment, and IGS
	// uses the first page's in-effect area/default-button area it is told
	// about via SetIGSPageGeometry.
	pgsObjects           []*pgs.ODS
	pgsWindows           []pgs.Window
	igsObjects           []*pgs.ODS
	igsFirstPageArea     uint64
	igsDefaultButtonArea uint64
}

// NotePGSObject and NotePGSWindow record decoded ODS/WDS geometry for the
// PGS decode-duration formulas of timing.go.
func (ds *DisplaySet) NotePGSObject(o *pgs.ODS) { ds.pgsObjects = append(ds.pgsObjects, o) }
func (ds *DisplaySet) NotePGSWindow(w pgs.Window) { ds.pgsWindows = append(ds.pgsWindows, w) }

// NoteIGSObject records a decoded ODS for the IGS decode-duration formulas.
func (ds *DisplaySet) NoteIGSObject(o *pgs.ODS) { ds.igsObjects = append(ds.igsObjects, o) }

// SetIGSPageGeometry records the first page's in-effect window area and the
// default button's object area, both needed by ICTransferDurationIGS.
func (ds *DisplaySet) SetIGSPageGeometry(firstPageInEffectArea, defaultButtonArea uint64) {
	ds.igsFirstPageArea = firstPageInEffectArea
	ds.igsDefaultButtonArea = defaultButtonArea
}

type segRecord struct {
	hdr  segment.Header
	body []byte // Full on-disk payload, including any fragment-descriptor byte.
}

// Begin opens a new display set from its composition segment (PCS for PGS,
// ICS for IGS). comp carries the fields the state machine needs regardless
// of graphics family.
func (e *Epoch) Begin(comp CompositionInfo) (*DisplaySet, error) {
	if !e.started && comp.CompositionState != pgs.CompositionEpochStart {
		return nil, ErrEpochNotStarted
	}

	ds := &DisplaySet{
		Index:             e.dsIndex,
		State:             StateInitialised,
		Kind:              e.kind,
		CompositionNumber: comp.CompositionNumber,
		CompositionState:  comp.CompositionState,
		Video:             comp.Video,
		asm:               segment.NewAssembler(),
	}

	if comp.CompositionState == pgs.CompositionEpochStart {
		e.video = comp.Video
		e.palettes = make(map[uint16]*invEntry)
		e.objects = make(map[uint16]*invEntry)
	} else {
		if e.video != comp.Video {
			return nil, ErrVideoDescriptorChanged
		}
	}

	if e.haveComposition {
		switch comp.CompositionNumber {
		case e.lastComposition:
			ds.IsDuplicate = true
		case e.lastComposition + 1:
			// Successor: fine, wraps naturally via uint16 arithmetic.
		default:
			return nil, ErrCompositionNumberGap
		}
	}

	e.started = true
	e.haveComposition = true
	e.lastComposition = comp.CompositionNumber
	e.dsIndex++
	return ds, nil
}

// AddSegment records one fully-read segment (header plus raw payload,
// fragment descriptor byte still attached if applicable) into the display
// set, reassembling ODS/ICS fragments via the embedded Assembler.
//
// id is the object_id for ODS, the palette_id for PDS, or 0 for segment
// types with a single instance per display set (PCS/ICS/WDS/END).
func (ds *DisplaySet) AddSegment(hdr segment.Header, payload []byte, id uint16) (assembled []byte, complete bool, err error) {
	ds.segments = append(ds.segments, segRecord{hdr: hdr, body: payload})
	ds.checksum = foldChecksum(ds.checksum, hdr, payload)

	if !hdr.Type.Fragmentable() {
		return payload, true, nil
	}
	if len(payload) < 1 {
		return nil, false, fmt.Errorf("hdmv: fragmentable segment %s payload empty", hdr.Type)
	}
	flags := segment.ParseFragFlags(payload[0])
	body := payload[1:]
	return ds.asm.Feed(hdr.Type, id, flags.First, flags.Last, body)
}

// NoteObject and NotePalette record that this display set defined or
// updated a given object/palette, for the inventory-update rules of spec
// §4.5.3.
func (ds *DisplaySet) NoteObject(id uint16)  { ds.objectIDs = append(ds.objectIDs, id) }
func (ds *DisplaySet) NotePalette(id uint16) { ds.paletteIDs = append(ds.paletteIDs, id) }

// foldChecksum is a cheap order-sensitive content fingerprint used only to
// detect whether a duplicate display set's segments actually reproduce the
// original's content (spec §4.5.2: "epoch_start clears the inventory;
// duplicate display sets are validated for content equality").
func foldChecksum(acc uint64, hdr segment.Header, payload []byte) uint64 {
	acc = acc*1099511628211 ^ uint64(hdr.Type)
	acc = acc*1099511628211 ^ uint64(hdr.Size)
	for _, b := range payload {
		acc = acc*1099511628211 ^ uint64(b)
	}
	return acc
}

// Complete validates and closes a display set once its END segment has been
// consumed, updating the epoch's sequence inventory (spec §4.5.3) and
// checking for outstanding fragments (spec §4.5.1/§4.5.2).
func (e *Epoch) Complete(ds *DisplaySet, prevChecksum uint64, havePrev bool) error {
	if pending := ds.asm.Pending(); len(pending) > 0 {
		return fmt.Errorf("%w: %v", ErrOpenSequences, pending)
	}
	if ds.IsDuplicate {
		if havePrev && ds.checksum != prevChecksum {
			return ErrDuplicateMismatch
		}
		// Duplicate display sets only update the inventory's displaySetIdx
		// link, not the content (spec §4.5.3).
		for _, id := range ds.objectIDs {
			if ent, ok := e.objects[id]; ok {
				ent.dsIndex = ds.Index
			}
		}
		for _, id := range ds.paletteIDs {
			if ent, ok := e.palettes[id]; ok {
				ent.dsIndex = ds.Index
			}
		}
		ds.State = StateCompleted
		return nil
	}

	for _, id := range ds.objectIDs {
		e.objects[id] = &invEntry{dsIndex: ds.Index}
	}
	for _, id := range ds.paletteIDs {
		e.palettes[id] = &invEntry{dsIndex: ds.Index}
	}
	ds.State = StateCompleted
	return nil
}

// ComputeDecodeTime re-derives decode_time from presTime and the display
// set's accumulated segment geometry, per the IGS/PGS decode-duration
// algebra of timing.go (spec §4.5.4, recompute mode).
func (e *Epoch) ComputeDecodeTime(ds *DisplaySet, presTime uint64) uint64 {
	epochStart := ds.CompositionState == pgs.CompositionEpochStart
	if e.kind == KindIGS {
		objDur := ObjDecodeDurationIGS(ds.igsObjects)
		planeClear := PlaneClearTimeIGS(ds.Video.Width, ds.Video.Height)
		icDecode := ICDecodeDurationIGS(objDur, planeClear, epochStart)
		icTransfer := ICTransferDurationIGS(ds.igsFirstPageArea, ds.igsDefaultButtonArea)
		return DecodeTime(presTime, DecodeDurationIGS(icDecode, icTransfer))
	}

	var emptyWindows []pgs.Window
	if len(ds.pgsObjects) == 0 {
		emptyWindows = ds.pgsWindows
	}
	planeInit := PlaneInitializationTimePGS(ds.Video.Width, ds.Video.Height, emptyWindows, epochStart)
	byWindow := make(map[byte][]*pgs.ODS)
	if len(ds.pgsWindows) > 0 {
		byWindow[ds.pgsWindows[0].ID] = ds.pgsObjects
	}
	objDecode := ObjectDecodeDurationPGS(ds.pgsWindows, byWindow)
	return DecodeTime(presTime, DecodeDurationPGS(planeInit, objDecode))
}

// ValidateOrdering checks the ordering-overlap constraint of spec §4.5.4
// against the previous display set's interval, then records this one as the
// new "previous" for the next call.
func (e *Epoch) ValidateOrdering(decodeTime, presTime uint64) error {
	if e.havePrevInterval && IntervalsOverlap(e.prevDecodeTime, e.prevPresTime, decodeTime, presTime) {
		return ErrIntervalOverlap
	}
	e.havePrevInterval = true
	e.prevDecodeTime = decodeTime
	e.prevPresTime = presTime
	return nil
}

// Checksum exposes the display set's content fingerprint, for duplicate-set
// equality validation across successive calls to Epoch.Complete.
func (ds *DisplaySet) Checksum() uint64 { return ds.checksum }

// Segments returns the display set's segments in parse order (PCS/ICS, then
// PDS, then ODS, then END, per the emission ordering of spec §4.5.5 -- the
// caller is expected to have fed AddSegment in that order already).
func (ds *DisplaySet) Segments() []segRecord { return ds.segments }

// Emit writes one PES frame per segment in the display set to dst, each
// frame a single copy-from-source command covering the segment's header and
// payload as they appear in the source file (spec §4.5.5). decodeTime/
// presTime are the composition's own decode_time/pres_time (as returned by
// ComputeDecodeTime and the caller's pres_time source); per spec §4.5.4 the
// other segment types do not share this pair verbatim: PDS and END carry no
// DTS, WDS's PTS is offset by its drawing duration, and each ODS gets a
// running DTS/PTS that advances by its own decode and transfer duration.
func (ds *DisplaySet) Emit(w *esms.Writer, dst io.Writer, srcIdx byte, decodeTime, presTime uint64) error {
	odIdx := 0
	running := decodeTime

	for i, rec := range ds.segments {
		var pts, dts uint64
		dtsPresent := true

		switch rec.hdr.Type {
		case segment.TypePCS, segment.TypeICS:
			pts, dts = presTime, decodeTime

		case segment.TypeWDS:
			var drawDur uint64
			if len(ds.pgsWindows) > 0 {
				drawDur = windowDrawingDurationPGS(ds.pgsWindows[0], ds.pgsObjects)
			}
			dts = decodeTime
			pts = DecodeTime(presTime, drawDur)

		case segment.TypePDS:
			pts, dtsPresent = decodeTime, false

		case segment.TypeODS:
			var decodeDur, transferDur uint64
			if ds.Kind == KindIGS {
				if odIdx < len(ds.igsObjects) {
					o := ds.igsObjects[odIdx]
					decodeDur = ODDecodeDurationIGS(o.Width, o.Height)
					transferDur = ODTransferDurationIGS(decodeDur, odIdx < len(ds.igsObjects)-1)
				}
			} else if odIdx < len(ds.pgsObjects) {
				o := ds.pgsObjects[odIdx]
				decodeDur = ODSDecodeDurationPGS(o.Width, o.Height)
				if len(ds.pgsWindows) > 0 && odIdx < len(ds.pgsObjects)-1 {
					transferDur = WindowTransferDurationPGS(ds.pgsWindows[0])
				}
			}
			dts = running
			pts = running + decodeDur
			running += decodeDur + transferDur
			odIdx++

		case segment.TypeEND:
			pts, dtsPresent = running, false

		default:
			pts, dts = presTime, decodeTime
		}

		if err := w.InitHDMVFrame(dtsPresent, pts, dts); err != nil {
			return fmt.Errorf("hdmv: opening frame for segment %d (%s): %w", i, rec.hdr.Type, err)
		}
		size := uint64(3 + len(rec.body))
		cmd := &esms.AddPayloadData{SrcFileIdx: srcIdx, SrcOffset: uint64(rec.hdr.Offset), Size: size}
		if err := w.AppendCommand(cmd); err != nil {
			return fmt.Errorf("hdmv: emitting segment %d (%s): %w", i, rec.hdr.Type, err)
		}
		if err := w.WriteFrame(dst); err != nil {
			return fmt.Errorf("hdmv: writing frame for segment %d (%s): %w", i, rec.hdr.Type, err)
		}
	}
	return nil
}
