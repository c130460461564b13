/*
NAME
  timing.go

DESCRIPTION
  timing.go re-derives HDMV decode/presentation timestamps from decoded
  segment geometry, per the IGS and PGS decode-duration algebra of spec
  §4.5.4. Both graphics families share the same decode_time = pres_time -
  DECODE_DURATION relationship but differ in how DECODE_DURATION is built
  from object/window pixel counts.

AUTHOR
  Saxon Nelson-Milton <saxon@ausocean.org>, The Australian Ocean Laboratory (AusOcean)

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package hdmv

import "github.com/ausocean/bdavcore/hdmv/pgs"

// Rate constants for the decode/transfer-duration formulas of spec §4.5.4,
// expressed in 90kHz ticks.
const (
	decoderPixelRate   = 90000 * 8      // OD_DECODE_DURATION numerator scale.
	decoderClockHz     = 1_600_000_000  // OD_DECODE_DURATION denominator (IGS object decode).
	pgsDecoderClockHz  = 256_000_000    // PGS object decode clock.
	transferRateDenom  = 3200           // PGS window/plane transfer-duration denominator.
	igTransferDenom    = 1600           // IGS composition transfer-duration denominator.
)

// ceilDiv performs ceiling integer division of two non-negative uint64s.
func ceilDiv(num, den uint64) uint64 {
	if den == 0 {
		return 0
	}
	return (num + den - 1) / den
}

// ODDecodeDurationIGS is OD_DECODE_DURATION for one IGS object (spec
// §4.5.4): ceil(90000*8*w*h / 1.6e9).
func ODDecodeDurationIGS(w, h uint16) uint64 {
	return ceilDiv(decoderPixelRate*uint64(w)*uint64(h), decoderClockHz)
}

// ODTransferDurationIGS is OD_TRANSFER_DURATION: 9x the object's decode
// duration when another ODS follows it in the same display set, else zero
// (the last object in a display set needs no further transfer slot).
func ODTransferDurationIGS(decodeDuration uint64, anotherFollows bool) uint64 {
	if !anotherFollows {
		return 0
	}
	return 9 * decodeDuration
}

// ObjDecodeDurationIGS is OBJ_DECODE_DURATION: the sum, over every object in
// the display set, of its decode duration plus (if not the last) its
// transfer duration.
func ObjDecodeDurationIGS(objects []*pgs.ODS) uint64 {
	var total uint64
	for i, o := range objects {
		d := ODDecodeDurationIGS(o.Width, o.Height)
		total += d
		total += ODTransferDurationIGS(d, i < len(objects)-1)
	}
	return total
}

// ICDecodeDurationIGS is IC_DECODE_DURATION: at epoch_start the composition
// must also account for clearing the interactive plane, so it is the larger
// of the object-decode total and the plane-clear time; otherwise it is just
// the object-decode total.
func ICDecodeDurationIGS(objDecodeDuration, planeClearTime uint64, epochStart bool) uint64 {
	if epochStart && planeClearTime > objDecodeDuration {
		return planeClearTime
	}
	return objDecodeDuration
}

// PlaneClearTimeIGS is the interactive plane's clear time, formed with the
// same pixel-rate formula as the composition's own video plane.
func PlaneClearTimeIGS(videoWidth, videoHeight uint16) uint64 {
	return ceilDiv(9*uint64(videoWidth)*uint64(videoHeight), igTransferDenom)
}

// ICTransferDurationIGS is IC_TRANSFER_DURATION: the larger of the first
// page's in-effect window area transfer time and the default button's
// initial-state image transfer time (spec §4.5.4).
func ICTransferDurationIGS(firstPageInEffectArea, defaultButtonArea uint64) uint64 {
	a := ceilDiv(9*firstPageInEffectArea, igTransferDenom)
	b := ceilDiv(9*defaultButtonArea, igTransferDenom)
	if a > b {
		return a
	}
	return b
}

// DecodeDurationIGS combines IC_DECODE_DURATION and IC_TRANSFER_DURATION
// into the composition's total DECODE_DURATION.
func DecodeDurationIGS(icDecodeDuration, icTransferDuration uint64) uint64 {
	return icDecodeDuration + icTransferDuration
}

// ODSDecodeDurationPGS is a PGS object's decode duration: ceil(90000*8*w*h /
// 256e6), using the faster PG decoder clock (spec §4.5.4).
func ODSDecodeDurationPGS(w, h uint16) uint64 {
	return ceilDiv(decoderPixelRate*uint64(w)*uint64(h), pgsDecoderClockHz)
}

// WindowTransferDurationPGS is a window's transfer duration: ceil(9*w*h /
// 3200).
func WindowTransferDurationPGS(w pgs.Window) uint64 {
	return ceilDiv(9*w.Area(), transferRateDenom)
}

// PlaneInitializationTimePGS is PLANE_INITIALIZATION_TIME: at epoch_start it
// is the full video plane's transfer time; otherwise it is the sum of the
// transfer times of windows left empty by this display set (no object drawn
// into them) plus one additional tick for the composition switch.
func PlaneInitializationTimePGS(videoWidth, videoHeight uint16, emptyWindows []pgs.Window, epochStart bool) uint64 {
	if epochStart {
		return ceilDiv(9*uint64(videoWidth)*uint64(videoHeight), transferRateDenom)
	}
	var sum uint64
	for _, w := range emptyWindows {
		sum += WindowTransferDurationPGS(w)
	}
	return sum + 1
}

// windowDrawingDurationPGS combines, for one window, the objects drawn into
// it this display set: their decode durations plus the window's own
// transfer duration, per the PG object-to-window combination rules of spec
// §4.5.4 (at most two objects share a window in PGS).
func windowDrawingDurationPGS(w pgs.Window, objects []*pgs.ODS) uint64 {
	var decode uint64
	for _, o := range objects {
		decode += ODSDecodeDurationPGS(o.Width, o.Height)
	}
	transfer := WindowTransferDurationPGS(w)
	switch len(objects) {
	case 0:
		return transfer
	case 1:
		return decode + transfer
	default:
		// Two objects sharing a window: the first's decode overlaps the
		// window's transfer, so only the larger of the two contributes
		// alongside the second object's decode.
		first := ODSDecodeDurationPGS(objects[0].Width, objects[0].Height)
		rest := decode - first
		if first > transfer {
			return first + rest
		}
		return transfer + rest
	}
}

// ObjectDecodeDurationPGS sums windowDrawingDurationPGS across every window
// this display set draws into.
func ObjectDecodeDurationPGS(windows []pgs.Window, objectsByWindow map[byte][]*pgs.ODS) uint64 {
	var total uint64
	for _, w := range windows {
		total += windowDrawingDurationPGS(w, objectsByWindow[w.ID])
	}
	return total
}

// DecodeDurationPGS is the composition's total DECODE_DURATION: the larger
// of the plane-initialization time and the windows' combined drawing
// duration (spec §4.5.4).
func DecodeDurationPGS(planeInit, objectDecode uint64) uint64 {
	if planeInit > objectDecode {
		return planeInit
	}
	return objectDecode
}

// DecodeTime applies decode_time = pres_time - DECODE_DURATION, common to
// both graphics families.
func DecodeTime(presTime, decodeDuration uint64) uint64 {
	if decodeDuration > presTime {
		return 0
	}
	return presTime - decodeDuration
}

// IntervalsOverlap reports whether [decodeA, presA] and [decodeB, presB]
// overlap, used by the ordering check of spec §4.5.4 ("a new display set's
// decode/presentation interval must not overlap the previous one's").
func IntervalsOverlap(decodeA, presA, decodeB, presB uint64) bool {
	return decodeA < presB && decodeB < presA
}
