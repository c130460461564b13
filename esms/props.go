/*
NAME
  props.go

DESCRIPTION
  props.go encodes the ES-properties and format-specific-properties sections
  (spec §6.2, §6.5), and the tagged FmtSpecProps hierarchy that replaces the
  reference implementation's untagged union (spec §9 design note on
  LibbluESFmtSpecPropType).

AUTHOR
  Saxon Nelson-Milton <saxon@ausocean.org>, The Australian Ocean Laboratory (AusOcean)

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package esms

import "encoding/binary"

// FmtSpecProps is implemented by VideoFmtSpecProps and AudioFmtSpecProps.
// Kept as a small closed interface (rather than an empty-interface union)
// per spec §9: callers switch on a concrete type, not a tag byte, and the
// Go type system enforces exhaustiveness at the call site.
type FmtSpecProps interface {
	encode() []byte
}

// VideoFmtSpecProps carries the common video fields of spec §6.5 plus an
// optional H.264-specific tail.
type VideoFmtSpecProps struct {
	VideoFormat  byte // 4 bits.
	FrameRate    byte // 4 bits, coded rate per spec Table (frame_rate code).
	Profile      byte
	Level        byte
	StillPicture bool

	H264 *H264FmtSpecProps // nil unless CodingH264.
}

// H264FmtSpecProps carries the H.264-specific tail of spec §6.5 / §4.4.
type H264FmtSpecProps struct {
	ConstraintFlags byte
	CPBSize         uint32 // Bytes, clipped to 30e6/8 per spec §4.4.
	Bitrate         uint32 // Bits per second, clipped to 48e6 per spec §4.4.
}

func (v *VideoFmtSpecProps) encode() []byte {
	buf := make([]byte, 0, 16)
	buf = append(buf, 'E', 'S', 'F', 'P')
	buf = append(buf, 'V', 'F', 'M', 'T', 0, 0, 0, 0)
	still := byte(0)
	if v.StillPicture {
		still = 0x80
	}
	buf = append(buf, v.VideoFormat<<4|v.FrameRate&0xf, v.Profile, v.Level|still)
	if v.H264 != nil {
		buf = append(buf, v.H264.ConstraintFlags)
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], v.H264.CPBSize)
		buf = append(buf, tmp[:]...)
		binary.BigEndian.PutUint32(tmp[:], v.H264.Bitrate)
		buf = append(buf, tmp[:]...)
	}
	return buf
}

// AudioFmtSpecProps carries the common audio fields of spec §6.5 plus an
// optional AC-3-family tail.
type AudioFmtSpecProps struct {
	AudioFormat byte // 4 bits.
	SampleRate  byte // 4 bits, coded rate.
	BitDepth    byte

	AC3 *AC3FmtSpecProps // nil unless CodingAC3/CodingEAC3.
}

// AC3FmtSpecProps packs the three AC-3-family bytes of spec §6.5.
type AC3FmtSpecProps struct {
	SubSampleRate byte
	BSID          byte
	BitrateMode   byte
	BitrateCode   byte
	SurroundMode  byte
	BSMod         byte
	NumChannels   byte
	FullSVC       bool
}

func (a *AudioFmtSpecProps) encode() []byte {
	buf := make([]byte, 0, 16)
	buf = append(buf, 'E', 'S', 'F', 'P')
	buf = append(buf, 'A', 'F', 'M', 'T', 0, 0, 0, 0)
	buf = append(buf, a.AudioFormat<<4|a.SampleRate&0xf, a.BitDepth, 0)
	if a.AC3 != nil {
		fullSVC := byte(0)
		if a.AC3.FullSVC {
			fullSVC = 1
		}
		buf = append(buf,
			a.AC3.SubSampleRate<<5|a.AC3.BSID&0x1f,
			a.AC3.BitrateMode<<7|a.AC3.BitrateCode&0x1f<<2|a.AC3.SurroundMode&0x3,
			a.AC3.BSMod<<5|a.AC3.NumChannels<<1|fullSVC,
		)
	}
	return buf
}

// encodeFmtSpecProperties dispatches to the concrete FmtSpecProps encoder.
func (w *Writer) encodeFmtSpecProperties() []byte {
	return w.fmtSpec.encode()
}

// encodeESProperties writes the ES-properties section of spec §6.2.
func (w *Writer) encodeESProperties() []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, 'E', 'S', 'P', 'R')
	buf = append(buf, byte(w.streamType), byte(w.coding))

	var tmp8 [8]byte
	binary.BigEndian.PutUint64(tmp8[:], w.ptsReference)
	buf = append(buf, tmp8[:]...)

	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], w.bitrate)
	buf = append(buf, tmp4[:]...)

	binary.BigEndian.PutUint64(tmp8[:], w.ptsFinal)
	buf = append(buf, tmp8[:]...)

	flags := uint64(0)
	if w.opts.ExtractCore {
		flags |= flagExtractCore
	}
	binary.BigEndian.PutUint64(tmp8[:], flags)
	buf = append(buf, tmp8[:]...)

	buf = append(buf, byte(len(w.sourceFiles)))
	for _, sf := range w.sourceFiles {
		var tmp2 [2]byte
		binary.BigEndian.PutUint16(tmp2[:], uint16(len(sf.name)))
		buf = append(buf, tmp2[:]...)
		buf = append(buf, sf.name...)
		binary.BigEndian.PutUint16(tmp2[:], sf.hashedBytes)
		buf = append(buf, tmp2[:]...)
		binary.BigEndian.PutUint32(tmp4[:], sf.crc32)
		buf = append(buf, tmp4[:]...)
	}
	return buf
}

// encodeDataBlocks writes the data-blocks section of spec §6.3.
func (w *Writer) encodeDataBlocks() []byte {
	buf := make([]byte, 0, 16)
	buf = append(buf, 'D', 'T', 'B', 'K')
	buf = append(buf, byte(len(w.dataBlocks)))
	var tmp4 [4]byte
	for _, b := range w.dataBlocks {
		binary.BigEndian.PutUint32(tmp4[:], uint32(len(b)))
		buf = append(buf, tmp4[:]...)
		buf = append(buf, b...)
	}
	return buf
}
