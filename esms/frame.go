/*
NAME
  frame.go

DESCRIPTION
  frame.go implements the PES-frame lifecycle of spec §4.2/§6.4: opening a
  pending frame for a video, audio or HDMV segment, attaching commands and
  optional codec-specific extension data, and serialising the frame once
  closed.

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

import (
	"encoding/binary"
	"io"
)

// PictureType occupies bits[7:6] of a video frame's type-specific byte.
type PictureType byte

// Picture types.
const (
	PictureI PictureType = iota
	PictureP
	PictureB
)

type frameKind byte

const (
	frameVideo frameKind = iota
	frameAudio
	frameHDMV
)

// pendingFrame holds the state of a PES frame between Init*Frame and
// WriteFrame.
type pendingFrame struct {
	kind frameKind

	picType        PictureType
	extensionFrame bool

	pts    uint64
	dts    uint64
	hasDTS bool

	ext []byte

	cmds []Command
}

// InitVideoFrame opens a pending video PES frame (spec §4.2).
func (w *Writer) InitVideoFrame(picType PictureType, dtsPresent bool, pts, dts uint64) error {
	if w.pending != nil {
		return ErrFrameOpen
	}
	w.pending = &pendingFrame{kind: frameVideo, picType: picType, pts: pts, dts: dts, hasDTS: dtsPresent}
	w.trackPTS(pts)
	return nil
}

// InitAudioFrame opens a pending audio PES frame. extensionFrame marks a
// dependent/extension substream frame, skippable under the --extract-core
// option (spec §4.2, §6.6).
func (w *Writer) InitAudioFrame(extensionFrame bool, dtsPresent bool, pts, dts uint64) error {
	if w.pending != nil {
		return ErrFrameOpen
	}
	w.pending = &pendingFrame{kind: frameAudio, extensionFrame: extensionFrame, pts: pts, dts: dts, hasDTS: dtsPresent}
	w.trackPTS(pts)
	return nil
}

// InitHDMVFrame opens a pending HDMV segment PES frame (spec §4.5.5).
func (w *Writer) InitHDMVFrame(dtsPresent bool, pts, dts uint64) error {
	if w.pending != nil {
		return ErrFrameOpen
	}
	w.pending = &pendingFrame{kind: frameHDMV, pts: pts, dts: dts, hasDTS: dtsPresent}
	w.trackPTS(pts)
	return nil
}

// trackPTS maintains PTS_reference (the first frame's PTS) and PTS_final
// (the most recent frame's PTS), per the ES-properties invariants of spec
// §3.1.
func (w *Writer) trackPTS(pts uint64) {
	if !w.sawFirstPTS {
		w.ptsReference = pts
		w.sawFirstPTS = true
	}
	w.ptsFinal = pts
}

// SetExtensionData attaches a codec-specific extension payload to the
// pending frame (only meaningful for H.264, spec §6.4.1).
func (w *Writer) SetExtensionData(payload []byte) error {
	if w.pending == nil {
		return ErrNoFrameOpen
	}
	if w.coding != CodingH264 {
		return ErrExtensionUnsupported
	}
	w.pending.ext = payload
	return nil
}

// AppendCommand validates and appends cmd to the pending frame's command
// list, enforcing the command-specific preconditions of spec §4.2/§6.4.2.
func (w *Writer) AppendCommand(cmd Command) error {
	if w.pending == nil {
		return ErrNoFrameOpen
	}
	switch c := cmd.(type) {
	case *AddPayloadData:
		if int(c.SrcFileIdx) >= len(w.sourceFiles) {
			return ErrInvalidSourceFileIndex
		}
	case *ChangeByteOrder:
		if c.UnitSize == 0 || c.Length%uint32(c.UnitSize) != 0 {
			return ErrByteSwapUnaligned
		}
	case *AddDataSection:
		if int(c.DataBlockIdx) >= len(w.dataBlocks) {
			return ErrInvalidDataBlockIndex
		}
		c.size = uint32(len(w.dataBlocks[c.DataBlockIdx]))
	}
	w.pending.cmds = append(w.pending.cmds, cmd)
	return nil
}

// WriteFrame serialises and closes the pending frame per spec §6.4,
// computing the reconstructed PES-payload length from the command list
// (spec §8 property 2).
func (w *Writer) WriteFrame(dst io.Writer) error {
	if w.pending == nil {
		return ErrNoFrameOpen
	}
	f := w.pending

	length := reconstructedLength(f.cmds)

	ptsLong := f.pts > 0xffffffff
	dtsLong := f.dts > 0xffffffff
	lenLong := length > 0xffff

	var typeByte byte
	switch f.kind {
	case frameVideo:
		typeByte = byte(f.picType) << 6
	case frameAudio:
		if f.extensionFrame {
			typeByte = 0x80
		}
	}

	var flags byte
	if ptsLong {
		flags |= 1 << 0
	}
	if f.hasDTS {
		flags |= 1 << 1
	}
	if dtsLong {
		flags |= 1 << 2
	}
	if lenLong {
		flags |= 1 << 3
	}
	if len(f.ext) > 0 {
		flags |= 1 << 4
	}

	buf := make([]byte, 0, 32+len(f.ext))
	buf = append(buf, typeByte, flags)
	buf = appendTimestamp(buf, f.pts, ptsLong)
	if f.hasDTS {
		buf = appendTimestamp(buf, f.dts, dtsLong)
	}
	if len(f.ext) > 0 {
		buf = appendU16(buf, uint16(len(f.ext)))
		buf = append(buf, f.ext...)
	}
	if lenLong {
		buf = appendU32(buf, length)
	} else {
		buf = appendU16(buf, uint16(length))
	}
	buf = append(buf, byte(len(f.cmds)))
	for _, c := range f.cmds {
		buf = append(buf, c.encode()...)
	}

	if _, err := dst.Write(buf); err != nil {
		return err
	}
	w.pending = nil
	return nil
}

func appendTimestamp(buf []byte, v uint64, long bool) []byte {
	if long {
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], v)
		return append(buf, tmp[:]...)
	}
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	return append(buf, tmp[:]...)
}

// writePESCuttingMagic writes the PES-cutting section's magic (once, before
// the first frame) and writePESCuttingEndMarker its end-of-frames marker
// (0xFF), per spec §6.4.
func writePESCuttingMagic(dst io.Writer) error {
	_, err := dst.Write([]byte{'P', 'E', 'S', 'C'})
	return err
}

func writePESCuttingEndMarker(dst io.Writer) error {
	_, err := dst.Write([]byte{0xFF})
	return err
}
