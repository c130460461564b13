/*
NAME
  h262.go

DESCRIPTION
  h262.go scans H.262/MPEG-2 start codes, decodes sequence, GOP and picture
  headers, enforces BDAV compliance and cross-frame constancy, and computes
  DTS/PTS per GOP (spec §3.2, §4.4).

AUTHOR
  Saxon Nelson-Milton <saxon@ausocean.org>, The Australian Ocean Laboratory (AusOcean)

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package h262 decodes H.262/MPEG-2 video sequence and picture headers from a
// byte-aligned start-code stream, enforcing BDAV compliance.
package h262

import (
	"fmt"
	"io"

	"github.com/ausocean/bdavcore/bitio"
	"github.com/ausocean/bdavcore/esms"
	"github.com/ausocean/utils/logging"
)

// Start codes (spec §4.4).
const (
	scSequenceHeader     = 0xB3
	scExtension          = 0xB5
	scGOPHeader          = 0xB8
	scPictureStart       = 0x00
	scExtStartID_Sequence = 1
	scExtStartID_Picture  = 8
)

// PictureCodingType identifies I/P/B pictures (spec §3.2).
type PictureCodingType byte

// Picture coding types.
const (
	PictureI PictureCodingType = 1
	PictureP PictureCodingType = 2
	PictureB PictureCodingType = 3
)

// ticksPerSecond is the ESMS/T-STD reference clock (spec §5).
const ticksPerSecond = 27_000_000

// SequenceHeader carries the constancy-checked fields of spec §4.4.
type SequenceHeader struct {
	HorizontalSize uint16
	VerticalSize   uint16
	AspectRatio    byte
	FrameRateCode  byte
	BitrateValue   uint32
	VBVBufferSize  uint16
	ConstrainedParams bool

	Profile byte
	Level   byte
	Chroma  byte
	LowDelay bool
}

// Picture is one decoded picture header plus assigned timestamps.
type Picture struct {
	CodingType       PictureCodingType
	TemporalRef      uint16
	VBVDelay         uint16
	Offset           int64
	Size             int
	PTS              uint64
	DTS              uint64
	HasDTS           bool
}

// frameDuration returns the 27 MHz-tick picture period for a frame-rate code
// (Table B.2 rates; only the codes relevant to BDAV's allowed rates are
// covered here).
func frameDuration(code byte) uint64 {
	rates := map[byte]float64{
		1: 23.976, 2: 24, 3: 25, 4: 29.97, 5: 30, 6: 50, 7: 59.94, 8: 60,
	}
	r, ok := rates[code]
	if !ok || r == 0 {
		return ticksPerSecond / 25
	}
	return uint64(float64(ticksPerSecond) / r)
}

// Parser decodes a sequence of H.262 pictures from src, writing PES records
// to w. One Parser owns one bitio.Reader and one esms.Writer (spec §5).
type Parser struct {
	r   *bitio.Reader
	w   *esms.Writer
	dst io.Writer
	log logging.Logger

	srcIdx uint8

	haveSeq bool
	seq     SequenceHeader

	gopPTS          uint64
	nextGOPPTS      uint64
	gopPictureIndex int
	consecutiveB    int
}

// New constructs a Parser.
func New(src *bitio.Reader, w *esms.Writer, dst io.Writer, srcIdx uint8, log logging.Logger) *Parser {
	if log == nil {
		log = logging.New(logging.Error, io.Discard, true)
	}
	return &Parser{r: src, w: w, dst: dst, srcIdx: srcIdx, log: log}
}

// nextStartCode scans forward for the next 0x000001XX start code, aligned on
// byte boundaries (H.262 start codes are always byte aligned).
func (p *Parser) nextStartCode() (byte, error) {
	if err := p.r.AlignToByte(); err != nil {
		return 0, err
	}
	for {
		v, err := p.r.PeekBits(32)
		if err == bitio.ErrShortRead {
			return 0, io.EOF
		}
		if err != nil {
			return 0, err
		}
		if v>>8 == 0x000001 {
			if _, err := p.r.ReadBits(32); err != nil {
				return 0, err
			}
			return byte(v), nil
		}
		if _, err := p.r.ReadBits(8); err != nil {
			return 0, err
		}
	}
}

// ParseNextPicture advances through sequence/GOP headers as encountered,
// decoding and compliance-checking them, until a complete picture (header
// through the next start code) has been scanned, then emits its ESMS PES
// record. io.EOF is returned once the stream is exhausted.
func (p *Parser) ParseNextPicture() (*Picture, error) {
	for {
		sc, err := p.nextStartCode()
		if err != nil {
			return nil, err
		}
		switch {
		case sc == scSequenceHeader:
			if err := p.decodeSequenceHeader(); err != nil {
				return nil, err
			}
		case sc == scExtension:
			if err := p.decodeExtension(); err != nil {
				return nil, err
			}
		case sc == scGOPHeader:
			if err := p.decodeGOPHeader(); err != nil {
				return nil, err
			}
		case sc == scPictureStart:
			return p.decodePicture()
		default:
			// Slice or other start code: not meaningful to this module, skip.
		}
	}
}

func (p *Parser) decodeSequenceHeader() error {
	offset := p.r.TellByte()
	hsize, err := p.r.ReadBits(12)
	if err != nil {
		return err
	}
	vsize, err := p.r.ReadBits(12)
	if err != nil {
		return err
	}
	aspect, err := p.r.ReadBits(4)
	if err != nil {
		return err
	}
	frCode, err := p.r.ReadBits(4)
	if err != nil {
		return err
	}
	bitrate, err := p.r.ReadBits(18)
	if err != nil {
		return err
	}
	if _, err := p.r.ReadBits(1); err != nil { // marker_bit
		return err
	}
	vbv, err := p.r.ReadBits(10)
	if err != nil {
		return err
	}
	constrained, err := p.r.ReadBits(1)
	if err != nil {
		return err
	}
	// intra/non-intra quantiser matrices omitted for this module's scope.
	loadIntra, err := p.r.ReadBits(1)
	if err != nil {
		return err
	}
	if loadIntra == 1 {
		if err := p.r.SkipBits(8 * 64); err != nil {
			return err
		}
	}
	loadNonIntra, err := p.r.ReadBits(1)
	if err != nil {
		return err
	}
	if loadNonIntra == 1 {
		if err := p.r.SkipBits(8 * 64); err != nil {
			return err
		}
	}

	seq := SequenceHeader{
		HorizontalSize:    uint16(hsize),
		VerticalSize:      uint16(vsize),
		AspectRatio:       byte(aspect),
		FrameRateCode:     byte(frCode),
		BitrateValue:      uint32(bitrate),
		VBVBufferSize:     uint16(vbv),
		ConstrainedParams: constrained == 1,
	}

	if seq.AspectRatio == 0 || seq.AspectRatio > 4 {
		return fmt.Errorf("h262: reserved aspect_ratio_information %d at offset %d", seq.AspectRatio, offset)
	}
	if seq.FrameRateCode == 0 || seq.FrameRateCode > 8 {
		return fmt.Errorf("h262: reserved frame_rate_code %d at offset %d", seq.FrameRateCode, offset)
	}

	if p.haveSeq {
		if seq.HorizontalSize != p.seq.HorizontalSize || seq.VerticalSize != p.seq.VerticalSize {
			return fmt.Errorf("h262: constancy violation on picture size")
		}
		if seq.AspectRatio != p.seq.AspectRatio {
			return fmt.Errorf("h262: constancy violation on aspect_ratio")
		}
		if seq.FrameRateCode != p.seq.FrameRateCode {
			return fmt.Errorf("h262: constancy violation on frame_rate_code")
		}
		if seq.BitrateValue != p.seq.BitrateValue {
			return fmt.Errorf("h262: constancy violation on bit_rate_value")
		}
		if seq.VBVBufferSize != p.seq.VBVBufferSize {
			return fmt.Errorf("h262: constancy violation on vbv_buffer_size")
		}
		if seq.ConstrainedParams != p.seq.ConstrainedParams {
			return fmt.Errorf("h262: constancy violation on constrained_parameters_flag")
		}
		seq.Profile, seq.Level, seq.Chroma, seq.LowDelay = p.seq.Profile, p.seq.Level, p.seq.Chroma, p.seq.LowDelay
	}
	p.seq = seq
	p.haveSeq = true
	return nil
}

// decodeExtension handles the sequence extension (identified by
// extension_start_code_identifier == 1), enforcing chroma 4:2:0 and BDAV's
// allowed profile/level (spec §4.4). Other extension kinds are skipped to
// their next start code by the caller's scan loop.
func (p *Parser) decodeExtension() error {
	id, err := p.r.ReadBits(4)
	if err != nil {
		return err
	}
	if id != scExtStartID_Sequence {
		return nil
	}
	profile, err := p.r.ReadBits(4)
	if err != nil {
		return err
	}
	level, err := p.r.ReadBits(4)
	if err != nil {
		return err
	}
	if _, err := p.r.ReadBits(1); err != nil { // progressive_sequence
		return err
	}
	chroma, err := p.r.ReadBits(2)
	if err != nil {
		return err
	}
	if chroma != 1 {
		return fmt.Errorf("h262: BDAV requires chroma_format 4:2:0 (got code %d)", chroma)
	}
	if profile != 4 {
		return fmt.Errorf("h262: BDAV requires Main profile (got code %d)", profile)
	}
	if level != 4 && level != 8 {
		return fmt.Errorf("h262: BDAV requires Main or High level (got code %d)", level)
	}
	if _, err := p.r.ReadBits(2 + 2); err != nil { // horizontal/vertical_size_extension
		return err
	}
	if _, err := p.r.ReadBits(12); err != nil { // bit_rate_extension
		return err
	}
	if _, err := p.r.ReadBits(1); err != nil { // marker_bit
		return err
	}
	if _, err := p.r.ReadBits(8); err != nil { // vbv_buffer_size_extension
		return err
	}
	lowDelay, err := p.r.ReadBits(1)
	if err != nil {
		return err
	}
	p.seq.Profile = byte(profile)
	p.seq.Level = byte(level)
	p.seq.Chroma = byte(chroma)
	p.seq.LowDelay = lowDelay == 1
	if p.seq.LowDelay {
		return fmt.Errorf("h262: BDAV disallows low_delay sequences")
	}
	return nil
}

func (p *Parser) decodeGOPHeader() error {
	if _, err := p.r.ReadBits(25); err != nil { // time_code + closed_gop + broken_link
		return err
	}
	p.gopPTS = p.gopPictureClock()
	p.gopPictureIndex = 0
	p.consecutiveB = 0
	return nil
}

// gopPictureClock returns the running PTS clock at GOP start; the first GOP
// starts at zero, later GOPs continue from the prior picture stream.
func (p *Parser) gopPictureClock() uint64 { return p.nextGOPPTS }

func (p *Parser) decodePicture() (*Picture, error) {
	offset := p.r.TellByte() - 4

	temporalRef, err := p.r.ReadBits(10)
	if err != nil {
		return nil, err
	}
	codingType, err := p.r.ReadBits(3)
	if err != nil {
		return nil, err
	}
	vbvDelay, err := p.r.ReadBits(16)
	if err != nil {
		return nil, err
	}

	ct := PictureCodingType(codingType)
	if ct != PictureB {
		p.consecutiveB = 0
	} else {
		p.consecutiveB++
		if p.consecutiveB > 2 {
			return nil, fmt.Errorf("h262: more than 2 consecutive B-pictures")
		}
	}

	fd := frameDuration(p.seq.FrameRateCode)

	pic := &Picture{
		CodingType:  ct,
		TemporalRef: uint16(temporalRef),
		VBVDelay:    uint16(vbvDelay),
		Offset:      offset,
		PTS:         p.gopPTS + uint64(temporalRef)*fd,
	}
	if ct == PictureI || ct == PictureP {
		pic.DTS = p.gopPTS + uint64(p.gopPictureIndex)*fd
		pic.HasDTS = true
	}
	p.gopPictureIndex++
	p.nextGOPPTS = pic.PTS + fd

	// Scan to the next picture, GOP, sequence-header or sequence-end start
	// code; the picture's start code, header, extensions and slice data are
	// opaque to this module and copied verbatim.
	if _, err := p.scanToNextStartCode(); err != nil {
		return nil, err
	}
	pic.Size = int(p.r.TellByte() - offset)

	if err := p.emit(pic); err != nil {
		return nil, fmt.Errorf("h262: emitting ESMS frame: %w", err)
	}
	return pic, nil
}

func (p *Parser) scanToNextStartCode() (int, error) {
	start := p.r.TellByte()
	if err := p.r.AlignToByte(); err != nil {
		return 0, err
	}
	for {
		v, err := p.r.PeekBits(32)
		if err == bitio.ErrShortRead {
			return int(p.r.TellByte() - start), nil
		}
		if err != nil {
			return 0, err
		}
		if v>>8 == 0x000001 {
			switch byte(v) {
			case scPictureStart, scSequenceHeader, scGOPHeader, 0xB7: // 0xB7: sequence_end_code.
				return int(p.r.TellByte() - start), nil
			}
		}
		if _, err := p.r.ReadBits(8); err != nil {
			return 0, err
		}
	}
}

func (p *Parser) emit(pic *Picture) error {
	picType := esms.PictureI
	switch pic.CodingType {
	case PictureP:
		picType = esms.PictureP
	case PictureB:
		picType = esms.PictureB
	}
	if err := p.w.InitVideoFrame(picType, pic.HasDTS, pic.PTS, pic.DTS); err != nil {
		return err
	}
	cmd := &esms.AddPayloadData{SrcFileIdx: p.srcIdx, DstOffset: 0, SrcOffset: uint64(pic.Offset), Size: uint64(pic.Size)}
	if err := p.w.AppendCommand(cmd); err != nil {
		return err
	}
	return p.w.WriteFrame(p.dst)
}
