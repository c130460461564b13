/*
NAME
  reader.go

DESCRIPTION
  reader.go implements a read-back decoder for the ESMS format of spec §6,
  used primarily by round-trip tests (spec §8 property 1): given a complete
  ESMS byte slice, Parse recovers the ES-properties, data-blocks and the
  ordered PES-frame/command sequence. The format-specific-properties section
  is not decoded.

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
	"fmt"
)

// Script is the fully decoded in-memory form of an ESMS file.
type Script struct {
	StreamType StreamType
	Coding     CodingType

	PTSReference uint64
	PTSFinal     uint64
	Bitrate      uint32
	ExtractCore  bool

	SourceFiles []SourceFileInfo
	DataBlocks  [][]byte
	Frames      []Frame
}

// SourceFileInfo is the decoded form of a registered source-file reference.
type SourceFileInfo struct {
	Name        string
	HashedBytes uint16
	CRC32       uint32
}

// Frame is the decoded form of one PES-frame record.
type Frame struct {
	Kind           frameKind
	PicType        PictureType
	ExtensionFrame bool
	PTS            uint64
	DTS            uint64
	HasDTS         bool
	Ext            []byte
	Length         uint32
	Commands       []Command
}

// Parse decodes a complete ESMS byte slice produced by Writer, validating
// the header and directory table invariants of spec §3.1.
func Parse(data []byte) (*Script, error) {
	if len(data) < HeaderSize {
		return nil, errShortHeader
	}
	if string(data[0:4]) != string(Magic[:]) {
		return nil, fmt.Errorf("esms: bad magic")
	}
	if data[offCompleted] != 1 {
		return nil, fmt.Errorf("esms: script is not complete")
	}
	n := int(data[offDirCount])
	if n > MaxDir {
		return nil, ErrTooManyDirectories
	}

	offsets := make(map[DirID]uint64, n)
	off := offDirTable
	for i := 0; i < n; i++ {
		id := DirID(data[off])
		o := binary.BigEndian.Uint64(data[off+1 : off+9])
		if _, dup := offsets[id]; dup {
			return nil, ErrDuplicateDirectory
		}
		offsets[id] = o
		off += dirEntrySize
	}

	s := &Script{}

	if o, ok := offsets[DirESProperties]; ok {
		if err := s.parseESProperties(data[o:]); err != nil {
			return nil, fmt.Errorf("esms: ES properties: %w", err)
		}
	}
	if o, ok := offsets[DirDataBlocks]; ok {
		blocks, err := parseDataBlocks(data[o:])
		if err != nil {
			return nil, fmt.Errorf("esms: data blocks: %w", err)
		}
		s.DataBlocks = blocks
	}
	if o, ok := offsets[DirPESCutting]; ok {
		frames, err := parsePESCutting(data[o:])
		if err != nil {
			return nil, fmt.Errorf("esms: PES cutting: %w", err)
		}
		s.Frames = frames
	}

	return s, nil
}

func (s *Script) parseESProperties(b []byte) error {
	if len(b) < 4 || string(b[0:4]) != "ESPR" {
		return fmt.Errorf("bad ESPR magic")
	}
	b = b[4:]
	s.StreamType = StreamType(b[0])
	s.Coding = CodingType(b[1])
	b = b[2:]
	s.PTSReference = binary.BigEndian.Uint64(b[0:8])
	b = b[8:]
	s.Bitrate = binary.BigEndian.Uint32(b[0:4])
	b = b[4:]
	s.PTSFinal = binary.BigEndian.Uint64(b[0:8])
	b = b[8:]
	flags := binary.BigEndian.Uint64(b[0:8])
	s.ExtractCore = flags&flagExtractCore != 0
	b = b[8:]
	nSrc := int(b[0])
	b = b[1:]
	for i := 0; i < nSrc; i++ {
		nameLen := int(binary.BigEndian.Uint16(b[0:2]))
		b = b[2:]
		name := string(b[:nameLen])
		b = b[nameLen:]
		hashed := binary.BigEndian.Uint16(b[0:2])
		b = b[2:]
		crc := binary.BigEndian.Uint32(b[0:4])
		b = b[4:]
		s.SourceFiles = append(s.SourceFiles, SourceFileInfo{name, hashed, crc})
	}
	return nil
}

func parseDataBlocks(b []byte) ([][]byte, error) {
	if len(b) < 4 || string(b[0:4]) != "DTBK" {
		return nil, fmt.Errorf("bad DTBK magic")
	}
	b = b[4:]
	n := int(b[0])
	b = b[1:]
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		l := binary.BigEndian.Uint32(b[0:4])
		b = b[4:]
		out = append(out, append([]byte(nil), b[:l]...))
		b = b[l:]
	}
	return out, nil
}

func parsePESCutting(b []byte) ([]Frame, error) {
	if len(b) < 4 || string(b[0:4]) != "PESC" {
		return nil, fmt.Errorf("bad PESC magic")
	}
	b = b[4:]
	var frames []Frame
	for {
		if len(b) == 0 {
			return nil, fmt.Errorf("truncated PES-cutting section")
		}
		if b[0] == 0xFF {
			break
		}
		f, rest, err := parseFrame(b)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
		b = rest
	}
	return frames, nil
}

func parseFrame(b []byte) (Frame, []byte, error) {
	var f Frame
	typeByte, flags := b[0], b[1]
	b = b[2:]

	ptsLong := flags&(1<<0) != 0
	hasDTS := flags&(1<<1) != 0
	dtsLong := flags&(1<<2) != 0
	lenLong := flags&(1<<3) != 0
	hasExt := flags&(1<<4) != 0

	f.HasDTS = hasDTS
	f.PicType = PictureType(typeByte >> 6)
	f.ExtensionFrame = typeByte&0x80 != 0

	pts, rest := readTimestamp(b, ptsLong)
	f.PTS = pts
	b = rest
	if hasDTS {
		dts, rest := readTimestamp(b, dtsLong)
		f.DTS = dts
		b = rest
	}
	if hasExt {
		l := int(binary.BigEndian.Uint16(b[0:2]))
		b = b[2:]
		f.Ext = append([]byte(nil), b[:l]...)
		b = b[l:]
	}
	if lenLong {
		f.Length = binary.BigEndian.Uint32(b[0:4])
		b = b[4:]
	} else {
		f.Length = uint32(binary.BigEndian.Uint16(b[0:2]))
		b = b[2:]
	}
	nCmd := int(b[0])
	b = b[1:]
	for i := 0; i < nCmd; i++ {
		cmd, rest, err := parseCommand(b)
		if err != nil {
			return f, nil, err
		}
		f.Commands = append(f.Commands, cmd)
		b = rest
	}
	return f, b, nil
}

func readTimestamp(b []byte, long bool) (uint64, []byte) {
	if long {
		return binary.BigEndian.Uint64(b[0:8]), b[8:]
	}
	return uint64(binary.BigEndian.Uint32(b[0:4])), b[4:]
}

func parseCommand(b []byte) (Command, []byte, error) {
	t := cmdType(b[0])
	bodyLen := int(binary.BigEndian.Uint16(b[1:3]))
	body := b[3 : 3+bodyLen]
	rest := b[3+bodyLen:]

	switch t {
	case cmdAddData:
		off := binary.BigEndian.Uint32(body[0:4])
		mode := Mode(body[4])
		data := append([]byte(nil), body[5:]...)
		return &AddData{Offset: off, Mode: mode, Data: data}, rest, nil
	case cmdChangeByteOrder:
		return &ChangeByteOrder{
			UnitSize: body[0],
			Offset:   binary.BigEndian.Uint32(body[1:5]),
			Length:   binary.BigEndian.Uint32(body[5:9]),
		}, rest, nil
	case cmdAddPayloadData:
		flags := body[0]
		srcIdx := body[1]
		dst := binary.BigEndian.Uint32(body[2:6])
		p := body[6:]
		var srcOff uint64
		srcOff = uint64(binary.BigEndian.Uint32(p[0:4]))
		p = p[4:]
		if flags&(1<<7) != 0 {
			srcOff |= uint64(binary.BigEndian.Uint32(p[0:4])) << 32
			p = p[4:]
		}
		size := uint64(binary.BigEndian.Uint16(p[0:2]))
		p = p[2:]
		if flags&(1<<6) != 0 {
			size |= uint64(binary.BigEndian.Uint16(p[0:2])) << 16
		}
		return &AddPayloadData{SrcFileIdx: srcIdx, DstOffset: dst, SrcOffset: srcOff, Size: size}, rest, nil
	case cmdAddPaddingData:
		return &AddPaddingData{
			Offset:   binary.BigEndian.Uint32(body[0:4]),
			Mode:     Mode(body[4]),
			Length:   binary.BigEndian.Uint32(body[5:9]),
			FillByte: body[9],
		}, rest, nil
	case cmdAddDataSection:
		return &AddDataSection{
			Offset:       binary.BigEndian.Uint32(body[0:4]),
			Mode:         Mode(body[4]),
			DataBlockIdx: body[5],
		}, rest, nil
	default:
		return nil, nil, fmt.Errorf("esms: unknown command type %d", t)
	}
}
