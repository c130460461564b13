/*
NAME
  writer.go

DESCRIPTION
  writer.go implements the top-level ESMS Writer: creation, source-file and
  data-block registration, and the finalisation sequence that patches the
  header once every section has been written (spec §4.2).

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
	"hash/crc32"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/ausocean/utils/logging"
)

// MaxDataBlocks bounds the number of opaque data blocks a script may carry
// (spec §3.1: "Bounded count (implementation-defined small limit)").
const MaxDataBlocks = 255

// MaxSourceFiles bounds the source-file table to what fits in the u8
// nb_source_files count (spec §6.2).
const MaxSourceFiles = 255

// sourceFileHashBytes is the default number of leading bytes of a source
// file over which the registration CRC-32 is computed (spec §3.1).
const sourceFileHashBytes = 512

// StreamType is the top-level kind of elementary stream an ES-properties
// section describes.
type StreamType byte

// Stream types.
const (
	StreamVideo StreamType = iota
	StreamAudio
	StreamHDMV
)

// CodingType identifies the specific codec within a StreamType.
type CodingType byte

// Coding types.
const (
	CodingH262 CodingType = iota
	CodingH264
	CodingAC3
	CodingEAC3
	CodingMLP
	CodingPGS
	CodingIGS
)

// Options configures Create.
type Options struct {
	// ExtractCore sets the extract-core bit of ES-properties.script_flags
	// (the --extract-core CLI flag, spec §6.6). It is only recorded there;
	// no parser skips extension (dependent) frames because of it.
	ExtractCore bool
}

// scriptFlags bit positions, packed into ES-properties.script_flags
// (spec §6.2).
const flagExtractCore = 1 << 0

// sourceFile is a registered reference to an on-disk source file.
type sourceFile struct {
	name        string
	hashedBytes uint16
	crc32       uint32
}

// Writer accumulates the state of one in-progress ESMS script. A Writer is
// not safe for concurrent use; spec §5 assigns exactly one Writer per
// parser loop.
type Writer struct {
	streamType StreamType
	coding     CodingType
	opts       Options

	sourceFiles []sourceFile
	dataBlocks  [][]byte

	ptsReference uint64
	ptsFinal     uint64
	sawFirstPTS  bool
	bitrate      uint32

	fmtSpec FmtSpecProps

	pending *pendingFrame

	pesCuttingOffset  int64
	pesCuttingStarted bool
	pesCuttingEnded   bool

	completed bool
	dirs      []dirEntry

	log logging.Logger
}

// BeginPESCutting writes the "PESC" section magic at the writer's current
// position (offset) and records it for the directory table. It must be
// called exactly once, before the first WriteFrame.
func (w *Writer) BeginPESCutting(dst io.Writer, offset int64) error {
	if w.pesCuttingStarted {
		return fmt.Errorf("esms: PES-cutting section already begun")
	}
	if err := writePESCuttingMagic(dst); err != nil {
		return fmt.Errorf("esms: writing PES-cutting magic: %w", err)
	}
	w.pesCuttingOffset = offset
	w.pesCuttingStarted = true
	return nil
}

// EndPESCutting writes the end-of-frames marker (spec §6.4). It must be
// called after the last WriteFrame and before Complete.
func (w *Writer) EndPESCutting(dst io.Writer) error {
	if !w.pesCuttingStarted {
		return fmt.Errorf("esms: PES-cutting section was never begun")
	}
	if w.pending != nil {
		return ErrFrameOpen
	}
	if err := writePESCuttingEndMarker(dst); err != nil {
		return fmt.Errorf("esms: writing PES-cutting end marker: %w", err)
	}
	w.pesCuttingEnded = true
	return nil
}

// Create allocates a new Writer for a stream of the given type and coding,
// with format-specific properties fmtSpec (may be nil until later set via
// SetFormatSpecProps) and the given options (spec §4.2 create).
func Create(st StreamType, ct CodingType, fmtSpec FmtSpecProps, opts Options, log logging.Logger) *Writer {
	if log == nil {
		log = logging.New(logging.Error, io.Discard, true)
	}
	return &Writer{
		streamType: st,
		coding:     ct,
		opts:       opts,
		fmtSpec:    fmtSpec,
		log:        log,
	}
}

// SetFormatSpecProps sets or replaces the format-specific properties that
// will be written at Complete.
func (w *Writer) SetFormatSpecProps(p FmtSpecProps) { w.fmtSpec = p }

// SetBitrate sets the bitrate recorded in the ES-properties section.
func (w *Writer) SetBitrate(bps uint32) { w.bitrate = bps }

// AppendSourceFile opens path, hashes up to sourceFileHashBytes of it with
// CRC-32, and registers it, returning its table index. Duplicate paths are
// rejected (spec §4.2).
func (w *Writer) AppendSourceFile(path string) (uint8, error) {
	for _, sf := range w.sourceFiles {
		if sf.name == path {
			return 0, ErrDuplicateSourceFile
		}
	}
	if len(w.sourceFiles) >= MaxSourceFiles {
		return 0, fmt.Errorf("esms: source file table full (max %d)", MaxSourceFiles)
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("esms: could not open source file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, sourceFileHashBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, fmt.Errorf("esms: could not read source file prefix: %w", err)
	}
	sum := crc32.ChecksumIEEE(buf[:n])

	idx := uint8(len(w.sourceFiles))
	w.sourceFiles = append(w.sourceFiles, sourceFile{
		name:        path,
		hashedBytes: uint16(n),
		crc32:       sum,
	})
	w.log.Debug("registered source file", "path", path, "index", idx, "crc32", sum)
	return idx, nil
}

// AppendDataBlock stores bytes as a new opaque data block and returns its
// index.
func (w *Writer) AppendDataBlock(data []byte) (uint32, error) {
	if len(w.dataBlocks) >= MaxDataBlocks {
		return 0, ErrTooManyDataBlocks
	}
	idx := uint32(len(w.dataBlocks))
	stored := make([]byte, len(data))
	copy(stored, data)
	w.dataBlocks = append(w.dataBlocks, stored)
	return idx, nil
}

// UpdateDataBlock replaces the contents of an already-registered data block.
func (w *Writer) UpdateDataBlock(idx uint32, data []byte) error {
	if int(idx) >= len(w.dataBlocks) {
		return ErrInvalidDataBlockIndex
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	w.dataBlocks[idx] = stored
	return nil
}

// WriteHeader writes the placeholder header (magic, version, zeroed
// completion byte and directory count, reserved directory slots) to dst.
func (w *Writer) WriteHeader(dst io.Writer) error {
	_, err := dst.Write(writeHeader(nil))
	return err
}

// Complete writes the ES-properties, data-blocks (if any) and format-
// specific-properties sections in turn, recording each section's starting
// offset for the directory table. It does not write the end-of-frames marker
// (0xFF); EndPESCutting writes that before Complete is called. offset is the absolute file offset dst is currently
// positioned at (the caller tracks this, since io.Writer has no Seek).
func (w *Writer) Complete(dst io.Writer, offset int64) error {
	if w.pending != nil {
		return ErrFrameOpen
	}
	if !w.pesCuttingEnded {
		return fmt.Errorf("esms: PES-cutting section was not ended before Complete")
	}

	dirs := []dirEntry{{DirPESCutting, uint64(w.pesCuttingOffset)}}

	esOff := offset
	esBytes := w.encodeESProperties()
	if _, err := dst.Write(esBytes); err != nil {
		return fmt.Errorf("esms: writing ES properties: %w", err)
	}
	dirs = append(dirs, dirEntry{DirESProperties, uint64(esOff)})
	offset += int64(len(esBytes))

	if len(w.dataBlocks) > 0 {
		dbOff := offset
		dbBytes := w.encodeDataBlocks()
		if _, err := dst.Write(dbBytes); err != nil {
			return fmt.Errorf("esms: writing data blocks: %w", err)
		}
		dirs = append(dirs, dirEntry{DirDataBlocks, uint64(dbOff)})
		offset += int64(len(dbBytes))
	}

	if w.fmtSpec != nil {
		fpOff := offset
		fpBytes := w.encodeFmtSpecProperties()
		if _, err := dst.Write(fpBytes); err != nil {
			return fmt.Errorf("esms: writing format-specific properties: %w", err)
		}
		dirs = append(dirs, dirEntry{DirFmtSpecProperties, uint64(fpOff)})
		offset += int64(len(fpBytes))
	}

	w.dirs = dirs
	w.completed = true
	return nil
}

// UpdateHeader reopens path, seeks to the completion-byte offset, and
// rewrites the final completion byte, directory count and directory
// entries. Complete must have been called first.
func (w *Writer) UpdateHeader(path string) error {
	if !w.completed {
		return ErrNotComplete
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("esms: reopening for header update: %w", err)
	}
	defer f.Close()

	buf := make([]byte, HeaderSize-offCompleted)
	if err := patchHeaderBuf(buf, w.dirs); err != nil {
		return err
	}
	if _, err := f.WriteAt(buf, offCompleted); err != nil {
		return fmt.Errorf("esms: writing patched header: %w", err)
	}
	return nil
}

// patchHeaderBuf fills buf (sized HeaderSize-offCompleted) with the
// completion byte, directory count and directory table, suitable for a
// direct WriteAt at offCompleted.
func patchHeaderBuf(buf []byte, dirs []dirEntry) error {
	if len(dirs) > MaxDir {
		return ErrTooManyDirectories
	}
	seen := make(map[DirID]bool, len(dirs))
	for _, d := range dirs {
		if seen[d.id] {
			return ErrDuplicateDirectory
		}
		seen[d.id] = true
	}
	buf[0] = 1
	buf[1] = byte(len(dirs))
	off := 2
	for _, d := range dirs {
		buf[off] = byte(d.id)
		binary.BigEndian.PutUint64(buf[off+1:off+9], d.offset)
		off += dirEntrySize
	}
	for ; off < len(buf); off++ {
		buf[off] = 0
	}
	return nil
}
