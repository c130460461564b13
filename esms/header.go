/*
NAME
  header.go

DESCRIPTION
  header.go implements the ESMS file header and directory table: the magic,
  format version, completion flag and the patched-in-place directory entries
  that locate the ES-properties, PES-cutting, data-blocks and
  format-specific-properties sections (spec §3.1, §6.1).

AUTHOR
  Saxon Nelson-Milton <saxon@ausocean.org>, The Australian Ocean Laboratory (AusOcean)

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package esms implements the Elementary-Stream Manipulation Script writer
// and reader: a deterministic binary record format describing PES-packet
// reconstruction as a sequence of commands, indexed by directories and
// supporting an in-place update of the header once the script is complete
// (spec §3.1, §4.2, §6).
package esms

import "encoding/binary"

// Magic is the four-byte file magic at offset 0.
var Magic = [4]byte{'E', 'S', 'M', 'S'}

// FormatVersion is the version byte written into every header produced by
// this package.
const FormatVersion = 1

// MaxDir is the maximum number of directory entries a header can reserve
// space for; one slot per directory id in DirID.
const MaxDir = 4

// dirEntrySize is the on-disk size of one (id, offset) directory entry.
const dirEntrySize = 1 + 8 // u8 id + u64 offset

// HeaderSize is the fixed size, in bytes, of the header including its
// reserved directory slots.
const HeaderSize = 4 + 1 + 1 + 1 + dirEntrySize*MaxDir

// Byte offsets within the header of the fields patched at finalisation.
const (
	offCompleted = 5
	offDirCount  = 6
	offDirTable  = 7
)

// DirID identifies a directory's role.
type DirID byte

// Directory identifiers. Spec §3.1: "Each directory id appears at most
// once."
const (
	DirESProperties DirID = iota + 1
	DirPESCutting
	DirDataBlocks
	DirFmtSpecProperties
)

var dirMagic = map[DirID][4]byte{
	DirESProperties:      {'E', 'S', 'P', 'R'},
	DirPESCutting:        {'P', 'E', 'S', 'C'},
	DirDataBlocks:        {'D', 'T', 'B', 'K'},
	DirFmtSpecProperties: {'E', 'S', 'F', 'P'},
}

// dirEntry is one (id, absolute_offset) pair.
type dirEntry struct {
	id     DirID
	offset uint64
}

// writeHeader writes the magic, format version, a zeroed completion byte, a
// zeroed directory count, and MaxDir reserved directory slots. This is the
// first thing ever written to an ESMS file (spec §4.2 write_header).
func writeHeader(buf []byte) []byte {
	buf = append(buf, Magic[:]...)
	buf = append(buf, FormatVersion, 0, 0)
	buf = append(buf, make([]byte, dirEntrySize*MaxDir)...)
	return buf
}

// patchHeader overwrites the completion byte, directory count and directory
// table of an already-written header in place. dirs must not contain
// duplicate ids and must have length <= MaxDir (spec §8 property 3).
func patchHeader(buf []byte, dirs []dirEntry) error {
	if len(buf) < HeaderSize {
		return errShortHeader
	}
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

	buf[offCompleted] = 1
	buf[offDirCount] = byte(len(dirs))
	off := offDirTable
	for _, d := range dirs {
		buf[off] = byte(d.id)
		binary.BigEndian.PutUint64(buf[off+1:off+9], d.offset)
		off += dirEntrySize
	}
	for ; off < HeaderSize; off++ {
		buf[off] = 0
	}
	return nil
}
