/*
NAME
  command.go

DESCRIPTION
  command.go implements the PES-cutting command tagged union of spec §6.4.2
  (ADD_DATA, CHANGE_BYTEORDER, ADD_PAYLOAD_DATA, ADD_PADDING_DATA,
  ADD_DATA_SECTION) and the reconstructed-PES-length law of spec §6.4.2 /
  §8 property 2.

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

// Mode selects whether a positional command erases/bounds existing data or
// inserts new bytes (spec §6.4.2).
type Mode byte

// Modes.
const (
	ModeErase Mode = iota
	ModeInsert
)

// cmdType tags a Command's wire encoding (spec §6.4.2).
type cmdType byte

const (
	cmdAddData        cmdType = 0
	cmdChangeByteOrder cmdType = 1
	cmdAddPayloadData cmdType = 2
	cmdAddPaddingData cmdType = 3
	cmdAddDataSection cmdType = 4
)

// Command is implemented by the five command kinds of spec §6.4.2.
type Command interface {
	encode() []byte
	// regionContribution returns the command's contribution to the
	// reconstructed PES length: (end, insertSize, contributes). For
	// erase-mode positional commands end is the byte past the affected
	// region; for insert-mode insertSize is the inserted size to add to the
	// running length. CHANGE_BYTEORDER contributes nothing (spec §6.4.2).
	regionContribution() (end uint32, insertSize uint32, contributes bool)
}

// AddData inserts or erases literal bytes at offset (spec §6.4.2 ADD_DATA).
type AddData struct {
	Offset uint32
	Mode   Mode
	Data   []byte
}

func (c *AddData) encode() []byte {
	body := make([]byte, 0, 5+len(c.Data))
	body = appendU32(body, c.Offset)
	body = append(body, byte(c.Mode))
	body = append(body, c.Data...)
	return encodeCmd(cmdAddData, body)
}

func (c *AddData) regionContribution() (uint32, uint32, bool) {
	if c.Mode == ModeInsert {
		return 0, uint32(len(c.Data)), true
	}
	return c.Offset + uint32(len(c.Data)), 0, true
}

// ChangeByteOrder byte-swaps a region in units of unitSize (spec §6.4.2
// CHANGE_BYTEORDER). length must be a multiple of unitSize.
type ChangeByteOrder struct {
	UnitSize byte
	Offset   uint32
	Length   uint32
}

func (c *ChangeByteOrder) encode() []byte {
	body := make([]byte, 0, 9)
	body = append(body, c.UnitSize)
	body = appendU32(body, c.Offset)
	body = appendU32(body, c.Length)
	return encodeCmd(cmdChangeByteOrder, body)
}

func (c *ChangeByteOrder) regionContribution() (uint32, uint32, bool) {
	return 0, 0, false
}

// AddPayloadData copies size bytes from source file srcFileIdx at srcOffset
// into the reconstructed frame at dstOffset (spec §6.4.2 ADD_PAYLOAD_DATA).
// This is the command codec parsers use for their single copy-from-source
// command per frame (spec §4.3, §4.4, §4.5.5).
type AddPayloadData struct {
	SrcFileIdx byte
	DstOffset  uint32
	SrcOffset  uint64
	Size       uint64
}

func (c *AddPayloadData) encode() []byte {
	large64 := c.SrcOffset > 0xffffffff
	large32 := c.Size > 0xffff
	flags := byte(0)
	if large64 {
		flags |= 1 << 7
	}
	if large32 {
		flags |= 1 << 6
	}
	body := make([]byte, 0, 16)
	body = append(body, flags, c.SrcFileIdx)
	body = appendU32(body, c.DstOffset)
	body = appendU32(body, uint32(c.SrcOffset))
	if large64 {
		body = appendU32(body, uint32(c.SrcOffset>>32))
	}
	body = appendU16(body, uint16(c.Size))
	if large32 {
		body = appendU16(body, uint16(c.Size>>16))
	}
	return encodeCmd(cmdAddPayloadData, body)
}

func (c *AddPayloadData) regionContribution() (uint32, uint32, bool) {
	return c.DstOffset + uint32(c.Size), 0, true
}

// AddPaddingData inserts or bounds a run of length bytes, each equal to
// fillByte (spec §6.4.2 ADD_PADDING_DATA).
type AddPaddingData struct {
	Offset   uint32
	Mode     Mode
	Length   uint32
	FillByte byte
}

func (c *AddPaddingData) encode() []byte {
	body := make([]byte, 0, 10)
	body = appendU32(body, c.Offset)
	body = append(body, byte(c.Mode))
	body = appendU32(body, c.Length)
	body = append(body, c.FillByte)
	return encodeCmd(cmdAddPaddingData, body)
}

func (c *AddPaddingData) regionContribution() (uint32, uint32, bool) {
	if c.Mode == ModeInsert {
		return 0, c.Length, true
	}
	return c.Offset + c.Length, 0, true
}

// AddDataSection inserts or bounds the registered data block dataBlockIdx
// (spec §6.4.2 ADD_DATA_SECTION).
type AddDataSection struct {
	Offset       uint32
	Mode         Mode
	DataBlockIdx byte

	size uint32 // Resolved length of the referenced data block.
}

func (c *AddDataSection) encode() []byte {
	body := make([]byte, 0, 6)
	body = appendU32(body, c.Offset)
	body = append(body, byte(c.Mode), c.DataBlockIdx)
	return encodeCmd(cmdAddDataSection, body)
}

func (c *AddDataSection) regionContribution() (uint32, uint32, bool) {
	if c.Mode == ModeInsert {
		return 0, c.size, true
	}
	return c.Offset + c.size, 0, true
}

func encodeCmd(t cmdType, body []byte) []byte {
	out := make([]byte, 0, 3+len(body))
	out = append(out, byte(t))
	out = appendU16(out, uint16(len(body)))
	out = append(out, body...)
	return out
}

func appendU16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

// reconstructedLength replays cmds per the rule of spec §6.4.2: positional
// commands in erase mode bound the length by their end offset; commands (of
// any command kind that declares a size) in insert mode add their size to a
// running total; CHANGE_BYTEORDER contributes nothing.
func reconstructedLength(cmds []Command) uint32 {
	var length uint32
	for _, c := range cmds {
		end, insertSize, ok := c.regionContribution()
		if !ok {
			continue
		}
		if insertSize > 0 {
			length += insertSize
			continue
		}
		if end > length {
			length = end
		}
	}
	return length
}
