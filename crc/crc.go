/*
NAME
  crc.go

DESCRIPTION
  crc.go provides parameterised CRC contexts (polynomial, width, endianness)
  shared by the bit reader's running-checksum accumulation and by one-shot
  section checksums.

AUTHOR
  Dan Kortschak <dan@ausocean.org>
  Saxon Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package crc provides parameterised polynomial/width/endianness CRC
// contexts, generalised from container/mts/psi's fixed CRC-32 table builder
// so that AC-3 (CRC-16, poly 0x18005), MLP major_sync (CRC-16, poly 0x1002D)
// and MPEG section (CRC-32, poly 0x04C11DB7) checks can share one
// implementation.
package crc

// Params describes a CRC context: bit width, generator polynomial and
// whether input bits are reflected before folding. All three BDAV checksums
// used by this module (AC-3, MLP, MPEG section) are big-endian / non
// reflected-input, but RefIn is kept for completeness per spec §4.1.
type Params struct {
	Width int    // CRC register width in bits (16 or 32).
	Poly  uint64 // Generator polynomial, width bits wide.
	RefIn bool   // Input-reflection flag; New and Update do not apply it (input always folds MSB-first).
}

// AC3Params is the CRC-16 context used for AC-3/E-AC-3 per-frame checksums
// at the 5/8 point and at the end of the frame (spec §4.3).
var AC3Params = Params{Width: 16, Poly: 0x18005}

// MLPParams is the CRC-16 context used for the MLP/TrueHD major_sync_info()
// checksum (spec §4.3).
var MLPParams = Params{Width: 16, Poly: 0x1002D}

// MPEGParams is the CRC-32 context used for MPEG-style section checksums
// (the polynomial is the normal, non-reflected form of the standard IEEE
// CRC-32 polynomial, matching container/mts/psi.UpdateCrc).
var MPEGParams = Params{Width: 32, Poly: 0x04C11DB7}

// Table is a precomputed byte-at-a-time CRC table for a given Params.
type Table struct {
	params Params
	byTab  [256]uint32
}

// New builds a Table for the given Params. Only byte-granular folding via
// Update is supported; width must be 16 or 32.
func New(params Params) *Table {
	t := &Table{params: params}
	top := uint32(1) << uint(params.Width-1)
	full := uint64(1)<<uint(params.Width) - 1
	poly := uint32(params.Poly & full)
	shift := uint(32 - params.Width)
	for i := range t.byTab {
		reg := uint32(i) << 24
		for b := 0; b < 8; b++ {
			if reg&(top<<shift) != 0 {
				reg = (reg << 1) ^ (poly << shift)
			} else {
				reg <<= 1
			}
		}
		t.byTab[i] = reg
	}
	return t
}

// Update folds n bits (1..8, right-justified in bits) of newly read data
// into the running accumulator acc, MSB first, returning the updated
// accumulator. A full byte is folded through the table; a shorter run is
// folded one bit at a time, so a byte folded as several shorter runs gives
// the same result as the byte folded whole. AttachCRC in package bitio
// always folds whole bytes.
func (t *Table) Update(acc uint64, bits uint64, n int) uint64 {
	shift := uint(32 - t.params.Width)
	reg := uint32(acc << shift)
	if n == 8 {
		idx := byte(reg>>24) ^ byte(bits)
		reg = t.byTab[idx] ^ (reg << 8)
		return uint64(reg >> shift)
	}
	poly := uint32(t.params.Poly&(uint64(1)<<uint(t.params.Width)-1)) << shift
	for i := n - 1; i >= 0; i-- {
		top := reg>>31 ^ uint32(bits>>uint(i))&1
		reg <<= 1
		if top != 0 {
			reg ^= poly
		}
	}
	return uint64(reg >> shift)
}
