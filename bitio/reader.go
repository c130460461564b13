/*
NAME
  reader.go

DESCRIPTION
  reader.go provides a bit-granular reader over a buffered byte source, with
  bounded lookahead, optional CRC accumulation and byte alignment tracking.

AUTHOR
  Saxon Nelson-Milton <saxon@ausocean.org>, The Australian Ocean Laboratory (AusOcean)

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package bitio provides a bit-granular reader over a buffered file or memory
// slice, with bounded lookahead, CRC accumulation and byte alignment, as used
// by the codec parsers to decode BDAV elementary streams.
package bitio

import (
	"bufio"
	"errors"
	"io"

	"github.com/ausocean/bdavcore/crc"
)

// ErrShortRead is returned when fewer bits than requested could be read
// before the underlying source was exhausted. Callers treat this as a fatal
// parser error per spec §4.1/§7.
var ErrShortRead = errors.New("bitio: short read")

type bytePeeker interface {
	io.ByteReader
	Peek(int) ([]byte, error)
}

// Reader reads bits MSB-first from an underlying byte source, optionally
// folding consumed bits into an attached CRC context.
type Reader struct {
	r bytePeeker

	acc  uint64 // Pending bits, right-justified.
	bits int    // Number of valid bits in acc.

	byteOff int64 // Number of bytes fully consumed.
	bitOff  int   // Bit offset within the current byte (0 == aligned).

	crcTab    *crc.Table
	crcActive bool
	crcVal    uint64
}

// NewReader returns a Reader over r. If r does not already provide Peek (as
// *bufio.Reader does), it is wrapped in one.
func NewReader(r io.Reader) *Reader {
	bp, ok := r.(bytePeeker)
	if !ok {
		bp = bufio.NewReader(r)
	}
	return &Reader{r: bp}
}

// fill ensures at least n bits are available in acc, consuming bytes from the
// source and folding them into the CRC accumulator if active.
func (r *Reader) fill(n int) error {
	for r.bits < n {
		b, err := r.r.ReadByte()
		if err == io.EOF {
			return ErrShortRead
		}
		if err != nil {
			return err
		}
		r.acc = r.acc<<8 | uint64(b)
		r.bits += 8
		if r.crcActive {
			r.crcVal = r.crcTab.Update(r.crcVal, uint64(b), 8)
		}
	}
	return nil
}

// ReadBits reads and consumes n (1 to 64) bits, MSB-first, returning them
// right-justified in the result.
func (r *Reader) ReadBits(n int) (uint64, error) {
	if n < 1 || n > 64 {
		return 0, errors.New("bitio: n out of range [1,64]")
	}
	if n > 56 {
		hi, err := r.ReadBits(n - 32)
		if err != nil {
			return 0, err
		}
		lo, err := r.ReadBits(32)
		if err != nil {
			return 0, err
		}
		return hi<<32 | lo, nil
	}
	if err := r.fill(n); err != nil {
		return 0, err
	}
	v := (r.acc >> uint(r.bits-n)) & mask(n)
	r.bits -= n
	r.advance(n)
	return v, nil
}

// PeekBits returns the next n bits without consuming them or folding them
// into any attached CRC.
func (r *Reader) PeekBits(n int) (uint64, error) {
	if n < 1 || n > 64 {
		return 0, errors.New("bitio: n out of range [1,64]")
	}
	extraBytes := 0
	if n > r.bits {
		extraBytes = (n - r.bits + 7) / 8
	}
	buf, err := r.r.Peek(extraBytes)
	if err != nil {
		if err == io.EOF {
			return 0, ErrShortRead
		}
		return 0, err
	}

	acc, bits := r.acc&mask(r.bits), r.bits
	for _, b := range buf {
		take := n - bits
		if take > 8 {
			take = 8
		}
		acc = acc<<uint(take) | uint64(b)>>uint(8-take)
		bits += take
	}
	if bits < n {
		return 0, ErrShortRead
	}
	return (acc >> uint(bits-n)) & mask(n), nil
}

// SkipBits advances the reader by n bits without returning their value,
// still folding them into an attached CRC.
func (r *Reader) SkipBits(n int) error {
	for n > 64 {
		if _, err := r.ReadBits(64); err != nil {
			return err
		}
		n -= 64
	}
	if n == 0 {
		return nil
	}
	_, err := r.ReadBits(n)
	return err
}

// ReadBytes reads byte-aligned data into dst. The reader must be byte
// aligned; callers should call AlignToByte first if not.
func (r *Reader) ReadBytes(dst []byte) error {
	if !r.ByteAligned() {
		return errors.New("bitio: ReadBytes on non-aligned reader")
	}
	for i := range dst {
		v, err := r.ReadBits(8)
		if err != nil {
			return err
		}
		dst[i] = byte(v)
	}
	return nil
}

// ByteAligned reports whether the reader sits on a byte boundary.
func (r *Reader) ByteAligned() bool {
	return r.bits%8 == 0
}

// AlignToByte skips any remaining bits of the current byte (spec's
// paddingByte). It is a no-op if already aligned.
func (r *Reader) AlignToByte() error {
	if r.ByteAligned() {
		return nil
	}
	return r.SkipBits(r.bits % 8)
}

// TellByte returns the number of fully-consumed bytes (the byte position of
// the next unread bit, rounded down).
func (r *Reader) TellByte() int64 { return r.byteOff }

// TellBit returns the bit offset within the current byte (0..7).
func (r *Reader) TellBit() int { return r.bitOff }

func (r *Reader) advance(n int) {
	total := r.bitOff + n
	r.byteOff += int64(total / 8)
	r.bitOff = total % 8
}

// AttachCRC begins CRC accumulation over bytes subsequently fetched from the
// source. A byte is folded whole when its first bit is read; bits already
// buffered when AttachCRC is called are not folded.
func (r *Reader) AttachCRC(params crc.Params) {
	r.crcTab = crc.New(params)
	r.crcActive = true
	r.crcVal = 0
}

// EndCRC stops CRC accumulation and returns the accumulated value.
func (r *Reader) EndCRC() uint32 {
	r.crcActive = false
	return uint32(r.crcVal)
}

func mask(n int) uint64 {
	if n == 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(n)) - 1
}
