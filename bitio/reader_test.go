package bitio

import (
	"bytes"
	"testing"

	"github.com/ausocean/bdavcore/crc"
)

func TestReadBits(t *testing.T) {
	// 0xA5 0x3C == 1010 0101 0011 1100
	r := NewReader(bytes.NewReader([]byte{0xA5, 0x3C}))

	v, err := r.ReadBits(4)
	if err != nil || v != 0xA {
		t.Fatalf("ReadBits(4) = %#x, %v; want 0xA, nil", v, err)
	}
	v, err = r.ReadBits(8)
	if err != nil || v != 0x53 {
		t.Fatalf("ReadBits(8) = %#x, %v; want 0x53, nil", v, err)
	}
	v, err = r.ReadBits(4)
	if err != nil || v != 0xC {
		t.Fatalf("ReadBits(4) = %#x, %v; want 0xC, nil", v, err)
	}
	if _, err := r.ReadBits(1); err != ErrShortRead {
		t.Fatalf("ReadBits past end = %v; want ErrShortRead", err)
	}
}

func TestPeekBitsDoesNotConsume(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0xF0, 0x0F}))

	p1, err := r.PeekBits(8)
	if err != nil || p1 != 0xF0 {
		t.Fatalf("PeekBits(8) = %#x, %v; want 0xF0, nil", p1, err)
	}
	v, err := r.ReadBits(8)
	if err != nil || v != 0xF0 {
		t.Fatalf("ReadBits(8) after Peek = %#x, %v; want 0xF0, nil", v, err)
	}
}

func TestByteAlignment(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0xFF, 0xAB}))
	if !r.ByteAligned() {
		t.Fatal("fresh reader must be byte aligned")
	}
	if _, err := r.ReadBits(3); err != nil {
		t.Fatal(err)
	}
	if r.ByteAligned() {
		t.Fatal("reader must not be aligned after reading 3 bits")
	}
	if err := r.AlignToByte(); err != nil {
		t.Fatal(err)
	}
	if !r.ByteAligned() {
		t.Fatal("AlignToByte must leave the reader aligned")
	}
	dst := make([]byte, 1)
	if err := r.ReadBytes(dst); err != nil {
		t.Fatal(err)
	}
	if dst[0] != 0xAB {
		t.Fatalf("ReadBytes = %#x; want 0xAB", dst[0])
	}
}

func TestAttachCRCMatchesWholeSliceUpdate(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04}

	tab := crc.New(crc.AC3Params)
	var want uint64
	for _, b := range data {
		want = tab.Update(want, uint64(b), 8)
	}

	r := NewReader(bytes.NewReader(data))
	r.AttachCRC(crc.AC3Params)
	dst := make([]byte, len(data))
	if err := r.ReadBytes(dst); err != nil {
		t.Fatal(err)
	}
	got := r.EndCRC()
	if uint64(got) != want {
		t.Fatalf("accumulated CRC = %#x; want %#x", got, want)
	}
}

func TestReadBytesRequiresAlignment(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0xFF}))
	if _, err := r.ReadBits(1); err != nil {
		t.Fatal(err)
	}
	if err := r.ReadBytes(make([]byte, 1)); err == nil {
		t.Fatal("ReadBytes on a non-aligned reader must fail")
	}
}

func TestTellByteAdvances(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x00, 0x00, 0x00}))
	if _, err := r.ReadBits(8); err != nil {
		t.Fatal(err)
	}
	if r.TellByte() != 1 || r.TellBit() != 0 {
		t.Fatalf("TellByte/TellBit = %d/%d; want 1/0", r.TellByte(), r.TellBit())
	}
	if _, err := r.ReadBits(12); err != nil {
		t.Fatal(err)
	}
	if r.TellByte() != 2 || r.TellBit() != 4 {
		t.Fatalf("TellByte/TellBit = %d/%d; want 2/4", r.TellByte(), r.TellBit())
	}
}

func TestShortReadAtEOF(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	if _, err := r.ReadBits(1); err != ErrShortRead {
		t.Fatalf("ReadBits on empty source = %v; want ErrShortRead", err)
	}
}
