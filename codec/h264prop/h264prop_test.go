package h264prop

import (
	"bytes"
	"io"
	"testing"

	"github.com/ausocean/bdavcore/bitio"
	"github.com/ausocean/bdavcore/codec/h264/h264dec"
)

func TestDerivePropsClipsToBDAVCeiling(t *testing.T) {
	sps := &h264dec.SPS{Profile: 100, LevelIDC: 41, Constraint0: true, Constraint3: true}

	p := DeriveProps(sps, 100_000_000, 0, 0)
	if p.BitrateBps != maxBitrateBps {
		t.Fatalf("BitrateBps = %d; want clipped to %d", p.BitrateBps, maxBitrateBps)
	}
	if p.CPBSizeBytes == 0 {
		t.Fatal("CPBSizeBytes must default from the level table for a known level_idc")
	}
	wantConstraints := byte(1<<7 | 1<<4)
	if p.ConstraintFlags != wantConstraints {
		t.Fatalf("ConstraintFlags = %#x; want %#x", p.ConstraintFlags, wantConstraints)
	}
}

func TestDerivePropsExplicitOverride(t *testing.T) {
	sps := &h264dec.SPS{Profile: 100, LevelIDC: 31}
	p := DeriveProps(sps, 0, 12345, 6_000_000)
	if p.BitrateBps != 6_000_000 {
		t.Fatalf("BitrateBps = %d; want explicit 6000000", p.BitrateBps)
	}
	if p.CPBSizeBytes != 12345 {
		t.Fatalf("CPBSizeBytes = %d; want explicit 12345", p.CPBSizeBytes)
	}
}

func TestExtensionPayloadSmall(t *testing.T) {
	buf := ExtensionPayload(1000, 2000)
	if buf[0] != 0x00 {
		t.Fatalf("flags byte = %#x; want 0x00 for small values", buf[0])
	}
	if len(buf) != 1+8 {
		t.Fatalf("payload length = %d; want 9 for small-form values", len(buf))
	}
}

func TestExtensionPayloadLarge(t *testing.T) {
	buf := ExtensionPayload(1<<40, 2000)
	if buf[0] != 0x80 {
		t.Fatalf("flags byte = %#x; want 0x80 for a large value", buf[0])
	}
	if len(buf) != 1+16 {
		t.Fatalf("payload length = %d; want 17 for large-form values", len(buf))
	}
}

// nalStream builds an Annex-B byte stream from a list of (type, rbsp) NAL
// units, escaping any two-zero-then-{0,1,2,3} sequence in the RBSP the way a
// real encoder would.
func nalStream(units [][2]interface{}) []byte {
	var out []byte
	for _, u := range units {
		typ := u[0].(byte)
		rbsp := u[1].([]byte)
		out = append(out, 0x00, 0x00, 0x01, typ)
		zeroRun := 0
		for _, b := range rbsp {
			if zeroRun >= 2 && b <= 3 {
				out = append(out, 0x03)
				zeroRun = 0
			}
			out = append(out, b)
			if b == 0 {
				zeroRun++
			} else {
				zeroRun = 0
			}
		}
	}
	return out
}

func TestScannerDeEscapesAndFindsSPS(t *testing.T) {
	// Construct a minimal RBSP that is not a valid SPS (parsing the SPS
	// itself is exercised by the teacher's own h264dec tests); this test
	// only exercises the NAL scan/de-escape path and slice-start detection.
	rbsp := []byte{0x00, 0x00, 0x03, 0x01, 0xAB} // contains an emulation-prevention byte.
	data := nalStream([][2]interface{}{
		{byte(nalTypeSliceIDR), rbsp},
		{byte(nalTypeSliceNonIDR), []byte{0x01, 0x02}},
	})

	s := New(bitio.NewReader(bytes.NewReader(data)), nil)

	n1, err := s.NextNALUnit()
	if err != nil {
		t.Fatalf("NextNALUnit 1: %v", err)
	}
	if n1.Type != nalTypeSliceIDR {
		t.Fatalf("NAL 1 type = %d; want %d", n1.Type, nalTypeSliceIDR)
	}
	if !bytes.Equal(n1.RBSP, rbsp) {
		t.Fatalf("NAL 1 RBSP = %#v; want %#v (round-trip through escape/de-escape)", n1.RBSP, rbsp)
	}
	if !IsSliceStart(n1.Type) {
		t.Fatal("IDR slice must be a slice start")
	}

	n2, err := s.NextNALUnit()
	if err != nil {
		t.Fatalf("NextNALUnit 2: %v", err)
	}
	if n2.Type != nalTypeSliceNonIDR {
		t.Fatalf("NAL 2 type = %d; want %d", n2.Type, nalTypeSliceNonIDR)
	}

	if _, err := s.NextNALUnit(); err != io.EOF {
		t.Fatalf("NextNALUnit at end = %v; want io.EOF", err)
	}
}

func TestValidateLevelRejectsUnknown(t *testing.T) {
	if err := ValidateLevel(&h264dec.SPS{LevelIDC: 31}); err != nil {
		t.Fatalf("known level rejected: %v", err)
	}
	if err := ValidateLevel(&h264dec.SPS{LevelIDC: 9}); err == nil {
		t.Fatal("unknown level_idc must be rejected")
	}
}
