package segment

import (
	"bytes"
	"io"
	"testing"

	"github.com/ausocean/bdavcore/bitio"
)

func TestReadHeader(t *testing.T) {
	// type=0x15 (ODS), size=0x0007.
	r := bitio.NewReader(bytes.NewReader([]byte{0x15, 0x00, 0x07, 0xAA}))
	h, err := ReadHeader(r)
	if err != nil {
		t.Fatal(err)
	}
	if h.Type != TypeODS || h.Size != 7 || h.Offset != 0 {
		t.Fatalf("header = %+v; want {ODS 7 0}", h)
	}
}

func TestReadHeaderEOF(t *testing.T) {
	r := bitio.NewReader(bytes.NewReader(nil))
	if _, err := ReadHeader(r); err != io.EOF {
		t.Fatalf("ReadHeader at EOF = %v; want io.EOF", err)
	}
}

func TestFragmentable(t *testing.T) {
	for _, tc := range []struct {
		typ  Type
		want bool
	}{
		{TypeODS, true},
		{TypeICS, true},
		{TypePCS, false},
		{TypeWDS, false},
		{TypePDS, false},
		{TypeEND, false},
	} {
		if got := tc.typ.Fragmentable(); got != tc.want {
			t.Errorf("%s.Fragmentable() = %v; want %v", tc.typ, got, tc.want)
		}
	}
}

func TestParseFragFlags(t *testing.T) {
	f := ParseFragFlags(0xC0)
	if !f.First || !f.Last {
		t.Fatalf("ParseFragFlags(0xC0) = %+v; want both set", f)
	}
	f = ParseFragFlags(0x40)
	if !f.First || f.Last {
		t.Fatalf("ParseFragFlags(0x40) = %+v; want only First", f)
	}
}

func TestAssemblerSingleFragment(t *testing.T) {
	a := NewAssembler()
	payload, complete, err := a.Feed(TypeODS, 1, true, true, []byte{0x01, 0x02})
	if err != nil {
		t.Fatal(err)
	}
	if !complete {
		t.Fatal("a first+last fragment must complete immediately")
	}
	if !bytes.Equal(payload, []byte{0x01, 0x02}) {
		t.Fatalf("payload = %v; want [1 2]", payload)
	}
}

func TestAssemblerMultiFragment(t *testing.T) {
	a := NewAssembler()
	if _, complete, err := a.Feed(TypeODS, 1, true, false, []byte{0x01}); err != nil || complete {
		t.Fatalf("first fragment: complete=%v err=%v", complete, err)
	}
	if _, complete, err := a.Feed(TypeODS, 1, false, false, []byte{0x02}); err != nil || complete {
		t.Fatalf("continuation fragment: complete=%v err=%v", complete, err)
	}
	payload, complete, err := a.Feed(TypeODS, 1, false, true, []byte{0x03})
	if err != nil {
		t.Fatal(err)
	}
	if !complete {
		t.Fatal("last fragment must complete the sequence")
	}
	if !bytes.Equal(payload, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("payload = %v; want [1 2 3]", payload)
	}
	if pending := a.Pending(); len(pending) != 0 {
		t.Fatalf("Pending() after completion = %v; want empty", pending)
	}
}

func TestAssemblerErrors(t *testing.T) {
	a := NewAssembler()
	if _, _, err := a.Feed(TypeODS, 1, false, false, nil); err != ErrNoPendingSequence {
		t.Fatalf("continuation with no open sequence = %v; want ErrNoPendingSequence", err)
	}
	if _, _, err := a.Feed(TypeODS, 1, true, false, []byte{0x01}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := a.Feed(TypeODS, 1, true, false, []byte{0x02}); err != ErrSequenceAlreadyOpen {
		t.Fatalf("double first_in_sequence = %v; want ErrSequenceAlreadyOpen", err)
	}
	if pending := a.Pending(); len(pending) != 1 {
		t.Fatalf("Pending() with one open sequence = %v; want one entry", pending)
	}
}

func TestObjectIDFromHeader(t *testing.T) {
	id, err := ObjectIDFromHeader([]byte{0x01, 0x02, 0x03})
	if err != nil || id != 0x0102 {
		t.Fatalf("ObjectIDFromHeader = %d, %v; want 0x0102, nil", id, err)
	}
	if _, err := ObjectIDFromHeader([]byte{0x01}); err == nil {
		t.Fatal("short payload must error")
	}
}
