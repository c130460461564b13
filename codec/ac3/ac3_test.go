package ac3

import (
	"bytes"
	"io"
	"testing"

	"github.com/ausocean/bdavcore/bitio"
	"github.com/ausocean/bdavcore/esms"
)

// bitWriter is a small MSB-first bit packer used only to build synthetic
// AC-3 syncframes for these tests; it mirrors decodeAC3BSI's read order.
type bitWriter struct {
	buf  []byte
	acc  uint32
	bits int
}

func (w *bitWriter) put(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		bit := (v >> uint(i)) & 1
		w.acc = w.acc<<1 | uint32(bit)
		w.bits++
		if w.bits == 8 {
			w.buf = append(w.buf, byte(w.acc))
			w.acc, w.bits = 0, 0
		}
	}
}

func (w *bitWriter) flush() []byte {
	if w.bits > 0 {
		w.acc <<= uint(8 - w.bits)
		w.buf = append(w.buf, byte(w.acc))
		w.acc, w.bits = 0, 0
	}
	return w.buf
}

// buildFrame packs one syncframe with frmsizecod=0x14 (bitrate 192 kbps,
// frame size 768 bytes at 48 kHz), acmod, dialnorm
// and dsurmod as given, zero-padded out to the full frame size.
func buildFrame(acmod, dialnorm, dsurmod byte) []byte {
	w := &bitWriter{}
	w.put(syncword, 16)
	w.put(0, 16) // crc1, unchecked in these tests.
	w.put(0, 2)  // fscod = 0 (48 kHz).
	w.put(0x14, 6)
	w.put(8, 5)      // bsid.
	w.put(0, 3)       // bsmod.
	w.put(uint64(acmod), 3)
	if acmod == 2 {
		w.put(uint64(dsurmod), 2)
	}
	w.put(0, 1)              // lfeon.
	w.put(uint64(dialnorm), 5)
	w.put(0, 1) // compre.
	w.put(0, 1) // langcode.
	w.put(0, 1) // audprodie.
	w.put(0, 2) // copyrightb, origbs.
	w.put(0, 1) // timecode1e.
	w.put(0, 1) // timecode2e.
	w.put(0, 1) // addbsie.
	out := w.flush()
	for len(out) < 768 {
		out = append(out, 0)
	}
	return out[:768]
}

func newParser(data []byte, checkCRC bool) (*Parser, *esms.Writer, *bytes.Buffer) {
	w := esms.Create(esms.StreamAudio, esms.CodingAC3, nil, esms.Options{}, nil)
	var buf bytes.Buffer
	r := bitio.NewReader(bytes.NewReader(data))
	return New(r, w, &buf, 0, checkCRC, nil), w, &buf
}

func TestParseFrameSingle(t *testing.T) {
	data := buildFrame(2, 31, 0)
	p, _, _ := newParser(data, false)

	f, err := p.ParseFrame()
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if f.Size != 768 {
		t.Errorf("Size = %d, want 768", f.Size)
	}
	if f.BSI.Acmod != 2 || f.BSI.Bsid != 8 || f.BSI.Dialnorm != 31 {
		t.Errorf("unexpected BSI: %+v", f.BSI)
	}
	if f.PTS != 0 {
		t.Errorf("first frame PTS = %d, want 0", f.PTS)
	}

	if _, err := p.ParseFrame(); err != io.EOF {
		t.Fatalf("second ParseFrame = %v, want io.EOF", err)
	}
}

func TestParseFramePTSAdvance(t *testing.T) {
	data := append(buildFrame(2, 31, 0), buildFrame(2, 31, 0)...)
	p, _, _ := newParser(data, false)

	f0, err := p.ParseFrame()
	if err != nil {
		t.Fatalf("ParseFrame 0: %v", err)
	}
	f1, err := p.ParseFrame()
	if err != nil {
		t.Fatalf("ParseFrame 1: %v", err)
	}
	wantPTS := uint64(samplesPerFrameAC3) * ticksPerSecond / 48000
	if f1.PTS-f0.PTS != wantPTS {
		t.Errorf("PTS advance = %d, want %d", f1.PTS-f0.PTS, wantPTS)
	}
}

func TestConstancyViolation(t *testing.T) {
	data := append(buildFrame(2, 31, 0), buildFrame(7, 31, 0)...)
	p, _, _ := newParser(data, false)

	if _, err := p.ParseFrame(); err != nil {
		t.Fatalf("first ParseFrame: %v", err)
	}
	_, err := p.ParseFrame()
	if err == nil {
		t.Fatal("expected constancy violation error on second frame, got nil")
	}
}

func TestDsurmodReservedValueWarns(t *testing.T) {
	data := buildFrame(2, 31, 3)
	p, _, _ := newParser(data, false)

	f, err := p.ParseFrame()
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if f.BSI.Dsurmod != 0 {
		t.Errorf("Dsurmod = %d, want defaulted to 0", f.BSI.Dsurmod)
	}
	found := false
	for _, warn := range f.Warnings {
		if warn.Field == "dsurmod" {
			found = true
		}
	}
	if !found {
		t.Error("expected a dsurmod warning")
	}
}
