package h262

import (
	"bytes"
	"io"
	"testing"

	"github.com/ausocean/bdavcore/bitio"
	"github.com/ausocean/bdavcore/esms"
)

// bitWriter is a small MSB-first bit packer used only to build synthetic
// H.262 headers for these tests.
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

func (w *bitWriter) startCode(code byte) {
	w.acc, w.bits = 0, 0 // start codes are byte aligned.
	w.buf = append(w.buf, 0x00, 0x00, 0x01, code)
}

func (w *bitWriter) flush() []byte {
	if w.bits > 0 {
		w.acc <<= uint(8 - w.bits)
		w.buf = append(w.buf, byte(w.acc))
		w.acc, w.bits = 0, 0
	}
	return w.buf
}

// buildStream packs a sequence header, a Main-profile/Main-level 4:2:0
// sequence extension, one GOP header and two I/P picture headers, each
// followed by a few bytes of opaque slice data.
func buildStream() []byte {
	w := &bitWriter{}

	w.startCode(scSequenceHeader)
	w.put(720, 12)  // horizontal_size
	w.put(480, 12)  // vertical_size
	w.put(3, 4)     // aspect_ratio_information (16:9)
	w.put(3, 4)     // frame_rate_code (25 fps)
	w.put(5000, 18) // bit_rate_value
	w.put(1, 1)     // marker_bit
	w.put(10, 10)   // vbv_buffer_size
	w.put(0, 1)     // constrained_parameters_flag
	w.put(0, 1)     // load_intra_quantiser_matrix
	w.put(0, 1)     // load_non_intra_quantiser_matrix
	w.flush()

	w.startCode(scExtension)
	w.put(scExtStartID_Sequence, 4)
	w.put(4, 4) // profile (Main)
	w.put(4, 4) // level (Main)
	w.put(0, 1) // progressive_sequence
	w.put(1, 2) // chroma_format 4:2:0
	w.put(0, 4) // horizontal/vertical_size_extension
	w.put(0, 12)
	w.put(1, 1) // marker_bit
	w.put(0, 8) // vbv_buffer_size_extension
	w.put(0, 1) // low_delay
	w.flush()

	w.startCode(scGOPHeader)
	w.put(0, 25) // time_code + closed_gop + broken_link
	w.flush()

	w.startCode(scPictureStart)
	w.put(0, 10)               // temporal_reference
	w.put(uint64(PictureI), 3) // picture_coding_type
	w.put(0xFFFF, 16)          // vbv_delay
	w.flush()
	w.buf = append(w.buf, 0xAA, 0xBB, 0xCC) // opaque slice payload

	w.startCode(scPictureStart)
	w.put(1, 10)
	w.put(uint64(PictureP), 3)
	w.put(0xFFFF, 16)
	w.flush()
	w.buf = append(w.buf, 0xDD, 0xEE, 0xFF)

	return w.flush()
}

func TestParseNextPictureSequence(t *testing.T) {
	data := buildStream()
	r := bitio.NewReader(bytes.NewReader(data))
	ew := esms.Create(esms.StreamVideo, esms.CodingH262, &esms.VideoFmtSpecProps{}, esms.Options{}, nil)
	var dst bytes.Buffer
	p := New(r, ew, &dst, 0, nil)

	pic1, err := p.ParseNextPicture()
	if err != nil {
		t.Fatalf("ParseNextPicture (I) = %v", err)
	}
	if pic1.CodingType != PictureI {
		t.Fatalf("picture 1 coding type = %v; want I", pic1.CodingType)
	}
	if !pic1.HasDTS {
		t.Fatal("I-picture must carry a DTS")
	}

	if !p.haveSeq {
		t.Fatal("sequence header was not recorded")
	}
	if p.seq.HorizontalSize != 720 || p.seq.VerticalSize != 480 {
		t.Fatalf("sequence size = %dx%d; want 720x480", p.seq.HorizontalSize, p.seq.VerticalSize)
	}
	if p.seq.Profile != 4 || p.seq.Level != 4 || p.seq.Chroma != 1 {
		t.Fatalf("profile/level/chroma = %d/%d/%d; want 4/4/1", p.seq.Profile, p.seq.Level, p.seq.Chroma)
	}

	pic2, err := p.ParseNextPicture()
	if err != nil {
		t.Fatalf("ParseNextPicture (P) = %v", err)
	}
	if pic2.CodingType != PictureP {
		t.Fatalf("picture 2 coding type = %v; want P", pic2.CodingType)
	}
	if pic2.PTS <= pic1.PTS {
		t.Fatalf("picture 2 PTS %d must exceed picture 1 PTS %d", pic2.PTS, pic1.PTS)
	}

	if _, err := p.ParseNextPicture(); err != io.EOF {
		t.Fatalf("ParseNextPicture at end = %v; want io.EOF", err)
	}
}

func TestConsecutiveBPicturesLimit(t *testing.T) {
	w := &bitWriter{}
	w.startCode(scSequenceHeader)
	w.put(720, 12)
	w.put(480, 12)
	w.put(3, 4)
	w.put(3, 4)
	w.put(5000, 18)
	w.put(1, 1)
	w.put(10, 10)
	w.put(0, 1)
	w.put(0, 1)
	w.put(0, 1)
	w.flush()
	for i := 0; i < 4; i++ {
		w.startCode(scPictureStart)
		w.put(uint64(i), 10)
		w.put(uint64(PictureB), 3)
		w.put(0xFFFF, 16)
		w.flush()
		w.buf = append(w.buf, 0x00)
	}
	data := w.flush()

	r := bitio.NewReader(bytes.NewReader(data))
	ew := esms.Create(esms.StreamVideo, esms.CodingH262, &esms.VideoFmtSpecProps{}, esms.Options{}, nil)
	var dst bytes.Buffer
	p := New(r, ew, &dst, 0, nil)

	var lastErr error
	for i := 0; i < 4; i++ {
		_, lastErr = p.ParseNextPicture()
		if lastErr != nil {
			break
		}
	}
	if lastErr == nil {
		t.Fatal("more than 2 consecutive B-pictures must be rejected")
	}
}
