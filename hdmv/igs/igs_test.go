package igs

import "testing"

func be16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

func buildICS(withPage bool) []byte {
	b := append([]byte{}, be16(1920)...)
	b = append(b, be16(1080)...)
	b = append(b, 0x10)       // frame_rate
	b = append(b, be16(2)...) // composition_number
	b = append(b, 0x80)       // composition_state (epoch_start)
	b = append(b, 0x00)       // UO_stream_model
	b = append(b, 0, 0, 0, 90) // user_time_out_duration

	if !withPage {
		return append(b, 0x00) // number_of_pages = 0
	}

	b = append(b, 0x01)       // number_of_pages
	b = append(b, 0x00, 0x01) // page_id, page_version

	// in_effects: one effect with one window.
	b = append(b, 0x01) // window count
	b = append(b, be16(0)...)
	b = append(b, be16(0)...)
	b = append(b, be16(100)...)
	b = append(b, be16(50)...)

	// out_effects: none.
	b = append(b, 0x00)

	// buttons: one default button.
	b = append(b, 0x01)       // button count
	b = append(b, be16(1)...) // button_id
	b = append(b, 0x80)       // button_flags: default
	b = append(b, make([]byte, 7)...)
	b = append(b, be16(40)...) // object_width
	b = append(b, be16(30)...) // object_height

	return b
}

func TestDecodeICSHeaderOnly(t *testing.T) {
	ics, err := DecodeICS(buildICS(false))
	if err != nil {
		t.Fatal(err)
	}
	if ics.Video.Width != 1920 || ics.Video.Height != 1080 {
		t.Fatalf("video descriptor = %+v", ics.Video)
	}
	if ics.CompositionNumber != 2 {
		t.Fatalf("composition number = %d; want 2", ics.CompositionNumber)
	}
	if ics.CompositionState != 0x80 {
		t.Fatalf("composition state = %#x; want 0x80", ics.CompositionState)
	}
	if ics.UITimeout != 90 {
		t.Fatalf("UI timeout = %d; want 90", ics.UITimeout)
	}
	if len(ics.Pages) != 0 {
		t.Fatalf("pages = %+v; want none", ics.Pages)
	}
}

func TestDecodeICSShortPayload(t *testing.T) {
	ics, err := DecodeICS([]byte{0x07, 0x80, 0x04, 0x38, 0x10, 0x00, 0x02, 0x00, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if ics.CompositionNumber != 0 && ics.UITimeout != 0 {
		// Only the fixed 9-byte header is guaranteed when the payload is
		// shorter than the full pre-page fields.
	}
	if len(ics.Pages) != 0 {
		t.Fatal("a payload shorter than the page-count field must decode no pages")
	}
}

func TestDecodeICSWithPage(t *testing.T) {
	ics, err := DecodeICS(buildICS(true))
	if err != nil {
		t.Fatal(err)
	}
	if len(ics.Pages) != 1 {
		t.Fatalf("pages = %d; want 1", len(ics.Pages))
	}
	page := ics.Pages[0]
	if page.PageID != 0 || page.PageVersion != 1 {
		t.Fatalf("page header = %+v", page)
	}
	if len(page.InEffects) != 1 || len(page.InEffects[0].Windows) != 1 {
		t.Fatalf("in_effects = %+v", page.InEffects)
	}
	if got := page.InEffectArea(); got != 100*50 {
		t.Fatalf("InEffectArea = %d; want %d", got, 100*50)
	}
	btn, ok := page.DefaultButton()
	if !ok {
		t.Fatal("default button not found")
	}
	if btn.ButtonID != 1 || btn.ObjectWidth != 40 || btn.ObjectHeight != 30 {
		t.Fatalf("default button = %+v", btn)
	}

	if got := ics.FirstPageInEffectArea(); got != 100*50 {
		t.Fatalf("FirstPageInEffectArea = %d; want %d", got, 100*50)
	}
	if got := ics.DefaultButtonArea(); got != 40*30 {
		t.Fatalf("DefaultButtonArea = %d; want %d", got, 40*30)
	}
}

func TestICSNoPagesAreaHelpersAreZero(t *testing.T) {
	ics, err := DecodeICS(buildICS(false))
	if err != nil {
		t.Fatal(err)
	}
	if ics.FirstPageInEffectArea() != 0 {
		t.Fatal("FirstPageInEffectArea with no pages must be zero")
	}
	if ics.DefaultButtonArea() != 0 {
		t.Fatal("DefaultButtonArea with no pages must be zero")
	}
}

func TestSharedPDSODSDecoders(t *testing.T) {
	pdsBytes := []byte{0x01, 0x02, 0x00, 0x10, 0x80, 0x80, 0xFF}
	pds, err := DecodePDS(pdsBytes)
	if err != nil {
		t.Fatal(err)
	}
	if pds.PaletteID != 1 {
		t.Fatalf("shared DecodePDS: PaletteID = %d; want 1", pds.PaletteID)
	}

	odsBytes := append([]byte{}, be16(5)...)
	odsBytes = append(odsBytes, 0x00)
	odsBytes = append(odsBytes, be16(16)...)
	odsBytes = append(odsBytes, be16(16)...)
	ods, err := DecodeODS(odsBytes)
	if err != nil {
		t.Fatal(err)
	}
	if ods.ObjectID != 5 {
		t.Fatalf("shared DecodeODS: ObjectID = %d; want 5", ods.ObjectID)
	}
}
