package pgs

import "testing"

func be16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

func TestDecodePCSNoObjects(t *testing.T) {
	b := append([]byte{}, be16(1920)...)
	b = append(b, be16(1080)...)
	b = append(b, 0x10)                    // frame_rate
	b = append(b, be16(3)...)              // composition_number
	b = append(b, CompositionEpochStart)   // composition_state
	b = append(b, 0x80)                    // palette_update_flag
	b = append(b, 0x02)                    // palette_id
	b = append(b, 0x00)                    // number_of_composition_objects

	pcs, err := DecodePCS(b)
	if err != nil {
		t.Fatal(err)
	}
	if pcs.Video.Width != 1920 || pcs.Video.Height != 1080 {
		t.Fatalf("video descriptor = %+v", pcs.Video)
	}
	if pcs.CompositionNumber != 3 {
		t.Fatalf("composition number = %d; want 3", pcs.CompositionNumber)
	}
	if pcs.CompositionState != CompositionEpochStart {
		t.Fatalf("composition state = %#x; want epoch_start", pcs.CompositionState)
	}
	if !pcs.PaletteUpdateFlag || pcs.PaletteID != 2 {
		t.Fatalf("palette fields = %v/%d", pcs.PaletteUpdateFlag, pcs.PaletteID)
	}
	if len(pcs.Objects) != 0 {
		t.Fatalf("objects = %v; want none", pcs.Objects)
	}
}

func TestDecodePCSWithCroppedObject(t *testing.T) {
	b := append([]byte{}, be16(1280)...)
	b = append(b, be16(720)...)
	b = append(b, 0x20)
	b = append(b, be16(1)...)
	b = append(b, byte(CompositionNormal))
	b = append(b, 0x00)
	b = append(b, 0x00)
	b = append(b, 0x01) // one composition object
	b = append(b, be16(7)...)
	b = append(b, 0x01)  // window_id
	b = append(b, 0x80)  // cropped flag set
	b = append(b, be16(10)...)
	b = append(b, be16(20)...)
	b = append(b, be16(1)...)
	b = append(b, be16(2)...)
	b = append(b, be16(3)...)
	b = append(b, be16(4)...)

	pcs, err := DecodePCS(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(pcs.Objects) != 1 {
		t.Fatalf("objects = %d; want 1", len(pcs.Objects))
	}
	o := pcs.Objects[0]
	if o.ObjectID != 7 || o.WindowID != 1 || !o.Cropped {
		t.Fatalf("object = %+v", o)
	}
	if o.CropX != 1 || o.CropY != 2 || o.CropW != 3 || o.CropH != 4 {
		t.Fatalf("crop rect = %+v", o)
	}
}

func TestDecodePCSTooShort(t *testing.T) {
	if _, err := DecodePCS([]byte{0x01, 0x02}); err == nil {
		t.Fatal("short PCS payload must error")
	}
}

func TestDecodeWDS(t *testing.T) {
	b := []byte{0x01, 0x05}
	b = append(b, be16(0)...)
	b = append(b, be16(0)...)
	b = append(b, be16(320)...)
	b = append(b, be16(240)...)

	wds, err := DecodeWDS(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(wds.Windows) != 1 || wds.Windows[0].ID != 5 {
		t.Fatalf("windows = %+v", wds.Windows)
	}
	if wds.Windows[0].Area() != 320*240 {
		t.Fatalf("window area = %d; want %d", wds.Windows[0].Area(), 320*240)
	}
}

func TestDecodePDS(t *testing.T) {
	b := []byte{0x01, 0x02, 0x00, 0x10, 0x80, 0x80, 0xFF}
	pds, err := DecodePDS(b)
	if err != nil {
		t.Fatal(err)
	}
	if pds.PaletteID != 1 || pds.PaletteVersion != 2 {
		t.Fatalf("PDS header = %+v", pds)
	}
	if len(pds.Entries) != 1 || pds.Entries[0].ID != 0 || pds.Entries[0].A != 0xFF {
		t.Fatalf("entries = %+v", pds.Entries)
	}
}

func TestDecodeODS(t *testing.T) {
	b := append([]byte{}, be16(9)...)
	b = append(b, 0x01) // object_version
	b = append(b, be16(64)...)
	b = append(b, be16(32)...)
	b = append(b, 0xDE, 0xAD, 0xBE, 0xEF)

	o, err := DecodeODS(b)
	if err != nil {
		t.Fatal(err)
	}
	if o.ObjectID != 9 || o.Width != 64 || o.Height != 32 {
		t.Fatalf("ODS = %+v", o)
	}
	if o.PixelCount() != 64*32 {
		t.Fatalf("PixelCount = %d; want %d", o.PixelCount(), 64*32)
	}
	if len(o.Data) != 4 {
		t.Fatalf("Data length = %d; want 4", len(o.Data))
	}
}

func TestDecodeODSTooShort(t *testing.T) {
	if _, err := DecodeODS([]byte{0x00, 0x01, 0x02}); err == nil {
		t.Fatal("short ODS payload must error")
	}
}
