package esms

import (
	"bytes"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeSimpleScript(t *testing.T) []byte {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "src")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(bytes.Repeat([]byte{0x42}, 64)); err != nil {
		t.Fatal(err)
	}
	f.Close()

	w := Create(StreamVideo, CodingH264, &VideoFmtSpecProps{VideoFormat: 3, FrameRate: 4, Profile: 100, Level: 41}, Options{}, nil)

	idx, err := w.AppendSourceFile(f.Name())
	if err != nil {
		t.Fatalf("AppendSourceFile: %v", err)
	}

	var buf bytes.Buffer
	if err := w.WriteHeader(&buf); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	offset := int64(buf.Len())

	if err := w.BeginPESCutting(&buf, offset); err != nil {
		t.Fatalf("BeginPESCutting: %v", err)
	}

	if err := w.InitVideoFrame(PictureI, true, 100, 90); err != nil {
		t.Fatalf("InitVideoFrame: %v", err)
	}
	if err := w.AppendCommand(&AddPayloadData{SrcFileIdx: idx, DstOffset: 0, SrcOffset: 0, Size: 64}); err != nil {
		t.Fatalf("AppendCommand: %v", err)
	}
	if err := w.WriteFrame(&buf); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	if err := w.InitVideoFrame(PictureP, true, 200, 190); err != nil {
		t.Fatalf("InitVideoFrame 2: %v", err)
	}
	if err := w.AppendCommand(&AddPaddingData{Offset: 0, Mode: ModeInsert, Length: 8, FillByte: 0xAA}); err != nil {
		t.Fatalf("AppendCommand 2: %v", err)
	}
	if err := w.WriteFrame(&buf); err != nil {
		t.Fatalf("WriteFrame 2: %v", err)
	}

	if err := w.EndPESCutting(&buf); err != nil {
		t.Fatalf("EndPESCutting: %v", err)
	}

	if err := w.Complete(&buf, int64(buf.Len())); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	out := buf.Bytes()
	if err := patchHeaderBuf(out[offCompleted:HeaderSize], w.dirs); err != nil {
		t.Fatalf("patchHeaderBuf: %v", err)
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	data := writeSimpleScript(t)

	s, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if s.StreamType != StreamVideo || s.Coding != CodingH264 {
		t.Fatalf("unexpected stream/coding: %v/%v", s.StreamType, s.Coding)
	}
	if s.PTSReference != 100 || s.PTSFinal != 200 {
		t.Fatalf("unexpected PTS reference/final: %d/%d", s.PTSReference, s.PTSFinal)
	}
	if len(s.SourceFiles) != 1 {
		t.Fatalf("expected 1 source file, got %d", len(s.SourceFiles))
	}
	if len(s.Frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(s.Frames))
	}

	f0 := s.Frames[0]
	if f0.PicType != PictureI || f0.PTS != 100 || !f0.HasDTS || f0.DTS != 90 {
		t.Fatalf("unexpected frame 0: %+v", f0)
	}
	if len(f0.Commands) != 1 {
		t.Fatalf("expected 1 command in frame 0, got %d", len(f0.Commands))
	}
	got, ok := f0.Commands[0].(*AddPayloadData)
	if !ok {
		t.Fatalf("expected *AddPayloadData, got %T", f0.Commands[0])
	}
	want := &AddPayloadData{SrcFileIdx: 0, DstOffset: 0, SrcOffset: 0, Size: 64}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("AddPayloadData mismatch (-want +got):\n%s", diff)
	}
	if f0.Length != 64 {
		t.Errorf("frame 0 reconstructed length = %d, want 64", f0.Length)
	}

	f1 := s.Frames[1]
	if f1.Length != 8 {
		t.Errorf("frame 1 reconstructed length = %d, want 8", f1.Length)
	}
}

func TestReconstructedLength(t *testing.T) {
	cases := []struct {
		name string
		cmds []Command
		want uint32
	}{
		{
			name: "single erase bound",
			cmds: []Command{&AddData{Offset: 10, Mode: ModeErase, Data: []byte{1, 2, 3}}},
			want: 13,
		},
		{
			name: "insert accumulates",
			cmds: []Command{
				&AddPaddingData{Mode: ModeInsert, Length: 4},
				&AddPaddingData{Mode: ModeInsert, Length: 6},
			},
			want: 10,
		},
		{
			name: "byte order change contributes nothing",
			cmds: []Command{
				&AddData{Offset: 0, Mode: ModeErase, Data: []byte{1, 2}},
				&ChangeByteOrder{UnitSize: 2, Offset: 0, Length: 2},
			},
			want: 2,
		},
		{
			name: "max of multiple erase bounds",
			cmds: []Command{
				&AddData{Offset: 0, Mode: ModeErase, Data: []byte{1, 2}},
				&AddPaddingData{Offset: 100, Mode: ModeErase, Length: 1},
			},
			want: 101,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := reconstructedLength(c.cmds); got != c.want {
				t.Errorf("reconstructedLength() = %d, want %d", got, c.want)
			}
		})
	}
}

func TestDuplicateDirectoryRejected(t *testing.T) {
	dirs := []dirEntry{{DirESProperties, 10}, {DirESProperties, 20}}
	buf := make([]byte, HeaderSize)
	if err := patchHeader(buf, dirs); err != ErrDuplicateDirectory {
		t.Fatalf("patchHeader() = %v, want ErrDuplicateDirectory", err)
	}
}

func TestTooManyDirectoriesRejected(t *testing.T) {
	dirs := []dirEntry{
		{DirESProperties, 1}, {DirPESCutting, 2}, {DirDataBlocks, 3}, {DirFmtSpecProperties, 4}, {DirESProperties + 10, 5},
	}
	buf := make([]byte, HeaderSize)
	if err := patchHeader(buf, dirs); err != ErrTooManyDirectories {
		t.Fatalf("patchHeader() = %v, want ErrTooManyDirectories", err)
	}
}

func TestDuplicateSourceFileRejected(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "src")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	w := Create(StreamAudio, CodingAC3, nil, Options{}, nil)
	if _, err := w.AppendSourceFile(f.Name()); err != nil {
		t.Fatalf("first AppendSourceFile: %v", err)
	}
	if _, err := w.AppendSourceFile(f.Name()); err != ErrDuplicateSourceFile {
		t.Fatalf("second AppendSourceFile = %v, want ErrDuplicateSourceFile", err)
	}
}

func TestFrameOpenGuards(t *testing.T) {
	w := Create(StreamVideo, CodingH262, &VideoFmtSpecProps{}, Options{}, nil)
	if err := w.InitVideoFrame(PictureI, false, 0, 0); err != nil {
		t.Fatalf("InitVideoFrame: %v", err)
	}
	if err := w.InitVideoFrame(PictureI, false, 0, 0); err != ErrFrameOpen {
		t.Fatalf("second InitVideoFrame = %v, want ErrFrameOpen", err)
	}
	var buf bytes.Buffer
	if err := w.WriteFrame(&buf); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := w.WriteFrame(&buf); err != ErrNoFrameOpen {
		t.Fatalf("second WriteFrame = %v, want ErrNoFrameOpen", err)
	}
}

func TestExtensionDataRejectedForNonH264(t *testing.T) {
	w := Create(StreamVideo, CodingH262, &VideoFmtSpecProps{}, Options{}, nil)
	if err := w.InitVideoFrame(PictureI, false, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := w.SetExtensionData([]byte{1, 2}); err != ErrExtensionUnsupported {
		t.Fatalf("SetExtensionData = %v, want ErrExtensionUnsupported", err)
	}
}
