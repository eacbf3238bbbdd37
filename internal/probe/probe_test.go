package probe

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Eyevinn/mp4ff/mp4"
)

// writeInitSegment writes ftyp+moov with a single video track of the given size.
func writeInitSegment(t *testing.T, path string, width, height int) {
	t.Helper()

	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(90000, "video", "und")
	trak := init.Moov.Trak
	trak.Tkhd.Width = mp4.Fixed32(width << 16)
	trak.Tkhd.Height = mp4.Fixed32(height << 16)

	var buf bytes.Buffer
	ftyp := mp4.NewFtyp("isom", 0x200, []string{"isom", "iso2", "mp41"})
	if err := ftyp.Encode(&buf); err != nil {
		t.Fatalf("encode ftyp: %v", err)
	}
	if err := init.Moov.Encode(&buf); err != nil {
		t.Fatalf("encode moov: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}

func TestInspect_MP4(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	writeInitSegment(t, path, 640, 360)

	info, err := Inspect(path)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if info.Container != ContainerMP4 {
		t.Errorf("expected container %q, got %q", ContainerMP4, info.Container)
	}
	if info.Width != 640 || info.Height != 360 {
		t.Errorf("expected 640x360, got %dx%d", info.Width, info.Height)
	}
	if info.Size == 0 {
		t.Error("expected non-zero size")
	}
	t.Logf("probe: %+v", info)
}

// Non-MP4 content is not judged here; the engine's typefinding decides.
func TestInspect_UnknownContainerPassesThrough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mkv")
	if err := os.WriteFile(path, []byte("\x1a\x45\xdf\xa3 not really matroska"), 0o644); err != nil {
		t.Fatal(err)
	}

	info, err := Inspect(path)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if info.Container != ContainerUnknown {
		t.Errorf("expected container %q, got %q", ContainerUnknown, info.Container)
	}
}

func TestInspect_Rejects(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.mp4")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	// An ftyp box alone sniffs as MP4 but carries no movie header.
	var buf bytes.Buffer
	if err := mp4.NewFtyp("isom", 0x200, []string{"isom"}).Encode(&buf); err != nil {
		t.Fatal(err)
	}
	noMoov := filepath.Join(dir, "nomoov.mp4")
	if err := os.WriteFile(noMoov, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing", filepath.Join(dir, "missing.mp4")},
		{"directory", dir},
		{"empty", empty},
		{"ftyp without moov", noMoov},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Inspect(tt.path); err == nil {
				t.Errorf("expected error for %s", tt.path)
			}
		})
	}

	if _, err := Inspect(empty); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}
