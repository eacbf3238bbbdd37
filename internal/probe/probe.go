// Package probe inspects a media file before it is handed to the engine.
//
// The probe is lenient: it rejects paths the engine could never open (missing,
// unreadable, empty, directories) and ISO-BMFF files whose box structure does not
// decode. Every other container passes through with Container "unknown"; the
// engine's own typefinding decides whether it can play it.
package probe

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Eyevinn/mp4ff/mp4"
)

const (
	ContainerMP4     = "mp4"
	ContainerUnknown = "unknown"
)

// ErrEmpty is returned for zero-length files.
var ErrEmpty = errors.New("probe: empty file")

// Info describes a probed file.
type Info struct {
	Path      string
	Size      int64
	Container string

	// Populated for MP4 sources only.
	Fragmented bool
	Codec      string
	Width      int
	Height     int
	Duration   time.Duration
}

// Inspect checks that path is a readable, non-empty regular file and reads the
// MP4 headers if it is one.
func Inspect(path string) (Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("probe: stat: %w", err)
	}
	if st.IsDir() {
		return Info{}, fmt.Errorf("probe: %s is a directory", path)
	}
	if st.Size() == 0 {
		return Info{}, fmt.Errorf("%w: %s", ErrEmpty, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("probe: open: %w", err)
	}
	defer f.Close()

	info := Info{Path: path, Size: st.Size(), Container: ContainerUnknown}

	isMP4, err := sniffMP4(f)
	if err != nil {
		return Info{}, err
	}
	if !isMP4 {
		return info, nil
	}

	if err := inspectMP4(f, &info); err != nil {
		return Info{}, err
	}
	return info, nil
}

// sniffMP4 reports whether the file starts with an ftyp box and rewinds it.
func sniffMP4(r io.ReadSeeker) (bool, error) {
	var head [8]byte
	n, err := io.ReadFull(r, head[:])
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return false, fmt.Errorf("probe: read header: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return false, fmt.Errorf("probe: seek: %w", err)
	}
	return n == len(head) && bytes.Equal(head[4:8], []byte("ftyp")), nil
}

func inspectMP4(r io.ReadSeeker, info *Info) error {
	mp4File, err := mp4.DecodeFile(r)
	if err != nil {
		return fmt.Errorf("probe: decode mp4: %w", err)
	}

	info.Container = ContainerMP4
	info.Fragmented = mp4File.IsFragmented()

	moov := mp4File.Moov
	if moov == nil && mp4File.Init != nil {
		moov = mp4File.Init.Moov
	}
	if moov == nil {
		return errors.New("probe: mp4 has no moov box")
	}

	if moov.Mvhd != nil && moov.Mvhd.Timescale > 0 {
		info.Duration = time.Duration(moov.Mvhd.Duration) * time.Second / time.Duration(moov.Mvhd.Timescale)
	}

	for _, trak := range moov.Traks {
		if trak.Mdia == nil || trak.Mdia.Hdlr == nil || trak.Mdia.Hdlr.HandlerType != "vide" {
			continue
		}
		if trak.Tkhd != nil {
			info.Width = int(trak.Tkhd.Width >> 16)
			info.Height = int(trak.Tkhd.Height >> 16)
		}
		info.Codec = sampleEntry(trak)
		return nil
	}

	return errors.New("probe: no video track found")
}

func sampleEntry(trak *mp4.TrakBox) string {
	if trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil || trak.Mdia.Minf.Stbl.Stsd == nil {
		return ""
	}
	for _, child := range trak.Mdia.Minf.Stbl.Stsd.Children {
		return child.Type()
	}
	return ""
}
