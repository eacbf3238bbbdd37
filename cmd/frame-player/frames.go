package main

import (
	"fmt"
	"image"
	"path/filepath"

	framebridge "github.com/e7canasta/frame-bridge"
)

// copyRows copies the visible rows of s into a locked texture buffer with the
// given pitch. Padding bytes at the end of each row are left alone.
func copyRows(pixels []byte, pitch int, s *framebridge.Surface) error {
	row := s.Width * s.Format.BytesPerPixel()
	if pitch < row {
		return fmt.Errorf("texture pitch %d smaller than row %d", pitch, row)
	}
	if len(pixels) < pitch*(s.Height-1)+row {
		return fmt.Errorf("texture buffer %d too small for %dx%d", len(pixels), s.Width, s.Height)
	}
	for y := 0; y < s.Height; y++ {
		copy(pixels[y*pitch:y*pitch+row], s.Pix[y*s.Stride:y*s.Stride+row])
	}
	return nil
}

// retainFrame copies s into dst as RGBA, reallocating dst when the geometry
// changed. The surface goes back to the pool after upload, so anything drawn
// later (snapshots) needs its own copy.
func retainFrame(dst *image.RGBA, s *framebridge.Surface) *image.RGBA {
	src := s.Image()
	if dst == nil || dst.Rect != src.Rect || dst.Stride != src.Stride {
		dst = &image.RGBA{
			Pix:    make([]byte, len(src.Pix)),
			Stride: src.Stride,
			Rect:   src.Rect,
		}
	}
	copy(dst.Pix, src.Pix)
	return dst
}

// snapshotPath names the n-th snapshot of a graph.
func snapshotPath(dir, graphID string, n int) string {
	if len(graphID) > 8 {
		graphID = graphID[:8]
	}
	return filepath.Join(dir, fmt.Sprintf("snapshot-%s-%04d.png", graphID, n))
}
