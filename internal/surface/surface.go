// Package surface owns the negotiated frame buffers exchanged between the media
// engine's streaming thread and the host render thread.
//
// Ownership of a Surface moves strictly in sequence:
//
//	Idle (pool) → Filling (engine) → Presented (ready slot / render thread) → Idle
//
// The pool is the only party that flips these states, so two owners never hold the
// same Surface at once.
package surface

import (
	"fmt"
	"image"
	"strings"
	"time"
)

// Format is the pixel layout of a negotiated surface.
type Format int

const (
	// FormatRGBA is 8-bit interleaved R, G, B, A.
	FormatRGBA Format = iota
	// FormatBGRA is 8-bit interleaved B, G, R, A (SDL ARGB8888 on little-endian).
	FormatBGRA
)

// BytesPerPixel returns the pixel size in bytes.
func (f Format) BytesPerPixel() int {
	return 4
}

// String returns the GStreamer caps name of the format.
func (f Format) String() string {
	switch f {
	case FormatRGBA:
		return "RGBA"
	case FormatBGRA:
		return "BGRA"
	default:
		return "unknown"
	}
}

// ParseFormat maps a caps format name to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToUpper(name) {
	case "RGBA":
		return FormatRGBA, nil
	case "BGRA":
		return FormatBGRA, nil
	default:
		return 0, fmt.Errorf("surface: unsupported pixel format %q (must be RGBA or BGRA)", name)
	}
}

// Negotiation is the agreed surface geometry. It is fixed for the life of a graph
// and re-run only on device-lost recovery.
type Negotiation struct {
	Width  int
	Height int
	Format Format
	Count  int
}

// Validate rejects geometry that cannot back a surface.
func (n Negotiation) Validate() error {
	if n.Width <= 0 || n.Height <= 0 {
		return fmt.Errorf("surface: invalid dimensions %dx%d", n.Width, n.Height)
	}
	if n.Count <= 0 {
		return fmt.Errorf("surface: invalid surface count %d", n.Count)
	}
	if n.Format != FormatRGBA && n.Format != FormatBGRA {
		return fmt.Errorf("surface: invalid format %d", n.Format)
	}
	return nil
}

// Stride returns the row length in bytes.
func (n Negotiation) Stride() int {
	return n.Width * n.Format.BytesPerPixel()
}

// FrameSize returns the size of one surface in bytes.
func (n Negotiation) FrameSize() int {
	return n.Stride() * n.Height
}

// SameGeometry reports whether two negotiations describe identical surfaces,
// ignoring the surface count.
func (n Negotiation) SameGeometry(o Negotiation) bool {
	return n.Width == o.Width && n.Height == o.Height && n.Format == o.Format
}

// String returns "WxH FORMAT xN".
func (n Negotiation) String() string {
	return fmt.Sprintf("%dx%d %s x%d", n.Width, n.Height, n.Format, n.Count)
}

type ownership uint8

const (
	idle ownership = iota
	filling
	presented
)

func (o ownership) String() string {
	switch o {
	case idle:
		return "idle"
	case filling:
		return "filling"
	case presented:
		return "presented"
	default:
		return "unknown"
	}
}

// Surface is one frame buffer. Pix is written only while the engine holds the
// surface (Filling) and read only while it is Presented.
type Surface struct {
	// Index is the slot of the surface inside its pool.
	Index int
	// Generation identifies the allocation the surface belongs to. Every Allocate
	// call, in any pool, gets a fresh generation.
	Generation uint64

	Width  int
	Height int
	Stride int
	Format Format
	Pix    []byte

	// PTS is the engine presentation timestamp of the frame last written.
	PTS time.Duration
	// Seq is the presentation sequence number assigned by the allocator bridge.
	Seq uint64

	pool  *Pool
	state ownership // guarded by pool.mu
}

// Release hands the surface back to the pool that allocated it. Releasing a surface
// whose allocation was freed is a no-op.
func (s *Surface) Release() {
	if s == nil || s.pool == nil {
		return
	}
	_ = s.pool.Release(s)
}

// Image returns the pixels as an *image.RGBA. RGBA surfaces are wrapped without a
// copy, so the result must not outlive the caller's ownership of the surface.
func (s *Surface) Image() *image.RGBA {
	rect := image.Rect(0, 0, s.Width, s.Height)
	if s.Format == FormatRGBA {
		return &image.RGBA{Pix: s.Pix, Stride: s.Stride, Rect: rect}
	}

	img := image.NewRGBA(rect)
	for y := 0; y < s.Height; y++ {
		src := s.Pix[y*s.Stride : y*s.Stride+s.Width*4]
		dst := img.Pix[y*img.Stride : y*img.Stride+s.Width*4]
		for x := 0; x < len(src); x += 4 {
			dst[x+0] = src[x+2]
			dst[x+1] = src[x+1]
			dst[x+2] = src[x+0]
			dst[x+3] = src[x+3]
		}
	}
	return img
}
