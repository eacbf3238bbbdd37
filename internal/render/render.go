// Package render composes decoded frames onto a letterboxed canvas.
//
// The SDL host only needs FitCentered to place its texture; the headless command
// draws the whole frame through Canvas and writes PNG snapshots.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"
)

// FitCentered returns the largest rectangle with the source aspect ratio that
// fits inside a dstW x dstH area, centered. It is empty when any side is <= 0.
func FitCentered(srcW, srcH, dstW, dstH int) image.Rectangle {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return image.Rectangle{}
	}

	w, h := dstW, srcH*dstW/srcW
	if h > dstH {
		w, h = srcW*dstH/srcH, dstH
	}
	x := (dstW - w) / 2
	y := (dstH - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

// Canvas is a fixed-size drawing surface cleared to a background color.
type Canvas struct {
	dc *gg.Context
	bg color.Color
}

// NewCanvas creates a width x height canvas cleared to black.
func NewCanvas(width, height int) *Canvas {
	c := &Canvas{dc: gg.NewContext(width, height), bg: color.Black}
	c.Clear()
	return c
}

// Width returns the canvas width in pixels.
func (c *Canvas) Width() int { return c.dc.Width() }

// Height returns the canvas height in pixels.
func (c *Canvas) Height() int { return c.dc.Height() }

// Clear fills the canvas with the background color.
func (c *Canvas) Clear() {
	c.dc.SetColor(c.bg)
	c.dc.Clear()
}

// DrawFrame scales img into the fit-centered rectangle and returns it. Bars
// outside the rectangle keep the background color.
func (c *Canvas) DrawFrame(img image.Image) image.Rectangle {
	b := img.Bounds()
	fit := FitCentered(b.Dx(), b.Dy(), c.Width(), c.Height())
	if fit.Empty() {
		return fit
	}

	scaled := image.NewRGBA(image.Rect(0, 0, fit.Dx(), fit.Dy()))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, b, draw.Src, nil)
	c.dc.DrawImage(scaled, fit.Min.X, fit.Min.Y)
	return fit
}

// DrawCaption writes a single line of text in the bottom-left corner.
func (c *Canvas) DrawCaption(text string) {
	c.dc.SetColor(color.White)
	c.dc.DrawStringAnchored(text, 8, float64(c.Height()-8), 0, 0)
}

// Image returns the canvas contents.
func (c *Canvas) Image() image.Image {
	return c.dc.Image()
}

// EncodePNG writes the canvas as PNG to w.
func (c *Canvas) EncodePNG(w io.Writer) error {
	if err := png.Encode(w, c.dc.Image()); err != nil {
		return fmt.Errorf("render: encode PNG: %w", err)
	}
	return nil
}

// SavePNG writes the canvas as a PNG file.
func (c *Canvas) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("render: create %s: %w", path, err)
	}
	if err := c.EncodePNG(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
