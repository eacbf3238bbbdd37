package gstengine

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/frame-bridge/internal/engine"
	"github.com/e7canasta/frame-bridge/internal/surface"
)

// CallbackContext holds state needed by the appsink callbacks. Callbacks run on
// the GStreamer streaming thread, one at a time.
type CallbackContext struct {
	// Allocator returns the registered allocator, or nil when none is registered.
	Allocator func() engine.SurfaceAllocator
	Format    surface.Format
	Surfaces  int
	Frames    *atomic.Uint64 // presented
	Dropped   *atomic.Uint64 // no allocator, no idle surface, or stale on present

	// current is the geometry last accepted by the allocator (streaming thread only).
	current surface.Negotiation
}

// OnSample runs one allocator cycle for a decoded frame: negotiate surfaces if the
// caps geometry changed, acquire a surface, copy the mapped buffer into it and
// present it.
//
// It never blocks: with no idle surface the frame is dropped and the pipeline
// continues. Only a negotiation the allocator rejects is fatal (gst.FlowError).
func OnSample(sample *gst.Sample, ctx *CallbackContext) gst.FlowReturn {
	if sample == nil {
		// Graceful degradation: skip frame instead of terminating stream
		slog.Warn("gst: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	alloc := ctx.Allocator()
	if alloc == nil {
		ctx.Dropped.Add(1)
		return gst.FlowOK
	}

	width, height, err := capsGeometry(sample.GetCaps())
	if err != nil {
		slog.Warn("gst: sample without usable caps, skipping frame", "error", err)
		return gst.FlowOK
	}

	if width != ctx.current.Width || height != ctx.current.Height {
		n, err := alloc.InitializeDevice(surface.Negotiation{
			Width:  width,
			Height: height,
			Format: ctx.Format,
			Count:  ctx.Surfaces,
		})
		if err != nil {
			slog.Error("gst: surface negotiation rejected",
				"width", width,
				"height", height,
				"error", err,
			)
			return gst.FlowError
		}
		ctx.current = n
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gst: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	s, err := alloc.GetSurface()
	if err != nil {
		ctx.Dropped.Add(1)
		slog.Debug("gst: dropping frame, no surface", "error", err)
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		alloc.ReleaseSurface(s)
		slog.Warn("gst: empty buffer received")
		return gst.FlowOK
	}
	if n := copy(s.Pix, data); n != len(s.Pix) {
		slog.Debug("gst: short frame buffer", "got", n, "want", len(s.Pix))
	}
	buffer.Unmap()

	if pts := buffer.PresentationTimestamp(); pts >= 0 {
		s.PTS = time.Duration(pts)
	}

	if err := alloc.PresentImage(s); err != nil {
		ctx.Dropped.Add(1)
		slog.Debug("gst: present rejected", "error", err)
		return gst.FlowOK
	}
	ctx.Frames.Add(1)
	return gst.FlowOK
}

// OnPadAdded links decodebin's video pad to the converter. decodebin creates one
// pad per decoded stream once typefinding completes; audio pads are ignored and
// only the first video stream is linked.
func OnPadAdded(srcPad *gst.Pad, sinkElement *gst.Element) {
	slog.Debug("gst: pad-added signal received", "pad", srcPad.GetName())

	if caps := srcPad.GetCurrentCaps(); caps != nil && caps.GetSize() > 0 {
		if name := caps.GetStructureAt(0).Name(); !strings.HasPrefix(name, "video/") {
			slog.Debug("gst: ignoring non-video pad", "pad", srcPad.GetName(), "caps", name)
			return
		}
	}

	sinkPad := sinkElement.GetStaticPad("sink")
	if sinkPad == nil {
		slog.Error("gst: failed to get sink pad from videoconvert")
		return
	}
	if sinkPad.IsLinked() {
		slog.Debug("gst: video already linked, ignoring extra stream", "pad", srcPad.GetName())
		return
	}

	if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
		slog.Error("gst: failed to link pads",
			"src_pad", srcPad.GetName(),
			"sink_pad", sinkPad.GetName(),
			"ret", ret,
		)
		return
	}

	slog.Debug("gst: pads linked successfully",
		"src_pad", srcPad.GetName(),
		"sink_pad", sinkPad.GetName(),
	)
}

// capsGeometry extracts width and height from raw video caps.
func capsGeometry(caps *gst.Caps) (int, int, error) {
	if caps == nil || caps.GetSize() == 0 {
		return 0, 0, fmt.Errorf("no caps")
	}
	structure := caps.GetStructureAt(0)

	var width, height int
	if val, err := structure.GetValue("width"); err == nil {
		width, _ = val.(int)
	}
	if val, err := structure.GetValue("height"); err == nil {
		height, _ = val.(int)
	}
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("caps %s carry no geometry", structure.Name())
	}
	return width, height, nil
}
