package gstengine

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/frame-bridge/internal/surface"
)

// requiredElements are the factories a playback pipeline cannot be built without.
var requiredElements = []string{"filesrc", "decodebin", "videoconvert", "appsink"}

// PipelineConfig contains configuration for GStreamer pipeline creation
type PipelineConfig struct {
	Name   string
	Path   string
	Format surface.Format
}

// PipelineElements holds references to GStreamer pipeline elements
type PipelineElements struct {
	Pipeline  *gst.Pipeline
	Source    *gst.Element
	Decoder   *gst.Element
	Converter *gst.Element
	AppSink   *app.Sink
}

// CreatePipeline creates a playback pipeline for a local file
//
// Pipeline structure:
//
//	filesrc → decodebin ⇢ videoconvert → appsink(video/x-raw,format=RGBA|BGRA)
//
// decodebin has dynamic pads; only its video pad is linked (see OnPadAdded).
// Audio pads stay unlinked and are discarded.
//
// The appsink syncs against the pipeline clock so presentation timing stays with
// the engine. max-buffers=1 + drop=true: a slow allocator drops, never queues.
//
// The pipeline is configured but NOT started (state remains NULL).
func CreatePipeline(cfg PipelineConfig) (*PipelineElements, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline(cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	filesrc, err := gst.NewElement("filesrc")
	if err != nil {
		return nil, fmt.Errorf("failed to create filesrc: %w", err)
	}
	filesrc.SetProperty("location", cfg.Path)

	decodebin, err := gst.NewElement("decodebin")
	if err != nil {
		return nil, fmt.Errorf("failed to create decodebin: %w", err)
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	converter.SetProperty("n-threads", 0) // 0 = auto-detect cores

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	capsStr := sinkCaps(cfg.Format)
	appsink.SetProperty("caps", gst.NewCapsFromString(capsStr))
	appsink.SetProperty("sync", true)     // present on the pipeline clock
	appsink.SetProperty("max-buffers", 1) // keep only the latest frame
	appsink.SetProperty("drop", true)
	appsink.SetProperty("qos", true) // let upstream drop before decoding when late

	if err := pipeline.AddMany(filesrc, decodebin, converter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to add pipeline elements: %w", err)
	}
	if err := filesrc.Link(decodebin); err != nil {
		return nil, fmt.Errorf("failed to link filesrc to decodebin: %w", err)
	}
	if err := converter.Link(appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to link videoconvert to appsink: %w", err)
	}

	slog.Debug("gst: pipeline created",
		"pipeline", cfg.Name,
		"path", cfg.Path,
		"caps", capsStr,
	)

	return &PipelineElements{
		Pipeline:  pipeline,
		Source:    filesrc,
		Decoder:   decodebin,
		Converter: converter,
		AppSink:   appsink,
	}, nil
}

// DestroyPipeline sets the pipeline to NULL, releasing every resource.
// Safe to call even if the pipeline is already destroyed.
func DestroyPipeline(elements *PipelineElements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}
	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

// checkElements verifies every required element factory is installed.
//
// This is a fail-fast validation that runs before any graph is built.
func checkElements() error {
	gst.Init(nil)

	for _, name := range requiredElements {
		elem, err := gst.NewElement(name)
		if err != nil {
			return fmt.Errorf("GStreamer element %q not available: %w", name, err)
		}
		elem.SetState(gst.StateNull)
	}
	return nil
}

func sinkCaps(f surface.Format) string {
	return fmt.Sprintf("video/x-raw,format=%s", f)
}
