package gstengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/frame-bridge/internal/engine"
)

// monitorBus translates pipeline bus messages into engine events until ctx is
// cancelled.
//
// Unlike a live source, a file pipeline does not stop on EOS or error: the
// playback graph decides (loop-to-start on EOS, log on error).
func monitorBus(ctx context.Context, pipeline *gst.Pipeline, graphID string, post func(engine.Event)) {
	bus := pipeline.GetPipelineBus()
	started := time.Now()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("gst: context cancelled, stopping bus monitor", "graph_id", graphID)
			return
		default:
		}

		// Poll for messages with short timeout for responsive shutdown
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Debug("gst: end of stream received",
				"graph_id", graphID,
				"uptime", time.Since(started),
			)
			post(engine.Event{Code: engine.EventComplete})

		case gst.MessageError:
			gerr := msg.ParseError()
			category := ClassifyGStreamerError(gerr)
			slog.Error("gst: pipeline error",
				"graph_id", graphID,
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
			)
			post(engine.Event{
				Code: engine.EventError,
				Err:  fmt.Errorf("gst: pipeline error [%s]: %s", category, gerr.Error()),
			})

		case gst.MessageStateChanged:
			if msg.Source() != pipeline.GetName() {
				continue
			}
			old, new := msg.ParseStateChanged()
			slog.Debug("gst: pipeline state changed", "graph_id", graphID, "from", old, "to", new)
			post(engine.Event{Code: engine.EventStateChanged, State: mapState(new)})
		}
	}
}

// waitPreroll pops bus messages until the pipeline finishes its asynchronous
// transition to PAUSED, reports an error, or the deadline passes.
func waitPreroll(ctx context.Context, pipeline *gst.Pipeline, timeout time.Duration) error {
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageAsyncDone:
			return nil
		case gst.MessageError:
			gerr := msg.ParseError()
			return fmt.Errorf("preroll failed [%s]: %s", ClassifyGStreamerError(gerr), gerr.Error())
		case gst.MessageEOS:
			return fmt.Errorf("preroll reached end of stream before the first frame")
		}
	}
	return fmt.Errorf("preroll timeout after %v", timeout)
}

func mapState(s gst.State) engine.State {
	switch s {
	case gst.StatePlaying:
		return engine.StateRunning
	case gst.StatePaused:
		return engine.StatePaused
	default:
		return engine.StateStopped
	}
}
