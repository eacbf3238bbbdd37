package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	framebridge "github.com/e7canasta/frame-bridge"
	"github.com/e7canasta/frame-bridge/internal/cadence"
	"github.com/e7canasta/frame-bridge/internal/engine/gstengine"
	"github.com/e7canasta/frame-bridge/internal/render"
)

var headlessOpts struct {
	frames    int
	every     int
	width     int
	height    int
	timeout   time.Duration
	outputDir string
}

var headlessCmd = &cobra.Command{
	Use:   "headless <file>",
	Short: "Play a file without a window, writing letterboxed PNG snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		graphCfg, err := cfg.Graph(0)
		if err != nil {
			return err
		}
		graph, err := framebridge.NewGraph(gstengine.NewFactory(), graphCfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := graph.Close(); err != nil {
				slog.Warn("headless: close", "error", err)
			}
		}()

		opts := headlessOptions{
			Frames:    headlessOpts.frames,
			Every:     headlessOpts.every,
			Width:     headlessOpts.width,
			Height:    headlessOpts.height,
			Timeout:   headlessOpts.timeout,
			OutputDir: headlessOpts.outputDir,
			Stats:     cfg.Diagnostics.StatsInterval,
		}
		if opts.OutputDir == "" {
			opts.OutputDir = cfg.Diagnostics.SnapshotDir
		}
		return runHeadless(ctx, graph, args[0], opts, cmd.OutOrStdout())
	},
}

func init() {
	f := headlessCmd.Flags()
	f.IntVarP(&headlessOpts.frames, "frames", "n", 100, "frames to render before exiting (0 = until timeout)")
	f.IntVar(&headlessOpts.every, "every", 25, "write a snapshot every N rendered frames (0 = none)")
	f.IntVar(&headlessOpts.width, "width", 640, "snapshot width")
	f.IntVar(&headlessOpts.height, "height", 360, "snapshot height")
	f.DurationVar(&headlessOpts.timeout, "timeout", 30*time.Second, "maximum run time")
	f.StringVarP(&headlessOpts.outputDir, "output", "o", "", "snapshot directory (default diagnostics.snapshot_dir)")
}

type headlessOptions struct {
	Frames    int
	Every     int
	Width     int
	Height    int
	Timeout   time.Duration
	OutputDir string
	Stats     time.Duration
}

// runHeadless opens path and renders a frame on every FrameReady wake-up. It
// stops once Frames have been rendered, on timeout, or when ctx is cancelled,
// then prints the final statistics to out.
func runHeadless(ctx context.Context, graph *framebridge.Graph, path string, opts headlessOptions, out io.Writer) error {
	if opts.Every > 0 {
		if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	start := time.Now()
	if err := graph.Open(ctx, path); err != nil {
		return err
	}
	slog.Info("headless: playing", "path", path, "graph_id", graph.ID())

	canvas := render.NewCanvas(opts.Width, opts.Height)
	tracker := cadence.NewTracker(0)
	rendered, saved := 0, 0
	upload := func(s *framebridge.Surface) error {
		rendered++
		tracker.Mark()
		if opts.Every <= 0 || rendered%opts.Every != 0 {
			return nil
		}
		canvas.Clear()
		canvas.DrawFrame(s.Image())
		canvas.DrawCaption(fmt.Sprintf("#%d  %s", s.Seq, s.PTS.Round(time.Millisecond)))

		saved++
		p := snapshotPath(opts.OutputDir, graph.ID(), saved)
		if err := canvas.SavePNG(p); err != nil {
			return err
		}
		slog.Debug("headless: snapshot saved", "path", p, "seq", s.Seq)
		return nil
	}

	var timeout <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var statsC <-chan time.Time
	if opts.Stats > 0 {
		ticker := time.NewTicker(opts.Stats)
		defer ticker.Stop()
		statsC = ticker.C
	}

	// End-of-stream and errors arrive without a frame, so events are also
	// drained on a short poll.
	events := time.NewTicker(20 * time.Millisecond)
	defer events.Stop()

	ready := graph.FrameReady()
loop:
	for opts.Frames <= 0 || rendered < opts.Frames {
		select {
		case <-ctx.Done():
			slog.Info("headless: interrupted")
			break loop
		case <-timeout:
			slog.Info("headless: timeout reached", "rendered", rendered)
			break loop
		case <-statsC:
			printStats(out, graph.Stats(), tracker.Summarize(), time.Since(start))
		case <-events.C:
			graph.ProcessEvents()
		case <-ready:
			if _, err := graph.Tick(upload); err != nil {
				return err
			}
		}
		if err := graph.LastError(); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
	}

	if err := graph.Stop(); err != nil {
		slog.Warn("headless: stop", "error", err)
	}
	printStats(out, graph.Stats(), tracker.Summarize(), time.Since(start))
	fmt.Fprintf(out, "  Snapshots:          %d\n", saved)
	return nil
}

func printStats(out io.Writer, st framebridge.Stats, cad cadence.Stats, uptime time.Duration) {
	fmt.Fprintf(out, "\n")
	fmt.Fprintf(out, "╭─────────────────────────────────────────────────────────╮\n")
	fmt.Fprintf(out, "│ Graph Statistics (Uptime: %s)\n", uptime.Round(time.Second))
	fmt.Fprintf(out, "├─────────────────────────────────────────────────────────┤\n")
	fmt.Fprintf(out, "│ Graph:              %s\n", st.GraphID)
	fmt.Fprintf(out, "│ State:              %s\n", st.State)
	fmt.Fprintf(out, "│ Surfaces:           %d x %s\n", st.SurfacesAllocated, st.Negotiation)
	fmt.Fprintf(out, "│ Frames Presented:   %6d\n", st.FramesPresented)
	fmt.Fprintf(out, "│ Frames Rendered:    %6d\n", st.FramesRendered)
	fmt.Fprintf(out, "│ Frames Overwritten: %6d\n", st.FramesOverwritten)
	if st.FramesBusy > 0 || st.FramesDropped > 0 {
		fmt.Fprintf(out, "│ Frames Busy:        %6d\n", st.FramesBusy)
		fmt.Fprintf(out, "│ Frames Dropped:     %6d\n", st.FramesDropped)
	}
	fmt.Fprintf(out, "│ Loops:              %6d\n", st.Loops)
	if cad.Frames > 1 {
		fmt.Fprintf(out, "│ Render FPS:         %6.2f fps (±%.2f)\n", cad.FPSMean, cad.FPSStdDev)
		fmt.Fprintf(out, "│ Render Jitter:      %6.3f s (max %.3f)\n", cad.JitterMean, cad.JitterMax)
		fmt.Fprintf(out, "│ Stable:             %6v\n", cad.Stable)
	}
	if st.DeviceLost > 0 {
		fmt.Fprintf(out, "│ Device Lost:        %6d\n", st.DeviceLost)
	}
	fmt.Fprintf(out, "╰─────────────────────────────────────────────────────────╯\n")
}
