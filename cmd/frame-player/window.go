package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/veandco/go-sdl2/sdl"

	framebridge "github.com/e7canasta/frame-bridge"
	"github.com/e7canasta/frame-bridge/internal/cadence"
	"github.com/e7canasta/frame-bridge/internal/config"
	"github.com/e7canasta/frame-bridge/internal/engine/gstengine"
	"github.com/e7canasta/frame-bridge/internal/render"
)

func init() {
	// SDL video calls must stay on the main OS thread.
	runtime.LockOSThread()
}

var playCmd = &cobra.Command{
	Use:   "play [files...]",
	Short: "Play files in an SDL window ('o' opens the next file)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		h, err := newHost(cfg, args)
		if err != nil {
			return err
		}
		defer h.close()
		return h.run(ctx)
	},
}

// host owns the SDL window and the render loop. A graph is created only when the
// environment supports it; otherwise the window stays up, black, and degraded.
type host struct {
	cfg      *config.Config
	playlist []string
	next     int

	window   *sdl.Window
	renderer *sdl.Renderer
	texture  *sdl.Texture
	texW     int32
	texH     int32
	texFmt   framebridge.Format

	graph      *framebridge.Graph
	degraded   bool
	fullscreen bool

	last      *image.RGBA
	snapshots int
	cadence   *cadence.Tracker
	lastStats time.Time
}

func newHost(c *config.Config, playlist []string) (*host, error) {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, fmt.Errorf("%w: sdl init: %w", framebridge.ErrEnvironmentUnsupported, err)
	}

	flags := uint32(sdl.WINDOW_SHOWN | sdl.WINDOW_RESIZABLE)
	if c.Window.Fullscreen {
		flags |= sdl.WINDOW_FULLSCREEN_DESKTOP
	}
	window, err := sdl.CreateWindow(c.Window.Title, sdl.WINDOWPOS_CENTERED, sdl.WINDOWPOS_CENTERED,
		int32(c.Window.Width), int32(c.Window.Height), flags)
	if err != nil {
		sdl.Quit()
		return nil, fmt.Errorf("create window: %w", err)
	}

	h := &host{
		cfg:        c,
		playlist:   playlist,
		window:     window,
		fullscreen: c.Window.Fullscreen,
		cadence:    cadence.NewTracker(0),
		lastStats:  time.Now(),
	}

	rflags := uint32(sdl.RENDERER_ACCELERATED)
	if c.Window.VSync {
		rflags |= sdl.RENDERER_PRESENTVSYNC
	}
	h.renderer, err = sdl.CreateRenderer(window, -1, rflags)
	if err != nil {
		// Fall back to whatever SDL offers so the window can still be closed.
		slog.Error("window: accelerated renderer unavailable", "error", err)
		h.degraded = true
		if h.renderer, err = sdl.CreateRenderer(window, -1, sdl.RENDERER_SOFTWARE); err != nil {
			h.close()
			return nil, fmt.Errorf("create renderer: %w", err)
		}
		return h, nil
	}

	if err := checkRenderer(h.renderer); err != nil {
		slog.Error("window: environment unsupported, playback disabled", "error", err)
		h.degraded = true
		return h, nil
	}

	id, err := window.GetID()
	if err != nil {
		slog.Warn("window: no window id", "error", err)
	}
	graphCfg, err := c.Graph(framebridge.WindowHandle(id))
	if err != nil {
		h.close()
		return nil, err
	}

	h.graph, err = framebridge.NewGraph(gstengine.NewFactory(), graphCfg)
	if err != nil {
		if !errors.Is(err, framebridge.ErrEnvironmentUnsupported) {
			h.close()
			return nil, err
		}
		slog.Error("window: environment unsupported, playback disabled", "error", err)
		h.degraded = true
	}
	return h, nil
}

// checkRenderer verifies the renderer is hardware accelerated and can stream
// textures in the surface pixel formats.
func checkRenderer(r *sdl.Renderer) error {
	info, err := r.GetInfo()
	if err != nil {
		return fmt.Errorf("%w: renderer info: %w", framebridge.ErrEnvironmentUnsupported, err)
	}
	if info.Flags&sdl.RENDERER_ACCELERATED == 0 {
		return fmt.Errorf("%w: renderer %q is not accelerated", framebridge.ErrEnvironmentUnsupported, info.Name)
	}

	probe, err := r.CreateTexture(uint32(sdl.PIXELFORMAT_RGBA32), sdl.TEXTUREACCESS_STREAMING, 16, 16)
	if err != nil {
		return fmt.Errorf("%w: streaming textures: %w", framebridge.ErrEnvironmentUnsupported, err)
	}
	_ = probe.Destroy()

	slog.Info("window: renderer ready", "renderer", info.Name)
	return nil
}

func (h *host) run(ctx context.Context) error {
	if h.degraded {
		slog.Warn("window: running degraded, no playback", "hint", "press q to quit")
	}
	if h.graph != nil && len(h.playlist) > 0 {
		h.openNext(ctx)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		if quit := h.pollEvents(ctx); quit {
			return nil
		}

		if h.graph != nil {
			if _, err := h.graph.Tick(h.upload); err != nil {
				slog.Warn("window: frame upload failed", "error", err)
			}
			h.logStats()
		}

		if err := h.draw(); err != nil {
			return err
		}
		if !h.cfg.Window.VSync {
			sdl.Delay(5)
		}
	}
}

func (h *host) pollEvents(ctx context.Context) bool {
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		switch e := event.(type) {
		case *sdl.QuitEvent:
			return true

		case *sdl.KeyboardEvent:
			if e.Type != sdl.KEYDOWN || e.Repeat != 0 {
				continue
			}
			switch e.Keysym.Sym {
			case sdl.K_q, sdl.K_ESCAPE:
				return true
			case sdl.K_f:
				h.toggleFullscreen()
			case sdl.K_o:
				h.openNext(ctx)
			case sdl.K_SPACE:
				if h.graph == nil {
					continue
				}
				if err := h.graph.TogglePlayPause(); err != nil {
					slog.Warn("window: toggle play/pause", "error", err)
				}
			case sdl.K_s:
				h.snapshot()
			case sdl.K_d:
				h.dumpGraph("keypress")
			}

		case *sdl.RenderEvent:
			if e.Type == sdl.RENDER_DEVICE_RESET || e.Type == sdl.RENDER_TARGETS_RESET {
				h.resetDevice()
			}
		}
	}
	return false
}

// openNext tears down the current graph and opens the next playlist entry. A
// failed open leaves the host idle; pressing 'o' again tries the following file.
func (h *host) openNext(ctx context.Context) {
	if h.graph == nil {
		slog.Warn("window: playback disabled", "reason", "environment unsupported")
		return
	}
	if len(h.playlist) == 0 {
		slog.Info("window: nothing to open", "hint", "pass files to 'frame-player play'")
		return
	}

	path := h.playlist[h.next%len(h.playlist)]
	h.next++

	h.last = nil
	h.cadence.Reset()
	if err := h.graph.Open(ctx, path); err != nil {
		slog.Error("window: open failed", "path", path, "error", err)
		h.window.SetTitle(h.cfg.Window.Title)
		return
	}
	h.window.SetTitle(fmt.Sprintf("%s - %s", h.cfg.Window.Title, filepath.Base(path)))
	slog.Info("window: playing", "path", path, "graph_id", h.graph.ID())

	if h.cfg.Diagnostics.DotDir != "" {
		h.dumpGraph("open")
	}
}

// upload runs inside Graph.Tick while the render thread owns s.
func (h *host) upload(s *framebridge.Surface) error {
	if err := h.ensureTexture(s); err != nil {
		return err
	}

	pixels, pitch, err := h.texture.Lock(nil)
	if err != nil {
		return fmt.Errorf("lock texture: %w", err)
	}
	err = copyRows(pixels, pitch, s)
	h.texture.Unlock()
	if err != nil {
		return err
	}

	h.last = retainFrame(h.last, s)
	h.cadence.Mark()
	return nil
}

func (h *host) ensureTexture(s *framebridge.Surface) error {
	w, ht := int32(s.Width), int32(s.Height)
	if h.texture != nil && h.texW == w && h.texH == ht && h.texFmt == s.Format {
		return nil
	}
	h.destroyTexture()

	format := uint32(sdl.PIXELFORMAT_RGBA32)
	if s.Format == framebridge.FormatBGRA {
		format = uint32(sdl.PIXELFORMAT_BGRA32)
	}
	tex, err := h.renderer.CreateTexture(format, sdl.TEXTUREACCESS_STREAMING, w, ht)
	if err != nil {
		return fmt.Errorf("create texture: %w", err)
	}
	h.texture, h.texW, h.texH, h.texFmt = tex, w, ht, s.Format
	slog.Debug("window: texture created", "width", w, "height", ht, "format", s.Format.String())
	return nil
}

func (h *host) destroyTexture() {
	if h.texture != nil {
		_ = h.texture.Destroy()
		h.texture = nil
	}
}

func (h *host) draw() error {
	if err := h.renderer.SetDrawColor(0, 0, 0, 255); err != nil {
		return fmt.Errorf("set draw color: %w", err)
	}
	if err := h.renderer.Clear(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}

	if h.texture != nil {
		ow, oh, err := h.renderer.GetOutputSize()
		if err != nil {
			return fmt.Errorf("output size: %w", err)
		}
		fit := render.FitCentered(int(h.texW), int(h.texH), int(ow), int(oh))
		if !fit.Empty() {
			dst := sdl.Rect{X: int32(fit.Min.X), Y: int32(fit.Min.Y), W: int32(fit.Dx()), H: int32(fit.Dy())}
			if err := h.renderer.Copy(h.texture, nil, &dst); err != nil {
				return fmt.Errorf("copy texture: %w", err)
			}
		}
	}

	h.renderer.Present()
	return nil
}

func (h *host) toggleFullscreen() {
	var flags uint32
	if !h.fullscreen {
		flags = sdl.WINDOW_FULLSCREEN_DESKTOP
	}
	if err := h.window.SetFullscreen(flags); err != nil {
		slog.Warn("window: fullscreen toggle failed", "error", err)
		return
	}
	h.fullscreen = !h.fullscreen
}

// resetDevice handles SDL render device/target resets: textures are gone, so the
// surfaces are renegotiated as after a device loss.
func (h *host) resetDevice() {
	slog.Warn("window: render device reset")
	h.destroyTexture()
	if h.graph == nil {
		return
	}
	h.graph.DeviceLost()
	if err := h.graph.DeviceRestored(); err != nil {
		slog.Error("window: device restore failed", "error", err)
	}
}

func (h *host) snapshot() {
	if h.last == nil {
		slog.Info("window: no frame to snapshot")
		return
	}
	w, ht := h.window.GetSize()
	canvas := render.NewCanvas(int(w), int(ht))
	canvas.DrawFrame(h.last)

	h.snapshots++
	graphID := ""
	if h.graph != nil {
		graphID = h.graph.ID()
	}
	path := snapshotPath(h.cfg.Diagnostics.SnapshotDir, graphID, h.snapshots)
	if err := canvas.SavePNG(path); err != nil {
		slog.Error("window: snapshot failed", "error", err)
		return
	}
	slog.Info("window: snapshot saved", "path", path)
}

func (h *host) dumpGraph(name string) {
	if h.graph == nil {
		return
	}
	if _, err := h.graph.DumpGraph(name); err != nil {
		slog.Warn("window: graph dump failed", "error", err)
	}
}

func (h *host) logStats() {
	interval := h.cfg.Diagnostics.StatsInterval
	if interval <= 0 || time.Since(h.lastStats) < interval {
		return
	}
	h.lastStats = time.Now()

	st := h.graph.Stats()
	cad := h.cadence.Summarize()
	slog.Info("window: stats",
		"state", st.State.String(),
		"graph_id", st.GraphID,
		"presented", st.FramesPresented,
		"rendered", st.FramesRendered,
		"overwritten", st.FramesOverwritten,
		"busy", st.FramesBusy,
		"dropped", st.FramesDropped,
		"loops", st.Loops,
		"render_fps", fmt.Sprintf("%.2f", cad.FPSMean),
		"jitter_ms", fmt.Sprintf("%.2f", cad.JitterMean*1000),
		"stable", cad.Stable,
	)
}

// close tears down the graph before the SDL objects it presents to.
func (h *host) close() {
	if h.graph != nil {
		if err := h.graph.Close(); err != nil {
			slog.Warn("window: graph close", "error", err)
		}
		h.graph = nil
	}
	h.destroyTexture()
	if h.renderer != nil {
		_ = h.renderer.Destroy()
		h.renderer = nil
	}
	if h.window != nil {
		_ = h.window.Destroy()
		h.window = nil
	}
	sdl.Quit()
}
