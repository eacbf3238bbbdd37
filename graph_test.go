package framebridge_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	framebridge "github.com/e7canasta/frame-bridge"
	"github.com/e7canasta/frame-bridge/internal/engine"
	"github.com/e7canasta/frame-bridge/internal/engine/enginetest"
	"github.com/e7canasta/frame-bridge/internal/surface"
)

func testConfig() framebridge.Config {
	cfg := framebridge.DefaultConfig()
	cfg.Stop = framebridge.StopConfig{
		MaxPolls:        5,
		PollInterval:    time.Millisecond,
		MaxPollInterval: 2 * time.Millisecond,
	}
	return cfg
}

// writeClip creates a non-empty source file. The fake engine does not decode it.
func writeClip(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("not a real container"), 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}
	return path
}

func newGraph(t *testing.T, opts enginetest.Options, cfg framebridge.Config) (*framebridge.Graph, *enginetest.Factory) {
	t.Helper()
	factory := enginetest.NewFactory(opts)
	g, err := framebridge.NewGraph(factory, cfg)
	if err != nil {
		t.Fatalf("NewGraph() failed: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })
	return g, factory
}

func assertUniform(t *testing.T, s *framebridge.Surface, want byte) {
	t.Helper()
	for i, b := range s.Pix {
		if b != want {
			t.Fatalf("surface %d byte %d = %d, want %d", s.Index, i, b, want)
		}
	}
}

// TestOpenTickClose validates the happy path.
//
// Scenario:
//  1. Open a file (Build + Run)
//  2. Engine decodes one frame
//  3. Tick uploads it
//  4. Close releases engine, registration and surfaces
func TestOpenTickClose(t *testing.T) {
	g, factory := newGraph(t, enginetest.Options{}, testConfig())

	if err := g.Open(context.Background(), writeClip(t, "a.mp4")); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if got := g.State(); got != framebridge.StateRunning {
		t.Fatalf("expected running, got %s", got)
	}
	if g.ID() == "" {
		t.Error("expected graph ID after build")
	}

	eng := factory.Last()
	if err := eng.DecodeFrame(); err != nil {
		t.Fatalf("DecodeFrame() failed: %v", err)
	}

	uploaded, err := g.Tick(func(s *framebridge.Surface) error {
		if s.Width != 320 || s.Height != 240 {
			t.Errorf("expected 320x240 surface, got %dx%d", s.Width, s.Height)
		}
		assertUniform(t, s, 1)
		return nil
	})
	if err != nil || !uploaded {
		t.Fatalf("Tick() = %v, %v; want true, nil", uploaded, err)
	}

	if uploaded, _ := g.Tick(func(*framebridge.Surface) error { return nil }); uploaded {
		t.Error("second Tick uploaded a frame without a new present")
	}

	st := g.Stats()
	if st.FramesPresented != 1 || st.FramesRendered != 1 {
		t.Errorf("expected 1 presented/1 rendered, got %d/%d", st.FramesPresented, st.FramesRendered)
	}
	if st.SurfacesAllocated != 3 {
		t.Errorf("expected 3 surfaces, got %d", st.SurfacesAllocated)
	}

	if err := g.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if g.State() != framebridge.StateUnbuilt {
		t.Errorf("expected unbuilt after close, got %s", g.State())
	}
	if !eng.Closed() {
		t.Error("engine not closed")
	}
	if eng.Allocator() != nil {
		t.Error("allocator still registered with engine")
	}
	if g.Stats().SurfacesAllocated != 0 {
		t.Error("surfaces still allocated after close")
	}
}

// TestBuildFailureRollback injects a failure at every build step.
//
// Contract:
//   - Build returns *BuildError naming the step (errors.Is ErrBuildFailure)
//   - Graph is Unbuilt, nothing allocated
//   - Engine (if created) is closed and no allocator stays registered
func TestBuildFailureRollback(t *testing.T) {
	tests := []struct {
		name    string
		fault   enginetest.Fault
		missing bool
		step    framebridge.BuildStep
	}{
		{"engine creation", enginetest.FaultNew, false, framebridge.StepEngine},
		{"missing source", enginetest.FaultNone, true, framebridge.StepProbe},
		{"allocator handshake", enginetest.FaultAdvise, false, framebridge.StepAllocator},
		{"render file", enginetest.FaultRenderFile, false, framebridge.StepSource},
		{"rejected geometry", enginetest.FaultNegotiate, false, framebridge.StepSource},
		{"no negotiation", enginetest.FaultSkipNegotiate, false, framebridge.StepNegotiate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, factory := newGraph(t, enginetest.Options{Fault: tt.fault}, testConfig())

			path := writeClip(t, "clip.mp4")
			if tt.missing {
				path = filepath.Join(t.TempDir(), "missing.mp4")
			}

			err := g.Build(context.Background(), path)
			if !errors.Is(err, framebridge.ErrBuildFailure) {
				t.Fatalf("expected ErrBuildFailure, got %v", err)
			}
			var be *framebridge.BuildError
			if !errors.As(err, &be) {
				t.Fatalf("expected *BuildError, got %T", err)
			}
			if be.Step != tt.step {
				t.Errorf("expected step %s, got %s", tt.step, be.Step)
			}
			if be.Path != path {
				t.Errorf("expected path %q, got %q", path, be.Path)
			}
			if tt.step == framebridge.StepAllocator && !errors.Is(err, framebridge.ErrAllocatorHandshake) {
				t.Errorf("expected ErrAllocatorHandshake, got %v", err)
			}

			if g.State() != framebridge.StateUnbuilt {
				t.Errorf("expected unbuilt, got %s", g.State())
			}
			st := g.Stats()
			if st.SurfacesAllocated != 0 || st.BuildFailures != 1 {
				t.Errorf("expected 0 surfaces and 1 failure, got %d and %d", st.SurfacesAllocated, st.BuildFailures)
			}
			for _, eng := range factory.Engines() {
				if !eng.Closed() {
					t.Error("engine left open after failed build")
				}
				if eng.Allocator() != nil {
					t.Error("allocator left registered after failed build")
				}
			}
			if _, ok := g.TakeIfReady(); ok {
				t.Error("frame ready after failed build")
			}

			t.Logf("build error: %v", err)
		})
	}
}

func TestBuildCancelled(t *testing.T) {
	g, factory := newGraph(t, enginetest.Options{}, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.Build(ctx, writeClip(t, "a.mp4"))
	if !errors.Is(err, context.Canceled) || !errors.Is(err, framebridge.ErrBuildFailure) {
		t.Fatalf("expected cancelled build failure, got %v", err)
	}
	if len(factory.Engines()) != 0 {
		t.Error("engine created for a cancelled build")
	}
}

// TestMissingThenValidPath validates that a failed open leaves the host usable.
func TestMissingThenValidPath(t *testing.T) {
	g, _ := newGraph(t, enginetest.Options{}, testConfig())
	ctx := context.Background()

	if err := g.Open(ctx, filepath.Join(t.TempDir(), "nope.mp4")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if g.State() != framebridge.StateUnbuilt {
		t.Fatalf("expected unbuilt after failed open, got %s", g.State())
	}

	if err := g.Open(ctx, writeClip(t, "ok.mp4")); err != nil {
		t.Fatalf("Open() after failure: %v", err)
	}
	if g.State() != framebridge.StateRunning {
		t.Errorf("expected running, got %s", g.State())
	}
}

// TestLoopToStart validates end-of-stream handling.
//
// Scenario:
//  1. Running: completion → seek to 0, still running, loops=1
//  2. Paused: completion is ignored
func TestLoopToStart(t *testing.T) {
	g, factory := newGraph(t, enginetest.Options{}, testConfig())
	if err := g.Open(context.Background(), writeClip(t, "loop.mp4")); err != nil {
		t.Fatal(err)
	}
	eng := factory.Last()

	eng.Complete()
	if n := g.ProcessEvents(); n != 1 {
		t.Fatalf("expected 1 event, got %d", n)
	}
	pos, err := g.Position()
	if err != nil {
		t.Fatal(err)
	}
	if pos != 0 {
		t.Errorf("expected position 0 after loop, got %v", pos)
	}
	if g.State() != framebridge.StateRunning {
		t.Errorf("expected running after loop, got %s", g.State())
	}
	if g.Stats().Loops != 1 {
		t.Errorf("expected 1 loop, got %d", g.Stats().Loops)
	}

	if err := g.Pause(); err != nil {
		t.Fatal(err)
	}
	eng.Complete()
	g.Tick(func(*framebridge.Surface) error { return nil })

	dur, _ := g.Duration()
	if pos, _ := g.Position(); pos != dur {
		t.Errorf("paused completion should not seek, position %v", pos)
	}
	if g.Stats().Loops != 1 {
		t.Errorf("expected loops unchanged, got %d", g.Stats().Loops)
	}
}

// TestSeek: seeks inside the clip move the position; out-of-range seeks fail
// without changing state.
func TestSeek(t *testing.T) {
	g, _ := newGraph(t, enginetest.Options{Duration: 4 * time.Second}, testConfig())
	if err := g.Seek(time.Second); !errors.Is(err, framebridge.ErrNotBuilt) {
		t.Errorf("Seek unbuilt: expected ErrNotBuilt, got %v", err)
	}

	if err := g.Open(context.Background(), writeClip(t, "seek.mp4")); err != nil {
		t.Fatal(err)
	}
	if err := g.Seek(1500 * time.Millisecond); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if pos, _ := g.Position(); pos != 1500*time.Millisecond {
		t.Errorf("position %v after seek, want 1.5s", pos)
	}
	if dur, _ := g.Duration(); dur != 4*time.Second {
		t.Errorf("duration %v, want 4s", dur)
	}

	if err := g.Seek(10 * time.Second); err == nil {
		t.Error("expected error seeking past the end")
	}
	if g.State() != framebridge.StateRunning {
		t.Errorf("state %s after failed seek, want running", g.State())
	}
}

// TestTogglePlayPauseParity: after N toggles from Running the state depends only on N.
func TestTogglePlayPauseParity(t *testing.T) {
	g, _ := newGraph(t, enginetest.Options{}, testConfig())

	if err := g.TogglePlayPause(); !errors.Is(err, framebridge.ErrNotBuilt) {
		t.Errorf("expected ErrNotBuilt before open, got %v", err)
	}

	if err := g.Open(context.Background(), writeClip(t, "a.mp4")); err != nil {
		t.Fatal(err)
	}

	for n := 1; n <= 7; n++ {
		if err := g.TogglePlayPause(); err != nil {
			t.Fatalf("toggle %d: %v", n, err)
		}
		want := framebridge.StateRunning
		if n%2 == 1 {
			want = framebridge.StatePaused
		}
		if got := g.State(); got != want {
			t.Fatalf("after %d toggles expected %s, got %s", n, want, got)
		}
	}
}

func TestInvalidTransitions(t *testing.T) {
	g, _ := newGraph(t, enginetest.Options{}, testConfig())

	if err := g.Run(); !errors.Is(err, framebridge.ErrNotBuilt) {
		t.Errorf("Run unbuilt: expected ErrNotBuilt, got %v", err)
	}
	if _, err := g.Position(); !errors.Is(err, framebridge.ErrNotBuilt) {
		t.Errorf("Position unbuilt: expected ErrNotBuilt, got %v", err)
	}
	if err := g.Teardown(); err != nil {
		t.Errorf("Teardown unbuilt should be a no-op, got %v", err)
	}

	if err := g.Build(context.Background(), writeClip(t, "a.mp4")); err != nil {
		t.Fatal(err)
	}
	if err := g.Pause(); !errors.Is(err, framebridge.ErrInvalidTransition) {
		t.Errorf("Pause from built: expected ErrInvalidTransition, got %v", err)
	}
	if err := g.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := g.Run(); !errors.Is(err, framebridge.ErrInvalidTransition) {
		t.Errorf("Run from stopped: expected ErrInvalidTransition, got %v", err)
	}
	if err := g.Teardown(); err != nil {
		t.Fatal(err)
	}
	if g.State() != framebridge.StateUnbuilt {
		t.Errorf("expected unbuilt, got %s", g.State())
	}
}

// TestStopWaitsForConfirmation: an engine that takes 3 polls to stop is polled 3 times.
func TestStopWaitsForConfirmation(t *testing.T) {
	g, factory := newGraph(t, enginetest.Options{StopLatency: 3}, testConfig())
	if err := g.Open(context.Background(), writeClip(t, "a.mp4")); err != nil {
		t.Fatal(err)
	}

	if err := g.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if got := factory.Last().StopCalls(); got != 3 {
		t.Errorf("expected 3 stop polls, got %d", got)
	}
	if g.State() != framebridge.StateStopped {
		t.Errorf("expected stopped, got %s", g.State())
	}
}

// TestStopFromBuiltWaitsForConfirmation: a built graph's engine is prerolled, so
// stopping it before Run goes through the same confirmation polls.
func TestStopFromBuiltWaitsForConfirmation(t *testing.T) {
	g, factory := newGraph(t, enginetest.Options{StopLatency: 3}, testConfig())
	if err := g.Build(context.Background(), writeClip(t, "a.mp4")); err != nil {
		t.Fatal(err)
	}
	eng := factory.Last()
	if st, _ := eng.State(); st != engine.StatePaused {
		t.Fatalf("expected prerolled engine to be paused, got %s", st)
	}

	if err := g.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if got := eng.StopCalls(); got != 3 {
		t.Errorf("expected 3 stop polls, got %d", got)
	}
	if g.State() != framebridge.StateStopped {
		t.Errorf("expected stopped, got %s", g.State())
	}
}

// TestTeardownStopTimeout: an engine that never confirms is torn down anyway.
func TestTeardownStopTimeout(t *testing.T) {
	g, factory := newGraph(t, enginetest.Options{NeverStops: true}, testConfig())
	if err := g.Open(context.Background(), writeClip(t, "a.mp4")); err != nil {
		t.Fatal(err)
	}
	eng := factory.Last()

	start := time.Now()
	err := g.Teardown()
	if !errors.Is(err, framebridge.ErrStopTimeout) {
		t.Fatalf("expected ErrStopTimeout, got %v", err)
	}
	if eng.StopCalls() != 5 {
		t.Errorf("expected 5 polls, got %d", eng.StopCalls())
	}
	if g.State() != framebridge.StateUnbuilt || !eng.Closed() {
		t.Error("graph not torn down after stop timeout")
	}
	t.Logf("stop timeout after %v", time.Since(start))
}

// TestRebuildDoesNotLeakSurfaces validates generation isolation across builds.
//
// Scenario:
//  1. Build A, present a frame, render thread takes it and holds it
//  2. Build B (tears down A)
//  3. Releasing A's surface is a no-op; B's slot is empty
//  4. B's frames carry a different generation
func TestRebuildDoesNotLeakSurfaces(t *testing.T) {
	g, factory := newGraph(t, enginetest.Options{}, testConfig())
	ctx := context.Background()

	if err := g.Open(ctx, writeClip(t, "a.mp4")); err != nil {
		t.Fatal(err)
	}
	engA := factory.Last()
	if err := engA.DecodeFrame(); err != nil {
		t.Fatal(err)
	}
	if err := engA.DecodeFrame(); err != nil {
		t.Fatal(err)
	}
	held, ok := g.TakeIfReady()
	if !ok {
		t.Fatal("expected a frame from graph A")
	}

	if err := g.Open(ctx, writeClip(t, "b.mp4")); err != nil {
		t.Fatal(err)
	}
	engB := factory.Last()
	if engA == engB {
		t.Fatal("rebuild reused the engine")
	}
	if !engA.Closed() {
		t.Error("engine A not closed by rebuild")
	}

	held.Release()
	if _, ok := g.TakeIfReady(); ok {
		t.Fatal("graph B exposed a frame before presenting any")
	}
	if err := engA.DecodeFrame(); err == nil {
		t.Error("engine A still able to present after rebuild")
	}

	if err := engB.DecodeFrame(); err != nil {
		t.Fatal(err)
	}
	s, ok := g.TakeIfReady()
	if !ok {
		t.Fatal("expected a frame from graph B")
	}
	defer s.Release()
	if s.Generation == held.Generation {
		t.Errorf("graph B surface shares generation %d with graph A", s.Generation)
	}
	if st := g.Stats(); st.Builds != 2 {
		t.Errorf("expected 2 builds, got %d", st.Builds)
	}
}

// TestLatestWins: three presents before one tick deliver only the third.
func TestLatestWins(t *testing.T) {
	g, factory := newGraph(t, enginetest.Options{}, testConfig())
	if err := g.Open(context.Background(), writeClip(t, "a.mp4")); err != nil {
		t.Fatal(err)
	}
	eng := factory.Last()

	for i := 0; i < 3; i++ {
		if err := eng.DecodeFrame(); err != nil {
			t.Fatalf("frame %d: %v", i+1, err)
		}
	}

	g.Tick(func(s *framebridge.Surface) error {
		assertUniform(t, s, 3)
		return nil
	})

	st := g.Stats()
	if st.FramesOverwritten != 2 {
		t.Errorf("expected 2 overwritten, got %d", st.FramesOverwritten)
	}
	if st.FramesRendered != 1 {
		t.Errorf("expected 1 rendered, got %d", st.FramesRendered)
	}
}

// TestBusyDropsFrame: with two surfaces, one held by the render thread and one in
// the slot, the engine gets ErrBusy instead of blocking.
func TestBusyDropsFrame(t *testing.T) {
	cfg := testConfig()
	cfg.Surfaces, cfg.MinSurfaces, cfg.MaxSurfaces = 2, 2, 2
	g, factory := newGraph(t, enginetest.Options{}, cfg)
	if err := g.Open(context.Background(), writeClip(t, "a.mp4")); err != nil {
		t.Fatal(err)
	}
	eng := factory.Last()

	if err := eng.DecodeFrame(); err != nil {
		t.Fatal(err)
	}
	held, ok := g.TakeIfReady()
	if !ok {
		t.Fatal("expected frame")
	}
	if err := eng.DecodeFrame(); err != nil {
		t.Fatal(err)
	}

	if err := eng.DecodeFrame(); !errors.Is(err, surface.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if g.Stats().FramesBusy != 1 {
		t.Errorf("expected 1 busy, got %d", g.Stats().FramesBusy)
	}

	held.Release()
	if err := eng.DecodeFrame(); err != nil {
		t.Fatalf("DecodeFrame after release: %v", err)
	}
}

// TestDeviceLostAndRestored validates the render-device reset path.
func TestDeviceLostAndRestored(t *testing.T) {
	g, factory := newGraph(t, enginetest.Options{}, testConfig())
	if err := g.Open(context.Background(), writeClip(t, "a.mp4")); err != nil {
		t.Fatal(err)
	}
	eng := factory.Last()
	if err := eng.DecodeFrame(); err != nil {
		t.Fatal(err)
	}

	g.DeviceLost()
	if n := g.Stats().SurfacesAllocated; n != 0 {
		t.Errorf("expected surfaces freed, got %d", n)
	}
	if _, ok := g.TakeIfReady(); ok {
		t.Error("pending frame survived device loss")
	}
	if err := eng.DecodeFrame(); !errors.Is(err, surface.ErrNotNegotiated) {
		t.Errorf("expected ErrNotNegotiated while lost, got %v", err)
	}

	if err := g.DeviceRestored(); err != nil {
		t.Fatalf("DeviceRestored() failed: %v", err)
	}
	if n := g.Stats().SurfacesAllocated; n != 3 {
		t.Errorf("expected 3 surfaces after restore, got %d", n)
	}
	if err := eng.DecodeFrame(); err != nil {
		t.Errorf("DecodeFrame after restore: %v", err)
	}
	if n := g.ProcessEvents(); n != 2 {
		t.Errorf("expected device-lost and device-restored events, got %d", n)
	}
	if g.State() != framebridge.StateRunning {
		t.Errorf("expected running, got %s", g.State())
	}
}

// TestRenegotiateMidStream: a geometry change is handled as lost + restored.
func TestRenegotiateMidStream(t *testing.T) {
	g, factory := newGraph(t, enginetest.Options{}, testConfig())
	if err := g.Open(context.Background(), writeClip(t, "a.mp4")); err != nil {
		t.Fatal(err)
	}
	eng := factory.Last()

	n, err := eng.Renegotiate(640, 480)
	if err != nil {
		t.Fatal(err)
	}
	if n.Width != 640 || n.Height != 480 {
		t.Errorf("expected 640x480, got %s", n)
	}
	st := g.Stats()
	if st.Negotiation.Width != 640 || st.DeviceLost != 1 {
		t.Errorf("expected renegotiated pool and 1 lost, got %s lost=%d", st.Negotiation, st.DeviceLost)
	}
	if err := eng.DecodeFrame(); err != nil {
		t.Fatal(err)
	}
	g.Tick(func(s *framebridge.Surface) error {
		if s.Width != 640 {
			t.Errorf("expected 640 wide frame, got %d", s.Width)
		}
		return nil
	})
}

func TestNewGraphEnvironmentUnsupported(t *testing.T) {
	factory := enginetest.NewFactory(enginetest.Options{})
	factory.Unavailable = errors.New("decodebin missing")

	_, err := framebridge.NewGraph(factory, testConfig())
	if !errors.Is(err, framebridge.ErrEnvironmentUnsupported) {
		t.Fatalf("expected ErrEnvironmentUnsupported, got %v", err)
	}
}

func TestNewGraphInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Surfaces = 9

	if _, err := framebridge.NewGraph(enginetest.NewFactory(enginetest.Options{}), cfg); err == nil {
		t.Fatal("expected error for surfaces outside bounds")
	}
}

// TestStreamingAndRenderConcurrently runs the engine's streaming goroutine against
// a render loop and checks no frame is ever observed half-written.
func TestStreamingAndRenderConcurrently(t *testing.T) {
	g, _ := newGraph(t, enginetest.Options{FrameInterval: time.Millisecond}, testConfig())
	if err := g.Open(context.Background(), writeClip(t, "a.mp4")); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var rendered int
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			ok, err := g.Tick(func(s *framebridge.Surface) error {
				first := s.Pix[0]
				for i, b := range s.Pix {
					if b != first {
						t.Errorf("torn frame seq=%d at byte %d", s.Seq, i)
						break
					}
				}
				return nil
			})
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				rendered++
			}
			time.Sleep(500 * time.Microsecond)
		}
	}()

	time.Sleep(100 * time.Millisecond)
	close(done)
	wg.Wait()

	if err := g.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	st := g.Stats()
	t.Logf("rendered=%d builds=%d", rendered, st.Builds)
	if rendered == 0 {
		t.Error("render loop never received a frame")
	}
}
