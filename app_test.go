package banding

import (
	"context"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/gogpu/banding/backend"
	"github.com/gogpu/banding/backend/soft"
	"github.com/gogpu/banding/internal/dither"
	"github.com/gogpu/banding/internal/frame"
)

const testW, testH = 32, 16

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = testW, testH
	cfg.Backend = backend.BackendSoft
	cfg.DataDir = t.TempDir()
	cfg.Overlay = false
	return cfg
}

func TestNewRejectsZeroSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Width = 0
	if _, err := New(cfg); !errors.Is(err, ErrBadSize) {
		t.Fatalf("New error = %v, want ErrBadSize", err)
	}
}

func TestFrameBeforeInit(t *testing.T) {
	app, err := New(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := app.Update(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Update error = %v", err)
	}
	if err := app.Render(context.Background(), ""); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Render error = %v", err)
	}
	if err := app.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown of uninitialized app: %v", err)
	}
}

func TestUnknownBackend(t *testing.T) {
	app, err := New(testConfig(t), WithBackend("vulkan-1.0"))
	if err != nil {
		t.Fatal(err)
	}
	if err := app.Init(context.Background()); !errors.Is(err, backend.ErrBackendNotAvailable) {
		t.Fatalf("Init error = %v, want ErrBackendNotAvailable", err)
	}
}

func TestRunFrames(t *testing.T) {
	cfg := testConfig(t)
	cfg.Frames = 5
	capture := filepath.Join(t.TempDir(), "frame.png")

	app, err := New(cfg, WithCapture(capture), WithDebugNames(true))
	if err != nil {
		t.Fatal(err)
	}
	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if app.Frames() != 5 {
		t.Errorf("frames = %d, want 5", app.Frames())
	}
	if app.Backend() != backend.BackendSoft {
		t.Errorf("backend = %q", app.Backend())
	}
	// The constants of frame 5 carried frameNumber 5.
	if got := app.Scene().Params.FrameNumber; got != 6 {
		t.Errorf("next frame number = %d, want 6", got)
	}

	f, err := os.Open(capture)
	if err != nil {
		t.Fatalf("capture not written: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode capture: %v", err)
	}
	if b := img.Bounds(); b.Dx() != testW || b.Dy() != testH {
		t.Fatalf("capture size = %v", b)
	}
	if _, _, b, _ := img.At(testW/2, testH/2).RGBA(); b == 0 {
		t.Error("capture center has no blue; pass did not render")
	}
}

func TestRunWithOverlay(t *testing.T) {
	cfg := testConfig(t)
	cfg.Width, cfg.Height = 400, 300
	cfg.Overlay = true
	cfg.Frames = 3
	app, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if app.Frames() != 3 {
		t.Errorf("frames = %d, want 3", app.Frames())
	}
}

func TestSteadyStateSync(t *testing.T) {
	dev := soft.New()
	t.Cleanup(func() { _ = dev.Close() })
	app, err := New(testConfig(t), WithDevice(dev))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := app.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = app.Shutdown(ctx) })

	base := app.Stats()
	for i := 0; i < 4; i++ {
		if err := app.Update(); err != nil {
			t.Fatal(err)
		}
		if err := app.Render(ctx, ""); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
	st := app.Stats()
	if got := st.Submitted - base.Submitted; got != 4 {
		t.Errorf("submitted %d, want 4", got)
	}
	if got := st.Presented - base.Presented; got != 4 {
		t.Errorf("presented %d, want 4", got)
	}
	if app.Backend() != "" {
		t.Errorf("backend of a provided device = %q", app.Backend())
	}
}

func TestDeviceRemovedIsFatal(t *testing.T) {
	dev := soft.New()
	t.Cleanup(func() { _ = dev.Close() })
	app, err := New(testConfig(t), WithDevice(dev))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := app.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = app.Shutdown(ctx) })

	dev.Remove("hang")
	if err := app.Update(); err != nil {
		t.Fatal(err)
	}
	if err := app.Render(ctx, ""); !errors.Is(err, frame.ErrDeviceRemoved) {
		t.Fatalf("Render error = %v, want ErrDeviceRemoved", err)
	}
}

type fakeWindow struct{ open int }

func (w *fakeWindow) Pump() bool {
	w.open--
	return w.open >= 0
}

func TestRunUntilWindowCloses(t *testing.T) {
	win := &fakeWindow{open: 2}
	app, err := New(testConfig(t), WithWindow(win))
	if err != nil {
		t.Fatal(err)
	}
	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if app.Frames() != 2 {
		t.Errorf("frames = %d, want 2", app.Frames())
	}
}

func TestHandleKey(t *testing.T) {
	tests := []struct {
		name  string
		keys  []int
		check func(t *testing.T, a *App)
	}{
		{"vsync", []int{KeyV}, func(t *testing.T, a *App) {
			if !a.VSync() {
				t.Error("V did not enable vsync")
			}
		}},
		{"animate", []int{KeyL}, func(t *testing.T, a *App) {
			if !a.Scene().Animate {
				t.Error("L did not enable animation")
			}
		}},
		{"tonemapping and dithering", []int{KeyT, KeyD}, func(t *testing.T, a *App) {
			p := a.Scene().Params
			if p.UseTonemapping || p.UseDithering {
				t.Errorf("T/D left tonemapping=%v dithering=%v", p.UseTonemapping, p.UseDithering)
			}
		}},
		{"noise types", []int{Key3}, func(t *testing.T, a *App) {
			if a.Scene().Params.NoiseType != dither.NoiseBlueArray {
				t.Errorf("noise = %v", a.Scene().Params.NoiseType)
			}
		}},
		{"distribution toggles", []int{KeyR, KeyR, KeyR}, func(t *testing.T, a *App) {
			if a.Scene().Params.Distribution != dither.Triangular {
				t.Errorf("distribution = %v", a.Scene().Params.Distribution)
			}
		}},
		{"scale up and down", []int{KeyEqual, KeyEqual, KeyKPSubtract}, func(t *testing.T, a *App) {
			want := float32(DefaultNoiseScale) + noiseScaleStep
			if got := a.Scene().Params.NoiseScale; got != want {
				t.Errorf("scale = %v, want %v", got, want)
			}
		}},
		{"scale locked while showing noise", []int{KeyN, KeyMinus}, func(t *testing.T, a *App) {
			if got := a.Scene().Params.NoiseScale; got != 1 {
				t.Errorf("scale = %v, want 1", got)
			}
		}},
		{"escape", []int{KeyEscape}, func(t *testing.T, a *App) {
			if !a.Quit() {
				t.Error("Esc did not request quit")
			}
		}},
		{"unbound", []int{'Q'}, func(t *testing.T, a *App) {
			if a.Quit() || a.VSync() {
				t.Error("unbound key changed state")
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(testConfig(t))
			if err != nil {
				t.Fatal(err)
			}
			for _, k := range tt.keys {
				a.HandleKey(k)
			}
			tt.check(t, a)
		})
	}
}
