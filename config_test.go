package banding

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestParseArgsEmpty(t *testing.T) {
	cfg, err := ParseArgs(nil)
	if !errors.Is(err, ErrNoArgs) {
		t.Fatalf("ParseArgs(nil) error = %v, want ErrNoArgs", err)
	}
	if cfg.Width != DefaultWidth || cfg.Height != DefaultHeight {
		t.Errorf("defaults = %dx%d, want %dx%d", cfg.Width, cfg.Height, DefaultWidth, DefaultHeight)
	}
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, c Config)
	}{
		{"size and vsync", []string{"-width", "1280", "-height", "720", "-vsync", "1"}, func(t *testing.T, c Config) {
			if c.Width != 1280 || c.Height != 720 || !c.VSync {
				t.Errorf("got %dx%d vsync=%v", c.Width, c.Height, c.VSync)
			}
		}},
		{"vsync zero is off", []string{"-vsync", "0"}, func(t *testing.T, c Config) {
			if c.VSync {
				t.Error("vsync 0 enabled vsync")
			}
		}},
		{"vsync above zero is on", []string{"-vsync", "2"}, func(t *testing.T, c Config) {
			if !c.VSync {
				t.Error("vsync 2 did not enable vsync")
			}
		}},
		{"missing value keeps default", []string{"-width"}, func(t *testing.T, c Config) {
			if c.Width != DefaultWidth {
				t.Errorf("width = %d, want default", c.Width)
			}
		}},
		{"malformed value keeps default", []string{"-width", "wide", "-height", "100"}, func(t *testing.T, c Config) {
			if c.Width != DefaultWidth || c.Height != 100 {
				t.Errorf("got %dx%d", c.Width, c.Height)
			}
		}},
		{"zero size keeps default", []string{"-height", "0"}, func(t *testing.T, c Config) {
			if c.Height != DefaultHeight {
				t.Errorf("height = %d, want default", c.Height)
			}
		}},
		{"flag as value is not consumed", []string{"-capture", "-frames", "5"}, func(t *testing.T, c Config) {
			if c.Capture != "" || c.Frames != 5 {
				t.Errorf("capture=%q frames=%d", c.Capture, c.Frames)
			}
		}},
		{"unknown tokens ignored", []string{"foo", "-bar", "1", "-width", "800"}, func(t *testing.T, c Config) {
			if c.Width != 800 {
				t.Errorf("width = %d", c.Width)
			}
		}},
		{"extended flags", []string{
			"--backend", "soft", "-frames", "10", "-data", "assets", "-capture", "out.png",
			"-debug-names", "1", "-overlay", "0", "-animate", "1", "-dump-shaders", "dump",
			"-log", "debug", "-timeout", "2s",
		}, func(t *testing.T, c Config) {
			want := Config{
				Width: DefaultWidth, Height: DefaultHeight, Backend: "soft", Frames: 10,
				DataDir: "assets", Capture: "out.png", DebugNames: true, Overlay: false,
				Animate: true, DumpShaders: "dump", LogLevel: slog.LevelDebug, Timeout: 2 * time.Second,
			}
			if c != want {
				t.Errorf("got %+v\nwant %+v", c, want)
			}
		}},
		{"negative frames keeps default", []string{"-frames", "-3"}, func(t *testing.T, c Config) {
			if c.Frames != 0 {
				t.Errorf("frames = %d", c.Frames)
			}
		}},
		{"bad log level keeps default", []string{"-log", "loud"}, func(t *testing.T, c Config) {
			if c.LogLevel != slog.LevelWarn {
				t.Errorf("level = %v", c.LogLevel)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseArgs(tt.args)
			if err != nil {
				t.Fatalf("ParseArgs: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}
