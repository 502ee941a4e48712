package banding

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// ErrNoArgs is returned by ParseArgs when the command line is empty.
var ErrNoArgs = errors.New("banding: no command line arguments")

// Default window size.
const (
	DefaultWidth  = 640
	DefaultHeight = 360
)

// Config is the parsed command line.
type Config struct {
	Width  uint32
	Height uint32
	VSync  bool

	// Backend names the device backend. Empty selects the best registered
	// one.
	Backend string

	// Frames stops the loop after that many frames. Zero runs until the
	// window closes.
	Frames int

	// DataDir is the directory holding blue-noise/.
	DataDir string

	// Capture is a PNG path the last rendered frame is written to.
	Capture string

	DebugNames  bool
	Overlay     bool
	Animate     bool
	DumpShaders string
	LogLevel    slog.Level

	// Timeout bounds every fence wait. Zero waits forever.
	Timeout time.Duration
}

// DefaultConfig returns the configuration used for flags that are absent.
func DefaultConfig() Config {
	return Config{
		Width:    DefaultWidth,
		Height:   DefaultHeight,
		DataDir:  "data",
		Overlay:  true,
		LogLevel: slog.LevelWarn,
	}
}

// ParseArgs parses args, the command line without the program name.
//
// Flags take their value from the following token. Unknown tokens are
// skipped; a known flag with a missing or malformed value keeps its
// default. An empty args returns ErrNoArgs.
func ParseArgs(args []string) (Config, error) {
	cfg := DefaultConfig()
	if len(args) == 0 {
		return cfg, ErrNoArgs
	}
	for i := 0; i < len(args); i++ {
		name, ok := flagName(args[i])
		if !ok {
			continue
		}
		set, known := setters[name]
		if !known {
			continue
		}
		if i+1 >= len(args) {
			Logger().Warn("banding: flag without value", "flag", name)
			break
		}
		if set(&cfg, args[i+1]) {
			i++
		} else {
			Logger().Warn("banding: malformed flag value, keeping default", "flag", name, "value", args[i+1])
		}
	}
	return cfg, nil
}

func flagName(tok string) (string, bool) {
	switch {
	case strings.HasPrefix(tok, "--"):
		return tok[2:], len(tok) > 2
	case strings.HasPrefix(tok, "-"):
		return tok[1:], len(tok) > 1
	}
	return "", false
}

// setters parse one flag value into cfg and report whether it was valid.
var setters = map[string]func(cfg *Config, v string) bool{
	"width":        dimensionFlag(func(c *Config) *uint32 { return &c.Width }),
	"height":       dimensionFlag(func(c *Config) *uint32 { return &c.Height }),
	"vsync":        boolFlag(func(c *Config) *bool { return &c.VSync }),
	"debug-names":  boolFlag(func(c *Config) *bool { return &c.DebugNames }),
	"overlay":      boolFlag(func(c *Config) *bool { return &c.Overlay }),
	"animate":      boolFlag(func(c *Config) *bool { return &c.Animate }),
	"backend":      stringFlag(func(c *Config) *string { return &c.Backend }),
	"data":         stringFlag(func(c *Config) *string { return &c.DataDir }),
	"capture":      stringFlag(func(c *Config) *string { return &c.Capture }),
	"dump-shaders": stringFlag(func(c *Config) *string { return &c.DumpShaders }),
	"frames": func(c *Config, v string) bool {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return false
		}
		c.Frames = n
		return true
	},
	"log": func(c *Config, v string) bool {
		var l slog.Level
		if err := l.UnmarshalText([]byte(v)); err != nil {
			return false
		}
		c.LogLevel = l
		return true
	},
	"timeout": func(c *Config, v string) bool {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return false
		}
		c.Timeout = d
		return true
	},
}

func dimensionFlag(field func(*Config) *uint32) func(*Config, string) bool {
	return func(c *Config, v string) bool {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return false
		}
		*field(c) = uint32(n)
		return true
	}
}

// boolFlag accepts an integer; any value above zero enables the flag.
func boolFlag(field func(*Config) *bool) func(*Config, string) bool {
	return func(c *Config, v string) bool {
		n, err := strconv.Atoi(v)
		if err != nil {
			return false
		}
		*field(c) = n > 0
		return true
	}
}

func stringFlag(field func(*Config) *string) func(*Config, string) bool {
	return func(c *Config, v string) bool {
		if v == "" || strings.HasPrefix(v, "-") {
			return false
		}
		*field(c) = v
		return true
	}
}
