package banding

import (
	"time"

	"github.com/gogpu/banding/internal/gpucore"
)

// Window is the message loop an App polls once per frame.
type Window interface {
	// Pump processes pending events and reports whether the window is
	// still open.
	Pump() bool
}

// Option configures an App during creation. Options override the
// matching Config fields.
//
// Example:
//
//	// Headless: 120 frames on the software backend, last one saved.
//	app, err := banding.New(cfg,
//	    banding.WithBackend("soft"),
//	    banding.WithCapture("frame.png"))
//
//	// Share a device created elsewhere.
//	dev, _ := native.FromProvider(provider)
//	app, err := banding.New(cfg, banding.WithDevice(dev))
type Option func(*options)

type options struct {
	backend     string
	device      gpucore.Device
	surface     any
	window      Window
	dataDir     string
	capture     string
	overlay     bool
	debugNames  bool
	waitTimeout time.Duration
	fontPath    string
}

func defaultOptions(cfg Config) options {
	return options{
		backend:     cfg.Backend,
		dataDir:     cfg.DataDir,
		capture:     cfg.Capture,
		overlay:     cfg.Overlay,
		debugNames:  cfg.DebugNames,
		waitTimeout: cfg.Timeout,
	}
}

// WithBackend selects a registered backend by name. Empty picks the
// highest priority registered backend.
func WithBackend(name string) Option {
	return func(o *options) {
		o.backend = name
	}
}

// WithDevice renders on dev instead of opening a backend. The App does not
// close a device it was given.
func WithDevice(dev gpucore.Device) Option {
	return func(o *options) {
		o.device = dev
	}
}

// WithSurface passes the presentation surface to the backend factory.
// The webgpu backend expects a *wgpu.SurfaceDescriptor.
func WithSurface(surface any) Option {
	return func(o *options) {
		o.surface = surface
	}
}

// WithWindow sets the window whose message loop Run pumps. Without a
// window Run stops after Config.Frames frames or when its context ends.
func WithWindow(w Window) Option {
	return func(o *options) {
		o.window = w
	}
}

// WithDataDir sets the directory holding blue-noise/.
func WithDataDir(dir string) Option {
	return func(o *options) {
		o.dataDir = dir
	}
}

// WithCapture writes the last rendered frame to path as PNG.
func WithCapture(path string) Option {
	return func(o *options) {
		o.capture = path
	}
}

// WithOverlay enables or disables the stats panel.
func WithOverlay(on bool) Option {
	return func(o *options) {
		o.overlay = on
	}
}

// WithDebugNames labels every GPU object.
func WithDebugNames(on bool) Option {
	return func(o *options) {
		o.debugNames = on
	}
}

// WithWaitTimeout bounds every fence wait. A wait that times out is fatal.
func WithWaitTimeout(d time.Duration) Option {
	return func(o *options) {
		o.waitTimeout = d
	}
}

// WithFont loads the overlay font from a TTF/OTF file.
func WithFont(path string) Option {
	return func(o *options) {
		o.fontPath = path
	}
}
