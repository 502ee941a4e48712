package banding

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"time"

	"github.com/gogpu/banding/backend"
	"github.com/gogpu/banding/internal/descriptor"
	"github.com/gogpu/banding/internal/frame"
	"github.com/gogpu/banding/internal/gpucore"
	"github.com/gogpu/banding/internal/noise"
	"github.com/gogpu/banding/internal/overlay"
	"github.com/gogpu/banding/internal/renderpass"
	"github.com/gogpu/banding/internal/resource"
	"github.com/gogpu/banding/internal/shader"
	"github.com/gogpu/banding/internal/upload"
	"github.com/gogpu/banding/shaders"
)

// Title is the window title.
const Title = "Color Banding and Dithering"

// Errors returned by App.
var (
	// ErrNotInitialized is returned by frame operations before Init.
	ErrNotInitialized = errors.New("banding: app not initialized")

	// ErrBadSize is returned for a zero width or height.
	ErrBadSize = errors.New("banding: invalid size")
)

// App is the application context: the device, every GPU object the pass
// needs and the scene constants. It is not safe for concurrent use.
type App struct {
	cfg  Config
	opts options
	log  *slog.Logger

	dev        gpucore.Device
	ownsDevice bool
	backend    string

	res     *resource.Factory
	heaps   *descriptor.Heaps
	sync    *frame.Synchronizer
	pipe    *renderpass.Pipeline
	cb      *resource.ConstantBuffer
	overlay *overlay.Overlay

	blueNoise      gpucore.ResourceID
	blueNoiseArray gpucore.ResourceID

	scene  *Scene
	timer  overlay.FrameTimer
	frames int
	quit   bool
}

// New validates cfg and returns an App. No GPU object exists until Init.
func New(cfg Config, opts ...Option) (*App, error) {
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadSize, cfg.Width, cfg.Height)
	}
	o := defaultOptions(cfg)
	for _, opt := range opts {
		opt(&o)
	}
	scene := NewScene(cfg.Width, cfg.Height)
	scene.Animate = cfg.Animate
	return &App{cfg: cfg, opts: o, log: Logger(), scene: scene}, nil
}

// Scene returns the constants the next frame renders with.
func (a *App) Scene() *Scene { return a.scene }

// Backend returns the name of the backend the device came from. It is
// empty for a device passed with WithDevice.
func (a *App) Backend() string { return a.backend }

// Device returns the device, or nil before Init.
func (a *App) Device() gpucore.Device { return a.dev }

// Frames returns the number of frames rendered.
func (a *App) Frames() int { return a.frames }

// VSync reports whether presents wait for vblank.
func (a *App) VSync() bool { return a.cfg.VSync }

// Quit reports whether a quit was requested.
func (a *App) Quit() bool { return a.quit }

// Stats returns the synchronizer counters.
func (a *App) Stats() frame.Stats {
	if a.sync == nil {
		return frame.Stats{}
	}
	return a.sync.Stats()
}

func (a *App) openDevice() error {
	if a.opts.device != nil {
		a.dev = a.opts.device
		return nil
	}
	bc := backend.Config{DebugNames: a.opts.debugNames, Surface: a.opts.surface, Logger: a.log}
	if a.opts.backend != "" {
		dev, err := backend.Open(a.opts.backend, bc)
		if err != nil {
			return err
		}
		a.dev, a.backend = dev, a.opts.backend
	} else {
		dev, name, err := backend.OpenDefault(bc)
		if err != nil {
			return err
		}
		a.dev, a.backend = dev, name
	}
	a.ownsDevice = true
	info := a.dev.Info()
	a.log.Info("banding: device opened", "backend", a.backend, "adapter", info.Name, "vendor", info.Vendor)
	return nil
}

// Init creates the device objects, uploads the noise textures and waits for
// the upload to finish. On error the objects created so far are released.
func (a *App) Init(ctx context.Context) error {
	vs, err := shader.Compile(shaders.ColorBanding, shaders.BandingVS, shader.ProfileVS60)
	if err != nil {
		return err
	}
	ps, err := shader.Compile(shaders.ColorBanding, shaders.BandingPS, shader.ProfilePS60)
	if err != nil {
		return err
	}

	if err := a.openDevice(); err != nil {
		return fmt.Errorf("banding: open device: %w", err)
	}
	if err := a.create(ctx, vs, ps); err != nil {
		return errors.Join(err, a.Shutdown(ctx))
	}
	return nil
}

func (a *App) create(ctx context.Context, vs, ps *shader.Blob) error {
	a.res = resource.NewFactory(a.dev, resource.WithDebugNames(a.opts.debugNames), resource.WithLogger(a.log))

	var err error
	if a.heaps, err = descriptor.CreateHeaps(a.opts.debugNames); err != nil {
		return err
	}
	syncOpts := []frame.Option{frame.WithLogger(a.log)}
	if a.opts.waitTimeout > 0 {
		syncOpts = append(syncOpts, frame.WithWaitTimeout(a.opts.waitTimeout))
	}
	a.sync, err = frame.New(a.dev, a.res, a.heaps.RTV, gpucore.SwapChainDesc{
		Label:  a.res.Name("SwapChain"),
		Width:  a.cfg.Width,
		Height: a.cfg.Height,
		Format: gpucore.FormatRGBA8Unorm,
	}, syncOpts...)
	if err != nil {
		return err
	}
	format := a.sync.SwapChain().Desc().Format

	if a.pipe, err = renderpass.NewPipeline(a.res, vs, ps, format); err != nil {
		return err
	}
	if a.cb, err = a.res.CreateConstantBuffer(uint64(len(a.scene.Params.Encode())), "BandingCB"); err != nil {
		return err
	}

	if a.opts.overlay {
		ovOpts := []overlay.Option{overlay.WithLogger(a.log)}
		if a.opts.fontPath != "" {
			ovOpts = append(ovOpts, overlay.WithFont(a.opts.fontPath))
		}
		if a.overlay, err = overlay.New(a.res, a.heaps.Overlay, format, a.cfg.Width, a.cfg.Height, ovOpts...); err != nil {
			return err
		}
	}

	batches, err := a.createNoise()
	defer func() {
		for _, b := range batches {
			if rerr := b.Release(a.sync.Completed()); rerr != nil {
				a.log.Warn("banding: staging release", "err", rerr)
			}
		}
	}()
	if err != nil {
		return err
	}
	if err := a.startup(ctx, batches); err != nil {
		return err
	}
	a.log.Info("banding: initialized", "width", a.cfg.Width, "height", a.cfg.Height,
		"format", format.String(), "vsync", a.cfg.VSync)
	return nil
}

// createNoise creates the two noise textures, writes their views into the
// SRV heap and returns the upload batches for them.
func (a *App) createNoise() ([]*upload.Batch, error) {
	set, err := noise.LoadSet(a.opts.dataDir, noise.WithLogger(a.log))
	if err != nil {
		return nil, fmt.Errorf("banding: load noise: %w", err)
	}

	single := noise.UploadImage(set.Single)
	if a.blueNoise, err = a.res.CreateTexture2D(single.Width, single.Height, 1, gpucore.FormatRGBA8Unorm,
		gpucore.FlagNone, gpucore.StateCopyDest, "BlueNoise"); err != nil {
		return nil, err
	}
	layers := set.UploadImages()
	if a.blueNoiseArray, err = a.res.CreateTexture2D(layers[0].Width, layers[0].Height, uint16(len(layers)),
		gpucore.FormatRGBA8Unorm, gpucore.FlagNone, gpucore.StateCopyDest, "BlueNoiseArray"); err != nil {
		return nil, err
	}

	views := []gpucore.View{
		{Kind: gpucore.ViewSRV, Resource: a.blueNoise, Format: gpucore.FormatRGBA8Unorm,
			Dimension: gpucore.ViewDimensionTexture2D},
		{Kind: gpucore.ViewSRV, Resource: a.blueNoiseArray, Format: gpucore.FormatRGBA8Unorm,
			Dimension: gpucore.ViewDimensionTexture2DArray, ArraySize: uint32(len(layers))},
	}
	for _, v := range views {
		h, err := a.heaps.SRV.Allocate()
		if err != nil {
			return nil, err
		}
		if err := a.heaps.SRV.Write(h, v); err != nil {
			return nil, err
		}
	}

	var batches []*upload.Batch
	for _, u := range []struct {
		dest  gpucore.ResourceID
		imgs  []upload.Image
		label string
	}{
		{a.blueNoise, []upload.Image{single}, "BlueNoise Staging"},
		{a.blueNoiseArray, layers, "BlueNoiseArray Staging"},
	} {
		b, err := upload.NewBatch(a.res, u.dest, u.imgs, u.label)
		if err != nil {
			return batches, fmt.Errorf("banding: %s: %w", u.label, err)
		}
		batches = append(batches, b)
	}
	return batches, nil
}

// startup records the uploads into the list New left open, executes them
// and blocks until the GPU finished before the list is reset for frame one.
func (a *App) startup(ctx context.Context, batches []*upload.Batch) error {
	list := a.sync.List()
	for _, b := range batches {
		if err := b.Record(list, gpucore.StatePixelShaderResource); err != nil {
			return err
		}
	}
	if err := a.sync.Flush(); err != nil {
		return err
	}
	for _, b := range batches {
		b.Submitted(a.sync.Target())
	}
	if err := a.sync.WaitForGPU(ctx); err != nil {
		return err
	}
	return a.sync.ResetCommandList()
}

// Update advances the scene and writes this frame's constants.
func (a *App) Update() error {
	if a.cb == nil {
		return ErrNotInitialized
	}
	a.cb.Write(a.scene.Update(a.cfg.VSync))
	return nil
}

func (a *App) overlayStats() overlay.Stats {
	st := a.sync.Stats()
	p := a.scene.Params
	return overlay.Stats{
		Backend:      a.backend,
		FrameTime:    a.timer.Average(),
		FPS:          a.timer.FPS(),
		FrameNumber:  p.FrameNumber,
		VSync:        a.cfg.VSync,
		AnimateLight: a.scene.Animate,
		Tonemapping:  p.UseTonemapping,
		Dithering:    p.UseDithering,
		NoiseType:    p.NoiseType,
		Distribution: p.Distribution,
		ShowNoise:    p.ShowNoise,
		NoiseScale:   p.NoiseScale,
		Waits:        st.Waits,
		Blocked:      st.Blocked,
	}
}

// Render records, submits and presents one frame, then moves to the next
// slot. capture is a PNG path the frame is read back into; empty skips the
// readback.
func (a *App) Render(ctx context.Context, capture string) error {
	if a.sync == nil {
		return ErrNotInitialized
	}
	a.timer.Tick(time.Now())
	list := a.sync.List()
	slot := a.sync.Current()
	target := renderpass.Target{
		BackBuffer: slot.BackBuffer,
		RTV:        slot.RTV,
		Width:      a.cfg.Width,
		Height:     a.cfg.Height,
	}

	var hooks []renderpass.Hook
	if a.overlay != nil {
		if err := a.overlay.Prepare(list, a.sync.Index(), a.overlayStats()); err != nil {
			return err
		}
		hooks = append(hooks, a.overlay.Draw)
	}
	if err := a.pipe.Record(list, target, a.cb.ID, a.heaps.SRV, hooks...); err != nil {
		return err
	}

	var rb *upload.Readback
	if capture != "" {
		var err error
		if rb, err = upload.RecordReadback(list, a.res, slot.BackBuffer, 0, gpucore.StatePresent,
			"Capture Readback"); err != nil {
			return err
		}
		defer rb.Release(a.res)
	}

	if err := a.sync.Submit(); err != nil {
		return err
	}
	if err := a.sync.WaitForGPU(ctx); err != nil {
		return err
	}
	if rb != nil {
		if err := a.writeCapture(rb, capture); err != nil {
			return err
		}
	}
	if err := a.sync.Present(a.cfg.VSync); err != nil {
		return err
	}
	if err := a.sync.MoveToNextFrame(ctx); err != nil {
		return err
	}
	if err := a.sync.ResetCommandList(); err != nil {
		return err
	}
	a.frames++
	return nil
}

func (a *App) writeCapture(rb *upload.Readback, path string) error {
	img, err := rb.Image(a.res)
	if err != nil {
		return fmt.Errorf("banding: capture: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("banding: capture: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("banding: capture: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("banding: capture: %w", err)
	}
	a.log.Info("banding: frame captured", "path", path, "frame", a.frames)
	return nil
}

// done reports whether the loop should stop before rendering the next
// frame.
func (a *App) done(ctx context.Context) bool {
	if a.quit || ctx.Err() != nil {
		return true
	}
	if a.cfg.Frames > 0 && a.frames >= a.cfg.Frames {
		return true
	}
	return a.opts.window != nil && !a.opts.window.Pump()
}

// Run initializes the App, renders until the window closes, Frames frames
// are done, Esc is pressed or ctx ends, and shuts down. With a capture path
// the final frame is read back; when the loop ends without a frame count,
// one extra frame is rendered for the capture.
func (a *App) Run(ctx context.Context) (err error) {
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Shutdown(context.WithoutCancel(ctx)))
	}()

	for !a.done(ctx) {
		if err := a.Update(); err != nil {
			return err
		}
		capture := ""
		if a.cfg.Frames > 0 && a.frames == a.cfg.Frames-1 {
			capture = a.opts.capture
		}
		if err := a.Render(ctx, capture); err != nil {
			return err
		}
	}
	if a.opts.capture != "" && a.cfg.Frames == 0 && ctx.Err() == nil {
		if err := a.Update(); err != nil {
			return err
		}
		if err := a.Render(ctx, a.opts.capture); err != nil {
			return err
		}
	}
	st := a.sync.Stats()
	a.log.Info("banding: finished", "frames", a.frames, "presented", st.Presented,
		"waits", st.Waits, "blocked", st.Blocked)
	return nil
}

// Shutdown waits for the GPU, releases every object and closes the device
// if the App opened it. It is safe on a partially initialized App.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.sync != nil {
		errs = append(errs, a.sync.Close(ctx))
		a.sync = nil
	}
	if a.overlay != nil {
		a.overlay.Close()
		a.overlay = nil
	}
	if a.pipe != nil {
		a.pipe.Release()
		a.pipe = nil
	}
	if a.res != nil {
		if a.cb != nil {
			a.cb.Release(a.res)
			a.cb = nil
		}
		a.res.DestroyAll()
		a.blueNoise, a.blueNoiseArray = gpucore.InvalidID, gpucore.InvalidID
	}
	if a.dev != nil && a.ownsDevice {
		errs = append(errs, a.dev.Close())
	}
	a.dev = nil
	return errors.Join(errs...)
}
