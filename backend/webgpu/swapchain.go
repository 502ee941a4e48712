package webgpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gogpu/banding/internal/gpucore"
)

// SwapChain presents to the device surface. Its buffers are stable
// resource handles whose texture is acquired from the surface the first
// time a frame uses them.
type SwapChain struct {
	dev     *Device
	desc    gpucore.SwapChainDesc
	buffers []gpucore.ResourceID
	index   uint32

	// frame counts presents, starting at 1.
	frame   uint64
	current *wgpu.Texture

	config   wgpu.SurfaceConfiguration
	modes    []wgpu.PresentMode
	interval uint32
}

var _ gpucore.SwapChain = (*SwapChain)(nil)

// CreateSwapChain configures the surface. Only one swap chain may exist
// per device; the format is always the surface's.
func (d *Device) CreateSwapChain(desc gpucore.SwapChainDesc) (gpucore.SwapChain, error) {
	if d.chain != nil {
		return nil, fmt.Errorf("%w: surface already has a swap chain", gpucore.ErrUnsupported)
	}
	if desc.BufferCount == 0 {
		desc.BufferCount = gpucore.FrameCount
	}
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("webgpu: swap chain size %dx%d", desc.Width, desc.Height)
	}
	if desc.Format != gpucore.FormatUnknown && desc.Format != d.format {
		d.log.Warn("webgpu: swap chain format overridden by surface", "requested", desc.Format.String(),
			"surface", d.format.String())
	}
	desc.Format = d.format

	caps := d.surface.GetCapabilities(d.adapter)
	alpha := wgpu.CompositeAlphaModeAuto
	if len(caps.AlphaModes) > 0 {
		alpha = caps.AlphaModes[0]
	}
	sc := &SwapChain{dev: d, desc: desc, frame: 1, modes: caps.PresentModes}
	sc.config = wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageCopySrc,
		Format:      d.surfaceFormat,
		Width:       desc.Width,
		Height:      desc.Height,
		PresentMode: presentMode(0, sc.modes),
		AlphaMode:   alpha,
	}
	d.surface.Configure(d.adapter, d.device, &sc.config)
	tex := gpucore.Texture2DDesc(desc.Width, desc.Height, 1, desc.Format, gpucore.FlagAllowRenderTarget)
	for i := range desc.BufferCount {
		r := newResource(gpucore.HeapDefault, tex, gpucore.StatePresent, fmt.Sprintf("%sBackBuffer%d", desc.Label, i))
		r.chain, r.slot = sc, i
		id, err := d.insert(r)
		if err != nil {
			_ = sc.Close()
			return nil, err
		}
		sc.buffers = append(sc.buffers, id)
	}
	d.chain = sc
	return sc, nil
}

// Desc returns the effective description.
func (s *SwapChain) Desc() gpucore.SwapChainDesc { return s.desc }

// BufferCount returns the number of back buffer handles.
func (s *SwapChain) BufferCount() uint32 { return uint32(len(s.buffers)) }

// Buffer returns back buffer i.
func (s *SwapChain) Buffer(i uint32) (gpucore.ResourceID, error) {
	if int(i) >= len(s.buffers) {
		return gpucore.InvalidID, fmt.Errorf("webgpu: back buffer %d of %d", i, len(s.buffers))
	}
	return s.buffers[i], nil
}

// CurrentBackBufferIndex returns the buffer the next frame renders into.
func (s *SwapChain) CurrentBackBufferIndex() uint32 { return s.index }

// acquire returns the surface texture behind slot for the current frame.
func (s *SwapChain) acquire(r *resource) (*wgpu.Texture, error) {
	if r.slot != s.index {
		return nil, fmt.Errorf("webgpu: back buffer %d used while %d is current", r.slot, s.index)
	}
	if s.current == nil {
		tex, err := s.dev.surface.GetCurrentTexture()
		if err != nil {
			return nil, fmt.Errorf("webgpu: acquire surface texture: %w", err)
		}
		s.current = tex
	}
	r.texture = s.current
	return s.current, nil
}

// presentMode maps a sync interval onto a surface present mode. Fifo is
// the only mode every surface supports.
func presentMode(interval uint32, supported []wgpu.PresentMode) wgpu.PresentMode {
	if interval > 0 {
		return wgpu.PresentModeFifo
	}
	for _, m := range supported {
		if m == wgpu.PresentModeImmediate {
			return m
		}
	}
	for _, m := range supported {
		if m == wgpu.PresentModeMailbox {
			return m
		}
	}
	return wgpu.PresentModeFifo
}

// Present submits outstanding work and presents the surface. A change of
// sync interval reconfigures the surface before the next frame acquires.
func (s *SwapChain) Present(interval uint32) error {
	d := s.dev
	if err := d.RemovedReason(); err != nil {
		return err
	}
	if len(s.buffers) == 0 {
		return fmt.Errorf("webgpu: present on closed swap chain")
	}
	r, err := d.resource(s.buffers[s.index])
	if err != nil {
		return err
	}
	if r.states[0] != gpucore.StatePresent {
		return fmt.Errorf("%w: %q is in %s", gpucore.ErrBadPresentState, r.label, r.states[0])
	}
	if len(d.pending) > 0 {
		d.submit()
	}
	if s.current != nil {
		d.surface.Present()
		r.releaseViews()
		r.texture = nil
		s.current.Release()
		s.current = nil
	}
	if interval != s.interval {
		s.interval = interval
		if mode := presentMode(interval, s.modes); mode != s.config.PresentMode {
			s.config.PresentMode = mode
			d.surface.Configure(d.adapter, d.device, &s.config)
			d.log.Debug("webgpu: present mode changed", "interval", interval)
		}
	}
	s.frame++
	d.pipelines.Each(func(_ gpucore.PipelineID, p **pipelineState) { (*p).dropFrameGroups(s.frame) })
	s.index = (s.index + 1) % uint32(len(s.buffers))
	return nil
}

// Close releases the back buffer handles.
func (s *SwapChain) Close() error {
	for _, id := range s.buffers {
		s.dev.DestroyResource(id)
	}
	s.buffers = nil
	if s.current != nil {
		s.current.Release()
		s.current = nil
	}
	if s.dev.chain == s {
		s.dev.chain = nil
	}
	return nil
}

type viewKey struct {
	kind      gpucore.ViewKind
	dimension gpucore.ViewDimension
	format    gpucore.Format
	first     uint32
	count     uint32
}

// view returns the texture view for v and, for surface buffers, the frame
// it belongs to.
func (d *Device) view(v gpucore.View) (*wgpu.TextureView, uint64, error) {
	r, err := d.resource(v.Resource)
	if err != nil {
		return nil, 0, err
	}
	var frame uint64
	tex := r.texture
	if r.chain != nil {
		if tex, err = r.chain.acquire(r); err != nil {
			return nil, 0, err
		}
		frame = r.chain.frame
	}
	if tex == nil {
		return nil, 0, fmt.Errorf("%w: view of buffer %q", gpucore.ErrUnsupported, r.label)
	}
	format := v.Format
	if format == gpucore.FormatUnknown {
		format = r.desc.Format
	}
	count := v.ArraySize
	if count == 0 {
		count = uint32(r.desc.DepthOrArraySize) - v.FirstArraySlice
	}
	key := viewKey{kind: v.Kind, dimension: v.Dimension, format: format, first: v.FirstArraySlice, count: count}
	if tv, ok := r.views[key]; ok {
		return tv, frame, nil
	}
	tv, err := tex.CreateView(&wgpu.TextureViewDescriptor{
		Label:           d.label(r.label + " view"),
		Format:          formatToWGPU(format),
		Dimension:       viewDimension(v.Dimension),
		BaseMipLevel:    0,
		MipLevelCount:   1,
		BaseArrayLayer:  v.FirstArraySlice,
		ArrayLayerCount: count,
		Aspect:          wgpu.TextureAspectAll,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("webgpu: create view of %q: %w", r.label, err)
	}
	if r.views == nil {
		r.views = make(map[viewKey]*wgpu.TextureView)
	}
	r.views[key] = tv
	return tv, frame, nil
}
