//go:build !nogpu

package native

import (
	"fmt"

	"github.com/gogpu/banding/internal/gpucore"
)

// SwapChain is an offscreen ring of render-attachment textures.
type SwapChain struct {
	dev       *Device
	desc      gpucore.SwapChainDesc
	buffers   []gpucore.ResourceID
	index     uint32
	presented uint64
}

var _ gpucore.SwapChain = (*SwapChain)(nil)

// CreateSwapChain creates desc.BufferCount textures in StatePresent. The
// format defaults to the provider's surface format, then RGBA8.
func (d *Device) CreateSwapChain(desc gpucore.SwapChainDesc) (gpucore.SwapChain, error) {
	if desc.BufferCount == 0 {
		desc.BufferCount = gpucore.FrameCount
	}
	if desc.Format == gpucore.FormatUnknown {
		desc.Format = d.surfaceFormat
	}
	if desc.Format == gpucore.FormatUnknown {
		desc.Format = gpucore.FormatRGBA8Unorm
	}
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("native: swap chain size %dx%d", desc.Width, desc.Height)
	}
	sc := &SwapChain{dev: d, desc: desc}
	tex := gpucore.Texture2DDesc(desc.Width, desc.Height, 1, desc.Format, gpucore.FlagAllowRenderTarget)
	for i := range desc.BufferCount {
		id, err := d.CreateCommittedResource(gpucore.HeapDefault, tex, gpucore.StatePresent,
			fmt.Sprintf("%sBackBuffer%d", desc.Label, i))
		if err != nil {
			_ = sc.Close()
			return nil, err
		}
		sc.buffers = append(sc.buffers, id)
	}
	d.log.Debug("native: swap chain created", "width", desc.Width, "height", desc.Height,
		"buffers", desc.BufferCount, "format", desc.Format.String())
	return sc, nil
}

// Desc returns the effective description.
func (s *SwapChain) Desc() gpucore.SwapChainDesc { return s.desc }

// BufferCount returns the number of back buffers.
func (s *SwapChain) BufferCount() uint32 { return uint32(len(s.buffers)) }

// Buffer returns back buffer i.
func (s *SwapChain) Buffer(i uint32) (gpucore.ResourceID, error) {
	if int(i) >= len(s.buffers) {
		return gpucore.InvalidID, fmt.Errorf("native: back buffer %d of %d", i, len(s.buffers))
	}
	return s.buffers[i], nil
}

// CurrentBackBufferIndex returns the buffer the next frame renders into.
func (s *SwapChain) CurrentBackBufferIndex() uint32 { return s.index }

// Presented returns the number of successful presents.
func (s *SwapChain) Presented() uint64 { return s.presented }

// Present submits outstanding work and advances the ring. The back buffer
// must have been transitioned back to StatePresent by the executed
// streams.
func (s *SwapChain) Present(_ uint32) error {
	d := s.dev
	if err := d.RemovedReason(); err != nil {
		return err
	}
	if len(s.buffers) == 0 {
		return fmt.Errorf("native: present on closed swap chain")
	}
	if err := d.flush(); err != nil {
		return err
	}
	r, err := d.resource(s.buffers[s.index])
	if err != nil {
		return err
	}
	if r.states[0] != gpucore.StatePresent {
		return fmt.Errorf("%w: %q is in %s", gpucore.ErrBadPresentState, r.label, r.states[0])
	}
	s.index = (s.index + 1) % uint32(len(s.buffers))
	s.presented++
	return nil
}

// Close destroys the back buffers.
func (s *SwapChain) Close() error {
	for _, id := range s.buffers {
		s.dev.DestroyResource(id)
	}
	s.buffers = nil
	return nil
}
