package soft

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/banding/internal/gpucore"
)

// SwapChain is an offscreen ring of back buffers. Present validates the
// buffer state on the timeline.
type SwapChain struct {
	dev     *Device
	desc    gpucore.SwapChainDesc
	buffers []gpucore.ResourceID
	index   uint32

	presented atomic.Uint64
}

var _ gpucore.SwapChain = (*SwapChain)(nil)

// CreateSwapChain creates desc.BufferCount render-target textures in
// StatePresent.
func (d *Device) CreateSwapChain(desc gpucore.SwapChainDesc) (gpucore.SwapChain, error) {
	if desc.BufferCount == 0 {
		desc.BufferCount = gpucore.FrameCount
	}
	if desc.Format == gpucore.FormatUnknown {
		desc.Format = gpucore.FormatRGBA8Unorm
	}
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("soft: swap chain size %dx%d", desc.Width, desc.Height)
	}
	sc := &SwapChain{dev: d, desc: desc}
	tex := gpucore.Texture2DDesc(desc.Width, desc.Height, 1, desc.Format, gpucore.FlagAllowRenderTarget)
	for i := uint32(0); i < desc.BufferCount; i++ {
		id, err := d.CreateCommittedResource(gpucore.HeapDefault, tex, gpucore.StatePresent,
			fmt.Sprintf("%sBackBuffer%d", desc.Label, i))
		if err != nil {
			sc.Close()
			return nil, err
		}
		sc.buffers = append(sc.buffers, id)
	}
	return sc, nil
}

// Desc returns the effective description.
func (s *SwapChain) Desc() gpucore.SwapChainDesc { return s.desc }

// BufferCount returns the number of back buffers.
func (s *SwapChain) BufferCount() uint32 { return uint32(len(s.buffers)) }

// Buffer returns back buffer i.
func (s *SwapChain) Buffer(i uint32) (gpucore.ResourceID, error) {
	if int(i) >= len(s.buffers) {
		return gpucore.InvalidID, fmt.Errorf("soft: back buffer %d of %d", i, len(s.buffers))
	}
	return s.buffers[i], nil
}

// CurrentBackBufferIndex returns the buffer the next frame renders into.
func (s *SwapChain) CurrentBackBufferIndex() uint32 { return s.index }

// Presented returns the number of successful presents.
func (s *SwapChain) Presented() uint64 { return s.presented.Load() }

// Present queues the current buffer after all submitted work and waits
// until the timeline has retired it. The sync interval has no effect on a
// device without a display.
func (s *SwapChain) Present(_ uint32) error {
	if err := s.dev.RemovedReason(); err != nil {
		return err
	}
	p := &presentOp{sc: s, buffer: s.buffers[s.index], done: make(chan error, 1)}
	if err := s.dev.timeline.push(op{present: p}); err != nil {
		return err
	}
	var err error
	select {
	case err = <-p.done:
	case <-s.dev.lost:
		err = s.dev.RemovedReason()
	}
	if err != nil {
		return err
	}
	s.index = (s.index + 1) % uint32(len(s.buffers))
	s.presented.Add(1)
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

type presentOp struct {
	sc     *SwapChain
	buffer gpucore.ResourceID
	done   chan error
}

func (p *presentOp) run(d *Device) error {
	r, err := d.resource(p.buffer)
	if err != nil {
		return err
	}
	if r.states[0] != gpucore.StatePresent {
		return fmt.Errorf("%w: %q is in %s", gpucore.ErrBadPresentState, r.label, r.states[0])
	}
	return nil
}
