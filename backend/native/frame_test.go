//go:build !nogpu

package native

import (
	"context"
	"testing"

	"github.com/gogpu/banding/internal/descriptor"
	"github.com/gogpu/banding/internal/frame"
	"github.com/gogpu/banding/internal/gpucore"
	"github.com/gogpu/banding/internal/resource"
)

// TestSynchronizerFrames drives the full frame sequence on the hal noop
// device: startup flush, then Submit, WaitForGPU, Present, MoveToNextFrame
// and ResetCommandList for several frames. Submit and WaitForGPU signal the
// same fence value back to back.
func TestSynchronizerFrames(t *testing.T) {
	d := newNoopDevice(t)
	ctx := context.Background()

	res := resource.NewFactory(d, resource.WithDebugNames(true))
	heaps, err := descriptor.CreateHeaps(true)
	if err != nil {
		t.Fatalf("CreateHeaps: %v", err)
	}
	s, err := frame.New(d, res, heaps.RTV, gpucore.SwapChainDesc{Label: "Main", Width: 16, Height: 8})
	if err != nil {
		t.Fatalf("frame.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(ctx) })

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := s.WaitForGPU(ctx); err != nil {
		t.Fatalf("startup WaitForGPU: %v", err)
	}
	base := s.Stats()

	const frames = 5
	var indices []uint32
	for i := range frames {
		if !s.List().Recording() {
			if err := s.ResetCommandList(); err != nil {
				t.Fatalf("frame %d ResetCommandList: %v", i, err)
			}
		}
		slot := s.Current()
		indices = append(indices, s.Index())
		l := s.List()
		l.ResourceBarrier(gpucore.Transition{Resource: slot.BackBuffer, Subresource: gpucore.AllSubresources,
			Before: gpucore.StatePresent, After: gpucore.StateRenderTarget})
		l.ResourceBarrier(gpucore.Transition{Resource: slot.BackBuffer, Subresource: gpucore.AllSubresources,
			Before: gpucore.StateRenderTarget, After: gpucore.StatePresent})

		if err := s.Submit(); err != nil {
			t.Fatalf("frame %d Submit: %v", i, err)
		}
		if err := s.WaitForGPU(ctx); err != nil {
			t.Fatalf("frame %d WaitForGPU: %v", i, err)
		}
		if err := s.Present(i%2 == 0); err != nil {
			t.Fatalf("frame %d Present: %v", i, err)
		}
		if err := s.MoveToNextFrame(ctx); err != nil {
			t.Fatalf("frame %d MoveToNextFrame: %v", i, err)
		}
		if err := s.ResetCommandList(); err != nil {
			t.Fatalf("frame %d ResetCommandList: %v", i, err)
		}
	}

	for i, idx := range indices {
		if want := uint32(i) % gpucore.FrameCount; idx != want {
			t.Errorf("frame %d index = %d, want %d", i, idx, want)
		}
	}
	st := s.Stats()
	if got := st.Submitted - base.Submitted; got != frames {
		t.Errorf("submitted %d, want %d", got, frames)
	}
	if got := st.Presented - base.Presented; got != frames {
		t.Errorf("presented %d, want %d", got, frames)
	}
	if got, want := s.Target(), s.Completed()+1; got < want {
		t.Errorf("target %d not above completed %d", got, want-1)
	}
}
