package cmdlist

import (
	"errors"
	"testing"

	"github.com/gogpu/banding/backend/soft"
	"github.com/gogpu/banding/internal/descriptor"
	"github.com/gogpu/banding/internal/gpucore"
	"github.com/gogpu/banding/internal/resource"
)

type fakeFence struct{ completed uint64 }

func (f *fakeFence) CompletedValue(gpucore.FenceID) uint64 { return f.completed }

func newList(t *testing.T, opts ...Option) (*List, *resource.Factory, *Allocator) {
	t.Helper()
	dev := soft.New()
	t.Cleanup(func() { _ = dev.Close() })
	res := resource.NewFactory(dev)
	alloc := NewAllocator(&fakeFence{}, 1, "alloc")
	l := New(res, "list", opts...)
	if err := l.Reset(alloc); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	return l, res, alloc
}

func TestAllocatorReset(t *testing.T) {
	tests := []struct {
		name      string
		completed uint64
		pending   uint64
		wantErr   error
	}{
		{"never submitted", 0, 0, nil},
		{"completed", 5, 5, nil},
		{"ahead", 6, 5, nil},
		{"in flight", 4, 5, ErrAllocatorInFlight},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFence{completed: tt.completed}
			a := NewAllocator(f, 1, "a")
			a.MarkSubmitted(tt.pending)
			if err := a.Reset(); !errors.Is(err, tt.wantErr) {
				t.Fatalf("Reset() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAllocatorMarkSubmittedKeepsMax(t *testing.T) {
	a := NewAllocator(&fakeFence{}, 1, "a")
	a.MarkSubmitted(7)
	a.MarkSubmitted(3)
	if got := a.Pending(); got != 7 {
		t.Errorf("Pending() = %d, want 7", got)
	}
}

func TestAllocatorBusyWhileRecording(t *testing.T) {
	_, _, alloc := newList(t)
	if err := alloc.Reset(); !errors.Is(err, ErrAllocatorBusy) {
		t.Fatalf("Reset while recording = %v, want ErrAllocatorBusy", err)
	}
	other := New(nil, "other")
	if err := other.Reset(alloc); !errors.Is(err, ErrAllocatorBusy) {
		t.Fatalf("second list Reset = %v, want ErrAllocatorBusy", err)
	}
}

func TestBarrierTracksState(t *testing.T) {
	l, res, _ := newList(t)
	tex, err := res.CreateTexture2D(4, 4, 1, gpucore.FormatRGBA8Unorm, gpucore.FlagNone, gpucore.StateCopyDest, "t")
	if err != nil {
		t.Fatalf("CreateTexture2D: %v", err)
	}
	l.ResourceBarrier(gpucore.Transition{Resource: tex, Subresource: gpucore.AllSubresources,
		Before: gpucore.StateCopyDest, After: gpucore.StatePixelShaderResource})
	if s, _ := l.ResourceState(tex); s != gpucore.StatePixelShaderResource {
		t.Fatalf("tracked state = %s, want PixelShaderResource", s)
	}
	if s, _ := res.State(tex); s != gpucore.StateCopyDest {
		t.Errorf("table state changed before commit: %s", s)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := len(l.Stream().Commands); got != 1 {
		t.Errorf("stream has %d commands, want 1", got)
	}
}

func TestBarrierMismatch(t *testing.T) {
	l, res, _ := newList(t)
	tex, err := res.CreateTexture2D(4, 4, 1, gpucore.FormatRGBA8Unorm, gpucore.FlagNone, gpucore.StateCommon, "t")
	if err != nil {
		t.Fatalf("CreateTexture2D: %v", err)
	}
	l.ResourceBarrier(gpucore.Transition{Resource: tex, Subresource: gpucore.AllSubresources,
		Before: gpucore.StateCopyDest, After: gpucore.StatePixelShaderResource})
	l.RSSetViewport(gpucore.Viewport{Width: 1, Height: 1})
	if !errors.Is(l.Err(), ErrStateMismatch) {
		t.Fatalf("Err() = %v, want ErrStateMismatch", l.Err())
	}
	if len(l.Commands()) != 0 {
		t.Errorf("commands recorded after a failure: %d", len(l.Commands()))
	}
	if err := l.Close(); !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("Close = %v, want ErrStateMismatch", err)
	}
	if l.Stream() != nil {
		t.Error("failed close must not produce a stream")
	}
}

func TestPartialTransitionOfArrayRejected(t *testing.T) {
	l, res, _ := newList(t)
	tex, err := res.CreateTexture2D(2, 2, 4, gpucore.FormatRGBA8Unorm, gpucore.FlagNone, gpucore.StateCopyDest, "arr")
	if err != nil {
		t.Fatalf("CreateTexture2D: %v", err)
	}
	l.ResourceBarrier(gpucore.Transition{Resource: tex, Subresource: 1,
		Before: gpucore.StateCopyDest, After: gpucore.StatePixelShaderResource})
	if !errors.Is(l.Err(), gpucore.ErrUnsupported) {
		t.Fatalf("Err() = %v, want ErrUnsupported", l.Err())
	}
}

func TestCloseUnpairedBackBuffer(t *testing.T) {
	l, res, _ := newList(t)
	dev := res.Device()
	desc := gpucore.Texture2DDesc(4, 4, 1, gpucore.FormatRGBA8Unorm, gpucore.FlagAllowRenderTarget)
	id, err := dev.CreateCommittedResource(gpucore.HeapDefault, desc, gpucore.StatePresent, "bb")
	if err != nil {
		t.Fatalf("CreateCommittedResource: %v", err)
	}
	res.Adopt(id, gpucore.HeapDefault, desc, gpucore.StatePresent, true, "BackBuffer0")
	l.ResourceBarrier(gpucore.Transition{Resource: id, Subresource: gpucore.AllSubresources,
		Before: gpucore.StatePresent, After: gpucore.StateRenderTarget})
	if err := l.Close(); !errors.Is(err, ErrUnpairedTransition) {
		t.Fatalf("Close = %v, want ErrUnpairedTransition", err)
	}
}

func TestClosedListRejectsCommands(t *testing.T) {
	l, _, _ := newList(t)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second Close = %v, want ErrClosed", err)
	}
	l.DrawInstanced(3, 1, 0, 0)
	if !errors.Is(l.Err(), ErrClosed) {
		t.Fatalf("Err() = %v, want ErrClosed", l.Err())
	}
}

func TestResetStartsAfterPreviousStream(t *testing.T) {
	l, _, alloc := newList(t)
	l.RSSetViewport(gpucore.Viewport{Width: 1, Height: 1})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Reset(alloc); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	l.RSSetScissorRect(gpucore.Rect{Right: 1, Bottom: 1})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	cmds := l.Stream().Commands
	if len(cmds) != 1 {
		t.Fatalf("second stream has %d commands, want 1", len(cmds))
	}
	if _, ok := cmds[0].(gpucore.CmdSetScissor); !ok {
		t.Errorf("second stream starts with %T", cmds[0])
	}
}

func rootSig() *gpucore.RootSignatureDesc {
	return &gpucore.RootSignatureDesc{
		Parameters: []gpucore.RootParameter{
			{Kind: gpucore.RootCBV, Visibility: gpucore.VisibilityPixel},
			{Kind: gpucore.RootTable, Visibility: gpucore.VisibilityPixel, Ranges: []gpucore.ViewDimension{
				gpucore.ViewDimensionTexture2D, gpucore.ViewDimensionTexture2DArray,
			}},
		},
	}
}

func TestRootArguments(t *testing.T) {
	heaps, err := descriptor.CreateHeaps(false)
	if err != nil {
		t.Fatalf("CreateHeaps: %v", err)
	}
	single, _ := heaps.SRV.Allocate()
	arr, _ := heaps.SRV.Allocate()
	if err := heaps.SRV.Write(arr, gpucore.View{Kind: gpucore.ViewSRV, Resource: 1,
		Dimension: gpucore.ViewDimensionTexture2DArray}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := heaps.SRV.Write(single, gpucore.View{Kind: gpucore.ViewSRV, Resource: 2,
		Dimension: gpucore.ViewDimensionTexture2D}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	tests := []struct {
		name    string
		record  func(l *List)
		wantErr error
	}{
		{"no root signature", func(l *List) {
			l.SetGraphicsRootConstantBufferView(0, 1, 0)
		}, ErrNoRootSig},
		{"cbv on table slot", func(l *List) {
			l.SetGraphicsRootSignature(rootSig())
			l.SetGraphicsRootConstantBufferView(1, 1, 0)
		}, ErrRootParameter},
		{"table without heap", func(l *List) {
			l.SetGraphicsRootSignature(rootSig())
			l.SetGraphicsRootDescriptorTable(1, heaps.SRV.GPUStart())
		}, ErrNoHeap},
		{"table past heap end", func(l *List) {
			l.SetDescriptorHeaps(heaps.SRV)
			l.SetGraphicsRootSignature(rootSig())
			l.SetGraphicsRootDescriptorTable(1, heaps.SRV.GPUStart().Offset(1))
		}, descriptor.ErrForeignHandle},
		{"rtv heap bound", func(l *List) {
			l.SetDescriptorHeaps(heaps.RTV)
		}, descriptor.ErrNotShaderVisible},
		{"valid", func(l *List) {
			l.SetDescriptorHeaps(heaps.SRV)
			l.SetGraphicsRootSignature(rootSig())
			l.SetGraphicsRootConstantBufferView(0, 1, 0)
			l.SetGraphicsRootDescriptorTable(1, heaps.SRV.GPUStart())
		}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _, _ := newList(t)
			tt.record(l)
			if !errors.Is(l.Err(), tt.wantErr) {
				t.Fatalf("Err() = %v, want %v", l.Err(), tt.wantErr)
			}
		})
	}
}

func TestDrawNeedsPipelineAndTarget(t *testing.T) {
	l, _, _ := newList(t)
	l.DrawInstanced(3, 1, 0, 0)
	if !errors.Is(l.Err(), ErrIncompleteDraw) {
		t.Fatalf("Err() = %v, want ErrIncompleteDraw", l.Err())
	}
}

func TestRenderTargetResolution(t *testing.T) {
	heaps, err := descriptor.CreateHeaps(false)
	if err != nil {
		t.Fatalf("CreateHeaps: %v", err)
	}
	l, res, _ := newList(t, WithHeaps(heaps.RTV))
	tex, err := res.CreateTexture2D(4, 4, 1, gpucore.FormatRGBA8Unorm, gpucore.FlagAllowRenderTarget,
		gpucore.StateCommon, "rt")
	if err != nil {
		t.Fatalf("CreateTexture2D: %v", err)
	}
	rtv, _ := heaps.RTV.Allocate()
	if err := heaps.RTV.Write(rtv, gpucore.View{Kind: gpucore.ViewRTV, Resource: tex,
		Dimension: gpucore.ViewDimensionTexture2D}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	l.OMSetRenderTarget(rtv)
	if !errors.Is(l.Err(), ErrStateMismatch) {
		t.Fatalf("render target in Common: Err() = %v, want ErrStateMismatch", l.Err())
	}
}
