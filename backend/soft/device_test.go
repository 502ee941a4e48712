package soft

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/gogpu/banding/internal/gpucore"
)

func init() {
	RegisterVertex("testVS", func(_ int, attrs []float32, _ *Bindings) Varyings {
		return Varyings{Position: [4]float32{attrs[0], attrs[1], attrs[2], 1}}
	})
	RegisterPixel("testPS", func(_ Fragment, b *Bindings) [4]float32 {
		return [4]float32{b.Float32(0, 0), b.Float32(0, 4), b.Float32(0, 8), 1}
	})
}

func newDevice(t *testing.T) *Device {
	t.Helper()
	d := New()
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func putFloats(b []byte, fs ...float32) {
	for i, f := range fs {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
}

func execAndWait(t *testing.T, d *Device, cmds ...gpucore.Command) {
	t.Helper()
	f, err := d.CreateFence(0)
	if err != nil {
		t.Fatalf("CreateFence: %v", err)
	}
	defer d.DestroyFence(f)
	if err := d.Queue().Execute(&gpucore.CommandStream{Label: "test", Commands: cmds}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := d.Queue().Signal(f, 1); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.WaitFence(ctx, f, 1); err != nil {
		t.Fatalf("WaitFence: %v", err)
	}
}

func TestStaleResourceRejected(t *testing.T) {
	d := newDevice(t)
	id, err := d.CreateCommittedResource(gpucore.HeapUpload, gpucore.BufferDesc(16, 0, 0), gpucore.StateGenericRead, "a")
	if err != nil {
		t.Fatalf("CreateCommittedResource: %v", err)
	}
	d.DestroyResource(id)
	reused, err := d.CreateCommittedResource(gpucore.HeapUpload, gpucore.BufferDesc(16, 0, 0), gpucore.StateGenericRead, "b")
	if err != nil {
		t.Fatalf("CreateCommittedResource: %v", err)
	}
	if reused == id {
		t.Fatal("reused slot returned the stale handle")
	}
	if _, err := d.Map(id); !errors.Is(err, gpucore.ErrInvalidID) {
		t.Errorf("Map(stale) = %v, want ErrInvalidID", err)
	}
	if _, err := d.Map(reused); err != nil {
		t.Errorf("Map(reused) = %v", err)
	}
}

func TestMapDefaultHeap(t *testing.T) {
	d := newDevice(t)
	id, err := d.CreateCommittedResource(gpucore.HeapDefault, gpucore.BufferDesc(16, 0, 0), gpucore.StateCommon, "gpu")
	if err != nil {
		t.Fatalf("CreateCommittedResource: %v", err)
	}
	if _, err := d.Map(id); !errors.Is(err, gpucore.ErrNotCPUVisible) {
		t.Fatalf("Map = %v, want ErrNotCPUVisible", err)
	}
}

func TestFenceOrdering(t *testing.T) {
	d := newDevice(t)
	f, _ := d.CreateFence(0)
	d.Pause()
	for v := uint64(1); v <= 3; v++ {
		if err := d.Queue().Signal(f, v); err != nil {
			t.Fatalf("Signal: %v", err)
		}
	}
	if got := d.CompletedValue(f); got != 0 {
		t.Fatalf("completed while paused = %d, want 0", got)
	}
	d.Resume()
	if err := d.WaitFence(context.Background(), f, 3); err != nil {
		t.Fatalf("WaitFence: %v", err)
	}
	if got := d.CompletedValue(f); got != 3 {
		t.Errorf("completed = %d, want 3", got)
	}
}

func TestBarrierMismatchRemovesDevice(t *testing.T) {
	d := newDevice(t)
	tex, err := d.CreateCommittedResource(gpucore.HeapDefault,
		gpucore.Texture2DDesc(2, 2, 1, gpucore.FormatRGBA8Unorm, 0), gpucore.StateCommon, "t")
	if err != nil {
		t.Fatalf("CreateCommittedResource: %v", err)
	}
	f, _ := d.CreateFence(0)
	_ = d.Queue().Execute(&gpucore.CommandStream{Commands: []gpucore.Command{
		gpucore.CmdBarrier{Transitions: []gpucore.Transition{{Resource: tex, Subresource: gpucore.AllSubresources,
			Before: gpucore.StateCopyDest, After: gpucore.StatePixelShaderResource}}},
	}})
	_ = d.Queue().Signal(f, 1)

	err = d.WaitFence(context.Background(), f, 1)
	if !errors.Is(err, gpucore.ErrDeviceLost) {
		t.Fatalf("WaitFence = %v, want ErrDeviceLost", err)
	}
	if !errors.Is(d.RemovedReason(), errValidation) {
		t.Errorf("RemovedReason = %v, want validation error", d.RemovedReason())
	}
	if err := d.Queue().Signal(f, 2); !errors.Is(err, gpucore.ErrDeviceLost) {
		t.Errorf("Signal after removal = %v, want ErrDeviceLost", err)
	}
}

func TestRemove(t *testing.T) {
	d := newDevice(t)
	f, _ := d.CreateFence(0)
	done := make(chan error, 1)
	go func() { done <- d.WaitFence(context.Background(), f, 10) }()
	d.Remove("driver reset")
	select {
	case err := <-done:
		if !errors.Is(err, gpucore.ErrDeviceLost) {
			t.Fatalf("WaitFence = %v, want ErrDeviceLost", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not released by device removal")
	}
}

func TestSwapChainPresent(t *testing.T) {
	d := newDevice(t)
	sc, err := d.CreateSwapChain(gpucore.SwapChainDesc{Width: 4, Height: 4})
	if err != nil {
		t.Fatalf("CreateSwapChain: %v", err)
	}
	if sc.BufferCount() != gpucore.FrameCount {
		t.Fatalf("BufferCount = %d, want %d", sc.BufferCount(), gpucore.FrameCount)
	}
	var seq []uint32
	for i := 0; i < 4; i++ {
		seq = append(seq, sc.CurrentBackBufferIndex())
		if err := sc.Present(0); err != nil {
			t.Fatalf("Present: %v", err)
		}
	}
	want := []uint32{0, 1, 0, 1}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("index sequence = %v, want %v", seq, want)
		}
	}
	if got := sc.(*SwapChain).Presented(); got != 4 {
		t.Errorf("Presented = %d, want 4", got)
	}

	bb, _ := sc.Buffer(sc.CurrentBackBufferIndex())
	execAndWait(t, d, gpucore.CmdBarrier{Transitions: []gpucore.Transition{{Resource: bb,
		Subresource: gpucore.AllSubresources, Before: gpucore.StatePresent, After: gpucore.StateRenderTarget}}})
	if err := sc.Present(0); !errors.Is(err, gpucore.ErrBadPresentState) {
		t.Fatalf("Present in RenderTarget = %v, want ErrBadPresentState", err)
	}
}

func TestDrawFullscreenTriangle(t *testing.T) {
	const w, h = 8, 6
	d := newDevice(t)

	rt, err := d.CreateCommittedResource(gpucore.HeapDefault,
		gpucore.Texture2DDesc(w, h, 1, gpucore.FormatRGBA8Unorm, gpucore.FlagAllowRenderTarget),
		gpucore.StateRenderTarget, "rt")
	if err != nil {
		t.Fatalf("rt: %v", err)
	}
	cb, _ := d.CreateCommittedResource(gpucore.HeapUpload, gpucore.BufferDesc(256, 256, 0), gpucore.StateGenericRead, "cb")
	mem, _ := d.Map(cb)
	putFloats(mem, 1, 0.5, 0)
	d.Unmap(cb, gpucore.Range{})

	vb, _ := d.CreateCommittedResource(gpucore.HeapUpload, gpucore.BufferDesc(36, 0, 0), gpucore.StateGenericRead, "vb")
	mem, _ = d.Map(vb)
	putFloats(mem, -1, -1, 0, -1, 3, 0, 3, -1, 0)
	d.Unmap(vb, gpucore.Range{})

	root := &gpucore.RootSignatureDesc{Parameters: []gpucore.RootParameter{
		{Kind: gpucore.RootCBV, Visibility: gpucore.VisibilityPixel},
	}}
	vs, err := d.CreateShaderModule(&gpucore.ShaderModuleDesc{Stage: gpucore.StageVertex, EntryPoint: "testVS"})
	if err != nil {
		t.Fatalf("vs: %v", err)
	}
	ps, err := d.CreateShaderModule(&gpucore.ShaderModuleDesc{Stage: gpucore.StagePixel, EntryPoint: "testPS"})
	if err != nil {
		t.Fatalf("ps: %v", err)
	}
	pso, err := d.CreatePipeline(&gpucore.PipelineDesc{
		RootSignature: root, VS: vs, PS: ps,
		InputLayout:        []gpucore.InputElement{{Semantic: "POSITION", Format: gpucore.VertexFloat3}},
		Stride:             12,
		Topology:           gpucore.TopologyTriangleList,
		RenderTargetFormat: gpucore.FormatRGBA8Unorm,
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	execAndWait(t, d,
		gpucore.CmdSetRenderTarget{View: gpucore.View{Kind: gpucore.ViewRTV, Resource: rt}},
		gpucore.CmdSetRootConstantBuffer{Slot: 0, Buffer: cb},
		gpucore.CmdSetPipeline{Pipeline: pso},
		gpucore.CmdSetTopology{Topology: gpucore.TopologyTriangleList},
		gpucore.CmdSetVertexBuffer{Buffer: vb, Size: 36, Stride: 12},
		gpucore.CmdSetViewport{Viewport: gpucore.Viewport{Width: w, Height: h, MaxDepth: 1}},
		gpucore.CmdSetScissor{Rect: gpucore.Rect{Right: w, Bottom: h}},
		gpucore.CmdDraw{VertexCount: 3, InstanceCount: 1},
	)
	if err := d.RemovedReason(); err != nil {
		t.Fatalf("device removed: %v", err)
	}
	px, _ := d.Contents(rt)
	for i := 0; i < w*h; i++ {
		got := px[i*4 : i*4+4]
		if got[0] != 255 || got[1] != 128 || got[2] != 0 || got[3] != 255 {
			t.Fatalf("pixel %d = %v, want [255 128 0 255]", i, got)
		}
	}
}

func TestUnknownProgram(t *testing.T) {
	d := newDevice(t)
	_, err := d.CreateShaderModule(&gpucore.ShaderModuleDesc{Stage: gpucore.StagePixel, EntryPoint: "missing"})
	if !errors.Is(err, ErrNoProgram) {
		t.Fatalf("err = %v, want ErrNoProgram", err)
	}
}
