package frame

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/banding/backend/soft"
	"github.com/gogpu/banding/internal/cmdlist"
	"github.com/gogpu/banding/internal/descriptor"
	"github.com/gogpu/banding/internal/gpucore"
	"github.com/gogpu/banding/internal/resource"
)

type harness struct {
	dev  *soft.Device
	res  *resource.Factory
	sync *Synchronizer
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	dev := soft.New()
	t.Cleanup(func() { _ = dev.Close() })
	res := resource.NewFactory(dev, resource.WithDebugNames(true))
	heaps, err := descriptor.CreateHeaps(true)
	if err != nil {
		t.Fatalf("CreateHeaps: %v", err)
	}
	s, err := New(dev, res, heaps.RTV, gpucore.SwapChainDesc{Label: "Test", Width: 8, Height: 4}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{dev: dev, res: res, sync: s}
}

// startup runs the empty startup submission the way the application does.
func (h *harness) startup(t *testing.T) {
	t.Helper()
	if err := h.sync.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := h.sync.WaitForGPU(context.Background()); err != nil {
		t.Fatalf("WaitForGPU: %v", err)
	}
}

// record records the minimal pass: back buffer to render target and back.
func (h *harness) record(t *testing.T) {
	t.Helper()
	if !h.sync.List().Recording() {
		if err := h.sync.ResetCommandList(); err != nil {
			t.Fatalf("ResetCommandList: %v", err)
		}
	}
	bb := h.sync.Current().BackBuffer
	l := h.sync.List()
	l.ResourceBarrier(gpucore.Transition{Resource: bb, Subresource: gpucore.AllSubresources,
		Before: gpucore.StatePresent, After: gpucore.StateRenderTarget})
	l.ResourceBarrier(gpucore.Transition{Resource: bb, Subresource: gpucore.AllSubresources,
		Before: gpucore.StateRenderTarget, After: gpucore.StatePresent})
}

func (h *harness) frame(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := h.sync.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := h.sync.WaitForGPU(ctx); err != nil {
		t.Fatalf("WaitForGPU: %v", err)
	}
	if err := h.sync.Present(false); err != nil {
		t.Fatalf("Present: %v", err)
	}
	if err := h.sync.MoveToNextFrame(ctx); err != nil {
		t.Fatalf("MoveToNextFrame: %v", err)
	}
	if err := h.sync.ResetCommandList(); err != nil {
		t.Fatalf("ResetCommandList: %v", err)
	}
}

func TestNewStartsOpenOnSlotZero(t *testing.T) {
	h := newHarness(t)
	if got := h.sync.Index(); got != 0 {
		t.Errorf("Index() = %d, want 0", got)
	}
	if !h.sync.List().Recording() {
		t.Error("list must be open for the startup upload")
	}
	if got := h.sync.Target(); got != 1 {
		t.Errorf("Target() = %d, want 1", got)
	}
	for i := uint32(0); i < gpucore.FrameCount; i++ {
		rec, err := h.res.Lookup(h.sync.Slot(i).BackBuffer)
		if err != nil {
			t.Fatalf("Lookup back buffer %d: %v", i, err)
		}
		if !rec.Presentable || rec.State != gpucore.StatePresent {
			t.Errorf("back buffer %d: presentable=%v state=%s", i, rec.Presentable, rec.State)
		}
	}
}

func TestFenceValueSequence(t *testing.T) {
	h := newHarness(t)
	h.startup(t)
	if got := h.sync.Target(); got != 2 {
		t.Fatalf("target after startup = %d, want 2", got)
	}
	if got := h.sync.Completed(); got != 1 {
		t.Fatalf("completed after startup = %d, want 1", got)
	}

	h.record(t)
	h.frame(t)
	if got := h.sync.Index(); got != 1 {
		t.Fatalf("index after frame 1 = %d, want 1", got)
	}
	if got := h.sync.Slot(0).FenceValue; got != 4 {
		t.Errorf("slot 0 target = %d, want 4", got)
	}
	if got := h.sync.Slot(1).FenceValue; got != 5 {
		t.Errorf("slot 1 target = %d, want 5", got)
	}
	if got := h.sync.Slot(0).Allocator.Pending(); got != 3 {
		t.Errorf("slot 0 allocator pending = %d, want 3", got)
	}
}

func TestBackBufferIndexAlternates(t *testing.T) {
	h := newHarness(t)
	h.startup(t)

	var got []uint32
	for i := 0; i < 6; i++ {
		got = append(got, h.sync.Index())
		h.record(t)
		h.frame(t)
	}
	want := []uint32{0, 1, 0, 1, 0, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index sequence = %v, want %v", got, want)
		}
	}
	st := h.sync.Stats()
	if st.Presented != 6 {
		t.Errorf("Presented = %d, want 6", st.Presented)
	}
	if st.Submitted != 7 {
		t.Errorf("Submitted = %d, want 7", st.Submitted)
	}
}

func TestTargetsStrictlyIncrease(t *testing.T) {
	h := newHarness(t)
	h.startup(t)
	var last uint64
	for i := 0; i < 8; i++ {
		h.record(t)
		h.frame(t)
		cur := h.sync.Target()
		if cur <= last {
			t.Fatalf("frame %d: target %d not above %d", i, cur, last)
		}
		last = cur
	}
}

func TestAllocatorNotResetWhileInFlight(t *testing.T) {
	h := newHarness(t)
	h.startup(t)
	h.record(t)

	h.dev.Pause()
	if err := h.sync.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	alloc := h.sync.Current().Allocator
	if err := alloc.Reset(); !errors.Is(err, cmdlist.ErrAllocatorInFlight) {
		t.Fatalf("Reset while paused = %v, want ErrAllocatorInFlight", err)
	}
	if err := h.sync.ResetCommandList(); !errors.Is(err, cmdlist.ErrAllocatorInFlight) {
		t.Fatalf("ResetCommandList while paused = %v, want ErrAllocatorInFlight", err)
	}
	h.dev.Resume()

	if err := h.sync.WaitForGPU(context.Background()); err != nil {
		t.Fatalf("WaitForGPU: %v", err)
	}
	if err := alloc.Reset(); err != nil {
		t.Fatalf("Reset after wait: %v", err)
	}
}

func TestWaitTimeout(t *testing.T) {
	h := newHarness(t, WithWaitTimeout(20*time.Millisecond))
	h.dev.Pause()
	defer h.dev.Resume()

	err := h.sync.WaitForGPU(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitForGPU = %v, want DeadlineExceeded", err)
	}
	if h.sync.Stats().Waits != 1 {
		t.Errorf("Waits = %d, want 1", h.sync.Stats().Waits)
	}
}

func TestUnpairedTransitionFailsSubmit(t *testing.T) {
	h := newHarness(t)
	h.startup(t)
	if err := h.sync.ResetCommandList(); err != nil {
		t.Fatalf("ResetCommandList: %v", err)
	}
	bb := h.sync.Current().BackBuffer
	h.sync.List().ResourceBarrier(gpucore.Transition{Resource: bb, Subresource: gpucore.AllSubresources,
		Before: gpucore.StatePresent, After: gpucore.StateRenderTarget})
	if err := h.sync.Submit(); !errors.Is(err, cmdlist.ErrUnpairedTransition) {
		t.Fatalf("Submit = %v, want ErrUnpairedTransition", err)
	}
}

func TestDeviceRemoved(t *testing.T) {
	tests := []struct {
		name string
		run  func(t *testing.T, h *harness) error
	}{
		{"submit", func(t *testing.T, h *harness) error {
			h.record(t)
			return h.sync.Submit()
		}},
		{"present", func(_ *testing.T, h *harness) error { return h.sync.Present(true) }},
		{"wait", func(_ *testing.T, h *harness) error { return h.sync.WaitForGPU(context.Background()) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.startup(t)
			h.dev.Remove("hung")
			err := tt.run(t, h)
			if !errors.Is(err, ErrDeviceRemoved) {
				t.Fatalf("err = %v, want ErrDeviceRemoved", err)
			}
			if !errors.Is(err, gpucore.ErrDeviceLost) {
				t.Errorf("err = %v does not carry the removal reason", err)
			}
		})
	}
}

func TestPresentBadState(t *testing.T) {
	h := newHarness(t)
	h.startup(t)
	// Render target left bound without the return barrier, committed by a
	// raw execute that bypasses the list's pairing check.
	bb := h.sync.Current().BackBuffer
	stream := &gpucore.CommandStream{Commands: []gpucore.Command{
		gpucore.CmdBarrier{Transitions: []gpucore.Transition{{Resource: bb, Subresource: gpucore.AllSubresources,
			Before: gpucore.StatePresent, After: gpucore.StateRenderTarget}}},
	}}
	if err := h.dev.Queue().Execute(stream); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	err := h.sync.Present(false)
	if !errors.Is(err, ErrPresent) || !errors.Is(err, gpucore.ErrBadPresentState) {
		t.Fatalf("Present = %v, want ErrPresent wrapping ErrBadPresentState", err)
	}
}

func TestClose(t *testing.T) {
	h := newHarness(t)
	h.startup(t)
	before := h.res.Len()
	if err := h.sync.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := h.res.Len(); got != before-gpucore.FrameCount {
		t.Errorf("resources after Close = %d, want %d", got, before-gpucore.FrameCount)
	}
}

func TestRing(t *testing.T) {
	var r Ring[int]
	if r.Len() != gpucore.FrameCount {
		t.Fatalf("Len() = %d, want %d", r.Len(), gpucore.FrameCount)
	}
	*r.At(1) = 7
	var sum int
	r.Each(func(i uint32, v *int) { sum += int(i) + *v })
	if sum != 8 {
		t.Errorf("sum = %d, want 8", sum)
	}
}
