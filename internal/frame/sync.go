// Package frame implements the double-buffered frame pipeline.
//
// A Synchronizer owns the swap chain, one command allocator and one fence
// target per back buffer, the single fence shared by all slots, and the
// command list. It enforces the fence discipline: an allocator is never
// reset before the fence reached the value signaled after its last
// submission.
//
// Steady-state frame:
//
//	record → Submit → WaitForGPU → Present → MoveToNextFrame → ResetCommandList
//
// The first two frames never block in MoveToNextFrame because both slot
// targets start at zero.
package frame

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gogpu/banding/internal/cmdlist"
	"github.com/gogpu/banding/internal/descriptor"
	"github.com/gogpu/banding/internal/gpucore"
	"github.com/gogpu/banding/internal/resource"
)

// Errors returned by the synchronizer.
var (
	// ErrDeviceRemoved wraps the device removal reason. It is fatal.
	ErrDeviceRemoved = errors.New("frame: device removed")

	// ErrPresent is returned when Present fails on a healthy device.
	ErrPresent = errors.New("frame: present failed")
)

// Slot is the per-frame state of one back buffer.
type Slot struct {
	Allocator  *cmdlist.Allocator
	BackBuffer gpucore.ResourceID
	RTV        descriptor.CPUHandle

	// FenceValue is the fence target of the slot.
	FenceValue uint64
}

// Stats are cumulative synchronizer counters.
type Stats struct {
	Submitted uint64
	Presented uint64
	Waits     uint64
	Blocked   time.Duration
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger fence waits are traced to.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) { s.log = gpucore.LoggerOr(l) }
}

// WithWaitTimeout bounds every blocking fence wait. Zero means no bound.
func WithWaitTimeout(d time.Duration) Option {
	return func(s *Synchronizer) { s.timeout = d }
}

// Synchronizer drives the frame slots.
type Synchronizer struct {
	dev     gpucore.Device
	res     *resource.Factory
	swap    gpucore.SwapChain
	fence   gpucore.FenceID
	list    *cmdlist.List
	slots   Ring[Slot]
	index   uint32
	log     *slog.Logger
	timeout time.Duration
	stats   Stats
}

// New creates the swap chain, the fence, one allocator per slot and the
// command list, and writes one render target view per back buffer into
// rtvHeap. The list is returned open on the current slot's allocator so
// startup uploads can be recorded before the first frame.
func New(dev gpucore.Device, res *resource.Factory, rtvHeap *descriptor.Heap, desc gpucore.SwapChainDesc,
	opts ...Option) (*Synchronizer, error) {
	s := &Synchronizer{dev: dev, res: res, log: gpucore.NopLogger()}
	for _, opt := range opts {
		opt(s)
	}

	desc.BufferCount = gpucore.FrameCount
	swap, err := dev.CreateSwapChain(desc)
	if err != nil {
		return nil, fmt.Errorf("create swap chain: %w", err)
	}
	s.swap = swap
	eff := swap.Desc()
	if swap.BufferCount() != gpucore.FrameCount {
		_ = swap.Close()
		return nil, fmt.Errorf("frame: swap chain has %d buffers, want %d", swap.BufferCount(), gpucore.FrameCount)
	}

	fence, err := dev.CreateFence(0)
	if err != nil {
		_ = swap.Close()
		return nil, fmt.Errorf("create fence: %w", err)
	}
	s.fence = fence

	texDesc := gpucore.Texture2DDesc(eff.Width, eff.Height, 1, eff.Format, gpucore.FlagAllowRenderTarget)
	var setupErr error
	s.slots.Each(func(i uint32, slot *Slot) {
		if setupErr != nil {
			return
		}
		id, err := swap.Buffer(i)
		if err != nil {
			setupErr = fmt.Errorf("back buffer %d: %w", i, err)
			return
		}
		res.Adopt(id, gpucore.HeapDefault, texDesc, gpucore.StatePresent, true, fmt.Sprintf("BackBuffer%d", i))
		rtv, err := rtvHeap.Allocate()
		if err != nil {
			setupErr = fmt.Errorf("render target view %d: %w", i, err)
			return
		}
		if err := rtvHeap.Write(rtv, gpucore.View{
			Kind:      gpucore.ViewRTV,
			Resource:  id,
			Format:    eff.Format,
			Dimension: gpucore.ViewDimensionTexture2D,
		}); err != nil {
			setupErr = fmt.Errorf("render target view %d: %w", i, err)
			return
		}
		slot.BackBuffer = id
		slot.RTV = rtv
		slot.Allocator = cmdlist.NewAllocator(dev, fence, res.Name(fmt.Sprintf("CommandAllocator%d", i)))
	})
	if setupErr != nil {
		s.release()
		return nil, setupErr
	}

	s.index = swap.CurrentBackBufferIndex()
	s.list = cmdlist.New(res, res.Name("CommandList"), cmdlist.WithHeaps(rtvHeap), cmdlist.WithLogger(s.log))
	if err := s.list.Reset(s.slots.At(s.index).Allocator); err != nil {
		s.release()
		return nil, err
	}
	s.slots.At(s.index).FenceValue = 1
	s.log.Info("frame: synchronizer ready", "width", eff.Width, "height", eff.Height,
		"format", eff.Format.String(), "index", s.index)
	return s, nil
}

// List returns the command list.
func (s *Synchronizer) List() *cmdlist.List { return s.list }

// SwapChain returns the swap chain.
func (s *Synchronizer) SwapChain() gpucore.SwapChain { return s.swap }

// Fence returns the shared fence.
func (s *Synchronizer) Fence() gpucore.FenceID { return s.fence }

// Index returns the current frame index.
func (s *Synchronizer) Index() uint32 { return s.index }

// Current returns the current slot.
func (s *Synchronizer) Current() *Slot { return s.slots.At(s.index) }

// Slot returns slot i.
func (s *Synchronizer) Slot(i uint32) *Slot { return s.slots.At(i) }

// Target returns the current slot's fence target.
func (s *Synchronizer) Target() uint64 { return s.Current().FenceValue }

// Completed returns the fence's completed value.
func (s *Synchronizer) Completed() uint64 { return s.dev.CompletedValue(s.fence) }

// Stats returns the cumulative counters.
func (s *Synchronizer) Stats() Stats { return s.stats }

func (s *Synchronizer) fail(op string, err error) error {
	if reason := s.dev.RemovedReason(); reason != nil {
		return fmt.Errorf("%w during %s: %w", ErrDeviceRemoved, op, reason)
	}
	return fmt.Errorf("frame: %s: %w", op, err)
}

func (s *Synchronizer) checkDevice(op string) error {
	if reason := s.dev.RemovedReason(); reason != nil {
		return fmt.Errorf("%w during %s: %w", ErrDeviceRemoved, op, reason)
	}
	return nil
}

func (s *Synchronizer) execute(op string) error {
	if err := s.checkDevice(op); err != nil {
		return err
	}
	if err := s.list.Close(); err != nil {
		return fmt.Errorf("frame: close command list: %w", err)
	}
	if err := s.dev.Queue().Execute(s.list.Stream()); err != nil {
		return s.fail(op, err)
	}
	s.res.Commit(s.list.FinalStates())
	s.stats.Submitted++
	return nil
}

// Flush closes and executes the list without advancing the fence target.
// It is used for the startup upload, which the caller follows with
// WaitForGPU; the allocator is marked with the target that wait signals.
func (s *Synchronizer) Flush() error {
	if err := s.execute("flush"); err != nil {
		return err
	}
	slot := s.Current()
	slot.Allocator.MarkSubmitted(slot.FenceValue)
	return nil
}

// Submit closes and executes the list, increments the current slot's
// fence target and signals it.
func (s *Synchronizer) Submit() error {
	if err := s.execute("submit"); err != nil {
		return err
	}
	slot := s.Current()
	slot.FenceValue++
	if err := s.dev.Queue().Signal(s.fence, slot.FenceValue); err != nil {
		return s.fail("signal", err)
	}
	slot.Allocator.MarkSubmitted(slot.FenceValue)
	return nil
}

func (s *Synchronizer) wait(ctx context.Context, value uint64) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	err := s.dev.WaitFence(ctx, s.fence, value)
	blocked := time.Since(start)
	s.stats.Waits++
	s.stats.Blocked += blocked
	s.log.Debug("frame: fence wait", "value", value, "blocked", blocked)
	if err != nil {
		return s.fail("fence wait", err)
	}
	return nil
}

// WaitForGPU signals the current target, blocks until the fence reaches
// it, then increments the target.
func (s *Synchronizer) WaitForGPU(ctx context.Context) error {
	slot := s.Current()
	if err := s.dev.Queue().Signal(s.fence, slot.FenceValue); err != nil {
		return s.fail("signal", err)
	}
	if err := s.wait(ctx, slot.FenceValue); err != nil {
		return err
	}
	slot.FenceValue++
	return nil
}

// Present presents the current back buffer with sync interval 1 when
// vsync is set and 0 otherwise.
func (s *Synchronizer) Present(vsync bool) error {
	if err := s.checkDevice("present"); err != nil {
		return err
	}
	var interval uint32
	if vsync {
		interval = 1
	}
	if err := s.swap.Present(interval); err != nil {
		if reason := s.dev.RemovedReason(); reason != nil {
			return fmt.Errorf("%w during present: %w", ErrDeviceRemoved, reason)
		}
		return fmt.Errorf("%w: %w", ErrPresent, err)
	}
	s.stats.Presented++
	return nil
}

// MoveToNextFrame signals the vacated slot's target, switches to the
// swap chain's current index and blocks only while the fence is below the
// new slot's recorded target. The new slot's target becomes the vacated
// target plus one.
func (s *Synchronizer) MoveToNextFrame(ctx context.Context) error {
	current := s.Current().FenceValue
	if err := s.dev.Queue().Signal(s.fence, current); err != nil {
		return s.fail("signal", err)
	}
	s.index = s.swap.CurrentBackBufferIndex()
	next := s.Current()
	if s.Completed() < next.FenceValue {
		if err := s.wait(ctx, next.FenceValue); err != nil {
			return err
		}
	}
	next.FenceValue = current + 1
	return nil
}

// ResetCommandList resets the current slot's allocator and reopens the
// list on it. The allocator refuses the reset while its commands may still
// execute.
func (s *Synchronizer) ResetCommandList() error {
	alloc := s.Current().Allocator
	if err := alloc.Reset(); err != nil {
		return err
	}
	return s.list.Reset(alloc)
}

// Close waits for the GPU to go idle and releases the swap chain and the
// fence. A removed device skips the wait.
func (s *Synchronizer) Close(ctx context.Context) error {
	var err error
	if s.dev.RemovedReason() == nil {
		err = s.WaitForGPU(ctx)
	}
	s.release()
	return err
}

func (s *Synchronizer) release() {
	s.slots.Each(func(_ uint32, slot *Slot) {
		if slot.BackBuffer != gpucore.InvalidID {
			s.res.Destroy(slot.BackBuffer)
			slot.BackBuffer = gpucore.InvalidID
		}
	})
	if s.swap != nil {
		_ = s.swap.Close()
		s.swap = nil
	}
	if s.fence != gpucore.InvalidID {
		s.dev.DestroyFence(s.fence)
		s.fence = gpucore.InvalidID
	}
}
