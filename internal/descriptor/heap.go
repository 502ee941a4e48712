// Package descriptor implements fixed-capacity descriptor heaps.
//
// A heap is a table of view slots addressed the way an explicit API addresses
// them: handle = heap start + index × Stride. Heaps never grow; allocating
// past capacity fails with ErrHeapFull.
package descriptor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/banding/internal/gpucore"
)

// Stride is the handle increment between consecutive descriptor slots.
const Stride = 32

// Errors returned by heap operations.
var (
	ErrHeapFull         = errors.New("descriptor: heap full")
	ErrForeignHandle    = errors.New("descriptor: handle does not belong to heap")
	ErrNotShaderVisible = errors.New("descriptor: heap is not shader visible")
	ErrViewKindMismatch = errors.New("descriptor: view kind does not match heap kind")
	ErrEmptyDescriptor  = errors.New("descriptor: slot has no view")
	ErrInvalidCapacity  = errors.New("descriptor: capacity must be positive")
)

// Kind is the type of descriptors a heap holds.
type Kind uint8

// Heap kinds.
const (
	// KindRTV holds render target views. Never shader visible.
	KindRTV Kind = iota

	// KindCBVSRVUAV holds constant buffer and shader resource views.
	KindCBVSRVUAV
)

func (k Kind) String() string {
	if k == KindRTV {
		return "RTV"
	}
	return "CBV_SRV_UAV"
}

// CPUHandle is the CPU address of a descriptor slot.
type CPUHandle uint64

// GPUHandle is the GPU address of a descriptor slot in a shader-visible heap.
type GPUHandle uint64

// Offset returns the handle n slots further.
func (h CPUHandle) Offset(n int) CPUHandle { return h + CPUHandle(n*Stride) }

// Offset returns the handle n slots further.
func (h GPUHandle) Offset(n int) GPUHandle { return h + GPUHandle(n*Stride) }

// Address space reservation. Heaps get disjoint, page aligned ranges so a
// handle can only ever resolve in the heap that issued it.
const (
	addressPage   = 4096
	gpuAddressBit = 1 << 40
)

var nextBase atomic.Uint64

func init() {
	nextBase.Store(addressPage)
}

func reserve(capacity int) uint64 {
	size := gpucore.AlignUp(uint64(capacity*Stride), addressPage)
	return nextBase.Add(size) - size
}

// Heap is a fixed-capacity descriptor table.
type Heap struct {
	mu            sync.Mutex
	label         string
	kind          Kind
	shaderVisible bool
	base          uint64
	slots         []gpucore.View
	next          int
}

// NewHeap creates a heap of capacity slots.
func NewHeap(kind Kind, capacity int, shaderVisible bool, label string) (*Heap, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	if kind == KindRTV && shaderVisible {
		return nil, fmt.Errorf("%w: RTV heaps cannot be shader visible", ErrNotShaderVisible)
	}
	return &Heap{
		label:         label,
		kind:          kind,
		shaderVisible: shaderVisible,
		base:          reserve(capacity),
		slots:         make([]gpucore.View, capacity),
	}, nil
}

// Label returns the debug label.
func (h *Heap) Label() string { return h.label }

// Kind returns the descriptor kind.
func (h *Heap) Kind() Kind { return h.kind }

// ShaderVisible reports whether shaders can address the heap.
func (h *Heap) ShaderVisible() bool { return h.shaderVisible }

// Capacity returns the fixed number of slots.
func (h *Heap) Capacity() int { return len(h.slots) }

// Allocated returns the number of slots handed out by Allocate.
func (h *Heap) Allocated() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.next
}

// CPUStart returns the handle of slot 0.
func (h *Heap) CPUStart() CPUHandle { return CPUHandle(h.base) }

// GPUStart returns the GPU handle of slot 0, or 0 if not shader visible.
func (h *Heap) GPUStart() GPUHandle {
	if !h.shaderVisible {
		return 0
	}
	return GPUHandle(h.base | gpuAddressBit)
}

// CPUHandleAt returns the handle of slot i.
func (h *Heap) CPUHandleAt(i int) CPUHandle { return h.CPUStart().Offset(i) }

// Allocate reserves the next free slot. It fails with ErrHeapFull once
// every slot is taken; slots are never reused.
func (h *Heap) Allocate() (CPUHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.next >= len(h.slots) {
		return 0, fmt.Errorf("%w: %s capacity %d", ErrHeapFull, h.describe(), len(h.slots))
	}
	i := h.next
	h.next++
	return h.CPUStart().Offset(i), nil
}

func (h *Heap) describe() string {
	if h.label != "" {
		return h.label
	}
	return h.kind.String() + " heap"
}

func (h *Heap) indexOf(addr uint64) (int, error) {
	if addr < h.base || (addr-h.base)%Stride != 0 {
		return 0, ErrForeignHandle
	}
	i := int((addr - h.base) / Stride)
	if i >= len(h.slots) {
		return 0, ErrForeignHandle
	}
	return i, nil
}

// Owns reports whether cpu addresses a slot of this heap.
func (h *Heap) Owns(cpu CPUHandle) bool {
	_, err := h.indexOf(uint64(cpu))
	return err == nil
}

// Write stores a view into the slot at cpu.
func (h *Heap) Write(cpu CPUHandle, v gpucore.View) error {
	switch {
	case h.kind == KindRTV && v.Kind != gpucore.ViewRTV:
		return ErrViewKindMismatch
	case h.kind == KindCBVSRVUAV && v.Kind == gpucore.ViewRTV:
		return ErrViewKindMismatch
	}
	i, err := h.indexOf(uint64(cpu))
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.slots[i] = v
	h.mu.Unlock()
	return nil
}

// View returns the view stored at cpu.
func (h *Heap) View(cpu CPUHandle) (gpucore.View, error) {
	i, err := h.indexOf(uint64(cpu))
	if err != nil {
		return gpucore.View{}, err
	}
	h.mu.Lock()
	v := h.slots[i]
	h.mu.Unlock()
	if !v.Valid() {
		return gpucore.View{}, ErrEmptyDescriptor
	}
	return v, nil
}

// ResolveTable returns count contiguous views starting at gpu.
func (h *Heap) ResolveTable(gpu GPUHandle, count int) ([]gpucore.View, error) {
	if !h.shaderVisible {
		return nil, ErrNotShaderVisible
	}
	start, err := h.indexOf(uint64(gpu) &^ gpuAddressBit)
	if err != nil || uint64(gpu)&gpuAddressBit == 0 {
		return nil, ErrForeignHandle
	}
	if start+count > len(h.slots) {
		return nil, fmt.Errorf("%w: table of %d at slot %d", ErrForeignHandle, count, start)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]gpucore.View, count)
	for i := range out {
		v := h.slots[start+i]
		if !v.Valid() {
			return nil, fmt.Errorf("%w: slot %d", ErrEmptyDescriptor, start+i)
		}
		out[i] = v
	}
	return out, nil
}

// OwnsGPU reports whether gpu addresses a slot of this heap.
func (h *Heap) OwnsGPU(gpu GPUHandle) bool {
	if !h.shaderVisible || uint64(gpu)&gpuAddressBit == 0 {
		return false
	}
	_, err := h.indexOf(uint64(gpu) &^ gpuAddressBit)
	return err == nil
}
