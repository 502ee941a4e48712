// Package resource creates committed GPU resources and owns the table that
// tracks them.
//
// Every buffer and texture the renderer uses is created through a Factory,
// which records its heap type, description and the resource state the last
// submitted command list left it in. Command lists start their state
// tracking from this table and commit their final states back on submit.
package resource

import (
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sync"

	"github.com/gogpu/banding/internal/gpucore"
)

// Errors returned by the factory.
var (
	ErrZeroSize      = errors.New("resource: size must be non-zero")
	ErrBadAlignment  = errors.New("resource: alignment must be zero or a power of two")
	ErrInitialState  = errors.New("resource: initial state not allowed for heap")
	ErrUnknown       = errors.New("resource: unknown resource")
	ErrBadDimensions = errors.New("resource: texture dimensions must be non-zero")
)

// Record is the table entry of one resource.
type Record struct {
	ID    gpucore.ResourceID
	Heap  gpucore.HeapType
	Desc  gpucore.ResourceDesc
	State gpucore.ResourceState
	Label string

	// Presentable marks swap chain buffers, which must be back in
	// StatePresent at the end of every command list.
	Presentable bool

	owned bool
}

// Option configures a Factory.
type Option func(*Factory)

// WithDebugNames labels every created object with its call-site name.
func WithDebugNames(on bool) Option {
	return func(f *Factory) { f.debugNames = on }
}

// WithLogger sets the logger used for creation diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) {
		if l != nil {
			f.log = l
		}
	}
}

// Factory creates resources on a device and tracks them.
type Factory struct {
	dev        gpucore.Device
	debugNames bool
	log        *slog.Logger

	mu      sync.Mutex
	records map[gpucore.ResourceID]*Record
}

// NewFactory returns a factory creating resources on dev.
func NewFactory(dev gpucore.Device, opts ...Option) *Factory {
	f := &Factory{
		dev:     dev,
		log:     gpucore.NopLogger(),
		records: make(map[gpucore.ResourceID]*Record),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Device returns the device resources are created on.
func (f *Factory) Device() gpucore.Device { return f.dev }

// DebugNames reports whether objects are labeled.
func (f *Factory) DebugNames() bool { return f.debugNames }

// Name returns label when debug naming is on and "" otherwise.
func (f *Factory) Name(label string) string {
	if f.debugNames {
		return label
	}
	return ""
}

func allowedInitial(heap gpucore.HeapType, s gpucore.ResourceState) bool {
	switch heap {
	case gpucore.HeapUpload:
		return s == gpucore.StateGenericRead
	case gpucore.HeapReadback:
		return s == gpucore.StateCopyDest
	default:
		return s != gpucore.StateGenericRead
	}
}

// CreateBuffer creates a committed buffer in the requested initial state.
//
// alignment 0 selects the default placement alignment. When alignment is
// the constant buffer alignment (256) the size is rounded up to it.
func (f *Factory) CreateBuffer(size, alignment uint64, heap gpucore.HeapType, flags gpucore.ResourceFlags,
	initial gpucore.ResourceState, label string) (gpucore.ResourceID, error) {
	if size == 0 {
		return gpucore.InvalidID, ErrZeroSize
	}
	if alignment != 0 && bits.OnesCount64(alignment) != 1 {
		return gpucore.InvalidID, fmt.Errorf("%w: %d", ErrBadAlignment, alignment)
	}
	if !allowedInitial(heap, initial) {
		return gpucore.InvalidID, fmt.Errorf("%w: %s in %s heap", ErrInitialState, initial, heap)
	}
	if alignment == gpucore.ConstantBufferAlignment {
		size = gpucore.AlignUp(size, alignment)
	}
	desc := gpucore.BufferDesc(size, alignment, flags)
	return f.create(heap, desc, initial, label)
}

// CreateTexture2D creates a committed 2D texture (array) in the default
// heap.
func (f *Factory) CreateTexture2D(width, height uint32, layers uint16, format gpucore.Format,
	flags gpucore.ResourceFlags, initial gpucore.ResourceState, label string) (gpucore.ResourceID, error) {
	if width == 0 || height == 0 || format.BytesPerPixel() == 0 {
		return gpucore.InvalidID, fmt.Errorf("%w: %dx%d %s", ErrBadDimensions, width, height, format)
	}
	desc := gpucore.Texture2DDesc(width, height, layers, format, flags)
	return f.create(gpucore.HeapDefault, desc, initial, label)
}

func (f *Factory) create(heap gpucore.HeapType, desc gpucore.ResourceDesc, initial gpucore.ResourceState,
	label string) (gpucore.ResourceID, error) {
	label = f.Name(label)
	id, err := f.dev.CreateCommittedResource(heap, desc, initial, label)
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("create %s resource %q: %w", heap, label, err)
	}
	f.mu.Lock()
	f.records[id] = &Record{ID: id, Heap: heap, Desc: desc, State: initial, Label: label, owned: true}
	f.mu.Unlock()
	f.log.Debug("resource: created", "label", label, "heap", heap.String(),
		"bytes", desc.ByteSize(), "state", initial.String())
	return id, nil
}

// Adopt registers a resource the factory did not create, such as a swap
// chain buffer. Destroy on an adopted resource only forgets it.
func (f *Factory) Adopt(id gpucore.ResourceID, heap gpucore.HeapType, desc gpucore.ResourceDesc,
	state gpucore.ResourceState, presentable bool, label string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[id] = &Record{ID: id, Heap: heap, Desc: desc, State: state, Label: f.Name(label),
		Presentable: presentable}
}

// Lookup returns a copy of the record for id.
func (f *Factory) Lookup(id gpucore.ResourceID) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %#x", ErrUnknown, uint64(id))
	}
	return *r, nil
}

// State returns the state recorded by the last committed command list.
func (f *Factory) State(id gpucore.ResourceID) (gpucore.ResourceState, error) {
	r, err := f.Lookup(id)
	return r.State, err
}

// Commit records the states a submitted command list left resources in.
func (f *Factory) Commit(states map[gpucore.ResourceID]gpucore.ResourceState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range states {
		if r, ok := f.records[id]; ok {
			r.State = s
		}
	}
}

// Map returns the CPU view of an upload or readback resource.
func (f *Factory) Map(id gpucore.ResourceID) ([]byte, error) {
	r, err := f.Lookup(id)
	if err != nil {
		return nil, err
	}
	if !r.Heap.CPUVisible() {
		return nil, fmt.Errorf("map %q: %w", r.Label, gpucore.ErrNotCPUVisible)
	}
	return f.dev.Map(id)
}

// Unmap ends CPU access to a mapped resource.
func (f *Factory) Unmap(id gpucore.ResourceID, written gpucore.Range) {
	f.dev.Unmap(id, written)
}

// Destroy releases a resource and removes it from the table.
func (f *Factory) Destroy(id gpucore.ResourceID) {
	f.mu.Lock()
	r, ok := f.records[id]
	delete(f.records, id)
	f.mu.Unlock()
	if ok && r.owned {
		f.dev.DestroyResource(id)
	}
}

// DestroyAll releases every owned resource.
func (f *Factory) DestroyAll() {
	f.mu.Lock()
	ids := make([]gpucore.ResourceID, 0, len(f.records))
	for id := range f.records {
		ids = append(ids, id)
	}
	f.mu.Unlock()
	for _, id := range ids {
		f.Destroy(id)
	}
}

// Len returns the number of tracked resources.
func (f *Factory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}
