package soft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/banding/internal/gpucore"
)

// Errors specific to the software device.
var (
	// ErrNoProgram is returned when a shader module names an entry point
	// without a registered CPU program.
	ErrNoProgram = errors.New("soft: no CPU program registered for entry point")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("soft: device closed")
)

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the device logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) { d.log = gpucore.LoggerOr(l) }
}

// WithName sets the adapter name reported by Info.
func WithName(name string) Option {
	return func(d *Device) { d.info.Name = name }
}

type softResource struct {
	heap   gpucore.HeapType
	desc   gpucore.ResourceDesc
	label  string
	mem    []byte
	states []gpucore.ResourceState
	mapped bool
}

type shaderModule struct {
	desc   gpucore.ShaderModuleDesc
	vertex VertexFunc
	pixel  PixelFunc
}

type pipelineState struct {
	desc     gpucore.PipelineDesc
	root     gpucore.RootSignatureDesc
	bindings []gpucore.Binding
	vertex   VertexFunc
	pixel    PixelFunc
}

// Device is a CPU implementation of gpucore.Device.
//
// Command streams execute on a dedicated goroutine (the GPU timeline) in
// submission order, so CPU work overlaps GPU work exactly as it does on
// hardware and fences are the only way to observe completion.
type Device struct {
	info gpucore.AdapterInfo
	log  *slog.Logger

	mu        sync.Mutex
	resources gpucore.Arena[gpucore.ResourceID, *softResource]
	modules   gpucore.Arena[gpucore.ShaderModuleID, *shaderModule]
	pipelines gpucore.Arena[gpucore.PipelineID, *pipelineState]
	fences    gpucore.Arena[gpucore.FenceID, *fence]

	lostOnce sync.Once
	lost     chan struct{}
	reason   error

	timeline *timeline
	queue    *Queue
	closed   bool
}

var _ gpucore.Device = (*Device)(nil)

// New creates a software device and starts its timeline goroutine.
func New(opts ...Option) *Device {
	d := &Device{
		info: gpucore.AdapterInfo{
			Name:       "Software Rasterizer",
			Vendor:     "banding",
			Backend:    "soft",
			DeviceType: "CPU",
		},
		log:  gpucore.NopLogger(),
		lost: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.timeline = newTimeline(d)
	d.queue = &Queue{dev: d}
	go d.timeline.run()
	return d
}

// Info describes the software adapter.
func (d *Device) Info() gpucore.AdapterInfo { return d.info }

// CreateCommittedResource allocates zeroed memory for the resource.
func (d *Device) CreateCommittedResource(heap gpucore.HeapType, desc gpucore.ResourceDesc,
	initial gpucore.ResourceState, label string) (gpucore.ResourceID, error) {
	size := desc.ByteSize()
	if size == 0 {
		return gpucore.InvalidID, fmt.Errorf("soft: zero-sized resource %q", label)
	}
	if !desc.IsBuffer() && heap != gpucore.HeapDefault {
		return gpucore.InvalidID, fmt.Errorf("%w: textures live in the default heap", gpucore.ErrUnsupported)
	}
	states := make([]gpucore.ResourceState, desc.SubresourceCount())
	for i := range states {
		states[i] = initial
	}
	r := &softResource{heap: heap, desc: desc, label: label, mem: make([]byte, size), states: states}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, ErrClosed
	}
	return d.resources.Insert(r), nil
}

// DestroyResource frees the resource memory.
func (d *Device) DestroyResource(id gpucore.ResourceID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resources.Remove(id)
}

func (d *Device) resource(id gpucore.ResourceID) (*softResource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.resources.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: resource %#x", gpucore.ErrInvalidID, uint64(id))
	}
	return r, nil
}

// Map returns the resource memory directly; upload memory is coherent.
func (d *Device) Map(id gpucore.ResourceID) ([]byte, error) {
	r, err := d.resource(id)
	if err != nil {
		return nil, err
	}
	if !r.heap.CPUVisible() {
		return nil, fmt.Errorf("soft: map %q: %w", r.label, gpucore.ErrNotCPUVisible)
	}
	d.mu.Lock()
	r.mapped = true
	d.mu.Unlock()
	return r.mem, nil
}

// Unmap ends CPU access.
func (d *Device) Unmap(id gpucore.ResourceID, _ gpucore.Range) {
	if r, err := d.resource(id); err == nil {
		d.mu.Lock()
		r.mapped = false
		d.mu.Unlock()
	}
}

// Contents returns a copy of a resource's memory. The caller must ensure
// the GPU timeline no longer writes the resource.
func (d *Device) Contents(id gpucore.ResourceID) ([]byte, error) {
	r, err := d.resource(id)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), r.mem...), nil
}

// ResourceState returns the state the GPU timeline has the given
// subresource in. The caller must ensure the timeline is idle.
func (d *Device) ResourceState(id gpucore.ResourceID, subresource uint32) (gpucore.ResourceState, error) {
	r, err := d.resource(id)
	if err != nil {
		return 0, err
	}
	if int(subresource) >= len(r.states) {
		return 0, fmt.Errorf("soft: subresource %d out of range", subresource)
	}
	return r.states[subresource], nil
}

// CreateShaderModule binds the entry point to its registered CPU program.
func (d *Device) CreateShaderModule(desc *gpucore.ShaderModuleDesc) (gpucore.ShaderModuleID, error) {
	m := &shaderModule{desc: *desc}
	switch desc.Stage {
	case gpucore.StageVertex:
		fn, ok := lookupVertex(desc.EntryPoint)
		if !ok {
			return gpucore.InvalidID, fmt.Errorf("%w: vertex %q", ErrNoProgram, desc.EntryPoint)
		}
		m.vertex = fn
	case gpucore.StagePixel:
		fn, ok := lookupPixel(desc.EntryPoint)
		if !ok {
			return gpucore.InvalidID, fmt.Errorf("%w: pixel %q", ErrNoProgram, desc.EntryPoint)
		}
		m.pixel = fn
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.modules.Insert(m), nil
}

// DestroyShaderModule releases a shader module.
func (d *Device) DestroyShaderModule(id gpucore.ShaderModuleID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.modules.Remove(id)
}

// CreatePipeline creates a pipeline from two shader modules.
func (d *Device) CreatePipeline(desc *gpucore.PipelineDesc) (gpucore.PipelineID, error) {
	if desc.RootSignature == nil {
		return gpucore.InvalidID, errors.New("soft: pipeline without root signature")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	vs, ok1 := d.modules.Get(desc.VS)
	ps, ok2 := d.modules.Get(desc.PS)
	if !ok1 || !ok2 || vs.vertex == nil || ps.pixel == nil {
		return gpucore.InvalidID, fmt.Errorf("%w: pipeline %q shader modules", gpucore.ErrInvalidID, desc.Label)
	}
	p := &pipelineState{
		desc:     *desc,
		root:     *desc.RootSignature,
		bindings: desc.RootSignature.Bindings(),
		vertex:   vs.vertex,
		pixel:    ps.pixel,
	}
	p.desc.RootSignature = &p.root
	return d.pipelines.Insert(p), nil
}

// DestroyPipeline releases a pipeline.
func (d *Device) DestroyPipeline(id gpucore.PipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pipelines.Remove(id)
}

// CreateFence creates a fence at initial.
func (d *Device) CreateFence(initial uint64) (gpucore.FenceID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fences.Insert(newFence(initial)), nil
}

// DestroyFence releases a fence.
func (d *Device) DestroyFence(id gpucore.FenceID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fences.Remove(id)
}

func (d *Device) fence(id gpucore.FenceID) (*fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.fences.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: fence %#x", gpucore.ErrInvalidID, uint64(id))
	}
	return f, nil
}

// CompletedValue returns the last signaled value.
func (d *Device) CompletedValue(id gpucore.FenceID) uint64 {
	f, err := d.fence(id)
	if err != nil {
		return 0
	}
	return f.completed()
}

// WaitFence blocks until the fence reaches value.
func (d *Device) WaitFence(ctx context.Context, id gpucore.FenceID, value uint64) error {
	f, err := d.fence(id)
	if err != nil {
		return err
	}
	return f.wait(ctx, value, d.lost, d.RemovedReason)
}

// Queue returns the direct queue.
func (d *Device) Queue() gpucore.Queue { return d.queue }

// Remove simulates device removal (a GPU hang or driver reset). Every
// later submission, present or wait fails with the reason.
func (d *Device) Remove(reason string) {
	d.remove(errors.New(reason))
}

func (d *Device) remove(err error) {
	d.lostOnce.Do(func() {
		d.mu.Lock()
		d.reason = fmt.Errorf("%w: %w", gpucore.ErrDeviceLost, err)
		d.mu.Unlock()
		d.log.Warn("soft: device removed", "reason", err)
		close(d.lost)
	})
}

// RemovedReason returns nil while the device is healthy.
func (d *Device) RemovedReason() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reason
}

// Pause stops the timeline after the operation in progress. Submitted
// work queues up until Resume.
func (d *Device) Pause() { d.timeline.setPaused(true) }

// Resume restarts a paused timeline.
func (d *Device) Resume() { d.timeline.setPaused(false) }

// Close drains the timeline and releases everything.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	d.timeline.close()
	return nil
}

// Queue is the software direct queue.
type Queue struct {
	dev *Device
}

// Execute schedules streams on the timeline.
func (q *Queue) Execute(streams ...*gpucore.CommandStream) error {
	if err := q.dev.RemovedReason(); err != nil {
		return err
	}
	for _, s := range streams {
		if err := q.dev.timeline.push(op{stream: s}); err != nil {
			return err
		}
	}
	return nil
}

// Signal schedules a fence signal after all earlier work.
func (q *Queue) Signal(id gpucore.FenceID, value uint64) error {
	if err := q.dev.RemovedReason(); err != nil {
		return err
	}
	f, err := q.dev.fence(id)
	if err != nil {
		return err
	}
	return q.dev.timeline.push(op{fence: f, value: value})
}
