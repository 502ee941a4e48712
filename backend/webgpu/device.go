// Package webgpu implements the explicit device model on a windowed
// WebGPU surface through cogentcore/webgpu.
//
// WebGPU tracks resource usage itself, so barriers only update the
// CPU-side state that Present validates. Fences are emulated on queue
// submission indices.
package webgpu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gogpu/banding/internal/gpucore"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("webgpu: device closed")

// ErrNoAdapter is returned when no adapter can present to the surface.
var ErrNoAdapter = errors.New("webgpu: no compatible adapter")

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the device logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) { d.log = gpucore.LoggerOr(l) }
}

// WithDebugNames forwards resource labels to wgpu objects.
func WithDebugNames(on bool) Option {
	return func(d *Device) { d.debugNames = on }
}

// WithFallbackAdapter requests the software fallback adapter.
func WithFallbackAdapter(on bool) Option {
	return func(d *Device) { d.fallback = on }
}

type resource struct {
	heap   gpucore.HeapType
	desc   gpucore.ResourceDesc
	label  string
	states []gpucore.ResourceState

	buffer  *wgpu.Buffer
	texture *wgpu.Texture
	views   map[viewKey]*wgpu.TextureView

	// chain is set on swap chain buffers whose texture is acquired from
	// the surface each frame.
	chain *SwapChain
	slot  uint32

	shadow []byte
}

type fence struct {
	signaled  uint64
	completed uint64
	pending   []signal
}

type signal struct {
	value uint64
	index wgpu.SubmissionIndex
}

// pollInterval spaces non-blocking queue polls while waiting on a fence.
const pollInterval = time.Millisecond

// next reports whether signaling value moves the fence forward. Repeating
// the last value is a no-op; a lower value is an error.
func (f *fence) next(value uint64) (bool, error) {
	switch {
	case value < f.signaled:
		return false, fmt.Errorf("webgpu: fence value %d below %d", value, f.signaled)
	case value == f.signaled:
		return false, nil
	}
	return true, nil
}

// drain marks every signaled value reached.
func (f *fence) drain() {
	f.completed = f.signaled
	f.pending = f.pending[:0]
}

// Device implements gpucore.Device on a WebGPU device bound to a surface.
type Device struct {
	mu sync.Mutex

	instance *wgpu.Instance
	surface  *wgpu.Surface
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	surfaceFormat wgpu.TextureFormat
	format        gpucore.Format

	log        *slog.Logger
	debugNames bool
	fallback   bool

	resources gpucore.Arena[gpucore.ResourceID, *resource]
	modules   gpucore.Arena[gpucore.ShaderModuleID, *shaderModule]
	pipelines gpucore.Arena[gpucore.PipelineID, *pipelineState]
	fences    gpucore.Arena[gpucore.FenceID, *fence]
	samplers  map[gpucore.StaticSampler]*wgpu.Sampler

	pending []*wgpu.CommandBuffer
	chain   *SwapChain

	queueImpl *Queue
	reason    error
	closed    bool
}

var _ gpucore.Device = (*Device)(nil)

// New creates an instance, surface, adapter and device for the window
// described by sd. The calling goroutine is locked to its OS thread.
func New(sd *wgpu.SurfaceDescriptor, opts ...Option) (*Device, error) {
	if sd == nil {
		return nil, errors.New("webgpu: nil surface descriptor")
	}
	runtime.LockOSThread()
	d := &Device{
		log:      gpucore.NopLogger(),
		samplers: make(map[gpucore.StaticSampler]*wgpu.Sampler),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queueImpl = &Queue{dev: d}

	d.instance = wgpu.CreateInstance(nil)
	d.surface = d.instance.CreateSurface(sd)
	a, err := d.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: d.fallback,
		CompatibleSurface:    d.surface,
	})
	if err != nil {
		d.releaseInstance()
		return nil, fmt.Errorf("%w: %w", ErrNoAdapter, err)
	}
	d.adapter = a

	caps := d.surface.GetCapabilities(d.adapter)
	sf, f, ok := pickSurfaceFormat(caps.Formats)
	if !ok {
		d.releaseInstance()
		return nil, fmt.Errorf("%w: surface offers %v", gpucore.ErrUnsupported, caps.Formats)
	}
	d.surfaceFormat, d.format = sf, f

	limits := wgpu.DefaultLimits()
	dev, err := d.adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label:          "Banding Device",
		RequiredLimits: &wgpu.RequiredLimits{Limits: limits},
	})
	if err != nil {
		d.releaseInstance()
		return nil, fmt.Errorf("webgpu: request device: %w", err)
	}
	d.device = dev
	d.queue = dev.GetQueue()
	d.log.Info("webgpu: device opened", "format", d.format.String(), "fallback", d.fallback)
	return d, nil
}

func (d *Device) releaseInstance() {
	if d.adapter != nil {
		d.adapter.Release()
		d.adapter = nil
	}
	if d.surface != nil {
		d.surface.Release()
		d.surface = nil
	}
	if d.instance != nil {
		d.instance.Release()
		d.instance = nil
	}
}

// Info describes the adapter.
func (d *Device) Info() gpucore.AdapterInfo {
	return gpucore.AdapterInfo{Name: "webgpu surface adapter", Backend: "webgpu"}
}

func (d *Device) label(l string) string {
	if d.debugNames {
		return l
	}
	return ""
}

// CreateCommittedResource creates a wgpu buffer or texture.
func (d *Device) CreateCommittedResource(heap gpucore.HeapType, desc gpucore.ResourceDesc,
	initial gpucore.ResourceState, label string) (gpucore.ResourceID, error) {
	if desc.ByteSize() == 0 {
		return gpucore.InvalidID, fmt.Errorf("webgpu: zero-sized resource %q", label)
	}
	r := newResource(heap, desc, initial, label)
	if desc.IsBuffer() {
		buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: d.label(label),
			Size:  desc.Width,
			Usage: bufferUsage(heap),
		})
		if err != nil {
			return gpucore.InvalidID, fmt.Errorf("webgpu: create buffer %q: %w", label, err)
		}
		r.buffer = buf
		if heap.CPUVisible() {
			r.shadow = make([]byte, desc.Width)
		}
	} else {
		if heap != gpucore.HeapDefault {
			return gpucore.InvalidID, fmt.Errorf("%w: textures live in the default heap", gpucore.ErrUnsupported)
		}
		format := formatToWGPU(desc.Format)
		if format == wgpu.TextureFormatUndefined {
			return gpucore.InvalidID, fmt.Errorf("%w: texture format %s", gpucore.ErrUnsupported, desc.Format)
		}
		tex, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
			Label: d.label(label),
			Size: wgpu.Extent3D{
				Width:              uint32(desc.Width),
				Height:             desc.Height,
				DepthOrArrayLayers: uint32(desc.DepthOrArraySize),
			},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     wgpu.TextureDimension2D,
			Format:        format,
			Usage:         textureUsage(desc.Flags),
		})
		if err != nil {
			return gpucore.InvalidID, fmt.Errorf("webgpu: create texture %q: %w", label, err)
		}
		r.texture = tex
	}
	return d.insert(r)
}

func newResource(heap gpucore.HeapType, desc gpucore.ResourceDesc, initial gpucore.ResourceState, label string) *resource {
	states := make([]gpucore.ResourceState, desc.SubresourceCount())
	for i := range states {
		states[i] = initial
	}
	return &resource{heap: heap, desc: desc, label: label, states: states}
}

func (d *Device) insert(r *resource) (gpucore.ResourceID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		releaseResource(r)
		return gpucore.InvalidID, ErrClosed
	}
	return d.resources.Insert(r), nil
}

func releaseResource(r *resource) {
	r.releaseViews()
	if r.texture != nil && r.chain == nil {
		r.texture.Release()
	}
	r.texture = nil
	if r.buffer != nil {
		r.buffer.Release()
		r.buffer = nil
	}
}

func (r *resource) releaseViews() {
	for _, v := range r.views {
		v.Release()
	}
	r.views = nil
}

// DestroyResource releases a resource and its views.
func (d *Device) DestroyResource(id gpucore.ResourceID) {
	d.mu.Lock()
	r, ok := d.resources.Remove(id)
	d.mu.Unlock()
	if ok {
		releaseResource(r)
	}
}

func (d *Device) resource(id gpucore.ResourceID) (*resource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.resources.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: resource %#x", gpucore.ErrInvalidID, uint64(id))
	}
	return r, nil
}

// Map returns the CPU shadow of an upload or readback buffer. Readback
// buffers are mapped, copied into the shadow and unmapped again.
func (d *Device) Map(id gpucore.ResourceID) ([]byte, error) {
	r, err := d.resource(id)
	if err != nil {
		return nil, err
	}
	if r.shadow == nil {
		return nil, fmt.Errorf("webgpu: map %q: %w", r.label, gpucore.ErrNotCPUVisible)
	}
	if r.heap != gpucore.HeapReadback {
		return r.shadow, nil
	}
	size := uint64(len(r.shadow))
	var status wgpu.BufferMapAsyncStatus
	if err := r.buffer.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
	}); err != nil {
		return nil, fmt.Errorf("webgpu: map %q: %w", r.label, err)
	}
	d.device.Poll(true, nil)
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("webgpu: map %q: status %v", r.label, status)
	}
	copy(r.shadow, r.buffer.GetMappedRange(0, uint(size)))
	if err := r.buffer.Unmap(); err != nil {
		return nil, fmt.Errorf("webgpu: unmap %q: %w", r.label, err)
	}
	return r.shadow, nil
}

// Unmap writes the modified range of an upload buffer.
func (d *Device) Unmap(id gpucore.ResourceID, written gpucore.Range) {
	r, err := d.resource(id)
	if err != nil || r.heap != gpucore.HeapUpload {
		return
	}
	begin, end := uint64(0), uint64(len(r.shadow))
	if !written.Whole() {
		begin, end = written.Begin, min(written.End, end)
	}
	if begin < end {
		if err := d.queue.WriteBuffer(r.buffer, begin, r.shadow[begin:end]); err != nil {
			d.log.Warn("webgpu: write buffer", "resource", r.label, "err", err)
		}
	}
}

func (d *Device) flushUpload(r *resource) {
	if r.heap == gpucore.HeapUpload && len(r.shadow) > 0 {
		if err := d.queue.WriteBuffer(r.buffer, 0, r.shadow); err != nil {
			d.log.Warn("webgpu: write buffer", "resource", r.label, "err", err)
		}
	}
}

// CreateFence creates an emulated fence.
func (d *Device) CreateFence(initial uint64) (gpucore.FenceID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, ErrClosed
	}
	return d.fences.Insert(&fence{signaled: initial, completed: initial}), nil
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

// CompletedValue reports every signaled value as reached once the queue
// has drained.
func (d *Device) CompletedValue(id gpucore.FenceID) uint64 {
	f, err := d.fence(id)
	if err != nil {
		return 0
	}
	if len(f.pending) > 0 && d.device.Poll(false, nil) {
		f.drain()
	}
	return f.completed
}

// WaitFence polls the queue until it drains past the submission that
// signals value or ctx is done.
func (d *Device) WaitFence(ctx context.Context, id gpucore.FenceID, value uint64) error {
	f, err := d.fence(id)
	if err != nil {
		return err
	}
	if value <= f.completed {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if value > f.signaled {
		// Nothing queued will ever reach value.
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for !d.device.Poll(false, nil) {
		if err := d.RemovedReason(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	f.drain()
	return d.RemovedReason()
}

// Queue returns the direct queue.
func (d *Device) Queue() gpucore.Queue { return d.queueImpl }

// RemovedReason returns nil while the device is open.
func (d *Device) RemovedReason() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reason
}

// Close waits for the queue and releases every object.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.reason = fmt.Errorf("%w: closed", gpucore.ErrDeviceLost)
	d.mu.Unlock()

	if d.device != nil {
		d.device.Poll(true, nil)
	}
	for _, cb := range d.pending {
		cb.Release()
	}
	d.pending = nil
	d.pipelines.Each(func(_ gpucore.PipelineID, p **pipelineState) { (*p).release() })
	d.modules.Each(func(_ gpucore.ShaderModuleID, m **shaderModule) { (*m).module.Release() })
	d.resources.Each(func(_ gpucore.ResourceID, r **resource) { releaseResource(*r) })
	for _, s := range d.samplers {
		s.Release()
	}
	d.samplers = nil
	if d.queue != nil {
		d.queue.Release()
	}
	if d.device != nil {
		d.device.Release()
	}
	d.releaseInstance()
	return nil
}

// Queue emulates the direct queue on wgpu submissions.
type Queue struct {
	dev *Device
}

// Execute encodes the streams. They are submitted with the next Signal.
func (q *Queue) Execute(streams ...*gpucore.CommandStream) error {
	d := q.dev
	if err := d.RemovedReason(); err != nil {
		return err
	}
	for _, s := range streams {
		cb, err := d.encode(s)
		if err != nil {
			return fmt.Errorf("webgpu: execute %q: %w", s.Label, err)
		}
		d.pending = append(d.pending, cb)
	}
	return nil
}

// Signal submits pending command buffers and records the submission that
// completes value.
func (q *Queue) Signal(id gpucore.FenceID, value uint64) error {
	d := q.dev
	if err := d.RemovedReason(); err != nil {
		return err
	}
	f, err := d.fence(id)
	if err != nil {
		return err
	}
	fresh, err := f.next(value)
	if err != nil {
		return err
	}
	if !fresh {
		// Already headed there; only pending work needs to go out.
		if len(d.pending) > 0 {
			d.submit()
		}
		return nil
	}
	idx := d.submit()
	f.signaled = value
	f.pending = append(f.pending, signal{value: value, index: idx})
	return nil
}

func (d *Device) submit() wgpu.SubmissionIndex {
	buffers := d.pending
	d.pending = nil
	idx := d.queue.Submit(buffers...)
	for _, cb := range buffers {
		cb.Release()
	}
	return idx
}
