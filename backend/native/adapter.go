//go:build !nogpu

package native

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/banding/internal/gpucore"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	_ "github.com/gogpu/wgpu/hal/vulkan" // registers the Vulkan hal backend
)

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the device logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) { d.log = gpucore.LoggerOr(l) }
}

// WithDebugNames forwards resource labels to hal objects.
func WithDebugNames(on bool) Option {
	return func(d *Device) { d.debugNames = on }
}

// WithPollInterval sets the slice WaitFence blocks on the hal fence before
// rechecking the context.
func WithPollInterval(dt time.Duration) Option {
	return func(d *Device) {
		if dt > 0 {
			d.poll = dt
		}
	}
}

type halResource struct {
	heap   gpucore.HeapType
	desc   gpucore.ResourceDesc
	label  string
	states []gpucore.ResourceState

	buffer  hal.Buffer
	texture hal.Texture
	views   map[viewKey]hal.TextureView

	// shadow is the CPU copy of upload and readback buffers.
	shadow []byte
}

// Device implements gpucore.Device on a hal device and queue.
//
// Thread Safety: Device methods may be called from one goroutine at a
// time, matching gpucore.Device. The internal lock only protects handle
// tables against concurrent Close.
type Device struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	external bool

	info       gpucore.AdapterInfo
	log        *slog.Logger
	debugNames bool
	poll       time.Duration

	resources gpucore.Arena[gpucore.ResourceID, *halResource]
	modules   gpucore.Arena[gpucore.ShaderModuleID, *shaderModule]
	pipelines gpucore.Arena[gpucore.PipelineID, *pipelineState]
	fences    gpucore.Arena[gpucore.FenceID, *fence]
	samplers  map[gpucore.StaticSampler]hal.Sampler

	// pending holds encoded command buffers waiting for the next Signal.
	pending  []hal.CommandBuffer
	inFlight []submission

	surfaceFormat gpucore.Format
	flushFence    gpucore.FenceID

	queueImpl *Queue
	reason    error
	closed    bool
}

type submission struct {
	fence   *fence
	value   uint64
	buffers []hal.CommandBuffer
}

var _ gpucore.Device = (*Device)(nil)

// New opens the first discrete or integrated Vulkan adapter.
func New(opts ...Option) (*Device, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not available", ErrNoGPU)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("native: create instance: %w", err)
	}
	d, err := open(instance, opts...)
	if err != nil {
		instance.Destroy()
		return nil, err
	}
	return d, nil
}

func open(instance hal.Instance, opts ...Option) (*Device, error) {
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return nil, ErrNoGPU
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return nil, fmt.Errorf("native: open device: %w", err)
	}
	d := NewFromHAL(openDev.Device, openDev.Queue, opts...)
	d.instance = instance
	d.external = false
	d.info = gpucore.AdapterInfo{
		Name:       selected.Info.Name,
		Backend:    "vulkan",
		DeviceType: deviceTypeName(selected.Info.DeviceType),
	}
	d.log.Info("native: device opened", "adapter", d.info.Name, "type", d.info.DeviceType)
	return d, nil
}

// OpenInstance opens a device on an already created hal instance, such as
// the hal/noop API in tests. The instance stays owned by the caller.
func OpenInstance(instance hal.Instance, opts ...Option) (*Device, error) {
	d, err := open(instance, opts...)
	if err != nil {
		return nil, err
	}
	d.instance = nil
	return d, nil
}

// NewFromHAL wraps an existing hal device and queue. Close does not
// destroy them.
func NewFromHAL(device hal.Device, queue hal.Queue, opts ...Option) *Device {
	d := &Device{
		device:   device,
		queue:    queue,
		external: true,
		info:     gpucore.AdapterInfo{Name: "hal device", Backend: "hal"},
		log:      gpucore.NopLogger(),
		poll:     10 * time.Millisecond,
		samplers: make(map[gpucore.StaticSampler]hal.Sampler),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queueImpl = &Queue{dev: d}
	return d
}

// FromProvider shares the device of a host application. The provider must
// also implement gpucontext.HalProvider.
func FromProvider(p gpucontext.DeviceProvider, opts ...Option) (*Device, error) {
	hp, ok := p.(gpucontext.HalProvider)
	if !ok {
		return nil, ErrNoHALProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not a hal.Device", ErrNoHALProvider)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not a hal.Queue", ErrNoHALProvider)
	}
	d := NewFromHAL(device, queue, opts...)
	d.info = gpucore.AdapterInfo{Name: "shared device", Backend: "hal"}
	if f, ok := formatFromHAL(p.SurfaceFormat()); ok {
		d.surfaceFormat = f
	}
	return d, nil
}

func deviceTypeName(t gputypes.DeviceType) string {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return "DiscreteGPU"
	case gputypes.DeviceTypeIntegratedGPU:
		return "IntegratedGPU"
	default:
		return "Other"
	}
}

// Info describes the adapter.
func (d *Device) Info() gpucore.AdapterInfo { return d.info }

// HAL returns the wrapped hal device and queue.
func (d *Device) HAL() (hal.Device, hal.Queue) { return d.device, d.queue }

func (d *Device) label(l string) string {
	if d.debugNames {
		return l
	}
	return ""
}

// === Resources ===

// CreateCommittedResource creates a hal buffer or texture. Upload and
// readback buffers keep a CPU shadow that Map returns.
func (d *Device) CreateCommittedResource(heap gpucore.HeapType, desc gpucore.ResourceDesc,
	initial gpucore.ResourceState, label string) (gpucore.ResourceID, error) {
	if desc.ByteSize() == 0 {
		return gpucore.InvalidID, fmt.Errorf("native: zero-sized resource %q", label)
	}
	states := make([]gpucore.ResourceState, desc.SubresourceCount())
	for i := range states {
		states[i] = initial
	}
	r := &halResource{heap: heap, desc: desc, label: label, states: states}

	if desc.IsBuffer() {
		usage := bufferUsage(heap)
		buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
			Label: d.label(label),
			Size:  desc.Width,
			Usage: usage,
		})
		if err != nil {
			return gpucore.InvalidID, fmt.Errorf("native: create buffer %q: %w", label, err)
		}
		r.buffer = buf
		if heap.CPUVisible() {
			r.shadow = make([]byte, desc.Width)
		}
	} else {
		if heap != gpucore.HeapDefault {
			return gpucore.InvalidID, fmt.Errorf("%w: textures live in the default heap", gpucore.ErrUnsupported)
		}
		tex, err := d.createTexture(desc, label)
		if err != nil {
			return gpucore.InvalidID, err
		}
		r.texture = tex
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.release(r)
		return gpucore.InvalidID, ErrClosed
	}
	return d.resources.Insert(r), nil
}

func (d *Device) release(r *halResource) {
	for _, v := range r.views {
		d.device.DestroyTextureView(v)
	}
	r.views = nil
	if r.texture != nil {
		d.device.DestroyTexture(r.texture)
		r.texture = nil
	}
	if r.buffer != nil {
		d.device.DestroyBuffer(r.buffer)
		r.buffer = nil
	}
}

// DestroyResource releases the hal object and its views.
func (d *Device) DestroyResource(id gpucore.ResourceID) {
	d.mu.Lock()
	r, ok := d.resources.Remove(id)
	d.mu.Unlock()
	if ok {
		d.release(r)
	}
}

func (d *Device) resource(id gpucore.ResourceID) (*halResource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.resources.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: resource %#x", gpucore.ErrInvalidID, uint64(id))
	}
	return r, nil
}

// Map returns the CPU shadow of an upload or readback buffer. Readback
// shadows are refreshed from the GPU copy first; the caller must have
// waited for the copy's fence.
func (d *Device) Map(id gpucore.ResourceID) ([]byte, error) {
	r, err := d.resource(id)
	if err != nil {
		return nil, err
	}
	if r.shadow == nil {
		return nil, fmt.Errorf("native: map %q: %w", r.label, gpucore.ErrNotCPUVisible)
	}
	if r.heap == gpucore.HeapReadback {
		if err := d.queue.ReadBuffer(r.buffer, 0, r.shadow); err != nil {
			return nil, fmt.Errorf("native: read back %q: %w", r.label, err)
		}
	}
	return r.shadow, nil
}

// Unmap writes the modified range of an upload buffer to the GPU copy.
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
		d.queue.WriteBuffer(r.buffer, begin, r.shadow[begin:end])
	}
}

// flushUpload copies the shadow of a persistently mapped upload buffer.
func (d *Device) flushUpload(r *halResource) {
	if r.heap == gpucore.HeapUpload && len(r.shadow) > 0 {
		d.queue.WriteBuffer(r.buffer, 0, r.shadow)
	}
}

// === Synchronization ===

type fence struct {
	hal       hal.Fence
	base      uint64
	signaled  uint64
	completed uint64
}

// CreateFence creates a hal fence. Values below initial count as reached.
func (d *Device) CreateFence(initial uint64) (gpucore.FenceID, error) {
	f, err := d.device.CreateFence()
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create fence: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fences.Insert(&fence{hal: f, base: initial, signaled: initial, completed: initial}), nil
}

// DestroyFence releases a fence.
func (d *Device) DestroyFence(id gpucore.FenceID) {
	d.mu.Lock()
	f, ok := d.fences.Remove(id)
	d.mu.Unlock()
	if ok {
		d.device.DestroyFence(f.hal)
	}
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

// reached polls the hal fence for value without blocking longer than
// timeout.
func (d *Device) reached(f *fence, value uint64, timeout time.Duration) (bool, error) {
	if value <= f.completed {
		return true, nil
	}
	ok, err := d.device.Wait(f.hal, value-f.base, timeout)
	if err != nil {
		return false, err
	}
	if ok {
		f.completed = value
		d.retire()
	}
	return ok, nil
}

// CompletedValue returns the highest signaled value the GPU has reached.
func (d *Device) CompletedValue(id gpucore.FenceID) uint64 {
	f, err := d.fence(id)
	if err != nil {
		return 0
	}
	var values []uint64
	for _, s := range d.inFlight {
		if s.fence == f && s.value > f.completed {
			values = append(values, s.value)
		}
	}
	for _, v := range values {
		if ok, _ := d.reached(f, v, 0); !ok {
			break
		}
	}
	return f.completed
}

// WaitFence blocks until the fence reaches value.
func (d *Device) WaitFence(ctx context.Context, id gpucore.FenceID, value uint64) error {
	f, err := d.fence(id)
	if err != nil {
		return err
	}
	for {
		if err := d.RemovedReason(); err != nil {
			return err
		}
		ok, err := d.reached(f, value, d.poll)
		if err != nil {
			d.remove(err)
			return d.RemovedReason()
		}
		if ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// retire frees command buffers of completed submissions.
func (d *Device) retire() {
	kept := d.inFlight[:0]
	for _, s := range d.inFlight {
		if s.value <= s.fence.completed {
			for _, cb := range s.buffers {
				d.device.FreeCommandBuffer(cb)
			}
			continue
		}
		kept = append(kept, s)
	}
	d.inFlight = kept
}

// Queue returns the direct queue.
func (d *Device) Queue() gpucore.Queue { return d.queueImpl }

func (d *Device) remove(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reason == nil {
		d.reason = fmt.Errorf("%w: %w", gpucore.ErrDeviceLost, err)
		d.log.Warn("native: device removed", "reason", err)
	}
}

// RemovedReason returns nil while the device is healthy.
func (d *Device) RemovedReason() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reason
}

// Close destroys every remaining object and, unless the device was
// provided externally, the hal device and instance.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	_ = d.flush()
	for _, s := range d.inFlight {
		if s.fence.signaled > s.fence.completed {
			_, _ = d.device.Wait(s.fence.hal, s.fence.signaled-s.fence.base, 5*time.Second)
		}
		for _, cb := range s.buffers {
			d.device.FreeCommandBuffer(cb)
		}
	}
	d.inFlight = nil

	d.pipelines.Each(func(_ gpucore.PipelineID, p **pipelineState) { d.destroyPipeline(*p) })
	d.modules.Each(func(_ gpucore.ShaderModuleID, m **shaderModule) { d.device.DestroyShaderModule((*m).hal) })
	d.resources.Each(func(_ gpucore.ResourceID, r **halResource) { d.release(*r) })
	d.fences.Each(func(_ gpucore.FenceID, f **fence) { d.device.DestroyFence((*f).hal) })
	for _, s := range d.samplers {
		d.device.DestroySampler(s)
	}
	d.samplers = nil

	if !d.external && d.device != nil {
		d.device.Destroy()
	}
	if d.instance != nil {
		d.instance.Destroy()
	}
	return nil
}

// Queue is the hal direct queue.
type Queue struct {
	dev *Device
}

// Execute encodes the streams into hal command buffers. They are
// submitted together with the next Signal.
func (q *Queue) Execute(streams ...*gpucore.CommandStream) error {
	d := q.dev
	if err := d.RemovedReason(); err != nil {
		return err
	}
	for _, s := range streams {
		cb, err := d.encode(s)
		if err != nil {
			return fmt.Errorf("native: execute %q: %w", s.Label, err)
		}
		d.pending = append(d.pending, cb)
	}
	return nil
}

// Signal submits pending command buffers with the fence target value.
// Repeating the last value is allowed; the fence is already headed there,
// so any pending work goes out on the private flush fence instead.
func (q *Queue) Signal(id gpucore.FenceID, value uint64) error {
	d := q.dev
	if err := d.RemovedReason(); err != nil {
		return err
	}
	f, err := d.fence(id)
	if err != nil {
		return err
	}
	switch {
	case value < f.signaled:
		return fmt.Errorf("native: fence value %d below %d", value, f.signaled)
	case value == f.signaled:
		if id == d.flushFence {
			return nil
		}
		return d.flush()
	}
	buffers := d.pending
	d.pending = nil
	if err := d.queue.Submit(buffers, f.hal, value-f.base); err != nil {
		d.remove(err)
		return d.RemovedReason()
	}
	f.signaled = value
	d.inFlight = append(d.inFlight, submission{fence: f, value: value, buffers: buffers})
	return nil
}

// flush submits pending work on a private fence, used before present and
// at close.
func (d *Device) flush() error {
	if len(d.pending) == 0 {
		return nil
	}
	if d.flushFence == gpucore.InvalidID {
		id, err := d.CreateFence(0)
		if err != nil {
			return err
		}
		d.flushFence = id
	}
	f, err := d.fence(d.flushFence)
	if err != nil {
		return err
	}
	return d.queueImpl.Signal(d.flushFence, f.signaled+1)
}
