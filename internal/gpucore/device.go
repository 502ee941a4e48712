package gpucore

import (
	"context"
	"errors"
)

// Errors shared by all backends.
var (
	// ErrInvalidID is returned for zero, stale or foreign handles.
	ErrInvalidID = errors.New("gpucore: invalid or stale handle")

	// ErrNotCPUVisible is returned when mapping a default heap resource.
	ErrNotCPUVisible = errors.New("gpucore: resource is not CPU visible")

	// ErrDeviceLost is the base error of every device removal reason.
	ErrDeviceLost = errors.New("gpucore: device lost")

	// ErrUnsupported is returned for descriptions a backend cannot express.
	ErrUnsupported = errors.New("gpucore: unsupported by backend")

	// ErrBadPresentState is returned by SwapChain.Present when the back
	// buffer is not in StatePresent.
	ErrBadPresentState = errors.New("gpucore: back buffer not in present state")
)

// Device is an explicit GPU device.
//
// Resource lifecycle:
//   - Objects are created via Create* methods and destroyed explicitly
//   - Destroying an object the GPU still uses is undefined behavior
//   - Handles become invalid after destruction
//
// Device methods may be called from one goroutine at a time; the queue
// timeline runs concurrently with the caller.
type Device interface {
	// === Identity ===

	// Info describes the adapter the device was opened on.
	Info() AdapterInfo

	// === Resources ===

	// CreateCommittedResource creates a buffer or texture with its own
	// memory in the given heap, in the given initial state.
	CreateCommittedResource(heap HeapType, desc ResourceDesc, initial ResourceState, label string) (ResourceID, error)

	// DestroyResource releases a resource.
	DestroyResource(id ResourceID)

	// Map returns the CPU view of an upload or readback resource.
	// Writes become visible to the GPU after Unmap.
	Map(id ResourceID) ([]byte, error)

	// Unmap ends CPU access. written is the range the CPU modified;
	// the zero Range means the whole resource.
	Unmap(id ResourceID, written Range)

	// === Shaders and pipelines ===

	// CreateShaderModule creates a shader module for one entry point.
	CreateShaderModule(desc *ShaderModuleDesc) (ShaderModuleID, error)

	// DestroyShaderModule releases a shader module.
	DestroyShaderModule(id ShaderModuleID)

	// CreatePipeline creates an immutable graphics pipeline state object.
	CreatePipeline(desc *PipelineDesc) (PipelineID, error)

	// DestroyPipeline releases a pipeline.
	DestroyPipeline(id PipelineID)

	// === Synchronization ===

	// CreateFence creates a fence with the given initial completed value.
	CreateFence(initial uint64) (FenceID, error)

	// DestroyFence releases a fence.
	DestroyFence(id FenceID)

	// CompletedValue returns the last value the GPU timeline signaled.
	CompletedValue(id FenceID) uint64

	// WaitFence blocks until the fence reaches value, the context is done
	// or the device is removed.
	WaitFence(ctx context.Context, id FenceID, value uint64) error

	// Queue returns the single direct command queue.
	Queue() Queue

	// === Presentation ===

	// CreateSwapChain creates the presentation chain.
	CreateSwapChain(desc SwapChainDesc) (SwapChain, error)

	// RemovedReason returns nil while the device is healthy and the
	// removal reason (wrapping ErrDeviceLost) once it is removed.
	RemovedReason() error

	// Close releases the device. All objects must be destroyed first.
	Close() error
}

// Queue executes closed command streams in submission order.
type Queue interface {
	// Execute schedules streams for execution after all earlier work.
	Execute(streams ...*CommandStream) error

	// Signal schedules fence to reach value once all earlier work
	// completes.
	Signal(fence FenceID, value uint64) error
}

// SwapChainDesc describes a presentation chain.
type SwapChainDesc struct {
	Label       string
	Width       uint32
	Height      uint32
	BufferCount uint32
	Format      Format
}

// SwapChain is a ring of presentable back buffers.
type SwapChain interface {
	// Desc returns the effective description, with defaults applied and
	// the format the surface actually uses.
	Desc() SwapChainDesc

	// BufferCount returns the number of back buffers.
	BufferCount() uint32

	// Buffer returns the resource of back buffer i. Buffers are created in
	// StatePresent with FlagAllowRenderTarget.
	Buffer(i uint32) (ResourceID, error)

	// CurrentBackBufferIndex returns the index of the buffer the next
	// frame renders into.
	CurrentBackBufferIndex() uint32

	// Present queues the current back buffer for display and advances the
	// index. syncInterval 0 presents immediately, 1 waits for vblank.
	Present(syncInterval uint32) error

	// Close releases the chain and its buffers.
	Close() error
}
