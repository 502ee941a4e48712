package cmdlist

import (
	"fmt"
	"log/slog"

	"github.com/gogpu/banding/internal/descriptor"
	"github.com/gogpu/banding/internal/gpucore"
	"github.com/gogpu/banding/internal/resource"
)

// Option configures a List.
type Option func(*List)

// WithLogger sets the logger barrier recording is traced to.
func WithLogger(l *slog.Logger) Option {
	return func(cl *List) { cl.log = gpucore.LoggerOr(l) }
}

// WithHeaps registers heaps render target handles may be resolved in
// without binding them with SetDescriptorHeaps.
func WithHeaps(heaps ...*descriptor.Heap) Option {
	return func(cl *List) { cl.rtvHeaps = append(cl.rtvHeaps, heaps...) }
}

// List records commands into an Allocator.
//
// Recording errors are sticky: the first one is kept, later commands are
// dropped, and Close returns it.
type List struct {
	label    string
	res      *resource.Factory
	log      *slog.Logger
	rtvHeaps []*descriptor.Heap

	alloc  *Allocator
	start  int
	open   bool
	err    error
	stream *gpucore.CommandStream

	states   map[gpucore.ResourceID]gpucore.ResourceState
	rootSig  *gpucore.RootSignatureDesc
	heaps    []*descriptor.Heap
	rtv      gpucore.ResourceID
	pipeline gpucore.PipelineID
}

// New creates a closed list. Call Reset before recording.
func New(res *resource.Factory, label string, opts ...Option) *List {
	cl := &List{label: label, res: res, log: gpucore.NopLogger()}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// Label returns the debug label.
func (cl *List) Label() string { return cl.label }

// Recording reports whether the list is open.
func (cl *List) Recording() bool { return cl.open }

// Allocator returns the allocator the list records into.
func (cl *List) Allocator() *Allocator { return cl.alloc }

// Err returns the first recording error.
func (cl *List) Err() error { return cl.err }

// Reset opens the list for recording into a, discarding all bindings.
// The list must be closed.
func (cl *List) Reset(a *Allocator) error {
	if cl.open {
		return ErrOpen
	}
	if a.recording {
		return ErrAllocatorBusy
	}
	if cl.alloc != nil {
		cl.alloc.recording = false
	}
	a.recording = true
	cl.alloc = a
	cl.start = len(a.commands)
	cl.open = true
	cl.err = nil
	cl.stream = nil
	cl.states = make(map[gpucore.ResourceID]gpucore.ResourceState)
	cl.rootSig = nil
	cl.heaps = nil
	cl.rtv = gpucore.InvalidID
	cl.pipeline = gpucore.InvalidID
	return nil
}

// Close ends recording. It fails with the first recording error, or with
// ErrUnpairedTransition if a swap chain buffer touched by the list is not
// back in StatePresent.
func (cl *List) Close() error {
	if !cl.open {
		return ErrClosed
	}
	cl.open = false
	cl.alloc.recording = false
	if cl.err == nil {
		for id, s := range cl.states {
			rec, err := cl.res.Lookup(id)
			if err == nil && rec.Presentable && s != gpucore.StatePresent {
				cl.err = fmt.Errorf("%w: %q left in %s", ErrUnpairedTransition, rec.Label, s)
				break
			}
		}
	}
	if cl.err != nil {
		return cl.err
	}
	cl.stream = &gpucore.CommandStream{
		Label:    cl.label,
		Commands: cl.alloc.commands[cl.start:len(cl.alloc.commands):len(cl.alloc.commands)],
	}
	return nil
}

// Stream returns the closed command stream, or nil if the list is open or
// failed to close.
func (cl *List) Stream() *gpucore.CommandStream { return cl.stream }

// Commands returns the commands recorded since the last Reset.
func (cl *List) Commands() []gpucore.Command {
	if cl.alloc == nil {
		return nil
	}
	return cl.alloc.commands[cl.start:]
}

// FinalStates returns the tracked state of every resource the list
// transitioned.
func (cl *List) FinalStates() map[gpucore.ResourceID]gpucore.ResourceState {
	out := make(map[gpucore.ResourceID]gpucore.ResourceState, len(cl.states))
	for id, s := range cl.states {
		out[id] = s
	}
	return out
}

func (cl *List) fail(err error) {
	if cl.err == nil {
		cl.err = err
	}
}

func (cl *List) record(c gpucore.Command) bool {
	if !cl.open {
		cl.fail(ErrClosed)
		return false
	}
	if cl.err != nil {
		return false
	}
	cl.alloc.commands = append(cl.alloc.commands, c)
	return true
}

func (cl *List) state(id gpucore.ResourceID) (gpucore.ResourceState, error) {
	if s, ok := cl.states[id]; ok {
		return s, nil
	}
	return cl.res.State(id)
}

// ResourceState returns the state the list has tracked for id so far.
func (cl *List) ResourceState(id gpucore.ResourceID) (gpucore.ResourceState, error) {
	return cl.state(id)
}

func (cl *List) require(id gpucore.ResourceID, want gpucore.ResourceState, what string) bool {
	s, err := cl.state(id)
	if err != nil {
		cl.fail(err)
		return false
	}
	if s != want {
		cl.fail(fmt.Errorf("%w: %s needs %s, resource is in %s", ErrStateMismatch, what, want, s))
		return false
	}
	return true
}

// ResourceBarrier records state transitions. Each Before must equal the
// tracked state. Only whole-resource transitions are tracked.
func (cl *List) ResourceBarrier(ts ...gpucore.Transition) {
	if !cl.open {
		cl.fail(ErrClosed)
		return
	}
	if cl.err != nil {
		return
	}
	for _, t := range ts {
		if t.Subresource != gpucore.AllSubresources {
			rec, err := cl.res.Lookup(t.Resource)
			if err != nil {
				cl.fail(err)
				return
			}
			if rec.Desc.SubresourceCount() != 1 {
				cl.fail(fmt.Errorf("%w: partial transition of %q", gpucore.ErrUnsupported, rec.Label))
				return
			}
		}
		s, err := cl.state(t.Resource)
		if err != nil {
			cl.fail(err)
			return
		}
		if s != t.Before {
			cl.fail(fmt.Errorf("%w: barrier before %s, resource %#x is in %s",
				ErrStateMismatch, t.Before, uint64(t.Resource), s))
			return
		}
		cl.states[t.Resource] = t.After
		cl.log.Debug("cmdlist: barrier", "list", cl.label, "resource", uint64(t.Resource),
			"before", t.Before.String(), "after", t.After.String())
	}
	cl.record(gpucore.CmdBarrier{Transitions: append([]gpucore.Transition(nil), ts...)})
}

// CopyTextureRegion copies a placed footprint of src into subresource sub
// of dst, which must be in CopyDest.
func (cl *List) CopyTextureRegion(dst gpucore.ResourceID, sub uint32, src gpucore.ResourceID,
	fp gpucore.PlacedFootprint) {
	if !cl.require(dst, gpucore.StateCopyDest, "copy destination") {
		return
	}
	cl.record(gpucore.CmdCopyTextureRegion{Dst: dst, DstSubresource: sub, Src: src, Footprint: fp})
}

// CopyTextureToBuffer copies subresource sub of src, which must be in
// CopySource, into a placed footprint of dst.
func (cl *List) CopyTextureToBuffer(src gpucore.ResourceID, sub uint32, dst gpucore.ResourceID,
	fp gpucore.PlacedFootprint) {
	if !cl.require(src, gpucore.StateCopySource, "copy source") {
		return
	}
	cl.record(gpucore.CmdCopyTextureToBuffer{Src: src, SrcSubresource: sub, Dst: dst, Footprint: fp})
}

// CopyBufferRegion copies size bytes between buffers.
func (cl *List) CopyBufferRegion(dst gpucore.ResourceID, dstOffset uint64, src gpucore.ResourceID,
	srcOffset, size uint64) {
	cl.record(gpucore.CmdCopyBufferRegion{Dst: dst, DstOffset: dstOffset, Src: src, SrcOffset: srcOffset, Size: size})
}

// SetDescriptorHeaps binds the shader-visible heaps descriptor tables are
// resolved in.
func (cl *List) SetDescriptorHeaps(heaps ...*descriptor.Heap) {
	if !cl.open {
		cl.fail(ErrClosed)
		return
	}
	for _, h := range heaps {
		if !h.ShaderVisible() {
			cl.fail(fmt.Errorf("%w: %s", descriptor.ErrNotShaderVisible, h.Label()))
			return
		}
	}
	cl.heaps = append(cl.heaps[:0], heaps...)
}

// SetGraphicsRootSignature sets the binding layout root arguments are
// checked against.
func (cl *List) SetGraphicsRootSignature(rs *gpucore.RootSignatureDesc) {
	if !cl.open {
		cl.fail(ErrClosed)
		return
	}
	cl.rootSig = rs
}

func (cl *List) rootParameter(slot uint32, kind gpucore.RootParameterKind) (gpucore.RootParameter, bool) {
	if cl.rootSig == nil {
		cl.fail(ErrNoRootSig)
		return gpucore.RootParameter{}, false
	}
	if int(slot) >= len(cl.rootSig.Parameters) || cl.rootSig.Parameters[slot].Kind != kind {
		cl.fail(fmt.Errorf("%w: slot %d", ErrRootParameter, slot))
		return gpucore.RootParameter{}, false
	}
	return cl.rootSig.Parameters[slot], true
}

// SetGraphicsRootConstantBufferView binds buf at offset to a RootCBV slot.
func (cl *List) SetGraphicsRootConstantBufferView(slot uint32, buf gpucore.ResourceID, offset uint64) {
	if _, ok := cl.rootParameter(slot, gpucore.RootCBV); !ok {
		return
	}
	cl.record(gpucore.CmdSetRootConstantBuffer{Slot: slot, Buffer: buf, Offset: offset})
}

// SetGraphicsRootDescriptorTable binds the table starting at gpu to a
// RootTable slot. The handle must belong to a bound heap; the views are
// resolved now and must be in PixelShaderResource when the list draws.
func (cl *List) SetGraphicsRootDescriptorTable(slot uint32, gpu descriptor.GPUHandle) {
	p, ok := cl.rootParameter(slot, gpucore.RootTable)
	if !ok {
		return
	}
	for _, h := range cl.heaps {
		if !h.OwnsGPU(gpu) {
			continue
		}
		views, err := h.ResolveTable(gpu, len(p.Ranges))
		if err != nil {
			cl.fail(err)
			return
		}
		for i, v := range views {
			if v.Dimension != p.Ranges[i] {
				cl.fail(fmt.Errorf("%w: table entry %d is %s, root signature expects %s",
					ErrRootParameter, i, v.Dimension, p.Ranges[i]))
				return
			}
		}
		cl.record(gpucore.CmdSetRootTable{Slot: slot, Views: views})
		return
	}
	cl.fail(fmt.Errorf("%w: table %#x", ErrNoHeap, uint64(gpu)))
}

// SetPipelineState binds a pipeline.
func (cl *List) SetPipelineState(p gpucore.PipelineID) {
	if cl.record(gpucore.CmdSetPipeline{Pipeline: p}) {
		cl.pipeline = p
	}
}

// IASetPrimitiveTopology sets the primitive topology.
func (cl *List) IASetPrimitiveTopology(t gpucore.Topology) {
	cl.record(gpucore.CmdSetTopology{Topology: t})
}

// IASetVertexBuffer binds vertex buffer slot 0.
func (cl *List) IASetVertexBuffer(buf gpucore.ResourceID, offset, size uint64, stride uint32) {
	cl.record(gpucore.CmdSetVertexBuffer{Buffer: buf, Offset: offset, Size: size, Stride: stride})
}

// RSSetViewport sets the viewport.
func (cl *List) RSSetViewport(vp gpucore.Viewport) {
	cl.record(gpucore.CmdSetViewport{Viewport: vp})
}

// RSSetScissorRect sets the scissor rectangle.
func (cl *List) RSSetScissorRect(r gpucore.Rect) {
	cl.record(gpucore.CmdSetScissor{Rect: r})
}

// OMSetRenderTarget binds the render target view at cpu. The resource must
// be in RenderTarget.
func (cl *List) OMSetRenderTarget(cpu descriptor.CPUHandle) {
	if !cl.open {
		cl.fail(ErrClosed)
		return
	}
	for _, h := range cl.rtvHeaps {
		if !h.Owns(cpu) {
			continue
		}
		v, err := h.View(cpu)
		if err != nil {
			cl.fail(err)
			return
		}
		if !cl.require(v.Resource, gpucore.StateRenderTarget, "render target") {
			return
		}
		if cl.record(gpucore.CmdSetRenderTarget{View: v}) {
			cl.rtv = v.Resource
		}
		return
	}
	cl.fail(fmt.Errorf("%w: render target %#x", ErrNoHeap, uint64(cpu)))
}

// DrawInstanced draws non-indexed primitives.
func (cl *List) DrawInstanced(vertices, instances, firstVertex, firstInstance uint32) {
	if cl.open && cl.err == nil {
		switch {
		case cl.pipeline == gpucore.InvalidID:
			cl.fail(fmt.Errorf("%w: no pipeline", ErrIncompleteDraw))
			return
		case cl.rtv == gpucore.InvalidID:
			cl.fail(fmt.Errorf("%w: no render target", ErrIncompleteDraw))
			return
		}
		if !cl.require(cl.rtv, gpucore.StateRenderTarget, "render target") {
			return
		}
	}
	cl.record(gpucore.CmdDraw{
		VertexCount:   vertices,
		InstanceCount: instances,
		FirstVertex:   firstVertex,
		FirstInstance: firstInstance,
	})
}
