package webgpu

import (
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gogpu/banding/internal/gpucore"
)

// Encoding errors.
var (
	// ErrDrawState is returned for a draw with no pipeline, render target
	// or complete root bindings.
	ErrDrawState = errors.New("webgpu: draw state incomplete")

	// ErrTopology is returned when the list topology differs from the
	// pipeline's.
	ErrTopology = errors.New("webgpu: topology does not match pipeline")
)

type encoder struct {
	d   *Device
	enc *wgpu.CommandEncoder

	pass     *wgpu.RenderPassEncoder
	passView gpucore.View

	rtv      gpucore.View
	pipeline *pipelineState
	topology gpucore.Topology
	cbvs     map[uint32]cbvBinding
	tables   map[uint32][]gpucore.View
	vb       *gpucore.CmdSetVertexBuffer
	viewport *gpucore.Viewport
	scissor  *gpucore.Rect
	dirty    bool
}

func (d *Device) encode(s *gpucore.CommandStream) (*wgpu.CommandBuffer, error) {
	enc, err := d.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: d.label(s.Label)})
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	defer enc.Release()
	e := &encoder{
		d:      d,
		enc:    enc,
		cbvs:   make(map[uint32]cbvBinding),
		tables: make(map[uint32][]gpucore.View),
	}
	for i, c := range s.Commands {
		if err := e.command(c); err != nil {
			e.endPass()
			return nil, fmt.Errorf("command %d (%T): %w", i, c, err)
		}
	}
	e.endPass()
	return enc.Finish(nil)
}

func (e *encoder) command(c gpucore.Command) error {
	switch c := c.(type) {
	case gpucore.CmdBarrier:
		e.endPass()
		return e.barrier(c.Transitions)
	case gpucore.CmdCopyTextureRegion:
		e.endPass()
		src, dst, err := e.pair(c.Src, c.Dst)
		if err != nil {
			return err
		}
		tex, err := e.texture(dst)
		if err != nil {
			return err
		}
		if src.buffer == nil {
			return fmt.Errorf("%w: texture region copy needs a buffer source", gpucore.ErrUnsupported)
		}
		e.d.flushUpload(src)
		ct, size := copyTexture(dst, tex, c.DstSubresource, c.Footprint)
		return e.enc.CopyBufferToTexture(copyBuffer(src, c.Footprint), ct, size)
	case gpucore.CmdCopyTextureToBuffer:
		e.endPass()
		src, dst, err := e.pair(c.Src, c.Dst)
		if err != nil {
			return err
		}
		tex, err := e.texture(src)
		if err != nil {
			return err
		}
		if dst.buffer == nil {
			return fmt.Errorf("%w: readback needs a buffer destination", gpucore.ErrUnsupported)
		}
		ct, size := copyTexture(src, tex, c.SrcSubresource, c.Footprint)
		return e.enc.CopyTextureToBuffer(ct, copyBuffer(dst, c.Footprint), size)
	case gpucore.CmdCopyBufferRegion:
		e.endPass()
		src, dst, err := e.pair(c.Src, c.Dst)
		if err != nil {
			return err
		}
		if src.buffer == nil || dst.buffer == nil {
			return fmt.Errorf("%w: buffer copy between textures", gpucore.ErrUnsupported)
		}
		e.d.flushUpload(src)
		return e.enc.CopyBufferToBuffer(src.buffer, c.SrcOffset, dst.buffer, c.DstOffset, c.Size)
	case gpucore.CmdSetRenderTarget:
		if c.View != e.rtv {
			e.endPass()
			e.rtv = c.View
		}
	case gpucore.CmdSetPipeline:
		e.d.mu.Lock()
		p, ok := e.d.pipelines.Get(c.Pipeline)
		e.d.mu.Unlock()
		if !ok {
			return fmt.Errorf("%w: pipeline %#x", gpucore.ErrInvalidID, uint64(c.Pipeline))
		}
		e.pipeline = p
		e.dirty = true
	case gpucore.CmdSetRootConstantBuffer:
		e.cbvs[c.Slot] = cbvBinding{buffer: c.Buffer, offset: c.Offset}
		e.dirty = true
	case gpucore.CmdSetRootTable:
		e.tables[c.Slot] = c.Views
		e.dirty = true
	case gpucore.CmdSetVertexBuffer:
		vb := c
		e.vb = &vb
		e.dirty = true
	case gpucore.CmdSetViewport:
		vp := c.Viewport
		e.viewport = &vp
		e.dirty = true
	case gpucore.CmdSetScissor:
		r := c.Rect
		e.scissor = &r
		e.dirty = true
	case gpucore.CmdSetTopology:
		e.topology = c.Topology
	case gpucore.CmdDraw:
		return e.draw(c)
	default:
		return fmt.Errorf("%w: command %T", gpucore.ErrUnsupported, c)
	}
	return nil
}

func (e *encoder) pair(src, dst gpucore.ResourceID) (*resource, *resource, error) {
	s, err := e.d.resource(src)
	if err != nil {
		return nil, nil, err
	}
	d, err := e.d.resource(dst)
	if err != nil {
		return nil, nil, err
	}
	return s, d, nil
}

func (e *encoder) texture(r *resource) (*wgpu.Texture, error) {
	if r.chain != nil {
		return r.chain.acquire(r)
	}
	if r.texture == nil {
		return nil, fmt.Errorf("%w: %q is not a texture", gpucore.ErrUnsupported, r.label)
	}
	return r.texture, nil
}

func copyBuffer(r *resource, fp gpucore.PlacedFootprint) *wgpu.ImageCopyBuffer {
	return &wgpu.ImageCopyBuffer{
		Buffer: r.buffer,
		Layout: wgpu.TextureDataLayout{Offset: fp.Offset, BytesPerRow: fp.RowPitch, RowsPerImage: fp.Height},
	}
}

func copyTexture(r *resource, tex *wgpu.Texture, sub uint32, fp gpucore.PlacedFootprint) (*wgpu.ImageCopyTexture, *wgpu.Extent3D) {
	layers := max(uint32(r.desc.DepthOrArraySize), 1)
	return &wgpu.ImageCopyTexture{
			Texture:  tex,
			MipLevel: sub / layers,
			Origin:   wgpu.Origin3D{Z: sub % layers},
			Aspect:   wgpu.TextureAspectAll,
		}, &wgpu.Extent3D{
			Width:              fp.Width,
			Height:             fp.Height,
			DepthOrArrayLayers: max(fp.Depth, 1),
		}
}

// barrier validates and records transitions. WebGPU synchronizes usage
// implicitly, so nothing is encoded.
func (e *encoder) barrier(ts []gpucore.Transition) error {
	for _, t := range ts {
		r, err := e.d.resource(t.Resource)
		if err != nil {
			return err
		}
		if err := track(r, t); err != nil {
			return err
		}
	}
	return nil
}

func track(r *resource, t gpucore.Transition) error {
	apply := func(i int) error {
		if r.states[i] != t.Before {
			return fmt.Errorf("barrier on %q subresource %d: before %s, resource is %s",
				r.label, i, t.Before, r.states[i])
		}
		r.states[i] = t.After
		return nil
	}
	if t.Subresource == gpucore.AllSubresources {
		for i := range r.states {
			if err := apply(i); err != nil {
				return err
			}
		}
		return nil
	}
	if t.Subresource < 0 || int(t.Subresource) >= len(r.states) {
		return fmt.Errorf("barrier on %q: subresource %d out of range", r.label, t.Subresource)
	}
	return apply(int(t.Subresource))
}

func (e *encoder) beginPass() error {
	if e.pass != nil && e.passView == e.rtv {
		return nil
	}
	e.endPass()
	if !e.rtv.Valid() {
		return fmt.Errorf("%w: no render target", ErrDrawState)
	}
	view, _, err := e.d.view(e.rtv)
	if err != nil {
		return err
	}
	e.pass = e.enc.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: e.d.label("banding pass"),
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:    view,
			LoadOp:  wgpu.LoadOpLoad,
			StoreOp: wgpu.StoreOpStore,
		}},
	})
	e.passView = e.rtv
	e.dirty = true
	return nil
}

func (e *encoder) endPass() {
	if e.pass != nil {
		e.pass.End()
		e.pass.Release()
		e.pass = nil
	}
}

func (e *encoder) draw(c gpucore.CmdDraw) error {
	p := e.pipeline
	if p == nil {
		return fmt.Errorf("%w: no pipeline", ErrDrawState)
	}
	if e.topology != gpucore.TopologyUndefined && e.topology != p.desc.Topology {
		return fmt.Errorf("%w: list %d, pipeline %d", ErrTopology, e.topology, p.desc.Topology)
	}
	if err := e.beginPass(); err != nil {
		return err
	}
	if e.dirty {
		group, err := e.d.bindGroup(p, e.cbvs, e.tables)
		if err != nil {
			return err
		}
		for _, c := range e.cbvs {
			if r, err := e.d.resource(c.buffer); err == nil {
				e.d.flushUpload(r)
			}
		}
		e.pass.SetPipeline(p.pipeline)
		e.pass.SetBindGroup(0, group, nil)
		if e.vb != nil && len(p.desc.InputLayout) > 0 {
			r, err := e.d.resource(e.vb.Buffer)
			if err != nil {
				return err
			}
			e.d.flushUpload(r)
			size := e.vb.Size
			if size == 0 {
				size = wgpu.WholeSize
			}
			e.pass.SetVertexBuffer(0, r.buffer, e.vb.Offset, size)
		}
		if vp := e.viewport; vp != nil {
			e.pass.SetViewport(vp.X, vp.Y, vp.Width, vp.Height, vp.MinDepth, vp.MaxDepth)
		}
		if sr := e.scissor; sr != nil && sr.Width() > 0 && sr.Height() > 0 {
			e.pass.SetScissorRect(uint32(sr.Left), uint32(sr.Top), uint32(sr.Width()), uint32(sr.Height()))
		}
		e.dirty = false
	}
	e.pass.Draw(c.VertexCount, c.InstanceCount, c.FirstVertex, c.FirstInstance)
	return nil
}
