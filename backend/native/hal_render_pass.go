//go:build !nogpu

package native

import (
	"fmt"

	"github.com/gogpu/banding/internal/gpucore"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// streamEncoder translates one command stream into a hal command buffer.
//
// Render state set on the stream is applied lazily: a render pass begins at
// the first draw after a render target is bound and ends at the next
// barrier, copy or render target change.
type streamEncoder struct {
	d   *Device
	enc hal.CommandEncoder

	pass     hal.RenderPassEncoder
	passView gpucore.View

	rtv      gpucore.View
	pipeline *pipelineState
	topology gpucore.Topology
	cbvs     map[uint32]cbvBinding
	tables   map[uint32][]gpucore.View
	vb       *gpucore.CmdSetVertexBuffer
	viewport *gpucore.Viewport
	scissor  *gpucore.Rect

	// dirty is set when state changed since the last draw in the pass.
	dirty bool
}

func (d *Device) encode(s *gpucore.CommandStream) (hal.CommandBuffer, error) {
	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: d.label(s.Label)})
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	if err := enc.BeginEncoding(d.label(s.Label)); err != nil {
		return nil, fmt.Errorf("begin encoding: %w", err)
	}
	e := &streamEncoder{
		d:      d,
		enc:    enc,
		cbvs:   make(map[uint32]cbvBinding),
		tables: make(map[uint32][]gpucore.View),
	}
	for i, c := range s.Commands {
		if err := e.command(c); err != nil {
			e.endPass()
			enc.DiscardEncoding()
			return nil, fmt.Errorf("command %d (%T): %w", i, c, err)
		}
	}
	e.endPass()
	cb, err := enc.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("end encoding: %w", err)
	}
	return cb, nil
}

func (e *streamEncoder) command(c gpucore.Command) error {
	switch c := c.(type) {
	case gpucore.CmdBarrier:
		e.endPass()
		return e.barrier(c.Transitions)
	case gpucore.CmdCopyTextureRegion:
		e.endPass()
		return e.copyToTexture(c)
	case gpucore.CmdCopyTextureToBuffer:
		e.endPass()
		return e.copyToBuffer(c)
	case gpucore.CmdCopyBufferRegion:
		e.endPass()
		src, err := e.d.resource(c.Src)
		if err != nil {
			return err
		}
		dst, err := e.d.resource(c.Dst)
		if err != nil {
			return err
		}
		if src.buffer == nil || dst.buffer == nil {
			return fmt.Errorf("%w: buffer copy between textures", gpucore.ErrUnsupported)
		}
		e.d.flushUpload(src)
		e.enc.CopyBufferToBuffer(src.buffer, dst.buffer, []hal.BufferCopy{
			{SrcOffset: c.SrcOffset, DstOffset: c.DstOffset, Size: c.Size},
		})
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

func (e *streamEncoder) barrier(ts []gpucore.Transition) error {
	barriers := make([]hal.TextureBarrier, 0, len(ts))
	for _, t := range ts {
		r, err := e.d.resource(t.Resource)
		if err != nil {
			return err
		}
		if err := track(r, t); err != nil {
			return err
		}
		if r.texture == nil {
			continue
		}
		barriers = append(barriers, hal.TextureBarrier{
			Texture: r.texture,
			Usage: hal.TextureUsageTransition{
				OldUsage: textureUsage(t.Before),
				NewUsage: textureUsage(t.After),
			},
		})
	}
	if len(barriers) > 0 {
		e.enc.TransitionTextures(barriers)
	}
	return nil
}

// track applies a transition to the device-side state of r.
func track(r *halResource, t gpucore.Transition) error {
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

func (e *streamEncoder) copyRegion(tex *halResource, sub uint32, fp gpucore.PlacedFootprint) hal.BufferTextureCopy {
	layers := uint32(tex.desc.DepthOrArraySize)
	if layers == 0 {
		layers = 1
	}
	depth := fp.Depth
	if depth == 0 {
		depth = 1
	}
	return hal.BufferTextureCopy{
		BufferLayout: hal.ImageDataLayout{Offset: fp.Offset, BytesPerRow: fp.RowPitch, RowsPerImage: fp.Height},
		TextureBase: hal.ImageCopyTexture{
			Texture:  tex.texture,
			MipLevel: sub / layers,
			Origin:   hal.Origin3D{X: 0, Y: 0, Z: sub % layers},
		},
		Size: hal.Extent3D{Width: fp.Width, Height: fp.Height, DepthOrArrayLayers: depth},
	}
}

func (e *streamEncoder) copyToTexture(c gpucore.CmdCopyTextureRegion) error {
	src, err := e.d.resource(c.Src)
	if err != nil {
		return err
	}
	dst, err := e.d.resource(c.Dst)
	if err != nil {
		return err
	}
	if src.buffer == nil || dst.texture == nil {
		return fmt.Errorf("%w: texture region copy needs a buffer source", gpucore.ErrUnsupported)
	}
	e.d.flushUpload(src)
	e.enc.CopyBufferToTexture(src.buffer, dst.texture, []hal.BufferTextureCopy{e.copyRegion(dst, c.DstSubresource, c.Footprint)})
	return nil
}

func (e *streamEncoder) copyToBuffer(c gpucore.CmdCopyTextureToBuffer) error {
	src, err := e.d.resource(c.Src)
	if err != nil {
		return err
	}
	dst, err := e.d.resource(c.Dst)
	if err != nil {
		return err
	}
	if src.texture == nil || dst.buffer == nil {
		return fmt.Errorf("%w: readback needs a texture source", gpucore.ErrUnsupported)
	}
	e.enc.CopyTextureToBuffer(src.texture, dst.buffer, []hal.BufferTextureCopy{e.copyRegion(src, c.SrcSubresource, c.Footprint)})
	return nil
}

func (e *streamEncoder) beginPass() error {
	if e.pass != nil && e.passView == e.rtv {
		return nil
	}
	e.endPass()
	if !e.rtv.Valid() {
		return fmt.Errorf("%w: no render target", ErrNoPipeline)
	}
	view, err := e.d.view(e.rtv)
	if err != nil {
		return err
	}
	e.pass = e.enc.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: e.d.label("banding pass"),
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:    view,
			LoadOp:  gputypes.LoadOpLoad,
			StoreOp: gputypes.StoreOpStore,
		}},
	})
	e.passView = e.rtv
	e.dirty = true
	return nil
}

func (e *streamEncoder) endPass() {
	if e.pass != nil {
		e.pass.End()
		e.pass = nil
	}
}

func (e *streamEncoder) draw(c gpucore.CmdDraw) error {
	p := e.pipeline
	if p == nil {
		return fmt.Errorf("%w: no pipeline", ErrNoPipeline)
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
			e.pass.SetVertexBuffer(0, r.buffer, e.vb.Offset)
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
