package soft

import (
	"errors"
	"fmt"

	"github.com/gogpu/banding/internal/gpucore"
)

// errValidation is the removal reason for commands a debug layer would
// reject: wrong barrier before-states, copies out of bounds, draws without
// the required bindings.
var errValidation = errors.New("soft: validation")

type cbvBinding struct {
	res    *softResource
	offset uint64
}

type execState struct {
	pipeline *pipelineState
	rt       *softResource
	cbvs     map[uint32]cbvBinding
	tables   map[uint32][]gpucore.View
	vb       *softResource
	vbOffset uint64
	vbStride uint32
	viewport gpucore.Viewport
	scissor  gpucore.Rect
	topology gpucore.Topology
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errValidation, fmt.Sprintf(format, args...))
}

// execute runs one command stream on the timeline goroutine. Any error
// removes the device.
func (d *Device) execute(s *gpucore.CommandStream) error {
	st := &execState{
		cbvs:   make(map[uint32]cbvBinding),
		tables: make(map[uint32][]gpucore.View),
	}
	for i, c := range s.Commands {
		if err := d.run(st, c); err != nil {
			return fmt.Errorf("stream %q command %d (%T): %w", s.Label, i, c, err)
		}
	}
	return nil
}

func (d *Device) run(st *execState, c gpucore.Command) error {
	switch c := c.(type) {
	case gpucore.CmdBarrier:
		return d.barrier(c)
	case gpucore.CmdCopyTextureRegion:
		return d.copyToTexture(c)
	case gpucore.CmdCopyTextureToBuffer:
		return d.copyToBuffer(c)
	case gpucore.CmdCopyBufferRegion:
		return d.copyBuffer(c)
	case gpucore.CmdSetPipeline:
		d.mu.Lock()
		p, ok := d.pipelines.Get(c.Pipeline)
		d.mu.Unlock()
		if !ok {
			return gpucore.ErrInvalidID
		}
		st.pipeline = p
	case gpucore.CmdSetRenderTarget:
		r, err := d.resource(c.View.Resource)
		if err != nil {
			return err
		}
		st.rt = r
	case gpucore.CmdSetRootConstantBuffer:
		r, err := d.resource(c.Buffer)
		if err != nil {
			return err
		}
		st.cbvs[c.Slot] = cbvBinding{res: r, offset: c.Offset}
	case gpucore.CmdSetRootTable:
		st.tables[c.Slot] = c.Views
	case gpucore.CmdSetVertexBuffer:
		r, err := d.resource(c.Buffer)
		if err != nil {
			return err
		}
		st.vb, st.vbOffset, st.vbStride = r, c.Offset, c.Stride
	case gpucore.CmdSetViewport:
		st.viewport = c.Viewport
	case gpucore.CmdSetScissor:
		st.scissor = c.Rect
	case gpucore.CmdSetTopology:
		st.topology = c.Topology
	case gpucore.CmdDraw:
		return d.draw(st, c)
	default:
		return invalid("unknown command %T", c)
	}
	return nil
}

func subresourceRange(r *softResource, sub int32) (int, int, error) {
	if sub == gpucore.AllSubresources {
		return 0, len(r.states), nil
	}
	if sub < 0 || int(sub) >= len(r.states) {
		return 0, 0, invalid("subresource %d of %q", sub, r.label)
	}
	return int(sub), int(sub) + 1, nil
}

func (d *Device) barrier(c gpucore.CmdBarrier) error {
	for _, t := range c.Transitions {
		r, err := d.resource(t.Resource)
		if err != nil {
			return err
		}
		lo, hi, err := subresourceRange(r, t.Subresource)
		if err != nil {
			return err
		}
		for i := lo; i < hi; i++ {
			if r.states[i] != t.Before {
				return invalid("barrier on %q subresource %d: before %s, resource is in %s",
					r.label, i, t.Before, r.states[i])
			}
		}
		for i := lo; i < hi; i++ {
			r.states[i] = t.After
		}
	}
	return nil
}

func checkFootprint(tex *softResource, fp gpucore.PlacedFootprint, buf *softResource) error {
	bpp := tex.desc.Format.BytesPerPixel()
	if fp.Format != tex.desc.Format {
		return invalid("footprint format %s, texture %q is %s", fp.Format, tex.label, tex.desc.Format)
	}
	if uint64(fp.Width) != tex.desc.Width || fp.Height != tex.desc.Height {
		return invalid("footprint %dx%d, texture %q is %dx%d", fp.Width, fp.Height, tex.label,
			tex.desc.Width, tex.desc.Height)
	}
	if fp.RowPitch < fp.Width*bpp {
		return invalid("row pitch %d below %d", fp.RowPitch, fp.Width*bpp)
	}
	end := fp.Offset + uint64(fp.RowPitch)*uint64(fp.Height-1) + uint64(fp.Width*bpp)
	if end > uint64(len(buf.mem)) {
		return invalid("footprint ends at %d, buffer %q holds %d bytes", end, buf.label, len(buf.mem))
	}
	return nil
}

func (d *Device) copyToTexture(c gpucore.CmdCopyTextureRegion) error {
	dst, err := d.resource(c.Dst)
	if err != nil {
		return err
	}
	src, err := d.resource(c.Src)
	if err != nil {
		return err
	}
	if int(c.DstSubresource) >= len(dst.states) {
		return invalid("subresource %d of %q", c.DstSubresource, dst.label)
	}
	if s := dst.states[c.DstSubresource]; s != gpucore.StateCopyDest {
		return invalid("copy into %q in state %s", dst.label, s)
	}
	if s := src.states[0]; s != gpucore.StateGenericRead && s != gpucore.StateCopySource {
		return invalid("copy from %q in state %s", src.label, s)
	}
	if err := checkFootprint(dst, c.Footprint, src); err != nil {
		return err
	}
	fp := c.Footprint
	row := int(fp.Width * dst.desc.Format.BytesPerPixel())
	base := int(dst.desc.LayerSize()) * int(c.DstSubresource)
	for y := 0; y < int(fp.Height); y++ {
		so := int(fp.Offset) + y*int(fp.RowPitch)
		copy(dst.mem[base+y*row:base+(y+1)*row], src.mem[so:so+row])
	}
	return nil
}

func (d *Device) copyToBuffer(c gpucore.CmdCopyTextureToBuffer) error {
	src, err := d.resource(c.Src)
	if err != nil {
		return err
	}
	dst, err := d.resource(c.Dst)
	if err != nil {
		return err
	}
	if int(c.SrcSubresource) >= len(src.states) {
		return invalid("subresource %d of %q", c.SrcSubresource, src.label)
	}
	if s := src.states[c.SrcSubresource]; s != gpucore.StateCopySource {
		return invalid("copy from %q in state %s", src.label, s)
	}
	if s := dst.states[0]; s != gpucore.StateCopyDest {
		return invalid("copy into %q in state %s", dst.label, s)
	}
	if err := checkFootprint(src, c.Footprint, dst); err != nil {
		return err
	}
	fp := c.Footprint
	row := int(fp.Width * src.desc.Format.BytesPerPixel())
	base := int(src.desc.LayerSize()) * int(c.SrcSubresource)
	for y := 0; y < int(fp.Height); y++ {
		do := int(fp.Offset) + y*int(fp.RowPitch)
		copy(dst.mem[do:do+row], src.mem[base+y*row:base+(y+1)*row])
	}
	return nil
}

func (d *Device) copyBuffer(c gpucore.CmdCopyBufferRegion) error {
	dst, err := d.resource(c.Dst)
	if err != nil {
		return err
	}
	src, err := d.resource(c.Src)
	if err != nil {
		return err
	}
	if c.SrcOffset+c.Size > uint64(len(src.mem)) || c.DstOffset+c.Size > uint64(len(dst.mem)) {
		return invalid("buffer copy of %d bytes out of bounds", c.Size)
	}
	copy(dst.mem[c.DstOffset:c.DstOffset+c.Size], src.mem[c.SrcOffset:c.SrcOffset+c.Size])
	return nil
}

func (d *Device) bindings(st *execState) (*Bindings, error) {
	b := NewBindings()
	for _, bd := range st.pipeline.bindings {
		switch bd.Kind {
		case gpucore.BindingUniform:
			cbv, ok := st.cbvs[uint32(bd.Parameter)]
			if !ok {
				return nil, invalid("root parameter %d (constant buffer) not set", bd.Parameter)
			}
			if cbv.offset > uint64(len(cbv.res.mem)) {
				return nil, invalid("constant buffer offset %d out of bounds", cbv.offset)
			}
			b.SetUniform(bd.Number, cbv.res.mem[cbv.offset:])
		case gpucore.BindingTexture:
			views, ok := st.tables[uint32(bd.Parameter)]
			if !ok || bd.Index >= len(views) {
				return nil, invalid("root parameter %d (table) not set", bd.Parameter)
			}
			tex, err := d.textureView(views[bd.Index])
			if err != nil {
				return nil, err
			}
			b.SetTexture(bd.Number, tex)
		}
	}
	return b, nil
}

func (d *Device) textureView(v gpucore.View) (*Texture, error) {
	r, err := d.resource(v.Resource)
	if err != nil {
		return nil, err
	}
	layers := int(v.ArraySize)
	if layers == 0 {
		layers = int(r.desc.DepthOrArraySize) - int(v.FirstArraySlice)
	}
	first := int(v.FirstArraySlice)
	if first+layers > len(r.states) {
		return nil, invalid("view of %q selects layers %d..%d", r.label, first, first+layers)
	}
	for i := first; i < first+layers; i++ {
		if r.states[i] != gpucore.StatePixelShaderResource {
			return nil, invalid("%q sampled in state %s", r.label, r.states[i])
		}
	}
	size := int(r.desc.LayerSize())
	return &Texture{
		Width:  int(r.desc.Width),
		Height: int(r.desc.Height),
		Layers: layers,
		Format: r.desc.Format,
		Data:   r.mem[first*size : (first+layers)*size],
	}, nil
}

func (d *Device) fetch(st *execState, vertex int) ([]float32, error) {
	layout := st.pipeline.desc.InputLayout
	if len(layout) == 0 {
		return nil, nil
	}
	if st.vb == nil {
		return nil, invalid("draw without vertex buffer")
	}
	var attrs []float32
	base := int(st.vbOffset) + vertex*int(st.vbStride)
	for _, e := range layout {
		off := base + int(e.Offset)
		n := e.Format.Components()
		if off+n*4 > len(st.vb.mem) {
			return nil, invalid("vertex %d out of buffer bounds", vertex)
		}
		for k := 0; k < n; k++ {
			b := st.vb.mem[off+k*4 : off+k*4+4]
			attrs = append(attrs, float32frombytes(b))
		}
	}
	return attrs, nil
}

func (d *Device) draw(st *execState, c gpucore.CmdDraw) error {
	switch {
	case st.pipeline == nil:
		return invalid("draw without pipeline")
	case st.rt == nil:
		return invalid("draw without render target")
	case st.rt.states[0] != gpucore.StateRenderTarget:
		return invalid("render target %q in state %s", st.rt.label, st.rt.states[0])
	case st.topology != gpucore.TopologyTriangleList && st.topology != gpucore.TopologyTriangleStrip:
		return invalid("unsupported topology %d", st.topology)
	}
	b, err := d.bindings(st)
	if err != nil {
		return err
	}
	t := &target{
		mem:    st.rt.mem,
		width:  int(st.rt.desc.Width),
		height: int(st.rt.desc.Height),
		format: st.rt.desc.Format,
	}
	p := st.pipeline
	instances := max(c.InstanceCount, 1)
	for inst := uint32(0); inst < instances; inst++ {
		out := make([]Varyings, c.VertexCount)
		for i := range out {
			vi := int(c.FirstVertex) + i
			attrs, err := d.fetch(st, vi)
			if err != nil {
				return err
			}
			out[i] = p.vertex(vi, attrs, b)
		}
		for _, tri := range assemble(out, st.topology) {
			rasterTriangle(t, tri, st.viewport, st.scissor, p.pixel, b, p.desc.Blend)
		}
	}
	return nil
}

func assemble(v []Varyings, topo gpucore.Topology) [][3]Varyings {
	var tris [][3]Varyings
	switch topo {
	case gpucore.TopologyTriangleList:
		for i := 0; i+2 < len(v); i += 3 {
			tris = append(tris, [3]Varyings{v[i], v[i+1], v[i+2]})
		}
	case gpucore.TopologyTriangleStrip:
		for i := 0; i+2 < len(v); i++ {
			if i%2 == 0 {
				tris = append(tris, [3]Varyings{v[i], v[i+1], v[i+2]})
			} else {
				tris = append(tris, [3]Varyings{v[i+1], v[i], v[i+2]})
			}
		}
	}
	return tris
}
