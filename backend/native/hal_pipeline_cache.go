//go:build !nogpu

package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/banding/internal/gpucore"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

type shaderModule struct {
	desc gpucore.ShaderModuleDesc
	hal  hal.ShaderModule
}

// pipelineState is a render pipeline together with the bind group layout
// derived from its root signature. Bind groups are cached per distinct set
// of bound resources.
type pipelineState struct {
	desc     gpucore.PipelineDesc
	bindings []gpucore.Binding

	layout     hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.RenderPipeline

	groups map[groupKey]hal.BindGroup
}

// groupKey identifies the resources a bind group points at.
type groupKey struct {
	cbvs  [maxRootCBVs]cbvBinding
	views [maxTableViews]gpucore.View
}

// Limits of a cached bind group.
const (
	maxRootCBVs   = 4
	maxTableViews = 8
)

type cbvBinding struct {
	buffer gpucore.ResourceID
	offset uint64
}

// CreateShaderModule creates a hal module from WGSL, falling back to the
// SPIR-V words.
func (d *Device) CreateShaderModule(desc *gpucore.ShaderModuleDesc) (gpucore.ShaderModuleID, error) {
	src := hal.ShaderSource{WGSL: desc.WGSL}
	if desc.WGSL == "" {
		if len(desc.SPIRV) == 0 {
			return gpucore.InvalidID, fmt.Errorf("native: shader %q has no source", desc.Label)
		}
		src = hal.ShaderSource{SPIRV: desc.SPIRV}
	}
	m, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  d.label(desc.Label),
		Source: src,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create shader module %q: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.modules.Insert(&shaderModule{desc: *desc, hal: m}), nil
}

// DestroyShaderModule releases a shader module.
func (d *Device) DestroyShaderModule(id gpucore.ShaderModuleID) {
	d.mu.Lock()
	m, ok := d.modules.Remove(id)
	d.mu.Unlock()
	if ok {
		d.device.DestroyShaderModule(m.hal)
	}
}

func visibility(v gpucore.ShaderVisibility) gputypes.ShaderStage {
	switch v {
	case gpucore.VisibilityVertex:
		return gputypes.ShaderStageVertex
	case gpucore.VisibilityPixel:
		return gputypes.ShaderStageFragment
	default:
		return gputypes.ShaderStageVertex | gputypes.ShaderStageFragment
	}
}

func layoutEntries(bindings []gpucore.Binding) []gputypes.BindGroupLayoutEntry {
	entries := make([]gputypes.BindGroupLayoutEntry, 0, len(bindings))
	for _, b := range bindings {
		e := gputypes.BindGroupLayoutEntry{Binding: b.Number, Visibility: visibility(b.Visibility)}
		switch b.Kind {
		case gpucore.BindingUniform:
			e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
		case gpucore.BindingTexture:
			dim := gputypes.TextureViewDimension2D
			if b.Dimension == gpucore.ViewDimensionTexture2DArray {
				dim = gputypes.TextureViewDimension2DArray
			}
			e.Texture = &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: dim,
			}
		case gpucore.BindingSampler:
			e.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
		}
		entries = append(entries, e)
	}
	return entries
}

func vertexFormat(f gpucore.VertexFormat) gputypes.VertexFormat {
	switch f {
	case gpucore.VertexFloat2:
		return gputypes.VertexFormatFloat32x2
	case gpucore.VertexFloat3:
		return gputypes.VertexFormatFloat32x3
	default:
		return gputypes.VertexFormatFloat32x4
	}
}

func vertexLayout(desc *gpucore.PipelineDesc) []gputypes.VertexBufferLayout {
	if len(desc.InputLayout) == 0 {
		return nil
	}
	attrs := make([]gputypes.VertexAttribute, len(desc.InputLayout))
	for i, el := range desc.InputLayout {
		attrs[i] = gputypes.VertexAttribute{Format: vertexFormat(el.Format), Offset: uint64(el.Offset), ShaderLocation: uint32(i)}
	}
	return []gputypes.VertexBufferLayout{{
		ArrayStride: uint64(desc.Stride),
		StepMode:    gputypes.VertexStepModeVertex,
		Attributes:  attrs,
	}}
}

func primitive(desc *gpucore.PipelineDesc) gputypes.PrimitiveState {
	p := gputypes.PrimitiveState{Topology: gputypes.PrimitiveTopologyTriangleList, CullMode: gputypes.CullModeNone}
	if desc.Topology == gpucore.TopologyTriangleStrip {
		p.Topology = gputypes.PrimitiveTopologyTriangleStrip
	}
	switch desc.CullMode {
	case gpucore.CullFront:
		p.CullMode = gputypes.CullModeFront
	case gpucore.CullBack:
		p.CullMode = gputypes.CullModeBack
	}
	return p
}

// CreatePipeline builds the bind group layout, pipeline layout and render
// pipeline of desc.
func (d *Device) CreatePipeline(desc *gpucore.PipelineDesc) (gpucore.PipelineID, error) {
	if desc.RootSignature == nil {
		return gpucore.InvalidID, errors.New("native: pipeline without root signature")
	}
	d.mu.Lock()
	vs, ok1 := d.modules.Get(desc.VS)
	ps, ok2 := d.modules.Get(desc.PS)
	d.mu.Unlock()
	if !ok1 || !ok2 {
		return gpucore.InvalidID, fmt.Errorf("%w: pipeline %q shader modules", gpucore.ErrInvalidID, desc.Label)
	}

	root := *desc.RootSignature
	p := &pipelineState{desc: *desc, bindings: root.Bindings(), groups: make(map[groupKey]hal.BindGroup)}
	p.desc.RootSignature = &root

	var err error
	p.layout, err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   d.label(root.Label),
		Entries: layoutEntries(p.bindings),
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: bind group layout %q: %w", root.Label, err)
	}
	p.pipeLayout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            d.label(desc.Label + " layout"),
		BindGroupLayouts: []hal.BindGroupLayout{p.layout},
	})
	if err != nil {
		d.destroyPipeline(p)
		return gpucore.InvalidID, fmt.Errorf("native: pipeline layout %q: %w", desc.Label, err)
	}

	target := gputypes.ColorTargetState{
		Format:    formatToHAL(desc.RenderTargetFormat),
		WriteMask: gputypes.ColorWriteMaskAll,
	}
	if desc.Blend == gpucore.BlendAlpha {
		premul := gputypes.BlendStatePremultiplied()
		target.Blend = &premul
	}
	p.pipeline, err = d.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  d.label(desc.Label),
		Layout: p.pipeLayout,
		Vertex: hal.VertexState{
			Module:     vs.hal,
			EntryPoint: vs.desc.EntryPoint,
			Buffers:    vertexLayout(desc),
		},
		Fragment: &hal.FragmentState{
			Module:     ps.hal,
			EntryPoint: ps.desc.EntryPoint,
			Targets:    []gputypes.ColorTargetState{target},
		},
		Primitive: primitive(desc),
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		d.destroyPipeline(p)
		return gpucore.InvalidID, fmt.Errorf("native: render pipeline %q: %w", desc.Label, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pipelines.Insert(p), nil
}

func (d *Device) destroyPipeline(p *pipelineState) {
	for _, g := range p.groups {
		d.device.DestroyBindGroup(g)
	}
	p.groups = nil
	if p.pipeline != nil {
		d.device.DestroyRenderPipeline(p.pipeline)
	}
	if p.pipeLayout != nil {
		d.device.DestroyPipelineLayout(p.pipeLayout)
	}
	if p.layout != nil {
		d.device.DestroyBindGroupLayout(p.layout)
	}
}

// DestroyPipeline releases a pipeline and its cached bind groups.
func (d *Device) DestroyPipeline(id gpucore.PipelineID) {
	d.mu.Lock()
	p, ok := d.pipelines.Remove(id)
	d.mu.Unlock()
	if ok {
		d.destroyPipeline(p)
	}
}

func (d *Device) sampler(s gpucore.StaticSampler) (hal.Sampler, error) {
	if hs, ok := d.samplers[s]; ok {
		return hs, nil
	}
	filter := gputypes.FilterModeLinear
	if s.Filter == gpucore.FilterPoint {
		filter = gputypes.FilterModeNearest
	}
	address := gputypes.AddressModeClampToEdge
	if s.Address == gpucore.AddressWrap {
		address = gputypes.AddressModeRepeat
	}
	hs, err := d.device.CreateSampler(&hal.SamplerDescriptor{
		Label:        d.label("static sampler"),
		AddressModeU: address,
		AddressModeV: address,
		AddressModeW: address,
		MagFilter:    filter,
		MinFilter:    filter,
		MipmapFilter: filter,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create sampler: %w", err)
	}
	d.samplers[s] = hs
	return hs, nil
}

// bindGroup returns the bind group for the root bindings currently set on
// an encoder, creating it on first use.
func (d *Device) bindGroup(p *pipelineState, cbvs map[uint32]cbvBinding, tables map[uint32][]gpucore.View) (hal.BindGroup, error) {
	var key groupKey
	entries := make([]gputypes.BindGroupEntry, 0, len(p.bindings))
	nc, nv := 0, 0
	for _, b := range p.bindings {
		switch b.Kind {
		case gpucore.BindingUniform:
			c, ok := cbvs[uint32(b.Parameter)]
			if !ok {
				return nil, fmt.Errorf("%w: root parameter %d unset", ErrNoPipeline, b.Parameter)
			}
			r, err := d.resource(c.buffer)
			if err != nil {
				return nil, err
			}
			if nc == maxRootCBVs {
				return nil, fmt.Errorf("%w: more than %d root constant buffers", gpucore.ErrUnsupported, maxRootCBVs)
			}
			key.cbvs[nc] = c
			nc++
			entries = append(entries, gputypes.BindGroupEntry{Binding: b.Number, Resource: gputypes.BufferBinding{
				Buffer: r.buffer.NativeHandle(), Offset: c.offset,
				Size: r.desc.Width - c.offset,
			}})
		case gpucore.BindingTexture:
			views := tables[uint32(b.Parameter)]
			if b.Index >= len(views) || !views[b.Index].Valid() {
				return nil, fmt.Errorf("%w: table %d slot %d unset", ErrNoPipeline, b.Parameter, b.Index)
			}
			v := views[b.Index]
			hv, err := d.view(v)
			if err != nil {
				return nil, err
			}
			if nv == maxTableViews {
				return nil, fmt.Errorf("%w: more than %d table views", gpucore.ErrUnsupported, maxTableViews)
			}
			key.views[nv] = v
			nv++
			entries = append(entries, gputypes.BindGroupEntry{Binding: b.Number,
				Resource: gputypes.TextureViewBinding{TextureView: hv.NativeHandle()}})
		case gpucore.BindingSampler:
			hs, err := d.sampler(p.desc.RootSignature.StaticSamplers[b.Index])
			if err != nil {
				return nil, err
			}
			entries = append(entries, gputypes.BindGroupEntry{Binding: b.Number,
				Resource: gputypes.SamplerBinding{Sampler: hs.NativeHandle()}})
		}
	}

	if g, ok := p.groups[key]; ok {
		return g, nil
	}
	g, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   d.label(p.desc.Label + " bindings"),
		Layout:  p.layout,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create bind group: %w", err)
	}
	p.groups[key] = g
	return g, nil
}
