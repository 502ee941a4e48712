package webgpu

import (
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gogpu/banding/internal/gpucore"
)

type shaderModule struct {
	desc   gpucore.ShaderModuleDesc
	module *wgpu.ShaderModule
}

type pipelineState struct {
	desc     gpucore.PipelineDesc
	bindings []gpucore.Binding

	layout     *wgpu.BindGroupLayout
	pipeLayout *wgpu.PipelineLayout
	pipeline   *wgpu.RenderPipeline

	groups map[groupKey]*wgpu.BindGroup
}

type groupKey struct {
	cbvs  [maxRootCBVs]cbvBinding
	views [maxTableViews]viewRef
}

// viewRef identifies a bound view. Surface buffers also carry the frame
// they were acquired in, since their texture changes every present.
type viewRef struct {
	view  gpucore.View
	frame uint64
}

const (
	maxRootCBVs   = 4
	maxTableViews = 8
)

type cbvBinding struct {
	buffer gpucore.ResourceID
	offset uint64
}

// CreateShaderModule compiles WGSL source. SPIR-V input is not accepted
// by the surface device.
func (d *Device) CreateShaderModule(desc *gpucore.ShaderModuleDesc) (gpucore.ShaderModuleID, error) {
	if desc.WGSL == "" {
		return gpucore.InvalidID, fmt.Errorf("%w: shader %q has no WGSL source", gpucore.ErrUnsupported, desc.Label)
	}
	m, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          d.label(desc.Label),
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: desc.WGSL},
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("webgpu: create shader module %q: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.modules.Insert(&shaderModule{desc: *desc, module: m}), nil
}

// DestroyShaderModule releases a shader module.
func (d *Device) DestroyShaderModule(id gpucore.ShaderModuleID) {
	d.mu.Lock()
	m, ok := d.modules.Remove(id)
	d.mu.Unlock()
	if ok {
		m.module.Release()
	}
}

// CreatePipeline builds the bind group layout, pipeline layout and render
// pipeline of desc.
func (d *Device) CreatePipeline(desc *gpucore.PipelineDesc) (gpucore.PipelineID, error) {
	if desc.RootSignature == nil {
		return gpucore.InvalidID, errors.New("webgpu: pipeline without root signature")
	}
	d.mu.Lock()
	vs, ok1 := d.modules.Get(desc.VS)
	ps, ok2 := d.modules.Get(desc.PS)
	d.mu.Unlock()
	if !ok1 || !ok2 {
		return gpucore.InvalidID, fmt.Errorf("%w: pipeline %q shader modules", gpucore.ErrInvalidID, desc.Label)
	}

	root := *desc.RootSignature
	p := &pipelineState{desc: *desc, bindings: root.Bindings(), groups: make(map[groupKey]*wgpu.BindGroup)}
	p.desc.RootSignature = &root

	var err error
	p.layout, err = d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   d.label(root.Label),
		Entries: layoutEntries(p.bindings),
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("webgpu: bind group layout %q: %w", root.Label, err)
	}
	p.pipeLayout, err = d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            d.label(desc.Label + " layout"),
		BindGroupLayouts: []*wgpu.BindGroupLayout{p.layout},
	})
	if err != nil {
		p.release()
		return gpucore.InvalidID, fmt.Errorf("webgpu: pipeline layout %q: %w", desc.Label, err)
	}

	target := wgpu.ColorTargetState{
		Format:    formatToWGPU(desc.RenderTargetFormat),
		WriteMask: wgpu.ColorWriteMaskAll,
	}
	if desc.Blend == gpucore.BlendAlpha {
		blend := premultiplied
		target.Blend = &blend
	}
	p.pipeline, err = d.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  d.label(desc.Label),
		Layout: p.pipeLayout,
		Vertex: wgpu.VertexState{
			Module:     vs.module,
			EntryPoint: vs.desc.EntryPoint,
			Buffers:    vertexLayout(desc),
		},
		Fragment: &wgpu.FragmentState{
			Module:     ps.module,
			EntryPoint: ps.desc.EntryPoint,
			Targets:    []wgpu.ColorTargetState{target},
		},
		Primitive: primitive(desc),
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		p.release()
		return gpucore.InvalidID, fmt.Errorf("webgpu: render pipeline %q: %w", desc.Label, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pipelines.Insert(p), nil
}

func (p *pipelineState) release() {
	for _, g := range p.groups {
		g.Release()
	}
	p.groups = nil
	if p.pipeline != nil {
		p.pipeline.Release()
	}
	if p.pipeLayout != nil {
		p.pipeLayout.Release()
	}
	if p.layout != nil {
		p.layout.Release()
	}
}

// dropFrameGroups releases bind groups that reference a surface texture
// of an earlier frame.
func (p *pipelineState) dropFrameGroups(frame uint64) {
	for k, g := range p.groups {
		for _, v := range k.views {
			if v.frame != 0 && v.frame < frame {
				g.Release()
				delete(p.groups, k)
				break
			}
		}
	}
}

// DestroyPipeline releases a pipeline and its bind groups.
func (d *Device) DestroyPipeline(id gpucore.PipelineID) {
	d.mu.Lock()
	p, ok := d.pipelines.Remove(id)
	d.mu.Unlock()
	if ok {
		p.release()
	}
}

func (d *Device) sampler(s gpucore.StaticSampler) (*wgpu.Sampler, error) {
	if ws, ok := d.samplers[s]; ok {
		return ws, nil
	}
	ws, err := d.device.CreateSampler(samplerDescriptor(s))
	if err != nil {
		return nil, fmt.Errorf("webgpu: create sampler: %w", err)
	}
	d.samplers[s] = ws
	return ws, nil
}

func (d *Device) bindGroup(p *pipelineState, cbvs map[uint32]cbvBinding, tables map[uint32][]gpucore.View) (*wgpu.BindGroup, error) {
	var key groupKey
	entries := make([]wgpu.BindGroupEntry, 0, len(p.bindings))
	nc, nv := 0, 0
	for _, b := range p.bindings {
		switch b.Kind {
		case gpucore.BindingUniform:
			c, ok := cbvs[uint32(b.Parameter)]
			if !ok {
				return nil, fmt.Errorf("%w: root parameter %d unset", ErrDrawState, b.Parameter)
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
			entries = append(entries, wgpu.BindGroupEntry{
				Binding: b.Number,
				Buffer:  r.buffer,
				Offset:  c.offset,
				Size:    r.desc.Width - c.offset,
			})
		case gpucore.BindingTexture:
			views := tables[uint32(b.Parameter)]
			if b.Index >= len(views) || !views[b.Index].Valid() {
				return nil, fmt.Errorf("%w: table %d slot %d unset", ErrDrawState, b.Parameter, b.Index)
			}
			v := views[b.Index]
			tv, frame, err := d.view(v)
			if err != nil {
				return nil, err
			}
			if nv == maxTableViews {
				return nil, fmt.Errorf("%w: more than %d table views", gpucore.ErrUnsupported, maxTableViews)
			}
			key.views[nv] = viewRef{view: v, frame: frame}
			nv++
			entries = append(entries, wgpu.BindGroupEntry{Binding: b.Number, TextureView: tv})
		case gpucore.BindingSampler:
			ws, err := d.sampler(p.desc.RootSignature.StaticSamplers[b.Index])
			if err != nil {
				return nil, err
			}
			entries = append(entries, wgpu.BindGroupEntry{Binding: b.Number, Sampler: ws})
		}
	}

	if g, ok := p.groups[key]; ok {
		return g, nil
	}
	g, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   d.label(p.desc.Label + " bindings"),
		Layout:  p.layout,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("webgpu: create bind group: %w", err)
	}
	p.groups[key] = g
	return g, nil
}
