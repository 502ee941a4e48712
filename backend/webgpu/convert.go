package webgpu

import (
	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gogpu/banding/internal/gpucore"
)

func formatToWGPU(f gpucore.Format) wgpu.TextureFormat {
	switch f {
	case gpucore.FormatBGRA8Unorm:
		return wgpu.TextureFormatBGRA8Unorm
	case gpucore.FormatRGBA8Unorm:
		return wgpu.TextureFormatRGBA8Unorm
	default:
		return wgpu.TextureFormatUndefined
	}
}

func formatFromWGPU(f wgpu.TextureFormat) (gpucore.Format, bool) {
	switch f {
	case wgpu.TextureFormatBGRA8Unorm:
		return gpucore.FormatBGRA8Unorm, true
	case wgpu.TextureFormatRGBA8Unorm:
		return gpucore.FormatRGBA8Unorm, true
	default:
		return gpucore.FormatUnknown, false
	}
}

// pickSurfaceFormat returns the first linear 8-bit format the surface
// supports. Dithering is computed in the shader, so sRGB formats that
// re-encode the output are skipped.
func pickSurfaceFormat(formats []wgpu.TextureFormat) (wgpu.TextureFormat, gpucore.Format, bool) {
	for _, f := range formats {
		if g, ok := formatFromWGPU(f); ok {
			return f, g, true
		}
	}
	return wgpu.TextureFormatUndefined, gpucore.FormatUnknown, false
}

func bufferUsage(heap gpucore.HeapType) wgpu.BufferUsage {
	if heap == gpucore.HeapReadback {
		return wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst
	}
	return wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst |
		wgpu.BufferUsageUniform | wgpu.BufferUsageVertex
}

func textureUsage(flags gpucore.ResourceFlags) wgpu.TextureUsage {
	u := wgpu.TextureUsageCopyDst | wgpu.TextureUsageCopySrc | wgpu.TextureUsageTextureBinding
	if flags&gpucore.FlagAllowRenderTarget != 0 {
		u |= wgpu.TextureUsageRenderAttachment
	}
	return u
}

func visibility(v gpucore.ShaderVisibility) wgpu.ShaderStage {
	switch v {
	case gpucore.VisibilityVertex:
		return wgpu.ShaderStageVertex
	case gpucore.VisibilityPixel:
		return wgpu.ShaderStageFragment
	default:
		return wgpu.ShaderStageVertex | wgpu.ShaderStageFragment
	}
}

func viewDimension(d gpucore.ViewDimension) wgpu.TextureViewDimension {
	if d == gpucore.ViewDimensionTexture2DArray {
		return wgpu.TextureViewDimension2DArray
	}
	return wgpu.TextureViewDimension2D
}

func layoutEntries(bindings []gpucore.Binding) []wgpu.BindGroupLayoutEntry {
	entries := make([]wgpu.BindGroupLayoutEntry, 0, len(bindings))
	for _, b := range bindings {
		e := wgpu.BindGroupLayoutEntry{Binding: b.Number, Visibility: visibility(b.Visibility)}
		switch b.Kind {
		case gpucore.BindingUniform:
			e.Buffer.Type = wgpu.BufferBindingTypeUniform
		case gpucore.BindingTexture:
			e.Texture.SampleType = wgpu.TextureSampleTypeFloat
			e.Texture.ViewDimension = viewDimension(b.Dimension)
		case gpucore.BindingSampler:
			e.Sampler.Type = wgpu.SamplerBindingTypeFiltering
		}
		entries = append(entries, e)
	}
	return entries
}

func vertexLayout(desc *gpucore.PipelineDesc) []wgpu.VertexBufferLayout {
	if len(desc.InputLayout) == 0 {
		return nil
	}
	attrs := make([]wgpu.VertexAttribute, len(desc.InputLayout))
	for i, el := range desc.InputLayout {
		f := wgpu.VertexFormatFloat32x4
		switch el.Format {
		case gpucore.VertexFloat2:
			f = wgpu.VertexFormatFloat32x2
		case gpucore.VertexFloat3:
			f = wgpu.VertexFormatFloat32x3
		}
		attrs[i] = wgpu.VertexAttribute{Format: f, Offset: uint64(el.Offset), ShaderLocation: uint32(i)}
	}
	return []wgpu.VertexBufferLayout{{
		ArrayStride: uint64(desc.Stride),
		StepMode:    wgpu.VertexStepModeVertex,
		Attributes:  attrs,
	}}
}

func primitive(desc *gpucore.PipelineDesc) wgpu.PrimitiveState {
	p := wgpu.PrimitiveState{
		Topology:  wgpu.PrimitiveTopologyTriangleList,
		FrontFace: wgpu.FrontFaceCW,
		CullMode:  wgpu.CullModeNone,
	}
	if desc.Topology == gpucore.TopologyTriangleStrip {
		p.Topology = wgpu.PrimitiveTopologyTriangleStrip
	}
	switch desc.CullMode {
	case gpucore.CullFront:
		p.CullMode = wgpu.CullModeFront
	case gpucore.CullBack:
		p.CullMode = wgpu.CullModeBack
	}
	return p
}

// premultiplied is source-over for premultiplied color.
var premultiplied = wgpu.BlendState{
	Color: wgpu.BlendComponent{
		Operation: wgpu.BlendOperationAdd,
		SrcFactor: wgpu.BlendFactorOne,
		DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
	},
	Alpha: wgpu.BlendComponent{
		Operation: wgpu.BlendOperationAdd,
		SrcFactor: wgpu.BlendFactorOne,
		DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
	},
}

func samplerDescriptor(s gpucore.StaticSampler) *wgpu.SamplerDescriptor {
	filter, mip := wgpu.FilterModeLinear, wgpu.MipmapFilterModeLinear
	if s.Filter == gpucore.FilterPoint {
		filter, mip = wgpu.FilterModeNearest, wgpu.MipmapFilterModeNearest
	}
	address := wgpu.AddressModeClampToEdge
	if s.Address == gpucore.AddressWrap {
		address = wgpu.AddressModeRepeat
	}
	return &wgpu.SamplerDescriptor{
		Label:         "static sampler",
		AddressModeU:  address,
		AddressModeV:  address,
		AddressModeW:  address,
		MagFilter:     filter,
		MinFilter:     filter,
		MipmapFilter:  mip,
		LodMinClamp:   0,
		LodMaxClamp:   32,
		MaxAnisotropy: 1,
	}
}
