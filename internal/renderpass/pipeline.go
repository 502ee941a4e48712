// Package renderpass builds the fullscreen banding pass: its root
// signature, its pipeline state and the per-frame command recording.
package renderpass

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/banding/internal/gpucore"
	"github.com/gogpu/banding/internal/resource"
	"github.com/gogpu/banding/internal/shader"
)

// ErrUnusableBytecode is returned when a pipeline is built from a shader
// blob that failed to compile.
var ErrUnusableBytecode = errors.New("renderpass: shader bytecode is not usable")

// Root parameter slots.
const (
	SlotConstants = 0
	SlotTextures  = 1
)

// RootSignature returns the binding layout of the banding pass: a root
// constant buffer, a table holding the single blue noise texture and the
// blue noise array, and a linear clamp sampler. All pixel visible.
func RootSignature(label string) *gpucore.RootSignatureDesc {
	return &gpucore.RootSignatureDesc{
		Label: label,
		Parameters: []gpucore.RootParameter{
			SlotConstants: {Kind: gpucore.RootCBV, Visibility: gpucore.VisibilityPixel},
			SlotTextures: {Kind: gpucore.RootTable, Visibility: gpucore.VisibilityPixel, Ranges: []gpucore.ViewDimension{
				gpucore.ViewDimensionTexture2D,
				gpucore.ViewDimensionTexture2DArray,
			}},
		},
		StaticSamplers: []gpucore.StaticSampler{
			{Filter: gpucore.FilterLinear, Address: gpucore.AddressClamp, Visibility: gpucore.VisibilityPixel},
		},
	}
}

// Fullscreen triangle in clip space. It covers the viewport with one
// primitive.
var fullscreenTriangle = [...]float32{
	-1, -1, 0,
	-1, 3, 0,
	3, -1, 0,
}

const vertexStride = 12

// Pipeline is the immutable state of the banding pass.
type Pipeline struct {
	Root  *gpucore.RootSignatureDesc
	State gpucore.PipelineID

	// VertexBuffer holds the fullscreen triangle.
	VertexBuffer gpucore.ResourceID

	res    *resource.Factory
	vs, ps gpucore.ShaderModuleID
}

// NewPipeline creates the pipeline state and vertex buffer from compiled
// VS and PS blobs. Invalid blobs are refused before anything is created.
func NewPipeline(res *resource.Factory, vs, ps *shader.Blob, format gpucore.Format) (*Pipeline, error) {
	if !vs.Valid() || !ps.Valid() {
		return nil, ErrUnusableBytecode
	}
	if vs.Stage != gpucore.StageVertex || ps.Stage != gpucore.StagePixel {
		return nil, fmt.Errorf("%w: stages %s/%s", ErrUnusableBytecode, vs.Stage, ps.Stage)
	}
	dev := res.Device()
	p := &Pipeline{res: res, Root: RootSignature(res.Name("Root Signature"))}

	var err error
	if p.vs, err = dev.CreateShaderModule(vs.ModuleDesc(res.Name("VS"))); err != nil {
		return nil, fmt.Errorf("create vertex shader: %w", err)
	}
	if p.ps, err = dev.CreateShaderModule(ps.ModuleDesc(res.Name("PS"))); err != nil {
		p.Release()
		return nil, fmt.Errorf("create pixel shader: %w", err)
	}
	p.State, err = dev.CreatePipeline(&gpucore.PipelineDesc{
		Label:         res.Name("PSO"),
		RootSignature: p.Root,
		VS:            p.vs,
		PS:            p.ps,
		InputLayout: []gpucore.InputElement{
			{Semantic: "POSITION", Format: gpucore.VertexFloat3},
		},
		Stride:             vertexStride,
		Topology:           gpucore.TopologyTriangleList,
		CullMode:           gpucore.CullNone,
		RenderTargetFormat: format,
		Blend:              gpucore.BlendOpaque,
	})
	if err != nil {
		p.Release()
		return nil, fmt.Errorf("create pipeline state: %w", err)
	}

	if err := p.createVertexBuffer(); err != nil {
		p.Release()
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) createVertexBuffer() error {
	size := uint64(len(fullscreenTriangle) * 4)
	id, err := p.res.CreateBuffer(size, 0, gpucore.HeapUpload, gpucore.FlagNone, gpucore.StateGenericRead,
		"Fullscreen Triangle")
	if err != nil {
		return fmt.Errorf("create vertex buffer: %w", err)
	}
	mem, err := p.res.Map(id)
	if err != nil {
		p.res.Destroy(id)
		return fmt.Errorf("map vertex buffer: %w", err)
	}
	for i, v := range fullscreenTriangle {
		binary.LittleEndian.PutUint32(mem[i*4:], math.Float32bits(v))
	}
	p.res.Unmap(id, gpucore.Range{})
	p.VertexBuffer = id
	return nil
}

// Release destroys the pipeline, its shader modules and the vertex buffer.
func (p *Pipeline) Release() {
	dev := p.res.Device()
	if p.VertexBuffer != gpucore.InvalidID {
		p.res.Destroy(p.VertexBuffer)
		p.VertexBuffer = gpucore.InvalidID
	}
	if p.State != gpucore.InvalidID {
		dev.DestroyPipeline(p.State)
		p.State = gpucore.InvalidID
	}
	if p.ps != gpucore.InvalidID {
		dev.DestroyShaderModule(p.ps)
		p.ps = gpucore.InvalidID
	}
	if p.vs != gpucore.InvalidID {
		dev.DestroyShaderModule(p.vs)
		p.vs = gpucore.InvalidID
	}
}
