package gpucore

import "fmt"

// FrameCount is the number of frames in flight, equal to the swap chain
// buffer count.
const FrameCount = 2

// HeapType selects where a committed resource lives.
type HeapType uint8

// Heap types.
const (
	// HeapDefault is GPU-local memory. Not CPU visible.
	HeapDefault HeapType = iota

	// HeapUpload is CPU-writable memory the GPU can read.
	HeapUpload

	// HeapReadback is GPU-writable memory the CPU can read.
	HeapReadback
)

// CPUVisible reports whether resources in this heap can be mapped.
func (h HeapType) CPUVisible() bool {
	return h == HeapUpload || h == HeapReadback
}

func (h HeapType) String() string {
	switch h {
	case HeapDefault:
		return "Default"
	case HeapUpload:
		return "Upload"
	case HeapReadback:
		return "Readback"
	default:
		return fmt.Sprintf("HeapType(%d)", h)
	}
}

// ResourceState is the usage state a resource is in on the GPU timeline.
// Transitions between states are recorded explicitly with barriers.
type ResourceState uint32

// Resource states.
const (
	// StateCommon is the state resources are created in by default.
	StateCommon ResourceState = iota

	// StateRenderTarget makes a texture writable as a color attachment.
	StateRenderTarget

	// StateCopyDest makes a resource the destination of copy commands.
	StateCopyDest

	// StateCopySource makes a resource the source of copy commands.
	StateCopySource

	// StatePixelShaderResource makes a texture readable from pixel shaders.
	StatePixelShaderResource

	// StateGenericRead is the required state of upload heap resources.
	StateGenericRead
)

// StatePresent is the state a swap chain buffer must be in to be presented.
const StatePresent = StateCommon

func (s ResourceState) String() string {
	switch s {
	case StateCommon:
		return "Common"
	case StateRenderTarget:
		return "RenderTarget"
	case StateCopyDest:
		return "CopyDest"
	case StateCopySource:
		return "CopySource"
	case StatePixelShaderResource:
		return "PixelShaderResource"
	case StateGenericRead:
		return "GenericRead"
	default:
		return fmt.Sprintf("ResourceState(%d)", s)
	}
}

// ResourceFlags are creation flags for committed resources.
type ResourceFlags uint32

// Resource flags.
const (
	FlagNone              ResourceFlags = 0
	FlagAllowRenderTarget ResourceFlags = 1 << 0
)

// Format is a texel format.
type Format uint32

// Formats.
const (
	FormatUnknown Format = iota
	// FormatRGBA8Unorm is 8-bit RGBA, normalized unsigned integer.
	FormatRGBA8Unorm
	// FormatBGRA8Unorm is 8-bit BGRA, normalized unsigned integer.
	FormatBGRA8Unorm
)

// BytesPerPixel returns the texel size in bytes, or 0 for FormatUnknown.
func (f Format) BytesPerPixel() uint32 {
	switch f {
	case FormatRGBA8Unorm, FormatBGRA8Unorm:
		return 4
	default:
		return 0
	}
}

func (f Format) String() string {
	switch f {
	case FormatUnknown:
		return "Unknown"
	case FormatRGBA8Unorm:
		return "RGBA8Unorm"
	case FormatBGRA8Unorm:
		return "BGRA8Unorm"
	default:
		return fmt.Sprintf("Format(%d)", f)
	}
}

// Dimension is the kind of a resource.
type Dimension uint8

// Resource dimensions.
const (
	DimensionBuffer Dimension = iota
	DimensionTexture2D
)

// DefaultPlacementAlignment is the placement alignment used when a resource
// description leaves Alignment at zero.
const DefaultPlacementAlignment = 64 * 1024

// ConstantBufferAlignment is the size granularity of constant buffers.
const ConstantBufferAlignment = 256

// RowPitchAlignment is the row pitch granularity of buffer footprints in
// texture to buffer copies.
const RowPitchAlignment = 256

// ResourceDesc describes a committed resource.
type ResourceDesc struct {
	Dimension Dimension

	// Alignment is the placement alignment in bytes. Zero selects
	// DefaultPlacementAlignment.
	Alignment uint64

	// Width is the size in bytes for buffers and in texels for textures.
	Width uint64

	// Height is 1 for buffers.
	Height uint32

	// DepthOrArraySize is the number of array layers for textures.
	DepthOrArraySize uint16

	MipLevels uint16
	Format    Format
	Flags     ResourceFlags
}

// BufferDesc returns the description of a buffer of size bytes.
func BufferDesc(size, alignment uint64, flags ResourceFlags) ResourceDesc {
	return ResourceDesc{
		Dimension:        DimensionBuffer,
		Alignment:        alignment,
		Width:            size,
		Height:           1,
		DepthOrArraySize: 1,
		MipLevels:        1,
		Format:           FormatUnknown,
		Flags:            flags,
	}
}

// Texture2DDesc returns the description of a 2D texture (array) with a
// single mip level.
func Texture2DDesc(width, height uint32, layers uint16, format Format, flags ResourceFlags) ResourceDesc {
	if layers == 0 {
		layers = 1
	}
	return ResourceDesc{
		Dimension:        DimensionTexture2D,
		Width:            uint64(width),
		Height:           height,
		DepthOrArraySize: layers,
		MipLevels:        1,
		Format:           format,
		Flags:            flags,
	}
}

// IsBuffer reports whether the description is a buffer.
func (d ResourceDesc) IsBuffer() bool { return d.Dimension == DimensionBuffer }

// SubresourceCount returns the number of independently addressable
// subresources: one for buffers, mips × layers for textures.
func (d ResourceDesc) SubresourceCount() uint32 {
	if d.IsBuffer() {
		return 1
	}
	mips := uint32(d.MipLevels)
	if mips == 0 {
		mips = 1
	}
	layers := uint32(d.DepthOrArraySize)
	if layers == 0 {
		layers = 1
	}
	return mips * layers
}

// LayerSize returns the tightly packed byte size of one texture layer.
// For buffers it returns Width.
func (d ResourceDesc) LayerSize() uint64 {
	if d.IsBuffer() {
		return d.Width
	}
	return d.Width * uint64(d.Height) * uint64(d.Format.BytesPerPixel())
}

// ByteSize returns the tightly packed byte size of the whole resource.
func (d ResourceDesc) ByteSize() uint64 {
	if d.IsBuffer() {
		return d.Width
	}
	return d.LayerSize() * uint64(d.SubresourceCount())
}

// AlignUp rounds v up to a multiple of align, which must be a power of two.
func AlignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// Range is a byte range inside a mapped resource. The zero Range means the
// whole resource.
type Range struct {
	Begin, End uint64
}

// Whole reports whether r covers the entire resource.
func (r Range) Whole() bool { return r.Begin == 0 && r.End == 0 }

// ViewKind is the kind of a descriptor.
type ViewKind uint8

// View kinds.
const (
	ViewNone ViewKind = iota
	ViewRTV
	ViewSRV
	ViewCBV
)

// ViewDimension is the shader-visible shape of a view.
type ViewDimension uint8

// View dimensions.
const (
	ViewDimensionUnknown ViewDimension = iota
	ViewDimensionBuffer
	ViewDimensionTexture2D
	ViewDimensionTexture2DArray
)

func (d ViewDimension) String() string {
	switch d {
	case ViewDimensionBuffer:
		return "Buffer"
	case ViewDimensionTexture2D:
		return "Texture2D"
	case ViewDimensionTexture2DArray:
		return "Texture2DArray"
	default:
		return "Unknown"
	}
}

// View is the content of a descriptor slot.
type View struct {
	Kind      ViewKind
	Resource  ResourceID
	Format    Format
	Dimension ViewDimension

	// FirstArraySlice and ArraySize select layers of array views.
	FirstArraySlice uint32
	ArraySize       uint32
}

// Valid reports whether the view points at a resource.
func (v View) Valid() bool { return v.Kind != ViewNone && v.Resource != InvalidID }

// ShaderVisibility restricts which stages see a root parameter.
type ShaderVisibility uint8

// Shader visibilities.
const (
	VisibilityAll ShaderVisibility = iota
	VisibilityVertex
	VisibilityPixel
)

// RootParameterKind is the kind of a root signature slot.
type RootParameterKind uint8

// Root parameter kinds.
const (
	// RootCBV binds a constant buffer address directly in the root.
	RootCBV RootParameterKind = iota

	// RootTable binds a contiguous run of shader resource views.
	RootTable
)

// RootParameter is one slot of a root signature.
type RootParameter struct {
	Kind       RootParameterKind
	Visibility ShaderVisibility

	// Ranges lists the view dimension of every descriptor in a RootTable,
	// in table order. Ignored for RootCBV.
	Ranges []ViewDimension
}

// Filter is a sampler filter.
type Filter uint8

// Sampler filters.
const (
	FilterLinear Filter = iota
	FilterPoint
)

// AddressMode is a sampler address mode.
type AddressMode uint8

// Sampler address modes.
const (
	AddressClamp AddressMode = iota
	AddressWrap
)

// StaticSampler is a sampler baked into the root signature.
type StaticSampler struct {
	Filter     Filter
	Address    AddressMode
	Visibility ShaderVisibility
}

// RootSignatureDesc describes the binding interface between a command list
// and a pipeline.
type RootSignatureDesc struct {
	Label          string
	Parameters     []RootParameter
	StaticSamplers []StaticSampler
}

// BindingKind is the shader-side kind of a binding slot.
type BindingKind uint8

// Binding kinds.
const (
	BindingUniform BindingKind = iota
	BindingTexture
	BindingSampler
)

// Binding is one flattened shader binding of a root signature.
type Binding struct {
	// Number is the WGSL @binding index in group 0.
	Number     uint32
	Kind       BindingKind
	Dimension  ViewDimension
	Visibility ShaderVisibility

	// Parameter is the root parameter index, or -1 for static samplers.
	Parameter int

	// Index is the descriptor index within a table, or the static sampler
	// index.
	Index int
}

// Bindings flattens the root signature into shader binding numbers.
// Numbers are assigned sequentially: root parameters in order (each table
// descriptor gets its own number), then static samplers.
func (d *RootSignatureDesc) Bindings() []Binding {
	var out []Binding
	n := uint32(0)
	for pi, p := range d.Parameters {
		switch p.Kind {
		case RootCBV:
			out = append(out, Binding{Number: n, Kind: BindingUniform, Dimension: ViewDimensionBuffer,
				Visibility: p.Visibility, Parameter: pi})
			n++
		case RootTable:
			for ri, dim := range p.Ranges {
				out = append(out, Binding{Number: n, Kind: BindingTexture, Dimension: dim,
					Visibility: p.Visibility, Parameter: pi, Index: ri})
				n++
			}
		}
	}
	for si, s := range d.StaticSamplers {
		out = append(out, Binding{Number: n, Kind: BindingSampler, Visibility: s.Visibility,
			Parameter: -1, Index: si})
		n++
	}
	return out
}

// ShaderStage identifies a programmable stage.
type ShaderStage uint8

// Shader stages.
const (
	StageVertex ShaderStage = iota
	StagePixel
)

func (s ShaderStage) String() string {
	if s == StageVertex {
		return "vertex"
	}
	return "pixel"
}

// ShaderModuleDesc describes a compiled shader entry point.
// Backends pick the representation they consume.
type ShaderModuleDesc struct {
	Label      string
	Stage      ShaderStage
	EntryPoint string
	WGSL       string
	SPIRV      []uint32
	HLSL       string
}

// VertexFormat is the format of one vertex attribute.
type VertexFormat uint8

// Vertex formats.
const (
	VertexFloat2 VertexFormat = iota
	VertexFloat3
	VertexFloat4
)

// Size returns the attribute size in bytes.
func (f VertexFormat) Size() uint32 {
	switch f {
	case VertexFloat2:
		return 8
	case VertexFloat3:
		return 12
	default:
		return 16
	}
}

// Components returns the number of float components.
func (f VertexFormat) Components() int {
	return int(f.Size() / 4)
}

// InputElement is one entry of a pipeline input layout.
type InputElement struct {
	Semantic string
	Format   VertexFormat
	Offset   uint32
}

// Topology is the primitive topology.
type Topology uint8

// Primitive topologies.
const (
	TopologyUndefined Topology = iota
	TopologyTriangleList
	TopologyTriangleStrip
)

// CullMode selects which faces are discarded.
type CullMode uint8

// Cull modes.
const (
	CullNone CullMode = iota
	CullFront
	CullBack
)

// BlendMode is the color blend state of the single render target.
type BlendMode uint8

// Blend modes.
const (
	// BlendOpaque writes source color unchanged.
	BlendOpaque BlendMode = iota

	// BlendAlpha composites premultiplied source over destination.
	BlendAlpha
)

// PipelineDesc describes a graphics pipeline state object.
type PipelineDesc struct {
	Label         string
	RootSignature *RootSignatureDesc
	VS            ShaderModuleID
	PS            ShaderModuleID

	InputLayout []InputElement
	Stride      uint32

	Topology           Topology
	CullMode           CullMode
	RenderTargetFormat Format
	Blend              BlendMode
}

// Viewport is a rasterizer viewport in pixels.
type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// Rect is a scissor rectangle in pixels; Right and Bottom are exclusive.
type Rect struct {
	Left, Top, Right, Bottom int32
}

// Width returns the rectangle width.
func (r Rect) Width() int32 { return r.Right - r.Left }

// Height returns the rectangle height.
func (r Rect) Height() int32 { return r.Bottom - r.Top }

// PlacedFootprint describes row-major texel data inside a buffer.
type PlacedFootprint struct {
	Offset   uint64
	Format   Format
	Width    uint32
	Height   uint32
	Depth    uint32
	RowPitch uint32
}

// AdapterInfo describes the adapter behind a device.
type AdapterInfo struct {
	Name       string
	Vendor     string
	Backend    string
	DeviceType string
}
