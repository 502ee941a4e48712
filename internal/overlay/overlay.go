// Package overlay draws the on-screen stats panel.
//
// The panel is rendered on the CPU with gg, uploaded into a texture through
// the upload protocol and composited over the back buffer by a small
// textured-quad pipeline. Prepare records the upload before the frame's
// barrier-in; Draw is a renderpass hook recorded while the back buffer is
// a render target.
package overlay

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/gogpu/banding/internal/cmdlist"
	"github.com/gogpu/banding/internal/descriptor"
	"github.com/gogpu/banding/internal/frame"
	"github.com/gogpu/banding/internal/gpucore"
	"github.com/gogpu/banding/internal/renderpass"
	"github.com/gogpu/banding/internal/resource"
	"github.com/gogpu/banding/internal/shader"
	"github.com/gogpu/banding/internal/upload"
	"github.com/gogpu/banding/shaders"
)

// ErrClosed is returned when using a closed overlay.
var ErrClosed = errors.New("overlay: closed")

// Option configures an Overlay.
type Option func(*Overlay)

// WithLogger sets the logger font fallbacks are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(o *Overlay) { o.log = gpucore.LoggerOr(l) }
}

// WithFont loads the panel font from a TTF/OTF file instead of the
// embedded Go Regular face.
func WithFont(path string) Option {
	return func(o *Overlay) { o.fontPath = path }
}

// WithPosition sets the top-left corner of the panel in pixels.
func WithPosition(x, y float32) Option {
	return func(o *Overlay) { o.x, o.y = x, y }
}

// Overlay is the stats panel renderer.
type Overlay struct {
	res   *resource.Factory
	heap  *descriptor.Heap
	table descriptor.GPUHandle
	log   *slog.Logger

	fontPath string
	x, y     float32

	painter *painter
	texture gpucore.ResourceID
	staging frame.Ring[gpucore.ResourceID]
	cb      *resource.ConstantBuffer

	root     *gpucore.RootSignatureDesc
	vs, ps   gpucore.ShaderModuleID
	pipeline gpucore.PipelineID

	screenW, screenH uint32
	closed           bool
}

func rootSignature(label string) *gpucore.RootSignatureDesc {
	return &gpucore.RootSignatureDesc{
		Label: label,
		Parameters: []gpucore.RootParameter{
			{Kind: gpucore.RootCBV, Visibility: gpucore.VisibilityAll},
			{Kind: gpucore.RootTable, Visibility: gpucore.VisibilityPixel,
				Ranges: []gpucore.ViewDimension{gpucore.ViewDimensionTexture2D}},
		},
		StaticSamplers: []gpucore.StaticSampler{
			{Filter: gpucore.FilterPoint, Address: gpucore.AddressClamp, Visibility: gpucore.VisibilityPixel},
		},
	}
}

// New creates the overlay resources. heap is the overlay descriptor heap;
// its single slot receives the panel texture view.
func New(res *resource.Factory, heap *descriptor.Heap, format gpucore.Format, screenW, screenH uint32,
	opts ...Option) (*Overlay, error) {
	o := &Overlay{res: res, heap: heap, log: gpucore.NopLogger(), x: 10, y: 10, screenW: screenW, screenH: screenH}
	for _, opt := range opts {
		opt(o)
	}

	p, err := newPainter(o.fontPath)
	if err != nil {
		o.log.Warn("overlay: font unavailable, using basicfont", "font", o.fontPath, "err", err)
	}
	o.painter = p

	if err := o.createResources(); err != nil {
		o.Close()
		return nil, err
	}
	if err := o.createPipeline(format); err != nil {
		o.Close()
		return nil, err
	}
	o.writeConstants()
	return o, nil
}

func (o *Overlay) createResources() error {
	var err error
	o.texture, err = o.res.CreateTexture2D(PanelWidth, PanelHeight, 1, gpucore.FormatRGBA8Unorm,
		gpucore.FlagNone, gpucore.StateCopyDest, "Overlay Panel")
	if err != nil {
		return fmt.Errorf("overlay texture: %w", err)
	}
	size := uint64(PanelWidth * PanelHeight * 4)
	var stageErr error
	o.staging.Each(func(i uint32, id *gpucore.ResourceID) {
		if stageErr != nil {
			return
		}
		*id, stageErr = o.res.CreateBuffer(size, 0, gpucore.HeapUpload, gpucore.FlagNone,
			gpucore.StateGenericRead, fmt.Sprintf("Overlay Staging%d", i))
	})
	if stageErr != nil {
		return fmt.Errorf("overlay staging: %w", stageErr)
	}
	if o.cb, err = o.res.CreateConstantBuffer(32, "Overlay Constants"); err != nil {
		return fmt.Errorf("overlay constants: %w", err)
	}

	slot, err := o.heap.Allocate()
	if err != nil {
		return fmt.Errorf("overlay descriptor: %w", err)
	}
	if err := o.heap.Write(slot, gpucore.View{
		Kind:      gpucore.ViewSRV,
		Resource:  o.texture,
		Format:    gpucore.FormatRGBA8Unorm,
		Dimension: gpucore.ViewDimensionTexture2D,
	}); err != nil {
		return fmt.Errorf("overlay descriptor: %w", err)
	}
	o.table = o.heap.GPUStart()
	return nil
}

func (o *Overlay) createPipeline(format gpucore.Format) error {
	vs, err := shader.Compile(shaders.Overlay, shaders.OverlayVS, shader.ProfileVS60)
	if err != nil {
		return err
	}
	ps, err := shader.Compile(shaders.Overlay, shaders.OverlayPS, shader.ProfilePS60)
	if err != nil {
		return err
	}
	dev := o.res.Device()
	o.root = rootSignature(o.res.Name("Overlay Root Signature"))
	if o.vs, err = dev.CreateShaderModule(vs.ModuleDesc(o.res.Name("OverlayVS"))); err != nil {
		return fmt.Errorf("overlay vertex shader: %w", err)
	}
	if o.ps, err = dev.CreateShaderModule(ps.ModuleDesc(o.res.Name("OverlayPS"))); err != nil {
		return fmt.Errorf("overlay pixel shader: %w", err)
	}
	o.pipeline, err = dev.CreatePipeline(&gpucore.PipelineDesc{
		Label:              o.res.Name("Overlay PSO"),
		RootSignature:      o.root,
		VS:                 o.vs,
		PS:                 o.ps,
		Topology:           gpucore.TopologyTriangleStrip,
		CullMode:           gpucore.CullNone,
		RenderTargetFormat: format,
		Blend:              gpucore.BlendAlpha,
	})
	if err != nil {
		return fmt.Errorf("overlay pipeline: %w", err)
	}
	return nil
}

func (o *Overlay) writeConstants() {
	var b [32]byte
	for i, v := range []float32{o.x, o.y, PanelWidth, PanelHeight, float32(o.screenW), float32(o.screenH)} {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	o.cb.Write(b[:])
}

// Texture returns the panel texture.
func (o *Overlay) Texture() gpucore.ResourceID { return o.texture }

// Prepare paints s and records its upload into the panel texture using the
// staging buffer of frame slot index. It must be recorded outside any
// render target transition of the back buffer.
func (o *Overlay) Prepare(list *cmdlist.List, index uint32, s Stats) error {
	if o.closed {
		return ErrClosed
	}
	img := o.painter.paint(s)

	state, err := list.ResourceState(o.texture)
	if err != nil {
		return err
	}
	if state != gpucore.StateCopyDest {
		list.ResourceBarrier(gpucore.Transition{Resource: o.texture, Subresource: gpucore.AllSubresources,
			Before: state, After: gpucore.StateCopyDest})
	}
	src := upload.Image{Pixels: img.Pix, Width: PanelWidth, Height: PanelHeight, Stride: 4}
	if err := upload.UploadTexture(list, o.res, o.texture, *o.staging.At(index), src, 0); err != nil {
		return fmt.Errorf("overlay upload: %w", err)
	}
	return upload.Finish(list, o.texture, gpucore.StatePixelShaderResource)
}

// Draw records the panel quad. It has the renderpass.Hook signature.
func (o *Overlay) Draw(list *cmdlist.List, t renderpass.Target) {
	if o.closed {
		return
	}
	if t.Width != o.screenW || t.Height != o.screenH {
		o.screenW, o.screenH = t.Width, t.Height
		o.writeConstants()
	}
	list.SetDescriptorHeaps(o.heap)
	list.SetGraphicsRootSignature(o.root)
	list.SetGraphicsRootConstantBufferView(0, o.cb.ID, 0)
	list.SetGraphicsRootDescriptorTable(1, o.table)
	list.SetPipelineState(o.pipeline)
	list.IASetPrimitiveTopology(gpucore.TopologyTriangleStrip)
	list.RSSetViewport(gpucore.Viewport{Width: float32(t.Width), Height: float32(t.Height), MaxDepth: 1})
	list.RSSetScissorRect(gpucore.Rect{Right: int32(t.Width), Bottom: int32(t.Height)})
	list.DrawInstanced(4, 1, 0, 0)
}

// Close releases every overlay object. The GPU must be idle.
func (o *Overlay) Close() {
	if o.closed {
		return
	}
	o.closed = true
	dev := o.res.Device()
	if o.pipeline != gpucore.InvalidID {
		dev.DestroyPipeline(o.pipeline)
	}
	if o.ps != gpucore.InvalidID {
		dev.DestroyShaderModule(o.ps)
	}
	if o.vs != gpucore.InvalidID {
		dev.DestroyShaderModule(o.vs)
	}
	o.cb.Release(o.res)
	o.staging.Each(func(_ uint32, id *gpucore.ResourceID) {
		if *id != gpucore.InvalidID {
			o.res.Destroy(*id)
		}
	})
	if o.texture != gpucore.InvalidID {
		o.res.Destroy(o.texture)
	}
	if o.painter != nil {
		o.painter.close()
	}
}
