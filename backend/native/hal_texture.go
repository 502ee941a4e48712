//go:build !nogpu

package native

import (
	"fmt"

	"github.com/gogpu/banding/internal/gpucore"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

func formatToHAL(f gpucore.Format) gputypes.TextureFormat {
	switch f {
	case gpucore.FormatBGRA8Unorm:
		return gputypes.TextureFormatBGRA8Unorm
	case gpucore.FormatRGBA8Unorm:
		return gputypes.TextureFormatRGBA8Unorm
	default:
		return gputypes.TextureFormatUndefined
	}
}

func formatFromHAL(f gputypes.TextureFormat) (gpucore.Format, bool) {
	switch f {
	case gputypes.TextureFormatBGRA8Unorm:
		return gpucore.FormatBGRA8Unorm, true
	case gputypes.TextureFormatRGBA8Unorm:
		return gpucore.FormatRGBA8Unorm, true
	default:
		return gpucore.FormatUnknown, false
	}
}

func bufferUsage(heap gpucore.HeapType) gputypes.BufferUsage {
	switch heap {
	case gpucore.HeapUpload:
		return gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst |
			gputypes.BufferUsageUniform | gputypes.BufferUsageVertex
	case gpucore.HeapReadback:
		return gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
	default:
		return gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst |
			gputypes.BufferUsageUniform | gputypes.BufferUsageVertex
	}
}

// textureUsage maps a resource state onto the hal usage a barrier
// transitions between. Present buffers are kept copy-readable so captures
// and the offscreen swap chain can read them.
func textureUsage(s gpucore.ResourceState) gputypes.TextureUsage {
	switch s {
	case gpucore.StateRenderTarget:
		return gputypes.TextureUsageRenderAttachment
	case gpucore.StateCopyDest:
		return gputypes.TextureUsageCopyDst
	case gpucore.StatePixelShaderResource:
		return gputypes.TextureUsageTextureBinding
	default:
		return gputypes.TextureUsageCopySrc
	}
}

func (d *Device) createTexture(desc gpucore.ResourceDesc, label string) (hal.Texture, error) {
	format := formatToHAL(desc.Format)
	if format == gputypes.TextureFormatUndefined {
		return nil, fmt.Errorf("%w: texture format %s", gpucore.ErrUnsupported, desc.Format)
	}
	usage := gputypes.TextureUsageCopyDst | gputypes.TextureUsageCopySrc | gputypes.TextureUsageTextureBinding
	if desc.Flags&gpucore.FlagAllowRenderTarget != 0 {
		usage |= gputypes.TextureUsageRenderAttachment
	}
	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label: d.label(label),
		Size: hal.Extent3D{
			Width:              uint32(desc.Width),
			Height:             desc.Height,
			DepthOrArrayLayers: uint32(desc.DepthOrArraySize),
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         usage,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create texture %q: %w", label, err)
	}
	return tex, nil
}

type viewKey struct {
	kind      gpucore.ViewKind
	dimension gpucore.ViewDimension
	format    gpucore.Format
	first     uint32
	count     uint32
}

// view returns the hal view matching v, creating and caching it on the
// resource.
func (d *Device) view(v gpucore.View) (hal.TextureView, error) {
	r, err := d.resource(v.Resource)
	if err != nil {
		return nil, err
	}
	if r.texture == nil {
		return nil, fmt.Errorf("%w: view of buffer %q", gpucore.ErrUnsupported, r.label)
	}
	format := v.Format
	if format == gpucore.FormatUnknown {
		format = r.desc.Format
	}
	count := v.ArraySize
	if count == 0 {
		count = uint32(r.desc.DepthOrArraySize) - v.FirstArraySlice
	}
	key := viewKey{kind: v.Kind, dimension: v.Dimension, format: format, first: v.FirstArraySlice, count: count}
	if hv, ok := r.views[key]; ok {
		return hv, nil
	}

	dim := gputypes.TextureViewDimension2D
	if v.Dimension == gpucore.ViewDimensionTexture2DArray {
		dim = gputypes.TextureViewDimension2DArray
	}
	hv, err := d.device.CreateTextureView(r.texture, &hal.TextureViewDescriptor{
		Label:           d.label(r.label + " view"),
		Format:          formatToHAL(format),
		Dimension:       dim,
		Aspect:          gputypes.TextureAspectAll,
		BaseMipLevel:    0,
		MipLevelCount:   1,
		BaseArrayLayer:  v.FirstArraySlice,
		ArrayLayerCount: count,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create view of %q: %w", r.label, err)
	}
	if r.views == nil {
		r.views = make(map[viewKey]hal.TextureView)
	}
	r.views[key] = hv
	return hv, nil
}
