package upload

import (
	"fmt"
	"image"

	"github.com/gogpu/banding/internal/cmdlist"
	"github.com/gogpu/banding/internal/gpucore"
	"github.com/gogpu/banding/internal/resource"
)

// Readback is a pending copy of one texture subresource into a readback
// heap buffer.
type Readback struct {
	Buffer    gpucore.ResourceID
	Footprint gpucore.PlacedFootprint
}

// RecordReadback records a copy of subresource sub of src into a new
// readback buffer with rows padded to gpucore.RowPitchAlignment. src moves
// from state to CopySource and back to state.
func RecordReadback(list *cmdlist.List, res *resource.Factory, src gpucore.ResourceID, sub uint32,
	state gpucore.ResourceState, label string) (*Readback, error) {
	rec, err := res.Lookup(src)
	if err != nil {
		return nil, err
	}
	bpp := rec.Desc.Format.BytesPerPixel()
	fp := gpucore.PlacedFootprint{
		Format:   rec.Desc.Format,
		Width:    uint32(rec.Desc.Width),
		Height:   rec.Desc.Height,
		Depth:    1,
		RowPitch: uint32(gpucore.AlignUp(rec.Desc.Width*uint64(bpp), gpucore.RowPitchAlignment)),
	}
	buf, err := res.CreateBuffer(uint64(fp.RowPitch)*uint64(fp.Height), 0, gpucore.HeapReadback,
		gpucore.FlagNone, gpucore.StateCopyDest, label)
	if err != nil {
		return nil, fmt.Errorf("create readback: %w", err)
	}
	list.ResourceBarrier(gpucore.Transition{Resource: src, Subresource: gpucore.AllSubresources,
		Before: state, After: gpucore.StateCopySource})
	list.CopyTextureToBuffer(src, sub, buf, fp)
	list.ResourceBarrier(gpucore.Transition{Resource: src, Subresource: gpucore.AllSubresources,
		Before: gpucore.StateCopySource, After: state})
	if err := list.Err(); err != nil {
		res.Destroy(buf)
		return nil, err
	}
	return &Readback{Buffer: buf, Footprint: fp}, nil
}

// Bytes maps the readback buffer and returns a tightly packed copy of the
// texel rows. The GPU must have completed the copy.
func (r *Readback) Bytes(res *resource.Factory) ([]byte, error) {
	mem, err := res.Map(r.Buffer)
	if err != nil {
		return nil, err
	}
	defer res.Unmap(r.Buffer, gpucore.Range{})
	bpp := r.Footprint.Format.BytesPerPixel()
	row := int(r.Footprint.Width * bpp)
	out := make([]byte, row*int(r.Footprint.Height))
	for y := 0; y < int(r.Footprint.Height); y++ {
		so := int(r.Footprint.Offset) + y*int(r.Footprint.RowPitch)
		copy(out[y*row:(y+1)*row], mem[so:so+row])
	}
	return out, nil
}

// Image returns the readback contents as an RGBA image.
func (r *Readback) Image(res *resource.Factory) (*image.RGBA, error) {
	px, err := r.Bytes(res)
	if err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, int(r.Footprint.Width), int(r.Footprint.Height)))
	copy(img.Pix, px)
	if r.Footprint.Format == gpucore.FormatBGRA8Unorm {
		for i := 0; i+3 < len(img.Pix); i += 4 {
			img.Pix[i], img.Pix[i+2] = img.Pix[i+2], img.Pix[i]
		}
	}
	return img, nil
}

// Release destroys the readback buffer.
func (r *Readback) Release(res *resource.Factory) {
	res.Destroy(r.Buffer)
}
