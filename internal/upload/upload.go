// Package upload implements the CPU-to-GPU texture upload protocol.
//
// Raw texel bytes are written into an upload heap (staging) resource, then
// described to the GPU as a row-major placed footprint and copied into one
// subresource of a default heap texture that is in CopyDest. After every
// subresource of a texture is copied, one barrier moves it to its read
// state. Staging memory may only be released once the fence has passed the
// submission that consumed it.
package upload

import (
	"errors"
	"fmt"

	"github.com/gogpu/banding/internal/cmdlist"
	"github.com/gogpu/banding/internal/gpucore"
	"github.com/gogpu/banding/internal/resource"
)

// Errors returned by the upload protocol.
var (
	// ErrNonUniformArray is returned when the images of one array resource
	// differ in width, height or stride.
	ErrNonUniformArray = errors.New("upload: array images differ in dimensions")

	// ErrShortImage is returned when an image holds fewer bytes than
	// width × height × stride.
	ErrShortImage = errors.New("upload: image smaller than its dimensions")

	// ErrStagingOverflow is returned when an image does not fit the
	// staging resource at its offset.
	ErrStagingOverflow = errors.New("upload: image exceeds staging resource")

	// ErrStagingInFlight is returned by Batch.Release before the fence has
	// passed the upload's submission.
	ErrStagingInFlight = errors.New("upload: staging still in use by the GPU")
)

// Image is raw texel data placed at Offset inside a staging resource.
type Image struct {
	Pixels []byte
	Width  uint32
	Height uint32

	// Stride is the size of one pixel in bytes.
	Stride uint32

	// Offset is the position of the image inside the staging resource.
	Offset uint64
}

// Size returns width × height × stride.
func (img Image) Size() uint64 {
	return uint64(img.Width) * uint64(img.Height) * uint64(img.Stride)
}

// RowPitch returns the byte length of one row.
func (img Image) RowPitch() uint32 { return img.Width * img.Stride }

// ArrayOffsets returns the staging offset of every image packed back to
// back: image i starts at the sum of the sizes of images 0..i-1. All
// images must have identical dimensions.
func ArrayOffsets(imgs []Image) ([]uint64, error) {
	offsets := make([]uint64, len(imgs))
	var off uint64
	for i, img := range imgs {
		if i > 0 && (img.Width != imgs[0].Width || img.Height != imgs[0].Height || img.Stride != imgs[0].Stride) {
			return nil, fmt.Errorf("%w: image %d is %dx%dx%d, image 0 is %dx%dx%d", ErrNonUniformArray, i,
				img.Width, img.Height, img.Stride, imgs[0].Width, imgs[0].Height, imgs[0].Stride)
		}
		offsets[i] = off
		off += img.Size()
	}
	return offsets, nil
}

// TotalSize returns the staging bytes needed for imgs.
func TotalSize(imgs []Image) uint64 {
	var n uint64
	for _, img := range imgs {
		n += img.Size()
	}
	return n
}

// Footprint describes img as a placed footprint of format.
func Footprint(img Image, format gpucore.Format) gpucore.PlacedFootprint {
	return gpucore.PlacedFootprint{
		Offset:   img.Offset,
		Format:   format,
		Width:    img.Width,
		Height:   img.Height,
		Depth:    1,
		RowPitch: img.RowPitch(),
	}
}

// UploadTexture copies img into subresource sub of dest through staging.
//
// dest must be in CopyDest in the list's tracked state and staging must be
// CPU writable. The raw bytes are written into the mapped staging memory at
// img.Offset, then a copy from the placed footprint is recorded. The caller
// records the read-state barrier with Finish once all subresources are
// uploaded.
func UploadTexture(list *cmdlist.List, res *resource.Factory, dest, staging gpucore.ResourceID,
	img Image, sub uint32) error {
	size := img.Size()
	if uint64(len(img.Pixels)) < size {
		return fmt.Errorf("%w: %d bytes for %dx%dx%d", ErrShortImage, len(img.Pixels), img.Width, img.Height, img.Stride)
	}
	rec, err := res.Lookup(dest)
	if err != nil {
		return err
	}

	mem, err := res.Map(staging)
	if err != nil {
		return fmt.Errorf("map staging: %w", err)
	}
	end := img.Offset + size
	if end > uint64(len(mem)) {
		res.Unmap(staging, gpucore.Range{Begin: 0, End: 0})
		return fmt.Errorf("%w: [%d, %d) of %d", ErrStagingOverflow, img.Offset, end, len(mem))
	}
	copy(mem[img.Offset:end], img.Pixels[:size])
	res.Unmap(staging, gpucore.Range{Begin: img.Offset, End: end})

	list.CopyTextureRegion(dest, sub, staging, Footprint(img, rec.Desc.Format))
	return list.Err()
}

// Finish records the single barrier that moves dest from CopyDest to its
// read state after all of its subresources have been copied.
func Finish(list *cmdlist.List, dest gpucore.ResourceID, read gpucore.ResourceState) error {
	list.ResourceBarrier(gpucore.Transition{
		Resource:    dest,
		Subresource: gpucore.AllSubresources,
		Before:      gpucore.StateCopyDest,
		After:       read,
	})
	return list.Err()
}
