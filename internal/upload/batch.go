package upload

import (
	"fmt"

	"github.com/gogpu/banding/internal/cmdlist"
	"github.com/gogpu/banding/internal/gpucore"
	"github.com/gogpu/banding/internal/resource"
)

// Batch uploads every subresource of one texture through a single staging
// resource and owns that staging resource until the GPU is done with it.
type Batch struct {
	res     *resource.Factory
	dest    gpucore.ResourceID
	staging gpucore.ResourceID
	imgs    []Image

	submitted bool
	value     uint64
}

// NewBatch packs imgs back to back (see ArrayOffsets) and creates a staging
// buffer large enough for all of them.
func NewBatch(res *resource.Factory, dest gpucore.ResourceID, imgs []Image, label string) (*Batch, error) {
	offsets, err := ArrayOffsets(imgs)
	if err != nil {
		return nil, err
	}
	placed := make([]Image, len(imgs))
	for i, img := range imgs {
		img.Offset = offsets[i]
		placed[i] = img
	}
	staging, err := res.CreateBuffer(TotalSize(placed), 0, gpucore.HeapUpload, gpucore.FlagNone,
		gpucore.StateGenericRead, label)
	if err != nil {
		return nil, fmt.Errorf("create staging: %w", err)
	}
	return &Batch{res: res, dest: dest, staging: staging, imgs: placed}, nil
}

// Images returns the images with their staging offsets.
func (b *Batch) Images() []Image { return b.imgs }

// Staging returns the staging resource.
func (b *Batch) Staging() gpucore.ResourceID { return b.staging }

// Record uploads image i into subresource i of the destination and then
// records the barrier to read.
func (b *Batch) Record(list *cmdlist.List, read gpucore.ResourceState) error {
	for i, img := range b.imgs {
		if err := UploadTexture(list, b.res, b.dest, b.staging, img, uint32(i)); err != nil {
			return fmt.Errorf("upload subresource %d: %w", i, err)
		}
	}
	return Finish(list, b.dest, read)
}

// Submitted records the fence value signaled after the submission that
// executes the batch.
func (b *Batch) Submitted(value uint64) {
	b.submitted = true
	b.value = value
}

// Release destroys the staging resource. completed is the fence's current
// completed value; releasing before it reaches the submission's value
// fails with ErrStagingInFlight.
func (b *Batch) Release(completed uint64) error {
	if b.staging == gpucore.InvalidID {
		return nil
	}
	if b.submitted && completed < b.value {
		return fmt.Errorf("%w: fence at %d, upload signals %d", ErrStagingInFlight, completed, b.value)
	}
	b.res.Destroy(b.staging)
	b.staging = gpucore.InvalidID
	return nil
}
