package resource

import (
	"fmt"

	"github.com/gogpu/banding/internal/gpucore"
)

// ConstantBuffer is a persistently mapped upload heap buffer.
// The CPU overwrites it every frame; the GPU reads it through a root CBV.
type ConstantBuffer struct {
	ID   gpucore.ResourceID
	Size uint64

	mapped []byte
}

// CreateConstantBuffer creates an upload heap buffer of at least size bytes
// (aligned to 256) in GenericRead and maps it once for the buffer lifetime.
func (f *Factory) CreateConstantBuffer(size uint64, label string) (*ConstantBuffer, error) {
	id, err := f.CreateBuffer(size, gpucore.ConstantBufferAlignment, gpucore.HeapUpload,
		gpucore.FlagNone, gpucore.StateGenericRead, label)
	if err != nil {
		return nil, err
	}
	mem, err := f.Map(id)
	if err != nil {
		f.Destroy(id)
		return nil, fmt.Errorf("map constant buffer: %w", err)
	}
	return &ConstantBuffer{ID: id, Size: gpucore.AlignUp(size, gpucore.ConstantBufferAlignment), mapped: mem}, nil
}

// Write copies b to the start of the mapped memory.
func (cb *ConstantBuffer) Write(b []byte) {
	copy(cb.mapped, b)
}

// Bytes returns the mapped memory.
func (cb *ConstantBuffer) Bytes() []byte { return cb.mapped }

// Release unmaps and destroys the buffer.
func (cb *ConstantBuffer) Release(f *Factory) {
	if cb == nil || cb.mapped == nil {
		return
	}
	f.Unmap(cb.ID, gpucore.Range{})
	f.Destroy(cb.ID)
	cb.mapped = nil
}
