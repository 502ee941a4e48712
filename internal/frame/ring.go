package frame

import "github.com/gogpu/banding/internal/gpucore"

// Ring is a fixed-capacity set of per-frame values indexed by the swap
// chain's back buffer index. It is never resized.
type Ring[T any] struct {
	items [gpucore.FrameCount]T
}

// Len returns the ring capacity.
func (r *Ring[T]) Len() int { return len(r.items) }

// At returns a pointer to the value of frame i. It panics if i is out of
// range, like an array index.
func (r *Ring[T]) At(i uint32) *T { return &r.items[i] }

// Each calls fn for every frame in index order.
func (r *Ring[T]) Each(fn func(i uint32, v *T)) {
	for i := range r.items {
		fn(uint32(i), &r.items[i])
	}
}
