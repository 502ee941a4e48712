package descriptor

import (
	"fmt"

	"github.com/gogpu/banding/internal/gpucore"
)

// Fixed heap capacities of the renderer.
const (
	RTVCapacity     = gpucore.FrameCount
	SRVCapacity     = 2
	OverlayCapacity = 1
)

// Heaps is the set of descriptor heaps the renderer uses.
type Heaps struct {
	// RTV holds one render target view per back buffer.
	RTV *Heap

	// SRV holds the single blue noise texture view at slot 0 and the
	// blue noise array view at slot 1. Shader visible.
	SRV *Heap

	// Overlay holds the overlay font/panel texture view. Shader visible.
	Overlay *Heap
}

// CreateHeaps allocates the renderer's three heaps. Labels are set only
// when debugNames is true.
func CreateHeaps(debugNames bool) (*Heaps, error) {
	name := func(s string) string {
		if debugNames {
			return s
		}
		return ""
	}
	rtv, err := NewHeap(KindRTV, RTVCapacity, false, name("RTV Heap"))
	if err != nil {
		return nil, fmt.Errorf("create RTV heap: %w", err)
	}
	srv, err := NewHeap(KindCBVSRVUAV, SRVCapacity, true, name("SRV Heap"))
	if err != nil {
		return nil, fmt.Errorf("create SRV heap: %w", err)
	}
	overlay, err := NewHeap(KindCBVSRVUAV, OverlayCapacity, true, name("Overlay Heap"))
	if err != nil {
		return nil, fmt.Errorf("create overlay heap: %w", err)
	}
	return &Heaps{RTV: rtv, SRV: srv, Overlay: overlay}, nil
}
