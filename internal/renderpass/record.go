package renderpass

import (
	"github.com/gogpu/banding/internal/cmdlist"
	"github.com/gogpu/banding/internal/descriptor"
	"github.com/gogpu/banding/internal/gpucore"
)

// Target is the back buffer a frame renders into.
type Target struct {
	BackBuffer gpucore.ResourceID
	RTV        descriptor.CPUHandle
	Width      uint32
	Height     uint32
}

// Hook records extra commands while the back buffer is a render target.
type Hook func(list *cmdlist.List, t Target)

// Record records one frame of the banding pass into list:
//
//	Present → RenderTarget, bind, draw(3,1,0,0), hooks, RenderTarget → Present
//
// constants is the constant buffer address bound to the root CBV and srv
// the shader-visible heap whose start is the texture table. It returns the
// list's first recording error.
func (p *Pipeline) Record(list *cmdlist.List, t Target, constants gpucore.ResourceID, srv *descriptor.Heap,
	hooks ...Hook) error {
	list.ResourceBarrier(gpucore.Transition{
		Resource:    t.BackBuffer,
		Subresource: gpucore.AllSubresources,
		Before:      gpucore.StatePresent,
		After:       gpucore.StateRenderTarget,
	})
	list.OMSetRenderTarget(t.RTV)

	list.SetDescriptorHeaps(srv)
	list.SetGraphicsRootSignature(p.Root)
	list.SetGraphicsRootConstantBufferView(SlotConstants, constants, 0)
	list.SetGraphicsRootDescriptorTable(SlotTextures, srv.GPUStart())
	list.SetPipelineState(p.State)

	list.IASetPrimitiveTopology(gpucore.TopologyTriangleList)
	list.IASetVertexBuffer(p.VertexBuffer, 0, uint64(len(fullscreenTriangle)*4), vertexStride)
	list.RSSetViewport(gpucore.Viewport{Width: float32(t.Width), Height: float32(t.Height), MaxDepth: 1})
	list.RSSetScissorRect(gpucore.Rect{Right: int32(t.Width), Bottom: int32(t.Height)})
	list.DrawInstanced(3, 1, 0, 0)

	for _, h := range hooks {
		if h != nil {
			h(list, t)
		}
	}

	list.ResourceBarrier(gpucore.Transition{
		Resource:    t.BackBuffer,
		Subresource: gpucore.AllSubresources,
		Before:      gpucore.StateRenderTarget,
		After:       gpucore.StatePresent,
	})
	return list.Err()
}
