package gpucore

// AllSubresources selects every subresource of a resource in a Transition.
const AllSubresources = -1

// Command is one recorded GPU command.
type Command interface {
	command()
}

// CommandStream is a closed command list as handed to a queue.
type CommandStream struct {
	Label    string
	Commands []Command
}

// Transition is a single resource state transition.
type Transition struct {
	Resource    ResourceID
	Subresource int32
	Before      ResourceState
	After       ResourceState
}

// CmdBarrier transitions resources between states.
type CmdBarrier struct {
	Transitions []Transition
}

// CmdCopyTextureRegion copies a placed footprint from a buffer into one
// texture subresource.
type CmdCopyTextureRegion struct {
	Dst            ResourceID
	DstSubresource uint32
	Src            ResourceID
	Footprint      PlacedFootprint
}

// CmdCopyTextureToBuffer copies one texture subresource into a placed
// footprint of a buffer.
type CmdCopyTextureToBuffer struct {
	Src            ResourceID
	SrcSubresource uint32
	Dst            ResourceID
	Footprint      PlacedFootprint
}

// CmdCopyBufferRegion copies bytes between buffers.
type CmdCopyBufferRegion struct {
	Dst       ResourceID
	DstOffset uint64
	Src       ResourceID
	SrcOffset uint64
	Size      uint64
}

// CmdSetPipeline binds a pipeline state object.
type CmdSetPipeline struct {
	Pipeline PipelineID
}

// CmdSetRenderTarget binds the single color attachment.
type CmdSetRenderTarget struct {
	View View
}

// CmdSetRootConstantBuffer binds a constant buffer address to a RootCBV slot.
type CmdSetRootConstantBuffer struct {
	Slot   uint32
	Buffer ResourceID
	Offset uint64
}

// CmdSetRootTable binds resolved views to a RootTable slot.
type CmdSetRootTable struct {
	Slot  uint32
	Views []View
}

// CmdSetVertexBuffer binds vertex buffer slot 0.
type CmdSetVertexBuffer struct {
	Buffer ResourceID
	Offset uint64
	Size   uint64
	Stride uint32
}

// CmdSetViewport sets the rasterizer viewport.
type CmdSetViewport struct {
	Viewport Viewport
}

// CmdSetScissor sets the scissor rectangle.
type CmdSetScissor struct {
	Rect Rect
}

// CmdSetTopology sets the primitive topology.
type CmdSetTopology struct {
	Topology Topology
}

// CmdDraw draws non-indexed primitives.
type CmdDraw struct {
	VertexCount   uint32
	InstanceCount uint32
	FirstVertex   uint32
	FirstInstance uint32
}

func (CmdBarrier) command()               {}
func (CmdCopyTextureRegion) command()     {}
func (CmdCopyTextureToBuffer) command()   {}
func (CmdCopyBufferRegion) command()      {}
func (CmdSetPipeline) command()           {}
func (CmdSetRenderTarget) command()       {}
func (CmdSetRootConstantBuffer) command() {}
func (CmdSetRootTable) command()          {}
func (CmdSetVertexBuffer) command()       {}
func (CmdSetViewport) command()           {}
func (CmdSetScissor) command()            {}
func (CmdSetTopology) command()           {}
func (CmdDraw) command()                  {}
