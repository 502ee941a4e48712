// Package gpucore defines the explicit GPU vocabulary shared by the banding
// renderer and its backends.
//
// The model is the one of an explicit graphics API: the application creates
// committed resources in a heap (upload, default or readback), owns their
// state transitions, records commands into a [CommandStream] and drives
// CPU/GPU synchronization itself through fences. Backends translate that
// vocabulary into something that can execute it:
//
//	               +------------------+
//	               |  banding (App)   |
//	               +--------+---------+
//	                        |
//	         cmdlist / frame / upload / renderpass
//	                        |
//	               +--------v---------+
//	               |  gpucore.Device  |
//	               +--------+---------+
//	                        |
//	      +-----------------+-----------------+
//	      |                 |                 |
//	+-----v-----+    +------v------+   +------v------+
//	|   soft    |    |   native    |   |   webgpu    |
//	| (CPU GPU) |    | (wgpu hal)  |   | (wgpu-native|
//	|           |    |             |   |  + surface) |
//	+-----------+    +-------------+   +-------------+
//
// # Handles
//
// Every object is addressed by an opaque, generation-checked handle
// ([ResourceID], [ShaderModuleID], [PipelineID], [FenceID]). Handles are
// issued by an [Arena]; destroying an object bumps its slot generation, so a
// stale handle is rejected instead of silently aliasing a newer object.
//
// # Commands
//
// Recorded commands are plain values ([CmdBarrier], [CmdCopyTextureRegion],
// [CmdDraw], ...). Root tables and render targets are resolved to [View]
// values at record time, so backends never see descriptor heaps.
package gpucore
