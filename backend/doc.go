// Package backend selects the device implementation the renderer runs on.
//
// Backends register a Factory from their package init function and are
// selected by name or by priority:
//
//	import (
//		_ "github.com/gogpu/banding/backend/native"
//		_ "github.com/gogpu/banding/backend/soft"
//	)
//
//	dev, err := backend.Open(backend.BackendSoft, backend.Config{})
//
//	// Or take the best one that opens: webgpu > native > soft.
//	dev, name, err := backend.OpenDefault(backend.Config{Surface: win})
//
// # Available Backends
//
//   - soft: a CPU device whose queue runs on its own goroutine; always
//     available and used by tests and headless runs.
//   - native: gogpu/wgpu HAL (Vulkan), offscreen back buffers read back for
//     capture.
//   - webgpu: wgpu-native through cogentcore/webgpu, presenting to a glfw
//     window surface.
package backend
