// Package soft implements gpucore.Device on the CPU.
//
// The software device behaves like a strict explicit-API driver with its
// debug layer on: resources carry real memory and per-subresource states,
// command streams execute in order on a dedicated timeline goroutine, fences
// advance only when the timeline reaches their signal, and any command that
// violates the state rules (a barrier whose before-state is wrong, a copy
// into a texture that is not in CopyDest, a draw sampling a texture still in
// CopyDest) removes the device with a descriptive reason.
//
// Shader modules execute registered Go programs ([RegisterVertex],
// [RegisterPixel]) keyed by entry point name, so the same WGSL entry points
// the GPU backends compile have a CPU rendition here.
//
// # Testing
//
// [Device.Pause] and [Device.Resume] hold the timeline so tests can observe
// work that is submitted but not complete, and [Device.Remove] simulates a
// device reset.
package soft
