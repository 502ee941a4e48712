// Package native implements the explicit device model on gogpu/wgpu/hal.
//
// Resources, shader modules, pipelines and fences map onto hal objects held
// behind generation-checked handles. Command streams are encoded into hal
// command buffers at Execute time and submitted with the next fence Signal.
// The swap chain is an offscreen ring of render-attachment textures; a
// windowed presentation path is provided by the webgpu backend.
//
// Building with the nogpu tag leaves the package empty and the backend
// unregistered.
package native
