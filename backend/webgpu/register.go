package webgpu

import (
	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gogpu/banding/backend"
	"github.com/gogpu/banding/internal/gpucore"
)

// init registers the surface backend. Config.Surface must be a
// *wgpu.SurfaceDescriptor, as returned by the window package.
func init() {
	backend.Register(backend.BackendWebGPU, func(cfg backend.Config) (gpucore.Device, error) {
		sd, ok := cfg.Surface.(*wgpu.SurfaceDescriptor)
		if !ok || sd == nil {
			return nil, backend.ErrNoSurface
		}
		return New(sd, WithLogger(cfg.Logger), WithDebugNames(cfg.DebugNames))
	})
}
