package soft

import (
	"github.com/gogpu/banding/backend"
	"github.com/gogpu/banding/internal/gpucore"
)

// init registers the soft backend on package import.
func init() {
	backend.Register(backend.BackendSoft, func(cfg backend.Config) (gpucore.Device, error) {
		return New(WithLogger(cfg.Logger)), nil
	})
}
