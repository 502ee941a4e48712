//go:build !nogpu

package native

import (
	"github.com/gogpu/banding/backend"
	"github.com/gogpu/banding/internal/gpucore"
)

func init() {
	backend.Register(backend.BackendNative, func(cfg backend.Config) (gpucore.Device, error) {
		return New(WithLogger(cfg.Logger), WithDebugNames(cfg.DebugNames))
	})
}
