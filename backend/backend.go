package backend

import (
	"errors"
	"log/slog"
)

// Backend names.
const (
	BackendSoft   = "soft"
	BackendNative = "native"
	BackendWebGPU = "webgpu"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNoSurface is returned by backends that present to a window when
	// Config.Surface is nil or of the wrong type.
	ErrNoSurface = errors.New("backend: no presentation surface")
)

// Config is passed to backend factories.
type Config struct {
	// DebugNames propagates object labels to the underlying API.
	DebugNames bool

	// Surface is the presentation target for windowed backends.
	// Its concrete type is backend specific.
	Surface any

	// Logger receives backend diagnostics. Nil disables logging.
	Logger *slog.Logger
}
