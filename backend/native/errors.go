//go:build !nogpu

package native

import "errors"

// Package errors for the hal device.
var (
	// ErrNoGPU is returned when no GPU adapter is available.
	ErrNoGPU = errors.New("native: no GPU adapter available")

	// ErrNoHALProvider is returned by FromProvider when the host does not
	// expose its hal device and queue.
	ErrNoHALProvider = errors.New("native: provider does not expose HAL types")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("native: device closed")

	// ErrNoPipeline is returned for a draw without a pipeline, render target
	// or complete root bindings.
	ErrNoPipeline = errors.New("native: draw state incomplete")

	// ErrTopology is returned when the topology set on the list differs
	// from the one baked into the pipeline.
	ErrTopology = errors.New("native: topology does not match pipeline")
)
