// Package banding renders a fullscreen pass that demonstrates color banding
// and its mitigation by dithering.
//
// The renderer follows the explicit GPU model: two frame slots, each with
// its own command allocator and back buffer; a single fence with one target
// value per slot; explicit resource state transitions; and a one-time
// upload of the blue noise textures behind a full GPU wait.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/banding"
//	    _ "github.com/gogpu/banding/backend/soft"
//	)
//
//	cfg, err := banding.ParseArgs(os.Args[1:])
//	if err != nil {
//	    log.Fatal(err)
//	}
//	app, err := banding.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := app.Run(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
// # Frame
//
// Every frame runs:
//
//	Update → overlay upload → record pass → Submit → WaitForGPU →
//	Present → MoveToNextFrame → ResetCommandList
//
// Update writes the BandingConstants into the persistently mapped constant
// buffer and then increments the frame number.
//
// # Backends
//
// Devices come from the backend registry. Import a backend package for its
// side effect to register it:
//
//	_ "github.com/gogpu/banding/backend/soft"   // CPU, headless, always available
//	_ "github.com/gogpu/banding/backend/native" // gogpu/wgpu HAL, offscreen
//	_ "github.com/gogpu/banding/backend/webgpu" // wgpu-native, presents to a window
//
// # Logging
//
// Nothing is logged by default. See SetLogger.
package banding
