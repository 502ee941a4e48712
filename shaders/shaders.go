// Package shaders embeds the WGSL sources of the renderer.
package shaders

import _ "embed"

// ColorBanding holds the fullscreen pass with entry points VS and PS.
//
//go:embed ColorBanding.wgsl
var ColorBanding string

// Overlay holds the stats panel pass with entry points OverlayVS and
// OverlayPS.
//
//go:embed Overlay.wgsl
var Overlay string

// Entry points.
const (
	BandingVS = "VS"
	BandingPS = "PS"
	OverlayVS = "OverlayVS"
	OverlayPS = "OverlayPS"
)
