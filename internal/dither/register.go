package dither

import (
	"github.com/gogpu/banding/backend/soft"
	"github.com/gogpu/banding/shaders"
)

// Binding numbers of ColorBanding.wgsl.
const (
	bindingConstants = 0
	bindingBlueNoise = 1
	bindingArray     = 2
)

func init() {
	soft.RegisterVertex(shaders.BandingVS, func(_ int, attrs []float32, _ *soft.Bindings) soft.Varyings {
		var v soft.Varyings
		if len(attrs) >= 3 {
			v.Position = [4]float32{attrs[0], attrs[1], attrs[2], 1}
		}
		return v
	})
	soft.RegisterPixel(shaders.BandingPS, func(f soft.Fragment, b *soft.Bindings) [4]float32 {
		p := ParseParams(b.Uniform(bindingConstants))
		var blue, array Texels
		if t := b.Texture(bindingBlueNoise); t != nil {
			blue = t
		}
		if t := b.Texture(bindingArray); t != nil {
			array = t
		}
		return Shade(f.X, f.Y, p, blue, array)
	})
}
