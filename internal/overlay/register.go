package overlay

import (
	"github.com/gogpu/banding/backend/soft"
	"github.com/gogpu/banding/shaders"
)

func init() {
	soft.RegisterVertex(shaders.OverlayVS, func(index int, _ []float32, b *soft.Bindings) soft.Varyings {
		cx, cy := float32(index&1), float32(index>>1)
		px := b.Float32(0, 0) + cx*b.Float32(0, 8)
		py := b.Float32(0, 4) + cy*b.Float32(0, 12)
		sw, sh := b.Float32(0, 16), b.Float32(0, 20)
		var v soft.Varyings
		if sw == 0 || sh == 0 {
			return v
		}
		nx := px/sw*2 - 1
		ny := py/sh*2 - 1
		v.Position = [4]float32{nx, -ny, 0, 1}
		v.Attrs = [4]float32{cx, cy, 0, 0}
		return v
	})
	soft.RegisterPixel(shaders.OverlayPS, func(f soft.Fragment, b *soft.Bindings) [4]float32 {
		t := b.Texture(1)
		if t == nil {
			return [4]float32{}
		}
		return t.Load(int(f.Attrs[0]*float32(t.Width)), int(f.Attrs[1]*float32(t.Height)), 0)
	})
}
