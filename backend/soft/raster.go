package soft

import (
	"math"

	"github.com/gogpu/banding/internal/gpucore"
)

// target is a render target view resolved to memory.
type target struct {
	mem           []byte
	width, height int
	format        gpucore.Format
}

type screenVertex struct {
	x, y  float32
	attrs [4]float32
}

func toScreen(v Varyings, vp gpucore.Viewport) screenVertex {
	w := v.Position[3]
	if w == 0 {
		w = 1
	}
	nx := v.Position[0] / w
	ny := v.Position[1] / w
	return screenVertex{
		x:     vp.X + (nx*0.5+0.5)*vp.Width,
		y:     vp.Y + (0.5-ny*0.5)*vp.Height,
		attrs: v.Attrs,
	}
}

func edge(a, b screenVertex, px, py float32) float32 {
	return (b.x-a.x)*(py-a.y) - (b.y-a.y)*(px-a.x)
}

// owns breaks ties for pixel centers exactly on an edge. The rule is
// antisymmetric, so an edge shared by two triangles of equal winding
// belongs to exactly one of them.
func owns(a, b screenVertex) bool {
	dx, dy := b.x-a.x, b.y-a.y
	return dy > 0 || (dy == 0 && dx < 0)
}

func inside(w float32, tie bool) bool {
	return w > 0 || (w == 0 && tie)
}

// rasterTriangle shades every pixel center covered by the triangle inside
// the scissor rectangle and the target bounds. Both windings are drawn.
func rasterTriangle(t *target, tri [3]Varyings, vp gpucore.Viewport, sc gpucore.Rect,
	ps PixelFunc, b *Bindings, blend gpucore.BlendMode) {
	v0 := toScreen(tri[0], vp)
	v1 := toScreen(tri[1], vp)
	v2 := toScreen(tri[2], vp)

	area := edge(v0, v1, v2.x, v2.y)
	if area == 0 {
		return
	}
	if area < 0 {
		v1, v2 = v2, v1
		area = -area
	}

	minX := int(math.Floor(float64(min(v0.x, v1.x, v2.x))))
	maxX := int(math.Ceil(float64(max(v0.x, v1.x, v2.x))))
	minY := int(math.Floor(float64(min(v0.y, v1.y, v2.y))))
	maxY := int(math.Ceil(float64(max(v0.y, v1.y, v2.y))))

	minX = max(minX, int(sc.Left), 0)
	minY = max(minY, int(sc.Top), 0)
	maxX = min(maxX, int(sc.Right), t.width)
	maxY = min(maxY, int(sc.Bottom), t.height)

	tie0 := owns(v1, v2)
	tie1 := owns(v2, v0)
	tie2 := owns(v0, v1)

	for y := minY; y < maxY; y++ {
		py := float32(y) + 0.5
		for x := minX; x < maxX; x++ {
			px := float32(x) + 0.5
			w0 := edge(v1, v2, px, py)
			w1 := edge(v2, v0, px, py)
			w2 := edge(v0, v1, px, py)
			if !inside(w0, tie0) || !inside(w1, tie1) || !inside(w2, tie2) {
				continue
			}
			l0, l1, l2 := w0/area, w1/area, w2/area
			f := Fragment{X: px, Y: py}
			for i := range f.Attrs {
				f.Attrs[i] = l0*v0.attrs[i] + l1*v1.attrs[i] + l2*v2.attrs[i]
			}
			t.write(x, y, ps(f, b), blend)
		}
	}
}

func toUnorm8(v float32) byte {
	if !(v > 0) {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return byte(v*255 + 0.5)
}

func (t *target) write(x, y int, c [4]float32, blend gpucore.BlendMode) {
	i := (y*t.width + x) * 4
	px := t.mem[i : i+4 : i+4]
	if t.format == gpucore.FormatBGRA8Unorm {
		c[0], c[2] = c[2], c[0]
	}
	if blend == gpucore.BlendAlpha {
		inv := 1 - c[3]
		for k := 0; k < 4; k++ {
			c[k] += float32(px[k]) / 255 * inv
		}
	}
	px[0] = toUnorm8(c[0])
	px[1] = toUnorm8(c[1])
	px[2] = toUnorm8(c[2])
	px[3] = toUnorm8(c[3])
}
