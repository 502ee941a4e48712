package soft

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/gogpu/banding/internal/gpucore"
)

// Varyings is the output of a vertex program: a clip-space position and up
// to four interpolated attributes.
type Varyings struct {
	Position [4]float32
	Attrs    [4]float32
}

// Fragment is the input of a pixel program.
type Fragment struct {
	// X and Y are the pixel center in window coordinates (SV_Position).
	X, Y float32

	// Attrs are the vertex attributes interpolated at the pixel center.
	Attrs [4]float32
}

// VertexFunc runs a vertex shader entry point on the CPU.
// attrs holds the fetched input layout elements flattened to floats.
type VertexFunc func(vertex int, attrs []float32, b *Bindings) Varyings

// PixelFunc runs a pixel shader entry point on the CPU and returns RGBA.
type PixelFunc func(f Fragment, b *Bindings) [4]float32

var (
	programsMu     sync.RWMutex
	vertexPrograms = make(map[string]VertexFunc)
	pixelPrograms  = make(map[string]PixelFunc)
)

// RegisterVertex registers the CPU implementation of a vertex entry point.
// Shader modules created for that entry point execute fn.
func RegisterVertex(entry string, fn VertexFunc) {
	programsMu.Lock()
	defer programsMu.Unlock()
	vertexPrograms[entry] = fn
}

// RegisterPixel registers the CPU implementation of a pixel entry point.
func RegisterPixel(entry string, fn PixelFunc) {
	programsMu.Lock()
	defer programsMu.Unlock()
	pixelPrograms[entry] = fn
}

func lookupVertex(entry string) (VertexFunc, bool) {
	programsMu.RLock()
	defer programsMu.RUnlock()
	fn, ok := vertexPrograms[entry]
	return fn, ok
}

func lookupPixel(entry string) (PixelFunc, bool) {
	programsMu.RLock()
	defer programsMu.RUnlock()
	fn, ok := pixelPrograms[entry]
	return fn, ok
}

// Texture is a read-only view of texture memory handed to pixel programs.
type Texture struct {
	Width, Height int
	Layers        int
	Format        gpucore.Format

	// Data holds Layers tightly packed layers starting at the first array
	// slice of the view.
	Data []byte
}

// Load returns texel (x, y) of layer as normalized RGBA. Coordinates are
// clamped to the texture.
func (t *Texture) Load(x, y, layer int) [4]float32 {
	if t == nil || t.Width == 0 || t.Height == 0 {
		return [4]float32{}
	}
	x = clampInt(x, 0, t.Width-1)
	y = clampInt(y, 0, t.Height-1)
	layer = clampInt(layer, 0, max(t.Layers, 1)-1)
	i := ((layer*t.Height+y)*t.Width + x) * 4
	if i+4 > len(t.Data) {
		return [4]float32{}
	}
	p := t.Data[i : i+4]
	c := [4]float32{float32(p[0]) / 255, float32(p[1]) / 255, float32(p[2]) / 255, float32(p[3]) / 255}
	if t.Format == gpucore.FormatBGRA8Unorm {
		c[0], c[2] = c[2], c[0]
	}
	return c
}

// Sample returns the bilinear, clamp-to-edge filtered color at normalized
// coordinates (u, v) of layer.
func (t *Texture) Sample(u, v float32, layer int) [4]float32 {
	if t == nil || t.Width == 0 || t.Height == 0 {
		return [4]float32{}
	}
	fx := u*float32(t.Width) - 0.5
	fy := v*float32(t.Height) - 0.5
	x0 := int(math.Floor(float64(fx)))
	y0 := int(math.Floor(float64(fy)))
	ax := fx - float32(x0)
	ay := fy - float32(y0)

	c00 := t.Load(x0, y0, layer)
	c10 := t.Load(x0+1, y0, layer)
	c01 := t.Load(x0, y0+1, layer)
	c11 := t.Load(x0+1, y0+1, layer)
	var out [4]float32
	for i := range out {
		top := c00[i] + (c10[i]-c00[i])*ax
		bot := c01[i] + (c11[i]-c01[i])*ax
		out[i] = top + (bot-top)*ay
	}
	return out
}

// Bindings exposes the resources bound to a draw to CPU programs, keyed by
// shader binding number.
type Bindings struct {
	uniforms map[uint32][]byte
	textures map[uint32]*Texture
}

// NewBindings returns an empty binding set.
func NewBindings() *Bindings {
	return &Bindings{
		uniforms: make(map[uint32][]byte),
		textures: make(map[uint32]*Texture),
	}
}

// SetUniform binds constant buffer bytes to binding.
func (b *Bindings) SetUniform(binding uint32, data []byte) { b.uniforms[binding] = data }

// SetTexture binds a texture to binding.
func (b *Bindings) SetTexture(binding uint32, t *Texture) { b.textures[binding] = t }

// Uniform returns the constant buffer bytes bound to binding.
func (b *Bindings) Uniform(binding uint32) []byte { return b.uniforms[binding] }

// Texture returns the texture bound to binding, or nil.
func (b *Bindings) Texture(binding uint32) *Texture { return b.textures[binding] }

// Float32 reads a little-endian float32 at byte offset off of a uniform.
func (b *Bindings) Float32(binding uint32, off int) float32 {
	u := b.uniforms[binding]
	if off+4 > len(u) {
		return 0
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(u[off:]))
}

// Uint32 reads a little-endian uint32 at byte offset off of a uniform.
func (b *Bindings) Uint32(binding uint32, off int) uint32 {
	u := b.uniforms[binding]
	if off+4 > len(u) {
		return 0
	}
	return binary.LittleEndian.Uint32(u[off:])
}

// Int32 reads a little-endian int32 at byte offset off of a uniform.
func (b *Bindings) Int32(binding uint32, off int) int32 {
	return int32(b.Uint32(binding, off))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func float32frombytes(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
