// Package dither is the CPU rendition of the banding pixel shader.
//
// Shade computes exactly what the PS entry point of ColorBanding.wgsl
// computes for one pixel. Importing the package registers VS and PS with
// the software backend, so frames rendered there are real images.
package dither

import (
	"encoding/binary"
	"math"
)

// NoiseType selects the noise source.
type NoiseType int32

// Noise types.
const (
	NoiseWhite NoiseType = iota
	NoiseBlue
	NoiseBlueArray
)

func (n NoiseType) String() string {
	switch n {
	case NoiseWhite:
		return "White"
	case NoiseBlue:
		return "Blue"
	case NoiseBlueArray:
		return "LDS Blue"
	default:
		return "Unknown"
	}
}

// Distribution selects how noise samples are remapped.
type Distribution int32

// Distributions.
const (
	Uniform Distribution = iota
	Triangular
)

func (d Distribution) String() string {
	if d == Triangular {
		return "Triangular"
	}
	return "Uniform"
}

// Byte offsets of the constant buffer fields.
const (
	OffsetLightPosition  = 0
	OffsetNoiseScale     = 12
	OffsetColor          = 16
	OffsetResolutionX    = 28
	OffsetFrameNumber    = 32
	OffsetUseDithering   = 36
	OffsetShowNoise      = 40
	OffsetNoiseType      = 44
	OffsetDistribution   = 48
	OffsetUseTonemapping = 52

	// ConstantsSize is the encoded size of the constants, padding included.
	ConstantsSize = 64
)

// Params are the decoded shader constants.
type Params struct {
	LightPosition  [3]float32
	NoiseScale     float32
	Color          [3]float32
	ResolutionX    uint32
	FrameNumber    uint32
	UseDithering   bool
	ShowNoise      bool
	NoiseType      NoiseType
	Distribution   Distribution
	UseTonemapping bool
}

func f32(b []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
}

func u32(b []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(b[off:])
}

// ParseParams decodes constant buffer bytes. Short input decodes as the
// zero Params.
func ParseParams(b []byte) Params {
	if len(b) < ConstantsSize {
		return Params{}
	}
	return Params{
		LightPosition:  [3]float32{f32(b, 0), f32(b, 4), f32(b, 8)},
		NoiseScale:     f32(b, OffsetNoiseScale),
		Color:          [3]float32{f32(b, OffsetColor), f32(b, OffsetColor+4), f32(b, OffsetColor+8)},
		ResolutionX:    u32(b, OffsetResolutionX),
		FrameNumber:    u32(b, OffsetFrameNumber),
		UseDithering:   u32(b, OffsetUseDithering) != 0,
		ShowNoise:      u32(b, OffsetShowNoise) != 0,
		NoiseType:      NoiseType(int32(u32(b, OffsetNoiseType))),
		Distribution:   Distribution(int32(u32(b, OffsetDistribution))),
		UseTonemapping: u32(b, OffsetUseTonemapping) != 0,
	}
}

// Encode returns the little-endian constant buffer layout of p.
func (p Params) Encode() []byte {
	b := make([]byte, ConstantsSize)
	putF := func(off int, v float32) { binary.LittleEndian.PutUint32(b[off:], math.Float32bits(v)) }
	putB := func(off int, v bool) {
		if v {
			binary.LittleEndian.PutUint32(b[off:], 1)
		}
	}
	for i := 0; i < 3; i++ {
		putF(OffsetLightPosition+i*4, p.LightPosition[i])
		putF(OffsetColor+i*4, p.Color[i])
	}
	putF(OffsetNoiseScale, p.NoiseScale)
	binary.LittleEndian.PutUint32(b[OffsetResolutionX:], p.ResolutionX)
	binary.LittleEndian.PutUint32(b[OffsetFrameNumber:], p.FrameNumber)
	putB(OffsetUseDithering, p.UseDithering)
	putB(OffsetShowNoise, p.ShowNoise)
	binary.LittleEndian.PutUint32(b[OffsetNoiseType:], uint32(p.NoiseType))
	binary.LittleEndian.PutUint32(b[OffsetDistribution:], uint32(p.Distribution))
	putB(OffsetUseTonemapping, p.UseTonemapping)
	return b
}

// Texels is a texture the shader loads from.
type Texels interface {
	Load(x, y, layer int) [4]float32
}

// NoiseTile is the edge length of the blue noise textures.
const NoiseTile = 256

// ArrayLayers is the number of layers of the blue noise array.
const ArrayLayers = 64

// PCG hashes one 32-bit value.
func PCG(v uint32) uint32 {
	state := v*747796405 + 2891336453
	word := ((state >> ((state >> 28) + 4)) ^ state) * 277803737
	return (word >> 22) ^ word
}

// WhiteNoise returns three hashed values in [0, 1] for a pixel. The
// sequence changes every frame.
func WhiteNoise(x, y, resolutionX, frame uint32) [3]float32 {
	seed := y*resolutionX + x + frame*1664525
	r := PCG(seed)
	g := PCG(r)
	b := PCG(g)
	return [3]float32{float32(r) / 4294967296, float32(g) / 4294967296, float32(b) / 4294967296}
}

// Remap maps a uniform sample in [0, 1) to a triangular distribution in
// [-1, 1), symmetric around zero.
func Remap(n float32) float32 {
	x := n*2 - 1
	if x == 0 {
		return 0
	}
	t := 1 - float32(math.Sqrt(float64(1-abs(x))))
	if x < 0 {
		return -t
	}
	return t
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Noise returns the distributed noise sample of a pixel.
func Noise(x, y uint32, p Params, blue, array Texels) [3]float32 {
	tx, ty := int(x%NoiseTile), int(y%NoiseTile)
	var n [3]float32
	switch {
	case p.NoiseType == NoiseBlue && blue != nil:
		c := blue.Load(tx, ty, 0)
		n = [3]float32{c[0], c[1], c[2]}
	case p.NoiseType == NoiseBlueArray && array != nil:
		c := array.Load(tx, ty, int(p.FrameNumber%ArrayLayers))
		n = [3]float32{c[0], c[1], c[2]}
	default:
		n = WhiteNoise(x, y, p.ResolutionX, p.FrameNumber)
	}
	if p.Distribution == Triangular {
		for i := range n {
			n[i] = Remap(n[i])
		}
	}
	return n
}

// Shade returns the color of the pixel whose center is (fx, fy).
func Shade(fx, fy float32, p Params, blue, array Texels) [4]float32 {
	noise := Noise(uint32(fx), uint32(fy), p, blue, array)
	if p.ShowNoise {
		return [4]float32{noise[0] * p.NoiseScale, noise[1] * p.NoiseScale, noise[2] * p.NoiseScale, 1}
	}

	dx := fx - p.LightPosition[0]
	dy := -p.LightPosition[1]
	dz := fy - p.LightPosition[2]
	d := float32(math.Sqrt(float64(dx*dx + dy*dy + dz*dz)))
	falloff := 4000 / (d*d + 1)

	var out [4]float32
	for i := 0; i < 3; i++ {
		c := p.Color[i] * falloff
		if p.UseTonemapping {
			c /= c + 1
		}
		if p.UseDithering {
			c += noise[i] * p.NoiseScale
		}
		out[i] = clamp01(c)
	}
	out[3] = 1
	return out
}
