package banding

import (
	"math"

	"github.com/gogpu/banding/internal/dither"
)

// Light animation.
const (
	lightRadius      = 200
	lightBaseY       = 50
	lightSwingY      = 30
	angleStepVSync   = 0.01
	angleStepNoVSync = 0.001
)

// Noise scale limits. An 8-bit channel distinguishes steps of 1/256, so
// that is the default amplitude.
const (
	DefaultNoiseScale = 1.0 / 256
	MaxNoiseScale     = 0.008
	noiseScaleStep    = 1.0 / 2048
)

// Scene holds the shader constants and the CPU-side state that drives them.
type Scene struct {
	Params dither.Params

	// Animate moves the light on a circle around the screen center.
	Animate bool

	width, height uint32
	angle         float32
}

// NewScene returns the initial constants for a width×height target.
func NewScene(width, height uint32) *Scene {
	return &Scene{
		width:  width,
		height: height,
		Params: dither.Params{
			LightPosition:  [3]float32{float32(width) / 2, lightBaseY, float32(height) / 2},
			NoiseScale:     DefaultNoiseScale,
			Color:          [3]float32{0.04, 0.3, 1},
			ResolutionX:    width,
			FrameNumber:    1,
			UseDithering:   true,
			NoiseType:      dither.NoiseWhite,
			Distribution:   dither.Uniform,
			UseTonemapping: true,
		},
	}
}

// Angle returns the current light angle in radians.
func (s *Scene) Angle() float32 { return s.angle }

// animate moves the light when animation is on. The angle advances ten
// times faster with vsync, which caps the frame rate.
func (s *Scene) animate(vsync bool) {
	if !s.Animate {
		return
	}
	sin, cos := math.Sincos(float64(s.angle))
	s.Params.LightPosition = [3]float32{
		float32(s.width/2) + lightRadius*float32(cos),
		lightBaseY + lightSwingY*float32(sin),
		float32(s.height/2) + lightRadius*float32(sin),
	}
	if vsync {
		s.angle += angleStepVSync
	} else {
		s.angle += angleStepNoVSync
	}
}

// Update advances the light, returns the encoded constants for this frame
// and then increments the frame number.
func (s *Scene) Update(vsync bool) []byte {
	s.animate(vsync)
	b := s.Params.Encode()
	s.Params.FrameNumber++
	return b
}

// SetShowNoise toggles the noise visualization. Showing noise uses a full
// scale; hiding it restores the default scale if the full scale is still
// set.
func (s *Scene) SetShowNoise(on bool) {
	s.Params.ShowNoise = on
	switch {
	case on:
		s.Params.NoiseScale = 1
	case s.Params.NoiseScale == 1:
		s.Params.NoiseScale = DefaultNoiseScale
	}
}

// SetNoiseScale sets the noise amplitude clamped to [0, MaxNoiseScale].
func (s *Scene) SetNoiseScale(v float32) {
	s.Params.NoiseScale = min(max(v, 0), MaxNoiseScale)
}
