package banding

import "github.com/gogpu/banding/internal/dither"

// Key codes understood by HandleKey. Letters and digits are their ASCII
// uppercase codes; the others match glfw.
const (
	KeyMinus      = '-'
	KeyEqual      = '='
	Key1          = '1'
	Key2          = '2'
	Key3          = '3'
	KeyD          = 'D'
	KeyL          = 'L'
	KeyN          = 'N'
	KeyR          = 'R'
	KeyT          = 'T'
	KeyV          = 'V'
	KeyEscape     = 256
	KeyKPSubtract = 333
	KeyKPAdd      = 334
)

// HandleKey applies the toggle bound to key:
//
//	V vsync, L light animation, T tonemapping, D dithering,
//	1/2/3 white/blue/LDS blue noise, R triangular distribution,
//	N show noise, +/- noise scale, Esc quit.
//
// Unbound keys are ignored.
func (a *App) HandleKey(key int) {
	p := &a.scene.Params
	switch key {
	case KeyV:
		a.cfg.VSync = !a.cfg.VSync
	case KeyL:
		a.scene.Animate = !a.scene.Animate
	case KeyT:
		p.UseTonemapping = !p.UseTonemapping
	case KeyD:
		p.UseDithering = !p.UseDithering
	case Key1:
		p.NoiseType = dither.NoiseWhite
	case Key2:
		p.NoiseType = dither.NoiseBlue
	case Key3:
		p.NoiseType = dither.NoiseBlueArray
	case KeyR:
		if p.Distribution == dither.Triangular {
			p.Distribution = dither.Uniform
		} else {
			p.Distribution = dither.Triangular
		}
	case KeyN:
		a.scene.SetShowNoise(!p.ShowNoise)
	case KeyEqual, KeyKPAdd:
		if !p.ShowNoise {
			a.scene.SetNoiseScale(p.NoiseScale + noiseScaleStep)
		}
	case KeyMinus, KeyKPSubtract:
		if !p.ShowNoise {
			a.scene.SetNoiseScale(p.NoiseScale - noiseScaleStep)
		}
	case KeyEscape:
		a.quit = true
	default:
		return
	}
	a.log.Debug("banding: key", "key", key, "vsync", a.cfg.VSync, "animate", a.scene.Animate,
		"noise", p.NoiseType.String(), "distribution", p.Distribution.String(), "scale", p.NoiseScale)
}
