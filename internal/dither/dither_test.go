package dither

import (
	"encoding/binary"
	"math"
	"testing"
)

type flat [4]float32

func (f flat) Load(int, int, int) [4]float32 { return f }

type layered struct{ layers []int }

func (l *layered) Load(_, _, layer int) [4]float32 {
	l.layers = append(l.layers, layer)
	return [4]float32{float32(layer) / 64, 0, 0, 1}
}

func TestRemapRangeAndSymmetry(t *testing.T) {
	for i := 0; i < 1000; i++ {
		n := float32(i) / 1000
		got := Remap(n)
		if got < -1 || got >= 1 {
			t.Fatalf("Remap(%v) = %v, outside [-1, 1)", n, got)
		}
		if n > 0 {
			mirror := Remap(1 - n)
			if d := got + mirror; d > 1e-5 || d < -1e-5 {
				t.Fatalf("Remap(%v) = %v, Remap(%v) = %v: not symmetric", n, got, 1-n, mirror)
			}
		}
	}
	if Remap(0.5) != 0 {
		t.Errorf("Remap(0.5) = %v, want 0", Remap(0.5))
	}
	if Remap(0) != -1 {
		t.Errorf("Remap(0) = %v, want -1", Remap(0))
	}
}

func TestWhiteNoise(t *testing.T) {
	a := WhiteNoise(3, 4, 640, 1)
	if a != WhiteNoise(3, 4, 640, 1) {
		t.Fatal("white noise not deterministic")
	}
	if a == WhiteNoise(3, 4, 640, 2) {
		t.Error("white noise does not change with the frame number")
	}
	for _, v := range a {
		if v < 0 || v > 1 {
			t.Errorf("noise value %v outside [0, 1]", v)
		}
	}
}

func TestNoiseSources(t *testing.T) {
	tests := []struct {
		name  string
		p     Params
		blue  Texels
		want0 float32
	}{
		{"blue", Params{NoiseType: NoiseBlue}, flat{0.25, 0.5, 0.75, 1}, 0.25},
		{"blue triangular", Params{NoiseType: NoiseBlue, Distribution: Triangular}, flat{0.5, 0.5, 0.5, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Noise(10, 20, tt.p, tt.blue, nil)
			if got[0] != tt.want0 {
				t.Errorf("noise = %v, want first component %v", got, tt.want0)
			}
		})
	}

	arr := &layered{}
	Noise(0, 0, Params{NoiseType: NoiseBlueArray, FrameNumber: 65}, nil, arr)
	if len(arr.layers) != 1 || arr.layers[0] != 1 {
		t.Errorf("array layers loaded = %v, want [1]", arr.layers)
	}
}

func TestShade(t *testing.T) {
	base := Params{
		LightPosition:  [3]float32{320, 50, 180},
		NoiseScale:     1.0 / 256,
		Color:          [3]float32{0.04, 0.3, 1},
		ResolutionX:    640,
		FrameNumber:    1,
		UseTonemapping: true,
	}

	t.Run("tonemapped stays below one", func(t *testing.T) {
		c := Shade(320.5, 180.5, base, nil, nil)
		for i := 0; i < 3; i++ {
			if c[i] <= 0 || c[i] >= 1 {
				t.Errorf("channel %d = %v, want (0, 1)", i, c[i])
			}
		}
		if c[3] != 1 {
			t.Errorf("alpha = %v", c[3])
		}
	})

	t.Run("falloff decreases with distance", func(t *testing.T) {
		near := Shade(320.5, 180.5, base, nil, nil)
		far := Shade(0.5, 0.5, base, nil, nil)
		if far[2] >= near[2] {
			t.Errorf("far %v not darker than near %v", far[2], near[2])
		}
	})

	t.Run("show noise", func(t *testing.T) {
		p := base
		p.ShowNoise = true
		p.NoiseScale = 1
		p.NoiseType = NoiseBlue
		c := Shade(5.5, 5.5, p, flat{0.1, 0.2, 0.3, 1}, nil)
		if c != [4]float32{0.1, 0.2, 0.3, 1} {
			t.Errorf("show noise = %v", c)
		}
	})

	t.Run("dithering adds scaled noise", func(t *testing.T) {
		p := base
		p.UseTonemapping = false
		p.Color = [3]float32{}
		p.NoiseType = NoiseBlue
		p.UseDithering = true
		c := Shade(5.5, 5.5, p, flat{1, 1, 1, 1}, nil)
		if c[0] != p.NoiseScale {
			t.Errorf("dithered black = %v, want %v", c[0], p.NoiseScale)
		}
	})
}

func TestParseParams(t *testing.T) {
	b := make([]byte, ConstantsSize)
	binary.LittleEndian.PutUint32(b[OffsetNoiseScale:], math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(b[OffsetFrameNumber:], 7)
	binary.LittleEndian.PutUint32(b[OffsetNoiseType:], 2)
	binary.LittleEndian.PutUint32(b[OffsetShowNoise:], 1)
	p := ParseParams(b)
	if p.NoiseScale != 0.5 || p.FrameNumber != 7 || p.NoiseType != NoiseBlueArray || !p.ShowNoise {
		t.Errorf("ParseParams = %+v", p)
	}
	if ParseParams(b[:10]) != (Params{}) {
		t.Error("short input must decode as zero Params")
	}
}
