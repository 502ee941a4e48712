package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gogpu/banding/internal/shader"
	"github.com/gogpu/banding/shaders"
)

// dumpShaders compiles both banding entry points and writes the generated
// HLSL and every translation target into dir.
func dumpShaders(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, e := range []struct {
		entry   string
		profile shader.Profile
	}{
		{shaders.BandingVS, shader.ProfileVS60},
		{shaders.BandingPS, shader.ProfilePS60},
	} {
		blob, err := shader.Compile(shaders.ColorBanding, e.entry, e.profile)
		if err != nil {
			return err
		}
		out := map[string]string{e.entry + ".hlsl": blob.HLSL}
		for _, target := range []shader.Target{shader.TargetGLSL, shader.TargetMSL} {
			src, err := shader.Translate(blob, target)
			if err != nil {
				return err
			}
			out[e.entry+target.Ext()] = src
		}
		for name, src := range out {
			if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644); err != nil {
				return fmt.Errorf("dump %s: %w", name, err)
			}
		}
	}
	return nil
}
