package shader

import (
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/banding/internal/gpucore"
	"github.com/gogpu/banding/shaders"
)

func TestCompileBandingEntries(t *testing.T) {
	tests := []struct {
		entry   string
		profile Profile
		stage   gpucore.ShaderStage
	}{
		{shaders.BandingVS, ProfileVS60, gpucore.StageVertex},
		{shaders.BandingPS, ProfilePS60, gpucore.StagePixel},
		{shaders.OverlayVS, ProfileVS60, gpucore.StageVertex},
		{shaders.OverlayPS, ProfilePS60, gpucore.StagePixel},
	}
	for _, tt := range tests {
		t.Run(tt.entry, func(t *testing.T) {
			src := shaders.ColorBanding
			if strings.HasPrefix(tt.entry, "Overlay") {
				src = shaders.Overlay
			}
			b, err := Compile(src, tt.entry, tt.profile)
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			if !b.Valid() {
				t.Fatal("blob not valid")
			}
			if b.Stage != tt.stage {
				t.Errorf("stage = %s, want %s", b.Stage, tt.stage)
			}
			if b.SPIRV[0] != 0x07230203 {
				t.Errorf("SPIR-V magic = %#x", b.SPIRV[0])
			}
			if b.HLSL == "" {
				t.Error("empty HLSL output")
			}
			desc := b.ModuleDesc("m")
			if desc.EntryPoint != tt.entry || desc.WGSL != src {
				t.Errorf("ModuleDesc = %q/%d bytes", desc.EntryPoint, len(desc.WGSL))
			}
		})
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		entry   string
		profile Profile
		want    error
	}{
		{"syntax", "fn PS( -> {", "PS", ProfilePS60, ErrCompile},
		{"missing entry", shaders.ColorBanding, "Main", ProfilePS60, ErrCompile},
		{"wrong stage", shaders.ColorBanding, "VS", ProfilePS60, ErrCompile},
		{"unknown profile", shaders.ColorBanding, "PS", "cs_6_0", ErrProfile},
		{"unknown model", shaders.ColorBanding, "PS", "ps_4_0", ErrProfile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Compile(tt.source, tt.entry, tt.profile)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if b != nil {
				t.Error("failed compile returned a blob")
			}
		})
	}
}

func TestCompileErrorDiagnostics(t *testing.T) {
	_, err := Compile("@fragment\nfn PS() -> @location(0) vec4<f32> {\n    return undefinedThing;\n}\n", "PS", ProfilePS60)
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *CompileError", err)
	}
	if ce.Entry != "PS" || ce.Profile != ProfilePS60 {
		t.Errorf("CompileError = %s/%s", ce.Entry, ce.Profile)
	}
	if ce.Diagnostics == "" {
		t.Fatal("empty diagnostics")
	}
	if !strings.Contains(err.Error(), ce.Diagnostics) {
		t.Error("Error() does not carry the diagnostics")
	}
}

func TestTranslate(t *testing.T) {
	b, err := Compile(shaders.ColorBanding, shaders.BandingPS, ProfilePS60)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	for _, target := range []Target{TargetGLSL, TargetMSL} {
		src, err := Translate(b, target)
		if err != nil {
			t.Fatalf("Translate(%s): %v", target, err)
		}
		if src == "" {
			t.Errorf("Translate(%s) returned empty source", target)
		}
	}
	if _, err := Translate(&Blob{}, TargetGLSL); !errors.Is(err, ErrNoModule) {
		t.Errorf("Translate(empty) = %v, want ErrNoModule", err)
	}
}

func TestProfileStage(t *testing.T) {
	if s, err := ProfileVS60.Stage(); err != nil || s != gpucore.StageVertex {
		t.Errorf("vs_6_0 stage = %v, %v", s, err)
	}
	if s, err := ProfilePS60.Stage(); err != nil || s != gpucore.StagePixel {
		t.Errorf("ps_6_0 stage = %v, %v", s, err)
	}
}
