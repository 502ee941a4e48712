// Package shader compiles WGSL entry points for the renderer's pipelines.
//
// Compile runs the full naga pipeline (parse, lower, validate) and returns
// a Blob carrying SPIR-V words for Vulkan-class backends, the HLSL text of
// the requested shader model profile, and the WGSL source for WebGPU. A
// failed compile returns a *CompileError with the complete diagnostic text
// and no blob.
package shader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/gogpu/banding/internal/gpucore"
	"github.com/gogpu/naga"
	"github.com/gogpu/naga/hlsl"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/spirv"
	"github.com/gogpu/naga/wgsl"
)

// Errors returned by the compiler.
var (
	// ErrCompile is wrapped by every *CompileError.
	ErrCompile = errors.New("shader: compilation failed")

	// ErrProfile is returned for an unknown target profile.
	ErrProfile = errors.New("shader: unknown profile")
)

// Profile is a target profile such as "ps_6_0".
type Profile string

// Supported profiles.
const (
	ProfileVS60 Profile = "vs_6_0"
	ProfilePS60 Profile = "ps_6_0"
)

// Stage returns the pipeline stage of the profile.
func (p Profile) Stage() (gpucore.ShaderStage, error) {
	switch {
	case strings.HasPrefix(string(p), "vs_"):
		return gpucore.StageVertex, nil
	case strings.HasPrefix(string(p), "ps_"):
		return gpucore.StagePixel, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrProfile, string(p))
}

func (p Profile) shaderModel() (hlsl.ShaderModel, error) {
	switch {
	case strings.HasSuffix(string(p), "_6_0"):
		return hlsl.ShaderModel6_0, nil
	case strings.HasSuffix(string(p), "_5_1"):
		return hlsl.ShaderModel5_1, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrProfile, string(p))
}

// CompileError carries the compiler diagnostics of a failed compile.
type CompileError struct {
	Entry   string
	Profile Profile

	// Diagnostics is the full human readable diagnostic text, with source
	// context where the compiler provides a location.
	Diagnostics string

	Err error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("shader: compile %s (%s):\n%s", e.Entry, e.Profile, e.Diagnostics)
}

// Unwrap returns ErrCompile and the underlying compiler error.
func (e *CompileError) Unwrap() []error { return []error{ErrCompile, e.Err} }

// Blob is a compiled entry point.
type Blob struct {
	Entry   string
	Profile Profile
	Stage   gpucore.ShaderStage

	WGSL  string
	SPIRV []uint32
	HLSL  string

	module *ir.Module
}

// Valid reports whether the blob holds usable bytecode.
func (b *Blob) Valid() bool {
	return b != nil && b.module != nil && len(b.SPIRV) > 0 && b.Entry != ""
}

// ModuleDesc describes the blob as a shader module.
func (b *Blob) ModuleDesc(label string) *gpucore.ShaderModuleDesc {
	return &gpucore.ShaderModuleDesc{
		Label:      label,
		Stage:      b.Stage,
		EntryPoint: b.Entry,
		WGSL:       b.WGSL,
		SPIRV:      b.SPIRV,
		HLSL:       b.HLSL,
	}
}

func irStage(s gpucore.ShaderStage) ir.ShaderStage {
	if s == gpucore.StagePixel {
		return ir.StageFragment
	}
	return ir.StageVertex
}

// Compile compiles entry from WGSL source for profile.
func Compile(source, entry string, profile Profile) (*Blob, error) {
	stage, err := profile.Stage()
	if err != nil {
		return nil, err
	}
	model, err := profile.shaderModel()
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Blob, error) {
		return nil, &CompileError{Entry: entry, Profile: profile, Diagnostics: Diagnostics(source, err), Err: err}
	}

	ast, err := naga.Parse(source)
	if err != nil {
		return fail(err)
	}
	module, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return fail(err)
	}
	verrs, err := naga.Validate(module)
	if err != nil {
		return fail(err)
	}
	if len(verrs) > 0 {
		return fail(validationErrors(verrs))
	}

	found := false
	for _, ep := range module.EntryPoints {
		if ep.Name == entry && ep.Stage == irStage(stage) {
			found = true
			break
		}
	}
	if !found {
		return fail(fmt.Errorf("no %s entry point named %q", stage, entry))
	}

	code, err := naga.GenerateSPIRV(module, spirv.Options{Version: spirv.Version1_3})
	if err != nil {
		return fail(err)
	}
	text, _, err := hlsl.Compile(module, &hlsl.Options{
		ShaderModel:         model,
		EntryPoint:          entry,
		FakeMissingBindings: true,
	})
	if err != nil {
		return fail(err)
	}

	return &Blob{
		Entry:   entry,
		Profile: profile,
		Stage:   stage,
		WGSL:    source,
		SPIRV:   words(code),
		HLSL:    text,
		module:  module,
	}, nil
}

// words converts little-endian SPIR-V bytes into words.
func words(b []byte) []uint32 {
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return out
}

type validationErrors []ir.ValidationError

func (v validationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = "validation: " + e.Error()
	}
	return strings.Join(msgs, "\n")
}

// Diagnostics formats a compiler error with source context: every located
// error shows its line and a caret.
func Diagnostics(source string, err error) string {
	var list *wgsl.SourceErrors
	if errors.As(err, &list) && len(*list) > 0 {
		return list.FormatAll()
	}
	var one *wgsl.SourceError
	if errors.As(err, &one) {
		return one.FormatWithContext()
	}
	var perr wgsl.ParseError
	if errors.As(err, &perr) && perr.Token.Line > 0 {
		se := wgsl.NewSourceError(perr.Message, wgsl.Span{
			Start: wgsl.Position{Line: perr.Token.Line, Column: perr.Token.Column},
		}, source)
		return se.FormatWithContext()
	}
	return err.Error()
}
