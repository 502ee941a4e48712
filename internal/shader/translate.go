package shader

import (
	"errors"
	"fmt"

	"github.com/gogpu/naga/glsl"
	"github.com/gogpu/naga/msl"
)

// Target is a source language a compiled blob can be translated to.
type Target uint8

// Translation targets.
const (
	TargetGLSL Target = iota
	TargetMSL
)

func (t Target) String() string {
	switch t {
	case TargetGLSL:
		return "glsl"
	case TargetMSL:
		return "msl"
	default:
		return fmt.Sprintf("Target(%d)", t)
	}
}

// Ext returns the conventional file extension of the target.
func (t Target) Ext() string {
	if t == TargetMSL {
		return ".metal"
	}
	if t == TargetGLSL {
		return ".glsl"
	}
	return ""
}

// ErrNoModule is returned when translating a blob that did not come from
// Compile.
var ErrNoModule = errors.New("shader: blob has no module")

// Translate emits the blob's entry point in the target language.
func Translate(b *Blob, target Target) (string, error) {
	if !b.Valid() {
		return "", ErrNoModule
	}
	switch target {
	case TargetGLSL:
		opts := glsl.DefaultOptions()
		opts.LangVersion = glsl.Version450
		opts.EntryPoint = b.Entry
		src, _, err := glsl.Compile(b.module, opts)
		if err != nil {
			return "", fmt.Errorf("shader: glsl %s: %w", b.Entry, err)
		}
		return src, nil
	case TargetMSL:
		src, _, err := msl.CompileWithPipeline(b.module, msl.DefaultOptions(), msl.PipelineOptions{
			EntryPoint: &msl.EntryPointSelector{Stage: irStage(b.Stage), Name: b.Entry},
		})
		if err != nil {
			return "", fmt.Errorf("shader: msl %s: %w", b.Entry, err)
		}
		return src, nil
	}
	return "", fmt.Errorf("shader: unknown target %s", target)
}
