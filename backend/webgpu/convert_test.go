package webgpu

import (
	"errors"
	"testing"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gogpu/banding/backend"
	"github.com/gogpu/banding/internal/gpucore"
)

func TestPickSurfaceFormat(t *testing.T) {
	tests := []struct {
		name    string
		formats []wgpu.TextureFormat
		want    gpucore.Format
		ok      bool
	}{
		{"bgra first", []wgpu.TextureFormat{wgpu.TextureFormatBGRA8Unorm, wgpu.TextureFormatRGBA8Unorm}, gpucore.FormatBGRA8Unorm, true},
		{"skips srgb", []wgpu.TextureFormat{wgpu.TextureFormatBGRA8UnormSrgb, wgpu.TextureFormatRGBA8Unorm}, gpucore.FormatRGBA8Unorm, true},
		{"none", []wgpu.TextureFormat{wgpu.TextureFormatRGBA16Float}, gpucore.FormatUnknown, false},
		{"empty", nil, gpucore.FormatUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got, ok := pickSurfaceFormat(tt.formats)
			if got != tt.want || ok != tt.ok {
				t.Errorf("pickSurfaceFormat = %s, %v; want %s, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestUsages(t *testing.T) {
	if u := bufferUsage(gpucore.HeapReadback); u&wgpu.BufferUsageMapRead == 0 || u&wgpu.BufferUsageUniform != 0 {
		t.Errorf("readback usage = %v", u)
	}
	if u := bufferUsage(gpucore.HeapUpload); u&wgpu.BufferUsageUniform == 0 || u&wgpu.BufferUsageVertex == 0 {
		t.Errorf("upload usage = %v", u)
	}
	if u := textureUsage(gpucore.FlagNone); u&wgpu.TextureUsageRenderAttachment != 0 {
		t.Errorf("plain texture is a render attachment: %v", u)
	}
	if u := textureUsage(gpucore.FlagAllowRenderTarget); u&wgpu.TextureUsageRenderAttachment == 0 {
		t.Errorf("render target usage = %v", u)
	}
}

func TestLayoutEntries(t *testing.T) {
	root := &gpucore.RootSignatureDesc{
		Parameters: []gpucore.RootParameter{
			{Kind: gpucore.RootCBV, Visibility: gpucore.VisibilityAll},
			{Kind: gpucore.RootTable, Visibility: gpucore.VisibilityPixel, Ranges: []gpucore.ViewDimension{
				gpucore.ViewDimensionTexture2DArray,
			}},
		},
		StaticSamplers: []gpucore.StaticSampler{{Filter: gpucore.FilterPoint, Visibility: gpucore.VisibilityPixel}},
	}
	entries := layoutEntries(root.Bindings())
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	if entries[0].Buffer.Type != wgpu.BufferBindingTypeUniform {
		t.Errorf("entry 0 is not a uniform buffer")
	}
	if entries[1].Texture.ViewDimension != wgpu.TextureViewDimension2DArray {
		t.Errorf("entry 1 dimension = %v", entries[1].Texture.ViewDimension)
	}
	if entries[2].Sampler.Type != wgpu.SamplerBindingTypeFiltering {
		t.Errorf("entry 2 is not a sampler")
	}
}

func TestTrack(t *testing.T) {
	r := newResource(gpucore.HeapDefault, gpucore.Texture2DDesc(4, 4, 2, gpucore.FormatRGBA8Unorm, gpucore.FlagNone),
		gpucore.StateCopyDest, "tex")
	if err := track(r, gpucore.Transition{Subresource: gpucore.AllSubresources,
		Before: gpucore.StateCopyDest, After: gpucore.StatePixelShaderResource}); err != nil {
		t.Fatal(err)
	}
	if err := track(r, gpucore.Transition{Subresource: 0,
		Before: gpucore.StateCopyDest, After: gpucore.StateCommon}); err == nil {
		t.Error("stale before state: expected error")
	}
}

func TestRegisterNeedsSurface(t *testing.T) {
	if _, err := backend.Open(backend.BackendWebGPU, backend.Config{}); !errors.Is(err, backend.ErrNoSurface) {
		t.Errorf("Open without surface: err = %v, want ErrNoSurface", err)
	}
}

func TestPresentMode(t *testing.T) {
	all := []wgpu.PresentMode{wgpu.PresentModeFifo, wgpu.PresentModeMailbox, wgpu.PresentModeImmediate}
	tests := []struct {
		name      string
		interval  uint32
		supported []wgpu.PresentMode
		want      wgpu.PresentMode
	}{
		{"vsync", 1, all, wgpu.PresentModeFifo},
		{"vsync every other", 2, all, wgpu.PresentModeFifo},
		{"uncapped", 0, all, wgpu.PresentModeImmediate},
		{"uncapped without immediate", 0, all[:2], wgpu.PresentModeMailbox},
		{"fifo only", 0, all[:1], wgpu.PresentModeFifo},
		{"no capabilities", 0, nil, wgpu.PresentModeFifo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := presentMode(tt.interval, tt.supported); got != tt.want {
				t.Errorf("presentMode(%d) = %v, want %v", tt.interval, got, tt.want)
			}
		})
	}
}

func TestFenceRepeatedSignal(t *testing.T) {
	f := &fence{signaled: 3}
	tests := []struct {
		value   uint64
		fresh   bool
		wantErr bool
	}{
		{3, false, false},
		{4, true, false},
		{2, false, true},
	}
	for _, tt := range tests {
		fresh, err := f.next(tt.value)
		if fresh != tt.fresh || (err != nil) != tt.wantErr {
			t.Errorf("next(%d) = %v, %v; want fresh=%v err=%v", tt.value, fresh, err, tt.fresh, tt.wantErr)
		}
	}

	f.pending = append(f.pending, signal{value: 3})
	f.drain()
	if f.completed != 3 || len(f.pending) != 0 {
		t.Errorf("drain: completed=%d pending=%d", f.completed, len(f.pending))
	}
}
