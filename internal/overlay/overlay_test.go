package overlay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/banding/backend/soft"
	"github.com/gogpu/banding/internal/cmdlist"
	"github.com/gogpu/banding/internal/descriptor"
	"github.com/gogpu/banding/internal/gpucore"
	"github.com/gogpu/banding/internal/renderpass"
	"github.com/gogpu/banding/internal/resource"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func TestFrameTimer(t *testing.T) {
	var ft FrameTimer
	if ft.Average() != 0 || ft.FPS() != 0 {
		t.Fatal("empty timer must report zero")
	}
	start := time.Unix(0, 0)
	ft.Tick(start)
	ft.Tick(start.Add(10 * time.Millisecond))
	ft.Tick(start.Add(30 * time.Millisecond))
	if got := ft.Average(); got != 15*time.Millisecond {
		t.Errorf("Average = %v, want 15ms", got)
	}

	for i := 0; i < timerWindow; i++ {
		ft.Add(4 * time.Millisecond)
	}
	if got := ft.Average(); got != 4*time.Millisecond {
		t.Errorf("Average after window = %v, want 4ms", got)
	}
	if got := ft.FPS(); got != 250 {
		t.Errorf("FPS = %v, want 250", got)
	}
}

func TestStatsLines(t *testing.T) {
	s := Stats{Backend: "soft", FrameNumber: 12345, NoiseScale: 1.0 / 256, Dithering: true}
	lines := s.lines(message.NewPrinter(language.English))
	want := map[string]string{
		"Backend":           "soft",
		"Frame":             "12,345",
		"Dithering (D)":     "on",
		"VSync (V)":         "off",
		"Noise (1/2/3)":     "White",
		"Distribution (R)":  "Uniform",
		"Noise scale (+/-)": "0.00391",
	}
	for _, l := range lines {
		if w, ok := want[l.label]; ok && l.value != w {
			t.Errorf("%s = %q, want %q", l.label, l.value, w)
		}
	}
	if len(lines)*lineHeight+2*margin > PanelHeight {
		t.Errorf("%d lines do not fit the panel", len(lines))
	}
}

func TestPainterFallbackFont(t *testing.T) {
	p, err := newPainter("/nonexistent/font.ttf")
	if err == nil {
		t.Fatal("missing font file did not fail")
	}
	defer p.close()
	img := p.paint(Stats{Backend: "soft"})
	if img.Bounds().Dx() != PanelWidth || img.Bounds().Dy() != PanelHeight {
		t.Fatalf("panel size = %v", img.Bounds())
	}
	var lit bool
	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i+3] != 0xff {
			t.Fatalf("pixel %d not opaque", i/4)
		}
		if img.Pix[i] > 0x80 {
			lit = true
		}
	}
	if !lit {
		t.Error("basicfont fallback drew no text")
	}
}

func TestOverlayComposite(t *testing.T) {
	const w, h = 400, 260
	dev := soft.New()
	t.Cleanup(func() { _ = dev.Close() })
	res := resource.NewFactory(dev)
	heaps, err := descriptor.CreateHeaps(false)
	if err != nil {
		t.Fatalf("CreateHeaps: %v", err)
	}

	o, err := New(res, heaps.Overlay, gpucore.FormatRGBA8Unorm, w, h)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer o.Close()

	desc := gpucore.Texture2DDesc(w, h, 1, gpucore.FormatRGBA8Unorm, gpucore.FlagAllowRenderTarget)
	bb, _ := dev.CreateCommittedResource(gpucore.HeapDefault, desc, gpucore.StatePresent, "bb")
	res.Adopt(bb, gpucore.HeapDefault, desc, gpucore.StatePresent, true, "BackBuffer0")
	rtv, _ := heaps.RTV.Allocate()
	_ = heaps.RTV.Write(rtv, gpucore.View{Kind: gpucore.ViewRTV, Resource: bb, Dimension: gpucore.ViewDimensionTexture2D})

	fence, _ := dev.CreateFence(0)
	alloc := cmdlist.NewAllocator(dev, fence, "alloc")
	list := cmdlist.New(res, "list", cmdlist.WithHeaps(heaps.RTV))
	if err := list.Reset(alloc); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if err := o.Prepare(list, 0, Stats{Backend: "soft"}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	target := renderpass.Target{BackBuffer: bb, RTV: rtv, Width: w, Height: h}
	list.ResourceBarrier(gpucore.Transition{Resource: bb, Subresource: gpucore.AllSubresources,
		Before: gpucore.StatePresent, After: gpucore.StateRenderTarget})
	list.OMSetRenderTarget(rtv)
	o.Draw(list, target)
	list.ResourceBarrier(gpucore.Transition{Resource: bb, Subresource: gpucore.AllSubresources,
		Before: gpucore.StateRenderTarget, After: gpucore.StatePresent})
	if err := list.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := dev.Queue().Execute(list.Stream()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	res.Commit(list.FinalStates())
	_ = dev.Queue().Signal(fence, 1)
	if err := dev.WaitFence(context.Background(), fence, 1); err != nil {
		t.Fatalf("WaitFence: %v", err)
	}

	px, _ := dev.Contents(bb)
	at := func(x, y int) []byte { i := (y*w + x) * 4; return px[i : i+4] }
	if got := at(11, 11); got[0] != 15 || got[3] != 255 {
		t.Errorf("panel pixel = %v, want background", got)
	}
	if got := at(5, 5); got[3] != 0 {
		t.Errorf("pixel outside the panel = %v, want untouched", got)
	}
	if s, _ := res.State(o.Texture()); s != gpucore.StatePixelShaderResource {
		t.Errorf("panel texture state = %s", s)
	}
}

func TestClosedOverlay(t *testing.T) {
	dev := soft.New()
	t.Cleanup(func() { _ = dev.Close() })
	res := resource.NewFactory(dev)
	heaps, _ := descriptor.CreateHeaps(false)
	o, err := New(res, heaps.Overlay, gpucore.FormatRGBA8Unorm, 64, 64)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	o.Close()
	if res.Len() != 0 {
		t.Errorf("resources left after Close: %d", res.Len())
	}
	if err := o.Prepare(nil, 0, Stats{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Prepare after Close = %v, want ErrClosed", err)
	}
}
