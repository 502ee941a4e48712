package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"time"

	"github.com/gogpu/banding/internal/dither"
	"github.com/gogpu/gg"
	"github.com/gogpu/gg/text"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Panel dimensions. The width keeps the row pitch a multiple of 256 bytes.
const (
	PanelWidth  = 320
	PanelHeight = 240

	lineHeight = 16
	margin     = 10
	fontSize   = 13
)

// Stats is what the panel shows.
type Stats struct {
	Backend      string
	FrameTime    time.Duration
	FPS          float64
	FrameNumber  uint32
	VSync        bool
	AnimateLight bool
	Tonemapping  bool
	Dithering    bool
	NoiseType    dither.NoiseType
	Distribution dither.Distribution
	ShowNoise    bool
	NoiseScale   float32
	Waits        uint64
	Blocked      time.Duration
}

type line struct{ label, value string }

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (s Stats) lines(p *message.Printer) []line {
	return []line{
		{"Backend", s.Backend},
		{"Frame time", p.Sprintf("%.2f ms", float64(s.FrameTime.Microseconds())/1000)},
		{"FPS", p.Sprintf("%.0f", s.FPS)},
		{"Frame", p.Sprintf("%d", s.FrameNumber)},
		{"VSync (V)", onOff(s.VSync)},
		{"Animate light (L)", onOff(s.AnimateLight)},
		{"Tonemapping (T)", onOff(s.Tonemapping)},
		{"Dithering (D)", onOff(s.Dithering)},
		{"Noise (1/2/3)", s.NoiseType.String()},
		{"Distribution (R)", s.Distribution.String()},
		{"Show noise (N)", onOff(s.ShowNoise)},
		{"Noise scale (+/-)", p.Sprintf("%.5f", s.NoiseScale)},
		{"GPU waits", p.Sprintf("%d (%.1f ms)", s.Waits, float64(s.Blocked.Microseconds())/1000)},
	}
}

// painter renders the stats panel into an RGBA image.
type painter struct {
	ctx     *gg.Context
	face    text.Face
	printer *message.Printer
}

func newPainter(fontPath string) (*painter, error) {
	p := &painter{
		ctx:     gg.NewContext(PanelWidth, PanelHeight),
		printer: message.NewPrinter(language.English),
	}
	var (
		src *text.FontSource
		err error
	)
	if fontPath != "" {
		src, err = text.NewFontSourceFromFile(fontPath)
	} else {
		src, err = text.NewFontSource(goregular.TTF)
	}
	if err != nil {
		return p, err
	}
	p.face = src.Face(fontSize)
	p.ctx.SetFont(p.face)
	return p, nil
}

func (p *painter) close() {
	_ = p.ctx.Close()
}

var (
	panelBackground = gg.RGBA2(0.06, 0.06, 0.08, 1)
	labelColor      = color.RGBA{R: 0xa0, G: 0xa8, B: 0xb8, A: 0xff}
	valueColor      = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

// paint draws s and returns the panel pixels, fully opaque.
func (p *painter) paint(s Stats) *image.RGBA {
	p.ctx.ClearWithColor(panelBackground)
	lines := s.lines(p.printer)
	if p.face != nil {
		for i, l := range lines {
			y := float64(margin + (i+1)*lineHeight - 4)
			p.ctx.SetColor(labelColor)
			p.ctx.DrawString(l.label, margin, y)
			p.ctx.SetColor(valueColor)
			p.ctx.DrawString(l.value, PanelWidth/2+margin, y)
		}
		return toRGBA(p.ctx.Image())
	}

	img := toRGBA(p.ctx.Image())
	d := &font.Drawer{Dst: img, Face: basicfont.Face7x13}
	for i, l := range lines {
		y := margin + (i+1)*lineHeight - 4
		d.Src = image.NewUniform(labelColor)
		d.Dot = fixed.P(margin, y)
		d.DrawString(l.label)
		d.Src = image.NewUniform(valueColor)
		d.Dot = fixed.P(PanelWidth/2+margin, y)
		d.DrawString(l.value)
	}
	return img
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	out := image.NewRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out
}
