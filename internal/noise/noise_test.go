package noise

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

func writePNG(t *testing.T, path string, w, h int, seed uint8) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = seed + uint8(i)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func makeDataDir(t *testing.T, size func(i int) int) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, Dir), 0o755); err != nil {
		t.Fatal(err)
	}
	writePNG(t, SinglePath(root), 8, 8, 7)
	for i := 0; i < ArrayCount; i++ {
		n := size(i)
		writePNG(t, ArrayPath(root, i), n, n, uint8(i))
	}
	return root
}

func TestFormatRGBA8ForcesAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(2, 3, 6, 5))
	for i := range src.Pix {
		src.Pix[i] = 0x10
	}
	src.SetNRGBA(2, 3, color.NRGBA{R: 1, G: 2, B: 3, A: 0xff})

	out := FormatRGBA8(src)
	if out.Rect != image.Rect(0, 0, 4, 2) || out.Stride != 16 {
		t.Fatalf("rect %v stride %d", out.Rect, out.Stride)
	}
	if got := out.Pix[:4]; !bytes.Equal(got, []byte{1, 2, 3, 0xff}) {
		t.Errorf("first pixel = %v", got)
	}
	for i := 3; i < len(out.Pix); i += 4 {
		if out.Pix[i] != 0xff {
			t.Fatalf("alpha at %d = %#x", i/4, out.Pix[i])
		}
	}
}

func TestDecodeFormats(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range src.Pix {
		src.Pix[i] = uint8(i * 3)
	}
	for i := 3; i < len(src.Pix); i += 4 {
		src.Pix[i] = 0xff
	}

	tests := []struct {
		name   string
		encode func(*bytes.Buffer) error
	}{
		{"png", func(b *bytes.Buffer) error { return png.Encode(b, src) }},
		{"bmp", func(b *bytes.Buffer) error { return bmp.Encode(b, src) }},
		{"tiff", func(b *bytes.Buffer) error { return tiff.Encode(b, src, nil) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := tt.encode(&buf); err != nil {
				t.Fatal(err)
			}
			img, err := Decode(&buf)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !bytes.Equal(img.Pix, src.Pix) {
				t.Errorf("decoded pixels differ")
			}
		})
	}

	if _, err := Decode(bytes.NewReader([]byte("not an image"))); err == nil {
		t.Error("Decode accepted garbage")
	}
}

func TestLoadSet(t *testing.T) {
	root := makeDataDir(t, func(int) int { return 4 })
	set, err := LoadSet(root, WithWorkers(3))
	if err != nil {
		t.Fatalf("LoadSet: %v", err)
	}
	if set.Generated {
		t.Error("set reported as generated")
	}
	if len(set.Array) != ArrayCount || set.Single.Rect.Dx() != 8 {
		t.Fatalf("array %d single %v", len(set.Array), set.Single.Rect)
	}
	for i, img := range set.Array {
		if img.Pix[0] != uint8(i) {
			t.Fatalf("layer %d holds image %d", i, img.Pix[0])
		}
	}
	imgs := set.UploadImages()
	if imgs[5].Width != 4 || imgs[5].Stride != 4 || len(imgs[5].Pixels) != 64 {
		t.Errorf("upload image = %+v", imgs[5])
	}
}

func TestLoadSetErrors(t *testing.T) {
	t.Run("non-uniform", func(t *testing.T) {
		root := makeDataDir(t, func(i int) int {
			if i == 10 {
				return 8
			}
			return 4
		})
		if _, err := LoadSet(root); !errors.Is(err, ErrNonUniform) {
			t.Errorf("err = %v, want ErrNonUniform", err)
		}
	})
	t.Run("missing layer", func(t *testing.T) {
		root := makeDataDir(t, func(int) int { return 4 })
		if err := os.Remove(ArrayPath(root, 63)); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadSet(root); !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("err = %v, want fs.ErrNotExist", err)
		}
	})
}

func TestLoadSetGeneratesWithoutData(t *testing.T) {
	set, err := LoadSet(filepath.Join(t.TempDir(), "absent"), WithFallbackSize(16))
	if err != nil {
		t.Fatalf("LoadSet: %v", err)
	}
	if !set.Generated || len(set.Array) != ArrayCount || set.Single.Rect.Dx() != 16 {
		t.Fatalf("generated set = %v layers, single %v", len(set.Array), set.Single.Rect)
	}

	again := Generate(16, 16, ArrayCount)
	if !bytes.Equal(set.Array[9].Pix, again.Array[9].Pix) {
		t.Error("Generate is not deterministic")
	}
	if bytes.Equal(set.Array[0].Pix, set.Array[1].Pix) {
		t.Error("layers are identical")
	}
	for i := 3; i < len(set.Single.Pix); i += 4 {
		if set.Single.Pix[i] != 0xff {
			t.Fatal("generated alpha is not opaque")
		}
	}
}
