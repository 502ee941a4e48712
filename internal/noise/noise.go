// Package noise loads the blue noise images the dithering pass samples.
//
// Images are decoded with the registered image decoders (PNG, BMP, TIFF and
// WebP) and expanded to tightly packed RGBA8 with alpha forced to 0xFF. The
// 64 images of the array are decoded in parallel on a worker pool. When the
// data directory does not exist, deterministic noise of the same shape is
// synthesized instead.
package noise

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	// Decoders for image.Decode.
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Carmen-Shannon/automation/tools/worker"

	"github.com/gogpu/banding/internal/dither"
	"github.com/gogpu/banding/internal/gpucore"
	"github.com/gogpu/banding/internal/upload"
)

// ArrayCount is the number of numbered images forming the noise array.
const ArrayCount = dither.ArrayLayers

var (
	// ErrNonUniform is returned when the array images differ in size.
	ErrNonUniform = errors.New("noise: array images differ in size")

	// ErrEmpty is returned for an image with no pixels.
	ErrEmpty = errors.New("noise: empty image")
)

// Dir is the directory under the data root holding the noise images.
const Dir = "blue-noise"

// ArrayPath returns the path of array image i under root.
func ArrayPath(root string, i int) string {
	return filepath.Join(root, Dir, fmt.Sprintf("LDR_RGB1_%d.png", i))
}

// SinglePath returns the path of the single noise image under root.
func SinglePath(root string) string {
	return filepath.Join(root, Dir, "rgb-256.png")
}

// FormatRGBA8 expands img to RGBA8 with every alpha byte set to 0xFF. The
// result always has a zero origin and a stride of width × 4.
func FormatRGBA8(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if src, ok := img.(*image.RGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			copy(out.Pix[y*out.Stride:y*out.Stride+b.Dx()*4], src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):])
		}
	} else {
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				i := y*out.Stride + x*4
				out.Pix[i], out.Pix[i+1], out.Pix[i+2] = c.R, c.G, c.B
			}
		}
	}
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}

// Decode reads one image in any registered format and returns it as RGBA8.
func Decode(r io.Reader) (*image.RGBA, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("noise: decode: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, ErrEmpty
	}
	return FormatRGBA8(img), nil
}

// Load decodes the image file at path.
func Load(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Set is the noise the dithering pass binds: one single image and the
// array layers.
type Set struct {
	Single *image.RGBA
	Array  []*image.RGBA

	// Generated reports that the images were synthesized.
	Generated bool
}

// UploadImages returns the array layers as upload images.
func (s *Set) UploadImages() []upload.Image {
	imgs := make([]upload.Image, len(s.Array))
	for i, img := range s.Array {
		imgs[i] = UploadImage(img)
	}
	return imgs
}

// UploadImage wraps img for the upload protocol.
func UploadImage(img *image.RGBA) upload.Image {
	return upload.Image{
		Pixels: img.Pix,
		Width:  uint32(img.Rect.Dx()),
		Height: uint32(img.Rect.Dy()),
		Stride: 4,
	}
}

// Option configures LoadSet.
type Option func(*loader)

type loader struct {
	log     *slog.Logger
	workers int
	size    int
}

// WithLogger sets the logger used for the load summary and fallbacks.
func WithLogger(l *slog.Logger) Option {
	return func(ld *loader) { ld.log = gpucore.LoggerOr(l) }
}

// WithWorkers sets the number of decode workers.
func WithWorkers(n int) Option {
	return func(ld *loader) {
		if n > 0 {
			ld.workers = n
		}
	}
}

// WithFallbackSize sets the edge length of synthesized images.
func WithFallbackSize(n int) Option {
	return func(ld *loader) {
		if n > 0 {
			ld.size = n
		}
	}
}

// LoadSet loads the single image and the ArrayCount array images from
// root. If root/blue-noise does not exist the set is generated.
func LoadSet(root string, opts ...Option) (*Set, error) {
	ld := &loader{
		log:     gpucore.NopLogger(),
		workers: max(runtime.NumCPU()-1, 1),
		size:    dither.NoiseTile,
	}
	for _, opt := range opts {
		opt(ld)
	}

	if _, err := os.Stat(filepath.Join(root, Dir)); errors.Is(err, fs.ErrNotExist) {
		ld.log.Warn("noise: data directory missing, generating noise",
			"dir", filepath.Join(root, Dir), "size", ld.size)
		return Generate(ld.size, ld.size, ArrayCount), nil
	}

	start := time.Now()
	single, err := Load(SinglePath(root))
	if err != nil {
		return nil, err
	}
	array, err := ld.loadArray(root)
	if err != nil {
		return nil, err
	}
	ld.log.Info("noise: loaded images", "dir", root, "layers", len(array),
		"size", array[0].Rect.Size(), "elapsed", time.Since(start))
	return &Set{Single: single, Array: array}, nil
}

func (ld *loader) loadArray(root string) ([]*image.RGBA, error) {
	pool := worker.NewDynamicWorkerPool(ld.workers, ArrayCount, time.Second)

	array := make([]*image.RGBA, ArrayCount)
	errs := make([]error, ArrayCount)
	var wg sync.WaitGroup
	for i := range array {
		wg.Add(1)
		idx := i
		pool.SubmitTask(worker.Task{
			ID: idx,
			Do: func() (any, error) {
				defer wg.Done()
				array[idx], errs[idx] = Load(ArrayPath(root, idx))
				return nil, errs[idx]
			},
		})
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	size := array[0].Rect.Size()
	for i, img := range array[1:] {
		if img.Rect.Size() != size {
			return nil, fmt.Errorf("%w: layer %d is %v, layer 0 is %v", ErrNonUniform, i+1, img.Rect.Size(), size)
		}
	}
	return array, nil
}

// Generate synthesizes a noise set whose single image and each of the
// layers array images are width × height. The output depends only on the
// arguments.
func Generate(width, height, layers int) *Set {
	s := &Set{Single: generate(width, height, 0x9e3779b9), Generated: true}
	s.Array = make([]*image.RGBA, layers)
	for i := range s.Array {
		s.Array[i] = generate(width, height, uint32(i+1)*0x85ebca6b)
	}
	return s
}

func generate(width, height int, seed uint32) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			h := dither.PCG(uint32(y*width+x) ^ seed)
			i := y*img.Stride + x*4
			img.Pix[i] = uint8(h)
			img.Pix[i+1] = uint8(h >> 8)
			img.Pix[i+2] = uint8(h >> 16)
			img.Pix[i+3] = 0xff
		}
	}
	return img
}
