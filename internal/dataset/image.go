package dataset

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math/rand/v2"
	"os"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultImageSize is the FER2013 side length.
const DefaultImageSize = 48

// MaxPixels caps the declared size of a decoded image. Headers are checked
// before pixel data is allocated.
const MaxPixels = 4096 * 4096

// ImageTooLargeError reports an image whose header declares more than
// MaxPixels pixels.
type ImageTooLargeError struct {
	Width, Height int
}

func (e ImageTooLargeError) Error() string {
	return fmt.Sprintf("image %dx%d exceeds %d pixels", e.Width, e.Height, MaxPixels)
}

// DecodeGray decodes an image of any registered format, converts it to a
// single grayscale channel and resizes it to size x size. The result is
// row-major, one byte per pixel.
func DecodeGray(r io.Reader, size int) ([]uint8, error) {
	if size <= 0 {
		return nil, fmt.Errorf("image size %d must be positive", size)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, ImageTooLargeError{Width: cfg.Width, Height: cfg.Height}
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("decode image: empty %s image", format)
	}
	dst := image.NewGray(image.Rect(0, 0, size, size))
	if b.Dx() == size && b.Dy() == size {
		xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Src)
	} else {
		xdraw.BiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	}
	return dst.Pix, nil
}

// LoadGray opens path and decodes it with DecodeGray.
func LoadGray(path string, size int) ([]uint8, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pix, err := DecodeGray(f, size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pix, nil
}

// Transform turns a size x size grayscale image into network input in [0, 1].
type Transform struct {
	Size int
	// HFlip mirrors the image left-right with probability 0.5.
	HFlip bool
	// CropPad zero-pads each side by CropPad pixels and takes a random
	// Size x Size crop of the result. Zero disables cropping.
	CropPad int
}

// TrainTransform is grayscale + random horizontal flip + random crop.
func TrainTransform(size, cropPad int) Transform {
	return Transform{Size: size, HFlip: true, CropPad: cropPad}
}

// EvalTransform is grayscale only.
func EvalTransform(size int) Transform { return Transform{Size: size} }

// Apply converts pix to floats, applying the random parts of the transform
// with rng. rng may be nil for a deterministic transform.
func (t Transform) Apply(pix []uint8, rng *rand.Rand) []float64 {
	n := t.Size
	out := make([]float64, n*n)
	flip := t.HFlip && rng != nil && rng.IntN(2) == 1
	ox, oy := 0, 0
	if t.CropPad > 0 && rng != nil {
		ox = rng.IntN(2*t.CropPad+1) - t.CropPad
		oy = rng.IntN(2*t.CropPad+1) - t.CropPad
	}
	for y := 0; y < n; y++ {
		sy := y + oy
		if sy < 0 || sy >= n {
			continue
		}
		for x := 0; x < n; x++ {
			sx := x + ox
			if sx < 0 || sx >= n {
				continue
			}
			if flip {
				sx = n - 1 - sx
			}
			out[y*n+x] = float64(pix[sy*n+sx]) / 255
		}
	}
	return out
}
