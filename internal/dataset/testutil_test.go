package dataset

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// writePNG writes a size x size grayscale PNG filled with shade.
func writePNG(t *testing.T, path string, size int, shade uint8) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	img := image.NewGray(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

// makeFolder lays out root/<class>/img_<i>.png for every class -> count.
func makeFolder(t *testing.T, counts map[string]int, size int) string {
	t.Helper()
	root := t.TempDir()
	for class, n := range counts {
		for i := 0; i < n; i++ {
			writePNG(t, filepath.Join(root, class, fmt.Sprintf("img_%03d.png", i)), size, uint8(10*i))
		}
	}
	return root
}

// gradient returns a size x size image whose pixel value equals its column.
func gradient(size int) []uint8 {
	pix := make([]uint8, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			pix[y*size+x] = uint8(x)
		}
	}
	return pix
}
