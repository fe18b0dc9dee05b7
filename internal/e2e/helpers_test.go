package e2e

import (
	"bytes"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"emotiond/internal/httpapi"
	"emotiond/internal/inference"
)

const imageSize = 8

// facePNG encodes a flat grayscale square.
func facePNG(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, imageSize, imageSize))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png: %v", err)
	}
	return buf.Bytes()
}

// createImageFolder writes perClass images for each class into
// root/<class>/ and returns root.
func createImageFolder(t *testing.T, perClass int, shades map[string]uint8) string {
	t.Helper()
	root := t.TempDir()
	for class, shade := range shades {
		dir := filepath.Join(root, class)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		for i := 0; i < perClass; i++ {
			p := filepath.Join(dir, "img"+strconv.Itoa(i)+".png")
			if err := os.WriteFile(p, facePNG(t, shade+uint8(i%3)), 0o644); err != nil {
				t.Fatalf("write %s: %v", p, err)
			}
		}
	}
	return root
}

func newServer(t *testing.T, pred *inference.Predictor) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(httpapi.NewMux(pred))
	t.Cleanup(srv.Close)
	return srv
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func postImage(t *testing.T, url string, data []byte) (*http.Response, []byte) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(httpapi.FormField, "face.png")
	if err != nil {
		t.Fatalf("form: %v", err)
	}
	_, _ = fw.Write(data)
	_ = mw.Close()
	resp, err := http.Post(url, mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}
