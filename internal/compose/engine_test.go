package compose

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func decodeJPEGConfig(b []byte) (image.Config, error) {
	return jpeg.DecodeConfig(bytes.NewReader(b))
}

func solidBitmap(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func uniformAlpha(w, h int, v byte) []byte {
	a := make([]byte, w*h)
	for i := range a {
		a[i] = v
	}
	return a
}

func decodePNG(t *testing.T, b []byte) *image.NRGBA {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	n, ok := img.(*image.NRGBA)
	if !ok {
		t.Fatalf("expected NRGBA png, got %T", img)
	}
	return n
}

// failingOffload forces the fallback path.
type failingOffload struct{}

func (failingOffload) run(*job) (*Result, error) { return nil, errors.New("offload unavailable") }

func TestCompositeUniformAlphaPreservesColor(t *testing.T) {
	const w, h = 64, 48
	src := color.NRGBA{R: 200, G: 40, B: 90, A: 255}
	e := NewEngine(Options{})

	res, err := e.Composite(context.Background(), solidBitmap(w, h, src), uniformAlpha(w, h, 128))
	if err != nil {
		t.Fatalf("composite: %v", err)
	}
	if res.Width != w || res.Height != h {
		t.Fatalf("unexpected dims %dx%d", res.Width, res.Height)
	}
	out := decodePNG(t, res.Full)
	if out.Rect.Dx() != w || out.Rect.Dy() != h {
		t.Fatalf("decoded size %v", out.Rect)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := out.NRGBAAt(x, y)
			if px.A == 0 || px.A == 255 {
				t.Fatalf("pixel (%d,%d) alpha %d should be partial", x, y, px.A)
			}
			if px.R != src.R || px.G != src.G || px.B != src.B {
				t.Fatalf("pixel (%d,%d) color changed: %+v", x, y, px)
			}
		}
	}
	if len(res.Preview) == 0 {
		t.Fatalf("missing preview")
	}
}

func TestCompositeAlphaMismatchRejectedBeforeProcessing(t *testing.T) {
	e := NewEngine(Options{})
	bmp := solidBitmap(10, 10, color.NRGBA{A: 255})
	_, err := e.Composite(context.Background(), bmp, make([]byte, 99))
	if err == nil || !IsInput(err) {
		t.Fatalf("expected input error, got %v", err)
	}
}

func TestCompositeRejectsMissingBitmapAndZeroDims(t *testing.T) {
	e := NewEngine(Options{})
	if _, err := e.Composite(context.Background(), nil, nil); !IsInput(err) {
		t.Fatalf("expected input error for nil bitmap, got %v", err)
	}
	empty := image.NewNRGBA(image.Rect(0, 0, 0, 0))
	if _, err := e.Composite(context.Background(), empty, nil); !IsInput(err) {
		t.Fatalf("expected input error for zero dims, got %v", err)
	}
}

func TestFallbackProducesIdenticalAlpha(t *testing.T) {
	const w, h = 37, 23 // not a stripe multiple
	src := color.NRGBA{R: 10, G: 200, B: 30, A: 255}
	alpha := make([]byte, w*h)
	for i := range alpha {
		alpha[i] = byte(i % 251)
	}

	worker := NewEngine(Options{StripeRows: 8})
	a := append([]byte(nil), alpha...)
	resWorker, err := worker.Composite(context.Background(), solidBitmap(w, h, src), a)
	if err != nil {
		t.Fatalf("worker composite: %v", err)
	}

	forced := NewEngine(Options{StripeRows: 8})
	forced.offload = failingOffload{}
	b := append([]byte(nil), alpha...)
	resFallback, err := forced.Composite(context.Background(), solidBitmap(w, h, src), b)
	if err != nil {
		t.Fatalf("fallback composite: %v", err)
	}

	iw := decodePNG(t, resWorker.Full)
	if2 := decodePNG(t, resFallback.Full)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			wa := iw.NRGBAAt(x, y).A
			fa := if2.NRGBAAt(x, y).A
			if wa != fa {
				t.Fatalf("alpha differs at (%d,%d): worker=%d fallback=%d", x, y, wa, fa)
			}
			if wa != alpha[y*w+x] {
				t.Fatalf("alpha not applied at (%d,%d): got %d want %d", x, y, wa, alpha[y*w+x])
			}
		}
	}
}

func TestBitmapReleasedAfterComposite(t *testing.T) {
	e := NewEngine(Options{})
	bmp := solidBitmap(8, 8, color.NRGBA{A: 255})
	if _, err := e.Composite(context.Background(), bmp, uniformAlpha(8, 8, 200)); err != nil {
		t.Fatalf("composite: %v", err)
	}
	if bmp.Pix != nil {
		t.Fatalf("transferred bitmap not released")
	}
}

func TestPreviewDims(t *testing.T) {
	cases := []struct {
		w, h, max, pw, ph int
	}{
		{3000, 1500, 450, 450, 225},
		{1500, 3000, 450, 225, 450},
		{100, 50, 450, 100, 50}, // never upscale
		{10000, 1, 450, 450, 1}, // floor at 1px
	}
	for _, c := range cases {
		pw, ph := PreviewDims(c.w, c.h, c.max)
		if pw != c.pw || ph != c.ph {
			t.Fatalf("PreviewDims(%d,%d,%d) = %dx%d, want %dx%d", c.w, c.h, c.max, pw, ph, c.pw, c.ph)
		}
	}
}

func TestPreviewDownscaled(t *testing.T) {
	const w, h = 900, 450
	e := NewEngine(Options{PreviewMax: 300})
	res, err := e.Composite(context.Background(), solidBitmap(w, h, color.NRGBA{R: 1, A: 255}), uniformAlpha(w, h, 255))
	if err != nil {
		t.Fatalf("composite: %v", err)
	}
	cfg, err := decodeJPEGConfig(res.Preview)
	if err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if cfg.Width != 300 || cfg.Height != 150 {
		t.Fatalf("preview dims %dx%d, want 300x150", cfg.Width, cfg.Height)
	}
}
