package compose

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log"
	"math"

	"github.com/nfnt/resize"
)

// Stripe height and preview bound are tunables, not invariants.
const (
	DefaultStripeRows = 512
	DefaultPreviewMax = 450

	previewJPEGQuality = 80
)

// Result carries the encoded composites. Full is lossless PNG so the alpha
// channel survives re-encoding; Preview is JPEG, acceptable for quick
// feedback.
type Result struct {
	Full    []byte
	Preview []byte
	Width   int
	Height  int
}

// Options configures an Engine. Zero values take the package defaults.
type Options struct {
	StripeRows int
	PreviewMax int
}

// Engine merges a per-pixel alpha mask into a source bitmap. The preferred
// path runs on an isolated worker goroutine with buffer ownership handed
// over; when that path cannot run, the identical stripe algorithm executes
// synchronously on the calling goroutine.
type Engine struct {
	stripeRows int
	previewMax int
	offload    offloader
}

func NewEngine(opts Options) *Engine {
	e := &Engine{
		stripeRows: opts.StripeRows,
		previewMax: opts.PreviewMax,
		offload:    workerOffload{},
	}
	if e.stripeRows <= 0 {
		e.stripeRows = DefaultStripeRows
	}
	if e.previewMax <= 0 {
		e.previewMax = DefaultPreviewMax
	}
	return e
}

// Composite overwrites the alpha byte of every pixel in bmp from the
// row-major alpha buffer and encodes full-resolution and preview artifacts.
// Ownership of bmp and alpha transfers to the engine; the caller must not
// touch either afterward. The bitmap is released on every exit path.
func (e *Engine) Composite(ctx context.Context, bmp *image.NRGBA, alpha []byte) (*Result, error) {
	if bmp == nil {
		return nil, ErrInput("missing bitmap")
	}
	w, h := bmp.Rect.Dx(), bmp.Rect.Dy()
	if w <= 0 || h <= 0 {
		release(bmp)
		return nil, ErrInput("zero dimension %dx%d", w, h)
	}
	if len(alpha) != w*h {
		release(bmp)
		return nil, ErrInput("alpha length %d != %dx%d", len(alpha), w, h)
	}
	if err := ctx.Err(); err != nil {
		release(bmp)
		return nil, err
	}

	j := &job{bmp: bmp, alpha: alpha, stripeRows: e.stripeRows, previewMax: e.previewMax}
	defer release(bmp)

	res, err := e.offload.run(j)
	if err == nil {
		return res, nil
	}
	log.Printf("compose event=offload_fail fallback=sync err=%v", err)

	// Correctness of the fallback is identical; only thread-blocking differs.
	res, err = j.composite()
	if err != nil {
		return nil, ErrCompositing(err)
	}
	return res, nil
}

// release drops the transferred pixel buffer so very large bitmaps become
// collectable immediately.
func release(bmp *image.NRGBA) {
	bmp.Pix = nil
	bmp.Rect = image.Rectangle{}
}

// offloader runs a compositing job off the calling goroutine.
type offloader interface {
	run(j *job) (*Result, error)
}

// workerOffload executes the job on a dedicated goroutine, recovering panics
// into errors so the fallback can take over.
type workerOffload struct{}

func (workerOffload) run(j *job) (*Result, error) {
	type outcome struct {
		res *Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("worker panic: %v", r)}
			}
		}()
		res, err := j.composite()
		ch <- outcome{res: res, err: err}
	}()
	out := <-ch
	return out.res, out.err
}

// job owns the transferred buffers for the duration of one composite.
type job struct {
	bmp        *image.NRGBA
	alpha      []byte
	stripeRows int
	previewMax int
}

func (j *job) composite() (*Result, error) {
	j.applyAlpha()

	w, h := j.bmp.Rect.Dx(), j.bmp.Rect.Dy()
	var full bytes.Buffer
	if err := png.Encode(&full, j.bmp); err != nil {
		return nil, fmt.Errorf("encode full: %w", err)
	}
	preview, err := j.encodePreview()
	if err != nil {
		return nil, err
	}
	return &Result{Full: full.Bytes(), Preview: preview, Width: w, Height: h}, nil
}

// applyAlpha processes fixed-height horizontal strips, overwriting only the
// alpha byte of each pixel from the matching row-major offset. Chunking
// bounds peak memory on multi-hundred-megapixel inputs.
func (j *job) applyAlpha() {
	b := j.bmp.Rect
	w, h := b.Dx(), b.Dy()
	for y0 := 0; y0 < h; y0 += j.stripeRows {
		y1 := y0 + j.stripeRows
		if y1 > h {
			y1 = h
		}
		for y := y0; y < y1; y++ {
			row := j.bmp.Pix[j.bmp.PixOffset(b.Min.X, b.Min.Y+y):]
			ai := y * w
			for x := 0; x < w; x++ {
				row[x*4+3] = j.alpha[ai+x]
			}
		}
	}
}

func (j *job) encodePreview() ([]byte, error) {
	w, h := j.bmp.Rect.Dx(), j.bmp.Rect.Dy()
	pw, ph := PreviewDims(w, h, j.previewMax)
	var src image.Image = j.bmp
	if pw != w || ph != h {
		src = resize.Resize(uint(pw), uint(ph), j.bmp, resize.Bilinear)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: previewJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	return buf.Bytes(), nil
}

// PreviewDims applies scale = min(1, max/longest) to both dimensions,
// rounded and floored at one pixel.
func PreviewDims(w, h, previewMax int) (int, int) {
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= 0 {
		return 1, 1
	}
	scale := math.Min(1, float64(previewMax)/float64(longest))
	pw := int(math.Round(float64(w) * scale))
	ph := int(math.Round(float64(h) * scale))
	if pw < 1 {
		pw = 1
	}
	if ph < 1 {
		ph = 1
	}
	return pw, ph
}
