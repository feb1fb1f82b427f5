package engine

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	xdraw "golang.org/x/image/draw"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"rembgd/internal/compose"
	"rembgd/internal/session"
)

// Result is the published outcome of one removal call.
type Result struct {
	FullLocator       string
	PreviewLocator    string
	Width             int
	Height            int
	ProcessingSeconds float64
}

// Engine is the end-to-end orchestrator: obtain a session, run inference,
// resample and validate the mask, composite, publish artifact locators.
type Engine struct {
	sessions *session.Manager
	composer *compose.Engine
	store    *Store
	client   *http.Client
}

func New(sessions *session.Manager, composer *compose.Engine, store *Store, client *http.Client) *Engine {
	if client == nil {
		client = http.DefaultClient
	}
	return &Engine{sessions: sessions, composer: composer, store: store, client: client}
}

// Store exposes the artifact store backing the returned locators.
func (e *Engine) Store() *Store { return e.store }

// RemoveBackground removes the background from the image at source, which
// may be a file path or an http(s) URL. Only the inference+composite phase
// counts toward the reported processing duration.
func (e *Engine) RemoveBackground(ctx context.Context, source string) (*Result, error) {
	if strings.TrimSpace(source) == "" {
		return nil, ErrInput("empty source locator")
	}

	handles, err := e.sessions.Load(ctx)
	if err != nil {
		return nil, err
	}

	img, err := e.loadImage(ctx, source)
	if err != nil {
		return nil, err
	}
	bmp := toNRGBA(img)
	w, h := bmp.Rect.Dx(), bmp.Rect.Dy()
	if w == 0 || h == 0 {
		return nil, ErrInput("source image has zero dimension")
	}

	start := time.Now()

	mask, err := handles.Model.Predict(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	if len(mask.Data) != mask.Width*mask.Height {
		return nil, ErrMaskMismatch(len(mask.Data), mask.Width*mask.Height)
	}

	alpha := resampleMask(mask.Bytes(), mask.Width, mask.Height, w, h)
	if len(alpha) != w*h {
		return nil, ErrMaskMismatch(len(alpha), w*h)
	}

	res, err := e.composer.Composite(ctx, bmp, alpha)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start).Seconds()

	full := e.store.Put("image/png", res.Full)
	preview := e.store.Put("image/jpeg", res.Preview)
	log.Printf("engine event=removed size=%dx%d full=%s preview=%s dur_s=%.3f", w, h, full.ID, preview.ID, elapsed)

	return &Result{
		FullLocator:       full.Locator(),
		PreviewLocator:    preview.Locator(),
		Width:             w,
		Height:            h,
		ProcessingSeconds: elapsed,
	}, nil
}

func (e *Engine) loadImage(ctx context.Context, source string) (image.Image, error) {
	var r io.ReadCloser
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, ErrInput("bad source URL %q: %v", source, err)
		}
		resp, err := e.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch source: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, ErrInput("source URL returned status %d", resp.StatusCode)
		}
		r = resp.Body
	} else {
		f, err := os.Open(source)
		if err != nil {
			return nil, ErrInput("open source: %v", err)
		}
		r = f
	}
	defer r.Close()

	img, _, err := image.Decode(r)
	if err != nil {
		return nil, ErrInput("decode source: %v", err)
	}
	return img, nil
}

// toNRGBA copies the decoded image into a non-premultiplied surface the
// compositor can own outright.
func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, img, b.Min, draw.Src)
	return dst
}

// resampleMask scales a row-major byte mask from the inference resolution to
// the source resolution. Nearest-neighbor: no smoothing is added beyond what
// the collaborator itself applies.
func resampleMask(mask []byte, mw, mh, w, h int) []byte {
	if mw == w && mh == h {
		return mask
	}
	src := &image.Gray{Pix: mask, Stride: mw, Rect: image.Rect(0, 0, mw, mh)}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	xdraw.NearestNeighbor.Scale(dst, dst.Rect, src, src.Rect, xdraw.Src, nil)
	return dst.Pix
}
