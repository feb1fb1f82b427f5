package inference

import (
	"context"
	"image"

	"rembgd/internal/capability"
)

// Mask is a single-channel probability map in [0,1] at the model's inference
// resolution. It is opaque model output; this core only scales it to bytes.
type Mask struct {
	Data   []float32
	Width  int
	Height int
}

// Bytes scales the probability map to a dense one-byte-per-pixel alpha
// buffer, row-major (0 = background, 255 = foreground).
func (m Mask) Bytes() []byte {
	out := make([]byte, len(m.Data))
	for i, v := range m.Data {
		if v <= 0 {
			continue
		}
		if v >= 1 {
			out[i] = 255
			continue
		}
		out[i] = byte(v*255 + 0.5)
	}
	return out
}

// Model is a ready segmentation handle. Keep this surface small; the numeric
// engine behind it is out of scope.
type Model interface {
	Predict(ctx context.Context, img image.Image) (Mask, error)
}

// Processor holds the companion preprocessing configuration shipped next to
// the model artifact.
type Processor struct {
	Size int        `json:"size"`
	Mean [3]float64 `json:"image_mean"`
	Std  [3]float64 `json:"image_std"`
}

// Loader obtains a ready model/processor pair for a backend selection.
type Loader interface {
	LoadModel(ctx context.Context, modelID string, d capability.Descriptor) (Model, error)
	LoadProcessor(ctx context.Context, modelID string) (*Processor, error)
}

// Runtime compiles downloaded model bytes into a ready Model for the given
// backend. Deployments inject a real implementation; the default reports
// itself unavailable so the HTTP layer can answer 503.
type Runtime interface {
	Compile(ctx context.Context, modelBytes []byte, d capability.Descriptor) (Model, error)
}
