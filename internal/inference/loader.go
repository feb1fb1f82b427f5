package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"rembgd/internal/capability"
)

// Artifact file names relative to <base>/<modelID>/. The fp16 weight variant
// is picked when the descriptor carries half precision.
const (
	weightsFile     = "onnx/model.onnx"
	weightsFileFP16 = "onnx/model_fp16.onnx"
	processorFile   = "preprocessor_config.json"
)

const defaultProcessorSize = 1024

// HTTPLoader fetches model artifacts over HTTP and compiles them with an
// injected Runtime. Route its client through the fetch-cache transport so
// repeated loads never re-download and progress reaches subscribers.
type HTTPLoader struct {
	client  *http.Client
	baseURL string
	runtime Runtime
}

func NewHTTPLoader(client *http.Client, baseURL string, rt Runtime) *HTTPLoader {
	if client == nil {
		client = http.DefaultClient
	}
	if rt == nil {
		rt = unavailableRuntime{}
	}
	return &HTTPLoader{client: client, baseURL: strings.TrimSuffix(baseURL, "/"), runtime: rt}
}

func (l *HTTPLoader) LoadModel(ctx context.Context, modelID string, d capability.Descriptor) (Model, error) {
	file := weightsFile
	if d.Precision == capability.PrecisionFP16 {
		file = weightsFileFP16
	}
	start := time.Now()
	raw, err := l.fetch(ctx, modelID, file)
	if err != nil {
		return nil, ErrModelLoad(modelID, err)
	}
	log.Printf("inference event=weights_fetched model=%q bytes=%d dur_ms=%d", modelID, len(raw), time.Since(start)/time.Millisecond)
	mdl, err := l.runtime.Compile(ctx, raw, d)
	if err != nil {
		if IsRuntimeUnavailable(err) {
			return nil, err
		}
		return nil, ErrModelLoad(modelID, err)
	}
	return mdl, nil
}

func (l *HTTPLoader) LoadProcessor(ctx context.Context, modelID string) (*Processor, error) {
	raw, err := l.fetch(ctx, modelID, processorFile)
	if err != nil {
		return nil, ErrModelLoad(modelID, err)
	}
	p := &Processor{Size: defaultProcessorSize}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, ErrModelLoad(modelID, fmt.Errorf("parse %s: %w", processorFile, err))
	}
	if p.Size <= 0 {
		p.Size = defaultProcessorSize
	}
	return p, nil
}

func (l *HTTPLoader) fetch(ctx context.Context, modelID, file string) ([]byte, error) {
	u := l.baseURL + "/" + modelID + "/" + file
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", u, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// unavailableRuntime is the default when no numeric engine is linked in.
type unavailableRuntime struct{}

func (unavailableRuntime) Compile(context.Context, []byte, capability.Descriptor) (Model, error) {
	return nil, ErrRuntimeUnavailable("inference runtime not available: inject a Runtime implementation")
}
