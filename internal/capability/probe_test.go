package capability

import (
	"context"
	"errors"
	"testing"
)

type fakeAdapter struct{ features map[string]bool }

func (f *fakeAdapter) HasFeature(name string) bool { return f.features[name] }

type fakeAPI struct {
	adapter *fakeAdapter
	err     error
	calls   int
}

func (f *fakeAPI) RequestAdapter(ctx context.Context) (Adapter, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.adapter, nil
}

func TestProbeNoAPIFallsBack(t *testing.T) {
	p := NewProbe(nil)
	if got := p.Probe(context.Background()); got != Fallback() {
		t.Fatalf("expected fallback, got %+v", got)
	}
}

func TestProbeNegotiationFailureFallsBack(t *testing.T) {
	p := NewProbe(&fakeAPI{err: errors.New("no adapter")})
	if got := p.Probe(context.Background()); got != Fallback() {
		t.Fatalf("expected fallback on negotiation failure, got %+v", got)
	}
}

func TestProbePrefersHalfPrecision(t *testing.T) {
	p := NewProbe(&fakeAPI{adapter: &fakeAdapter{features: map[string]bool{FeatureShaderF16: true}}})
	got := p.Probe(context.Background())
	if got.Device != DeviceWebGPU || got.Precision != PrecisionFP16 {
		t.Fatalf("expected webgpu/fp16, got %+v", got)
	}
}

func TestProbeWithoutF16UsesFP32(t *testing.T) {
	p := NewProbe(&fakeAPI{adapter: &fakeAdapter{features: map[string]bool{}}})
	got := p.Probe(context.Background())
	if got.Device != DeviceWebGPU || got.Precision != PrecisionFP32 {
		t.Fatalf("expected webgpu/fp32, got %+v", got)
	}
}

func TestAdapterNegotiatedOnce(t *testing.T) {
	api := &fakeAPI{adapter: &fakeAdapter{}}
	p := NewProbe(api)
	ctx := context.Background()
	p.Probe(ctx)
	p.Probe(ctx)
	if ad := p.Adapter(ctx); ad == nil {
		t.Fatalf("expected cached adapter")
	}
	if api.calls != 1 {
		t.Fatalf("expected one negotiation, got %d", api.calls)
	}
}

func TestWASMNeverPairsWithFP16(t *testing.T) {
	if f := Fallback(); f.Device == DeviceWASM && f.Precision == PrecisionFP16 {
		t.Fatalf("fallback pairs wasm with fp16")
	}
}
