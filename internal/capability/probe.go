package capability

import (
	"context"
	"log"
	"sync"
)

// Device identifies an execution backend for the inference collaborator.
type Device string

// Precision identifies the numeric precision the backend runs at.
type Precision string

const (
	DeviceWebGPU Device = "webgpu"
	DeviceWASM   Device = "wasm"

	PrecisionFP16 Precision = "fp16"
	PrecisionFP32 Precision = "fp32"
)

// FeatureShaderF16 is the adapter feature gating half-precision execution.
const FeatureShaderF16 = "shader-f16"

// Descriptor is a closed backend selection. Preference order is
// webgpu+fp16 > webgpu+fp32 > wasm+fp32; wasm never pairs with fp16.
type Descriptor struct {
	Device    Device    `json:"device"`
	Precision Precision `json:"precision"`
}

// Fallback is the universal descriptor every environment supports.
func Fallback() Descriptor {
	return Descriptor{Device: DeviceWASM, Precision: PrecisionFP32}
}

// Adapter is a negotiated acceleration handle with a queryable feature set.
type Adapter interface {
	HasFeature(name string) bool
}

// AdapterAPI negotiates hardware adapters. It is the external capability
// interface; a nil API means no acceleration is available.
type AdapterAPI interface {
	RequestAdapter(ctx context.Context) (Adapter, error)
}

// Probe resolves the best available Descriptor. It never returns an error:
// when negotiation is impossible it degrades to Fallback. The negotiated
// adapter is cached so the loader can reuse it without a second negotiation.
type Probe struct {
	api AdapterAPI

	mu      sync.Mutex
	adapter Adapter
}

func NewProbe(api AdapterAPI) *Probe { return &Probe{api: api} }

// Probe inspects the adapter feature set and returns the preferred
// descriptor. Missing API or failed negotiation yields Fallback.
func (p *Probe) Probe(ctx context.Context) Descriptor {
	ad := p.Adapter(ctx)
	if ad == nil {
		return Fallback()
	}
	if ad.HasFeature(FeatureShaderF16) {
		return Descriptor{Device: DeviceWebGPU, Precision: PrecisionFP16}
	}
	return Descriptor{Device: DeviceWebGPU, Precision: PrecisionFP32}
}

// Adapter returns the cached negotiated adapter, negotiating on first use.
// Returns nil when acceleration is unavailable.
func (p *Probe) Adapter(ctx context.Context) Adapter {
	if p == nil || p.api == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.adapter != nil {
		return p.adapter
	}
	ad, err := p.api.RequestAdapter(ctx)
	if err != nil || ad == nil {
		if err != nil {
			log.Printf("capability event=negotiate_fail err=%v", err)
		}
		return nil
	}
	p.adapter = ad
	return p.adapter
}
