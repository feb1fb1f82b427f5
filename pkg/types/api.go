package types

// RemoveRequest is the JSON body for POST /v1/remove.
type RemoveRequest struct {
	// Source locator: a file path visible to the server or an http(s) URL.
	// example: https://example.com/photo.jpg
	Source string `json:"source" example:"https://example.com/photo.jpg"`
}

// RemoveResponse is returned by POST /v1/remove.
type RemoveResponse struct {
	// Locator of the full-resolution PNG composite.
	// example: /artifacts/2PoC1x3kQqyF2mPZQVd0mPq3K9z
	FullLocator string `json:"full_locator" example:"/artifacts/2PoC1x3kQqyF2mPZQVd0mPq3K9z"`
	// Locator of the downscaled JPEG preview.
	// example: /artifacts/2PoC1xA7nQ0Vv7jY2kCw0sT1b5e
	PreviewLocator string `json:"preview_locator" example:"/artifacts/2PoC1xA7nQ0Vv7jY2kCw0sT1b5e"`
	// Source image width in pixels.
	// example: 3000
	Width int `json:"width" example:"3000"`
	// Source image height in pixels.
	// example: 1500
	Height int `json:"height" example:"1500"`
	// Inference + compositing duration in seconds.
	// example: 1.84
	ProcessingSeconds float64 `json:"processing_time_seconds" example:"1.84"`
}

// ProgressEvent is one progress state, streamed over GET /v1/events and
// embedded in GET /v1/status.
type ProgressEvent struct {
	// Lifecycle phase: idle, downloading, building, ready or error.
	// example: downloading
	Phase string `json:"phase" example:"downloading"`
	// Progress percentage 0..100; 100 only in the ready phase.
	// example: 42
	Progress int `json:"progress" example:"42"`
	// Error message, present only in the error phase.
	Error string `json:"error,omitempty"`
	// Acquisition session the event belongs to.
	// example: 3
	SessionID uint64 `json:"session_id" example:"3"`
}

// StatusResponse is returned by GET /v1/status.
type StatusResponse struct {
	// Latest progress state.
	Progress ProgressEvent `json:"progress"`
	// Model identifier the server is configured for.
	// example: briaai/RMBG-1.4
	ModelID string `json:"model_id" example:"briaai/RMBG-1.4"`
	// Number of artifacts currently retained.
	// example: 4
	Artifacts int `json:"artifacts" example:"4"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
}

// CapabilityResponse is returned by GET /v1/capabilities.
type CapabilityResponse struct {
	// Selected execution backend: webgpu or wasm.
	// example: webgpu
	Device string `json:"device" example:"webgpu"`
	// Numeric precision: fp16 or fp32.
	// example: fp16
	Precision string `json:"precision" example:"fp16"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
