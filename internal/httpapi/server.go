package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rembgd/internal/capability"
	"rembgd/internal/compose"
	"rembgd/internal/engine"
	"rembgd/internal/fetchcache"
	"rembgd/internal/inference"
	"rembgd/internal/progress"
	"rembgd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	RemoveBackground(ctx context.Context, source string) (*engine.Result, error)
	Artifact(id string) (engine.Artifact, bool)
	DeleteArtifact(id string) bool
	Capabilities(ctx context.Context) capability.Descriptor
	ForceFallbackMode()
	Status() types.StatusResponse
	Subscribe(fn progress.Listener) (unsubscribe func())
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	r.Use(MetricsMiddleware)

	r.Post("/v1/remove", func(w http.ResponseWriter, r *http.Request) {
		handleRemove(svc, w, r)
	})

	r.Get("/v1/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Status()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	})

	r.Get("/v1/capabilities", func(w http.ResponseWriter, r *http.Request) {
		d := svc.Capabilities(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.CapabilityResponse{
			Device:    string(d.Device),
			Precision: string(d.Precision),
		})
	})

	r.Post("/v1/fallback", func(w http.ResponseWriter, r *http.Request) {
		svc.ForceFallbackMode()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "fallback armed"})
	})

	r.Get("/v1/events", func(w http.ResponseWriter, r *http.Request) {
		handleEvents(svc, w, r)
	})

	r.Get("/artifacts/{id}", func(w http.ResponseWriter, r *http.Request) {
		a, ok := svc.Artifact(chi.URLParam(r, "id"))
		if !ok {
			writeJSONError(w, http.StatusNotFound, "artifact not found")
			return
		}
		w.Header().Set("Content-Type", a.ContentType)
		w.Header().Set("Cache-Control", "no-store")
		w.Write(a.Data)
	})

	r.Delete("/artifacts/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !svc.DeleteArtifact(chi.URLParam(r, "id")) {
			writeJSONError(w, http.StatusNotFound, "artifact not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

func handleRemove(svc Service, w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	lvl := requestLogLevel(r)

	source, cleanup, err := extractSource(w, r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if cleanup != nil {
		defer cleanup()
	}

	// Join server base context with request context so shutdown cancels work too.
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	res, err := svc.RemoveBackground(ctx, source)
	if err != nil {
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		status := statusFor(err)
		removalsTotal.WithLabelValues("error").Inc()
		writeJSONError(w, status, err.Error())
		logRemove(r, lvl, status, time.Since(start), err)
		return
	}
	removalsTotal.WithLabelValues("ok").Inc()
	removalDuration.Observe(res.ProcessingSeconds)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(types.RemoveResponse{
		FullLocator:       res.FullLocator,
		PreviewLocator:    res.PreviewLocator,
		Width:             res.Width,
		Height:            res.Height,
		ProcessingSeconds: res.ProcessingSeconds,
	})
	logRemove(r, lvl, http.StatusOK, time.Since(start), nil)
}

// extractSource pulls the source locator from a JSON body or stages an
// uploaded multipart image into a temp file. cleanup removes the staged file.
func extractSource(w http.ResponseWriter, r *http.Request) (string, func(), error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case ct == "application/json":
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.RemoveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", nil, fmt.Errorf("invalid JSON body")
		}
		if strings.TrimSpace(req.Source) == "" {
			return "", nil, fmt.Errorf("source is required")
		}
		return req.Source, nil, nil
	case strings.HasPrefix(ct, "multipart/"):
		f, hdr, err := r.FormFile("image")
		if err != nil {
			return "", nil, fmt.Errorf("multipart field %q is required", "image")
		}
		defer f.Close()
		tmp, err := os.CreateTemp("", "rembgd-upload-*"+filepath.Ext(hdr.Filename))
		if err != nil {
			return "", nil, fmt.Errorf("stage upload: %v", err)
		}
		if _, err := tmp.ReadFrom(f); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return "", nil, fmt.Errorf("stage upload: %v", err)
		}
		tmp.Close()
		name := tmp.Name()
		return name, func() { os.Remove(name) }, nil
	default:
		return "", nil, fmt.Errorf("Content-Type must be application/json or multipart/form-data")
	}
}

// statusFor maps well-known domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case engine.IsInput(err) || compose.IsInput(err):
		return http.StatusBadRequest
	case engine.IsMaskMismatch(err):
		return http.StatusUnprocessableEntity
	case fetchcache.IsTransfer(err):
		return http.StatusBadGateway
	case inference.IsRuntimeUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		var he HTTPError
		if errors.As(err, &he) {
			return he.StatusCode()
		}
		return http.StatusInternalServerError
	}
}

func logRemove(r *http.Request, lvl LogLevel, status int, dur time.Duration, err error) {
	if lvl < LevelInfo && !(lvl >= LevelError && err != nil) {
		return
	}
	if zlog != nil {
		z := zlog.Info().Int("status", status).Dur("dur", dur).Str("path", r.URL.Path)
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			z = z.Str("request_id", rid)
		}
		if err != nil {
			z = z.Err(err)
		}
		z.Msg("remove end")
		return
	}
	if err != nil {
		log.Printf("remove end status=%d dur=%s err=%v", status, dur, err)
		return
	}
	log.Printf("remove end status=%d dur=%s", status, dur)
}

// handleEvents streams progress states as server-sent events, replaying the
// current state first.
func handleEvents(svc Service, w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Buffered so a slow client drops intermediate states instead of
	// blocking the broadcaster.
	ch := make(chan progress.State, 16)
	unsubscribe := svc.Subscribe(func(s progress.State) {
		select {
		case ch <- s:
		default:
		}
	})
	defer unsubscribe()

	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-ch:
			if _, err := fmt.Fprint(w, "data: "); err != nil {
				return
			}
			if err := enc.Encode(types.ProgressEvent{
				Phase:     string(s.Phase),
				Progress:  s.Progress,
				Error:     s.Err,
				SessionID: s.SessionID,
			}); err != nil {
				return
			}
			if _, err := fmt.Fprint(w, "\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
