package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"rembgd/internal/capability"
	"rembgd/internal/compose"
	"rembgd/internal/config"
	"rembgd/internal/engine"
	"rembgd/internal/fetchcache"
	"rembgd/internal/httpapi"
	"rembgd/internal/inference"
	"rembgd/internal/progress"
	"rembgd/internal/session"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cfg := config.Config{
		Addr:            envOr("REMBGD_ADDR", ":8080"),
		ModelID:         envOr("REMBGD_MODEL", "briaai/RMBG-1.4"),
		ArtifactBaseURL: envOr("REMBGD_ARTIFACT_BASE_URL", "https://huggingface.co/briaai/RMBG-1.4/resolve/main"),
		LogLevel:        envOr("REMBGD_LOG_LEVEL", "info"),
	}
	var configPath string

	root := &cobra.Command{
		Use:           "rembgd",
		Short:         "Background removal daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (.yaml/.json/.toml); flags override file values")
	root.PersistentFlags().StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address, e.g. :8080")
	root.PersistentFlags().StringVar(&cfg.ModelID, "model", cfg.ModelID, "Model id whose artifacts to load")
	root.PersistentFlags().StringVar(&cfg.ArtifactBaseURL, "artifact-base-url", cfg.ArtifactBaseURL, "Base URL for model weights and processor config")
	root.PersistentFlags().StringVar(&cfg.DefaultDevice, "device", cfg.DefaultDevice, "Force device: wasm skips adapter negotiation")
	root.PersistentFlags().IntVar(&cfg.PreviewMaxPx, "preview-max-px", 0, "Longest preview edge in pixels (0=default)")
	root.PersistentFlags().IntVar(&cfg.StripeRows, "stripe-rows", 0, "Rows per compositing stripe (0=default)")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: trace|debug|info|warn|error")
	root.PersistentFlags().BoolVar(&cfg.CORSEnabled, "cors", false, "Enable permissive CORS for browser clients")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			fileCfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			mergeConfig(&cfg, fileCfg, cmd)
		}
		lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
		if err != nil {
			lvl = zerolog.InfoLevel
		}
		zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(lvl).With().Timestamp().Logger()
		httpapi.SetLogger(zl)
		return nil
	}

	root.AddCommand(buildServeCmd(&cfg), buildRemoveCmd(&cfg), buildProbeCmd(&cfg))
	return root
}

// mergeConfig applies file values for every field whose flag was not set on
// the command line. Flags win over the file, the file wins over built-ins.
func mergeConfig(cfg *config.Config, file config.Config, cmd *cobra.Command) {
	set := func(name string) bool {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			return true
		}
		if f := cmd.PersistentFlags().Lookup(name); f != nil && f.Changed {
			return true
		}
		f := cmd.InheritedFlags().Lookup(name)
		return f != nil && f.Changed
	}
	if file.Addr != "" && !set("addr") {
		cfg.Addr = file.Addr
	}
	if file.ModelID != "" && !set("model") {
		cfg.ModelID = file.ModelID
	}
	if file.ArtifactBaseURL != "" && !set("artifact-base-url") {
		cfg.ArtifactBaseURL = file.ArtifactBaseURL
	}
	if file.DefaultDevice != "" && !set("device") {
		cfg.DefaultDevice = file.DefaultDevice
	}
	if file.PreviewMaxPx != 0 && !set("preview-max-px") {
		cfg.PreviewMaxPx = file.PreviewMaxPx
	}
	if file.StripeRows != 0 && !set("stripe-rows") {
		cfg.StripeRows = file.StripeRows
	}
	if file.LogLevel != "" && !set("log-level") {
		cfg.LogLevel = file.LogLevel
	}
	if file.CORSEnabled && !set("cors") {
		cfg.CORSEnabled = true
	}
}

// runtime bundles every wired component so the serve and remove commands can
// share one construction path.
type runtime struct {
	svc   *engine.Service
	mgr   *session.Manager
	probe *capability.Probe
	bc    *progress.Broadcaster
}

func buildRuntime(cfg config.Config) *runtime {
	bc := progress.New()
	probe := capability.NewProbe(nil)

	var mgr *session.Manager
	transport := fetchcache.Shared(fetchcache.Options{
		Matches: fetchcache.PrefixMatcher(cfg.ArtifactBaseURL),
		Sink:    bc,
		Session: func() uint64 { return mgr.ActiveSession() },
	})
	loader := inference.NewHTTPLoader(transport.Client(), cfg.ArtifactBaseURL, nil)
	mgr = session.NewManager(cfg.ModelID, probe, loader, bc)
	if cfg.DefaultDevice == string(capability.DeviceWASM) {
		mgr.ForceFallbackMode()
	}

	composer := compose.NewEngine(compose.Options{
		StripeRows: cfg.StripeRows,
		PreviewMax: cfg.PreviewMaxPx,
	})
	store := engine.NewStore()
	eng := engine.New(mgr, composer, store, transport.Client())
	svc := engine.NewService(eng, mgr, probe, bc, cfg.ModelID)
	return &runtime{svc: svc, mgr: mgr, probe: probe, bc: bc}
}

func buildServeCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := buildRuntime(*cfg)
			if cfg.CORSEnabled {
				httpapi.SetCORSOptions(true, nil, nil, nil)
			}

			baseCtx, cancelBase := context.WithCancel(context.Background())
			defer cancelBase()
			httpapi.SetBaseContext(baseCtx)

			srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(rt.svc)}
			go func() {
				log.Printf("rembgd listening on %s (model: %s)", cfg.Addr, cfg.ModelID)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("server error: %v", err)
				}
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop
			cancelBase()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				log.Printf("graceful shutdown error: %v", err)
			}
			return nil
		},
	}
}

func buildRemoveCmd(cfg *config.Config) *cobra.Command {
	var out string
	var preview string
	cmd := &cobra.Command{
		Use:   "remove <source>",
		Short: "Remove the background of one image and write the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := buildRuntime(*cfg)
			unsubscribe := rt.svc.Subscribe(func(s progress.State) {
				log.Printf("rembgd phase=%s progress=%d", s.Phase, s.Progress)
			})
			defer unsubscribe()

			res, err := rt.svc.RemoveBackground(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := writeArtifact(rt.svc, res.FullLocator, out); err != nil {
				return err
			}
			if preview != "" {
				if err := writeArtifact(rt.svc, res.PreviewLocator, preview); err != nil {
					return err
				}
			}
			log.Printf("rembgd wrote %s (%dx%d, %.2fs)", out, res.Width, res.Height, res.ProcessingSeconds)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "out.png", "Output path for the full-resolution PNG")
	cmd.Flags().StringVar(&preview, "preview", "", "Optional output path for the JPEG preview")
	return cmd
}

func writeArtifact(svc *engine.Service, locator, path string) error {
	id := strings.TrimPrefix(locator, "/artifacts/")
	art, ok := svc.Artifact(id)
	if !ok {
		return fmt.Errorf("artifact %s not found", id)
	}
	return os.WriteFile(path, art.Data, 0o644)
}

func buildProbeCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Print the negotiated device capability descriptor",
		RunE: func(cmd *cobra.Command, args []string) error {
			probe := capability.NewProbe(nil)
			desc := probe.Probe(cmd.Context())
			if cfg.DefaultDevice == string(capability.DeviceWASM) {
				desc = capability.Fallback()
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(desc)
		},
	}
}
