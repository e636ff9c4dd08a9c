// Command tutorlive serves the math tutor: one-shot Gemini requests over a
// JSON API and live voice sessions over WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tutorlive/internal/api"
	"github.com/MrWong99/tutorlive/internal/config"
	"github.com/MrWong99/tutorlive/internal/gateway"
	"github.com/MrWong99/tutorlive/internal/health"
	"github.com/MrWong99/tutorlive/internal/history"
	"github.com/MrWong99/tutorlive/internal/history/postgres"
	"github.com/MrWong99/tutorlive/internal/history/redisstore"
	"github.com/MrWong99/tutorlive/internal/live"
	"github.com/MrWong99/tutorlive/internal/observe"
	"github.com/MrWong99/tutorlive/internal/resilience"
	providerlive "github.com/MrWong99/tutorlive/pkg/provider/live"
	geminilive "github.com/MrWong99/tutorlive/pkg/provider/live/gemini"
	"github.com/MrWong99/tutorlive/pkg/provider/stt"
	oaistt "github.com/MrWong99/tutorlive/pkg/provider/stt/openai"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload the log level when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "tutorlive: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "tutorlive: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("tutorlive starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Traces:         cfg.Telemetry.Traces,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Backends ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	store, closeStore, err := reg.CreateHistory(ctx, cfg.History)
	if err != nil {
		slog.Error("failed to open history store", "backend", cfg.History.Backend, "err", err)
		return 1
	}
	defer closeStore()
	slog.Info("history store ready", "backend", cfg.History.Backend, "limit", cfg.History.Limit)

	gw, err := buildGateway(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build gateway", "err", err)
		return 1
	}
	if !gw.HasCredential() {
		slog.Warn("no API key found; requests will fail until it is set", "env", cfg.Gemini.APIKeyEnv)
	}

	apiOpts := []api.Option{
		api.WithLimits(cfg.Limits.MaxUploadBytes(), cfg.Limits.MaxVideoBytes()),
		api.WithOriginPatterns(cfg.Server.AllowedOrigins...),
		api.WithMetrics(metrics),
	}
	var sessions *live.Manager
	if !cfg.Live.Disabled {
		sessions = live.NewManager(slog.Default())
		apiOpts = append(apiOpts, api.WithLive(sessions, liveFactory(cfg.Live), providerlive.SessionConfig{
			Voice:        pick(cfg.Live.Voice, geminilive.DefaultVoice),
			Instructions: pick(cfg.Live.Instructions, geminilive.DefaultInstructions),
		}))
	}

	// ── HTTP ──────────────────────────────────────────────────────────────────
	checkers := []health.Checker{health.Credential("gemini", gw.Credential)}
	if p, ok := store.(health.Pinger); ok {
		checkers = append(checkers, health.Ping("history", p))
	}

	mux := http.NewServeMux()
	api.New(gw, store, apiOpts...).Register(mux)
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics, observe.WithUserKey(api.UserKey))(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, func(_, _ *config.Config, d config.ConfigDiff) {
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			if len(d.RestartRequired) > 0 {
				slog.Warn("config sections changed; restart to apply", "sections", d.RestartRequired)
			}
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	printStartupSummary(cfg)

	// ── Serve until signalled ─────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready; press Ctrl+C to shut down", "addr", srv.Addr)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if sessions != nil {
			if err := sessions.CloseAll(shutdownCtx); err != nil {
				slog.Warn("live sessions did not close cleanly", "err", err)
			}
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires every transcription and history backend that
// ships with tutorlive into reg.
func registerBuiltinBackends(reg *config.Registry) {
	reg.RegisterTranscriber(config.TranscriptionOpenAI, func(cfg config.TranscriptionConfig, apiKey string) (stt.Provider, error) {
		opts := []oaistt.Option{oaistt.WithTimeout(time.Minute)}
		if cfg.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(cfg.BaseURL))
		}
		return oaistt.New(apiKey, cfg.Model, opts...)
	})

	reg.RegisterHistory(config.HistoryMemory, func(_ context.Context, cfg config.HistoryConfig) (history.Store, func(), error) {
		return history.NewMemoryStore(cfg.Limit), func() {}, nil
	})

	reg.RegisterHistory(config.HistoryRedis, func(ctx context.Context, cfg config.HistoryConfig) (history.Store, func(), error) {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis_url: %w", err)
		}
		client := redis.NewClient(opts)
		s := redisstore.New(client,
			redisstore.WithPrefix(cfg.RedisPrefix),
			redisstore.WithLimit(cfg.Limit),
			redisstore.WithTTL(cfg.TTL),
		)
		if err := s.Ping(ctx); err != nil {
			client.Close()
			return nil, nil, err
		}
		return s, func() { client.Close() }, nil
	})

	reg.RegisterHistory(config.HistoryPostgres, func(ctx context.Context, cfg config.HistoryConfig) (history.Store, func(), error) {
		s, err := postgres.NewStore(ctx, cfg.PostgresDSN, cfg.Limit)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	})
}

// buildGateway assembles the request gateway from cfg.
func buildGateway(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*gateway.Gateway, error) {
	env := []string{cfg.Gemini.APIKeyEnv}
	if cfg.Gemini.APIKeyEnv != "GEMINI_API_KEY" {
		env = append(env, "GEMINI_API_KEY")
	}

	m := cfg.Gemini.Models
	opts := []gateway.Option{
		gateway.WithCredentialEnv(env...),
		gateway.WithModels(gateway.Models{
			Standard:    m.Standard,
			Fast:        m.Fast,
			Search:      m.Search,
			Speech:      m.Speech,
			Flashcard:   m.Flashcard,
			Video:       m.Video,
			Transcribe:  m.Transcribe,
			SpeechVoice: m.SpeechVoice,
		}),
		gateway.WithFlashcardTTL(max(cfg.Gemini.FlashcardCacheTTL, 0)),
		gateway.WithBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "gemini",
			MaxFailures:  cfg.Gemini.Breaker.MaxFailures,
			ResetTimeout: cfg.Gemini.Breaker.ResetTimeout,
			IsFailure:    gateway.IsFailure,
		})),
		gateway.WithMetrics(metrics),
		gateway.WithLogger(slog.Default()),
	}
	if cfg.Gemini.BaseURL != "" {
		opts = append(opts, gateway.WithBaseURL(cfg.Gemini.BaseURL))
	}

	if tc := cfg.Transcription; tc.Backend != config.TranscriptionGemini {
		apiKey := os.Getenv(tc.APIKeyEnv)
		if apiKey == "" {
			slog.Warn("transcription key not set; using gemini only", "backend", tc.Backend, "env", tc.APIKeyEnv)
		} else {
			p, err := reg.CreateTranscriber(tc, apiKey)
			if err != nil {
				return nil, fmt.Errorf("create transcriber %q: %w", tc.Backend, err)
			}
			opts = append(opts, gateway.WithTranscriber(p, tc.Backend))
			slog.Info("transcriber created", "backend", tc.Backend, "model", tc.Model)
		}
	}

	return gateway.New(opts...), nil
}

// liveFactory returns a constructor for voice-session providers. The key is
// resolved per session so a key set after startup is picked up.
func liveFactory(lc config.LiveConfig) api.LiveProviderFactory {
	return func(apiKey string) providerlive.Provider {
		opts := []geminilive.Option{geminilive.WithLogger(slog.Default())}
		if lc.Model != "" {
			opts = append(opts, geminilive.WithModel(lc.Model))
		}
		if lc.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(lc.BaseURL))
		}
		return geminilive.New(apiKey, opts...)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	liveState := "enabled"
	if cfg.Live.Disabled {
		liveState = "(disabled)"
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        tutorlive startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("Key env", cfg.Gemini.APIKeyEnv)
	printRow("Live voice", liveState)
	printRow("Transcription", cfg.Transcription.Backend)
	printRow("History", cfg.History.Backend)
	printRow("Upload limit", fmt.Sprintf("%d MB", cfg.Limits.MaxUploadMB))
	printRow("Video limit", fmt.Sprintf("%d MB", cfg.Limits.MaxVideoMB))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func pick(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
