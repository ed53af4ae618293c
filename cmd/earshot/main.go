// Command earshot is the main entry point for the earshot audio-to-action
// pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxhollow/earshot/internal/config"
	"github.com/voxhollow/earshot/internal/dispatch"
	"github.com/voxhollow/earshot/internal/health"
	"github.com/voxhollow/earshot/internal/match"
	"github.com/voxhollow/earshot/internal/observe"
	"github.com/voxhollow/earshot/internal/order"
	"github.com/voxhollow/earshot/internal/pipeline"
	"github.com/voxhollow/earshot/internal/sched"
	"github.com/voxhollow/earshot/internal/segment"
	"github.com/voxhollow/earshot/internal/sink"
	"github.com/voxhollow/earshot/internal/sink/markdown"
	"github.com/voxhollow/earshot/internal/sink/postgres"
	"github.com/voxhollow/earshot/internal/vad"
	"github.com/voxhollow/earshot/pkg/audio"
	"github.com/voxhollow/earshot/pkg/audio/opusfeed"
	"github.com/voxhollow/earshot/pkg/audio/wsfeed"
	"github.com/voxhollow/earshot/pkg/engine"
	engmock "github.com/voxhollow/earshot/pkg/engine/mock"
	"github.com/voxhollow/earshot/pkg/engine/whisper"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshot: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("earshot starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry providers ───────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "earshot"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Knowledge sink ────────────────────────────────────────────────────────
	snk, notifier, pg, closeSink, err := buildSink(ctx, cfg)
	if err != nil {
		slog.Error("failed to build sink", "err", err)
		return 1
	}
	defer closeSink()

	// ── Audio source ──────────────────────────────────────────────────────────
	src, closeSrc, err := buildSource(ctx, cfg.Audio)
	if err != nil {
		slog.Error("failed to build audio source", "err", err)
		return 1
	}
	defer closeSrc()

	// ── Transcription engine ──────────────────────────────────────────────────
	eng, closeEng, err := buildEngine(cfg.Engine)
	if err != nil {
		slog.Error("failed to build engine", "err", err)
		return 1
	}
	defer closeEng()

	// ── Matcher ───────────────────────────────────────────────────────────────
	grammar, err := cfg.Grammar()
	if err != nil {
		slog.Error("invalid activation grammar", "err", err)
		return 1
	}
	matcher, err := match.New(match.Config{
		Threshold: cfg.Matcher.MatchThreshold,
		Cooldown:  cfg.Matcher.Cooldown(),
	}, grammar)
	if err != nil {
		slog.Error("failed to build matcher", "err", err)
		return 1
	}

	// ── Dispatcher ────────────────────────────────────────────────────────────
	// Status is resolved lazily: the pipeline needs the dispatcher, the
	// status handler needs the pipeline.
	var pl *pipeline.Pipeline

	reg := dispatch.NewRegistry()
	collab := dispatch.Collaborators{
		Sink: snk,
		Status: func(context.Context) (map[string]any, error) {
			if pl == nil {
				return nil, errors.New("pipeline not started")
			}
			return pl.Status(), nil
		},
	}
	if pg != nil {
		collab.MarkRetention = pg.MarkRetention
	}
	if err := dispatch.RegisterDefaults(reg, collab); err != nil {
		slog.Error("failed to register commands", "err", err)
		return 1
	}
	disp := dispatch.New(dispatch.Config{
		QueueDepth:     cfg.Dispatch.QueueDepth,
		HandlerTimeout: cfg.Dispatch.HandlerTimeout(),
		OnFailure: func(inv dispatch.Invocation, err error) {
			slog.Warn("command failed", "command", inv.Command, "err", err)
			ev := sink.SystemEvent{
				Kind:        pipeline.EventDispatchFailed,
				Description: fmt.Sprintf("command %s failed: %v", inv.Command, err),
				Severity:    slog.LevelWarn,
				Metadata:    map[string]any{"phrase": inv.Phrase, "at": inv.At.String()},
			}
			if werr := snk.WriteSystemEvent(context.Background(), ev); werr != nil {
				slog.Warn("dispatch failure event write failed", "err", werr)
			}
		},
	}, reg, logger)

	// ── Pipeline ──────────────────────────────────────────────────────────────
	pl, err = pipeline.New(pipeline.Config{
		VAD: vad.Config{
			SpeechThreshold:  cfg.VAD.SpeechThreshold,
			SilenceThreshold: cfg.VAD.SilenceThreshold,
			Onset:            cfg.VAD.Onset(),
			Hangover:         cfg.VAD.Hangover(),
			WindowFrames:     cfg.VAD.WindowFrames,
		},
		Segment: segment.Config{
			MinSegment: cfg.Segment.MinSegment(),
			MaxSegment: cfg.Segment.MaxSegment(),
		},
		Scheduler: sched.Config{
			Workers:    cfg.Scheduler.MaxConcurrency,
			QueueDepth: cfg.Scheduler.QueueCapacity,
			JobTimeout: cfg.Scheduler.TranscribeTimeout(),
		},
		Ordering:      order.Config{MaxReorder: cfg.Ordering.MaxReorder()},
		MinConfidence: cfg.Engine.MinConfidence,
	}, pipeline.Deps{
		Source:     src,
		Engine:     eng,
		Matcher:    matcher,
		Dispatcher: disp,
		Sink:       snk,
		Notifier:   notifier,
		Metrics:    metrics,
		Logger:     logger,
	})
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		return 1
	}

	// ── Config watcher (matcher section is hot-reloadable) ────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		diff := config.Compare(old, new)
		if len(diff.Static) > 0 {
			slog.Warn("static config sections changed, restart required to apply",
				"sections", diff.Static)
		}
		if !diff.Matcher {
			return
		}
		g, gerr := new.Grammar()
		if gerr != nil {
			slog.Error("rejecting reloaded grammar", "err", gerr)
			return
		}
		if rerr := matcher.Reload(g); rerr != nil {
			slog.Error("grammar reload failed", "err", rerr)
			return
		}
		slog.Info("activation grammar reloaded", "keyword", g.Keyword())
		ev := sink.SystemEvent{
			Kind:        pipeline.EventGrammarReloaded,
			Description: "activation grammar reloaded from config",
			Severity:    slog.LevelInfo,
			Metadata:    map[string]any{"keyword": g.Keyword()},
		}
		if werr := snk.WriteSystemEvent(context.Background(), ev); werr != nil {
			slog.Warn("grammar reload event write failed", "err", werr)
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── Observability endpoint ────────────────────────────────────────────────
	var httpServer *http.Server
	if cfg.Server.ListenAddr != "" {
		checkers := []health.Checker{
			health.DegradedCheck("engine", pl.Degraded),
		}
		if pg != nil {
			checkers = append(checkers, health.PingCheck("postgres", pg.Ping))
		}

		mux := http.NewServeMux()
		health.New(checkers...).Register(mux)
		mux.Handle("GET /metrics", promhttp.Handler())

		httpServer = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           observe.Middleware(metrics)(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("observability endpoint listening", "addr", cfg.Server.ListenAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("observability endpoint failed", "err", err)
			}
		}()
	}

	printStartupSummary(cfg)

	// ── Run ───────────────────────────────────────────────────────────────────
	runErr := pl.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("pipeline error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("observability endpoint shutdown error", "err", err)
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Component wiring ──────────────────────────────────────────────────────────

// buildSource constructs the configured audio source. The returned closer
// releases the underlying file or connection.
func buildSource(ctx context.Context, cfg config.AudioConfig) (audio.Source, func(), error) {
	frameDur := cfg.FrameDuration()

	openInput := func() (io.ReadCloser, error) {
		if cfg.Path == "" || cfg.Path == "-" {
			return io.NopCloser(os.Stdin), nil
		}
		return os.Open(cfg.Path)
	}

	switch cfg.Source {
	case config.SourceReader:
		in, err := openInput()
		if err != nil {
			return nil, nil, fmt.Errorf("open pcm input: %w", err)
		}
		src, err := audio.NewReaderSource(in, cfg.SampleRate, cfg.Channels, frameDur)
		if err != nil {
			in.Close()
			return nil, nil, err
		}
		return src, func() { in.Close() }, nil

	case config.SourceOpus:
		in, err := openInput()
		if err != nil {
			return nil, nil, fmt.Errorf("open opus input: %w", err)
		}
		src, err := opusfeed.New(in, cfg.SampleRate, cfg.Channels, frameDur)
		if err != nil {
			in.Close()
			return nil, nil, err
		}
		return src, func() { in.Close() }, nil

	case config.SourceWebsocket:
		src, err := wsfeed.Dial(ctx, cfg.URL, cfg.SampleRate, cfg.Channels, frameDur)
		if err != nil {
			return nil, nil, err
		}
		return src, func() {
			if err := src.Close(); err != nil {
				slog.Warn("websocket feed close error", "err", err)
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown audio source %q", cfg.Source)
}

// buildEngine constructs the transcription engine. An empty model path
// selects the scripted engine, useful for plumbing dry runs.
func buildEngine(cfg config.EngineConfig) (engine.Engine, func(), error) {
	if cfg.ModelPath == "" {
		slog.Warn("no model configured, transcripts will be empty")
		return &engmock.Engine{}, func() {}, nil
	}

	var opts []whisper.Option
	if cfg.Language != "" {
		opts = append(opts, whisper.WithLanguage(cfg.Language))
	}
	eng, err := whisper.New(cfg.ModelPath, opts...)
	if err != nil {
		return nil, nil, err
	}
	return eng, func() {
		if err := eng.Close(); err != nil {
			slog.Warn("engine close error", "err", err)
		}
	}, nil
}

// buildSink constructs the configured knowledge sink. The postgres sink also
// acts as the storage notifier; the returned *postgres.Store is nil for
// other sinks.
func buildSink(ctx context.Context, cfg *config.Config) (sink.KnowledgeSink, sink.StorageNotifier, *postgres.Store, func(), error) {
	switch cfg.Sink.Kind {
	case config.SinkMarkdown:
		w, err := markdown.NewWriter(cfg.Sink.NotesDir, time.Now())
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return w, nil, nil, func() {
			if err := w.Close(); err != nil {
				slog.Warn("markdown sink close error", "err", err)
			}
		}, nil

	case config.SinkPostgres:
		st, err := postgres.New(ctx, cfg.Sink.PostgresDSN)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return st, st, st, st.Close, nil
	}
	return nil, nil, nil, nil, fmt.Errorf("unknown sink kind %q", cfg.Sink.Kind)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         earshot — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Audio source", string(cfg.Audio.Source))
	model := cfg.Engine.ModelPath
	if model == "" {
		model = "(dry run)"
	}
	printRow("Engine model", model)
	printRow("Keyword", cfg.Matcher.Keyword)
	printRow("Sink", string(cfg.Sink.Kind))
	printRow("Workers", fmt.Sprintf("%d", cfg.Scheduler.MaxConcurrency))
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(key, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", key, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
