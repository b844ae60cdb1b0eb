package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/arqlabs/cascade/internal/cache"
	"github.com/arqlabs/cascade/internal/config"
	"github.com/arqlabs/cascade/internal/dispatch"
	"github.com/arqlabs/cascade/internal/metrics"
	"github.com/arqlabs/cascade/internal/providers"
	"github.com/arqlabs/cascade/internal/server"
	"github.com/arqlabs/cascade/internal/store"
	"github.com/arqlabs/cascade/internal/tokenizer"
	"github.com/arqlabs/cascade/internal/tracing"
	"github.com/arqlabs/cascade/internal/vault"
	"github.com/arqlabs/cascade/internal/version"
)

// Run is the main daemon orchestrator. It initialises all subsystems,
// builds the provider registries, starts the HTTP server, and blocks
// until a shutdown signal is received.
func Run(cfg *config.Config, foreground bool) error {
	// 1. Set up zerolog logger.
	dataDir := expandHome(cfg.Server.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	zerolog.SetGlobalLevel(logLevel)

	writers := []io.Writer{}

	// Always log to file.
	logPath := filepath.Join(dataDir, "cascade.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	defer logFile.Close()
	writers = append(writers, logFile)

	// If foreground, also write to stdout with console formatting.
	if foreground {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
		writers = append(writers, consoleWriter)
	}

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "cascade").Logger()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("cascade starting")

	// 2. Check if already running.
	if IsRunning(dataDir) {
		return fmt.Errorf("cascade is already running (PID file exists at %s)", filepath.Join(dataDir, pidFilename))
	}

	// 3. Open store.
	dbPath := filepath.Join(dataDir, "cascade.db")
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	log.Info().Str("db_path", dbPath).Msg("store opened")

	// 4. Create metrics collector.
	collector := metrics.NewCollector()

	// 5. Write PID file.
	if err := WritePID(dataDir); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	log.Info().Int("pid", os.Getpid()).Msg("PID file written")

	// 6. Start config watcher.
	configFile := config.ConfigFilePath()
	if configFile == "" {
		configFile = filepath.Join(dataDir, config.DefaultConfigFilename)
	}

	var watcher *config.Watcher
	if _, statErr := os.Stat(configFile); statErr == nil {
		w, watchErr := config.Watch(configFile)
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("failed to start config watcher; continuing without hot-reload")
		} else {
			watcher = w
			defer watcher.Close()
			watcher.OnChange(func(old, newCfg *config.Config) {
				log.Info().Msg("configuration reloaded")
				newLevel := parseLogLevel(newCfg.Server.LogLevel)
				zerolog.SetGlobalLevel(newLevel)
			})
			log.Info().Str("file", configFile).Msg("config watcher started")
		}
	}

	// 7. Initialise distributed tracing if enabled.
	if cfg.Tracing.Enabled {
		shutdown, traceErr := tracing.Init(context.Background(),
			cfg.Tracing.ServiceName, version.Version,
			cfg.Tracing.Exporter, cfg.Tracing.Endpoint,
			cfg.Tracing.SampleRate, cfg.Tracing.Insecure)
		if traceErr != nil {
			log.Warn().Err(traceErr).Msg("failed to initialise tracing; continuing without it")
		} else {
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(flushCtx); err != nil {
					log.Error().Err(err).Msg("tracing shutdown error")
				}
			}()
			log.Info().Str("exporter", cfg.Tracing.Exporter).Msg("tracing initialised")
		}
	}

	// 8. Start periodic data pruning.
	pruneCtx, pruneCancel := context.WithCancel(context.Background())
	defer pruneCancel()
	prunerDone := make(chan struct{})
	go func() {
		defer close(prunerDone)
		runPruner(pruneCtx, st, cfg.Storage.RetentionDays)
	}()

	// 9. Resolve API keys and build the provider registries. Text
	// generation providers and the search provider live in separate
	// registries because they serve disjoint task categories.
	v := vault.New()
	retry := providers.RetryPolicy{
		MaxAttempts: cfg.Dispatch.RetryMaxAttempts,
		BaseDelay:   time.Duration(cfg.Dispatch.RetryBaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Dispatch.RetryMaxDelayMs) * time.Millisecond,
	}

	genRegistry := dispatch.NewRegistry()
	searchRegistry := dispatch.NewRegistry()

	for name, pcfg := range cfg.Providers {
		if !pcfg.Enabled {
			continue
		}

		apiKey := ""
		if pcfg.KeyRef != "" {
			key, err := v.ResolveKeyRef(pcfg.KeyRef)
			if err != nil {
				log.Warn().Err(err).Str("provider", name).Msg("failed to resolve API key; provider will be unavailable")
				continue
			}
			apiKey = key
		}

		var inv dispatch.Invoker
		target := genRegistry

		switch pcfg.Kind {
		case config.KindGemini:
			inv = providers.NewGemini(pcfg.Name, pcfg.APIBase, apiKey, pcfg.Model, pcfg.TimeoutDuration(), retry, log.Logger)
		case config.KindOpenAI:
			inv = providers.NewChatCompletion(pcfg.Name, pcfg.APIBase, apiKey, pcfg.Model, pcfg.TimeoutDuration(), retry, log.Logger)
		case config.KindHuggingFace:
			inv = providers.NewHuggingFace(pcfg.Name, pcfg.APIBase, apiKey, pcfg.Models, pcfg.TimeoutDuration(), log.Logger)
		case config.KindSerper:
			inv = providers.NewSerper(pcfg.Name, pcfg.APIBase, apiKey, pcfg.TimeoutDuration(), retry, log.Logger)
			target = searchRegistry
		default:
			log.Warn().Str("provider", name).Str("kind", pcfg.Kind).Msg("unknown provider kind; skipping")
			continue
		}

		if err := target.Register(inv, pcfg.Priority, pcfg.MaxFailures); err != nil {
			log.Warn().Err(err).Str("provider", name).Msg("failed to register provider")
			continue
		}
		log.Info().
			Str("provider", pcfg.Name).
			Str("kind", pcfg.Kind).
			Int("priority", pcfg.Priority).
			Msg("provider registered")
	}

	if genRegistry.Len() == 0 {
		log.Warn().Msg("no generation providers enabled; all dispatches will return degraded responses")
	}

	// Restore persisted provider health so a restart does not silently
	// re-enable providers that were disabled before shutdown.
	restoreProviderHealth(st, genRegistry, searchRegistry)

	// 10. Build the dispatchers.
	validator := dispatch.NewValidator(cfg.Dispatch.MinResponseLength)
	basic := dispatch.NewBasicResponder()

	genDispatcher := dispatch.NewDispatcher(genRegistry, validator, basic, log.Logger)
	searchDispatcher := dispatch.NewDispatcher(searchRegistry, validator, basic, log.Logger)

	// 11. Create the response cache backed by the store.
	cacheAdapter := store.NewCacheAdapter(st)
	respCache, err := cache.New(cacheAdapter, cfg.Cache.TTLSeconds, cfg.Cache.MaxMemoryEntries, cfg.Cache.Enabled)
	if err != nil {
		return fmt.Errorf("creating response cache: %w", err)
	}

	// 12. Create and start the HTTP server.
	tok := tokenizer.New()
	handler := server.NewHandler(genDispatcher, searchDispatcher, respCache, st, collector, tok, log.Logger, cfg.Server.MaxBodySize)

	addr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)
	readTimeout := time.Duration(cfg.Server.ReadTimeout) * time.Second
	writeTimeout := time.Duration(cfg.Server.WriteTimeout) * time.Second
	idleTimeout := time.Duration(cfg.Server.IdleTimeout) * time.Second
	srv := server.NewServer(handler, addr, readTimeout, writeTimeout, idleTimeout)

	// Start cache purger (reuses the pruneCtx).
	purgerDone := respCache.StartPurger(pruneCtx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("server starting")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server: %w", err)
		}
	}()

	log.Info().
		Int("port", cfg.Server.Port).
		Int("generation_providers", genRegistry.Len()).
		Int("search_providers", searchRegistry.Len()).
		Msg("cascade is ready")

	if foreground {
		fmt.Printf("\n  Cascade is running!\n")
		fmt.Printf("  API: http://localhost:%d\n\n", cfg.Server.Port)
	}

	// 13. Wait for shutdown signal or fatal error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		return err
	}

	// 14. Graceful shutdown with 30-second timeout.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info().Msg("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	// 15. Wait for background goroutines before closing the store.
	pruneCancel()
	<-purgerDone
	<-prunerDone
	st.Close()
	if err := RemovePID(dataDir); err != nil {
		log.Error().Err(err).Msg("failed to remove PID file during shutdown")
	}

	log.Info().Msg("cascade stopped")
	return nil
}

// restoreProviderHealth replays persisted availability state into the
// registries. Failure counts survive restarts so a provider disabled
// yesterday stays disabled until explicitly reset.
func restoreProviderHealth(st *store.Store, registries ...*dispatch.Registry) {
	rows, err := st.ListProviderHealth()
	if err != nil {
		log.Warn().Err(err).Msg("failed to load persisted provider health")
		return
	}
	for _, row := range rows {
		if row.Available {
			continue
		}
		for _, reg := range registries {
			if _, ok := reg.State(row.Name); !ok {
				continue
			}
			for i := 0; i < row.ConsecutiveFailures; i++ {
				reg.MarkFailure(row.Name, fmt.Errorf("restored failure state: %s", row.LastError))
			}
			log.Info().
				Str("provider", row.Name).
				Int("consecutive_failures", row.ConsecutiveFailures).
				Msg("restored disabled provider state")
		}
	}
}

// Stop reads the PID file and sends SIGTERM to the running daemon.
func Stop() error {
	dataDir := expandHome(config.Get().Server.DataDir)

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("cascade does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		// Stale PID file; clean it up.
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("cascade is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to cascade (PID %d)\n", pid)

	// Wait briefly for the process to exit.
	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}

	return nil
}

// Status checks if the daemon is running and prints a summary.
func Status() error {
	cfg := config.Get()
	dataDir := expandHome(cfg.Server.DataDir)

	if !IsRunning(dataDir) {
		fmt.Println("cascade is not running")
		return nil
	}

	pid, _ := ReadPID(dataDir)
	fmt.Printf("cascade is running (PID %d)\n", pid)

	// Try to fetch live stats from the API.
	statsURL := fmt.Sprintf("http://localhost:%d/v1/stats", cfg.Server.Port)
	client := &http.Client{Timeout: 3 * time.Second}

	resp, err := client.Get(statsURL)
	if err != nil {
		fmt.Println("  (API unreachable)")
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}

	var payload struct {
		Live metrics.Stats `json:"live"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	stats := payload.Live

	fmt.Printf("\n  Uptime:           %s\n", stats.Uptime)
	fmt.Printf("  Total Dispatches: %d\n", stats.TotalDispatches)
	fmt.Printf("  Degraded:         %d (%.1f%%)\n", stats.DegradedDispatches, stats.DegradedPercent)
	fmt.Printf("  Cancelled:        %d\n", stats.CancelledDispatches)
	fmt.Printf("  Avg Attempts:     %.2f\n", stats.AvgAttempts)
	fmt.Printf("  Prompt Tokens:    %d\n", stats.PromptTokens)
	fmt.Printf("  Output Tokens:    %d\n", stats.OutputTokens)
	fmt.Printf("  Cache Hit Rate:   %.1f%% (%d hits / %d misses)\n", stats.CacheHitRate, stats.CacheHits, stats.CacheMisses)
	fmt.Printf("  Active:           %d\n", stats.ActiveDispatches)

	return nil
}

// runPruner periodically prunes old data from the store.
func runPruner(ctx context.Context, st *store.Store, retentionDays int) {
	if retentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Msg("data pruner: recovered from panic")
					}
				}()
				n, err := st.Prune(retentionDays)
				if err != nil {
					log.Error().Err(err).Msg("data pruning failed")
				} else if n > 0 {
					log.Info().Int64("rows", n).Int("retention_days", retentionDays).Msg("pruned old data")
				}
			}()
		}
	}
}

// parseLogLevel converts a string log level to a zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
