// ABOUTME: Entry point for the confab conversation sync gateway
// ABOUTME: Wires config, store backend, hub, dispatcher and transports together

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/confab-dev/confab/internal/config"
	"github.com/confab-dev/confab/internal/dispatch"
	"github.com/confab-dev/confab/internal/gateway"
	"github.com/confab-dev/confab/internal/hub"
	"github.com/confab-dev/confab/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

// getConfigPath returns the path to the config file.
// Priority: CONFAB_CONFIG env var > XDG_CONFIG_HOME/confab/confab.yaml > ~/.config/confab/confab.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CONFAB_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "confab.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "confab", "confab.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: confab <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the conversation sync gateway")
		fmt.Println("  init     Write a starter config file")
		fmt.Println("  health   Check a running gateway")
		fmt.Println("  version  Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			color.Yellow("No config at %s, using defaults (run `confab init` to create one)", configPath)
			cfg = config.Default()
		} else {
			return fmt.Errorf("loading config: %w", err)
		}
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	backend, err := newBackend(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("opening storage backend: %w", err)
	}

	st := store.New(backend, cfg.Sync.SaveDebounce, logger)
	if err := st.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}

	h := hub.New(logger)
	d := dispatch.New(st, h, cfg.Sync.HistoryLimit, logger)
	srv := gateway.New(cfg.Server.HTTPAddr, st, h, d, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	color.Green("confab %s listening on %s (storage: %s)", version, cfg.Server.HTTPAddr, cfg.Storage.Backend)

	select {
	case err := <-errCh:
		st.Close()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown failed", "error", err)
	}
	h.Close()

	// Flush pending debounced writes before releasing the backend
	if err := st.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func runInit() error {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	starter := `server:
  http_addr: ":8382"

storage:
  backend: file       # file or sqlite
  path: data/conversations

sync:
  save_debounce: 2s
  history_limit: 100

logging:
  level: info
  format: text
`
	if err := os.WriteFile(configPath, []byte(starter), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	color.Green("Wrote %s", configPath)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		cfg = config.Default()
	}

	addr := cfg.Server.HTTPAddr
	if addr[0] == ':' {
		addr = "localhost" + addr
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway degraded: %s", body["error"])
	}
	color.Green("Gateway healthy")
	return nil
}

// newLogger builds the process logger from config
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newBackend opens the configured persistence backend
func newBackend(cfg config.StorageConfig, logger *slog.Logger) (store.Backend, error) {
	switch cfg.Backend {
	case "sqlite":
		return store.NewSQLiteBackend(cfg.Path, logger)
	default:
		return store.NewFileBackend(cfg.Path, logger)
	}
}
