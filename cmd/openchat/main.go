package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"openchat/internal/audit"
	"openchat/internal/chat"
	"openchat/internal/config"
	"openchat/internal/domain"
	"openchat/internal/provider"
	"openchat/internal/server"
	"openchat/internal/storage"
	"openchat/internal/tool"

	"github.com/spf13/cobra"
)

// Overridden at build time:
//
//	-ldflags "-X main.version=v1.2.3 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "none"
)

var configPath string // overridable via --config flag

func main() {
	root := &cobra.Command{
		Use:   "openchat",
		Short: "Backend for local Ollama chat with web search",
		Long: `OpenChat serves a streaming chat API backed by a local Ollama server,
with persisted conversations and an optional web-search tool.

Running without a subcommand starts the server.`,
		RunE:         runServe,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: config.json)")

	root.AddCommand(serveCmd())
	root.AddCommand(initCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from the --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// setupLogging installs the default slog handler per config. The returned
// cleanup closes the log file, if one is in use.
func setupLogging(cfg *config.Config) (func(), error) {
	level := slog.LevelInfo
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var w io.Writer = os.Stderr
	cleanup := func() {}
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("cannot create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("cannot open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		cleanup = func() { f.Close() }
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return cleanup, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cleanup, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(cfg.Storage.ChatsDir)
	if err != nil {
		return fmt.Errorf("chat store: %w", err)
	}

	prov, err := provider.NewOllama(provider.OllamaConfig{
		BaseURL:     cfg.Ollama.BaseURL,
		IdleTimeout: cfg.StreamIdleTimeout(),
	})
	if err != nil {
		return fmt.Errorf("ollama client: %w", err)
	}
	if err := prov.Ping(ctx); err != nil {
		slog.Warn("ollama not reachable at startup, continuing anyway", "baseUrl", cfg.Ollama.BaseURL, "error", err)
	} else {
		slog.Info("ollama reachable", "baseUrl", cfg.Ollama.BaseURL)
	}

	registry := tool.NewRegistry()
	registry.Register(tool.NewWebSearch(tool.WebSearchConfig{
		BaseURL:    cfg.Search.BaseURL,
		Timeout:    cfg.SearchTimeout(),
		MaxResults: cfg.Search.MaxResults,
	}))

	var recorder domain.AuditRecorder
	if cfg.Audit.Enabled {
		auditStore, err := audit.New(cfg.Audit.DBPath)
		if err != nil {
			return fmt.Errorf("audit store: %w", err)
		}
		defer auditStore.Close()
		recorder = auditStore
	}

	orch := chat.New(chat.Config{
		Provider:     prov,
		Store:        store,
		Tools:        registry,
		Audit:        recorder,
		ProbeTimeout: cfg.RequestTimeout(),
	})

	srv := server.New(server.Config{
		Addr:            cfg.Addr(),
		Chat:            orch,
		Store:           store,
		Models:          prov,
		ShutdownTimeout: cfg.ShutdownTimeout(),
	})

	slog.Info("openchat starting",
		"version", version,
		"addr", cfg.Addr(),
		"chats", cfg.Storage.ChatsDir,
		"audit", cfg.Audit.Enabled)
	return srv.Run(ctx)
}

func initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}

			cfg := config.Defaults()
			// Keep the inference URL overridable from the environment.
			cfg.Ollama.BaseURL = "${OLLAMA_BASE_URL:-" + cfg.Ollama.BaseURL + "}"
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.Storage.ChatsDir, 0o755); err != nil {
				return err
			}

			fmt.Printf("Wrote %s\n", cfgPath)
			fmt.Printf("Chats directory: %s\n", cfg.Storage.ChatsDir)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("openchat %s (commit %s)\n", version, commit)
		},
	}
}
