package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/fakeollama/internal/api"
	"github.com/kalambet/fakeollama/internal/backend"
	"github.com/kalambet/fakeollama/internal/config"
	"github.com/kalambet/fakeollama/internal/storage"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway (foreground)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd)
	},
}

func init() {
	addServeFlags(serveCmd)
}

func addServeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("url", "", "base URL of the OpenAI-compatible backend")
	f.String("api-key", "", "API key for the backend")
	f.String("enabled-models", "", "comma-separated list of models served at /api/tags")
	f.String("log-level", "", "log level: debug, info, warn, error")
	f.Int("max-conns", 0, "maximum concurrent client connections (0 = unlimited)")
}

// applyFlagOverrides copies explicitly set command-line flags over cfg.
func applyFlagOverrides(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("url") {
		cfg.Backend.URL, _ = fs.GetString("url")
	}
	if fs.Changed("api-key") {
		cfg.Backend.APIKey, _ = fs.GetString("api-key")
	}
	if fs.Changed("enabled-models") {
		s, _ := fs.GetString("enabled-models")
		cfg.Models.Enabled = config.ParseModelList(s)
	}
	if fs.Changed("addr") {
		cfg.Server.Addr, _ = fs.GetString("addr")
	}
	if fs.Changed("log-level") {
		cfg.Log.Level, _ = fs.GetString("log-level")
	}
	if fs.Changed("max-conns") {
		cfg.Server.MaxConns, _ = fs.GetInt("max-conns")
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func runServer(cmd *cobra.Command) error {
	printVersion()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd.Flags(), &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	setupLogging(cfg.Log.Level)

	var usage api.UsageRecorder
	if cfg.Usage.Enabled {
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				slog.Warn("closing storage", "error", err)
			}
		}()
		usage = store
		slog.Info("usage ledger enabled", "data_dir", cfg.Storage.DataDir)
	}

	handler := api.NewHandler(api.Deps{
		Backend:       backend.NewClient(cfg.Backend.URL, cfg.Backend.APIKey),
		Models:        cfg.Models.Enabled,
		Token:         cfg.Server.Token,
		ForceTerminal: cfg.Stream.ForceTerminal,
		Usage:         usage,
	})

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.Addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("configuration",
		"backend", cfg.Backend.URL,
		"models", cfg.Models.Enabled,
		"force_terminal", cfg.Stream.ForceTerminal,
		"auth", cfg.Server.Token != "",
		"max_conns", cfg.Server.MaxConns,
	)
	printStep("fakeollama listening on %s", ln.Addr())
	for _, ep := range []string{"GET  /", "POST /api/chat", "POST /v1/chat/completions", "POST /api/generate", "GET  /api/tags"} {
		printStatus("Endpoint", "%s", ep)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
