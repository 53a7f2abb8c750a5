package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"llmtoolbox/clients/profile"
	"llmtoolbox/config"
	"llmtoolbox/service"
	"llmtoolbox/service/connection"
	"llmtoolbox/service/generation"
)

const shutdownTimeout = 5 * time.Second

var (
	serveListen string
	serveHost   string
	serveModel  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the web page and its API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address, overrides config listen")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Ollama host to prefill, overrides config and history")
	serveCmd.Flags().StringVar(&serveModel, "model", "", "model to prefill, overrides config and history")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	if serveListen != "" {
		cfg.Listen = serveListen
	}

	profiles, err := profile.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := profiles.Close(); err != nil {
			slog.Warn("close profiles", "err", err)
		}
	}()

	initial := prefill(cmd.Context(), cfg, profiles)
	if serveHost != "" {
		initial.Host = serveHost
	}
	if serveModel != "" {
		initial.Model = serveModel
	}

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: newHandler(cfg, initial, profiles),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		slog.Info("serving", "listen", cfg.Listen, "host", initial.Host, "model", initial.Model, "version", appVersion)
		serverErrCh <- srv.ListenAndServe()
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErrCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server exited: %w", err)
	case <-sigCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}

// prefill chooses the configuration shown in the form at startup.
// The last successful connection wins over config defaults.
func prefill(ctx context.Context, cfg *config.Config, profiles *profile.Repository) connection.Config {
	ret := connection.Config{Host: cfg.Ollama.Host, Model: cfg.Ollama.Model}
	last, err := profiles.FindLast(ctx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ret
	}
	if err != nil {
		slog.Warn("find last profile", "err", err)
		return ret
	}
	return connection.Config{Host: last.Host, Model: last.Model}
}

func newHandler(cfg *config.Config, initial connection.Config, profiles *profile.Repository) http.Handler {
	manager := connection.NewManager(
		initial,
		connection.WithProbeTimeout(cfg.Ollama.ProbeTimeout),
		connection.WithOnConnected(func(ctx context.Context, connected connection.Config) {
			if err := profiles.Touch(ctx, connected.Host, connected.Model, time.Now()); err != nil {
				slog.Warn("remember profile", "err", err, "host", connected.Host, "model", connected.Model)
			}
		}),
	)
	streamer := generation.NewStreamer(manager, generation.WithTimeout(cfg.Ollama.GenerateTimeout))
	handler := http.Handler(service.New(manager, streamer, profiles))
	if len(cfg.CORS.AllowedOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
		}).Handler(handler)
	}
	return handler
}
