package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	kgfinanceui "github.com/MegaGrindStone/kgfinance-web-ui"
	"github.com/MegaGrindStone/kgfinance-web-ui/internal/handlers"
	"github.com/MegaGrindStone/kgfinance-web-ui/internal/telemetry"
	"github.com/spf13/cobra"
)

const (
	serviceName    = "kgfinance-web-ui"
	serviceVersion = "0.1.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile  string
		port     string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:          serviceName,
		Short:        "KGFinance chat web UI",
		Long:         `Serves the KGFinance chat page and forwards questions to the answering service.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfgFile == "" {
				cfgDir, err := os.UserConfigDir()
				if err != nil {
					return fmt.Errorf("error getting user config dir: %w", err)
				}
				cfgFile = filepath.Join(cfgDir, "kgfinance", "config.yaml")
			}

			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Logging.Level = logLevel
			}

			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&cfgFile, "config", "c", "", "config file (default is <user config dir>/kgfinance/config.yaml)")
	cmd.Flags().StringVarP(&port, "port", "p", defaultPort, "port to listen on")
	cmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")

	return cmd
}

func run(ctx context.Context, cfg config) error {
	logger, logCloser, err := telemetry.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	tel, err := telemetry.Init(ctx, cfg.Telemetry, serviceName, serviceVersion)
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown telemetry", slog.String("err", err.Error()))
		}
	}()

	answerer, err := cfg.Answerer.answerer(logger)
	if err != nil {
		return fmt.Errorf("error creating %s answerer: %w", cfg.Answerer.provider(), err)
	}
	instrumented, err := telemetry.InstrumentAnswerer(answerer, cfg.Answerer.provider(), tel.Tracer, tel.Meter)
	if err != nil {
		return err
	}

	m, err := handlers.NewMain(instrumented, cfg.handlerOptions(), logger)
	if err != nil {
		return err
	}

	// Serve static files
	staticFS, err := fs.Sub(kgfinanceui.StaticFS, "static")
	if err != nil {
		return err
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/questions", m.HandleQuestions)
	mux.HandleFunc("/predefined", m.HandlePredefined)
	mux.HandleFunc("/input", m.HandleInput)
	mux.HandleFunc("/state", m.HandleState)
	mux.HandleFunc("/sse", m.HandleSSE)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting",
			slog.String("port", cfg.Port),
			slog.String("answerer", cfg.Answerer.provider()))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}

	return nil
}
