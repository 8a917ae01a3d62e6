package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brunobiangulo/graphagent"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML or JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	cfg, err := graphagent.LoadConfig(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	apiKey := os.Getenv("GRAPHAGENT_API_KEY")
	corsOrigins := os.Getenv("GRAPHAGENT_CORS_ORIGINS")

	engine, err := graphagent.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.WatchDir != "" {
		if _, err := engine.CurrentProject(); err != nil {
			if _, err := engine.CreateProject(ctx, "default", "auto-ingested from "+cfg.WatchDir); err != nil {
				slog.Error("creating watch project", "error", err)
				os.Exit(1)
			}
		}
		go func() {
			if err := graphagent.Watch(ctx, engine, cfg.WatchDir, cfg.WatchExtensions); err != nil {
				slog.Error("watch stopped", "dir", cfg.WatchDir, "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         *addr,
		Handler:      newHandler(newServer(engine), apiKey, corsOrigins),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses (chat and long ingests)
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// newHandler wraps the routes in the middleware chain:
// recovery -> cors -> auth -> logging -> mux.
func newHandler(s *server, apiKey, corsOrigins string) http.Handler {
	var handler http.Handler = s.routes()
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)
	return handler
}
