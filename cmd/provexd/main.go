package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/provenlab/provex/internal/provex/config"
	"github.com/provenlab/provex/internal/provex/logger"
	"github.com/provenlab/provex/internal/provex/storage"
	"github.com/provenlab/provex/internal/server/api"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	profileName := flag.String("profile", "", "profile to serve (default: daemon default profile)")
	configPath := flag.String("config", "", "path to the profile registry")
	flag.Parse()

	zl, err := logger.NewDaemon()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	path := *configPath
	if path == "" {
		if path, err = config.DefaultPath(); err != nil {
			zl.Fatal("resolving config path", zap.Error(err))
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		zl.Fatal("loading config", zap.Error(err))
	}

	name, err := cfg.Current(config.ProcessDaemon, *profileName)
	if err != nil {
		zl.Fatal("resolving profile", zap.Error(err))
	}
	profile, err := cfg.Profile(name)
	if err != nil {
		zl.Fatal("reading profile", zap.Error(err))
	}

	ctx := context.Background()
	backend, err := storage.Open(ctx, profile)
	if err != nil {
		zl.Fatal("opening storage backend", zap.Error(err))
	}
	defer backend.Close(ctx)

	zl.Info("storage backend ready",
		zap.String("profile", name),
		zap.String("engine", backend.Name()))

	apiServer := api.New(backend, zl)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.RequestLogger(zl))
	r.Use(middleware.Recoverer)
	r.Mount("/", apiServer.Routes())

	srv := &http.Server{
		Addr:         *addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zl.Info("starting provexd", zap.String("addr", *addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zl.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Fatal("forced shutdown", zap.Error(err))
	}
	zl.Info("server exited")
}
