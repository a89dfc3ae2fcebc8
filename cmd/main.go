package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lavamoat/tss-relay/internal/broadcast"
	"github.com/lavamoat/tss-relay/internal/cluster"
	"github.com/lavamoat/tss-relay/internal/config"
	"github.com/lavamoat/tss-relay/internal/handlers"
	"github.com/lavamoat/tss-relay/internal/janitor"
	"github.com/lavamoat/tss-relay/internal/logger"
	"github.com/lavamoat/tss-relay/internal/store"
	"github.com/lavamoat/tss-relay/internal/ws"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "tss-relay:", err)
		os.Exit(1)
	}

	logger.Initialize(cfg.LogLevel, cfg.Pretty)
	log := logger.GetLogger()

	relay, err := cluster.New(cluster.Config{URL: cfg.RedisURL, Enabled: cfg.ClusterOn})
	if err != nil {
		log.Fatal().Err(err).Msg("connect to redis cluster relay")
	}
	if relay.Enabled() {
		log.Info().Msg("cluster fan-out relay enabled")
	}

	s := store.New()
	dispatcher := handlers.NewDispatcher(s)
	bc := broadcast.New(s, relay)

	relayCtx, stopRelay := context.WithCancel(context.Background())
	if relay.Enabled() {
		go relay.Subscribe(relayCtx, bc.DispatchLocal)
	}

	j := janitor.Start(s)

	router := ws.NewRouter(cfg.Path, cfg.StaticDir, s, dispatcher, bc)

	srv := &http.Server{
		Addr:              cfg.Bind,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Info().Str("bind", cfg.Bind).Str("path", cfg.Path).Str("staticDir", cfg.StaticDir).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http server forced to shutdown")
	}

	j.Stop()
	stopRelay()
	if err := relay.Close(); err != nil {
		log.Error().Err(err).Msg("closing cluster relay")
	}

	log.Info().Msg("shutdown complete")
}
