// cmd/minihull/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hullclient/pkg/config"
	"hullclient/pkg/logger"
	"hullclient/pkg/minihull"
	"hullclient/pkg/tracing"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()
	shutdownTracing := tracing.Init(cfg, "minihull")

	var opts []minihull.Option
	opts = append(opts, minihull.WithLogger(log))
	// Without a secret every caller is accepted.
	if cfg.HullSecret != "" {
		opts = append(opts, minihull.WithSecret(cfg.HullSecret))
	}
	if cfg.HullID != "" {
		opts = append(opts, minihull.WithApp(map[string]any{"id": cfg.HullID, "name": "minihull", "private_settings": map[string]any{}}))
	}
	mh := minihull.New(opts...)

	r := chi.NewRouter()
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Mount("/", mh.Handler())

	srv := &http.Server{Addr: cfg.MinihullAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Infow("minihull listening", "addr", cfg.MinihullAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	_ = shutdownTracing(ctx)
	log.Infow("minihull stopped", "requests", len(mh.Requests()), "batches", len(mh.Batches()))
}
