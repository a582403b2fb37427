package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"lamudi_ingest/internal/adapters/copywriter"
	server "lamudi_ingest/internal/adapters/http_server"
	"lamudi_ingest/internal/adapters/observability"
	"lamudi_ingest/internal/adapters/queue"
	redisad "lamudi_ingest/internal/adapters/redis"
	"lamudi_ingest/internal/app"
	"lamudi_ingest/internal/shared"
	mysqlrepo "lamudi_ingest/internal/storage/mysql"
)

func main() {
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// db
	db, err := mysqlrepo.Open(ctx, cfg.MySQLDSN, cfg.DBMaxConns)
	if err != nil {
		log.Fatal().Err(err).Msg("mysql open failed")
	}
	defer db.Close()
	log.Info().Msg("database connection ok")

	// deps
	repo := mysqlrepo.New(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer cache.Close()
	qc, err := queue.NewClient(queue.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPass, DB: cfg.RedisDB, Stream: cfg.Queue.Stream})
	if err != nil {
		log.Fatal().Err(err).Msg("queue connect failed")
	}
	defer qc.Close()

	handlers := &server.Handlers{
		Q:     app.NewQueryService(repo, cache, cfg.CacheTTL),
		Pub:   queue.NewProducer(qc),
		Ready: db.PingContext,
	}
	if gen, err := copywriter.New(cfg.AI); err != nil {
		log.Warn().Err(err).Msg("ai copywriter disabled")
	} else {
		handlers.D = app.NewDescriptionService(repo, gen, cache, app.DescriptionConfig{
			GroupSize: cfg.AI.GroupSize,
			Timeout:   cfg.AI.Timeout,
		})
	}

	// http; generate-ai-description is synchronous, so the timeout covers one AI call
	srv := server.New(cfg.CORSOrigins, cfg.AI.Timeout+10*time.Second)
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(handlers)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux(), ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("http server failed")
	}
	log.Info().Msg("API stopped")
}
