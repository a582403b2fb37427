package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"lamudi_ingest/internal/adapters/copywriter"
	"lamudi_ingest/internal/adapters/observability"
	"lamudi_ingest/internal/adapters/queue"
	redisad "lamudi_ingest/internal/adapters/redis"
	"lamudi_ingest/internal/adapters/schedule"
	"lamudi_ingest/internal/app"
	"lamudi_ingest/internal/domain"
	"lamudi_ingest/internal/shared"
	mysqlrepo "lamudi_ingest/internal/storage/mysql"
)

func main() {
	cfg := shared.Load()
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("stream", cfg.Queue.Stream).
		Str("group", cfg.Queue.Group).
		Int("workers", cfg.Queue.Workers).
		Int("batch_size", cfg.Reconcile.BatchSize).
		Msg("worker starting")

	observability.Serve(cfg.MetricsAddr, observability.InitRegistry())

	db, err := mysqlrepo.Open(ctx, cfg.MySQLDSN, cfg.DBMaxConns)
	if err != nil {
		log.Fatal().Err(err).Msg("mysql open failed")
	}
	defer db.Close()
	log.Info().Msg("db ping ok")

	repo := mysqlrepo.New(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer cache.Close()

	qc, err := queue.NewClient(queue.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPass, DB: cfg.RedisDB, Stream: cfg.Queue.Stream})
	if err != nil {
		log.Fatal().Err(err).Msg("queue connect failed")
	}
	defer qc.Close()
	producer := queue.NewProducer(qc)

	pipeline := app.NewPipeline(repo, cache, app.PipelineConfig{
		BatchSize:    cfg.Reconcile.BatchSize,
		BatchTimeout: cfg.Reconcile.BatchTimeout,
		MatchTitle:   cfg.Reconcile.MatchTitle,
		Normalizer:   app.Normalizer{BaseURL: cfg.Reconcile.ListingBaseURL, MinPrice: cfg.Reconcile.MinPrice},
	})

	var descriptions *app.DescriptionService
	if gen, err := copywriter.New(cfg.AI); err != nil {
		log.Warn().Err(err).Msg("ai copywriter disabled; description messages will be dead-lettered")
	} else {
		descriptions = app.NewDescriptionService(repo, gen, cache, app.DescriptionConfig{
			Limit:     cfg.AI.BackfillLimit,
			GroupSize: cfg.AI.GroupSize,
			Cooldown:  cfg.AI.Cooldown,
			Timeout:   cfg.AI.Timeout,
		})
	}
	dispatcher := app.NewDispatcher(app.NewIngestService(repo), pipeline, descriptions, producer, cfg.Reconcile.Chain)

	sched, err := schedule.New(producer,
		schedule.Trigger{Spec: cfg.ReconcileCron, Type: domain.MsgReconcileRawListings},
		schedule.Trigger{Spec: cfg.AIBackfillCron, Type: domain.MsgGenerateAIDescription},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid cron schedule")
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < max(cfg.Queue.Workers, 1); i++ {
		consumer, err := queue.NewConsumer(qc, queue.ConsumerConfig{
			Group:        cfg.Queue.Group,
			ConsumerID:   fmt.Sprintf("%s-%d", cfg.Queue.Consumer, i),
			Block:        cfg.Queue.Block,
			MaxRetry:     cfg.Queue.MaxRetry,
			ClaimMinIdle: cfg.Queue.ClaimMinIdle,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("queue consumer")
		}
		g.Go(func() error { return consumer.Run(gctx, dispatcher.Handle) })
	}
	g.Go(func() error { return sched.Run(gctx) })

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("worker stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("worker stopped")
}
