package main

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"lamudi_ingest/internal/adapters/copywriter"
	redisad "lamudi_ingest/internal/adapters/redis"
	"lamudi_ingest/internal/app"
	mysqlrepo "lamudi_ingest/internal/storage/mysql"
)

func openRepo(cmd *cobra.Command) (*sql.DB, *mysqlrepo.Repo, error) {
	db, err := mysqlrepo.Open(cmd.Context(), cfg.MySQLDSN, cfg.DBMaxConns)
	if err != nil {
		return nil, nil, err
	}
	return db, mysqlrepo.New(db), nil
}

func newReconcileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile pending raw listings outside the worker",
	}

	var (
		drain     bool
		batchSize int
	)
	once := &cobra.Command{
		Use:   "once",
		Short: "Run one reconciliation batch, or batches until the backlog is empty with --drain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, repo, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
			defer cache.Close()

			if batchSize <= 0 {
				batchSize = cfg.Reconcile.BatchSize
			}
			p := app.NewPipeline(repo, cache, app.PipelineConfig{
				BatchSize:    batchSize,
				BatchTimeout: cfg.Reconcile.BatchTimeout,
				MatchTitle:   cfg.Reconcile.MatchTitle,
				Normalizer:   app.Normalizer{BaseURL: cfg.Reconcile.ListingBaseURL, MinPrice: cfg.Reconcile.MinPrice},
			})

			out := cmd.OutOrStdout()
			for {
				res, err := p.RunBatch(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "batch %s: %s fetched=%d created=%d updated=%d rejected=%d failed=%d price_changes=%d\n",
					res.BatchID, res.State, res.Fetched, res.Created, res.Updated, res.Rejected, res.Failed, res.PriceChanges)
				if !drain || !res.Full {
					return nil
				}
			}
		},
	}
	once.Flags().BoolVar(&drain, "drain", false, "keep running batches while full batches come back")
	once.Flags().IntVar(&batchSize, "batch-size", 0, "records per batch (default RECONCILE_BATCH_SIZE)")
	cmd.AddCommand(once)
	return cmd
}

func newBackfillCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Generate AI descriptions outside the worker",
	}

	var limit int
	once := &cobra.Command{
		Use:   "once",
		Short: "Run one AI description backfill",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, err := copywriter.New(cfg.AI)
			if err != nil {
				return err
			}
			db, repo, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
			defer cache.Close()

			if limit <= 0 {
				limit = cfg.AI.BackfillLimit
			}
			svc := app.NewDescriptionService(repo, gen, cache, app.DescriptionConfig{
				Limit:     limit,
				GroupSize: cfg.AI.GroupSize,
				Cooldown:  cfg.AI.Cooldown,
				Timeout:   cfg.AI.Timeout,
			})
			res, err := svc.Backfill(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "selected=%d generated=%d failed=%d\n", res.Selected, res.Generated, res.Failed)
			return err
		},
	}
	once.Flags().IntVar(&limit, "limit", 0, "properties to process (default AI_BACKFILL_LIMIT)")
	cmd.AddCommand(once)
	return cmd
}
