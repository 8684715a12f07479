package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/DeafMist/news-rag/internal/bootstrap"
	"github.com/DeafMist/news-rag/internal/config"
	"github.com/DeafMist/news-rag/internal/elasticsearch"
	"github.com/DeafMist/news-rag/internal/indexing"
	"github.com/DeafMist/news-rag/internal/logger"
	"github.com/DeafMist/news-rag/internal/store"
)

type rootOptions struct {
	envFile string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "news-rag-ctl",
		Short:         "Maintenance commands for the news index",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.envFile != "" {
				config.LoadDotEnv(opts.envFile)
				return
			}
			config.LoadDotEnv()
		},
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file to load (default: ./.env when present)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Minute, "overall deadline for the command")

	root.AddCommand(
		createIndexCmd(opts),
		deleteIndexCmd(opts),
		resetIndexedCmd(opts),
		indexOnceCmd(opts),
		statusCmd(opts),
	)
	return root
}

func withTimeout(cmd *cobra.Command, opts *rootOptions) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), opts.timeout)
}

func connect(ctx context.Context, log *slog.Logger) (*elasticsearch.Client, *config.Indexer, error) {
	cfg, err := config.LoadIndexer()
	if err != nil {
		return nil, nil, err
	}
	es, err := elasticsearch.Connect(ctx, bootstrap.ElasticsearchConfig(cfg.Common, cfg.Dims), log, 3)
	if err != nil {
		return nil, nil, err
	}
	return es, cfg, nil
}

func createIndexCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create-index",
		Short: "Create the vector index with its mapping when absent",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd, opts)
			defer cancel()

			es, _, err := connect(ctx, logger.New("ctl"))
			if err != nil {
				return err
			}
			created, err := es.EnsureIndex(ctx)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "created index %s\n", es.Index())
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "index %s already exists\n", es.Index())
			}
			return nil
		},
	}
}

func deleteIndexCmd(opts *rootOptions) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "delete-index",
		Short: "Drop the vector index",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("refusing to delete the index without --yes")
			}
			ctx, cancel := withTimeout(cmd, opts)
			defer cancel()

			es, _, err := connect(ctx, logger.New("ctl"))
			if err != nil {
				return err
			}
			if err := es.DeleteIndex(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted index %s\n", es.Index())
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm the deletion")
	return cmd
}

func resetIndexedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-indexed",
		Short: "Clear the indexed flag on every stored article",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd, opts)
			defer cancel()

			st, err := store.Open(config.LoadCommon().DatabasePath, logger.New("ctl"))
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.ResetIndexed(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d articles\n", n)
			return nil
		},
	}
}

func indexOnceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "index-once",
		Short: "Run a single indexing pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd, opts)
			defer cancel()

			log := logger.New("ctl")
			es, cfg, err := connect(ctx, log)
			if err != nil {
				return err
			}
			if _, err := es.EnsureIndex(ctx); err != nil {
				return err
			}

			st, err := store.Open(cfg.DatabasePath, log)
			if err != nil {
				return err
			}
			defer st.Close()

			embedder, release, err := bootstrap.Embedder(ctx, cfg.Embedding, cfg.Retry, log)
			if err != nil {
				return err
			}
			defer release()

			stats, err := indexing.New(st, embedder, es, indexing.Options{
				MaxInput:     cfg.MaxInput,
				OverlapRatio: cfg.OverlapRatio,
				Concurrency:  cfg.Concurrency,
				Logger:       log,
			}).RunPass(ctx)
			if err != nil {
				return err
			}
			if err := es.Refresh(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fetched=%d indexed=%d skipped=%d failed=%d chunks=%d\n",
				stats.Fetched, stats.Indexed, stats.Skipped, stats.Failed, stats.Chunks)
			return nil
		},
	}
}

func statusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show how many stored articles are waiting to be indexed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd, opts)
			defer cancel()

			st, err := store.Open(config.LoadCommon().DatabasePath, logger.New("ctl"))
			if err != nil {
				return err
			}
			defer st.Close()

			total, err := st.CountNews(ctx)
			if err != nil {
				return err
			}
			pending, err := st.CountUnindexed(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "articles=%d unindexed=%d\n", total, pending)
			return nil
		},
	}
}
