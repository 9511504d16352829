package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/bilusteknoloji/pipdepgraph/internal/appinit"
	"github.com/bilusteknoloji/pipdepgraph/internal/reprocess"
	"github.com/bilusteknoloji/pipdepgraph/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:           "requirements-reprocessor",
		Short:         "Republishes requirements missing their parsed extras array, sharded by a hashmod filter",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runReprocess,
	}

	rootCmd.Flags().BoolP("verbose", "v", false, "Verbose logging")

	return rootCmd.Execute()
}

func runReprocess(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := appinit.New(ctx, verbose)
	if err != nil {
		return err
	}
	defer app.Close()

	sharding := app.Config.Sharding
	hashmod := store.HashModFilter{
		Alg:     sharding.HashAlg,
		ModBase: sharding.ModBase,
		ModVal:  sharding.ModFilter - 1,
	}

	app.Logger.Info("reprocessing requirements matching hashmod filter",
		slog.String("alg", hashmod.Alg), slog.Int("mod_base", hashmod.ModBase), slog.Int("mod_val", hashmod.ModVal),
	)

	reprocessor := reprocess.New(app.Repos.Requirements, app.Publisher, app.Logger)

	count, err := reprocessor.Run(ctx, reprocess.Options{
		HashMod:       hashmod,
		CorrelateAlso: app.Config.Behavior.UnprocessedLoadRequirementsForCandidateCorrelation,
		BatchSize:     app.Config.Batching.RepoIterBatchSize,
	})
	if err != nil {
		return fmt.Errorf("reprocessing requirements: %w", err)
	}

	app.Logger.Info("done", slog.Int("republished", count))

	return nil
}
