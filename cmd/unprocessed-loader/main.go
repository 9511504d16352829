package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/bilusteknoloji/pipdepgraph/internal/appinit"
	"github.com/bilusteknoloji/pipdepgraph/internal/config"
	"github.com/bilusteknoloji/pipdepgraph/internal/model"
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
		Use:           "unprocessed-loader",
		Short:         "Republishes unprocessed records onto the broker so subscribers pick up anything missed",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runLoad,
	}

	rootCmd.Flags().BoolP("verbose", "v", false, "Verbose logging")

	return rootCmd.Execute()
}

func runLoad(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := appinit.New(ctx, verbose)
	if err != nil {
		return err
	}
	defer app.Close()

	behavior := app.Config.Behavior

	if behavior.UnprocessedLoadDistributions {
		if err := loadDistributions(ctx, app, behavior); err != nil {
			return err
		}
	}

	if behavior.UnprocessedLoadPackageNames {
		if err := loadPackageNames(ctx, app); err != nil {
			return err
		}
	}

	if behavior.UnprocessedLoadIncompleteRequirements {
		if err := loadIncompleteRequirements(ctx, app, behavior); err != nil {
			return err
		}
	}

	return nil
}

func loadDistributions(ctx context.Context, app *appinit.App, behavior config.Behavior) error {
	app.Logger.Info("loading unprocessed distributions")

	opts := store.DistributionsIterOptions{}
	if behavior.UnprocessedOnlyUnprocessedDists {
		processed := false
		opts.Processed = &processed
	}

	var (
		count   int
		iterErr error
	)

	app.Repos.Distributions.Iter(ctx, opts, func(d model.Distribution, err error) bool {
		if err != nil {
			iterErr = err
			return false
		}

		if behavior.UnprocessedOnlyBdistWheel && d.PackageType != model.BdistWheel {
			return true
		}

		if pubErr := app.Publisher.PublishDistribution(ctx, nil, d); pubErr != nil {
			iterErr = pubErr
			return false
		}

		count++

		return true
	})
	if iterErr != nil {
		return fmt.Errorf("loading unprocessed distributions: %w", iterErr)
	}

	app.Logger.Info("distributions published", slog.Int("count", count))

	return nil
}

func loadPackageNames(ctx context.Context, app *appinit.App) error {
	app.Logger.Info("loading all package names")

	var (
		count   int
		iterErr error
	)

	app.Repos.PackageNames.Iter(ctx, store.IterOptions{}, func(pn model.PackageName, err error) bool {
		if err != nil {
			iterErr = err
			return false
		}

		if pubErr := app.Publisher.PublishPackageName(ctx, nil, pn.PackageName); pubErr != nil {
			iterErr = pubErr
			return false
		}

		count++

		return true
	})
	if iterErr != nil {
		return fmt.Errorf("loading package names: %w", iterErr)
	}

	app.Logger.Info("package names published", slog.Int("count", count))

	return nil
}

// loadIncompleteRequirements republishes every requirement still missing
// its parsed extras array, so the reprocess subscriber can rebuild it; when
// UnprocessedLoadRequirementsForCandidateCorrelation is also set, each one
// is republished for candidate correlation too.
func loadIncompleteRequirements(ctx context.Context, app *appinit.App, behavior config.Behavior) error {
	app.Logger.Info("loading incomplete requirements")

	opts := store.RequirementsIterOptions{
		DependencyExtrasArrIsNone: true,
		BatchSize:                 app.Config.Batching.RepoIterBatchSize,
	}

	var (
		count   int
		iterErr error
	)

	app.Repos.Requirements.Iter(ctx, opts, func(req model.Requirement, err error) bool {
		if err != nil {
			iterErr = err
			return false
		}

		if pubErr := app.Publisher.PublishRequirementForReprocessing(ctx, nil, req); pubErr != nil {
			iterErr = pubErr
			return false
		}

		if behavior.UnprocessedLoadRequirementsForCandidateCorrelation {
			if pubErr := app.Publisher.PublishRequirementForCandidateCorrelation(ctx, nil, req); pubErr != nil {
				iterErr = pubErr
				return false
			}
		}

		count++

		return true
	})
	if iterErr != nil {
		return fmt.Errorf("loading incomplete requirements: %w", iterErr)
	}

	app.Logger.Info("requirements published", slog.Int("count", count))

	return nil
}
