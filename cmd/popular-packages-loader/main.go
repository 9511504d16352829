package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/bilusteknoloji/pipdepgraph/internal/appinit"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:           "popular-packages-loader",
		Short:         "Loads the most-downloaded PyPI packages and publishes the newly discovered ones",
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

	app.Logger.Info("fetching popular packages list")

	popular, err := app.Pypi.GetPopularPackages(ctx)
	if err != nil {
		return fmt.Errorf("fetching popular packages: %w", err)
	}

	names := make([]string, len(popular))
	for i, p := range popular {
		names[i] = p.Project
	}

	returning := app.Config.Behavior.PopularPackageLoaderCountInserted

	inserted, err := app.Repos.PackageNames.InsertNames(ctx, names, returning)
	if err != nil {
		return fmt.Errorf("inserting package names: %w", err)
	}

	if returning {
		app.Logger.Info("new packages found", slog.Int("count", len(inserted)))

		if len(inserted) > 0 {
			if err := app.Publisher.PublishPackageNames(ctx, nil, inserted); err != nil {
				return fmt.Errorf("publishing package names: %w", err)
			}
		}

		return nil
	}

	app.Logger.Info("publishing popular packages", slog.Int("count", len(names)))

	return app.Publisher.PublishPackageNames(ctx, nil, names)
}
