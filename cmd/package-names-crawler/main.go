package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"regexp"

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
		Use:           "package-names-crawler",
		Short:         "Streams the PyPI Simple index and publishes newly discovered package names",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCrawl,
	}

	rootCmd.Flags().BoolP("verbose", "v", false, "Verbose logging")

	return rootCmd.Execute()
}

func runCrawl(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := appinit.New(ctx, verbose)
	if err != nil {
		return err
	}
	defer app.Close()

	prefix, err := regexp.Compile(app.Config.Behavior.PopularPackageLoaderPrefixRegex)
	if err != nil {
		return fmt.Errorf("compiling prefix regex %q: %w", app.Config.Behavior.PopularPackageLoaderPrefixRegex, err)
	}

	app.Logger.Info("streaming simple index", slog.String("prefix_regex", prefix.String()))

	var (
		names         []string
		processingRun bool
	)

	err = app.Pypi.StreamPackageNames(ctx, func(name string) bool {
		if prefix.MatchString(name) {
			processingRun = true
			names = append(names, name)

			return true
		}

		return !processingRun
	})
	if err != nil {
		return fmt.Errorf("streaming simple index: %w", err)
	}

	app.Logger.Info("inserting discovered package names", slog.Int("count", len(names)))

	inserted, err := app.Repos.PackageNames.InsertNames(ctx, names, true)
	if err != nil {
		return fmt.Errorf("inserting package names: %w", err)
	}

	app.Logger.Info("publishing newly discovered package names", slog.Int("count", len(inserted)))

	if len(inserted) > 0 {
		if err := app.Publisher.PublishPackageNames(ctx, nil, inserted); err != nil {
			return fmt.Errorf("publishing package names: %w", err)
		}
	}

	return nil
}
