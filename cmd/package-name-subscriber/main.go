package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/bilusteknoloji/pipdepgraph/internal/appinit"
	"github.com/bilusteknoloji/pipdepgraph/internal/broker"
	"github.com/bilusteknoloji/pipdepgraph/internal/model"
	"github.com/bilusteknoloji/pipdepgraph/internal/process"
)

// propagateInterval is how often the subscriber runs a full propagation
// pass over requirements.dependency_name, independent of message traffic.
const propagateInterval = 15 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:           "package-name-subscriber",
		Short:         "Consumes package names and fetches their releases from PyPI",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runSubscriber,
	}

	rootCmd.Flags().BoolP("verbose", "v", false, "Verbose logging")

	return rootCmd.Execute()
}

func runSubscriber(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := appinit.New(ctx, verbose)
	if err != nil {
		return err
	}
	defer app.Close()

	processor := process.NewPackageNameProcessor(
		app.Pool, app.Repos.PackageNames, app.Repos.Versions, app.Repos.Distributions, app.Pypi,
		process.WithPublisher(app.Publisher),
		process.WithLogger(app.Logger),
	)

	deliveries, err := broker.ConsumeLoop(
		ctx, app.Conn, app.Config.Broker.PackageNames.Name, app.Config.Broker.PackageNames.Prefetch,
		app.Config.Broker.CtagPrefix, broker.DecodeJSON[model.PackageName], app.Logger,
	)
	if err != nil {
		return fmt.Errorf("starting consume loop: %w", err)
	}

	ticker := time.NewTicker(propagateInterval)
	defer ticker.Stop()

	app.Logger.Info("package name subscriber running")

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if err := processor.PropagateDiscoveredPackageNames(ctx); err != nil {
				app.Logger.Error("propagating discovered package names", slog.String("error", err.Error()))
			}

		case d, ok := <-deliveries:
			if !ok {
				return nil
			}

			err := processor.Process(ctx, d.Record.PackageName, process.ProcessOptions{IgnoreDateLastChecked: true})
			if err != nil {
				app.Logger.Error("processing package name",
					slog.String("package_name", d.Record.PackageName),
					slog.String("error", err.Error()),
				)
				d.Ack(false)

				continue
			}

			d.Ack(true)
		}
	}
}
