package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/bilusteknoloji/pipdepgraph/internal/appinit"
	"github.com/bilusteknoloji/pipdepgraph/internal/broker"
	"github.com/bilusteknoloji/pipdepgraph/internal/model"
	"github.com/bilusteknoloji/pipdepgraph/internal/process"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:           "distribution-subscriber",
		Short:         "Consumes distributions and rebuilds their requirement set from wheel metadata",
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

	processor := process.NewDistributionProcessor(
		app.Pool, app.Repos.PackageNames, app.Repos.Distributions, app.Repos.Requirements, app.Pypi,
		process.WithDistributionPublisher(app.Publisher),
		process.WithDistributionLogger(app.Logger),
	)

	opts := process.DistributionProcessOptions{
		Force:                app.Config.Behavior.DistProcessorIgnoreProcessedFlag,
		DiscoverPackageNames: app.Config.Behavior.DistProcessorDiscoverPackageNames,
	}

	deliveries, err := broker.ConsumeLoop(
		ctx, app.Conn, app.Config.Broker.Distributions.Name, app.Config.Broker.Distributions.Prefetch,
		app.Config.Broker.CtagPrefix, broker.DecodeJSON[model.Distribution], app.Logger,
	)
	if err != nil {
		return fmt.Errorf("starting consume loop: %w", err)
	}

	app.Logger.Info("distribution subscriber running")

	for d := range deliveries {
		if err := processor.Process(ctx, d.Record, opts); err != nil {
			app.Logger.Error("processing distribution",
				slog.String("distribution_id", d.Record.DistributionID),
				slog.String("error", err.Error()),
			)
			d.Ack(false)

			continue
		}

		d.Ack(true)
	}

	return nil
}
