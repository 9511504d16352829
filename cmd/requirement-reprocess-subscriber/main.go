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
	"github.com/bilusteknoloji/pipdepgraph/internal/requirement"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:           "requirement-reprocess-subscriber",
		Short:         "Consumes requirements and rebuilds their extras array from the stored CSV form",
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

	deliveries, err := broker.ConsumeLoop(
		ctx, app.Conn, app.Config.Broker.ReprocessRequirements.Name, app.Config.Broker.ReprocessRequirements.Prefetch,
		app.Config.Broker.CtagPrefix, broker.DecodeJSON[model.Requirement], app.Logger,
	)
	if err != nil {
		return fmt.Errorf("starting consume loop: %w", err)
	}

	app.Logger.Info("requirement reprocess subscriber running")

	for d := range deliveries {
		req := d.Record
		req.DependencyExtrasArr = requirement.ExtrasArrFromCSV(req.DependencyExtras)

		if err := app.Repos.Requirements.Update(ctx, req); err != nil {
			app.Logger.Error("updating requirement",
				slog.String("requirement_id", req.RequirementID),
				slog.String("error", err.Error()),
			)
			d.Ack(false)

			continue
		}

		d.Ack(true)
	}

	return nil
}
