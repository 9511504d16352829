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
		Use:           "candidate-correlation-subscriber",
		Short:         "Consumes requirements and maintains their candidate version sets",
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

	service := process.NewCandidateCorrelationService(
		app.Repos.Versions, app.Repos.Requirements, app.Repos.Candidates,
		process.WithCorrelationPublisher(app.Publisher),
		process.WithCorrelationLogger(app.Logger),
	)

	deliveries, err := broker.ConsumeLoop(
		ctx, app.Conn, app.Config.Broker.CandidateCorrelation.Name, app.Config.Broker.CandidateCorrelation.Prefetch,
		app.Config.Broker.CtagPrefix, broker.DecodeJSON[model.Requirement], app.Logger,
	)
	if err != nil {
		return fmt.Errorf("starting consume loop: %w", err)
	}

	app.Logger.Info("candidate correlation subscriber running")

	for d := range deliveries {
		if err := service.ProcessRequirement(ctx, d.Record); err != nil {
			app.Logger.Error("correlating requirement",
				slog.String("requirement_id", d.Record.RequirementID),
				slog.String("error", err.Error()),
			)
			d.Ack(false)

			continue
		}

		d.Ack(true)
	}

	return nil
}
