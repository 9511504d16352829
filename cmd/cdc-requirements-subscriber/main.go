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
	"github.com/bilusteknoloji/pipdepgraph/internal/cdc"
	"github.com/bilusteknoloji/pipdepgraph/internal/model"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:           "cdc-requirements-subscriber",
		Short:         "Consumes requirement change events and republishes them for candidate correlation",
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

	sub := cdc.NewRequirementsSubscriber(app.Publisher, cdc.WithSubscriberLogger(app.Logger))

	deliveries, err := broker.ConsumeLoop(
		ctx, app.Conn, app.Config.Broker.CdcRequirements.Name, app.Config.Broker.CdcRequirements.Prefetch,
		app.Config.Broker.CtagPrefix, broker.DecodeJSON[model.EventLogEntry], app.Logger,
	)
	if err != nil {
		return fmt.Errorf("starting consume loop: %w", err)
	}

	ch, err := app.Conn.Channel()
	if err != nil {
		return fmt.Errorf("opening publish channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	app.Logger.Info("cdc requirements subscriber running")

	for d := range deliveries {
		if err := sub.HandleEvent(ctx, ch, d.Record); err != nil {
			app.Logger.Error("handling cdc requirement event",
				slog.Int64("event_id", d.Record.EventID),
				slog.String("error", err.Error()),
			)
			d.Ack(false)

			continue
		}

		d.Ack(true)
	}

	return nil
}
