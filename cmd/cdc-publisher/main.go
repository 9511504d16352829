package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/bilusteknoloji/pipdepgraph/internal/appinit"
	"github.com/bilusteknoloji/pipdepgraph/internal/cdc"
	"github.com/bilusteknoloji/pipdepgraph/internal/publish"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:           "cdc-publisher",
		Short:         "Drains the change-data-capture event log and republishes every entry",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runPublisher,
	}

	rootCmd.Flags().BoolP("verbose", "v", false, "Verbose logging")

	return rootCmd.Execute()
}

func runPublisher(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := appinit.New(ctx, verbose)
	if err != nil {
		return err
	}
	defer app.Close()

	p := cdc.NewPublisher(
		publish.AMQPConn(app.Conn), app.Repos.Cdc, app.Publisher,
		cdc.WithBatchSize(app.Config.Batching.CdcEventLogIterBatchSize),
		cdc.WithLogger(app.Logger),
	)

	app.Logger.Info("cdc publisher running")

	if err := p.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("running cdc publisher: %w", err)
	}

	return nil
}
