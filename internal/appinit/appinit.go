// Package appinit wires the collaborators every cmd/ entry point needs
// from a loaded config: the DB pool, the broker connection with its
// topology declared, the repositories, the PyPI client, and the
// publish service. Kept out of internal/store, internal/broker, etc. so
// none of those packages import each other just to support main wiring.
package appinit

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bilusteknoloji/pipdepgraph/internal/broker"
	"github.com/bilusteknoloji/pipdepgraph/internal/config"
	"github.com/bilusteknoloji/pipdepgraph/internal/publish"
	"github.com/bilusteknoloji/pipdepgraph/internal/pypiclient"
	"github.com/bilusteknoloji/pipdepgraph/internal/store"
)

// NewLogger builds the structured logger every process starts with.
func NewLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Repos bundles every repository a process might need. Processes that
// only use a subset simply ignore the rest.
type Repos struct {
	PackageNames  *store.PackageNames
	Versions      *store.Versions
	Distributions *store.Distributions
	Requirements  *store.Requirements
	Candidates    *store.Candidates
	Cdc           *store.Cdc
}

// App holds every collaborator wired from config, ready for a cmd/ main
// to assemble into whichever services that process needs.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Pool      *pgxpool.Pool
	Conn      *amqp.Connection
	Repos     Repos
	Pypi      pypiclient.Client
	Publisher *publish.Service
}

// Close releases the DB pool and broker connection.
func (a *App) Close() {
	_ = a.Conn.Close()
	a.Pool.Close()
}

// New loads config, connects to Postgres and RabbitMQ (declaring the
// broker topology), and builds every repository and service collaborator.
// Callers must call Close when done.
func New(ctx context.Context, verbose bool) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := NewLogger(verbose)

	pool, err := pgxpool.New(ctx, cfg.Postgres.ConnString())
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	conn, err := broker.Dial(cfg.Broker)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
	}

	repos := Repos{
		PackageNames:  store.NewPackageNames(pool),
		Versions:      store.NewVersions(pool),
		Distributions: store.NewDistributions(pool),
		Requirements:  store.NewRequirements(pool),
		Candidates:    store.NewCandidates(pool),
		Cdc:           store.NewCdc(pool),
	}

	pypi := pypiclient.New(pypiclient.WithLogger(logger))
	pub := publish.New(publish.AMQPConn(conn), cfg.Broker.Exchange)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Pool:      pool,
		Conn:      conn,
		Repos:     repos,
		Pypi:      pypi,
		Publisher: pub,
	}, nil
}
