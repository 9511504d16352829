package config_test

import (
	"os"
	"testing"

	"github.com/bilusteknoloji/pipdepgraph/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Postgres.Host != "localhost" {
		t.Errorf("Postgres.Host = %q, want localhost", cfg.Postgres.Host)
	}
	if cfg.Broker.PackageNames.Prefetch != 50 {
		t.Errorf("PackageNames.Prefetch = %d, want 50", cfg.Broker.PackageNames.Prefetch)
	}
	if cfg.Broker.Distributions.Prefetch != 100 {
		t.Errorf("Distributions.Prefetch = %d, want 100", cfg.Broker.Distributions.Prefetch)
	}
	if !cfg.Behavior.UnprocessedLoadPackageNames {
		t.Error("UnprocessedLoadPackageNames default should be true")
	}
	if cfg.Sharding.ModBase != 16 {
		t.Errorf("Sharding.ModBase = %d, want 16", cfg.Sharding.ModBase)
	}
}

func TestPasswordFileOverridesEnv(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "pgpass")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("file-password\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	pg := config.Postgres{
		Username:     "u",
		Password:     "env-password",
		PasswordFile: f.Name(),
		Host:         "h",
		Port:         5432,
		Database:     "d",
	}

	got := pg.ConnString()
	want := "postgres://u:file-password@h:5432/d"
	if got != want {
		t.Errorf("ConnString() = %q, want %q", got, want)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("RABBITMQ_NAMES_SUB_PREFETCH", "7")
	t.Setenv("DIST_PROCESSOR_DISCOVER_PACKAGE_NAMES", "true")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Postgres.Host != "db.internal" {
		t.Errorf("Postgres.Host = %q, want db.internal", cfg.Postgres.Host)
	}
	if cfg.Broker.PackageNames.Prefetch != 7 {
		t.Errorf("PackageNames.Prefetch = %d, want 7", cfg.Broker.PackageNames.Prefetch)
	}
	if !cfg.Behavior.DistProcessorDiscoverPackageNames {
		t.Error("DistProcessorDiscoverPackageNames should be true")
	}
}
