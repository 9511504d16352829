// Package config reads the environment-variable surface the crawler's
// processes are configured through. There is no configuration-framework
// dependency here: the surface is a flat set of env vars with literal
// defaults, and every full example repo in this project's lineage reaches
// for os.Getenv directly for exactly this shape rather than pulling in a
// config library — see DESIGN.md.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Postgres holds the connection parameters for the relational store.
type Postgres struct {
	Host         string
	Port         int
	Database     string
	Username     string
	Password     string
	PasswordFile string
}

// ConnString builds a libpq-style connection string for pgxpool.New.
func (p Postgres) ConnString() string {
	password := p.Password
	if p.PasswordFile != "" {
		if b, err := os.ReadFile(p.PasswordFile); err == nil {
			password = strings.TrimRight(string(b), "\n")
		}
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", p.Username, password, p.Host, p.Port, p.Database)
}

// QueueConfig is the name and prefetch configuration for one durable
// queue.
type QueueConfig struct {
	Name      string
	Prefetch  int
}

// Broker holds the RabbitMQ connection and topology configuration.
type Broker struct {
	Host       string
	Port       int
	Username   string
	Password   string
	VHost      string
	Exchange   string
	CtagPrefix string

	PackageNames           QueueConfig
	Distributions          QueueConfig
	ReprocessRequirements  QueueConfig
	CandidateCorrelation   QueueConfig
	CdcVersions            QueueConfig
	CdcRequirements        QueueConfig
}

// Behavior holds the feature-flag surface that tunes what the processing
// services and loaders do beyond their core contract.
type Behavior struct {
	DistProcessorDiscoverPackageNames                  bool
	DistProcessorIgnoreProcessedFlag                   bool
	UnprocessedLoadPackageNames                        bool
	UnprocessedLoadDistributions                       bool
	UnprocessedOnlyBdistWheel                          bool
	UnprocessedOnlyUnprocessedDists                    bool
	UnprocessedLoadIncompleteRequirements               bool
	UnprocessedLoadRequirementsForCandidateCorrelation bool
	PopularPackageLoaderCountInserted                  bool
	PopularPackageLoaderPrefixRegex                    string
}

// Batching holds the iteration/commit batch sizes used by the streaming
// repository iterators.
type Batching struct {
	RepoIterBatchSize       int
	CdcEventLogIterBatchSize int
	CommitBatchSize          int
}

// Sharding holds the hashmod partition parameters a one-shot reprocessor
// run is configured with. ModFilter is 1-based on the wire and decremented
// to a 0-based residue internally.
type Sharding struct {
	HashAlg   string
	ModBase   int
	ModFilter int
}

// Config is the full environment-variable surface recognized across every
// process in this module.
type Config struct {
	Postgres Postgres
	Broker   Broker
	Behavior Behavior
	Batching Batching
	Sharding Sharding
}

// Load reads Config from the process environment, applying the defaults
// documented alongside each field.
func Load() (Config, error) {
	cfg := Config{
		Postgres: Postgres{
			Host:         getenv("POSTGRES_HOST", "localhost"),
			Port:         getenvInt("POSTGRES_PORT", 5432),
			Database:     getenv("POSTGRES_DB", "defaultdb"),
			Username:     getenv("POSTGRES_USERNAME", "pypi_scraper"),
			Password:     getenv("POSTGRES_PASSWORD", "password"),
			PasswordFile: getenv("POSTGRES_PASSWORD_FILE", ""),
		},
		Broker: Broker{
			Host:       getenv("RABBITMQ_HOST", "localhost"),
			Port:       getenvInt("RABBITMQ_PORT", 5672),
			Username:   getenv("RABBITMQ_USERNAME", "pypi_scraper"),
			Password:   getenv("RABBITMQ_PASSWORD", "password"),
			VHost:      getenv("RABBITMQ_VHOST", "pypi_scraper"),
			Exchange:   getenv("RABBITMQ_EXCHANGE", "pypi_scraper"),
			CtagPrefix: getenv("RABBITMQ_CTAG_PREFIX", ""),

			PackageNames:          QueueConfig{Name: "package_names", Prefetch: getenvInt("RABBITMQ_NAMES_SUB_PREFETCH", 50)},
			Distributions:         QueueConfig{Name: "distributions", Prefetch: getenvInt("RABBITMQ_DISTS_SUB_PREFETCH", 100)},
			ReprocessRequirements: QueueConfig{Name: "requirements_reprocess", Prefetch: getenvInt("RABBITMQ_REPROCESS_REQS_SUB_PREFETCH", 100)},
			CandidateCorrelation:  QueueConfig{Name: "requirements_candidate_correlation", Prefetch: getenvInt("RABBITMQ_REQS_CAND_CORR_SUB_PREFETCH", 100)},
			CdcVersions:           QueueConfig{Name: "cdc_versions", Prefetch: getenvInt("RABBITMQ_CDC_VERSIONS_SUB_PREFETCH", 50)},
			CdcRequirements:       QueueConfig{Name: "cdc_requirements", Prefetch: getenvInt("RABBITMQ_CDC_REQS_SUB_PREFETCH", 50)},
		},
		Behavior: Behavior{
			DistProcessorDiscoverPackageNames:                  getenvBool("DIST_PROCESSOR_DISCOVER_PACKAGE_NAMES", false),
			DistProcessorIgnoreProcessedFlag:                    getenvBool("DIST_PROCESSOR_IGNORE_PROCESSED_FLAG", false),
			UnprocessedLoadPackageNames:                         getenvBool("UPL_LOAD_PACKAGE_NAMES", true),
			UnprocessedLoadDistributions:                        getenvBool("UPL_LOAD_DISTRIBUTIONS", true),
			UnprocessedOnlyBdistWheel:                           getenvBool("UPL_ONLY_LOAD_BDIST_WHEEL_DISTRIBUTIONS", false),
			UnprocessedOnlyUnprocessedDists:                     getenvBool("UPL_ONLY_LOAD_UNPROCESSED_DISTRIBUTIONS", false),
			UnprocessedLoadIncompleteRequirements:                getenvBool("UPL_LOAD_INCOMPLETE_REQUIREMENTS", true),
			UnprocessedLoadRequirementsForCandidateCorrelation:  getenvBool("UPL_LOAD_REQUIREMENTS_FOR_CANDIDATE_CORRELATION", false),
			PopularPackageLoaderCountInserted:                   getenvBool("POPULAR_PACKAGE_LOADER_COUNT_INSERTED", true),
			// This reads its own env var name, unlike the Python original it
			// is grounded on, which reads TOP_8000_LOADER_COUNT_INSERTED for
			// both flags by an apparent copy-paste slip; see DESIGN.md.
			PopularPackageLoaderPrefixRegex: getenv("POPULAR_PACKAGE_LOADER_PREFIX_REGEX", "^"),
		},
		Batching: Batching{
			RepoIterBatchSize:        getenvInt("REPO_ITER_BATCH_SIZE", 50_000),
			CdcEventLogIterBatchSize: getenvInt("CDC_EVENT_LOG_REPO_ITER_BATCH_SIZE", 1_000),
			CommitBatchSize:          getenvInt("COMMIT_BATCH_SIZE", 1_000),
		},
		Sharding: Sharding{
			HashAlg:   getenv("DIST_ID_HASH_ALG", "md5"),
			ModBase:   getenvInt("DIST_ID_HASH_MOD_BASE", 16),
			ModFilter: getenvInt("DIST_ID_HASH_MOD_FILTER", 1),
		},
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return strings.EqualFold(strings.TrimSpace(v), "true")
}
