// Package process implements the crawler's core business logic: turning
// a package name into stored versions and distributions, a distribution
// into stored requirements, and a requirement into a correlated set of
// candidate versions.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bilusteknoloji/pipdepgraph/internal/model"
	"github.com/bilusteknoloji/pipdepgraph/internal/publish"
	"github.com/bilusteknoloji/pipdepgraph/internal/pypiclient"
	"github.com/bilusteknoloji/pipdepgraph/internal/store"
	"github.com/bilusteknoloji/pipdepgraph/internal/version"
)

// RecheckPackageNameInterval is how recently a name must have been
// checked for Process to skip refetching it when the caller hasn't asked
// to ignore the check.
const RecheckPackageNameInterval = time.Hour

// ProcessOptions tunes a single Process call.
type ProcessOptions struct {
	IgnoreDateLastChecked bool
}

// PackageNameProcessor turns a package name into its known versions and
// distributions by fetching PyPI's legacy per-package JSON document.
type PackageNameProcessor struct {
	pool          *pgxpool.Pool
	packageNames  *store.PackageNames
	versions      *store.Versions
	distributions *store.Distributions
	pypi          pypiclient.Client
	publisher     *publish.Service
	logger        *slog.Logger
}

// Option configures a PackageNameProcessor.
type Option func(*PackageNameProcessor)

// WithPublisher attaches a publish.Service; newly inserted distributions
// are published only when one is set.
func WithPublisher(p *publish.Service) Option {
	return func(pp *PackageNameProcessor) {
		pp.publisher = p
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(pp *PackageNameProcessor) {
		if l != nil {
			pp.logger = l
		}
	}
}

// NewPackageNameProcessor builds a PackageNameProcessor.
func NewPackageNameProcessor(
	pool *pgxpool.Pool,
	packageNames *store.PackageNames,
	versions *store.Versions,
	distributions *store.Distributions,
	pypi pypiclient.Client,
	opts ...Option,
) *PackageNameProcessor {
	pp := &PackageNameProcessor{
		pool:          pool,
		packageNames:  packageNames,
		versions:      versions,
		distributions: distributions,
		pypi:          pypi,
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt(pp)
	}

	return pp
}

// Process ensures name exists in package_names, and — unless it was
// checked within RecheckPackageNameInterval and the caller hasn't asked
// to ignore that — fetches its releases from PyPI, stores every version
// and distribution, publishes the newly discovered distributions, and
// marks the name checked.
func (pp *PackageNameProcessor) Process(ctx context.Context, name string, opts ProcessOptions) error {
	pp.logger.Info("processing package name", slog.String("package_name", name))

	pn, err := pp.packageNames.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("process: looking up package name %s: %w", name, err)
	}

	if pn == nil {
		if err := pp.packageNames.Insert(ctx, name); err != nil {
			return fmt.Errorf("process: inserting package name %s: %w", name, err)
		}

		pn, err = pp.packageNames.Get(ctx, name)
		if err != nil {
			return fmt.Errorf("process: re-reading package name %s: %w", name, err)
		}

		if pn == nil {
			return fmt.Errorf("process: package name %s not found after insert", name)
		}
	}

	now := time.Now()
	shouldProcess := opts.IgnoreDateLastChecked ||
		pn.DateLastChecked == nil ||
		pn.DateLastChecked.Before(now.Add(-RecheckPackageNameInterval))

	if !shouldProcess {
		return nil
	}

	legacy, err := pp.pypi.GetPackageDistributionsLegacy(ctx, pn.PackageName)
	if err != nil {
		if errors.Is(err, pypiclient.ErrPackageNotFound) {
			pp.logger.Debug("package not found on PyPI, marking checked", slog.String("package_name", pn.PackageName))
			return pp.packageNames.Update(ctx, pn.PackageName)
		}

		return fmt.Errorf("process: fetching releases for %s: %w", pn.PackageName, err)
	}

	versions := make([]model.Version, 0, len(legacy.Releases))
	for versionString := range legacy.Releases {
		v := model.Version{PackageName: pn.PackageName, PackageVersion: versionString}

		if parsed, ok := version.Parse(versionString); ok {
			parsed.PackageName = pn.PackageName
			parsed.PackageVersion = versionString
			v = *parsed
		} else {
			pp.logger.Warn("error parsing version",
				slog.String("package_name", pn.PackageName),
				slog.String("package_version", versionString),
			)
		}

		versions = append(versions, v)
	}

	err = pgx.BeginTxFunc(ctx, pp.pool, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
		if err := pp.versions.UpsertCtx(ctx, tx, versions); err != nil {
			return err
		}

		versionIDs := map[string]string{}
		var packageVersion, versionID string
		rows, _ := tx.Query(ctx, `SELECT package_version, version_id FROM versions WHERE package_name = $1`, pn.PackageName)
		if _, err := pgx.ForEachRow(rows, []any{&packageVersion, &versionID}, func() error {
			versionIDs[packageVersion] = versionID

			return nil
		}); err != nil {
			return err
		}

		var dists []model.Distribution
		for versionString, distURLs := range legacy.Releases {
			versionID, ok := versionIDs[versionString]
			if !ok {
				continue
			}

			for _, d := range distURLs {
				dists = append(dists, model.Distribution{
					VersionID:       versionID,
					PackageType:     d.PackageType,
					PythonVersion:   d.PythonVersion,
					RequiresPython:  d.RequiresPython,
					UploadTime:      parseUploadTime(d.UploadTimeISO),
					Yanked:          d.Yanked,
					PackageFilename: d.Filename,
					PackageURL:      d.URL,
					Processed:       false,
				})
			}
		}

		inserted, err := pp.distributions.InsertCtx(ctx, tx, dists, pp.publisher != nil)
		if err != nil {
			return err
		}

		if pp.publisher != nil && len(inserted) > 0 {
			if err := pp.publisher.PublishDistributions(ctx, nil, inserted); err != nil {
				return err
			}
		}

		return pp.packageNames.UpdateCtx(ctx, tx, pn.PackageName)
	})
	if err != nil {
		return fmt.Errorf("process: storing releases for %s: %w", pn.PackageName, err)
	}

	return nil
}

func parseUploadTime(iso string) *time.Time {
	if iso == "" {
		return nil
	}

	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return nil
	}

	return &t
}

// PropagateDiscoveredPackageNames inserts every distinct dependency_name
// seen in requirements that isn't already a tracked package name, so
// packages discovered only as someone else's dependency eventually get
// crawled in their own right. Meant to be invoked periodically, not per
// message.
func (pp *PackageNameProcessor) PropagateDiscoveredPackageNames(ctx context.Context) error {
	pp.logger.Info("propagating discovered package names from requirements")
	return pp.packageNames.PropagateDependencyNames(ctx)
}
