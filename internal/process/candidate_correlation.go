package process

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bilusteknoloji/pipdepgraph/internal/model"
	"github.com/bilusteknoloji/pipdepgraph/internal/publish"
	"github.com/bilusteknoloji/pipdepgraph/internal/store"
	"github.com/bilusteknoloji/pipdepgraph/internal/version"
)

// CandidateCorrelationService matches requirements against the versions
// known for their dependency name, maintaining the candidates table.
type CandidateCorrelationService struct {
	versions     *store.Versions
	requirements *store.Requirements
	candidates   *store.Candidates
	publisher    *publish.Service
	logger       *slog.Logger
}

// CorrelationOption configures a CandidateCorrelationService.
type CorrelationOption func(*CandidateCorrelationService)

// WithCorrelationPublisher attaches a publish.Service, used by
// ProcessVersionRecord to re-queue affected requirements.
func WithCorrelationPublisher(p *publish.Service) CorrelationOption {
	return func(s *CandidateCorrelationService) {
		s.publisher = p
	}
}

// WithCorrelationLogger sets the structured logger.
func WithCorrelationLogger(l *slog.Logger) CorrelationOption {
	return func(s *CandidateCorrelationService) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewCandidateCorrelationService builds a CandidateCorrelationService.
func NewCandidateCorrelationService(
	versions *store.Versions,
	requirements *store.Requirements,
	candidates *store.Candidates,
	opts ...CorrelationOption,
) *CandidateCorrelationService {
	s := &CandidateCorrelationService{
		versions:     versions,
		requirements: requirements,
		candidates:   candidates,
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ProcessRequirement finds every version of req's dependency that
// satisfies req's version constraint and upserts the result as req's
// candidate set. A blank dependency name is a silent no-op; an unparsable
// specifier set is logged at error level and otherwise a no-op: pip would
// have the same trouble with them.
func (s *CandidateCorrelationService) ProcessRequirement(ctx context.Context, req model.Requirement) error {
	if strings.TrimSpace(req.DependencyName) == "" {
		return nil
	}

	var (
		allVersions []model.Version
		iterErr     error
	)

	s.versions.Iter(ctx, store.VersionsIterOptions{PackageName: req.DependencyName}, func(v model.Version, err error) bool {
		if err != nil {
			iterErr = err
			return false
		}

		allVersions = append(allVersions, v)

		return true
	})
	if iterErr != nil {
		return fmt.Errorf("correlate: fetching versions of %s: %w", req.DependencyName, iterErr)
	}

	rawVersions := make([]string, 0, len(allVersions))
	versionIDByRaw := make(map[string]string, len(allVersions))

	for _, v := range allVersions {
		rawVersions = append(rawVersions, v.PackageVersion)
		versionIDByRaw[v.PackageVersion] = v.VersionID
	}

	matched, err := version.FilterSortDesc(rawVersions, req.VersionConstraint)
	if err != nil {
		s.logger.Error("error parsing specifier set",
			slog.String("requirement_id", req.RequirementID),
			slog.String("version_constraint", req.VersionConstraint),
			slog.String("error", err.Error()),
		)

		return nil
	}

	versionIDs := make([]string, len(matched))
	for i, raw := range matched {
		versionIDs[i] = versionIDByRaw[raw]
	}

	err = s.candidates.Upsert(ctx, model.Candidate{
		RequirementID:       req.RequirementID,
		CandidateVersions:   matched,
		CandidateVersionIDs: versionIDs,
	})
	if err != nil {
		return fmt.Errorf("correlate: upserting candidates for requirement %s: %w", req.RequirementID, err)
	}

	return nil
}

// ProcessVersionRecord re-correlates every existing requirement whose
// dependency name matches v's package, by republishing each one onto the
// candidate-correlation queue rather than recomputing in process — the
// fan-out that would otherwise run once per affected requirement here is
// pushed back onto the broker instead.
func (s *CandidateCorrelationService) ProcessVersionRecord(ctx context.Context, v model.Version) error {
	if s.publisher == nil {
		return nil
	}

	s.logger.Info("re-correlating requirements depending on", slog.String("package_name", v.PackageName))

	var republishErr error

	s.requirements.Iter(ctx, store.RequirementsIterOptions{DependencyName: v.PackageName}, func(req model.Requirement, err error) bool {
		if err != nil {
			republishErr = err
			return false
		}

		if err := s.publisher.PublishRequirementForCandidateCorrelation(ctx, nil, req); err != nil {
			republishErr = err
			return false
		}

		return true
	})

	if republishErr != nil {
		return fmt.Errorf("correlate: republishing requirements depending on %s: %w", v.PackageName, republishErr)
	}

	return nil
}
