package process

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bilusteknoloji/pipdepgraph/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecheckPackageNameInterval(t *testing.T) {
	if RecheckPackageNameInterval != time.Hour {
		t.Errorf("RecheckPackageNameInterval = %v, want 1h", RecheckPackageNameInterval)
	}
}

func TestConvertRequirementParsable(t *testing.T) {
	req := convertRequirement("dist-1", `Flask-SQLAlchemy[mysql]>=2.5,<3; python_version < "3.12"`)

	if !req.Parsable {
		t.Fatalf("expected parsable requirement, got %+v", req)
	}
	if req.DependencyName != "flask-sqlalchemy" {
		t.Errorf("DependencyName = %q, want flask-sqlalchemy", req.DependencyName)
	}
	if req.DependencyExtras != "mysql" {
		t.Errorf("DependencyExtras = %q, want mysql", req.DependencyExtras)
	}
	if req.VersionConstraint != ">=2.5,<3" {
		t.Errorf("VersionConstraint = %q, want >=2.5,<3", req.VersionConstraint)
	}
	if req.DistributionID != "dist-1" {
		t.Errorf("DistributionID = %q, want dist-1", req.DistributionID)
	}
}

func TestConvertRequirementFallsBackToUnparsable(t *testing.T) {
	raw := `!!! not a valid requirement !!!`
	req := convertRequirement("dist-1", raw)

	if req.Parsable {
		t.Fatalf("expected unparsable requirement, got %+v", req)
	}
	if req.DependencyName != raw {
		t.Errorf("DependencyName = %q, want raw text %q", req.DependencyName, raw)
	}
}

func TestConvertRequirementsIsolatesBadEntries(t *testing.T) {
	raw := []string{"requests>=2", `!!! bad !!!`, "click"}
	reqs := convertRequirements("dist-1", raw, discardLogger())

	if len(reqs) != 3 {
		t.Fatalf("expected 3 requirements, got %d", len(reqs))
	}
	if !reqs[0].Parsable || !reqs[2].Parsable {
		t.Errorf("expected entries 0 and 2 parsable, got %+v", reqs)
	}
	if reqs[1].Parsable {
		t.Errorf("expected entry 1 unparsable, got %+v", reqs[1])
	}
}

func TestDistinctDependencyNamesDedupesAndTrimsBlank(t *testing.T) {
	reqs := []model.Requirement{
		{DependencyName: "requests"},
		{DependencyName: "requests"},
		{DependencyName: "  "},
		{DependencyName: "click"},
	}

	names := distinctDependencyNames(reqs)

	if len(names) != 2 {
		t.Fatalf("expected 2 distinct names, got %v", names)
	}
	if names[0] != "requests" || names[1] != "click" {
		t.Errorf("names = %v, want [requests click]", names)
	}
}

func TestProcessRequirementBlankDependencyNameIsNoop(t *testing.T) {
	s := NewCandidateCorrelationService(nil, nil, nil, WithCorrelationLogger(discardLogger()))

	err := s.ProcessRequirement(context.Background(), model.Requirement{RequirementID: "req-1", DependencyName: "   "})
	if err != nil {
		t.Fatalf("ProcessRequirement() error = %v, want nil", err)
	}
}

func TestProcessVersionRecordNoopWithoutPublisher(t *testing.T) {
	s := NewCandidateCorrelationService(nil, nil, nil, WithCorrelationLogger(discardLogger()))

	err := s.ProcessVersionRecord(context.Background(), model.Version{PackageName: "requests"})
	if err != nil {
		t.Fatalf("ProcessVersionRecord() error = %v, want nil", err)
	}
}
