package version_test

import (
	"testing"

	"github.com/bilusteknoloji/pipdepgraph/internal/version"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name             string
		raw              string
		wantOK           bool
		wantPrerelease   bool
		wantPostrelease  bool
		wantDevrelease   bool
	}{
		{"plain release", "1.0", true, false, false, false},
		{"dev release", "2.0.dev1", true, true, false, true},
		{"prerelease", "3.0a1", true, true, false, false},
		{"postrelease", "1.0.post1", true, false, true, false},
		{"epoch", "1!1.0", true, false, false, false},
		{"invalid", "not-a-version", false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := version.Parse(tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.raw, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.IsPrerelease != tt.wantPrerelease {
				t.Errorf("IsPrerelease = %v, want %v", got.IsPrerelease, tt.wantPrerelease)
			}
			if got.IsPostrelease != tt.wantPostrelease {
				t.Errorf("IsPostrelease = %v, want %v", got.IsPostrelease, tt.wantPostrelease)
			}
			if got.IsDevrelease != tt.wantDevrelease {
				t.Errorf("IsDevrelease = %v, want %v", got.IsDevrelease, tt.wantDevrelease)
			}
		})
	}
}

func TestParseBigintClamp(t *testing.T) {
	raw := "99999999999999999999.1"

	got, ok := version.Parse(raw)
	if !ok {
		t.Fatalf("Parse(%q) failed to parse", raw)
	}

	if got.PackageRelease != nil {
		t.Errorf("PackageRelease = %v, want nil (clamped)", got.PackageRelease)
	}

	if got.PackageVersion != raw {
		t.Errorf("PackageVersion = %q, want %q", got.PackageVersion, raw)
	}
}

func TestParseEpochWithinRange(t *testing.T) {
	got, ok := version.Parse("1.0")
	if !ok {
		t.Fatal("Parse failed")
	}
	if got.Epoch == nil || *got.Epoch != 0 {
		t.Errorf("Epoch = %v, want 0", got.Epoch)
	}
}

func TestMatchesSpecifier(t *testing.T) {
	tests := []struct {
		name       string
		v          string
		specifier  string
		want       bool
	}{
		{"no specifier", "1.0.0", "", true},
		{"in range", "1.5.0", ">=1,<2", true},
		{"out of range", "2.1.0", ">=1,<2", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := version.MatchesSpecifier(tt.v, tt.specifier)
			if err != nil {
				t.Fatalf("MatchesSpecifier() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("MatchesSpecifier(%q, %q) = %v, want %v", tt.v, tt.specifier, got, tt.want)
			}
		})
	}
}

func TestFilterSortDesc(t *testing.T) {
	versions := []string{"0.9", "1.0", "1.5", "2.0"}

	got, err := version.FilterSortDesc(versions, ">=1,<2")
	if err != nil {
		t.Fatalf("FilterSortDesc() error: %v", err)
	}

	want := []string{"1.5", "1.0"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %q, want %q", i, got[i], want[i])
		}
	}
}
