package requirement_test

import (
	"testing"

	"github.com/bilusteknoloji/pipdepgraph/internal/requirement"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input      string
		wantOK     bool
		wantName   string
		wantSpec   string
		wantMarker string
		wantExtras []string
	}{
		{"flask", true, "flask", "", "", nil},
		{"Flask", true, "flask", "", "", nil},
		{"flask>=3.0", true, "flask", ">=3.0", "", nil},
		{"flask>=3.0,<4.0", true, "flask", ">=3.0,<4.0", "", nil},
		{
			`importlib-metadata>=3.6.0; python_version < "3.10"`,
			true, "importlib-metadata", ">=3.6.0", `python_version < "3.10"`, nil,
		},
		{
			`bar>=1,<2; python_version<"3.12"`,
			true, "bar", ">=1,<2", `python_version < "3.12"`, nil,
		},
		{"My.Package>=1.0", true, "my-package", ">=1.0", "", nil},
		{"bar[socks,http2]>=1,<2", true, "bar", ">=1,<2", "", []string{"socks", "http2"}},
		{`!!!`, false, "", "", "", nil},
		{"", false, "", "", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := requirement.Parse(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", got.Name, tt.wantName)
			}
			if got.Specifier != tt.wantSpec {
				t.Errorf("Specifier = %q, want %q", got.Specifier, tt.wantSpec)
			}
			if got.Marker != tt.wantMarker {
				t.Errorf("Marker = %q, want %q", got.Marker, tt.wantMarker)
			}
			if len(got.Extras) != len(tt.wantExtras) {
				t.Fatalf("Extras = %v, want %v", got.Extras, tt.wantExtras)
			}
			for i := range tt.wantExtras {
				if got.Extras[i] != tt.wantExtras[i] {
					t.Errorf("Extras[%d] = %q, want %q", i, got.Extras[i], tt.wantExtras[i])
				}
			}
		})
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Flask", "flask"},
		{"my_package", "my-package"},
		{"My.Package", "my-package"},
		{"some--name", "some-name"},
		{"a_.b", "a-b"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := requirement.NormalizeName(tt.input); got != tt.want {
				t.Errorf("NormalizeName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestToModel(t *testing.T) {
	parsed, ok := requirement.Parse(`bar>=1,<2; python_version<"3.12"`)
	if !ok {
		t.Fatal("Parse failed")
	}

	row := requirement.ToModel("dist-1", parsed)

	if row.DependencyName != "bar" {
		t.Errorf("DependencyName = %q, want bar", row.DependencyName)
	}
	if row.VersionConstraint != ">=1,<2" {
		t.Errorf("VersionConstraint = %q, want >=1,<2", row.VersionConstraint)
	}
	if !row.Parsable {
		t.Error("Parsable = false, want true")
	}
	if row.Extras != `python_version < "3.12"` {
		t.Errorf("Extras = %q, want canonically spaced marker text", row.Extras)
	}
}

func TestUnparsable(t *testing.T) {
	row := requirement.Unparsable("dist-1", "!!!")

	if row.Parsable {
		t.Error("Parsable = true, want false")
	}
	if row.DependencyName != "!!!" {
		t.Errorf("DependencyName = %q, want !!!", row.DependencyName)
	}
}

func TestExtrasArrFromCSV(t *testing.T) {
	tests := []struct {
		csv  string
		want []string
	}{
		{"", nil},
		{"socks", []string{"socks"}},
		{"socks,http2", []string{"socks", "http2"}},
		{"socks, http2 ", []string{"socks", "http2"}},
	}

	for _, tt := range tests {
		got := requirement.ExtrasArrFromCSV(tt.csv)
		if len(got) != len(tt.want) {
			t.Fatalf("ExtrasArrFromCSV(%q) = %v, want %v", tt.csv, got, tt.want)
		}
		for i := range tt.want {
			if got[i] != tt.want[i] {
				t.Errorf("position %d: got %q, want %q", i, got[i], tt.want[i])
			}
		}
	}
}
