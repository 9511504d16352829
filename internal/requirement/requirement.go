// Package requirement parses PEP 508 dependency specifiers (the
// Requires-Dist entries found in wheel metadata) and canonicalizes PyPI
// package names per PEP 503.
package requirement

import (
	"regexp"
	"strings"

	"github.com/bilusteknoloji/pipdepgraph/internal/model"
)

// Parsed is a single parsed PEP 508 dependency specifier.
type Parsed struct {
	Name      string   // normalized dependency name
	Extras    []string // requested extras, e.g. ["socks", "http2"]
	Specifier string   // version specifier, e.g. ">=3.0,<4.0"
	Marker    string   // environment marker, e.g. `python_version < "3.10"`
}

// Parse parses a Requires-Dist entry such as
//
//	`bar[socks]>=1,<2; python_version < "3.12"`
//
// It returns false when the entry has no recognizable package name, the
// signal the distribution processor uses to fall back to an unparsable
// raw row rather than failing the whole batch.
func Parse(s string) (*Parsed, bool) {
	marker := ""

	parts := strings.SplitN(s, ";", 2)
	nameSpec := strings.TrimSpace(parts[0])

	if len(parts) > 1 {
		marker = normalizeMarker(parts[1])
	}

	var extras []string
	if idx := strings.Index(nameSpec, "["); idx >= 0 {
		if endIdx := strings.Index(nameSpec, "]"); endIdx > idx {
			for _, e := range strings.Split(nameSpec[idx+1:endIdx], ",") {
				if e = strings.TrimSpace(e); e != "" {
					extras = append(extras, e)
				}
			}
			nameSpec = nameSpec[:idx] + nameSpec[endIdx+1:]
		}
	}

	nameSpec = strings.NewReplacer("(", "", ")", "").Replace(nameSpec)
	nameSpec = strings.TrimSpace(nameSpec)

	specStart := strings.IndexAny(nameSpec, "><=!~")
	name := nameSpec
	specifier := ""

	if specStart >= 0 {
		name = strings.TrimSpace(nameSpec[:specStart])
		specifier = strings.TrimSpace(nameSpec[specStart:])
	}

	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, " \t\"'!@#$%^&*") {
		return nil, false
	}

	return &Parsed{
		Name:      NormalizeName(name),
		Extras:    extras,
		Specifier: specifier,
		Marker:    marker,
	}, true
}

// markerTokenPattern recognizes the tokens of a PEP 508 environment marker:
// quoted string values, comparison operators, parens, and bare words
// (variable names and the and/or/in/not keywords).
var markerTokenPattern = regexp.MustCompile(`"[^"]*"|'[^']*'|<=|>=|==|!=|~=|<|>|\(|\)|[A-Za-z_][A-Za-z0-9_]*`)

// normalizeMarker reformats a raw marker expression into the single-space
// canonical form Python's packaging library produces via str(marker) —
// e.g. `python_version<"3.12"` becomes `python_version < "3.12"` — so a
// marker parsed here round-trips to the same text the original crawler
// stores, regardless of the whitespace the publisher wrote it with.
func normalizeMarker(s string) string {
	tokens := markerTokenPattern.FindAllString(s, -1)
	if len(tokens) == 0 {
		return strings.TrimSpace(s)
	}

	var b strings.Builder

	for i, tok := range tokens {
		if i > 0 && tokens[i-1] != "(" && tok != ")" {
			b.WriteByte(' ')
		}

		b.WriteString(tok)
	}

	return b.String()
}

// NormalizeName normalizes a Python package name per PEP 503: lowercase,
// runs of [-_.] collapsed to a single hyphen.
func NormalizeName(name string) string {
	name = strings.ToLower(name)

	var b strings.Builder

	prevHyphen := false

	for i := range len(name) {
		switch name[i] {
		case '-', '_', '.':
			if !prevHyphen {
				b.WriteByte('-')
				prevHyphen = true
			}
		default:
			b.WriteByte(name[i])
			prevHyphen = false
		}
	}

	return b.String()
}

// ToModel converts a parsed requirement into the row shape a distribution
// processing run persists. The requesting package's extras are carried
// both as a CSV string and as an array; extras stores the marker
// expression, not the bracketed extras list.
func ToModel(distributionID string, p *Parsed) model.Requirement {
	return model.Requirement{
		DistributionID:      distributionID,
		Extras:              p.Marker,
		DependencyName:      p.Name,
		DependencyExtras:    strings.Join(p.Extras, ","),
		DependencyExtrasArr: p.Extras,
		VersionConstraint:   p.Specifier,
		Parsable:            true,
	}
}

// Unparsable builds the fallback row recorded when a Requires-Dist entry
// could not be decomposed: the raw text is kept as the dependency name so
// the row is still visible for inspection, and every other field is left
// blank.
func Unparsable(distributionID, raw string) model.Requirement {
	return model.Requirement{
		DistributionID: distributionID,
		DependencyName: raw,
		Parsable:       false,
	}
}

// ExtrasArrFromCSV rebuilds the array form of a requirement's requested
// extras from its CSV form. Used by the requirement reprocess subscriber,
// which only has the CSV column to work from when it rebuilds a stored
// requirement.
func ExtrasArrFromCSV(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}

	parts := strings.Split(csv, ",")
	arr := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			arr = append(arr, p)
		}
	}

	return arr
}
