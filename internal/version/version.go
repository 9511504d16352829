// Package version decomposes PEP 440 version strings into their
// structured parts and answers specifier-set and ordering questions
// needed for candidate correlation.
package version

import (
	"cmp"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"

	"github.com/bilusteknoloji/pipdepgraph/internal/model"
)

// PackageReleaseTermMaxSize is the storage bigint ceiling. Any integer
// term of a parsed version that exceeds this is clamped to nil rather
// than stored, so one extreme input never pollutes a record; the raw
// PackageVersion string remains the source of truth.
const PackageReleaseTermMaxSize int64 = math.MaxInt64

// versionPattern is PEP 440's canonical version regex, used to recover
// the structural fields (epoch, release, pre/post/dev, local) that the
// comparison library does not expose as accessors.
var versionPattern = regexp.MustCompile(`(?i)^\s*v?` +
	`(?:(?:(?P<epoch>[0-9]+)!)?` +
	`(?P<release>[0-9]+(?:\.[0-9]+)*)` +
	`(?P<pre>[-_.]?(?P<pre_l>a|b|c|rc|alpha|beta|pre|preview)[-_.]?(?P<pre_n>[0-9]+)?)?` +
	`(?P<post>(?:-(?P<post_n1>[0-9]+))|(?:[-_.]?(?P<post_l>post|rev|r)[-_.]?(?P<post_n2>[0-9]+)?))?` +
	`(?P<dev>[-_.]?(?P<dev_l>dev)[-_.]?(?P<dev_n>[0-9]+)?)?)` +
	`(?:\+(?P<local>[a-z0-9]+(?:[-_.][a-z0-9]+)*))?` +
	`\s*$`)

var preLabelNormalize = map[string]string{
	"a":       "a",
	"alpha":   "a",
	"b":       "b",
	"beta":    "b",
	"c":       "rc",
	"rc":      "rc",
	"pre":     "rc",
	"preview": "rc",
}

// Parse decomposes a version string. It returns false if the string is
// not a valid PEP 440 version; callers must tolerate that.
func Parse(raw string) (*model.Version, bool) {
	match := versionPattern.FindStringSubmatch(raw)
	if match == nil {
		return nil, false
	}

	groups := make(map[string]string, len(match))
	for i, name := range versionPattern.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		groups[name] = match[i]
	}

	v := &model.Version{PackageVersion: raw}

	v.Epoch = parseTerm(groups["epoch"])

	release, releaseFits := parseRelease(groups["release"])
	if releaseFits {
		v.PackageRelease = release
	}

	if groups["pre"] != "" {
		label := preLabelNormalize[strings.ToLower(groups["pre_l"])]
		if number := parseTerm(groups["pre_n"]); number != nil {
			v.Pre0 = &label
			v.Pre1 = number
		}
		v.IsPrerelease = true
	}

	if groups["post"] != "" {
		v.Post = parseTerm(cmp.Or(groups["post_n1"], groups["post_n2"]))
		v.IsPostrelease = true
	}

	if groups["dev"] != "" {
		v.Dev = parseTerm(groups["dev_n"])
		v.IsDevrelease = true
		v.IsPrerelease = true
	}

	if groups["local"] != "" {
		local := normalizeLocal(groups["local"])
		v.Local = &local
	}

	return v, true
}

func parseRelease(raw string) ([]int64, bool) {
	parts := strings.Split(raw, ".")
	release := make([]int64, len(parts))
	fits := true

	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			fits = false
			continue
		}
		if n > PackageReleaseTermMaxSize {
			fits = false
		}
		release[i] = n
	}

	return release, fits
}

func normalizeLocal(raw string) string {
	parts := regexp.MustCompile(`[-_.]`).Split(raw, -1)
	for i, p := range parts {
		parts[i] = strings.ToLower(p)
	}
	return strings.Join(parts, ".")
}

// parseTerm parses one integer term of a version, an empty term counting
// as 0. A term too large for int64 yields nil.
func parseTerm(raw string) *int64 {
	if raw == "" {
		raw = "0"
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// MatchesSpecifier reports whether versionStr satisfies every clause of
// the given specifier-set string (e.g. ">=1,<2").
func MatchesSpecifier(versionStr, specifier string) (bool, error) {
	v, err := pep440.Parse(versionStr)
	if err != nil {
		return false, fmt.Errorf("parsing version %q: %w", versionStr, err)
	}

	if strings.TrimSpace(specifier) == "" {
		return true, nil
	}

	ss, err := pep440.NewSpecifiers(specifier)
	if err != nil {
		return false, fmt.Errorf("parsing specifier %q: %w", specifier, err)
	}

	return ss.Check(v), nil
}

// FilterSortDesc returns the subset of versions matching specifier,
// sorted in descending version order. Versions that fail to parse are
// dropped individually rather than failing the whole call.
func FilterSortDesc(versions []string, specifier string) ([]string, error) {
	var ss pep440.Specifiers
	hasSpecifier := strings.TrimSpace(specifier) != ""
	if hasSpecifier {
		parsed, err := pep440.NewSpecifiers(specifier)
		if err != nil {
			return nil, fmt.Errorf("parsing specifier %q: %w", specifier, err)
		}
		ss = parsed
	}

	type parsed struct {
		raw string
		ver pep440.Version
	}

	var matched []parsed
	for _, raw := range versions {
		v, err := pep440.Parse(raw)
		if err != nil {
			continue
		}
		if hasSpecifier && !ss.Check(v) {
			continue
		}
		matched = append(matched, parsed{raw: raw, ver: v})
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ver.GreaterThan(matched[j].ver)
	})

	result := make([]string, len(matched))
	for i, m := range matched {
		result[i] = m.raw
	}

	return result, nil
}
