package pypiclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/textproto"
	"regexp"
	"strings"
	"time"

	"github.com/bilusteknoloji/pipdepgraph/internal/requirement"
)

const (
	defaultBaseURL            = "https://pypi.org/pypi"
	defaultSimpleURL          = "https://pypi.org/simple/"
	defaultPopularPackagesURL = "https://hugovk.github.io/top-pypi-packages/top-pypi-packages-30-days.min.json"
	maxRetries                = 3
	clientTimeout             = 30 * time.Second
)

// ErrPackageNotFound is returned by GetPackageDistributionsLegacy when
// PyPI has no record of the requested package.
var ErrPackageNotFound = errors.New("pypiclient: package not found")

// Client is the PyPI surface the processing services depend on.
type Client interface {
	GetPackageDistributionsLegacy(ctx context.Context, name string) (*LegacyPackageResponse, error)
	StreamPackageNames(ctx context.Context, yield func(name string) bool) error
	GetDistributionMetadata(ctx context.Context, packageType, packageURL string) (*Metadata, int64, error)
	GetPopularPackages(ctx context.Context) ([]PopularPackage, error)
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient sets the HTTP client used for API requests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// WithBaseURL sets the legacy JSON API base URL (useful for testing with httptest.Server).
func WithBaseURL(url string) Option {
	return func(s *Service) {
		if url != "" {
			s.baseURL = url
		}
	}
}

// WithSimpleURL sets the Simple index URL.
func WithSimpleURL(url string) Option {
	return func(s *Service) {
		if url != "" {
			s.simpleURL = url
		}
	}
}

// WithPopularPackagesURL sets the popular-packages list URL.
func WithPopularPackagesURL(url string) Option {
	return func(s *Service) {
		if url != "" {
			s.popularURL = url
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service communicates with PyPI over HTTP.
type Service struct {
	httpClient *http.Client
	baseURL    string
	simpleURL  string
	popularURL string
	logger     *slog.Logger
}

var _ Client = (*Service)(nil)

// New creates a PyPI client service.
func New(opts ...Option) *Service {
	s := &Service{
		httpClient: &http.Client{Timeout: clientTimeout},
		baseURL:    defaultBaseURL,
		simpleURL:  defaultSimpleURL,
		popularURL: defaultPopularPackagesURL,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// GetPackageDistributionsLegacy fetches the legacy per-package JSON
// document and returns its releases map, i.e. every distribution known
// for every version of name. Returns ErrPackageNotFound on a 404; any
// other non-2xx response is a hard error.
func (s *Service) GetPackageDistributionsLegacy(ctx context.Context, name string) (*LegacyPackageResponse, error) {
	canonical := requirement.NormalizeName(name)
	url := fmt.Sprintf("%s/%s/json", s.baseURL, canonical)

	var resp LegacyPackageResponse
	if err := s.fetchJSON(ctx, url, canonical, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// fetchJSON performs an HTTP GET with retry and exponential backoff, then
// decodes the response into out. Only transient errors (5xx, network
// errors) are retried; permanent errors (404, bad JSON) return immediately.
func (s *Service) fetchJSON(ctx context.Context, url, label string, out any) error {
	var lastErr error

	for attempt := range maxRetries {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 500 * time.Millisecond
			s.logger.Debug("retrying PyPI request",
				slog.String("target", label),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			select {
			case <-ctx.Done():
				return fmt.Errorf("fetching %s: %w", label, ctx.Err())
			case <-time.After(backoff):
			}
		}

		err := s.doRequestJSON(ctx, url, out)
		if err == nil {
			return nil
		}

		if errors.Is(err, ErrPackageNotFound) {
			return err
		}

		var re *retryableError
		if !errors.As(err, &re) {
			return fmt.Errorf("fetching %s: %w", label, err)
		}

		lastErr = err
		s.logger.Debug("PyPI request failed",
			slog.String("target", label),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return fmt.Errorf("fetching %s after %d attempts: %w", label, maxRetries, lastErr)
}

// retryableError indicates a transient error that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func (s *Service) doRequestJSON(ctx context.Context, url string, out any) error {
	resp, err := s.get(ctx, url, "application/json")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return ErrPackageNotFound
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return &retryableError{err: fmt.Errorf("server error %d from %s", resp.StatusCode, url)}
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("reading response from %s: %w", url, err)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", url, err)
	}

	return nil
}

func (s *Service) get(ctx context.Context, url, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", url, err)
	}

	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("requesting %s: %w", url, err)}
	}

	return resp, nil
}

// simpleIndexNamePattern matches a Simple-index project link such as
// `/simple/requests/`.
var simpleIndexNamePattern = regexp.MustCompile(`/simple/(?P<name>[A-Za-z0-9._-]+)`)

// StreamPackageNames scans the Simple index response line by line,
// invoking yield for each matched project name in index order. Stops
// early if yield returns false.
func (s *Service) StreamPackageNames(ctx context.Context, yield func(name string) bool) error {
	resp, err := s.get(ctx, s.simpleURL, "")
	if err != nil {
		return fmt.Errorf("fetching simple index: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, s.simpleURL)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		m := simpleIndexNamePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		if !yield(m[1]) {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading simple index: %w", err)
	}

	return nil
}

// GetDistributionMetadata fetches a distribution's metadata sidecar.
// Only bdist_wheel distributions expose one; any other package type
// returns (nil, 0, nil) without making a request. A 404 also returns
// (nil, 0, nil): the distribution is simply marked processed with no
// requirements.
func (s *Service) GetDistributionMetadata(ctx context.Context, packageType, packageURL string) (*Metadata, int64, error) {
	if packageType != "bdist_wheel" {
		return nil, 0, nil
	}

	url := packageURL + ".metadata"

	resp, err := s.get(ctx, url, "")
	if err != nil {
		return nil, 0, fmt.Errorf("fetching metadata %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, 0, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading metadata %s: %w", url, err)
	}

	meta, err := parseMetadata(body)
	if err != nil {
		return nil, 0, fmt.Errorf("parsing metadata %s: %w", url, err)
	}

	return meta, int64(len(body)), nil
}

// parseMetadata decodes a wheel METADATA file, an RFC 822-style header
// block where Requires-Dist may repeat.
func parseMetadata(body []byte) (*Metadata, error) {
	reader := textproto.NewReader(bufio.NewReader(strings.NewReader(string(body))))

	header, err := reader.ReadMIMEHeader()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	return &Metadata{
		Name:         header.Get("Name"),
		Version:      header.Get("Version"),
		RequiresDist: header.Values("Requires-Dist"),
	}, nil
}

// GetPopularPackages fetches the hugovk top-pypi-packages list.
func (s *Service) GetPopularPackages(ctx context.Context) ([]PopularPackage, error) {
	var resp popularPackagesResponse
	if err := s.fetchJSON(ctx, s.popularURL, "popular packages", &resp); err != nil {
		return nil, err
	}

	return resp.Rows, nil
}
