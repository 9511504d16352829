package pypiclient_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bilusteknoloji/pipdepgraph/internal/pypiclient"
)

func newTestLegacyResponse() pypiclient.LegacyPackageResponse {
	return pypiclient.LegacyPackageResponse{
		Info: pypiclient.Info{
			Name:           "six",
			Version:        "1.17.0",
			RequiresPython: ">=2.7, !=3.0.*, !=3.1.*, !=3.2.*",
		},
		Releases: map[string][]pypiclient.DistURL{
			"1.17.0": {
				{
					Filename:    "six-1.17.0-py2.py3-none-any.whl",
					URL:         "https://files.pythonhosted.org/six-1.17.0-py2.py3-none-any.whl",
					Size:        11475,
					PackageType: "bdist_wheel",
					Digests: pypiclient.Digests{
						SHA256: "4721f391ed90541fddacab5acf947aa0d3dc7d27b2e1e8eda2be8970586c3274",
					},
				},
			},
			"2.0.dev1": {
				{
					Filename:    "six-2.0.dev1.tar.gz",
					URL:         "https://files.pythonhosted.org/six-2.0.dev1.tar.gz",
					PackageType: "sdist",
				},
			},
		},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) pypiclient.Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return pypiclient.New(
		pypiclient.WithHTTPClient(srv.Client()),
		pypiclient.WithBaseURL(srv.URL+"/pypi"),
		pypiclient.WithSimpleURL(srv.URL+"/simple/"),
		pypiclient.WithPopularPackagesURL(srv.URL+"/popular.json"),
	)
}

func TestGetPackageDistributionsLegacy(t *testing.T) {
	expected := newTestLegacyResponse()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pypi/six/json" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.NotFound(w, r)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(expected); err != nil {
			t.Errorf("encoding response: %v", err)
		}
	})

	resp, err := client.GetPackageDistributionsLegacy(context.Background(), "Six")
	if err != nil {
		t.Fatalf("GetPackageDistributionsLegacy() error: %v", err)
	}

	if len(resp.Releases) != 2 {
		t.Fatalf("expected 2 releases, got %d", len(resp.Releases))
	}

	if dists := resp.Releases["1.17.0"]; len(dists) != 1 || dists[0].PackageType != "bdist_wheel" {
		t.Errorf("unexpected distributions for 1.17.0: %+v", dists)
	}
}

func TestGetPackageDistributionsLegacyNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	_, err := client.GetPackageDistributionsLegacy(context.Background(), "nonexistent-package-xyz")
	if err == nil {
		t.Fatal("expected error for non-existent package, got nil")
	}
}

func TestGetPackageDistributionsLegacyRetry(t *testing.T) {
	attempts := 0
	expected := newTestLegacyResponse()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts < 3 {
			http.Error(w, "server error", http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(expected); err != nil {
			t.Errorf("encoding response: %v", err)
		}
	})

	_, err := client.GetPackageDistributionsLegacy(context.Background(), "six")
	if err != nil {
		t.Fatalf("GetPackageDistributionsLegacy() error after retries: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestGetPackageDistributionsLegacyContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		time.Sleep(5 * time.Second)
	}))
	t.Cleanup(srv.Close)

	client := pypiclient.New(
		pypiclient.WithHTTPClient(srv.Client()),
		pypiclient.WithBaseURL(srv.URL+"/pypi"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetPackageDistributionsLegacy(ctx, "some-package")
	if err == nil {
		t.Fatal("expected error for canceled context, got nil")
	}
}

func TestStreamPackageNames(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/" {
			http.NotFound(w, r)

			return
		}

		fmt.Fprintln(w, `<a href="/simple/six/">six</a>`)
		fmt.Fprintln(w, `<a href="/simple/requests/">requests</a>`)
		fmt.Fprintln(w, `not a link at all`)
	})

	var names []string
	err := client.StreamPackageNames(context.Background(), func(name string) bool {
		names = append(names, name)
		return true
	})
	if err != nil {
		t.Fatalf("StreamPackageNames() error: %v", err)
	}

	want := []string{"six", "requests"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("position %d: got %q, want %q", i, names[i], want[i])
		}
	}
}

func TestStreamPackageNamesStopsEarly(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `<a href="/simple/six/">six</a>`)
		fmt.Fprintln(w, `<a href="/simple/requests/">requests</a>`)
	})

	count := 0
	err := client.StreamPackageNames(context.Background(), func(name string) bool {
		count++
		return false
	})
	if err != nil {
		t.Fatalf("StreamPackageNames() error: %v", err)
	}
	if count != 1 {
		t.Errorf("expected early stop after 1 name, got %d", count)
	}
}

func TestGetDistributionMetadataNonWheel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("should not make an HTTP request for a non-wheel distribution")
	})

	meta, size, err := client.GetDistributionMetadata(context.Background(), "sdist", "https://files.pythonhosted.org/six-2.0.tar.gz")
	if err != nil {
		t.Fatalf("GetDistributionMetadata() error: %v", err)
	}
	if meta != nil || size != 0 {
		t.Errorf("expected (nil, 0), got (%v, %d)", meta, size)
	}
}

func TestGetDistributionMetadataWheel(t *testing.T) {
	body := "Metadata-Version: 2.1\r\nName: bar\r\nVersion: 1.0\r\nRequires-Dist: baz>=1,<2\r\nRequires-Dist: qux; python_version<\"3.12\"\r\n\r\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ".metadata") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	client := pypiclient.New(pypiclient.WithHTTPClient(srv.Client()))

	meta, size, err := client.GetDistributionMetadata(context.Background(), "bdist_wheel", srv.URL+"/bar-1.0.whl")
	if err != nil {
		t.Fatalf("GetDistributionMetadata() error: %v", err)
	}
	if size != int64(len(body)) {
		t.Errorf("size = %d, want %d", size, len(body))
	}
	if len(meta.RequiresDist) != 2 {
		t.Fatalf("expected 2 requires-dist entries, got %d: %v", len(meta.RequiresDist), meta.RequiresDist)
	}
}

func TestGetDistributionMetadataNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	client := pypiclient.New(pypiclient.WithHTTPClient(srv.Client()))

	meta, size, err := client.GetDistributionMetadata(context.Background(), "bdist_wheel", srv.URL+"/bar-1.0.whl")
	if err != nil {
		t.Fatalf("GetDistributionMetadata() error: %v", err)
	}
	if meta != nil || size != 0 {
		t.Errorf("expected (nil, 0) on 404, got (%v, %d)", meta, size)
	}
}

func TestGetPopularPackages(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/popular.json" {
			http.NotFound(w, r)

			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"rows": [{"project": "boto3", "download_count": 100}]}`)
	})

	rows, err := client.GetPopularPackages(context.Background())
	if err != nil {
		t.Fatalf("GetPopularPackages() error: %v", err)
	}
	if len(rows) != 1 || rows[0].Project != "boto3" {
		t.Errorf("unexpected rows: %+v", rows)
	}
}
