package service

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/jmylchreest/sitewatch/internal/models"
)

func testLinkCheckLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestLinkCheckAdapter_CheckBatch covers testable property 12: broken links
// are classified correctly across a healthy page, a 404, a redirect, and a
// server that rejects HEAD but serves GET.
func TestLinkCheckAdapter_CheckBatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/redirected", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ok", http.StatusFound)
	})
	mux.HandleFunc("/head-rejected", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	adapter := NewLinkCheckAdapter(server.URL, testLinkCheckLogger())
	results := adapter.CheckBatch(context.Background(), "https://example.com/source", []string{
		server.URL + "/ok",
		server.URL + "/missing",
		server.URL + "/redirected",
		server.URL + "/head-rejected",
	})

	byURL := make(map[string]LinkCheckResult, len(results))
	for _, r := range results {
		byURL[r.TargetURL] = r
	}

	if r := byURL[server.URL+"/ok"]; r.IsBroken || r.HTTPStatus != http.StatusOK {
		t.Errorf("/ok result = %+v, want healthy 200", r)
	}
	if r := byURL[server.URL+"/missing"]; !r.IsBroken || r.HTTPStatus != http.StatusNotFound {
		t.Errorf("/missing result = %+v, want broken 404", r)
	}
	if r := byURL[server.URL+"/redirected"]; !r.IsRedirect || r.IsBroken {
		t.Errorf("/redirected result = %+v, want a non-broken redirect", r)
	}
	if r := byURL[server.URL+"/head-rejected"]; r.IsBroken || r.HTTPStatus != http.StatusOK {
		t.Errorf("/head-rejected result = %+v, want the GET fallback to succeed", r)
	}
}

// TestLinkCheckAdapter_CheckBatch_ConnectionRefused covers the case where the
// target host refuses the connection entirely.
func TestLinkCheckAdapter_CheckBatch_ConnectionRefused(t *testing.T) {
	adapter := NewLinkCheckAdapter("https://example.com", testLinkCheckLogger())
	results := adapter.CheckBatch(context.Background(), "https://example.com/source", []string{
		"http://127.0.0.1:1",
	})
	if len(results) != 1 || !results[0].IsBroken {
		t.Fatalf("results = %+v, want a single broken result", results)
	}
}

func TestClassifyLinkType(t *testing.T) {
	adapter := NewLinkCheckAdapter("https://example.com", testLinkCheckLogger())

	if got := adapter.ClassifyLinkType("https://example.com/about"); got != models.LinkTypeInternal {
		t.Errorf("ClassifyLinkType(same host) = %v, want internal", got)
	}
	if got := adapter.ClassifyLinkType("https://other.example.org/about"); got != models.LinkTypeExternal {
		t.Errorf("ClassifyLinkType(different host) = %v, want external", got)
	}
	if got := adapter.ClassifyLinkType("://not a url"); got != models.LinkTypeExternal {
		t.Errorf("ClassifyLinkType(unparseable) = %v, want external fallback", got)
	}
}

func TestResolveRedirect(t *testing.T) {
	got, err := resolveRedirect("https://example.com/a/b", "/c")
	if err != nil {
		t.Fatalf("resolveRedirect error = %v", err)
	}
	if got != "https://example.com/c" {
		t.Errorf("resolveRedirect = %q, want https://example.com/c", got)
	}

	got, err = resolveRedirect("https://example.com/a/b", "https://other.example.com/x")
	if err != nil {
		t.Fatalf("resolveRedirect error = %v", err)
	}
	if got != "https://other.example.com/x" {
		t.Errorf("resolveRedirect(absolute) = %q, want https://other.example.com/x", got)
	}
}
