package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jmylchreest/sitewatch/internal/models"
	"github.com/jmylchreest/sitewatch/internal/repository"
)

// fakePageRepo is a minimal in-memory repository.PageRepository double for
// exercising the inventory reconciliation without a real database.
type fakePageRepo struct {
	mu      sync.Mutex
	byURL   map[string]*models.Page
	formSet map[string]bool
}

func newFakePageRepo() *fakePageRepo {
	return &fakePageRepo{byURL: map[string]*models.Page{}, formSet: map[string]bool{}}
}

func (r *fakePageRepo) Upsert(ctx context.Context, page *models.Page) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byURL[page.URL] = page
	return nil
}

func (r *fakePageRepo) UpsertBatch(ctx context.Context, pages []*models.Page) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inserted, updated := 0, 0
	for _, p := range pages {
		if _, ok := r.byURL[p.URL]; ok {
			updated++
		} else {
			inserted++
		}
		r.byURL[p.URL] = p
	}
	return inserted, updated, nil
}

func (r *fakePageRepo) GetByURL(ctx context.Context, url string) (*models.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byURL[url], nil
}

func (r *fakePageRepo) ListActive(ctx context.Context) ([]*models.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Page, 0, len(r.byURL))
	for _, p := range r.byURL {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakePageRepo) List(ctx context.Context, filter repository.PageFilter) ([]*models.Page, int, error) {
	pages, _ := r.ListActive(ctx)
	return pages, len(pages), nil
}

func (r *fakePageRepo) UpdateHealthScore(ctx context.Context, url string, score int, breakdown models.ScoreBreakdown, checkedAt time.Time) error {
	return nil
}

func (r *fakePageRepo) UpdateMetaIssuesBatch(ctx context.Context, updates map[string][]string) error {
	return nil
}

func (r *fakePageRepo) UpdateFormDetected(ctx context.Context, url string, hasForm bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formSet[url] = hasForm
	if p, ok := r.byURL[url]; ok {
		p.HasForm = hasForm
	}
	return nil
}

func TestClassifyPageType(t *testing.T) {
	cases := []struct {
		cmsType, url string
		want         models.PageType
	}{
		{"landing_page", "/pricing", models.PageTypeLanding},
		{"blog_post", "/blog/post", models.PageTypeBlog},
		{"pillar", "/guides/x", models.PageTypePillar},
		{"", "/blog/untyped", models.PageTypeBlog},
		{"", "/about", models.PageTypeSite},
	}
	for _, c := range cases {
		if got := classifyPageType(c.cmsType, c.url); got != c.want {
			t.Errorf("classifyPageType(%q, %q) = %v, want %v", c.cmsType, c.url, got, c.want)
		}
	}
}

func TestMergeCMSPage_PreservesIdentityAcrossUpdates(t *testing.T) {
	existing := &models.Page{ID: "existing-id", URL: "https://example.com/pricing", HasForm: true}
	cp := CMSPage{
		ID: "cms-1", URL: "https://example.com/pricing", Slug: "pricing",
		Title: "Pricing", MetaDescription: "See our pricing.", Type: "landing_page", IsActive: true,
	}

	merged := mergeCMSPage(existing, cp)

	if merged.ID != "existing-id" {
		t.Errorf("merged.ID = %q, want the existing page's ID preserved", merged.ID)
	}
	if !merged.HasForm {
		t.Error("merge should not clear a form flag the CMS payload doesn't carry")
	}
	if merged.PageType != models.PageTypeLanding {
		t.Errorf("merged.PageType = %v, want landing", merged.PageType)
	}
	if merged.CMSPageID != "cms-1" {
		t.Errorf("merged.CMSPageID = %q, want cms-1", merged.CMSPageID)
	}
}

func TestMergeCMSPage_NewPageGetsFreshID(t *testing.T) {
	cp := CMSPage{ID: "cms-2", URL: "https://example.com/new", Type: "blog_post"}
	merged := mergeCMSPage(nil, cp)
	if merged.ID == "" {
		t.Error("a brand new page should get a generated ID")
	}
	if merged.CreatedAt.IsZero() {
		t.Error("a brand new page should get a CreatedAt timestamp")
	}
}

// TestPageInventory_Sync_ReconcilesCMSAgainstExistingRecords exercises the
// full reconciliation path (testable property 6) against real HTTP servers
// standing in for the CMS and the site's sitemap.
func TestPageInventory_Sync_ReconcilesCMSAgainstExistingRecords(t *testing.T) {
	cmsMux := http.NewServeMux()
	cmsMux.HandleFunc("/api/pages", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pages":[
			{"id":"cms-1","url":"https://example.com/pricing","slug":"pricing","title":"Pricing","meta_description":"Our pricing.","type":"landing_page","is_active":true},
			{"id":"cms-2","url":"https://example.com/blog/new-post","slug":"new-post","title":"New Post","meta_description":"A new blog post.","type":"blog_post","is_active":true}
		]}`))
	})
	cmsServer := httptest.NewServer(cmsMux)
	defer cmsServer.Close()

	siteMux := http.NewServeMux()
	siteMux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<?xml version="1.0"?><urlset>
			<url><loc>https://example.com/pricing</loc></url>
			<url><loc>https://example.com/blog/new-post</loc></url>
			<url><loc>https://example.com/legacy-only-in-sitemap</loc></url>
		</urlset>`))
	})
	siteServer := httptest.NewServer(siteMux)
	defer siteServer.Close()

	pages := newFakePageRepo()
	existing := &models.Page{ID: "existing-pricing-id", URL: "https://example.com/pricing", IsActive: true}
	_ = pages.Upsert(context.Background(), existing)

	cms := NewCMSAdapter(cmsServer.URL, "test-token", testLinkCheckLogger())
	sitemapReader := NewSitemapReader(testLinkCheckLogger())
	inv := NewPageInventory(pages, cms, sitemapReader, siteServer.URL, testLinkCheckLogger())

	result, err := inv.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if result.CMSPagesSeen != 2 {
		t.Errorf("CMSPagesSeen = %d, want 2", result.CMSPagesSeen)
	}
	if result.Updated != 1 {
		t.Errorf("Updated = %d, want 1 (the pre-existing pricing page)", result.Updated)
	}
	if result.Inserted != 1 {
		t.Errorf("Inserted = %d, want 1 (the new blog post)", result.Inserted)
	}
	if result.SitemapOnlyURLs != 1 {
		t.Errorf("SitemapOnlyURLs = %d, want 1 (legacy-only-in-sitemap)", result.SitemapOnlyURLs)
	}

	pricing, _ := pages.GetByURL(context.Background(), "https://example.com/pricing")
	if pricing == nil || pricing.ID != "existing-pricing-id" {
		t.Error("expected the pricing page's identity to survive reconciliation")
	}
	if pricing.PageType != models.PageTypeLanding {
		t.Errorf("pricing.PageType = %v, want landing", pricing.PageType)
	}
}
