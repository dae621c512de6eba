package service

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/sitewatch/internal/constants"
	"github.com/jmylchreest/sitewatch/internal/models"
	"github.com/jmylchreest/sitewatch/internal/repository"
)

// PageInventory reconciles the canonical page table against the CMS's own
// page catalog and, for pages the CMS doesn't clearly mark, against a
// lightweight HTML scan for a <form> element (C5).
type PageInventory struct {
	pages       repository.PageRepository
	cms         *CMSAdapter
	sitemap     *SitemapReader
	formClient  *http.Client
	baseSiteURL string
	logger      *slog.Logger
}

func NewPageInventory(pages repository.PageRepository, cms *CMSAdapter, sitemap *SitemapReader, baseSiteURL string, logger *slog.Logger) *PageInventory {
	return &PageInventory{
		pages:       pages,
		cms:         cms,
		sitemap:     sitemap,
		formClient:  &http.Client{Timeout: constants.HTMLFetchTimeout},
		baseSiteURL: baseSiteURL,
		logger:      logger.With("component", "page_inventory"),
	}
}

// SyncResult reports what the reconciliation pass did. The scan
// orchestrator discards it; its change log entry does not include these
// counts.
type SyncResult struct {
	Inserted        int
	Updated         int
	FormsDetected   int
	CMSPagesSeen    int
	SitemapOnlyURLs int
}

// Sync runs the six-step CMS reconciliation: fetch the CMS catalog, build
// a URL-keyed map of existing records, decide insert-vs-update per CMS
// page, commit in chunks bounded by CMSInsertChunkSize, then supplement
// with HTML form detection for pages the CMS didn't already flag as
// having one.
func (inv *PageInventory) Sync(ctx context.Context) (*SyncResult, error) {
	cmsPages, err := inv.cms.ListPages(ctx)
	if err != nil {
		return nil, err
	}

	existing, err := inv.pages.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	existingByURL := make(map[string]*models.Page, len(existing))
	for _, p := range existing {
		existingByURL[p.URL] = p
	}

	toCommit := make([]*models.Page, 0, len(cmsPages))
	for _, cp := range cmsPages {
		if cp.URL == "" {
			continue
		}
		page := mergeCMSPage(existingByURL[cp.URL], cp)
		toCommit = append(toCommit, page)
	}

	result := &SyncResult{CMSPagesSeen: len(cmsPages)}
	for start := 0; start < len(toCommit); start += constants.CMSInsertChunkSize {
		end := start + constants.CMSInsertChunkSize
		if end > len(toCommit) {
			end = len(toCommit)
		}
		inserted, updated, err := inv.pages.UpsertBatch(ctx, toCommit[start:end])
		if err != nil {
			return result, err
		}
		result.Inserted += inserted
		result.Updated += updated
	}

	sitemapURLs, ok := inv.sitemap.Discover(ctx, inv.baseSiteURL)
	if ok {
		cmsURLSet := make(map[string]bool, len(cmsPages))
		for _, cp := range cmsPages {
			cmsURLSet[cp.URL] = true
		}
		for _, u := range sitemapURLs {
			if !cmsURLSet[u] {
				result.SitemapOnlyURLs++
			}
		}
	}

	refreshed, err := inv.pages.ListActive(ctx)
	if err != nil {
		return result, err
	}

	detected, err := inv.detectForms(ctx, refreshed)
	result.FormsDetected = detected
	return result, err
}

func mergeCMSPage(existing *models.Page, cp CMSPage) *models.Page {
	page := existing
	if page == nil {
		page = &models.Page{ID: ulid.Make().String(), CreatedAt: time.Now().UTC()}
	}

	page.URL = cp.URL
	page.Slug = cp.Slug
	page.Title = cp.Title
	page.MetaDescription = cp.MetaDescription
	page.CMSPageID = cp.ID
	page.IsActive = cp.IsActive
	page.PageType = classifyPageType(cp.Type, cp.URL)
	page.TitleLength = len(cp.Title)
	page.MetaDescriptionLength = len(cp.MetaDescription)

	if t, err := time.Parse(time.RFC3339, cp.PublishedAt); err == nil {
		page.PublishedAt = &t
	}
	if t, err := time.Parse(time.RFC3339, cp.UpdatedAt); err == nil {
		page.LastUpdatedAt = &t
		age := int(time.Since(t).Hours() / 24)
		page.ContentAgeDays = &age
	}

	return page
}

func classifyPageType(cmsType, pageURL string) models.PageType {
	switch strings.ToLower(cmsType) {
	case "landing", "landing_page":
		return models.PageTypeLanding
	case "blog", "blog_post", "article":
		return models.PageTypeBlog
	case "pillar", "pillar_page":
		return models.PageTypePillar
	}
	if strings.Contains(pageURL, "/blog/") {
		return models.PageTypeBlog
	}
	return models.PageTypeSite
}

// detectForms fetches HTML for pages not already known to have a form and
// looks for a <form element, bounded at FormDetectionFanOut concurrent
// fetches. A fetch failure is silently skipped: a transient miss here just
// means the page keeps its last-known form status until the next sync.
func (inv *PageInventory) detectForms(ctx context.Context, pages []*models.Page) (int, error) {
	var candidates []*models.Page
	for _, p := range pages {
		if !p.HasForm {
			candidates = append(candidates, p)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(constants.FormDetectionFanOut)
	detectedCh := make(chan string, len(candidates))

	for _, p := range candidates {
		p := p
		g.Go(func() error {
			if hasFormTag(gctx, inv.formClient, p.URL) {
				detectedCh <- p.URL
			}
			return nil
		})
	}
	_ = g.Wait()
	close(detectedCh)

	count := 0
	for url := range detectedCh {
		if err := inv.pages.UpdateFormDetected(ctx, url, true); err != nil {
			inv.logger.Warn("failed to persist form detection", "url", url, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

func hasFormTag(ctx context.Context, client *http.Client, pageURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	buf := make([]byte, 64*1024)
	n, _ := resp.Body.Read(buf)
	return strings.Contains(strings.ToLower(string(buf[:n])), "<form")
}
