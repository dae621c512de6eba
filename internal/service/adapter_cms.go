package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/sitewatch/internal/constants"
	"golang.org/x/sync/errgroup"
)

// CMSAdapter reads the page inventory straight from the content platform:
// the canonical list of published pages, and a per-page form-submission
// count used to flag pages whose lead-capture form looks dead.
type CMSAdapter struct {
	httpClient *http.Client
	baseURL    string
	apiToken   string
	logger     *slog.Logger
}

func NewCMSAdapter(baseURL, apiToken string, logger *slog.Logger) *CMSAdapter {
	return &CMSAdapter{
		httpClient: newHTTPClient(20 * time.Second),
		baseURL:    baseURL,
		apiToken:   apiToken,
		logger:     logger.With("adapter", "cms"),
	}
}

// CMSPage is one page record as the CMS represents it, before it is
// reconciled into the canonical Page inventory by the page inventory
// component.
type CMSPage struct {
	ID              string `json:"id"`
	URL             string `json:"url"`
	Slug            string `json:"slug"`
	Title           string `json:"title"`
	MetaDescription string `json:"meta_description"`
	Type            string `json:"type"`
	PublishedAt     string `json:"published_at,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
	IsActive        bool   `json:"is_active"`
}

type cmsPageListResponse struct {
	Pages      []CMSPage `json:"pages"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// ListPages pages through the CMS's full page catalog. A page that fails
// mid-walk returns whatever was accumulated so far rather than discarding
// it, since the inventory reconciliation step is itself idempotent.
func (c *CMSAdapter) ListPages(ctx context.Context) ([]CMSPage, error) {
	var all []CMSPage
	cursor := ""
	for {
		v := url.Values{}
		v.Set("limit", "100")
		if cursor != "" {
			v.Set("cursor", cursor)
		}
		listURL := c.baseURL + "/api/pages?" + v.Encode()

		var resp cmsPageListResponse
		if err := doJSON(ctx, c.httpClient, http.MethodGet, listURL, c.authHeaders(), nil, &resp, "cms.listPages"); err != nil {
			logAdapterFailure(c.logger, "cms.listPages", err)
			return all, nil
		}
		all = append(all, resp.Pages...)
		if resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	return all, nil
}

func (c *CMSAdapter) authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiToken}
}

type formStatsResponse struct {
	SubmissionCount      int `json:"submission_count"`
	SubmissionsLast30d   int `json:"submissions_last_30d"`
}

// FormSubmissionCounts resolves submission counts for up to
// constants.FormSubmissionFanOut pages concurrently, used by the agent
// loop's get_hubspot_page_detail tool and the weekly conversion audit.
func (c *CMSAdapter) FormSubmissionCounts(ctx context.Context, cmsPageIDs []string) (map[string]int, error) {
	results := make(map[string]int, len(cmsPageIDs))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(constants.FormSubmissionFanOut)

	for _, id := range cmsPageIDs {
		id := id
		g.Go(func() error {
			count, err := c.fetchFormSubmissions(gctx, id)
			if err != nil {
				logAdapterFailure(c.logger, "cms.formSubmissions", err)
				return nil
			}
			mu.Lock()
			results[id] = count
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (c *CMSAdapter) fetchFormSubmissions(ctx context.Context, cmsPageID string) (int, error) {
	statsURL := c.baseURL + "/api/pages/" + url.PathEscape(cmsPageID) + "/form-stats"
	var resp formStatsResponse
	if err := doJSON(ctx, c.httpClient, http.MethodGet, statsURL, c.authHeaders(), nil, &resp, "cms.formStats"); err != nil {
		return 0, fmt.Errorf("cms: %w", err)
	}
	return resp.SubmissionsLast30d, nil
}

// UpdateTitle pushes a new title for one CMS page back to the CMS with a
// PATCH request. No code path in the pipeline, including the review
// approval flow, calls it.
func (c *CMSAdapter) UpdateTitle(ctx context.Context, cmsPageID, title string) error {
	updateURL := c.baseURL + "/api/pages/" + url.PathEscape(cmsPageID)
	body := fmt.Sprintf(`{"title":%q}`, title)
	if err := doJSON(ctx, c.httpClient, http.MethodPatch, updateURL, c.authHeaders(), strings.NewReader(body), nil, "cms.updateTitle"); err != nil {
		return fmt.Errorf("cms: update title: %w", err)
	}
	return nil
}
