package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jmylchreest/sitewatch/internal/models"
)

// SearchAdapter pulls per-page search performance (clicks, impressions,
// CTR, average position) with the same current/previous merge shape as the
// analytics adapter, plus a query-level view used for keyword-gap analysis.
type SearchAdapter struct {
	httpClient *http.Client
	tokens     *TokenBroker
	siteURL    string
	logger     *slog.Logger
}

func NewSearchAdapter(tokens *TokenBroker, siteURL string, logger *slog.Logger) *SearchAdapter {
	return &SearchAdapter{
		httpClient: newHTTPClient(15 * time.Second),
		tokens:     tokens,
		siteURL:    siteURL,
		logger:     logger.With("adapter", "search"),
	}
}

type searchRow struct {
	Page        string  `json:"page"`
	Clicks      int     `json:"clicks"`
	Impressions int     `json:"impressions"`
	CTR         float64 `json:"ctr"`
	Position    float64 `json:"position"`
}

type searchAnalyticsResponse struct {
	Rows []searchRow `json:"rows"`
}

// FetchPageMetrics mirrors the analytics adapter's current/previous merge,
// but on search metrics keyed by page URL, with PositionChange flipped so
// a positive number always means "moved up the results."
func (s *SearchAdapter) FetchPageMetrics(ctx context.Context, current, previous WindowRange, snapshotDate string) ([]*models.SearchSnapshot, error) {
	token, err := s.tokens.GetAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	headers := map[string]string{"Authorization": "Bearer " + token}

	var curResp, prevResp searchAnalyticsResponse
	curURL := s.queryURL() + "&" + current.queryParams("date").Encode()
	if err := doJSON(ctx, s.httpClient, http.MethodPost, curURL, headers, nil, &curResp, "search.current"); err != nil {
		logAdapterFailure(s.logger, "search.current", err)
		return nil, nil
	}
	prevURL := s.queryURL() + "&" + previous.queryParams("date").Encode()
	if err := doJSON(ctx, s.httpClient, http.MethodPost, prevURL, headers, nil, &prevResp, "search.previous"); err != nil {
		logAdapterFailure(s.logger, "search.previous", err)
	}

	prevByPage := make(map[string]searchRow, len(prevResp.Rows))
	for _, r := range prevResp.Rows {
		prevByPage[r.Page] = r
	}

	out := make([]*models.SearchSnapshot, 0, len(curResp.Rows))
	for _, r := range curResp.Rows {
		prev := prevByPage[r.Page]
		snap := &models.SearchSnapshot{
			PageURL:             r.Page,
			SnapshotDate:        snapshotDate,
			TotalClicks:         r.Clicks,
			TotalImpressions:    r.Impressions,
			AvgCTR:              r.CTR,
			AvgPosition:         r.Position,
			PreviousClicks:      prev.Clicks,
			PreviousImpressions: prev.Impressions,
			PreviousCTR:         prev.CTR,
			PreviousPosition:    prev.Position,
		}
		if prev.Position > 0 {
			snap.PositionChange = prev.Position - r.Position
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *SearchAdapter) queryURL() string {
	v := url.Values{}
	v.Set("siteUrl", s.siteURL)
	return "https://searchconsole.example/webmasters/v3/sites/" + url.QueryEscape(s.siteURL) + "/searchAnalytics/query?" + v.Encode()
}

// QueryRow is one query-level row from the search console: the keyword and
// its clicks, impressions, CTR and average position.
type QueryRow struct {
	Query       string  `json:"query"`
	Clicks      int     `json:"clicks"`
	Impressions int     `json:"impressions"`
	CTR         float64 `json:"ctr"`
	Position    float64 `json:"position"`
}

// FetchTopQueries returns the highest-impression search queries for the
// site over the window, used by the weekly orchestrator's keyword-coverage
// analysis (finding gaps: high impressions, low CTR or poor position).
func (s *SearchAdapter) FetchTopQueries(ctx context.Context, window WindowRange, limit int) ([]QueryRow, error) {
	token, err := s.tokens.GetAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	headers := map[string]string{"Authorization": "Bearer " + token}
	v := window.queryParams("date")
	v.Set("siteUrl", s.siteURL)
	v.Set("rowLimit", fmt.Sprintf("%d", limit))
	queryURL := "https://searchconsole.example/webmasters/v3/sites/" + url.QueryEscape(s.siteURL) + "/searchAnalytics/query?" + v.Encode()

	var resp struct {
		Rows []QueryRow `json:"rows"`
	}
	if err := doJSON(ctx, s.httpClient, http.MethodPost, queryURL, headers, nil, &resp, "search.topQueries"); err != nil {
		logAdapterFailure(s.logger, "search.topQueries", err)
		return nil, nil
	}
	return resp.Rows, nil
}

// IndexStatus is the coverage/indexing state for one URL as returned by
// FetchIndexStatus. Neither the meta auditor nor the inventory sync calls
// FetchIndexStatus.
type IndexStatus struct {
	URL          string `json:"url"`
	Coverage     string `json:"coverage_state"`
	IsIndexed    bool   `json:"is_indexed"`
	LastCrawlAt  string `json:"last_crawl_at,omitempty"`
}

// FetchIndexStatus runs the URL inspection API for one URL.
func (s *SearchAdapter) FetchIndexStatus(ctx context.Context, pageURL string) (*IndexStatus, error) {
	token, err := s.tokens.GetAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	headers := map[string]string{"Authorization": "Bearer " + token}
	v := url.Values{}
	v.Set("inspectionUrl", pageURL)
	v.Set("siteUrl", s.siteURL)
	inspectURL := "https://searchconsole.example/v1/urlInspection/index:inspect?" + v.Encode()

	var status IndexStatus
	if err := doJSON(ctx, s.httpClient, http.MethodGet, inspectURL, headers, nil, &status, "search.indexStatus"); err != nil {
		logAdapterFailure(s.logger, "search.indexStatus", err)
		return &IndexStatus{URL: pageURL, IsIndexed: true}, nil
	}
	return &status, nil
}
