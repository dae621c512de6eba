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

// AnalyticsAdapter pulls page-level traffic metrics with a trailing-period
// comparison baked in, plus per-page detail and a traffic-sources breakdown.
// An independent failure domain: any recoverable remote error yields an
// empty or partial result rather than aborting the caller.
type AnalyticsAdapter struct {
	httpClient *http.Client
	tokens     *TokenBroker
	propertyID string
	logger     *slog.Logger
}

func NewAnalyticsAdapter(tokens *TokenBroker, propertyID string, logger *slog.Logger) *AnalyticsAdapter {
	return &AnalyticsAdapter{
		httpClient: newHTTPClient(15 * time.Second),
		tokens:     tokens,
		propertyID: propertyID,
		logger:     logger.With("adapter", "analytics"),
	}
}

type analyticsRow struct {
	PagePath               string  `json:"page_path"`
	ActiveUsers            int     `json:"active_users"`
	Sessions               int     `json:"sessions"`
	PageViews              int     `json:"page_views"`
	BounceRate             float64 `json:"bounce_rate"`
	AvgSessionDuration     float64 `json:"avg_session_duration"`
	PreviousActiveUsers    int     `json:"previous_active_users"`
	PreviousSessions       int     `json:"previous_sessions"`
}

type analyticsReportResponse struct {
	Rows []analyticsRow `json:"rows"`
}

// WindowRange is a [Start, End) calendar window used by both the analytics
// and search-index adapters for current-vs-previous period comparisons.
type WindowRange struct {
	Start time.Time
	End   time.Time
}

func (w WindowRange) queryParams(prefix string) url.Values {
	v := url.Values{}
	v.Set(prefix+"_start", w.Start.Format("2006-01-02"))
	v.Set(prefix+"_end", w.End.Format("2006-01-02"))
	return v
}

// FetchPageMetrics runs the two independent current/previous-window queries
// and merges them by page path into one snapshot row per page.
func (a *AnalyticsAdapter) FetchPageMetrics(ctx context.Context, current, previous WindowRange, snapshotDate string) ([]*models.AnalyticsSnapshot, error) {
	token, err := a.tokens.GetAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}

	headers := map[string]string{"Authorization": "Bearer " + token}

	var curResp, prevResp analyticsReportResponse
	curURL := a.reportURL(current)
	if err := doJSON(ctx, a.httpClient, http.MethodGet, curURL, headers, nil, &curResp, "analytics.current"); err != nil {
		logAdapterFailure(a.logger, "analytics.current", err)
		return nil, nil
	}
	prevURL := a.reportURL(previous)
	if err := doJSON(ctx, a.httpClient, http.MethodGet, prevURL, headers, nil, &prevResp, "analytics.previous"); err != nil {
		logAdapterFailure(a.logger, "analytics.previous", err)
		// Current-period data is still useful even without a comparison.
	}

	prevByPath := make(map[string]analyticsRow, len(prevResp.Rows))
	for _, r := range prevResp.Rows {
		prevByPath[r.PagePath] = r
	}

	out := make([]*models.AnalyticsSnapshot, 0, len(curResp.Rows))
	for _, r := range curResp.Rows {
		prev := prevByPath[r.PagePath]
		prevUsers := r.PreviousActiveUsers
		prevSessions := r.PreviousSessions
		if prevUsers == 0 {
			prevUsers = prev.ActiveUsers
		}
		if prevSessions == 0 {
			prevSessions = prev.Sessions
		}

		snap := &models.AnalyticsSnapshot{
			PageURL:                r.PagePath,
			SnapshotDate:           snapshotDate,
			ActiveUsers:            r.ActiveUsers,
			Sessions:               r.Sessions,
			PageViews:              r.PageViews,
			BounceRate:             r.BounceRate,
			AvgSessionDuration:     r.AvgSessionDuration,
			UsersPreviousPeriod:    prevUsers,
			SessionsPreviousPeriod: prevSessions,
		}
		snap.TrafficChangePct = TrafficChangePct(snap.ActiveUsers, snap.UsersPreviousPeriod)
		out = append(out, snap)
	}
	return out, nil
}

// TrafficChangePct implements the AnalyticsSnapshot invariant from spec.md
// §3: percentage change vs the previous period, 0 when there is no
// previous-period baseline to compare against.
func TrafficChangePct(current, previous int) float64 {
	if previous <= 0 {
		return 0
	}
	return 100 * float64(current-previous) / float64(previous)
}

func (a *AnalyticsAdapter) reportURL(w WindowRange) string {
	v := w.queryParams("date")
	v.Set("property_id", a.propertyID)
	return "https://analyticsdata.example/v1beta/properties/" + a.propertyID + ":runReport?" + v.Encode()
}

// PageDetail is the per-page-detail operation: a fuller metric set for one
// page, used by the agent loop's get_page_analytics tool.
type PageDetail struct {
	PagePath           string             `json:"page_path"`
	DailyActiveUsers   []DailyMetric      `json:"daily_active_users"`
	TrafficSources     map[string]float64 `json:"traffic_sources"`
}

type DailyMetric struct {
	Date  string `json:"date"`
	Value int    `json:"value"`
}

// FetchPageDetail retrieves a bounded-days detail view for one page path,
// used by the agent loop tool get_page_analytics(page_path, days<=30).
func (a *AnalyticsAdapter) FetchPageDetail(ctx context.Context, pagePath string, days int) (*PageDetail, error) {
	if days <= 0 || days > 30 {
		days = 30
	}
	token, err := a.tokens.GetAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}
	headers := map[string]string{"Authorization": "Bearer " + token}
	v := url.Values{}
	v.Set("page_path", pagePath)
	v.Set("days", fmt.Sprintf("%d", days))
	detailURL := "https://analyticsdata.example/v1beta/properties/" + a.propertyID + ":pageDetail?" + v.Encode()

	var detail PageDetail
	if err := doJSON(ctx, a.httpClient, http.MethodGet, detailURL, headers, nil, &detail, "analytics.detail"); err != nil {
		logAdapterFailure(a.logger, "analytics.detail", err)
		return &PageDetail{PagePath: pagePath}, nil
	}
	return &detail, nil
}

// TrafficSourceBreakdown is the channel-level split over the spec's closed
// set {organic, paid, direct, referral, social}.
type TrafficSourceBreakdown struct {
	Organic  float64 `json:"organic"`
	Paid     float64 `json:"paid"`
	Direct   float64 `json:"direct"`
	Referral float64 `json:"referral"`
	Social   float64 `json:"social"`
}

// FetchTrafficSources returns the channel breakdown for the site over the
// window. The weekly digest's figures do not include it.
func (a *AnalyticsAdapter) FetchTrafficSources(ctx context.Context, window WindowRange) (*TrafficSourceBreakdown, error) {
	token, err := a.tokens.GetAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}
	headers := map[string]string{"Authorization": "Bearer " + token}
	v := window.queryParams("date")
	v.Set("property_id", a.propertyID)
	sourcesURL := "https://analyticsdata.example/v1beta/properties/" + a.propertyID + ":trafficSources?" + v.Encode()

	var breakdown TrafficSourceBreakdown
	if err := doJSON(ctx, a.httpClient, http.MethodGet, sourcesURL, headers, nil, &breakdown, "analytics.sources"); err != nil {
		logAdapterFailure(a.logger, "analytics.sources", err)
		return &TrafficSourceBreakdown{}, nil
	}
	return &breakdown, nil
}

// KeyEvent is a configured conversion event (GA4 "key event") consulted by
// the weekly conversion audit.
type KeyEvent struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// FetchKeyEvents enumerates the configured conversion events for the
// property, used by the weekly orchestrator's conversion audit (§4.11
// step 3).
func (a *AnalyticsAdapter) FetchKeyEvents(ctx context.Context, window WindowRange) ([]KeyEvent, error) {
	token, err := a.tokens.GetAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}
	headers := map[string]string{"Authorization": "Bearer " + token}
	v := window.queryParams("date")
	v.Set("property_id", a.propertyID)
	eventsURL := "https://analyticsdata.example/v1beta/properties/" + a.propertyID + ":keyEvents?" + v.Encode()

	var resp struct {
		Events []KeyEvent `json:"events"`
	}
	if err := doJSON(ctx, a.httpClient, http.MethodGet, eventsURL, headers, nil, &resp, "analytics.keyEvents"); err != nil {
		logAdapterFailure(a.logger, "analytics.keyEvents", err)
		return nil, nil
	}
	return resp.Events, nil
}
