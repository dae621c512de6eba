package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jmylchreest/sitewatch/internal/models"
	"golang.org/x/time/rate"
)

// PerformanceAdapter runs Core Web Vitals audits via the performance tester
// API. Each call costs 15-25s on the remote side, so calls are throttled
// client-side rather than left to queue up against the scan deadline.
type PerformanceAdapter struct {
	httpClient *http.Client
	apiKey     string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewPerformanceAdapter allows at most one audit every 2 seconds, enough to
// stay under the remote API's published rate limit while letting the
// scorer's spot-check sample (2 pages per scan) run back to back.
func NewPerformanceAdapter(apiKey string, logger *slog.Logger) *PerformanceAdapter {
	return &PerformanceAdapter{
		httpClient: newHTTPClient(30 * time.Second),
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Every(2*time.Second), 1),
		logger:     logger.With("adapter", "performance"),
	}
}

type lighthouseCategories struct {
	Performance    float64 `json:"performance"`
	Accessibility  float64 `json:"accessibility"`
	SEO            float64 `json:"seo"`
	BestPractices  float64 `json:"best-practices"`
}

type lighthouseAudits struct {
	LargestContentfulPaint struct {
		NumericValue float64 `json:"numericValue"`
	} `json:"largest-contentful-paint"`
	MaxPotentialFID struct {
		NumericValue float64 `json:"numericValue"`
	} `json:"max-potential-fid"`
	CumulativeLayoutShift struct {
		NumericValue float64 `json:"numericValue"`
	} `json:"cumulative-layout-shift"`
	Interactive struct {
		NumericValue float64 `json:"numericValue"`
	} `json:"interactive-to-next-paint"`
}

type lighthouseOpportunity struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	SavingsMs   float64 `json:"numericValue"`
	Score       float64 `json:"score"`
}

type pagespeedResponse struct {
	LighthouseResult struct {
		Categories   map[string]struct{ Score float64 `json:"score"` } `json:"categories"`
		Audits       lighthouseAudits                                  `json:"audits"`
		Opportunities []lighthouseOpportunity                          `json:"-"`
	} `json:"lighthouseResult"`
}

// RunAudit runs one strategy's audit for a page, blocking on the client
// rate limiter before issuing the request. A failed or malformed audit
// returns (nil, nil): recoverable at the pipeline level per the adapter
// contract, logged and skipped rather than aborting the scan.
func (a *PerformanceAdapter) RunAudit(ctx context.Context, pageURL string, strategy models.Strategy, testDate string) (*models.SpeedScore, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("performance: rate limiter: %w", err)
	}

	v := url.Values{}
	v.Set("url", pageURL)
	v.Set("strategy", string(strategy))
	v.Set("key", a.apiKey)
	v.Set("category", "performance")
	v.Add("category", "accessibility")
	v.Add("category", "seo")
	v.Add("category", "best-practices")
	auditURL := "https://pagespeedonline.example/v5/runPagespeed?" + v.Encode()

	var resp pagespeedResponse
	if err := doJSON(ctx, a.httpClient, http.MethodGet, auditURL, nil, nil, &resp, "performance.audit"); err != nil {
		logAdapterFailure(a.logger, "performance.audit", err)
		return nil, nil
	}

	score := &models.SpeedScore{
		PageURL:            pageURL,
		TestDate:           testDate,
		Strategy:           strategy,
		PerformanceScore:   categoryScore(resp, "performance"),
		AccessibilityScore: categoryScore(resp, "accessibility"),
		SEOScore:           categoryScore(resp, "seo"),
		BestPracticesScore: categoryScore(resp, "best-practices"),
		LCPMs:              int(resp.LighthouseResult.Audits.LargestContentfulPaint.NumericValue),
		FIDMs:              int(resp.LighthouseResult.Audits.MaxPotentialFID.NumericValue),
		CLS:                resp.LighthouseResult.Audits.CumulativeLayoutShift.NumericValue,
		INPMs:              int(resp.LighthouseResult.Audits.Interactive.NumericValue),
	}
	return score, nil
}

func categoryScore(resp pagespeedResponse, key string) int {
	if c, ok := resp.LighthouseResult.Categories[key]; ok {
		return int(c.Score * 100)
	}
	return 0
}
