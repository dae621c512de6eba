package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/jmylchreest/sitewatch/internal/constants"
	"github.com/jmylchreest/sitewatch/internal/models"
	"golang.org/x/sync/errgroup"
)

// LinkCheckAdapter probes a set of URLs with HEAD requests, falling back to
// GET for servers that reject HEAD. It builds its own stdlib net/http
// client by design rather than reaching for colly: it needs manual
// control over CheckRedirect (capture the hop chain instead of following
// it silently), something colly's own redirect handling does not expose.
type LinkCheckAdapter struct {
	client     *http.Client
	siteOrigin string
	logger     *slog.Logger
}

func NewLinkCheckAdapter(siteOrigin string, logger *slog.Logger) *LinkCheckAdapter {
	a := &LinkCheckAdapter{siteOrigin: siteOrigin, logger: logger.With("adapter", "link_check")}
	a.client = &http.Client{
		Timeout: constants.LinkCheckTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return a
}

// LinkCheckResult is the outcome of probing one URL.
type LinkCheckResult struct {
	TargetURL     string
	HTTPStatus    int
	IsBroken      bool
	IsRedirect    bool
	RedirectChain []string
	ErrorMessage  string
}

// CheckBatch probes up to constants.LinkCheckFanOut URLs concurrently and
// returns one result per input URL, in the same order as targetURLs.
func (a *LinkCheckAdapter) CheckBatch(ctx context.Context, sourcePageURL string, targetURLs []string) []LinkCheckResult {
	results := make([]LinkCheckResult, len(targetURLs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(constants.LinkCheckFanOut)

	for i, target := range targetURLs {
		i, target := i, target
		g.Go(func() error {
			results[i] = a.checkOne(gctx, target)
			return nil
		})
	}
	_ = g.Wait()
	_ = sourcePageURL
	return results
}

func (a *LinkCheckAdapter) checkOne(ctx context.Context, target string) LinkCheckResult {
	result := LinkCheckResult{TargetURL: target}

	chain, status, err := a.probe(ctx, http.MethodHead, target)
	if err != nil || status == http.StatusMethodNotAllowed {
		chain, status, err = a.probe(ctx, http.MethodGet, target)
	}
	if err != nil {
		result.IsBroken = true
		result.ErrorMessage = err.Error()
		return result
	}

	result.HTTPStatus = status
	result.RedirectChain = chain
	result.IsRedirect = len(chain) > 1
	result.IsBroken = status >= 400
	return result
}

func (a *LinkCheckAdapter) probe(ctx context.Context, method, target string) ([]string, int, error) {
	chain := []string{target}
	current := target
	client := a.client

	for {
		req, err := http.NewRequestWithContext(ctx, method, current, nil)
		if err != nil {
			return chain, 0, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := client.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return chain, 0, fmt.Errorf("timed out: %w", err)
			}
			return chain, 0, err
		}
		_ = resp.Body.Close()

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc := resp.Header.Get("Location")
			if loc == "" || len(chain) >= constants.LinkCheckRedirectCap {
				return chain, resp.StatusCode, nil
			}
			next, err := resolveRedirect(current, loc)
			if err != nil {
				return chain, resp.StatusCode, nil
			}
			chain = append(chain, next)
			current = next
			continue
		}
		return chain, resp.StatusCode, nil
	}
}

func resolveRedirect(base, location string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	locURL, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(locURL).String(), nil
}

// ClassifyLinkType reports whether a target URL stays on the monitored
// site's origin or leaves it.
func (a *LinkCheckAdapter) ClassifyLinkType(target string) models.LinkType {
	u, err := url.Parse(target)
	if err != nil {
		return models.LinkTypeExternal
	}
	origin, err := url.Parse(a.siteOrigin)
	if err != nil {
		return models.LinkTypeExternal
	}
	if strings.EqualFold(u.Host, origin.Host) {
		return models.LinkTypeInternal
	}
	return models.LinkTypeExternal
}
