package service

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// LinkDiscoverer crawls the monitored site itself, depth-bounded and
// restricted to the site's own domain, to surface link targets the
// sitemap never listed: orphaned pages, stale anchors left after a
// navigation redesign, and anything the CMS's own page catalog omits.
// Used by the weekly orchestrator's full-site link sweep (its coverage is
// a superset of the sitemap, not a replacement for it).
type LinkDiscoverer struct {
	logger *slog.Logger
}

func NewLinkDiscoverer(logger *slog.Logger) *LinkDiscoverer {
	return &LinkDiscoverer{logger: logger.With("component", "link_discoverer")}
}

const (
	discoverMaxDepth = 3
	discoverMaxURLs  = 2000
	discoverDelay    = 200 * time.Millisecond
)

// Crawl walks the site starting from seedURL, staying on the same host,
// and returns the deduplicated set of absolute URLs it found linked
// anywhere on the site (including the seed itself).
func (d *LinkDiscoverer) Crawl(ctx context.Context, seedURL string) []string {
	parsedSeed, err := url.Parse(seedURL)
	if err != nil {
		d.logger.Warn("invalid seed url for crawl", "seed", seedURL, "error", err)
		return nil
	}

	var mu sync.Mutex
	seen := map[string]bool{normalizeURL(seedURL): true}
	discovered := []string{seedURL}

	c := colly.NewCollector(
		colly.MaxDepth(discoverMaxDepth),
		colly.Async(true),
		colly.AllowedDomains(parsedSeed.Host),
	)
	_ = c.Limit(&colly.LimitRule{Delay: discoverDelay})

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		select {
		case <-ctx.Done():
			return
		default:
		}

		href := e.Attr("href")
		if href == "" {
			return
		}
		abs := e.Request.AbsoluteURL(href)
		if abs == "" {
			return
		}
		norm := normalizeURL(abs)

		mu.Lock()
		if seen[norm] || len(discovered) >= discoverMaxURLs {
			mu.Unlock()
			return
		}
		seen[norm] = true
		discovered = append(discovered, abs)
		shouldVisit := len(discovered) < discoverMaxURLs
		mu.Unlock()

		if shouldVisit {
			_ = c.Visit(abs)
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		d.logger.Debug("crawl request failed", "url", r.Request.URL.String(), "error", err)
	})

	if err := c.Visit(seedURL); err != nil {
		d.logger.Warn("failed to visit seed url", "seed", seedURL, "error", err)
		return nil
	}
	c.Wait()

	return discovered
}

func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String()
}
