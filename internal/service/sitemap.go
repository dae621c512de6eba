package service

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/jmylchreest/sitewatch/internal/constants"
)

const maxSitemapURLs = 5000

// SitemapReader discovers a site's full URL set from sitemap.xml, used by
// the scan and weekly orchestrators to pick link-check targets (the weekly
// full sweep checks every URL the sitemap lists) and by the page
// inventory's cross-check against the CMS's own page listing.
type SitemapReader struct {
	logger *slog.Logger
	client *http.Client
}

func NewSitemapReader(logger *slog.Logger) *SitemapReader {
	return &SitemapReader{
		logger: logger.With("component", "sitemap_reader"),
		client: &http.Client{Timeout: constants.HTMLFetchTimeout * 2},
	}
}

type sitemapURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

type sitemap struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapIndex struct {
	XMLName  xml.Name       `xml:"sitemapindex"`
	Sitemaps []sitemapEntry `xml:"sitemap"`
}

type sitemapEntry struct {
	Loc string `xml:"loc"`
}

// Discover fetches {baseURL}/sitemap.xml and returns every listed URL,
// following sitemap indexes down to two levels below the root sitemap
// (deeper nested indexes are skipped). Returns (nil, false)
// rather than an error when the sitemap is missing or unparsable: a site
// without a sitemap still gets scanned via its CMS listing.
func (r *SitemapReader) Discover(ctx context.Context, baseURL string) ([]string, bool) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, false
	}
	sitemapURL := fmt.Sprintf("%s://%s/sitemap.xml", parsed.Scheme, parsed.Host)

	urls, err := r.fetch(ctx, sitemapURL, 0)
	if err != nil || len(urls) == 0 {
		r.logger.Debug("sitemap discovery unavailable", "base_url", baseURL, "error", err)
		return nil, false
	}
	return urls, true
}

func (r *SitemapReader) fetch(ctx context.Context, sitemapURL string, depth int) ([]string, error) {
	if depth > 2 {
		return nil, fmt.Errorf("sitemap recursion depth exceeded at %s", sitemapURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/xml, text/xml, */*")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sitemap returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read sitemap body: %w", err)
	}

	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		var all []string
		for _, entry := range index.Sitemaps {
			if len(all) >= maxSitemapURLs {
				break
			}
			nested, err := r.fetch(ctx, entry.Loc, depth+1)
			if err != nil {
				r.logger.Warn("nested sitemap fetch failed", "url", entry.Loc, "error", err)
				continue
			}
			all = append(all, nested...)
		}
		return all, nil
	}

	var sm sitemap
	if err := xml.Unmarshal(body, &sm); err != nil {
		return nil, fmt.Errorf("parse sitemap xml: %w", err)
	}

	out := make([]string, 0, len(sm.URLs))
	for _, u := range sm.URLs {
		if u.Loc == "" {
			continue
		}
		if len(out) >= maxSitemapURLs {
			break
		}
		out = append(out, u.Loc)
	}
	return out, nil
}
