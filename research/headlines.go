package research

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"brand_hero_content/generator"
	"brand_hero_content/logging"
)

const defaultHeadlineSelector = "h2 a, h3 a"

// HeadlineScraper reads headlines from a news page. A "%s" in the page URL is
// replaced by the escaped query.
type HeadlineScraper struct {
	client   *http.Client
	pageURL  string
	selector string
	maxItems int
	logger   *slog.Logger
}

var _ generator.SignalSource = (*HeadlineScraper)(nil)

// NewHeadlineScraper wires an HTTP client; selector defaults to "h2 a, h3 a".
func NewHeadlineScraper(client *http.Client, pageURL, selector string, maxItems int, logger *slog.Logger) *HeadlineScraper {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if selector == "" {
		selector = defaultHeadlineSelector
	}
	if maxItems <= 0 {
		maxItems = 5
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &HeadlineScraper{client: client, pageURL: pageURL, selector: selector, maxItems: maxItems, logger: logger}
}

func (h *HeadlineScraper) FetchSignal(ctx context.Context, query string) ([]string, error) {
	if h.pageURL == "" {
		return nil, fmt.Errorf("%w: news url is not configured", generator.ErrValidation)
	}
	doc, err := h.fetchDocument(ctx, h.buildURL(query))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", generator.ErrUpstreamUnavailable, err)
	}
	headlines := extractHeadlines(doc, h.selector, h.maxItems)
	h.logger.Debug("scraped headlines", "count", len(headlines))
	return headlines, nil
}

func (h *HeadlineScraper) buildURL(query string) string {
	if !strings.Contains(h.pageURL, "%s") {
		return h.pageURL
	}
	return strings.Replace(h.pageURL, "%s", url.QueryEscape(strings.TrimSpace(query)), 1)
}

func (h *HeadlineScraper) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "BrandHeroContent/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request news page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news page returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func extractHeadlines(doc *goquery.Document, selector string, limit int) []string {
	var out []string
	seen := map[string]struct{}{}
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		title := strings.Join(strings.Fields(s.Text()), " ")
		if title == "" {
			return true
		}
		if _, ok := seen[title]; ok {
			return true
		}
		seen[title] = struct{}{}
		out = append(out, title)
		return len(out) < limit
	})
	return out
}
