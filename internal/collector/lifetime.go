package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const lifetimeLabel = "Lifetime Earnings"

var amountCleaner = strings.NewReplacer(" BTC", "", ",", "", "\n", "")

// LifetimeScraper reads the lifetime earnings figure from the pool's HTML
// stats pages, which the JSON API does not expose.
type LifetimeScraper struct {
	poolURL    string
	httpClient *http.Client
	log        *zap.Logger
}

// NewLifetimeScraper creates a scraper. A zero timeout falls back to 15s.
func NewLifetimeScraper(poolURL string, timeout time.Duration, log *zap.Logger) *LifetimeScraper {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &LifetimeScraper{
		poolURL: strings.TrimRight(poolURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log.Named("scraper"),
	}
}

// PageURL returns the stats page for an account, or for one of its workers
// when worker is not empty.
func (s *LifetimeScraper) PageURL(username, worker string) string {
	page := username
	if worker != "" {
		page = username + "." + worker
	}
	return fmt.Sprintf("%s/stats/%s", s.poolURL, url.PathEscape(page))
}

// Fetch scrapes the lifetime earnings in BTC
func (s *LifetimeScraper) Fetch(ctx context.Context, username, worker string) (float64, error) {
	u := s.PageURL(username, worker)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, &Error{Kind: KindTransport, Op: "scrape", URL: u, Err: err}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, &Error{Kind: KindTransport, Op: "scrape", URL: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &Error{Kind: KindProtocol, Op: "scrape", URL: u, StatusCode: resp.StatusCode}
	}

	value, err := ParseLifetimeEarnings(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			ce.URL = u
		}
		return 0, err
	}
	return value, nil
}

// ParseLifetimeEarnings finds the "Lifetime Earnings" blocks-label div and
// parses the span that follows it.
func ParseLifetimeEarnings(r io.Reader) (float64, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return 0, &Error{Kind: KindParse, Op: "parse", Err: err}
	}

	labelFound := false
	var valueText string
	var valueFound bool

	doc.Find("div.blocks-label").EachWithBreak(func(_ int, label *goquery.Selection) bool {
		if !strings.Contains(label.Text(), lifetimeLabel) {
			return true
		}
		labelFound = true
		span := label.NextAllFiltered("span").First()
		if span.Length() == 0 {
			return true
		}
		valueText = span.Text()
		valueFound = true
		return false
	})

	if !valueFound {
		if labelFound {
			return 0, &Error{Kind: KindParse, Op: "parse", Err: ErrValueNotFound}
		}
		return 0, &Error{Kind: KindParse, Op: "parse", Err: ErrLabelNotFound}
	}

	clean := CleanAmount(valueText)
	value, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, &Error{Kind: KindParse, Op: "parse", Err: fmt.Errorf("%w: %q", ErrNotNumeric, clean)}
	}
	return value, nil
}

// CleanAmount strips the BTC suffix, thousands separators and newlines
func CleanAmount(text string) string {
	return strings.TrimSpace(amountCleaner.Replace(text))
}
