// Package registry implements the client for the SEC EDGAR registry.
//
// No API key required. Every request must carry a contactable User-Agent
// per SEC policy, and all calls go through a shared Limiter.
// Docs: https://www.sec.gov/edgar/sec-api-documentation
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/seenimoa/edgarsync/internal/infra"
	"github.com/seenimoa/edgarsync/pkg/models"
)

// ErrNotFound is returned when the registry answers with a non-retryable
// non-2xx status for a listing.
var ErrNotFound = errors.New("registry: not found")

const tickersCacheKey = "company_tickers"

// Config configures a Client.
type Config struct {
	UserAgent string
	WWWURL    string // https://www.sec.gov
	DataURL   string // https://data.sec.gov
	Timeout   time.Duration
}

// Client wraps outbound calls to the registry.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter infra.Limiter
	cache   *infra.Cache[map[string]edgarTickerEntry]
	logger  *slog.Logger
}

// New creates a Client. The limiter is shared by every caller of the client.
func New(cfg Config, limiter infra.Limiter) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.WWWURL = strings.TrimRight(cfg.WWWURL, "/")
	cfg.DataURL = strings.TrimRight(cfg.DataURL, "/")
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		cache:   infra.NewCache[map[string]edgarTickerEntry](24 * time.Hour),
		logger:  slog.Default().With("component", "registry"),
	}
}

func (c *Client) headers(accept string) map[string]string {
	return map[string]string{
		"User-Agent": c.cfg.UserAgent,
		"Accept":     accept,
	}
}

// get waits for the limiter, then performs the GET.
func (c *Client) get(ctx context.Context, url, accept string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, _, err := infra.DoGet(ctx, c.http, url, c.headers(accept))
	if err != nil {
		return nil, err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return data, nil
}

// permanent reports whether err is a non-2xx the registry will keep returning.
func permanent(err error) (*infra.ErrHTTP, bool) {
	var he *infra.ErrHTTP
	if errors.As(err, &he) && !he.IsRetryable() {
		return he, true
	}
	return nil, false
}

// GetCompanyInfo maps a ticker to the registry's company record.
// It returns nil without error when the ticker is unknown or the registry
// answers with a non-retryable status.
func (c *Client) GetCompanyInfo(ctx context.Context, ticker string) (*models.CompanyInfo, error) {
	ticker = models.NormalizeTicker(ticker)
	entries, err := c.tickers(ctx)
	if err != nil {
		if he, ok := permanent(err); ok {
			c.logger.Warn("company tickers unavailable", "ticker", ticker, "status", he.StatusCode)
			return nil, nil
		}
		return nil, fmt.Errorf("company info %s: %w", ticker, err)
	}
	e, ok := entries[ticker]
	if !ok {
		c.logger.Info("ticker not found in registry", "ticker", ticker)
		return nil, nil
	}
	return &models.CompanyInfo{
		ExternalID: models.PadCIK(strconv.FormatInt(e.CIK, 10)),
		Ticker:     ticker,
		Name:       e.Title,
	}, nil
}

// tickers returns the ticker map, cached for a day.
func (c *Client) tickers(ctx context.Context) (map[string]edgarTickerEntry, error) {
	return c.cache.GetOrLoad(ctx, tickersCacheKey, func(ctx context.Context) (map[string]edgarTickerEntry, error) {
		data, err := c.get(ctx, c.cfg.WWWURL+"/files/company_tickers.json", "application/json")
		if err != nil {
			return nil, err
		}
		var raw map[string]edgarTickerEntry
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse company tickers: %w", err)
		}
		byTicker := make(map[string]edgarTickerEntry, len(raw))
		for _, e := range raw {
			t := models.NormalizeTicker(e.Ticker)
			if _, dup := byTicker[t]; !dup {
				byTicker[t] = e
			}
		}
		return byTicker, nil
	})
}

func (c *Client) submissions(ctx context.Context, cik string) (*edgarSubmissionsResponse, error) {
	url := fmt.Sprintf("%s/submissions/CIK%s.json", c.cfg.DataURL, models.PadCIK(cik))
	data, err := c.get(ctx, url, "application/json")
	if err != nil {
		return nil, err
	}
	var sub edgarSubmissionsResponse
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("parse submissions: %w", err)
	}
	return &sub, nil
}

// GetCompanyName returns the registry's canonical name for cik.
func (c *Client) GetCompanyName(ctx context.Context, cik string) (string, error) {
	sub, err := c.submissions(ctx, cik)
	if err != nil {
		if he, ok := permanent(err); ok {
			return "", fmt.Errorf("%w: company %s (HTTP %d)", ErrNotFound, cik, he.StatusCode)
		}
		return "", fmt.Errorf("company name %s: %w", cik, err)
	}
	name := strings.TrimSpace(sub.Name)
	if name == "" {
		return "", fmt.Errorf("%w: company %s has no name", ErrNotFound, cik)
	}
	return name, nil
}

// GetFilings lists the company's recent filings whose form is in types and
// whose date is on or after startDate (when non-zero). Registry order
// (newest first) is preserved.
func (c *Client) GetFilings(ctx context.Context, cik string, types []models.FilingType, startDate time.Time) ([]models.FilingSummary, error) {
	sub, err := c.submissions(ctx, cik)
	if err != nil {
		if he, ok := permanent(err); ok {
			c.logger.Warn("filing index unavailable", "cik", cik, "status", he.StatusCode)
			return nil, fmt.Errorf("%w: filings for %s (HTTP %d)", ErrNotFound, cik, he.StatusCode)
		}
		return nil, fmt.Errorf("filings %s: %w", cik, err)
	}

	cik = models.PadCIK(cik)
	recent := sub.Filings.Recent
	var out []models.FilingSummary
	for i, acc := range recent.AccessionNumber {
		s := models.FilingSummary{
			ExternalID:  cik,
			AccessionNo: acc,
			FormType:    models.ParseFilingType(recent.at(recent.Form, i)),
			FilingDate:  recent.at(recent.FilingDate, i),
			Description: recent.at(recent.Description, i),
		}
		if !Match(s, types, startDate) {
			continue
		}
		s.DocumentURL = c.documentURL(cik, acc, recent.at(recent.PrimaryDocument, i))
		out = append(out, s)
	}
	return out, nil
}

// Match reports whether s passes the form and start-date filter.
// An empty types list matches every form.
func Match(s models.FilingSummary, types []models.FilingType, startDate time.Time) bool {
	if len(types) > 0 {
		ok := false
		for _, t := range types {
			if s.FormType == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !startDate.IsZero() {
		d := s.Date()
		if d.IsZero() || d.Before(startDate) {
			return false
		}
	}
	return true
}

// documentURL builds the archive path: /Archives/edgar/data/{cik}/{acc-no-dashes}/{doc}.
func (c *Client) documentURL(cik, accession, primaryDoc string) string {
	trimmed := strings.TrimLeft(cik, "0")
	if trimmed == "" {
		trimmed = "0"
	}
	base := fmt.Sprintf("%s/Archives/edgar/data/%s/%s", c.cfg.WWWURL, trimmed, strings.ReplaceAll(accession, "-", ""))
	if primaryDoc == "" {
		return base + "/" + accession + ".txt"
	}
	return base + "/" + primaryDoc
}

// DownloadContent fetches the filing document. Redirects are followed.
// A non-retryable non-2xx yields empty content and a logged error.
func (c *Client) DownloadContent(ctx context.Context, s models.FilingSummary) (string, error) {
	if s.DocumentURL == "" {
		c.logger.Error("filing has no document URL", "accession", s.AccessionNo)
		return "", nil
	}
	data, err := c.get(ctx, s.DocumentURL, "text/html, text/plain, */*")
	if err != nil {
		if he, ok := permanent(err); ok {
			c.logger.Error("document download failed", "accession", s.AccessionNo, "url", s.DocumentURL, "status", he.StatusCode)
			return "", nil
		}
		return "", fmt.Errorf("download %s: %w", s.AccessionNo, err)
	}
	return string(data), nil
}

// Ping checks connectivity to the registry.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.tickers(ctx); err != nil {
		return fmt.Errorf("registry ping: %w", err)
	}
	return nil
}
