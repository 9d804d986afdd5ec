// Package filings discovers a company's filings and downloads their content.
package filings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/seenimoa/edgarsync/internal/registry"
	"github.com/seenimoa/edgarsync/pkg/models"
)

// Filter selects filings by form and earliest filing date.
type Filter struct {
	Forms     []models.FilingType
	StartDate time.Time // zero means no lower bound
}

// NewFilter normalizes form names ("10-k" -> "10-K") and parses an optional
// YYYY-MM-DD start date.
func NewFilter(forms []string, startDate string) (Filter, error) {
	var f Filter
	seen := make(map[models.FilingType]bool)
	for _, s := range forms {
		t := models.ParseFilingType(s)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		f.Forms = append(f.Forms, t)
	}
	if s := strings.TrimSpace(startDate); s != "" {
		d, err := time.Parse(models.DateLayout, s)
		if err != nil {
			return Filter{}, fmt.Errorf("start date %q: want YYYY-MM-DD", s)
		}
		f.StartDate = d
	}
	return f, nil
}

// Lister is the part of the registry client discovery needs.
type Lister interface {
	GetFilings(ctx context.Context, cik string, types []models.FilingType, startDate time.Time) ([]models.FilingSummary, error)
	GetFilingsFromFeed(ctx context.Context, cik string, types []models.FilingType, startDate time.Time) ([]models.FilingSummary, error)
}

// Discovery lists candidate filings. It returns summaries only.
type Discovery struct {
	client       Lister
	feedFallback bool
	logger       *slog.Logger
}

// NewDiscovery creates a Discovery. With feedFallback set, a submissions
// index the registry refuses to serve is replaced by the company Atom feed.
func NewDiscovery(client Lister, feedFallback bool) *Discovery {
	return &Discovery{
		client:       client,
		feedFallback: feedFallback,
		logger:       slog.Default().With("component", "discovery"),
	}
}

// Discover lists the company's filings matching f, newest first.
func (d *Discovery) Discover(ctx context.Context, cik string, f Filter) ([]models.FilingSummary, error) {
	list, err := d.client.GetFilings(ctx, cik, f.Forms, f.StartDate)
	if err == nil {
		return list, nil
	}
	if !errors.Is(err, registry.ErrNotFound) {
		return nil, err
	}
	if !d.feedFallback {
		d.logger.Warn("no filing index", "cik", cik, "err", err)
		return nil, nil
	}

	d.logger.Info("filing index unavailable, reading company feed", "cik", cik)
	list, ferr := d.client.GetFilingsFromFeed(ctx, cik, f.Forms, f.StartDate)
	if ferr != nil {
		d.logger.Warn("company feed unavailable", "cik", cik, "err", ferr)
		return nil, nil
	}
	return list, nil
}
