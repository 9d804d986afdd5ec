package registry

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/seenimoa/edgarsync/pkg/models"
)

var (
	accessionRe  = regexp.MustCompile(`\d{10}-\d{2}-\d{6}`)
	filingDateRe = regexp.MustCompile(`<filing-date>\s*(\d{4}-\d{2}-\d{2})\s*</filing-date>`)
)

// feedURL is the company browse page rendered as Atom.
func (c *Client) feedURL(cik, form string) string {
	q := url.Values{}
	q.Set("action", "getcompany")
	q.Set("CIK", models.PadCIK(cik))
	q.Set("type", form)
	q.Set("dateb", "")
	q.Set("owner", "include")
	q.Set("count", "40")
	q.Set("output", "atom")
	return c.cfg.WWWURL + "/cgi-bin/browse-edgar?" + q.Encode()
}

// GetFilingsFromFeed lists filings from the company's Atom feed. It is a
// fallback for when the submissions index is unavailable; the same filter
// applies and feed order (newest first) is kept. The feed links to index
// pages, so DocumentURL points at the complete submission text instead.
func (c *Client) GetFilingsFromFeed(ctx context.Context, cik string, types []models.FilingType, startDate time.Time) ([]models.FilingSummary, error) {
	data, err := c.get(ctx, c.feedURL(cik, ""), "application/atom+xml")
	if err != nil {
		return nil, fmt.Errorf("filing feed %s: %w", cik, err)
	}
	feed, err := gofeed.NewParser().ParseString(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse filing feed %s: %w", cik, err)
	}

	cik = models.PadCIK(cik)
	var out []models.FilingSummary
	for _, item := range feed.Items {
		s, ok := c.summaryFromItem(cik, item)
		if !ok || !Match(s, types, startDate) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *Client) summaryFromItem(cik string, item *gofeed.Item) (models.FilingSummary, bool) {
	acc := accessionRe.FindString(item.GUID)
	if acc == "" {
		acc = accessionRe.FindString(item.Link)
	}
	if acc == "" {
		return models.FilingSummary{}, false
	}

	var form string
	if len(item.Categories) > 0 {
		form = item.Categories[0]
	} else if f := strings.Fields(item.Title); len(f) > 0 {
		form = f[0]
	}

	var date string
	if m := filingDateRe.FindStringSubmatch(item.Content); m != nil {
		date = m[1]
	} else if item.UpdatedParsed != nil {
		date = item.UpdatedParsed.Format(models.DateLayout)
	}

	return models.FilingSummary{
		ExternalID:  cik,
		AccessionNo: acc,
		FormType:    models.ParseFilingType(form),
		FilingDate:  date,
		DocumentURL: c.documentURL(cik, acc, ""),
		Description: strings.TrimSpace(item.Title),
	}, true
}
