package filings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/edgarsync/internal/infra"
	"github.com/seenimoa/edgarsync/pkg/models"
)

// Downloader fetches a filing document body.
type Downloader interface {
	DownloadContent(ctx context.Context, s models.FilingSummary) (string, error)
}

// Fetched is the outcome of downloading one filing.
type Fetched struct {
	Summary models.FilingSummary
	Content string
	Hash    string
	Err     error // download failed after retries
}

// FetcherConfig bounds a Fetcher.
type FetcherConfig struct {
	MaxPerCompany int // most recent N per run
	Concurrency   int
	Retry         infra.RetryPolicy
}

// Fetcher downloads filing bodies with bounded fan-out.
type Fetcher struct {
	client Downloader
	cfg    FetcherConfig
}

// NewFetcher creates a Fetcher.
func NewFetcher(client Downloader, cfg FetcherConfig) *Fetcher {
	if cfg.MaxPerCompany <= 0 {
		cfg.MaxPerCompany = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Retry.Name == "" {
		cfg.Retry.Name = "download"
	}
	return &Fetcher{client: client, cfg: cfg}
}

// Cap keeps the most recent MaxPerCompany summaries. Input is newest first.
func (f *Fetcher) Cap(list []models.FilingSummary) []models.FilingSummary {
	if len(list) > f.cfg.MaxPerCompany {
		return list[:f.cfg.MaxPerCompany]
	}
	return list
}

// FetchAll downloads every summary and fingerprints the content. Results are
// in input order; a failed download is reported in its Fetched.Err and does
// not stop the others.
func (f *Fetcher) FetchAll(ctx context.Context, list []models.FilingSummary) []Fetched {
	out := make([]Fetched, len(list))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for i, s := range list {
		g.Go(func() error {
			res := f.fetch(gctx, s)
			mu.Lock()
			out[i] = res
			mu.Unlock()
			return nil // non-fatal
		})
	}
	_ = g.Wait()
	return out
}

func (f *Fetcher) fetch(ctx context.Context, s models.FilingSummary) Fetched {
	content, err := infra.Retry(ctx, f.cfg.Retry, func(ctx context.Context) (string, error) {
		return f.client.DownloadContent(ctx, s)
	})
	if err != nil {
		return Fetched{Summary: s, Err: err}
	}
	return Fetched{Summary: s, Content: content, Hash: Fingerprint(content)}
}

// Fingerprint is the lowercase hex SHA-256 of content.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
