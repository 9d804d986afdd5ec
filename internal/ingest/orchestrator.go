// Package ingest composes resolution, discovery, download, validation and
// persistence into a per-company flow and a batch flow.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/edgarsync/internal/filings"
	"github.com/seenimoa/edgarsync/internal/infra"
	"github.com/seenimoa/edgarsync/internal/resolver"
	"github.com/seenimoa/edgarsync/internal/store"
	"github.com/seenimoa/edgarsync/internal/validate"
	"github.com/seenimoa/edgarsync/pkg/models"
)

// CompanyLookup maps tickers to registry records.
type CompanyLookup interface {
	GetCompanyInfo(ctx context.Context, ticker string) (*models.CompanyInfo, error)
}

// FilingStore persists filings.
type FilingStore interface {
	FilingByAccession(ctx context.Context, accession string) (models.Filing, error)
	StoreFiling(ctx context.Context, f models.Filing) (store.InsertResult[models.Filing], error)
}

// Deps are the pipeline stages. Every stage that calls the registry must
// share one client so the outbound interval holds across workers.
type Deps struct {
	Registry  CompanyLookup
	Resolver  *resolver.Resolver
	Discovery *filings.Discovery
	Fetcher   *filings.Fetcher
	Validator *validate.Validator
	Store     FilingStore
}

// Options tunes retries and fan-out.
type Options struct {
	FetchRetry infra.RetryPolicy // company info, resolution, filing list
	FlowRetry  infra.RetryPolicy // one company end to end
	Workers    int               // companies processed at once in a batch
	Observer   Observer
}

// Orchestrator runs ingestion flows.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.FetchRetry.Name == "" {
		opts.FetchRetry.Name = "fetch"
	}
	if opts.FlowRetry.Name == "" {
		opts.FlowRetry.Name = "company-flow"
	}
	if opts.Observer == nil {
		opts.Observer = func(Event) {}
	}
	return &Orchestrator{deps: deps, opts: opts, logger: slog.Default().With("component", "ingest")}
}

func (o *Orchestrator) emit(e Event) {
	e.Time = time.Now()
	o.opts.Observer(e)
}

// IngestCompany runs the flow for one ticker.
func (o *Orchestrator) IngestCompany(ctx context.Context, ticker string, f filings.Filter) CompanyResult {
	return o.ingestCompany(ctx, uuid.NewString(), Target{Ticker: ticker}, f)
}

// IngestBatch runs the flow for every target. A failing company does not stop
// the batch. Results keep target order. With one worker, companies run
// strictly one after another.
func (o *Orchestrator) IngestBatch(ctx context.Context, targets []Target, f filings.Filter) BatchResult {
	batch := BatchResult{RunID: uuid.NewString(), StartedAt: time.Now()}
	o.emit(Event{Type: EventBatchStarted, RunID: batch.RunID, Detail: fmt.Sprintf("%d companies", len(targets))})
	o.logger.Info("batch started", "run_id", batch.RunID, "companies", len(targets), "workers", o.opts.Workers)

	results := make([]*CompanyResult, len(targets))
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(o.opts.Workers)
	for i, t := range targets {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			r := o.ingestCompany(ctx, batch.RunID, t, f)
			mu.Lock()
			results[i] = &r
			mu.Unlock()
			return nil // non-fatal
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r != nil {
			batch.add(*r)
		}
	}
	batch.FinishedAt = time.Now()
	o.emit(Event{Type: EventBatchFinished, RunID: batch.RunID,
		Detail: fmt.Sprintf("processed=%d found=%d stored=%d rejected=%d failures=%d",
			batch.CompaniesProcessed, batch.FilingsFound, batch.FilingsStored, batch.FilingsRejected, batch.Failures)})
	o.logger.Info("batch finished", "run_id", batch.RunID,
		"processed", batch.CompaniesProcessed, "found", batch.FilingsFound,
		"stored", batch.FilingsStored, "rejected", batch.FilingsRejected,
		"failures", batch.Failures, "duration", batch.FinishedAt.Sub(batch.StartedAt))
	return batch
}

func (o *Orchestrator) ingestCompany(ctx context.Context, runID string, t Target, f filings.Filter) CompanyResult {
	start := time.Now()
	ticker := models.NormalizeTicker(t.Ticker)
	o.emit(Event{Type: EventCompanyStarted, RunID: runID, Ticker: ticker})

	attempts := 0
	res, err := infra.Retry(ctx, o.opts.FlowRetry, func(ctx context.Context) (CompanyResult, error) {
		attempts++
		return o.runOnce(ctx, runID, Target{Ticker: ticker, Category: t.Category}, f)
	})
	if err != nil {
		res = CompanyResult{Ticker: ticker, Status: StatusError, Error: err.Error()}
		o.logger.Error("company flow failed", "run_id", runID, "ticker", ticker, "attempts", attempts, "err", err)
	}
	res.Attempts = attempts
	res.Duration = time.Since(start)

	o.emit(Event{Type: EventCompanyFinished, RunID: runID, Ticker: ticker, Status: res.Status, Detail: res.Error})
	o.logger.Info("company finished", "run_id", runID, "ticker", ticker, "status", res.Status,
		"found", res.FilingsFound, "stored", res.FilingsStored, "rejected", res.FilingsRejected,
		"errored", res.FilingsErrored, "company_id", res.CompanyID)
	return res
}

// runOnce is one attempt of the company flow. An error means a stage failed
// after its own retries and the whole flow may be retried.
func (o *Orchestrator) runOnce(ctx context.Context, runID string, t Target, f filings.Filter) (CompanyResult, error) {
	res := CompanyResult{Ticker: t.Ticker}

	info, err := stage(ctx, o.opts.FetchRetry, "company-info", func(ctx context.Context) (*models.CompanyInfo, error) {
		return o.deps.Registry.GetCompanyInfo(ctx, t.Ticker)
	})
	if err != nil {
		return res, fmt.Errorf("company info: %w", err)
	}
	if info == nil {
		res.Status = StatusUnresolved
		res.Error = "ticker not found in registry"
		return res, nil
	}
	res.ExternalID = info.ExternalID

	company, err := stage(ctx, o.opts.FetchRetry, "resolve", func(ctx context.Context) (models.Company, error) {
		return o.deps.Resolver.Resolve(ctx, info.ExternalID, resolver.Hint{Ticker: t.Ticker, Name: info.Name, Category: t.Category})
	})
	if err != nil {
		return res, fmt.Errorf("resolve %s: %w", info.ExternalID, err)
	}
	res.CompanyID = company.ID

	list, err := stage(ctx, o.opts.FetchRetry, "discover", func(ctx context.Context) ([]models.FilingSummary, error) {
		return o.deps.Discovery.Discover(ctx, info.ExternalID, f)
	})
	if err != nil {
		return res, fmt.Errorf("discover %s: %w", info.ExternalID, err)
	}
	res.FilingsFound = len(list)
	if len(list) == 0 {
		res.Status = StatusNoFilings
		return res, nil
	}

	batch := o.deps.Fetcher.Cap(list)
	toFetch := make([]models.FilingSummary, 0, len(batch))
	for _, s := range batch {
		o.emitFiling(runID, t.Ticker, s.AccessionNo, models.StateDiscovered, "")
		if out, done := o.existing(ctx, s); done {
			res.record(out)
			o.emitFiling(runID, t.Ticker, s.AccessionNo, out.State, out.Detail)
			continue
		}
		toFetch = append(toFetch, s)
	}

	for _, fe := range o.deps.Fetcher.FetchAll(ctx, toFetch) {
		out := o.process(ctx, runID, t.Ticker, company.ID, fe)
		res.record(out)
		o.emitFiling(runID, t.Ticker, out.AccessionNo, out.State, out.Detail)
	}

	res.Status = StatusOK
	return res, nil
}

// stage runs one registry-facing step under the fetch retry budget.
func stage[T any](ctx context.Context, p infra.RetryPolicy, name string, fn func(context.Context) (T, error)) (T, error) {
	p.Name = name
	return infra.Retry(ctx, p, fn)
}

func (o *Orchestrator) emitFiling(runID, ticker, accession string, state models.FilingState, detail string) {
	o.emit(Event{Type: EventFiling, RunID: runID, Ticker: ticker, Accession: accession, State: state, Detail: detail})
}

// existing reports a filing already persisted by an earlier run.
func (o *Orchestrator) existing(ctx context.Context, s models.FilingSummary) (FilingOutcome, bool) {
	out := outcomeFor(s)
	row, err := o.deps.Store.FilingByAccession(ctx, s.AccessionNo)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return out, false
	case err != nil:
		o.logger.Warn("dedup lookup failed, fetching anyway", "accession", s.AccessionNo, "err", err)
		return out, false
	}
	out.FilingID = row.ID
	out.State, out.Detail = stateOf(row)
	return out, true
}

func (o *Orchestrator) process(ctx context.Context, runID, ticker string, companyID uint, fe filings.Fetched) FilingOutcome {
	out := outcomeFor(fe.Summary)
	if fe.Err != nil {
		out.State, out.Detail = models.StateErrored, "download: "+fe.Err.Error()
		return out
	}
	if fe.Content == "" {
		out.State, out.Detail = models.StateErrored, "document unavailable"
		return out
	}
	o.emitFiling(runID, ticker, out.AccessionNo, models.StateFetched, "")

	filing := models.NewFiling(companyID, fe.Summary, fe.Content, fe.Hash)
	report := o.deps.Validator.Check(filing)
	if report.Valid {
		filing.Status = models.StatusCompleted
		o.emitFiling(runID, ticker, out.AccessionNo, models.StateValidated, "")
	} else {
		filing.Status, filing.ErrorDetail = models.StatusFailed, report.Violation
	}

	stored, err := o.deps.Store.StoreFiling(ctx, filing)
	if err != nil {
		out.State, out.Detail = models.StateErrored, "store: "+err.Error()
		return out
	}
	out.FilingID, out.Created = stored.Row.ID, stored.Created
	out.State, out.Detail = stateOf(stored.Row)
	return out
}

func outcomeFor(s models.FilingSummary) FilingOutcome {
	return FilingOutcome{AccessionNo: s.AccessionNo, FormType: s.FormType, FilingDate: s.FilingDate}
}

// stateOf maps a persisted row to its terminal run state.
func stateOf(f models.Filing) (models.FilingState, string) {
	if f.Status == models.StatusFailed {
		return models.StateRejected, f.ErrorDetail
	}
	return models.StateStored, ""
}
