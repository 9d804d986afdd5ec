// Package resolver maps registry identifiers to internal company records
// without creating duplicates, and reconciles placeholder-named companies.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/seenimoa/edgarsync/internal/store"
	"github.com/seenimoa/edgarsync/pkg/models"
)

// NameSource fetches canonical company names from the registry.
type NameSource interface {
	GetCompanyName(ctx context.Context, cik string) (string, error)
}

// Store is the persistence the resolver needs.
type Store interface {
	CompanyByExternalID(ctx context.Context, externalID string) (models.Company, error)
	NamedCompanyByTicker(ctx context.Context, ticker string) (models.Company, error)
	InsertOrGetCompany(ctx context.Context, c models.Company) (store.InsertResult[models.Company], error)
	AssignExternalID(ctx context.Context, companyID uint, externalID string) (models.Company, error)
	PlaceholderCompanies(ctx context.Context) ([]models.Company, error)
	UpgradeCompanyName(ctx context.Context, companyID uint, name string) (bool, error)
}

// Hint carries what the caller already knows about the company.
type Hint struct {
	Ticker   string
	Name     string // registry title from the ticker lookup, if any
	Category string
}

// Resolver resolves companies.
type Resolver struct {
	names  NameSource
	store  Store
	logger *slog.Logger
}

// New creates a Resolver.
func New(names NameSource, st Store) *Resolver {
	return &Resolver{names: names, store: st, logger: slog.Default().With("component", "resolver")}
}

// Resolve returns the company for externalID, creating it if needed. Safe to
// call concurrently for the same identifier: every caller gets the same row.
func (r *Resolver) Resolve(ctx context.Context, externalID string, hint Hint) (models.Company, error) {
	externalID = models.PadCIK(externalID)
	ticker := models.NormalizeTicker(hint.Ticker)

	// 1. By identifier.
	c, err := r.store.CompanyByExternalID(ctx, externalID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.Company{}, fmt.Errorf("lookup %s: %w", externalID, err)
	}

	// 2. By ticker, among named rows.
	if ticker != "" {
		c, err := r.store.NamedCompanyByTicker(ctx, ticker)
		switch {
		case err == nil && c.ExternalID == "":
			filled, err := r.store.AssignExternalID(ctx, c.ID, externalID)
			if errors.Is(err, store.ErrExternalIDTaken) {
				// A concurrent resolve created the row after step 1.
				winner, err := r.store.CompanyByExternalID(ctx, externalID)
				if err != nil {
					return models.Company{}, fmt.Errorf("re-read %s: %w", externalID, err)
				}
				r.logger.Warn("ticker row left without external id", "ticker", ticker, "cik", externalID,
					"company_id", c.ID, "winner_id", winner.ID)
				return winner, nil
			}
			if err != nil {
				return models.Company{}, fmt.Errorf("backfill %s: %w", externalID, err)
			}
			if filled.ExternalID == externalID {
				r.logger.Info("backfilled external id", "ticker", ticker, "cik", externalID, "company_id", filled.ID)
				return filled, nil
			}
		case err == nil:
			r.logger.Warn("ticker belongs to another registrant", "ticker", ticker, "cik", externalID, "owner", c.ExternalID)
		case !errors.Is(err, store.ErrNotFound):
			return models.Company{}, fmt.Errorf("lookup ticker %s: %w", ticker, err)
		}
	}

	// 3. Create from registry metadata.
	name := r.canonicalName(ctx, externalID, hint)
	want := models.Company{ExternalID: externalID, Ticker: ticker, Name: name, Category: hint.Category}
	res, err := r.store.InsertOrGetCompany(ctx, want)
	if errors.Is(err, store.ErrTickerTaken) {
		want.Ticker = ""
		res, err = r.store.InsertOrGetCompany(ctx, want)
	}
	if err != nil {
		return models.Company{}, fmt.Errorf("create %s: %w", externalID, err)
	}
	if res.Created {
		r.logger.Info("created company", "cik", externalID, "ticker", res.Row.Ticker,
			"company_id", res.Row.ID, "placeholder", res.Row.Name.IsPlaceholder())
	}
	return res.Row, nil
}

// canonicalName asks the registry first and falls back to the hint, then to
// a placeholder.
func (r *Resolver) canonicalName(ctx context.Context, externalID string, hint Hint) models.CompanyName {
	name, err := r.names.GetCompanyName(ctx, externalID)
	if err == nil && name != "" {
		return models.Named(name)
	}
	if hint.Name != "" {
		return models.Named(hint.Name)
	}
	r.logger.Warn("company name unavailable, using placeholder", "cik", externalID, "err", err)
	return models.Placeholder(externalID)
}

// ReconcileResult summarizes a reconciliation pass.
type ReconcileResult struct {
	Checked  int `json:"checked"`
	Upgraded int `json:"upgraded"`
	Failed   int `json:"failed"`
}

// Reconcile upgrades placeholder-named companies whose canonical name is now
// available. Names that still cannot be fetched are left for a later pass.
func (r *Resolver) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var out ReconcileResult
	list, err := r.store.PlaceholderCompanies(ctx)
	if err != nil {
		return out, fmt.Errorf("list placeholders: %w", err)
	}
	for _, c := range list {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out.Checked++
		name, err := r.names.GetCompanyName(ctx, c.ExternalID)
		if err != nil || name == "" {
			out.Failed++
			r.logger.Warn("placeholder still unresolved", "cik", c.ExternalID, "err", err)
			continue
		}
		changed, err := r.store.UpgradeCompanyName(ctx, c.ID, name)
		if err != nil {
			return out, err
		}
		if changed {
			out.Upgraded++
			r.logger.Info("placeholder reconciled", "cik", c.ExternalID, "name", name)
		}
	}
	return out, nil
}
