// Package store persists companies and filings in SQLite through gorm.
//
// Writes are duplicate-safe: inserts that lose a uniqueness race re-read the
// winning row and report Created=false instead of failing.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/seenimoa/edgarsync/pkg/models"
)

var (
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("store: not found")
	// ErrTickerTaken means another external identifier already owns the ticker.
	ErrTickerTaken = errors.New("store: ticker already assigned")
	// ErrExternalIDTaken means another row already carries the external identifier.
	ErrExternalIDTaken = errors.New("store: external id already assigned")
)

// InsertResult reports whether an insert created the row or found an existing one.
type InsertResult[T any] struct {
	Created bool
	Row     T
}

// Store is the relational persistence layer.
type Store struct {
	db *gorm.DB
}

// Open opens (and migrates) the database at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// One connection keeps an in-memory database alive and serializes writers.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := db.AutoMigrate(&companyRow{}, &filingRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		(err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed"))
}

func first[T any](q *gorm.DB) (T, error) {
	var row T
	err := q.First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return row, ErrNotFound
	}
	return row, err
}

// --- Companies ---

// CompanyByExternalID looks a company up by its registry identifier.
func (s *Store) CompanyByExternalID(ctx context.Context, externalID string) (models.Company, error) {
	row, err := first[companyRow](s.db.WithContext(ctx).Where("external_id = ?", externalID))
	if err != nil {
		return models.Company{}, err
	}
	return row.model(), nil
}

// CompanyByTicker looks a company up by ticker regardless of name state.
func (s *Store) CompanyByTicker(ctx context.Context, ticker string) (models.Company, error) {
	row, err := first[companyRow](s.db.WithContext(ctx).Where("ticker = ?", models.NormalizeTicker(ticker)))
	if err != nil {
		return models.Company{}, err
	}
	return row.model(), nil
}

// NamedCompanyByTicker looks a company up by ticker among rows that carry a
// canonical name.
func (s *Store) NamedCompanyByTicker(ctx context.Context, ticker string) (models.Company, error) {
	row, err := first[companyRow](s.db.WithContext(ctx).
		Where("ticker = ? AND name_kind = ?", models.NormalizeTicker(ticker), models.NameNamed))
	if err != nil {
		return models.Company{}, err
	}
	return row.model(), nil
}

// InsertOrGetCompany creates c unless a row with the same external identifier
// exists, in which case that row is returned. ErrTickerTaken is returned when
// only the ticker collides.
func (s *Store) InsertOrGetCompany(ctx context.Context, c models.Company) (InsertResult[models.Company], error) {
	if c.ExternalID == "" {
		return InsertResult[models.Company]{}, errors.New("store: company without external identifier")
	}
	var res InsertResult[models.Company]
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := toCompanyRow(c)
		row.ID = 0
		ins := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if ins.Error != nil && !isUniqueViolation(ins.Error) {
			return fmt.Errorf("insert company %s: %w", c.ExternalID, ins.Error)
		}
		if ins.Error == nil && ins.RowsAffected == 1 {
			res = InsertResult[models.Company]{Created: true, Row: row.model()}
			return nil
		}

		existing, err := first[companyRow](tx.Where("external_id = ?", c.ExternalID))
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrTickerTaken, c.Ticker)
		}
		if err != nil {
			return fmt.Errorf("re-read company %s: %w", c.ExternalID, err)
		}
		res = InsertResult[models.Company]{Row: existing.model()}
		return nil
	})
	return res, err
}

// SeedCompany records a tracked company by ticker and canonical name before
// its registry identifier is known. A row already holding the ticker is
// returned unchanged with Created=false.
func (s *Store) SeedCompany(ctx context.Context, c models.Company) (InsertResult[models.Company], error) {
	ticker := models.NormalizeTicker(c.Ticker)
	name := models.Named(c.Name.Value)
	if ticker == "" || name.Value == "" {
		return InsertResult[models.Company]{}, errors.New("store: seeded company needs a ticker and a name")
	}
	row := companyRow{
		Ticker:   &ticker,
		Name:     name.Value,
		NameKind: string(name.Kind),
		Category: c.Category,
	}
	ins := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if ins.Error != nil && !isUniqueViolation(ins.Error) {
		return InsertResult[models.Company]{}, fmt.Errorf("seed company %s: %w", ticker, ins.Error)
	}
	if ins.Error == nil && ins.RowsAffected == 1 {
		return InsertResult[models.Company]{Created: true, Row: row.model()}, nil
	}
	existing, err := s.CompanyByTicker(ctx, ticker)
	if err != nil {
		return InsertResult[models.Company]{}, fmt.Errorf("re-read company %s: %w", ticker, err)
	}
	return InsertResult[models.Company]{Row: existing}, nil
}

// AssignExternalID backfills the registry identifier on a company that has
// none. If the row already carries one, it is left unchanged. The current
// row is returned. ErrExternalIDTaken is returned when another row won the
// identifier first; callers re-read by identifier.
func (s *Store) AssignExternalID(ctx context.Context, companyID uint, externalID string) (models.Company, error) {
	var out models.Company
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upd := tx.Model(&companyRow{}).
			Where("id = ? AND external_id IS NULL", companyID).
			Update("external_id", externalID)
		if isUniqueViolation(upd.Error) {
			return fmt.Errorf("%w: %s", ErrExternalIDTaken, externalID)
		}
		if upd.Error != nil {
			return fmt.Errorf("assign external id %s: %w", externalID, upd.Error)
		}
		row, err := first[companyRow](tx.Where("id = ?", companyID))
		if err != nil {
			return err
		}
		out = row.model()
		return nil
	})
	return out, err
}

// UpgradeCompanyName moves a placeholder-named company to its canonical name.
// Rows already named are untouched; the result reports whether a row changed.
func (s *Store) UpgradeCompanyName(ctx context.Context, companyID uint, name string) (bool, error) {
	n := models.Named(name)
	if n.Value == "" {
		return false, errors.New("store: empty company name")
	}
	upd := s.db.WithContext(ctx).Model(&companyRow{}).
		Where("id = ? AND name_kind = ?", companyID, models.NamePlaceholder).
		Updates(map[string]any{"name": n.Value, "name_kind": string(n.Kind)})
	if upd.Error != nil {
		return false, fmt.Errorf("upgrade company %d: %w", companyID, upd.Error)
	}
	return upd.RowsAffected == 1, nil
}

// PlaceholderCompanies lists companies still awaiting a canonical name.
func (s *Store) PlaceholderCompanies(ctx context.Context) ([]models.Company, error) {
	var rows []companyRow
	if err := s.db.WithContext(ctx).Where("name_kind = ?", models.NamePlaceholder).Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Company, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

// CountCompanies returns the number of company rows.
func (s *Store) CountCompanies(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&companyRow{}).Count(&n).Error
	return n, err
}

// --- Filings ---

// FilingByAccession looks a filing up by its globally unique accession number.
func (s *Store) FilingByAccession(ctx context.Context, accession string) (models.Filing, error) {
	row, err := first[filingRow](s.db.WithContext(ctx).Where("accession_no = ?", accession))
	if err != nil {
		return models.Filing{}, err
	}
	return row.model(), nil
}

// StoreFiling inserts f once per accession number. A second call with the
// same accession returns the existing row with Created=false, including when
// a concurrent writer wins the race.
func (s *Store) StoreFiling(ctx context.Context, f models.Filing) (InsertResult[models.Filing], error) {
	var res InsertResult[models.Filing]
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := first[filingRow](tx.Where("accession_no = ?", f.AccessionNo))
		if err == nil {
			res = InsertResult[models.Filing]{Row: existing.model()}
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("check filing %s: %w", f.AccessionNo, err)
		}

		row := toFilingRow(f)
		ins := tx.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if ins.Error != nil && !isUniqueViolation(ins.Error) {
			return fmt.Errorf("insert filing %s: %w", f.AccessionNo, ins.Error)
		}
		if ins.Error == nil && ins.RowsAffected == 1 {
			res = InsertResult[models.Filing]{Created: true, Row: row.model()}
			return nil
		}

		existing, err = first[filingRow](tx.Where("accession_no = ?", f.AccessionNo))
		if err != nil {
			return fmt.Errorf("re-read filing %s: %w", f.AccessionNo, err)
		}
		res = InsertResult[models.Filing]{Row: existing.model()}
		return nil
	})
	return res, err
}

// FilingsForCompany lists a company's filings, newest filing date first.
// Raw content is not loaded.
func (s *Store) FilingsForCompany(ctx context.Context, companyID uint, limit int) ([]models.Filing, error) {
	q := s.db.WithContext(ctx).Omit("raw_content").
		Where("company_id = ?", companyID).
		Order("filing_date desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []filingRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Filing, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

// CountFilings returns the number of filing rows, optionally by status.
func (s *Store) CountFilings(ctx context.Context, status models.ProcessingStatus) (int64, error) {
	q := s.db.WithContext(ctx).Model(&filingRow{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}
