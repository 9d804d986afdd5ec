package store

import (
	"time"

	"github.com/seenimoa/edgarsync/pkg/models"
)

type companyRow struct {
	ID         uint    `gorm:"primaryKey"`
	ExternalID *string `gorm:"uniqueIndex;size:10"`
	Ticker     *string `gorm:"uniqueIndex;size:16"`
	Name       string  `gorm:"size:255;not null"`
	NameKind   string  `gorm:"index;size:16;not null"`
	Category   string  `gorm:"size:64"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (companyRow) TableName() string { return "companies" }

type filingRow struct {
	ID          uint       `gorm:"primaryKey"`
	CompanyID   uint       `gorm:"not null;index;uniqueIndex:uniq_company_accession"`
	Company     companyRow `gorm:"constraint:OnDelete:RESTRICT"`
	AccessionNo string     `gorm:"size:20;not null;uniqueIndex;uniqueIndex:uniq_company_accession"`
	FormType    string     `gorm:"index;size:16;not null"`
	FilingDate  string     `gorm:"index;size:10;not null"`
	SourceURL   string     `gorm:"size:1024"`
	RawContent  string     `gorm:"type:text"`
	ContentHash string     `gorm:"index;size:64"`
	Status      string     `gorm:"index;size:16;not null"`
	ErrorDetail string     `gorm:"type:text"`
	CreatedAt   time.Time  `gorm:"index"`
	UpdatedAt   time.Time
}

func (filingRow) TableName() string { return "filings" }

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toCompanyRow(c models.Company) companyRow {
	kind := c.Name.Kind
	if kind == "" {
		kind = models.NameNamed
	}
	return companyRow{
		ID:         c.ID,
		ExternalID: nullable(c.ExternalID),
		Ticker:     nullable(models.NormalizeTicker(c.Ticker)),
		Name:       c.Name.Value,
		NameKind:   string(kind),
		Category:   c.Category,
	}
}

func (r companyRow) model() models.Company {
	return models.Company{
		ID:         r.ID,
		ExternalID: deref(r.ExternalID),
		Ticker:     deref(r.Ticker),
		Name:       models.CompanyName{Kind: models.NameKind(r.NameKind), Value: r.Name},
		Category:   r.Category,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func toFilingRow(f models.Filing) filingRow {
	status := f.Status
	if status == "" {
		status = models.StatusPending
	}
	return filingRow{
		CompanyID:   f.CompanyID,
		AccessionNo: f.AccessionNo,
		FormType:    string(f.FormType),
		FilingDate:  f.FilingDate,
		SourceURL:   f.SourceURL,
		RawContent:  f.RawContent,
		ContentHash: f.ContentHash,
		Status:      string(status),
		ErrorDetail: f.ErrorDetail,
	}
}

func (r filingRow) model() models.Filing {
	return models.Filing{
		ID:          r.ID,
		CompanyID:   r.CompanyID,
		AccessionNo: r.AccessionNo,
		FormType:    models.FilingType(r.FormType),
		FilingDate:  r.FilingDate,
		SourceURL:   r.SourceURL,
		RawContent:  r.RawContent,
		ContentHash: r.ContentHash,
		Status:      models.ProcessingStatus(r.Status),
		ErrorDetail: r.ErrorDetail,
		CreatedAt:   r.CreatedAt,
	}
}
