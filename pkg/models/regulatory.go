package models

import (
	"strings"
	"time"
)

// --- SEC Filings ---

// FilingType is a registry form type.
type FilingType string

const (
	Form10K  FilingType = "10-K"
	Form10KA FilingType = "10-K/A"
	Form10Q  FilingType = "10-Q"
	Form10QA FilingType = "10-Q/A"
	Form8K   FilingType = "8-K"
	Form8KA  FilingType = "8-K/A"
	FormS1   FilingType = "S-1"
	FormS1A  FilingType = "S-1/A"
	Form20F  FilingType = "20-F"
	Form20FA FilingType = "20-F/A"
	Form40F  FilingType = "40-F"
	Form6K   FilingType = "6-K"
)

// KnownFilingTypes lists the forms the pipeline accepts.
var KnownFilingTypes = []FilingType{
	Form10K, Form10KA, Form10Q, Form10QA, Form8K, Form8KA,
	FormS1, FormS1A, Form20F, Form20FA, Form40F, Form6K,
}

// ParseFilingType normalizes a form string ("10-k" -> "10-K").
func ParseFilingType(s string) FilingType {
	return FilingType(strings.ToUpper(strings.TrimSpace(s)))
}

// Known reports whether t is one of KnownFilingTypes.
func (t FilingType) Known() bool {
	for _, k := range KnownFilingTypes {
		if t == k {
			return true
		}
	}
	return false
}

// ProcessingStatus is the persisted status of a filing row.
type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusCompleted ProcessingStatus = "completed"
	StatusFailed    ProcessingStatus = "failed"
)

// FilingState is the in-flight state of one filing during a run.
type FilingState string

const (
	StateDiscovered FilingState = "discovered"
	StateFetched    FilingState = "fetched"
	StateValidated  FilingState = "validated"
	StateStored     FilingState = "stored"
	StateRejected   FilingState = "rejected"
	StateErrored    FilingState = "errored"
)

// DateLayout is the registry's filing date format.
const DateLayout = "2006-01-02"

// FilingSummary is one entry of a company's filing index. No content is attached.
type FilingSummary struct {
	ExternalID  string     `json:"external_id"`
	AccessionNo string     `json:"accession_no"` // e.g., "0001364612-24-000001"
	FormType    FilingType `json:"form_type"`
	FilingDate  string     `json:"filing_date"` // YYYY-MM-DD as reported
	DocumentURL string     `json:"document_url"`
	Description string     `json:"description,omitempty"`
}

// Date parses FilingDate; zero time if malformed.
func (s FilingSummary) Date() time.Time {
	t, err := time.Parse(DateLayout, s.FilingDate)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Filing is a fetched (and possibly persisted) filing.
type Filing struct {
	ID          uint             `json:"id"`
	CompanyID   uint             `json:"company_id"`
	AccessionNo string           `json:"accession_no"`
	FormType    FilingType       `json:"form_type"`
	FilingDate  string           `json:"filing_date"`
	SourceURL   string           `json:"source_url"`
	RawContent  string           `json:"-"`
	ContentHash string           `json:"content_hash"`
	Status      ProcessingStatus `json:"status"`
	ErrorDetail string           `json:"error_detail,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// NewFiling builds a pending filing from a summary and downloaded content.
func NewFiling(companyID uint, s FilingSummary, content, hash string) Filing {
	return Filing{
		CompanyID:   companyID,
		AccessionNo: s.AccessionNo,
		FormType:    s.FormType,
		FilingDate:  s.FilingDate,
		SourceURL:   s.DocumentURL,
		RawContent:  content,
		ContentHash: hash,
		Status:      StatusPending,
	}
}
