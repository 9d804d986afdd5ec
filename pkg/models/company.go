// Package models defines the core data structures used throughout edgarsync.
package models

import (
	"strings"
	"time"
)

// NameKind tags whether a company name is canonical or a generated stand-in.
type NameKind string

const (
	NameNamed       NameKind = "named"
	NamePlaceholder NameKind = "placeholder"
)

// placeholderPrefix is prepended to the external identifier for placeholder names.
const placeholderPrefix = "Company "

// CompanyName is a two-state name: either the registry's canonical name or a
// placeholder derived from the external identifier until reconciliation.
type CompanyName struct {
	Kind  NameKind `json:"kind"`
	Value string   `json:"value"`
}

// Named returns a canonical company name.
func Named(name string) CompanyName {
	return CompanyName{Kind: NameNamed, Value: strings.TrimSpace(name)}
}

// Placeholder returns the stand-in name used while the canonical name is unknown.
func Placeholder(externalID string) CompanyName {
	return CompanyName{Kind: NamePlaceholder, Value: placeholderPrefix + externalID}
}

// IsPlaceholder reports whether the name still awaits reconciliation.
func (n CompanyName) IsPlaceholder() bool { return n.Kind == NamePlaceholder }

func (n CompanyName) String() string { return n.Value }

// Company is a tracked registrant.
type Company struct {
	ID         uint        `json:"id"`
	ExternalID string      `json:"external_id,omitempty"` // CIK, zero-padded to 10 digits
	Ticker     string      `json:"ticker,omitempty"`      // e.g., "DUOL"
	Name       CompanyName `json:"name"`
	Category   string      `json:"category,omitempty"` // free-form tag, e.g., "edtech"
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// CompanyInfo is what the registry reports for a ticker lookup.
type CompanyInfo struct {
	ExternalID string `json:"external_id"`
	Ticker     string `json:"ticker"`
	Name       string `json:"name"`
}

// NormalizeTicker upper-cases and trims a ticker symbol.
func NormalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

// PadCIK pads a CIK number to 10 digits with leading zeros.
func PadCIK(cik string) string {
	cik = strings.TrimSpace(cik)
	for len(cik) < 10 {
		cik = "0" + cik
	}
	return cik
}
