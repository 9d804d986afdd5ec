// Package validate checks fetched filings before they are persisted.
//
// Structural rules reject a filing; soft rules only produce warnings.
// Checks are pure functions of the filing and the injected clock.
package validate

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/seenimoa/edgarsync/pkg/models"
)

const (
	// MinContentLength is the structural floor; shorter bodies are stubs or error pages.
	MinContentLength = 100
	// SubstantialContentLength is the soft threshold for a real report.
	SubstantialContentLength = 1000
	// RegistryLaunchYear is the first year of electronic filings.
	RegistryLaunchYear = 1993
)

var (
	accessionRe = regexp.MustCompile(`^\d{10}-\d{2}-\d{6}$`)
	dateRe      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	hashRe      = regexp.MustCompile(`^[a-f0-9]{64}$`)
)

// financialKeywords are terms any periodic or current report should mention.
var financialKeywords = []string{
	"revenue", "income", "assets", "liabilities", "earnings", "cash flow",
	"balance sheet", "net loss", "shareholders", "stockholders", "fiscal",
	"financial statements", "securities",
}

// Report is the result of checking one filing.
type Report struct {
	Valid     bool     `json:"valid"`
	Violation string   `json:"violation,omitempty"` // first structural rule broken
	Warnings  []string `json:"warnings,omitempty"`
}

// Validator applies structural and soft checks.
type Validator struct {
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Validator using the wall clock.
func New() *Validator {
	return NewWithClock(time.Now)
}

// NewWithClock creates a Validator with an injected clock.
func NewWithClock(now func() time.Time) *Validator {
	return &Validator{now: now, logger: slog.Default().With("component", "validate")}
}

// Valid reports whether f passes every structural rule.
func (v *Validator) Valid(f models.Filing) bool {
	return v.Check(f).Valid
}

// Check runs all rules. Structural rules run in a fixed order and the first
// failure is reported; soft rules run only on structurally valid filings.
func (v *Validator) Check(f models.Filing) Report {
	if msg := v.structural(f); msg != "" {
		v.logger.Info("filing rejected", "accession", f.AccessionNo, "rule", msg)
		return Report{Violation: msg}
	}
	r := Report{Valid: true, Warnings: v.soft(f)}
	for _, w := range r.Warnings {
		v.logger.Warn("filing quality warning", "accession", f.AccessionNo, "warning", w)
	}
	return r
}

func (v *Validator) structural(f models.Filing) string {
	switch {
	case f.AccessionNo == "":
		return "missing accession number"
	case f.FormType == "":
		return "missing filing type"
	case f.FilingDate == "":
		return "missing filing date"
	case f.CompanyID == 0:
		return "missing company reference"
	case f.RawContent == "":
		return "missing raw content"
	case f.ContentHash == "":
		return "missing content hash"
	}

	if !accessionRe.MatchString(f.AccessionNo) {
		return fmt.Sprintf("invalid accession number format: %q", f.AccessionNo)
	}
	if !f.FormType.Known() {
		return fmt.Sprintf("unknown filing type: %q", f.FormType)
	}
	if !dateRe.MatchString(f.FilingDate) {
		return fmt.Sprintf("invalid filing date format: %q", f.FilingDate)
	}
	d, err := time.Parse(models.DateLayout, f.FilingDate)
	if err != nil {
		return fmt.Sprintf("invalid filing date: %q", f.FilingDate)
	}
	if d.After(v.now()) {
		return fmt.Sprintf("filing date in the future: %s", f.FilingDate)
	}
	if !hashRe.MatchString(f.ContentHash) {
		return "invalid content hash format"
	}
	if n := len([]rune(f.RawContent)); n < MinContentLength {
		return fmt.Sprintf("content too short: %d characters (minimum %d)", n, MinContentLength)
	}
	return ""
}

func (v *Validator) soft(f models.Filing) []string {
	var warnings []string
	if n := len([]rune(f.RawContent)); n < SubstantialContentLength {
		warnings = append(warnings, fmt.Sprintf("content is short: %d characters", n))
	}
	if !hasFinancialKeyword(f.RawContent) {
		warnings = append(warnings, "no financial keywords found")
	}
	if d, err := time.Parse(models.DateLayout, f.FilingDate); err == nil && d.Year() < RegistryLaunchYear {
		warnings = append(warnings, fmt.Sprintf("filing date %s predates electronic filing", f.FilingDate))
	}
	return warnings
}

// hasFinancialKeyword searches the visible text of an HTML document, or the
// raw body when it is plain text.
func hasFinancialKeyword(content string) bool {
	text := content
	if strings.Contains(content, "<") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(content)); err == nil {
			doc.Find("script, style").Remove()
			text = doc.Text()
		}
	}
	text = strings.ToLower(text)
	for _, k := range financialKeywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
