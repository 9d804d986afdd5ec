package ingest

import (
	"time"

	"github.com/seenimoa/edgarsync/pkg/models"
)

// Status classifies how one company's flow ended.
type Status string

const (
	StatusOK         Status = "ok"
	StatusNoFilings  Status = "no_filings" // resolved, nothing matched the filter
	StatusUnresolved Status = "unresolved" // ticker unknown to the registry
	StatusError      Status = "error"      // a stage failed after its retries
)

// Target is one company to ingest.
type Target struct {
	Ticker   string `json:"ticker"`
	Category string `json:"category,omitempty"`
}

// FilingOutcome is the terminal state of one filing in a run.
type FilingOutcome struct {
	AccessionNo string             `json:"accession_no"`
	FormType    models.FilingType  `json:"form_type"`
	FilingDate  string             `json:"filing_date"`
	State       models.FilingState `json:"state"`
	FilingID    uint               `json:"filing_id,omitempty"`
	Created     bool               `json:"created"` // false for idempotent no-ops
	Detail      string             `json:"detail,omitempty"`
}

// CompanyResult summarizes one company's flow.
type CompanyResult struct {
	Ticker          string          `json:"ticker"`
	ExternalID      string          `json:"external_id,omitempty"`
	CompanyID       uint            `json:"company_id,omitempty"`
	Status          Status          `json:"status"`
	FilingsFound    int             `json:"filings_found"`
	FilingsStored   int             `json:"filings_stored"` // includes already-stored filings
	FilingsRejected int             `json:"filings_rejected"`
	FilingsErrored  int             `json:"filings_errored"`
	Outcomes        []FilingOutcome `json:"outcomes,omitempty"`
	Error           string          `json:"error,omitempty"`
	Attempts        int             `json:"attempts"`
	Duration        time.Duration   `json:"duration"`
}

func (r *CompanyResult) record(o FilingOutcome) {
	switch o.State {
	case models.StateStored:
		r.FilingsStored++
	case models.StateRejected:
		r.FilingsRejected++
	case models.StateErrored:
		r.FilingsErrored++
	}
	r.Outcomes = append(r.Outcomes, o)
}

// BatchResult aggregates a batch run.
type BatchResult struct {
	RunID              string          `json:"run_id"`
	StartedAt          time.Time       `json:"started_at"`
	FinishedAt         time.Time       `json:"finished_at"`
	Results            []CompanyResult `json:"results"`
	CompaniesProcessed int             `json:"companies_processed"`
	FilingsFound       int             `json:"filings_found"`
	FilingsStored      int             `json:"filings_stored"`
	FilingsRejected    int             `json:"filings_rejected"`
	Failures           int             `json:"failures"` // companies with status error or unresolved
}

func (b *BatchResult) add(r CompanyResult) {
	b.Results = append(b.Results, r)
	b.CompaniesProcessed++
	b.FilingsFound += r.FilingsFound
	b.FilingsStored += r.FilingsStored
	b.FilingsRejected += r.FilingsRejected
	if r.Status == StatusError || r.Status == StatusUnresolved {
		b.Failures++
	}
}

// EventType names an ingestion event.
type EventType string

const (
	EventBatchStarted    EventType = "batch_started"
	EventCompanyStarted  EventType = "company_started"
	EventFiling          EventType = "filing"
	EventCompanyFinished EventType = "company_finished"
	EventBatchFinished   EventType = "batch_finished"
)

// Event is emitted to the Observer as a run progresses.
type Event struct {
	Type      EventType          `json:"type"`
	RunID     string             `json:"run_id"`
	Ticker    string             `json:"ticker,omitempty"`
	Accession string             `json:"accession,omitempty"`
	State     models.FilingState `json:"state,omitempty"`
	Status    Status             `json:"status,omitempty"`
	Detail    string             `json:"detail,omitempty"`
	Time      time.Time          `json:"time"`
}

// Observer receives events. It must not block.
type Observer func(Event)
