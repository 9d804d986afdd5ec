package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seenimoa/edgarsync/internal/filings"
	"github.com/seenimoa/edgarsync/internal/infra"
	"github.com/seenimoa/edgarsync/internal/registry"
	"github.com/seenimoa/edgarsync/internal/resolver"
	"github.com/seenimoa/edgarsync/internal/store"
	"github.com/seenimoa/edgarsync/internal/validate"
	"github.com/seenimoa/edgarsync/pkg/models"
)

// fakeEDGAR serves the three registry endpoints for DUOL.
type fakeEDGAR struct {
	srv           *httptest.Server
	content       string
	tickerFails   atomic.Int64 // 503s to serve before answering
	downloads     atomic.Int64
	forms         atomic.Value // string
	tickerLookups atomic.Int64
}

func newFakeEDGAR(t *testing.T, content string) *fakeEDGAR {
	t.Helper()
	fe := &fakeEDGAR{content: content}
	fe.forms.Store("10-K")
	mux := http.NewServeMux()
	mux.HandleFunc("/files/company_tickers.json", func(w http.ResponseWriter, r *http.Request) {
		fe.tickerLookups.Add(1)
		if fe.tickerFails.Load() > 0 {
			fe.tickerFails.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"0": {"cik_str": 1364612, "ticker": "DUOL", "title": "Duolingo, Inc."}}`)
	})
	mux.HandleFunc("/submissions/CIK0001364612.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"cik": "1364612", "name": "Duolingo, Inc.", "filings": {"recent": {
			"accessionNumber": ["0001364612-24-000001"],
			"filingDate": ["2024-03-15"],
			"form": [%q],
			"primaryDocument": ["duol-20231231.htm"],
			"primaryDocDescription": ["10-K"]}}}`, fe.forms.Load().(string))
	})
	mux.HandleFunc("/Archives/edgar/data/1364612/000136461224000001/duol-20231231.htm", func(w http.ResponseWriter, r *http.Request) {
		fe.downloads.Add(1)
		fmt.Fprint(w, fe.content)
	})
	fe.srv = httptest.NewServer(mux)
	t.Cleanup(fe.srv.Close)
	return fe
}

type pipeline struct {
	orch   *Orchestrator
	store  *store.Store
	edgar  *fakeEDGAR
	mu     sync.Mutex
	events []Event
}

func newPipeline(t *testing.T, content string, opts Options) *pipeline {
	t.Helper()
	fe := newFakeEDGAR(t, content)
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	client := registry.New(registry.Config{
		UserAgent: "Edgarsync Tests ops@acme-research.io",
		WWWURL:    fe.srv.URL,
		DataURL:   fe.srv.URL,
		Timeout:   5 * time.Second,
	}, infra.NewRateLimiter(1000))

	p := &pipeline{store: st, edgar: fe}
	opts.Observer = func(e Event) {
		p.mu.Lock()
		p.events = append(p.events, e)
		p.mu.Unlock()
	}
	p.orch = New(Deps{
		Registry:  client,
		Resolver:  resolver.New(client, st),
		Discovery: filings.NewDiscovery(client, true),
		Fetcher: filings.NewFetcher(client, filings.FetcherConfig{
			MaxPerCompany: 10, Concurrency: 2,
			Retry: infra.RetryPolicy{Retries: 2, Delay: time.Millisecond},
		}),
		Validator: validate.NewWithClock(func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }),
		Store:     st,
	}, opts)
	return p
}

func tenK() filings.Filter {
	f, _ := filings.NewFilter([]string{"10-K", "10-Q", "8-K"}, "")
	return f
}

func annualReport() string {
	return strings.Repeat("Total revenue grew and net income improved. ", 114)[:5000]
}

func TestIngestCompanyHappyPath(t *testing.T) {
	p := newPipeline(t, annualReport(), Options{})
	ctx := context.Background()

	res := p.orch.IngestCompany(ctx, "DUOL", tenK())
	if res.Status != StatusOK {
		t.Fatalf("status = %s (%s)", res.Status, res.Error)
	}
	if res.ExternalID != "0001364612" || res.CompanyID == 0 {
		t.Errorf("result = %+v", res)
	}
	if res.FilingsFound != 1 || res.FilingsStored != 1 || res.FilingsRejected != 0 {
		t.Errorf("found=%d stored=%d rejected=%d", res.FilingsFound, res.FilingsStored, res.FilingsRejected)
	}
	if len(res.Outcomes) != 1 || !res.Outcomes[0].Created {
		t.Fatalf("outcomes = %+v", res.Outcomes)
	}

	f, err := p.store.FilingByAccession(ctx, "0001364612-24-000001")
	if err != nil {
		t.Fatalf("filing not persisted: %v", err)
	}
	if f.Status != models.StatusCompleted || f.CompanyID != res.CompanyID || len(f.RawContent) != 5000 {
		t.Errorf("filing = status %s company %d len %d", f.Status, f.CompanyID, len(f.RawContent))
	}
	if f.ContentHash != filings.Fingerprint(annualReport()) {
		t.Error("content hash mismatch")
	}
	c, _ := p.store.CompanyByExternalID(ctx, "0001364612")
	if c.Name != models.Named("Duolingo, Inc.") || c.Ticker != "DUOL" {
		t.Errorf("company = %+v", c)
	}
	if n, _ := p.store.CountCompanies(ctx); n != 1 {
		t.Errorf("companies = %d", n)
	}
}

func TestIngestCompanyRerunIsIdempotent(t *testing.T) {
	p := newPipeline(t, annualReport(), Options{})
	ctx := context.Background()

	first := p.orch.IngestCompany(ctx, "DUOL", tenK())
	second := p.orch.IngestCompany(ctx, "DUOL", tenK())

	if second.Status != StatusOK || second.FilingsStored != 1 {
		t.Fatalf("second run = %+v", second)
	}
	if second.Outcomes[0].Created {
		t.Error("second run must be a no-op")
	}
	if second.Outcomes[0].FilingID != first.Outcomes[0].FilingID {
		t.Errorf("filing id changed: %d -> %d", first.Outcomes[0].FilingID, second.Outcomes[0].FilingID)
	}
	if second.CompanyID != first.CompanyID {
		t.Error("company id changed between runs")
	}
	if n, _ := p.store.CountFilings(ctx, ""); n != 1 {
		t.Errorf("filings = %d, want 1", n)
	}
	if d := p.edgar.downloads.Load(); d != 1 {
		t.Errorf("document downloaded %d times, want 1", d)
	}
}

func TestIngestCompanyRejectsStub(t *testing.T) {
	p := newPipeline(t, strings.Repeat("x", 50), Options{})
	ctx := context.Background()

	res := p.orch.IngestCompany(ctx, "DUOL", tenK())
	if res.Status != StatusOK {
		t.Fatalf("status = %s (%s)", res.Status, res.Error)
	}
	if res.FilingsStored != 0 || res.FilingsRejected != 1 {
		t.Errorf("stored=%d rejected=%d", res.FilingsStored, res.FilingsRejected)
	}
	f, err := p.store.FilingByAccession(ctx, "0001364612-24-000001")
	if err != nil {
		t.Fatalf("rejected filing should be recorded: %v", err)
	}
	if f.Status != models.StatusFailed || !strings.Contains(f.ErrorDetail, "content too short") {
		t.Errorf("filing = %s %q", f.Status, f.ErrorDetail)
	}

	// Rejections are not retried on later runs.
	again := p.orch.IngestCompany(ctx, "DUOL", tenK())
	if again.FilingsRejected != 1 || p.edgar.downloads.Load() != 1 {
		t.Errorf("rerun rejected=%d downloads=%d", again.FilingsRejected, p.edgar.downloads.Load())
	}
}

func TestIngestCompanyUnresolved(t *testing.T) {
	p := newPipeline(t, annualReport(), Options{})
	res := p.orch.IngestCompany(context.Background(), "ZZZZ", tenK())
	if res.Status != StatusUnresolved || res.FilingsFound != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestIngestCompanyNoFilings(t *testing.T) {
	p := newPipeline(t, annualReport(), Options{})
	p.edgar.forms.Store("4")
	res := p.orch.IngestCompany(context.Background(), "DUOL", tenK())
	if res.Status != StatusNoFilings || res.CompanyID == 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestIngestCompanyFlowRetry(t *testing.T) {
	p := newPipeline(t, annualReport(), Options{
		FetchRetry: infra.RetryPolicy{Retries: 1, Delay: time.Millisecond},
		FlowRetry:  infra.RetryPolicy{Retries: 2, Delay: time.Millisecond},
	})
	// Two stage attempts fail, so the first flow attempt gives up.
	p.edgar.tickerFails.Store(2)

	res := p.orch.IngestCompany(context.Background(), "DUOL", tenK())
	if res.Status != StatusOK || res.FilingsStored != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", res.Attempts)
	}
}

func TestIngestCompanyRetriesExhausted(t *testing.T) {
	p := newPipeline(t, annualReport(), Options{
		FetchRetry: infra.RetryPolicy{Retries: 1, Delay: time.Millisecond},
		FlowRetry:  infra.RetryPolicy{Retries: 1, Delay: time.Millisecond},
	})
	p.edgar.tickerFails.Store(100)

	res := p.orch.IngestCompany(context.Background(), "DUOL", tenK())
	if res.Status != StatusError || res.Error == "" {
		t.Fatalf("result = %+v", res)
	}
	if got := p.edgar.tickerLookups.Load(); got != 4 {
		t.Errorf("ticker lookups = %d, want 2 flow attempts x 2 stage attempts", got)
	}
}

func TestIngestBatch(t *testing.T) {
	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			p := newPipeline(t, annualReport(), Options{Workers: workers})
			targets := []Target{{Ticker: "duol", Category: "edtech"}, {Ticker: "ZZZZ"}, {Ticker: "DUOL"}}

			b := p.orch.IngestBatch(context.Background(), targets, tenK())
			if b.RunID == "" {
				t.Error("missing run id")
			}
			if b.CompaniesProcessed != 3 || len(b.Results) != 3 {
				t.Fatalf("processed = %d", b.CompaniesProcessed)
			}
			if b.Results[0].Ticker != "DUOL" || b.Results[1].Ticker != "ZZZZ" {
				t.Errorf("results out of order: %s, %s", b.Results[0].Ticker, b.Results[1].Ticker)
			}
			if b.Results[1].Status != StatusUnresolved {
				t.Errorf("unknown ticker status = %s", b.Results[1].Status)
			}
			if b.FilingsFound != 2 || b.FilingsStored != 2 || b.Failures != 1 {
				t.Errorf("totals found=%d stored=%d failures=%d", b.FilingsFound, b.FilingsStored, b.Failures)
			}
			if n, _ := p.store.CountFilings(context.Background(), ""); n != 1 {
				t.Errorf("filings = %d, want 1", n)
			}
			c, _ := p.store.CompanyByExternalID(context.Background(), "0001364612")
			if workers == 1 && c.Category != "edtech" {
				t.Errorf("category = %q", c.Category)
			}
		})
	}
}

func TestIngestEmitsFilingStates(t *testing.T) {
	p := newPipeline(t, annualReport(), Options{})
	p.orch.IngestCompany(context.Background(), "DUOL", tenK())

	p.mu.Lock()
	defer p.mu.Unlock()
	var states []models.FilingState
	for _, e := range p.events {
		if e.Type == EventFiling {
			states = append(states, e.State)
		}
	}
	want := []models.FilingState{models.StateDiscovered, models.StateFetched, models.StateValidated, models.StateStored}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Errorf("states = %v, want %v", states, want)
	}
	if p.events[0].Type != EventCompanyStarted || p.events[len(p.events)-1].Type != EventCompanyFinished {
		t.Errorf("first/last events = %s/%s", p.events[0].Type, p.events[len(p.events)-1].Type)
	}
}
