package registry

// --- Company Tickers ---
// company_tickers.json is a map: {"0": {cik_str, ticker, title}, ...}

type edgarTickerEntry struct {
	CIK    int64  `json:"cik_str"`
	Ticker string `json:"ticker"`
	Title  string `json:"title"`
}

// --- EDGAR Submissions (data.sec.gov/submissions) ---

type edgarSubmissionsResponse struct {
	CIK            string       `json:"cik"`
	EntityType     string       `json:"entityType"`
	SIC            string       `json:"sic"`
	SICDescription string       `json:"sicDescription"`
	Name           string       `json:"name"`
	Tickers        []string     `json:"tickers"`
	Filings        edgarFilings `json:"filings"`
}

type edgarFilings struct {
	Recent edgarFilingSet `json:"recent"`
}

// edgarFilingSet is column-oriented: index i across every slice is one filing.
type edgarFilingSet struct {
	AccessionNumber []string `json:"accessionNumber"`
	FilingDate      []string `json:"filingDate"`
	ReportDate      []string `json:"reportDate"`
	Form            []string `json:"form"`
	PrimaryDocument []string `json:"primaryDocument"`
	Description     []string `json:"primaryDocDescription"`
}

func (s edgarFilingSet) at(col []string, i int) string {
	if i < len(col) {
		return col[i]
	}
	return ""
}
