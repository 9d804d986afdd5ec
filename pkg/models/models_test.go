package models

import (
	"encoding/json"
	"testing"
)

// ── Company Tests ──

func TestCompanyNameKinds(t *testing.T) {
	n := Named("  Duolingo, Inc. ")
	if n.IsPlaceholder() {
		t.Error("Named() should not be a placeholder")
	}
	if n.String() != "Duolingo, Inc." {
		t.Errorf("Named() value: got %q", n.String())
	}

	p := Placeholder("0001364612")
	if !p.IsPlaceholder() {
		t.Error("Placeholder() should be a placeholder")
	}
	if p.String() != "Company 0001364612" {
		t.Errorf("Placeholder() value: got %q", p.String())
	}
}

func TestCompanyNameJSON(t *testing.T) {
	data, err := json.Marshal(Company{Ticker: "DUOL", Name: Placeholder("0001364612")})
	if err != nil {
		t.Fatalf("json.Marshal(Company) error: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	name, ok := decoded["name"].(map[string]any)
	if !ok {
		t.Fatalf("name: got %T", decoded["name"])
	}
	if name["kind"] != "placeholder" {
		t.Errorf("name.kind: got %v", name["kind"])
	}
	if _, ok := decoded["external_id"]; ok {
		t.Error("empty external_id should be omitted")
	}
}

func TestPadCIK(t *testing.T) {
	tests := map[string]string{
		"1364612":     "0001364612",
		" 320193 ":    "0000320193",
		"0001364612":  "0001364612",
		"12345678901": "12345678901",
	}
	for in, want := range tests {
		if got := PadCIK(in); got != want {
			t.Errorf("PadCIK(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeTicker(t *testing.T) {
	if got := NormalizeTicker(" duol "); got != "DUOL" {
		t.Errorf("NormalizeTicker: got %q", got)
	}
}

// ── Filing Tests ──

func TestParseFilingType(t *testing.T) {
	tests := []struct {
		in    string
		want  FilingType
		known bool
	}{
		{"10-k", Form10K, true},
		{" 8-K/a ", Form8KA, true},
		{"20-F", Form20F, true},
		{"DEF 14A", "DEF 14A", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got := ParseFilingType(tt.in)
		if got != tt.want {
			t.Errorf("ParseFilingType(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if got.Known() != tt.known {
			t.Errorf("%q.Known() = %v, want %v", got, got.Known(), tt.known)
		}
	}
}

func TestFilingSummaryDate(t *testing.T) {
	s := FilingSummary{FilingDate: "2024-02-28"}
	if d := s.Date(); d.Year() != 2024 || d.Month() != 2 || d.Day() != 28 {
		t.Errorf("Date(): got %v", d)
	}
	if !(FilingSummary{FilingDate: "28/02/2024"}).Date().IsZero() {
		t.Error("malformed date should parse to zero time")
	}
}

func TestNewFilingIsPending(t *testing.T) {
	s := FilingSummary{
		ExternalID:  "0001364612",
		AccessionNo: "0001364612-24-000001",
		FormType:    Form10K,
		FilingDate:  "2024-02-28",
		DocumentURL: "https://www.sec.gov/Archives/edgar/data/1364612/000136461224000001/duol-20231231.htm",
	}
	f := NewFiling(7, s, "body", "abc")
	if f.Status != StatusPending {
		t.Errorf("Status: got %q, want pending", f.Status)
	}
	if f.CompanyID != 7 || f.AccessionNo != s.AccessionNo || f.SourceURL != s.DocumentURL {
		t.Errorf("NewFiling copied fields wrong: %+v", f)
	}

	data, err := json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if _, ok := decoded["RawContent"]; ok {
		t.Error("raw content should not be serialized")
	}
}
