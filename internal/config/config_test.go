package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// ── Load / Defaults ──

func clearEnv(t *testing.T) {
	t.Helper()
	for _, e := range []string{
		"EDGARSYNC_REGISTRY_USER_AGENT", "EDGARSYNC_REDIS_PASSWORD", "EDGARSYNC_INGEST_FORMS",
	} {
		t.Setenv(e, "")
		os.Unsetenv(e)
	}
}

func TestLoadReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Registry.WWWURL != "https://www.sec.gov" {
		t.Errorf("Registry.WWWURL: got %q", cfg.Registry.WWWURL)
	}
	if cfg.Registry.DataURL != "https://data.sec.gov" {
		t.Errorf("Registry.DataURL: got %q", cfg.Registry.DataURL)
	}
	if cfg.Registry.CallsPerSecond != 8 {
		t.Errorf("Registry.CallsPerSecond: got %f, want 8", cfg.Registry.CallsPerSecond)
	}
	if cfg.Ingest.MaxFilingsPerCompany != 10 {
		t.Errorf("Ingest.MaxFilingsPerCompany: got %d, want 10", cfg.Ingest.MaxFilingsPerCompany)
	}
	if cfg.Ingest.FetchRetries != 3 || cfg.Ingest.DownloadRetries != 2 || cfg.Ingest.FlowRetries != 2 {
		t.Errorf("retries: got fetch=%d download=%d flow=%d", cfg.Ingest.FetchRetries, cfg.Ingest.DownloadRetries, cfg.Ingest.FlowRetries)
	}
	if cfg.Ingest.DownloadRetryDelaySec <= cfg.Ingest.FetchRetryDelaySec {
		t.Error("download retry delay should be longer than fetch retry delay")
	}
	if cfg.Ingest.FlowRetryDelaySec < 60 {
		t.Errorf("Ingest.FlowRetryDelaySec: got %d, want multi-minute", cfg.Ingest.FlowRetryDelaySec)
	}
	if len(cfg.Ingest.Forms) != 3 {
		t.Errorf("Ingest.Forms: got %v", cfg.Ingest.Forms)
	}
	if cfg.Ingest.Workers != 1 {
		t.Errorf("Ingest.Workers: got %d, want 1", cfg.Ingest.Workers)
	}
	if cfg.RateLimit.TTLSec != 3600 {
		t.Errorf("RateLimit.TTLSec: got %d, want 3600", cfg.RateLimit.TTLSec)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging: got %+v", cfg.Logging)
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
registry:
  user_agent: "Acme Research ops@acme-research.io"
  calls_per_second: 2
ingest:
  forms: ["10-K"]
  start_date: "2023-01-01"
storage:
  path: ":memory:"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Registry.UserAgent != "Acme Research ops@acme-research.io" {
		t.Errorf("UserAgent: got %q", cfg.Registry.UserAgent)
	}
	if cfg.Registry.CallsPerSecond != 2 {
		t.Errorf("CallsPerSecond: got %f", cfg.Registry.CallsPerSecond)
	}
	if len(cfg.Ingest.Forms) != 1 || cfg.Ingest.Forms[0] != "10-K" {
		t.Errorf("Forms: got %v", cfg.Ingest.Forms)
	}
	if cfg.Storage.Path != ":memory:" {
		t.Errorf("Storage.Path: got %q", cfg.Storage.Path)
	}
	// Defaults still apply for unset keys.
	if cfg.Ingest.MaxFilingsPerCompany != 10 {
		t.Errorf("MaxFilingsPerCompany: got %d", cfg.Ingest.MaxFilingsPerCompany)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("EDGARSYNC_REGISTRY_USER_AGENT", "Env Agent env@acme-research.io")
	t.Setenv("EDGARSYNC_INGEST_FORMS", "10-K, 8-K")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Registry.UserAgent != "Env Agent env@acme-research.io" {
		t.Errorf("UserAgent: got %q", cfg.Registry.UserAgent)
	}
	if len(cfg.Ingest.Forms) != 2 || cfg.Ingest.Forms[1] != "8-K" {
		t.Errorf("Forms: got %v", cfg.Ingest.Forms)
	}
}

// ── Validate ──

func TestValidateUserAgent(t *testing.T) {
	tests := []struct {
		name    string
		ua      string
		wantErr bool
	}{
		{"empty", "", true},
		{"whitespace", "   ", true},
		{"example domain", "Sample Company Name AdminContact@example.com", true},
		{"angle placeholder", "<your name> <email>", true},
		{"no email", "Acme Research", true},
		{"angle email placeholder", "Acme Research <email@domain>", true},
		{"valid", "Acme Research ops@acme-research.io", false},
		{"valid angle-bracketed email", "Jane Doe <jane@firm.com>", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Registry: RegistryConfig{UserAgent: tt.ua, CallsPerSecond: 8},
				Ingest:   IngestConfig{MaxFilingsPerCompany: 10},
			}
			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.Is(err, ErrConfig) {
					t.Errorf("expected ErrConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateStartDate(t *testing.T) {
	cfg := &Config{
		Registry: RegistryConfig{UserAgent: "Acme ops@acme-research.io", CallsPerSecond: 8},
		Ingest:   IngestConfig{MaxFilingsPerCompany: 10, StartDate: "03/15/2024"},
	}
	if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig for bad start date, got %v", err)
	}
}

// ── Sensitive settings ──

func TestSettingsRedacted(t *testing.T) {
	clearEnv(t)
	cfg := &Config{Registry: RegistryConfig{UserAgent: "Acme Research ops@acme-research.io"}}
	got := Settings(cfg)
	if len(got) != 2 {
		t.Fatalf("expected 2 settings, got %d", len(got))
	}
	ua := got[0]
	if ua.Name != "registry.user_agent" || ua.From != "file" {
		t.Errorf("user agent status: %+v", ua)
	}
	if ua.Display != "Acme Research o***@acme-research.io" {
		t.Errorf("Display: got %q", ua.Display)
	}
	if got[1].From != "unset" || got[1].Display != "" {
		t.Errorf("redis password status: %+v", got[1])
	}
}

func TestSettingsPasswordFullyHidden(t *testing.T) {
	clearEnv(t)
	t.Setenv("EDGARSYNC_REDIS_PASSWORD", "s3cr3t-passw0rd")
	cfg := &Config{Redis: RedisConfig{Password: "s3cr3t-passw0rd"}}
	pw := Settings(cfg)[1]
	if pw.From != "env" {
		t.Errorf("From: got %q, want env", pw.From)
	}
	if pw.Display != "********" {
		t.Errorf("Display: got %q", pw.Display)
	}
}

func TestRedactContact(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Jane Doe <jane@firm.com>", "Jane Doe <j***@firm.com>"},
		{"Acme ops@acme.io", "Acme o***@acme.io"},
		{"no mailbox here", "no mailbox here"},
		{"Odd @nobody.example", "Odd ***@nobody.example"},
	}
	for _, tt := range tests {
		if got := redactContact(tt.in); got != tt.want {
			t.Errorf("redactContact(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// ── Tracked companies ──

func TestLoadCompaniesMappingForm(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "companies.yaml")
	content := "companies:\n  duol: edtech\n  CHGG: edtech\n  coursera: \"\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	tc, err := LoadCompanies(path)
	if err != nil {
		t.Fatalf("LoadCompanies: %v", err)
	}
	want := []TrackedCompany{
		{Ticker: "DUOL", Category: "edtech"},
		{Ticker: "CHGG", Category: "edtech"},
		{Ticker: "COURSERA"},
	}
	if len(tc.Items) != len(want) {
		t.Fatalf("Items: got %+v, want %+v", tc.Items, want)
	}
	for i := range want {
		if tc.Items[i] != want[i] {
			t.Errorf("Items[%d]: got %+v, want %+v", i, tc.Items[i], want[i])
		}
	}
}

func TestLoadCompaniesListForm(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "companies.yaml")
	content := "companies:\n  - DUOL\n  - {ticker: chgg, category: edtech, name: \" Chegg, Inc. \"}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	tc, err := LoadCompanies(path)
	if err != nil {
		t.Fatalf("LoadCompanies: %v", err)
	}
	if len(tc.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(tc.Items))
	}
	if tc.Items[1].Ticker != "CHGG" || tc.Items[1].Category != "edtech" || tc.Items[1].Name != "Chegg, Inc." {
		t.Errorf("item 1: %+v", tc.Items[1])
	}
}

func TestLoadCompaniesEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "companies.yaml")
	if err := os.WriteFile(path, []byte("companies: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCompanies(path); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}
}
