package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/seenimoa/edgarsync/internal/store"
)

func TestLoadTrackedSeedsNamedCompanies(t *testing.T) {
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	a := &app{store: st}
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "companies.yaml")
	content := "companies:\n  - {ticker: duol, category: edtech, name: \"Duolingo, Inc.\"}\n  - CHGG\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	for range 2 {
		targets, err := a.loadTracked(ctx, path)
		if err != nil {
			t.Fatalf("loadTracked: %v", err)
		}
		if len(targets) != 2 || targets[0].Ticker != "DUOL" || targets[0].Category != "edtech" || targets[1].Ticker != "CHGG" {
			t.Fatalf("targets = %+v", targets)
		}
	}

	c, err := st.NamedCompanyByTicker(ctx, "DUOL")
	if err != nil || c.Name.Value != "Duolingo, Inc." || c.ExternalID != "" {
		t.Errorf("seeded = %+v, %v", c, err)
	}
	if n, _ := st.CountCompanies(ctx); n != 1 {
		t.Errorf("companies = %d, want 1 (unnamed entries are not seeded)", n)
	}
}
