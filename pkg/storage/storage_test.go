package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRecordAndListFetches(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "history.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	older := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	fetches := []Fetch{
		{ReportType: "campaign", StartDate: "2026-01-01", EndDate: "2026-01-15", AdvertiserID: "500001", OutputPath: "/tmp/a.csv", Rows: 3, FetchedAt: older},
		{ReportType: "sku", StartDate: "2026-02-01", EndDate: "2026-02-10", AdvertiserID: "500001", OutputPath: "/tmp/b.csv", Rows: 120, FetchedAt: newer},
	}
	for _, f := range fetches {
		if err := db.RecordFetch(ctx, f); err != nil {
			t.Fatalf("RecordFetch: %v", err)
		}
	}

	got, err := db.ListFetches(ctx)
	if err != nil {
		t.Fatalf("ListFetches: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 fetches, got %d", len(got))
	}
	// Most recent first.
	if got[0].ReportType != "sku" || got[1].ReportType != "campaign" {
		t.Fatalf("expected newest first, got %s then %s", got[0].ReportType, got[1].ReportType)
	}
	if got[0].Rows != 120 || got[0].OutputPath != "/tmp/b.csv" {
		t.Fatalf("fetch fields not preserved: %+v", got[0])
	}
	if !got[1].FetchedAt.Equal(older) {
		t.Fatalf("fetched_at not preserved: %v", got[1].FetchedAt)
	}
}

func TestListFetchesEmpty(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "history.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	got, err := db.ListFetches(context.Background())
	if err != nil {
		t.Fatalf("ListFetches: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no fetches, got %d", len(got))
	}
}
