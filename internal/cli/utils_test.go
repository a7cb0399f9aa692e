package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/tsunagu/internal/app"
	"github.com/hyperjump/tsunagu/internal/keyword"
	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/hyperjump/tsunagu/internal/storage"
)

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"text", "json"} {
		if f, err := ParseFormat(s); err != nil || string(f) != s {
			t.Errorf("ParseFormat(%q) = %q, %v", s, f, err)
		}
	}
	if _, err := ParseFormat("compact"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestWriteDedupeReport_Text(t *testing.T) {
	run := &models.Run{ID: "run-1", Kind: models.RunDedupe, Status: models.RunSucceeded}
	report := &models.DedupeReport{Fetched: 10, Duplicates: 2, Canonical: 8, Writes: 3, DryRun: true}
	var buf bytes.Buffer
	if err := WriteDedupeReport(&buf, run, report, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"run run-1 (dedupe): succeeded", "fetched:     10", "duplicates:  2", "dry run, nothing written"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteDedupeReport_JSON(t *testing.T) {
	run := &models.Run{ID: "run-1", Kind: models.RunDedupe, Status: models.RunFailed, Error: "boom"}
	var buf bytes.Buffer
	if err := WriteDedupeReport(&buf, run, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Run    models.Run           `json:"run"`
		Report *models.DedupeReport `json:"report"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.Run.Error != "boom" || decoded.Report != nil {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteSyncReport_ListsChangedURLs(t *testing.T) {
	report := &models.SyncReport{
		Skipped: []string{"https://tutorcruncher.com/crm/help/a/"},
		Updated: []string{"https://tutorcruncher.com/crm/help/b/"},
		Created: []string{"https://tutorcruncher.com/crm/help/c/"},
	}
	var buf bytes.Buffer
	if err := WriteSyncReport(&buf, nil, report, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "skipped 1, updated 1, created 1, orphaned 0") {
		t.Errorf("missing counts:\n%s", out)
	}
	if strings.Contains(out, "/help/a/") {
		t.Errorf("skipped URLs should not be listed:\n%s", out)
	}
	if !strings.Contains(out, "--- created ---\nhttps://tutorcruncher.com/crm/help/c/") {
		t.Errorf("missing created section:\n%s", out)
	}
	if strings.Contains(out, "orphaned ---") {
		t.Errorf("empty sections should be omitted:\n%s", out)
	}
}

func TestWriteRuns(t *testing.T) {
	started := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	finished := started.Add(1500 * time.Millisecond)
	runs := []*models.Run{{
		ID:         "run-1",
		Kind:       models.RunSync,
		Status:     models.RunSucceeded,
		StartedAt:  started,
		FinishedAt: &finished,
		Summary:    map[string]interface{}{"created": []interface{}{"a", "b"}, "dry_run": true},
	}}
	var buf bytes.Buffer
	if err := WriteRuns(&buf, runs, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "2024-03-01 09:30:00  sync    succeeded  1.5s  run-1") {
		t.Errorf("unexpected run line:\n%s", out)
	}
	if !strings.Contains(out, "created=2 dry_run=true") {
		t.Errorf("unexpected summary:\n%s", out)
	}

	buf.Reset()
	if err := WriteRuns(&buf, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("empty JSON runs: got %q", buf.String())
	}
}

func TestWriteHelpHits(t *testing.T) {
	hits := []*keyword.Hit{{URL: "https://tutorcruncher.com/crm/help/invoices/", Title: "Invoices", Score: 1.25}}
	var buf bytes.Buffer
	if err := WriteHelpHits(&buf, "invoice", hits, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, `Found 1 help pages for "invoice"`) || !strings.Contains(out, " 1. Invoices  (1.2500)") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestWriteStatus_Text(t *testing.T) {
	disk := int64(4096)
	st := &app.Status{
		Stats:          &storage.Stats{Runs: 3, Events: 5, LastRuns: map[models.RunKind]*models.Run{}},
		HelpPages:      42,
		DiskUsageBytes: &disk,
		Running:        []models.RunKind{models.RunSync},
		Intervals:      map[models.RunKind]string{models.RunDedupe: "1h0m0s"},
	}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, st, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"runs:              3", "help_pages:        42", "running:           sync", "dedupe:            1h0m0s", "sync:              disabled"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
