// Package cli provides output helpers for the tsunagu command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/tsunagu/internal/app"
	"github.com/hyperjump/tsunagu/internal/keyword"
	"github.com/hyperjump/tsunagu/internal/models"
)

// OutputFormat is the format of command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat validates a -output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteDedupeReport writes the outcome of a reconciliation run.
func WriteDedupeReport(w io.Writer, run *models.Run, report *models.DedupeReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{"run": run, "report": report})
	}
	writeRunHeader(w, run)
	if report == nil {
		return nil
	}
	fmt.Fprintf(w, "fetched:     %d\n", report.Fetched)
	if report.NoEmail > 0 {
		fmt.Fprintf(w, "no_email:    %d   # skipped, nothing to group by\n", report.NoEmail)
	}
	fmt.Fprintf(w, "duplicates:  %d\n", report.Duplicates)
	fmt.Fprintf(w, "canonical:   %d\n", report.Canonical)
	if report.DryRun {
		fmt.Fprintf(w, "writes:      %d   # dry run, nothing written\n", report.Writes)
	} else {
		fmt.Fprintf(w, "writes:      %d\n", report.Writes)
	}
	return nil
}

// WriteSyncReport writes the outcome of a knowledge sync run, one URL per line.
func WriteSyncReport(w io.Writer, run *models.Run, report *models.SyncReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{"run": run, "report": report})
	}
	writeRunHeader(w, run)
	if report == nil {
		return nil
	}
	fmt.Fprintf(w, "skipped %d, updated %d, created %d, orphaned %d\n",
		len(report.Skipped), len(report.Updated), len(report.Created), len(report.Orphaned))
	writeSection(w, "updated", report.Updated)
	writeSection(w, "created", report.Created)
	writeSection(w, "orphaned", report.Orphaned)
	return nil
}

func writeSection(w io.Writer, name string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n--- %s ---\n", name)
	for _, item := range items {
		fmt.Fprintln(w, item)
	}
}

func writeRunHeader(w io.Writer, run *models.Run) {
	if run == nil {
		return
	}
	fmt.Fprintf(w, "run %s (%s): %s\n", run.ID, run.Kind, run.Status)
	if run.Error != "" {
		fmt.Fprintf(w, "error: %s\n", run.Error)
	}
}

// WriteRuns writes run history, newest first.
func WriteRuns(w io.Writer, runs []*models.Run, format OutputFormat) error {
	if format == OutputJSON {
		if runs == nil {
			runs = []*models.Run{}
		}
		return writeJSON(w, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	for _, run := range runs {
		took := "-"
		if run.FinishedAt != nil {
			took = run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s  %-6s  %-9s  %s  %s\n",
			run.StartedAt.Format("2006-01-02 15:04:05"), run.Kind, run.Status, took, run.ID)
		if summary := formatSummary(run.Summary); summary != "" {
			fmt.Fprintf(w, "    %s\n", summary)
		}
		if run.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", run.Error)
		}
	}
	return nil
}

// formatSummary renders scalar summary values as sorted key=value pairs and lists as counts.
func formatSummary(summary map[string]interface{}) string {
	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		switch v := summary[k].(type) {
		case []interface{}:
			parts = append(parts, fmt.Sprintf("%s=%d", k, len(v)))
		default:
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
	}
	return strings.Join(parts, " ")
}

// WriteHelpHits writes help search results.
func WriteHelpHits(w io.Writer, query string, hits []*keyword.Hit, format OutputFormat) error {
	if format == OutputJSON {
		if hits == nil {
			hits = []*keyword.Hit{}
		}
		return writeJSON(w, map[string]interface{}{"query": query, "hits": hits})
	}
	fmt.Fprintf(w, "\nFound %d help pages for %q\n\n", len(hits), query)
	for i, hit := range hits {
		fmt.Fprintf(w, "%2d. %s  (%.4f)\n    %s\n", i+1, hit.Title, hit.Score, hit.URL)
	}
	return nil
}

// WriteStatus writes the service status.
func WriteStatus(w io.Writer, st *app.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	if st.Stats != nil {
		fmt.Fprintf(w, "runs:              %d   # recorded job runs\n", st.Runs)
		fmt.Fprintf(w, "webhook_events:    %d   # handled callbacks\n", st.Events)
	}
	fmt.Fprintf(w, "help_pages:        %d   # pages in the help index\n", st.HelpPages)
	if st.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:  %d   # database + help index on disk\n", *st.DiskUsageBytes)
	}
	running := "none"
	if len(st.Running) > 0 {
		names := make([]string, len(st.Running))
		for i, k := range st.Running {
			names[i] = string(k)
		}
		running = strings.Join(names, ", ")
	}
	fmt.Fprintf(w, "running:           %s\n", running)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "# schedule")
	for _, kind := range []models.RunKind{models.RunDedupe, models.RunSync} {
		interval, ok := st.Intervals[kind]
		if !ok {
			interval = "disabled"
		}
		fmt.Fprintf(w, "%-18s %s\n", string(kind)+":", interval)
		if st.Stats != nil {
			if last := st.LastRuns[kind]; last != nil {
				fmt.Fprintf(w, "  last run:        %s %s\n", last.StartedAt.Format("2006-01-02 15:04:05"), last.Status)
			}
		}
	}
	return nil
}
