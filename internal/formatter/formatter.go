// package formatter renders sync outcomes as CSV rows, JSON reports and plain text summaries
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/desertthunder/whisparr-sync/internal/models"
)

var csvHeaders = []string{"scene_id", "state", "reason", "movie_id", "processed_files", "error_count", "errors", "duration_ms", "finished_at"}

// BulkReport is the JSON document written at the end of a bulk run.
type BulkReport struct {
	BatchID   string                `json:"batch_id"`
	StartedAt time.Time             `json:"started_at"`
	Finished  time.Time             `json:"finished_at"`
	Total     int                   `json:"total"`
	Succeeded int                   `json:"succeeded"`
	Skipped   int                   `json:"skipped"`
	Failed    int                   `json:"failed"`
	Outcomes  []*models.SyncOutcome `json:"outcomes"`
}

// OutcomeRecord flattens an outcome into one CSV record in [csvHeaders] order.
func OutcomeRecord(o *models.SyncOutcome) []string {
	msgs := make([]string, len(o.Errors))
	for i, e := range o.Errors {
		if e.File == models.SceneLevel {
			msgs[i] = e.Message
		} else {
			msgs[i] = e.File + ": " + e.Message
		}
	}
	movie := ""
	if o.MovieID != 0 {
		movie = strconv.Itoa(o.MovieID)
	}
	finished := ""
	if !o.FinishedAt.IsZero() {
		finished = o.FinishedAt.UTC().Format(time.RFC3339)
	}

	return []string{
		o.SceneID,
		o.Status(),
		o.Reason,
		movie,
		strconv.Itoa(o.ProcessedFiles),
		strconv.Itoa(len(o.Errors)),
		strings.Join(msgs, " | "),
		strconv.FormatInt(o.Duration().Milliseconds(), 10),
		finished,
	}
}

// OutcomesToCSV converts outcomes to CSV with a header row.
func OutcomesToCSV(outcomes []*models.SyncOutcome) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(csvHeaders); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, o := range outcomes {
		if err := writer.Write(OutcomeRecord(o)); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// AppendOutcomesCSV appends outcomes to the CSV file at path, writing the
// header only when the file is new or empty. Earlier runs stay in the file.
func AppendOutcomesCSV(path string, outcomes []*models.SyncOutcome) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat CSV file: %w", err)
	}

	writer := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := writer.Write(csvHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	for _, o := range outcomes {
		if err := writer.Write(OutcomeRecord(o)); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteJSONReport writes report to path as indented JSON.
func WriteJSONReport(report *BulkReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// OutcomeToText renders one outcome for the terminal.
func OutcomeToText(o *models.SyncOutcome) string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Scene: %s\n", o.SceneID)
	fmt.Fprintf(&buf, "State: %s", o.Status())
	if o.Reason != "" {
		fmt.Fprintf(&buf, " (%s)", o.Reason)
	}
	buf.WriteString("\n")
	if o.Detail != "" {
		fmt.Fprintf(&buf, "Detail: %s\n", o.Detail)
	}
	if o.MovieID != 0 {
		fmt.Fprintf(&buf, "Movie: %d\n", o.MovieID)
	}
	if len(o.Files) > 0 {
		fmt.Fprintf(&buf, "Files: %d processed of %d\n", o.ProcessedFiles, len(o.Files))
		for i, f := range o.Files {
			fmt.Fprintf(&buf, "%d. %s [%s]\n", i+1, f.CatalogPath, fileSummary(f))
		}
	}
	if len(o.Errors) > 0 {
		buf.WriteString("Errors:\n")
		for _, e := range o.Errors {
			file := e.File
			if file == models.SceneLevel {
				file = "scene"
			}
			fmt.Fprintf(&buf, "  - %s: %s\n", file, e.Message)
		}
	}
	return buf.String()
}

func fileSummary(f models.FileResult) string {
	var parts []string
	switch {
	case f.Moved:
		parts = append(parts, "moved")
	case f.InPlace:
		parts = append(parts, "in place")
	}
	switch {
	case f.Error != "":
		parts = append(parts, "failed")
	case f.AlreadyImported:
		parts = append(parts, "already imported")
	case f.Imported:
		parts = append(parts, "imported")
	}
	if f.Renamed {
		parts = append(parts, "renamed")
	}
	if len(parts) == 0 {
		return "untouched"
	}
	return strings.Join(parts, ", ")
}
