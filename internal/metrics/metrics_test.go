package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordScene(t *testing.T) {
	before := testutil.ToFloat64(ScenesProcessed.WithLabelValues("skipped", "no-id"))
	RecordScene("skipped", "no-id", 20*time.Millisecond)
	after := testutil.ToFloat64(ScenesProcessed.WithLabelValues("skipped", "no-id"))

	if after-before != 1 {
		t.Errorf("expected counter to increase by 1, got %v", after-before)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	tc := []struct {
		name  string
		code  int
		label string
	}{
		{name: "response", code: 503, label: "503"},
		{name: "no response", code: 0, label: "error"},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			c := HTTPRequests.WithLabelValues("whisparr", "GET", tt.label)
			before := testutil.ToFloat64(c)
			RecordHTTPRequest("whisparr", "GET", tt.code, time.Millisecond)
			if got := testutil.ToFloat64(c) - before; got != 1 {
				t.Errorf("expected %s counter +1, got %v", tt.label, got)
			}
		})
	}
}

func TestWriteTextfile(t *testing.T) {
	RecordCommand("ManualImport", "completed", time.Second)

	path := filepath.Join(t.TempDir(), "sync.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read textfile: %v", err)
	}
	if !strings.Contains(string(data), "whisparr_sync_command_duration_seconds") {
		t.Errorf("textfile missing command histogram:\n%s", data)
	}
}
