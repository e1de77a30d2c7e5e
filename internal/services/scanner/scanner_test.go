package scanner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFakeModeFlagsKnownSignatures(t *testing.T) {
	client := New("", time.Second, time.Millisecond)

	report, err := client.Scan(context.Background(), "uploads/sess-1/eicar-test.mp4")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !report.Infected() {
		t.Error("eicar path should be flagged infected")
	}
	if len(report.Threats) == 0 {
		t.Error("infected report should name the threat")
	}

	report, err = client.Scan(context.Background(), "uploads/sess-2/holiday.mp4")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Infected() {
		t.Error("clean path should pass")
	}
}

func TestScanAgainstService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/scans" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			SourcePath string `json:"source_path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.SourcePath == "" {
			http.Error(w, "missing source_path", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(Report{Verdict: VerdictInfected, Threats: []string{"Trojan.Test"}})
	}))
	defer srv.Close()

	client := New(srv.URL, time.Second, time.Millisecond)
	report, err := client.Scan(context.Background(), "uploads/sess/video.mp4")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !report.Infected() || report.Threats[0] != "Trojan.Test" {
		t.Errorf("report = %+v", report)
	}
}

func TestNilReportIsNotInfected(t *testing.T) {
	var report *Report
	if report.Infected() {
		t.Error("nil report must not read as infected")
	}
}
