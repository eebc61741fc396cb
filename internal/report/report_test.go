package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pkt.systems/eyewitness2/internal/store"
	"pkt.systems/eyewitness2/schema"
)

func writeTestRun(t *testing.T) (*store.FS, string, []schema.TargetResult) {
	t.Helper()
	fs, err := store.NewFS(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new fs: %v", err)
	}
	runDir, err := fs.CreateRun("20260101_120000")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	results := []schema.TargetResult{
		{
			Index:      0,
			URL:        "https://ok.example.com",
			FinalURL:   "https://ok.example.com/",
			Status:     200,
			Title:      "Dashboard [Jenkins]",
			CapturedAt: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
			Headers:    map[string]string{"Server": "Jetty"},
			Security: []schema.HeaderFinding{
				{Name: "Content-Security-Policy", Value: "Not set"},
				{Name: "X-Frame-Options", Value: "SAMEORIGIN", Present: true},
			},
			Apps:        []schema.AppMatch{{Name: "Jenkins", Patterns: []string{"jenkins"}, Credentials: "(Jenkins) admin/password"}},
			Credentials: []string{"(Jenkins) admin/password"},
			Category:    "devops",
		},
		{
			Index: 1,
			URL:   "https://down.example.com",
			Error: "no response received",
		},
	}
	screenshots := [][]byte{[]byte("fake-png"), nil}
	for i, result := range results {
		if err := fs.WriteResult(runDir, result, screenshots[i]); err != nil {
			t.Fatalf("write result: %v", err)
		}
	}
	loaded, err := fs.LoadRun(runDir)
	if err != nil {
		t.Fatalf("load run: %v", err)
	}
	return fs, runDir, loaded
}

func TestGenerateWritesReportsAndDashboard(t *testing.T) {
	fs, runDir, results := writeTestRun(t)

	indexPath, err := Generate(fs, runDir, results, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if indexPath != filepath.Join(runDir, IndexFile) {
		t.Fatalf("unexpected index path %s", indexPath)
	}

	index, err := os.ReadFile(indexPath)
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	html := string(index)
	for _, want := range []string{
		"https://ok.example.com",
		"https://down.example.com",
		"devops",
		"report_1.html",
		"report_2.html",
		"no response received",
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("expected dashboard to contain %q", want)
		}
	}

	report1, err := os.ReadFile(filepath.Join(runDir, "report_1.html"))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	page := string(report1)
	if !strings.Contains(page, "Dashboard [Jenkins]") {
		t.Fatalf("expected title in report")
	}
	if !strings.Contains(page, "data:image/png;base64,") {
		t.Fatalf("expected inlined screenshot")
	}
	if !strings.Contains(page, "admin/password") {
		t.Fatalf("expected default credentials in report")
	}
	if !strings.Contains(page, "Not set") {
		t.Fatalf("expected absent security header rendering")
	}

	report2, err := os.ReadFile(filepath.Join(runDir, "report_2.html"))
	if err != nil {
		t.Fatalf("read failed report: %v", err)
	}
	if !strings.Contains(string(report2), "Scan failed") {
		t.Fatalf("expected error box for failed target")
	}
}

func TestGenerateEmptyRun(t *testing.T) {
	fs, err := store.NewFS(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new fs: %v", err)
	}
	runDir, err := fs.CreateRun("20260101_120000")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	indexPath, err := Generate(fs, runDir, nil, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := os.Stat(indexPath); err != nil {
		t.Fatalf("expected dashboard even for empty run: %v", err)
	}
}
