// Package report renders the per-target HTML reports and the index dashboard
// from a stored scan run.
package report

import (
	"context"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"

	"pkt.systems/eyewitness2/internal/store"
	"pkt.systems/eyewitness2/schema"
	"pkt.systems/pslog"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// IndexFile is the dashboard filename inside a run directory.
const IndexFile = "index.html"

type targetPage struct {
	Result     schema.TargetResult
	ReportFile string
	Screenshot template.URL
}

type countEntry struct {
	Name  string
	Count int
}

type indexPage struct {
	RunDir      string
	Total       int
	Failures    int
	Categories  []countEntry
	Apps        []countEntry
	Credentials int
	Targets     []targetPage
}

// Generate writes report_<n>.html per target plus index.html into runDir and
// returns the index path. Screenshots are inlined base64 so reports remain
// self-contained.
func Generate(fs *store.FS, runDir string, results []schema.TargetResult, logger pslog.Logger) (string, error) {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	tmpl, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return "", fmt.Errorf("parse report templates: %w", err)
	}

	pages := make([]targetPage, 0, len(results))
	for _, result := range results {
		page := targetPage{
			Result:     result,
			ReportFile: fmt.Sprintf("report_%d.html", result.Index+1),
		}
		shot, err := fs.Screenshot(runDir, result)
		if err != nil {
			return "", err
		}
		if len(shot) > 0 {
			page.Screenshot = template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(shot))
		}
		pages = append(pages, page)
	}

	for _, page := range pages {
		if err := renderFile(tmpl, "report.html.tmpl", filepath.Join(runDir, page.ReportFile), page); err != nil {
			return "", err
		}
		logger.Debug("report written", "file", page.ReportFile, "url", page.Result.URL)
	}

	index := buildIndex(runDir, pages)
	indexPath := filepath.Join(runDir, IndexFile)
	if err := renderFile(tmpl, "index.html.tmpl", indexPath, index); err != nil {
		return "", err
	}
	logger.Info("report.complete", "dashboard", indexPath, "targets", index.Total, "failures", index.Failures)
	return indexPath, nil
}

func buildIndex(runDir string, pages []targetPage) indexPage {
	index := indexPage{RunDir: runDir, Total: len(pages), Targets: pages}
	categories := map[string]int{}
	apps := map[string]int{}
	for _, page := range pages {
		result := page.Result
		if result.Failed() {
			index.Failures++
			continue
		}
		if result.Category != "" {
			categories[result.Category]++
		}
		for _, app := range result.Apps {
			apps[app.Name]++
		}
		if len(result.Credentials) > 0 {
			index.Credentials++
		}
	}
	index.Categories = sortedCounts(categories)
	index.Apps = sortedCounts(apps)
	return index
}

func sortedCounts(counts map[string]int) []countEntry {
	out := make([]countEntry, 0, len(counts))
	for name, count := range counts {
		out = append(out, countEntry{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func renderFile(tmpl *template.Template, name, path string, data any) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := tmpl.ExecuteTemplate(file, name, data); err != nil {
		_ = file.Close()
		return fmt.Errorf("render %s: %w", name, err)
	}
	return file.Close()
}
