package signature

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeData(t *testing.T, signatures, categories string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "signatures.txt"), []byte(signatures), 0o644); err != nil {
		t.Fatalf("write signatures: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "categories.txt"), []byte(categories), 0o644); err != nil {
		t.Fatalf("write categories: %v", err)
	}
	return dir
}

func TestParseSkipsCommentsAndMalformedLines(t *testing.T) {
	dir := writeData(t, `
# comment
tomcat;manager|(Apache Tomcat) tomcat/tomcat

bad line without pipe
jboss|(JBoss) admin/admin
`, `
tomcat|highval
`)
	db, err := Resolve(dir, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(db.Signatures) != 2 {
		t.Fatalf("expected 2 signatures, got %d", len(db.Signatures))
	}
	if len(db.Categories) != 1 {
		t.Fatalf("expected 1 category, got %d", len(db.Categories))
	}
}

func TestParseToleratesExtraSeparators(t *testing.T) {
	dir := writeData(t,
		"tomcat|(Apache Tomcat) user|pass\n",
		"tomcat|highval\n")
	db, err := Resolve(dir, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(db.Signatures) != 1 {
		t.Fatalf("expected 1 signature, got %d", len(db.Signatures))
	}
	if db.Signatures[0].Credentials != "(Apache Tomcat) user" {
		t.Fatalf("expected payload up to the second separator, got %q", db.Signatures[0].Credentials)
	}
}

func TestParseTrimsPayload(t *testing.T) {
	dir := writeData(t,
		"grafana| (Grafana) admin/admin \n",
		"grafana|monitoring\n")
	db, err := Resolve(dir, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if db.Signatures[0].Credentials != "(Grafana) admin/admin" {
		t.Fatalf("expected trimmed payload, got %q", db.Signatures[0].Credentials)
	}
	if db.Signatures[0].App != "Grafana" {
		t.Fatalf("expected app name from leading parens, got %q", db.Signatures[0].App)
	}
}

func TestAnalyzeRequiresAllPatterns(t *testing.T) {
	dir := writeData(t,
		"tomcat;manager|(Apache Tomcat) tomcat/tomcat\n",
		"tomcat|highval\n")
	db, err := Resolve(dir, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	match := db.Analyze("<html>Apache Tomcat Manager application</html>", "")
	if len(match.Apps) != 1 {
		t.Fatalf("expected 1 app match, got %+v", match.Apps)
	}
	if match.Apps[0].Name != "Apache Tomcat" {
		t.Fatalf("expected app name from parens, got %q", match.Apps[0].Name)
	}
	if match.Category != "highval" {
		t.Fatalf("expected category highval, got %q", match.Category)
	}

	partial := db.Analyze("<html>Apache Tomcat welcome page</html>", "")
	if len(partial.Apps) != 0 {
		t.Fatalf("expected no app match when a pattern is absent, got %+v", partial.Apps)
	}
}

func TestAnalyzeAppNameFallsBackToFirstPattern(t *testing.T) {
	dir := writeData(t,
		"grafana;login|admin/admin\n",
		"grafana|monitoring\n")
	db, err := Resolve(dir, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	match := db.Analyze("Grafana login page", "")
	if len(match.Apps) != 1 || match.Apps[0].Name != "grafana" {
		t.Fatalf("expected fallback app name grafana, got %+v", match.Apps)
	}
}

func TestAnalyzeAppNameIgnoresTrailingParens(t *testing.T) {
	dir := writeData(t,
		"grafana|admin/admin (see vendor docs)\n",
		"grafana|monitoring\n")
	db, err := Resolve(dir, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	match := db.Analyze("Grafana login page", "")
	if len(match.Apps) != 1 || match.Apps[0].Name != "grafana" {
		t.Fatalf("expected first-pattern app name for non-leading parens, got %+v", match.Apps)
	}
}

func TestAnalyzeDedupesCredentials(t *testing.T) {
	dir := writeData(t, `
tomcat|(Apache Tomcat) tomcat/tomcat
manager|(Apache Tomcat) tomcat/tomcat
`, "tomcat|highval\n")
	db, err := Resolve(dir, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	match := db.Analyze("tomcat manager", "")
	if len(match.Apps) != 2 {
		t.Fatalf("expected 2 app matches, got %d", len(match.Apps))
	}
	if len(match.Credentials) != 1 {
		t.Fatalf("expected deduped credentials, got %+v", match.Credentials)
	}
}

func TestAnalyzeFirstCategoryWins(t *testing.T) {
	dir := writeData(t,
		"nothing|x\n", `
tomcat|highval
tomcat;manager|special
`)
	db, err := Resolve(dir, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	match := db.Analyze("tomcat manager", "")
	if match.Category != "highval" {
		t.Fatalf("expected first matching category, got %q", match.Category)
	}
}

func TestAnalyzeTitleFallbacks(t *testing.T) {
	dir := writeData(t, "nothing|x\n", "nothing|x\n")
	db, err := Resolve(dir, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	cases := []struct {
		title string
		want  string
	}{
		{"403 Forbidden", "unauth"},
		{"401 Unauthorized", "unauth"},
		{"Index of /backup", "dirlist"},
		{"Directory Listing For /files", "dirlist"},
		{"404 Not Found", "notfound"},
		{"Welcome", ""},
	}
	for _, tc := range cases {
		match := db.Analyze("plain page", tc.title)
		if match.Category != tc.want {
			t.Fatalf("title %q: expected category %q, got %q", tc.title, tc.want, match.Category)
		}
	}
}

func TestLoadEmbeddedDefaults(t *testing.T) {
	db, err := LoadEmbedded(nil)
	if err != nil {
		t.Fatalf("load embedded: %v", err)
	}
	if len(db.Signatures) == 0 || len(db.Categories) == 0 {
		t.Fatalf("expected non-empty embedded data, got %d/%d", len(db.Signatures), len(db.Categories))
	}
	match := db.Analyze("<title>Welcome</title> Apache Tomcat /manager/html", "")
	found := false
	for _, app := range match.Apps {
		if strings.Contains(app.Name, "Tomcat") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected embedded tomcat signature to match, got %+v", match.Apps)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "signatures.txt"), filepath.Join(dir, "categories.txt"), nil); err == nil {
		t.Fatalf("expected error for missing files")
	}
}
