// Package signature identifies applications and page categories from captured
// page content, using line-oriented pattern files.
//
// File format, one entry per line:
//
//	pattern1;pattern2|payload
//
// Every pattern must occur in the page content (case-insensitive) for the line
// to match. For signatures the payload is a default-credentials note, with the
// application name in a leading parenthesized group. For categories the
// payload is the category name; the first matching line wins.
package signature

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"pkt.systems/eyewitness2/schema"
	"pkt.systems/pslog"
)

// Signature fingerprints one application.
type Signature struct {
	Patterns    []string
	Credentials string
	App         string
}

// Category assigns a page category.
type Category struct {
	Patterns []string
	Name     string
}

// DB holds parsed signature and category entries.
type DB struct {
	Signatures []Signature
	Categories []Category
}

// Match is the outcome of analyzing one page.
type Match struct {
	Apps        []schema.AppMatch
	Credentials []string
	Category    string
}

// Only a leading parenthesized group names the application; parentheses later
// in the credentials note are prose.
var appNameRe = regexp.MustCompile(`^\((.*?)\)`)

// Resolve loads the signature database from dataDir, or the embedded defaults
// when dataDir is empty. The directory must contain signatures.txt and
// categories.txt.
func Resolve(dataDir string, logger pslog.Logger) (*DB, error) {
	if strings.TrimSpace(dataDir) == "" {
		return LoadEmbedded(logger)
	}
	return Load(
		filepath.Join(dataDir, "signatures.txt"),
		filepath.Join(dataDir, "categories.txt"),
		logger,
	)
}

// Load reads signature and category files from explicit paths.
func Load(signaturesPath, categoriesPath string, logger pslog.Logger) (*DB, error) {
	sigFile, err := os.Open(signaturesPath)
	if err != nil {
		return nil, fmt.Errorf("open signatures: %w", err)
	}
	defer sigFile.Close()
	catFile, err := os.Open(categoriesPath)
	if err != nil {
		return nil, fmt.Errorf("open categories: %w", err)
	}
	defer catFile.Close()
	return parse(sigFile, catFile, logger)
}

// LoadEmbedded parses the signature data compiled into the binary.
func LoadEmbedded(logger pslog.Logger) (*DB, error) {
	return parse(
		strings.NewReader(string(defaultSignatures)),
		strings.NewReader(string(defaultCategories)),
		logger,
	)
}

func parse(signatures, categories io.Reader, logger pslog.Logger) (*DB, error) {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	db := &DB{}

	if err := eachEntry(signatures, func(lineNo int, patterns []string, payload string) {
		db.Signatures = append(db.Signatures, Signature{
			Patterns:    patterns,
			Credentials: payload,
			App:         appName(patterns, payload),
		})
	}, logger, "signatures"); err != nil {
		return nil, err
	}

	if err := eachEntry(categories, func(lineNo int, patterns []string, payload string) {
		db.Categories = append(db.Categories, Category{Patterns: patterns, Name: payload})
	}, logger, "categories"); err != nil {
		return nil, err
	}

	logger.Debug("signature db loaded", "signatures", len(db.Signatures), "categories", len(db.Categories))
	return db, nil
}

func eachEntry(r io.Reader, fn func(lineNo int, patterns []string, payload string), logger pslog.Logger, kind string) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 2 {
			logger.Debug("skipping malformed line", "file", kind, "line", lineNo)
			continue
		}
		// Extra separators are tolerated; everything past the second field is
		// ignored.
		fn(lineNo, strings.Split(parts[0], ";"), strings.TrimSpace(parts[1]))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", kind, err)
	}
	return nil
}

func appName(patterns []string, credentials string) string {
	if m := appNameRe.FindStringSubmatch(credentials); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			return name
		}
	}
	if len(patterns) > 0 {
		return patterns[0]
	}
	return ""
}

// Analyze matches page content against every signature and picks the first
// matching category, falling back to title heuristics.
func (db *DB) Analyze(content, title string) Match {
	lowered := strings.ToLower(content)
	match := Match{}
	seen := make(map[string]struct{})
	for _, sig := range db.Signatures {
		if !matchAll(lowered, sig.Patterns) {
			continue
		}
		match.Apps = append(match.Apps, schema.AppMatch{
			Name:        sig.App,
			Patterns:    sig.Patterns,
			Credentials: sig.Credentials,
		})
		if _, dup := seen[sig.Credentials]; !dup {
			seen[sig.Credentials] = struct{}{}
			match.Credentials = append(match.Credentials, sig.Credentials)
		}
	}
	for _, cat := range db.Categories {
		if matchAll(lowered, cat.Patterns) {
			match.Category = cat.Name
			break
		}
	}
	if match.Category == "" {
		match.Category = titleCategory(title)
	}
	return match
}

func matchAll(loweredContent string, patterns []string) bool {
	for _, pattern := range patterns {
		if !strings.Contains(loweredContent, strings.ToLower(pattern)) {
			return false
		}
	}
	return true
}

func titleCategory(title string) string {
	switch {
	case strings.Contains(title, "403 Forbidden"), strings.Contains(title, "401 Unauthorized"):
		return "unauth"
	case strings.Contains(title, "Index of /"),
		strings.Contains(title, "Directory Listing For /"),
		strings.Contains(title, "Directory of /"):
		return "dirlist"
	case strings.Contains(title, "404 Not Found"):
		return "notfound"
	default:
		return ""
	}
}
