package scan

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/eyewitness2/schema"
)

func TestCollectTargetsNormalizesAndDedupes(t *testing.T) {
	got, err := CollectTargets([]string{
		"example.com",
		"https://example.com",
		"HTTP://Other.Example.com/login",
	}, "", nil)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	want := []string{
		"https://example.com",
		"http://other.example.com/login",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d targets, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %q at %d, got %q", want[i], i, got[i])
		}
	}
}

func TestCollectTargetsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	content := "# targets\nhttps://a.example.com\n\nb.example.com\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	got, err := CollectTargets(nil, path, nil)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 2 || got[0] != "https://a.example.com" || got[1] != "https://b.example.com" {
		t.Fatalf("unexpected targets %v", got)
	}
}

func TestCollectTargetsFlagsPrecedeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	if err := os.WriteFile(path, []byte("https://file.example.com\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	got, err := CollectTargets([]string{"https://flag.example.com"}, path, nil)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 2 || got[0] != "https://flag.example.com" || got[1] != "https://file.example.com" {
		t.Fatalf("unexpected targets %v", got)
	}
}

func TestCollectTargetsStdinFallback(t *testing.T) {
	stdin := strings.NewReader("https://pipe.example.com\n# comment\n")
	got, err := CollectTargets(nil, "", stdin)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 1 || got[0] != "https://pipe.example.com" {
		t.Fatalf("unexpected targets %v", got)
	}

	// Stdin is ignored once flags supplied targets.
	got, err = CollectTargets([]string{"https://flag.example.com"}, "", strings.NewReader("https://pipe.example.com\n"))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 1 || got[0] != "https://flag.example.com" {
		t.Fatalf("expected stdin skipped, got %v", got)
	}
}

func TestCollectTargetsErrors(t *testing.T) {
	if _, err := CollectTargets(nil, "", nil); !errors.Is(err, schema.ErrNoTargets) {
		t.Fatalf("expected ErrNoTargets, got %v", err)
	}
	if _, err := CollectTargets([]string{"ftp://example.com"}, "", nil); !errors.Is(err, schema.ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
	if _, err := CollectTargets(nil, filepath.Join(t.TempDir(), "missing.txt"), nil); err == nil {
		t.Fatalf("expected error for missing url file")
	}
}
