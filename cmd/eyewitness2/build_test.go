package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/eyewitness2/schema"
)

func TestLoadRequiredConfigMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.yaml")
	_, _, err := loadRequiredConfig(path)
	if err == nil {
		t.Fatalf("expected missing config error")
	}
	if !strings.Contains(err.Error(), "eyewitness2 bootstrap") {
		t.Fatalf("expected bootstrap hint, got %v", err)
	}
}

func TestResolveScannerBinaryExplicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eyewitness2")
	if err := os.WriteFile(path, []byte("bin"), 0o755); err != nil {
		t.Fatalf("write temp bin: %v", err)
	}
	got, err := resolveScannerBinary(path, "")
	if err != nil {
		t.Fatalf("resolve scanner binary: %v", err)
	}
	if got != path {
		t.Fatalf("resolveScannerBinary = %q, want %q", got, path)
	}
}

func TestResolveScannerBinaryPrefersExplicitOverConfig(t *testing.T) {
	dir := t.TempDir()
	explicit := filepath.Join(dir, "explicit")
	configured := filepath.Join(dir, "configured")
	for _, path := range []string{explicit, configured} {
		if err := os.WriteFile(path, []byte("bin"), 0o755); err != nil {
			t.Fatalf("write temp bin: %v", err)
		}
	}
	got, err := resolveScannerBinary(explicit, configured)
	if err != nil {
		t.Fatalf("resolve scanner binary: %v", err)
	}
	if got != explicit {
		t.Fatalf("resolveScannerBinary = %q, want %q", got, explicit)
	}
}

func TestResolvePackagesManifestConfiguredButMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packages.txt")
	_, err := resolvePackagesManifest(path)
	if err == nil {
		t.Fatalf("expected error for missing manifest")
	}
	if !errors.Is(err, schema.ErrManifestMissing) {
		t.Fatalf("expected ErrManifestMissing, got %v", err)
	}
	if !strings.Contains(err.Error(), path) {
		t.Fatalf("expected error to name the path, got %v", err)
	}
}

func TestResolvePackagesManifestDefault(t *testing.T) {
	data, err := resolvePackagesManifest("")
	if err != nil {
		t.Fatalf("resolvePackagesManifest: %v", err)
	}
	if !strings.Contains(string(data), "chromium") {
		t.Fatalf("expected default manifest to include chromium, got %q", string(data))
	}
}

func TestResolvePackagesManifestConfigured(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packages.txt")
	if err := os.WriteFile(path, []byte("firefox-esr\n"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	data, err := resolvePackagesManifest(path)
	if err != nil {
		t.Fatalf("resolvePackagesManifest: %v", err)
	}
	if strings.TrimSpace(string(data)) != "firefox-esr" {
		t.Fatalf("resolvePackagesManifest = %q, want firefox-esr", string(data))
	}
}

func TestResolveOutputPathDefaultsToConfigDir(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	got, err := resolveOutputPath(configPath, "", "pktsystems-eyewitness2.oci.tar")
	if err != nil {
		t.Fatalf("resolveOutputPath: %v", err)
	}
	want := filepath.Join(filepath.Dir(configPath), "containers", "pktsystems-eyewitness2.oci.tar")
	if got != want {
		t.Fatalf("resolveOutputPath = %q, want %q", got, want)
	}
}

func TestResolveOutputPathOverride(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	override := filepath.Join(t.TempDir(), "custom.oci.tar")
	got, err := resolveOutputPath(configPath, override, "ignored.oci.tar")
	if err != nil {
		t.Fatalf("resolveOutputPath override: %v", err)
	}
	if got != override {
		t.Fatalf("resolveOutputPath override = %q, want %q", got, override)
	}
}

func TestStripImageTag(t *testing.T) {
	tests := []struct {
		name  string
		image string
		want  string
	}{
		{name: "tagged", image: "docker.io/pktsystems/eyewitness2:latest", want: "docker.io/pktsystems/eyewitness2"},
		{name: "port", image: "registry:5000/repo:tag", want: "registry:5000/repo"},
		{name: "digest", image: "repo@sha256:deadbeef", want: "repo"},
		{name: "untagged", image: "pktsystems/eyewitness2", want: "pktsystems/eyewitness2"},
	}
	for _, tc := range tests {
		if got := stripImageTag(tc.image); got != tc.want {
			t.Fatalf("%s: stripImageTag(%q) = %q, want %q", tc.name, tc.image, got, tc.want)
		}
	}
}

func TestBuildTagsOverride(t *testing.T) {
	tags, err := buildTags("docker.io/pktsystems/eyewitness2:latest", "custom:tag")
	if err != nil {
		t.Fatalf("buildTags: %v", err)
	}
	if len(tags) != 1 || tags[0] != "custom:tag" {
		t.Fatalf("buildTags = %v, want [custom:tag]", tags)
	}
}

func TestBuildTagsVersionAndLatest(t *testing.T) {
	tags, err := buildTags("docker.io/pktsystems/eyewitness2:latest", "")
	if err != nil {
		t.Fatalf("buildTags: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("buildTags = %v, want two tags", tags)
	}
	if !strings.HasPrefix(tags[0], "docker.io/pktsystems/eyewitness2:") {
		t.Fatalf("version tag = %q, want docker.io/pktsystems/eyewitness2 prefix", tags[0])
	}
	if tags[1] != "docker.io/pktsystems/eyewitness2:latest" {
		t.Fatalf("latest tag = %q", tags[1])
	}
}

func TestPrepareBuildContextLayout(t *testing.T) {
	dir := t.TempDir()
	binPath := filepath.Join(dir, "eyewitness2")
	if err := os.WriteFile(binPath, []byte("bin"), 0o755); err != nil {
		t.Fatalf("write temp bin: %v", err)
	}
	contextDir, cleanup, err := prepareBuildContext(binPath, []byte("chromium\n"), "")
	if err != nil {
		t.Fatalf("prepareBuildContext: %v", err)
	}
	defer cleanup()
	for _, rel := range []string{
		filepath.Join("bin", "eyewitness2"),
		"packages.txt",
		filepath.Join("data", "signatures.txt"),
		filepath.Join("data", "categories.txt"),
	} {
		if _, err := os.Stat(filepath.Join(contextDir, rel)); err != nil {
			t.Fatalf("expected %s in build context: %v", rel, err)
		}
	}
	manifest, err := os.ReadFile(filepath.Join(contextDir, "packages.txt"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if strings.TrimSpace(string(manifest)) != "chromium" {
		t.Fatalf("manifest = %q, want chromium", string(manifest))
	}
}

func TestPrepareBuildContextUsesDataDirOverrides(t *testing.T) {
	dir := t.TempDir()
	binPath := filepath.Join(dir, "eyewitness2")
	if err := os.WriteFile(binPath, []byte("bin"), 0o755); err != nil {
		t.Fatalf("write temp bin: %v", err)
	}
	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatalf("mkdir data dir: %v", err)
	}
	custom := "customsig|creds\n"
	if err := os.WriteFile(filepath.Join(dataDir, "signatures.txt"), []byte(custom), 0o644); err != nil {
		t.Fatalf("write signatures: %v", err)
	}
	contextDir, cleanup, err := prepareBuildContext(binPath, []byte("chromium\n"), dataDir)
	if err != nil {
		t.Fatalf("prepareBuildContext: %v", err)
	}
	defer cleanup()
	got, err := os.ReadFile(filepath.Join(contextDir, "data", "signatures.txt"))
	if err != nil {
		t.Fatalf("read signatures: %v", err)
	}
	if string(got) != custom {
		t.Fatalf("signatures = %q, want %q", string(got), custom)
	}
	categories, err := os.ReadFile(filepath.Join(contextDir, "data", "categories.txt"))
	if err != nil {
		t.Fatalf("read categories: %v", err)
	}
	if len(categories) == 0 {
		t.Fatalf("expected embedded categories fallback")
	}
}

func TestEnsureStaticBinaryRejectsNonELF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eyewitness2")
	if err := os.WriteFile(path, []byte("#!/bin/sh\necho no\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	if err := ensureStaticBinary(path); err == nil {
		t.Fatalf("expected error for non-ELF file")
	}
}
