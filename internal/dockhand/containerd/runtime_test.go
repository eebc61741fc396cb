package containerd

import (
	"path/filepath"
	"testing"

	"pkt.systems/eyewitness2/internal/dockhand"
)

func TestCandidateAddresses(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/12345")
	addrs := candidateAddresses("unix:///custom/containerd.sock", "containerd")
	if len(addrs) == 0 || addrs[0] != "/custom/containerd.sock" {
		t.Fatalf("expected configured address first, got %v", addrs)
	}
	found := false
	for _, addr := range addrs {
		if addr == filepath.Join("/run/user/12345", "containerd", "containerd.sock") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected XDG_RUNTIME_DIR fallback in %v", addrs)
	}
	last := addrs[len(addrs)-1]
	if last != "/run/containerd/containerd.sock" {
		t.Fatalf("expected system socket last, got %v", addrs)
	}
}

func TestCandidateAddressesDeduplicates(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	addrs := candidateAddresses("/run/containerd/containerd.sock", "containerd")
	seen := map[string]int{}
	for _, addr := range addrs {
		seen[addr]++
	}
	if seen["/run/containerd/containerd.sock"] != 1 {
		t.Fatalf("expected deduplicated addresses, got %v", addrs)
	}
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"unix:///run/containerd/containerd.sock": "/run/containerd/containerd.sock",
		"unix:/run/containerd/containerd.sock":   "/run/containerd/containerd.sock",
		"  /run/containerd/containerd.sock ":     "/run/containerd/containerd.sock",
		"":                                       "",
	}
	for in, want := range cases {
		if got := normalizeAddress(in); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMapMounts(t *testing.T) {
	mounts := mapMounts([]dockhand.Mount{
		{Source: "/host/logs", Target: "/app/logs"},
		{Source: "/host/results", Target: "/app/results", ReadOnly: true},
	})
	if len(mounts) != 2 {
		t.Fatalf("expected 2 mounts, got %d", len(mounts))
	}
	if mounts[0].Type != "bind" || mounts[0].Destination != "/app/logs" {
		t.Fatalf("unexpected mount %+v", mounts[0])
	}
	hasOpt := func(opts []string, want string) bool {
		for _, opt := range opts {
			if opt == want {
				return true
			}
		}
		return false
	}
	if !hasOpt(mounts[0].Options, "rw") || !hasOpt(mounts[0].Options, "rbind") {
		t.Fatalf("expected rw rbind options, got %v", mounts[0].Options)
	}
	if !hasOpt(mounts[1].Options, "ro") {
		t.Fatalf("expected ro option, got %v", mounts[1].Options)
	}
}

func TestFlattenEnv(t *testing.T) {
	if out := flattenEnv(nil); out != nil {
		t.Fatalf("expected nil for empty env, got %v", out)
	}
	out := flattenEnv(map[string]string{"HOME": "/root"})
	if len(out) != 1 || out[0] != "HOME=/root" {
		t.Fatalf("unexpected env %v", out)
	}
}
