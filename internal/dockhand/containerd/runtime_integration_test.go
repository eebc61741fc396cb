//go:build containerd
// +build containerd

package containerd

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"pkt.systems/eyewitness2/internal/dockhand"
)

func TestRunToCompletion(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()
	name := fmt.Sprintf("eyewitness2-test-%d", time.Now().UnixNano())

	var stdout bytes.Buffer
	code, err := rt.Run(ctx, dockhand.RunSpec{
		Name:        name,
		Image:       "docker.io/library/busybox:1.36",
		Command:     []string{"sh", "-c", "echo forwarded-ok; exit 7"},
		HostNetwork: true,
		AutoRemove:  true,
		Stdout:      &stdout,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 7 {
		t.Fatalf("expected exit code 7, got %d", code)
	}
	if !bytes.Contains(stdout.Bytes(), []byte("forwarded-ok")) {
		t.Fatalf("stdout missing marker: %q", stdout.String())
	}
}

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping containerd integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rt, err := New(ctx, Config{Namespace: "eyewitness2-test"})
	if err != nil {
		t.Skipf("containerd not available: %v", err)
	}
	if _, err := rt.client.IsServing(ctx); err != nil {
		t.Skipf("containerd not serving: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}
