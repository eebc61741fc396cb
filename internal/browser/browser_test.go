package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
)

func TestHeaderMap(t *testing.T) {
	headers := network.Headers{
		"Server":          "nginx",
		"Content-Length":  float64(1234),
		"X-Multi":         []interface{}{"a", "b"},
		"X-Frame-Options": "DENY",
	}
	got := headerMap(headers)
	if got["Server"] != "nginx" {
		t.Fatalf("expected string header preserved, got %q", got["Server"])
	}
	if got["Content-Length"] != "1234" {
		t.Fatalf("expected numeric header rendered, got %q", got["Content-Length"])
	}
	if got["X-Multi"] != "a, b" {
		t.Fatalf("expected multi-value join, got %q", got["X-Multi"])
	}
	if len(headerMap(nil)) != 0 {
		t.Fatalf("expected empty map for nil headers")
	}
}

// TestEngineCapture needs a local Chromium; enable it with
// EYEWITNESS2_BROWSER_TEST=1.
func TestEngineCapture(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	if os.Getenv("EYEWITNESS2_BROWSER_TEST") == "" {
		t.Skip("set EYEWITNESS2_BROWSER_TEST=1 to run browser tests")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Server", "testsrv")
		_, _ = w.Write([]byte(`<html><head><title>Capture Probe</title>` +
			`<meta name="generator" content="probe">` +
			`<meta name="contentless"></head>` +
			`<body><h1>hello</h1></body></html>`))
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	engine, err := New(ctx, Options{Timeout: 20 * time.Second, Settle: 200 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("start engine: %v", err)
	}
	defer engine.Close()

	capture, err := engine.Capture(ctx, server.URL)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if capture.Status != http.StatusOK {
		t.Fatalf("expected status 200, got %d", capture.Status)
	}
	if capture.Title != "Capture Probe" {
		t.Fatalf("expected title, got %q", capture.Title)
	}
	if !strings.Contains(capture.HTML, "hello") {
		t.Fatalf("expected body content in HTML")
	}
	if capture.Meta["generator"] != "probe" {
		t.Fatalf("expected meta tag, got %+v", capture.Meta)
	}
	if _, ok := capture.Meta["contentless"]; ok {
		t.Fatalf("expected content-less meta tag to be skipped, got %+v", capture.Meta)
	}
	if len(capture.Screenshot) == 0 {
		t.Fatalf("expected screenshot bytes")
	}
	found := false
	for name, value := range capture.Headers {
		if strings.EqualFold(name, "X-Frame-Options") && value == "DENY" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected response headers captured, got %+v", capture.Headers)
	}
}

func TestEngineCaptureFailsOnRefusedConnection(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	if os.Getenv("EYEWITNESS2_BROWSER_TEST") == "" {
		t.Skip("set EYEWITNESS2_BROWSER_TEST=1 to run browser tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	engine, err := New(ctx, Options{Timeout: 10 * time.Second}, nil)
	if err != nil {
		t.Fatalf("start engine: %v", err)
	}
	defer engine.Close()

	if _, err := engine.Capture(ctx, "http://127.0.0.1:1"); err == nil {
		t.Fatalf("expected error for refused connection")
	}
}
