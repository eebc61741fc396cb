// Package browser drives a headless Chromium instance over CDP and captures
// page state for analysis: document response, rendered HTML, meta tags, and a
// full-page screenshot.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"pkt.systems/eyewitness2/schema"
	"pkt.systems/pslog"
)

// Options configures the shared browser instance.
type Options struct {
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	// Timeout bounds one target capture end to end.
	Timeout time.Duration
	// Settle is extra wait after the document reports complete, letting
	// late-loading content render before the screenshot.
	Settle time.Duration
}

// Capture is everything collected from one target.
type Capture struct {
	URL        string
	FinalURL   string
	Title      string
	Status     int
	Headers    map[string]string
	Meta       map[string]string
	HTML       string
	Screenshot []byte
}

// Engine owns one browser process; captures run in tabs of that browser and
// may run concurrently.
type Engine struct {
	browserCtx  context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	opts        Options
	log         pslog.Logger
}

// New launches the browser. The returned engine must be closed.
func New(ctx context.Context, opts Options, logger pslog.Logger) (*Engine, error) {
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.WindowWidth <= 0 {
		opts.WindowWidth = 1280
	}
	if opts.WindowHeight <= 0 {
		opts.WindowHeight = 800
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, cancelTab := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	logger.Debug("browser started", "window", fmt.Sprintf("%dx%d", opts.WindowWidth, opts.WindowHeight))
	return &Engine{
		browserCtx:  browserCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		opts:        opts,
		log:         logger,
	}, nil
}

// Close terminates the browser process.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.cancelTab()
	e.cancelAlloc()
}

// Capture opens a tab, navigates to the target, and collects page state.
// The document response must arrive or the capture fails with ErrNoResponse.
func (e *Engine) Capture(ctx context.Context, target string) (*Capture, error) {
	tabCtx, cancel := chromedp.NewContext(e.browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	runCtx, cancelRun := context.WithTimeout(tabCtx, e.opts.Timeout)
	defer cancelRun()

	// Track the last document response so redirects resolve to the page the
	// browser ended up on.
	var mu sync.Mutex
	var doc *network.Response
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		mu.Lock()
		doc = resp.Response
		mu.Unlock()
	})

	capture := &Capture{URL: target}
	var meta map[string]string
	err := chromedp.Run(runCtx,
		network.Enable(),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		e.waitSettled(),
		chromedp.Title(&capture.Title),
		chromedp.Location(&capture.FinalURL),
		chromedp.OuterHTML("html", &capture.HTML, chromedp.ByQuery),
		chromedp.Evaluate(metaTagsJS, &meta),
		chromedp.FullScreenshot(&capture.Screenshot, 100),
	)
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", target, err)
	}

	mu.Lock()
	response := doc
	mu.Unlock()
	if response == nil {
		return nil, fmt.Errorf("capture %s: %w", target, schema.ErrNoResponse)
	}
	capture.Status = int(response.Status)
	capture.Headers = headerMap(response.Headers)
	capture.Meta = meta
	if capture.Status >= 400 {
		e.log.Warn("target returned error status", "url", target, "status", capture.Status)
	}
	return capture, nil
}

// Probe verifies the browser is operational and reports its identity.
func (e *Engine) Probe(ctx context.Context) (string, error) {
	tabCtx, cancel := chromedp.NewContext(e.browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	runCtx, cancelRun := context.WithTimeout(tabCtx, 15*time.Second)
	defer cancelRun()

	var agent string
	err := chromedp.Run(runCtx,
		chromedp.Navigate("about:blank"),
		chromedp.Evaluate(userAgentJS, &agent),
	)
	if err != nil {
		return "", fmt.Errorf("browser probe: %w", err)
	}
	return agent, nil
}

// waitSettled polls document.readyState until complete (or the capture
// deadline), then waits the settle delay.
func (e *Engine) waitSettled() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for {
			var state string
			if err := chromedp.Evaluate(`document.readyState`, &state).Do(ctx); err != nil {
				return err
			}
			if state == "complete" {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
		if e.opts.Settle > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.opts.Settle):
			}
		}
		return nil
	})
}

func headerMap(h network.Headers) map[string]string {
	if len(h) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(h))
	for name, value := range h {
		switch v := value.(type) {
		case string:
			out[name] = v
		case []interface{}:
			parts := make([]string, 0, len(v))
			for _, p := range v {
				parts = append(parts, fmt.Sprint(p))
			}
			out[name] = strings.Join(parts, ", ")
		default:
			out[name] = fmt.Sprint(v)
		}
	}
	return out
}
