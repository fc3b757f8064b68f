package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// hideWebdriver runs before any page script on every new document.
const hideWebdriver = `Object.defineProperty(navigator, 'webdriver', { get: () => undefined });`

// Session is the browser-automation surface the retrievers depend on.
// One Session is one tab; it is reused for every page in a run.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Title(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, script string, out any) error
	Scroll(ctx context.Context, fraction float64) error
	Close() error
}

// ChromeOptions configures a ChromeSession.
type ChromeOptions struct {
	Headless        bool
	ExecPath        string
	PageLoadTimeout time.Duration
}

// ChromeSession drives a single headless Chrome tab through chromedp.
type ChromeSession struct {
	ctx         context.Context
	cancel      context.CancelFunc
	loadTimeout time.Duration
}

// NewChromeSession starts the browser and opens the tab. An error here means
// no automation session could be established at all.
func NewChromeSession(opts ChromeOptions) (*ChromeSession, error) {
	execPath := opts.ExecPath
	if execPath == "" {
		execPath = findChromeBinary()
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("accept-lang", "en-US,en;q=0.9"),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(userAgent),
	)
	if execPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(execPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)

	// Suppress chromedp log noise
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	cancel := func() {
		cancelTab()
		cancelAlloc()
	}

	// The first Run allocates the browser; later Runs on derived contexts reuse it.
	err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriver).Do(ctx)
		return err
	}))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("chromedp start (binary %q): %w", execPath, err)
	}

	timeout := opts.PageLoadTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &ChromeSession{ctx: tabCtx, cancel: cancel, loadTimeout: timeout}, nil
}

// run executes actions on the shared tab, bounded by both the caller's ctx
// and the page-load timeout.
func (s *ChromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.ctx, s.loadTimeout)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (s *ChromeSession) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("chromedp navigate %s: %w", url, err)
	}
	return nil
}

func (s *ChromeSession) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("chromedp title: %w", err)
	}
	return title, nil
}

// HTML returns the rendered document, including script-inserted content.
func (s *ChromeSession) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("chromedp outer html: %w", err)
	}
	return html, nil
}

func (s *ChromeSession) Evaluate(ctx context.Context, script string, out any) error {
	if err := s.run(ctx, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("chromedp evaluate: %w", err)
	}
	return nil
}

// Scroll moves the viewport to fraction (0..1) of the document height.
func (s *ChromeSession) Scroll(ctx context.Context, fraction float64) error {
	script := fmt.Sprintf(`window.scrollTo(0, document.body.scrollHeight * %f)`, fraction)
	return s.Evaluate(ctx, script, nil)
}

// Close shuts down the tab and the browser process. Safe to call twice.
func (s *ChromeSession) Close() error {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return nil
}

// findChromeBinary locates Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
