package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"contractor-scraper/utils"
)

var (
	// ErrNavigation means a page could not be loaded within the retry budget.
	ErrNavigation = errors.New("navigation failed")
	// ErrSoftBlock means the site served an access-denied page.
	ErrSoftBlock = errors.New("soft block")
)

// State is a navigation attempt's position in the load cycle.
type State int

const (
	Idle State = iota
	Loading
	Blocked
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Blocked:
		return "blocked"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event drives a State transition.
type Event int

const (
	EventNavigate Event = iota
	EventReady
	EventSoftBlock
	EventLoadError
	EventBackoffDone
)

// Next is the navigation transition function. attempt is the 1-based number
// of the load that just produced ev. Ready and Failed are terminal.
func Next(s State, ev Event, attempt, maxRetries int) State {
	switch s {
	case Idle:
		if ev == EventNavigate {
			return Loading
		}
	case Loading:
		switch ev {
		case EventReady:
			return Ready
		case EventSoftBlock, EventLoadError:
			if attempt < maxRetries {
				return Blocked
			}
			return Failed
		}
	case Blocked:
		if ev == EventBackoffDone {
			return Loading
		}
	case Ready, Failed:
		return s
	}
	return Failed
}

// NavigatorConfig holds the timing of the load cycle.
type NavigatorConfig struct {
	MaxRetries   int
	ReadyTimeout time.Duration
	PollInterval time.Duration
	BlockBackoff [2]time.Duration
	ErrorBackoff [2]time.Duration
	SettleDelay  time.Duration
	ScrollPause  time.Duration
}

// DefaultNavigatorConfig mirrors the site's tolerated request pacing.
func DefaultNavigatorConfig() NavigatorConfig {
	return NavigatorConfig{
		MaxRetries:   3,
		ReadyTimeout: 30 * time.Second,
		PollInterval: 500 * time.Millisecond,
		BlockBackoff: [2]time.Duration{5 * time.Second, 10 * time.Second},
		ErrorBackoff: [2]time.Duration{2 * time.Second, 5 * time.Second},
		SettleDelay:  2 * time.Second,
		ScrollPause:  time.Second,
	}
}

var softBlockMarkers = []string{"Access Denied", "Forbidden"}

// IsSoftBlocked reports whether a page title is an access-denied page.
func IsSoftBlocked(title string) bool {
	for _, m := range softBlockMarkers {
		if strings.Contains(title, m) {
			return true
		}
	}
	return false
}

// Navigator loads pages on a Session with soft-block detection and
// randomized back-off.
type Navigator struct {
	session Session
	cfg     NavigatorConfig
	clock   utils.Clock
	rand    utils.Random
	logger  *utils.Logger
}

// NewNavigator builds a Navigator. clock and rnd may be nil.
func NewNavigator(session Session, cfg NavigatorConfig, clock utils.Clock, rnd utils.Random, logger *utils.Logger) *Navigator {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if rnd == nil {
		rnd = utils.NewRandom()
	}
	if logger == nil {
		logger = utils.Discard()
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &Navigator{session: session, cfg: cfg, clock: clock, rand: rnd, logger: logger}
}

// Session returns the underlying browser session.
func (n *Navigator) Session() Session { return n.session }

// Navigate loads url, retrying up to maxRetries times (the configured
// default when maxRetries < 1). It never returns an error; false means the
// page is not usable.
func (n *Navigator) Navigate(ctx context.Context, url string, maxRetries int) bool {
	return n.Load(ctx, url, maxRetries) == nil
}

// Load is Navigate with the failure cause: nil, or an error wrapping
// ErrNavigation (and ErrSoftBlock when the last attempt was blocked).
func (n *Navigator) Load(ctx context.Context, url string, maxRetries int) error {
	if maxRetries < 1 {
		maxRetries = n.cfg.MaxRetries
	}

	state := Next(Idle, EventNavigate, 0, maxRetries)
	attempt := 0
	var lastErr error

	for state == Loading {
		attempt++
		n.logger.Debug("[nav] Loading %s (attempt %d/%d)", url, attempt, maxRetries)

		ev, err := n.attempt(ctx, url)
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %s: %v", ErrNavigation, url, ctx.Err())
		}
		lastErr = err
		state = Next(state, ev, attempt, maxRetries)

		if state != Blocked {
			break
		}

		backoff := n.cfg.ErrorBackoff
		if ev == EventSoftBlock {
			backoff = n.cfg.BlockBackoff
		}
		wait := utils.Uniform(n.rand, backoff[0], backoff[1])
		n.logger.Warn("[nav] %s attempt %d/%d: %v, backing off %v", url, attempt, maxRetries, err, wait.Round(time.Millisecond))
		if err := n.clock.Sleep(ctx, wait); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrNavigation, url, err)
		}
		state = Next(state, EventBackoffDone, attempt, maxRetries)
	}

	if state != Ready {
		n.logger.Error("[nav] Giving up on %s after %d attempts: %v", url, attempt, lastErr)
		return fmt.Errorf("%w: %s after %d attempts: %w", ErrNavigation, url, attempt, lastErr)
	}

	if err := n.settle(ctx); err != nil {
		n.logger.Warn("[nav] Scroll after load failed for %s: %v", url, err)
	}
	return nil
}

// attempt performs one load and classifies its result as an Event.
func (n *Navigator) attempt(ctx context.Context, url string) (Event, error) {
	if err := n.session.Navigate(ctx, url); err != nil {
		return EventLoadError, err
	}
	if err := n.waitReady(ctx); err != nil {
		return EventLoadError, err
	}
	title, err := n.session.Title(ctx)
	if err != nil {
		return EventLoadError, err
	}
	if IsSoftBlocked(title) {
		return EventSoftBlock, fmt.Errorf("%w: title %q", ErrSoftBlock, title)
	}
	return EventReady, nil
}

// waitReady polls document.readyState until it is complete or the ready
// timeout elapses.
func (n *Navigator) waitReady(ctx context.Context) error {
	deadline := n.clock.Now().Add(n.cfg.ReadyTimeout)
	for {
		var readyState string
		err := n.session.Evaluate(ctx, `document.readyState`, &readyState)
		if err == nil && readyState == "complete" {
			return nil
		}
		if !n.clock.Now().Before(deadline) {
			if err != nil {
				return fmt.Errorf("ready state: %w", err)
			}
			return fmt.Errorf("document not ready after %v (state %q)", n.cfg.ReadyTimeout, readyState)
		}
		if err := n.clock.Sleep(ctx, n.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// settle waits for late content, then scrolls half way and to the bottom
// so lazy-loaded sections render.
func (n *Navigator) settle(ctx context.Context) error {
	if err := n.clock.Sleep(ctx, n.cfg.SettleDelay); err != nil {
		return err
	}
	for _, fraction := range []float64{0.5, 1} {
		if err := n.session.Scroll(ctx, fraction); err != nil {
			return err
		}
		if err := n.clock.Sleep(ctx, n.cfg.ScrollPause); err != nil {
			return err
		}
	}
	return nil
}

// WaitForSelector polls until selector matches an element or timeout
// elapses. It reports whether the element appeared.
func (n *Navigator) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) bool {
	script := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
	deadline := n.clock.Now().Add(timeout)
	for {
		var found bool
		if err := n.session.Evaluate(ctx, script, &found); err == nil && found {
			return true
		}
		if !n.clock.Now().Before(deadline) {
			return false
		}
		if err := n.clock.Sleep(ctx, n.cfg.PollInterval); err != nil {
			return false
		}
	}
}
