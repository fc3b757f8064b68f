package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"contractor-scraper/utils"
)

// fakeSession serves a scripted sequence of page titles. Each Navigate call
// consumes one entry; an entry of "!error" makes Navigate fail.
type fakeSession struct {
	titles     []string
	navigated  []string
	readyAfter int // number of readyState polls returning "loading"
	polls      int
	scrolls    []float64
	closed     bool
	current    string
}

func (f *fakeSession) Navigate(ctx context.Context, url string) error {
	f.navigated = append(f.navigated, url)
	f.polls = 0
	if len(f.titles) == 0 {
		f.current = "Contractors"
		return nil
	}
	f.current, f.titles = f.titles[0], f.titles[1:]
	if f.current == "!error" {
		return errors.New("net::ERR_CONNECTION_RESET")
	}
	return nil
}

func (f *fakeSession) Title(ctx context.Context) (string, error) { return f.current, nil }
func (f *fakeSession) HTML(ctx context.Context) (string, error)  { return "<html></html>", nil }

func (f *fakeSession) Evaluate(ctx context.Context, script string, out any) error {
	switch v := out.(type) {
	case *string:
		f.polls++
		if f.polls > f.readyAfter {
			*v = "complete"
		} else {
			*v = "loading"
		}
	case *bool:
		*v = true
	}
	return nil
}

func (f *fakeSession) Scroll(ctx context.Context, fraction float64) error {
	f.scrolls = append(f.scrolls, fraction)
	return nil
}

func (f *fakeSession) Close() error { f.closed = true; return nil }

type fixedRandom float64

func (r fixedRandom) Float64() float64 { return float64(r) }

func newTestNavigator(s Session, clock *utils.ManualClock) *Navigator {
	return NewNavigator(s, DefaultNavigatorConfig(), clock, fixedRandom(0.5), utils.Discard())
}

func TestNextTransitions(t *testing.T) {
	tests := []struct {
		from    State
		ev      Event
		attempt int
		want    State
	}{
		{Idle, EventNavigate, 0, Loading},
		{Loading, EventReady, 1, Ready},
		{Loading, EventSoftBlock, 1, Blocked},
		{Loading, EventLoadError, 2, Blocked},
		{Loading, EventSoftBlock, 3, Failed},
		{Loading, EventLoadError, 3, Failed},
		{Blocked, EventBackoffDone, 1, Loading},
		{Ready, EventSoftBlock, 1, Ready},
		{Failed, EventNavigate, 1, Failed},
		{Idle, EventReady, 0, Failed},
	}

	for _, tt := range tests {
		got := Next(tt.from, tt.ev, tt.attempt, 3)
		if got != tt.want {
			t.Errorf("Next(%v, %d, %d) = %v; want %v", tt.from, tt.ev, tt.attempt, got, tt.want)
		}
	}
}

func TestNavigateSucceedsFirstTry(t *testing.T) {
	s := &fakeSession{readyAfter: 2}
	clock := utils.NewManualClock(time.Unix(0, 0))
	n := newTestNavigator(s, clock)

	ok := n.Navigate(context.Background(), "https://example.com/a", 3)

	require.True(t, ok)
	require.Equal(t, []string{"https://example.com/a"}, s.navigated)
	require.Equal(t, []float64{0.5, 1}, s.scrolls)
	// two ready polls, settle delay, two scroll pauses
	require.Equal(t, []time.Duration{
		500 * time.Millisecond, 500 * time.Millisecond,
		2 * time.Second, time.Second, time.Second,
	}, clock.Sleeps())
}

func TestNavigateRetriesSoftBlock(t *testing.T) {
	s := &fakeSession{titles: []string{"Access Denied", "Contractor Profile"}}
	clock := utils.NewManualClock(time.Unix(0, 0))
	n := newTestNavigator(s, clock)

	err := n.Load(context.Background(), "https://example.com/b", 3)

	require.NoError(t, err)
	require.Len(t, s.navigated, 2)
	// backoff is the midpoint of 5-10s with a fixed random of 0.5
	require.Equal(t, 7500*time.Millisecond, clock.Sleeps()[0])
}

func TestNavigateLoadErrorUsesShortBackoff(t *testing.T) {
	s := &fakeSession{titles: []string{"!error", "Home"}}
	clock := utils.NewManualClock(time.Unix(0, 0))
	n := newTestNavigator(s, clock)

	require.True(t, n.Navigate(context.Background(), "https://example.com/c", 3))
	require.Equal(t, 3500*time.Millisecond, clock.Sleeps()[0])
}

func TestNavigateExhaustsRetries(t *testing.T) {
	s := &fakeSession{titles: []string{"Forbidden", "Access Denied", "403 Forbidden"}}
	clock := utils.NewManualClock(time.Unix(0, 0))
	n := newTestNavigator(s, clock)

	err := n.Load(context.Background(), "https://example.com/d", 3)

	require.ErrorIs(t, err, ErrNavigation)
	require.ErrorIs(t, err, ErrSoftBlock)
	require.Len(t, s.navigated, 3)
	// back-off only between attempts, none after the last one
	require.Len(t, clock.Sleeps(), 2)
	require.Empty(t, s.scrolls)
}

func TestNavigateReadyTimeout(t *testing.T) {
	s := &fakeSession{readyAfter: 1 << 30}
	clock := utils.NewManualClock(time.Unix(0, 0))
	n := newTestNavigator(s, clock)

	require.False(t, n.Navigate(context.Background(), "https://example.com/slow", 1))
	require.Len(t, s.navigated, 1)
}

func TestNavigateCancelled(t *testing.T) {
	s := &fakeSession{titles: []string{"Access Denied", "Access Denied"}}
	clock := utils.NewManualClock(time.Unix(0, 0))
	n := newTestNavigator(s, clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := n.Load(ctx, "https://example.com/e", 3)
	require.ErrorIs(t, err, ErrNavigation)
	require.Len(t, s.navigated, 1)
}

func TestIsSoftBlocked(t *testing.T) {
	require.True(t, IsSoftBlocked("Access Denied"))
	require.True(t, IsSoftBlocked("403 Forbidden"))
	require.False(t, IsSoftBlocked("Preferred Exterior Corp | GAF"))
}

func TestWaitForSelector(t *testing.T) {
	s := &fakeSession{}
	n := newTestNavigator(s, utils.NewManualClock(time.Unix(0, 0)))
	require.True(t, n.WaitForSelector(context.Background(), "ul.results", time.Second))
}
