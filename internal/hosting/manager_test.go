package hosting

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests simulate long spans without sleeping through them.
// Monitors still wake on their (short) real-time poll intervals; only the
// time they observe is simulated.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type capture struct {
	mu      sync.Mutex
	reasons []string
}

func (c *capture) record(_ int64, _ Tier, reason string, _ time.Duration) {
	c.mu.Lock()
	c.reasons = append(c.reasons, reason)
	c.mu.Unlock()
}

func (c *capture) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.reasons...)
}

func newTestManager(t *testing.T, clock *fakeClock, cap *capture, opts Options) *Manager {
	t.Helper()
	opts.PublicURL = "https://host.example"
	opts.PollRegular = 5 * time.Millisecond
	opts.PollAdmin = 5 * time.Millisecond
	opts.PollOwner = 5 * time.Millisecond
	opts.Now = clock.Now
	if cap != nil {
		opts.OnTermination = cap.record
	}
	m := NewManager(opts)
	t.Cleanup(m.Shutdown)
	return m
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestCreateGrant(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock, nil, Options{})

	g := m.Create(42, "Alice B", TierRegular)

	if g.OwnerID != 42 {
		t.Errorf("OwnerID = %d, want 42", g.OwnerID)
	}
	if g.SessionID == "" || g.Password == "" {
		t.Error("session id and password must be generated")
	}
	if g.Username != "aliceb" {
		t.Errorf("Username = %q, want aliceb", g.Username)
	}
	if !strings.HasPrefix(g.PanelURL, "https://host.example/panel/") {
		t.Errorf("PanelURL = %q", g.PanelURL)
	}
	if want := g.CreatedAt.Add(15 * time.Minute); !g.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %s, want %s", g.ExpiresAt, want)
	}

	st := m.Status(42)
	if !st.Active || st.Tier != "regular" {
		t.Errorf("Status = %+v", st)
	}
}

func TestUsernameFallback(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock, nil, Options{})

	g := m.Create(7, "!!!", TierRegular)
	if g.Username != "user7" {
		t.Errorf("Username = %q, want user7", g.Username)
	}
}

func TestRegularInactivityBeforeAbsoluteExpiry(t *testing.T) {
	clock := newFakeClock()
	cap := &capture{}
	m := newTestManager(t, clock, cap, Options{
		SessionDuration:   time.Hour, // absolute expiry far away
		InactivityTimeout: 15 * time.Minute,
	})

	m.Create(1, "bob", TierRegular)

	clock.Advance(16 * time.Minute)
	if !waitFor(t, 2*time.Second, func() bool { return !m.Status(1).Active }) {
		t.Fatal("idle regular session never terminated")
	}

	reasons := cap.all()
	if len(reasons) != 1 || reasons[0] != "inactivity timeout" {
		t.Errorf("termination reasons = %v, want [inactivity timeout]", reasons)
	}
}

func TestRegularAbsoluteExpiryDespiteActivity(t *testing.T) {
	clock := newFakeClock()
	cap := &capture{}
	m := newTestManager(t, clock, cap, Options{
		SessionDuration:   15 * time.Minute,
		InactivityTimeout: time.Hour,
	})

	m.Create(1, "bob", TierRegular)

	clock.Advance(16 * time.Minute)
	m.Touch(1) // recent activity does not save an absolutely-expired session

	if !waitFor(t, 2*time.Second, func() bool { return !m.Status(1).Active }) {
		t.Fatal("expired regular session never terminated")
	}
	reasons := cap.all()
	if len(reasons) != 1 || reasons[0] != "session expired" {
		t.Errorf("termination reasons = %v, want [session expired]", reasons)
	}
}

func TestTouchKeepsRegularSessionAlive(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock, nil, Options{
		SessionDuration:   time.Hour,
		InactivityTimeout: 15 * time.Minute,
	})

	m.Create(1, "bob", TierRegular)

	// Activity every 10 simulated minutes stays under the idle cutoff.
	for i := 0; i < 4; i++ {
		clock.Advance(10 * time.Minute)
		m.Touch(1)
		time.Sleep(25 * time.Millisecond) // several monitor wakes
		if !m.Status(1).Active {
			t.Fatalf("session terminated despite activity (iteration %d)", i)
		}
	}
}

func TestOwnerSessionNeverExpires(t *testing.T) {
	clock := newFakeClock()
	cap := &capture{}
	m := newTestManager(t, clock, cap, Options{})

	m.Create(100, "root", TierOwner)

	clock.Advance(10_000 * time.Hour)
	time.Sleep(100 * time.Millisecond) // many monitor wakes

	if !m.Status(100).Active {
		t.Fatal("owner session terminated")
	}
	if got := cap.all(); len(got) != 0 {
		t.Errorf("unexpected terminations: %v", got)
	}
}

func TestAdminExpiresAfter24Hours(t *testing.T) {
	clock := newFakeClock()
	cap := &capture{}
	m := newTestManager(t, clock, cap, Options{})

	m.Create(50, "ops", TierAdmin)

	// Idle time alone never terminates an admin session.
	clock.Advance(23 * time.Hour)
	time.Sleep(50 * time.Millisecond)
	if !m.Status(50).Active {
		t.Fatal("admin session terminated before its 24h expiry")
	}

	clock.Advance(2 * time.Hour)
	if !waitFor(t, 2*time.Second, func() bool { return !m.Status(50).Active }) {
		t.Fatal("admin session never terminated after expiry")
	}
	reasons := cap.all()
	if len(reasons) != 1 || reasons[0] != "extended session expired" {
		t.Errorf("termination reasons = %v, want [extended session expired]", reasons)
	}
}

func TestExtendArithmetic(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock, nil, Options{
		SessionDuration:   15 * time.Minute,
		InactivityTimeout: time.Hour,
	})

	m.Create(1, "bob", TierRegular)

	clock.Advance(14 * time.Minute)
	if !m.Extend(1, 15*time.Minute) {
		t.Fatal("Extend returned false for a live session")
	}

	// expires_at moved from +15m to +30m; at t=14m that leaves 16 minutes.
	st := m.Status(1)
	if st.RemainingSeconds != int64((16 * time.Minute).Seconds()) {
		t.Errorf("RemainingSeconds = %d, want %d", st.RemainingSeconds, int64((16*time.Minute).Seconds()))
	}

	clock.Advance(15 * time.Minute) // t=29m, one minute left
	time.Sleep(50 * time.Millisecond)
	if !m.Status(1).Active {
		t.Fatal("session terminated before extended expiry")
	}

	clock.Advance(2 * time.Minute) // t=31m, past extended expiry
	if !waitFor(t, 2*time.Second, func() bool { return !m.Status(1).Active }) {
		t.Fatal("session never terminated after extended expiry")
	}
}

func TestExtendAbsent(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock, nil, Options{})

	if m.Extend(404, 15*time.Minute) {
		t.Error("Extend returned true for a missing session")
	}
	m.Touch(404) // must not panic
}

func TestCreateReplacesExistingSession(t *testing.T) {
	clock := newFakeClock()
	cap := &capture{}
	m := newTestManager(t, clock, cap, Options{})

	g1 := m.Create(1, "bob", TierRegular)
	g2 := m.Create(1, "bob", TierRegular)

	if g1.SessionID == g2.SessionID {
		t.Fatal("replacement session reused the old session id")
	}
	if m.Count() != 1 {
		t.Errorf("Count = %d, want 1", m.Count())
	}

	// The orphaned first monitor must exit without touching the new grant.
	time.Sleep(100 * time.Millisecond)
	st := m.Status(1)
	if !st.Active {
		t.Fatal("replacement session was terminated by the stale monitor")
	}
	if !strings.HasSuffix(st.PanelURL, g2.SessionID) {
		t.Errorf("PanelURL = %q, want suffix %q", st.PanelURL, g2.SessionID)
	}
	if got := cap.all(); len(got) != 0 {
		t.Errorf("unexpected terminations: %v", got)
	}
}

func TestTerminateIdempotent(t *testing.T) {
	clock := newFakeClock()
	cap := &capture{}
	m := newTestManager(t, clock, cap, Options{})

	m.Create(1, "bob", TierRegular)
	m.Terminate(1, "revoked by operator")
	m.Terminate(1, "revoked by operator")

	if st := m.Status(1); st.Active {
		t.Error("session still active after Terminate")
	}
	if got := cap.all(); len(got) != 1 {
		t.Errorf("termination callback fired %d times, want 1", len(got))
	}
}
