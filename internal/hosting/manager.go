package hosting

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Manager owns the mapping from owner id to live web-panel session and
// enforces tier-dependent expiry. Every session is eventually terminated
// and cleaned up without caller action: admin and regular sessions get a
// monitoring goroutine that polls their expiry conditions; owner sessions
// get the same loop shape but never a termination.
type Manager struct {
	mu       sync.Mutex
	sessions map[int64]*session

	publicURL string

	regularDuration time.Duration
	adminDuration   time.Duration
	ownerDuration   time.Duration
	inactivity      time.Duration

	pollRegular time.Duration
	pollAdmin   time.Duration
	pollOwner   time.Duration

	now func() time.Time

	// onTermination, when set, is invoked after a session has been removed.
	// Called outside the manager lock.
	onTermination func(ownerID int64, tier Tier, reason string, lifetime time.Duration)
}

// Options configures a Manager. Zero fields take the source system's
// defaults (15m regular / 24h admin / 1y owner, 15m inactivity).
type Options struct {
	PublicURL         string
	SessionDuration   time.Duration // Regular tier absolute expiry
	AdminDuration     time.Duration
	InactivityTimeout time.Duration

	// Poll intervals for the per-session monitors. Overridden in tests.
	PollRegular time.Duration
	PollAdmin   time.Duration
	PollOwner   time.Duration

	// Now supplies the clock; defaults to time.Now. Injected in tests to
	// simulate long spans without sleeping through them.
	Now func() time.Time

	OnTermination func(ownerID int64, tier Tier, reason string, lifetime time.Duration)
}

// NewManager creates a session manager.
func NewManager(opts Options) *Manager {
	if opts.SessionDuration <= 0 {
		opts.SessionDuration = 15 * time.Minute
	}
	if opts.AdminDuration <= 0 {
		opts.AdminDuration = 24 * time.Hour
	}
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = 15 * time.Minute
	}
	if opts.PollRegular <= 0 {
		opts.PollRegular = 30 * time.Second
	}
	if opts.PollAdmin <= 0 {
		opts.PollAdmin = time.Minute
	}
	if opts.PollOwner <= 0 {
		opts.PollOwner = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		sessions:        make(map[int64]*session),
		publicURL:       strings.TrimRight(opts.PublicURL, "/"),
		regularDuration: opts.SessionDuration,
		adminDuration:   opts.AdminDuration,
		ownerDuration:   365 * 24 * time.Hour,
		inactivity:      opts.InactivityTimeout,
		pollRegular:     opts.PollRegular,
		pollAdmin:       opts.PollAdmin,
		pollOwner:       opts.PollOwner,
		now:             opts.Now,
		onTermination:   opts.OnTermination,
	}
}

// Create issues a new session for ownerID, replacing any existing one.
// The replaced session's monitor observes the new session identity on its
// next wake and exits without terminating anything. Always succeeds.
func (m *Manager) Create(ownerID int64, displayName string, tier Tier) Grant {
	now := m.now()

	s := &session{
		ownerID:      ownerID,
		sessionID:    randomToken(16),
		username:     username(displayName, ownerID),
		password:     randomToken(12),
		tier:         tier,
		createdAt:    now,
		lastActivity: now,
	}

	switch tier {
	case TierOwner:
		s.expiresAt = now.Add(m.ownerDuration)
	case TierAdmin:
		s.expiresAt = now.Add(m.adminDuration)
	default:
		s.expiresAt = now.Add(m.regularDuration)
	}

	m.mu.Lock()
	replaced := m.sessions[ownerID] != nil
	m.sessions[ownerID] = s
	m.mu.Unlock()

	go m.monitor(s)

	log.Info().
		Int64("owner_id", ownerID).
		Str("tier", tier.String()).
		Bool("replaced", replaced).
		Time("expires_at", s.expiresAt).
		Msg("hosting session created")

	return m.grant(s)
}

// Extend pushes the session's absolute expiry later and refreshes its
// activity timestamp. Returns false if no session exists for ownerID.
// Callers are expected to skip the call for owner/admin tiers, which are
// already effectively unlimited.
func (m *Manager) Extend(ownerID int64, extra time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[ownerID]
	if !ok {
		return false
	}
	s.expiresAt = s.expiresAt.Add(extra)
	s.lastActivity = m.now()

	log.Info().
		Int64("owner_id", ownerID).
		Dur("extra", extra).
		Time("expires_at", s.expiresAt).
		Msg("hosting session extended")
	return true
}

// Touch refreshes the session's last-activity timestamp. No-op if the
// session is absent.
func (m *Manager) Touch(ownerID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[ownerID]; ok {
		s.lastActivity = m.now()
	}
}

// Status reports the session's current state, or {Active: false} if none.
func (m *Manager) Status(ownerID int64) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[ownerID]
	if !ok {
		return Status{Active: false}
	}

	remaining := s.expiresAt.Sub(m.now())
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		Active:           true,
		Tier:             s.tier.String(),
		PanelURL:         m.panelURL(s),
		Username:         s.username,
		Password:         s.password,
		CreatedAt:        s.createdAt,
		RemainingSeconds: int64(remaining.Seconds()),
	}
}

// Terminate removes the session and logs the reason. Idempotent.
func (m *Manager) Terminate(ownerID int64, reason string) {
	m.mu.Lock()
	s, ok := m.sessions[ownerID]
	if ok {
		delete(m.sessions, ownerID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	lifetime := m.now().Sub(s.createdAt)
	log.Info().
		Int64("owner_id", ownerID).
		Str("tier", s.tier.String()).
		Str("reason", reason).
		Dur("lifetime", lifetime).
		Msg("hosting session terminated")

	if m.onTermination != nil {
		m.onTermination(ownerID, s.tier, reason, lifetime)
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CountByTier returns the number of live sessions per tier.
func (m *Manager) CountByTier() map[Tier]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[Tier]int, 3)
	for _, s := range m.sessions {
		counts[s.tier]++
	}
	return counts
}

// Shutdown terminates every live session. Used on server exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	owners := make([]int64, 0, len(m.sessions))
	for id := range m.sessions {
		owners = append(owners, id)
	}
	m.mu.Unlock()

	for _, id := range owners {
		m.Terminate(id, "server shutting down")
	}
}

// monitor is the per-session watchdog. Each wake re-checks that the
// session still exists and is still the same grant (it may have been
// revoked or replaced concurrently); if not, the loop exits silently.
func (m *Manager) monitor(s *session) {
	var interval time.Duration
	switch s.tier {
	case TierOwner:
		interval = m.pollOwner
	case TierAdmin:
		interval = m.pollAdmin
	default:
		interval = m.pollRegular
	}

	for {
		time.Sleep(interval)
		if !m.check(s) {
			return
		}
	}
}

// check evaluates one monitor wake. Returns false when the loop should
// exit: the session is gone, replaced, or was just terminated here.
func (m *Manager) check(s *session) (alive bool) {
	defer func() {
		// A panic in one monitor iteration must not take the process
		// down or silently stop monitoring.
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Int64("owner_id", s.ownerID).
				Msg("session monitor iteration panicked")
			alive = true
		}
	}()

	m.mu.Lock()
	cur, ok := m.sessions[s.ownerID]
	if !ok || cur.sessionID != s.sessionID {
		m.mu.Unlock()
		return false
	}

	now := m.now()
	var reason string
	switch s.tier {
	case TierOwner:
		// Never auto-terminated.
	case TierAdmin:
		if now.After(cur.expiresAt) {
			reason = "extended session expired"
		}
	default:
		if now.After(cur.expiresAt) {
			reason = "session expired"
		} else if now.Sub(cur.lastActivity) > m.inactivity {
			reason = "inactivity timeout"
		}
	}
	m.mu.Unlock()

	if reason == "" {
		return true
	}
	m.Terminate(s.ownerID, reason)
	return false
}

func (m *Manager) grant(s *session) Grant {
	return Grant{
		OwnerID:   s.ownerID,
		SessionID: s.sessionID,
		Username:  s.username,
		Password:  s.password,
		Tier:      s.tier.String(),
		PanelURL:  m.panelURL(s),
		CreatedAt: s.createdAt,
		ExpiresAt: s.expiresAt,
	}
}

func (m *Manager) panelURL(s *session) string {
	return m.publicURL + "/panel/" + s.sessionID
}

// username derives a login name from the display name, falling back to a
// numeric form when the name has no usable characters.
func username(displayName string, ownerID int64) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return -1
		}
	}, displayName)
	if cleaned == "" {
		return "user" + strconv.FormatInt(ownerID, 10)
	}
	return cleaned
}
