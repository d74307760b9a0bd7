package services

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/dropwire/internal/storage"
	apperrors "github.com/charlesng35/dropwire/pkg/errors"
	"github.com/charlesng35/dropwire/pkg/logger"
	"github.com/charlesng35/dropwire/pkg/metrics"
)

// ManagerConfig carries the admission and lifecycle limits for the session
// registry. Negative limits mean unlimited.
type ManagerConfig struct {
	MaxActiveSessions      int
	MaxSessionStorageBytes int64
	UnusedGrace            time.Duration
	ActiveGrace            time.Duration
}

type clientSlot struct {
	token     string
	channelID string
	notifier  Notifier
	connected bool
	joinedAt  time.Time
}

// session is the central aggregate, keyed by pairing code. All fields are
// guarded by mu. Lock order is always manager mutex before session mutex.
type session struct {
	mu sync.Mutex

	code         string
	createdAt    time.Time
	lastActivity time.Time
	hasActivity  bool
	clients      map[string]*clientSlot
	history      []Message
	storageUsed  int64
	lastStamp    int64
	cleanup      *time.Timer
	removed      bool
}

func (s *session) connectedCountLocked() int {
	n := 0
	for _, slot := range s.clients {
		if slot.connected {
			n++
		}
	}
	return n
}

func (s *session) cancelCleanupLocked() {
	if s.cleanup != nil {
		s.cleanup.Stop()
		s.cleanup = nil
	}
}

func (s *session) notifyConnectedLocked(event string, payload any) {
	for _, slot := range s.clients {
		if slot.connected && slot.notifier != nil {
			slot.notifier.Notify(event, payload)
		}
	}
}

// SessionManager owns the registry of live pairing sessions: admission,
// membership, history fan-out, storage accounting, and tiered expiry.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*session

	store   *storage.Backend
	cfg     ManagerConfig
	timeNow func() time.Time
	log     *zap.Logger
}

// NewSessionManager constructs the registry once the storage backend is
// supplied.
func NewSessionManager(store *storage.Backend, cfg ManagerConfig) (*SessionManager, error) {
	if store == nil {
		return nil, errors.New("session manager: storage backend is required")
	}
	if cfg.UnusedGrace <= 0 {
		cfg.UnusedGrace = time.Minute
	}
	if cfg.ActiveGrace <= 0 {
		cfg.ActiveGrace = 20 * time.Minute
	}

	return &SessionManager{
		sessions: make(map[string]*session),
		store:    store,
		cfg:      cfg,
		timeNow:  time.Now,
		log:      logger.WithModule("sessions"),
	}, nil
}

// CreateSession allocates a fresh pairing code and registers an empty
// session, pre-creating its storage tree. The unused-grace timer starts
// immediately so codes that are never joined expire quickly.
func (m *SessionManager) CreateSession() (string, error) {
	m.mu.Lock()

	if m.cfg.MaxActiveSessions >= 0 && len(m.sessions) >= m.cfg.MaxActiveSessions {
		m.mu.Unlock()
		return "", apperrors.ErrSessionCap
	}

	code, err := GeneratePairingCode(func(candidate string) bool {
		_, live := m.sessions[candidate]
		return live
	})
	if err != nil {
		m.mu.Unlock()
		return "", err
	}

	now := m.timeNow()
	s := &session{
		code:         code,
		createdAt:    now,
		lastActivity: now,
		clients:      make(map[string]*clientSlot),
	}
	s.cleanup = time.AfterFunc(m.cfg.UnusedGrace, func() { m.expire(code, "unused") })
	m.sessions[code] = s
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	if err := m.store.CreateSessionTree(code); err != nil {
		m.log.Warn("failed to pre-create session tree", zap.String("code", code), zap.Error(err))
	}

	m.log.Info("session created", zap.String("code", code))
	return code, nil
}

// JoinResult reports the outcome of an admission.
type JoinResult struct {
	Token          string
	History        []Message
	Reconnected    bool
	ConnectedCount int
}

// Join admits a client into a session, or merges a reconnecting client back
// into its prior slot when it presents its stored token. The history snapshot
// and any membership events are enqueued to notifiers inside the session
// critical section, which is what keeps the snapshot ordered before any live
// message.
func (m *SessionManager) Join(code, clientToken, channelID string, notifier Notifier) (JoinResult, error) {
	s := m.lookup(code)
	if s == nil {
		return JoinResult{}, apperrors.ErrInvalidCode
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return JoinResult{}, apperrors.ErrInvalidCode
	}

	if clientToken != "" {
		if slot, ok := s.clients[clientToken]; ok {
			slot.connected = true
			slot.channelID = channelID
			slot.notifier = notifier
			s.cancelCleanupLocked()

			result := JoinResult{
				Token:          clientToken,
				History:        snapshotHistory(s.history),
				Reconnected:    true,
				ConnectedCount: s.connectedCountLocked(),
			}
			m.deliverJoinLocked(s, notifier, result)
			return result, nil
		}
	}

	// The two-count check and the insert share this critical section, so
	// concurrent joins cannot both land in a third slot.
	if s.connectedCountLocked() >= 2 || len(s.clients) >= 2 {
		return JoinResult{}, apperrors.ErrSessionFull
	}

	token := uuid.NewString()
	s.clients[token] = &clientSlot{
		token:     token,
		channelID: channelID,
		notifier:  notifier,
		connected: true,
		joinedAt:  m.timeNow(),
	}
	s.cancelCleanupLocked()

	result := JoinResult{
		Token:          token,
		History:        snapshotHistory(s.history),
		ConnectedCount: s.connectedCountLocked(),
	}
	m.deliverJoinLocked(s, notifier, result)
	return result, nil
}

func (m *SessionManager) deliverJoinLocked(s *session, notifier Notifier, result JoinResult) {
	if notifier != nil {
		notifier.Notify(EventSessionJoined, map[string]any{
			"clientToken": result.Token,
			"history":     result.History,
		})
	}
	if result.ConnectedCount == 2 {
		s.notifyConnectedLocked(EventUserConnected, map[string]any{})
	}
}

// HandleDisconnect marks the client owning the channel as disconnected and
// schedules the tiered cleanup timer once the session has no connected
// clients left. A stale disconnect from a superseded connection is ignored.
func (m *SessionManager) HandleDisconnect(code, channelID string) {
	s := m.lookup(code)
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return
	}

	var owner *clientSlot
	for _, slot := range s.clients {
		if slot.channelID == channelID && slot.connected {
			owner = slot
			break
		}
	}
	if owner == nil {
		return
	}

	owner.connected = false
	s.notifyConnectedLocked(EventUserDisconnected, map[string]any{})

	if s.connectedCountLocked() == 0 {
		m.scheduleCleanupLocked(s)
	}
}

// AppendMessage validates membership, stamps the message with the sender and
// a per-session monotonic millisecond timestamp, appends it to history, and
// fans it out to every connected member including the sender.
func (m *SessionManager) AppendMessage(code, clientToken string, msg Message) (Message, error) {
	s := m.lookup(code)
	if s == nil {
		return Message{}, apperrors.ErrInvalidCode
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return Message{}, apperrors.ErrInvalidCode
	}

	slot, ok := s.clients[clientToken]
	if !ok || !slot.connected {
		return Message{}, apperrors.ErrNotConnected
	}

	now := m.timeNow()
	stamp := now.UnixMilli()
	if stamp <= s.lastStamp {
		stamp = s.lastStamp + 1
	}
	s.lastStamp = stamp

	msg.Sender = clientToken
	msg.Timestamp = stamp

	s.history = append(s.history, msg)
	s.hasActivity = true
	s.lastActivity = now
	s.cancelCleanupLocked()

	s.notifyConnectedLocked(EventReceiveMessage, msg)
	metrics.MessagesRelayed.WithLabelValues(string(msg.Type)).Inc()
	return msg, nil
}

// QuotaStatus reports the outcome of a quota check.
type QuotaStatus struct {
	CurrentUsage int64
	Limit        int64
	FileCount    int
	Unlimited    bool
	Allowed      bool
}

// CheckQuota reads the session's on-disk usage and decides whether an
// additional write fits the per-session limit. Measurement errors fail open
// so a transient filesystem hiccup cannot block all uploads.
func (m *SessionManager) CheckQuota(code string, additionalBytes int64) (QuotaStatus, error) {
	if m.lookup(code) == nil {
		return QuotaStatus{}, apperrors.ErrInvalidCode
	}

	usage, files, err := m.store.SessionUsage(code)
	if err != nil {
		m.log.Warn("quota usage scan failed, allowing", zap.String("code", code), zap.Error(err))
		usage, files = 0, 0
	}

	limit := m.cfg.MaxSessionStorageBytes
	status := QuotaStatus{
		CurrentUsage: usage,
		Limit:        limit,
		FileCount:    files,
		Unlimited:    limit < 0,
		Allowed:      true,
	}
	if limit >= 0 && usage+additionalBytes > limit {
		status.Allowed = false
	}
	return status, nil
}

// AccountStorage records bytes written into the session's tree and treats the
// write as activity.
func (m *SessionManager) AccountStorage(code string, addedBytes int64) {
	s := m.lookup(code)
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return
	}
	s.storageUsed += addedBytes
	s.hasActivity = true
	s.lastActivity = m.timeNow()
	s.cancelCleanupLocked()
	metrics.StoredBytes.Add(float64(addedBytes))
}

// Has reports whether a live session exists for the code.
func (m *SessionManager) Has(code string) bool {
	return m.lookup(code) != nil
}

// ServerStats summarises registry occupancy for the stats endpoint.
type ServerStats struct {
	ActiveSessions  int
	MaxSessions     int
	AvailableSlots  int
	UsagePercentage float64
	IsUnlimited     bool
}

// Stats reports current session counts against the configured cap.
func (m *SessionManager) Stats() ServerStats {
	m.mu.RLock()
	active := len(m.sessions)
	m.mu.RUnlock()

	stats := ServerStats{
		ActiveSessions: active,
		MaxSessions:    m.cfg.MaxActiveSessions,
		IsUnlimited:    m.cfg.MaxActiveSessions < 0,
	}
	if !stats.IsUnlimited {
		stats.AvailableSlots = m.cfg.MaxActiveSessions - active
		if stats.AvailableSlots < 0 {
			stats.AvailableSlots = 0
		}
		if m.cfg.MaxActiveSessions > 0 {
			stats.UsagePercentage = float64(active) / float64(m.cfg.MaxActiveSessions) * 100
		}
	}
	return stats
}

// Sweep re-applies the tiered grace rule to idle sessions that lost their
// timer, then removes orphan directories left behind by crashes.
func (m *SessionManager) Sweep() {
	m.mu.RLock()
	live := make(map[string]struct{}, len(m.sessions))
	snapshot := make([]*session, 0, len(m.sessions))
	for code, s := range m.sessions {
		live[code] = struct{}{}
		snapshot = append(snapshot, s)
	}
	m.mu.RUnlock()

	for _, s := range snapshot {
		s.mu.Lock()
		if !s.removed && s.connectedCountLocked() == 0 && s.cleanup == nil {
			m.scheduleCleanupLocked(s)
		}
		s.mu.Unlock()
	}

	if err := m.store.SweepOrphans(live); err != nil {
		m.log.Warn("orphan sweep reported failures", zap.Error(err))
	}
}

// LiveCodes returns the set of registered pairing codes.
func (m *SessionManager) LiveCodes() map[string]struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	live := make(map[string]struct{}, len(m.sessions))
	for code := range m.sessions {
		live[code] = struct{}{}
	}
	return live
}

func (m *SessionManager) lookup(code string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[code]
}

// scheduleCleanupLocked arms the tiered deletion timer. The timer closure
// holds only the pairing code; it re-looks the session up on fire so a
// session deleted through another path cannot dangle.
func (m *SessionManager) scheduleCleanupLocked(s *session) {
	s.cancelCleanupLocked()

	grace := m.cfg.UnusedGrace
	reason := "unused"
	if s.hasActivity {
		grace = m.cfg.ActiveGrace
		reason = "idle"
	}

	code := s.code
	s.cleanup = time.AfterFunc(grace, func() { m.expire(code, reason) })
}

// expire removes the session from the registry and deletes its disk tree,
// unless a client reconnected since the timer was armed.
func (m *SessionManager) expire(code, reason string) {
	m.mu.Lock()
	s, ok := m.sessions[code]
	if !ok {
		m.mu.Unlock()
		return
	}

	s.mu.Lock()
	if s.connectedCountLocked() > 0 {
		// A reconnect raced the timer; the reconnect path already cancelled
		// or replaced it, nothing to do.
		s.cleanup = nil
		s.mu.Unlock()
		m.mu.Unlock()
		return
	}
	s.removed = true
	s.cancelCleanupLocked()
	delete(m.sessions, code)
	remaining := len(m.sessions)
	s.mu.Unlock()
	m.mu.Unlock()

	metrics.ActiveSessions.Set(float64(remaining))
	metrics.SessionsExpired.WithLabelValues(reason).Inc()

	if err := m.store.DeleteSessionTree(code); err != nil {
		m.log.Warn("failed to delete session tree", zap.String("code", code), zap.Error(err))
	}
	m.log.Info("session expired", zap.String("code", code), zap.String("reason", reason))
}

func snapshotHistory(history []Message) []Message {
	out := make([]Message, len(history))
	copy(out, history)
	return out
}
