package service

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/audit"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/obs"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
	"github.com/google/uuid"
)

// Session defaults.
const (
	DefaultSessionTTL    = 7 * 24 * time.Hour
	DefaultMaxSessions   = 5
	DefaultFlagThreshold = 50
	DefaultKillThreshold = 80
)

// SessionService tracks sessions per user and workspace. Sessions only
// move from ACTIVE to a terminal state; expiry is applied lazily whenever a
// session is read.
type SessionService struct {
	Store   store.Store
	Risk    *RiskScorer
	Audit   audit.Emitter
	Metrics *obs.Metrics

	TTL           time.Duration
	MaxSessions   int
	FlagThreshold int
	KillThreshold int

	// OnTerminate runs after a session is terminated or evicted, outside
	// any session lock. The composition root revokes the session's tokens
	// here.
	OnTerminate func(ctx context.Context, s domain.Session, reason string)

	Now func() time.Time

	owners   keyedMutex // user|workspace
	sessions keyedMutex // session id
	riskOnce sync.Once
}

func (s *SessionService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *SessionService) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return DefaultSessionTTL
}

func (s *SessionService) maxSessions() int {
	if s.MaxSessions > 0 {
		return s.MaxSessions
	}
	return DefaultMaxSessions
}

func (s *SessionService) flagThreshold() int {
	if s.FlagThreshold > 0 {
		return s.FlagThreshold
	}
	return DefaultFlagThreshold
}

func (s *SessionService) killThreshold() int {
	if s.KillThreshold > 0 {
		return s.KillThreshold
	}
	return DefaultKillThreshold
}

func (s *SessionService) emit(ctx context.Context, ev audit.Event) {
	if s.Audit == nil {
		return
	}
	_ = s.Audit.Emit(ctx, ev)
}

// CreateSession opens a session. When the user already has MaxSessions
// active sessions in the workspace, the least recently active ones are
// evicted until one slot is free.
func (s *SessionService) CreateSession(ctx context.Context, userID, workspaceID string, device domain.Device, mfa bool) (domain.Session, error) {
	if userID == "" || workspaceID == "" {
		return domain.Session{}, domain.WithMessage(domain.ErrInvalidRequest, "user and workspace are required")
	}

	now := s.now()
	unlock := s.owners.Lock(userID + "|" + workspaceID)

	existing, err := s.Store.Sessions().ListSessions(ctx, userID, workspaceID)
	if err != nil {
		unlock()
		return domain.Session{}, storeErr(err)
	}

	var active []domain.Session
	for _, sess := range existing {
		if sess.Status != domain.SessionActive {
			continue
		}
		if !sess.IsActive(now) {
			if _, err := s.Store.Sessions().EndSession(ctx, sess.ID, domain.SessionExpired, domain.ReasonExpired); err != nil {
				unlock()
				return domain.Session{}, storeErr(err)
			}
			continue
		}
		active = append(active, sess)
	}

	// Oldest activity first
	slices.SortFunc(active, func(a, b domain.Session) int {
		return cmp.Or(a.LastActivityAt.Compare(b.LastActivityAt), cmp.Compare(a.ID, b.ID))
	})

	var evicted []domain.Session
	for len(active) >= s.maxSessions() {
		victim := active[0]
		active = active[1:]

		ok, err := s.Store.Sessions().EndSession(ctx, victim.ID, domain.SessionTerminated, domain.ReasonEvicted)
		if err != nil {
			unlock()
			return domain.Session{}, storeErr(err)
		}
		if ok {
			victim.Status = domain.SessionTerminated
			victim.TerminatedReason = domain.ReasonEvicted
			evicted = append(evicted, victim)
		}
	}

	sess := domain.Session{
		ID:                uuid.NewString(),
		UserID:            userID,
		WorkspaceID:       workspaceID,
		DeviceFingerprint: device.Fingerprint,
		IP:                device.IP,
		Country:           device.Country,
		UserAgent:         device.UserAgent,
		CreatedAt:         now,
		LastActivityAt:    now,
		ExpiresAt:         now.Add(s.ttl()),
		Status:            domain.SessionActive,
		MFAVerified:       mfa,
	}
	err = s.Store.Sessions().CreateSession(ctx, sess)
	unlock()
	if err != nil {
		return domain.Session{}, storeErr(err)
	}

	for _, victim := range evicted {
		slogx.FromContext(ctx).Info("session evicted", "session_id", victim.ID, "user_id", userID, "workspace_id", workspaceID)
		s.Metrics.ObserveEviction()
		s.emit(ctx, audit.New(audit.KindSessionEvicted, userID, workspaceID).
			With("session_id", victim.ID).
			With("replaced_by", sess.ID))
		s.ended(ctx, victim, domain.ReasonEvicted)
	}

	s.emit(ctx, audit.New(audit.KindSessionCreated, userID, workspaceID).
		With("session_id", sess.ID).
		With("mfa", strconv.FormatBool(mfa)))
	return sess, nil
}

// ended runs the termination hook and drops per-session state.
func (s *SessionService) ended(ctx context.Context, sess domain.Session, reason string) {
	s.scorer().Forget(sess.ID)
	if s.OnTerminate != nil {
		s.OnTerminate(ctx, sess, reason)
	}
}

// GetSession returns a session, marking it EXPIRED first if its time is up.
func (s *SessionService) GetSession(ctx context.Context, id string) (domain.Session, error) {
	sess, err := s.Store.Sessions().GetSession(ctx, id)
	if err != nil {
		return domain.Session{}, storeErr(err)
	}
	return s.expireLazily(ctx, sess)
}

func (s *SessionService) expireLazily(ctx context.Context, sess domain.Session) (domain.Session, error) {
	if sess.Status != domain.SessionActive || sess.IsActive(s.now()) {
		return sess, nil
	}
	if _, err := s.Store.Sessions().EndSession(ctx, sess.ID, domain.SessionExpired, domain.ReasonExpired); err != nil {
		return domain.Session{}, storeErr(err)
	}
	sess.Status = domain.SessionExpired
	sess.TerminatedReason = domain.ReasonExpired
	return sess, nil
}

// ListSessions returns a user's sessions in a workspace (all workspaces when
// workspaceID is empty), most recently active first.
func (s *SessionService) ListSessions(ctx context.Context, userID, workspaceID string) ([]domain.Session, error) {
	list, err := s.Store.Sessions().ListSessions(ctx, userID, workspaceID)
	if err != nil {
		return nil, storeErr(err)
	}
	for i := range list {
		if list[i], err = s.expireLazily(ctx, list[i]); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// IsActive reports whether a session exists and is usable now.
func (s *SessionService) IsActive(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	sess, err := s.GetSession(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sess.Status == domain.SessionActive, nil
}

// Touch records a token refresh as activity on the session. It fails with
// domain.ErrSessionInactive unless the session is active.
func (s *SessionService) Touch(ctx context.Context, id string) error {
	if id == "" {
		return domain.ErrSessionInactive
	}

	unlock := s.sessions.Lock(id)
	defer unlock()

	sess, err := s.GetSession(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrSessionInactive
	}
	if err != nil {
		return err
	}
	if sess.Status != domain.SessionActive {
		return domain.ErrSessionInactive
	}

	ok, err := s.Store.Sessions().TouchSession(ctx, id, s.now())
	if err != nil {
		return storeErr(err)
	}
	if !ok {
		return domain.ErrSessionInactive
	}
	return nil
}

// TerminateSession ends an active session. Ending one that already ended is
// a no-op.
func (s *SessionService) TerminateSession(ctx context.Context, id, reason string) error {
	unlock := s.sessions.Lock(id)
	sess, err := s.Store.Sessions().GetSession(ctx, id)
	if err != nil {
		unlock()
		return storeErr(err)
	}
	ok, err := s.Store.Sessions().EndSession(ctx, id, domain.SessionTerminated, reason)
	unlock()
	if err != nil {
		return storeErr(err)
	}
	if !ok {
		return nil
	}

	sess.Status = domain.SessionTerminated
	sess.TerminatedReason = reason
	s.emit(ctx, audit.New(audit.KindSessionTerminated, sess.UserID, sess.WorkspaceID).
		With("session_id", id).
		With("reason", reason))
	s.ended(ctx, sess, reason)
	return nil
}

// TerminateAllSessions ends every active session of a user across
// workspaces except exceptID, returning how many ended.
func (s *SessionService) TerminateAllSessions(ctx context.Context, userID, exceptID, reason string) (int, error) {
	list, err := s.ListSessions(ctx, userID, "")
	if err != nil {
		return 0, err
	}

	n := 0
	for _, sess := range list {
		if sess.ID == exceptID || sess.Status != domain.SessionActive {
			continue
		}
		if err := s.TerminateSession(ctx, sess.ID, reason); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// DetectSuspiciousActivity scores act against the session without writing
// to it. The velocity signal does count the call against the session's
// request rate. A score above a threshold sets Flagged or Terminated.
func (s *SessionService) DetectSuspiciousActivity(ctx context.Context, sess domain.Session, act domain.Activity) domain.RiskAssessment {
	known := map[string]bool{}
	if act.DeviceFingerprint != "" && act.DeviceFingerprint != sess.DeviceFingerprint {
		list, err := s.Store.Sessions().ListSessions(ctx, sess.UserID, "")
		if err != nil {
			// Without history every new device is unknown
			slogx.FromContext(ctx).Warn("load device history failed", "user_id", sess.UserID, "error", err)
		}
		for _, other := range list {
			if other.ID != sess.ID && other.DeviceFingerprint != "" {
				known[other.DeviceFingerprint] = true
			}
		}
	}

	score, signals := s.scorer().Score(sess, act, known)
	return domain.RiskAssessment{
		Score:      score,
		Signals:    signals,
		Flagged:    score > s.flagThreshold(),
		Terminated: score > s.killThreshold(),
	}
}

func (s *SessionService) scorer() *RiskScorer {
	s.riskOnce.Do(func() {
		if s.Risk == nil {
			s.Risk = NewRiskScorer(0, 0)
		}
	})
	return s.Risk
}

// UpdateActivity records activity on an active session and rescores it.
// Sessions that are missing or already ended are ignored and yield a zero
// assessment; callers gate on IsActive.
func (s *SessionService) UpdateActivity(ctx context.Context, id string, act domain.Activity) (domain.RiskAssessment, error) {
	if act.At.IsZero() {
		act.At = s.now()
	}

	unlock := s.sessions.Lock(id)
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		unlock()
		if errors.Is(err, domain.ErrNotFound) {
			return domain.RiskAssessment{}, nil
		}
		return domain.RiskAssessment{}, err
	}
	if sess.Status != domain.SessionActive {
		unlock()
		return domain.RiskAssessment{}, nil
	}

	ra := s.DetectSuspiciousActivity(ctx, sess, act)
	newlyFlagged := ra.Flagged && !sess.Flagged

	updated := sess
	updated.LastActivityAt = act.At
	updated.RiskScore = ra.Score
	updated.Flagged = sess.Flagged || ra.Flagged
	if act.IP != "" {
		updated.IP = act.IP
	}
	if act.Country != "" {
		updated.Country = act.Country
	}
	if act.DeviceFingerprint != "" {
		updated.DeviceFingerprint = act.DeviceFingerprint
	}
	if act.UserAgent != "" {
		updated.UserAgent = act.UserAgent
	}

	var ok bool
	if ra.Terminated {
		ok, err = s.Store.Sessions().EndSession(ctx, id, domain.SessionTerminated, domain.ReasonAnomaly)
	} else {
		ok, err = s.Store.Sessions().UpdateActivity(ctx, updated)
	}
	unlock()
	if err != nil {
		return domain.RiskAssessment{}, storeErr(err)
	}
	if !ok {
		return domain.RiskAssessment{}, nil
	}

	if newlyFlagged || ra.Terminated {
		slogx.FromContext(ctx).Warn("session anomaly",
			"session_id", id,
			"user_id", sess.UserID,
			"score", ra.Score,
			"signals", ra.Signals,
			"terminated", ra.Terminated,
		)
		ev := audit.New(audit.KindSessionAnomaly, sess.UserID, sess.WorkspaceID).
			With("session_id", id).
			With("score", strconv.Itoa(ra.Score))
		for _, sig := range ra.Signals {
			ev = ev.With("signal."+string(sig), "true")
		}
		s.emit(ctx, ev)
	}

	if ra.Terminated {
		updated.Status = domain.SessionTerminated
		updated.TerminatedReason = domain.ReasonAnomaly
		s.emit(ctx, audit.New(audit.KindSessionTerminated, sess.UserID, sess.WorkspaceID).
			With("session_id", id).
			With("reason", domain.ReasonAnomaly))
		s.ended(ctx, updated, domain.ReasonAnomaly)
	}
	return ra, nil
}
