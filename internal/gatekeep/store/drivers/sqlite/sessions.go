package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
)

type sessionsRepo struct {
	q DBTX
}

const sessionColumns = `id, user_id, workspace_id, device_fingerprint, ip, country, user_agent,
	created_at, last_activity_at, expires_at, status, mfa_verified, risk_score, flagged, terminated_reason`

func scanSession(sc scanner) (domain.Session, error) {
	var (
		s                            domain.Session
		created, lastActive, expires int64
		status                       string
	)
	if err := sc.Scan(&s.ID, &s.UserID, &s.WorkspaceID, &s.DeviceFingerprint, &s.IP, &s.Country, &s.UserAgent,
		&created, &lastActive, &expires, &status, &s.MFAVerified, &s.RiskScore, &s.Flagged, &s.TerminatedReason); err != nil {
		return domain.Session{}, err
	}
	s.Status = domain.SessionStatus(status)
	s.CreatedAt = fromNanos(created)
	s.LastActivityAt = fromNanos(lastActive)
	s.ExpiresAt = fromNanos(expires)
	return s, nil
}

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.WorkspaceID, s.DeviceFingerprint, s.IP, s.Country, s.UserAgent,
		toNanos(s.CreatedAt), toNanos(s.LastActivityAt), toNanos(s.ExpiresAt), string(s.Status),
		s.MFAVerified, s.RiskScore, s.Flagged, s.TerminatedReason,
	)
	return mapConstraint(err)
}

func (r *sessionsRepo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	return s, nil
}

func (r *sessionsRepo) ListSessions(ctx context.Context, userID, workspaceID string) ([]domain.Session, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = ? AND (? = '' OR workspace_id = ?)
		 ORDER BY last_activity_at DESC, id`, userID, workspaceID, workspaceID)
	return collect(rows, err, scanSession)
}

func (r *sessionsRepo) UpdateActivity(ctx context.Context, s domain.Session) (bool, error) {
	return changed(r.q.ExecContext(ctx,
		`UPDATE sessions
		 SET last_activity_at = ?, ip = ?, country = ?, device_fingerprint = ?, user_agent = ?,
		     risk_score = ?, flagged = ?
		 WHERE id = ? AND status = 'ACTIVE'`,
		toNanos(s.LastActivityAt), s.IP, s.Country, s.DeviceFingerprint, s.UserAgent,
		s.RiskScore, s.Flagged, s.ID,
	))
}

func (r *sessionsRepo) TouchSession(ctx context.Context, id string, at time.Time) (bool, error) {
	return changed(r.q.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = MAX(last_activity_at, ?) WHERE id = ? AND status = 'ACTIVE'`,
		toNanos(at), id))
}

func (r *sessionsRepo) EndSession(ctx context.Context, id string, status domain.SessionStatus, reason string) (bool, error) {
	return changed(r.q.ExecContext(ctx,
		`UPDATE sessions SET status = ?, terminated_reason = ? WHERE id = ? AND status = 'ACTIVE'`,
		string(status), reason, id))
}

func (r *sessionsRepo) DeleteEndedSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	return affected(r.q.ExecContext(ctx,
		`DELETE FROM sessions WHERE status != 'ACTIVE' AND last_activity_at < ?`, toNanos(cutoff)))
}
