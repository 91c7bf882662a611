package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
)

type refreshTokensRepo struct {
	q DBTX
}

const refreshColumns = `id, token_hash, chain_id, parent_id, user_id, workspace_id, session_id,
	access_token_id, access_expires_at, mfa_verified, status, issued_at, expires_at,
	rotated_at, revoked_at, revoke_reason`

func scanRefreshToken(sc scanner) (domain.RefreshToken, error) {
	var (
		t                              domain.RefreshToken
		accessExp, issuedAt, expiresAt int64
		rotatedAt, revokedAt           sql.NullInt64
		status                         string
	)
	if err := sc.Scan(&t.ID, &t.TokenHash, &t.ChainID, &t.ParentID, &t.UserID, &t.WorkspaceID, &t.SessionID,
		&t.AccessTokenID, &accessExp, &t.MFAVerified, &status, &issuedAt, &expiresAt,
		&rotatedAt, &revokedAt, &t.RevokeReason); err != nil {
		return domain.RefreshToken{}, err
	}
	t.Status = domain.RefreshStatus(status)
	t.AccessExpiresAt = fromNanos(accessExp)
	t.IssuedAt = fromNanos(issuedAt)
	t.ExpiresAt = fromNanos(expiresAt)
	t.RotatedAt = mapNullTimePtr(rotatedAt)
	t.RevokedAt = mapNullTimePtr(revokedAt)
	return t, nil
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	status := t.Status
	if status == "" {
		status = domain.RefreshActive
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO refresh_tokens (`+refreshColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TokenHash, t.ChainID, t.ParentID, t.UserID, t.WorkspaceID, t.SessionID,
		t.AccessTokenID, toNanos(t.AccessExpiresAt), t.MFAVerified, string(status),
		toNanos(t.IssuedAt), toNanos(t.ExpiresAt),
		mapOptionalTime(t.RotatedAt), mapOptionalTime(t.RevokedAt), t.RevokeReason,
	)
	return mapConstraint(err)
}

func (r *refreshTokensRepo) GetRefreshToken(ctx context.Context, id string) (domain.RefreshToken, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+refreshColumns+` FROM refresh_tokens WHERE id = ?`, id)
	t, err := scanRefreshToken(row)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	return t, nil
}

func (r *refreshTokensRepo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+refreshColumns+` FROM refresh_tokens WHERE token_hash = ?`, hash)
	t, err := scanRefreshToken(row)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	return t, nil
}

func (r *refreshTokensRepo) MarkRotated(ctx context.Context, id string, at time.Time) (bool, error) {
	return changed(r.q.ExecContext(ctx,
		`UPDATE refresh_tokens SET status = 'ROTATED', rotated_at = ? WHERE id = ? AND status = 'ACTIVE'`,
		toNanos(at), id))
}

func (r *refreshTokensRepo) RevokeRefreshToken(ctx context.Context, id, reason string, at time.Time) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE refresh_tokens SET status = 'REVOKED', revoked_at = ?, revoke_reason = ?
		 WHERE id = ? AND status != 'REVOKED'`,
		toNanos(at), reason, id)
	return err
}

func (r *refreshTokensRepo) RevokeChain(ctx context.Context, chainID, reason string, at time.Time) (int64, error) {
	return affected(r.q.ExecContext(ctx,
		`UPDATE refresh_tokens SET status = 'REVOKED', revoked_at = ?, revoke_reason = ?
		 WHERE chain_id = ? AND status != 'REVOKED'`,
		toNanos(at), reason, chainID))
}

func (r *refreshTokensRepo) ListChain(ctx context.Context, chainID string) ([]domain.RefreshToken, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+refreshColumns+` FROM refresh_tokens WHERE chain_id = ? ORDER BY issued_at, id`, chainID)
	return collect(rows, err, scanRefreshToken)
}

func (r *refreshTokensRepo) ListSessionTokens(ctx context.Context, sessionID string) ([]domain.RefreshToken, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+refreshColumns+` FROM refresh_tokens WHERE session_id = ? ORDER BY issued_at, id`, sessionID)
	return collect(rows, err, scanRefreshToken)
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	return affected(r.q.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < ?`, toNanos(cutoff)))
}
