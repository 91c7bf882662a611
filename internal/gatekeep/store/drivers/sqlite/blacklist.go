package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
)

type blacklistRepo struct {
	q DBTX
}

func scanBlacklistEntry(sc scanner) (domain.BlacklistEntry, error) {
	var (
		e              domain.BlacklistEntry
		until, created int64
	)
	if err := sc.Scan(&e.TokenID, &until, &e.Reason, &created); err != nil {
		return domain.BlacklistEntry{}, err
	}
	e.Until = fromNanos(until)
	e.CreatedAt = fromNanos(created)
	return e, nil
}

func (r *blacklistRepo) PutBlacklistEntry(ctx context.Context, e domain.BlacklistEntry) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO token_blacklist (token_id, until, reason, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (token_id) DO UPDATE SET until = MAX(until, excluded.until)`,
		e.TokenID, toNanos(e.Until), e.Reason, toNanos(e.CreatedAt),
	)
	return err
}

func (r *blacklistRepo) GetBlacklistEntry(ctx context.Context, tokenID string) (domain.BlacklistEntry, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT token_id, until, reason, created_at FROM token_blacklist WHERE token_id = ?`, tokenID)
	e, err := scanBlacklistEntry(row)
	if err != nil {
		return domain.BlacklistEntry{}, mapNotFound(err)
	}
	return e, nil
}

func (r *blacklistRepo) ListBlacklistEntries(ctx context.Context, now time.Time) ([]domain.BlacklistEntry, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT token_id, until, reason, created_at FROM token_blacklist WHERE until > ?`, toNanos(now))
	return collect(rows, err, scanBlacklistEntry)
}

func (r *blacklistRepo) DeleteExpiredBlacklistEntries(ctx context.Context, now time.Time) (int64, error) {
	return affected(r.q.ExecContext(ctx, `DELETE FROM token_blacklist WHERE until <= ?`, toNanos(now)))
}
