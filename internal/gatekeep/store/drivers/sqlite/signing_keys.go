package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
)

type signingKeysRepo struct {
	q DBTX
}

const signingKeyColumns = `id, kid, algorithm, private_key_encrypted, created_at, retired_at, expires_at`

func scanSigningKey(sc scanner) (domain.SigningKey, error) {
	var (
		k                  domain.SigningKey
		created, expiresAt int64
		retired            sql.NullInt64
	)
	if err := sc.Scan(&k.ID, &k.Kid, &k.Algorithm, &k.PrivateKeyEncrypted, &created, &retired, &expiresAt); err != nil {
		return domain.SigningKey{}, err
	}
	k.CreatedAt = fromNanos(created)
	k.RetiredAt = mapNullTimePtr(retired)
	k.ExpiresAt = fromNanos(expiresAt)
	return k, nil
}

func (r *signingKeysRepo) CreateSigningKey(ctx context.Context, key domain.SigningKey) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO signing_keys (`+signingKeyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.Kid, key.Algorithm, key.PrivateKeyEncrypted,
		toNanos(key.CreatedAt), mapOptionalTime(key.RetiredAt), toNanos(key.ExpiresAt),
	)
	return mapConstraint(err)
}

func (r *signingKeysRepo) GetSigningKeyByKid(ctx context.Context, kid string) (domain.SigningKey, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+signingKeyColumns+` FROM signing_keys WHERE kid = ?`, kid)
	k, err := scanSigningKey(row)
	if err != nil {
		return domain.SigningKey{}, mapNotFound(err)
	}
	return k, nil
}

func (r *signingKeysRepo) ListActiveSigningKeys(ctx context.Context) ([]domain.SigningKey, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+signingKeyColumns+` FROM signing_keys WHERE retired_at IS NULL ORDER BY created_at DESC`)
	return collect(rows, err, scanSigningKey)
}

func (r *signingKeysRepo) ListAllSigningKeys(ctx context.Context) ([]domain.SigningKey, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+signingKeyColumns+` FROM signing_keys
		 WHERE retired_at IS NULL OR expires_at > ?
		 ORDER BY created_at DESC`, toNanos(time.Now()))
	return collect(rows, err, scanSigningKey)
}

func (r *signingKeysRepo) RetireSigningKey(ctx context.Context, kid string, retiredAt, expiresAt time.Time) error {
	return requireOne(r.q.ExecContext(ctx,
		`UPDATE signing_keys SET retired_at = ?, expires_at = ? WHERE kid = ? AND retired_at IS NULL`,
		toNanos(retiredAt), toNanos(expiresAt), kid))
}

func (r *signingKeysRepo) DeleteExpiredSigningKeys(ctx context.Context) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM signing_keys WHERE retired_at IS NOT NULL AND expires_at <= ?`, toNanos(time.Now()))
	return err
}
