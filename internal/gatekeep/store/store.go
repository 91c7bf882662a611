package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	ErrConflict      = errors.New("store: version conflict")
)

// Store is the root data access interface. Concrete drivers implement it and
// expose sub-repositories per aggregate so a Tx can hand out the same repos
// bound to a transaction.
type Store interface {
	Roles() Roles
	Assignments() Assignments
	Policies() Policies
	Members() Members
	RefreshTokens() RefreshTokens
	Blacklist() Blacklist
	Sessions() Sessions
	SigningKeys() SigningKeys

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn in a transaction, committing if it returns nil and
	// rolling back otherwise. fn must only use the Tx it is given.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Roles interface {
	// CreateRole inserts a role. Names are unique per workspace.
	CreateRole(ctx context.Context, r domain.Role) error

	GetRole(ctx context.Context, id string) (domain.Role, error)

	// GetRoleByName looks a role up by name within one workspace ("" = global).
	GetRoleByName(ctx context.Context, workspaceID, name string) (domain.Role, error)

	// ListRoles returns the roles visible in a workspace: its own and the
	// global ones, ordered by id.
	ListRoles(ctx context.Context, workspaceID string) ([]domain.Role, error)

	// UpdateRole replaces name, description, permissions and parents.
	UpdateRole(ctx context.Context, r domain.Role) error

	// DeleteRole removes the role and any assignments of it.
	DeleteRole(ctx context.Context, id string) error

	IsEmpty(ctx context.Context) (bool, error)
}

type Assignments interface {
	CreateAssignment(ctx context.Context, a domain.RoleAssignment) error
	GetAssignment(ctx context.Context, id string) (domain.RoleAssignment, error)

	// ListAssignmentsForUser returns the user's assignments in a workspace
	// plus their global ones. Expired rows are included; callers filter.
	ListAssignmentsForUser(ctx context.Context, userID, workspaceID string) ([]domain.RoleAssignment, error)

	// ListAssignments returns every assignment made in a workspace.
	ListAssignments(ctx context.Context, workspaceID string) ([]domain.RoleAssignment, error)

	DeleteAssignment(ctx context.Context, id string) error
}

type Policies interface {
	CreatePolicy(ctx context.Context, p domain.Policy) error
	GetPolicy(ctx context.Context, id string) (domain.Policy, error)

	// ListPolicies returns the workspace's policies and the global ones,
	// ordered by id.
	ListPolicies(ctx context.Context, workspaceID string) ([]domain.Policy, error)

	// UpdatePolicy stores p if the stored version is still p.Version and
	// bumps it, returning ErrConflict otherwise.
	UpdatePolicy(ctx context.Context, p domain.Policy) error

	DeletePolicy(ctx context.Context, id string) error
}

type Members interface {
	// PutMember inserts or replaces a membership.
	PutMember(ctx context.Context, m domain.Member) error
	GetMember(ctx context.Context, workspaceID, userID string) (domain.Member, error)
	ListMembers(ctx context.Context, workspaceID string) ([]domain.Member, error)
	DeleteMember(ctx context.Context, workspaceID, userID string) error
}

type RefreshTokens interface {
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error
	GetRefreshToken(ctx context.Context, id string) (domain.RefreshToken, error)

	// GetRefreshTokenByHash returns a record by the fingerprint of its opaque value.
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// MarkRotated moves an ACTIVE record to ROTATED. It reports false when
	// the record was no longer ACTIVE, meaning another caller won the race.
	MarkRotated(ctx context.Context, id string, at time.Time) (bool, error)

	// RevokeRefreshToken revokes one record unless already revoked.
	RevokeRefreshToken(ctx context.Context, id, reason string, at time.Time) error

	// RevokeChain revokes every record in a chain that is not already
	// revoked and returns how many changed.
	RevokeChain(ctx context.Context, chainID, reason string, at time.Time) (int64, error)

	// ListChain returns every record in a chain, oldest first.
	ListChain(ctx context.Context, chainID string) ([]domain.RefreshToken, error)

	// ListSessionTokens returns every record bound to a session.
	ListSessionTokens(ctx context.Context, sessionID string) ([]domain.RefreshToken, error)

	// DeleteExpiredRefreshTokens removes records that expired before cutoff.
	DeleteExpiredRefreshTokens(ctx context.Context, cutoff time.Time) (int64, error)
}

type Blacklist interface {
	// PutBlacklistEntry inserts an entry, keeping the later Until on conflict.
	PutBlacklistEntry(ctx context.Context, e domain.BlacklistEntry) error
	GetBlacklistEntry(ctx context.Context, tokenID string) (domain.BlacklistEntry, error)

	// ListBlacklistEntries returns entries still in force at now.
	ListBlacklistEntries(ctx context.Context, now time.Time) ([]domain.BlacklistEntry, error)

	DeleteExpiredBlacklistEntries(ctx context.Context, now time.Time) (int64, error)
}

type Sessions interface {
	CreateSession(ctx context.Context, s domain.Session) error
	GetSession(ctx context.Context, id string) (domain.Session, error)

	// ListSessions returns a user's sessions in a workspace, or across all
	// workspaces when workspaceID is empty, most recently active first.
	ListSessions(ctx context.Context, userID, workspaceID string) ([]domain.Session, error)

	// UpdateActivity records activity and risk on an ACTIVE session. It
	// reports false if the session is no longer ACTIVE.
	UpdateActivity(ctx context.Context, s domain.Session) (bool, error)

	// TouchSession moves an ACTIVE session's last activity forward to at. It
	// reports false if the session is no longer ACTIVE.
	TouchSession(ctx context.Context, id string, at time.Time) (bool, error)

	// EndSession moves an ACTIVE session to a terminal status. It reports
	// false if the session was already terminal.
	EndSession(ctx context.Context, id string, status domain.SessionStatus, reason string) (bool, error)

	// DeleteEndedSessions removes terminal sessions last active before cutoff.
	DeleteEndedSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

type SigningKeys interface {
	// CreateSigningKey stores a new signing key with encrypted private key material.
	CreateSigningKey(ctx context.Context, key domain.SigningKey) error

	// GetSigningKeyByKid fetches a signing key by its key identifier.
	GetSigningKeyByKid(ctx context.Context, kid string) (domain.SigningKey, error)

	// ListActiveSigningKeys returns keys that are not retired, newest first.
	ListActiveSigningKeys(ctx context.Context) ([]domain.SigningKey, error)

	// ListAllSigningKeys returns unretired keys plus retired keys still in
	// their grace period, newest first. Used to build the verification set.
	ListAllSigningKeys(ctx context.Context) ([]domain.SigningKey, error)

	// RetireSigningKey stops a key signing and sets its expiry to the end of
	// its verification grace period.
	RetireSigningKey(ctx context.Context, kid string, retiredAt, expiresAt time.Time) error

	// DeleteExpiredSigningKeys removes retired keys past their expires_at.
	DeleteExpiredSigningKeys(ctx context.Context) error
}
