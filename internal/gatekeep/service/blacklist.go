package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store"
)

// Blacklist is the in-memory view of revoked access token ids. Reads never
// take a lock; writes go to the store first and then to memory.
//
// If the store cannot be read at start-up the blacklist is degraded and
// lookups fail closed, unless FailOpen was set.
type Blacklist struct {
	Store    store.Store
	Logger   *slog.Logger
	FailOpen bool
	Now      func() time.Time

	entries  sync.Map // token id -> time.Time (until)
	degraded atomic.Bool
}

// NewBlacklist returns a blacklist that is degraded until Warm succeeds.
func NewBlacklist(s store.Store, failOpen bool, logger *slog.Logger) *Blacklist {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Blacklist{Store: s, Logger: logger, FailOpen: failOpen}
	b.degraded.Store(true)
	if failOpen {
		logger.Warn("blacklist fail-open is enabled; revoked tokens are accepted while the store is unreachable")
	}
	return b
}

func (b *Blacklist) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Warm loads every entry still in force. On failure the blacklist stays (or
// becomes) degraded.
func (b *Blacklist) Warm(ctx context.Context) error {
	entries, err := b.Store.Blacklist().ListBlacklistEntries(ctx, b.now())
	if err != nil {
		b.degraded.Store(true)
		b.Logger.Error("blacklist warm-up failed", "error", err, "fail_open", b.FailOpen)
		return fmt.Errorf("warm blacklist: %w", err)
	}

	for _, e := range entries {
		b.remember(e.TokenID, e.Until)
	}
	b.degraded.Store(false)
	b.Logger.Info("blacklist loaded", "entries", len(entries))
	return nil
}

// Resync is Warm run periodically. Entries are only ever added, so a token
// revoked on another instance shows up here within one interval.
func (b *Blacklist) Resync(ctx context.Context) error {
	return b.Warm(ctx)
}

// Add revokes tokenID until the given time. The entry is kept in memory even
// if the store write fails so this instance honours it regardless.
func (b *Blacklist) Add(ctx context.Context, tokenID string, until time.Time, reason string) error {
	if tokenID == "" {
		return domain.WithMessage(domain.ErrInvalidRequest, "token id is required")
	}
	now := b.now()
	if !until.After(now) {
		return nil
	}

	b.remember(tokenID, until)

	err := b.Store.Blacklist().PutBlacklistEntry(ctx, domain.BlacklistEntry{
		TokenID:   tokenID,
		Until:     until,
		Reason:    reason,
		CreatedAt: now,
	})
	if err != nil {
		return domain.Wrap(domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Contains reports whether tokenID is revoked. Expired entries are pruned
// on the way.
func (b *Blacklist) Contains(_ context.Context, tokenID string) (bool, error) {
	if v, ok := b.entries.Load(tokenID); ok {
		if b.now().Before(v.(time.Time)) {
			return true, nil
		}
		b.entries.CompareAndDelete(tokenID, v)
	}

	if b.degraded.Load() && !b.FailOpen {
		return false, domain.WithMessage(domain.ErrStoreUnavailable, "revocation list unavailable")
	}
	return false, nil
}

// Prune drops expired entries from memory and returns how many went.
func (b *Blacklist) Prune() int {
	now := b.now()
	n := 0
	b.entries.Range(func(k, v any) bool {
		if !now.Before(v.(time.Time)) && b.entries.CompareAndDelete(k, v) {
			n++
		}
		return true
	})
	return n
}

// Degraded reports whether the last load from the store failed.
func (b *Blacklist) Degraded() bool { return b.degraded.Load() }

// Len counts entries in memory, expired ones included.
func (b *Blacklist) Len() int {
	n := 0
	b.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// remember keeps the later of the stored and given expiry.
func (b *Blacklist) remember(tokenID string, until time.Time) {
	for {
		cur, loaded := b.entries.LoadOrStore(tokenID, until)
		if !loaded {
			return
		}
		if !until.After(cur.(time.Time)) {
			return
		}
		if b.entries.CompareAndSwap(tokenID, cur, until) {
			return
		}
	}
}
