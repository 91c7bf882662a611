package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store"
	"github.com/aussiebroadwan/gatekeep/pkg/jwtx"
)

// Housekeeping defaults.
const (
	DefaultHousekeepingInterval = time.Hour
	DefaultRefreshGrace         = 24 * time.Hour
	DefaultSessionRetention     = 30 * 24 * time.Hour
)

// HousekeepingService periodically removes records nothing will read again:
// expired refresh tokens, lapsed blacklist entries, old ended sessions and
// signing keys past their grace period. It also resyncs the in-memory
// blacklist so a store outage heals without a restart.
type HousekeepingService struct {
	Store     store.Store
	Logger    *slog.Logger
	Interval  time.Duration
	Blacklist *Blacklist

	// KeyManager is only touched when PersistentKeys is set; ephemeral keys
	// live and die with the process.
	KeyManager     *jwtx.KeyManager
	PersistentKeys bool

	// RefreshGrace keeps expired refresh records around long enough for a
	// late replay to still be recognised as reuse.
	RefreshGrace     time.Duration
	SessionRetention time.Duration

	Now func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service. A non-positive
// interval defaults to one hour.
func NewHousekeepingService(s store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = DefaultHousekeepingInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &HousekeepingService{
		Store:            s,
		Logger:           logger,
		Interval:         interval,
		RefreshGrace:     DefaultRefreshGrace,
		SessionRetention: DefaultSessionRetention,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
}

// Start runs cleanup immediately and then every Interval until Stop.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until any in-progress cleanup has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Cleanup(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

func (s *HousekeepingService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Cleanup runs one pass. Each step is independent; a failure is logged and
// the remaining steps still run. It returns the number of steps that
// succeeded.
func (s *HousekeepingService) Cleanup(ctx context.Context) int {
	now := s.now()
	s.Logger.Debug("starting housekeeping cleanup")

	ok := 0
	step := func(name string, fn func() (int64, error)) {
		n, err := fn()
		if err != nil {
			s.Logger.Error("housekeeping step failed", "step", name, "error", err)
			return
		}
		if n > 0 {
			s.Logger.Info("housekeeping removed records", "step", name, "count", n)
		}
		ok++
	}

	step("refresh_tokens", func() (int64, error) {
		return s.Store.RefreshTokens().DeleteExpiredRefreshTokens(ctx, now.Add(-s.RefreshGrace))
	})
	step("blacklist", func() (int64, error) {
		return s.Store.Blacklist().DeleteExpiredBlacklistEntries(ctx, now)
	})
	step("sessions", func() (int64, error) {
		return s.Store.Sessions().DeleteEndedSessions(ctx, now.Add(-s.SessionRetention))
	})

	if s.PersistentKeys {
		step("signing_keys", func() (int64, error) {
			return 0, s.Store.SigningKeys().DeleteExpiredSigningKeys(ctx)
		})
		step("key_set", func() (int64, error) {
			return s.dropExpiredKeys(ctx)
		})
	}

	if s.Blacklist != nil {
		step("blacklist_memory", func() (int64, error) {
			return int64(s.Blacklist.Prune()), nil
		})
		step("blacklist_resync", func() (int64, error) {
			return 0, s.Blacklist.Resync(ctx)
		})
	}

	s.Logger.Debug("housekeeping cleanup completed", "successful_steps", ok)
	return ok
}

// dropExpiredKeys removes keys from the verification set once the store no
// longer lists them.
func (s *HousekeepingService) dropExpiredKeys(ctx context.Context) (int64, error) {
	if s.KeyManager == nil {
		return 0, nil
	}
	live, err := s.Store.SigningKeys().ListAllSigningKeys(ctx)
	if err != nil {
		return 0, err
	}
	keep := make(map[string]struct{}, len(live))
	for _, k := range live {
		keep[k.Kid] = struct{}{}
	}

	var dropped int64
	for _, j := range s.KeyManager.KeySet.PublicJWKS().Keys {
		if _, ok := keep[j.Kid]; ok {
			continue
		}
		if s.KeyManager.DropKey(j.Kid) {
			dropped++
		}
	}
	return dropped, nil
}
