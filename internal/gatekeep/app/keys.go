package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store"
	"github.com/aussiebroadwan/gatekeep/pkg/cryptox"
	"github.com/aussiebroadwan/gatekeep/pkg/jwtx"
)

// InitKeys creates the KeyManager for the configured storage mode and
// returns the sealer used for persisted keys (nil when ephemeral).
//
// Storage modes:
//   - "ephemeral": keys are generated on startup and live in memory only.
//     Every token dies with the process.
//   - "persistent": keys are sealed with the master key and stored. Tokens
//     survive restarts and retired keys verify for KeyGracePeriod.
func InitKeys(ctx context.Context, cfg Config, db store.Store, logger *slog.Logger) (*jwtx.KeyManager, jwtx.KeySealer, error) {
	opts := jwtx.KeyManagerOptions{
		Algorithm: cfg.Algorithm,
		Issuer:    cfg.Issuer,
		Audience:  cfg.Audience,
		RSABits:   cfg.RSABits,
		NumKeys:   cfg.NumKeys,
	}

	switch cfg.KeyStorageMode {
	case KeyStoragePersistent:
		master, ephemeral, err := cryptox.LoadMasterKey(cfg.MasterKeyPath, MasterKeyEnv)
		if err != nil {
			return nil, nil, err
		}
		if ephemeral {
			logger.Warn("no master key configured, persisted keys will be unreadable after restart")
		}
		sealer, err := cryptox.NewSealer(master)
		if err != nil {
			return nil, nil, err
		}

		logger.Info("initializing persistent key manager",
			"algorithm", cfg.Algorithm,
			"num_keys", cfg.NumKeys,
			"grace_period", cfg.KeyGracePeriod,
		)

		km, err := jwtx.NewPersistentKeyManager(ctx, jwtx.PersistentKeyManagerOptions{
			KeyManagerOptions: opts,
			Store:             store.NewKeyStoreAdapter(db),
			Sealer:            sealer,
			GracePeriod:       cfg.KeyGracePeriod,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize persistent key manager: %w", err)
		}

		logger.Info("persistent signing keys loaded",
			"algorithm", km.Algorithm(),
			"num_keys", km.NumSigners(),
			"issuer", cfg.Issuer,
		)
		return km, sealer, nil

	case KeyStorageEphemeral, "":
		km, err := jwtx.NewEphemeralKeyManager(opts)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize ephemeral key manager: %w", err)
		}

		logger.Info("generated ephemeral signing keys",
			"algorithm", km.Algorithm(),
			"num_keys", km.NumSigners(),
			"issuer", cfg.Issuer,
		)
		logger.Warn("ephemeral keys: tokens issued before this start are no longer valid")
		return km, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown key storage mode %q", cfg.KeyStorageMode)
	}
}
