package app

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/service"
	"github.com/aussiebroadwan/gatekeep/pkg/jwtx"
)

const (
	KeyStorageEphemeral  = "ephemeral"
	KeyStoragePersistent = "persistent"

	// MasterKeyEnv holds master key material when no key file is configured.
	MasterKeyEnv = "GATEKEEP_MASTER_KEY"
)

type Config struct {
	Issuer   string   // Required: issuer claim for tokens
	Audience []string // Optional: audiences stamped on and required of access tokens

	Algorithm      string        // JWT signing algorithm (RS256, ES256, EdDSA) (default: EdDSA)
	RSABits        int           // RSA key size for RS256 (default: 4096)
	NumKeys        int           // Active signing keys (default: 3, max: 10)
	KeyStorageMode string        // ephemeral or persistent (default: ephemeral)
	KeyGracePeriod time.Duration // How long a retired key keeps verifying (default: 30 days)
	MasterKeyPath  string        // File holding the key that seals persisted private keys
	DatabaseFile   string        // SQLite database file (default: gatekeep.db)

	AccessTTL         time.Duration // Access token lifetime (default: 15m)
	RefreshTTL        time.Duration // Refresh token lifetime (default: 7d)
	RotationGrace     time.Duration // How long rotated refresh records are kept for reuse detection (default: 24h)
	BlacklistFailOpen bool          // Accept tokens when the blacklist cannot be consulted (default: false)

	SessionTTL         time.Duration // Session lifetime (default: 7d)
	SessionLimit       int           // Concurrent sessions per user and workspace (default: 5)
	RiskFlagThreshold  int           // Risk score that flags a session (default: 50)
	RiskKillThreshold  int           // Risk score that terminates a session (default: 80)
	AssertionSkew      time.Duration // Accepted age of identity assertions (default: 2m)
	CacheTTL           time.Duration // RBAC and policy cache lifetime (default: 500ms)
	GatewayToken       string        // Shared secret of the identity gateway; empty disables login
	SeedFile           string        // YAML seed applied to an empty store
	SessionRetention   time.Duration // How long ended sessions are kept (default: 30d)
	VelocityPerSecond  float64       // Sustained request rate before a session looks automated (default: 10)
	VelocityBurst      int           // Burst allowed above VelocityPerSecond (default: 30)
	HousekeepingPeriod time.Duration // Housekeeping interval (default: 1h)

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)

	// LogOutput overrides stdout. Not read from the environment.
	LogOutput io.Writer
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:         getEnvOrDefault("GATEKEEP_ISSUER", "gatekeep"),
		Audience:       getEnvList("GATEKEEP_AUDIENCE"),
		Algorithm:      getEnvOrDefault("GATEKEEP_ALGORITHM", jwtx.AlgorithmEdDSA),
		RSABits:        getEnvIntOrDefault("GATEKEEP_RSA_BITS", 0),
		NumKeys:        getEnvIntOrDefault("GATEKEEP_NUM_KEYS", 0),
		KeyStorageMode: getEnvOrDefault("GATEKEEP_KEY_STORAGE_MODE", KeyStorageEphemeral),
		KeyGracePeriod: getEnvDurationOrDefault("GATEKEEP_KEY_GRACE_PERIOD", service.DefaultKeyGracePeriod),
		MasterKeyPath:  os.Getenv("GATEKEEP_MASTER_KEY_PATH"),
		DatabaseFile:   getEnvOrDefault("GATEKEEP_DATABASE_FILE", "gatekeep.db"),

		AccessTTL:         getEnvDurationOrDefault("GATEKEEP_ACCESS_TTL", jwtx.DefaultAccessTokenTTL),
		RefreshTTL:        getEnvDurationOrDefault("GATEKEEP_REFRESH_TTL", jwtx.DefaultRefreshTokenTTL),
		RotationGrace:     getEnvDurationOrDefault("GATEKEEP_ROTATION_GRACE", service.DefaultRefreshGrace),
		BlacklistFailOpen: getEnvBoolOrDefault("GATEKEEP_BLACKLIST_FAIL_OPEN", false),

		SessionTTL:         getEnvDurationOrDefault("GATEKEEP_SESSION_TTL", service.DefaultSessionTTL),
		SessionLimit:       getEnvIntOrDefault("GATEKEEP_SESSION_LIMIT", service.DefaultMaxSessions),
		RiskFlagThreshold:  getEnvIntOrDefault("GATEKEEP_RISK_FLAG_THRESHOLD", service.DefaultFlagThreshold),
		RiskKillThreshold:  getEnvIntOrDefault("GATEKEEP_RISK_KILL_THRESHOLD", service.DefaultKillThreshold),
		AssertionSkew:      getEnvDurationOrDefault("GATEKEEP_ASSERTION_SKEW", service.DefaultAssertionSkew),
		CacheTTL:           getEnvDurationOrDefault("GATEKEEP_CACHE_TTL", service.DefaultCacheTTL),
		GatewayToken:       os.Getenv("GATEKEEP_GATEWAY_TOKEN"),
		SeedFile:           os.Getenv("GATEKEEP_SEED_FILE"),
		SessionRetention:   getEnvDurationOrDefault("GATEKEEP_SESSION_RETENTION", service.DefaultSessionRetention),
		VelocityPerSecond:  getEnvFloatOrDefault("GATEKEEP_VELOCITY_PER_SECOND", 10),
		VelocityBurst:      getEnvIntOrDefault("GATEKEEP_VELOCITY_BURST", 30),
		HousekeepingPeriod: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", service.DefaultHousekeepingInterval),

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	return cfg
}

// AddFlags binds the operational settings to fs. Values already loaded from
// the environment become the flag defaults, so a flag overrides its
// variable. Secrets stay environment only.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Issuer, "issuer", c.Issuer, "issuer claim stamped on tokens")
	fs.StringSliceVar(&c.Audience, "audience", c.Audience, "audiences stamped on and required of access tokens")

	fs.StringVar(&c.Algorithm, "algorithm", c.Algorithm, "JWT signing algorithm (RS256, ES256, EdDSA)")
	fs.IntVar(&c.NumKeys, "num-keys", c.NumKeys, "number of active signing keys")
	fs.StringVar(&c.KeyStorageMode, "key-storage", c.KeyStorageMode, "signing key storage (ephemeral, persistent)")
	fs.StringVar(&c.MasterKeyPath, "master-key", c.MasterKeyPath, "file holding the key that seals persisted private keys")
	fs.StringVar(&c.DatabaseFile, "db", c.DatabaseFile, "SQLite database file")
	fs.StringVar(&c.SeedFile, "seed", c.SeedFile, "YAML seed applied to an empty store")

	fs.DurationVar(&c.AccessTTL, "access-ttl", c.AccessTTL, "access token lifetime")
	fs.DurationVar(&c.RefreshTTL, "refresh-ttl", c.RefreshTTL, "refresh token lifetime")
	fs.BoolVar(&c.BlacklistFailOpen, "blacklist-fail-open", c.BlacklistFailOpen, "accept tokens while the blacklist is unavailable")
	fs.DurationVar(&c.SessionTTL, "session-ttl", c.SessionTTL, "session lifetime")
	fs.IntVar(&c.SessionLimit, "session-limit", c.SessionLimit, "concurrent sessions per user and workspace")

	fs.StringVar(&c.Env, "env", c.Env, "environment name (dev, staging, prod)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format (json, text)")
	fs.IntVarP(&c.Port, "port", "p", c.Port, "HTTP listen port")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && f > 0 {
		return f
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
