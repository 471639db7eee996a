package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "classdesk"

// Keys shared by CLI flags, environment variables (CLASSDESK_<KEY>) and viper.
const (
	KeyAddr           = "addr"
	KeyDataDir        = "data-dir"
	KeyLocalKey       = "local-key"
	KeyRemoteDSN      = "remote-dsn"
	KeyFlushDelay     = "flush-delay"
	KeyWriteTimeout   = "write-timeout"
	KeyIdentitySecret = "identity-secret"
	KeyLogLevel       = "log-level"
	KeyCORSOrigin     = "cors-origin"
)

type Config struct {
	Addr     string
	DataDir  string
	LocalKey string
	// RemoteDSN selects the remote store: redis://, postgres://, s3://, minio://
	// or memory://. Empty disables remote sync.
	RemoteDSN      string
	FlushDelay     time.Duration
	WriteTimeout   time.Duration
	IdentitySecret string
	LogLevel       string
	CORSOrigin     string
}

// New returns a viper instance reading CLASSDESK_* variables, after loading
// .env and .env.local from the working directory when present.
func New() *viper.Viper {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyAddr, ":8787")
	v.SetDefault(KeyDataDir, "./data")
	v.SetDefault(KeyLocalKey, "classdesk-state")
	v.SetDefault(KeyRemoteDSN, "")
	v.SetDefault(KeyFlushDelay, time.Second)
	v.SetDefault(KeyWriteTimeout, 10*time.Second)
	v.SetDefault(KeyIdentitySecret, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyCORSOrigin, "*")
}

func Load() Config {
	return FromViper(New())
}

func FromViper(v *viper.Viper) Config {
	cfg := Config{
		Addr:           v.GetString(KeyAddr),
		DataDir:        v.GetString(KeyDataDir),
		LocalKey:       v.GetString(KeyLocalKey),
		RemoteDSN:      strings.TrimSpace(v.GetString(KeyRemoteDSN)),
		FlushDelay:     v.GetDuration(KeyFlushDelay),
		WriteTimeout:   v.GetDuration(KeyWriteTimeout),
		IdentitySecret: v.GetString(KeyIdentitySecret),
		LogLevel:       v.GetString(KeyLogLevel),
		CORSOrigin:     v.GetString(KeyCORSOrigin),
	}
	if cfg.FlushDelay <= 0 {
		cfg.FlushDelay = time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return cfg
}

// Level maps LogLevel to a slog level, falling back to info.
func (c Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}
