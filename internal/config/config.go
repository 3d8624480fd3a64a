// Package config holds the explicit runtime configuration for the
// price tracker. It is loaded once in main and threaded into each
// component at construction time; nothing below main reads the
// environment directly.
package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Port   string `env:"PORT" env-default:"8080"`
	DBPath string `env:"DB_PATH" env-default:"./price_tracker.db"`

	// Sweep tuning
	SweepBatchSize int           `env:"SWEEP_BATCH_SIZE" env-default:"50"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" env-default:"1h"`

	// Dispatch tuning
	DispatchBatchSize int           `env:"DISPATCH_BATCH_SIZE" env-default:"100"`
	DispatchPause     time.Duration `env:"DISPATCH_PAUSE" env-default:"500ms"`

	// Firebase service account for FCM v1 push delivery. All three must
	// be set for push to be enabled.
	FirebaseProjectID   string `env:"FIREBASE_PROJECT_ID"`
	FirebaseClientEmail string `env:"FIREBASE_CLIENT_EMAIL"`
	FirebasePrivateKey  string `env:"FIREBASE_PRIVATE_KEY"`

	// HS256 secret for bearer tokens on the user-facing endpoints
	AuthSecret string `env:"AUTH_JWT_SECRET"`

	// Comma-separated CORS origins; empty means allow all (the mobile
	// clients call these endpoints directly)
	CORSOrigins string `env:"CORS_ALLOWED_ORIGINS"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
