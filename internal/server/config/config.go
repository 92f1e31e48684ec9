// Package config handles configuration for the hub, including defaults,
// environment overlay (.env supported), and command-line flags.
package config

import (
	"errors"
	"time"
)

// Config holds runtime settings for the QuickMessenger hub.
//
// Fields:
//   - HubAddr: bind address for the WebSocket endpoint.
//   - DiscoveryPort: UDP port answering LAN discovery probes.
//   - DataDir: directory for the hub key, user database, history and audit log.
//   - JWTSecret: HMAC secret signing reconnect tokens (HS256). Required.
//   - AESSecretKey: secret deriving the at-rest key for the user database and
//     audit log. Required.
//   - TokenTTL: reconnect token lifetime.
//   - TLSCertFile / TLSKeyFile: optional certificate pair; both set enables TLS.
//   - TOTPEnroll: when true, brand-new identities get a second-factor secret.
type Config struct {
	HubAddr       string
	DiscoveryPort int
	DataDir       string
	JWTSecret     string
	AESSecretKey  string
	TokenTTL      time.Duration
	TLSCertFile   string
	TLSKeyFile    string
	TOTPEnroll    bool
}

// LoadDefaults populates Config with development defaults. The two secrets
// have no default: they must come from the environment or flags.
func (c *Config) LoadDefaults() {
	c.HubAddr = ":8080"
	c.DiscoveryPort = 8081
	c.DataDir = "data"
	c.TokenTTL = 24 * time.Hour
}

// Validate enforces mandatory secrets. Absence is a fatal startup error by
// contract, so callers exit on a non-nil result.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.AESSecretKey == "" {
		return errors.New("AES_SECRET_KEY is required")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	return nil
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from the environment (including a .env file if present) and finally from
// command-line flags.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)
	parseFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
