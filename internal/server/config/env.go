package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// parseEnv overlays Config fields from environment variables, loading a .env
// file first when one exists. A missing .env is not an error; explicit
// environment always wins over file contents (godotenv does not override).
func parseEnv(cfg *Config) {
	_ = godotenv.Load()

	setString(&cfg.HubAddr, "HUB_ADDR")
	setString(&cfg.DataDir, "DATA_DIR")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.AESSecretKey, "AES_SECRET_KEY")
	setString(&cfg.TLSCertFile, "TLS_CERT_FILE")
	setString(&cfg.TLSKeyFile, "TLS_KEY_FILE")

	if v, ok := lookupInt("DISCOVERY_PORT"); ok {
		cfg.DiscoveryPort = v
	}
	if v, ok := lookupInt("TOKEN_TTL_HOURS"); ok {
		cfg.TokenTTL = time.Duration(v) * time.Hour
	}
	if v, ok := os.LookupEnv("TOTP_ENROLL"); ok {
		b, err := strconv.ParseBool(v)
		if err == nil {
			cfg.TOTPEnroll = b
		}
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func lookupInt(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
