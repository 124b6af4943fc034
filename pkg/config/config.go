// Package config loads the service's environment-driven configuration.
package config

import (
	"fmt"
	"os"
	"strings"
)

// devMasterKeyDefault is the well-known development-only master key
// used when MASTER_KEY is unset. Never adequate for production use;
// Load surfaces its use on stderr every time it's selected.
const devMasterKeyDefault = "dev-only-insecure-shield-master-key"

// Config holds server configuration read from the environment.
type Config struct {
	ServerHost     string
	ServerPort     string
	DatabaseURL    string
	AllowedOrigins []string

	// MasterKeyRaw is the raw MASTER_KEY env value before pad/truncate
	// normalization (see pkg/erasure.NormalizeMasterKey).
	MasterKeyRaw string
	// NexusSealSalt is mixed into every evidence event's nexus_seal.
	NexusSealSalt string

	RedisAddr string
}

// Load reads Config from the environment, applying the same defaults the
// service has always shipped with (dev-friendly, loud about the ones that
// matter for security).
func Load() *Config {
	host := os.Getenv("SERVER_HOST")
	if host == "" {
		host = "0.0.0.0"
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://shield@localhost:5432/shield?sslmode=disable"
	}

	salt := os.Getenv("NEXUS_SEAL_SALT")
	if salt == "" {
		salt = "nexus-seal-default-salt"
	}

	var origins []string
	if raw := os.Getenv("ALLOWED_ORIGINS"); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}

	masterKey := os.Getenv("MASTER_KEY")
	if masterKey == "" {
		masterKey = devMasterKeyDefault
		fmt.Fprintln(os.Stderr, "[shield] MASTER_KEY not set; using well-known development-only default — do not run this in production")
	}

	return &Config{
		ServerHost:     host,
		ServerPort:     port,
		DatabaseURL:    dbURL,
		AllowedOrigins: origins,
		MasterKeyRaw:   masterKey,
		NexusSealSalt:  salt,
		RedisAddr:      os.Getenv("REDIS_ADDR"),
	}
}
