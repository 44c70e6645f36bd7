package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/callshield/internal/domain"
)

// loadConfig picks the tier defaults and applies CALLSHIELD_* overrides.
func loadConfig(getenv func(string) string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if getenv("CALLSHIELD_TIER") == string(domain.TierPro) {
		cfg = domain.ProConfig()
	}

	if getenv("CALLSHIELD_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	setString(getenv, "CALLSHIELD_LOG_LEVEL", &cfg.Logging.Level)
	setString(getenv, "CALLSHIELD_LOG_FORMAT", &cfg.Logging.Format)

	var errs []string
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	setString(getenv, "CALLSHIELD_HOST", &cfg.Server.Host)
	collect(setInt(getenv, "CALLSHIELD_PORT", &cfg.Server.Port))

	collect(setDuration(getenv, "CALLSHIELD_ALERT_COOLDOWN", &cfg.Session.AlertCooldown))
	collect(setInt(getenv, "CALLSHIELD_UPDATE_BUFFER", &cfg.Session.UpdateBuffer))
	collect(setDuration(getenv, "CALLSHIELD_SIMULATED_LINE_DELAY", &cfg.Session.SimulatedLineDelay))

	setString(getenv, "CALLSHIELD_STT_URL", &cfg.Transcription.WebSocketURL)
	setString(getenv, "CALLSHIELD_STT_API_KEY", &cfg.Transcription.APIKey)
	setString(getenv, "CALLSHIELD_STT_MODEL", &cfg.Transcription.Model)
	setString(getenv, "CALLSHIELD_STT_LANGUAGE", &cfg.Transcription.Language)
	collect(setInt(getenv, "CALLSHIELD_STT_SAMPLE_RATE", &cfg.Transcription.SampleRate))
	setString(getenv, "CALLSHIELD_AUDIO_PATH", &cfg.Transcription.AudioPath)

	setString(getenv, "CALLSHIELD_SUMMARY_PROVIDER", &cfg.Summary.Provider)
	setString(getenv, "CALLSHIELD_SUMMARY_MODEL", &cfg.Summary.Model)
	setString(getenv, "GEMINI_API_KEY", &cfg.Summary.APIKey)
	setString(getenv, "CALLSHIELD_GEMINI_API_KEY", &cfg.Summary.APIKey)
	collect(setDuration(getenv, "CALLSHIELD_SUMMARY_TIMEOUT", &cfg.Summary.Timeout))

	setString(getenv, "CALLSHIELD_SQLITE_PATH", &cfg.Repository.SQLitePath)
	setString(getenv, "CALLSHIELD_DATABASE_URL", &cfg.Repository.PostgresURL)
	setString(getenv, "CALLSHIELD_POSTGRES_HOST", &cfg.Repository.PostgresHost)
	collect(setInt(getenv, "CALLSHIELD_POSTGRES_PORT", &cfg.Repository.PostgresPort))
	setString(getenv, "CALLSHIELD_POSTGRES_USER", &cfg.Repository.PostgresUser)
	setString(getenv, "CALLSHIELD_POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	setString(getenv, "CALLSHIELD_POSTGRES_DB", &cfg.Repository.PostgresDB)
	setString(getenv, "CALLSHIELD_POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)

	setString(getenv, "CALLSHIELD_REDIS_ADDR", &cfg.Cache.RedisAddr)
	setString(getenv, "CALLSHIELD_REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	collect(setDuration(getenv, "CALLSHIELD_SNAPSHOT_TTL", &cfg.Cache.SnapshotTTL))

	setString(getenv, "CALLSHIELD_NATS_URL", &cfg.EventBus.NATSUrl)
	setString(getenv, "CALLSHIELD_NATS_TOKEN", &cfg.EventBus.NATSToken)

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func setString(getenv func(string) string, key string, dst *string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func setInt(getenv func(string) string, key string, dst *int) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(getenv func(string) string, key string, dst *time.Duration) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

// tenantList parses a comma-separated tenant list.
func tenantList(v string) []string {
	var out []string
	for _, t := range strings.Split(v, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

