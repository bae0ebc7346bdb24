package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures the environment-driven settings required to boot
// cmd/authorityd. Secrets (database DSN, JWT keys) are read from the
// environment rather than a checked-in file, matching the teacher's
// otc-gateway and governd services.
type ServerConfig struct {
	Env             string
	ListenAddress   string
	DatabaseURL     string
	JWTPublicKeyPEM string
	JWTIssuer       string
	LogFile         string
	OTLPEndpoint    string
	OTLPInsecure    bool
	OTLPHeaders     map[string]string
	WorkerPoolSize  int
	Global          Global
}

// FromEnv loads the server configuration from environment variables,
// applying the documented defaults from spec §6.5 and validating the
// resulting policy snapshot.
func FromEnv() (*ServerConfig, error) {
	dbURL := strings.TrimSpace(os.Getenv("MATCHGUARD_DB_URL"))
	if dbURL == "" {
		return nil, fmt.Errorf("MATCHGUARD_DB_URL is required")
	}
	jwtKey := strings.TrimSpace(os.Getenv("MATCHGUARD_JWT_PUBLIC_KEY"))
	if jwtKey == "" {
		return nil, fmt.Errorf("MATCHGUARD_JWT_PUBLIC_KEY is required")
	}

	cfg := &ServerConfig{
		Env:             strings.TrimSpace(os.Getenv("MATCHGUARD_ENV")),
		ListenAddress:   getEnvDefault("MATCHGUARD_LISTEN_ADDRESS", ":8080"),
		DatabaseURL:     dbURL,
		JWTPublicKeyPEM: jwtKey,
		JWTIssuer:       getEnvDefault("MATCHGUARD_JWT_ISSUER", "matchguard"),
		LogFile:         strings.TrimSpace(os.Getenv("MATCHGUARD_LOG_FILE")),
		OTLPEndpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTLPHeaders:     parseHeaderEnv(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		WorkerPoolSize:  parseIntEnv("MATCHGUARD_CHAIN_POLL_WORKERS", 8),
		Global:          DefaultGlobal(),
	}

	insecure, err := parseBoolEnv("OTEL_EXPORTER_OTLP_INSECURE", true)
	if err != nil {
		return nil, err
	}
	cfg.OTLPInsecure = insecure

	if v := strings.TrimSpace(os.Getenv("MATCHGUARD_MAX_SIGNERS")); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid MATCHGUARD_MAX_SIGNERS %q: %w", v, err)
		}
		cfg.Global.Governance.MaxSigners = uint32(parsed)
	}
	if v := strings.TrimSpace(os.Getenv("MATCHGUARD_PROPOSAL_TTL_SECONDS")); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MATCHGUARD_PROPOSAL_TTL_SECONDS %q: %w", v, err)
		}
		cfg.Global.Governance.ProposalTTLSeconds = parsed
	}
	if v := strings.TrimSpace(os.Getenv("MATCHGUARD_RECONCILE_INTERVAL_SECONDS")); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MATCHGUARD_RECONCILE_INTERVAL_SECONDS %q: %w", v, err)
		}
		cfg.Global.Match.ReconcileIntervalSeconds = parsed
	}
	if v := strings.TrimSpace(os.Getenv("MATCHGUARD_IN_FLIGHT_TTL_SECONDS")); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MATCHGUARD_IN_FLIGHT_TTL_SECONDS %q: %w", v, err)
		}
		cfg.Global.Match.InFlightTTLSeconds = parsed
	}
	if v := strings.TrimSpace(os.Getenv("MATCHGUARD_CHAIN_RETRY_MAX")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MATCHGUARD_CHAIN_RETRY_MAX %q: %w", v, err)
		}
		cfg.Global.ChainRetry.Max = parsed
	}

	if err := ValidateConfig(cfg.Global); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// RequestDeadlines returns the chain RPC deadlines named in spec §5.
func RequestDeadlines() (simulate, submit time.Duration) {
	return 30 * time.Second, 60 * time.Second
}

func getEnvDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseIntEnv(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBoolEnv(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}

func parseHeaderEnv(raw string) map[string]string {
	headers := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(pair)
		if trimmed == "" {
			continue
		}
		key, value, found := strings.Cut(trimmed, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}
		headers[key] = value
	}
	return headers
}
