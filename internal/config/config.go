package config

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	infisical "github.com/infisical/go-sdk"
)

type Config struct {
	Port           string
	DatabaseURL    string
	FrontendOrigin string
	RedisURL       string
	RedisPassword  string
	AdminToken     string

	// Chain RPC endpoints for the on-chain adapter.
	BaseRPCURL     string
	EthereumRPCURL string

	// Aggregator endpoints and their requests-per-minute ceilings.
	DexScreenerURL   string
	GeckoTerminalURL string
	BlockscoutURL    string
	DexScreenerRPM   int
	GeckoTerminalRPM int
	BlockscoutRPM    int

	SnapshotInterval  time.Duration
	SignalInterval    time.Duration
	AnalyticsInterval time.Duration
	PacingDelay       time.Duration
	AdapterTimeout    time.Duration
	ReferencePriceTTL time.Duration
	GrowthWindowDays  int
	LeaseTTL          time.Duration // job lease in Redis, renewed while a job runs

	// JSON documents; see sources.ParsePoolRegistry / ParseReferencePools.
	PoolRegistry   string
	ReferencePools string
}

func Load() Config {
	cfg := Config{
		Port:           envOr("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		FrontendOrigin: envOr("FRONTEND_ORIGIN", "*"),
		RedisURL:       os.Getenv("REDIS_URL"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		AdminToken:     os.Getenv("ADMIN_TOKEN"),

		BaseRPCURL:     os.Getenv("BASE_RPC_URL"),
		EthereumRPCURL: os.Getenv("ETHEREUM_RPC_URL"),

		DexScreenerURL:   os.Getenv("DEXSCREENER_URL"),
		GeckoTerminalURL: os.Getenv("GECKOTERMINAL_URL"),
		BlockscoutURL:    os.Getenv("BLOCKSCOUT_URL"),
		DexScreenerRPM:   envInt("DEXSCREENER_RPM", 300),
		GeckoTerminalRPM: envInt("GECKOTERMINAL_RPM", 30),
		BlockscoutRPM:    envInt("BLOCKSCOUT_RPM", 120),

		SnapshotInterval:  envDuration("SNAPSHOT_INTERVAL", 15*time.Minute),
		SignalInterval:    envDuration("SIGNAL_INTERVAL", time.Hour),
		AnalyticsInterval: envDuration("ANALYTICS_INTERVAL", time.Hour),
		PacingDelay:       envDuration("PACING_DELAY", 2*time.Second),
		AdapterTimeout:    envDuration("ADAPTER_TIMEOUT", 10*time.Second),
		ReferencePriceTTL: envDuration("REFERENCE_PRICE_TTL", 5*time.Minute),
		GrowthWindowDays:  envInt("GROWTH_WINDOW_DAYS", 7),
		LeaseTTL:          envDuration("LEASE_TTL", 30*time.Minute),

		PoolRegistry:   os.Getenv("POOL_REGISTRY"),
		ReferencePools: os.Getenv("REFERENCE_POOLS"),
	}

	// If Infisical credentials are available, fetch secrets from Infisical
	clientID := os.Getenv("INFISICAL_CLIENT_ID")
	clientSecret := os.Getenv("INFISICAL_CLIENT_SECRET")
	if clientID != "" && clientSecret != "" {
		loadFromInfisical(&cfg, clientID, clientSecret)
	}

	return cfg
}

// secretTargets lists the fields Infisical may fill. RPC URLs are included
// because hosted providers embed the API key in the path.
func secretTargets(cfg *Config) map[string]*string {
	return map[string]*string{
		"DATABASE_URL":     &cfg.DatabaseURL,
		"REDIS_PASSWORD":   &cfg.RedisPassword,
		"ADMIN_TOKEN":      &cfg.AdminToken,
		"BASE_RPC_URL":     &cfg.BaseRPCURL,
		"ETHEREUM_RPC_URL": &cfg.EthereumRPCURL,
	}
}

func loadFromInfisical(cfg *Config, clientID, clientSecret string) {
	siteURL := envOr("INFISICAL_SITE_URL",
		"http://infisical-infisical-standalone-infisical.infisical.svc.cluster.local:8080")
	projectID := os.Getenv("INFISICAL_PROJECT_ID")
	envSlug := envOr("INFISICAL_ENV", "prod")

	if projectID == "" {
		slog.Warn("INFISICAL_PROJECT_ID not set, skipping Infisical")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          siteURL,
		AutoTokenRefresh: false,
	})

	_, err := client.Auth().UniversalAuthLogin(clientID, clientSecret)
	if err != nil {
		slog.Error("infisical auth failed", "error", err)
		return
	}

	for key, target := range secretTargets(cfg) {
		if *target != "" {
			continue // env var already set, skip
		}
		secret, err := client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
			SecretKey:   key,
			Environment: envSlug,
			ProjectID:   projectID,
			SecretPath:  "/",
		})
		if err != nil {
			slog.Warn("failed to retrieve secret from infisical", "key", key, "error", err)
			continue
		}
		*target = secret.SecretValue
		slog.Info("loaded secret from infisical", "key", key)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer env, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		slog.Warn("invalid duration env, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}
