package modelgate

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cryptocrystian/modelgate/internal/breaker"
	"github.com/cryptocrystian/modelgate/internal/catalog"
	"github.com/cryptocrystian/modelgate/internal/config"
	"github.com/cryptocrystian/modelgate/internal/decisionlog"
	"github.com/cryptocrystian/modelgate/internal/ledger"
	"github.com/cryptocrystian/modelgate/internal/policy"
	"github.com/cryptocrystian/modelgate/internal/ratelimit"
	"github.com/cryptocrystian/modelgate/internal/respcache"
	"github.com/cryptocrystian/modelgate/pkg/types"
)

// EngineConfig holds all configuration for the Engine. Most callers use
// functional options rather than building this directly.
type EngineConfig struct {
	// Backing stores. Nil fields default to in-memory implementations.
	PolicyStore  policy.Store
	CounterStore ledger.CounterStore
	WindowStore  ratelimit.WindowStore
	Cache        respcache.Cache
	DecisionLog  decisionlog.Store
	Catalog      *catalog.Catalog

	// CatalogPath loads the catalog from a YAML file when Catalog is nil.
	CatalogPath string
	// CatalogHotReload watches CatalogPath for changes.
	CatalogHotReload bool

	// Selection and guardrail tuning.
	Weights             types.ScoringWeights
	BreakerConfig       breaker.Config
	RateLimit           ratelimit.Config
	TelemetryWindowSize int

	// Response cache tuning.
	CacheEnabled        bool
	CacheTTL            time.Duration
	CacheMaxEntries     int
	CacheNominalCostUSD float64
	CacheKeyPrefix      string

	// PolicyCacheTTL wraps the policy store in a read-through cache when
	// positive. Useful for database-backed stores.
	PolicyCacheTTL time.Duration

	Logger *slog.Logger
	Clock  types.Clock
}

// Option configures the Engine.
type Option func(*EngineConfig)

// WithConfig applies settings loaded from a YAML configuration file.
func WithConfig(cfg *config.Config) Option {
	return func(c *EngineConfig) {
		c.Weights = cfg.Scoring.Weights()
		c.BreakerConfig = breaker.Config{
			DeviationThreshold: cfg.Breaker.DeviationThreshold,
			ErrorRateCeiling:   cfg.Breaker.ErrorRateCeiling,
			CoolDown:           cfg.Breaker.CoolDown,
			MinSamples:         int64(cfg.Breaker.MinSamples),
		}
		c.RateLimit = ratelimit.Config{
			BurstWindow:     cfg.RateLimit.BurstWindow,
			SustainedWindow: cfg.RateLimit.SustainedWindow,
		}
		c.CacheEnabled = cfg.Cache.Enabled
		c.CacheTTL = cfg.Cache.TTL
		c.CacheMaxEntries = cfg.Cache.MaxEntries
		c.CacheNominalCostUSD = cfg.Cache.NominalCostUSD
		c.CacheKeyPrefix = cfg.Cache.KeyPrefix
		c.TelemetryWindowSize = cfg.Telemetry.WindowSize
		c.Logger = cfg.Logging.Logger()
		if cfg.Catalog.Path != "" {
			c.CatalogPath = cfg.Catalog.Path
			c.CatalogHotReload = cfg.Catalog.HotReload
		}
	}
}

// WithPolicyStore sets the policy store backend.
func WithPolicyStore(store policy.Store) Option {
	return func(c *EngineConfig) { c.PolicyStore = store }
}

// WithCounterStore sets the usage counter backend.
func WithCounterStore(store ledger.CounterStore) Option {
	return func(c *EngineConfig) { c.CounterStore = store }
}

// WithWindowStore sets the rate limit window backend.
func WithWindowStore(store ratelimit.WindowStore) Option {
	return func(c *EngineConfig) { c.WindowStore = store }
}

// WithCache sets the response cache backend.
func WithCache(cache respcache.Cache) Option {
	return func(c *EngineConfig) { c.Cache = cache }
}

// WithDecisionLog sets the decision log backend.
func WithDecisionLog(store decisionlog.Store) Option {
	return func(c *EngineConfig) { c.DecisionLog = store }
}

// WithRedis wires the usage counters, rate limit windows, and response
// cache to Redis so guardrails hold across engine instances.
func WithRedis(client redis.UniversalClient) Option {
	return func(c *EngineConfig) {
		c.CounterStore = ledger.NewRedisCounterStore(client, "modelgate")
		c.WindowStore = ratelimit.NewRedisWindowStore(client, "modelgate")
		c.Cache = respcache.NewRedisCache(client, "modelgate:cache", c.CacheTTL)
	}
}

// WithPostgres wires the policy store and decision log to PostgreSQL.
// Call EnsureSchema on each store once at startup to create the tables.
func WithPostgres(db *sql.DB) Option {
	return func(c *EngineConfig) {
		c.PolicyStore = policy.NewPostgresStore(db)
		c.DecisionLog = decisionlog.NewPostgresStore(db)
	}
}

// WithCatalog sets the model catalog.
func WithCatalog(cat *catalog.Catalog) Option {
	return func(c *EngineConfig) { c.Catalog = cat }
}

// WithCatalogFile loads the model catalog from a YAML file.
func WithCatalogFile(path string) Option {
	return func(c *EngineConfig) { c.CatalogPath = path }
}

// WithCatalogHotReload watches the catalog file and swaps in valid updates.
func WithCatalogHotReload(enabled bool) Option {
	return func(c *EngineConfig) { c.CatalogHotReload = enabled }
}

// WithScoringWeights overrides the selection factor weights.
func WithScoringWeights(w types.ScoringWeights) Option {
	return func(c *EngineConfig) { c.Weights = w }
}

// WithBreakerConfig overrides the circuit breaker thresholds.
func WithBreakerConfig(cfg breaker.Config) Option {
	return func(c *EngineConfig) { c.BreakerConfig = cfg }
}

// WithRateLimitConfig overrides the rate limit window durations.
func WithRateLimitConfig(cfg ratelimit.Config) Option {
	return func(c *EngineConfig) { c.RateLimit = cfg }
}

// WithCacheTTL sets the response cache entry lifetime.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *EngineConfig) { c.CacheTTL = ttl }
}

// WithCacheDisabled turns the response cache off for every request.
func WithCacheDisabled() Option {
	return func(c *EngineConfig) { c.CacheEnabled = false }
}

// WithCacheMaxEntries caps the in-memory response cache size.
func WithCacheMaxEntries(n int) Option {
	return func(c *EngineConfig) { c.CacheMaxEntries = n }
}

// WithCacheNominalCost sets the cost charged for serving a cached
// response in place of a provider call.
func WithCacheNominalCost(usd float64) Option {
	return func(c *EngineConfig) { c.CacheNominalCostUSD = usd }
}

// WithTelemetryWindowSize sets the rolling sample window per pair.
func WithTelemetryWindowSize(n int) Option {
	return func(c *EngineConfig) { c.TelemetryWindowSize = n }
}

// WithPolicyCacheTTL wraps the policy store in a read-through cache.
func WithPolicyCacheTTL(ttl time.Duration) Option {
	return func(c *EngineConfig) { c.PolicyCacheTTL = ttl }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *EngineConfig) { c.Logger = logger }
}

// WithClock injects the time source, for deterministic tests.
func WithClock(clock types.Clock) Option {
	return func(c *EngineConfig) { c.Clock = clock }
}

func defaultEngineConfig() *EngineConfig {
	fileDefaults := config.DefaultConfig()
	return &EngineConfig{
		Weights:             types.DefaultScoringWeights(),
		BreakerConfig:       breaker.DefaultConfig(),
		RateLimit:           ratelimit.DefaultConfig(),
		TelemetryWindowSize: fileDefaults.Telemetry.WindowSize,
		CacheEnabled:        fileDefaults.Cache.Enabled,
		CacheTTL:            fileDefaults.Cache.TTL,
		CacheMaxEntries:     fileDefaults.Cache.MaxEntries,
		CacheNominalCostUSD: fileDefaults.Cache.NominalCostUSD,
	}
}
