package upstream

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Tier identifies which configuration bucket an endpoint belongs to.
// Priority 0 (local) is never hard-disabled; priorities 1 and 2 can be,
// after enough consecutive failures.
type Tier int

const (
	TierLocal Tier = iota
	TierAdditional
	TierPublic
)

func (t Tier) String() string {
	switch t {
	case TierLocal:
		return "local"
	case TierAdditional:
		return "additional"
	case TierPublic:
		return "public"
	default:
		return "unknown"
	}
}

// EndpointConfig describes one configured mempool-style endpoint before
// any runtime state has been attached.
type EndpointConfig struct {
	Name          string
	BaseURL       string
	Priority      int
	MaxConcurrent int
	RequestDelay  time.Duration
	Enabled       bool
}

// Config is the fully assembled, typed configuration for the endpoint
// pool and request/failover driver. It mirrors the env-key table in
// spec.md §6 one field at a time, read with the same getEnvOrDefault
// style cmd/engine/main.go uses.
type Config struct {
	LocalURL          string
	AdditionalURLs    []string
	PublicURLs        []string
	DisabledEndpoints map[string]bool

	LocalMaxConcurrent      int
	AdditionalMaxConcurrent int
	PublicMaxConcurrent     int

	LocalRequestDelay      time.Duration
	AdditionalRequestDelay time.Duration
	PublicRequestDelay     time.Duration

	GlobalMaxInflight int

	RequestTimeout      time.Duration
	MinRequestTimeout   time.Duration
	HardRequestTimeout  time.Duration
	RequestTotalTimeout time.Duration

	FailureCooldown time.Duration

	ConcurrencyAdjustWindow    int
	ConcurrencySuccessTarget   float64
	ConcurrencyLatencyTarget   time.Duration
	ConcurrencyFailureThreshold int

	DefaultPageSize int

	CacheTTLTransaction     time.Duration
	CacheTTLAddressHistory  time.Duration
}

// LoadConfigFromEnv assembles Config from the process environment using
// the exact keys spec.md §6 names. Every unset or unparseable key falls
// back to a default, including the local endpoint URL
// (http://127.0.0.1:8999/api); nothing here fails on a missing key.
func LoadConfigFromEnv() Config {
	return Config{
		LocalURL:          getEnvOrDefault("MEMPOOL_LOCAL_URL", "http://127.0.0.1:8999/api"),
		AdditionalURLs:    splitEnvList("MEMPOOL_ADDITIONAL_URLS"),
		PublicURLs:        splitEnvList("MEMPOOL_PUBLIC_URLS"),
		DisabledEndpoints: toSet(splitEnvList("MEMPOOL_ENDPOINT_DISABLED")),

		LocalMaxConcurrent:      getEnvInt("MEMPOOL_LOCAL_MAX_CONCURRENT", 16),
		AdditionalMaxConcurrent: getEnvInt("MEMPOOL_ADDITIONAL_MAX_CONCURRENT", 8),
		PublicMaxConcurrent:     getEnvInt("MEMPOOL_PUBLIC_MAX_CONCURRENT", 2),

		LocalRequestDelay:      getEnvDurationMillis("MEMPOOL_LOCAL_REQUEST_DELAY", 0),
		AdditionalRequestDelay: getEnvDurationMillis("MEMPOOL_ADDITIONAL_REQUEST_DELAY", 0),
		PublicRequestDelay:     getEnvDurationMillis("MEMPOOL_PUBLIC_REQUEST_DELAY", 250),

		GlobalMaxInflight: getEnvInt("MEMPOOL_GLOBAL_MAX_INFLIGHT", 64),

		RequestTimeout:      getEnvDurationSeconds("MEMPOOL_REQUEST_TIMEOUT", 10),
		MinRequestTimeout:   getEnvDurationSeconds("MEMPOOL_MIN_REQUEST_TIMEOUT", 2),
		HardRequestTimeout:  getEnvDurationSeconds("MEMPOOL_HARD_REQUEST_TIMEOUT", 20),
		RequestTotalTimeout: getEnvDurationSeconds("MEMPOOL_REQUEST_TOTAL_TIMEOUT", 30),

		FailureCooldown: getEnvDurationSeconds("MEMPOOL_FAILURE_COOLDOWN_SECONDS", 30),

		ConcurrencyAdjustWindow:     getEnvInt("MEMPOOL_CONCURRENCY_ADJUST_WINDOW", 100),
		ConcurrencySuccessTarget:    getEnvFloat("MEMPOOL_CONCURRENCY_SUCCESS_TARGET", 0.95),
		ConcurrencyLatencyTarget:    getEnvDurationMillis("MEMPOOL_CONCURRENCY_LATENCY_TARGET", 800),
		ConcurrencyFailureThreshold: getEnvInt("MEMPOOL_CONCURRENCY_FAILURE_THRESHOLD", 5),

		DefaultPageSize: getEnvInt("MEMPOOL_DEFAULT_PAGE_SIZE", 50),

		CacheTTLTransaction:    getEnvDurationSeconds("CACHE_TTL_TRANSACTION", 86400),
		CacheTTLAddressHistory: getEnvDurationSeconds("CACHE_TTL_ADDRESS_HISTORY", 60),
	}
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDurationSeconds(key string, fallbackSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackSeconds)) * time.Second
}

func getEnvDurationMillis(key string, fallbackMillis int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackMillis)) * time.Millisecond
}

func splitEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.TrimRight(p, "/"))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}
