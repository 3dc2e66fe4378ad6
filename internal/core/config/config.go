// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"

	// ListingTTL applies to the whole-collection listing caches unless overridden.
	ListingTTL = time.Hour
)

type LogCfg struct {
	Level   string
	Console bool
	SampleN int
}

type ClickHouseCfg struct {
	DSN      string
	Database string
}

type CacheCfg struct {
	Enabled     bool
	Backend     string
	RedisURL    string
	TTLDefault  time.Duration
	TTLOvr      map[string]time.Duration
	OpTimeout   time.Duration
	MemEntries  int
	CompressMin int
}

type EventsCfg struct {
	Enabled bool
	Brokers []string
	Topic   string
	Queue   int
}

type Config struct {
	Host           string
	Port           int
	Log            LogCfg
	ClickHouse     ClickHouseCfg
	Cache          CacheCfg
	Events         EventsCfg
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func FromEnv() Config {
	ttlOvr := parseDurationMap(getenv("CACHE_TTL_OVERRIDES", ""))
	for _, ns := range []string{"instruments", "constituents"} {
		if _, ok := ttlOvr[ns]; !ok {
			ttlOvr[ns] = ListingTTL
		}
	}

	return Config{
		Host: getenv("PIVOT_API_HOST", "0.0.0.0"),
		Port: getint("PIVOT_API_PORT", 8080),
		Log: LogCfg{
			Level:   getenv("LOG_LEVEL", "info"),
			Console: getbool("LOG_CONSOLE", false),
			SampleN: getint("LOG_SAMPLE_N", 0),
		},
		ClickHouse: ClickHouseCfg{
			DSN:      getenv("CLICKHOUSE_DSN", "tcp://localhost:9000?database=pivot"),
			Database: getenv("CLICKHOUSE_DATABASE", "pivot"),
		},
		Cache: CacheCfg{
			Enabled:     getbool("CACHE_ENABLED", true),
			Backend:     strings.ToLower(getenv("CACHE_BACKEND", BackendRedis)),
			RedisURL:    getenv("REDIS_URL", "redis://localhost:6379"),
			TTLDefault:  time.Duration(getint("CACHE_TTL_SECONDS", 300)) * time.Second,
			TTLOvr:      ttlOvr,
			OpTimeout:   getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
			MemEntries:  getint("CACHE_MEMORY_ENTRIES", 10000),
			CompressMin: getint("CACHE_COMPRESS_MIN_BYTES", 16384),
		},
		Events: EventsCfg{
			Enabled: getbool("EVENTS_ENABLED", false),
			Brokers: splitList(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getenv("KAFKA_TOPIC", "pivot-query-events"),
			Queue:   getint("EVENTS_QUEUE", 1024),
		},
		RequestTimeout: getduration("REQUEST_TIMEOUT", 30*time.Second),
		MaxBodyBytes:   int64(getint("MAX_BODY_BYTES", 1<<20)),
	}
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PIVOT_API_PORT out of range: %d", c.Port)
	}
	if strings.TrimSpace(c.ClickHouse.DSN) == "" {
		return fmt.Errorf("CLICKHOUSE_DSN is required")
	}
	switch c.Cache.Backend {
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("CACHE_BACKEND must be %q or %q, got %q", BackendRedis, BackendMemory, c.Cache.Backend)
	}
	if c.Cache.TTLDefault <= 0 {
		return fmt.Errorf("CACHE_TTL_SECONDS must be positive")
	}
	if c.Events.Enabled && len(c.Events.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when EVENTS_ENABLED=true")
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parse "pnl=30s,instruments=2h" into map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	for p := range strings.SplitSeq(strings.TrimSpace(s), ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			out[k] = d
		}
	}
	return out
}
