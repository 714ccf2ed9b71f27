package config

import (
    "strings"
    "time"

    "github.com/spf13/viper"
)

// CacheConfig defines settings for the response cache middleware.
// When Enabled is false or no Redis client is configured, caching is
// disabled.  Entries are dropped on every admission or cancellation, so the
// TTL only bounds how long an idle entry lingers.
type CacheConfig struct {
    Enabled      bool
    Methods      map[string]bool
    TTL          time.Duration
    KeyStrategy  string
    Prefix       string
    MaxBodyBytes int
}

// LoadCacheConfig reads environment variables to build a CacheConfig.
// All methods are upper-cased.
func LoadCacheConfig() CacheConfig {
    viper.SetDefault("CACHE_ENABLED", true)
    viper.SetDefault("CACHE_METHODS", "GET")
    viper.SetDefault("CACHE_TTL", "30s")
    viper.SetDefault("CACHE_KEY_STRATEGY", "route_query")
    viper.SetDefault("CACHE_PREFIX", "cache")
    viper.SetDefault("CACHE_MAX_BODY_BYTES", 1048576)
    return CacheConfig{
        Enabled:      viper.GetBool("CACHE_ENABLED"),
        Methods:      parseMethods(viper.GetString("CACHE_METHODS")),
        TTL:          parseDur(viper.GetString("CACHE_TTL")),
        KeyStrategy:  viper.GetString("CACHE_KEY_STRATEGY"),
        Prefix:       viper.GetString("CACHE_PREFIX"),
        MaxBodyBytes: viper.GetInt("CACHE_MAX_BODY_BYTES"),
    }
}

func parseMethods(s string) map[string]bool {
    m := map[string]bool{}
    for _, p := range strings.Split(s, ",") {
        p = strings.TrimSpace(strings.ToUpper(p))
        if p != "" {
            m[p] = true
        }
    }
    return m
}

func parseDur(s string) time.Duration {
    d, err := time.ParseDuration(s)
    if err != nil {
        return time.Second
    }
    return d
}
