package config

import (
    "time"

    "github.com/spf13/viper"
)

type RateLimitConfig struct {
    Enabled        bool
    Capacity       int
    RefillTokens   int
    RefillInterval time.Duration
    TTL            time.Duration
    KeyStrategy    string
    Prefix         string
    Debug          bool
}

func LoadRateLimitConfig() RateLimitConfig {
    viper.SetDefault("RATE_LIMIT_ENABLED", true)
    viper.SetDefault("RATE_LIMIT_CAPACITY", 60)
    viper.SetDefault("RATE_LIMIT_REFILL_TOKENS", 1)
    viper.SetDefault("RATE_LIMIT_REFILL_INTERVAL", time.Second)
    viper.SetDefault("RATE_LIMIT_TTL", 10*time.Minute)
    viper.SetDefault("RATE_LIMIT_KEY_STRATEGY", "ip_route")
    viper.SetDefault("RATE_LIMIT_PREFIX", "rl")
    viper.SetDefault("RATE_LIMIT_DEBUG", false)
    def := RateLimitConfig{
        Enabled:        viper.GetBool("RATE_LIMIT_ENABLED"),
        Capacity:       viper.GetInt("RATE_LIMIT_CAPACITY"),
        RefillTokens:   viper.GetInt("RATE_LIMIT_REFILL_TOKENS"),
        RefillInterval: viper.GetDuration("RATE_LIMIT_REFILL_INTERVAL"),
        TTL:            viper.GetDuration("RATE_LIMIT_TTL"),
        KeyStrategy:    viper.GetString("RATE_LIMIT_KEY_STRATEGY"),
        Prefix:         viper.GetString("RATE_LIMIT_PREFIX"),
        Debug:          viper.GetBool("RATE_LIMIT_DEBUG"),
    }
    return def.normalize()
}

func (def RateLimitConfig) normalize() RateLimitConfig {
    if def.Capacity < 1 {
        def.Capacity = 1
    }
    if def.RefillTokens < 1 {
        def.RefillTokens = 1
    }
    if def.RefillInterval <= 0 {
        def.RefillInterval = time.Second
    }
    minTTL := 5 * def.RefillInterval
    if def.TTL < minTTL {
        def.TTL = minTTL
    }
    return def
}
