package config

// Redis backs the distributed rate limiter and the availability response
// cache.  If the server cannot be reached at startup, NewRedisClient
// returns nil and both middlewares degrade to pass-through.

import (
    "context"
    "crypto/tls"
    "time"

    "github.com/redis/go-redis/v9"
    "github.com/sirupsen/logrus"
    "github.com/spf13/viper"
)

// NewRedisClient instantiates a Redis client using environment variables.
// Supported variables are:
//   REDIS_HOST and REDIS_PORT – hostname and port of the Redis server
//   REDIS_ADDR – host:port shorthand (host/port win when both are set)
//   REDIS_PASSWORD – optional password
//   REDIS_DB – database number (default 0)
//   REDIS_TLS – enable TLS when true
func NewRedisClient() *redis.Client {
    addr := viper.GetString("REDIS_ADDR")
    if host, port := viper.GetString("REDIS_HOST"), viper.GetString("REDIS_PORT"); host != "" && port != "" {
        addr = host + ":" + port
    }
    if addr == "" {
        addr = "localhost:6379"
    }
    var tlsConf *tls.Config
    if viper.GetBool("REDIS_TLS") {
        tlsConf = &tls.Config{InsecureSkipVerify: true}
    }
    client := redis.NewClient(&redis.Options{
        Addr:      addr,
        Password:  viper.GetString("REDIS_PASSWORD"),
        DB:        viper.GetInt("REDIS_DB"),
        TLSConfig: tlsConf,
    })
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        logrus.WithError(err).WithField("addr", addr).Warn("redis unavailable; rate limiting and caching disabled")
        _ = client.Close()
        return nil
    }
    return client
}
