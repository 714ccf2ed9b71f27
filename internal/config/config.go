package config // package config loads application configuration from environment variables

import (
    "strings"

    "github.com/joho/godotenv"
    "github.com/sirupsen/logrus"
    "github.com/spf13/viper"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable of the same name in upper case.
type Config struct {
    Env       string // application environment (e.g. "dev", "prod")
    Port      string // HTTP port to listen on
    LogLevel  string // logrus level name
    DBDriver  string // mysql, postgres or sqlite3
    DBUser    string // database username
    DBPass    string // database password (optional)
    DBHost    string // database host address
    DBPort    string // database port number
    DBName    string // database name, or file path for sqlite3
    JWTSecret string // secret used to verify operator JWTs; empty disables auth
    Inventory InventoryConfig
}

// InventoryConfig describes the shape of the berth pool and the allocation
// rules applied to it.
type InventoryConfig struct {
    TotalBerths         int    // CONFIRMED capacity
    RACCapacity         int    // RAC positions (two per side-lower berth)
    WaitingListCapacity int    // bounded waiting list
    LowerBerthQuota     int    // max CONFIRMED tickets preferentially given LOWER
    ChildAgeLimit       int    // passengers younger than this travel without a berth
    SeniorAge           int    // passengers at or above this age are priority
    ChildPolicy         string // "attached" or "standalone"
}

// Child policies.
const (
    ChildPolicyAttached   = "attached"
    ChildPolicyStandalone = "standalone"
)

// DefaultInventory matches a single sleeper coach.
func DefaultInventory() InventoryConfig {
    return InventoryConfig{
        TotalBerths:         63,
        RACCapacity:         18,
        WaitingListCapacity: 10,
        LowerBerthQuota:     21,
        ChildAgeLimit:       5,
        SeniorAge:           60,
        ChildPolicy:         ChildPolicyAttached,
    }
}

func init() {
    viper.AutomaticEnv()
    viper.SetDefault("APP_ENV", "dev")
    viper.SetDefault("APP_PORT", "3000")
    viper.SetDefault("LOG_LEVEL", "info")
    viper.SetDefault("DB_DRIVER", "mysql")
    inv := DefaultInventory()
    viper.SetDefault("TOTAL_BERTHS", inv.TotalBerths)
    viper.SetDefault("RAC_CAPACITY", inv.RACCapacity)
    viper.SetDefault("WAITING_LIST_CAPACITY", inv.WaitingListCapacity)
    viper.SetDefault("LOWER_BERTH_QUOTA", inv.LowerBerthQuota)
    viper.SetDefault("CHILD_AGE_LIMIT", inv.ChildAgeLimit)
    viper.SetDefault("SENIOR_AGE", inv.SeniorAge)
    viper.SetDefault("CHILD_POLICY", inv.ChildPolicy)
}

// LoadDotEnv reads a .env file into the process environment when present.
// A missing file is not an error.
func LoadDotEnv(paths ...string) {
    if err := godotenv.Load(paths...); err != nil {
        logrus.WithError(err).Debug("no .env file loaded")
    }
}

// Load reads configuration values from the environment and returns a
// Config.  Required variables are enforced by must(); the sqlite3 driver
// needs only DB_NAME.
func Load() Config {
    cfg := Config{
        Env:       viper.GetString("APP_ENV"),
        Port:      viper.GetString("APP_PORT"),
        LogLevel:  viper.GetString("LOG_LEVEL"),
        DBDriver:  strings.ToLower(viper.GetString("DB_DRIVER")),
        DBPass:    viper.GetString("DB_PASS"),
        JWTSecret: viper.GetString("JWT_SECRET"),
        Inventory: LoadInventory(),
    }
    cfg.DBName = must("DB_NAME")
    if cfg.DBDriver != "sqlite3" {
        cfg.DBUser = must("DB_USER")
        cfg.DBHost = must("DB_HOST")
        cfg.DBPort = must("DB_PORT")
    }
    return cfg
}

// LoadInventory reads the pool dimensions.  Values below their minimum are
// fatal because every invariant depends on them.
func LoadInventory() InventoryConfig {
    inv := InventoryConfig{
        TotalBerths:         viper.GetInt("TOTAL_BERTHS"),
        RACCapacity:         viper.GetInt("RAC_CAPACITY"),
        WaitingListCapacity: viper.GetInt("WAITING_LIST_CAPACITY"),
        LowerBerthQuota:     viper.GetInt("LOWER_BERTH_QUOTA"),
        ChildAgeLimit:       viper.GetInt("CHILD_AGE_LIMIT"),
        SeniorAge:           viper.GetInt("SENIOR_AGE"),
        ChildPolicy:         strings.ToLower(viper.GetString("CHILD_POLICY")),
    }
    if err := inv.Validate(); err != nil {
        logrus.WithError(err).Fatal("invalid inventory configuration")
    }
    return inv
}

// Validate checks the inventory dimensions for consistency.
func (c InventoryConfig) Validate() error {
    switch {
    case c.TotalBerths < 1:
        return errInvalid("TOTAL_BERTHS must be at least 1")
    case c.RACCapacity < 0:
        return errInvalid("RAC_CAPACITY must not be negative")
    case c.WaitingListCapacity < 0:
        return errInvalid("WAITING_LIST_CAPACITY must not be negative")
    case c.LowerBerthQuota < 0 || c.LowerBerthQuota > c.TotalBerths:
        return errInvalid("LOWER_BERTH_QUOTA must be within 0..TOTAL_BERTHS")
    case c.ChildAgeLimit < 0:
        return errInvalid("CHILD_AGE_LIMIT must not be negative")
    case c.ChildPolicy != ChildPolicyAttached && c.ChildPolicy != ChildPolicyStandalone:
        return errInvalid("CHILD_POLICY must be attached or standalone")
    }
    return nil
}

type errInvalid string

func (e errInvalid) Error() string { return "config: " + string(e) }

// IsProd reports whether the service runs in production mode.
func (c Config) IsProd() bool { return c.Env == "prod" || c.Env == "production" }

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
    v := viper.GetString(key)
    if v == "" {
        logrus.Fatalf("missing required env var: %s", key)
    }
    return v
}
