package config

import (
    "os"

    "github.com/sirupsen/logrus"
)

// SetupLogging configures the global logrus logger: JSON lines in
// production, coloured text otherwise.
func SetupLogging(cfg Config) {
    logrus.SetOutput(os.Stdout)
    if cfg.IsProd() {
        logrus.SetFormatter(&logrus.JSONFormatter{})
    } else {
        logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
    }
    lvl, err := logrus.ParseLevel(cfg.LogLevel)
    if err != nil {
        logrus.WithField("level", cfg.LogLevel).Warn("unknown log level, using info")
        lvl = logrus.InfoLevel
    }
    logrus.SetLevel(lvl)
}
