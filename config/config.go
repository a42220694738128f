/*
Package config loads server configuration from the environment.

PURPOSE:
  Centralizes every knob the binary reads at startup. A .env file in the
  working directory is loaded first (godotenv), then real environment
  variables override it, then defaults fill the gaps.

VARIABLES:
  PORT                HTTP server port (default 8080)
  DB_PATH             SQLite database path (default warehouse.db)
  CORS_ORIGINS        comma-separated allowed origins (default empty)
  LOG_LEVEL           logrus level name (default info)
  OUTBOUND_SERIES     initial series label for outbound folios
  INBOUND_SERIES      initial series label for inbound folios
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Port        int
	DBPath      string
	CORSOrigins []string
	LogLevel    logrus.Level

	OutboundSeries string
	InboundSeries  string
}

// Load reads .env (if present) and the environment. Only a malformed
// value is an error; absence always falls back to the default.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     8080,
		DBPath:   "warehouse.db",
		LogLevel: logrus.InfoLevel,
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid PORT %q", v)
		}
		cfg.Port = port
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
			}
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := logrus.ParseLevel(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q", v)
		}
		cfg.LogLevel = level
	}
	cfg.OutboundSeries = os.Getenv("OUTBOUND_SERIES")
	cfg.InboundSeries = os.Getenv("INBOUND_SERIES")

	return cfg, nil
}
