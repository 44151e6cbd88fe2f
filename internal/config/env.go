// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/ManuGH/autocast/internal/log"
)

// ParseString reads a string environment variable or returns the default.
func ParseString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// ParseInt reads an integer environment variable, falling back to the
// default on absence or parse failure. Failures are logged, not fatal.
func ParseInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		log.WithComponent("config").Warn().
			Str("key", key).
			Str("value", v).
			Int("default", def).
			Msg("invalid integer value, using default")
		return def
	}
	return i
}

// ParseBool reads a boolean environment variable ("true"/"false"/"1"/"0").
func ParseBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.WithComponent("config").Warn().
			Str("key", key).
			Str("value", v).
			Bool("default", def).
			Msg("invalid boolean value, using default")
		return def
	}
	return b
}

// ParseDuration reads a Go duration environment variable ("90s", "15m").
func ParseDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.WithComponent("config").Warn().
			Str("key", key).
			Str("value", v).
			Dur("default", def).
			Msg("invalid duration value, using default")
		return def
	}
	return d
}
