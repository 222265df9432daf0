package env

import (
	"os"
	"strconv"
	"strings"
)

// Get returns the trimmed value of the environment variable, or fallback
// when unset or blank.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// Bool parses the environment variable as a boolean, returning fallback on
// unset or unparseable values.
func Bool(key string, fallback bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
