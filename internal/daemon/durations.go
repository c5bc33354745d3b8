package daemon

import (
	"log"
	"time"
)

// parseDuration parses s, falling back to fallback (and logging) on a
// malformed config value rather than failing the whole daemon startup
// over one bad field.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Printf("[daemon] invalid duration %q, using default %s: %v", s, fallback, err)
		return fallback
	}
	return d
}
