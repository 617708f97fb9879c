package runmarker

import "time"

// Config holds the retry settings for marker writes.
type Config struct {
	WriteTimeout time.Duration // Timeout for each marker write
	MaxRetries   int           // Retries after the first failed write
	RetryBackoff time.Duration // Pause between attempts
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 300 * time.Millisecond,
	}
}
