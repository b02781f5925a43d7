package queue

import (
	"encoding/json"
	"time"
)

// Config tunes the worker side of a queue.
type Config struct {
	Workers     int
	RetryLimit  int           // retries after the first failure
	RetryDelay  time.Duration // first retry delay, doubled per attempt
	PollTimeout time.Duration // BRPOP block per poll
}

func (c *Config) withDefaults() Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.Workers <= 0 {
		out.Workers = 1
	}
	if out.RetryLimit < 0 {
		out.RetryLimit = 0
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = 10 * time.Second
	}
	if out.PollTimeout <= 0 {
		out.PollTimeout = time.Second
	}
	return out
}

// retryDelay is RetryDelay doubled for every earlier retry, capped at
// one hour.
func (c Config) retryDelay(attempt int) time.Duration {
	d := c.RetryDelay
	for i := 1; i < attempt && d < time.Hour; i++ {
		d *= 2
	}
	return min(d, time.Hour)
}

// Message is the envelope stored in Redis.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Coalesce   string          `json:"coalesce,omitempty"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// DeadLetter is a message that exhausted its retries.
type DeadLetter struct {
	Message
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// Stats counts messages per state.
type Stats struct {
	Pending  int64 `json:"pending"`
	Retrying int64 `json:"retrying"`
	Dead     int64 `json:"dead"`
}
