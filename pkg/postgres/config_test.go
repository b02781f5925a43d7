package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientConfigURL(t *testing.T) {
	cfg := ClientConfig{SSLMode: "disable", ConnectTimeout: 5 * time.Second}
	for _, opt := range []ClientOption{
		WithHost("db", 5433),
		WithDatabase("marketlens"),
		WithCredentials("bdo", "p@ss"),
		WithSSLMode("require"),
	} {
		opt(&cfg)
	}

	assert.Equal(t, "postgres://bdo:p%40ss@db:5433/marketlens?connect_timeout=5&sslmode=require", cfg.URL())
}

func TestWithPoolKeepsDefaultsForZeroValues(t *testing.T) {
	cfg := ClientConfig{MaxConns: 10, MinConns: 2, ConnMaxLifetime: time.Hour}
	WithPool(0, 4, 0, time.Minute)(&cfg)

	assert.Equal(t, int32(10), cfg.MaxConns)
	assert.Equal(t, int32(4), cfg.MinConns)
	assert.Equal(t, time.Hour, cfg.ConnMaxLifetime)
	assert.Equal(t, time.Minute, cfg.ConnMaxIdleTime)
}
