package clickhouse

import (
	"testing"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions(t *testing.T) {
	cfg := defaultConfig()
	for _, opt := range []ClientOption{
		WithHost("ch"),
		WithDatabase("marketlens"),
		WithCredentials("default", "pw"),
		WithTimeouts(2*time.Second, 0),
		WithMaxConnections(0, 3),
	} {
		opt(&cfg)
	}

	o := cfg.options()
	assert.Equal(t, ch.Native, o.Protocol)
	assert.Equal(t, []string{"ch:9000"}, o.Addr)
	assert.Equal(t, ch.Auth{Database: "marketlens", Username: "default", Password: "pw"}, o.Auth)
	assert.Equal(t, 2*time.Second, o.DialTimeout)
	assert.Equal(t, 10*time.Second, o.ReadTimeout)
	assert.Equal(t, 10, o.MaxOpenConns)
	assert.Equal(t, 3, o.MaxIdleConns)
	assert.Empty(t, o.Settings)
}

func TestOptions_ServerSettings(t *testing.T) {
	cfg := defaultConfig()
	WithHost("ch")(&cfg)
	WithHTTP(true)(&cfg)
	WithPort(8123)(&cfg)
	WithAsyncInsert(true, false)(&cfg)
	WithMaxExecutionTime(30 * time.Second)(&cfg)

	o := cfg.options()
	assert.Equal(t, ch.HTTP, o.Protocol)
	assert.Equal(t, []string{"ch:8123"}, o.Addr)
	require.NotNil(t, o.Settings)
	assert.Equal(t, 30, o.Settings["max_execution_time"])
	assert.Equal(t, 1, o.Settings["async_insert"])
	assert.Equal(t, 0, o.Settings["wait_for_async_insert"])
}

func TestNewClient_RequiresHost(t *testing.T) {
	_, err := NewClient()
	assert.EqualError(t, err, "host is required")
}
