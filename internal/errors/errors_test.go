package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindPredicates(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		validate bool
		notFound bool
		upstream bool
	}{
		{name: "validation", err: NewValidationError("itemSID", "out of range"), validate: true},
		{name: "not found", err: NewNotFoundError("category", "Weapon"), notFound: true},
		{name: "upstream", err: NewUpstreamUnavailable("fetch snapshots", stderrors.New("conn refused")), upstream: true},
		{name: "wrapped", err: fmt.Errorf("build: %w", NewNotFoundError("category", "X")), notFound: true},
		{name: "plain", err: stderrors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.validate, IsValidation(tt.err))
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
			assert.Equal(t, tt.upstream, IsUpstream(tt.err))
		})
	}
}

func TestUpstreamUnwrap(t *testing.T) {
	cause := stderrors.New("dial tcp: timeout")
	err := NewUpstreamUnavailable("fetch snapshots", cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "UPSTREAM_UNAVAILABLE")
	assert.Contains(t, err.Error(), "dial tcp: timeout")
}

func TestNotFoundDetails(t *testing.T) {
	err := NewNotFoundError("category", "Accessory").WithDetail("catalog_version", uint64(3))

	assert.Equal(t, "Accessory", err.Details["category"])
	assert.Equal(t, uint64(3), err.Details["catalog_version"])
	assert.Equal(t, `NOT_FOUND: category "Accessory" not found`, err.Error())
}
