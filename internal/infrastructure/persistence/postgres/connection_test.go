package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_InvalidURLIsPermanent(t *testing.T) {
	_, err := Connect(context.Background(), "postgres://%zz", DefaultPoolOptions())
	require.ErrorIs(t, err, ErrInvalidDatabaseURL)
	assert.False(t, IsTransientConnectError(err))
}

func TestIsTransientConnectError(t *testing.T) {
	wrap := func(code string) error {
		return fmt.Errorf("postgres: failed to ping database: %w", &pgconn.PgError{Code: code})
	}

	assert.False(t, IsTransientConnectError(nil))
	assert.False(t, IsTransientConnectError(context.Canceled))
	assert.False(t, IsTransientConnectError(wrap("28P01")))
	assert.False(t, IsTransientConnectError(wrap("28000")))
	assert.False(t, IsTransientConnectError(wrap("3D000")))

	assert.True(t, IsTransientConnectError(wrap("57P03")))
	assert.True(t, IsTransientConnectError(errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")))
}
