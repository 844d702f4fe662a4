package dbopen

import (
	"context"
	"testing"

	"github.com/jusunglee/jishobot/internal/db/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLite(t *testing.T) {
	repo, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer repo.Close()

	assert.IsType(t, &sqlite.Repository{}, repo)
	assert.NoError(t, repo.Ping(context.Background()))
}

func TestOpenPostgresBadURL(t *testing.T) {
	_, err := Open(context.Background(), "postgres://%zz")
	assert.Error(t, err)
}
