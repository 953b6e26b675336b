package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, nil)
	ctx := context.Background()

	assert.False(t, repo.Enabled())
	var dest map[string]int
	require.ErrorIs(t, repo.Get(ctx, "timetable:progress:job-1", &dest), appErrors.ErrCacheMiss)
	require.NoError(t, repo.Set(ctx, "timetable:progress:job-1", map[string]int{"placed": 1}, time.Minute))
	require.NoError(t, repo.Delete(ctx, "timetable:progress:job-1"))
	require.NoError(t, repo.Ping(ctx))
	require.NoError(t, repo.Close())
}
