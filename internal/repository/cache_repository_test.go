package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	appErrors "github.com/noah-isme/course-registration-api/pkg/errors"
)

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, nil)
	ctx := context.Background()

	var dest []string
	assert.ErrorIs(t, repo.Get(ctx, "courses:list", &dest), appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Set(ctx, "courses:list", []string{"a"}, time.Minute))
	assert.NoError(t, repo.DeleteByPattern(ctx, "courses:*"))

	gen, err := repo.Generation(ctx, "courses:*")
	assert.NoError(t, err)
	assert.Zero(t, gen)
	gen, err = repo.BumpGeneration(ctx, "courses:*")
	assert.NoError(t, err)
	assert.Zero(t, gen)
}

func TestGenerationKeyIsOutsidePayloadPatterns(t *testing.T) {
	key := generationKey("courses:*")
	assert.Equal(t, "crs:gen:courses:*", key)
	assert.False(t, strings.HasPrefix(key, CacheKeyPrefix+"courses:"))
}
