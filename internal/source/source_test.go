package source

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TieredCrawler/internal/domain"
)

type namedSource string

func (n namedSource) Name() string { return string(n) }

func (n namedSource) FetchStats(context.Context, string) (domain.Metrics, error) {
	return domain.Metrics{}, nil
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(namedSource("bilibili"))

	src, err := reg.Resolve("bilibili")
	require.NoError(t, err)
	assert.Equal(t, "bilibili", src.Name())

	src, err = reg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "bilibili", src.Name())

	_, err = reg.Resolve("weibo")
	require.Error(t, err)
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	assert.True(t, IsTransient(fmt.Errorf("status 503: %w", ErrTransient)))
	assert.False(t, IsTransient(fmt.Errorf("gone: %w", ErrNotFound)))
}
