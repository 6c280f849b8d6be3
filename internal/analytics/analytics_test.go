package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emilythestrangee/forum/backend/internal/cache"
)

func TestClampDays(t *testing.T) {
	assert.Equal(t, DefaultDays, ClampDays(0))
	assert.Equal(t, DefaultDays, ClampDays(-5))
	assert.Equal(t, 7, ClampDays(7))
	assert.Equal(t, MaxDays, ClampDays(365))
}

func TestOverviewServedFromCache(t *testing.T) {
	c := cache.New()
	cached := &Overview{Window: Window{Days: 7}, GeneratedAt: time.Now()}
	c.Set("analytics:overview:7", cached, time.Minute, cache.TagAnalytics)

	// a nil Querier would panic if the service went to the database
	svc := NewService(nil, c)
	got, err := svc.Overview(context.Background(), 7)
	require.NoError(t, err)
	assert.Same(t, cached, got)
}
