package cache

import (
	"context"
	"testing"

	"campaign-gateway/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestNilCacheIsSafe(t *testing.T) {
	cache := NewStatsCache("", "", 0)
	assert.Nil(t, cache)

	ctx := context.Background()
	assert.NoError(t, cache.Set(ctx, "t1", CampaignStats{CampaignID: "c1"}))

	stats, err := cache.Get(ctx, "t1", "c1")
	assert.NoError(t, err)
	assert.Nil(t, stats)

	assert.NoError(t, cache.Invalidate(ctx, "t1", "c1"))
	assert.NoError(t, cache.Close())
}

func TestSnapshotOf(t *testing.T) {
	camp := &models.Campaign{
		ID:             "c1",
		Status:         models.CampaignActive,
		SentCount:      5,
		DeliveredCount: 3,
		FailedCount:    1,
		ResponseCount:  2,
	}
	camp.SetTargetIDs([]string{"a", "b", "c", "d", "e", "f"})

	stats := SnapshotOf(camp)
	assert.Equal(t, "c1", stats.CampaignID)
	assert.Equal(t, models.CampaignActive, stats.Status)
	assert.Equal(t, 6, stats.TargetCount)
	assert.Equal(t, 5, stats.SentCount)
	assert.Equal(t, 3, stats.DeliveredCount)
	assert.Equal(t, 1, stats.FailedCount)
	assert.Equal(t, 2, stats.ResponseCount)
}
