package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"campaign-gateway/internal/models"

	"github.com/redis/go-redis/v9"
)

const statsTTL = 5 * time.Minute

// CampaignStats is the dashboard-facing counter snapshot.
type CampaignStats struct {
	CampaignID     string `json:"campaign_id"`
	Status         string `json:"status"`
	TargetCount    int    `json:"target_count"`
	SentCount      int    `json:"sent_count"`
	DeliveredCount int    `json:"delivered_count"`
	FailedCount    int    `json:"failed_count"`
	ResponseCount  int    `json:"response_count"`
}

// StatsCache keeps campaign counter snapshots in redis so the dashboard does
// not hit the database on every poll. A nil *StatsCache is valid and all
// methods no-op, for deployments without redis.
type StatsCache struct {
	rdb *redis.Client
}

// NewStatsCache returns nil when addr is empty.
func NewStatsCache(addr, password string, db int) *StatsCache {
	if addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return &StatsCache{rdb: rdb}
}

func statsKey(tenantID, campaignID string) string {
	return fmt.Sprintf("campaign:stats:%s:%s", tenantID, campaignID)
}

func SnapshotOf(camp *models.Campaign) CampaignStats {
	return CampaignStats{
		CampaignID:     camp.ID,
		Status:         camp.Status,
		TargetCount:    len(camp.TargetIDs()),
		SentCount:      camp.SentCount,
		DeliveredCount: camp.DeliveredCount,
		FailedCount:    camp.FailedCount,
		ResponseCount:  camp.ResponseCount,
	}
}

func (c *StatsCache) Set(ctx context.Context, tenantID string, stats CampaignStats) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, statsKey(tenantID, stats.CampaignID), data, statsTTL).Err()
}

// Get returns (nil, nil) on a cache miss; callers fall back to the store.
func (c *StatsCache) Get(ctx context.Context, tenantID, campaignID string) (*CampaignStats, error) {
	if c == nil {
		return nil, nil
	}
	data, err := c.rdb.Get(ctx, statsKey(tenantID, campaignID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stats CampaignStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *StatsCache) Invalidate(ctx context.Context, tenantID, campaignID string) error {
	if c == nil {
		return nil
	}
	return c.rdb.Del(ctx, statsKey(tenantID, campaignID)).Err()
}

func (c *StatsCache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
