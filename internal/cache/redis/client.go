package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voicearena/backend/internal/agents"
	"github.com/voicearena/backend/pkg/config"
	"github.com/voicearena/backend/pkg/logger"
	"github.com/voicearena/backend/pkg/utils"
)

// Client caches platform agent configs so repeated comparisons against the
// same agents skip the platform round trip. It implements
// agents.ConfigCache.
type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := time.Duration(cfg.TTLHours) * time.Hour
	if ttl == 0 {
		ttl = 6 * time.Hour
	}

	logger.Info("Redis cache initialized",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		zap.Duration("ttl", ttl),
	)

	return &Client{rdb: rdb, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func agentConfigKey(agentID string) string {
	return "agent:cfg:" + utils.HashString(agentID)
}

func (c *Client) GetAgentConfig(ctx context.Context, agentID string) (*agents.Config, bool) {
	data, err := c.rdb.Get(ctx, agentConfigKey(agentID)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logger.Warn("Agent config cache read failed", zap.String("agent_id", agentID), zap.Error(err))
		return nil, false
	}

	var cfg agents.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		logger.Warn("Agent config cache entry corrupt", zap.String("agent_id", agentID), zap.Error(err))
		return nil, false
	}
	return &cfg, true
}

func (c *Client) SetAgentConfig(ctx context.Context, agentID string, cfg *agents.Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal agent config: %w", err)
	}
	if err := c.rdb.Set(ctx, agentConfigKey(agentID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache agent config: %w", err)
	}
	return nil
}
