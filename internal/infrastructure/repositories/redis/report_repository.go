package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const reportPrefix = keyPrefix + "reports:"

// RedisReportRepository pushes each report onto a global list and onto a
// list per reported user. Both lists are trimmed to max entries.
type RedisReportRepository struct {
	client *redis.Client
	max    int64
}

func NewRedisReportRepository(client *redis.Client, max int) ports.ReportRepository {
	return &RedisReportRepository{client: client, max: int64(max)}
}

func (r *RedisReportRepository) allKey() string { return reportPrefix + "all" }

func (r *RedisReportRepository) userKey(user domain.UserID) string {
	return reportPrefix + "user:" + string(user)
}

func (r *RedisReportRepository) Add(ctx context.Context, report domain.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range []string{r.allKey(), r.userKey(report.ReportedID)} {
			pipe.LPush(ctx, key, data)
			if r.max > 0 {
				pipe.LTrim(ctx, key, 0, r.max-1)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store report in Redis: %w", err)
	}
	return nil
}

func (r *RedisReportRepository) List(ctx context.Context, user domain.UserID, limit int) ([]domain.Report, error) {
	key := r.allKey()
	if user != "" {
		key = r.userKey(user)
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	items, err := r.client.LRange(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list reports from Redis: %w", err)
	}

	out := make([]domain.Report, 0, len(items))
	for _, item := range items {
		var rep domain.Report
		if err := json.Unmarshal([]byte(item), &rep); err != nil {
			return nil, fmt.Errorf("failed to unmarshal report: %w", err)
		}
		out = append(out, rep)
	}
	return out, nil
}
