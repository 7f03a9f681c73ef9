package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"tiergate/internal/limits/models"
	id "tiergate/pkg/domain"
	"tiergate/pkg/platform/sentinel"
)

const (
	usageKeyPrefix = "tiergate:usage:"
	// Keys outlive their period by a day so late readers still see them.
	keyGrace          = 24 * time.Hour
	defaultMaxRetries = 16
)

// RedisStore keeps one key per (user, kind, period). The period is part of
// the key, so a new period starts from an absent key and old keys expire.
// Check-and-increment uses WATCH/MULTI and retries when a concurrent writer
// touched either key.
type RedisStore struct {
	client     redis.UniversalClient
	maxRetries int
}

type RedisOption func(*RedisStore)

// WithMaxRetries bounds optimistic retries per Update.
func WithMaxRetries(n int) RedisOption {
	return func(s *RedisStore) {
		s.maxRetries = n
	}
}

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, maxRetries: defaultMaxRetries}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// windowKey braces the user ID as a cluster hash tag so both windows of a
// user land in one slot; WATCH, MGET and MULTI span the pair.
func windowKey(w models.Window) string {
	layout := "20060102"
	if w.Kind == models.WindowMonthly {
		layout = "200601"
	}
	return usageKeyPrefix + "{" + w.UserID.String() + "}:" + string(w.Kind) + ":" + w.PeriodStart.Format(layout)
}

func (s *RedisStore) Load(ctx context.Context, userID id.UserID, now time.Time) (models.Windows, error) {
	windows := models.NewWindows(userID, now)
	if err := readWindows(ctx, s.client, &windows); err != nil {
		return models.Windows{}, err
	}
	return windows, nil
}

// Update returns sentinel.ErrConflict when every optimistic attempt lost a
// race.
func (s *RedisStore) Update(ctx context.Context, userID id.UserID, now time.Time, fn func(w *models.Windows) (bool, error)) error {
	empty := models.NewWindows(userID, now)
	dailyKey, monthlyKey := windowKey(empty.Daily), windowKey(empty.Monthly)

	txf := func(tx *redis.Tx) error {
		windows := empty
		if err := readWindows(ctx, tx, &windows); err != nil {
			return err
		}
		commit, err := fn(&windows)
		if err != nil || !commit {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, dailyKey, windows.Daily.Consumed.String(), windows.Daily.PeriodEnd.Sub(now)+keyGrace)
			pipe.Set(ctx, monthlyKey, windows.Monthly.Consumed.String(), windows.Monthly.PeriodEnd.Sub(now)+keyGrace)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, dailyKey, monthlyKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("update usage windows: %w", err)
		}
		return nil
	}
	return sentinel.ErrConflict
}

func readWindows(ctx context.Context, c redis.Cmdable, windows *models.Windows) error {
	vals, err := c.MGet(ctx, windowKey(windows.Daily), windowKey(windows.Monthly)).Result()
	if err != nil {
		return fmt.Errorf("read usage windows: %w", err)
	}
	for i, target := range []*models.Window{&windows.Daily, &windows.Monthly} {
		raw, ok := vals[i].(string)
		if !ok {
			continue
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("parse consumed amount: %w", err)
		}
		target.Consumed = amount
	}
	return nil
}
