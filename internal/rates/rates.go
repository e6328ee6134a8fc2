// Package rates resolves per-staff mileage reimbursement rates from Postgres,
// with an optional Redis cache in front.
package rates

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"backend-fieldops/internal/db"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	ErrNoRate      = errors.New("no rate configured for staff")
	ErrInvalidRate = errors.New("rate must be positive")
)

const DefaultCacheTTL = 10 * time.Minute

type Service struct {
	db    db.Querier
	redis *redis.Client
	ttl   time.Duration
	log   logrus.FieldLogger
}

func NewService(q db.Querier, redisClient *redis.Client, ttl time.Duration, log logrus.FieldLogger) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{db: q, redis: redisClient, ttl: ttl, log: log}
}

// CostPerMile returns the staff member's rate, or ErrNoRate.
func (s *Service) CostPerMile(ctx context.Context, staffID string) (float64, error) {
	if rate, ok := s.cached(ctx, staffID); ok {
		return rate, nil
	}
	if s.db == nil {
		return 0, ErrNoRate
	}

	var rate float64
	err := s.db.QueryRow(ctx, `SELECT cost_per_mile_usd::float8 FROM staff_rates WHERE staff_id=$1`, staffID).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNoRate
	}
	if err != nil {
		return 0, fmt.Errorf("load rate for %s: %w", staffID, err)
	}

	s.store(ctx, staffID, rate)
	return rate, nil
}

// SetRate upserts a staff member's rate and drops the cached value.
func (s *Service) SetRate(ctx context.Context, staffID string, rate float64) error {
	if rate <= 0 {
		return ErrInvalidRate
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO staff_rates (staff_id, cost_per_mile_usd, updated_at)
		VALUES ($1,$2,now())
		ON CONFLICT (staff_id) DO UPDATE SET cost_per_mile_usd=EXCLUDED.cost_per_mile_usd, updated_at=now()
	`, staffID, rate)
	if err != nil {
		return fmt.Errorf("set rate for %s: %w", staffID, err)
	}
	if s.redis != nil {
		if err := s.redis.Del(ctx, cacheKey(staffID)).Err(); err != nil {
			s.log.WithError(err).WithField("staff_id", staffID).Warn("rate cache invalidate failed")
		}
	}
	return nil
}

func (s *Service) cached(ctx context.Context, staffID string) (float64, bool) {
	if s.redis == nil {
		return 0, false
	}
	raw, err := s.redis.Get(ctx, cacheKey(staffID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.WithError(err).WithField("staff_id", staffID).Debug("rate cache read failed")
		}
		return 0, false
	}
	rate, err := strconv.ParseFloat(raw, 64)
	if err != nil || rate <= 0 {
		return 0, false
	}
	return rate, true
}

func (s *Service) store(ctx context.Context, staffID string, rate float64) {
	if s.redis == nil {
		return
	}
	val := strconv.FormatFloat(rate, 'f', -1, 64)
	if err := s.redis.Set(ctx, cacheKey(staffID), val, s.ttl).Err(); err != nil {
		s.log.WithError(err).WithField("staff_id", staffID).Debug("rate cache write failed")
	}
}

func cacheKey(staffID string) string {
	return "rates:staff:" + staffID
}
