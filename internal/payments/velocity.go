package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/carwash-platform/pkg/logging"
)

var tracer = otel.Tracer("carwash.internal.payments")

// VelocityChecker caps STK pushes per phone so a handset cannot be spammed
// with prompts.
type VelocityChecker struct {
	redis  *redis.Client
	logger *logging.Logger
	config VelocityConfig
}

// VelocityConfig contains velocity check configuration.
type VelocityConfig struct {
	MaxPushesPerPhone int
	Window            time.Duration
}

// DefaultVelocityConfig returns default velocity limits.
func DefaultVelocityConfig() VelocityConfig {
	return VelocityConfig{
		MaxPushesPerPhone: 5,
		Window:            time.Hour,
	}
}

// VelocityResult contains the result of a velocity check.
type VelocityResult struct {
	Allowed      bool
	CurrentCount int
	MaxAllowed   int
	WindowExpiry time.Time
	Message      string
}

// NewVelocityChecker creates a checker. A nil client disables the check.
func NewVelocityChecker(redisClient *redis.Client, config VelocityConfig, logger *logging.Logger) *VelocityChecker {
	if logger == nil {
		logger = logging.Default()
	}
	if config.MaxPushesPerPhone <= 0 || config.Window <= 0 {
		config = DefaultVelocityConfig()
	}
	return &VelocityChecker{
		redis:  redisClient,
		logger: logger,
		config: config,
	}
}

// CheckPush counts an STK push attempt for the phone and reports whether it
// is within the limit. Redis failures fail open.
func (v *VelocityChecker) CheckPush(ctx context.Context, tenantID uuid.UUID, phone string) (*VelocityResult, error) {
	ctx, span := tracer.Start(ctx, "velocity.check_push")
	defer span.End()
	span.SetAttributes(attribute.String("carwash.tenant_id", tenantID.String()))

	if v == nil || v.redis == nil {
		return &VelocityResult{Allowed: true}, nil
	}

	key := velocityKey(tenantID, phone)
	count, expiry, err := v.incrementAndGet(ctx, key, v.config.Window)
	if err != nil {
		v.logger.Error("velocity check failed", "error", err, "key", key)
		return &VelocityResult{Allowed: true, Message: "velocity check unavailable"}, nil
	}

	result := &VelocityResult{
		Allowed:      count <= v.config.MaxPushesPerPhone,
		CurrentCount: count,
		MaxAllowed:   v.config.MaxPushesPerPhone,
		WindowExpiry: expiry,
	}
	if !result.Allowed {
		result.Message = fmt.Sprintf("too many payment requests for this phone; try again after %s", expiry.UTC().Format(time.RFC3339))
		v.logger.Warn("stk push velocity exceeded",
			"tenant_id", tenantID,
			"count", count,
			"max", v.config.MaxPushesPerPhone,
		)
		span.SetAttributes(attribute.Bool("velocity.exceeded", true))
	}
	return result, nil
}

// Reset clears the counter for a phone.
func (v *VelocityChecker) Reset(ctx context.Context, tenantID uuid.UUID, phone string) error {
	if v == nil || v.redis == nil {
		return nil
	}
	return v.redis.Del(ctx, velocityKey(tenantID, phone)).Err()
}

func (v *VelocityChecker) incrementAndGet(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	count, err := v.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	if count == 1 {
		v.redis.Expire(ctx, key, window)
	}
	ttl, err := v.redis.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}
	return int(count), time.Now().Add(ttl), nil
}

func velocityKey(tenantID uuid.UUID, phone string) string {
	return fmt.Sprintf("velocity:stk:%s:%s", tenantID, phone)
}
