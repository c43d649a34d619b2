package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mufaro/bankflow/pkg/locks"
)

// NewLocker picks the per-reference lock implementation. With a Redis
// address the lock spans processes; without one it only serializes within
// this process, which is correct for single-instance deployments.
func NewLocker(ctx context.Context, redisAddr, redisPassword string, logger *slog.Logger) (locks.Locker, error) {
	if redisAddr == "" {
		return locks.NewLocalLocker(), nil
	}

	locker, err := locks.NewRedisLocker(ctx, redisAddr, redisPassword, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis locker: %w", err)
	}

	return locker, nil
}
