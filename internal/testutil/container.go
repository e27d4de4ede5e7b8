package testutil

import (
	"context"
	"fmt"
	"strings"

	"github.com/testcontainers/testcontainers-go/modules/redis"
)

// RedisContainer wraps a redis testcontainer.
type RedisContainer struct {
	*redis.RedisContainer
	Addr string
}

// NewRedisContainer creates a new Redis container for testing.
func NewRedisContainer(ctx context.Context) (*RedisContainer, error) {
	container, err := redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return nil, fmt.Errorf("start redis container: %w", err)
	}

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		return nil, fmt.Errorf("get connection string: %w", err)
	}

	return &RedisContainer{
		RedisContainer: container,
		Addr:           strings.TrimPrefix(uri, "redis://"),
	}, nil
}
