package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
)

// Service defines cache operations interface.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	// SetAndPublish stores value under key and announces it on channel
	// as one unit.
	SetAndPublish(ctx context.Context, key, channel string, value interface{}, expiration time.Duration) error
	Health(ctx context.Context) error
	Close() error
}

// GetTyped reads key into a fresh T.
func GetTyped[T any](ctx context.Context, c Service, key string) (T, error) {
	var obj T
	err := c.Get(ctx, key, &obj)
	return obj, err
}

func encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(value)
	}
}

func decode(data []byte, dest interface{}) error {
	if strPtr, ok := dest.(*string); ok {
		*strPtr = string(data)
		return nil
	}
	return json.Unmarshal(data, dest)
}
