package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryItem stores an encoded value with expiration.
type MemoryItem struct {
	Value    []byte
	ExpireAt time.Time
}

// IsExpired checks if item has expired.
func (m *MemoryItem) IsExpired() bool {
	return time.Now().After(m.ExpireAt)
}

// Message is one publication seen by a memory subscriber.
type Message struct {
	Channel string
	Payload []byte
}

// MemoryCache implements Service in process with LRU eviction. Publish
// fans out to Subscribe channels, so it doubles as a local bus.
type MemoryCache struct {
	data    map[string]*MemoryItem
	access  map[string]time.Time
	subs    map[string][]chan Message
	mutex   sync.RWMutex
	maxSize int
	subBuf  int

	cleanupTicker *time.Ticker
	done          chan struct{}
	closeOnce     sync.Once
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         1000,
		CleanupInterval: 5 * time.Minute,
		SubscriberBuf:   64,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		data:          make(map[string]*MemoryItem),
		access:        make(map[string]time.Time),
		subs:          make(map[string][]chan Message),
		maxSize:       cfg.MaxSize,
		subBuf:        cfg.SubscriberBuf,
		cleanupTicker: time.NewTicker(cfg.CleanupInterval),
		done:          make(chan struct{}),
	}

	go mc.cleanupExpired()
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.set(key, data, expiration)
	return nil
}

func (mc *MemoryCache) set(key string, data []byte, expiration time.Duration) {
	if _, ok := mc.data[key]; !ok && len(mc.data) >= mc.maxSize {
		mc.evictLRU()
	}

	expireAt := time.Now().Add(expiration)
	if expiration <= 0 {
		expireAt = time.Now().Add(7 * 24 * time.Hour) // default 7 days
	}

	mc.data[key] = &MemoryItem{Value: data, ExpireAt: expireAt}
	mc.access[key] = time.Now()
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mutex.Lock()
	item, exists := mc.data[key]
	if !exists || item.IsExpired() {
		if exists {
			delete(mc.data, key)
			delete(mc.access, key)
		}
		mc.mutex.Unlock()
		return ErrCacheMiss
	}
	mc.access[key] = time.Now()
	data := item.Value
	mc.mutex.Unlock()

	return decode(data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	for _, key := range keys {
		delete(mc.data, key)
		delete(mc.access, key)
	}
	return nil
}

// Publish delivers payload to every current subscriber of channel. A
// subscriber whose buffer is full misses the message.
func (mc *MemoryCache) Publish(_ context.Context, channel string, payload interface{}) error {
	data, err := encode(payload)
	if err != nil {
		return err
	}
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	mc.publish(channel, data)
	return nil
}

func (mc *MemoryCache) publish(channel string, data []byte) {
	for _, ch := range mc.subs[channel] {
		select {
		case ch <- Message{Channel: channel, Payload: data}:
		default:
		}
	}
}

func (mc *MemoryCache) SetAndPublish(_ context.Context, key, channel string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.set(key, data, expiration)
	mc.publish(channel, data)
	return nil
}

// Subscribe returns a channel receiving publications on channel. It is
// closed by Close.
func (mc *MemoryCache) Subscribe(channel string) <-chan Message {
	ch := make(chan Message, mc.subBuf)
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	select {
	case <-mc.done:
		close(ch)
	default:
		mc.subs[channel] = append(mc.subs[channel], ch)
	}
	return ch
}

// Len reports the number of live entries.
func (mc *MemoryCache) Len() int {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	return len(mc.data)
}

func (mc *MemoryCache) Health(context.Context) error { return nil }

func (mc *MemoryCache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	for key, accessTime := range mc.access {
		if oldestKey == "" || accessTime.Before(oldestTime) {
			oldestTime = accessTime
			oldestKey = key
		}
	}

	if oldestKey != "" {
		delete(mc.data, oldestKey)
		delete(mc.access, oldestKey)
	}
}

func (mc *MemoryCache) cleanupExpired() {
	for {
		select {
		case <-mc.done:
			return
		case <-mc.cleanupTicker.C:
		}

		mc.mutex.Lock()
		now := time.Now()
		for key, item := range mc.data {
			if now.After(item.ExpireAt) {
				delete(mc.data, key)
				delete(mc.access, key)
			}
		}
		mc.mutex.Unlock()
	}
}

// Close stops the cleanup loop and closes subscriber channels.
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() {
		mc.cleanupTicker.Stop()
		mc.mutex.Lock()
		close(mc.done)
		for channel, chans := range mc.subs {
			for _, ch := range chans {
				close(ch)
			}
			delete(mc.subs, channel)
		}
		mc.mutex.Unlock()
	})
	return nil
}
