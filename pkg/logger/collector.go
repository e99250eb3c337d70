package logger

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

const publishTimeout = 10 * time.Second

type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush interval
	CountThreshold int           // distinct entries that trigger an early flush
	Topic          string
	Publisher      Publisher
}

type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector counts identical entries and publishes them in batches, so a
// failure repeating every tick becomes one entry with a count.
type LogCollector struct {
	config  CollectionConfig
	mu      sync.Mutex
	entries map[string]*AggregatedLogEntry
	kick    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

func NewLogCollector(config *CollectionConfig) *LogCollector {
	cfg := *config
	if cfg.TimeInterval <= 0 {
		cfg.TimeInterval = 30 * time.Second
	}
	if cfg.CountThreshold <= 0 {
		cfg.CountThreshold = 100
	}
	c := &LogCollector{
		config:  cfg,
		entries: make(map[string]*AggregatedLogEntry),
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	c.wg.Add(1)
	go c.loop()
	return c
}

func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := entryKey(level, message, fields, caller)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		c.entries[key] = &AggregatedLogEntry{
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}
	full := len(c.entries) >= c.config.CountThreshold
	c.mu.Unlock()

	if full {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
}

// entryKey is stable across map iteration order.
func entryKey(level, message string, fields map[string]interface{}, caller string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(level)
	b.WriteByte('|')
	b.WriteString(caller)
	b.WriteByte('|')
	b.WriteString(message)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, fields[k])
	}
	return b.String()
}

func (c *LogCollector) loop() {
	defer c.wg.Done()

	t := time.NewTicker(c.config.TimeInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			c.flush()
		case <-c.kick:
			c.flush()
		case <-c.done:
			c.flush()
			return
		}
	}
}

func (c *LogCollector) flush() {
	c.mu.Lock()
	if len(c.entries) == 0 {
		c.mu.Unlock()
		return
	}
	batch := make([]AggregatedLogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		batch = append(batch, *e)
	}
	c.entries = make(map[string]*AggregatedLogEntry)
	c.mu.Unlock()

	if c.config.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := c.config.Publisher.PublishMessage(ctx, c.config.Topic, batch); err != nil {
		// the collector cannot log through itself
		fmt.Fprintf(os.Stderr, "log collector: publish %d entries to %s: %v\n", len(batch), c.config.Topic, err)
	}
}

// Close stops the loop after a final, synchronous flush.
func (c *LogCollector) Close() {
	c.once.Do(func() { close(c.done) })
	c.wg.Wait()
}
