package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowRefills(t *testing.T) {
	now := time.Unix(0, 0)
	l := NewWithClock(func() time.Time { return now })

	assert.True(t, l.Allow("rsi", 2, 1))
	assert.True(t, l.Allow("rsi", 2, 1))
	assert.False(t, l.Allow("rsi", 2, 1))
	assert.Equal(t, -1.0, l.Tokens("echo"))

	now = now.Add(500 * time.Millisecond)
	assert.False(t, l.Allow("rsi", 2, 1))
	now = now.Add(500 * time.Millisecond)
	assert.True(t, l.Allow("rsi", 2, 1))

	// never above capacity
	now = now.Add(time.Hour)
	assert.True(t, l.Allow("rsi", 2, 1))
	assert.True(t, l.Allow("rsi", 2, 1))
	assert.False(t, l.Allow("rsi", 2, 1))
}

func TestKeysAreIndependent(t *testing.T) {
	now := time.Unix(0, 0)
	l := NewWithClock(func() time.Time { return now })
	assert.True(t, l.Allow("a", 1, 0))
	assert.False(t, l.Allow("a", 1, 0))
	assert.True(t, l.Allow("b", 1, 0))
}
