package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowEnforcesBurstPerKey(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(Options{Limit: 1, Burst: 2})
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("alice"))
	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"))
	assert.True(t, l.Allow("bob"), "keys are limited independently")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("alice"), "a token refills after one second")
	assert.False(t, l.Allow("alice"))
}

func TestPruneDropsIdleKeys(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(Options{Expiry: time.Minute})
	l.now = func() time.Time { return now }

	l.Allow("alice")
	now = now.Add(30 * time.Second)
	l.Allow("bob")
	now = now.Add(45 * time.Second)
	l.Prune()

	assert.Equal(t, 1, l.size())
}

func TestNewAppliesDefaults(t *testing.T) {
	l := New(Options{})
	assert.Equal(t, DefaultOptions(), l.opts)
}
