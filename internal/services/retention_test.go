package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRetentionPolicy(t *testing.T) {
	p := DefaultRetentionPolicy()
	assert.Equal(t, 24, p.Hourly)
	assert.Equal(t, 7, p.Daily)
	assert.Equal(t, 8, p.Weekly)
	assert.Equal(t, 10, p.Manual)
	assert.Equal(t, 14, p.Cloud)
}

func TestMaxForCoversAllLocalTiers(t *testing.T) {
	p := DefaultRetentionPolicy()
	for _, tier := range LocalTiers() {
		assert.Greater(t, p.MaxFor(tier), 0, "tier %s", tier)
	}
	assert.Equal(t, 0, p.MaxFor(Tier("bogus")))
}

func TestParseTier(t *testing.T) {
	tier, ok := ParseTier("manual")
	assert.True(t, ok)
	assert.Equal(t, TierManual, tier)

	_, ok = ParseTier("nightly")
	assert.False(t, ok)

	_, ok = ParseTier("")
	assert.False(t, ok)
}
