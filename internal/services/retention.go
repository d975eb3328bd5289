package services

import "github.com/opsched/backend/internal/config"

// Tier identifies the retention bucket a local backup artifact belongs to.
type Tier string

const (
	TierHourly Tier = "hourly"
	TierDaily  Tier = "daily"
	TierWeekly Tier = "weekly"
	TierManual Tier = "manual"
)

// LocalTiers returns all on-disk tiers in cleanup order.
func LocalTiers() []Tier {
	return []Tier{TierHourly, TierDaily, TierWeekly, TierManual}
}

// ParseTier converts a request string into a Tier.
func ParseTier(s string) (Tier, bool) {
	switch Tier(s) {
	case TierHourly, TierDaily, TierWeekly, TierManual:
		return Tier(s), true
	}
	return "", false
}

// RetentionPolicy maps each tier to the maximum number of artifacts kept.
// Immutable at runtime; cleanup deletes the oldest artifacts beyond the limit.
type RetentionPolicy struct {
	Hourly int
	Daily  int
	Weekly int
	Manual int
	Cloud  int
}

// DefaultRetentionPolicy returns the reference deployment counts.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		Hourly: 24,
		Daily:  7,
		Weekly: 8,
		Manual: 10,
		Cloud:  14,
	}
}

// PolicyFromConfig builds the policy from environment-derived configuration.
func PolicyFromConfig(cfg *config.Config) RetentionPolicy {
	return RetentionPolicy{
		Hourly: cfg.RetentionHourly,
		Daily:  cfg.RetentionDaily,
		Weekly: cfg.RetentionWeekly,
		Manual: cfg.RetentionManual,
		Cloud:  cfg.RetentionCloud,
	}
}

// MaxFor returns the retention limit for a local tier.
func (p RetentionPolicy) MaxFor(tier Tier) int {
	switch tier {
	case TierHourly:
		return p.Hourly
	case TierDaily:
		return p.Daily
	case TierWeekly:
		return p.Weekly
	case TierManual:
		return p.Manual
	}
	return 0
}
