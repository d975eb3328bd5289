package services

import (
	"fmt"
	"regexp"
	"time"
)

const (
	artifactPrefix     = "opsched"
	artifactTimeLayout = "20060102T150405"

	// LocationLocal and LocationCloud say where an artifact currently lives.
	LocationLocal = "local"
	LocationCloud = "cloud"
)

// BackupArtifact is a single database dump at a point in time. The tier is
// set explicitly at creation; filename parsing only happens when re-reading
// directory or cloud listings.
type BackupArtifact struct {
	Filename  string    `json:"filename"`
	Tier      Tier      `json:"tier"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
	Location  string    `json:"location"` // local, cloud
	Path      string    `json:"path"`     // filesystem path or cloud object path
}

var artifactNameRe = regexp.MustCompile(`^([A-Za-z0-9-]+)_(\d{8}T\d{6})_(hourly|daily|weekly|manual)\.sql$`)

// artifactFilename encodes (timestamp, tier) into a backup filename.
func artifactFilename(ts time.Time, tier Tier) string {
	return fmt.Sprintf("%s_%s_%s.sql", artifactPrefix, ts.Format(artifactTimeLayout), tier)
}

// parseArtifactName decodes the creation timestamp and tier from a filename.
// This is the single trust boundary where tiers are re-derived from strings.
func parseArtifactName(name string) (time.Time, Tier, bool) {
	m := artifactNameRe.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, "", false
	}
	ts, err := time.ParseInLocation(artifactTimeLayout, m[2], time.Local)
	if err != nil {
		return time.Time{}, "", false
	}
	return ts, Tier(m[3]), true
}

// artifactTimestampKey extracts the timestamp portion of a filename. Two
// artifacts with the same timestamp but different tiers are the same backup
// for cloud-presence matching.
func artifactTimestampKey(name string) (string, bool) {
	m := artifactNameRe.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[2], true
}

// renamedForTier returns the filename an artifact gets after promotion into
// another tier. The timestamp portion is preserved.
func renamedForTier(name string, to Tier) (string, bool) {
	m := artifactNameRe.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return fmt.Sprintf("%s_%s_%s.sql", m[1], m[2], to), true
}
