package config

import (
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// FeatureFlags manages runtime toggles with percentage rollout and
// per-user overrides.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// userID -> feature -> enabled
	userOverrides map[string]map[string]bool

	now func() time.Time
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Users are bucketed by a hash of their ID.
	RolloutPercent int

	// Classroom targeting, empty means all classrooms.
	TargetClassrooms []string

	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	UserID    string
	Classroom string
	IsAdmin   bool
}

// Predefined feature flag names.
const (
	// Serve topN from the Redis sorted set when available.
	FeatureLeaderboardRedisCache = "leaderboard.redis_cache"

	// Queue badge.earned events into per-user popup queues.
	FeatureNotifyBadgePopups = "notify.badge_popups"

	// Push snapshot changes over the SSE stream.
	FeatureProgressLiveFeed = "progress.live_feed"

	// Record every domain event in the audit log.
	FeatureAuditEvents = "audit.events"
)

// LoadFeatureFlags applies the file named by FEATURE_FLAGS_FILE, if any,
// and then the FEATURE_* environment variables on top of the defaults.
func LoadFeatureFlags() (*FeatureFlags, error) {
	ff := NewFeatureFlags()
	if path := os.Getenv("FEATURE_FLAGS_FILE"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("feature flags file: %w", err)
		}
		defer f.Close()
		if err := ff.LoadYAML(f); err != nil {
			return nil, fmt.Errorf("feature flags file %s: %w", path, err)
		}
	}
	ff.loadFromEnvironment()
	return ff, nil
}

// NewFeatureFlags returns flags with their defaults and no env overrides.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:      make(map[string]*Feature),
		userOverrides: make(map[string]map[string]bool),
		now:           time.Now,
	}
	ff.initializeDefaults()
	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureLeaderboardRedisCache] = &Feature{
		Name:           FeatureLeaderboardRedisCache,
		Description:    "Read the leaderboard through the Redis cache",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureNotifyBadgePopups] = &Feature{
		Name:           FeatureNotifyBadgePopups,
		Description:    "Show a popup for each newly earned badge",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureProgressLiveFeed] = &Feature{
		Name:           FeatureProgressLiveFeed,
		Description:    "Stream progress snapshots to connected clients",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureAuditEvents] = &Feature{
		Name:           FeatureAuditEvents,
		Description:    "Log every domain event",
		Enabled:        false,
		RolloutPercent: 0,
	}
}

// loadFromEnvironment applies FEATURE_<NAME>=true|false|<percent>.
// Example: FEATURE_NOTIFY_BADGE_POPUPS=false
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}
		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}
		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// flagsFile is the on-disk layout:
//
//	features:
//	  notify.badge_popups:
//	    enabled: true
//	    rollout_percent: 25
//	    target_classrooms: [5a, 5b]
//	    enabled_until: 2026-06-30T00:00:00Z
//	overrides:
//	  demo-learner:
//	    progress.live_feed: true
type flagsFile struct {
	Features  map[string]flagEntry         `yaml:"features"`
	Overrides map[string]map[string]bool `yaml:"overrides"`
}

type flagEntry struct {
	Enabled          *bool      `yaml:"enabled"`
	RolloutPercent   *int       `yaml:"rollout_percent"`
	Description      string     `yaml:"description"`
	TargetClassrooms []string   `yaml:"target_classrooms"`
	EnabledFrom      *time.Time `yaml:"enabled_from"`
	EnabledUntil     *time.Time `yaml:"enabled_until"`
}

// LoadYAML merges flag settings and user overrides from r. Unknown flag
// names are rejected so a typo does not silently do nothing.
func (ff *FeatureFlags) LoadYAML(r io.Reader) error {
	var file flagsFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return err
	}

	ff.mu.Lock()
	defer ff.mu.Unlock()

	for name, entry := range file.Features {
		feature, ok := ff.features[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrFeatureNotFound, name)
		}
		if entry.Enabled != nil {
			feature.Enabled = *entry.Enabled
			if *entry.Enabled {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
		}
		if entry.RolloutPercent != nil {
			p := *entry.RolloutPercent
			if p < 0 || p > 100 {
				return fmt.Errorf("%s: %w", name, ErrInvalidRolloutPercent)
			}
			feature.RolloutPercent = p
			if entry.Enabled == nil {
				feature.Enabled = p > 0
			}
		}
		if entry.Description != "" {
			feature.Description = entry.Description
		}
		if entry.TargetClassrooms != nil {
			feature.TargetClassrooms = entry.TargetClassrooms
		}
		feature.EnabledFrom = entry.EnabledFrom
		feature.EnabledUntil = entry.EnabledUntil
	}

	for userID, flags := range file.Overrides {
		if _, ok := ff.userOverrides[userID]; !ok {
			ff.userOverrides[userID] = make(map[string]bool, len(flags))
		}
		for name, enabled := range flags {
			ff.userOverrides[userID][name] = enabled
		}
	}
	return nil
}

// "notify.badge_popups" -> "FEATURE_NOTIFY_BADGE_POPUPS"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context. A nil
// context evaluates the global switch only.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	return ff.isEnabledLocked(featureName, ctx)
}

func (ff *FeatureFlags) isEnabledLocked(featureName string, ctx *FeatureContext) bool {
	if ctx != nil && ctx.UserID != "" {
		if enabled, ok := ff.userOverrides[ctx.UserID][featureName]; ok {
			return enabled
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	if ctx != nil && ctx.IsAdmin {
		return true
	}

	if !feature.Enabled {
		return false
	}

	now := ff.now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	if len(feature.TargetClassrooms) > 0 && ctx != nil && ctx.Classroom != "" {
		if !slices.Contains(feature.TargetClassrooms, ctx.Classroom) {
			return false
		}
	}

	if feature.RolloutPercent < 100 && ctx != nil && ctx.UserID != "" {
		return isInRollout(ctx.UserID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// Enabled is IsEnabled with no user context.
func (ff *FeatureFlags) Enabled(featureName string) bool {
	return ff.IsEnabled(featureName, nil)
}

// EnabledFor is IsEnabled for a single user.
func (ff *FeatureFlags) EnabledFor(featureName, userID string) bool {
	return ff.IsEnabled(featureName, &FeatureContext{UserID: userID})
}

// isInRollout hashes user+feature so a user stays in the same bucket.
func isInRollout(userID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(userID))
	return int(h.Sum32()%100) < percent
}

// SetUserOverride sets a feature override for a specific user.
func (ff *FeatureFlags) SetUserOverride(userID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.userOverrides[userID]; !ok {
		ff.userOverrides[userID] = make(map[string]bool)
	}
	ff.userOverrides[userID][featureName] = enabled
}

// ClearUserOverrides removes all overrides for a user.
func (ff *FeatureFlags) ClearUserOverrides(userID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.userOverrides, userID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0
	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]Feature, len(ff.features))
	for k, v := range ff.features {
		result[k] = *v
	}
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
