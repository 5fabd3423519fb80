package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
)

// FeatureFlags manages feature toggles with percentage rollout. Users are
// bucketed by a stable hash of (feature, user id).
type FeatureFlags struct {
	mu sync.RWMutex

	features      map[string]*Feature
	userOverrides map[int64]map[string]bool
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// RolloutPercent is the share of users (0-100) that see the feature.
	RolloutPercent int
}

// Predefined feature flag names. Every achievement category also has a flag
// named by CategoryFeature.
const (
	FeatureRecheckJob = "engine.recheck_job"
)

// CategoryFeature returns the flag gating evaluation of a category:
// "category.exam_master" for EXAM_MASTER.
func CategoryFeature(c achievement.Category) string {
	return "category." + strings.ToLower(string(c))
}

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	ff.loadFromEnvironment()
	return ff
}

// NewFeatureFlags returns the defaults: everything on at 100%.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:      make(map[string]*Feature),
		userOverrides: make(map[int64]map[string]bool),
	}

	ff.add(FeatureRecheckJob, "Periodic re-evaluation of active users")
	for _, c := range achievement.Categories() {
		ff.add(CategoryFeature(c), "Evaluate "+string(c)+" achievements")
	}
	return ff
}

func (ff *FeatureFlags) add(name, description string) {
	ff.features[name] = &Feature{
		Name:           name,
		Description:    description,
		Enabled:        true,
		RolloutPercent: 100,
	}
}

// loadFromEnvironment applies FEATURE_<NAME>=true|false|<percent>.
// Example: FEATURE_CATEGORY_HIDDEN=false, FEATURE_CATEGORY_LEGEND=25.
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}
		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			feature.RolloutPercent = 0
			if b {
				feature.RolloutPercent = 100
			}
			continue
		}
		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "category.exam_master" -> "FEATURE_CATEGORY_EXAM_MASTER"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the user. userID 0 means
// "no particular user": only fully rolled out features count as enabled.
func (ff *FeatureFlags) IsEnabled(featureName string, userID int64) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if userID != 0 {
		if enabled, ok := ff.userOverrides[userID][featureName]; ok {
			return enabled
		}
	}

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}
	if feature.RolloutPercent >= 100 {
		return true
	}
	if userID == 0 {
		return false
	}
	return inRollout(userID, featureName, feature.RolloutPercent)
}

// CategoryEnabled reports whether achievements of the category are
// evaluated for the user.
func (ff *FeatureFlags) CategoryEnabled(category achievement.Category, userID int64) bool {
	return ff.IsEnabled(CategoryFeature(category), userID)
}

// inRollout maps (feature, user) onto a stable 0-99 bucket.
func inRollout(userID int64, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(strconv.FormatInt(userID, 10)))
	return int(h.Sum32()%100) < percent
}

// SetUserOverride forces a feature on or off for one user.
func (ff *FeatureFlags) SetUserOverride(userID int64, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.userOverrides[userID]; !ok {
		ff.userOverrides[userID] = make(map[string]bool)
	}
	ff.userOverrides[userID][featureName] = enabled
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

// All returns a copy of all feature configurations.
func (ff *FeatureFlags) All() map[string]Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make(map[string]Feature, len(ff.features))
	for k, v := range ff.features {
		out[k] = *v
	}
	return out
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
