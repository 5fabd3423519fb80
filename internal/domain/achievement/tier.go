package achievement

import (
	"fmt"
	"strings"
)

// Tier is a rank within a tiered achievement. The zero value TierNone is the
// tier of non-tiered unlocks and of "nothing unlocked yet".
type Tier string

const (
	TierNone    Tier = ""
	TierBronze  Tier = "BRONZE"
	TierSilver  Tier = "SILVER"
	TierGold    Tier = "GOLD"
	TierDiamond Tier = "DIAMOND"
)

// NextTierComplete is the progress label used once every tier is met.
const NextTierComplete = "COMPLETE"

var tierOrder = [...]Tier{TierBronze, TierSilver, TierGold, TierDiamond}

// Tiers returns all tiers in ascending order.
func Tiers() []Tier {
	out := make([]Tier, len(tierOrder))
	copy(out, tierOrder[:])
	return out
}

// ParseTier parses a tier name. The empty string parses to TierNone.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if t == TierNone || t.Index() >= 0 {
		return t, nil
	}
	return TierNone, fmt.Errorf("unknown tier %q", s)
}

// Index returns the position of t in the tier order, or -1 for TierNone and
// unknown values.
func (t Tier) Index() int {
	for i, o := range tierOrder {
		if o == t {
			return i
		}
	}
	return -1
}

// IsNone reports whether t is TierNone.
func (t Tier) IsNone() bool { return t == TierNone }

// AtLeast reports whether t ranks at or above other.
func (t Tier) AtLeast(other Tier) bool { return t.Index() >= other.Index() }

// String implements fmt.Stringer.
func (t Tier) String() string {
	if t == TierNone {
		return "NONE"
	}
	return string(t)
}

// CompareTiers orders tiers by index; TierNone sorts below BRONZE.
func CompareTiers(a, b Tier) int {
	return a.Index() - b.Index()
}

// MaxTier returns the higher of two tiers.
func MaxTier(a, b Tier) Tier {
	if CompareTiers(a, b) >= 0 {
		return a
	}
	return b
}

// Thresholds maps each tier to the metric value needed to reach it.
type Thresholds map[Tier]int

// Threshold returns the threshold for t and whether it is defined.
func (th Thresholds) Threshold(t Tier) (int, bool) {
	v, ok := th[t]
	return v, ok
}

// Top returns the threshold of the highest defined tier, or 0.
func (th Thresholds) Top() int {
	for i := len(tierOrder) - 1; i >= 0; i-- {
		if v, ok := th[tierOrder[i]]; ok {
			return v
		}
	}
	return 0
}

// Validate checks that every key is a real tier and that the values move in
// one direction (ascending for normal metrics, descending for reverse ones).
func (th Thresholds) Validate(reverse bool) error {
	prev, seen := 0, false
	for k := range th {
		if k.Index() < 0 {
			return fmt.Errorf("unknown tier %q in thresholds", string(k))
		}
	}
	for _, t := range tierOrder {
		v, ok := th[t]
		if !ok {
			continue
		}
		if seen {
			if !reverse && v < prev {
				return fmt.Errorf("threshold for %s (%d) is below the previous tier (%d)", t, v, prev)
			}
			if reverse && v > prev {
				return fmt.Errorf("threshold for %s (%d) is above the previous tier (%d)", t, v, prev)
			}
		}
		prev, seen = v, true
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVER
// ══════════════════════════════════════════════════════════════════════════════

// CheckResult is the outcome of evaluating one achievement for one user.
type CheckResult struct {
	// Value is the derived metric value.
	Value int
	// NewTier is the highest tier newly reached; TierNone for simple unlocks.
	NewTier Tier
	// Changed reports whether something new was unlocked.
	Changed bool
}

// Unchanged returns a result carrying value with no new unlock.
func Unchanged(value int) CheckResult {
	return CheckResult{Value: value}
}

// Resolve returns the highest tier met by value that ranks strictly above
// current. In reverse mode lower values are better and a value <= 0 means
// "no data" and yields Unchanged(0).
func Resolve(value int, thresholds Thresholds, current Tier, reverse bool) CheckResult {
	if reverse && value <= 0 {
		return Unchanged(0)
	}
	if len(thresholds) == 0 {
		return Unchanged(value)
	}

	currentIdx := current.Index()
	best := TierNone
	for i, t := range tierOrder {
		threshold, ok := thresholds[t]
		if !ok {
			continue
		}
		met := value >= threshold
		if reverse {
			met = value <= threshold
		}
		if met && i > currentIdx {
			best = t
		}
	}

	if best == TierNone {
		return Unchanged(value)
	}
	return CheckResult{Value: value, NewTier: best, Changed: true}
}

// ResolveSimple handles non-tiered achievements: any value >= 1 unlocks once.
func ResolveSimple(value int, current Tier, unlocked bool) CheckResult {
	if value >= 1 && !unlocked && current == TierNone {
		return CheckResult{Value: value, NewTier: TierNone, Changed: true}
	}
	return Unchanged(value)
}

// NextTarget returns the label and target value of the next tier to reach.
// Once every tier is met the label is NextTierComplete and the target is the
// top threshold.
func NextTarget(value int, thresholds Thresholds, reverse bool) (string, int) {
	for _, t := range tierOrder {
		threshold, ok := thresholds[t]
		if !ok {
			continue
		}
		if !reverse && threshold > value {
			return string(t), threshold
		}
		if reverse && (value <= 0 || value > threshold) {
			return string(t), threshold
		}
	}
	return NextTierComplete, thresholds.Top()
}
