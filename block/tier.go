package block

import (
	"fmt"
	"strings"
)

// Tier is the eviction priority class of a block. Lower values are more
// important; P1NeverEvict is never removed by the sweeper.
type Tier uint8

const (
	// P1NeverEvict holds content the user must not lose, e.g. their own
	// direct messages.
	P1NeverEvict Tier = iota + 1
	P2
	P3
	// P4 is the most evictable tier, e.g. media previews.
	P4
)

// DefaultFetchTier is assigned to blocks persisted by the resolution cascade
// when the caller does not name a tier.
const DefaultFetchTier = P3

// Tiers lists every tier, most important first.
func Tiers() []Tier { return []Tier{P1NeverEvict, P2, P3, P4} }

// EvictionOrder lists the evictable tiers, most evictable first.
func EvictionOrder() []Tier { return []Tier{P4, P3, P2} }

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool { return t >= P1NeverEvict && t <= P4 }

// Evictable reports whether the sweeper may delete blocks of this tier.
func (t Tier) Evictable() bool { return t.Valid() && t != P1NeverEvict }

func (t Tier) String() string {
	if !t.Valid() {
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
	return fmt.Sprintf("p%d", uint8(t))
}

// ParseTier accepts "p1".."p4" (any case) or "1".."4".
func ParseTier(s string) (Tier, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "p")
	if len(s) == 1 && s[0] >= '1' && s[0] <= '4' {
		return Tier(s[0] - '0'), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTier, s)
}
