package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Tier classifies work items by age and drives how often they are crawled.
type Tier string

const (
	TierHot  Tier = "hot"
	TierCold Tier = "cold"
	// TierAll is an export selector, never the classification of an item.
	TierAll Tier = "all"
)

// DefaultHotDays is the age threshold separating hot from cold items.
const DefaultHotDays = 7

// DefaultColdHours are the local hours at which the cold tier is crawled.
var DefaultColdHours = []int{0, 8, 16}

// ParseTier accepts hot, cold or all in any case.
func ParseTier(value string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(value))) {
	case TierHot:
		return TierHot, nil
	case TierCold:
		return TierCold, nil
	case TierAll:
		return TierAll, nil
	default:
		return "", fmt.Errorf("unknown tier %q", value)
	}
}

// Classify returns HOT when the item was published at most hotDays before now.
// Items without a publication time are COLD.
func Classify(item WorkItem, now time.Time, hotDays int) Tier {
	if item.PublishedAt.IsZero() {
		return TierCold
	}
	age := now.Sub(item.PublishedAt)
	if age <= time.Duration(hotDays)*24*time.Hour {
		return TierHot
	}
	return TierCold
}

// Matches reports whether an item belongs to the requested export selector.
func (t Tier) Matches(item WorkItem, now time.Time, hotDays int) bool {
	if t == TierAll {
		return true
	}
	return Classify(item, now, hotDays) == t
}

// HotCutoff is the oldest publication time still considered hot.
func HotCutoff(now time.Time, hotDays int) time.Time {
	return now.Add(-time.Duration(hotDays) * 24 * time.Hour)
}

// ShouldRunCold reports whether the cold tier is due at the given hour.
func ShouldRunCold(hour int, coldHours []int) bool {
	return slices.Contains(coldHours, hour)
}

// NextColdHour returns the first cold hour after hour, wrapping past midnight.
func NextColdHour(hour int, coldHours []int) int {
	if len(coldHours) == 0 {
		return -1
	}
	sorted := slices.Clone(coldHours)
	slices.Sort(sorted)
	for _, h := range sorted {
		if h > hour {
			return h
		}
	}
	return sorted[0]
}
