// Package deliver decouples the bursty acquisition path from consumers that
// want a steady cadence: a bounded queue with tier-scoped drop semantics and
// a rate controller offering pull and push delivery.
package deliver

import (
	"fmt"
	"time"
)

// DropPolicy selects what the queue sheds under overload.
type DropPolicy int

const (
	// DropOldest evicts the oldest queued frame to admit the new one,
	// favouring freshness.
	DropOldest DropPolicy = iota

	// DropNewest discards the incoming frame while a consumer read is in
	// flight, favouring not disturbing an in-progress read. Used by the
	// ultra tier together with enqueue skipping.
	DropNewest
)

func (p DropPolicy) String() string {
	if p == DropNewest {
		return "drop-newest"
	}
	return "drop-oldest"
}

// Tier is a named delivery-rate configuration. Tiers are selected at startup
// and immutable mid-run.
type Tier struct {
	Name          string
	TargetFPS     int
	MaxQueueDepth int
	Policy        DropPolicy

	// SkipWhenBacklogged additionally lets the controller skip enqueueing a
	// frame entirely while the previous one is unconsumed.
	SkipWhenBacklogged bool
}

// The three delivery tiers. Queue depth shrinks as the rate rises so queueing
// latency stays bounded at the higher tiers.
var (
	Standard = Tier{Name: "standard", TargetFPS: 20, MaxQueueDepth: 8, Policy: DropOldest}
	Fast     = Tier{Name: "fast", TargetFPS: 100, MaxQueueDepth: 4, Policy: DropOldest}
	Ultra    = Tier{Name: "ultra", TargetFPS: 200, MaxQueueDepth: 2, Policy: DropNewest, SkipWhenBacklogged: true}
)

// Tiers lists the selectable presets.
var Tiers = []Tier{Standard, Fast, Ultra}

// ParseTier resolves a tier by name.
func ParseTier(name string) (Tier, error) {
	for _, t := range Tiers {
		if t.Name == name {
			return t, nil
		}
	}
	return Tier{}, fmt.Errorf("unknown delivery tier %q (expected standard, fast, or ultra)", name)
}

// FrameInterval returns the target time between delivered frames.
func (t Tier) FrameInterval() time.Duration {
	return time.Second / time.Duration(t.TargetFPS)
}
