// Package twap computes time-weighted average prices over collected samples.
package twap

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Sample is one observed price at a point in time.
type Sample struct {
	Price       decimal.Decimal
	CollectedAt time.Time
}

// Basis reports how much data backed a computed average.
type Basis string

const (
	// BasisFull means a true time-weighted average over 2+ samples.
	BasisFull Basis = "full"
	// BasisSingle means only one sample was available; its price is returned
	// as a degraded, low-confidence result.
	BasisSingle Basis = "single"
	// BasisEmpty means no samples at all; the result is zero and unusable.
	BasisEmpty Basis = "empty"
)

// Compute returns the time-weighted average of the given samples. Each price
// is weighted by the duration until the next sample; the last sample carries
// no weight of its own. Input need not be sorted. The function is pure.
func Compute(samples []Sample) (decimal.Decimal, Basis) {
	if len(samples) == 0 {
		return decimal.Zero, BasisEmpty
	}
	if len(samples) == 1 {
		return samples[0].Price, BasisSingle
	}

	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CollectedAt.Before(sorted[j].CollectedAt)
	})

	weighted := decimal.Zero
	totalSeconds := decimal.Zero
	for i := 0; i < len(sorted)-1; i++ {
		span := sorted[i+1].CollectedAt.Sub(sorted[i].CollectedAt)
		if span <= 0 {
			continue
		}
		secs := decimal.NewFromFloat(span.Seconds())
		weighted = weighted.Add(sorted[i].Price.Mul(secs))
		totalSeconds = totalSeconds.Add(secs)
	}
	if totalSeconds.IsZero() {
		// every sample shares one timestamp; degrade to a plain average
		sum := decimal.Zero
		for _, s := range sorted {
			sum = sum.Add(s.Price)
		}
		return sum.Div(decimal.NewFromInt(int64(len(sorted)))), BasisFull
	}
	return weighted.Div(totalSeconds), BasisFull
}

// Performance returns the relative price change (end-start)/start. A zero
// start price yields ok=false.
func Performance(start, end decimal.Decimal) (decimal.Decimal, bool) {
	if start.IsZero() {
		return decimal.Zero, false
	}
	return end.Sub(start).Div(start), true
}
