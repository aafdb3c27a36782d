// Package cycle implements the reward-cycle calendar of spec §4.G: pure
// functions over anchor heights and a fixed set of constants. None of
// these functions perform I/O, so the whole package is suitable for
// exhaustive table-driven testing.
package cycle

import "math/big"

// Calendar holds the constants that parameterize the reward-cycle
// arithmetic for one anchor-chain deployment.
type Calendar struct {
	FirstBlockHeight  uint64
	RewardCycleLength uint64
	PrepareLength     uint64
	SunsetStart       uint64
	SunsetEnd         uint64
}

// BlockToCycle returns the reward cycle containing height h, and false if
// h precedes FirstBlockHeight.
func (c Calendar) BlockToCycle(h uint64) (uint64, bool) {
	if h < c.FirstBlockHeight {
		return 0, false
	}
	return (h - c.FirstBlockHeight) / c.RewardCycleLength, true
}

// CycleToBlock returns the first block height of reward cycle n. Reward
// cycles begin at modulus 1, not 0.
func (c Calendar) CycleToBlock(n uint64) uint64 {
	return c.FirstBlockHeight + n*c.RewardCycleLength + 1
}

// IsCycleStart reports whether h is the first block of its reward cycle.
func (c Calendar) IsCycleStart(h uint64) bool {
	if h < c.FirstBlockHeight {
		return false
	}
	return (h-c.FirstBlockHeight)%c.RewardCycleLength == 1
}

// IsInPreparePhase reports whether h falls in the prepare-phase tail of
// its reward cycle: either the final block of the cycle, or within
// PrepareLength blocks of the end.
func (c Calendar) IsInPreparePhase(h uint64) bool {
	if h <= c.FirstBlockHeight {
		return false
	}
	mod := (h - c.FirstBlockHeight) % c.RewardCycleLength
	if mod == 0 {
		return true
	}
	return mod > c.RewardCycleLength-c.PrepareLength
}

// ExpectedSunsetBurn returns the fraction of total that must be burned at
// height h under the sunset schedule: zero outside [SunsetStart,
// SunsetEnd) or during a prepare phase, otherwise a linear ramp computed
// in a 128-bit intermediate to preclude overflow for large `total`.
func (c Calendar) ExpectedSunsetBurn(h uint64, total uint64) uint64 {
	if h < c.SunsetStart || h >= c.SunsetEnd {
		return 0
	}
	if c.IsInPreparePhase(h) {
		return 0
	}
	cycleStart, ok := c.BlockToCycle(h)
	if !ok {
		return 0
	}
	cycleStartHeight := c.CycleToBlock(cycleStart)
	if cycleStartHeight < c.SunsetStart {
		return 0
	}

	num := new(big.Int).SetUint64(total)
	num.Mul(num, big.NewInt(int64(cycleStartHeight-c.SunsetStart)))
	denom := big.NewInt(int64(c.SunsetEnd - c.SunsetStart))
	num.Div(num, denom)
	return num.Uint64()
}

// MustBurn reports whether anchor height h forces must-burn treatment
// for burn distribution (spec §4.D step 2): h is in a prepare phase, or
// h is at or past the sunset schedule's end.
func (c Calendar) MustBurn(h uint64) bool {
	if c.IsInPreparePhase(h) {
		return true
	}
	return h >= c.SunsetEnd
}
