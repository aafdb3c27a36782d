package burndist

import (
	"github.com/holiman/uint256"

	"github.com/poxnode/sortition"
)

// assignRanges partitions [0, 2^256) across samples in proportion to
// each sample's Burns weight, in the same vtxindex order Distribute
// already sorted samples into. A candidate with zero weight receives an
// empty range (Start == End) and can never be selected.
func assignRanges(samples []pox.BurnSample) {
	total := new(uint256.Int)
	for _, s := range samples {
		total.Add(total, uint256.NewInt(s.Burns))
	}
	if total.IsZero() {
		for i := range samples {
			samples[i].Range = pox.BurnRange{Start: "0", End: "0"}
		}
		return
	}

	// maxVal is 2^256 - 1, the largest value a uint256.Int can represent;
	// used in place of the unrepresentable 2^256 as the scale for
	// proportional range widths. Using (2^256 - 1) rather than 2^256
	// introduces a negligible rounding bias (at most len(samples)-1
	// units out of 2^256) which is immaterial since the sortition draw
	// is a single uniformly-distributed 256-bit hash compared against
	// these bounds, not an exact-probability lottery.
	maxVal := new(uint256.Int).Not(new(uint256.Int))

	// cursor tracks the running start of the next range.
	var cursor uint256.Int
	for i := range samples {
		start := cursor
		width, _ := new(uint256.Int).MulDivOverflow(uint256.NewInt(samples[i].Burns), maxVal, total)
		end := new(uint256.Int).Add(&start, width)
		if i == len(samples)-1 && samples[i].Burns > 0 {
			end = maxVal
		}
		samples[i].Range = pox.BurnRange{Start: start.Dec(), End: end.Dec()}
		cursor = *end
	}
}

// SelectWinner walks samples in order and returns the one whose range
// contains draw, the sortition-hash-derived 256-bit value spec §4.E
// step 10 computes. Returns ok=false if draw falls in no range: when
// every sample has zero weight, or when draw is at or above the End of
// the last non-empty range (ranges are half-open, so a draw of 2^256-1
// is never selected).
func SelectWinner(samples []pox.BurnSample, draw *uint256.Int) (pox.BurnSample, bool) {
	for _, s := range samples {
		start, errS := uint256.FromDecimal(s.Range.Start)
		end, errE := uint256.FromDecimal(s.Range.End)
		if errS != nil || errE != nil || start.Eq(end) {
			continue
		}
		if draw.Cmp(start) >= 0 && draw.Cmp(end) < 0 {
			return s, true
		}
	}
	return pox.BurnSample{}, false
}
