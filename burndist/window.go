// Package burndist implements the windowed min-of-medians burn
// distribution of spec §4.D: the per-anchor-block weighting that turns a
// set of candidate block commits into sortition ranges.
package burndist

import "github.com/poxnode/sortition"

// ptrKey locates a commit by the (height, vtxindex) pair a later
// commit's parent pointer refers to.
type ptrKey struct {
	Height   uint64
	VtxIndex uint32
}

// Slot is one height's worth of window data: the commits and missed
// commits available at that height, plus whether must-burn applies
// there (spec §4.D step 2).
type Slot struct {
	Height           uint64
	MustBurn         bool
	CommitsByPtr     map[ptrKey]pox.BlockCommitOp
	MissedByIntended map[ptrKey]pox.MissedCommitOp
}

// NewSlot builds a Slot from the commits and missed commits observed at
// height.
func NewSlot(height uint64, mustBurn bool, commits []pox.BlockCommitOp, missed []pox.MissedCommitOp) Slot {
	s := Slot{
		Height:           height,
		MustBurn:         mustBurn,
		CommitsByPtr:     make(map[ptrKey]pox.BlockCommitOp, len(commits)),
		MissedByIntended: make(map[ptrKey]pox.MissedCommitOp, len(missed)),
	}
	for _, c := range commits {
		s.CommitsByPtr[ptrKey{Height: c.Header().Height, VtxIndex: c.Header().VtxIndex}] = c
	}
	for _, m := range missed {
		s.MissedByIntended[ptrKey{Height: m.IntendedHeight, VtxIndex: m.Commit.Header().VtxIndex}] = m
	}
	return s
}

// Window holds the W (or, at the chain tip, fewer) most recent heights,
// ordered from the current block backwards, oldest last.
type Window struct {
	Slots []Slot
}

// BuildWindow assembles a Window of up to want slots ending at
// currentHeight, from oldest-available data supplied by byHeight. It
// implements spec §9's open-question resolution: when fewer than want
// heights exist (parentHeight+1 < want), the window is silently
// shortened rather than consulting a negative height.
func BuildWindow(currentHeight uint64, want int, byHeight func(height uint64) (Slot, bool)) Window {
	var w Window
	for i := 0; i < want; i++ {
		if uint64(i) > currentHeight {
			break
		}
		h := currentHeight - uint64(i)
		slot, ok := byHeight(h)
		if !ok {
			break
		}
		w.Slots = append(w.Slots, slot)
	}
	return w
}
