package burndist

import (
	"log"
	"sort"

	"github.com/poxnode/sortition"
	"github.com/poxnode/sortition/poxcrypto"
)

// Result is the outcome of Distribute: the accepted burn samples (sorted
// by vtxindex, the tie-break spec §4.D names explicitly), the total
// weight across all candidates, and — for diagnostics only — the
// minimum of the per-candidate medians (spec §9's open question: the
// minimum is exposed, but effective_burn still collapses to each
// candidate's own median per the "implementation may collapse to" note,
// anchored by scenario tests S2 and S5).
type Result struct {
	Samples   []pox.BurnSample
	Total     uint64
	MinMedian uint64
}

// Distribute computes per-candidate effective burn for the commits made
// in the current anchor block, given the trailing window (including the
// current height as window.Slots[0]) and any user supports observed in
// the current block. Candidates are the BlockCommitOps of the current
// block; a candidate's burn history across older slots is found by
// walking its chain of parent pointers (parent_block_ptr/
// parent_vtxindex) one hop per slot, falling back to a missed commit's
// recorded burn. Where neither is found the walk stops, and the
// candidate's median is taken over the slots reached so far only; the
// unreached older slots are not counted, not even as zero.
func Distribute(window Window, currentCommits []pox.BlockCommitOp, supports []pox.UserSupportOp) Result {
	var res Result
	if len(window.Slots) == 0 || len(currentCommits) == 0 {
		return res
	}

	candidates := append([]pox.BlockCommitOp(nil), currentCommits...)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Header().VtxIndex < candidates[j].Header().VtxIndex })

	supportsByKey := make(map[ptrKey][]pox.UserSupportOp)
	for _, s := range supports {
		k := ptrKey{Height: s.KeyPtr.BlockPtr, VtxIndex: s.KeyPtr.VtxIndex}
		supportsByKey[k] = append(supportsByKey[k], s)
	}

	medians := make([]uint64, len(candidates))
	for ci, cand := range candidates {
		burns := make([]uint64, 0, len(window.Slots))

		// Slot 0 (the current height) always uses the candidate's own
		// recorded burn directly.
		burns = append(burns, slotBurn(window.Slots[0].MustBurn, cand.BurnFee))

		// Walk the candidate's own chain of parent pointers one window
		// slot at a time. A slot genuinely in this candidate's lineage
		// contributes its recorded burn; once the chain runs out (no
		// commit or missed-commit at the expected pointer, or the slot
		// heights and the pointer height disagree) the walk stops — the
		// candidate's median is taken over only the slots its own
		// history actually reaches, not artificially zero-padded out to
		// the full window width. (Scenario S2: a candidate's very first
		// commit has a one-slot history and its effective burn must
		// equal that slot's burn exactly, not the median of a
		// mostly-zero window.)
		ptr := ptrKey{Height: cand.ParentBlockPtr, VtxIndex: cand.ParentVtxIndex}
		for i := 1; i < len(window.Slots); i++ {
			slot := window.Slots[i]
			if slot.Height != ptr.Height {
				break
			}
			if c, ok := slot.CommitsByPtr[ptr]; ok {
				burns = append(burns, slotBurn(slot.MustBurn, c.BurnFee))
				ptr = ptrKey{Height: c.ParentBlockPtr, VtxIndex: c.ParentVtxIndex}
				continue
			}
			if m, ok := slot.MissedByIntended[ptr]; ok {
				burns = append(burns, slotBurn(slot.MustBurn, m.Commit.BurnFee))
				ptr = ptrKey{Height: m.Commit.ParentBlockPtr, VtxIndex: m.Commit.ParentVtxIndex}
				continue
			}
			break
		}

		medians[ci] = median(burns)
	}

	minMedian := medians[0]
	for _, m := range medians[1:] {
		if m < minMedian {
			minMedian = m
		}
	}
	res.MinMedian = minMedian

	res.Samples = make([]pox.BurnSample, len(candidates))
	var total uint64
	for ci, cand := range candidates {
		weight := medians[ci]
		blockHash160 := pox.Hash160(poxcrypto.Hash160(cand.BlockHash[:]))
		key := ptrKey{Height: cand.KeyPtr.BlockPtr, VtxIndex: cand.KeyPtr.VtxIndex}
		var attached []pox.UserSupportOp
		for _, s := range supportsByKey[key] {
			if s.BlockHeaderHash160 != blockHash160 {
				continue
			}
			attached = append(attached, s)
			weight += s.BurnFee
		}
		res.Samples[ci] = pox.BurnSample{Candidate: cand, Burns: weight, UserSupports: attached}
		total += weight
	}
	res.Total = total

	assignRanges(res.Samples)
	return res
}

// slotBurn is the single call site for a slot's contribution to a
// candidate's burn history. must-burn rejection (spec §4.D step 2: a
// commit with burn_fee 0 during the prepare phase can't win at all) is
// enforced earlier, by transition.Apply before candidates ever reach
// Distribute; by the time a commit is a candidate here its burn_fee is
// known-valid for its slot, so this is a straight pass-through.
func slotBurn(mustBurn bool, burnFee uint64) uint64 {
	return burnFee
}

// UnmatchedSupports reports supports whose (public_key,
// block_header_hash_160) didn't match any accepted commit in samples,
// for the caller to log at warn severity per spec §4.D ("Unmatched
// supports are discarded and logged").
func UnmatchedSupports(samples []pox.BurnSample, all []pox.UserSupportOp) []pox.UserSupportOp {
	matched := make(map[pox.Hash32]struct{})
	for _, s := range samples {
		for _, u := range s.UserSupports {
			matched[u.Header().TxID] = struct{}{}
		}
	}
	var unmatched []pox.UserSupportOp
	for _, u := range all {
		if _, ok := matched[u.Header().TxID]; !ok {
			unmatched = append(unmatched, u)
			log.Printf("burndist: warn: unmatched UserSupport %s dropped", u.Header().TxID)
		}
	}
	return unmatched
}
