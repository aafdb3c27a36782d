// Package transition implements the state-transition function of spec
// §4.E: turning one anchor block's ops into the next consensus
// Snapshot, given the parent snapshot and a read view over the fork's
// history.
package transition

import (
	"context"
	"encoding/binary"
	"log"
	"sort"

	"github.com/poxnode/sortition"
	"github.com/poxnode/sortition/burndist"
	"github.com/poxnode/sortition/cycle"
	"github.com/poxnode/sortition/poxcrypto"
)

// AncestorSource is the read view transition needs over a fork's
// history: the window of recent commits/missed-commits for burn
// distribution, VRF-key-consumption lookups against ancestor snapshots,
// and the geometric ancestor-height sample for consensus_hash. It is
// satisfied by sortdb.Store; kept as an interface here so transition
// has no import-time dependency on the storage package.
type AncestorSource interface {
	// CommitsAtHeight returns the accepted block commits recorded at
	// height on the fork whose tip is tipSortitionID, or ok=false if no
	// snapshot exists at that height on this fork.
	CommitsAtHeight(ctx context.Context, tipSortitionID pox.Hash32, height uint64) (commits []pox.BlockCommitOp, ok bool)
	// MissedAtHeight returns missed commits recorded at height on the
	// same fork.
	MissedAtHeight(ctx context.Context, tipSortitionID pox.Hash32, height uint64) (missed []pox.MissedCommitOp, ok bool)
	// KeyConsumed reports whether keyPtr has already been consumed by
	// some ancestor of tipSortitionID.
	KeyConsumed(ctx context.Context, tipSortitionID pox.Hash32, keyPtr pox.KeyPtr) (bool, error)
	// ConsensusHashAtHeight returns the consensus_hash recorded at
	// height on the fork, for the geometric sampling window of step 9.
	ConsensusHashAtHeight(ctx context.Context, tipSortitionID pox.Hash32, height uint64) (pox.Hash32, bool)
}

// WindowSize is the fixed W of spec §4.D.
const WindowSize = 6

// geometricOffsets are the h-1, h-2, h-4, h-8, ... samples step 9 folds
// into consensus_hash.
var geometricOffsets = []uint64{1, 2, 4, 8, 16, 32, 64}

// Apply computes the Snapshot that anchor succeeds parent into, given
// the anchor chain ops observed in that block and the current sunset
// schedule. Returns the new snapshot and the subset of ops that were
// accepted (for persistence alongside it).
func Apply(ctx context.Context, parent pox.Snapshot, anchor pox.AnchorHeader, opsInBlock []pox.AnchorOp, missedInBlock []pox.MissedCommitOp, cal cycle.Calendar, source AncestorSource) (pox.Snapshot, []pox.AnchorOp, error) {
	// Step 1: ops_in_block must already be sorted by vtxindex; the
	// ingest/opclass stages guarantee this by construction (ops are
	// read from the anchor block in tx order), so a violation here is a
	// caller bug rather than a byzantine-input condition. Re-sort
	// defensively and log, rather than refusing the whole block.
	if !sort.SliceIsSorted(opsInBlock, func(i, j int) bool {
		return opsInBlock[i].Header().VtxIndex < opsInBlock[j].Header().VtxIndex
	}) {
		log.Printf("transition: warn: ops_in_block not sorted by vtxindex at height %d, re-sorting", anchor.Height)
		sort.SliceStable(opsInBlock, func(i, j int) bool {
			return opsInBlock[i].Header().VtxIndex < opsInBlock[j].Header().VtxIndex
		})
	}

	// Step 2 + VRF-key-duplicate filtering: key registers and token ops
	// (PreAuth/StackAuth/TransferAuth) are accepted unconditionally;
	// collapse duplicate KeyRegisters for the same public key, keeping
	// the lowest vtxindex.
	var accepted []pox.AnchorOp
	var commits []pox.BlockCommitOp
	var supports []pox.UserSupportOp
	keyRegByPubkey := make(map[pox.VRFPublicKey]*pox.KeyRegisterOp)
	var keyRegOrder []pox.VRFPublicKey

	for _, op := range opsInBlock {
		switch o := op.(type) {
		case *pox.KeyRegisterOp:
			if existing, ok := keyRegByPubkey[o.PublicKey]; !ok || o.Header().VtxIndex < existing.Header().VtxIndex {
				if !ok {
					keyRegOrder = append(keyRegOrder, o.PublicKey)
				}
				keyRegByPubkey[o.PublicKey] = o
			}
		case *pox.PreAuthOp, *pox.StackAuthOp, *pox.TransferAuthOp:
			accepted = append(accepted, op)
		case *pox.BlockCommitOp:
			commits = append(commits, *o)
		case *pox.UserSupportOp:
			supports = append(supports, *o)
		}
	}
	for _, pk := range keyRegOrder {
		accepted = append(accepted, keyRegByPubkey[pk])
	}

	// Step 3: consume leader keys. A commit whose key_ptr was already
	// consumed by an ancestor snapshot is rejected outright, before it
	// ever reaches distribution. A commit that burns nothing at a
	// must-burn height is rejected the same way (PrepareMustBurn).
	var liveCommits []pox.BlockCommitOp
	for _, c := range commits {
		if c.BurnFee == 0 && cal.MustBurn(anchor.Height) {
			log.Printf("transition: warn: %s: commit %s burns nothing at must-burn height %d", pox.RejectPrepareMustBurn, c.Header().TxID, anchor.Height)
			continue
		}
		consumed, err := source.KeyConsumed(ctx, parent.SortitionID, c.KeyPtr)
		if err != nil {
			return pox.Snapshot{}, nil, err
		}
		if consumed {
			log.Printf("transition: warn: %s: commit %s key_ptr=%+v", pox.RejectAlreadyConsumedKey, c.Header().TxID, c.KeyPtr)
			continue
		}
		liveCommits = append(liveCommits, c)
	}

	// Duplicate-key rule (scenario S3): among the surviving commits in
	// this block, if more than one references the same key_ptr, only
	// the highest-vtxindex one is kept; the rest are rejected with the
	// same AlreadyConsumedKey reason, since accepting both would
	// double-spend a single-use VRF key.
	bestByKey := make(map[pox.KeyPtr]pox.BlockCommitOp)
	for _, c := range liveCommits {
		if existing, ok := bestByKey[c.KeyPtr]; !ok || c.Header().VtxIndex > existing.Header().VtxIndex {
			bestByKey[c.KeyPtr] = c
		}
	}
	deduped := liveCommits[:0]
	for _, c := range liveCommits {
		if best := bestByKey[c.KeyPtr]; best.Header().TxID == c.Header().TxID && best.Header().VtxIndex == c.Header().VtxIndex {
			deduped = append(deduped, c)
		} else {
			log.Printf("transition: warn: %s: commit %s lost duplicate-key race for key_ptr=%+v", pox.RejectAlreadyConsumedKey, c.Header().TxID, c.KeyPtr)
		}
	}
	liveCommits = deduped
	sort.Slice(liveCommits, func(i, j int) bool { return liveCommits[i].Header().VtxIndex < liveCommits[j].Header().VtxIndex })

	// Steps 4-5: build the trailing window and apply the must-burn mask.
	window := burndist.BuildWindow(anchor.Height, WindowSize, func(h uint64) (burndist.Slot, bool) {
		if h == anchor.Height {
			return burndist.NewSlot(h, cal.MustBurn(h), liveCommits, missedInBlock), true
		}
		c, ok := source.CommitsAtHeight(ctx, parent.SortitionID, h)
		if !ok {
			return burndist.Slot{}, false
		}
		m, _ := source.MissedAtHeight(ctx, parent.SortitionID, h)
		return burndist.NewSlot(h, cal.MustBurn(h), c, m), true
	})

	// Step 6: compute the distribution.
	var dist burndist.Result
	if len(liveCommits) > 0 {
		dist = burndist.Distribute(window, liveCommits, supports)
	}

	// Step 7: partition accepted vs. rejected.
	snap := pox.Snapshot{
		SortitionID:       sortitionID(anchor),
		AnchorHash:        anchor.Hash,
		AnchorHeight:      anchor.Height,
		ParentSortitionID: parent.SortitionID,
		TotalBurn:         parent.TotalBurn + dist.Total,
		PoxID:             append(pox.PoxBitVector(nil), parent.PoxID...),
		NumSortitions:     parent.NumSortitions,
	}

	var winner *pox.BurnSample
	if dist.Total > 0 {
		draw := sortitionDraw(poxcrypto.MixAnchor(parent.SortitionHash, anchor.Hash))
		if w, ok := burndist.SelectWinner(dist.Samples, draw); ok {
			winner = &w
		}
	}

	if winner != nil {
		snap.SortitionBool = true
		snap.WinningTxID = winner.Candidate.Header().TxID
		snap.WinningBlockHash = winner.Candidate.BlockHash
		snap.NumSortitions = parent.NumSortitions + 1
		accepted = append(accepted, &winner.Candidate)
		for i := range winner.UserSupports {
			accepted = append(accepted, &winner.UserSupports[i])
		}
		for _, s := range dist.Samples {
			if s.Candidate.Header().TxID == winner.Candidate.Header().TxID {
				continue
			}
			log.Printf("transition: warn: %s: commit %s lost sortition at height %d", pox.RejectNoMatchingCommit, s.Candidate.Header().TxID, anchor.Height)
		}
	} else {
		for _, c := range liveCommits {
			log.Printf("transition: warn: no winner at height %d, commit %s rejected", anchor.Height, c.Header().TxID)
		}
	}
	for _, u := range burndist.UnmatchedSupports(dist.Samples, supports) {
		_ = u // already logged inside UnmatchedSupports
	}

	// Step 8: ops_hash.
	sort.Slice(accepted, func(i, j int) bool { return accepted[i].Header().VtxIndex < accepted[j].Header().VtxIndex })
	var txids [][32]byte
	for _, op := range accepted {
		txids = append(txids, op.Header().TxID)
	}
	snap.OpsHash = poxcrypto.HashConcat(txids...)

	// Step 9: consensus_hash over anchor_hash, ops_hash, total_burn,
	// the geometric ancestor window, and pox_id.
	snap.ConsensusHash = consensusHash(ctx, snap, source, parent.SortitionID)

	// Step 10: mix sortition_hash.
	mixed := poxcrypto.MixAnchor(parent.SortitionHash, anchor.Hash)
	if winner != nil {
		mixed = poxcrypto.MixSeed(mixed, winner.Candidate.NewSeed)
	}
	snap.SortitionHash = mixed
	snap.PoxValid = true

	return snap, accepted, nil
}

// sortitionID content-addresses a snapshot by its anchor block, so
// ancestry lookups (spec §9 design note: "snapshots reference ancestors
// by sortition_id (content-addressed)") never depend on process-local
// sequence numbers.
func sortitionID(anchor pox.AnchorHeader) pox.Hash32 {
	var heightBytes [8]byte
	binary.BigEndian.PutUint64(heightBytes[:], anchor.Height)
	buf := make([]byte, 0, 40)
	buf = append(buf, anchor.Hash[:]...)
	buf = append(buf, heightBytes[:]...)
	return poxcrypto.SHA512_256(buf)
}
