package sortdb

import (
	"context"
	"database/sql"

	"github.com/bobg/sqlutil"
	"github.com/pkg/errors"

	"github.com/poxnode/sortition"
)

const snapshotColumns = `sortition_id, anchor_hash, anchor_height, parent_sortition_id,
	ops_hash, consensus_hash, sortition_hash, total_burn,
	sortition_bool, winning_txid, winning_block_hash, index_root,
	num_sortitions, accumulated_coinbase, pox_valid, pox_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (pox.Snapshot, error) {
	var (
		snap                                                    pox.Snapshot
		sortitionID, anchorHash, parentID, opsHash               []byte
		consensusHash, sortitionHash, winningTxID, winningHash   []byte
		indexRoot, poxID                                         []byte
		sortitionBool, poxValid                                  int
	)
	err := row.Scan(
		&sortitionID, &anchorHash, &snap.AnchorHeight, &parentID,
		&opsHash, &consensusHash, &sortitionHash, &snap.TotalBurn,
		&sortitionBool, &winningTxID, &winningHash, &indexRoot,
		&snap.NumSortitions, &snap.AccumulatedCoinbase, &poxValid, &poxID,
	)
	if err != nil {
		return pox.Snapshot{}, err
	}
	copy(snap.SortitionID[:], sortitionID)
	copy(snap.AnchorHash[:], anchorHash)
	copy(snap.ParentSortitionID[:], parentID)
	copy(snap.OpsHash[:], opsHash)
	copy(snap.ConsensusHash[:], consensusHash)
	copy(snap.SortitionHash[:], sortitionHash)
	copy(snap.WinningTxID[:], winningTxID)
	copy(snap.WinningBlockHash[:], winningHash)
	copy(snap.IndexRoot[:], indexRoot)
	snap.SortitionBool = sortitionBool != 0
	snap.PoxValid = poxValid != 0
	snap.PoxID = append(pox.PoxBitVector(nil), poxID...)
	return snap, nil
}

// invalidOrSnap rejects a scanned snapshot whose pox_valid bit has been
// cleared by a reorg invalidation pass (spec §3 Lifecycle, §4.B):
// callers reading through an invalidated sortition_id get
// pox.InvalidPoxFork rather than silently operating on stale state.
func invalidOrSnap(snap pox.Snapshot) (pox.Snapshot, error) {
	if !snap.PoxValid {
		return pox.Snapshot{}, pox.InvalidPoxFork(errors.Errorf("sortition %s is on an invalidated pox fork", snap.SortitionID))
	}
	return snap, nil
}

// GetSnapshot looks up a snapshot by its content-addressed id.
func (s *Store) GetSnapshot(ctx context.Context, sortitionID pox.Hash32) (pox.Snapshot, error) {
	q := `SELECT ` + snapshotColumns + ` FROM snapshots WHERE sortition_id = $1`
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, q, sortitionID[:]))
	if err == sql.ErrNoRows {
		return pox.Snapshot{}, sql.ErrNoRows
	}
	if err != nil {
		return pox.Snapshot{}, pox.Database(errors.Wrap(err, "reading snapshot"))
	}
	return invalidOrSnap(snap)
}

// GetSnapshotByAnchorHash looks up the snapshot produced from the
// anchor block identified by hash.
func (s *Store) GetSnapshotByAnchorHash(ctx context.Context, hash pox.Hash32) (pox.Snapshot, error) {
	q := `SELECT ` + snapshotColumns + ` FROM snapshots WHERE anchor_hash = $1`
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, q, hash[:]))
	if err == sql.ErrNoRows {
		return pox.Snapshot{}, sql.ErrNoRows
	}
	if err != nil {
		return pox.Snapshot{}, pox.Database(errors.Wrap(err, "reading snapshot by anchor hash"))
	}
	return invalidOrSnap(snap)
}

// GetAncestorAtHeight walks parent_sortition_id pointers backward from
// tipSortitionID until it finds the snapshot at height, or returns
// ok=false if the fork doesn't reach that far back (height below the
// fork's own genesis).
func (s *Store) GetAncestorAtHeight(ctx context.Context, tipSortitionID pox.Hash32, height uint64) (pox.Snapshot, bool, error) {
	cur, err := s.GetSnapshot(ctx, tipSortitionID)
	if err == sql.ErrNoRows {
		return pox.Snapshot{}, false, nil
	}
	if err != nil {
		return pox.Snapshot{}, false, err
	}
	for {
		if cur.AnchorHeight == height {
			return cur, true, nil
		}
		if cur.AnchorHeight < height {
			return pox.Snapshot{}, false, nil
		}
		if cur.ParentSortitionID == (pox.Hash32{}) {
			return pox.Snapshot{}, false, nil
		}
		cur, err = s.GetSnapshot(ctx, cur.ParentSortitionID)
		if err == sql.ErrNoRows {
			return pox.Snapshot{}, false, nil
		}
		if err != nil {
			return pox.Snapshot{}, false, err
		}
	}
}

// GetCommitsBySortition returns the accepted BlockCommitOps recorded at
// sortitionID.
func (s *Store) GetCommitsBySortition(ctx context.Context, sortitionID pox.Hash32) ([]pox.BlockCommitOp, error) {
	const q = `SELECT op_type, payload FROM accepted_ops WHERE sortition_id = $1 ORDER BY vtxindex`
	var out []pox.BlockCommitOp
	err := sqlutil.ForQueryRows(ctx, s.db, q, sortitionID[:], func(opType pox.OpType, payload []byte) error {
		if opType != pox.OpBlockCommit {
			return nil
		}
		op, err := pox.DecodeOp(opType, payload)
		if err != nil {
			return err
		}
		out = append(out, *op.(*pox.BlockCommitOp))
		return nil
	})
	if err != nil {
		return nil, pox.Database(errors.Wrap(err, "reading accepted ops"))
	}
	return out, nil
}

// GetMissedCommitsByIntended returns the missed commits recorded
// alongside sortitionID.
func (s *Store) GetMissedCommitsByIntended(ctx context.Context, sortitionID pox.Hash32) ([]pox.MissedCommitOp, error) {
	const q = `SELECT intended_height, payload FROM missed_commits WHERE sortition_id = $1`
	var out []pox.MissedCommitOp
	err := sqlutil.ForQueryRows(ctx, s.db, q, sortitionID[:], func(intendedHeight uint64, payload []byte) error {
		op, err := pox.DecodeOp(pox.OpBlockCommit, payload)
		if err != nil {
			return err
		}
		out = append(out, pox.MissedCommitOp{IntendedHeight: intendedHeight, Commit: *op.(*pox.BlockCommitOp)})
		return nil
	})
	if err != nil {
		return nil, pox.Database(errors.Wrap(err, "reading missed commits"))
	}
	return out, nil
}

// GetCanonicalTip returns the snapshot on the branch with the greatest
// total_burn, breaking ties by lexicographically-greatest sortition_id
// (spec §4.F).
func (s *Store) GetCanonicalTip(ctx context.Context) (pox.Snapshot, error) {
	q := `SELECT ` + snapshotColumns + ` FROM snapshots WHERE pox_valid = 1 ORDER BY total_burn DESC, sortition_id DESC LIMIT 1`
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, q))
	if err == sql.ErrNoRows {
		return pox.Snapshot{}, nil
	}
	if err != nil {
		return pox.Snapshot{}, pox.Database(errors.Wrap(err, "reading canonical tip"))
	}
	return snap, nil
}

// InvalidateFromHeight marks every snapshot at or above height as
// pox_valid = false and clears their pox_id bit for the reward cycle
// that height falls in. It is the write side of reorg handling: once
// the anchor-chain reorg detector (ingest.Pipeline.RunOnce) finds the
// local chain diverges from the remote one at some height, every
// sortition index entry descending from that height belongs to a
// reward cycle that must be re-evaluated, so reads through it are
// rejected until a fresh Apply pass recomputes the fork (spec §3
// Lifecycle, §4.B).
func (s *Store) InvalidateFromHeight(ctx context.Context, height uint64, cycleNum uint64) error {
	type row struct {
		sortitionID []byte
		poxID       []byte
	}
	var rows []row
	const selQ = `SELECT sortition_id, pox_id FROM snapshots WHERE anchor_height >= $1 AND pox_valid = 1`
	err := sqlutil.ForQueryRows(ctx, s.db, selQ, height, func(sortitionID, poxID []byte) error {
		rows = append(rows, row{sortitionID: append([]byte(nil), sortitionID...), poxID: append([]byte(nil), poxID...)})
		return nil
	})
	if err != nil {
		return pox.Database(errors.Wrap(err, "reading snapshots to invalidate"))
	}

	const updQ = `UPDATE snapshots SET pox_valid = 0, pox_id = $1 WHERE sortition_id = $2`
	for _, r := range rows {
		vec := pox.PoxBitVector(r.poxID)
		vec.Clear(cycleNum)
		if _, err := s.db.ExecContext(ctx, updQ, []byte(vec), r.sortitionID); err != nil {
			return pox.Database(errors.Wrap(err, "invalidating pox fork"))
		}
	}
	return nil
}

// KeyConsumed implements transition.AncestorSource: whether keyPtr has
// been consumed anywhere on the fork ending at tipSortitionID.
func (s *Store) KeyConsumed(ctx context.Context, tipSortitionID pox.Hash32, keyPtr pox.KeyPtr) (bool, error) {
	cur := tipSortitionID
	for {
		const q = `SELECT 1 FROM consumed_keys WHERE sortition_id = $1 AND key_block_ptr = $2 AND key_vtxindex = $3`
		var one int
		err := s.db.QueryRowContext(ctx, q, cur[:], keyPtr.BlockPtr, keyPtr.VtxIndex).Scan(&one)
		if err == nil {
			return true, nil
		}
		if err != sql.ErrNoRows {
			return false, pox.Database(errors.Wrap(err, "checking consumed key"))
		}
		snap, err := s.GetSnapshot(ctx, cur)
		if err == sql.ErrNoRows {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if snap.ParentSortitionID == (pox.Hash32{}) {
			return false, nil
		}
		cur = snap.ParentSortitionID
	}
}

// CommitsAtHeight implements transition.AncestorSource.
func (s *Store) CommitsAtHeight(ctx context.Context, tipSortitionID pox.Hash32, height uint64) ([]pox.BlockCommitOp, bool) {
	snap, ok, err := s.GetAncestorAtHeight(ctx, tipSortitionID, height)
	if err != nil || !ok {
		return nil, false
	}
	commits, err := s.GetCommitsBySortition(ctx, snap.SortitionID)
	if err != nil {
		return nil, false
	}
	return commits, true
}

// MissedAtHeight implements transition.AncestorSource.
func (s *Store) MissedAtHeight(ctx context.Context, tipSortitionID pox.Hash32, height uint64) ([]pox.MissedCommitOp, bool) {
	snap, ok, err := s.GetAncestorAtHeight(ctx, tipSortitionID, height)
	if err != nil || !ok {
		return nil, false
	}
	missed, err := s.GetMissedCommitsByIntended(ctx, snap.SortitionID)
	if err != nil {
		return nil, false
	}
	return missed, true
}

// ConsensusHashAtHeight implements transition.AncestorSource.
func (s *Store) ConsensusHashAtHeight(ctx context.Context, tipSortitionID pox.Hash32, height uint64) (pox.Hash32, bool) {
	snap, ok, err := s.GetAncestorAtHeight(ctx, tipSortitionID, height)
	if err != nil || !ok {
		return pox.Hash32{}, false
	}
	return snap.ConsensusHash, true
}
