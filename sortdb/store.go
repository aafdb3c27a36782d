// Package sortdb implements the sortition index of spec §4.F: the
// fork-aware, authenticated record of every snapshot, its accepted ops,
// its missed commits, and the VRF keys it has consumed. It backs
// sortition.db (spec §6); anchor.db is package anchordb.
package sortdb

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/poxnode/sortition"
	"github.com/poxnode/sortition/poxcrypto"
)

// genesisSortitionID content-addresses the pre-seeded genesis snapshot
// the same way transition.Apply content-addresses every later one (hash
// of anchor_hash || big-endian height). Keeping genesis non-zero avoids
// colliding with the all-zero ParentSortitionID sentinel
// GetAncestorAtHeight uses to recognize "no further ancestor."
func genesisSortitionID(anchor pox.AnchorHeader) pox.Hash32 {
	var heightBytes [8]byte
	binary.BigEndian.PutUint64(heightBytes[:], anchor.Height)
	buf := make([]byte, 0, 40)
	buf = append(buf, anchor.Hash[:]...)
	buf = append(buf, heightBytes[:]...)
	return poxcrypto.SHA512_256(buf)
}

// Store is the sortition index. Like anchordb, it relies on the
// sqlite3 driver to serialize writers; readers opened at a fixed
// sortition_id are isolated from concurrent writes to a disjoint fork
// (spec §4.F) because rows are only inserted; the one in-place update
// is InvalidateFromHeight, which rewrites pox_valid and pox_id.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sortition index at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_txlock=immediate")
	if err != nil {
		return nil, errors.Wrap(err, "opening sortition.db")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating sortition.db schema")
	}
	return &Store{db: db}, nil
}

// Create opens path and, if it has no genesis snapshot yet, writes one
// rooted at firstAnchor with a content-addressed sortition_id (see
// genesisSortitionID), an all-zero parent_sortition_id, all-zero ops,
// consensus and sortition hashes, and num_sortitions = 0. WriteSnapshot
// computes its index_root as for any other snapshot.
func Create(path string, firstAnchor pox.AnchorHeader) (*Store, error) {
	s, err := Open(path)
	if err != nil {
		return nil, err
	}
	_, err = s.GetSnapshotByAnchorHash(context.Background(), firstAnchor.Hash)
	if err == nil {
		return s, nil
	}
	if err != sql.ErrNoRows {
		s.Close()
		return nil, err
	}
	genesis := pox.Snapshot{
		SortitionID:  genesisSortitionID(firstAnchor),
		AnchorHash:   firstAnchor.Hash,
		AnchorHeight: firstAnchor.Height,
		PoxValid:     true,
	}
	tx, err := s.BeginTx(context.Background(), genesis.ParentSortitionID)
	if err != nil {
		s.Close()
		return nil, err
	}
	if err := tx.WriteSnapshot(context.Background(), genesis, nil, nil); err != nil {
		s.Close()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Tx is a write transaction rooted at a known parent snapshot (spec
// §4.F begin_tx/commit/rollback). Exactly one snapshot may be written
// per Tx.
type Tx struct {
	tx *sql.Tx
}

// BeginTx opens a write transaction. parentSortitionID is recorded only
// for documentation purposes here; WriteSnapshot's snapshot argument
// carries the real parent link.
func (s *Store) BeginTx(ctx context.Context, parentSortitionID pox.Hash32) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, pox.Database(errors.Wrap(err, "beginning sortdb transaction"))
	}
	return &Tx{tx: tx}, nil
}

// WriteSnapshot persists snap, its accepted ops, and any missed
// commits observed in the block it resulted from.
func (t *Tx) WriteSnapshot(ctx context.Context, snap pox.Snapshot, accepted []pox.AnchorOp, missed []pox.MissedCommitOp) error {
	acceptedPayloads := make([][]byte, len(accepted))
	entries := make(map[string][]byte, len(accepted)+len(missed)+1)
	entries["consensus_hash"] = snap.ConsensusHash[:]
	for i, op := range accepted {
		payload, err := pox.EncodeOp(op)
		if err != nil {
			return pox.Database(errors.Wrap(err, "encoding accepted op"))
		}
		acceptedPayloads[i] = payload
		h := op.Header()
		entries[fmt.Sprintf("op:%d:%d", h.Height, h.VtxIndex)] = payload
	}
	missedPayloads := make([][]byte, len(missed))
	for i, m := range missed {
		payload, err := pox.EncodeOp(&m.Commit)
		if err != nil {
			return pox.Database(errors.Wrap(err, "encoding missed commit"))
		}
		missedPayloads[i] = payload
		entries[fmt.Sprintf("missed:%d:%d", m.IntendedHeight, m.Commit.Header().VtxIndex)] = payload
	}
	snap.IndexRoot = indexRoot(entries)

	const insertSnap = `
		INSERT INTO snapshots (
			sortition_id, anchor_hash, anchor_height, parent_sortition_id,
			ops_hash, consensus_hash, sortition_hash, total_burn,
			sortition_bool, winning_txid, winning_block_hash, index_root,
			num_sortitions, accumulated_coinbase, pox_valid, pox_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	_, err := t.tx.ExecContext(ctx, insertSnap,
		snap.SortitionID[:], snap.AnchorHash[:], snap.AnchorHeight, snap.ParentSortitionID[:],
		snap.OpsHash[:], snap.ConsensusHash[:], snap.SortitionHash[:], snap.TotalBurn,
		boolToInt(snap.SortitionBool), snap.WinningTxID[:], snap.WinningBlockHash[:], snap.IndexRoot[:],
		snap.NumSortitions, snap.AccumulatedCoinbase, boolToInt(snap.PoxValid), []byte(snap.PoxID))
	if err != nil {
		return pox.Database(errors.Wrap(err, "inserting snapshot"))
	}

	const insertOp = `INSERT INTO accepted_ops (sortition_id, vtxindex, op_type, payload) VALUES ($1,$2,$3,$4)`
	for i, op := range accepted {
		if _, err := t.tx.ExecContext(ctx, insertOp, snap.SortitionID[:], op.Header().VtxIndex, op.OpType(), acceptedPayloads[i]); err != nil {
			return pox.Database(errors.Wrap(err, "inserting accepted op"))
		}
		if c, ok := op.(*pox.BlockCommitOp); ok {
			const insertKey = `INSERT INTO consumed_keys (sortition_id, key_block_ptr, key_vtxindex) VALUES ($1,$2,$3)`
			if _, err := t.tx.ExecContext(ctx, insertKey, snap.SortitionID[:], c.KeyPtr.BlockPtr, c.KeyPtr.VtxIndex); err != nil {
				return pox.Database(errors.Wrap(err, "recording consumed VRF key"))
			}
		}
	}

	const insertMissed = `INSERT INTO missed_commits (sortition_id, intended_height, vtxindex, payload) VALUES ($1,$2,$3,$4)`
	for i, m := range missed {
		if _, err := t.tx.ExecContext(ctx, insertMissed, snap.SortitionID[:], m.IntendedHeight, m.Commit.Header().VtxIndex, missedPayloads[i]); err != nil {
			return pox.Database(errors.Wrap(err, "inserting missed commit"))
		}
	}

	return nil
}

// Commit finalizes the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return pox.Database(errors.Wrap(err, "committing sortdb transaction"))
	}
	return nil
}

// Rollback discards the transaction. Safe to call after Commit.
func (t *Tx) Rollback() error { return t.tx.Rollback() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
