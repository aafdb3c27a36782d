// Package anchordb implements the anchor store of spec §4.A: an
// append-only index of decoded anchor blocks and the ops extracted from
// them, keyed by anchor_hash. It backs burnchain.db (spec §6).
package anchordb

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/poxnode/sortition"
)

// ErrAlreadyPresent is returned by StoreBlock when the header is already
// stored with identical contents; callers treat it as a benign no-op
// (spec §4.A).
var ErrAlreadyPresent = errors.New("anchor block already present")

// AnchorBlock is a decoded anchor block: its header plus the ops the
// classifier (package opclass) extracted from its transactions.
type AnchorBlock struct {
	Header pox.AnchorHeader
	Ops    []pox.AnchorOp
}

// Store is the anchor store. All methods are safe for concurrent use;
// database/sql pools connections and the sqlite3 driver serializes
// writers at the database level (spec §5).
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the anchor store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_txlock=immediate")
	if err != nil {
		return nil, errors.Wrap(err, "opening burnchain.db")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating burnchain.db schema")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// StoreBlock persists header and its decoded ops. If header.Hash is
// already stored with byte-identical header fields, StoreBlock returns
// ErrAlreadyPresent and makes no changes (idempotent re-ingest, spec
// §4.B). If the stored header differs, it returns a Database error:
// anchor headers are immutable once stored (spec §3 Lifecycle).
func (s *Store) StoreBlock(ctx context.Context, header pox.AnchorHeader, ops []pox.AnchorOp) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pox.Database(errors.Wrap(err, "beginning anchor store transaction"))
	}
	defer tx.Rollback()

	existing, err := getHeaderTx(ctx, tx, header.Hash)
	if err != nil && err != sql.ErrNoRows {
		return pox.Database(errors.Wrap(err, "checking existing anchor header"))
	}
	if err == nil {
		if headersEqual(existing, header) {
			return ErrAlreadyPresent
		}
		return pox.Database(errors.Errorf("anchor header %s already present with different contents", header.Hash))
	}

	const insertHeader = `INSERT INTO anchor_headers (height, hash, parent_hash, timestamp, tx_count) VALUES ($1, $2, $3, $4, $5)`
	_, err = tx.ExecContext(ctx, insertHeader, header.Height, header.Hash[:], header.ParentHash[:], header.Timestamp.UnixMilli(), header.TxCount)
	if err != nil {
		return pox.Database(errors.Wrap(err, "inserting anchor header"))
	}

	const insertOp = `INSERT OR IGNORE INTO anchor_ops (txid, vtxindex, height, anchor_hash, op_type, payload) VALUES ($1, $2, $3, $4, $5, $6)`
	for _, op := range ops {
		h := op.Header()
		payload, err := pox.EncodeOp(op)
		if err != nil {
			return pox.Database(errors.Wrapf(err, "encoding op %s at vtxindex %d", op.OpType(), h.VtxIndex))
		}
		_, err = tx.ExecContext(ctx, insertOp, h.TxID[:], h.VtxIndex, h.Height, h.AnchorHash[:], op.OpType(), payload)
		if err != nil {
			return pox.Database(errors.Wrapf(err, "inserting op %s at vtxindex %d", op.OpType(), h.VtxIndex))
		}
	}

	if err := tx.Commit(); err != nil {
		return pox.Database(errors.Wrap(err, "committing anchor store transaction"))
	}
	return nil
}

func getHeaderTx(ctx context.Context, tx *sql.Tx, hash pox.Hash32) (pox.AnchorHeader, error) {
	const q = `SELECT height, hash, parent_hash, timestamp, tx_count FROM anchor_headers WHERE hash = $1`
	return scanHeader(tx.QueryRowContext(ctx, q, hash[:]))
}

func scanHeader(row *sql.Row) (pox.AnchorHeader, error) {
	var (
		h         pox.AnchorHeader
		hashB     []byte
		parentB   []byte
		timestamp int64
	)
	err := row.Scan(&h.Height, &hashB, &parentB, &timestamp, &h.TxCount)
	if err != nil {
		return h, err
	}
	copy(h.Hash[:], hashB)
	copy(h.ParentHash[:], parentB)
	h.Timestamp = unixMilliToTime(timestamp)
	return h, nil
}

// GetBlock returns the decoded anchor block stored under hash, or
// (nil, nil) if no such block has been stored.
func (s *Store) GetBlock(ctx context.Context, hash pox.Hash32) (*AnchorBlock, error) {
	const q = `SELECT height, hash, parent_hash, timestamp, tx_count FROM anchor_headers WHERE hash = $1`
	header, err := scanHeader(s.db.QueryRowContext(ctx, q, hash[:]))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, pox.Database(errors.Wrap(err, "reading anchor header"))
	}

	const opsQ = `SELECT op_type, payload FROM anchor_ops WHERE anchor_hash = $1 ORDER BY vtxindex`
	rows, err := s.db.QueryContext(ctx, opsQ, hash[:])
	if err != nil {
		return nil, pox.Database(errors.Wrap(err, "reading anchor ops"))
	}
	defer rows.Close()

	var ops []pox.AnchorOp
	for rows.Next() {
		var opType pox.OpType
		var payload []byte
		if err := rows.Scan(&opType, &payload); err != nil {
			return nil, pox.Database(errors.Wrap(err, "scanning anchor op"))
		}
		op, err := pox.DecodeOp(opType, payload)
		if err != nil {
			return nil, pox.Database(err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, pox.Database(err)
	}

	return &AnchorBlock{Header: header, Ops: ops}, nil
}

// GetOp resolves a txid to its decoded op, used by the classifier to
// look up cross-block PreAuth linkages (spec §4.C).
func (s *Store) GetOp(ctx context.Context, txid pox.Txid32) (pox.AnchorOp, error) {
	const q = `SELECT op_type, payload FROM anchor_ops WHERE txid = $1`
	var opType pox.OpType
	var payload []byte
	err := s.db.QueryRowContext(ctx, q, txid[:]).Scan(&opType, &payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, pox.Database(errors.Wrap(err, "reading op by txid"))
	}
	return pox.DecodeOp(opType, payload)
}

// CanonicalTip returns the highest header on the currently canonical
// anchor branch, i.e. the header with the greatest height. The caller
// (package ingest) is responsible for rewinding past a detected reorg
// before new headers race to become "highest".
func (s *Store) CanonicalTip(ctx context.Context) (pox.AnchorHeader, error) {
	const q = `SELECT height, hash, parent_hash, timestamp, tx_count FROM anchor_headers ORDER BY height DESC LIMIT 1`
	h, err := scanHeader(s.db.QueryRowContext(ctx, q))
	if err == sql.ErrNoRows {
		return pox.AnchorHeader{}, nil
	}
	if err != nil {
		return pox.AnchorHeader{}, pox.Database(errors.Wrap(err, "reading canonical tip"))
	}
	return h, nil
}

// DropAbove truncates local headers (and their ops) above height,
// implementing the "local headers above [disagreement height] are
// truncated" half of spec §4.B's reorg handling.
func (s *Store) DropAbove(ctx context.Context, height uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pox.Database(err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM anchor_ops WHERE height > $1`, height); err != nil {
		return pox.Database(errors.Wrap(err, "dropping ops above height"))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM anchor_headers WHERE height > $1`, height); err != nil {
		return pox.Database(errors.Wrap(err, "dropping headers above height"))
	}
	if err := tx.Commit(); err != nil {
		return pox.Database(errors.Wrap(err, "committing header truncation"))
	}
	return nil
}
