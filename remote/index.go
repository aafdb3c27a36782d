package remote

import (
	"context"
	"database/sql"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/poxnode/sortition"
	"github.com/poxnode/sortition/opclass"
)

const headerSchema = `
CREATE TABLE IF NOT EXISTS headers (
  height INTEGER NOT NULL PRIMARY KEY,
  hash BLOB NOT NULL UNIQUE,
  parent_hash BLOB NOT NULL
);
`

// BlockSource is the one piece of transport SQLiteHeaderIndex needs: a
// way to fetch the raw header and block bytes for a height from the
// anchor network. Wiring an actual network client is out of scope (spec
// Non-goals exclude the P2P/gossip layer); callers inject whatever
// reaches the anchor chain in their deployment.
type BlockSource interface {
	FetchHeader(ctx context.Context, height uint64) (IPCHeader, error)
	FetchBlock(ctx context.Context, h IPCHeader) (IPCBlock, error)
}

// SQLiteHeaderIndex is a real, minimal Indexer: it persists the local
// header chain in a SQLite "headers" table, grounded directly on the
// teacher's own root schema.go "blocks" table (height/hash/bits columns
// storing the Stellar header chain it custodies).
type SQLiteHeaderIndex struct {
	db     *sql.DB
	source BlockSource
}

// OpenSQLiteHeaderIndex opens (creating if necessary) the local header
// file at path, backed by source for remote fetches.
func OpenSQLiteHeaderIndex(path string, source BlockSource) (*SQLiteHeaderIndex, error) {
	db, err := sql.Open("sqlite3", path+"?_txlock=immediate")
	if err != nil {
		return nil, pox.Database(errors.Wrap(err, "opening header index"))
	}
	if _, err := db.Exec(headerSchema); err != nil {
		db.Close()
		return nil, pox.Database(errors.Wrap(err, "creating header index schema"))
	}
	return &SQLiteHeaderIndex{db: db, source: source}, nil
}

func (x *SQLiteHeaderIndex) Close() error { return x.db.Close() }

// HighestHeaderHeight implements Indexer.
func (x *SQLiteHeaderIndex) HighestHeaderHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := x.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(height), 0) FROM headers`).Scan(&height)
	if err != nil {
		return 0, pox.Database(errors.Wrap(err, "reading highest header height"))
	}
	return height, nil
}

// FindChainReorg implements Indexer: it asks source for the header at
// each locally-stored height, from the tip downward, until a height
// whose hash agrees, and returns the lowest disagreeing height above it.
func (x *SQLiteHeaderIndex) FindChainReorg(ctx context.Context) (uint64, bool, error) {
	tip, err := x.HighestHeaderHeight(ctx)
	if err != nil {
		return 0, false, err
	}
	rows, err := x.db.QueryContext(ctx, `SELECT height, hash FROM headers ORDER BY height DESC`)
	if err != nil {
		return 0, false, pox.Database(errors.Wrap(err, "reading local headers for reorg check"))
	}
	defer rows.Close()

	var lowest uint64
	found := false
	for rows.Next() {
		var height uint64
		var hash []byte
		if err := rows.Scan(&height, &hash); err != nil {
			return 0, false, pox.Database(errors.Wrap(err, "scanning local header"))
		}
		remote, err := x.source.FetchHeader(ctx, height)
		if err != nil {
			return 0, false, errors.Wrapf(err, "fetching remote header at height %d", height)
		}
		var local pox.Hash32
		copy(local[:], hash)
		if local == remote.Hash {
			break
		}
		lowest, found = height, true
	}
	_ = tip
	return lowest, found, rows.Err()
}

// DropHeaders deletes all locally stored headers at or above h. It is
// not part of the Indexer interface, and package ingest does not call
// it after FindChainReorg reports a fork point.
func (x *SQLiteHeaderIndex) DropHeaders(ctx context.Context, h uint64) error {
	_, err := x.db.ExecContext(ctx, `DELETE FROM headers WHERE height >= $1`, h)
	if err != nil {
		return pox.Database(errors.Wrap(err, "dropping headers"))
	}
	return nil
}

// SyncHeaders implements Indexer: fetches headers in [from, upper) (or
// until a fetch fails, if upper is 0) and stores them.
func (x *SQLiteHeaderIndex) SyncHeaders(ctx context.Context, from uint64, upper uint64) (uint64, error) {
	tip := from
	for h := from; upper == 0 || h < upper; h++ {
		hdr, err := x.source.FetchHeader(ctx, h)
		if err != nil {
			if upper == 0 {
				break
			}
			return tip, errors.Wrapf(err, "fetching header at height %d", h)
		}
		const insert = `INSERT OR REPLACE INTO headers (height, hash, parent_hash) VALUES ($1,$2,$3)`
		if _, err := x.db.ExecContext(ctx, insert, hdr.Height, hdr.Hash[:], hdr.ParentHash[:]); err != nil {
			return tip, pox.Database(errors.Wrap(err, "storing synced header"))
		}
		tip = h
	}
	return tip, nil
}

// ReadHeaders implements Indexer.
func (x *SQLiteHeaderIndex) ReadHeaders(ctx context.Context, lo, hi uint64) ([]IPCHeader, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT height, hash, parent_hash FROM headers WHERE height BETWEEN $1 AND $2 ORDER BY height`, lo, hi)
	if err != nil {
		return nil, pox.Database(errors.Wrap(err, "reading headers"))
	}
	defer rows.Close()

	var out []IPCHeader
	for rows.Next() {
		var h IPCHeader
		var hash, parentHash []byte
		if err := rows.Scan(&h.Height, &hash, &parentHash); err != nil {
			return nil, pox.Database(errors.Wrap(err, "scanning header"))
		}
		copy(h.Hash[:], hash)
		copy(h.ParentHash[:], parentHash)
		out = append(out, h)
	}
	return out, rows.Err()
}

// Downloader implements Indexer.
func (x *SQLiteHeaderIndex) Downloader() Downloader { return sourceDownloader{x.source} }

// Parser implements Indexer.
func (x *SQLiteHeaderIndex) Parser() Parser { return wireParser{} }

type sourceDownloader struct{ source BlockSource }

func (d sourceDownloader) Download(ctx context.Context, h IPCHeader) (IPCBlock, error) {
	return d.source.FetchBlock(ctx, h)
}

// wireParser decodes a block body laid out as a count-prefixed sequence
// of fixed-layout transactions: vtxindex(4) || txid(32) || payload_len(4)
// || payload, matching spec §6's "big-endian integers, 32-byte hashes"
// wire convention for the op payload itself.
type wireParser struct{}

func (wireParser) Parse(ctx context.Context, b IPCBlock) (AnchorBlock, error) {
	body := b.Body
	if len(body) < 4 {
		return AnchorBlock{}, errors.New("parsing block: body too short for tx count")
	}
	count := binary.BigEndian.Uint32(body[:4])
	body = body[4:]

	block := AnchorBlock{Header: pox.AnchorHeader{
		Height:     b.Header.Height,
		Hash:       b.Header.Hash,
		ParentHash: b.Header.ParentHash,
	}}
	for i := uint32(0); i < count; i++ {
		if len(body) < 40 {
			return AnchorBlock{}, errors.Errorf("parsing block: truncated tx header at index %d", i)
		}
		vtxindex := binary.BigEndian.Uint32(body[:4])
		var txid pox.Txid32
		copy(txid[:], body[4:36])
		payloadLen := binary.BigEndian.Uint32(body[36:40])
		body = body[40:]
		if uint32(len(body)) < payloadLen {
			return AnchorBlock{}, errors.Errorf("parsing block: truncated payload at index %d", i)
		}
		payload := body[:payloadLen]
		body = body[payloadLen:]

		block.Txs = append(block.Txs, opclass.RawAnchorTx{
			TxID:       txid,
			VtxIndex:   vtxindex,
			Height:     b.Header.Height,
			AnchorHash: b.Header.Hash,
			Payload:    append([]byte(nil), payload...),
		})
	}
	return block, nil
}
