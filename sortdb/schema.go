package sortdb

// schema follows the teacher's blocks/snapshots table idiom (one row
// per height-addressable record, BLOB payloads for anything with
// internal structure), generalized to the fork-aware shape spec §4.F
// needs: snapshots are addressed by sortition_id, not height, since
// more than one can share a height across competing forks.
const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
  sortition_id        BLOB NOT NULL PRIMARY KEY,
  anchor_hash         BLOB NOT NULL,
  anchor_height       INTEGER NOT NULL,
  parent_sortition_id BLOB NOT NULL,
  ops_hash            BLOB NOT NULL,
  consensus_hash      BLOB NOT NULL,
  sortition_hash      BLOB NOT NULL,
  total_burn          INTEGER NOT NULL,
  sortition_bool      INTEGER NOT NULL,
  winning_txid        BLOB NOT NULL,
  winning_block_hash  BLOB NOT NULL,
  index_root          BLOB NOT NULL,
  num_sortitions      INTEGER NOT NULL,
  accumulated_coinbase INTEGER NOT NULL,
  pox_valid           INTEGER NOT NULL,
  pox_id              BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS snapshots_by_height ON snapshots (anchor_height);
CREATE INDEX IF NOT EXISTS snapshots_by_anchor_hash ON snapshots (anchor_hash);
CREATE INDEX IF NOT EXISTS snapshots_by_parent ON snapshots (parent_sortition_id);

CREATE TABLE IF NOT EXISTS accepted_ops (
  sortition_id BLOB NOT NULL,
  vtxindex     INTEGER NOT NULL,
  op_type      INTEGER NOT NULL,
  payload      BLOB NOT NULL,
  PRIMARY KEY (sortition_id, vtxindex)
);

CREATE TABLE IF NOT EXISTS missed_commits (
  sortition_id    BLOB NOT NULL,
  intended_height INTEGER NOT NULL,
  vtxindex        INTEGER NOT NULL,
  payload         BLOB NOT NULL,
  PRIMARY KEY (sortition_id, vtxindex)
);
CREATE INDEX IF NOT EXISTS missed_by_intended ON missed_commits (intended_height);

CREATE TABLE IF NOT EXISTS consumed_keys (
  sortition_id  BLOB NOT NULL,
  key_block_ptr INTEGER NOT NULL,
  key_vtxindex  INTEGER NOT NULL,
  PRIMARY KEY (sortition_id, key_block_ptr, key_vtxindex)
);
`
