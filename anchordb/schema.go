package anchordb

// schema mirrors the teacher's own schema.go: a single inline SQL
// string applied with CREATE TABLE IF NOT EXISTS, run once at Open.
// anchor_headers and anchor_ops together are the "raw anchor ops
// indexed by txid" file spec §4.F calls burnchain.db.
const schema = `
CREATE TABLE IF NOT EXISTS anchor_headers (
  height INTEGER NOT NULL,
  hash BLOB NOT NULL,
  parent_hash BLOB NOT NULL,
  timestamp INTEGER NOT NULL,
  tx_count INTEGER NOT NULL,
  PRIMARY KEY (hash)
);

CREATE INDEX IF NOT EXISTS anchor_headers_height ON anchor_headers(height);

CREATE TABLE IF NOT EXISTS anchor_ops (
  txid BLOB NOT NULL,
  vtxindex INTEGER NOT NULL,
  height INTEGER NOT NULL,
  anchor_hash BLOB NOT NULL,
  op_type INTEGER NOT NULL,
  payload BLOB NOT NULL,
  PRIMARY KEY (anchor_hash, vtxindex)
);

CREATE UNIQUE INDEX IF NOT EXISTS anchor_ops_txid ON anchor_ops(txid);
`
