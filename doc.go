// Package pox implements the consensus-critical sortition engine for a
// layer-2 proof-of-transfer chain anchored to a UTXO proof-of-work base
// chain: the data model shared by the ingest pipeline, the op classifier,
// the burn-distribution and state-transition logic, and the sortition
// index.
//
// Subpackages implement the rest of the node: anchordb (raw anchor-chain
// storage), ingest (the download/parse/store pipeline), opclass (anchor
// transaction classification), burndist (windowed min-of-medians burn
// weighting), transition (the per-block state-transition function),
// sortdb (the persisted, fork-aware sortition index), cycle (reward-cycle
// calendar arithmetic), coordinator (the one-way notification boundary),
// poxcrypto (hashing and sortition-hash mixing; it has no VRF proof
// verification or signature primitives), and remote (the
// downloader/parser capability trio consumed by ingest).
package pox
