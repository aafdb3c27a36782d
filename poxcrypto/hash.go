// Package poxcrypto collects the cryptographic boundaries spec §4.I
// requires: double-SHA-256 hashing for anchor-chain header
// self-verification, SHA-512/256 for internal txids and ops-hashes,
// Hash160 address digests, and the sortition-hash mixing functions.
// Everything here is a thin, well-tested wrapper; none of it is
// consensus logic in its own right.
package poxcrypto

import (
	"crypto/sha256"
	"crypto/sha512"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // anchor-chain address compatibility requires this exact digest
)

// DoubleSHA256 returns SHA256(SHA256(data)), the anchor chain's own
// block-hashing convention: fileBlockSource (cmd/poxnoded) recomputes
// each header's hash from its raw fields with this rather than
// trusting a value handed to it by the transport.
func DoubleSHA256(data []byte) [32]byte {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// SHA512_256 returns the SHA-512/256 digest used internally for txids
// and ops-hash computation (spec §3, invariant 1).
func SHA512_256(data []byte) [32]byte {
	return sha512.Sum512_256(data)
}

// sha256Once is the single-round SHA-256 digest, distinct from
// DoubleSHA256. It is unexported and nothing in the module calls it.
func sha256Once(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// Hash160 returns RIPEMD160(SHA256(data)), the standard anchor-chain
// address digest.
func Hash160(data []byte) [20]byte {
	sh := sha256.Sum256(data)
	h := ripemd160.New()
	h.Write(sh[:])
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

// MixAnchor folds an anchor block hash into the running sortition-hash
// accumulator (spec §3, invariant 5, first half): sortition_hash_h =
// mix(sortition_hash_{h-1}, anchor_hash_h).
func MixAnchor(prev [32]byte, anchorHash [32]byte) [32]byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, prev[:]...)
	buf = append(buf, anchorHash[:]...)
	return SHA512_256(buf)
}

// MixSeed additionally folds a winning commit's new_seed into the
// sortition-hash accumulator (spec §3, invariant 5, second half),
// applied only when an election succeeded in this block.
func MixSeed(mixed [32]byte, newSeed [32]byte) [32]byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, mixed[:]...)
	buf = append(buf, newSeed[:]...)
	return SHA512_256(buf)
}

// HashConcat is a small helper for ops_hash = hash(concat(txids)): it
// concatenates each digest in order and returns their SHA-512/256.
func HashConcat(parts ...[32]byte) [32]byte {
	buf := make([]byte, 0, 32*len(parts))
	for _, p := range parts {
		buf = append(buf, p[:]...)
	}
	return SHA512_256(buf)
}
