package sortdb

import (
	"sort"

	"github.com/poxnode/sortition/poxcrypto"
)

// indexRoot computes the authenticated root spec §4.F names as the
// owning snapshot's index_root: a binary Merkle tree over the sorted
// set of (key, value) pairs a snapshot's write introduces, hashed with
// SHA-512/256. No generic Merkle-Patricia-trie library appears anywhere
// in the example corpus, so this is a small hand-rolled binary tree
// rather than a third-party dependency (see DESIGN.md).
//
// Leaves are sorted by key first so the root is independent of
// insertion order, then paired up bottom-up; an odd leaf at any level
// is promoted unchanged (standard unbalanced-tree carry rule).
func indexRoot(entries map[string][]byte) [32]byte {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	level := make([][32]byte, len(keys))
	for i, k := range keys {
		level[i] = poxcrypto.HashConcat(poxcrypto.SHA512_256([]byte(k)), poxcrypto.SHA512_256(entries[k]))
	}
	if len(level) == 0 {
		return poxcrypto.SHA512_256(nil)
	}
	for len(level) > 1 {
		var next [][32]byte
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, poxcrypto.HashConcat(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}
