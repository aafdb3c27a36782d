package transition

import (
	"context"
	"encoding/binary"

	"github.com/holiman/uint256"

	"github.com/poxnode/sortition"
	"github.com/poxnode/sortition/poxcrypto"
)

// consensusHash derives snapshot's consensus_hash (spec §4.E step 9):
// a hash of anchor_hash, ops_hash, total_burn, the geometric
// prev-consensus-hash sample, and pox_id.
func consensusHash(ctx context.Context, snap pox.Snapshot, source AncestorSource, tipSortitionID pox.Hash32) pox.Hash32 {
	buf := make([]byte, 0, 256)
	buf = append(buf, snap.AnchorHash[:]...)
	buf = append(buf, snap.OpsHash[:]...)
	var burnBytes [8]byte
	binary.BigEndian.PutUint64(burnBytes[:], snap.TotalBurn)
	buf = append(buf, burnBytes[:]...)

	for _, offset := range geometricOffsets {
		if offset > snap.AnchorHeight {
			break
		}
		h, ok := source.ConsensusHashAtHeight(ctx, tipSortitionID, snap.AnchorHeight-offset)
		if !ok {
			break
		}
		buf = append(buf, h[:]...)
	}

	buf = append(buf, snap.PoxID...)
	return poxcrypto.SHA512_256(buf)
}

// sortitionDraw derives the 256-bit value spec §4.E step 10 compares
// against burn_ranges: the running sortition_hash after mixing in this
// block's anchor_hash, reduced to a uint256.Int.
func sortitionDraw(mixed pox.Hash32) *uint256.Int {
	return new(uint256.Int).SetBytes(mixed[:])
}
