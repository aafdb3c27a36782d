package opclass

import "github.com/poxnode/sortition"

// AntiGrindingModulus is the anchor-height modulus a BlockCommit's
// burn_parent_modulus must match, mirroring the real PoX anti-grinding
// rule: miners may only choose which ancestor block to build on every
// AntiGrindingModulus anchor heights, closing the "regrind until you
// like the sortition" attack the field exists to prevent.
const AntiGrindingModulus = 5

// CheckBurnParentModulus reports whether c's burn_parent_modulus is
// consistent with anchorHeight.
func CheckBurnParentModulus(anchorHeight uint64, c *pox.BlockCommitOp) bool {
	return uint64(c.BurnParentModulus) == anchorHeight%AntiGrindingModulus
}

// PartitionCommits splits a block's ops into everything that isn't a
// BlockCommit, the commits whose anti-grinding modulus checks out, and
// the ones that don't (returned as MissedCommitOp, spec §3's
// "preserved for inclusion in a later window").
func PartitionCommits(anchorHeight uint64, ops []pox.AnchorOp) (rest []pox.AnchorOp, live []pox.AnchorOp, missed []pox.MissedCommitOp) {
	for _, op := range ops {
		c, ok := op.(*pox.BlockCommitOp)
		if !ok {
			rest = append(rest, op)
			continue
		}
		if CheckBurnParentModulus(anchorHeight, c) {
			live = append(live, op)
			continue
		}
		missed = append(missed, pox.MissedCommitOp{
			OpHeader:       c.OpHeader,
			IntendedHeight: anchorHeight,
			Commit:         *c,
		})
	}
	return rest, live, missed
}
