package burndist

import (
	"testing"

	"github.com/poxnode/sortition"
)

func commitAt(height uint64, vtx uint32, burn uint64, parentHeight uint64, parentVtx uint32) pox.BlockCommitOp {
	return pox.BlockCommitOp{
		OpHeader:       pox.OpHeader{Height: height, VtxIndex: vtx, TxID: pox.Hash32{byte(height), byte(vtx)}},
		BlockHash:      pox.Hash32{byte(height), byte(vtx), 0x22},
		ParentBlockPtr: parentHeight,
		ParentVtxIndex: parentVtx,
		KeyPtr:         pox.KeyPtr{BlockPtr: parentHeight, VtxIndex: 10},
		BurnFee:        burn,
	}
}

// TestSingleWinner anchors scenario S2: one candidate, no competing
// commits or history, its own burn_fee becomes its effective burn.
func TestSingleWinner(t *testing.T) {
	cand := commitAt(122, 2, 12345, 121, 10)
	win := Window{Slots: []Slot{NewSlot(122, false, []pox.BlockCommitOp{cand}, nil)}}

	res := Distribute(win, []pox.BlockCommitOp{cand}, nil)
	if res.Total != 12345 {
		t.Fatalf("total = %d, want 12345", res.Total)
	}
	if len(res.Samples) != 1 || res.Samples[0].Burns != 12345 {
		t.Fatalf("samples = %+v", res.Samples)
	}
	if res.Samples[0].Range.Start != "0" {
		t.Fatalf("winner range should start at 0, got %s", res.Samples[0].Range.Start)
	}
}

// TestUnmatchedUserSupportDiscarded anchors scenario S4: a UserSupport
// naming a block_header_hash_160 that doesn't match the only candidate
// must not influence weight, and must surface via UnmatchedSupports.
func TestUnmatchedUserSupportDiscarded(t *testing.T) {
	cand := commitAt(122, 1, 1000, 121, 10)
	support := pox.UserSupportOp{
		OpHeader:           pox.OpHeader{Height: 122, VtxIndex: 2, TxID: pox.Hash32{0xaa}},
		BlockHeaderHash160: pox.Hash160{0xff, 0xff, 0xff},
		KeyPtr:             pox.KeyPtr{BlockPtr: 121, VtxIndex: 10},
		BurnFee:            500,
	}

	win := Window{Slots: []Slot{NewSlot(122, false, []pox.BlockCommitOp{cand}, nil)}}
	res := Distribute(win, []pox.BlockCommitOp{cand}, []pox.UserSupportOp{support})

	if res.Total != 1000 {
		t.Fatalf("total = %d, want 1000 (support must not count)", res.Total)
	}
	unmatched := UnmatchedSupports(res.Samples, []pox.UserSupportOp{support})
	if len(unmatched) != 1 {
		t.Fatalf("expected 1 unmatched support, got %d", len(unmatched))
	}
}

// TestWindowEdgeMedian anchors scenario S5: W=6, ten blocks each
// committing burn = height, chained by parent pointer. The effective
// burn at height 130 is the median of heights 125..130 (burns
// 125,126,127,128,129,130), i.e. (127+128)/2 = 127.
func TestWindowEdgeMedian(t *testing.T) {
	const W = 6
	slotsByHeight := make(map[uint64]Slot, 10)
	var chainTip pox.BlockCommitOp
	for h := uint64(121); h <= 130; h++ {
		var parentHeight uint64
		var parentVtx uint32
		if h > 121 {
			parentHeight, parentVtx = h-1, 0
		}
		c := commitAt(h, 0, h, parentHeight, parentVtx)
		slotsByHeight[h] = NewSlot(h, false, []pox.BlockCommitOp{c}, nil)
		chainTip = c
	}

	win := BuildWindow(130, W, func(height uint64) (Slot, bool) {
		s, ok := slotsByHeight[height]
		return s, ok
	})
	if len(win.Slots) != W {
		t.Fatalf("window length = %d, want %d", len(win.Slots), W)
	}

	res := Distribute(win, []pox.BlockCommitOp{chainTip}, nil)
	if res.Samples[0].Burns != 127 {
		t.Fatalf("effective burn = %d, want 127 (median of 125..130)", res.Samples[0].Burns)
	}
}

// TestShortenedWindowNearGenesis anchors the §9 open-question
// resolution for a short chain: at height 122 with only two heights of
// history, BuildWindow must stop rather than consult a negative height.
func TestShortenedWindowNearGenesis(t *testing.T) {
	slotsByHeight := map[uint64]Slot{
		121: NewSlot(121, false, nil, nil),
		122: NewSlot(122, false, nil, nil),
	}
	win := BuildWindow(122, 6, func(height uint64) (Slot, bool) {
		s, ok := slotsByHeight[height]
		return s, ok
	})
	if len(win.Slots) != 2 {
		t.Fatalf("window length = %d, want 2 (shortened)", len(win.Slots))
	}
}

func TestMedianHelper(t *testing.T) {
	if got := median([]uint64{3, 1, 2}); got != 2 {
		t.Fatalf("median([3,1,2]) = %d, want 2", got)
	}
	if got := median([]uint64{4, 1, 3, 2}); got != 2 {
		t.Fatalf("median([4,1,3,2]) = %d, want 2", got)
	}
	if got := median(nil); got != 0 {
		t.Fatalf("median(nil) = %d, want 0", got)
	}
}
