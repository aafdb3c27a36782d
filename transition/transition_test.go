package transition

import (
	"context"
	"testing"

	"github.com/poxnode/sortition"
	"github.com/poxnode/sortition/cycle"
)

// fakeSource is a single-fork in-memory AncestorSource: enough to drive
// the scenario tests without a real sortdb.
type fakeSource struct {
	commitsByHeight map[uint64][]pox.BlockCommitOp
	missedByHeight  map[uint64][]pox.MissedCommitOp
	consensusByHeight map[uint64]pox.Hash32
	consumedKeys    map[pox.KeyPtr]bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		commitsByHeight:   make(map[uint64][]pox.BlockCommitOp),
		missedByHeight:    make(map[uint64][]pox.MissedCommitOp),
		consensusByHeight: make(map[uint64]pox.Hash32),
		consumedKeys:      make(map[pox.KeyPtr]bool),
	}
}

func (f *fakeSource) CommitsAtHeight(_ context.Context, _ pox.Hash32, h uint64) ([]pox.BlockCommitOp, bool) {
	c, ok := f.commitsByHeight[h]
	return c, ok
}

func (f *fakeSource) MissedAtHeight(_ context.Context, _ pox.Hash32, h uint64) ([]pox.MissedCommitOp, bool) {
	return f.missedByHeight[h], true
}

func (f *fakeSource) KeyConsumed(_ context.Context, _ pox.Hash32, keyPtr pox.KeyPtr) (bool, error) {
	return f.consumedKeys[keyPtr], nil
}

func (f *fakeSource) ConsensusHashAtHeight(_ context.Context, _ pox.Hash32, h uint64) (pox.Hash32, bool) {
	ch, ok := f.consensusByHeight[h]
	return ch, ok
}

// record stores the outcome of one Apply call into the fake source so
// later heights can see it as history.
func (f *fakeSource) record(height uint64, snap pox.Snapshot, accepted []pox.AnchorOp) {
	f.commitsByHeight[height] = []pox.BlockCommitOp{}
	for _, op := range accepted {
		if c, ok := op.(*pox.BlockCommitOp); ok {
			f.commitsByHeight[height] = append(f.commitsByHeight[height], *c)
			f.consumedKeys[c.KeyPtr] = true
		}
	}
	f.consensusByHeight[height] = snap.ConsensusHash
}

func testCalendar() cycle.Calendar {
	return cycle.Calendar{
		FirstBlockHeight:  120,
		RewardCycleLength: 5,
		PrepareLength:     2,
		SunsetStart:       1 << 31,
		SunsetEnd:         1<<31 + 100,
	}
}

func genesisSnapshot() pox.Snapshot {
	return pox.Snapshot{AnchorHeight: 120}
}

func header(height uint64, b byte) pox.AnchorHeader {
	return pox.AnchorHeader{Height: height, Hash: pox.Hash32{b}}
}

// TestBootstrapEmptyBlocks anchors scenario S1.
func TestBootstrapEmptyBlocks(t *testing.T) {
	src := newFakeSource()
	cal := testCalendar()
	parent := genesisSnapshot()

	for h, b := uint64(121), byte(1); h <= 123; h, b = h+1, b+1 {
		snap, accepted, err := Apply(context.Background(), parent, header(h, b), nil, nil, cal, src)
		if err != nil {
			t.Fatalf("height %d: %s", h, err)
		}
		if snap.SortitionBool {
			t.Fatalf("height %d: expected sortition_bool = false", h)
		}
		if snap.TotalBurn != 0 {
			t.Fatalf("height %d: expected total_burn = 0, got %d", h, snap.TotalBurn)
		}
		if snap.NumSortitions != 0 {
			t.Fatalf("height %d: expected num_sortitions = 0, got %d", h, snap.NumSortitions)
		}
		src.record(h, snap, accepted)
		parent = snap
	}
}

// TestSingleWinner anchors scenario S2.
func TestSingleWinner(t *testing.T) {
	src := newFakeSource()
	cal := testCalendar()
	parent := genesisSnapshot()

	keyReg := &pox.KeyRegisterOp{
		OpHeader:  pox.OpHeader{TxID: pox.Hash32{0x01}, VtxIndex: 10, Height: 121, AnchorHash: pox.Hash32{1}},
		PublicKey: pox.VRFPublicKey{0xaa},
	}
	snap121, accepted121, err := Apply(context.Background(), parent, header(121, 1), []pox.AnchorOp{keyReg}, nil, cal, src)
	if err != nil {
		t.Fatalf("height 121: %s", err)
	}
	src.record(121, snap121, accepted121)
	parent = snap121

	commit := &pox.BlockCommitOp{
		OpHeader:       pox.OpHeader{TxID: pox.Hash32{0x02}, VtxIndex: 1, Height: 122, AnchorHash: pox.Hash32{2}},
		BlockHash:      pox.Hash32{0x22},
		ParentBlockPtr: 0,
		KeyPtr:         pox.KeyPtr{BlockPtr: 121, VtxIndex: 10},
		BurnFee:        12345,
	}
	snap122, _, err := Apply(context.Background(), parent, header(122, 2), []pox.AnchorOp{commit}, nil, cal, src)
	if err != nil {
		t.Fatalf("height 122: %s", err)
	}
	if !snap122.SortitionBool {
		t.Fatal("expected sortition_bool = true")
	}
	if snap122.WinningBlockHash != (pox.Hash32{0x22}) {
		t.Fatalf("winning_block_hash = %x, want 0x22...", snap122.WinningBlockHash)
	}
	if snap122.TotalBurn != 12345 {
		t.Fatalf("total_burn = %d, want 12345", snap122.TotalBurn)
	}
}

// TestDuplicateKeyCommitRejected anchors scenario S3: two commits
// referencing the same key_ptr, only the higher-vtxindex one wins.
func TestDuplicateKeyCommitRejected(t *testing.T) {
	src := newFakeSource()
	cal := testCalendar()
	parent := genesisSnapshot()

	keyReg := &pox.KeyRegisterOp{
		OpHeader:  pox.OpHeader{TxID: pox.Hash32{0x01}, VtxIndex: 10, Height: 121, AnchorHash: pox.Hash32{1}},
		PublicKey: pox.VRFPublicKey{0xaa},
	}
	snap121, accepted121, err := Apply(context.Background(), parent, header(121, 1), []pox.AnchorOp{keyReg}, nil, cal, src)
	if err != nil {
		t.Fatalf("height 121: %s", err)
	}
	src.record(121, snap121, accepted121)
	parent = snap121

	lo := &pox.BlockCommitOp{
		OpHeader: pox.OpHeader{TxID: pox.Hash32{0x03}, VtxIndex: 1, Height: 122, AnchorHash: pox.Hash32{2}},
		BlockHash: pox.Hash32{0x33}, KeyPtr: pox.KeyPtr{BlockPtr: 121, VtxIndex: 10}, BurnFee: 100,
	}
	hi := &pox.BlockCommitOp{
		OpHeader: pox.OpHeader{TxID: pox.Hash32{0x04}, VtxIndex: 2, Height: 122, AnchorHash: pox.Hash32{2}},
		BlockHash: pox.Hash32{0x44}, KeyPtr: pox.KeyPtr{BlockPtr: 121, VtxIndex: 10}, BurnFee: 200,
	}
	snap122, _, err := Apply(context.Background(), parent, header(122, 2), []pox.AnchorOp{lo, hi}, nil, cal, src)
	if err != nil {
		t.Fatalf("height 122: %s", err)
	}
	if !snap122.SortitionBool {
		t.Fatal("expected a winner")
	}
	if snap122.WinningBlockHash != (pox.Hash32{0x44}) {
		t.Fatalf("winner = %x, want the higher-vtxindex commit 0x44...", snap122.WinningBlockHash)
	}
	if snap122.TotalBurn != 200 {
		t.Fatalf("total_burn = %d, want 200 (loser excluded from weighting)", snap122.TotalBurn)
	}
}
