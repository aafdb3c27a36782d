package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/davecgh/go-spew/spew"
	_ "github.com/mattn/go-sqlite3"

	"github.com/poxnode/sortition"
	"github.com/poxnode/sortition/anchordb"
	"github.com/poxnode/sortition/coordinator"
	"github.com/poxnode/sortition/cycle"
	"github.com/poxnode/sortition/opclass"
	"github.com/poxnode/sortition/remote"
	"github.com/poxnode/sortition/sortdb"
)

func testCalendar() cycle.Calendar {
	return cycle.Calendar{
		FirstBlockHeight:  0,
		RewardCycleLength: 100,
		PrepareLength:     2,
		SunsetStart:       1 << 31,
		SunsetEnd:         1<<31 + 100,
	}
}

func newTestPipeline(t *testing.T) (*Pipeline, *remote.MockIndexer) {
	t.Helper()
	dir := t.TempDir()
	adb, err := anchordb.Open(filepath.Join(dir, "burnchain.db"))
	if err != nil {
		t.Fatalf("opening anchordb: %s", err)
	}
	t.Cleanup(func() { adb.Close() })

	genesis := pox.AnchorHeader{Height: 0, Hash: pox.Hash32{0xff}}
	sdb, err := sortdb.Create(filepath.Join(dir, "sortition.db"), genesis)
	if err != nil {
		t.Fatalf("creating sortdb: %s", err)
	}
	t.Cleanup(func() { sdb.Close() })

	idx := remote.NewMockIndexer()
	p := &Pipeline{
		Indexer:   idx,
		AnchorDB:  adb,
		SortDB:    sdb,
		Calendar:  testCalendar(),
		Announcer: coordinator.New(),
	}
	return p, idx
}

// TestIngestOneBlockWithCommit drives a single header carrying a
// KeyRegister and a matching BlockCommit through the whole pipeline and
// checks a winning snapshot lands in sortdb.
func TestIngestOneBlockWithCommit(t *testing.T) {
	p, idx := newTestPipeline(t)
	ctx := context.Background()

	header := remote.IPCHeader{Height: 1, Hash: pox.Hash32{0x01}, ParentHash: pox.Hash32{0xff}}
	idx.PushHeader(header)

	keyReg := &pox.KeyRegisterOp{
		OpHeader:  pox.OpHeader{TxID: pox.Hash32{0x10}, VtxIndex: 0, Height: 1, AnchorHash: header.Hash},
		PublicKey: pox.VRFPublicKey{0xaa},
	}
	commit := &pox.BlockCommitOp{
		OpHeader:  pox.OpHeader{TxID: pox.Hash32{0x20}, VtxIndex: 1, Height: 1, AnchorHash: header.Hash},
		BlockHash: pox.Hash32{0x33},
		KeyPtr:    pox.KeyPtr{BlockPtr: 1, VtxIndex: 0},
		BurnFee:   500,
		// height 1 % opclass.AntiGrindingModulus must equal BurnParentModulus
		BurnParentModulus: uint8(1 % opclass.AntiGrindingModulus),
	}
	idx.PushBlock(remote.IPCBlock{
		Header: header,
		MockTxs: []opclass.RawAnchorTx{
			{TxID: keyReg.Header().TxID, VtxIndex: 0, Height: 1, AnchorHash: header.Hash, Payload: encodeKeyRegister(keyReg)},
			{TxID: commit.Header().TxID, VtxIndex: 1, Height: 1, AnchorHash: header.Hash, Payload: encodeBlockCommit(commit)},
		},
	})

	if err := p.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %s", err)
	}

	snap, err := p.SortDB.GetSnapshotByAnchorHash(ctx, header.Hash)
	if err != nil {
		t.Fatalf("reading resulting snapshot: %s", err)
	}
	if !snap.SortitionBool {
		t.Fatalf("expected a winner, got snapshot:\n%s", spew.Sdump(snap))
	}
	if snap.TotalBurn != 500 {
		t.Fatalf("total_burn = %d, want 500, full snapshot:\n%s", snap.TotalBurn, spew.Sdump(snap))
	}
}

func encodeKeyRegister(o *pox.KeyRegisterOp) []byte {
	buf := []byte{byte(opclass.OpcodeKeyRegister)}
	buf = append(buf, o.PublicKey[:]...)
	buf = append(buf, 0) // zero-length memo
	buf = append(buf, o.Address[:]...)
	return buf
}

func encodeBlockCommit(o *pox.BlockCommitOp) []byte {
	buf := []byte{byte(opclass.OpcodeBlockCommit)}
	buf = append(buf, o.BlockHash[:]...)
	buf = append(buf, o.NewSeed[:]...)
	buf = append(buf, beU64(o.ParentBlockPtr)...)
	buf = append(buf, beU32(o.ParentVtxIndex)...)
	buf = append(buf, beU64(o.KeyPtr.BlockPtr)...)
	buf = append(buf, beU32(o.KeyPtr.VtxIndex)...)
	buf = append(buf, beU64(o.BurnFee)...)
	buf = append(buf, o.Signer[:]...)
	buf = append(buf, o.BurnParentModulus)
	return buf
}

func beU64(v uint64) []byte {
	return []byte{byte(v >> 56), byte(v >> 48), byte(v >> 40), byte(v >> 32), byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func beU32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
