package anchordb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/poxnode/sortition"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "burnchain.db"))
	if err != nil {
		t.Fatalf("opening test store: %s", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testHeader(height uint64) pox.AnchorHeader {
	var h pox.AnchorHeader
	h.Height = height
	h.Hash[0] = byte(height)
	h.ParentHash[0] = byte(height - 1)
	h.Timestamp = time.UnixMilli(int64(height) * 1000).UTC()
	h.TxCount = 1
	return h
}

func TestStoreBlockIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	h := testHeader(1)
	op := &pox.KeyRegisterOp{OpHeader: pox.OpHeader{TxID: h.Hash, VtxIndex: 0, Height: 1, AnchorHash: h.Hash}}

	if err := s.StoreBlock(ctx, h, []pox.AnchorOp{op}); err != nil {
		t.Fatalf("storing block: %s", err)
	}
	err := s.StoreBlock(ctx, h, []pox.AnchorOp{op})
	if err != ErrAlreadyPresent {
		t.Fatalf("re-storing identical block: got %v, want ErrAlreadyPresent", err)
	}
}

func TestStoreBlockConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	h := testHeader(1)
	if err := s.StoreBlock(ctx, h, nil); err != nil {
		t.Fatalf("storing block: %s", err)
	}
	h2 := h
	h2.TxCount = 99
	err := s.StoreBlock(ctx, h2, nil)
	if err == nil || err == ErrAlreadyPresent {
		t.Fatalf("storing conflicting block: got %v, want a Database error", err)
	}
}

func TestGetBlockRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	h := testHeader(2)
	commit := &pox.BlockCommitOp{
		OpHeader: pox.OpHeader{TxID: [32]byte{9}, VtxIndex: 3, Height: 2, AnchorHash: h.Hash},
		BurnFee:  1000,
	}
	if err := s.StoreBlock(ctx, h, []pox.AnchorOp{commit}); err != nil {
		t.Fatalf("storing block: %s", err)
	}

	got, err := s.GetBlock(ctx, h.Hash)
	if err != nil {
		t.Fatalf("getting block: %s", err)
	}
	if got == nil {
		t.Fatal("getting block: got nil")
	}
	if len(got.Ops) != 1 {
		t.Fatalf("got %d ops, want 1", len(got.Ops))
	}
	gotCommit, ok := got.Ops[0].(*pox.BlockCommitOp)
	if !ok {
		t.Fatalf("op type = %T, want *pox.BlockCommitOp", got.Ops[0])
	}
	if gotCommit.BurnFee != 1000 {
		t.Errorf("BurnFee = %d, want 1000", gotCommit.BurnFee)
	}
}

func TestGetOpByTxid(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	h := testHeader(3)
	op := &pox.KeyRegisterOp{OpHeader: pox.OpHeader{TxID: [32]byte{7}, VtxIndex: 0, Height: 3, AnchorHash: h.Hash}}
	if err := s.StoreBlock(ctx, h, []pox.AnchorOp{op}); err != nil {
		t.Fatalf("storing block: %s", err)
	}
	got, err := s.GetOp(ctx, [32]byte{7})
	if err != nil {
		t.Fatalf("getting op: %s", err)
	}
	if got == nil {
		t.Fatal("getting op: got nil")
	}
	if got.OpType() != pox.OpKeyRegister {
		t.Errorf("op type = %s, want KeyRegister", got.OpType())
	}
}

func TestCanonicalTipAndDropAbove(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for h := uint64(1); h <= 3; h++ {
		if err := s.StoreBlock(ctx, testHeader(h), nil); err != nil {
			t.Fatalf("storing block %d: %s", h, err)
		}
	}
	tip, err := s.CanonicalTip(ctx)
	if err != nil {
		t.Fatalf("canonical tip: %s", err)
	}
	if tip.Height != 3 {
		t.Fatalf("tip height = %d, want 3", tip.Height)
	}

	if err := s.DropAbove(ctx, 1); err != nil {
		t.Fatalf("drop above: %s", err)
	}
	tip, err = s.CanonicalTip(ctx)
	if err != nil {
		t.Fatalf("canonical tip after drop: %s", err)
	}
	if tip.Height != 1 {
		t.Fatalf("tip height after drop = %d, want 1", tip.Height)
	}
}
