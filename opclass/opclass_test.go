package opclass

import (
	"context"
	"reflect"
	"testing"

	"github.com/poxnode/sortition"
)

func txFor(op pox.AnchorOp) RawAnchorTx {
	h := op.Header()
	return RawAnchorTx{TxID: h.TxID, VtxIndex: h.VtxIndex, Height: h.Height, AnchorHash: h.AnchorHash, Payload: Encode(op)}
}

func TestRoundTripKeyRegister(t *testing.T) {
	want := &pox.KeyRegisterOp{
		OpHeader:  pox.OpHeader{TxID: pox.Hash32{1}, VtxIndex: 10, Height: 121, AnchorHash: pox.Hash32{2}},
		PublicKey: pox.VRFPublicKey{3},
		Memo:      []byte("hi"),
		Address:   pox.Hash160{4},
	}
	got, err := Classify(context.Background(), txFor(want), nil, nil)
	if err != nil {
		t.Fatalf("classify: %s", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestRoundTripBlockCommit(t *testing.T) {
	want := &pox.BlockCommitOp{
		OpHeader:          pox.OpHeader{TxID: pox.Hash32{5}, VtxIndex: 2, Height: 122, AnchorHash: pox.Hash32{6}},
		BlockHash:         pox.Hash32{0x22},
		NewSeed:           pox.Hash32{0x33},
		ParentBlockPtr:    121,
		ParentVtxIndex:    1,
		KeyPtr:            pox.KeyPtr{BlockPtr: 121, VtxIndex: 10},
		BurnFee:           12345,
		Signer:            pox.Hash160{7},
		BurnParentModulus: 3,
	}
	got, err := Classify(context.Background(), txFor(want), nil, nil)
	if err != nil {
		t.Fatalf("classify: %s", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestRoundTripUserSupport(t *testing.T) {
	want := &pox.UserSupportOp{
		OpHeader:           pox.OpHeader{TxID: pox.Hash32{8}, VtxIndex: 3, Height: 122, AnchorHash: pox.Hash32{6}},
		PublicKey:          pox.VRFPublicKey{9},
		BlockHeaderHash160: pox.Hash160{0xaa},
		KeyPtr:             pox.KeyPtr{BlockPtr: 121, VtxIndex: 10},
		BurnFee:            500,
	}
	got, err := Classify(context.Background(), txFor(want), nil, nil)
	if err != nil {
		t.Fatalf("classify: %s", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestStackAuthRequiresMatchingPreAuth(t *testing.T) {
	preAuthTxID := pox.Hash32{0x10}
	stackAuth := &pox.StackAuthOp{
		OpHeader:    pox.OpHeader{TxID: pox.Hash32{0x11}, VtxIndex: 1, Height: 122, AnchorHash: pox.Hash32{0x12}},
		PreAuthTxID: preAuthTxID,
	}

	// No matching PreAuth anywhere: rejected (nil, nil).
	got, err := Classify(context.Background(), txFor(stackAuth), nil, nil)
	if err != nil {
		t.Fatalf("classify: %s", err)
	}
	if got != nil {
		t.Fatalf("expected nil without matching PreAuth, got %+v", got)
	}

	// Matching PreAuth present in the in-block map: accepted.
	inBlock := map[pox.Txid32]*pox.PreAuthOp{
		preAuthTxID: {OpHeader: pox.OpHeader{TxID: preAuthTxID, VtxIndex: 0, Height: 122, AnchorHash: pox.Hash32{0x12}}},
	}
	got, err = Classify(context.Background(), txFor(stackAuth), inBlock, nil)
	if err != nil {
		t.Fatalf("classify: %s", err)
	}
	if got == nil {
		t.Fatal("expected accepted StackAuth with matching in-block PreAuth")
	}
}

func TestUnknownOpcodeDropped(t *testing.T) {
	tx := RawAnchorTx{TxID: pox.Hash32{1}, Payload: []byte{'Z', 1, 2, 3}}
	got, err := Classify(context.Background(), tx, nil, nil)
	if err != nil {
		t.Fatalf("classify: %s", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown opcode, got %+v", got)
	}
}

func TestMalformedPayloadDropped(t *testing.T) {
	tx := RawAnchorTx{TxID: pox.Hash32{1}, Payload: []byte{byte(OpcodeBlockCommit), 1, 2}}
	got, err := Classify(context.Background(), tx, nil, nil)
	if err != nil {
		t.Fatalf("classify: %s", err)
	}
	if got != nil {
		t.Fatalf("expected nil for malformed payload, got %+v", got)
	}
}
