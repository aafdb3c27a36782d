// Package opclass implements the anchor-chain op classifier of spec
// §4.C: it decodes one anchor transaction's dedicated payload output
// into a typed pox.AnchorOp, resolving the two-step PreAuth/StackAuth/
// TransferAuth linkage either against ops already seen earlier in the
// same anchor block or, failing that, against the anchor store.
package opclass

import (
	"context"
	"log"

	"github.com/pkg/errors"

	"github.com/poxnode/sortition"
)

// Opcode is the first byte of an op's payload output (spec §6).
type Opcode byte

const (
	OpcodePreAuth      Opcode = 'P'
	OpcodeStackAuth    Opcode = 'S'
	OpcodeTransferAuth Opcode = 'T'
	OpcodeKeyRegister  Opcode = 'K'
	OpcodeBlockCommit  Opcode = 'B'
	OpcodeUserSupport  Opcode = 'U'
)

// RawAnchorTx is one decoded anchor-chain transaction, trimmed to the
// fields the classifier needs: its identity within the anchor block and
// the dedicated op payload (opcode byte + fixed-layout fields).
type RawAnchorTx struct {
	TxID       pox.Txid32
	VtxIndex   uint32
	Height     uint64
	AnchorHash pox.Hash32
	Payload    []byte
}

// Resolver looks up a previously classified op by txid, falling back to
// persistent storage when the in-block map (see Classify) doesn't have
// it. anchordb.Store satisfies this interface.
type Resolver interface {
	GetOp(ctx context.Context, txid pox.Txid32) (pox.AnchorOp, error)
}

func (h RawAnchorTx) header() pox.OpHeader {
	return pox.OpHeader{TxID: h.TxID, VtxIndex: h.VtxIndex, Height: h.Height, AnchorHash: h.AnchorHash}
}

// Classify decodes one anchor transaction into a typed op, or returns
// (nil, nil) if the payload is malformed or carries no opcode this node
// understands. inBlockPreAuth holds PreAuth ops already classified
// earlier in the same anchor block, keyed by their txid; it is consulted
// before falling back to resolver (spec §4.C).
func Classify(ctx context.Context, tx RawAnchorTx, inBlockPreAuth map[pox.Txid32]*pox.PreAuthOp, resolver Resolver) (pox.AnchorOp, error) {
	if len(tx.Payload) == 0 {
		return nil, nil
	}
	opcode := Opcode(tx.Payload[0])
	body := tx.Payload[1:]

	switch opcode {
	case OpcodeKeyRegister:
		return decodeKeyRegister(tx, body)
	case OpcodeBlockCommit:
		return decodeBlockCommit(tx, body)
	case OpcodeUserSupport:
		return decodeUserSupport(tx, body)
	case OpcodePreAuth:
		return decodePreAuth(tx, body)
	case OpcodeStackAuth:
		return decodeStackAuth(ctx, tx, body, inBlockPreAuth, resolver)
	case OpcodeTransferAuth:
		return decodeTransferAuth(ctx, tx, body, inBlockPreAuth, resolver)
	default:
		log.Printf("opclass: warn: unknown opcode %q in txid %s, dropping", opcode, tx.TxID)
		return nil, nil
	}
}

// resolvePreAuth looks up the sender PreAuth for a Stack/TransferAuth op,
// consulting the in-block map first and the persistent store second.
func resolvePreAuth(ctx context.Context, preAuthTxID pox.Txid32, inBlock map[pox.Txid32]*pox.PreAuthOp, resolver Resolver) (*pox.PreAuthOp, error) {
	if p, ok := inBlock[preAuthTxID]; ok {
		return p, nil
	}
	if resolver == nil {
		return nil, nil
	}
	op, err := resolver.GetOp(ctx, preAuthTxID)
	if err != nil {
		return nil, errors.Wrap(err, "resolving PreAuth from store")
	}
	if op == nil {
		return nil, nil
	}
	pre, ok := op.(*pox.PreAuthOp)
	if !ok {
		return nil, nil
	}
	return pre, nil
}
