package opclass

import (
	"context"
	"encoding/binary"
	"log"

	"github.com/poxnode/sortition"
)

// cursor is a tiny fixed-layout reader: anchor-chain op payloads are
// big-endian integers, 32-byte hashes, and 20-byte addresses packed back
// to back with no length prefixes (spec §6).
type cursor struct {
	buf []byte
	pos int
	err bool
}

func (c *cursor) take(n int) []byte {
	if c.err || c.pos+n > len(c.buf) {
		c.err = true
		return nil
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b
}

func (c *cursor) hash32() (h pox.Hash32) {
	copy(h[:], c.take(32))
	return h
}

func (c *cursor) hash160() (h pox.Hash160) {
	copy(h[:], c.take(20))
	return h
}

func (c *cursor) vrfPubKey() (k pox.VRFPublicKey) {
	copy(k[:], c.take(32))
	return k
}

func (c *cursor) u64() uint64 {
	b := c.take(8)
	if c.err {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (c *cursor) u32() uint32 {
	b := c.take(4)
	if c.err {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (c *cursor) u8() uint8 {
	b := c.take(1)
	if c.err {
		return 0
	}
	return b[0]
}

func (c *cursor) rest() []byte {
	if c.err {
		return nil
	}
	b := c.buf[c.pos:]
	c.pos = len(c.buf)
	return b
}

func malformed(tx RawAnchorTx, opcode Opcode) (pox.AnchorOp, error) {
	log.Printf("opclass: warn: malformed %c payload in txid %s, dropping", byte(opcode), tx.TxID)
	return nil, nil
}

func decodeKeyRegister(tx RawAnchorTx, body []byte) (pox.AnchorOp, error) {
	c := &cursor{buf: body}
	pk := c.vrfPubKey()
	memoLen := c.u8()
	memo := c.take(int(memoLen))
	addr := c.hash160()
	if c.err {
		return malformed(tx, OpcodeKeyRegister)
	}
	memoCopy := append([]byte(nil), memo...)
	return &pox.KeyRegisterOp{
		OpHeader:  tx.header(),
		PublicKey: pk,
		Memo:      memoCopy,
		Address:   addr,
	}, nil
}

func decodeBlockCommit(tx RawAnchorTx, body []byte) (pox.AnchorOp, error) {
	c := &cursor{buf: body}
	blockHash := c.hash32()
	newSeed := c.hash32()
	parentBlockPtr := c.u64()
	parentVtxIndex := c.u32()
	keyBlockPtr := c.u64()
	keyVtxIndex := c.u32()
	burnFee := c.u64()
	signer := c.hash160()
	burnParentModulus := c.u8()
	if c.err {
		return malformed(tx, OpcodeBlockCommit)
	}
	return &pox.BlockCommitOp{
		OpHeader:          tx.header(),
		BlockHash:         blockHash,
		NewSeed:           newSeed,
		ParentBlockPtr:    parentBlockPtr,
		ParentVtxIndex:    parentVtxIndex,
		KeyPtr:            pox.KeyPtr{BlockPtr: keyBlockPtr, VtxIndex: keyVtxIndex},
		BurnFee:           burnFee,
		Signer:            signer,
		BurnParentModulus: burnParentModulus,
	}, nil
}

func decodeUserSupport(tx RawAnchorTx, body []byte) (pox.AnchorOp, error) {
	c := &cursor{buf: body}
	pk := c.vrfPubKey()
	blockHeaderHash160 := c.hash160()
	keyBlockPtr := c.u64()
	keyVtxIndex := c.u32()
	burnFee := c.u64()
	if c.err {
		return malformed(tx, OpcodeUserSupport)
	}
	return &pox.UserSupportOp{
		OpHeader:           tx.header(),
		PublicKey:          pk,
		BlockHeaderHash160: blockHeaderHash160,
		KeyPtr:             pox.KeyPtr{BlockPtr: keyBlockPtr, VtxIndex: keyVtxIndex},
		BurnFee:            burnFee,
	}, nil
}

func decodePreAuth(tx RawAnchorTx, body []byte) (pox.AnchorOp, error) {
	c := &cursor{buf: body}
	sender := c.hash160()
	if c.err {
		return malformed(tx, OpcodePreAuth)
	}
	return &pox.PreAuthOp{OpHeader: tx.header(), Sender: sender}, nil
}

func decodeStackAuth(ctx context.Context, tx RawAnchorTx, body []byte, inBlock map[pox.Txid32]*pox.PreAuthOp, resolver Resolver) (pox.AnchorOp, error) {
	c := &cursor{buf: body}
	preAuthTxID := c.hash32()
	if c.err {
		return malformed(tx, OpcodeStackAuth)
	}
	pre, err := resolvePreAuth(ctx, preAuthTxID, inBlock, resolver)
	if err != nil {
		return nil, err
	}
	if pre == nil {
		log.Printf("opclass: warn: %s: no matching PreAuth %s, dropping", pox.RejectNoMatchingCommit, preAuthTxID)
		return nil, nil
	}
	return &pox.StackAuthOp{OpHeader: tx.header(), PreAuthTxID: preAuthTxID}, nil
}

func decodeTransferAuth(ctx context.Context, tx RawAnchorTx, body []byte, inBlock map[pox.Txid32]*pox.PreAuthOp, resolver Resolver) (pox.AnchorOp, error) {
	c := &cursor{buf: body}
	preAuthTxID := c.hash32()
	recipient := c.hash160()
	if c.err {
		return malformed(tx, OpcodeTransferAuth)
	}
	pre, err := resolvePreAuth(ctx, preAuthTxID, inBlock, resolver)
	if err != nil {
		return nil, err
	}
	if pre == nil {
		log.Printf("opclass: warn: %s: no matching PreAuth %s, dropping", pox.RejectNoMatchingCommit, preAuthTxID)
		return nil, nil
	}
	return &pox.TransferAuthOp{OpHeader: tx.header(), PreAuthTxID: preAuthTxID, Recipient: recipient}, nil
}
