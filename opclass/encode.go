package opclass

import (
	"encoding/binary"

	"github.com/poxnode/sortition"
)

// Encode renders op back to the wire payload format Classify decodes,
// for round-trip testing (spec §8 property 6) and for test fixtures
// that need to synthesize RawAnchorTx values.
func Encode(op pox.AnchorOp) []byte {
	switch o := op.(type) {
	case *pox.KeyRegisterOp:
		buf := []byte{byte(OpcodeKeyRegister)}
		buf = append(buf, o.PublicKey[:]...)
		buf = append(buf, byte(len(o.Memo)))
		buf = append(buf, o.Memo...)
		buf = append(buf, o.Address[:]...)
		return buf
	case *pox.BlockCommitOp:
		buf := []byte{byte(OpcodeBlockCommit)}
		buf = append(buf, o.BlockHash[:]...)
		buf = append(buf, o.NewSeed[:]...)
		buf = appendU64(buf, o.ParentBlockPtr)
		buf = appendU32(buf, o.ParentVtxIndex)
		buf = appendU64(buf, o.KeyPtr.BlockPtr)
		buf = appendU32(buf, o.KeyPtr.VtxIndex)
		buf = appendU64(buf, o.BurnFee)
		buf = append(buf, o.Signer[:]...)
		buf = append(buf, o.BurnParentModulus)
		return buf
	case *pox.UserSupportOp:
		buf := []byte{byte(OpcodeUserSupport)}
		buf = append(buf, o.PublicKey[:]...)
		buf = append(buf, o.BlockHeaderHash160[:]...)
		buf = appendU64(buf, o.KeyPtr.BlockPtr)
		buf = appendU32(buf, o.KeyPtr.VtxIndex)
		buf = appendU64(buf, o.BurnFee)
		return buf
	case *pox.PreAuthOp:
		buf := []byte{byte(OpcodePreAuth)}
		buf = append(buf, o.Sender[:]...)
		return buf
	case *pox.StackAuthOp:
		buf := []byte{byte(OpcodeStackAuth)}
		buf = append(buf, o.PreAuthTxID[:]...)
		return buf
	case *pox.TransferAuthOp:
		buf := []byte{byte(OpcodeTransferAuth)}
		buf = append(buf, o.PreAuthTxID[:]...)
		buf = append(buf, o.Recipient[:]...)
		return buf
	default:
		return nil
	}
}

func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}
