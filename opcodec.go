package pox

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// EncodeOp renders an AnchorOp's variant-specific fields to JSON. Both
// anchordb (raw ops by txid) and sortdb (accepted ops and missed
// commits by sortition_id) persist ops this way: a JSON blob alongside
// relational columns, matching the teacher's own PegIn-as-JSON idiom.
func EncodeOp(op AnchorOp) ([]byte, error) {
	payload, err := json.Marshal(op)
	return payload, errors.Wrap(err, "marshaling op payload")
}

// DecodeOp reconstructs the concrete AnchorOp variant from a stored
// op_type discriminator and JSON payload.
func DecodeOp(opType OpType, payload []byte) (AnchorOp, error) {
	var op AnchorOp
	switch opType {
	case OpPreAuth:
		op = new(PreAuthOp)
	case OpStackAuth:
		op = new(StackAuthOp)
	case OpTransferAuth:
		op = new(TransferAuthOp)
	case OpKeyRegister:
		op = new(KeyRegisterOp)
	case OpBlockCommit:
		op = new(BlockCommitOp)
	case OpUserSupport:
		op = new(UserSupportOp)
	default:
		return nil, errors.Errorf("unknown stored op_type %d", opType)
	}
	if err := json.Unmarshal(payload, op); err != nil {
		return nil, errors.Wrapf(err, "unmarshaling op_type %d payload", opType)
	}
	return op, nil
}
