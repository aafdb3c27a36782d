package anchordb

import (
	"time"

	"github.com/poxnode/sortition"
)

func unixMilliToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// headersEqual compares two headers for the "differing contents" check
// in StoreBlock, using millisecond-truncated timestamp equality since
// that is the precision the store persists.
func headersEqual(a, b pox.AnchorHeader) bool {
	return a.Height == b.Height &&
		a.Hash == b.Hash &&
		a.ParentHash == b.ParentHash &&
		a.TxCount == b.TxCount &&
		a.Timestamp.UnixMilli() == b.Timestamp.UnixMilli()
}
