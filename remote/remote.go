// Package remote defines the Indexer/Downloader/Parser capability trio
// of spec §6: the ingest pipeline's only view onto the outside world.
// A real implementation and an in-memory mock both satisfy the same
// interfaces, grounded on the teacher's mockhorizon.Client split
// between "the methods the custodian actually calls" and "everything
// else, stubbed."
package remote

import (
	"context"

	"github.com/poxnode/sortition"
	"github.com/poxnode/sortition/opclass"
)

// IPCHeader is the wire form of an anchor header as carried between
// pipeline stages, before it is trusted enough to become pox.AnchorHeader.
type IPCHeader struct {
	Height     uint64
	Hash       pox.Hash32
	ParentHash pox.Hash32
}

// IPCBlock is the raw block payload a Downloader hands to a Parser.
// Body carries real wire bytes; MockTxs is populated only by
// MockIndexer's Downloader, letting its Parser skip wire encoding
// entirely in tests.
type IPCBlock struct {
	Header  IPCHeader
	Body    []byte
	MockTxs []opclass.RawAnchorTx
}

// AnchorBlock is a parsed anchor block: header plus its transactions
// trimmed to the fields opclass.Classify needs. Parsing stops short of
// classification (spec §4.B step 3 does that in the storer stage, since
// StackAuth/TransferAuth linkage may need the anchor store).
type AnchorBlock struct {
	Header pox.AnchorHeader
	Txs    []opclass.RawAnchorTx
}

// Downloader fetches the full block bytes behind an IPCHeader.
type Downloader interface {
	Download(ctx context.Context, h IPCHeader) (IPCBlock, error)
}

// Parser decodes a downloaded block's bytes into its header and raw
// transactions.
type Parser interface {
	Parse(ctx context.Context, b IPCBlock) (AnchorBlock, error)
}

// Indexer is the ingest pipeline's sole window onto the anchor chain:
// header sync, reorg detection, and the Downloader/Parser pair spec §6
// says it must expose.
type Indexer interface {
	// HighestHeaderHeight returns the tallest header height currently on
	// disk in this Indexer's local header file.
	HighestHeaderHeight(ctx context.Context) (uint64, error)
	// FindChainReorg returns the lowest height at which the local header
	// chain disagrees with the remote chain, or ok=false if there is no
	// disagreement in the overlap.
	FindChainReorg(ctx context.Context) (height uint64, ok bool, err error)
	// SyncHeaders fetches headers in [from, upper) (upper=0 meaning "as
	// many as currently exist") into the local header file and returns
	// the height of the last header fetched, or from itself if none was.
	SyncHeaders(ctx context.Context, from uint64, upper uint64) (newTip uint64, err error)
	// ReadHeaders returns the locally stored headers in [lo, hi].
	ReadHeaders(ctx context.Context, lo, hi uint64) ([]IPCHeader, error)

	Downloader() Downloader
	Parser() Parser
}
