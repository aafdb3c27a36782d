// Package ingest implements the anchor-chain ingest pipeline of spec
// §4.B: feeder → downloader → parser → storer, connected by bounded
// channels, with reorg rewind and idempotent re-entry on TrySyncAgain.
package ingest

import (
	"context"
	"log"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/poxnode/sortition"
	"github.com/poxnode/sortition/anchordb"
	"github.com/poxnode/sortition/coordinator"
	"github.com/poxnode/sortition/cycle"
	"github.com/poxnode/sortition/opclass"
	"github.com/poxnode/sortition/remote"
	"github.com/poxnode/sortition/sortdb"
	"github.com/poxnode/sortition/transition"
)

// Pipeline wires together the four stages over the anchor store, the
// sortition index, and a remote.Indexer, grounded on the teacher's own
// custodian struct (db handles + coordinator + calendar constants held
// by one long-lived value driving goroutines against them).
type Pipeline struct {
	Indexer   remote.Indexer
	AnchorDB  *anchordb.Store
	SortDB    *sortdb.Store
	Calendar  cycle.Calendar
	Announcer *coordinator.Handle
}

// envelope is the Option<T>-like value spec §4.B describes flowing
// through the pipeline's channels: Done marks the end-of-batch sentinel
// that drains every stage.
type envelope struct {
	Header remote.IPCHeader
	Done   bool
}

// RunOnce executes one ingest batch: checks for a reorg, truncating
// local headers above the disagreement point if found, then syncs and
// processes every new header up to the indexer's current remote tip.
// Returns a TrySyncAgain-classified error on any stage fault, per spec
// §4.B's idempotent-retry contract.
func (p *Pipeline) RunOnce(ctx context.Context) error {
	if disagreeHeight, ok, err := p.Indexer.FindChainReorg(ctx); err != nil {
		return pox.ThreadChannel(errors.Wrap(err, "checking for chain reorg"))
	} else if ok {
		log.Printf("ingest: reorg detected, truncating local headers above height %d", disagreeHeight)
		if err := p.AnchorDB.DropAbove(ctx, disagreeHeight); err != nil {
			return err
		}
		invalidateFrom, cycleNum := disagreeHeight, uint64(0)
		if n, ok := p.Calendar.BlockToCycle(disagreeHeight); ok {
			cycleNum = n
			if start := p.Calendar.CycleToBlock(n); start <= disagreeHeight {
				invalidateFrom = start
			}
		}
		log.Printf("ingest: invalidating pox fork from height %d (reward cycle %d)", invalidateFrom, cycleNum)
		if err := p.SortDB.InvalidateFromHeight(ctx, invalidateFrom, cycleNum); err != nil {
			return err
		}
	}

	tip, err := p.AnchorDB.CanonicalTip(ctx)
	if err != nil {
		return err
	}
	from := tip.Height + 1

	newTip, err := p.Indexer.SyncHeaders(ctx, from, 0)
	if err != nil {
		return pox.ThreadChannel(errors.Wrap(err, "syncing headers"))
	}
	if newTip < from {
		return nil // nothing new
	}
	headers, err := p.Indexer.ReadHeaders(ctx, from, newTip)
	if err != nil {
		return pox.ThreadChannel(errors.Wrap(err, "reading synced headers"))
	}

	return p.runBatch(ctx, headers)
}

// runBatch drives one batch's worth of headers through the four
// stages. The stage channels have capacity 1 (spec §4.B); an
// errgroup.Group cancels every stage's context the instant any one of
// them returns an error, the Go analogue of "abort remaining stages by
// dropping senders" (grounded on AKJUS-bsc-erigon's errgroup fan-out).
func (p *Pipeline) runBatch(ctx context.Context, headers []remote.IPCHeader) error {
	g, ctx := errgroup.WithContext(ctx)

	toDownload := make(chan envelope, 1)
	toParse := make(chan envelope2, 1)
	toStore := make(chan envelope3, 1)

	g.Go(func() error { return p.feed(ctx, headers, toDownload) })
	g.Go(func() error { return p.download(ctx, toDownload, toParse) })
	g.Go(func() error { return p.parse(ctx, toParse, toStore) })
	g.Go(func() error { return p.store(ctx, toStore) })

	return g.Wait()
}

func (p *Pipeline) feed(ctx context.Context, headers []remote.IPCHeader, out chan<- envelope) error {
	defer close(out)
	for _, h := range headers {
		select {
		case out <- envelope{Header: h}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case out <- envelope{Done: true}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

type envelope2 struct {
	Block remote.IPCBlock
	Done  bool
}

func (p *Pipeline) download(ctx context.Context, in <-chan envelope, out chan<- envelope2) error {
	defer close(out)
	dl := p.Indexer.Downloader()
	for {
		select {
		case e, ok := <-in:
			if !ok {
				return nil
			}
			if e.Done {
				select {
				case out <- envelope2{Done: true}:
				case <-ctx.Done():
					return ctx.Err()
				}
				return nil
			}
			b, err := dl.Download(ctx, e.Header)
			if err != nil {
				return pox.ThreadChannel(errors.Wrapf(err, "downloading block at height %d", e.Header.Height))
			}
			select {
			case out <- envelope2{Block: b}:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type envelope3 struct {
	Block remote.AnchorBlock
	Done  bool
}

func (p *Pipeline) parse(ctx context.Context, in <-chan envelope2, out chan<- envelope3) error {
	defer close(out)
	ps := p.Indexer.Parser()
	for {
		select {
		case e, ok := <-in:
			if !ok {
				return nil
			}
			if e.Done {
				select {
				case out <- envelope3{Done: true}:
				case <-ctx.Done():
					return ctx.Err()
				}
				return nil
			}
			ab, err := ps.Parse(ctx, e.Block)
			if err != nil {
				return pox.ThreadChannel(errors.Wrapf(err, "parsing block at height %d", e.Block.Header.Height))
			}
			select {
			case out <- envelope3{Block: ab}:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pipeline) store(ctx context.Context, in <-chan envelope3) error {
	for {
		select {
		case e, ok := <-in:
			if !ok {
				return nil
			}
			if e.Done {
				return nil
			}
			if err := p.storeOne(ctx, e.Block); err != nil {
				return err
			}
			if !p.Announcer.AnnounceNewAnchorBlock() {
				return pox.ErrCoordinatorClosed
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// storeOne classifies a parsed block's transactions, persists the
// decoded ops in the anchor store, runs the state transition, and
// writes the resulting snapshot — spec §4.B step 3 in full.
func (p *Pipeline) storeOne(ctx context.Context, block remote.AnchorBlock) error {
	inBlockPreAuth := make(map[pox.Txid32]*pox.PreAuthOp)
	var ops []pox.AnchorOp
	for _, tx := range block.Txs {
		op, err := opclass.Classify(ctx, tx, inBlockPreAuth, p.AnchorDB)
		if err != nil {
			return err
		}
		if op == nil {
			continue
		}
		if pre, ok := op.(*pox.PreAuthOp); ok {
			inBlockPreAuth[pre.Header().TxID] = pre
		}
		ops = append(ops, op)
	}

	if err := p.AnchorDB.StoreBlock(ctx, block.Header, ops); err != nil && err != anchordb.ErrAlreadyPresent {
		return err
	}

	rest, live, missed := opclass.PartitionCommits(block.Header.Height, ops)
	opsInBlock := append(rest, live...)
	sort.SliceStable(opsInBlock, func(i, j int) bool {
		return opsInBlock[i].Header().VtxIndex < opsInBlock[j].Header().VtxIndex
	})

	parent, err := p.parentSnapshot(ctx, block.Header)
	if err != nil {
		return err
	}

	snap, accepted, err := transition.Apply(ctx, parent, block.Header, opsInBlock, missed, p.Calendar, p.SortDB)
	if err != nil {
		return err
	}

	tx, err := p.SortDB.BeginTx(ctx, parent.SortitionID)
	if err != nil {
		return err
	}
	if err := tx.WriteSnapshot(ctx, snap, accepted, missed); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// parentSnapshot resolves the snapshot this header succeeds: the one
// rooted at its parent anchor hash. sortdb.Create seeds a genesis
// snapshot at the deployment's first anchor hash, so the first real
// header ingested (whose ParentHash is that same genesis hash) resolves
// here without any special-casing.
func (p *Pipeline) parentSnapshot(ctx context.Context, header pox.AnchorHeader) (pox.Snapshot, error) {
	parent, err := p.SortDB.GetSnapshotByAnchorHash(ctx, header.ParentHash)
	if err != nil {
		if k, ok := pox.KindOf(err); ok && k == pox.KindInvalidPoxFork {
			return pox.Snapshot{}, err
		}
		return pox.Snapshot{}, pox.MissingParent(errors.Wrapf(err, "resolving parent snapshot for anchor %s", header.Hash))
	}
	return parent, nil
}
