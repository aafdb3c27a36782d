// Command poxnoded runs the anchor-chain ingest pipeline and sortition
// engine standalone, wiring burnchain.db, sortition.db, and the
// coordinator notification endpoint together exactly as
// cmd/slidechaind wires its custodian. The peer-to-peer transport that
// would normally feed it headers and blocks is out of scope (spec
// Non-goals); fileBlockSource below reads them from a local directory
// instead, so the binary is runnable without a network layer.
package main

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/poxnode/sortition"
	"github.com/poxnode/sortition/anchordb"
	"github.com/poxnode/sortition/coordinator"
	"github.com/poxnode/sortition/cycle"
	"github.com/poxnode/sortition/ingest"
	"github.com/poxnode/sortition/poxcrypto"
	"github.com/poxnode/sortition/remote"
	"github.com/poxnode/sortition/sortdb"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var (
		workDir      = flag.String("datadir", "poxnode-data", "working directory for sortition.db, burnchain.db, and headers.db")
		blocksDir    = flag.String("blocksdir", "blocks", "directory fileBlockSource reads header/block files from")
		genesisHash  = flag.String("genesis-hash", "", "hex-encoded 32-byte anchor hash this deployment treats as height 0 (required)")
		pollInterval = flag.Duration("poll", 5*time.Second, "how often to run an ingest batch")
		cycleLen     = flag.Uint64("reward-cycle-length", 2100, "reward cycle length in anchor blocks")
		prepareLen   = flag.Uint64("prepare-length", 100, "prepare-phase length in anchor blocks")
		sunsetStart  = flag.Uint64("sunset-start", 0, "anchor height the PoX sunset schedule begins tapering at (0 disables)")
		sunsetEnd    = flag.Uint64("sunset-end", 0, "anchor height the PoX sunset schedule reaches zero at")
	)
	flag.Parse()

	// A zero -sunset-start disables the sunset schedule: both bounds move
	// past every reachable height, so no height is must-burn on its account.
	if *sunsetStart == 0 {
		*sunsetStart, *sunsetEnd = math.MaxUint64, math.MaxUint64
	}

	if *genesisHash == "" {
		log.Fatal("poxnoded: -genesis-hash is required")
	}
	var genesisAnchor pox.AnchorHeader
	hashBytes, err := hex.DecodeString(*genesisHash)
	if err != nil || len(hashBytes) != 32 {
		log.Fatalf("poxnoded: -genesis-hash must be 64 hex characters (32 bytes)")
	}
	copy(genesisAnchor.Hash[:], hashBytes)

	if err := os.MkdirAll(*workDir, 0o755); err != nil {
		log.Fatalf("poxnoded: creating datadir: %s", err)
	}

	adb, err := anchordb.Open(filepath.Join(*workDir, "burnchain.db"))
	if err != nil {
		log.Fatalf("poxnoded: opening burnchain.db: %s", err)
	}
	defer adb.Close()

	sdb, err := sortdb.Create(filepath.Join(*workDir, "sortition.db"), genesisAnchor)
	if err != nil {
		log.Fatalf("poxnoded: opening sortition.db: %s", err)
	}
	defer sdb.Close()

	source := fileBlockSource{dir: *blocksDir}
	idx, err := remote.OpenSQLiteHeaderIndex(filepath.Join(*workDir, "headers.db"), source)
	if err != nil {
		log.Fatalf("poxnoded: opening headers.db: %s", err)
	}
	defer idx.Close()

	announcer := coordinator.New()
	defer announcer.Close()

	p := &ingest.Pipeline{
		Indexer:  idx,
		AnchorDB: adb,
		SortDB:   sdb,
		Calendar: cycle.Calendar{
			FirstBlockHeight:  genesisAnchor.Height,
			RewardCycleLength: *cycleLen,
			PrepareLength:     *prepareLen,
			SunsetStart:       *sunsetStart,
			SunsetEnd:         *sunsetEnd,
		},
		Announcer: announcer,
	}

	log.Printf("poxnoded: running against %s, genesis anchor %x, polling every %s", *workDir, genesisAnchor.Hash, *pollInterval)

	ticker := time.NewTicker(*pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Print("poxnoded: shutting down")
			return
		case <-ticker.C:
			if err := p.RunOnce(ctx); err != nil {
				if pox.TrySyncAgain(err) {
					log.Printf("poxnoded: transient ingest error, will retry next tick: %s", err)
					continue
				}
				log.Fatalf("poxnoded: fatal ingest error: %s", err)
			}
		}
	}
}

// fileBlockSource implements remote.BlockSource by reading each
// height's header and block from <dir>/<height>.header and
// <dir>/<height>.block. The header file is the 40-byte concatenation
// parent_hash(32) || extra(8), where extra is whatever distinguishing
// field the upstream transport stamped the header with (timestamp,
// nonce, ...); the header's own hash is never trusted from the file,
// it is recomputed locally as DoubleSHA256(height_be || parent_hash ||
// extra), the same self-verifying convention real anchor chains use
// for block headers. The block file is the wire format
// remote.wireParser expects. This stands in for the real anchor-chain
// P2P transport, which is out of scope here.
type fileBlockSource struct {
	dir string
}

func (f fileBlockSource) FetchHeader(ctx context.Context, height uint64) (remote.IPCHeader, error) {
	b, err := os.ReadFile(filepath.Join(f.dir, fmt.Sprintf("%d.header", height)))
	if err != nil {
		return remote.IPCHeader{}, err
	}
	if len(b) != 40 {
		return remote.IPCHeader{}, fmt.Errorf("fileBlockSource: header file for height %d has %d bytes, want 40", height, len(b))
	}
	h := remote.IPCHeader{Height: height}
	copy(h.ParentHash[:], b[:32])

	var heightBytes [8]byte
	binary.BigEndian.PutUint64(heightBytes[:], height)
	buf := make([]byte, 0, 48)
	buf = append(buf, heightBytes[:]...)
	buf = append(buf, b...)
	h.Hash = poxcrypto.DoubleSHA256(buf)
	return h, nil
}

func (f fileBlockSource) FetchBlock(ctx context.Context, h remote.IPCHeader) (remote.IPCBlock, error) {
	body, err := os.ReadFile(filepath.Join(f.dir, fmt.Sprintf("%d.block", h.Height)))
	if err != nil {
		return remote.IPCBlock{}, err
	}
	return remote.IPCBlock{Header: h, Body: body}, nil
}
