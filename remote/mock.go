package remote

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/poxnode/sortition"
)

// MockIndexer is an in-memory Indexer for pipeline tests, grounded
// directly on the teacher's mockhorizon.Client: a fixed in-memory
// sequence that the caller populates ahead of time, with no real I/O.
type MockIndexer struct {
	mu      sync.Mutex
	headers []IPCHeader
	blocks  map[pox.Hash32]IPCBlock

	reorgAt  uint64
	hasReorg bool
}

// NewMockIndexer returns an empty MockIndexer; use PushHeader/PushBlock
// to populate it before running a pipeline against it.
func NewMockIndexer() *MockIndexer {
	return &MockIndexer{blocks: make(map[pox.Hash32]IPCBlock)}
}

// PushHeader appends a header to the indexer's remote view, as if it
// had just appeared on the anchor chain.
func (m *MockIndexer) PushHeader(h IPCHeader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headers = append(m.headers, h)
}

// PushBlock registers the block body behind a previously pushed header.
// Construct b with MockTxs set, not Body; MockIndexer's Parser reads
// MockTxs directly and never touches the real wire format.
func (m *MockIndexer) PushBlock(b IPCBlock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[b.Header.Hash] = b
}

// SetReorg arms a synthetic chain-reorg disagreement at height, taking
// effect for the next FindChainReorg call only.
func (m *MockIndexer) SetReorg(height uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reorgAt, m.hasReorg = height, true
}

func (m *MockIndexer) HighestHeaderHeight(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.headers) == 0 {
		return 0, nil
	}
	return m.headers[len(m.headers)-1].Height, nil
}

func (m *MockIndexer) FindChainReorg(ctx context.Context) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasReorg {
		m.hasReorg = false
		return m.reorgAt, true, nil
	}
	return 0, false, nil
}

func (m *MockIndexer) SyncHeaders(ctx context.Context, from uint64, upper uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tip := from
	for _, h := range m.headers {
		if h.Height < from {
			continue
		}
		if upper != 0 && h.Height >= upper {
			break
		}
		tip = h.Height
	}
	return tip, nil
}

func (m *MockIndexer) ReadHeaders(ctx context.Context, lo, hi uint64) ([]IPCHeader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []IPCHeader
	for _, h := range m.headers {
		if h.Height >= lo && h.Height <= hi {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *MockIndexer) Downloader() Downloader { return (*mockDownloader)(m) }
func (m *MockIndexer) Parser() Parser         { return mockParser{} }

// mockDownloader serves blocks previously registered with PushBlock.
type mockDownloader MockIndexer

func (d *mockDownloader) Download(ctx context.Context, h IPCHeader) (IPCBlock, error) {
	m := (*MockIndexer)(d)
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[h.Hash]
	if !ok {
		return IPCBlock{}, errors.Errorf("mock: no block registered for header %s", h.Hash)
	}
	return b, nil
}

// mockParser reads a block's MockTxs directly, bypassing the real wire
// format wireParser implements.
type mockParser struct{}

func (mockParser) Parse(ctx context.Context, b IPCBlock) (AnchorBlock, error) {
	return AnchorBlock{
		Header: pox.AnchorHeader{
			Height:     b.Header.Height,
			Hash:       b.Header.Hash,
			ParentHash: b.Header.ParentHash,
		},
		Txs: b.MockTxs,
	}, nil
}
