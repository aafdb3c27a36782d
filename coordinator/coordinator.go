// Package coordinator implements the one-way notification endpoint of
// spec §4.H: a signalling channel the storer uses to announce new
// anchor blocks, with no owning references to any persisted state.
package coordinator

import (
	"context"
	"sync"

	"github.com/bobg/multichan"
)

// tick is the zero-payload value broadcast on every new anchor block;
// its only job is to have a type distinct from any other multichan use.
type tick struct{}

// Handle is the coordinator endpoint. It wraps a *multichan.W so any
// number of readers can observe the same sequence of announcements,
// mirroring the teacher's own custodian.w field.
type Handle struct {
	w *multichan.W

	once   sync.Once
	closed chan struct{}
}

// New returns a Handle ready to broadcast announcements.
func New() *Handle {
	return &Handle{w: multichan.New(tick{}), closed: make(chan struct{})}
}

// AnnounceNewAnchorBlock notifies every registered listener that a new
// anchor block has been ingested. It returns false once Close has been
// called, the veto the storer checks to know to stop and return
// pox.ErrCoordinatorClosed (spec §4.B "cancellation is cooperative").
func (h *Handle) AnnounceNewAnchorBlock() bool {
	select {
	case <-h.closed:
		return false
	default:
	}
	h.w.Write(tick{})
	return true
}

// Close signals listeners that no further announcements will arrive,
// and makes every subsequent AnnounceNewAnchorBlock call return false.
func (h *Handle) Close() {
	h.once.Do(func() { close(h.closed) })
	h.w.Close()
}

// Listener reads announcements from a Handle. A fresh Listener only
// sees announcements made after it is created (bobg/multichan's own
// guarantee); callers that must not miss the first tick should create
// their Listener before anything can call AnnounceNewAnchorBlock.
type Listener struct {
	r *multichan.R
}

// Listen registers a new Listener on h.
func (h *Handle) Listen() *Listener {
	return &Listener{r: h.w.Reader()}
}

// Wait blocks until the next announcement, or until ctx is canceled or
// the Handle is closed, in which case ok is false. This mirrors the
// teacher's watchExports's r.Read(ctx) cancellation idiom exactly.
func (l *Listener) Wait(ctx context.Context) (ok bool) {
	_, ok = l.r.Read(ctx)
	return ok
}
