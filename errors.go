package pox

import "fmt"

// ErrKind enumerates the error taxonomy of spec §7. Only the first six
// kinds ever cross a component boundary; op-level rejections
// (AlreadyConsumedKey, NoMatchingCommit, MalformedPayload, UnknownOpcode,
// PrepareMustBurn) are the RejectReason values below and are never
// wrapped in an Error — they are logged at warn severity and dropped by
// the caller.
type ErrKind int

const (
	// KindUnsupportedChain is a configuration error, fatal at construction.
	KindUnsupportedChain ErrKind = iota + 1
	// KindDatabase is a storage fault, fatal for the current batch.
	KindDatabase
	// KindThreadChannel signals a stage's channel peer has gone away.
	KindThreadChannel
	// KindMissingParent marks an anchor block whose parent is unknown;
	// the block is deferred, not fatal.
	KindMissingParent
	// KindInvalidPoxFork marks a read through a pox-invalidated sortition id.
	KindInvalidPoxFork
	// KindCoordinatorClosed is the shutdown sentinel.
	KindCoordinatorClosed
)

func (k ErrKind) String() string {
	switch k {
	case KindUnsupportedChain:
		return "UnsupportedChain"
	case KindDatabase:
		return "Database"
	case KindThreadChannel:
		return "ThreadChannel"
	case KindMissingParent:
		return "MissingParent"
	case KindInvalidPoxFork:
		return "InvalidPoxFork"
	case KindCoordinatorClosed:
		return "CoordinatorClosed"
	default:
		return "Unknown"
	}
}

// Error is the wire type for the kinds above. It wraps an underlying
// cause (often produced with github.com/pkg/errors.Wrap at the point of
// detection) so callers can still inspect the root cause via Unwrap.
type Error struct {
	Kind ErrKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, pox.KindDatabase) to work by kind comparison
// when compared against a bare *Error carrying only a Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Err == nil && t.Kind == e.Kind
}

// Database wraps a storage fault.
func Database(err error) error { return &Error{Kind: KindDatabase, Err: err} }

// ThreadChannel wraps a dropped-peer channel fault.
func ThreadChannel(err error) error { return &Error{Kind: KindThreadChannel, Err: err} }

// MissingParent wraps an anchor block whose parent is unknown.
func MissingParent(err error) error { return &Error{Kind: KindMissingParent, Err: err} }

// InvalidPoxFork wraps a read through an invalidated pox fork.
func InvalidPoxFork(err error) error { return &Error{Kind: KindInvalidPoxFork, Err: err} }

// UnsupportedChain wraps a fatal configuration error.
func UnsupportedChain(err error) error { return &Error{Kind: KindUnsupportedChain, Err: err} }

// ErrCoordinatorClosed is the shutdown sentinel returned by the storer
// stage when the coordinator's notification function returns false.
var ErrCoordinatorClosed = &Error{Kind: KindCoordinatorClosed}

// KindOf extracts the ErrKind from err, if any, and reports whether one
// was found.
func KindOf(err error) (ErrKind, bool) {
	for err != nil {
		if pe, ok := err.(*Error); ok {
			return pe.Kind, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0, false
		}
		err = u.Unwrap()
	}
	return 0, false
}

// TrySyncAgain is the outer-loop retry signal: Database and ThreadChannel
// faults both surface this way per spec §7's propagation policy.
func TrySyncAgain(err error) bool {
	k, ok := KindOf(err)
	return ok && (k == KindDatabase || k == KindThreadChannel)
}

// RejectReason names an op-level rejection. These never propagate as
// errors; they are logged and the op is dropped.
type RejectReason string

const (
	RejectAlreadyConsumedKey RejectReason = "AlreadyConsumedKey"
	RejectNoMatchingCommit   RejectReason = "NoMatchingCommit"
	RejectMalformedPayload   RejectReason = "MalformedPayload"
	RejectUnknownOpcode      RejectReason = "UnknownOpcode"
	RejectPrepareMustBurn    RejectReason = "PrepareMustBurn"
)
