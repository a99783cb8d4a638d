package ledgercache

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure surfaced by this package wraps exactly one of
// these, so callers classify with errors.Is.
var (
	// ErrInvalidArgument is returned for malformed identifiers, malformed
	// options or mutually exclusive option combinations.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStaleRequired is returned on a cache miss when the policy forbids
	// fetching from the ledger.
	ErrStaleRequired = errors.New("cached data required but not present")

	// ErrUnknownTransactionType is returned when no state proof parser is
	// registered for the transaction type of a reply.
	ErrUnknownTransactionType = errors.New("no state proof parser registered for transaction type")

	// ErrStateProofVerificationFailed is returned when a reply's state proof
	// does not verify against the signed ledger root.
	ErrStateProofVerificationFailed = errors.New("state proof verification failed")

	// ErrTransportFailure wraps errors from submitting a request to the pool.
	ErrTransportFailure = errors.New("transport failure")

	// ErrStorageFailure wraps errors from the wallet store.
	ErrStorageFailure = errors.New("storage failure")

	// ErrNotFound is returned when the ledger has no data for the requested id.
	ErrNotFound = errors.New("ledger entity not found")

	// ErrLedgerRejected is returned for REQNACK and REJECT replies.
	ErrLedgerRejected = errors.New("request rejected by ledger")

	// ErrStaleReply is returned when the replying node's latest ordered
	// transaction is older than the configured freshness threshold.
	ErrStaleReply = errors.New("reply from out-of-date node")

	// ErrDispatcherClosed is returned when submitting to a stopped dispatcher.
	ErrDispatcherClosed = errors.New("dispatcher is closed")
)

// invalidArgf builds an ErrInvalidArgument with a formatted reason.
func invalidArgf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// FetchError describes a failed ledger fetch.
type FetchError struct {
	// Kind and ID identify the requested artifact
	Kind Kind
	ID   string

	// TxnType is the reply's transaction type, if the reply got that far
	TxnType string

	// Sentinel is one of the package error kinds
	Sentinel error

	// Cause is the underlying error (may be nil)
	Cause error
}

func (e *FetchError) Error() string {
	prefix := fmt.Sprintf("fetch %s %q", e.Kind, e.ID)
	if e.TxnType != "" {
		prefix += fmt.Sprintf(" (txn type %s)", e.TxnType)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v: %v", prefix, e.Sentinel, e.Cause)
	}
	return fmt.Sprintf("%s: %v", prefix, e.Sentinel)
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *FetchError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// StorageError describes a failed wallet store operation.
type StorageError struct {
	Op     string
	Wallet WalletHandle
	Key    string
	Cause  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s wallet=%d key=%q: %v", e.Op, e.Wallet, e.Key, e.Cause)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorageFailure, e.Cause}
}

// CommandPanicError represents a panic recovered while executing a command.
type CommandPanicError struct {
	Handle     CommandHandle
	Command    string
	PanicValue any
	Stack      []byte
}

func (e *CommandPanicError) Error() string {
	return fmt.Sprintf("panic in command %s (handle %d): %v", e.Command, e.Handle, e.PanicValue)
}

// ErrorReason returns a short, stable label for the error kind wrapped by err.
func ErrorReason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrStaleRequired):
		return "stale_required"
	case errors.Is(err, ErrUnknownTransactionType):
		return "unknown_txn_type"
	case errors.Is(err, ErrStateProofVerificationFailed):
		return "proof_failed"
	case errors.Is(err, ErrTransportFailure):
		return "transport"
	case errors.Is(err, ErrStorageFailure):
		return "storage"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrLedgerRejected):
		return "rejected"
	case errors.Is(err, ErrStaleReply):
		return "stale_reply"
	case errors.Is(err, ErrDispatcherClosed):
		return "closed"
	default:
		return "other"
	}
}
