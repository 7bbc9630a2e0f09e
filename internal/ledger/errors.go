package ledger

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrWalletUnavailable means no signing key is available for the
	// requested address, so no state-changing call can be made.
	ErrWalletUnavailable = errors.New("no wallet available for signing")

	// ErrUserRejected means the confirmation hook declined the
	// transaction before it was signed.
	ErrUserRejected = errors.New("transaction rejected by user")

	// ErrNetworkUnreachable means the node endpoint could not be reached.
	ErrNetworkUnreachable = errors.New("ledger node unreachable")

	// ErrNotApproved means the contract rejected the caller because an
	// admin has not allow-listed the wallet yet. Callers surface this as
	// "seek admin approval", never as a retryable failure.
	ErrNotApproved = errors.New("wallet not approved by an admin")

	// ErrNoopToggle means the contract rejected a redundant consent
	// toggle (granting an already-granted edge, revoking an absent one).
	// Warning grade: ledger state is already what the caller wanted.
	ErrNoopToggle = errors.New("consent already in requested state")
)

// RevertError is a transaction the ledger rejected, carrying the revert
// reason the contract supplied. It unwraps to ErrNotApproved or
// ErrNoopToggle when the reason matches a known case.
type RevertError struct {
	Reason string
	kind   error
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "transaction reverted"
	}
	return fmt.Sprintf("transaction reverted: %s", e.Reason)
}

func (e *RevertError) Unwrap() error { return e.kind }

// NewRevertError classifies a revert reason against the known contract
// messages.
func NewRevertError(reason string) *RevertError {
	e := &RevertError{Reason: reason}
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "not yet approved"),
		strings.Contains(lower, "not approved"),
		strings.Contains(lower, "not an approved"):
		e.kind = ErrNotApproved
	case strings.Contains(lower, "already granted"),
		strings.Contains(lower, "no consent"),
		strings.Contains(lower, "not granted"),
		strings.Contains(lower, "already revoked"):
		e.kind = ErrNoopToggle
	}
	return e
}

// revertReason digs the human-readable reason out of a node error string.
// Nodes phrase this differently ("execution reverted: x", "VM Exception
// while processing transaction: revert x"), so match on the marker word.
func revertReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	msg := err.Error()
	idx := strings.Index(strings.ToLower(msg), "revert")
	if idx < 0 {
		return "", false
	}
	reason := msg[idx+len("revert"):]
	reason = strings.TrimLeft(reason, "ed") // "reverted"
	reason = strings.TrimLeft(reason, ": ")
	return strings.TrimSpace(reason), true
}

// MapNodeError translates a raw node error into the gateway taxonomy:
// revert reasons become *RevertError (classified against known contract
// messages), transport failures become ErrNetworkUnreachable, anything
// else passes through.
func MapNodeError(err error) error {
	if err == nil {
		return nil
	}
	if reason, ok := revertReason(err); ok {
		return NewRevertError(reason)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "dial tcp") {
		return fmt.Errorf("%w: %v", ErrNetworkUnreachable, err)
	}
	return err
}
