package shared

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock is returned when a request exceeds on-hand quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInsufficientAvailableStock is returned when a request exceeds unreserved quantity.
	ErrInsufficientAvailableStock = errors.New("insufficient available stock")
	// ErrInvalidReleaseAmount is returned when a release exceeds what the reference holds.
	ErrInvalidReleaseAmount = errors.New("invalid release amount")
	// ErrInvalidStateTransition is returned for lifecycle moves not allowed from the current status.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrExcessReceipt is returned when receiving would exceed the ordered quantity.
	ErrExcessReceipt = errors.New("receipt exceeds ordered quantity")
	// ErrNothingToReceive is returned when no purchase order line is eligible for receipt.
	ErrNothingToReceive = errors.New("nothing to receive")
	// ErrInvalidTransfer is returned for same-location transfers and disallowed transfer edits.
	ErrInvalidTransfer = errors.New("invalid transfer")
	// ErrConflict signals a lock timeout or concurrent write; safe to retry.
	ErrConflict = errors.New("conflict")
)

// Error kinds exposed to API clients.
const (
	KindValidation                 = "ValidationError"
	KindNotFound                   = "NotFound"
	KindInsufficientStock          = "InsufficientStock"
	KindInsufficientAvailableStock = "InsufficientAvailableStock"
	KindInvalidReleaseAmount       = "InvalidReleaseAmount"
	KindInvalidStateTransition     = "InvalidStateTransition"
	KindExcessReceipt              = "ExcessReceiptError"
	KindNothingToReceive           = "NothingToReceive"
	KindInvalidTransfer            = "InvalidTransferError"
	KindConflict                   = "Conflict"
	KindInternal                   = "Internal"
)

var kindOrder = []struct {
	err  error
	kind string
}{
	{ErrValidation, KindValidation},
	{ErrNotFound, KindNotFound},
	{ErrInsufficientAvailableStock, KindInsufficientAvailableStock},
	{ErrInsufficientStock, KindInsufficientStock},
	{ErrInvalidReleaseAmount, KindInvalidReleaseAmount},
	{ErrInvalidStateTransition, KindInvalidStateTransition},
	{ErrExcessReceipt, KindExcessReceipt},
	{ErrNothingToReceive, KindNothingToReceive},
	{ErrInvalidTransfer, KindInvalidTransfer},
	{ErrConflict, KindConflict},
}

// Kind returns the machine readable kind for err.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range kindOrder {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindInternal
}

// ValidationError carries field level messages. It matches ErrValidation.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// Add records a field message and returns the receiver for chaining.
func (e *ValidationError) Add(field, message string) *ValidationError {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
	return e
}

// Empty reports whether no field messages were recorded.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

// OrNil returns nil when nothing was recorded so callers can return it directly.
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	if e.Empty() {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
