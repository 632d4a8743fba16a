package pkg

import (
	"errors"
	"fmt"
)

// Storage errors.
var (
	// ErrHardwareIO indicates a flash or EEPROM transaction failed at the
	// bus level.
	ErrHardwareIO = errors.New("hardware I/O error")

	// ErrEraseFailure indicates the chip rejected or failed an erase.
	ErrEraseFailure = errors.New("erase failure")

	// ErrVerificationMismatch indicates post-write read-back differs from
	// the intended content.
	ErrVerificationMismatch = errors.New("verification mismatch")

	// ErrInvalidAddress indicates an address outside every defined region
	// or an offset beyond the end of a backing store.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrUnsupportedLength indicates a request exceeding the maximum
	// transfer size.
	ErrUnsupportedLength = errors.New("unsupported length")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrReadOnly indicates a write to a read-only region.
	ErrReadOnly = errors.New("read only")

	// ErrNotSupported indicates an unsupported operation.
	ErrNotSupported = errors.New("not supported")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrDeviceID indicates the flash chip did not report the expected
	// JEDEC identifier.
	ErrDeviceID = errors.New("unexpected device identifier")

	// ErrTimeout indicates the chip stayed busy past its worst-case time.
	ErrTimeout = errors.New("operation timeout")

	// ErrBusy indicates the resource is busy.
	ErrBusy = errors.New("resource busy")

	// ErrAborted indicates an in-flight operation was discarded by a reset.
	ErrAborted = errors.New("operation aborted")
)

// Kind classifies an error for protocol-level reporting.
type Kind int

// Error kinds.
const (
	KindNone                 Kind = iota // No error
	KindHardwareIO                       // Bus-level transaction failure
	KindEraseFailure                     // Erase failed
	KindVerificationMismatch             // Read-back differs
	KindInvalidAddress                   // Address out of range
	KindUnsupportedLength                // Request too long
	KindOther                            // Anything else
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindHardwareIO:
		return "hardware-io"
	case KindEraseFailure:
		return "erase-failure"
	case KindVerificationMismatch:
		return "verification-mismatch"
	case KindInvalidAddress:
		return "invalid-address"
	case KindUnsupportedLength:
		return "unsupported-length"
	default:
		return "other"
	}
}

// Error returns the sentinel error for the kind, or nil for KindNone.
func (k Kind) Error() error {
	switch k {
	case KindNone:
		return nil
	case KindHardwareIO:
		return ErrHardwareIO
	case KindEraseFailure:
		return ErrEraseFailure
	case KindVerificationMismatch:
		return ErrVerificationMismatch
	case KindInvalidAddress:
		return ErrInvalidAddress
	case KindUnsupportedLength:
		return ErrUnsupportedLength
	default:
		return ErrNotSupported
	}
}

// KindOf classifies err by the outermost storage failure it carries:
// verification, then erase, then hardware I/O, then request validation.
// A chip-level range or length error wrapped as hardware I/O by a caller
// that had already validated the request is a medium fault, not a bad
// request.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrVerificationMismatch):
		return KindVerificationMismatch
	case errors.Is(err, ErrEraseFailure):
		return KindEraseFailure
	case errors.Is(err, ErrHardwareIO):
		return KindHardwareIO
	case errors.Is(err, ErrInvalidAddress):
		return KindInvalidAddress
	case errors.Is(err, ErrUnsupportedLength):
		return KindUnsupportedLength
	default:
		return KindOther
	}
}

// Error records a failed storage operation, the address it targeted, the
// sentinel classifying it and the underlying cause.
type Error struct {
	Op   string
	Addr uint32
	Kind error
	Err  error
}

// Wrap returns an *Error for op at addr. It returns nil if both kind and
// err are nil.
func Wrap(op string, addr uint32, kind, err error) error {
	if kind == nil && err == nil {
		return nil
	}
	return &Error{Op: op, Addr: addr, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s 0x%06x", e.Op, e.Addr)
	if e.Kind != nil {
		s += ": " + e.Kind.Error()
	}
	if e.Err != nil && e.Err != e.Kind {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
