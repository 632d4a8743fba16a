package pkg

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindNone, "none"},
		{KindHardwareIO, "hardware-io"},
		{KindEraseFailure, "erase-failure"},
		{KindVerificationMismatch, "verification-mismatch"},
		{KindInvalidAddress, "invalid-address"},
		{KindUnsupportedLength, "unsupported-length"},
		{Kind(99), "other"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.want {
				t.Errorf("Kind.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	cause := errors.New("spi: tx failed")
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"sentinel", ErrEraseFailure, KindEraseFailure},
		{"wrapped", Wrap("program", 0x1000, ErrHardwareIO, cause), KindHardwareIO},
		{"fmt wrapped", fmt.Errorf("read block: %w", ErrInvalidAddress), KindInvalidAddress},
		{"length", Wrap("program", 0, ErrUnsupportedLength, nil), KindUnsupportedLength},
		{"verify wins", Wrap("verify", 0, ErrVerificationMismatch, ErrHardwareIO), KindVerificationMismatch},
		{"chip range as I/O", Wrap("read block", 0x1000, ErrHardwareIO, Wrap("read", 0x1000, ErrInvalidAddress, nil)), KindHardwareIO},
		{"chip length as I/O", Wrap("program", 0, ErrHardwareIO, ErrUnsupportedLength), KindHardwareIO},
		{"other", cause, KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
			if tt.want != KindNone && tt.want != KindOther && !errors.Is(tt.err, tt.want.Error()) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.want.Error())
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if err := Wrap("read", 0, nil, nil); err != nil {
		t.Errorf("Wrap(nil, nil) = %v, want nil", err)
	}

	cause := errors.New("bus fault")
	err := Wrap("erase sector", 0x2000, ErrEraseFailure, cause)
	if !errors.Is(err, ErrEraseFailure) {
		t.Error("wrapped error does not match kind")
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped error does not match cause")
	}

	var e *Error
	if !errors.As(err, &e) {
		t.Fatal("errors.As failed")
	}
	if e.Addr != 0x2000 || e.Op != "erase sector" {
		t.Errorf("Error = {%q, %#x}, want {\"erase sector\", 0x2000}", e.Op, e.Addr)
	}

	msg := err.Error()
	for _, want := range []string{"erase sector", "0x002000", "erase failure", "bus fault"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestSentinelErrors(t *testing.T) {
	errs := []error{
		ErrHardwareIO,
		ErrEraseFailure,
		ErrVerificationMismatch,
		ErrInvalidAddress,
		ErrUnsupportedLength,
		ErrBufferTooSmall,
		ErrReadOnly,
		ErrNotSupported,
		ErrInvalidParameter,
		ErrDeviceID,
		ErrTimeout,
		ErrBusy,
		ErrAborted,
	}

	for i, err1 := range errs {
		if err1 == nil {
			t.Errorf("error %d is nil", i)
			continue
		}
		for j, err2 := range errs {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("error %d and %d are equal", i, j)
			}
		}
	}
}

func TestVersion(t *testing.T) {
	original := BuildID
	defer func() { BuildID = original }()

	BuildID = "deadbeef"
	if got := Version(); got != "deadbeef" {
		t.Errorf("Version() = %q, want %q", got, "deadbeef")
	}

	BuildID = ""
	if got := Version(); got == "" {
		t.Error("Version() returned empty string")
	}
}
