package dfu

import (
	"errors"

	"github.com/ardnew/papernote/pkg"
)

// Status is a DFU bStatus code reported to the host in GETSTATUS.
type Status uint8

// DFU status codes.
const (
	StatusOK            Status = 0x00
	StatusErrTarget     Status = 0x01
	StatusErrFile       Status = 0x02
	StatusErrWrite      Status = 0x03
	StatusErrErase      Status = 0x04
	StatusErrCheckErase Status = 0x05
	StatusErrProg       Status = 0x06
	StatusErrVerify     Status = 0x07
	StatusErrAddress    Status = 0x08
	StatusErrNotDone    Status = 0x09
	StatusErrFirmware   Status = 0x0A
	StatusErrVendor     Status = 0x0B
	StatusErrUSBReset   Status = 0x0C
	StatusErrPOR        Status = 0x0D
	StatusErrUnknown    Status = 0x0E
	StatusErrStalledPkt Status = 0x0F
)

var statusStr = [...]string{
	0:  "no error",
	1:  "file is not for this target",
	2:  "file fails a vendor-specific verification test",
	3:  "unable to write memory",
	4:  "memory erase function failed",
	5:  "memory erase check failed",
	6:  "program memory function failed",
	7:  "programmed memory failed verification",
	8:  "memory address is out of range",
	9:  "premature DFU_DNLOAD with wLength = 0",
	10: "firmware is corrupt",
	11: "vendor-specific error",
	12: "unexpected USB reset signaling",
	13: "unexpected power on reset",
	14: "unknown error",
	15: "stalled an unexpected request",
}

func (s Status) String() string {
	if int(s) < len(statusStr) {
		return statusStr[s]
	}
	return "invalid status"
}

// StatusOf maps an error returned by a memory operation to the status
// reported to the host.
func StatusOf(err error) Status {
	switch pkg.KindOf(err) {
	case pkg.KindNone:
		return StatusOK
	case pkg.KindInvalidAddress:
		return StatusErrAddress
	case pkg.KindUnsupportedLength:
		return StatusErrProg
	case pkg.KindVerificationMismatch:
		return StatusErrVerify
	case pkg.KindEraseFailure:
		return StatusErrErase
	case pkg.KindHardwareIO:
		return StatusErrWrite
	}
	switch {
	case errors.Is(err, pkg.ErrReadOnly):
		return StatusErrWrite
	case errors.Is(err, pkg.ErrBufferTooSmall):
		return StatusErrProg
	case errors.Is(err, pkg.ErrNotSupported):
		return StatusErrStalledPkt
	default:
		return StatusErrUnknown
	}
}
