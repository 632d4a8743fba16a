package msc

import (
	"errors"

	"github.com/ardnew/papernote/pkg"
)

// Sense values reported by the processor.
var (
	SenseOK              = Sense{Key: SenseNoSense, ASC: ASCNoAdditionalInfo}
	SenseLBAOutOfRange   = Sense{Key: SenseIllegalRequest, ASC: ASCLBAOutOfRange}
	SenseInvalidField    = Sense{Key: SenseIllegalRequest, ASC: ASCInvalidFieldInCDB}
	SenseInvalidCommand  = Sense{Key: SenseIllegalRequest, ASC: ASCInvalidCommand}
	SenseMiscompare      = Sense{Key: SenseMediumError, ASC: ASCMiscompareDuringVerify}
	SenseEraseFailure    = Sense{Key: SenseMediumError, ASC: ASCEraseFailure}
	SenseReadError       = Sense{Key: SenseMediumError, ASC: ASCUnrecoveredReadError}
	SenseWriteError      = Sense{Key: SenseMediumError, ASC: ASCWriteError}
	SenseAborted         = Sense{Key: SenseAbortedCommand, ASC: ASCNoAdditionalInfo}
	SenseNotPresent      = Sense{Key: SenseNotReady, ASC: ASCMediumNotPresent}
	SenseInternalFailure = Sense{Key: SenseHardwareError, ASC: ASCInternalTargetFailure}
)

// SenseOf maps a block device error to the sense data reported for a
// command moving data in dir. A nil error maps to SenseOK.
func SenseOf(err error, dir Direction) Sense {
	switch pkg.KindOf(err) {
	case pkg.KindNone:
		return SenseOK
	case pkg.KindInvalidAddress:
		return SenseLBAOutOfRange
	case pkg.KindUnsupportedLength:
		return SenseInvalidField
	case pkg.KindVerificationMismatch:
		return SenseMiscompare
	case pkg.KindEraseFailure:
		return SenseEraseFailure
	case pkg.KindHardwareIO:
		if dir == DirectionOut {
			return SenseWriteError
		}
		return SenseReadError
	}
	switch {
	case errors.Is(err, pkg.ErrAborted):
		return SenseAborted
	case errors.Is(err, pkg.ErrBufferTooSmall), errors.Is(err, pkg.ErrInvalidParameter):
		return SenseInvalidField
	default:
		return SenseInternalFailure
	}
}
