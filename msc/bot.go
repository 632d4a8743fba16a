package msc

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/papernote/pkg"
)

// CommandBlockWrapper is the command phase packet of Bulk-Only Transport.
type CommandBlockWrapper struct {
	Tag                uint32   // Echoed in the CSW
	DataTransferLength uint32   // Bytes the host expects in the data phase
	Flags              uint8    // Bit 7: 0 = out, 1 = in
	LUN                uint8    // Bits 0-3
	CBLength           uint8    // Valid bytes in CB (1-16)
	CB                 [16]byte // SCSI command descriptor block
}

// ParseCBW decodes a CBW. It rejects packets of the wrong size, with a
// bad signature or with an out-of-range command length, which BOT treats
// as invalid rather than meaningful.
func ParseCBW(data []byte, out *CommandBlockWrapper) error {
	if len(data) != CBWSize {
		return fmt.Errorf("msc: CBW is %d bytes, want %d: %w", len(data), CBWSize, pkg.ErrInvalidParameter)
	}
	if sig := binary.LittleEndian.Uint32(data[0:4]); sig != CBWSignature {
		return fmt.Errorf("msc: CBW signature 0x%08x: %w", sig, pkg.ErrInvalidParameter)
	}
	cbLen := data[14] & 0x1F
	if cbLen == 0 || cbLen > 16 {
		return fmt.Errorf("msc: CBW command length %d: %w", cbLen, pkg.ErrInvalidParameter)
	}

	out.Tag = binary.LittleEndian.Uint32(data[4:8])
	out.DataTransferLength = binary.LittleEndian.Uint32(data[8:12])
	out.Flags = data[12]
	out.LUN = data[13] & 0x0F
	out.CBLength = cbLen
	copy(out.CB[:], data[15:31])
	return nil
}

// MarshalTo encodes the CBW into buf as a host would send it.
// Returns the number of bytes written, or 0 if buf is too small.
func (cbw *CommandBlockWrapper) MarshalTo(buf []byte) int {
	if len(buf) < CBWSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], CBWSignature)
	binary.LittleEndian.PutUint32(buf[4:8], cbw.Tag)
	binary.LittleEndian.PutUint32(buf[8:12], cbw.DataTransferLength)
	buf[12] = cbw.Flags
	buf[13] = cbw.LUN & 0x0F
	buf[14] = cbw.CBLength & 0x1F
	copy(buf[15:31], cbw.CB[:])
	return CBWSize
}

// IsDataIn returns true if the data phase is device-to-host.
func (cbw *CommandBlockWrapper) IsDataIn() bool {
	return cbw.Flags&CBWFlagDataIn != 0
}

// Opcode returns the SCSI operation code.
func (cbw *CommandBlockWrapper) Opcode() uint8 { return cbw.CB[0] }

// CommandStatusWrapper is the status phase packet of Bulk-Only Transport.
type CommandStatusWrapper struct {
	Tag         uint32 // Tag of the CBW being answered
	DataResidue uint32 // Expected minus actual data phase bytes
	Status      uint8  // CSWStatus*
}

// MarshalTo encodes the CSW into buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (csw *CommandStatusWrapper) MarshalTo(buf []byte) int {
	if len(buf) < CSWSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], CSWSignature)
	binary.LittleEndian.PutUint32(buf[4:8], csw.Tag)
	binary.LittleEndian.PutUint32(buf[8:12], csw.DataResidue)
	buf[12] = csw.Status
	return CSWSize
}

// ParseCSW decodes a CSW as a host would receive it.
func ParseCSW(data []byte, out *CommandStatusWrapper) error {
	if len(data) != CSWSize {
		return fmt.Errorf("msc: CSW is %d bytes, want %d: %w", len(data), CSWSize, pkg.ErrInvalidParameter)
	}
	if sig := binary.LittleEndian.Uint32(data[0:4]); sig != CSWSignature {
		return fmt.Errorf("msc: CSW signature 0x%08x: %w", sig, pkg.ErrInvalidParameter)
	}
	out.Tag = binary.LittleEndian.Uint32(data[4:8])
	out.DataResidue = binary.LittleEndian.Uint32(data[8:12])
	out.Status = data[12]
	return nil
}
