package msc

import (
	"context"
	"fmt"

	"github.com/ardnew/papernote/pkg"
)

// handleCommand executes the SCSI command in cbw.
// Returns command status and data residue.
func (m *MSC) handleCommand(ctx context.Context, cbw *CommandBlockWrapper) (status uint8, residue uint32) {
	if cbw.LUN != 0 {
		m.setSense(SenseInvalidField)
		return CSWStatusFailed, cbw.DataTransferLength
	}

	switch cbw.Opcode() {
	case SCSITestUnitReady:
		return m.handleTestUnitReady()
	case SCSIRequestSense:
		return m.handleRequestSense(ctx, cbw)
	case SCSIInquiry:
		return m.handleInquiry(ctx, cbw)
	case SCSIReadCapacity10:
		return m.handleReadCapacity10(ctx, cbw)
	case SCSIReadFormatCapacities:
		return m.handleReadFormatCapacities(ctx, cbw)
	case SCSIModeSense6:
		return m.handleModeSense6(ctx, cbw)
	case SCSIRead10:
		return m.handleRead10(ctx, cbw)
	case SCSIWrite10:
		return m.handleWrite10(ctx, cbw)
	case SCSIVerify10:
		return m.handleVerify10(cbw)
	case SCSISynchronizeCache10, SCSIPreventAllowRemoval:
		m.setSense(SenseOK)
		return CSWStatusGood, 0
	case SCSIStartStopUnit:
		return m.handleStartStopUnit(cbw)
	default:
		pkg.LogWarn(pkg.ComponentMSC, "unsupported SCSI command",
			"opcode", cbw.Opcode())
		m.setSense(SenseInvalidCommand)
		return CSWStatusFailed, cbw.DataTransferLength
	}
}

func (m *MSC) notReady(cbw *CommandBlockWrapper) (uint8, uint32, bool) {
	if !m.isEjected() {
		return 0, 0, false
	}
	m.setSense(SenseNotPresent)
	return CSWStatusFailed, cbw.DataTransferLength, true
}

func (m *MSC) handleTestUnitReady() (uint8, uint32) {
	if m.isEjected() {
		m.setSense(SenseNotPresent)
		return CSWStatusFailed, 0
	}
	m.setSense(SenseOK)
	return CSWStatusGood, 0
}

// handleRequestSense reports and then clears the current sense data.
func (m *MSC) handleRequestSense(ctx context.Context, cbw *CommandBlockWrapper) (uint8, uint32) {
	alloc := int(cbw.CB[4])
	if alloc == 0 {
		alloc = SenseDataSize
	}
	n := m.currentSense().MarshalTo(m.dataBuf)
	return m.respond(ctx, cbw, m.dataBuf[:min(n, alloc)], true)
}

func (m *MSC) handleInquiry(ctx context.Context, cbw *CommandBlockWrapper) (uint8, uint32) {
	alloc := int(parseU16BE(cbw.CB[:], 3))
	if alloc == 0 {
		return CSWStatusGood, cbw.DataTransferLength
	}
	n := m.inquiry.MarshalTo(m.dataBuf)
	return m.respond(ctx, cbw, m.dataBuf[:min(n, alloc)], false)
}

func (m *MSC) handleReadCapacity10(ctx context.Context, cbw *CommandBlockWrapper) (uint8, uint32) {
	if status, res, ok := m.notReady(cbw); ok {
		return status, res
	}
	resp := ReadCapacity10Response{
		LastLBA:     m.dev.MaxLBA(),
		BlockLength: m.dev.BlockSize(),
	}
	n := resp.MarshalTo(m.dataBuf)
	return m.respond(ctx, cbw, m.dataBuf[:n], false)
}

func (m *MSC) handleReadFormatCapacities(ctx context.Context, cbw *CommandBlockWrapper) (uint8, uint32) {
	if status, res, ok := m.notReady(cbw); ok {
		return status, res
	}
	alloc := int(parseU16BE(cbw.CB[:], 7))
	if alloc == 0 {
		return CSWStatusGood, cbw.DataTransferLength
	}
	n := formatCapacities(m.dataBuf, m.dev.MaxLBA()+1, m.dev.BlockSize())
	return m.respond(ctx, cbw, m.dataBuf[:min(n, alloc)], false)
}

func (m *MSC) handleModeSense6(ctx context.Context, cbw *CommandBlockWrapper) (uint8, uint32) {
	alloc := int(cbw.CB[4])
	if alloc == 0 {
		return CSWStatusGood, cbw.DataTransferLength
	}
	n := modeSense6Header(m.dataBuf)
	return m.respond(ctx, cbw, m.dataBuf[:min(n, alloc)], false)
}

// respond sends a short parameter data response.
func (m *MSC) respond(ctx context.Context, cbw *CommandBlockWrapper, data []byte, clearSense bool) (uint8, uint32) {
	if _, err := m.transport.Write(ctx, data); err != nil {
		pkg.LogWarn(pkg.ComponentMSC, "data phase failed", "error", err)
		m.setSense(SenseInternalFailure)
		return CSWStatusFailed, cbw.DataTransferLength
	}
	if clearSense {
		m.setSense(SenseOK)
	}
	return CSWStatusGood, residue(cbw.DataTransferLength, uint32(len(data)))
}

// beginTransfer validates a READ(10) or WRITE(10) and starts the transfer.
func (m *MSC) beginTransfer(cbw *CommandBlockWrapper, dir Direction) (total uint32, status uint8, ok bool) {
	if status, _, ejected := m.notReady(cbw); ejected {
		return 0, status, false
	}
	lba := parseU32BE(cbw.CB[:], 2)
	blocks := uint32(parseU16BE(cbw.CB[:], 7))
	if blocks == 0 {
		return 0, CSWStatusGood, false
	}

	total = blocks * m.dev.BlockSize()
	if total > cbw.DataTransferLength || cbw.IsDataIn() != (dir == DirectionIn) {
		pkg.LogWarn(pkg.ComponentMSC, "transfer disagrees with CBW",
			"opcode", cbw.Opcode(),
			"bytes", total,
			"dataLen", cbw.DataTransferLength)
		return 0, CSWStatusPhaseError, false
	}

	if err := m.xfer.Begin(dir, lba, blocks); err != nil {
		m.setSense(SenseOf(err, dir))
		return 0, CSWStatusFailed, false
	}
	return total, 0, true
}

func (m *MSC) handleRead10(ctx context.Context, cbw *CommandBlockWrapper) (uint8, uint32) {
	_, status, ok := m.beginTransfer(cbw, DirectionIn)
	if !ok {
		return status, cbw.DataTransferLength
	}

	var sent uint32
	for {
		n, done, err := m.xfer.Step(m.dataBuf)
		if err != nil {
			m.setSense(SenseOf(err, DirectionIn))
			return CSWStatusFailed, residue(cbw.DataTransferLength, sent)
		}
		if n > 0 {
			if _, err := m.transport.Write(ctx, m.dataBuf[:n]); err != nil {
				m.xfer.Reset()
				m.setSense(SenseAborted)
				return CSWStatusFailed, residue(cbw.DataTransferLength, sent)
			}
			sent += uint32(n)
		}
		if done {
			break
		}
	}
	m.setSense(SenseOK)
	return CSWStatusGood, residue(cbw.DataTransferLength, sent)
}

func (m *MSC) handleWrite10(ctx context.Context, cbw *CommandBlockWrapper) (uint8, uint32) {
	total, status, ok := m.beginTransfer(cbw, DirectionOut)
	if !ok {
		return status, cbw.DataTransferLength
	}

	var (
		received uint32
		failure  error
	)
	for received < total {
		k := min(len(m.dataBuf), int(total-received))
		r, err := m.transport.Read(ctx, m.dataBuf[:k])
		if err == nil && r == 0 {
			err = fmt.Errorf("msc: host sent no data: %w", pkg.ErrAborted)
		}
		if err != nil {
			m.xfer.Reset()
			m.setSense(SenseAborted)
			return CSWStatusFailed, residue(cbw.DataTransferLength, received)
		}
		received += uint32(r)

		// After a device error the rest of the data phase is drained so
		// the host reaches the status phase.
		for off := 0; failure == nil && off < r; {
			n, _, err := m.xfer.Step(m.dataBuf[off:r])
			if err != nil {
				failure = err
				break
			}
			off += n
		}
	}

	if failure != nil {
		m.setSense(SenseOf(failure, DirectionOut))
		return CSWStatusFailed, residue(cbw.DataTransferLength, received)
	}
	m.setSense(SenseOK)
	return CSWStatusGood, residue(cbw.DataTransferLength, received)
}

// handleVerify10 checks that every block in the range reads back. Byte
// comparison against host data (BYTCHK) is not supported.
func (m *MSC) handleVerify10(cbw *CommandBlockWrapper) (uint8, uint32) {
	if status, res, ok := m.notReady(cbw); ok {
		return status, res
	}
	if cbw.CB[1]&0x02 != 0 {
		m.setSense(SenseInvalidField)
		return CSWStatusFailed, cbw.DataTransferLength
	}

	lba := parseU32BE(cbw.CB[:], 2)
	blocks := uint32(parseU16BE(cbw.CB[:], 7))
	if uint64(lba)+uint64(blocks) > uint64(m.dev.MaxLBA())+1 {
		m.setSense(SenseLBAOutOfRange)
		return CSWStatusFailed, 0
	}

	buf := make([]byte, m.dev.BlockSize())
	for i := uint32(0); i < blocks; i++ {
		if err := m.dev.ReadBlock(lba+i, buf); err != nil {
			m.setSense(SenseOf(err, DirectionIn))
			return CSWStatusFailed, 0
		}
	}
	m.setSense(SenseOK)
	return CSWStatusGood, 0
}

// handleStartStopUnit treats an eject as removing the medium until the
// next start or reset.
func (m *MSC) handleStartStopUnit(cbw *CommandBlockWrapper) (uint8, uint32) {
	start := cbw.CB[4]&0x01 != 0
	loej := cbw.CB[4]&0x02 != 0

	pkg.LogDebug(pkg.ComponentMSC, "START/STOP UNIT",
		"start", start,
		"loej", loej)

	if loej {
		m.mutex.Lock()
		m.ejected = !start
		m.mutex.Unlock()
	}
	m.setSense(SenseOK)
	return CSWStatusGood, 0
}
