package msc

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/ardnew/papernote/pkg"
)

// Transport is the pair of bulk endpoints carrying Bulk-Only Transport.
// Read returns the next packet from the host's OUT endpoint and Write
// sends p on the IN endpoint.
type Transport interface {
	Read(ctx context.Context, p []byte) (int, error)
	Write(ctx context.Context, p []byte) (int, error)
}

// MSC is a Bulk-Only Transport SCSI command processor serving one
// BlockDevice as LUN 0.
type MSC struct {
	dev       BlockDevice
	transport Transport
	xfer      *Transfer
	inquiry   InquiryResponse

	maxChunk  int
	revision  string
	removable bool

	cbw     CommandBlockWrapper
	cbwBuf  [CBWSize]byte
	cswBuf  [CSWSize]byte
	dataBuf []byte

	mutex   sync.Mutex
	sense   Sense
	ejected bool
}

// Option configures an MSC.
type Option func(*MSC)

// WithMaxChunk sets the bulk payload moved per callback.
func WithMaxChunk(n int) Option {
	return func(m *MSC) { m.maxChunk = n }
}

// WithRevision sets the INQUIRY product revision.
func WithRevision(rev string) Option {
	return func(m *MSC) { m.revision = rev }
}

// WithRemovable sets the INQUIRY removable media bit.
func WithRemovable(removable bool) Option {
	return func(m *MSC) { m.removable = removable }
}

// New returns a processor for dev over t. vendor and product are 8 and 16
// character INQUIRY strings.
func New(dev BlockDevice, t Transport, vendor, product string, opts ...Option) *MSC {
	m := &MSC{
		dev:       dev,
		transport: t,
		maxChunk:  DefaultMaxChunk,
		revision:  "1.0",
		removable: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.maxChunk < DefaultMaxChunk {
		m.maxChunk = DefaultMaxChunk
	}
	m.xfer = NewTransfer(dev, m.maxChunk)
	m.dataBuf = make([]byte, m.maxChunk)
	m.inquiry = NewInquiryResponse(m.removable, vendor, product, m.revision)
	m.sense = SenseOK
	return m
}

// Transfer returns the chunked transfer state machine.
func (m *MSC) Transfer() *Transfer { return m.xfer }

// MaxLUN answers the Get Max LUN class request.
func (m *MSC) MaxLUN() uint8 { return 0 }

// Reset discards the transfer in progress and clears sense data. It serves
// the Bulk-Only Mass Storage Reset request, a host USB reset and a
// configuration change.
func (m *MSC) Reset() {
	m.xfer.Reset()
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sense = SenseOK
	m.ejected = false
	pkg.LogDebug(pkg.ComponentMSC, "reset")
}

func (m *MSC) setSense(s Sense) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sense = s
}

func (m *MSC) currentSense() Sense {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.sense
}

func (m *MSC) isEjected() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.ejected
}

// Run processes commands until ctx is done or the transport closes.
func (m *MSC) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := m.ProcessCommand(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return err
			}
			pkg.LogWarn(pkg.ComponentMSC, "command processing error",
				"error", err)
		}
	}
}

// ProcessCommand reads one CBW, executes it and sends the CSW.
func (m *MSC) ProcessCommand(ctx context.Context) error {
	n, err := m.transport.Read(ctx, m.cbwBuf[:])
	if err != nil {
		return err
	}
	if err := ParseCBW(m.cbwBuf[:n], &m.cbw); err != nil {
		pkg.LogWarn(pkg.ComponentMSC, "invalid CBW", "error", err)
		return err
	}

	pkg.LogDebug(pkg.ComponentMSC, "CBW received",
		"tag", m.cbw.Tag,
		"dataLen", m.cbw.DataTransferLength,
		"flags", m.cbw.Flags,
		"opcode", m.cbw.Opcode())

	status, residue := m.handleCommand(ctx, &m.cbw)
	return m.sendCSW(ctx, m.cbw.Tag, status, residue)
}

func (m *MSC) sendCSW(ctx context.Context, tag uint32, status uint8, residue uint32) error {
	csw := CommandStatusWrapper{Tag: tag, DataResidue: residue, Status: status}
	n := csw.MarshalTo(m.cswBuf[:])
	if _, err := m.transport.Write(ctx, m.cswBuf[:n]); err != nil {
		return err
	}
	pkg.LogDebug(pkg.ComponentMSC, "CSW sent",
		"tag", tag,
		"residue", residue,
		"status", status)
	return nil
}

// parseU16BE parses a big-endian uint16 from data at offset.
func parseU16BE(data []byte, offset int) uint16 {
	if offset+2 > len(data) {
		return 0
	}
	return binary.BigEndian.Uint16(data[offset:])
}

// parseU32BE parses a big-endian uint32 from data at offset.
func parseU32BE(data []byte, offset int) uint32 {
	if offset+4 > len(data) {
		return 0
	}
	return binary.BigEndian.Uint32(data[offset:])
}

func residue(expected, actual uint32) uint32 {
	if actual >= expected {
		return 0
	}
	return expected - actual
}
