package flash

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"

	"github.com/ardnew/papernote/pkg"
)

// Serial NOR commands shared by the 25-series parts (W25Q, GD25Q, N25Q).
const (
	cmdReleasePowerDown = 0xAB
	cmdPowerDown        = 0xB9
	cmdReadID           = 0x9F
	cmdRead             = 0x03
	cmdWriteEnable      = 0x06
	cmdPageProgram      = 0x02
	cmdSectorErase      = 0x20 // 4KB
	cmdChipErase        = 0xC7
	cmdReadStatus       = 0x05
)

const (
	cmdHeaderSize = 4    // opcode + 24-bit address
	readChunkSize = 1024 // data bytes per read transaction
	maxAddress24  = 1<<24 - 1
)

// Power-on settle time with chip select held inactive. A transient power
// loss during a read can leave the chip mid-command; deasserting select and
// waiting resets its command decoder.
const defaultSettle = 100 * time.Millisecond

// StatusRegister is status register 1 of a 25-series chip.
type StatusRegister byte

// Busy reports an erase or program in progress.
func (sr StatusRegister) Busy() bool { return sr&(1<<0) != 0 }

// WriteEnabled reports the write enable latch.
func (sr StatusRegister) WriteEnabled() bool { return sr&(1<<1) != 0 }

// BlockProtect returns the BP2..BP0 field.
func (sr StatusRegister) BlockProtect() uint8 { return uint8(sr>>2) & 0x07 }

func (sr StatusRegister) String() string {
	b := fmt.Sprintf("%08b", byte(sr))
	var s []string
	if bp := sr.BlockProtect(); bp != 0 {
		s = append(s, fmt.Sprintf("BP=%d", bp))
	}
	if sr.WriteEnabled() {
		s = append(s, "WEL")
	}
	if sr.Busy() {
		s = append(s, "BUSY")
	}
	if len(s) == 0 {
		return b
	}
	return b + " " + strings.Join(s, ",")
}

// Series25 drives a 25-series SPI NOR chip through a periph.io SPI
// connection with a GPIO chip select.
type Series25 struct {
	conn spi.Conn
	cs   gpio.PinOut
	bus  sync.Locker

	geo    Geometry
	timing Timing
	poll   time.Duration
	settle time.Duration

	mutex sync.Mutex
	buf   [cmdHeaderSize + readChunkSize]byte
}

// Option configures a Series25.
type Option func(*Series25)

// WithBusLock shares the SPI bus with other peripherals. The lock is held
// for exactly one chip-select transaction at a time.
func WithBusLock(l sync.Locker) Option {
	return func(s *Series25) { s.bus = l }
}

// WithGeometry overrides the default 16 MiB geometry.
func WithGeometry(g Geometry) Option {
	return func(s *Series25) { s.geo = g }
}

// WithTiming overrides the worst-case latencies used as busy timeouts.
func WithTiming(t Timing) Option {
	return func(s *Series25) { s.timing = t }
}

// WithPollInterval sets the status polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Series25) { s.poll = d }
}

// WithSettle sets how long chip select is held inactive at power-on.
func WithSettle(d time.Duration) Option {
	return func(s *Series25) { s.settle = d }
}

// NewSeries25 returns a driver for the chip on conn selected by cs. The
// chip select is driven inactive and the chip is woken from power-down.
func NewSeries25(conn spi.Conn, cs gpio.PinOut, opts ...Option) (*Series25, error) {
	s := &Series25{
		conn:   conn,
		cs:     cs,
		geo:    DefaultGeometry(),
		timing: DefaultTiming(),
		poll:   100 * time.Microsecond,
		settle: defaultSettle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.geo.Validate(); err != nil {
		return nil, err
	}
	if s.geo.Capacity-1 > maxAddress24 {
		return nil, fmt.Errorf("flash: capacity %d needs 4-byte addressing: %w",
			s.geo.Capacity, pkg.ErrNotSupported)
	}
	if s.geo.PageSize > readChunkSize {
		return nil, fmt.Errorf("flash: page size %d exceeds transaction buffer: %w",
			s.geo.PageSize, pkg.ErrInvalidParameter)
	}

	if err := cs.Out(gpio.High); err != nil {
		return nil, pkg.Wrap("chip select", 0, pkg.ErrHardwareIO, err)
	}
	if s.settle > 0 {
		time.Sleep(s.settle)
	}
	if err := s.Wake(); err != nil {
		return nil, err
	}
	return s, nil
}

// Geometry returns the configured geometry.
func (s *Series25) Geometry() Geometry { return s.geo }

// Timing returns the configured worst-case latencies.
func (s *Series25) Timing() Timing { return s.timing }

func (s *Series25) String() string {
	return "series25(" + s.conn.String() + ")"
}

// tx runs one chip-select framed full-duplex transaction in place.
func (s *Series25) tx(buf []byte) (err error) {
	if s.bus != nil {
		s.bus.Lock()
		defer s.bus.Unlock()
	}
	if err = s.cs.Out(gpio.Low); err != nil {
		return err
	}
	defer func() {
		if csErr := s.cs.Out(gpio.High); csErr != nil && err == nil {
			err = csErr
		}
	}()
	return s.conn.Tx(buf, buf)
}

func (s *Series25) header(cmd byte, addr uint32) []byte {
	s.buf[0] = cmd
	s.buf[1] = byte(addr >> 16)
	s.buf[2] = byte(addr >> 8)
	s.buf[3] = byte(addr)
	return s.buf[:cmdHeaderSize]
}

// Wake releases the chip from deep power-down.
func (s *Series25) Wake() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.buf[0] = cmdReleasePowerDown
	if err := s.tx(s.buf[:1]); err != nil {
		return pkg.Wrap("wake", 0, pkg.ErrHardwareIO, err)
	}
	return nil
}

// Sleep puts the chip into deep power-down.
func (s *Series25) Sleep() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.buf[0] = cmdPowerDown
	if err := s.tx(s.buf[:1]); err != nil {
		return pkg.Wrap("sleep", 0, pkg.ErrHardwareIO, err)
	}
	return nil
}

// ReadID returns the JEDEC identifier.
func (s *Series25) ReadID() (JEDECID, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	b := s.buf[:4]
	b[0], b[1], b[2], b[3] = cmdReadID, 0, 0, 0
	if err := s.tx(b); err != nil {
		return JEDECID{}, pkg.Wrap("read ID", 0, pkg.ErrHardwareIO, err)
	}
	return JEDECID{b[1], b[2], b[3]}, nil
}

// ReadStatus returns status register 1.
func (s *Series25) ReadStatus() (StatusRegister, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.readStatus()
}

func (s *Series25) readStatus() (StatusRegister, error) {
	b := s.buf[:2]
	b[0], b[1] = cmdReadStatus, 0
	if err := s.tx(b); err != nil {
		return 0, err
	}
	return StatusRegister(b[1]), nil
}

// Read reads len(buf) bytes at addr, split into bounded transactions.
func (s *Series25) Read(addr uint32, buf []byte) error {
	if !s.geo.Contains(addr, len(buf)) {
		return pkg.Wrap("read", addr, pkg.ErrInvalidAddress, nil)
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for off := 0; off < len(buf); {
		n := min(len(buf)-off, readChunkSize)
		a := addr + uint32(off)
		s.header(cmdRead, a)
		clear(s.buf[cmdHeaderSize : cmdHeaderSize+n])
		if err := s.tx(s.buf[:cmdHeaderSize+n]); err != nil {
			return pkg.Wrap("read", a, pkg.ErrHardwareIO, err)
		}
		copy(buf[off:off+n], s.buf[cmdHeaderSize:cmdHeaderSize+n])
		off += n
	}
	return nil
}

// Program writes data at addr one page at a time. A page program wraps at
// the page boundary, so writes are split there.
func (s *Series25) Program(addr uint32, data []byte) error {
	if !s.geo.Contains(addr, len(data)) {
		return pkg.Wrap("program", addr, pkg.ErrInvalidAddress, nil)
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for off := 0; off < len(data); {
		a := addr + uint32(off)
		room := int(s.geo.PageSize - a%s.geo.PageSize)
		n := min(len(data)-off, room)
		if err := s.writeEnable(); err != nil {
			return pkg.Wrap("program", a, pkg.ErrHardwareIO, err)
		}
		s.header(cmdPageProgram, a)
		copy(s.buf[cmdHeaderSize:], data[off:off+n])
		if err := s.tx(s.buf[:cmdHeaderSize+n]); err != nil {
			return pkg.Wrap("program", a, pkg.ErrHardwareIO, err)
		}
		if err := s.busyWait(s.timing.PageProgram); err != nil {
			return pkg.Wrap("program", a, pkg.ErrHardwareIO, err)
		}
		off += n
	}
	return nil
}

// EraseSector erases the sector containing addr.
func (s *Series25) EraseSector(addr uint32) error {
	if !s.geo.Contains(addr, 1) {
		return pkg.Wrap("erase sector", addr, pkg.ErrInvalidAddress, nil)
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	base := s.geo.SectorBase(s.geo.SectorOf(addr))
	if err := s.writeEnable(); err != nil {
		return pkg.Wrap("erase sector", base, pkg.ErrEraseFailure, err)
	}
	if err := s.tx(s.header(cmdSectorErase, base)); err != nil {
		return pkg.Wrap("erase sector", base, pkg.ErrEraseFailure, err)
	}
	if err := s.busyWait(s.timing.SectorErase); err != nil {
		return pkg.Wrap("erase sector", base, pkg.ErrEraseFailure, err)
	}
	return nil
}

// EraseChip erases the whole device. It blocks for up to the chip erase
// worst case.
func (s *Series25) EraseChip() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.writeEnable(); err != nil {
		return pkg.Wrap("erase chip", 0, pkg.ErrEraseFailure, err)
	}
	s.buf[0] = cmdChipErase
	if err := s.tx(s.buf[:1]); err != nil {
		return pkg.Wrap("erase chip", 0, pkg.ErrEraseFailure, err)
	}
	if err := s.busyWait(s.timing.ChipErase); err != nil {
		return pkg.Wrap("erase chip", 0, pkg.ErrEraseFailure, err)
	}
	return nil
}

func (s *Series25) writeEnable() error {
	s.buf[0] = cmdWriteEnable
	if err := s.tx(s.buf[:1]); err != nil {
		return err
	}
	sr, err := s.readStatus()
	if err != nil {
		return err
	}
	if !sr.WriteEnabled() {
		return fmt.Errorf("write enable latch not set (status %s): %w", sr, pkg.ErrReadOnly)
	}
	return nil
}

// busyWait polls the status register until the chip is idle or timeout
// elapses.
func (s *Series25) busyWait(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		sr, err := s.readStatus()
		if err != nil {
			return err
		}
		if !sr.Busy() {
			return nil
		}
		if time.Now().After(deadline) {
			return pkg.ErrTimeout
		}
		time.Sleep(s.poll)
	}
}

// Compile-time interface check
var _ Chip = (*Series25)(nil)
