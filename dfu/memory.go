package dfu

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/papernote/flash"
	"github.com/ardnew/papernote/nvm"
	"github.com/ardnew/papernote/pkg"
)

// Protocol constants advertised to the host.
const (
	TransferSize   = 1024
	InitialAddress = 0x0
	MemoryName     = "Flash"
)

// DefaultTiming returns the poll timeouts reported for program, sector
// erase and full erase. The program bound covers a whole transfer of page
// programs.
func DefaultTiming() flash.Timing {
	return flash.Timing{
		PageProgram: 120 * time.Millisecond,
		SectorErase: 400 * time.Millisecond,
		ChipErase:   200 * time.Second,
	}
}

// MemIO is the memory contract a DFU class implementation drives. Program
// writes bytes previously handed to StoreWriteBuffer.
type MemIO interface {
	MemInfo() string
	InitialAddress() uint32
	TransferSize() int
	Timing() flash.Timing
	Read(addr uint32, length int) ([]byte, error)
	Erase(addr uint32) error
	EraseAll() error
	StoreWriteBuffer(src []byte) error
	Program(addr uint32, length int) error
	Manifestation() error
}

// FlashStore is the byte-addressed flash access the flash region is
// forwarded to.
type FlashStore interface {
	Geometry() flash.Geometry
	ReadBytes(addr uint32, buf []byte) error
	EraseSector(addr uint32) error
	Program(addr uint32, data []byte) error
	EraseDevice() error
}

// Memory routes update-protocol operations to flash, the EEPROM window,
// the version record and the control sink.
type Memory struct {
	store   FlashStore
	control *nvm.Control
	version []byte
	timing  flash.Timing

	regions []Region
	lookup  []Region
	info    string

	mutex  sync.Mutex
	rbuf   [TransferSize]byte
	wbuf   [TransferSize]byte
	staged int
}

// Option configures a Memory.
type Option func(*Memory)

// WithVersion sets the record returned from the version region. It
// defaults to pkg.Version().
func WithVersion(v string) Option {
	return func(m *Memory) { m.version = []byte(v) }
}

// WithTiming overrides the poll timeouts reported to the host.
func WithTiming(t flash.Timing) Option {
	return func(m *Memory) { m.timing = t }
}

// New returns the update address space over store and control.
func New(store FlashStore, control *nvm.Control, opts ...Option) (*Memory, error) {
	geo := store.Geometry()
	if geo.Capacity > EEPROMBase {
		return nil, fmt.Errorf("dfu: flash of %d bytes overlaps EEPROM window: %w",
			geo.Capacity, pkg.ErrInvalidParameter)
	}

	m := &Memory{
		store:   store,
		control: control,
		version: []byte(pkg.Version()),
		timing:  DefaultTiming(),
		regions: DefaultRegions(geo.Sectors(), geo.SectorSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	if a, b, ok := overlapping(m.regions); ok {
		return nil, fmt.Errorf("dfu: %v region overlaps %v region: %w", a.Kind, b.Kind, pkg.ErrInvalidParameter)
	}
	m.lookup = byPriority(m.regions)
	m.info = MemInfo(MemoryName, m.regions)

	pkg.LogDebug(pkg.ComponentDFU, "memory map", "info", m.info)
	return m, nil
}

// Regions returns the address map in address order.
func (m *Memory) Regions() []Region { return m.regions }

// MemInfo returns the memory-map descriptor.
func (m *Memory) MemInfo() string { return m.info }

// InitialAddress returns the address pointer after reset.
func (m *Memory) InitialAddress() uint32 { return InitialAddress }

// TransferSize returns the largest read or program length.
func (m *Memory) TransferSize() int { return TransferSize }

// Timing returns the poll timeouts reported to the host.
func (m *Memory) Timing() flash.Timing { return m.timing }

// Region returns the region containing addr.
func (m *Memory) Region(addr uint32) (Region, bool) {
	for _, r := range m.lookup {
		if r.Contains(addr, 1) {
			return r, true
		}
	}
	return Region{}, false
}

func (m *Memory) resolve(op string, addr uint32, length int) (Region, error) {
	if length > TransferSize {
		return Region{}, pkg.Wrap(op, addr, pkg.ErrUnsupportedLength,
			fmt.Errorf("%d bytes exceeds transfer size %d", length, TransferSize))
	}
	r, ok := m.Region(addr)
	if !ok || !r.Contains(addr, length) {
		return Region{}, pkg.Wrap(op, addr, pkg.ErrInvalidAddress, nil)
	}
	return r, nil
}

// Read returns length bytes at addr. The slice is reused by the next call.
func (m *Memory) Read(addr uint32, length int) ([]byte, error) {
	r, err := m.resolve("read", addr, length)
	if err != nil {
		return nil, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	out := m.rbuf[:length]
	off := addr - r.Base
	switch r.Kind {
	case RegionVersion:
		clear(out)
		if off < uint32(len(m.version)) {
			copy(out, m.version[off:])
		}
	case RegionEEPROM:
		if err := m.control.ReadRaw(out, off); err != nil {
			return nil, err
		}
	case RegionControl:
		return nil, pkg.Wrap("read", addr, pkg.ErrNotSupported, nil)
	default:
		if err := m.store.ReadBytes(addr, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Erase erases the flash sector starting at addr. The host issues erases
// across a whole range, so an address that is not a sector boundary is
// accepted and ignored.
func (m *Memory) Erase(addr uint32) error {
	r, err := m.resolve("erase", addr, 0)
	if err != nil {
		return err
	}
	if r.Access&AccessErase == 0 {
		return pkg.Wrap("erase", addr, pkg.ErrInvalidAddress,
			fmt.Errorf("%v region is not erasable", r.Kind))
	}
	if (addr-r.Base)%r.SectorSize != 0 {
		pkg.LogDebug(pkg.ComponentDFU, "ignoring unaligned erase", "addr", addr)
		return nil
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	pkg.LogDebug(pkg.ComponentDFU, "erase", "addr", addr)
	return m.store.EraseSector(addr)
}

// EraseAll erases the whole flash.
func (m *Memory) EraseAll() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	pkg.LogInfo(pkg.ComponentDFU, "mass erase")
	return m.store.EraseDevice()
}

// StoreWriteBuffer stages src for the next Program.
func (m *Memory) StoreWriteBuffer(src []byte) error {
	if len(src) > TransferSize {
		return pkg.Wrap("store", 0, pkg.ErrUnsupportedLength,
			fmt.Errorf("%d bytes exceeds transfer size %d", len(src), TransferSize))
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.staged = copy(m.wbuf[:], src)
	return nil
}

// Program writes the first length staged bytes to addr. A program of the
// control region stores the little-endian word as the display address and
// clears the answer-pending flag.
func (m *Memory) Program(addr uint32, length int) error {
	r, err := m.resolve("program", addr, length)
	if err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if length > m.staged {
		return pkg.Wrap("program", addr, pkg.ErrBufferTooSmall,
			fmt.Errorf("%d bytes staged, %d requested", m.staged, length))
	}
	data := m.wbuf[:length]

	switch r.Kind {
	case RegionControl:
		if addr != r.Base || length < ControlSize {
			return pkg.Wrap("program", addr, pkg.ErrUnsupportedLength,
				fmt.Errorf("control write of %d bytes", length))
		}
		next := binary.LittleEndian.Uint32(data)
		pkg.LogInfo(pkg.ComponentDFU, "display address update", "addr", next)
		if err := m.control.SetDisplayAddress(next); err != nil {
			return err
		}
		return m.control.SetAnswerPending(false)
	case RegionEEPROM, RegionVersion:
		return pkg.Wrap("program", addr, pkg.ErrReadOnly,
			fmt.Errorf("%v region", r.Kind))
	default:
		return m.store.Program(addr, data)
	}
}

// Manifestation completes a download. There is nothing to activate.
func (m *Memory) Manifestation() error {
	pkg.LogInfo(pkg.ComponentDFU, "manifestation")
	return nil
}

// Compile-time interface check
var _ MemIO = (*Memory)(nil)
