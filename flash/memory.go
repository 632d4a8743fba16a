package flash

import (
	"sync"

	"github.com/ardnew/papernote/pkg"
)

// Op identifies a chip operation for fault injection and accounting.
type Op int

// Chip operations.
const (
	OpRead Op = iota
	OpProgram
	OpEraseSector
	OpEraseChip
	OpReadID
)

func (op Op) String() string {
	switch op {
	case OpRead:
		return "read"
	case OpProgram:
		return "program"
	case OpEraseSector:
		return "erase sector"
	case OpEraseChip:
		return "erase chip"
	case OpReadID:
		return "read ID"
	default:
		return "unknown"
	}
}

// Stats counts the operations a chip has executed.
type Stats struct {
	Reads        int
	Programs     int
	SectorErases int
	ChipErases   int
}

// MemoryChip emulates a NOR flash in RAM. Programming ANDs data into the
// array like real NOR cells, so writing over unerased bytes yields
// corrupted content rather than the new data.
type MemoryChip struct {
	data  []byte
	geo   Geometry
	id    JEDECID
	stats Stats

	// Fault, when set, is consulted before every operation. A non-nil
	// return fails the operation without touching the array.
	Fault func(op Op, addr uint32) error

	mutex sync.Mutex
}

// NewMemoryChip creates an erased chip with the given geometry.
func NewMemoryChip(geo Geometry) *MemoryChip {
	m := &MemoryChip{
		data: make([]byte, geo.Capacity),
		geo:  geo,
		id:   JEDECID{0xEF, DefaultDeviceID[0], DefaultDeviceID[1]},
	}
	fill(m.data, 0xFF)
	return m
}

// SetID sets the identifier returned by ReadID.
func (m *MemoryChip) SetID(id JEDECID) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.id = id
}

// Geometry returns the chip geometry.
func (m *MemoryChip) Geometry() Geometry { return m.geo }

// Stats returns a snapshot of the operation counters.
func (m *MemoryChip) Stats() Stats {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.stats
}

// ResetStats zeroes the operation counters.
func (m *MemoryChip) ResetStats() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.stats = Stats{}
}

// Bytes returns the backing array. Callers may poke it to simulate
// out-of-band changes.
func (m *MemoryChip) Bytes() []byte { return m.data }

func (m *MemoryChip) fault(op Op, addr uint32) error {
	if m.Fault == nil {
		return nil
	}
	if err := m.Fault(op, addr); err != nil {
		return pkg.Wrap(op.String(), addr, nil, err)
	}
	return nil
}

// Read copies len(buf) bytes at addr into buf.
func (m *MemoryChip) Read(addr uint32, buf []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if !m.geo.Contains(addr, len(buf)) {
		return pkg.Wrap("read", addr, pkg.ErrInvalidAddress, nil)
	}
	if err := m.fault(OpRead, addr); err != nil {
		return err
	}
	m.stats.Reads++
	copy(buf, m.data[addr:])
	return nil
}

// Program ANDs data into the array at addr.
func (m *MemoryChip) Program(addr uint32, data []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if !m.geo.Contains(addr, len(data)) {
		return pkg.Wrap("program", addr, pkg.ErrInvalidAddress, nil)
	}
	if err := m.fault(OpProgram, addr); err != nil {
		return err
	}
	m.stats.Programs++
	for i, b := range data {
		m.data[addr+uint32(i)] &= b
	}
	return nil
}

// EraseSector sets the sector containing addr to 0xFF.
func (m *MemoryChip) EraseSector(addr uint32) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if !m.geo.Contains(addr, 1) {
		return pkg.Wrap("erase sector", addr, pkg.ErrInvalidAddress, nil)
	}
	if err := m.fault(OpEraseSector, addr); err != nil {
		return err
	}
	m.stats.SectorErases++
	base := m.geo.SectorBase(m.geo.SectorOf(addr))
	fill(m.data[base:base+m.geo.SectorSize], 0xFF)
	return nil
}

// EraseChip sets the whole array to 0xFF.
func (m *MemoryChip) EraseChip() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.fault(OpEraseChip, 0); err != nil {
		return err
	}
	m.stats.ChipErases++
	fill(m.data, 0xFF)
	return nil
}

// ReadID returns the configured JEDEC identifier.
func (m *MemoryChip) ReadID() (JEDECID, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.fault(OpReadID, 0); err != nil {
		return JEDECID{}, err
	}
	return m.id, nil
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// Compile-time interface check
var _ Chip = (*MemoryChip)(nil)
