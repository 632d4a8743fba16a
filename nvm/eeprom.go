package nvm

import (
	"encoding/binary"
	"sync"

	"github.com/ardnew/papernote/pkg"
)

// Data EEPROM layout. The device has two equally sized banks; the control
// record lives in the first and the erased-sector bitmap in the second.
const (
	BankSize    = 2048
	Bank1Offset = 0
	Bank2Offset = Bank1Offset + BankSize

	// DefaultSize covers both banks.
	DefaultSize = 2 * BankSize
)

// Erased is the value of a blank EEPROM byte.
const Erased = 0xFF

// EEPROM is the persisted non-volatile store. Words are little-endian and
// must be 4-byte aligned; the hardware writes one word or byte at a time.
type EEPROM interface {
	// Size returns the store size in bytes.
	Size() uint32

	// Read copies len(buf) bytes at off into buf.
	Read(off uint32, buf []byte) error

	// ReadWord loads the 32-bit word at off.
	ReadWord(off uint32) (uint32, error)

	// WriteWord stores v at off.
	WriteWord(off uint32, v uint32) error

	// WriteByteAt stores v at off.
	WriteByteAt(off uint32, v byte) error
}

func checkRange(op string, size, off uint32, n int) error {
	if n < 0 || uint64(off)+uint64(n) > uint64(size) {
		return pkg.Wrap(op, off, pkg.ErrInvalidAddress, nil)
	}
	return nil
}

func checkWord(op string, size, off uint32) error {
	if off%4 != 0 {
		return pkg.Wrap(op, off, pkg.ErrInvalidAddress, nil)
	}
	return checkRange(op, size, off, 4)
}

// MemoryEEPROM is a RAM-backed EEPROM, blank (all 0xFF) when created.
type MemoryEEPROM struct {
	data []byte

	// Fault, when set, is consulted before every write. A non-nil return
	// fails the write without touching the store.
	Fault func(off uint32) error

	// Writes counts successful word and byte writes.
	Writes int

	mutex sync.Mutex
}

// NewMemoryEEPROM creates a blank store of size bytes.
func NewMemoryEEPROM(size uint32) *MemoryEEPROM {
	m := &MemoryEEPROM{data: make([]byte, size)}
	for i := range m.data {
		m.data[i] = Erased
	}
	return m
}

// Size returns the store size in bytes.
func (m *MemoryEEPROM) Size() uint32 { return uint32(len(m.data)) }

// Bytes returns the backing array.
func (m *MemoryEEPROM) Bytes() []byte { return m.data }

// Read copies len(buf) bytes at off into buf.
func (m *MemoryEEPROM) Read(off uint32, buf []byte) error {
	if err := checkRange("eeprom read", m.Size(), off, len(buf)); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	copy(buf, m.data[off:])
	return nil
}

// ReadWord loads the word at off.
func (m *MemoryEEPROM) ReadWord(off uint32) (uint32, error) {
	if err := checkWord("eeprom read", m.Size(), off); err != nil {
		return 0, err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return binary.LittleEndian.Uint32(m.data[off:]), nil
}

func (m *MemoryEEPROM) fault(off uint32) error {
	if m.Fault == nil {
		return nil
	}
	if err := m.Fault(off); err != nil {
		return pkg.Wrap("eeprom write", off, pkg.ErrHardwareIO, err)
	}
	return nil
}

// WriteWord stores v at off.
func (m *MemoryEEPROM) WriteWord(off uint32, v uint32) error {
	if err := checkWord("eeprom write", m.Size(), off); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.fault(off); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.data[off:], v)
	m.Writes++
	return nil
}

// WriteByteAt stores v at off.
func (m *MemoryEEPROM) WriteByteAt(off uint32, v byte) error {
	if err := checkRange("eeprom write", m.Size(), off, 1); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.fault(off); err != nil {
		return err
	}
	m.data[off] = v
	m.Writes++
	return nil
}

// Compile-time interface check
var _ EEPROM = (*MemoryEEPROM)(nil)
