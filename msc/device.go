package msc

import (
	"fmt"
	"sync"

	"github.com/ardnew/papernote/pkg"
)

// BlockDevice is the storage a mass-storage processor serves. Block size
// and capacity are fixed for the life of the device.
type BlockDevice interface {
	// BlockSize returns the size of a logical block in bytes.
	BlockSize() uint32

	// MaxLBA returns the last valid logical block address.
	MaxLBA() uint32

	// ReadBlock reads one block at lba into buf.
	ReadBlock(lba uint32, buf []byte) error

	// WriteBlock writes one block from data at lba.
	WriteBlock(lba uint32, data []byte) error

	// EraseDevice erases every block.
	EraseDevice() error
}

// MemoryDevice is a RAM disk implementing BlockDevice.
type MemoryDevice struct {
	data      []byte
	blockSize uint32
	mutex     sync.RWMutex
}

// NewMemoryDevice creates a zero-filled RAM disk of blocks blocks.
func NewMemoryDevice(blocks, blockSize uint32) *MemoryDevice {
	return &MemoryDevice{
		data:      make([]byte, uint64(blocks)*uint64(blockSize)),
		blockSize: blockSize,
	}
}

// BlockSize returns the block size.
func (m *MemoryDevice) BlockSize() uint32 { return m.blockSize }

// MaxLBA returns the last block address.
func (m *MemoryDevice) MaxLBA() uint32 {
	return uint32(uint64(len(m.data))/uint64(m.blockSize)) - 1
}

// Bytes returns the backing array.
func (m *MemoryDevice) Bytes() []byte { return m.data }

func (m *MemoryDevice) check(op string, lba uint32, n int) error {
	if lba > m.MaxLBA() {
		return pkg.Wrap(op, lba, pkg.ErrInvalidAddress, nil)
	}
	if n != int(m.blockSize) {
		return pkg.Wrap(op, lba, pkg.ErrBufferTooSmall,
			fmt.Errorf("buffer is %d bytes, block is %d", n, m.blockSize))
	}
	return nil
}

// ReadBlock copies block lba into buf.
func (m *MemoryDevice) ReadBlock(lba uint32, buf []byte) error {
	if err := m.check("read block", lba, len(buf)); err != nil {
		return err
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	off := uint64(lba) * uint64(m.blockSize)
	copy(buf, m.data[off:])
	return nil
}

// WriteBlock copies data into block lba.
func (m *MemoryDevice) WriteBlock(lba uint32, data []byte) error {
	if err := m.check("write block", lba, len(data)); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	off := uint64(lba) * uint64(m.blockSize)
	copy(m.data[off:], data)
	return nil
}

// EraseDevice zeroes the disk.
func (m *MemoryDevice) EraseDevice() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	clear(m.data)
	return nil
}

// Compile-time interface check
var _ BlockDevice = (*MemoryDevice)(nil)
