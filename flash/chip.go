package flash

import (
	"fmt"
	"time"

	"github.com/ardnew/papernote/pkg"
)

// Chip is the hardware boundary of a sector-erasable NOR flash device.
// Implementations serialize their own bus access; callers never issue
// overlapping operations on the same chip.
type Chip interface {
	// Read reads len(buf) bytes starting at addr.
	Read(addr uint32, buf []byte) error

	// Program writes data starting at addr. Bytes can only be programmed
	// from 1 to 0; the target range must have been erased first for the
	// result to equal data.
	Program(addr uint32, data []byte) error

	// EraseSector erases the sector containing addr to all 0xFF.
	EraseSector(addr uint32) error

	// EraseChip erases the whole device to all 0xFF.
	EraseChip() error

	// ReadID returns the JEDEC identifier.
	ReadID() (JEDECID, error)
}

// Geometry describes the layout of a flash device.
type Geometry struct {
	Capacity   uint32 // Total addressable bytes
	SectorSize uint32 // Erase unit in bytes
	PageSize   uint32 // Program unit in bytes
}

// Default geometry of the 128 Mbit serial NOR fitted to the board.
const (
	DefaultCapacity   = 16 * 1024 * 1024
	DefaultSectorSize = 4096
	DefaultPageSize   = 256
)

// DefaultGeometry returns the geometry of the fitted 16 MiB chip.
func DefaultGeometry() Geometry {
	return Geometry{
		Capacity:   DefaultCapacity,
		SectorSize: DefaultSectorSize,
		PageSize:   DefaultPageSize,
	}
}

// Validate reports whether the geometry is self-consistent.
func (g Geometry) Validate() error {
	switch {
	case g.Capacity == 0 || g.SectorSize == 0 || g.PageSize == 0:
		return fmt.Errorf("flash: zero geometry field: %w", pkg.ErrInvalidParameter)
	case g.Capacity%g.SectorSize != 0:
		return fmt.Errorf("flash: capacity %d not a multiple of sector size %d: %w",
			g.Capacity, g.SectorSize, pkg.ErrInvalidParameter)
	case g.SectorSize%g.PageSize != 0:
		return fmt.Errorf("flash: sector size %d not a multiple of page size %d: %w",
			g.SectorSize, g.PageSize, pkg.ErrInvalidParameter)
	}
	return nil
}

// Sectors returns the number of erase units.
func (g Geometry) Sectors() uint32 {
	return g.Capacity / g.SectorSize
}

// SectorOf returns the index of the sector containing addr.
func (g Geometry) SectorOf(addr uint32) uint32 {
	return addr / g.SectorSize
}

// SectorBase returns the first address of sector.
func (g Geometry) SectorBase(sector uint32) uint32 {
	return sector * g.SectorSize
}

// Contains reports whether [addr, addr+n) lies within the device.
func (g Geometry) Contains(addr uint32, n int) bool {
	if n < 0 {
		return false
	}
	return uint64(addr)+uint64(n) <= uint64(g.Capacity)
}

// Timing holds the documented worst-case latencies of a chip. Protocol
// adapters use them to avoid polling before an operation can finish.
type Timing struct {
	PageProgram time.Duration
	SectorErase time.Duration
	ChipErase   time.Duration
}

// DefaultTiming returns the datasheet worst cases of the fitted chip.
func DefaultTiming() Timing {
	return Timing{
		PageProgram: 3 * time.Millisecond,
		SectorErase: 400 * time.Millisecond,
		ChipErase:   200 * time.Second,
	}
}

// JEDECID is the three-byte manufacturer/device identifier.
type JEDECID [3]byte

// Manufacturer returns the JEDEC manufacturer byte.
func (id JEDECID) Manufacturer() byte { return id[0] }

// Device returns the memory type and capacity bytes.
func (id JEDECID) Device() [2]byte { return [2]byte{id[1], id[2]} }

func (id JEDECID) String() string {
	return fmt.Sprintf("%02X %02X %02X", id[0], id[1], id[2])
}

// DefaultDeviceID is the device part of the fitted chip's JEDEC ID.
var DefaultDeviceID = [2]byte{0x40, 0x18}

// DefaultIDRetries is the number of ID reads attempted at power-on.
const DefaultIDRetries = 20

// CheckID reads the JEDEC ID up to retries times until the device bytes
// equal want. Transient failures after a brown-out are common, so read
// errors and mismatches are both retried.
func CheckID(chip Chip, want [2]byte, retries int) (JEDECID, error) {
	if retries <= 0 {
		retries = 1
	}
	var (
		id      JEDECID
		lastErr error
	)
	for i := 0; i < retries; i++ {
		got, err := chip.ReadID()
		if err != nil {
			lastErr = err
			pkg.LogDebug(pkg.ComponentFlash, "read ID failed",
				"attempt", i+1,
				"error", err)
			continue
		}
		id = got
		if got.Device() == want {
			pkg.LogInfo(pkg.ComponentFlash, "flash detected", "id", got.String())
			return got, nil
		}
		pkg.LogDebug(pkg.ComponentFlash, "unexpected flash ID",
			"attempt", i+1,
			"id", got.String())
	}
	pkg.LogError(pkg.ComponentFlash, "flash ID check failed",
		"id", id.String(),
		"retries", retries)
	return id, pkg.Wrap("read ID", 0, pkg.ErrDeviceID, lastErr)
}
