package nvm

import (
	"fmt"

	"github.com/ardnew/papernote/pkg"
)

// SectorMap is a persisted bitmap with one bit per flash sector, stored in
// EEPROM bank 2. A set bit means the sector is known to be erased. Bit s
// is bit s%8 of byte s/8.
type SectorMap struct {
	mem     EEPROM
	base    uint32
	sectors uint32
}

// NewSectorMap returns the bitmap for sectors flash sectors.
func NewSectorMap(mem EEPROM, sectors uint32) (*SectorMap, error) {
	n := (sectors + 7) / 8
	if n > BankSize {
		return nil, fmt.Errorf("nvm: %d sectors need %d bitmap bytes, bank holds %d: %w",
			sectors, n, BankSize, pkg.ErrInvalidParameter)
	}
	if Bank2Offset+n > mem.Size() {
		return nil, fmt.Errorf("nvm: bitmap exceeds EEPROM size %d: %w",
			mem.Size(), pkg.ErrInvalidParameter)
	}
	return &SectorMap{mem: mem, base: Bank2Offset, sectors: sectors}, nil
}

// Sectors returns the number of sectors tracked.
func (m *SectorMap) Sectors() uint32 { return m.sectors }

func (m *SectorMap) locate(sector uint32) (off uint32, mask byte, err error) {
	if sector >= m.sectors {
		return 0, 0, pkg.Wrap("sector map", sector, pkg.ErrInvalidAddress, nil)
	}
	return m.base + sector/8, 1 << (sector % 8), nil
}

// IsErased reports the stored bit for sector.
func (m *SectorMap) IsErased(sector uint32) (bool, error) {
	off, mask, err := m.locate(sector)
	if err != nil {
		return false, err
	}
	var b [1]byte
	if err := m.mem.Read(off, b[:]); err != nil {
		return false, err
	}
	return b[0]&mask != 0, nil
}

// SetErased updates the stored bit for sector. The containing byte is
// rewritten only if the bit changes.
func (m *SectorMap) SetErased(sector uint32, erased bool) error {
	off, mask, err := m.locate(sector)
	if err != nil {
		return err
	}
	var b [1]byte
	if err := m.mem.Read(off, b[:]); err != nil {
		return err
	}
	v := b[0]
	if erased {
		v |= mask
	} else {
		v &^= mask
	}
	if v == b[0] {
		return nil
	}
	return m.mem.WriteByteAt(off, v)
}

// SetAll marks every sector erased.
func (m *SectorMap) SetAll() error {
	n := (m.sectors + 7) / 8
	off := m.base
	end := m.base + n
	for ; off+4 <= end; off += 4 {
		if err := m.mem.WriteWord(off, 0xFFFFFFFF); err != nil {
			return err
		}
	}
	for ; off < end; off++ {
		if err := m.mem.WriteByteAt(off, 0xFF); err != nil {
			return err
		}
	}
	pkg.LogDebug(pkg.ComponentNVM, "sector map reset", "sectors", m.sectors)
	return nil
}
