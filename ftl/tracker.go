package ftl

import (
	"github.com/ardnew/papernote/flash"
	"github.com/ardnew/papernote/nvm"
	"github.com/ardnew/papernote/pkg"
)

// chunkSize bounds the working memory of blank scans and read-back
// verification.
const chunkSize = 256

// Tracker answers whether an erase unit holds only 0xFF bytes.
//
// The translator calls the hooks around every state change: WillProgram
// before the first byte of a unit is programmed, Erased after a unit
// erase succeeded and ErasedAll after a chip erase succeeded. A tracker
// that caches state must never report blank for a unit that may hold data.
//
// A unit is dirty after a write unless every byte written was 0xFF: the
// ScanTracker sees such a unit as still blank, which is exact since its
// contents equal an erased unit's. The BitmapTracker marks it dirty.
type Tracker interface {
	IsBlank(unit uint32) (bool, error)
	WillProgram(unit uint32) error
	Erased(unit uint32) error
	ErasedAll() error
}

// ScanTracker reads the unit on every query. It keeps no state and so can
// never be stale.
type ScanTracker struct {
	chip flash.Chip
	geo  flash.Geometry
	buf  [chunkSize]byte
}

// NewScanTracker returns a tracker scanning chip.
func NewScanTracker(chip flash.Chip, geo flash.Geometry) *ScanTracker {
	return &ScanTracker{chip: chip, geo: geo}
}

// IsBlank scans unit and stops at the first programmed byte.
func (s *ScanTracker) IsBlank(unit uint32) (bool, error) {
	if unit >= s.geo.Sectors() {
		return false, pkg.Wrap("blank check", unit, pkg.ErrInvalidAddress, nil)
	}
	base := s.geo.SectorBase(unit)
	for off := uint32(0); off < s.geo.SectorSize; off += chunkSize {
		n := min(chunkSize, s.geo.SectorSize-off)
		chunk := s.buf[:n]
		if err := s.chip.Read(base+off, chunk); err != nil {
			return false, pkg.Wrap("blank check", base+off, pkg.ErrHardwareIO, err)
		}
		for _, b := range chunk {
			if b != 0xFF {
				return false, nil
			}
		}
	}
	return true, nil
}

func (s *ScanTracker) WillProgram(unit uint32) error { return nil }
func (s *ScanTracker) Erased(unit uint32) error      { return nil }
func (s *ScanTracker) ErasedAll() error              { return nil }

// BitmapTracker caches erase state in the persisted sector bitmap. The bit
// of a unit is cleared before it is programmed and set only after its
// erase returned, so an interrupted operation leaves the unit marked
// dirty.
type BitmapTracker struct {
	sectors *nvm.SectorMap
}

// NewBitmapTracker returns a tracker backed by sectors.
func NewBitmapTracker(sectors *nvm.SectorMap) *BitmapTracker {
	return &BitmapTracker{sectors: sectors}
}

// IsBlank returns the cached bit for unit.
func (b *BitmapTracker) IsBlank(unit uint32) (bool, error) {
	return b.sectors.IsErased(unit)
}

// WillProgram clears the bit for unit.
func (b *BitmapTracker) WillProgram(unit uint32) error {
	return b.sectors.SetErased(unit, false)
}

// Erased sets the bit for unit.
func (b *BitmapTracker) Erased(unit uint32) error {
	return b.sectors.SetErased(unit, true)
}

// ErasedAll sets every bit.
func (b *BitmapTracker) ErasedAll() error {
	return b.sectors.SetAll()
}

// Rebuild overwrites the bitmap with the state reported by src, normally a
// ScanTracker. It returns the number of units found blank.
func (b *BitmapTracker) Rebuild(src Tracker) (uint32, error) {
	var blank uint32
	for unit := uint32(0); unit < b.sectors.Sectors(); unit++ {
		ok, err := src.IsBlank(unit)
		if err != nil {
			return blank, err
		}
		if ok {
			blank++
		}
		if err := b.sectors.SetErased(unit, ok); err != nil {
			return blank, err
		}
	}
	pkg.LogInfo(pkg.ComponentFTL, "sector map rebuilt",
		"sectors", b.sectors.Sectors(),
		"blank", blank)
	return blank, nil
}

// Compile-time interface checks
var (
	_ Tracker = (*ScanTracker)(nil)
	_ Tracker = (*BitmapTracker)(nil)
)
