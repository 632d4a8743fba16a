package ftl

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/ardnew/papernote/flash"
	"github.com/ardnew/papernote/pkg"
)

// Block size limits.
const (
	DefaultBlockSize = 512
	MinBlockSize     = 512
)

// MismatchError describes the first byte that differed on read-back.
type MismatchError struct {
	Addr uint32
	Want byte
	Got  byte
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("read back 0x%02x at 0x%06x, wrote 0x%02x", e.Got, e.Addr, e.Want)
}

// Translator exposes fixed-size logical blocks over an erase-before-write
// flash chip.
//
// A write to a blank erase unit programs the block directly. A write to a
// dirty unit reads the unit, erases it, patches the block in, programs the
// whole unit back and verifies it. All access is serialized.
type Translator struct {
	chip    flash.Chip
	geo     flash.Geometry
	timing  flash.Timing
	tracker Tracker

	blockSize uint32
	maxLBA    uint32

	mutex   sync.Mutex
	scratch []byte
	check   [chunkSize]byte
}

// Option configures a Translator.
type Option func(*Translator)

// WithBlockSize sets the logical block size.
func WithBlockSize(n uint32) Option {
	return func(t *Translator) { t.blockSize = n }
}

// WithTracker replaces the default live-scan tracker.
func WithTracker(tr Tracker) Option {
	return func(t *Translator) { t.tracker = tr }
}

// WithTiming sets the latencies reported by Timing.
func WithTiming(tm flash.Timing) Option {
	return func(t *Translator) { t.timing = tm }
}

// New returns a translator over chip. Without options it uses 512-byte
// blocks and a ScanTracker, and reports the chip's own timing if it has
// one.
func New(chip flash.Chip, geo flash.Geometry, opts ...Option) (*Translator, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	t := &Translator{
		chip:      chip,
		geo:       geo,
		timing:    flash.DefaultTiming(),
		blockSize: DefaultBlockSize,
	}
	if tc, ok := chip.(interface{ Timing() flash.Timing }); ok {
		t.timing = tc.Timing()
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.blockSize < MinBlockSize || t.blockSize > geo.SectorSize || geo.SectorSize%t.blockSize != 0 {
		return nil, fmt.Errorf("ftl: block size %d must divide sector size %d and be at least %d: %w",
			t.blockSize, geo.SectorSize, MinBlockSize, pkg.ErrInvalidParameter)
	}
	if t.tracker == nil {
		t.tracker = NewScanTracker(chip, geo)
	}
	t.maxLBA = geo.Capacity/t.blockSize - 1
	t.scratch = make([]byte, geo.SectorSize)

	pkg.LogDebug(pkg.ComponentFTL, "translator ready",
		"blockSize", t.blockSize,
		"maxLBA", t.maxLBA,
		"tracker", fmt.Sprintf("%T", t.tracker))
	return t, nil
}

// BlockSize returns the logical block size in bytes.
func (t *Translator) BlockSize() uint32 { return t.blockSize }

// MaxLBA returns the last valid logical block address.
func (t *Translator) MaxLBA() uint32 { return t.maxLBA }

// BlockCount returns the number of logical blocks.
func (t *Translator) BlockCount() uint32 { return t.maxLBA + 1 }

// Geometry returns the chip geometry.
func (t *Translator) Geometry() flash.Geometry { return t.geo }

// Timing returns the worst-case latencies of the chip, so protocol
// adapters can avoid polling before an operation can have finished.
func (t *Translator) Timing() flash.Timing { return t.timing }

func (t *Translator) checkBlock(op string, lba uint32, n int) error {
	if lba > t.maxLBA {
		return pkg.Wrap(op, lba, pkg.ErrInvalidAddress, nil)
	}
	if n != int(t.blockSize) {
		return pkg.Wrap(op, lba, pkg.ErrBufferTooSmall,
			fmt.Errorf("buffer is %d bytes, block is %d", n, t.blockSize))
	}
	return nil
}

// ReadBlock reads block lba into buf, which must be exactly one block.
func (t *Translator) ReadBlock(lba uint32, buf []byte) error {
	if err := t.checkBlock("read block", lba, len(buf)); err != nil {
		return err
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()

	addr := lba * t.blockSize
	if err := t.chip.Read(addr, buf); err != nil {
		return pkg.Wrap("read block", addr, pkg.ErrHardwareIO, err)
	}
	return nil
}

// WriteBlock writes data, exactly one block, to lba.
func (t *Translator) WriteBlock(lba uint32, data []byte) error {
	if err := t.checkBlock("write block", lba, len(data)); err != nil {
		return err
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()

	addr := lba * t.blockSize
	unit := t.geo.SectorOf(addr)
	blank, err := t.tracker.IsBlank(unit)
	if err != nil {
		return err
	}
	if blank {
		pkg.LogDebug(pkg.ComponentFTL, "fast write", "lba", lba, "unit", unit)
		return t.program("write block", addr, data)
	}

	pkg.LogDebug(pkg.ComponentFTL, "slow write", "lba", lba, "unit", unit)
	base := t.geo.SectorBase(unit)
	unitData := t.scratch
	if t.blockSize < t.geo.SectorSize {
		if err := t.chip.Read(base, unitData); err != nil {
			return pkg.Wrap("write block", base, pkg.ErrHardwareIO, err)
		}
	}
	copy(unitData[addr-base:], data)

	if err := t.erase(unit); err != nil {
		return err
	}
	if err := t.program("write block", base, unitData); err != nil {
		return err
	}
	return t.verify("write block", base, unitData)
}

// EraseDevice erases the whole chip. It blocks for up to the chip erase
// worst case.
func (t *Translator) EraseDevice() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentFTL, "erasing device", "timeout", t.timing.ChipErase)
	if err := t.chip.EraseChip(); err != nil {
		return pkg.Wrap("erase device", 0, pkg.ErrEraseFailure, err)
	}
	return t.tracker.ErasedAll()
}

// UnitBlank reports whether erase unit holds only 0xFF bytes.
func (t *Translator) UnitBlank(unit uint32) (bool, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.tracker.IsBlank(unit)
}

// ReadBytes reads len(buf) bytes at the flash address addr.
func (t *Translator) ReadBytes(addr uint32, buf []byte) error {
	if !t.geo.Contains(addr, len(buf)) {
		return pkg.Wrap("read", addr, pkg.ErrInvalidAddress, nil)
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if err := t.chip.Read(addr, buf); err != nil {
		return pkg.Wrap("read", addr, pkg.ErrHardwareIO, err)
	}
	return nil
}

// EraseSector erases the sector containing addr.
func (t *Translator) EraseSector(addr uint32) error {
	if !t.geo.Contains(addr, 1) {
		return pkg.Wrap("erase", addr, pkg.ErrInvalidAddress, nil)
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.erase(t.geo.SectorOf(addr))
}

// Program programs data at addr without erasing and verifies the result.
// The target range must already be erased.
func (t *Translator) Program(addr uint32, data []byte) error {
	if !t.geo.Contains(addr, len(data)) {
		return pkg.Wrap("program", addr, pkg.ErrInvalidAddress, nil)
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()

	for off := 0; off < len(data); {
		a := addr + uint32(off)
		n := min(len(data)-off, int(t.geo.SectorSize-a%t.geo.SectorSize))
		if err := t.program("program", a, data[off:off+n]); err != nil {
			return err
		}
		if err := t.verify("program", a, data[off:off+n]); err != nil {
			return err
		}
		off += n
	}
	return nil
}

// program writes data within a single erase unit. The tracker is told
// first so a cached blank state is withdrawn before any cell changes.
func (t *Translator) program(op string, addr uint32, data []byte) error {
	if err := t.tracker.WillProgram(t.geo.SectorOf(addr)); err != nil {
		return err
	}
	if err := t.chip.Program(addr, data); err != nil {
		return pkg.Wrap(op, addr, pkg.ErrHardwareIO, err)
	}
	return nil
}

func (t *Translator) erase(unit uint32) error {
	base := t.geo.SectorBase(unit)
	if err := t.chip.EraseSector(base); err != nil {
		return pkg.Wrap("erase", base, pkg.ErrEraseFailure, err)
	}
	return t.tracker.Erased(unit)
}

// verify reads back want at addr in bounded chunks.
func (t *Translator) verify(op string, addr uint32, want []byte) error {
	for off := 0; off < len(want); off += chunkSize {
		n := min(chunkSize, len(want)-off)
		got := t.check[:n]
		a := addr + uint32(off)
		if err := t.chip.Read(a, got); err != nil {
			return pkg.Wrap(op, a, pkg.ErrHardwareIO, err)
		}
		if bytes.Equal(got, want[off:off+n]) {
			continue
		}
		for i := range got {
			if got[i] != want[off+i] {
				m := &MismatchError{Addr: a + uint32(i), Want: want[off+i], Got: got[i]}
				pkg.LogWarn(pkg.ComponentFTL, "verification failed",
					"addr", m.Addr,
					"want", m.Want,
					"got", m.Got)
				return pkg.Wrap(op, a, pkg.ErrVerificationMismatch, m)
			}
		}
	}
	return nil
}
