package ftl

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/ardnew/papernote/flash"
	"github.com/ardnew/papernote/pkg"
)

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*13)
	}
	return b
}

func newTestTranslator(t *testing.T, opts ...Option) (*Translator, *flash.MemoryChip) {
	t.Helper()
	chip := flash.NewMemoryChip(testGeometry)
	tr, err := New(chip, testGeometry, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return tr, chip
}

// corruptingChip flips the low bit of one address whenever it is
// programmed, simulating a stuck cell.
type corruptingChip struct {
	*flash.MemoryChip
	addr  uint32
	armed bool
}

func (c *corruptingChip) Program(addr uint32, data []byte) error {
	if err := c.MemoryChip.Program(addr, data); err != nil {
		return err
	}
	if c.armed && c.addr >= addr && c.addr < addr+uint32(len(data)) {
		c.Bytes()[c.addr] ^= 0x01
	}
	return nil
}

func TestNew_BlockSize(t *testing.T) {
	chip := flash.NewMemoryChip(testGeometry)

	tests := []struct {
		size    uint32
		wantErr bool
		maxLBA  uint32
	}{
		{512, false, 127},
		{1024, false, 63},
		{2048, false, 31},
		{4096, false, 15},
		{256, true, 0},
		{3000, true, 0},
		{8192, true, 0},
	}

	for _, tt := range tests {
		tr, err := New(chip, testGeometry, WithBlockSize(tt.size))
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%d) error = %v, wantErr %v", tt.size, err, tt.wantErr)
			continue
		}
		if err != nil {
			if !errors.Is(err, pkg.ErrInvalidParameter) {
				t.Errorf("New(%d) error = %v, want %v", tt.size, err, pkg.ErrInvalidParameter)
			}
			continue
		}
		if tr.MaxLBA() != tt.maxLBA {
			t.Errorf("New(%d).MaxLBA() = %d, want %d", tt.size, tr.MaxLBA(), tt.maxLBA)
		}
		if tr.BlockCount() != tt.maxLBA+1 {
			t.Errorf("New(%d).BlockCount() = %d", tt.size, tr.BlockCount())
		}
	}
}

func TestTranslator_RoundTrip(t *testing.T) {
	for _, bs := range []uint32{512, 1024, 4096} {
		tr, _ := newTestTranslator(t, WithBlockSize(bs))
		lbas := []uint32{0, 1, tr.MaxLBA() / 2, tr.MaxLBA()}

		for pass := byte(0); pass < 2; pass++ {
			for _, lba := range lbas {
				data := pattern(int(bs), byte(lba)+pass*0x40)
				if err := tr.WriteBlock(lba, data); err != nil {
					t.Fatalf("bs=%d WriteBlock(%d) error = %v", bs, lba, err)
				}
				got := make([]byte, bs)
				if err := tr.ReadBlock(lba, got); err != nil {
					t.Fatalf("bs=%d ReadBlock(%d) error = %v", bs, lba, err)
				}
				if !bytes.Equal(got, data) {
					t.Errorf("bs=%d pass=%d block %d round trip differs", bs, pass, lba)
				}
			}
		}
	}
}

func TestTranslator_FastPath(t *testing.T) {
	tr, chip := newTestTranslator(t)

	if err := tr.WriteBlock(8, pattern(512, 1)); err != nil {
		t.Fatalf("WriteBlock() error = %v", err)
	}
	st := chip.Stats()
	if st.SectorErases != 0 {
		t.Errorf("fast path erased %d sectors", st.SectorErases)
	}
	if st.Programs != 1 {
		t.Errorf("fast path programs = %d, want 1", st.Programs)
	}
}

func TestTranslator_SlowPath(t *testing.T) {
	tr, chip := newTestTranslator(t)

	if err := tr.WriteBlock(8, pattern(512, 1)); err != nil {
		t.Fatal(err)
	}
	chip.ResetStats()
	if err := tr.WriteBlock(8, pattern(512, 2)); err != nil {
		t.Fatalf("WriteBlock() error = %v", err)
	}
	if st := chip.Stats(); st.SectorErases != 1 {
		t.Errorf("slow path erased %d sectors, want 1", st.SectorErases)
	}
}

func TestTranslator_FullSectorBlocksSkipRead(t *testing.T) {
	tr, chip := newTestTranslator(t, WithBlockSize(4096))

	if err := tr.WriteBlock(2, pattern(4096, 1)); err != nil {
		t.Fatal(err)
	}
	chip.ResetStats()
	if err := tr.WriteBlock(2, pattern(4096, 9)); err != nil {
		t.Fatalf("WriteBlock() error = %v", err)
	}
	// blank check stops at the first chunk; the rest is read-back verify
	want := 1 + 4096/chunkSize
	if got := chip.Stats().Reads; got != want {
		t.Errorf("reads = %d, want %d", got, want)
	}
}

func TestTranslator_FastSlowEquivalence(t *testing.T) {
	data := pattern(512, 0x33)

	fast, fastChip := newTestTranslator(t)
	if err := fast.WriteBlock(17, data); err != nil {
		t.Fatal(err)
	}

	slow, slowChip := newTestTranslator(t)
	if err := slow.WriteBlock(17, pattern(512, 0x99)); err != nil {
		t.Fatal(err)
	}
	if err := slow.WriteBlock(17, data); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(fastChip.Bytes(), slowChip.Bytes()) {
		t.Error("fast and slow path produced different flash content")
	}
}

func TestTranslator_SiblingPreserved(t *testing.T) {
	tr, _ := newTestTranslator(t)
	sibling := pattern(512, 0x5A)

	if err := tr.WriteBlock(0, pattern(512, 1)); err != nil {
		t.Fatal(err)
	}
	if err := tr.WriteBlock(1, sibling); err != nil {
		t.Fatal(err)
	}
	if err := tr.WriteBlock(7, pattern(512, 7)); err != nil {
		t.Fatal(err)
	}
	if err := tr.WriteBlock(0, pattern(512, 2)); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, 512)
	if err := tr.ReadBlock(1, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, sibling) {
		t.Error("sibling block changed by slow path")
	}
	if err := tr.ReadBlock(7, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, pattern(512, 7)) {
		t.Error("last block of unit changed by slow path")
	}
}

func TestTranslator_EraseState(t *testing.T) {
	trackers := []struct {
		name string
		opts func(t *testing.T) []Option
	}{
		{"scan", func(t *testing.T) []Option { return nil }},
		{"bitmap", func(t *testing.T) []Option {
			b, _ := newBitmap(t)
			return []Option{WithTracker(b)}
		}},
	}

	for _, tt := range trackers {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := newTestTranslator(t, tt.opts(t)...)

			for _, lba := range []uint32{0, 9, 127} {
				if err := tr.WriteBlock(lba, pattern(512, 1)); err != nil {
					t.Fatal(err)
				}
				unit := lba * 512 / testGeometry.SectorSize
				if ok, err := tr.UnitBlank(unit); err != nil || ok {
					t.Errorf("UnitBlank(%d) after write = %v, %v, want false", unit, ok, err)
				}
			}

			if err := tr.EraseDevice(); err != nil {
				t.Fatalf("EraseDevice() error = %v", err)
			}
			for u := uint32(0); u < testGeometry.Sectors(); u++ {
				if ok, err := tr.UnitBlank(u); err != nil || !ok {
					t.Errorf("UnitBlank(%d) after erase = %v, %v, want true", u, ok, err)
				}
			}
		})
	}
}

func TestTranslator_ErasedPatternWrite(t *testing.T) {
	blank := bytes.Repeat([]byte{0xFF}, 512)

	t.Run("scan", func(t *testing.T) {
		tr, chip := newTestTranslator(t)
		if err := tr.WriteBlock(0, blank); err != nil {
			t.Fatal(err)
		}
		if ok, err := tr.UnitBlank(0); err != nil || !ok {
			t.Errorf("UnitBlank(0) = %v, %v, want true", ok, err)
		}

		// the unit still takes the fast path
		want := pattern(512, 3)
		if err := tr.WriteBlock(1, want); err != nil {
			t.Fatal(err)
		}
		if n := chip.Stats().SectorErases; n != 0 {
			t.Errorf("sector erases = %d, want 0", n)
		}
		if !bytes.Equal(chip.Bytes()[:512], blank) || !bytes.Equal(chip.Bytes()[512:1024], want) {
			t.Error("unit content differs")
		}
	})

	t.Run("bitmap", func(t *testing.T) {
		b, _ := newBitmap(t)
		tr, _ := newTestTranslator(t, WithTracker(b))
		if err := tr.WriteBlock(0, blank); err != nil {
			t.Fatal(err)
		}
		if ok, err := tr.UnitBlank(0); err != nil || ok {
			t.Errorf("UnitBlank(0) = %v, %v, want false", ok, err)
		}
	})
}

func TestTranslator_BitmapClearedBeforeProgram(t *testing.T) {
	chip := flash.NewMemoryChip(testGeometry)
	b, m := newBitmap(t)
	tr, err := New(chip, testGeometry, WithTracker(b))
	if err != nil {
		t.Fatal(err)
	}

	var programs, stale int
	chip.Fault = func(op flash.Op, addr uint32) error {
		if op != flash.OpProgram {
			return nil
		}
		programs++
		if ok, _ := m.IsErased(testGeometry.SectorOf(addr)); ok {
			stale++
		}
		return nil
	}

	if err := tr.WriteBlock(3, pattern(512, 1)); err != nil {
		t.Fatal(err)
	}
	if err := tr.WriteBlock(3, pattern(512, 2)); err != nil {
		t.Fatal(err)
	}
	if programs != 2 {
		t.Fatalf("programs = %d, want 2", programs)
	}
	if stale != 0 {
		t.Errorf("%d programs started while the unit was still marked erased", stale)
	}
}

func TestTranslator_AbortedWriteLeavesUnitDirty(t *testing.T) {
	chip := flash.NewMemoryChip(testGeometry)
	b, m := newBitmap(t)
	tr, err := New(chip, testGeometry, WithTracker(b))
	if err != nil {
		t.Fatal(err)
	}
	chip.Fault = func(op flash.Op, addr uint32) error {
		if op == flash.OpProgram {
			return errors.New("power lost")
		}
		return nil
	}

	err = tr.WriteBlock(0, pattern(512, 1))
	if !errors.Is(err, pkg.ErrHardwareIO) {
		t.Fatalf("WriteBlock() error = %v, want %v", err, pkg.ErrHardwareIO)
	}
	if ok, _ := m.IsErased(0); ok {
		t.Error("unit still marked erased after a failed program")
	}
}

func TestTranslator_VerificationMismatch(t *testing.T) {
	chip := &corruptingChip{MemoryChip: flash.NewMemoryChip(testGeometry)}
	tr, err := New(chip, testGeometry)
	if err != nil {
		t.Fatal(err)
	}

	if err := tr.WriteBlock(2, pattern(512, 1)); err != nil {
		t.Fatal(err)
	}

	chip.addr = 2*512 + 100
	chip.armed = true
	data := make([]byte, 512)
	err = tr.WriteBlock(2, data)
	if !errors.Is(err, pkg.ErrVerificationMismatch) {
		t.Fatalf("WriteBlock() error = %v, want %v", err, pkg.ErrVerificationMismatch)
	}
	if pkg.KindOf(err) != pkg.KindVerificationMismatch {
		t.Errorf("KindOf() = %v", pkg.KindOf(err))
	}
	var m *MismatchError
	if !errors.As(err, &m) {
		t.Fatalf("error %v does not carry a MismatchError", err)
	}
	if m.Addr != chip.addr || m.Want != 0x00 || m.Got != 0x01 {
		t.Errorf("MismatchError = %+v", m)
	}
}

func TestTranslator_Validation(t *testing.T) {
	tr, chip := newTestTranslator(t)
	chip.ResetStats()

	tests := []struct {
		name string
		fn   func() error
		want error
	}{
		{"read past max", func() error { return tr.ReadBlock(128, make([]byte, 512)) }, pkg.ErrInvalidAddress},
		{"write past max", func() error { return tr.WriteBlock(128, make([]byte, 512)) }, pkg.ErrInvalidAddress},
		{"short read buffer", func() error { return tr.ReadBlock(0, make([]byte, 511)) }, pkg.ErrBufferTooSmall},
		{"long write buffer", func() error { return tr.WriteBlock(0, make([]byte, 513)) }, pkg.ErrBufferTooSmall},
		{"read bytes past end", func() error { return tr.ReadBytes(testGeometry.Capacity-1, make([]byte, 2)) }, pkg.ErrInvalidAddress},
		{"program past end", func() error { return tr.Program(testGeometry.Capacity, []byte{0}) }, pkg.ErrInvalidAddress},
		{"erase past end", func() error { return tr.EraseSector(testGeometry.Capacity) }, pkg.ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
	if st := chip.Stats(); st != (flash.Stats{}) {
		t.Errorf("chip accessed during validation: %+v", st)
	}
}

func TestTranslator_HardwareErrors(t *testing.T) {
	tests := []struct {
		name string
		op   flash.Op
		run  func(*Translator) error
		want pkg.Kind
	}{
		{"read", flash.OpRead, func(tr *Translator) error {
			return tr.ReadBlock(0, make([]byte, 512))
		}, pkg.KindHardwareIO},
		{"program", flash.OpProgram, func(tr *Translator) error {
			return tr.WriteBlock(0, make([]byte, 512))
		}, pkg.KindHardwareIO},
		{"erase sector", flash.OpEraseSector, func(tr *Translator) error {
			return tr.EraseSector(0)
		}, pkg.KindEraseFailure},
		{"erase chip", flash.OpEraseChip, func(tr *Translator) error {
			return tr.EraseDevice()
		}, pkg.KindEraseFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, chip := newTestTranslator(t)
			chip.Fault = func(op flash.Op, addr uint32) error {
				if op == tt.op {
					return errors.New("bus error")
				}
				return nil
			}
			err := tt.run(tr)
			if got := pkg.KindOf(err); got != tt.want {
				t.Errorf("KindOf(%v) = %v, want %v", err, got, tt.want)
			}
		})
	}
}

func TestTranslator_SlowPathEraseFailure(t *testing.T) {
	tr, chip := newTestTranslator(t)
	if err := tr.WriteBlock(0, pattern(512, 1)); err != nil {
		t.Fatal(err)
	}
	chip.Fault = func(op flash.Op, addr uint32) error {
		if op == flash.OpEraseSector {
			return errors.New("erase suspended")
		}
		return nil
	}
	if err := tr.WriteBlock(0, pattern(512, 2)); !errors.Is(err, pkg.ErrEraseFailure) {
		t.Errorf("WriteBlock() error = %v, want %v", err, pkg.ErrEraseFailure)
	}
}

func TestTranslator_ByteAddressed(t *testing.T) {
	tr, _ := newTestTranslator(t)

	// spans the boundary between units 0 and 1
	data := pattern(1024, 3)
	addr := uint32(4096 - 300)
	if err := tr.Program(addr, data); err != nil {
		t.Fatalf("Program() error = %v", err)
	}
	got := make([]byte, len(data))
	if err := tr.ReadBytes(addr, got); err != nil {
		t.Fatalf("ReadBytes() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("ReadBytes() differs from programmed data")
	}

	// programming over data without an erase cannot produce new content
	if err := tr.Program(addr, pattern(16, 0x80)); !errors.Is(err, pkg.ErrVerificationMismatch) {
		t.Errorf("Program() over data error = %v, want %v", err, pkg.ErrVerificationMismatch)
	}

	if err := tr.EraseSector(0); err != nil {
		t.Fatalf("EraseSector() error = %v", err)
	}
	if ok, _ := tr.UnitBlank(0); !ok {
		t.Error("UnitBlank(0) = false after EraseSector")
	}
	if ok, _ := tr.UnitBlank(1); ok {
		t.Error("UnitBlank(1) = true, erase spilled into next unit")
	}
	if err := tr.Program(addr, pattern(16, 0x80)); err != nil {
		t.Errorf("Program() after erase error = %v", err)
	}
}

func TestTranslator_Timing(t *testing.T) {
	tr, _ := newTestTranslator(t)
	if tr.Timing() != flash.DefaultTiming() {
		t.Errorf("Timing() = %+v, want default", tr.Timing())
	}

	custom := flash.Timing{PageProgram: time.Millisecond, SectorErase: time.Second, ChipErase: time.Minute}
	tr, _ = newTestTranslator(t, WithTiming(custom))
	if tr.Timing() != custom {
		t.Errorf("Timing() = %+v, want %+v", tr.Timing(), custom)
	}
}
