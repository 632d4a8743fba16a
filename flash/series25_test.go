package flash

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/spi"

	"github.com/ardnew/papernote/pkg"
)

// norEmulator interprets 25-series commands behind an spi.Conn.
type norEmulator struct {
	mem []byte
	id  [3]byte
	cs  *gpiotest.Pin

	pageSize   int
	sectorSize int

	wel       bool
	busyPolls int // status reads reporting busy after each program/erase
	pending   int

	opcodes    []byte
	addrs      []uint32
	deselected int // transactions issued without chip select asserted
	failTx     error
}

func newNOREmulator(geo Geometry, cs *gpiotest.Pin) *norEmulator {
	e := &norEmulator{
		mem:        bytes.Repeat([]byte{0xFF}, int(geo.Capacity)),
		id:         [3]byte{0xEF, 0x40, 0x18},
		cs:         cs,
		pageSize:   int(geo.PageSize),
		sectorSize: int(geo.SectorSize),
	}
	return e
}

func (e *norEmulator) String() string      { return "nor-emulator" }
func (e *norEmulator) Duplex() conn.Duplex { return conn.Full }

func (e *norEmulator) TxPackets(p []spi.Packet) error {
	return errors.New("packets not supported")
}

func (e *norEmulator) Tx(w, r []byte) error {
	if e.failTx != nil {
		return e.failTx
	}
	if e.cs.Read() != gpio.Low {
		e.deselected++
	}
	if len(w) == 0 {
		return nil
	}
	cmd := w[0]
	e.opcodes = append(e.opcodes, cmd)
	var addr int
	if len(w) >= 4 {
		addr = int(w[1])<<16 | int(w[2])<<8 | int(w[3])
	}

	switch cmd {
	case cmdReleasePowerDown, cmdPowerDown:
	case cmdReadID:
		copy(r[1:], e.id[:])
	case cmdReadStatus:
		var sr byte
		if e.wel {
			sr |= 0x02
		}
		if e.pending > 0 {
			sr |= 0x01
			e.pending--
		}
		r[1] = sr
	case cmdWriteEnable:
		e.wel = true
	case cmdRead:
		e.addrs = append(e.addrs, uint32(addr))
		copy(r[4:], e.mem[addr:])
	case cmdPageProgram:
		e.addrs = append(e.addrs, uint32(addr))
		if !e.wel {
			return nil
		}
		base := addr - addr%e.pageSize
		for i, b := range w[4:] {
			// page program wraps within the page
			a := base + (addr-base+i)%e.pageSize
			e.mem[a] &= b
		}
		e.wel = false
		e.pending = e.busyPolls
	case cmdSectorErase:
		e.addrs = append(e.addrs, uint32(addr))
		if !e.wel {
			return nil
		}
		base := addr - addr%e.sectorSize
		for i := base; i < base+e.sectorSize; i++ {
			e.mem[i] = 0xFF
		}
		e.wel = false
		e.pending = e.busyPolls
	case cmdChipErase:
		if !e.wel {
			return nil
		}
		for i := range e.mem {
			e.mem[i] = 0xFF
		}
		e.wel = false
		e.pending = e.busyPolls
	}
	return nil
}

func (e *norEmulator) count(cmd byte) int {
	n := 0
	for _, c := range e.opcodes {
		if c == cmd {
			n++
		}
	}
	return n
}

// countingLocker records how often the shared bus was taken.
type countingLocker struct {
	locks, unlocks int
}

func (l *countingLocker) Lock()   { l.locks++ }
func (l *countingLocker) Unlock() { l.unlocks++ }

var testGeometry = Geometry{Capacity: 64 * 1024, SectorSize: 4096, PageSize: 256}

func newTestSeries25(t *testing.T, opts ...Option) (*Series25, *norEmulator, *gpiotest.Pin) {
	t.Helper()
	cs := &gpiotest.Pin{N: "CS", L: gpio.Low}
	emu := newNOREmulator(testGeometry, cs)
	opts = append([]Option{
		WithGeometry(testGeometry),
		WithSettle(0),
		WithPollInterval(0),
	}, opts...)
	s, err := NewSeries25(emu, cs, opts...)
	if err != nil {
		t.Fatalf("NewSeries25() error = %v", err)
	}
	return s, emu, cs
}

func TestNewSeries25(t *testing.T) {
	s, emu, cs := newTestSeries25(t)

	if cs.Read() != gpio.High {
		t.Error("chip select not left inactive after init")
	}
	if emu.count(cmdReleasePowerDown) != 1 {
		t.Errorf("release power-down sent %d times, want 1", emu.count(cmdReleasePowerDown))
	}
	if s.Geometry() != testGeometry {
		t.Errorf("Geometry() = %+v, want %+v", s.Geometry(), testGeometry)
	}
}

func TestNewSeries25_InvalidGeometry(t *testing.T) {
	cs := &gpiotest.Pin{N: "CS"}
	emu := newNOREmulator(testGeometry, cs)

	tests := []struct {
		name string
		geo  Geometry
		want error
	}{
		{"ragged sectors", Geometry{Capacity: 10000, SectorSize: 4096, PageSize: 256}, pkg.ErrInvalidParameter},
		{"32 MiB", Geometry{Capacity: 32 << 20, SectorSize: 4096, PageSize: 256}, pkg.ErrNotSupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSeries25(emu, cs, WithGeometry(tt.geo), WithSettle(0))
			if !errors.Is(err, tt.want) {
				t.Errorf("NewSeries25() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSeries25_ReadID(t *testing.T) {
	s, _, _ := newTestSeries25(t)

	id, err := s.ReadID()
	if err != nil {
		t.Fatalf("ReadID() error = %v", err)
	}
	if id != (JEDECID{0xEF, 0x40, 0x18}) {
		t.Errorf("ReadID() = %v, want EF 40 18", id)
	}
	if _, err := CheckID(s, DefaultDeviceID, 3); err != nil {
		t.Errorf("CheckID() error = %v", err)
	}
}

func TestSeries25_ProgramSplitsPages(t *testing.T) {
	s, emu, _ := newTestSeries25(t)

	data := make([]byte, 600)
	for i := range data {
		data[i] = byte(i)
	}
	if err := s.Program(200, data); err != nil {
		t.Fatalf("Program() error = %v", err)
	}

	if got := emu.count(cmdPageProgram); got != 4 {
		t.Errorf("page programs = %d, want 4", got)
	}
	wantAddrs := []uint32{200, 256, 512, 768}
	if len(emu.addrs) != len(wantAddrs) {
		t.Fatalf("program addresses = %v, want %v", emu.addrs, wantAddrs)
	}
	for i, a := range wantAddrs {
		if emu.addrs[i] != a {
			t.Errorf("program address[%d] = %d, want %d", i, emu.addrs[i], a)
		}
	}
	if !bytes.Equal(emu.mem[200:800], data) {
		t.Error("programmed content differs")
	}
	if emu.deselected != 0 {
		t.Errorf("%d transactions without chip select", emu.deselected)
	}
}

func TestSeries25_ReadChunks(t *testing.T) {
	s, emu, _ := newTestSeries25(t)

	for i := range emu.mem[:3000] {
		emu.mem[i] = byte(i * 7)
	}
	buf := make([]byte, 3000)
	if err := s.Read(0, buf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(buf, emu.mem[:3000]) {
		t.Error("read content differs")
	}
	if got := emu.count(cmdRead); got != 3 {
		t.Errorf("read transactions = %d, want 3", got)
	}
}

func TestSeries25_EraseSectorPollsBusy(t *testing.T) {
	s, emu, _ := newTestSeries25(t)
	emu.busyPolls = 3

	for i := 4096; i < 8192; i++ {
		emu.mem[i] = 0
	}
	if err := s.EraseSector(4096 + 17); err != nil {
		t.Fatalf("EraseSector() error = %v", err)
	}
	if emu.addrs[len(emu.addrs)-1] != 4096 {
		t.Errorf("erase address = %d, want sector base 4096", emu.addrs[len(emu.addrs)-1])
	}
	for i := 4096; i < 8192; i++ {
		if emu.mem[i] != 0xFF {
			t.Fatalf("byte %d = %#x after erase, want 0xFF", i, emu.mem[i])
		}
	}
	if emu.pending != 0 {
		t.Errorf("returned while chip still busy (%d polls left)", emu.pending)
	}
}

func TestSeries25_EraseTimeout(t *testing.T) {
	s, emu, _ := newTestSeries25(t, WithTiming(Timing{
		PageProgram: time.Millisecond,
		SectorErase: time.Millisecond,
		ChipErase:   time.Millisecond,
	}), WithPollInterval(time.Millisecond))
	emu.busyPolls = 1 << 30

	err := s.EraseChip()
	if !errors.Is(err, pkg.ErrEraseFailure) {
		t.Errorf("EraseChip() error = %v, want %v", err, pkg.ErrEraseFailure)
	}
	if !errors.Is(err, pkg.ErrTimeout) {
		t.Errorf("EraseChip() error = %v, want %v", err, pkg.ErrTimeout)
	}
}

func TestSeries25_Errors(t *testing.T) {
	s, emu, _ := newTestSeries25(t)

	if err := s.Read(testGeometry.Capacity-4, make([]byte, 8)); !errors.Is(err, pkg.ErrInvalidAddress) {
		t.Errorf("Read() past end error = %v, want %v", err, pkg.ErrInvalidAddress)
	}
	if err := s.Program(testGeometry.Capacity, []byte{0}); !errors.Is(err, pkg.ErrInvalidAddress) {
		t.Errorf("Program() past end error = %v, want %v", err, pkg.ErrInvalidAddress)
	}

	emu.failTx = errors.New("spi: bus fault")
	if err := s.Read(0, make([]byte, 4)); !errors.Is(err, pkg.ErrHardwareIO) {
		t.Errorf("Read() error = %v, want %v", err, pkg.ErrHardwareIO)
	}
	if err := s.Program(0, []byte{0}); !errors.Is(err, pkg.ErrHardwareIO) {
		t.Errorf("Program() error = %v, want %v", err, pkg.ErrHardwareIO)
	}
	if err := s.EraseSector(0); !errors.Is(err, pkg.ErrEraseFailure) {
		t.Errorf("EraseSector() error = %v, want %v", err, pkg.ErrEraseFailure)
	}
	if _, err := CheckID(s, DefaultDeviceID, 2); !errors.Is(err, pkg.ErrDeviceID) {
		t.Errorf("CheckID() error = %v, want %v", err, pkg.ErrDeviceID)
	}
}

func TestSeries25_BusLock(t *testing.T) {
	bus := &countingLocker{}
	s, emu, _ := newTestSeries25(t, WithBusLock(bus))
	before := len(emu.opcodes)

	if _, err := s.ReadStatus(); err != nil {
		t.Fatalf("ReadStatus() error = %v", err)
	}
	if err := s.Program(0, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Program() error = %v", err)
	}

	txs := len(emu.opcodes)
	if bus.locks != txs || bus.unlocks != txs {
		t.Errorf("bus locks/unlocks = %d/%d, want %d each", bus.locks, bus.unlocks, txs)
	}
	if txs-before < 4 {
		t.Errorf("expected status, write enable, program and poll transactions, got %d", txs-before)
	}
}

func TestStatusRegister_String(t *testing.T) {
	tests := []struct {
		sr   StatusRegister
		want string
	}{
		{0x00, "00000000"},
		{0x03, "00000011 WEL,BUSY"},
		{0x1C, "00011100 BP=7"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.sr.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
