package board

import (
	"context"
	"fmt"

	"github.com/ardnew/papernote/content"
	"github.com/ardnew/papernote/dfu"
	"github.com/ardnew/papernote/flash"
	"github.com/ardnew/papernote/ftl"
	"github.com/ardnew/papernote/msc"
	"github.com/ardnew/papernote/nvm"
	"github.com/ardnew/papernote/pkg"
)

// Board owns the flash and EEPROM and the components built over them.
// The translator is the only path to flash; the control record is the
// only path to EEPROM bank 1.
type Board struct {
	cfg     Config
	id      flash.JEDECID
	chip    flash.Chip
	tracker ftl.Tracker
	ftl     *ftl.Translator
	control *nvm.Control
	dfu     *dfu.Memory
	msc     *msc.MSC
	content content.Config
}

// New checks the flash identity and wires the storage components. A nil
// transport builds a board without the mass-storage processor.
func New(chip flash.Chip, eeprom nvm.EEPROM, transport msc.Transport, cfg Config) (*Board, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id, err := flash.CheckID(chip, cfg.DeviceID, cfg.IDRetries)
	if err != nil {
		return nil, err
	}

	b := &Board{cfg: cfg, id: id, chip: chip}

	scan := ftl.NewScanTracker(chip, cfg.Geometry)
	switch cfg.Tracker {
	case TrackerBitmap:
		sm, err := nvm.NewSectorMap(eeprom, cfg.Geometry.Sectors())
		if err != nil {
			return nil, err
		}
		bm := ftl.NewBitmapTracker(sm)
		if cfg.RebuildBitmap {
			if _, err := bm.Rebuild(scan); err != nil {
				return nil, fmt.Errorf("board: rebuild sector map: %w", err)
			}
		}
		b.tracker = bm
	default:
		b.tracker = scan
	}

	b.ftl, err = ftl.New(chip, cfg.Geometry,
		ftl.WithBlockSize(cfg.BlockSize),
		ftl.WithTracker(b.tracker))
	if err != nil {
		return nil, err
	}

	b.control = nvm.NewControl(eeprom)

	b.dfu, err = dfu.New(b.ftl, b.control, dfu.WithVersion(cfg.Version))
	if err != nil {
		return nil, err
	}

	if transport != nil {
		b.msc = msc.New(b.ftl, transport, cfg.Vendor, cfg.Product,
			msc.WithMaxChunk(cfg.MaxChunk),
			msc.WithRevision(cfg.Revision))
	}

	b.content, err = content.Load(b.ftl)
	if err != nil {
		pkg.LogWarn(pkg.ComponentBoard, "content configuration unreadable", "error", err)
	}

	pkg.LogInfo(pkg.ComponentBoard, "storage ready",
		"id", id.String(),
		"tracker", cfg.Tracker,
		"blockSize", cfg.BlockSize,
		"blocks", b.ftl.BlockCount())
	return b, nil
}

// Config returns the configuration the board was built with.
func (b *Board) Config() Config { return b.cfg }

// ID returns the JEDEC ID read at start-up.
func (b *Board) ID() flash.JEDECID { return b.id }

// Translator returns the flash block translator.
func (b *Board) Translator() *ftl.Translator { return b.ftl }

// Tracker returns the erase-state tracker in use.
func (b *Board) Tracker() ftl.Tracker { return b.tracker }

// Control returns the persisted control record.
func (b *Board) Control() *nvm.Control { return b.control }

// DFU returns the update-protocol address space.
func (b *Board) DFU() *dfu.Memory { return b.dfu }

// MSC returns the mass-storage processor, or nil without a transport.
func (b *Board) MSC() *msc.MSC { return b.msc }

// Content returns the content layout read at start-up.
func (b *Board) Content() content.Config { return b.content }

// Run serves mass-storage commands until ctx is done.
func (b *Board) Run(ctx context.Context) error {
	if b.msc == nil {
		return fmt.Errorf("board: no mass-storage transport: %w", pkg.ErrNotSupported)
	}
	return b.msc.Run(ctx)
}

// Reset handles a USB bus reset or reconfiguration. Any mass-storage
// transfer in progress is abandoned.
func (b *Board) Reset() {
	pkg.LogInfo(pkg.ComponentBoard, "USB reset")
	if b.msc != nil {
		b.msc.Reset()
	}
}

// SetWakeReason records why the device woke. Callers on the wake path
// have no way to report a failure, so it is logged.
func (b *Board) SetWakeReason(r nvm.WakeReason) {
	if err := b.control.SetWakeReason(r); err != nil {
		pkg.LogError(pkg.ComponentBoard, "store wake reason", "reason", r, "error", err)
	}
}

// NextContent advances the display address to the next content page and
// marks its answer pending. It returns the new address.
func (b *Board) NextContent() (uint32, error) {
	addr, ok, err := b.control.DisplayAddress()
	if err != nil {
		return 0, err
	}
	next := b.content.PageAddress(0)
	if ok {
		next = b.content.NextPage(addr)
	}
	if err := b.control.SetDisplayAddress(next); err != nil {
		return 0, err
	}
	if err := b.control.SetAnswerPending(true); err != nil {
		return 0, err
	}
	return next, nil
}

// Compile-time interface checks
var (
	_ msc.BlockDevice = (*ftl.Translator)(nil)
	_ dfu.FlashStore  = (*ftl.Translator)(nil)
	_ content.Reader  = (*ftl.Translator)(nil)
)
