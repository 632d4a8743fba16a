package msc

import (
	"fmt"
	"sync"

	"github.com/ardnew/papernote/pkg"
)

// Direction is the data phase direction of a transfer.
type Direction uint8

// Transfer directions.
const (
	DirectionIn  Direction = iota // device to host (read)
	DirectionOut                  // host to device (write)
)

func (d Direction) String() string {
	if d == DirectionIn {
		return "in"
	}
	return "out"
}

// State is the state of a Transfer.
type State uint8

// Transfer states.
const (
	StateIdle State = iota
	StateInProgress
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInProgress:
		return "in-progress"
	default:
		return "unknown"
	}
}

// Cursor tracks the progress of one multi-block command. Total and Offset
// are in bytes.
type Cursor struct {
	LBA    uint32
	Total  uint32
	Offset uint32
}

// Transfer moves one multi-block read or write through a BlockDevice in
// bounded chunks, one protocol callback at a time. Only one transfer is
// ever in progress.
type Transfer struct {
	dev      BlockDevice
	maxChunk int

	mutex  sync.Mutex
	state  State
	dir    Direction
	cursor Cursor
	block  []byte
}

// NewTransfer returns an idle transfer over dev moving at most maxChunk
// bytes per Step.
func NewTransfer(dev BlockDevice, maxChunk int) *Transfer {
	if maxChunk <= 0 {
		maxChunk = DefaultMaxChunk
	}
	return &Transfer{
		dev:      dev,
		maxChunk: maxChunk,
		block:    make([]byte, dev.BlockSize()),
	}
}

// MaxChunk returns the per-step byte limit.
func (x *Transfer) MaxChunk() int { return x.maxChunk }

// State returns the current state.
func (x *Transfer) State() State {
	x.mutex.Lock()
	defer x.mutex.Unlock()
	return x.state
}

// Cursor returns a copy of the cursor. It is zero while idle.
func (x *Transfer) Cursor() Cursor {
	x.mutex.Lock()
	defer x.mutex.Unlock()
	return x.cursor
}

// Begin starts a transfer of blocks blocks at lba. A transfer already in
// progress is discarded first.
func (x *Transfer) Begin(dir Direction, lba, blocks uint32) error {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	if x.state != StateIdle {
		pkg.LogWarn(pkg.ComponentMSC, "transfer started while another in progress",
			"lba", x.cursor.LBA,
			"offset", x.cursor.Offset,
			"total", x.cursor.Total)
		x.reset()
	}

	bs := x.dev.BlockSize()
	switch {
	case blocks == 0:
		return fmt.Errorf("msc: empty transfer: %w", pkg.ErrInvalidParameter)
	case uint64(lba)+uint64(blocks) > uint64(x.dev.MaxLBA())+1:
		return pkg.Wrap("transfer", lba, pkg.ErrInvalidAddress, nil)
	case blocks > MaxTransferBlocks:
		return pkg.Wrap("transfer", lba, pkg.ErrUnsupportedLength,
			fmt.Errorf("%d blocks of %d bytes", blocks, bs))
	}

	x.dir = dir
	x.cursor = Cursor{LBA: lba, Total: blocks * bs}
	x.state = StateInProgress
	pkg.LogDebug(pkg.ComponentMSC, "transfer begin",
		"dir", dir,
		"lba", lba,
		"blocks", blocks)
	return nil
}

// Step moves the next window of at most MaxChunk bytes. For a read it
// fills buf and returns the bytes produced; for a write it consumes buf and
// returns the bytes taken. Partial blocks are held until complete. When
// the last byte has moved, done is true and the transfer is idle again.
// Any device error discards the transfer.
func (x *Transfer) Step(buf []byte) (n int, done bool, err error) {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	if x.state != StateInProgress {
		return 0, false, fmt.Errorf("msc: no transfer in progress: %w", pkg.ErrAborted)
	}

	c := &x.cursor
	want := min(len(buf), x.maxChunk, int(c.Total-c.Offset))
	bs := x.dev.BlockSize()

	for n < want {
		lba := c.LBA + c.Offset/bs
		inBlock := int(c.Offset % bs)
		k := min(want-n, int(bs)-inBlock)

		switch x.dir {
		case DirectionIn:
			if inBlock == 0 {
				if err := x.dev.ReadBlock(lba, x.block); err != nil {
					return x.fail(n, err)
				}
			}
			copy(buf[n:n+k], x.block[inBlock:])
		case DirectionOut:
			copy(x.block[inBlock:], buf[n:n+k])
			if inBlock+k == int(bs) {
				if err := x.dev.WriteBlock(lba, x.block); err != nil {
					return x.fail(n, err)
				}
			}
		}
		n += k
		c.Offset += uint32(k)
	}

	if c.Offset == c.Total {
		pkg.LogDebug(pkg.ComponentMSC, "transfer complete",
			"lba", c.LBA,
			"bytes", c.Total)
		x.reset()
		return n, true, nil
	}
	return n, false, nil
}

func (x *Transfer) fail(n int, err error) (int, bool, error) {
	pkg.LogWarn(pkg.ComponentMSC, "transfer aborted",
		"dir", x.dir,
		"lba", x.cursor.LBA,
		"offset", x.cursor.Offset,
		"error", err)
	x.reset()
	return n, false, err
}

// Reset discards any transfer in progress. It is called on a host USB
// reset, a Bulk-Only reset and on reconfiguration.
func (x *Transfer) Reset() {
	x.mutex.Lock()
	defer x.mutex.Unlock()
	if x.state == StateInProgress {
		pkg.LogInfo(pkg.ComponentMSC, "transfer reset",
			"lba", x.cursor.LBA,
			"offset", x.cursor.Offset)
	}
	x.reset()
}

func (x *Transfer) reset() {
	x.state = StateIdle
	x.cursor = Cursor{}
}
