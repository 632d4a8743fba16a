package content

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ardnew/papernote/pkg"
)

// Location and layout of the configuration record.
const (
	SectorAddress uint32 = 0xFFF000
	Magic         uint32 = 0x23571113
	RecordSize           = 0xC

	offsetMagic    = 0x0
	offsetPageSize = 0x4
	offsetPages    = 0x6
	offsetQuestion = 0xA
	offsetAnswer   = 0xB
)

// Errors returned when the configuration sector holds no valid record.
var (
	ErrBadMagic = errors.New("content: configuration magic mismatch")
	ErrBadKind  = errors.New("content: unknown content kind")
)

// Kind is how the bytes of a question or answer are rendered.
type Kind uint8

// Content kinds.
const (
	KindMonospace Kind = iota
	KindText
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindMonospace:
		return "monospace"
	case KindText:
		return "text"
	case KindImage:
		return "image"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) valid() bool { return k <= KindImage }

// Config describes how note content is laid out in flash. Page n starts at
// n*PageSize.
type Config struct {
	PageSize uint16
	Pages    uint32
	Question Kind
	Answer   Kind
}

// Default returns the configuration used when none is stored: a single
// 8 KiB raw image page at address 0.
func Default() Config {
	return Config{PageSize: 8192, Pages: 1, Question: KindImage, Answer: KindImage}
}

// PageAddress returns the flash address of page n.
func (c Config) PageAddress(n uint32) uint32 {
	return n * uint32(c.PageSize)
}

// NextPage returns the address of the page after the one containing addr,
// wrapping to page 0 after the last.
func (c Config) NextPage(addr uint32) uint32 {
	if c.PageSize == 0 || c.Pages == 0 {
		return 0
	}
	n := addr/uint32(c.PageSize) + 1
	if n >= c.Pages {
		n = 0
	}
	return c.PageAddress(n)
}

// Validate checks that the pages fit below the configuration sector.
func (c Config) Validate() error {
	if !c.Question.valid() || !c.Answer.valid() {
		return fmt.Errorf("%w: question %v, answer %v", ErrBadKind, c.Question, c.Answer)
	}
	if c.PageSize == 0 || c.Pages == 0 {
		return fmt.Errorf("content: empty layout: %w", pkg.ErrInvalidParameter)
	}
	if uint64(c.PageSize)*uint64(c.Pages) > uint64(SectorAddress) {
		return fmt.Errorf("content: %d pages of %d bytes overlap the configuration sector: %w",
			c.Pages, c.PageSize, pkg.ErrInvalidParameter)
	}
	return nil
}

// MarshalTo encodes the record into buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (c Config) MarshalTo(buf []byte) int {
	if len(buf) < RecordSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[offsetMagic:], Magic)
	binary.LittleEndian.PutUint16(buf[offsetPageSize:], c.PageSize)
	binary.LittleEndian.PutUint32(buf[offsetPages:], c.Pages)
	buf[offsetQuestion] = uint8(c.Question)
	buf[offsetAnswer] = uint8(c.Answer)
	return RecordSize
}

// Parse decodes a record.
func Parse(buf []byte) (Config, error) {
	if len(buf) < RecordSize {
		return Config{}, fmt.Errorf("content: record is %d bytes: %w", len(buf), pkg.ErrBufferTooSmall)
	}
	if m := binary.LittleEndian.Uint32(buf[offsetMagic:]); m != Magic {
		return Config{}, fmt.Errorf("%w: 0x%08x", ErrBadMagic, m)
	}
	c := Config{
		PageSize: binary.LittleEndian.Uint16(buf[offsetPageSize:]),
		Pages:    binary.LittleEndian.Uint32(buf[offsetPages:]),
		Question: Kind(buf[offsetQuestion]),
		Answer:   Kind(buf[offsetAnswer]),
	}
	if !c.Question.valid() || !c.Answer.valid() {
		return Config{}, fmt.Errorf("%w: question %v, answer %v", ErrBadKind, c.Question, c.Answer)
	}
	return c, nil
}

// Reader reads flash by byte address.
type Reader interface {
	ReadBytes(addr uint32, buf []byte) error
}

// Read loads the record from the configuration sector.
func Read(r Reader) (Config, error) {
	var buf [RecordSize]byte
	if err := r.ReadBytes(SectorAddress, buf[:]); err != nil {
		return Config{}, err
	}
	return Parse(buf[:])
}

// Load reads the record, falling back to Default when the sector holds no
// valid record. Flash errors are returned alongside the default.
func Load(r Reader) (Config, error) {
	c, err := Read(r)
	switch {
	case err == nil:
		pkg.LogDebug(pkg.ComponentContent, "configuration loaded",
			"pageSize", c.PageSize,
			"pages", c.Pages,
			"question", c.Question,
			"answer", c.Answer)
		return c, nil
	case errors.Is(err, ErrBadMagic), errors.Is(err, ErrBadKind):
		pkg.LogWarn(pkg.ComponentContent, "no valid configuration, using default", "error", err)
		return Default(), nil
	default:
		return Default(), err
	}
}
