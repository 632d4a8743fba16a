package board

import (
	"fmt"

	"github.com/ardnew/papernote/flash"
	"github.com/ardnew/papernote/ftl"
	"github.com/ardnew/papernote/msc"
	"github.com/ardnew/papernote/pkg"
)

// TrackerKind selects how the translator learns whether a sector is blank.
type TrackerKind string

// Tracker kinds.
const (
	TrackerScan   TrackerKind = "scan"
	TrackerBitmap TrackerKind = "bitmap"
)

// Config holds the deployment parameters of the storage subsystem.
type Config struct {
	Geometry  flash.Geometry
	BlockSize uint32
	Tracker   TrackerKind

	// RebuildBitmap rescans flash into the sector map at start-up. Only
	// used with TrackerBitmap.
	RebuildBitmap bool

	DeviceID  [2]byte
	IDRetries int

	MaxChunk int
	Vendor   string
	Product  string
	Revision string

	// Version is reported from the update protocol's version region.
	Version string
}

// DefaultConfig returns the configuration of the shipped hardware.
func DefaultConfig() Config {
	return Config{
		Geometry:      flash.DefaultGeometry(),
		BlockSize:     ftl.DefaultBlockSize,
		Tracker:       TrackerScan,
		RebuildBitmap: true,
		DeviceID:      flash.DefaultDeviceID,
		IDRetries:     flash.DefaultIDRetries,
		MaxChunk:      msc.DefaultMaxChunk,
		Vendor:        "papernot",
		Product:       "Note Storage",
		Revision:      "1.0",
		Version:       pkg.Version(),
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if err := c.Geometry.Validate(); err != nil {
		return err
	}
	if c.BlockSize < ftl.MinBlockSize || c.BlockSize > c.Geometry.SectorSize ||
		c.Geometry.SectorSize%c.BlockSize != 0 {
		return fmt.Errorf("board: block size %d with %d-byte sectors: %w",
			c.BlockSize, c.Geometry.SectorSize, pkg.ErrInvalidParameter)
	}
	switch c.Tracker {
	case TrackerScan, TrackerBitmap:
	default:
		return fmt.Errorf("board: tracker %q: %w", c.Tracker, pkg.ErrInvalidParameter)
	}
	if c.IDRetries < 1 {
		return fmt.Errorf("board: %d ID retries: %w", c.IDRetries, pkg.ErrInvalidParameter)
	}
	if c.MaxChunk < msc.DefaultMaxChunk {
		return fmt.Errorf("board: max chunk %d below %d: %w",
			c.MaxChunk, msc.DefaultMaxChunk, pkg.ErrInvalidParameter)
	}
	return nil
}
