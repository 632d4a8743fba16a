package flash

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/ardnew/papernote/pkg"
)

// FileChip emulates a NOR flash backed by an image file. A missing or
// short image is extended with erased (0xFF) bytes.
type FileChip struct {
	file *os.File
	geo  Geometry
	id   JEDECID

	mutex sync.Mutex
	buf   []byte
}

// NewFileChip opens or creates the image at path.
func NewFileChip(path string, geo Geometry) (*FileChip, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	f := &FileChip{
		file: file,
		geo:  geo,
		id:   JEDECID{0xEF, DefaultDeviceID[0], DefaultDeviceID[1]},
		buf:  make([]byte, geo.SectorSize),
	}

	if size := stat.Size(); size < int64(geo.Capacity) {
		pkg.LogInfo(pkg.ComponentFlash, "extending flash image",
			"path", path,
			"from", size,
			"to", geo.Capacity)
		if err := f.fillFF(uint32(size), geo.Capacity-uint32(size)); err != nil {
			file.Close()
			return nil, err
		}
	} else if size > int64(geo.Capacity) {
		file.Close()
		return nil, fmt.Errorf("flash: image %s is %d bytes, larger than capacity %d: %w",
			path, size, geo.Capacity, pkg.ErrInvalidParameter)
	}

	return f, nil
}

// Geometry returns the chip geometry.
func (f *FileChip) Geometry() Geometry { return f.geo }

// SetID sets the identifier returned by ReadID.
func (f *FileChip) SetID(id JEDECID) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.id = id
}

func (f *FileChip) fillFF(addr, n uint32) error {
	ff := bytes.Repeat([]byte{0xFF}, int(f.geo.SectorSize))
	for n > 0 {
		c := min(n, uint32(len(ff)))
		if _, err := f.file.WriteAt(ff[:c], int64(addr)); err != nil {
			return err
		}
		addr += c
		n -= c
	}
	return nil
}

// Read reads len(buf) bytes at addr from the image.
func (f *FileChip) Read(addr uint32, buf []byte) error {
	if !f.geo.Contains(addr, len(buf)) {
		return pkg.Wrap("read", addr, pkg.ErrInvalidAddress, nil)
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if _, err := f.file.ReadAt(buf, int64(addr)); err != nil {
		return pkg.Wrap("read", addr, nil, err)
	}
	return nil
}

// Program ANDs data into the image at addr, one sector-sized piece at a
// time.
func (f *FileChip) Program(addr uint32, data []byte) error {
	if !f.geo.Contains(addr, len(data)) {
		return pkg.Wrap("program", addr, pkg.ErrInvalidAddress, nil)
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()

	for off := 0; off < len(data); {
		n := min(len(data)-off, len(f.buf))
		a := int64(addr) + int64(off)
		cur := f.buf[:n]
		if _, err := f.file.ReadAt(cur, a); err != nil {
			return pkg.Wrap("program", uint32(a), nil, err)
		}
		for i := range cur {
			cur[i] &= data[off+i]
		}
		if _, err := f.file.WriteAt(cur, a); err != nil {
			return pkg.Wrap("program", uint32(a), nil, err)
		}
		off += n
	}
	return nil
}

// EraseSector fills the sector containing addr with 0xFF.
func (f *FileChip) EraseSector(addr uint32) error {
	if !f.geo.Contains(addr, 1) {
		return pkg.Wrap("erase sector", addr, pkg.ErrInvalidAddress, nil)
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	base := f.geo.SectorBase(f.geo.SectorOf(addr))
	if err := f.fillFF(base, f.geo.SectorSize); err != nil {
		return pkg.Wrap("erase sector", base, nil, err)
	}
	return nil
}

// EraseChip fills the whole image with 0xFF.
func (f *FileChip) EraseChip() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if err := f.fillFF(0, f.geo.Capacity); err != nil {
		return pkg.Wrap("erase chip", 0, nil, err)
	}
	return nil
}

// ReadID returns the configured JEDEC identifier.
func (f *FileChip) ReadID() (JEDECID, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.id, nil
}

// Sync flushes the image to disk.
func (f *FileChip) Sync() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.file == nil {
		return nil
	}
	return f.file.Sync()
}

// Close closes the underlying file.
func (f *FileChip) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file != nil {
		err := f.file.Close()
		f.file = nil
		return err
	}
	return nil
}

// Compile-time interface check
var _ Chip = (*FileChip)(nil)
