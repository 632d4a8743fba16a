package nvm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/ardnew/papernote/pkg"
)

// FileEEPROM is an EEPROM backed by an image file, used by host tooling to
// inspect and edit a dumped control store.
type FileEEPROM struct {
	file *os.File
	size uint32

	mutex sync.Mutex
}

// NewFileEEPROM opens or creates the image at path. A short image is
// extended with blank bytes.
func NewFileEEPROM(path string, size uint32) (*FileEEPROM, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	switch n := stat.Size(); {
	case n > int64(size):
		file.Close()
		return nil, fmt.Errorf("nvm: image %s is %d bytes, larger than %d: %w",
			path, n, size, pkg.ErrInvalidParameter)
	case n < int64(size):
		pad := bytes.Repeat([]byte{Erased}, int(int64(size)-n))
		if _, err := file.WriteAt(pad, n); err != nil {
			file.Close()
			return nil, err
		}
	}
	return &FileEEPROM{file: file, size: size}, nil
}

// Size returns the store size in bytes.
func (f *FileEEPROM) Size() uint32 { return f.size }

// Read copies len(buf) bytes at off into buf.
func (f *FileEEPROM) Read(off uint32, buf []byte) error {
	if err := checkRange("eeprom read", f.size, off, len(buf)); err != nil {
		return err
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if _, err := f.file.ReadAt(buf, int64(off)); err != nil {
		return pkg.Wrap("eeprom read", off, pkg.ErrHardwareIO, err)
	}
	return nil
}

// ReadWord loads the word at off.
func (f *FileEEPROM) ReadWord(off uint32) (uint32, error) {
	if err := checkWord("eeprom read", f.size, off); err != nil {
		return 0, err
	}
	var b [4]byte
	if err := f.Read(off, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (f *FileEEPROM) write(off uint32, b []byte) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if _, err := f.file.WriteAt(b, int64(off)); err != nil {
		return pkg.Wrap("eeprom write", off, pkg.ErrHardwareIO, err)
	}
	return nil
}

// WriteWord stores v at off.
func (f *FileEEPROM) WriteWord(off uint32, v uint32) error {
	if err := checkWord("eeprom write", f.size, off); err != nil {
		return err
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return f.write(off, b[:])
}

// WriteByteAt stores v at off.
func (f *FileEEPROM) WriteByteAt(off uint32, v byte) error {
	if err := checkRange("eeprom write", f.size, off, 1); err != nil {
		return err
	}
	return f.write(off, []byte{v})
}

// Close closes the underlying file.
func (f *FileEEPROM) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

// Compile-time interface check
var _ EEPROM = (*FileEEPROM)(nil)
