package nvm

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ardnew/papernote/pkg"
)

func TestMemoryEEPROM_Words(t *testing.T) {
	mem := NewMemoryEEPROM(16)

	if v, err := mem.ReadWord(4); err != nil || v != 0xFFFFFFFF {
		t.Errorf("ReadWord() blank = %#x, %v", v, err)
	}
	if err := mem.WriteWord(4, 0xCAFEBABE); err != nil {
		t.Fatalf("WriteWord() error = %v", err)
	}
	if v, _ := mem.ReadWord(4); v != 0xCAFEBABE {
		t.Errorf("ReadWord() = %#x, want 0xCAFEBABE", v)
	}
	if err := mem.WriteByteAt(4, 0x00); err != nil {
		t.Fatalf("WriteByteAt() error = %v", err)
	}
	if v, _ := mem.ReadWord(4); v != 0xCAFEBA00 {
		t.Errorf("ReadWord() = %#x, want 0xCAFEBA00", v)
	}
	if mem.Writes != 2 {
		t.Errorf("Writes = %d, want 2", mem.Writes)
	}
}

func TestMemoryEEPROM_Errors(t *testing.T) {
	mem := NewMemoryEEPROM(16)

	tests := []struct {
		name string
		fn   func() error
	}{
		{"misaligned read", func() error { _, err := mem.ReadWord(2); return err }},
		{"misaligned write", func() error { return mem.WriteWord(6, 0) }},
		{"word past end", func() error { return mem.WriteWord(16, 0) }},
		{"byte past end", func() error { return mem.WriteByteAt(16, 0) }},
		{"read past end", func() error { return mem.Read(12, make([]byte, 5)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, pkg.ErrInvalidAddress) {
				t.Errorf("error = %v, want %v", err, pkg.ErrInvalidAddress)
			}
		})
	}
}

func TestFileEEPROM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eeprom.bin")

	f, err := NewFileEEPROM(path, DefaultSize)
	if err != nil {
		t.Fatalf("NewFileEEPROM() error = %v", err)
	}
	c := NewControl(f)
	if err := c.SetDisplayAddress(0x4000); err != nil {
		t.Fatalf("SetDisplayAddress() error = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	stat, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if stat.Size() != DefaultSize {
		t.Errorf("image size = %d, want %d", stat.Size(), DefaultSize)
	}

	f, err = NewFileEEPROM(path, DefaultSize)
	if err != nil {
		t.Fatalf("NewFileEEPROM() reopen error = %v", err)
	}
	defer f.Close()
	c = NewControl(f)
	if a, ok, err := c.DisplayAddress(); err != nil || !ok || a != 0x4000 {
		t.Errorf("DisplayAddress() = %#x, %v, %v, want 0x4000", a, ok, err)
	}
	if r, _ := c.WakeReason(); r != WakeOther {
		t.Errorf("WakeReason() = %v, want blank fallback", r)
	}

	if _, err := NewFileEEPROM(path, 16); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("NewFileEEPROM() shrink error = %v, want %v", err, pkg.ErrInvalidParameter)
	}
}
