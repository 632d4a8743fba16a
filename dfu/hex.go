package dfu

import (
	"fmt"
	"io"

	"github.com/marcinbor85/gohex"

	"github.com/ardnew/papernote/pkg"
)

// HexLineLength is the data bytes per record written by DumpHex.
const HexLineLength = 16

// LoadHex programs every data segment of the Intel HEX image read from r
// through m, the way host tooling drives a download: each erasable sector
// a segment touches is erased once, then the data is staged and programmed
// in transfer-size pieces. It returns the number of bytes programmed.
func LoadHex(r io.Reader, m *Memory) (int, error) {
	img := gohex.NewMemory()
	if err := img.ParseIntelHex(r); err != nil {
		return 0, fmt.Errorf("dfu: parse hex: %w", err)
	}

	erased := make(map[uint32]bool)
	total := 0
	for _, seg := range img.GetDataSegments() {
		pkg.LogDebug(pkg.ComponentDFU, "hex segment",
			"addr", seg.Address,
			"len", len(seg.Data))

		n, err := download(m, seg.Address, seg.Data, erased)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, m.Manifestation()
}

// Download erases the sectors under [addr, addr+len(data)) and programs
// data there in transfer-size pieces. It returns the bytes programmed.
func Download(m *Memory, addr uint32, data []byte) (int, error) {
	return download(m, addr, data, make(map[uint32]bool))
}

func download(m *Memory, addr uint32, data []byte, erased map[uint32]bool) (int, error) {
	if err := eraseSpan(m, addr, len(data), erased); err != nil {
		return 0, err
	}
	total := 0
	for off := 0; off < len(data); {
		n := min(len(data)-off, m.TransferSize())
		if err := m.StoreWriteBuffer(data[off : off+n]); err != nil {
			return total, err
		}
		if err := m.Program(addr+uint32(off), n); err != nil {
			return total, err
		}
		total += n
		off += n
	}
	return total, nil
}

// eraseSpan erases each erasable sector overlapping [addr, addr+n) that has
// not been erased yet.
func eraseSpan(m *Memory, addr uint32, n int, erased map[uint32]bool) error {
	end := uint64(addr) + uint64(n)
	for a := uint64(addr); a < end; {
		r, ok := m.Region(uint32(a))
		if !ok {
			return pkg.Wrap("load", uint32(a), pkg.ErrInvalidAddress, nil)
		}
		if r.Access&AccessErase == 0 {
			a = uint64(r.End())
			continue
		}
		base := r.Base + (uint32(a)-r.Base)/r.SectorSize*r.SectorSize
		if !erased[base] {
			if err := m.Erase(base); err != nil {
				return err
			}
			erased[base] = true
		}
		a = uint64(base) + uint64(r.SectorSize)
	}
	return nil
}

// DumpHex reads length bytes at addr through m and writes them to w as
// Intel HEX.
func DumpHex(w io.Writer, m *Memory, addr uint32, length int) error {
	data := make([]byte, 0, length)
	for off := 0; off < length; {
		n := min(length-off, m.TransferSize())
		chunk, err := m.Read(addr+uint32(off), n)
		if err != nil {
			return err
		}
		data = append(data, chunk...)
		off += n
	}

	img := gohex.NewMemory()
	if err := img.AddBinary(addr, data); err != nil {
		return fmt.Errorf("dfu: add binary: %w", err)
	}
	if err := img.DumpIntelHex(w, HexLineLength); err != nil {
		return fmt.Errorf("dfu: dump hex: %w", err)
	}
	return nil
}
