package dfu

import (
	"fmt"
	"strings"
)

// RegionKind identifies what backs a region of the update address space.
type RegionKind uint8

// Region kinds.
const (
	RegionFlash RegionKind = iota
	RegionEEPROM
	RegionVersion
	RegionControl
)

func (k RegionKind) String() string {
	switch k {
	case RegionFlash:
		return "flash"
	case RegionEEPROM:
		return "eeprom"
	case RegionVersion:
		return "version"
	case RegionControl:
		return "control"
	default:
		return "unknown"
	}
}

// Access is the set of operations a region accepts.
type Access uint8

// Access bits. Their sum, offset from 'a', is the DfuSe access letter.
const (
	AccessRead  Access = 1 << iota // a
	AccessErase                    // b
	AccessWrite                    // d
)

// Letter returns the DfuSe memory-map access letter.
func (a Access) Letter() byte {
	if a == 0 || a > AccessRead|AccessErase|AccessWrite {
		return '?'
	}
	return 'a' + byte(a) - 1
}

// Virtual base addresses of the non-flash regions.
const (
	EEPROMBase  uint32 = 0x1000000
	VersionBase uint32 = 0x1000800
	ControlBase uint32 = 0x1000C00
)

// Region sizes.
const (
	EEPROMSize  = 2048
	VersionSize = 1024
	ControlSize = 4
)

// Region is one contiguous range of the update address space.
type Region struct {
	Kind       RegionKind
	Base       uint32
	Sectors    uint32
	SectorSize uint32
	Access     Access
}

// Size returns the region length in bytes.
func (r Region) Size() uint32 { return r.Sectors * r.SectorSize }

// End returns the first address past the region.
func (r Region) End() uint32 { return r.Base + r.Size() }

// Contains reports whether [addr, addr+n) lies in the region.
func (r Region) Contains(addr uint32, n int) bool {
	if addr < r.Base || n < 0 {
		return false
	}
	return uint64(addr)+uint64(n) <= uint64(r.End())
}

// DefaultRegions returns the address map for a flash of sectors sectors of
// sectorSize bytes, in address order.
func DefaultRegions(sectors, sectorSize uint32) []Region {
	return []Region{
		{RegionFlash, 0, sectors, sectorSize, AccessRead | AccessErase | AccessWrite},
		{RegionEEPROM, EEPROMBase, 1, EEPROMSize, AccessRead},
		{RegionVersion, VersionBase, 1, VersionSize, AccessRead},
		{RegionControl, ControlBase, 1, ControlSize, AccessWrite},
	}
}

// lookupOrder is the order in which regions are matched against an
// address.
var lookupOrder = [...]RegionKind{RegionVersion, RegionEEPROM, RegionControl, RegionFlash}

// byPriority returns regions sorted into lookup order.
func byPriority(regions []Region) []Region {
	out := make([]Region, 0, len(regions))
	for _, k := range lookupOrder {
		for _, r := range regions {
			if r.Kind == k {
				out = append(out, r)
			}
		}
	}
	return out
}

// overlapping returns the first pair of regions sharing an address.
func overlapping(regions []Region) (a, b Region, ok bool) {
	for i := range regions {
		for j := i + 1; j < len(regions); j++ {
			if regions[i].Base < regions[j].End() && regions[j].Base < regions[i].End() {
				return regions[i], regions[j], true
			}
		}
	}
	return Region{}, Region{}, false
}

// MemInfo formats regions as a DfuSe memory-map descriptor, for example
// "@Flash/0x00000000/4096*4Kg,1*2Ka,1*1Ka,1*4d". The base address is that
// of the first region; the rest follow contiguously.
func MemInfo(name string, regions []Region) string {
	var sb strings.Builder
	sb.WriteByte('@')
	sb.WriteString(name)
	if len(regions) > 0 {
		fmt.Fprintf(&sb, "/0x%08x/", regions[0].Base)
	}
	for i, r := range regions {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%d*%s%c", r.Sectors, sizeString(r.SectorSize), r.Access.Letter())
	}
	return sb.String()
}

func sizeString(n uint32) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%dM", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%dK", n>>10)
	default:
		return fmt.Sprintf("%d", n)
	}
}
