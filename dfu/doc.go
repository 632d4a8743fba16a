// Package dfu exposes the note device's storage to a DFU (Device Firmware
// Upgrade) host as one linear address space.
//
// The space is split into four non-overlapping regions, described to the
// host by a DfuSe memory-map descriptor:
//
//	0x0000000  Flash    4096 x 4K  read/erase/write  whole SPI NOR flash
//	0x1000000  EEPROM   1 x 2K     read              control bank window
//	0x1000800  Version  1 x 1K     read              build identifier
//	0x1000C00  Control  1 x 4      write             display address sink
//
// Writing a little-endian word to the control region does not touch flash.
// It stores the word as the address of the next content to display and
// clears the answer-pending flag.
//
// Errors carry the pkg sentinels; [StatusOf] converts them to the status
// code reported in DFU_GETSTATUS. [LoadHex] and [DumpHex] move Intel HEX
// images through the same operations the host would use.
package dfu
