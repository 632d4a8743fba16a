// Package content reads the record describing how note pages are laid out
// in flash.
//
// The record lives at the start of the last flash sector (0xFFF000):
//
//	0x0  u32  magic 0x23571113
//	0x4  u16  page size in bytes
//	0x6  u32  number of pages
//	0xA  u8   question kind (0 monospace, 1 text, 2 image)
//	0xB  u8   answer kind
//
// All fields are little-endian. A sector without a valid record yields
// [Default].
package content
