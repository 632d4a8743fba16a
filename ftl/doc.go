// Package ftl turns a sector-erasable NOR flash into fixed-size logical
// blocks.
//
// NOR cells can only be programmed from 1 to 0, and only a whole erase
// unit (sector) can be returned to 1. [Translator.WriteBlock] therefore
// asks a [Tracker] whether the block's unit is blank:
//
//   - blank: the block is programmed in place (fast path)
//   - dirty: the unit is read, erased, patched and programmed back, then
//     read back and compared (slow path)
//
// A block size equal to the sector size skips the read step of the slow
// path.
//
// # Trackers
//
// [ScanTracker] reads the unit on every query and is the default. It can
// never be stale. [BitmapTracker] caches one bit per unit in the EEPROM
// sector map and orders its updates so a reset mid-operation leaves a unit
// marked dirty, never blank.
//
// # Errors
//
// Validation errors (pkg.ErrInvalidAddress, pkg.ErrBufferTooSmall) are
// returned before the chip is touched. Chip failures carry
// pkg.ErrHardwareIO or pkg.ErrEraseFailure, and read-back differences
// carry pkg.ErrVerificationMismatch with a [MismatchError]. Nothing is
// retried.
package ftl
