// Package pkg provides shared utilities for the papernote firmware core.
//
// This package contains common functionality used by the flash, EEPROM,
// translator and protocol packages, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors and error kinds for storage failures
//   - Operation-wrapped errors carrying the target address
//   - The firmware build identifier
//
// # Logging
//
// The logging subsystem wraps [log/slog] with component context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentFTL, "slow path", "lba", 12)
//
// # Errors
//
// Storage failures are classified by sentinel values:
//
//	if errors.Is(err, pkg.ErrVerificationMismatch) {
//	    // Report a medium error to the host
//	}
//
// Operations wrap causes with [Error], which unwraps to both the sentinel
// kind and the underlying cause:
//
//	return pkg.Wrap("program", addr, pkg.ErrHardwareIO, err)
package pkg
