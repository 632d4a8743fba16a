// Package flash is the hardware boundary for serial NOR flash.
//
// The [Chip] interface is the only way the rest of the firmware touches
// flash. It exposes byte-range read, byte-range program, sector erase, chip
// erase and JEDEC identification; chip select and bus arbitration stay
// inside the driver.
//
// Three implementations are provided:
//
//   - [Series25] - 25-series SPI NOR over a periph.io spi.Conn
//   - [MemoryChip] - RAM emulation with NOR program semantics
//   - [FileChip] - image-file emulation for host tooling
//
// # Power-on
//
// A brown-out in the middle of a read can leave the chip confused, so
// [NewSeries25] holds chip select inactive for a settle period before the
// first command, and [CheckID] retries the identifier read:
//
//	port, _ := spireg.Open("")
//	conn, _ := port.Connect(8*physic.MegaHertz, spi.Mode0, 8)
//	chip, _ := flash.NewSeries25(conn, gpioreg.ByName("GPIO8"))
//	if _, err := flash.CheckID(chip, flash.DefaultDeviceID, flash.DefaultIDRetries); err != nil {
//	    // chip missing or wrong part
//	}
package flash
