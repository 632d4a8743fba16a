// Package board assembles the storage subsystem of the note device.
//
// [New] verifies the flash JEDEC ID, picks the erase-state tracker, and
// builds the block translator shared by the mass-storage processor and
// the update-protocol address space. It also builds the control record
// over EEPROM bank 1 and reads the content layout from the last flash
// sector.
//
//	b, err := board.New(chip, eeprom, transport, board.DefaultConfig())
//	if err != nil {
//	    // flash missing or misidentified
//	}
//	go b.Run(ctx)
//
//	// USB bus reset
//	b.Reset()
package board
