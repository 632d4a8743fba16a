// Package msc serves a BlockDevice to a USB host using the Mass Storage
// Class Bulk-Only Transport (BOT) protocol with the SCSI transparent
// command set.
//
// Each command runs in three phases:
//
//  1. Command: the host sends a Command Block Wrapper (CBW)
//  2. Data: READ(10) and WRITE(10) move blocks through a Transfer
//  3. Status: the device answers with a Command Status Wrapper (CSW)
//
// A Transfer moves a multi-block command through the device in bounded
// chunks so no more than one block of data is ever buffered. Any device
// error, host reset or new command discards the transfer in progress, and
// the failure is reported to the host through the sense data returned by
// REQUEST SENSE (see SenseOf).
//
// Supported commands:
//
//   - TEST UNIT READY, REQUEST SENSE, INQUIRY
//   - READ CAPACITY (10), READ FORMAT CAPACITIES, MODE SENSE (6)
//   - READ (10), WRITE (10), VERIFY (10)
//   - SYNCHRONIZE CACHE (10), PREVENT/ALLOW MEDIUM REMOVAL, START STOP UNIT
//
// # Usage
//
//	disk := msc.New(dev, transport, "papernote", "Note Storage")
//	go disk.Run(ctx)
//
//	// on a Bulk-Only Mass Storage Reset or USB reset
//	disk.Reset()
package msc
