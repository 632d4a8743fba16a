// Package nvm holds the state that must survive a reset: the control
// record the display and power code exchange across sleeps, and the
// optional erased-sector bitmap used by the flash translator.
//
// Both live in the microcontroller's data EEPROM, which is modeled by the
// [EEPROM] interface. [MemoryEEPROM] backs tests and [FileEEPROM] backs
// host tooling working on dumped images.
//
// Blank EEPROM reads as all ones, so every [Control] field has a defined
// value on first boot:
//
//	wake reason      other
//	charge level     critical
//	display address  not set
//	answer pending   false
package nvm
