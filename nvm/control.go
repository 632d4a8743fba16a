package nvm

import (
	"github.com/ardnew/papernote/pkg"
)

// Control record word offsets within bank 1.
const (
	offsetWakeReason     = 0x4
	offsetChargeLevel    = 0x8
	offsetDisplayAddress = 0xC
	offsetAnswerPending  = 0x10
)

// NoDisplayAddress is the blank display address word.
const NoDisplayAddress = 0xFFFFFFFF

// WakeReason records what woke the device. Zero is never stored so that
// cleared memory is not mistaken for a reason.
type WakeReason uint32

// Wake reasons.
const (
	WakeButtonPress     WakeReason = 1
	WakeRTCTimeout      WakeReason = 2
	WakeChargingStarted WakeReason = 3
	WakeAccelerometer   WakeReason = 5
	WakeOther           WakeReason = 6
)

func (r WakeReason) valid() bool {
	switch r {
	case WakeButtonPress, WakeRTCTimeout, WakeChargingStarted, WakeAccelerometer, WakeOther:
		return true
	}
	return false
}

func (r WakeReason) String() string {
	switch r {
	case WakeButtonPress:
		return "button"
	case WakeRTCTimeout:
		return "rtc"
	case WakeChargingStarted:
		return "charging"
	case WakeAccelerometer:
		return "accelerometer"
	case WakeOther:
		return "other"
	default:
		return "unknown"
	}
}

// ChargeLevel is the battery charge bucket last measured.
type ChargeLevel uint32

// Charge levels.
const (
	ChargeDead ChargeLevel = iota
	ChargeCritical
	ChargeVeryLow
	ChargeLow
	ChargeMedium
	ChargeHigh
	ChargeFull
)

func (c ChargeLevel) String() string {
	switch c {
	case ChargeDead:
		return "dead"
	case ChargeCritical:
		return "critical"
	case ChargeVeryLow:
		return "very low"
	case ChargeLow:
		return "low"
	case ChargeMedium:
		return "medium"
	case ChargeHigh:
		return "high"
	case ChargeFull:
		return "full"
	default:
		return "unknown"
	}
}

// Control is the typed control record persisted in EEPROM bank 1. Each
// field is one word, read directly on every call and written
// individually. Values that do not decode fall back to a safe default.
type Control struct {
	mem  EEPROM
	base uint32
}

// NewControl returns the control record stored in mem's first bank.
func NewControl(mem EEPROM) *Control {
	return &Control{mem: mem, base: Bank1Offset}
}

func (c *Control) load(off uint32) (uint32, error) {
	return c.mem.ReadWord(c.base + off)
}

func (c *Control) store(field string, off uint32, v uint32) error {
	pkg.LogDebug(pkg.ComponentNVM, "control write",
		"field", field,
		"value", v)
	return c.mem.WriteWord(c.base+off, v)
}

// WakeReason returns the stored wake reason, or WakeOther if the stored
// word is not a known reason.
func (c *Control) WakeReason() (WakeReason, error) {
	v, err := c.load(offsetWakeReason)
	if err != nil {
		return WakeOther, err
	}
	if r := WakeReason(v); r.valid() {
		return r, nil
	}
	return WakeOther, nil
}

// SetWakeReason stores r.
func (c *Control) SetWakeReason(r WakeReason) error {
	return c.store("wake reason", offsetWakeReason, uint32(r))
}

// ChargeLevel returns the stored charge level, or ChargeCritical if the
// stored word is out of range.
func (c *Control) ChargeLevel() (ChargeLevel, error) {
	v, err := c.load(offsetChargeLevel)
	if err != nil {
		return ChargeCritical, err
	}
	if l := ChargeLevel(v); l <= ChargeFull {
		return l, nil
	}
	return ChargeCritical, nil
}

// SetChargeLevel stores l.
func (c *Control) SetChargeLevel(l ChargeLevel) error {
	return c.store("charge level", offsetChargeLevel, uint32(l))
}

// DisplayAddress returns the flash address of the content last shown. The
// boolean is false if no address has been stored.
func (c *Control) DisplayAddress() (uint32, bool, error) {
	v, err := c.load(offsetDisplayAddress)
	if err != nil {
		return 0, false, err
	}
	if v == NoDisplayAddress {
		return 0, false, nil
	}
	return v, true, nil
}

// SetDisplayAddress stores addr.
func (c *Control) SetDisplayAddress(addr uint32) error {
	return c.store("display address", offsetDisplayAddress, addr)
}

// AnswerPending reports whether the answer to the current question has yet
// to be shown. Any nonzero word counts, so blank memory reads as true.
func (c *Control) AnswerPending() (bool, error) {
	v, err := c.load(offsetAnswerPending)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// SetAnswerPending stores the answer-pending flag.
func (c *Control) SetAnswerPending(pending bool) error {
	var v uint32
	if pending {
		v = 1
	}
	return c.store("answer pending", offsetAnswerPending, v)
}

// ReadRaw copies len(buf) bytes of bank 1 starting at off.
func (c *Control) ReadRaw(buf []byte, off uint32) error {
	if uint64(off)+uint64(len(buf)) > BankSize {
		return pkg.Wrap("eeprom read", off, pkg.ErrInvalidAddress, nil)
	}
	return c.mem.Read(c.base+off, buf)
}
