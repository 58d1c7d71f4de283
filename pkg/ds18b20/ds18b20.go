// Package ds18b20 reads Dallas / Maxim 1-Wire temperature sensors over any
// onewire.Bus, including a DS2490 adapter.
package ds18b20

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/physic"
)

// Family identifies the sensor variant by the low byte of its ROM code.
type Family byte

const (
	DS18S20 Family = 0x10
	DS1822  Family = 0x22
	DS18B20 Family = 0x28
)

func (f Family) String() string {
	switch f {
	case DS18S20:
		return "DS18S20"
	case DS1822:
		return "DS1822"
	case DS18B20:
		return "DS18B20"
	default:
		return fmt.Sprintf("family %#02x", byte(f))
	}
}

// IsTemperatureSensor reports whether the ROM code belongs to a sensor this
// package can read.
func IsTemperatureSensor(addr onewire.Address) bool {
	switch Family(addr & 0xFF) {
	case DS18S20, DS1822, DS18B20:
		return true
	}
	return false
}

// Device commands.
const (
	cmdConvert      = 0x44
	cmdWriteScratch = 0x4E
	cmdCopyScratch  = 0x48
	cmdReadScratch  = 0xBE
)

// ConvertAll starts a temperature conversion on every sensor on the bus with
// a skip-ROM broadcast and sleeps until the slowest possible conversion has
// finished. The bus is held in strong pullup so parasitically powered
// sensors get through the conversion.
func ConvertAll(bus onewire.Bus, resolutionBits int) error {
	if resolutionBits < 9 || resolutionBits > 12 {
		return errors.New("ds18b20: resolution out of the 9..12 bit range")
	}
	if err := bus.Tx([]byte{0xCC, cmdConvert}, nil, onewire.StrongPullup); err != nil {
		return err
	}
	sleep(conversionTime(resolutionBits))
	return nil
}

// Dev is a handle to one sensor on a 1-Wire bus.
type Dev struct {
	dev        onewire.Dev
	resolution int
}

// New opens the sensor at addr. resolutionBits (9..12) selects the
// conversion precision; each extra bit doubles the conversion time. The
// sensor's scratchpad is read to verify it answers, and its configuration is
// rewritten if the resolution differs.
func New(bus onewire.Bus, addr onewire.Address, resolutionBits int) (*Dev, error) {
	if resolutionBits < 9 || resolutionBits > 12 {
		return nil, errors.New("ds18b20: resolution out of the 9..12 bit range")
	}
	if !IsTemperatureSensor(addr) {
		return nil, fmt.Errorf("ds18b20: %s is not a known temperature sensor", Family(addr&0xFF))
	}

	d := &Dev{dev: onewire.Dev{Bus: bus, Addr: addr}, resolution: resolutionBits}
	spad, err := d.readScratchpad()
	if err != nil {
		return nil, err
	}

	// The DS18S20 has a fixed conversion; only the DS18B20 family carries a
	// configuration register.
	if d.Family() != DS18S20 && int(spad[4]>>5)+9 != resolutionBits {
		cfg := byte(resolutionBits-9)<<5 | 0x1F
		if err := d.dev.Tx([]byte{cmdWriteScratch, spad[2], spad[3], cfg}, nil); err != nil {
			return nil, err
		}
		if err := d.dev.TxPower([]byte{cmdCopyScratch}, nil); err != nil {
			return nil, err
		}
		sleep(10 * time.Millisecond)
	}
	return d, nil
}

func (d *Dev) Family() Family {
	return Family(d.dev.Addr & 0xFF)
}

func (d *Dev) String() string {
	return d.Family().String() + "{" + d.dev.String() + "}"
}

// Halt implements conn.Resource. The sensor has nothing to stop.
func (d *Dev) Halt() error {
	return nil
}

// Temperature runs one conversion and returns the result. The call blocks
// for the conversion time of the configured resolution, up to 752 ms, with
// the bus in strong pullup.
func (d *Dev) Temperature() (physic.Temperature, error) {
	if err := d.dev.TxPower([]byte{cmdConvert}, nil); err != nil {
		return 0, err
	}
	sleep(conversionTime(d.resolution))
	return d.LastTemp()
}

// LastTemp returns the result of the most recent conversion without starting
// a new one, for use after ConvertAll.
func (d *Dev) LastTemp() (physic.Temperature, error) {
	spad, err := d.readScratchpad()
	if err != nil {
		return 0, err
	}
	t := d.decode(spad)
	// 85°C is the power-on reset value: a conversion never ran or lost
	// power halfway.
	if t == 85*physic.Celsius+physic.ZeroCelsius {
		return 0, sensorError("ds18b20: sensor reports the power-on value, conversion did not run")
	}
	return t, nil
}

// Sense implements physic.SenseEnv.
func (d *Dev) Sense(e *physic.Env) error {
	t, err := d.Temperature()
	if err != nil {
		return err
	}
	e.Temperature = t
	return nil
}

// SenseContinuous implements physic.SenseEnv.
func (d *Dev) SenseContinuous(time.Duration) (<-chan physic.Env, error) {
	return nil, errors.New("ds18b20: continuous sensing not implemented")
}

// Precision implements physic.SenseEnv.
func (d *Dev) Precision(e *physic.Env) {
	e.Temperature = physic.Kelvin / physic.Temperature(1<<uint(d.resolution-8))
}

// decode converts a scratchpad into a temperature. The raw reading is in
// sixteenths of a degree, except on the DS18S20 where it is in half degrees
// and the count registers refine it back to sixteenths (datasheet,
// "Operation - Measuring Temperature").
func (d *Dev) decode(spad []byte) physic.Temperature {
	raw := int32(int16(uint16(spad[1])<<8 | uint16(spad[0])))
	if d.Family() == DS18S20 {
		if countPerC := int32(spad[7]); countPerC != 0 {
			raw = (raw&^1)<<3 - 4 + 16*(countPerC-int32(spad[6]))/countPerC
		} else {
			raw <<= 3
		}
	}
	return physic.Temperature(raw)*physic.Kelvin/16 + physic.ZeroCelsius
}

// readScratchpad reads the 9-byte scratchpad and verifies its CRC.
func (d *Dev) readScratchpad() ([]byte, error) {
	var spad [9]byte
	if err := d.dev.Tx([]byte{cmdReadScratch}, spad[:]); err != nil {
		return nil, err
	}
	if !onewire.CheckCRC(spad[:]) {
		return nil, sensorError("ds18b20: scratchpad CRC mismatch")
	}
	return spad[:], nil
}

// conversionTime is the worst-case conversion duration for a resolution:
// 94 ms at 9 bits, doubling per bit up to 752 ms at 12.
func conversionTime(bits int) time.Duration {
	return (94 << uint(bits-9)) * time.Millisecond
}

// sensorError satisfies onewire.BusError so callers can tell a device fault
// from a transport failure.
type sensorError string

func (e sensorError) Error() string  { return string(e) }
func (e sensorError) BusError() bool { return true }

// sleep is stubbed out in tests.
var sleep = time.Sleep
