package ds2490

import (
	"periph.io/x/conn/v3/onewire"
)

// Device implements onewire.Bus so that device drivers written against
// periph.io, like temperature sensors, can run on a DS2490 adapter.
var _ onewire.BusCloser = &Device{}

// Tx performs a bus transaction: reset, write w, read len(r) bytes. With
// onewire.StrongPullup the strong pullup is raised after the transfer to
// power parasitic devices.
func (d *Device) Tx(w, r []byte, power onewire.Pullup) error {
	out, err := d.BlockIO(w, len(r), true, power == onewire.StrongPullup)
	if err != nil {
		return err
	}
	copy(r, out)
	return nil
}

// Search returns the addresses of all devices on the bus, or of all devices
// in an alarm state if alarmOnly is set.
//
// If an error occurs mid-search the devices found so far are returned with
// the error.
func (d *Device) Search(alarmOnly bool) ([]onewire.Address, error) {
	cmd := byte(SearchROM)
	if alarmOnly {
		cmd = ConditionalSearchROM
	}
	return d.SearchAll(cmd)
}
