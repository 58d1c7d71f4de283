package ds2490

import (
	"fmt"
	"time"

	"github.com/google/gousb"
)

const (
	// DS2490 USB identifiers
	VendorMaxim   = 0x04FA
	ProductDS2490 = 0x2490

	// Endpoint layout, fixed by the chip: EP1 interrupt IN carries the
	// status block, EP2 bulk OUT the outgoing bus data, EP3 bulk IN the
	// incoming bus data and search results.
	epStatus  = 1
	epBulkOut = 2
	epBulkIn  = 3

	// Alternate setting 1 selects 64-byte bulk endpoints with 10 ms
	// status polling.
	altSetting = 1

	defaultUSBTimeout = 5 * time.Second
)

// Transport is the USB surface of one adapter: vendor control transfers for
// commands, bulk pipes for bus payloads and the interrupt pipe for status
// blocks. Implementations report I/O failures verbatim and never retry.
type Transport interface {
	// Control issues a vendor control transfer with an optional
	// host-to-device data stage.
	Control(category uint8, value, index uint16, data []byte) error
	// ControlIn issues a vendor control transfer with a device-to-host
	// data stage.
	ControlIn(category uint8, value, index uint16, data []byte) (int, error)
	// BulkWrite pushes bus payload bytes into the output FIFO.
	BulkWrite(p []byte) (int, error)
	// BulkRead drains response bytes from the input FIFO.
	BulkRead(p []byte) (int, error)
	// ReadStatus fetches one status block.
	ReadStatus(p []byte) (int, error)
	Close() error
}

// AdapterInfo describes one attached DS2490 adapter.
type AdapterInfo struct {
	Bus          int
	Address      int
	SerialNumber string
	Description  string
}

// usbTransport drives a DS2490 through gousb.
type usbTransport struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	cfg    *gousb.Config
	intf   *gousb.Interface
	status *gousb.InEndpoint
	out    *gousb.OutEndpoint
	in     *gousb.InEndpoint
}

// List enumerates the attached DS2490 adapters without claiming them.
func List() ([]AdapterInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var infos []AdapterInfo
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == VendorMaxim && desc.Product == ProductDS2490
	})
	for _, dev := range devs {
		serial, _ := dev.SerialNumber()
		product, _ := dev.Product()
		infos = append(infos, AdapterInfo{
			Bus:          dev.Desc.Bus,
			Address:      dev.Desc.Address,
			SerialNumber: serial,
			Description:  product,
		})
		dev.Close()
	}
	// OpenDevices reports a combined error when some devices could not be
	// opened; surface it only when nothing was usable.
	if err != nil && len(infos) == 0 {
		return nil, fmt.Errorf("ds2490: enumerating adapters: %w", err)
	}
	return infos, nil
}

// Open claims the first attached DS2490 adapter.
func Open() (*Device, error) {
	t, err := openTransport(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == VendorMaxim && desc.Product == ProductDS2490
	})
	if err != nil {
		return nil, err
	}
	return newDevice(t)
}

// Enumerate opens every attached DS2490 adapter and returns one Device per
// adapter. Each Device owns its USB connection independently; closing one
// does not affect the others.
func Enumerate() ([]*Device, error) {
	infos, err := List()
	if err != nil {
		return nil, err
	}
	var devs []*Device
	for _, info := range infos {
		bus, addr := info.Bus, info.Address
		t, err := openTransport(func(desc *gousb.DeviceDesc) bool {
			return desc.Vendor == VendorMaxim && desc.Product == ProductDS2490 &&
				desc.Bus == bus && desc.Address == addr
		})
		if err != nil {
			for _, d := range devs {
				d.Close()
			}
			return nil, err
		}
		d, err := newDevice(t)
		if err != nil {
			t.Close()
			for _, d := range devs {
				d.Close()
			}
			return nil, err
		}
		devs = append(devs, d)
	}
	return devs, nil
}

func openTransport(match func(*gousb.DeviceDesc) bool) (*usbTransport, error) {
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return match(desc)
	})
	if err != nil && len(devs) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("ds2490: opening adapter: %w", err)
	}
	if len(devs) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("ds2490: no adapter found (VID:%04X PID:%04X)", VendorMaxim, ProductDS2490)
	}
	// Keep the first match, release the rest.
	dev := devs[0]
	for _, d := range devs[1:] {
		d.Close()
	}

	t := &usbTransport{ctx: ctx, dev: dev}
	if err := t.claim(); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func (t *usbTransport) claim() error {
	// Detach kernel 1-Wire drivers (ds2490/w1) that grab the adapter on
	// Linux. Not supported on all platforms; claiming may still succeed.
	_ = t.dev.SetAutoDetach(true)
	t.dev.ControlTimeout = defaultUSBTimeout

	cfg, err := t.dev.Config(1)
	if err != nil {
		return fmt.Errorf("ds2490: selecting configuration: %w", err)
	}
	t.cfg = cfg

	intf, err := cfg.Interface(0, altSetting)
	if err != nil {
		return fmt.Errorf("ds2490: claiming interface: %w", err)
	}
	t.intf = intf

	if t.status, err = intf.InEndpoint(epStatus); err != nil {
		return fmt.Errorf("ds2490: opening status endpoint: %w", err)
	}
	if t.out, err = intf.OutEndpoint(epBulkOut); err != nil {
		return fmt.Errorf("ds2490: opening bulk OUT endpoint: %w", err)
	}
	if t.in, err = intf.InEndpoint(epBulkIn); err != nil {
		return fmt.Errorf("ds2490: opening bulk IN endpoint: %w", err)
	}
	return nil
}

func (t *usbTransport) Control(category uint8, value, index uint16, data []byte) error {
	_, err := t.dev.Control(gousb.ControlOut|gousb.ControlVendor|gousb.ControlDevice,
		category, value, index, data)
	if err != nil {
		return fmt.Errorf("ds2490: control transfer %#02x/%#04x: %w", category, value, err)
	}
	return nil
}

func (t *usbTransport) ControlIn(category uint8, value, index uint16, data []byte) (int, error) {
	n, err := t.dev.Control(gousb.ControlIn|gousb.ControlVendor|gousb.ControlDevice,
		category, value, index, data)
	if err != nil {
		return n, fmt.Errorf("ds2490: control read %#02x/%#04x: %w", category, value, err)
	}
	return n, nil
}

func (t *usbTransport) BulkWrite(p []byte) (int, error) {
	n, err := t.out.Write(p)
	if err != nil {
		return n, fmt.Errorf("ds2490: bulk write: %w", err)
	}
	return n, nil
}

func (t *usbTransport) BulkRead(p []byte) (int, error) {
	n, err := t.in.Read(p)
	if err != nil {
		return n, fmt.Errorf("ds2490: bulk read: %w", err)
	}
	return n, nil
}

func (t *usbTransport) ReadStatus(p []byte) (int, error) {
	n, err := t.status.Read(p)
	if err != nil {
		return n, fmt.Errorf("ds2490: status read: %w", err)
	}
	return n, nil
}

func (t *usbTransport) Close() error {
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.cfg != nil {
		t.cfg.Close()
		t.cfg = nil
	}
	if t.dev != nil {
		t.dev.Close()
		t.dev = nil
	}
	if t.ctx != nil {
		t.ctx.Close()
		t.ctx = nil
	}
	return nil
}
