// Package ds2490 drives the Maxim DS2490 USB to 1-Wire bridge.
//
// The bridge exposes the single-wire, open-drain bus through a set of vendor
// control transfers plus two bulk pipes for bus payloads and an interrupt
// pipe for status. The chip never signals completion; the driver sleeps for
// the computed bus time and polls the status block. A Device implements the
// periph.io onewire.Bus interface, so ds18b20-style drivers run on top of it
// unchanged.
//
// A Device must not be driven by more than one goroutine at a time: search
// state and the chip's single in-flight command make concurrent calls on one
// handle undefined. Independent adapters share nothing and may be used from
// separate goroutines.
package ds2490

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/onewire"
)

// Bus timing. The chip offers no completion event, so transfers are paced by
// sleeping for the worst-case bus time before collecting the response.
const (
	resetDelay    = 1096 * time.Microsecond // regular-speed reset pulse
	regularSlot   = 86 * time.Microsecond
	flexibleSlot  = 70 * time.Microsecond
	overdriveSlot = 10 * time.Microsecond

	// One search pass: a reset plus 3 bit slots for each of the 64 ROM
	// bits, with a little slack.
	searchDelay = resetDelay + 3*64*flexibleSlot + 100*time.Microsecond

	fifoSize  = 128 // bulk FIFO depth
	statusLen = 32  // interrupt transfer size, 16-byte header + results
)

// ProtocolError reports a fault observed on the 1-Wire bus itself, such as a
// write echo mismatch or a malformed search response, as opposed to a USB
// transport failure. It satisfies the periph.io onewire.BusError interface.
type ProtocolError string

func (e ProtocolError) Error() string { return string(e) }

// BusError marks the error as a bus-level fault.
func (e ProtocolError) BusError() bool { return true }

// ErrBusy is returned by the wait helpers when the poll policy's attempt
// budget runs out before the condition holds.
var ErrBusy = errors.New("ds2490: adapter busy after poll budget")

// PollPolicy controls how the wait helpers poll the status channel. A zero
// MaxAttempts polls with no bound, which matches the chip's lack of any
// completion signal: a wedged adapter then spins until HaltExecutionIdle is
// issued from elsewhere.
type PollPolicy struct {
	Interval    time.Duration // sleep between status polls
	MaxAttempts int           // 0 means no limit
}

// DefaultPollPolicy polls every 100 µs with no bound.
var DefaultPollPolicy = PollPolicy{Interval: 100 * time.Microsecond}

// Device is a handle to one DS2490 adapter. It owns the transport
// connection, the most recent status snapshot and the state of an in-flight
// ROM search.
type Device struct {
	t    Transport
	Poll PollPolicy

	last Snapshot // most recent status snapshot

	// ROM search session
	discrepancy [8]byte
	searchCmd   byte
	searchDone  bool
}

// NewDevice wraps an already opened transport. The transport is owned by the
// returned Device and closed with it. The adapter is reset so it starts from
// a known state.
func NewDevice(t Transport) (*Device, error) {
	return newDevice(t)
}

func newDevice(t Transport) (*Device, error) {
	d := &Device{t: t, Poll: DefaultPollPolicy, searchDone: true}
	if err := d.ResetAdapter(); err != nil {
		return nil, err
	}
	return d, nil
}

// Close releases the underlying transport.
func (d *Device) Close() error {
	return d.t.Close()
}

func (d *Device) String() string {
	return "DS2490"
}

func (d *Device) control(req Request) error {
	return d.t.Control(req.Category, req.Value, req.Index, nil)
}

/*
 * Control commands
 */

// ResetAdapter resets the DS2490 itself: all bus activity stops and every
// buffer is cleared. This does not touch devices on the 1-Wire bus.
func (d *Device) ResetAdapter() error {
	return d.control(EncodeResetAdapter())
}

// StartExecution starts execution of queued communication commands.
func (d *Device) StartExecution() error {
	return d.control(EncodeStartExecution())
}

// ResumeExecution resumes halted command execution.
func (d *Device) ResumeExecution() error {
	return d.control(EncodeResumeExecution())
}

// HaltExecutionIdle halts command execution once the bus is idle. This is
// the only recovery path out of an unbounded wait and is never issued
// automatically.
func (d *Device) HaltExecutionIdle() error {
	return d.control(EncodeHaltExecutionIdle())
}

// HaltExecutionDone halts command execution once the current command
// completes.
func (d *Device) HaltExecutionDone() error {
	return d.control(EncodeHaltExecutionDone())
}

// FlushCommands discards queued communication commands. The adapter must be
// halted.
func (d *Device) FlushCommands() error {
	return d.control(EncodeFlushCommands())
}

// FlushReceiveBuffer discards the input FIFO. The adapter must be halted.
func (d *Device) FlushReceiveBuffer() error {
	return d.control(EncodeFlushReceiveBuffer())
}

// FlushTransmitBuffer discards the output FIFO. The adapter must be halted.
func (d *Device) FlushTransmitBuffer() error {
	return d.control(EncodeFlushTransmitBuffer())
}

// PendingCommands reads back the still-unexecuted communication commands
// into buf. The adapter must be halted.
func (d *Device) PendingCommands(buf []byte) (int, error) {
	req := EncodeGetCommands()
	return d.t.ControlIn(req.Category, req.Value, req.Index, buf)
}

/*
 * Mode commands
 */

// SetPulseEnable enables or disables the strong pullup and programming pulse
// generators.
func (d *Device) SetPulseEnable(strongPullup, progPulse bool) error {
	return d.control(EncodePulseEnable(strongPullup, progPulse))
}

// SetSpeedChangeEnable enables dynamic bus speed changes.
func (d *Device) SetSpeedChangeEnable(enable bool) error {
	return d.control(EncodeSpeedChangeEnable(enable))
}

// SetSpeed sets the default bus speed.
func (d *Device) SetSpeed(speed Speed) error {
	return d.control(EncodeSpeed(speed))
}

// SetStrongPullupDuration sets the strong pullup duration in units of 16 ms;
// the value is masked to 8 bits.
func (d *Device) SetStrongPullupDuration(n int) error {
	return d.control(EncodeStrongPullupDuration(n))
}

// SetPulldownSlewRate sets the pulldown slew rate code (0..7); the value is
// masked to 4 bits.
func (d *Device) SetPulldownSlewRate(code int) error {
	return d.control(EncodePulldownSlewRate(code))
}

// SetProgPulseDuration sets the programming pulse duration in units of 8 µs;
// the value is masked to 8 bits.
func (d *Device) SetProgPulseDuration(n int) error {
	return d.control(EncodeProgPulseDuration(n))
}

// SetWrite1LowTime sets the write-1 low time to 8+n µs; n is masked to
// 4 bits.
func (d *Device) SetWrite1LowTime(n int) error {
	return d.control(EncodeWrite1LowTime(n))
}

// SetSampleOffset sets the data sample offset to 3+n µs; n is masked to
// 4 bits.
func (d *Device) SetSampleOffset(n int) error {
	return d.control(EncodeSampleOffset(n))
}

/*
 * Bus session primitives
 */

// Status takes one status poll, replacing the remembered snapshot.
func (d *Device) Status() (Snapshot, error) {
	var buf [statusLen]byte
	n, err := d.t.ReadStatus(buf[:])
	if err != nil {
		return Snapshot{}, err
	}
	snap, err := DecodeSnapshot(buf[:n])
	if err != nil {
		return Snapshot{}, err
	}
	d.last = snap
	return snap, nil
}

// LastSnapshot returns the most recent status snapshot without polling.
func (d *Device) LastSnapshot() Snapshot {
	return d.last
}

// WaitUntilIdle polls the status channel until the adapter reports idle.
// When the adapter is already idle this costs exactly one poll. With a zero
// MaxAttempts in the poll policy it never gives up.
func (d *Device) WaitUntilIdle() (Snapshot, error) {
	return d.waitFor(func(s *Snapshot) bool { return s.IsIdle() })
}

// WaitForPresence polls the status channel until a device-detected result is
// reported.
func (d *Device) WaitForPresence() (Snapshot, error) {
	return d.waitFor(func(s *Snapshot) bool { return s.PresenceDetected() })
}

func (d *Device) waitFor(done func(*Snapshot) bool) (Snapshot, error) {
	attempts := 0
	for {
		snap, err := d.Status()
		if err != nil {
			return snap, err
		}
		if done(&snap) {
			return snap, nil
		}
		attempts++
		if d.Poll.MaxAttempts > 0 && attempts >= d.Poll.MaxAttempts {
			return snap, ErrBusy
		}
		sleep(d.Poll.Interval)
	}
}

// Reset issues a bus reset pulse at regular speed and reports the resulting
// flags; ResultDeviceDetected is set when a presence pulse was seen.
func (d *Device) Reset() (Result, error) {
	opts := CommOptions{ClearBufferOnError: true, ResultFeedback: true, Immediate: true}
	if err := d.control(EncodeBusReset(opts, false, SpeedRegular)); err != nil {
		return 0, err
	}
	snap, err := d.Status()
	if err != nil {
		return 0, err
	}
	return snap.ResultFlags(), nil
}

// ReadBit reads one bit from the bus. The bridge writes a 1 bit, which on an
// open-drain bus leaves the line released so that the sampled value is
// whatever a slave drives.
func (d *Device) ReadBit() (byte, error) {
	if err := d.control(EncodeBitIO(CommOptions{Immediate: true}, true, false)); err != nil {
		return 0, err
	}
	var bit [1]byte
	n, err := d.t.BulkRead(bit[:])
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, ProtocolError("ds2490: no response to bit I/O")
	}
	return bit[0] & 1, nil
}

// WriteByte clocks one byte onto the bus.
func (d *Device) WriteByte(b byte) error {
	return d.control(EncodeByteIO(CommOptions{NotLastOfMacro: true, Immediate: true}, b))
}

// BlockIO performs a combined write/read transfer: the write bytes go out
// first, then readLen slots are clocked with the bus released so slaves can
// drive them. reset issues a bus reset before the transfer; strongPullup
// raises the strong pullup after it.
//
// On an open-drain bus every written bit is simultaneously sampled, so the
// response leads with an echo of the written bytes. An echo mismatch means
// another device drove the bus during the write and is reported as a
// ProtocolError. The returned slice holds the readLen trailing bytes.
func (d *Device) BlockIO(write []byte, readLen int, reset, strongPullup bool) ([]byte, error) {
	total := len(write) + readLen
	if total > fifoSize {
		return nil, fmt.Errorf("ds2490: block transfer of %d bytes exceeds the %d byte FIFO", total, fifoSize)
	}

	if len(write) > 0 {
		if _, err := d.t.BulkWrite(write); err != nil {
			return nil, err
		}
	}
	if readLen > 0 {
		// Read slots are written as 0xFF: all bits released.
		if _, err := d.t.BulkWrite(bytes.Repeat([]byte{0xFF}, readLen)); err != nil {
			return nil, err
		}
	}

	opts := CommOptions{Immediate: true, ResetBefore: reset, StrongPullup: strongPullup}
	if err := d.control(EncodeBlockIO(opts, total)); err != nil {
		return nil, err
	}

	wait := time.Duration(total) * 8 * flexibleSlot
	if reset {
		wait += resetDelay
	}
	sleep(wait)

	buf := make([]byte, fifoSize)
	n, err := d.t.BulkRead(buf)
	if err != nil {
		return nil, err
	}
	if n < total {
		return nil, ProtocolError(fmt.Sprintf("ds2490: short block response: %d of %d bytes", n, total))
	}
	if !bytes.Equal(buf[:len(write)], write) {
		return nil, ProtocolError("ds2490: bus conflict: block write echo mismatch")
	}
	return buf[len(write):total], nil
}

// Cmd addresses the device at addr with a match-ROM sequence, sends the
// device command sub and reads outLen response bytes.
func (d *Device) Cmd(addr onewire.Address, sub byte, outLen int) ([]byte, error) {
	buf := make([]byte, 0, 10)
	buf = append(buf, MatchROM)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(addr))
	buf = append(buf, sub)

	if _, err := d.t.BulkWrite(buf); err != nil {
		return nil, err
	}
	req := EncodeReadStraight(CommOptions{ResetBefore: true, Immediate: true}, len(buf), outLen)
	if err := d.control(req); err != nil {
		return nil, err
	}
	out := make([]byte, outLen)
	n, err := d.t.BulkRead(out)
	if err != nil {
		return nil, err
	}
	if n < outLen {
		return nil, ProtocolError(fmt.Sprintf("ds2490: short command response: %d of %d bytes", n, outLen))
	}
	return out, nil
}

// sleep is stubbed out in tests.
var sleep = time.Sleep
