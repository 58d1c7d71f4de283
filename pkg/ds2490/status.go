package ds2490

import (
	"fmt"
	"io"
	"time"
)

// snapshotHeaderLen is the fixed part of the status block; anything beyond it
// is communication result bytes.
const snapshotHeaderLen = 16

// Status register bits (header offset 8).
const (
	StateEP0Full       = 0x80 // EP0 has an unprocessed command
	StateIdle          = 0x20 // no communication command executing
	StateHalted        = 0x10 // execution halted
	StateProgrammingOK = 0x08 // 12V programming voltage present
	State12VPulse      = 0x04 // programming pulse active
	StateProgActive    = 0x02 // programming voltage being generated
	StatePullupActive  = 0x01 // strong pullup active
)

// Result holds the OR of the result bytes of one status snapshot. The device
// detected bit is synthetic: the chip reports a detected device with the
// out-of-band 0xA5 marker byte instead of a flag bit, and that marker never
// contributes its raw bits.
type Result uint16

const (
	ResultNoResponse       Result = 0x0001 // no device responded
	ResultShorted          Result = 0x0002 // bus short detected
	ResultAlarmingPresence Result = 0x0004 // alarming presence pulse seen
	ResultNoProgVoltage    Result = 0x0008 // 12V programming voltage absent
	ResultCompareFailed    Result = 0x0010 // readback comparison failed
	ResultCRCError         Result = 0x0020 // CRC error in a memory operation
	ResultPageRedirect     Result = 0x0040 // page was redirected
	ResultSearchEnded      Result = 0x0080 // search ended sooner than expected
	ResultDeviceDetected   Result = 0x0100 // a device was detected
)

// resultDetect is the marker result byte for a detected device.
const resultDetect = 0xA5

func (r Result) String() string {
	if r == 0 {
		return "none"
	}
	names := []struct {
		bit  Result
		name string
	}{
		{ResultDeviceDetected, "device-detected"},
		{ResultSearchEnded, "search-ended"},
		{ResultPageRedirect, "page-redirect"},
		{ResultCRCError, "crc-error"},
		{ResultCompareFailed, "compare-failed"},
		{ResultNoProgVoltage, "no-prog-voltage"},
		{ResultAlarmingPresence, "alarming-presence"},
		{ResultShorted, "shorted"},
		{ResultNoResponse, "no-response"},
	}
	s := ""
	for _, n := range names {
		if r&n.bit == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += n.name
	}
	return s
}

var slewRates = []string{
	"15V/µs",
	"2.20V/µs",
	"1.65V/µs",
	"1.37V/µs",
	"1.10V/µs",
	"0.83V/µs",
	"0.70V/µs",
	"0.55V/µs",
}

// Snapshot is one decoded status block from the adapter's interrupt
// endpoint. Every poll fully replaces the previous snapshot.
type Snapshot struct {
	EnableFlags     byte          // pulse generator enables
	Speed           Speed         // configured bus speed
	PullupDuration  time.Duration // strong pullup duration
	ProgPulse       time.Duration // programming pulse duration
	SlewRate        byte          // pulldown slew rate code, 0..7
	Write1LowTime   time.Duration // write-1 low time
	SampleOffset    time.Duration // data sample offset
	Flags           byte          // status register, State* bits
	Command         uint16        // currently/last executed command word
	CommandsPending int           // communication commands buffered
	OutputQueued    int           // bytes waiting in the output FIFO
	InputAvailable  int           // bytes waiting in the input FIFO
	Results         []byte        // trailing result bytes, possibly empty
}

// DecodeSnapshot decodes a raw status block. Blocks shorter than the 16-byte
// header are a ProtocolError.
func DecodeSnapshot(buf []byte) (Snapshot, error) {
	if len(buf) < snapshotHeaderLen {
		return Snapshot{}, ProtocolError(fmt.Sprintf("ds2490: short status block: %d bytes", len(buf)))
	}
	s := Snapshot{
		EnableFlags:     buf[0],
		Speed:           Speed(buf[1]),
		PullupDuration:  time.Duration(buf[2]) * 16 * time.Millisecond,
		ProgPulse:       time.Duration(buf[3]) * 8 * time.Microsecond,
		SlewRate:        buf[4],
		Write1LowTime:   time.Duration(buf[5])*time.Microsecond + 8*time.Microsecond,
		SampleOffset:    time.Duration(buf[6])*time.Microsecond + 3*time.Microsecond,
		Flags:           buf[8],
		Command:         uint16(buf[10])<<8 | uint16(buf[9]),
		CommandsPending: int(buf[11]),
		OutputQueued:    int(buf[12]),
		InputAvailable:  int(buf[13]),
	}
	if len(buf) > snapshotHeaderLen {
		s.Results = append([]byte(nil), buf[snapshotHeaderLen:]...)
	}
	return s, nil
}

// IsIdle reports whether no communication command is executing.
func (s *Snapshot) IsIdle() bool {
	return s.Flags&StateIdle != 0
}

// Halted reports whether command execution is halted.
func (s *Snapshot) Halted() bool {
	return s.Flags&StateHalted != 0
}

// PendingInput returns the number of response bytes waiting in the input
// FIFO.
func (s *Snapshot) PendingInput() int {
	return s.InputAvailable
}

// ResultFlags folds the snapshot's result bytes into a single flag set.
func (s *Snapshot) ResultFlags() Result {
	var r Result
	for _, b := range s.Results {
		if b == resultDetect {
			r |= ResultDeviceDetected
		} else {
			r |= Result(b)
		}
	}
	return r
}

// PresenceDetected reports whether a result byte announced a detected
// device.
func (s *Snapshot) PresenceDetected() bool {
	return s.ResultFlags()&ResultDeviceDetected != 0
}

// Dump writes a human readable rendering of the snapshot.
func (s *Snapshot) Dump(w io.Writer) {
	fmt.Fprintf(w, "Enable flags:           %#02x\n", s.EnableFlags)
	fmt.Fprintf(w, "1-Wire speed:           %s\n", s.Speed)
	fmt.Fprintf(w, "Strong pullup duration: %s\n", s.PullupDuration)
	fmt.Fprintf(w, "Programming pulse:      %s\n", s.ProgPulse)
	if int(s.SlewRate) < len(slewRates) {
		fmt.Fprintf(w, "Pulldown slew rate:     %s\n", slewRates[s.SlewRate])
	} else {
		fmt.Fprintf(w, "Pulldown slew rate:     code %d\n", s.SlewRate)
	}
	fmt.Fprintf(w, "Write-1 low time:       %s\n", s.Write1LowTime)
	fmt.Fprintf(w, "Data sample offset:     %s\n", s.SampleOffset)
	fmt.Fprintf(w, "Status:                 %#02x\n", s.Flags)
	fmt.Fprintf(w, "Command:                %#04x\n", s.Command)
	fmt.Fprintf(w, "Commands pending:       %d\n", s.CommandsPending)
	fmt.Fprintf(w, "Output FIFO:            %d bytes\n", s.OutputQueued)
	fmt.Fprintf(w, "Input FIFO:             %d bytes\n", s.InputAvailable)
	for _, b := range s.Results {
		fmt.Fprintf(w, "Result:                 %#02x\n", b)
	}
}
