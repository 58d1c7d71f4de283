package ds2490

// The DS2490 is driven through vendor control transfers. Every command is a
// (bRequest, wValue, wIndex) triple; bRequest selects one of three command
// categories and wValue carries the opcode plus its option bits. The encoders
// below build these triples and perform no I/O. Out-of-range numeric
// parameters are masked to the width of the target register rather than
// rejected, matching the chip's register semantics; the masks are noted on
// each encoder.

// Request categories, sent as the bRequest field of the vendor control
// transfer.
const (
	CategoryControl = 0x00
	CategoryComm    = 0x01
	CategoryMode    = 0x02
)

// Control command codes (device lifecycle).
const (
	ctlResetDevice    = 0x0000
	ctlStartExe       = 0x0001
	ctlResumeExe      = 0x0002
	ctlHaltExeIdle    = 0x0003
	ctlHaltExeDone    = 0x0004
	ctlFlushCommCmds  = 0x0007
	ctlFlushRcvBuffer = 0x0008
	ctlFlushXmtBuffer = 0x0009
	ctlGetCommCmds    = 0x000A
)

// Mode command codes (persistent configuration registers).
const (
	modPulseEnable      = 0x0000
	modSpeedChangeEn    = 0x0001
	modSpeed            = 0x0002
	modStrongPUDuration = 0x0003
	modPulldownSlewRate = 0x0004
	modProgPulseDur     = 0x0005
	modWrite1LowTime    = 0x0006
	modSampleOffset     = 0x0007
)

// Communication opcodes. The low nibble bits 0x01 and 0x08 double as option
// flags, so the opcode proper occupies the 0xF6 mask of the value word.
const (
	comSetDuration   = 0x12
	comBitIO         = 0x20
	comPulse         = 0x30
	comReset         = 0x42
	comByteIO        = 0x52
	comMatchAccess   = 0x64
	comBlockIO       = 0x74
	comReadStraight  = 0x80
	comDoAndRelease  = 0x92
	comSetPath       = 0xA2
	comWriteSRAMPage = 0xB2
	comWriteEPROM    = 0xC4
	comReadCRCPage   = 0xD4
	comReadRedirect  = 0xE4
	comSearchAccess  = 0xF4

	comOpcodeMask = 0x00F6
)

// Command-specific option bits.
const (
	paramUntilPresence = 0x4000 // reset: retry until a presence pulse is seen
	paramRTS           = 0x4000 // search: return discrepancy info
	paramSM            = 0x0008 // search: search ROMs only, no device access
	paramCIB           = 0x4000 // bit I/O: no strong pullup if readback is 1
	paramD             = 0x0008 // bit I/O: bit value to write
	paramType          = 0x0008 // duration/pulse: programming pulse, not pullup
	paramSE            = 0x0008 // match: enable speed change
	paramCH            = 0x0008 // redirect: follow redirection chain
	paramDT            = 0x2000 // memory ops: activate CRC generator
	paramPS            = 0x4000 // memory ops: 2-byte instead of 3-byte preamble
	paramZ             = 0x0008 // EPROM: verify zero bit writes only
)

// Shared communication option bits.
const (
	paramSPU = 0x1000 // strong pullup after command
	paramF   = 0x0800 // clear buffers on error
	paramNTF = 0x0400 // always generate result feedback
	paramICP = 0x0200 // not the last command of a macro
	paramRST = 0x0100 // issue a bus reset first
	paramIM  = 0x0001 // execute immediately
)

// 1-Wire ROM function commands, sent on the bus itself.
const (
	ReadROM              = 0x33
	MatchROM             = 0x55
	SkipROM              = 0xCC
	SearchROM            = 0xF0
	ConditionalSearchROM = 0xEC
	OverdriveSkipROM     = 0x3C
	OverdriveMatchROM    = 0x69
)

// Speed selects the 1-Wire bus timing profile.
type Speed uint8

const (
	SpeedRegular   Speed = 0
	SpeedFlexible  Speed = 1
	SpeedOverdrive Speed = 2
)

func (s Speed) String() string {
	switch s {
	case SpeedRegular:
		return "regular"
	case SpeedFlexible:
		return "flexible"
	case SpeedOverdrive:
		return "overdrive"
	default:
		return "unknown"
	}
}

// Request is one encoded vendor control transfer, ready to hand to a
// Transport. Payload bytes, when a command has them, travel in the transfer's
// data stage and are not part of the request word.
type Request struct {
	Category uint8
	Value    uint16
	Index    uint16
}

// CommOptions is the set of option bits shared by all communication
// commands. The zero value requests none of them; most callers at least set
// Immediate, without which the chip only queues the command.
type CommOptions struct {
	StrongPullup       bool // SPU: drive a strong pullup after the command
	ClearBufferOnError bool // F: flush buffers if the command fails
	ResultFeedback     bool // NTF: always report a result byte
	NotLastOfMacro     bool // ICP: more macro commands follow
	ResetBefore        bool // RST: issue a bus reset first
	Immediate          bool // IM: execute immediately
}

func (o CommOptions) bits() uint16 {
	var b uint16
	if o.StrongPullup {
		b |= paramSPU
	}
	if o.ClearBufferOnError {
		b |= paramF
	}
	if o.ResultFeedback {
		b |= paramNTF
	}
	if o.NotLastOfMacro {
		b |= paramICP
	}
	if o.ResetBefore {
		b |= paramRST
	}
	if o.Immediate {
		b |= paramIM
	}
	return b
}

/*
 * Control commands
 */

// EncodeResetAdapter resets the DS2490 itself, aborting any 1-Wire activity
// and clearing all buffers.
func EncodeResetAdapter() Request {
	return Request{Category: CategoryControl, Value: ctlResetDevice}
}

// EncodeStartExecution starts execution of queued communication commands.
func EncodeStartExecution() Request {
	return Request{Category: CategoryControl, Value: ctlStartExe}
}

// EncodeResumeExecution resumes a previously halted command queue.
func EncodeResumeExecution() Request {
	return Request{Category: CategoryControl, Value: ctlResumeExe}
}

// EncodeHaltExecutionIdle halts execution when the bus becomes idle.
func EncodeHaltExecutionIdle() Request {
	return Request{Category: CategoryControl, Value: ctlHaltExeIdle}
}

// EncodeHaltExecutionDone halts execution when the current command is done.
func EncodeHaltExecutionDone() Request {
	return Request{Category: CategoryControl, Value: ctlHaltExeDone}
}

// EncodeFlushCommands discards queued communication commands. The chip must
// be halted first.
func EncodeFlushCommands() Request {
	return Request{Category: CategoryControl, Value: ctlFlushCommCmds}
}

// EncodeFlushReceiveBuffer discards the bulk-IN FIFO. The chip must be halted
// first.
func EncodeFlushReceiveBuffer() Request {
	return Request{Category: CategoryControl, Value: ctlFlushRcvBuffer}
}

// EncodeFlushTransmitBuffer discards the bulk-OUT FIFO. The chip must be
// halted first.
func EncodeFlushTransmitBuffer() Request {
	return Request{Category: CategoryControl, Value: ctlFlushXmtBuffer}
}

// EncodeGetCommands fetches the still-unexecuted communication commands. The
// chip must be halted first; the commands arrive in the transfer's data
// stage.
func EncodeGetCommands() Request {
	return Request{Category: CategoryControl, Value: ctlGetCommCmds}
}

/*
 * Mode commands
 */

// EncodePulseEnable enables or disables the strong pullup and programming
// pulse generators.
func EncodePulseEnable(strongPullup, progPulse bool) Request {
	var p uint16
	if strongPullup {
		p |= 0x2
	}
	if progPulse {
		p |= 0x1
	}
	return Request{Category: CategoryMode, Value: modPulseEnable, Index: p}
}

// EncodeSpeedChangeEnable enables dynamic bus speed changes.
func EncodeSpeedChangeEnable(enable bool) Request {
	var p uint16
	if enable {
		p = 1
	}
	return Request{Category: CategoryMode, Value: modSpeedChangeEn, Index: p}
}

// EncodeSpeed sets the default bus speed. Masked to 2 bits.
func EncodeSpeed(speed Speed) Request {
	return Request{Category: CategoryMode, Value: modSpeed, Index: uint16(speed) & 0x3}
}

// EncodeStrongPullupDuration sets the strong pullup duration in units of
// 16 ms. Masked to 8 bits.
func EncodeStrongPullupDuration(n int) Request {
	return Request{Category: CategoryMode, Value: modStrongPUDuration, Index: uint16(n) & 0xFF}
}

// EncodePulldownSlewRate sets the pulldown slew rate code (0..7, 15 V/µs down
// to 0.55 V/µs). Masked to 4 bits.
func EncodePulldownSlewRate(code int) Request {
	return Request{Category: CategoryMode, Value: modPulldownSlewRate, Index: uint16(code) & 0xF}
}

// EncodeProgPulseDuration sets the programming pulse duration in units of
// 8 µs. Masked to 8 bits.
func EncodeProgPulseDuration(n int) Request {
	return Request{Category: CategoryMode, Value: modProgPulseDur, Index: uint16(n) & 0xFF}
}

// EncodeWrite1LowTime sets the write-1 low time to 8+n µs. Masked to 4 bits.
func EncodeWrite1LowTime(n int) Request {
	return Request{Category: CategoryMode, Value: modWrite1LowTime, Index: uint16(n) & 0xF}
}

// EncodeSampleOffset sets the data sample offset / write-0 recovery time to
// 3+n µs. Masked to 4 bits.
func EncodeSampleOffset(n int) Request {
	return Request{Category: CategoryMode, Value: modSampleOffset, Index: uint16(n) & 0xF}
}

/*
 * Communication commands
 */

// EncodeSetDuration reprograms a pulse duration without going through the
// mode registers. progPulse selects the programming pulse generator instead
// of the strong pullup one. The duration is masked to 8 bits.
func EncodeSetDuration(o CommOptions, progPulse bool, duration int) Request {
	v := uint16(comSetDuration) | o.bits()
	if progPulse {
		v |= paramType
	}
	return Request{Category: CategoryComm, Value: v, Index: uint16(duration) & 0xFF}
}

// EncodePulse generates a strong pullup or, with progPulse, a 12 V
// programming pulse.
func EncodePulse(o CommOptions, progPulse bool) Request {
	v := uint16(comPulse) | o.bits()
	if progPulse {
		v |= paramType
	}
	return Request{Category: CategoryComm, Value: v}
}

// EncodeBusReset issues a 1-Wire reset pulse at the given speed.
// untilPresence keeps resetting until a presence pulse is observed. The speed
// is masked to 2 bits.
func EncodeBusReset(o CommOptions, untilPresence bool, speed Speed) Request {
	v := uint16(comReset) | o.bits()
	if untilPresence {
		v |= paramUntilPresence
	}
	return Request{Category: CategoryComm, Value: v, Index: uint16(speed) & 0x3}
}

// EncodeBitIO clocks a single bit on the bus. Writing a 1 bit leaves the bus
// released, so the read-back reflects what a slave drove. noPullupOnOne
// cancels a pending strong pullup when the read-back is 1.
func EncodeBitIO(o CommOptions, bit, noPullupOnOne bool) Request {
	v := uint16(comBitIO) | o.bits()
	if bit {
		v |= paramD
	}
	if noPullupOnOne {
		v |= paramCIB
	}
	return Request{Category: CategoryComm, Value: v}
}

// EncodeByteIO clocks one byte on the bus.
func EncodeByteIO(o CommOptions, b byte) Request {
	return Request{Category: CategoryComm, Value: uint16(comByteIO) | o.bits(), Index: uint16(b)}
}

// EncodeBlockIO clocks length bytes from the output FIFO onto the bus,
// capturing the wire state of every slot into the input FIFO.
func EncodeBlockIO(o CommOptions, length int) Request {
	return Request{Category: CategoryComm, Value: uint16(comBlockIO) | o.bits(), Index: uint16(length)}
}

// EncodeMatchAccess addresses one device with a match-ROM sequence. cmd is
// the ROM command to use (MatchROM or OverdriveMatchROM). speedChange allows
// the bus speed to change for an overdrive match. The speed is masked to
// 2 bits.
func EncodeMatchAccess(o CommOptions, speedChange bool, speed Speed, cmd byte) Request {
	v := uint16(comMatchAccess) | o.bits()
	if speedChange {
		v |= paramSE
	}
	return Request{Category: CategoryComm, Value: v, Index: (uint16(speed)&0x3)<<8 | uint16(cmd)}
}

// EncodeReadStraight writes writeLen bytes from the output FIFO and then
// reads readLen bytes from the bus. This opcode uses a compressed option
// layout; only the NTF, ICP, RST and IM options apply and writeLen is masked
// to 8 bits.
func EncodeReadStraight(o CommOptions, writeLen, readLen int) Request {
	var p uint16
	if o.ResultFeedback {
		p |= 0x8
	}
	if o.NotLastOfMacro {
		p |= 0x4
	}
	if o.ResetBefore {
		p |= 0x2
	}
	if o.Immediate {
		p |= 0x1
	}
	p |= (uint16(writeLen) & 0xFF) << 8
	return Request{Category: CategoryComm, Value: uint16(comReadStraight) | p, Index: uint16(readLen)}
}

// EncodeDoAndRelease transfers length bytes and releases the bus afterwards.
// read selects the read rather than write function. The length is masked to
// 8 bits.
func EncodeDoAndRelease(o CommOptions, read bool, length int) Request {
	v := 0x6000 | uint16(comDoAndRelease) | o.bits()
	if read {
		v |= 0x0008
	}
	return Request{Category: CategoryComm, Value: v, Index: uint16(length) & 0xFF}
}

// EncodeSetPath transmits length 8-byte coupler activation sequences from the
// output FIFO. The length is masked to 8 bits.
func EncodeSetPath(o CommOptions, length int) Request {
	return Request{Category: CategoryComm, Value: uint16(comSetPath) | o.bits(), Index: uint16(length) & 0xFF}
}

// EncodeWriteSRAMPage writes length bytes to an SRAM page. crc activates the
// chip's CRC-16 generator; shortPreamble reduces the command preamble from 3
// to 2 bytes. The length is masked to 8 bits.
func EncodeWriteSRAMPage(o CommOptions, crc, shortPreamble bool, length int) Request {
	v := uint16(comWriteSRAMPage) | o.bits()
	if crc {
		v |= paramDT
	}
	if shortPreamble {
		v |= paramPS
	}
	return Request{Category: CategoryComm, Value: v, Index: uint16(length) & 0xFF}
}

// EncodeWriteEPROM programs length bytes into EPROM. zeroBitsOnly restricts
// readback verification to zero bits.
func EncodeWriteEPROM(o CommOptions, crc, zeroBitsOnly bool, length int) Request {
	v := uint16(comWriteEPROM) | o.bits()
	if crc {
		v |= paramDT
	}
	if zeroBitsOnly {
		v |= paramZ
	}
	return Request{Category: CategoryComm, Value: v, Index: uint16(length)}
}

// EncodeReadCRCPage reads pageCount CRC-protected pages of pageSize bytes.
// Both counts are masked to 8 bits.
func EncodeReadCRCPage(o CommOptions, crc, shortPreamble bool, pageCount, pageSize int) Request {
	v := uint16(comReadCRCPage) | o.bits()
	if crc {
		v |= paramDT
	}
	if shortPreamble {
		v |= paramPS
	}
	return Request{
		Category: CategoryComm,
		Value:    v,
		Index:    (uint16(pageCount)&0xFF)<<8 | uint16(pageSize)&0xFF,
	}
}

// EncodeReadRedirectPage reads a page that may carry a redirection byte.
// followChain makes the chip follow the redirection chain to the final page.
// Page number and size are masked to 8 bits.
func EncodeReadRedirectPage(o CommOptions, followChain bool, pageNumber, pageSize int) Request {
	v := uint16(comReadRedirect) | 0x2100 | o.bits()
	if followChain {
		v |= paramCH
	}
	return Request{
		Category: CategoryComm,
		Value:    v,
		Index:    (uint16(pageNumber)&0xFF)<<8 | uint16(pageSize)&0xFF,
	}
}

// EncodeSearchAccess runs the ROM search accelerator. cmd is the search
// command to send on the bus (SearchROM or ConditionalSearchROM) and
// deviceLimit caps how many devices to discover in one pass (0 for no
// limit). returnDiscrepancy appends the per-bit discrepancy info to each
// discovered ROM; searchOnly skips device access after discovery. The device
// limit is masked to 8 bits.
func EncodeSearchAccess(o CommOptions, returnDiscrepancy, searchOnly bool, deviceLimit int, cmd byte) Request {
	v := uint16(comSearchAccess) | o.bits()
	if returnDiscrepancy {
		v |= paramRTS
	}
	if searchOnly {
		v |= paramSM
	}
	return Request{
		Category: CategoryComm,
		Value:    v,
		Index:    (uint16(deviceLimit)&0xFF)<<8 | uint16(cmd),
	}
}
