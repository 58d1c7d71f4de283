package ds2490

import (
	"bytes"
	"encoding/binary"

	"periph.io/x/conn/v3/onewire"
)

// SimTransport is an in-memory Transport for unit tests. Control requests
// and bulk writes are recorded for inspection; bulk-IN payloads and status
// blocks are replayed from scripted queues. An empty bulk queue reads as
// zero bytes and an empty status queue as an idle adapter.
type SimTransport struct {
	Requests []Request // control requests, in order
	Written  [][]byte  // bulk-OUT payloads, in order

	// Forced failures; when set, the corresponding call fails.
	ControlErr error
	WriteErr   error
	ReadErr    error
	StatusErr  error

	bulk      [][]byte
	status    [][]byte
	statReads int
}

var _ Transport = &SimTransport{}

func NewSimTransport() *SimTransport {
	return &SimTransport{}
}

// QueueBulk scripts the payload for one bulk-IN read.
func (s *SimTransport) QueueBulk(p []byte) {
	s.bulk = append(s.bulk, append([]byte(nil), p...))
}

// QueueStatus scripts one raw status block.
func (s *SimTransport) QueueStatus(p []byte) {
	s.status = append(s.status, append([]byte(nil), p...))
}

// StatusReads returns how many status polls have been taken.
func (s *SimTransport) StatusReads() int {
	return s.statReads
}

// StatusBlock builds a raw status block with the given status flags and
// result bytes.
func StatusBlock(flags byte, results ...byte) []byte {
	buf := make([]byte, snapshotHeaderLen+len(results))
	buf[8] = flags
	copy(buf[snapshotHeaderLen:], results)
	return buf
}

func (s *SimTransport) Control(category uint8, value, index uint16, data []byte) error {
	if s.ControlErr != nil {
		return s.ControlErr
	}
	s.Requests = append(s.Requests, Request{Category: category, Value: value, Index: index})
	return nil
}

func (s *SimTransport) ControlIn(category uint8, value, index uint16, data []byte) (int, error) {
	if s.ControlErr != nil {
		return 0, s.ControlErr
	}
	s.Requests = append(s.Requests, Request{Category: category, Value: value, Index: index})
	return 0, nil
}

func (s *SimTransport) BulkWrite(p []byte) (int, error) {
	if s.WriteErr != nil {
		return 0, s.WriteErr
	}
	s.Written = append(s.Written, append([]byte(nil), p...))
	return len(p), nil
}

func (s *SimTransport) BulkRead(p []byte) (int, error) {
	if s.ReadErr != nil {
		return 0, s.ReadErr
	}
	if len(s.bulk) == 0 {
		return 0, nil
	}
	next := s.bulk[0]
	s.bulk = s.bulk[1:]
	return copy(p, next), nil
}

func (s *SimTransport) ReadStatus(p []byte) (int, error) {
	s.statReads++
	if s.StatusErr != nil {
		return 0, s.StatusErr
	}
	if len(s.status) == 0 {
		return copy(p, StatusBlock(StateIdle)), nil
	}
	next := s.status[0]
	s.status = s.status[1:]
	return copy(p, next), nil
}

func (s *SimTransport) Close() error {
	return nil
}

// SimSlave is one emulated device on a BusSim bus.
type SimSlave struct {
	ROM      onewire.Address
	Alarming bool // answers a conditional search

	// Scratchpad is served for a read-scratchpad (0xBE) command. For
	// anything else set Respond.
	Scratchpad []byte

	// Respond, when set, produces the read bytes for a device command.
	Respond func(cmd byte, readLen int) []byte
}

// CRC8 computes the Dallas CRC (polynomial 0x8C, reflected) over data, the
// checksum a slave appends to its ROM code and scratchpad. Fixture builders
// use it to produce bytes that pass onewire.CheckCRC.
func CRC8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0x8C
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// SimROM builds a ROM code for a SimSlave from a family byte and a 48-bit
// serial, with a valid CRC in the top byte.
func SimROM(family byte, serial uint64) onewire.Address {
	var b [8]byte
	b[0] = family
	for i := 1; i < 7; i++ {
		b[i] = byte(serial >> (8 * (i - 1)))
	}
	b[7] = CRC8(b[:7])
	return onewire.Address(binary.LittleEndian.Uint64(b[:]))
}

// BusSim emulates a DS2490 with a set of attached slaves, including the
// search accelerator and open-drain echo behavior of block transfers. It is
// used by tests and by the CLI's simulator mode.
type BusSim struct {
	Slaves []*SimSlave

	// BitReads scripts the responses to single-bit reads; once drained,
	// bit reads return 1.
	BitReads []byte

	out     []byte // output FIFO
	in      []byte // input FIFO
	results []byte // result bytes for the next status block
	speed   byte
}

var _ Transport = &BusSim{}

func NewBusSim(slaves ...*SimSlave) *BusSim {
	return &BusSim{Slaves: slaves}
}

func (b *BusSim) Control(category uint8, value, index uint16, data []byte) error {
	switch category {
	case CategoryControl:
		if value == ctlResetDevice {
			b.out = nil
			b.in = nil
			b.results = nil
		}
	case CategoryMode:
		if value == modSpeed {
			b.speed = byte(index)
		}
	case CategoryComm:
		b.comm(value, index)
	}
	return nil
}

func (b *BusSim) comm(value, index uint16) {
	// Read-straight carries compressed options in the low nibble and the
	// write length in the high byte, unlike every other operation.
	if byte(value)&0xF0 == comReadStraight {
		if value&0x0002 != 0 {
			b.reset()
		}
		frame := b.take(int(value>>8) & 0xFF)
		b.in = append(b.in, b.deviceRead(frame, int(index))...)
		return
	}
	if value&paramRST != 0 {
		b.reset()
	}
	switch value & comOpcodeMask {
	case comReset:
		b.reset()
	case comBitIO:
		bit := byte(1)
		if len(b.BitReads) > 0 {
			bit = b.BitReads[0]
			b.BitReads = b.BitReads[1:]
		}
		b.in = append(b.in, bit)
	case comBlockIO:
		b.blockIO(int(index))
	case comSearchAccess:
		b.search(byte(index))
	}
}

func (b *BusSim) reset() {
	if len(b.Slaves) > 0 {
		b.results = append(b.results, resultDetect)
	} else {
		b.results = append(b.results, byte(ResultNoResponse))
	}
}

// take removes and returns the next n bytes of the output FIFO.
func (b *BusSim) take(n int) []byte {
	if n > len(b.out) {
		n = len(b.out)
	}
	frame := b.out[:n]
	b.out = append([]byte(nil), b.out[n:]...)
	return frame
}

// blockIO echoes the written frame and lets a slave drive the trailing
// released (0xFF) slots.
func (b *BusSim) blockIO(length int) {
	frame := b.take(length)
	resp := append([]byte(nil), frame...)
	readLen := 0
	for readLen < len(resp) && resp[len(resp)-1-readLen] == 0xFF {
		readLen++
	}
	if readLen > 0 {
		read := b.deviceRead(resp[:len(resp)-readLen], readLen)
		copy(resp[len(resp)-readLen:], read)
	}
	b.in = append(b.in, resp...)
}

// deviceRead routes a written frame (ROM command plus arguments) to the
// addressed slave and returns the bytes it drives.
func (b *BusSim) deviceRead(frame []byte, readLen int) []byte {
	out := bytes.Repeat([]byte{0xFF}, readLen)
	var slave *SimSlave
	var cmd byte
	switch {
	case len(frame) >= 10 && (frame[0] == MatchROM || frame[0] == OverdriveMatchROM):
		addr := onewire.Address(binary.LittleEndian.Uint64(frame[1:9]))
		for _, s := range b.Slaves {
			if s.ROM == addr {
				slave = s
				break
			}
		}
		cmd = frame[9]
	case len(frame) >= 2 && (frame[0] == SkipROM || frame[0] == OverdriveSkipROM):
		if len(b.Slaves) > 0 {
			slave = b.Slaves[0]
		}
		cmd = frame[1]
	}
	if slave == nil {
		return out
	}
	if slave.Respond != nil {
		copy(out, slave.Respond(cmd, readLen))
		return out
	}
	if cmd == 0xBE {
		copy(out, slave.Scratchpad)
	}
	return out
}

// search runs one pass of the ROM search accelerator: the discrepancy
// vector is taken from the front of the output FIFO, the response is the
// discovered ROM, followed by the per-bit discrepancy info when unexplored
// forks remain.
func (b *BusSim) search(cmd byte) {
	vector := b.take(8)
	if len(vector) < 8 {
		vector = append(vector, make([]byte, 8-len(vector))...)
	}

	var cands []uint64
	for _, s := range b.Slaves {
		if cmd == ConditionalSearchROM && !s.Alarming {
			continue
		}
		cands = append(cands, uint64(s.ROM))
	}
	if len(cands) == 0 {
		return
	}

	var rom, disc uint64
	for bit := uint(0); bit < 64; bit++ {
		var zeros, ones []uint64
		for _, c := range cands {
			if c>>bit&1 == 1 {
				ones = append(ones, c)
			} else {
				zeros = append(zeros, c)
			}
		}
		take := false
		switch {
		case len(zeros) > 0 && len(ones) > 0:
			disc |= 1 << bit
			take = vector[bit/8]>>(bit%8)&1 == 1
		case len(ones) > 0:
			take = true
		}
		if take {
			rom |= 1 << bit
			cands = ones
		} else {
			cands = zeros
		}
	}

	resp := make([]byte, 16)
	binary.LittleEndian.PutUint64(resp[:8], rom)
	binary.LittleEndian.PutUint64(resp[8:], disc)
	for i := 0; i < 8; i++ {
		if pivot(resp[i+8], resp[i]) != 0 {
			// Unexplored forks remain: report the discrepancy info.
			b.in = append(b.in, resp...)
			b.results = append(b.results, resultDetect)
			return
		}
	}
	b.in = append(b.in, resp[:8]...)
	b.results = append(b.results, resultDetect)
}

func (b *BusSim) ControlIn(category uint8, value, index uint16, data []byte) (int, error) {
	return 0, nil
}

func (b *BusSim) BulkWrite(p []byte) (int, error) {
	b.out = append(b.out, p...)
	return len(p), nil
}

func (b *BusSim) BulkRead(p []byte) (int, error) {
	n := copy(p, b.in)
	b.in = append([]byte(nil), b.in[n:]...)
	return n, nil
}

func (b *BusSim) ReadStatus(p []byte) (int, error) {
	block := StatusBlock(StateIdle, b.results...)
	block[1] = b.speed
	block[12] = byte(len(b.out))
	block[13] = byte(len(b.in))
	b.results = nil
	return copy(p, block), nil
}

func (b *BusSim) Close() error {
	return nil
}
