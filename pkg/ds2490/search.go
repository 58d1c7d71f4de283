package ds2490

import (
	"encoding/binary"
	"fmt"

	"periph.io/x/conn/v3/onewire"
)

// ROM search.
//
// The bus has no addressing: every device answers every command, and a bit
// read is the wired AND of all transmitted bits. The search accelerator
// exploits this to walk the binary tree of ROM codes: each pass it resolves
// one address, and for every bit where attached devices disagreed (a
// discrepancy) it reports which forks remain. The driver keeps an 8-byte
// discrepancy vector directing which previously seen fork to take on the
// next pass; repeated passes enumerate every device exactly once.
//
// The vector and the exhausted flag are per search session: SearchFirst
// initializes them and they are meaningless after the session ends.

// SearchFirst starts a new search session and returns the first device
// found. cmd is SearchROM for a full search or ConditionalSearchROM for
// devices in an alarm state only. found is false when no device answered.
func (d *Device) SearchFirst(cmd byte) (addr onewire.Address, found bool, err error) {
	d.searchCmd = cmd
	d.searchDone = false
	d.discrepancy = [8]byte{}
	return d.SearchNext()
}

// SearchNext returns the next device of the running search session. Once the
// session is exhausted it keeps returning found == false. A transport error
// ends the session: the chip's search state cannot be resumed safely, so the
// caller must start over with SearchFirst.
func (d *Device) SearchNext() (addr onewire.Address, found bool, err error) {
	if d.searchDone {
		return 0, false, nil
	}

	// The current discrepancy vector directs this pass.
	if _, err := d.t.BulkWrite(d.discrepancy[:]); err != nil {
		d.searchDone = true
		return 0, false, err
	}
	opts := CommOptions{ClearBufferOnError: true, ResetBefore: true, Immediate: true}
	if err := d.control(EncodeSearchAccess(opts, true, true, 1, d.searchCmd)); err != nil {
		d.searchDone = true
		return 0, false, err
	}

	// No completion event: sleep for a reset plus 3 bit slots per ROM bit.
	sleep(searchDelay)

	buf := make([]byte, 16)
	n, err := d.t.BulkRead(buf)
	if err != nil {
		d.searchDone = true
		return 0, false, err
	}
	switch {
	case n < 8:
		// No device answered this pass.
		d.searchDone = true
		return 0, false, nil
	case n == 8:
		// A final ROM with no further forks.
		d.searchDone = true
	case n == 16:
		// ROM plus per-bit discrepancy info: pick the next fork.
		d.advance(buf)
	default:
		d.searchDone = true
		return 0, false, ProtocolError(fmt.Sprintf("ds2490: search response of %d bytes", n))
	}
	return onewire.Address(binary.LittleEndian.Uint64(buf[:8])), true, nil
}

// advance recomputes the discrepancy vector from a 16-byte search response:
// resp[0:8] is the discovered ROM and resp[8:16] the discrepancy info. The
// new vector takes the 1-branch at the highest-order unexplored fork (the
// pivot), keeps the branches taken below it and clears everything above it.
func (d *Device) advance(resp []byte) {
	found := false
	for i := 7; i >= 0; i-- {
		addr, disc := resp[i], resp[i+8]
		if disc != 0 && !found {
			if b := pivot(disc, addr); b != 0 {
				found = true
				d.discrepancy[i] = b
				continue
			}
		}
		if found {
			// Below the pivot: keep following the taken forks.
			d.discrepancy[i] = disc & addr
		} else {
			d.discrepancy[i] = 0
		}
	}
}

// pivot scans one discrepancy byte from bit 7 down for the highest fork
// whose 1-branch is unexplored (discrepancy seen, 0 taken). It returns the
// vector byte for that fork: the pivot bit set, bits below it copied from
// the taken path, bits above it cleared. Zero means no unexplored fork in
// this byte.
func pivot(disc, addr byte) byte {
	trail := byte(0xFF)
	for mask := byte(0x80); mask != 0; mask >>= 1 {
		if disc&mask != 0 && addr&mask == 0 {
			return disc&addr&trail | mask
		}
		trail >>= 1
	}
	return 0
}

// SearchAll runs a full search session and returns every device on the bus.
// cmd is SearchROM or ConditionalSearchROM.
func (d *Device) SearchAll(cmd byte) ([]onewire.Address, error) {
	var addrs []onewire.Address
	addr, found, err := d.SearchFirst(cmd)
	for found && err == nil {
		addrs = append(addrs, addr)
		addr, found, err = d.SearchNext()
	}
	return addrs, err
}
