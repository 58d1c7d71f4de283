package ds2490

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"periph.io/x/conn/v3/onewire"
)

func TestPivot(t *testing.T) {
	tests := []struct {
		name       string
		disc, addr byte
		want       byte
	}{
		{"no discrepancy", 0x00, 0x35, 0x00},
		{"highest fork unexplored", 0xA0, 0x00, 0x80},
		{"all forks taken", 0xFF, 0xFF, 0x00},
		{"single low fork", 0x08, 0x10, 0x08},
		{"keep taken fork below pivot", 0x05, 0x01, 0x05},
		{"skip explored high fork", 0x81, 0x80, 0x01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pivot(tt.disc, tt.addr); got != tt.want {
				t.Errorf("pivot(%#02x, %#02x) = %#02x, want %#02x", tt.disc, tt.addr, got, tt.want)
			}
		})
	}
}

func TestAdvance(t *testing.T) {
	d := &Device{}
	resp := make([]byte, 16)
	// ROM bytes: fork taken at bit 0, untaken fork at bit 3.
	resp[0] = 0x01 // addr byte 0
	resp[8] = 0x09 // disc byte 0
	d.advance(resp)

	want := [8]byte{0x09} // pivot at bit 3 plus the taken bit 0 fork
	if d.discrepancy != want {
		t.Errorf("discrepancy = %v, want %v", d.discrepancy, want)
	}

	// A fork in a higher byte clears everything below it on the next pass
	// unless those forks were taken.
	d = &Device{}
	resp = make([]byte, 16)
	resp[2] = 0x00  // addr byte 2: 0-branch taken at the fork
	resp[10] = 0x40 // disc byte 2
	resp[0] = 0x01  // addr byte 0
	resp[8] = 0x01  // disc byte 0: taken fork, kept
	d.advance(resp)

	want = [8]byte{0x01, 0x00, 0x40}
	if d.discrepancy != want {
		t.Errorf("discrepancy = %v, want %v", d.discrepancy, want)
	}
}

// TestSearchScripted replays a two-device session byte for byte: the devices
// share a serial and differ only in the family byte, so the first fork is at
// bit 3 (0x10 vs 0x28).
func TestSearchScripted(t *testing.T) {
	stubSleep(t)

	x := SimROM(0x28, 0xBEEF)
	y := SimROM(0x10, 0xBEEF)

	tr := NewSimTransport()
	d, err := NewDevice(tr)
	if err != nil {
		t.Fatal(err)
	}

	// Pass 1: all-zero vector walks the 0-branch at bit 3 and finds y,
	// reporting the fork.
	pass1 := make([]byte, 16)
	binary.LittleEndian.PutUint64(pass1[:8], uint64(y))
	pass1[8] = 0x08
	tr.QueueBulk(pass1)

	// Pass 2: the vector directs bit 3 high, x is the last device.
	pass2 := make([]byte, 8)
	binary.LittleEndian.PutUint64(pass2, uint64(x))
	tr.QueueBulk(pass2)

	addr, found, err := d.SearchFirst(SearchROM)
	if err != nil || !found {
		t.Fatalf("SearchFirst() = %v, %v, %v", addr, found, err)
	}
	if addr != y {
		t.Errorf("first device = %#016x, want %#016x", uint64(addr), uint64(y))
	}
	if !bytes.Equal(tr.Written[0], make([]byte, 8)) {
		t.Errorf("first vector = %x, want all zero", tr.Written[0])
	}

	addr, found, err = d.SearchNext()
	if err != nil || !found {
		t.Fatalf("SearchNext() = %v, %v, %v", addr, found, err)
	}
	if addr != x {
		t.Errorf("second device = %#016x, want %#016x", uint64(addr), uint64(x))
	}
	wantVec := make([]byte, 8)
	wantVec[0] = 0x08
	if !bytes.Equal(tr.Written[1], wantVec) {
		t.Errorf("second vector = %x, want %x", tr.Written[1], wantVec)
	}

	// The session is exhausted and stays that way.
	for i := 0; i < 2; i++ {
		addr, found, err = d.SearchNext()
		if err != nil || found || addr != 0 {
			t.Fatalf("exhausted SearchNext() = %v, %v, %v", addr, found, err)
		}
	}

	// Each pass ran the search accelerator in search-only mode with
	// discrepancy info requested.
	want := EncodeSearchAccess(CommOptions{ClearBufferOnError: true, ResetBefore: true, Immediate: true}, true, true, 1, SearchROM)
	n := 0
	for _, req := range tr.Requests {
		if req == want {
			n++
		}
	}
	if n != 2 {
		t.Errorf("search commands issued = %d, want 2", n)
	}
}

func TestSearchEmptyBus(t *testing.T) {
	stubSleep(t)
	tr := NewSimTransport()
	d, err := NewDevice(tr)
	if err != nil {
		t.Fatal(err)
	}

	addr, found, err := d.SearchFirst(SearchROM)
	if err != nil || found || addr != 0 {
		t.Fatalf("SearchFirst() on empty bus = %v, %v, %v", addr, found, err)
	}
}

func TestSearchMalformedResponse(t *testing.T) {
	stubSleep(t)
	tr := NewSimTransport()
	d, err := NewDevice(tr)
	if err != nil {
		t.Fatal(err)
	}

	tr.QueueBulk(make([]byte, 12))
	_, _, err = d.SearchFirst(SearchROM)
	var perr ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("SearchFirst() error = %v, want ProtocolError", err)
	}

	// The malformed pass ended the session.
	if _, found, err := d.SearchNext(); found || err != nil {
		t.Errorf("SearchNext() after a malformed pass = %v, %v", found, err)
	}
}

func TestSearchTransportErrorEndsSession(t *testing.T) {
	stubSleep(t)
	tr := NewSimTransport()
	d, err := NewDevice(tr)
	if err != nil {
		t.Fatal(err)
	}

	tr.ReadErr = errors.New("pipe stall")
	if _, _, err := d.SearchFirst(SearchROM); err == nil {
		t.Fatal("SearchFirst() with a failing transport did not fail")
	}

	tr.ReadErr = nil
	if _, found, err := d.SearchNext(); found || err != nil {
		t.Errorf("SearchNext() after a transport error = %v, %v", found, err)
	}
}

func TestSearchAll(t *testing.T) {
	stubSleep(t)

	roms := []onewire.Address{
		SimROM(0x28, 0x0001),
		SimROM(0x28, 0x8001), // shares the low serial bits with the first
		SimROM(0x10, 0x0300),
		SimROM(0x01, 0x7FFF),
	}
	slaves := make([]*SimSlave, len(roms))
	for i, rom := range roms {
		slaves[i] = &SimSlave{ROM: rom}
	}

	d, err := NewDevice(NewBusSim(slaves...))
	if err != nil {
		t.Fatal(err)
	}

	got, err := d.SearchAll(SearchROM)
	if err != nil {
		t.Fatalf("SearchAll() error = %v", err)
	}
	if len(got) != len(roms) {
		t.Fatalf("SearchAll() found %d devices, want %d: %x", len(got), len(roms), got)
	}
	seen := make(map[onewire.Address]bool)
	for _, a := range got {
		if seen[a] {
			t.Errorf("device %#016x reported twice", uint64(a))
		}
		seen[a] = true
	}
	for _, rom := range roms {
		if !seen[rom] {
			t.Errorf("device %#016x not found", uint64(rom))
		}
	}
}

func TestSearchAlarmOnly(t *testing.T) {
	stubSleep(t)

	alarming := SimROM(0x28, 0x0002)
	quiet := SimROM(0x28, 0x0004)
	d, err := NewDevice(NewBusSim(
		&SimSlave{ROM: alarming, Alarming: true},
		&SimSlave{ROM: quiet},
	))
	if err != nil {
		t.Fatal(err)
	}

	got, err := d.Search(true)
	if err != nil {
		t.Fatalf("Search(true) error = %v", err)
	}
	if len(got) != 1 || got[0] != alarming {
		t.Errorf("Search(true) = %x, want only %#016x", got, uint64(alarming))
	}

	got, err = d.Search(false)
	if err != nil {
		t.Fatalf("Search(false) error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Search(false) found %d devices, want 2", len(got))
	}
}
