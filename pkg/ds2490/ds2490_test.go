package ds2490

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/onewire"
)

// stubSleep disables the bus pacing sleeps for the duration of a test.
func stubSleep(t *testing.T) {
	t.Helper()
	orig := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = orig })
}

func TestSimROM(t *testing.T) {
	addr := SimROM(0x28, 0x070e41ac74)

	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(addr))
	if b[0] != 0x28 {
		t.Errorf("family = %#02x, want 0x28", b[0])
	}
	if b[7] != CRC8(b[:7]) {
		t.Errorf("ROM CRC = %#02x, want %#02x", b[7], CRC8(b[:7]))
	}
	if !onewire.CheckCRC(b[:]) {
		t.Error("ROM code fails onewire.CheckCRC")
	}
}

func TestNewDeviceResetsAdapter(t *testing.T) {
	tr := NewSimTransport()
	d, err := NewDevice(tr)
	if err != nil {
		t.Fatalf("NewDevice() error = %v", err)
	}
	defer d.Close()

	if len(tr.Requests) != 1 || tr.Requests[0] != EncodeResetAdapter() {
		t.Errorf("requests = %+v, want a single adapter reset", tr.Requests)
	}
}

func TestWaitUntilIdleSinglePoll(t *testing.T) {
	stubSleep(t)
	tr := NewSimTransport()
	d, err := NewDevice(tr)
	if err != nil {
		t.Fatal(err)
	}

	snap, err := d.WaitUntilIdle()
	if err != nil {
		t.Fatalf("WaitUntilIdle() error = %v", err)
	}
	if !snap.IsIdle() {
		t.Error("snapshot not idle")
	}
	if tr.StatusReads() != 1 {
		t.Errorf("status polls = %d, want 1 when already idle", tr.StatusReads())
	}
}

func TestWaitUntilIdleBudget(t *testing.T) {
	stubSleep(t)
	tr := NewSimTransport()
	d, err := NewDevice(tr)
	if err != nil {
		t.Fatal(err)
	}
	d.Poll = PollPolicy{Interval: time.Microsecond, MaxAttempts: 3}

	for i := 0; i < 5; i++ {
		tr.QueueStatus(StatusBlock(0)) // busy
	}
	if _, err := d.WaitUntilIdle(); !errors.Is(err, ErrBusy) {
		t.Fatalf("WaitUntilIdle() error = %v, want ErrBusy", err)
	}
	if tr.StatusReads() != 3 {
		t.Errorf("status polls = %d, want 3", tr.StatusReads())
	}
}

func TestWaitUntilIdleEventually(t *testing.T) {
	stubSleep(t)
	tr := NewSimTransport()
	d, err := NewDevice(tr)
	if err != nil {
		t.Fatal(err)
	}

	tr.QueueStatus(StatusBlock(0))
	tr.QueueStatus(StatusBlock(0))
	tr.QueueStatus(StatusBlock(StateIdle, 0xA5))

	snap, err := d.WaitUntilIdle()
	if err != nil {
		t.Fatalf("WaitUntilIdle() error = %v", err)
	}
	if !snap.PresenceDetected() {
		t.Error("final snapshot lost its result bytes")
	}
	if tr.StatusReads() != 3 {
		t.Errorf("status polls = %d, want 3", tr.StatusReads())
	}
}

func TestReset(t *testing.T) {
	stubSleep(t)

	t.Run("device present", func(t *testing.T) {
		sim := NewBusSim(&SimSlave{ROM: SimROM(0x28, 1)})
		d, err := NewDevice(sim)
		if err != nil {
			t.Fatal(err)
		}
		r, err := d.Reset()
		if err != nil {
			t.Fatalf("Reset() error = %v", err)
		}
		if r&ResultDeviceDetected == 0 {
			t.Errorf("Reset() = %v, want device-detected", r)
		}
	})

	t.Run("empty bus", func(t *testing.T) {
		sim := NewBusSim()
		d, err := NewDevice(sim)
		if err != nil {
			t.Fatal(err)
		}
		r, err := d.Reset()
		if err != nil {
			t.Fatalf("Reset() error = %v", err)
		}
		if r&ResultNoResponse == 0 {
			t.Errorf("Reset() = %v, want no-response", r)
		}
	})
}

func TestReadBit(t *testing.T) {
	stubSleep(t)
	tr := NewSimTransport()
	d, err := NewDevice(tr)
	if err != nil {
		t.Fatal(err)
	}

	tr.QueueBulk([]byte{0x01})
	bit, err := d.ReadBit()
	if err != nil {
		t.Fatalf("ReadBit() error = %v", err)
	}
	if bit != 1 {
		t.Errorf("ReadBit() = %d, want 1", bit)
	}

	// Empty input FIFO.
	if _, err := d.ReadBit(); err == nil {
		t.Error("ReadBit() with no response did not fail")
	}
}

func TestBlockIO(t *testing.T) {
	stubSleep(t)

	addr := SimROM(0x28, 0x42)
	write := make([]byte, 0, 10)
	write = append(write, MatchROM)
	write = binary.LittleEndian.AppendUint64(write, uint64(addr))
	write = append(write, 0xBE)
	scratch := []byte{0x50, 0x05, 0x4B, 0x46, 0x7F, 0xFF, 0x0C, 0x10, 0x00}
	scratch[8] = CRC8(scratch[:8])

	t.Run("echo verified", func(t *testing.T) {
		tr := NewSimTransport()
		d, err := NewDevice(tr)
		if err != nil {
			t.Fatal(err)
		}
		tr.QueueBulk(append(append([]byte(nil), write...), scratch...))

		got, err := d.BlockIO(write, len(scratch), true, false)
		if err != nil {
			t.Fatalf("BlockIO() error = %v", err)
		}
		if !bytes.Equal(got, scratch) {
			t.Errorf("BlockIO() = %x, want %x", got, scratch)
		}

		if len(tr.Written) != 2 {
			t.Fatalf("bulk writes = %d, want 2", len(tr.Written))
		}
		if !bytes.Equal(tr.Written[0], write) {
			t.Errorf("first bulk write = %x, want the payload", tr.Written[0])
		}
		if !bytes.Equal(tr.Written[1], bytes.Repeat([]byte{0xFF}, len(scratch))) {
			t.Errorf("second bulk write = %x, want released slots", tr.Written[1])
		}

		wantReq := EncodeBlockIO(CommOptions{Immediate: true, ResetBefore: true}, len(write)+len(scratch))
		last := tr.Requests[len(tr.Requests)-1]
		if last != wantReq {
			t.Errorf("command = %+v, want %+v", last, wantReq)
		}
	})

	t.Run("echo mismatch", func(t *testing.T) {
		tr := NewSimTransport()
		d, err := NewDevice(tr)
		if err != nil {
			t.Fatal(err)
		}
		echo := append(append([]byte(nil), write...), scratch...)
		echo[3] ^= 0x10 // another device drove a bit low
		tr.QueueBulk(echo)

		_, err = d.BlockIO(write, len(scratch), true, false)
		var perr ProtocolError
		if !errors.As(err, &perr) {
			t.Fatalf("BlockIO() error = %v, want ProtocolError", err)
		}
	})

	t.Run("short response", func(t *testing.T) {
		tr := NewSimTransport()
		d, err := NewDevice(tr)
		if err != nil {
			t.Fatal(err)
		}
		tr.QueueBulk(write[:4])

		_, err = d.BlockIO(write, len(scratch), true, false)
		var perr ProtocolError
		if !errors.As(err, &perr) {
			t.Fatalf("BlockIO() error = %v, want ProtocolError", err)
		}
	})

	t.Run("exceeds FIFO", func(t *testing.T) {
		tr := NewSimTransport()
		d, err := NewDevice(tr)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := d.BlockIO(make([]byte, 100), 100, false, false); err == nil {
			t.Fatal("oversized BlockIO() did not fail")
		}
		if len(tr.Written) != 0 {
			t.Errorf("bulk writes = %d, want none for a rejected transfer", len(tr.Written))
		}
	})
}

func TestCmd(t *testing.T) {
	stubSleep(t)

	addr := SimROM(0x28, 7)
	scratch := []byte{0x50, 0x05, 0x4B, 0x46, 0x7F, 0xFF, 0x0C, 0x10, 0x00}
	scratch[8] = CRC8(scratch[:8])

	sim := NewBusSim(&SimSlave{ROM: addr, Scratchpad: scratch})
	d, err := NewDevice(sim)
	if err != nil {
		t.Fatal(err)
	}

	got, err := d.Cmd(addr, 0xBE, len(scratch))
	if err != nil {
		t.Fatalf("Cmd() error = %v", err)
	}
	if !bytes.Equal(got, scratch) {
		t.Errorf("Cmd() = %x, want %x", got, scratch)
	}
}

func TestCmdWrongAddress(t *testing.T) {
	stubSleep(t)

	sim := NewBusSim(&SimSlave{ROM: SimROM(0x28, 7), Scratchpad: make([]byte, 9)})
	d, err := NewDevice(sim)
	if err != nil {
		t.Fatal(err)
	}

	// Nothing answers a mismatched ROM: the released slots read back 0xFF.
	got, err := d.Cmd(SimROM(0x28, 8), 0xBE, 9)
	if err != nil {
		t.Fatalf("Cmd() error = %v", err)
	}
	if !bytes.Equal(got, bytes.Repeat([]byte{0xFF}, 9)) {
		t.Errorf("Cmd() = %x, want all 0xff", got)
	}
}

func TestTx(t *testing.T) {
	stubSleep(t)

	addr := SimROM(0x10, 3)
	scratch := []byte{0x2A, 0x00, 0x4B, 0x46, 0xFF, 0xFF, 0x02, 0x10, 0x00}
	scratch[8] = CRC8(scratch[:8])

	sim := NewBusSim(&SimSlave{ROM: addr, Scratchpad: scratch})
	d, err := NewDevice(sim)
	if err != nil {
		t.Fatal(err)
	}

	w := make([]byte, 0, 10)
	w = append(w, MatchROM)
	w = binary.LittleEndian.AppendUint64(w, uint64(addr))
	w = append(w, 0xBE)
	r := make([]byte, len(scratch))
	if err := d.Tx(w, r, onewire.WeakPullup); err != nil {
		t.Fatalf("Tx() error = %v", err)
	}
	if !bytes.Equal(r, scratch) {
		t.Errorf("Tx() read %x, want %x", r, scratch)
	}
	if !onewire.CheckCRC(r) {
		t.Error("Tx() read fails the ROM CRC check")
	}
}
