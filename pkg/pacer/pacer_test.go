package pacer

import (
	"bytes"
	"testing"
	"time"
)

func drain(p *Pacer) [][]byte {
	var out [][]byte
	for i := 0; i < 10000 && p.Active(); i++ {
		if packet, ok := p.Tick(); ok {
			out = append(out, packet)
		} else if p.Buffered() > 0 {
			break
		}
	}
	return out
}

func TestPacketsAreAlwaysFullSize(t *testing.T) {
	tests := []struct {
		name        string
		fragments   []int
		wantPackets int
		wantLeft    int
	}{
		{"exact", []int{800}, 1, 0},
		{"remainder stays", []int{1000}, 1, 200},
		{"small bursts", []int{100, 300, 450, 750}, 2, 0},
		{"below one packet", []int{799}, 0, 799},
		{"many", []int{2400, 1}, 3, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(Config{PacketSize: 800, Interval: time.Hour})
			defer p.Reset()

			for _, n := range tt.fragments {
				p.Append("item_1", bytes.Repeat([]byte{0x7f}, n))
			}

			packets := drain(p)
			if len(packets) != tt.wantPackets {
				t.Fatalf("packets = %d, want %d", len(packets), tt.wantPackets)
			}
			for i, pk := range packets {
				if len(pk) != 800 {
					t.Errorf("packet %d has %d bytes", i, len(pk))
				}
			}
			if p.Buffered() != tt.wantLeft {
				t.Errorf("buffered = %d, want %d", p.Buffered(), tt.wantLeft)
			}
			if tt.wantLeft == 0 && p.Active() {
				t.Error("ticker still active after queue drained")
			}
			if tt.wantLeft > 0 && !p.Active() {
				t.Error("ticker stopped with a partial remainder queued")
			}
		})
	}
}

func TestPacketOrder(t *testing.T) {
	p := New(Config{PacketSize: 4, Interval: time.Hour})
	p.Append("a", []byte{1, 2, 3})
	p.Append("a", []byte{4, 5, 6, 7, 8})

	first, _ := p.Tick()
	second, _ := p.Tick()
	if !bytes.Equal(first, []byte{1, 2, 3, 4}) || !bytes.Equal(second, []byte{5, 6, 7, 8}) {
		t.Errorf("packets = %v %v", first, second)
	}
	if p.Sent() != 2 {
		t.Errorf("Sent() = %d", p.Sent())
	}
}

func TestTurnTracking(t *testing.T) {
	p := New(DefaultConfig())
	defer p.Reset()

	if p.Pending() || p.Turn() != nil {
		t.Fatal("fresh pacer must have no turn")
	}
	if !p.Append("item_1", []byte{1}) {
		t.Error("first fragment must start a turn")
	}
	if p.Append("item_1", []byte{2}) {
		t.Error("same tag must not start a new turn")
	}
	if !p.Append("item_2", []byte{3}) {
		t.Error("different tag must start a new turn")
	}
	if p.Turn().ID != "item_2" {
		t.Errorf("Turn() = %+v", p.Turn())
	}
}

func TestResetIsIdempotent(t *testing.T) {
	p := New(Config{PacketSize: 800, Interval: time.Millisecond})
	p.Reset()
	p.Reset()
	if p.Active() || p.C() != nil {
		t.Fatal("idle pacer must stay idle after reset")
	}

	p.Append("item_1", make([]byte, 4000))
	if p.C() == nil {
		t.Fatal("append must start the ticker")
	}

	p.Reset()
	p.Reset()

	if p.Active() || p.C() != nil {
		t.Error("ticker still active after reset")
	}
	if p.Buffered() != 0 || p.Pending() {
		t.Error("reset must discard audio and the turn")
	}
	if packet, ok := p.Tick(); ok || packet != nil {
		t.Error("tick after reset produced a packet")
	}
	if p.Sent() != 0 {
		t.Errorf("Sent() = %d, want 0", p.Sent())
	}
}

func TestPendingEndsWhenQueueDrains(t *testing.T) {
	p := New(Config{PacketSize: 800, Interval: time.Hour})
	defer p.Reset()

	p.Append("item_1", make([]byte, 800))
	if !p.Pending() {
		t.Fatal("queued audio must be pending")
	}
	if _, ok := p.Tick(); !ok {
		t.Fatal("expected one packet")
	}
	if p.Pending() {
		t.Error("drained pacer must not report pending audio")
	}
	if p.Turn() == nil || p.Turn().ID != "item_1" {
		t.Errorf("turn must survive the drain, got %+v", p.Turn())
	}
	if p.Append("item_1", make([]byte, 10)) {
		t.Error("same tag after drain must not start a new turn")
	}
	if !p.Pending() {
		t.Error("partial remainder is still pending")
	}
}

func TestTickerFires(t *testing.T) {
	p := New(Config{PacketSize: 2, Interval: time.Millisecond})
	defer p.Reset()
	p.Append("x", []byte{1, 2, 3, 4})

	var got int
	timeout := time.After(2 * time.Second)
	for p.Active() {
		select {
		case <-p.C():
			if _, ok := p.Tick(); ok {
				got++
			}
		case <-timeout:
			t.Fatal("pacer never drained")
		}
	}
	if got != 2 {
		t.Errorf("released %d packets, want 2", got)
	}
}

func TestDefaults(t *testing.T) {
	cfg := New(Config{}).cfg
	if cfg.PacketSize != 800 || cfg.Interval != 15*time.Millisecond {
		t.Errorf("defaults = %+v", cfg)
	}
}
