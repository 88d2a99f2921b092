// Package pacer reshapes bursty synthesis audio into fixed-size packets
// released at a steady interval.
//
// Example usage:
//
//	p := pacer.New(pacer.Config{PacketSize: 800, Interval: 15 * time.Millisecond})
//	p.Append(itemID, pcm)
//
//	for {
//	    select {
//	    case <-p.C():
//	        if packet, ok := p.Tick(); ok {
//	            send(packet)
//	        }
//	    }
//	}
package pacer

import (
	"time"
)

// Default pacing values for 24 kHz PCM16 telephony playback.
const (
	DefaultPacketSize = 800
	DefaultInterval   = 15 * time.Millisecond
)

// Config holds pacing parameters.
type Config struct {
	PacketSize int
	Interval   time.Duration
}

// DefaultConfig returns the standard pacing configuration.
func DefaultConfig() Config {
	return Config{
		PacketSize: DefaultPacketSize,
		Interval:   DefaultInterval,
	}
}

// Turn identifies the synthesis turn whose audio is queued.
type Turn struct {
	ID string
}

// Pacer buffers synthesis audio and releases it one packet per tick.
//
// It is not safe for concurrent use. The owner selects on C() and calls Tick
// from the same goroutine that calls Append and Reset.
type Pacer struct {
	cfg    Config
	buf    []byte
	turn   *Turn
	ticker *time.Ticker

	sent uint64
}

// New creates a Pacer. Zero fields in cfg take the defaults.
func New(cfg Config) *Pacer {
	if cfg.PacketSize <= 0 {
		cfg.PacketSize = DefaultPacketSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Pacer{cfg: cfg}
}

// Append queues audio for the turn identified by tag and starts the ticker if
// it is not running. It returns true when tag starts a new turn.
func (p *Pacer) Append(tag string, audio []byte) bool {
	newTurn := p.turn == nil || p.turn.ID != tag
	if newTurn {
		p.turn = &Turn{ID: tag}
	}
	p.buf = append(p.buf, audio...)
	if p.ticker == nil {
		p.ticker = time.NewTicker(p.cfg.Interval)
	}
	return newTurn
}

// Tick dequeues exactly one full packet if one is buffered. A partial
// remainder stays queued. The ticker stops once the queue is empty.
func (p *Pacer) Tick() ([]byte, bool) {
	var packet []byte
	if len(p.buf) >= p.cfg.PacketSize {
		packet = make([]byte, p.cfg.PacketSize)
		copy(packet, p.buf)
		p.buf = p.buf[p.cfg.PacketSize:]
		p.sent++
	}
	if len(p.buf) == 0 {
		p.buf = nil
		p.stop()
	}
	return packet, packet != nil
}

// Reset stops the ticker, discards queued audio and forgets the turn.
// Safe to call when already idle.
func (p *Pacer) Reset() {
	p.stop()
	p.buf = nil
	p.turn = nil
}

// C returns the tick channel, or nil when the pacer is idle so that a select
// case on it never fires.
func (p *Pacer) C() <-chan time.Time {
	if p.ticker == nil {
		return nil
	}
	return p.ticker.C
}

// Active reports whether the ticker is running.
func (p *Pacer) Active() bool {
	return p.ticker != nil
}

// Pending reports whether synthesis audio is still queued for playback. The
// turn tag outlives a drained queue, so it is not consulted here.
func (p *Pacer) Pending() bool {
	return p.ticker != nil
}

// Turn returns the current turn, or nil.
func (p *Pacer) Turn() *Turn {
	return p.turn
}

// Buffered returns the number of queued bytes.
func (p *Pacer) Buffered() int {
	return len(p.buf)
}

// Sent returns the number of packets released since creation.
func (p *Pacer) Sent() uint64 {
	return p.sent
}

func (p *Pacer) stop() {
	if p.ticker != nil {
		p.ticker.Stop()
		p.ticker = nil
	}
}
