// Package bus implements the serialized bus arbiter (spec §4.4): one
// fair lock per physical medium, plus the minimum inter-packet quiet
// time a half-duplex RS-485 segment needs between transactions to
// different slaves.
//
// Grounded on pkg/usock/usock.go's single sync.Mutex guarding every
// write, generalized with the timing model gomodbus's RTU transport
// uses for its own inter-frame gap detection (Flush in
// transport/serial/rtu/transport.go).
package bus

import (
	"context"
	"sync"
	"time"
)

// Config is the programmatic configuration of one physical bus (spec §6).
type Config struct {
	Baud int
	// DeviceProcessingTime is the extra settle time a slave needs after a
	// broadcast before it is ready for the next transaction. Default 1ms
	// when zero.
	DeviceProcessingTime time.Duration
}

func (c Config) deviceProcessingTime() time.Duration {
	if c.DeviceProcessingTime > 0 {
		return c.DeviceProcessingTime
	}
	return time.Millisecond
}

// ByteDuration is the time to put one byte on the wire, 8N1 framing
// (start + 8 data + stop = 10 bit-times).
func (c Config) ByteDuration() time.Duration {
	return time.Duration(float64(time.Second) * 10 / float64(c.Baud))
}

// QuietTime is the end-of-packet idle time (>= 1.5 idle byte-times).
func (c Config) QuietTime() time.Duration {
	return time.Duration(float64(time.Second) * 15 / float64(c.Baud))
}

// RequiredGap returns the minimum delay that must elapse, after a
// transaction of txLen transmitted bytes, before a transaction to a
// different address may begin.
func (c Config) RequiredGap(txLen int, broadcast bool) time.Duration {
	gap := time.Duration(float64(c.ByteDuration())*float64(txLen)) + c.QuietTime()
	if broadcast {
		gap += c.deviceProcessingTime()
	}
	return gap
}

// Bus arbitrates access to one shared half-duplex medium. At any moment
// it holds at most one in-flight transaction (spec's core invariant).
type Bus struct {
	cfg Config
	now func() time.Time

	// mu serializes transactions. transport.Engine takes it once per
	// attempt, not once per call, so another caller's transaction can run
	// between two retries of the same call.
	mu sync.Mutex

	// state protected by mu, touched only between Begin and End.
	haveLast bool
	lastAddr byte
	gapUntil time.Time
}

// New creates a Bus for the given configuration. now defaults to
// time.Now; tests may inject a fake monotonic clock.
func New(cfg Config) *Bus {
	return &Bus{cfg: cfg, now: time.Now}
}

// Config returns the bus's timing configuration.
func (b *Bus) Config() Config { return b.cfg }

// Begin acquires the bus lock for a transaction targeting addr, sleeping
// out any remaining inter-packet gap left over from a transaction to a
// *different* address. Transactions to the same address as the previous
// one skip the gap: the device was busy processing the host's own
// request, not another slave's. It returns a release func that must be
// called exactly once, passing the number of bytes actually transmitted
// and whether the transaction was a broadcast, so the next caller's
// Begin can compute its own wait.
func (b *Bus) Begin(ctx context.Context, addr byte) (release func(txLen int, broadcast bool), err error) {
	b.mu.Lock()

	if b.haveLast && b.lastAddr != addr {
		if wait := b.gapUntil.Sub(b.now()); wait > 0 {
			if err := sleepCtx(ctx, wait); err != nil {
				b.mu.Unlock()
				return nil, err
			}
		}
	}

	return func(txLen int, broadcast bool) {
		b.gapUntil = b.now().Add(b.cfg.RequiredGap(txLen, broadcast))
		b.lastAddr = addr
		b.haveLast = true
		b.mu.Unlock()
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if ctx == nil {
		time.Sleep(d)
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
