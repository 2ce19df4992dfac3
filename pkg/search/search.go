// Package search implements the binary UUID searcher (spec §4.8): a
// depth-first descent of the 32-bit UUID prefix tree, driven entirely by
// bus-assertion broadcasts, for buses that cannot disable neighbors.
//
// Grounded on other_examples/1e4545c9_samsamfire-gocanopen__pkg-sdo-server.go's
// state-machine-over-a-queue shape and the teacher's own explicit
// state-transition style in pkg/usock/usock.go's processByte.
package search

import (
	"context"
	"time"

	"github.com/turag-feldbus/go-host/pkg/ferr"
	"github.com/turag-feldbus/go-host/pkg/locator"
)

// Address pairs a prefix with how many of its low bits are significant.
// Level 33 is a pseudo-leaf: a fully determined UUID that needs no
// further bus query (see Searcher.process).
type Address struct {
	Prefix uint32
	Level  uint8
}

const leafLevel = 33

// Searcher runs the queue-of-Address traversal over one Locator.
type Searcher struct {
	loc             *locator.Locator
	delay           time.Duration
	onlyUnaddressed bool

	queue   []Address
	started bool
	lastRun time.Time
	now     func() time.Time
}

// New creates a Searcher. delay is the minimum spacing between
// consecutive assertion broadcasts, protecting slow devices; 0 disables
// the throttle. onlyUnaddressed restricts every bus-assertion broadcast
// to devices that have not yet been assigned a bus address (sub_op
// 0x05), so a searcher re-run after a partial enumeration does not
// re-discover devices the caller already addressed.
func New(loc *locator.Locator, delay time.Duration, onlyUnaddressed bool) *Searcher {
	return &Searcher{loc: loc, delay: delay, onlyUnaddressed: onlyUnaddressed, now: time.Now}
}

func (s *Searcher) reset() {
	s.queue = []Address{{Prefix: 0, Level: 0}}
	s.started = true
	s.lastRun = time.Time{}
}

func (s *Searcher) pushFront(a Address) { s.queue = append([]Address{a}, s.queue...) }
func (s *Searcher) pushBack(a Address)  { s.queue = append(s.queue, a) }

func (s *Searcher) popFront() Address {
	a := s.queue[0]
	s.queue = s.queue[1:]
	return a
}

// FindAllDevices runs the traversal to completion, returning every
// discovered UUID. Order is the order bus assertions resolved leaves,
// not numeric order.
func (s *Searcher) FindAllDevices(ctx context.Context) ([]uint32, error) {
	s.reset()
	var found []uint32
	for {
		uuid, ok, err := s.FindNextDevice(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return found, nil
		}
		found = append(found, uuid)
	}
}

// FindNextDevice advances the traversal until either one more leaf UUID
// is discovered (ok == true) or the queue empties (ok == false, no more
// devices). Call FindAllDevices to drive it to completion in one call,
// or call this directly to interleave other work between leaves.
func (s *Searcher) FindNextDevice(ctx context.Context) (uuid uint32, ok bool, err error) {
	if !s.started {
		s.reset()
	}
	for len(s.queue) > 0 {
		node := s.popFront()
		uuid, ok, err = s.process(ctx, node)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return uuid, true, nil
		}
	}
	return 0, false, nil
}

// process runs one queue node through the assertion protocol and applies
// the level/bit transition rules from spec §4.8.
func (s *Searcher) process(ctx context.Context, node Address) (uuid uint32, leaf bool, err error) {
	if node.Level == leafLevel {
		// Proven by elimination at the parent step; no query needed.
		return node.Prefix, true, nil
	}

	if err := s.waitSettle(ctx); err != nil {
		return 0, false, err
	}
	matched, hardErr := s.assert(ctx, node.Prefix, node.Level)
	s.lastRun = s.now()
	if hardErr != nil {
		return 0, false, hardErr
	}

	if node.Level == 0 {
		if matched {
			s.pushFront(Address{Prefix: 0, Level: 1})
		}
		// Not matched: no devices at all, nothing further to explore.
		return 0, false, nil
	}

	bitPos := node.Level - 1
	leftBranch := (node.Prefix>>bitPos)&1 == 0

	switch {
	case matched && node.Level < 32:
		s.pushFront(Address{Prefix: node.Prefix, Level: node.Level + 1})
		if leftBranch {
			s.pushBack(Address{Prefix: node.Prefix | (1 << bitPos), Level: node.Level})
		}
		return 0, false, nil

	case matched: // node.Level == 32: full 32-bit match, a discovered UUID
		if leftBranch {
			s.pushBack(Address{Prefix: node.Prefix | (1 << bitPos), Level: node.Level})
		}
		return node.Prefix, true, nil

	case leftBranch: // not matched, left branch: the sibling must match
		s.pushFront(Address{Prefix: node.Prefix | (1 << bitPos), Level: node.Level + 1})
		return 0, false, nil

	default: // not matched, right branch: backtrack, nothing to enqueue
		return 0, false, nil
	}
}

// assert issues the bus-assertion broadcast and classifies the outcome:
// matched==true on Success, a checksum error or missing data (garbled
// responses still indicate a physical collision happened);
// matched==false only on NoAssertionDetected. Any other error (a failed
// write, an invalid argument, bus cancellation) is a hard failure that
// aborts the whole search.
func (s *Searcher) assert(ctx context.Context, prefix uint32, level uint8) (matched bool, hardErr error) {
	err := s.loc.RequestBusAssertion(ctx, prefix, level, s.onlyUnaddressed)
	if err == nil {
		return true, nil
	}
	kind, ok := ferr.KindOf(err)
	if !ok {
		return false, err
	}
	switch kind {
	case ferr.NoAssertionDetected:
		return false, nil
	case ferr.TransportChecksumError, ferr.TransportReceptionMissingDataError:
		return true, nil
	default:
		return false, err
	}
}

func (s *Searcher) waitSettle(ctx context.Context) error {
	if s.delay <= 0 || s.lastRun.IsZero() {
		return nil
	}
	if wait := s.delay - s.now().Sub(s.lastRun); wait > 0 {
		return sleepCtx(ctx, wait)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
