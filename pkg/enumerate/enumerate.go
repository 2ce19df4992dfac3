// Package enumerate implements the enumeration driver (spec §4.9):
// assigns bus addresses to every UUID-identified slave, via a sequential
// neighbor-chained pass, a binary-search pass, or both (sequential first,
// binary as a fallback for whatever the sequential pass could not
// resolve).
//
// Grounded on cmd/bluetooth-service/main.go's top-to-bottom
// initialization sequence (InitializeNRF52, then a strict sequence of
// UpdateX calls) — the same "ordered procedure with fallback on error"
// shape this driver follows.
package enumerate

import (
	"context"

	"github.com/turag-feldbus/go-host/pkg/ferr"
	"github.com/turag-feldbus/go-host/pkg/locator"
	"github.com/turag-feldbus/go-host/pkg/search"
)

// Result is the outcome of one EnumerateDevices call.
type Result struct {
	// UUIDs lists every discovered slave, in the order it was assigned
	// an address: UUIDs[i] holds bus address i+1.
	UUIDs []uint32
	// OrderKnown is true only when every device was discovered through
	// the sequential neighbor-chained pass, so UUIDs reflects physical
	// bus order; a binary-search contribution (whole or partial) makes
	// it false, since assertion order carries no positional meaning.
	OrderKnown bool
}

// Driver runs one bus's enumeration, combining a Locator for the
// broadcast protocol with a Searcher for the binary fallback.
type Driver struct {
	loc      *locator.Locator
	searcher *search.Searcher
}

// New creates a Driver. searcher may be nil if the caller never sets
// useBin; EnumerateDevices returns InvalidArgument rather than panicking
// if a binary pass is requested without one.
func New(loc *locator.Locator, searcher *search.Searcher) *Driver {
	return &Driver{loc: loc, searcher: searcher}
}

// EnumerateDevices resets every address on the bus and reassigns one
// per discovered UUID. At least one of useSeq, useBin must be true.
//
// useSeq drives the sequential neighbor-chained pass (spec §8 Scenario
// C): disable neighbors, repeatedly ask the single currently-unaddressed
// device who it is, assign it the next address, re-enable neighbors to
// expose the next device in the physical chain.
//
// useBin drives the binary UUID searcher (spec §4.8). With useSeq
// false, it is the whole procedure (step 3): run it once over every
// (necessarily still-unaddressed) device and assign addresses in
// discovery order, OrderKnown = false. With both set, it only runs as
// a fallback for whatever the sequential pass could not resolve (step
// 4): any non-success from the broadcast ping restarts the sequential
// loop via a binary pass restricted to unaddressed devices (sub_op
// 0x05, threaded through d.searcher's onlyUnaddressed flag); a dry
// fallback pass (zero new devices) means the bus is exhausted and the
// whole procedure returns success, otherwise it loops back and tries
// the sequential ping again.
func (d *Driver) EnumerateDevices(ctx context.Context, useSeq, useBin bool) (Result, error) {
	if !useSeq && !useBin {
		return Result{}, ferr.New(ferr.InvalidArgument)
	}
	if useBin && d.searcher == nil {
		return Result{}, ferr.New(ferr.InvalidArgument)
	}

	if err := d.loc.ResetAllBusAddresses(ctx); err != nil {
		return Result{}, err
	}

	var result Result
	nextAddr := byte(1)
	seen := map[uint32]bool{}

	if !useSeq {
		binFound, err := d.searcher.FindAllDevices(ctx)
		if err != nil {
			return result, err
		}
		if err := d.assignAddresses(ctx, binFound, &nextAddr, seen, &result); err != nil {
			return result, err
		}
		result.OrderKnown = false
		return result, nil
	}

	if err := d.loc.DisableBusNeighbours(ctx); err != nil {
		return Result{}, err
	}
	result.OrderKnown = true

	for {
		uuid, pingErr := d.loc.WhoIsThere(ctx)
		if pingErr == nil {
			if err := d.loc.SetBusAddress(ctx, uuid, nextAddr); err != nil {
				return result, err
			}
			seen[uuid] = true
			result.UUIDs = append(result.UUIDs, uuid)
			nextAddr++
			if err := d.loc.EnableBusNeighbours(ctx); err != nil {
				return result, err
			}
			continue
		}

		// Any non-success ping: the sequential chain stalled, either
		// because the bus is exhausted or because a slave along the
		// chain cannot do neighbor control.
		if !useBin {
			return result, nil
		}

		binFound, err := d.searcher.FindAllDevices(ctx)
		if err != nil {
			return result, err
		}
		if len(binFound) == 0 {
			// Dry fallback pass: nobody left unaddressed, bus exhausted.
			return result, nil
		}
		result.OrderKnown = false
		if err := d.assignAddresses(ctx, binFound, &nextAddr, seen, &result); err != nil {
			return result, err
		}
		// Loop back: retry the sequential ping now that the fallback
		// pass may have exposed a new neighbor.
	}
}

// assignAddresses issues SetBusAddress for every not-yet-seen UUID in
// uuids, in order, consuming sequential addresses starting at *nextAddr.
func (d *Driver) assignAddresses(ctx context.Context, uuids []uint32, nextAddr *byte, seen map[uint32]bool, result *Result) error {
	for _, uuid := range uuids {
		if seen[uuid] {
			continue
		}
		if err := d.loc.SetBusAddress(ctx, uuid, *nextAddr); err != nil {
			return err
		}
		seen[uuid] = true
		result.UUIDs = append(result.UUIDs, uuid)
		*nextAddr++
	}
	return nil
}
