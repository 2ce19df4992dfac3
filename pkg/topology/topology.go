// Package topology caches the last discovered bus order to disk, so a
// restart against an unchanged physical chain does not have to pay for a
// full sequential or binary enumeration (SPEC_FULL.md supplemented
// feature). The cache is a CBOR record of UUID->address assignments plus
// a checksum; callers are expected to verify it cheaply (e.g. one
// SendPing per cached address) before trusting it.
//
// Grounded on pkg/service/helpers.go's cbor.Marshal/Unmarshal usage,
// repurposed from wire-message encoding to cache-record encoding.
package topology

import (
	"context"
	"encoding/binary"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/fxamacker/cbor/v2"

	"github.com/turag-feldbus/go-host/pkg/device"
	"github.com/turag-feldbus/go-host/pkg/transport"
)

// Entry is one cached UUID/address assignment.
type Entry struct {
	UUID    uint32 `cbor:"uuid"`
	Address byte   `cbor:"address"`
}

// Record is the on-disk cache payload: Devices in ascending-address
// order (Devices[i].Address == i+1), plus a checksum guarding against a
// truncated or hand-edited file.
type Record struct {
	Devices  []Entry `cbor:"devices"`
	Checksum uint64  `cbor:"checksum"`
}

// NewRecord builds a Record from an enumeration result's UUID list,
// assigning addresses 1..len(uuids) in order, and stamps its checksum.
func NewRecord(uuids []uint32) Record {
	entries := make([]Entry, len(uuids))
	for i, uuid := range uuids {
		entries[i] = Entry{UUID: uuid, Address: byte(i + 1)}
	}
	return Record{Devices: entries, Checksum: checksum(entries)}
}

func checksum(entries []Entry) uint64 {
	buf := make([]byte, 5*len(entries))
	for i, e := range entries {
		binary.LittleEndian.PutUint32(buf[i*5:], e.UUID)
		buf[i*5+4] = e.Address
	}
	return xxhash.Sum64(buf)
}

// ChecksumValid reports whether r's checksum matches its own Devices
// list, catching a corrupted or hand-edited cache file.
func (r Record) ChecksumValid() bool {
	return r.Checksum == checksum(r.Devices)
}

// Verify cheaply sanity-checks the cache against the live bus: one
// SendPing per cached address. It returns true only if every cached
// address still answers. It does not re-confirm UUID identity — a
// physical chain swap that preserves device count and positions would
// pass; callers that need stronger guarantees should fall back to a full
// enumerate.Driver.EnumerateDevices instead of trusting a stale cache.
func (r Record) Verify(ctx context.Context, tr *transport.Engine) bool {
	if !r.ChecksumValid() {
		return false
	}
	for _, e := range r.Devices {
		core := device.NewCore(e.Address, tr)
		if err := core.SendPing(ctx); err != nil {
			return false
		}
	}
	return true
}

// LoadFile reads and CBOR-decodes a Record from path.
func LoadFile(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	var r Record
	if err := cbor.Unmarshal(data, &r); err != nil {
		return Record{}, err
	}
	return r, nil
}

// SaveFile CBOR-encodes r and writes it to path.
func SaveFile(path string, r Record) error {
	data, err := cbor.Marshal(r)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
