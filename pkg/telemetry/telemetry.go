// Package telemetry publishes per-bus HostStatistics snapshots to Redis
// and drains a command list the host uses to trigger out-of-band
// enumeration or address scans (SPEC_FULL.md supplemented feature).
//
// Grounded on pkg/redis/client.go's one-method-per-wire-operation style
// (WriteAndPublishInt, BRPop) and cmd/bluetooth-service/main.go's
// go svc.WatchRedisCommands() / svc.SubscribeToRedisChannels() wiring:
// one goroutine blocks on BRPop draining a command list, the main
// goroutine runs a scheduled publish loop.
package telemetry

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/turag-feldbus/go-host/pkg/redis"
	"github.com/turag-feldbus/go-host/pkg/transport"
)

// Redis keys this package owns.
const (
	KeyHostStatistics = "feldbus-host"
	KeyCommandList    = "feldbus-host:commands"
	KeyControlChannel = "feldbus-host:control"

	fieldLastTopology = "last_topology"
)

// Command is one instruction drained from the command list.
type Command string

const (
	// CommandEnumerate requests a fresh EnumerateDevices pass.
	CommandEnumerate Command = "enumerate"
	// CommandScan requests a fresh ScanBusAddresses pass.
	CommandScan Command = "scan"
)

// Bus names one physical bus's Engine for statistics publishing, keyed
// by a caller-chosen name (e.g. "bus0").
type Bus struct {
	Name   string
	Engine *transport.Engine
}

// Publisher periodically snapshots a set of buses' HostStatistics and
// writes them to Redis, and drains a command list in the background.
type Publisher struct {
	client *redis.Client
	buses  []Bus
	stopCh chan struct{}
}

// New creates a Publisher over an already-connected Redis client.
func New(client *redis.Client, buses []Bus) *Publisher {
	return &Publisher{client: client, buses: buses, stopCh: make(chan struct{})}
}

// Stop signals WatchCommands to return; it does not interrupt a
// PublishLoop, which instead should be stopped via ctx cancellation.
func (p *Publisher) Stop() { close(p.stopCh) }

// PublishLoop writes every bus's HostStatistics snapshot to Redis every
// interval, until ctx is canceled. Each counter is written and published
// as a field of the bus's own hash key (KeyHostStatistics + ":" + bus
// name), mirroring
// WriteAndPublishInt(key, field, value)'s shape in pkg/redis/client.go.
func (p *Publisher) PublishLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, b := range p.buses {
				stats := b.Engine.Stats()
				p.publishOne(b.Name, "checksum_errors", int(stats.ChecksumErrors))
				p.publishOne(b.Name, "no_answer", int(stats.NoAnswer))
				p.publishOne(b.Name, "missing_data", int(stats.MissingData))
				p.publishOne(b.Name, "transmit_errors", int(stats.TransmitErrors))
				p.publishOne(b.Name, "successes", int(stats.Successes))
			}
		}
	}
}

func (p *Publisher) publishOne(busName, field string, value int) {
	key := KeyHostStatistics + ":" + busName
	if err := p.client.WriteAndPublishInt(key, field, value); err != nil {
		log.Printf("telemetry: failed to publish %s/%s: %v", key, field, err)
	}
}

// WatchCommands blocks on BRPop against the command list, handing each
// drained command to handle, until Stop is called. It is meant to run
// in its own goroutine, the same shape as the teacher's
// go svc.WatchRedisCommands().
func (p *Publisher) WatchCommands(handle func(Command)) {
	log.Printf("telemetry: watching command list %s", KeyCommandList)
	for {
		select {
		case <-p.stopCh:
			log.Printf("telemetry: stopping command watcher")
			return
		default:
			result, err := p.client.BRPop(time.Second, KeyCommandList)
			if err != nil {
				log.Printf("telemetry: BRPOP on %s failed: %v", KeyCommandList, err)
				time.Sleep(time.Second)
				continue
			}
			if len(result) != 2 {
				continue
			}
			handle(Command(result[1]))
		}
	}
}

// EnqueueCommand pushes cmd onto the command list WatchCommands drains,
// the counterpart producers (a CLI, a test, another service) use instead
// of reaching for a raw Redis client.
func (p *Publisher) EnqueueCommand(cmd Command) error {
	return p.client.LPush(KeyCommandList, string(cmd))
}

// WatchControlChannel subscribes to KeyControlChannel and hands every
// message straight to handle, the same pattern as the teacher's
// SubscribeToRedisChannels: a goroutine ranges over the pubsub channel
// until ctx is canceled. Unlike WatchCommands, a control-channel message
// is fire-and-forget — there is no queue to persist it if nobody is
// listening.
func (p *Publisher) WatchControlChannel(ctx context.Context, handle func(Command)) {
	ch, closeFunc := p.client.Subscribe(KeyControlChannel)
	defer closeFunc()
	log.Printf("telemetry: watching control channel %s", KeyControlChannel)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			handle(Command(msg.Payload))
		}
	}
}

// RecordTopology persists the current set of discovered UUIDs under
// fieldLastTopology and publishes the change on KeyHostStatistics, so a
// dashboard subscribed to that channel can refresh without polling.
func (p *Publisher) RecordTopology(uuids []uint32) error {
	parts := make([]string, len(uuids))
	for i, u := range uuids {
		parts[i] = strconv.FormatUint(uint64(u), 16)
	}
	value := strings.Join(parts, ",")
	if err := p.client.WriteString(KeyHostStatistics, fieldLastTopology, value); err != nil {
		return err
	}
	return p.client.Publish(KeyHostStatistics, fmt.Sprintf("%s:%s", fieldLastTopology, value))
}

// LastTopology reads back the UUID set RecordTopology last wrote.
func (p *Publisher) LastTopology() (string, error) {
	return p.client.GetString(KeyHostStatistics, fieldLastTopology)
}

// ClearTopology removes the persisted topology field, signaling that no
// enumeration result is currently known (e.g. the bus came up empty).
func (p *Publisher) ClearTopology() (int64, error) {
	return p.client.HDel(KeyHostStatistics, fieldLastTopology)
}
