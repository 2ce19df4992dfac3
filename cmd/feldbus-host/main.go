package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/turag-feldbus/go-host/pkg/bus"
	"github.com/turag-feldbus/go-host/pkg/enumerate"
	"github.com/turag-feldbus/go-host/pkg/frame"
	"github.com/turag-feldbus/go-host/pkg/locator"
	"github.com/turag-feldbus/go-host/pkg/redis"
	"github.com/turag-feldbus/go-host/pkg/search"
	"github.com/turag-feldbus/go-host/pkg/serialport"
	"github.com/turag-feldbus/go-host/pkg/telemetry"
	"github.com/turag-feldbus/go-host/pkg/topology"
	"github.com/turag-feldbus/go-host/pkg/transport"
)

// Configuration flags
var (
	serialDevice = flag.String("serial", "/dev/ttyUSB0", "Serial device path")
	baudRate     = flag.Int("baud", 115200, "Serial baud rate")
	cachePath    = flag.String("cache", "/var/lib/feldbus-host/topology.cbor", "Topology cache file path")
	useSeq       = flag.Bool("sequential", true, "Use sequential neighbor-chained enumeration")
	useBin       = flag.Bool("binary-search", true, "Fall back to binary UUID search for unresolved devices")
	redisAddr    = flag.String("redis-addr", "localhost:6379", "Redis server address")
	redisPass    = flag.String("redis-pass", "", "Redis password")
	redisDB      = flag.Int("redis-db", 0, "Redis database number")
	statsPeriod  = flag.Duration("stats-interval", 5*time.Second, "HostStatistics publish interval")
	readTimeout  = flag.Int("read-timeout-ms", 50, "Per-read timeout in milliseconds")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting Feldbus host")
	log.Printf("Serial device: %s", *serialDevice)
	log.Printf("Baud rate: %d", *baudRate)
	log.Printf("Redis address: %s", *redisAddr)

	redisClient, err := redis.New(*redisAddr, *redisPass, *redisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Printf("Connected to Redis")

	port, err := serialport.OpenUART(serialport.Config{
		PortName:      *serialDevice,
		Baud:          *baudRate,
		TimeoutMillis: *readTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to open serial port: %v", err)
	}
	defer port.Close()
	log.Printf("Opened serial port")

	b := bus.New(bus.Config{Baud: *baudRate})
	tr := transport.New(port, b)
	loc := locator.New(tr)
	searcher := search.New(loc, 2*time.Millisecond, true)
	enumDriver := enumerate.New(loc, searcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result, err := loadOrEnumerate(ctx, tr, enumDriver)
	if err != nil {
		log.Fatalf("Failed to bring up bus topology: %v", err)
	}
	log.Printf("Bus topology ready: %d device(s), order known: %v", len(result.UUIDs), result.OrderKnown)

	pub := telemetry.New(redisClient, []telemetry.Bus{{Name: "bus0", Engine: tr}})
	recordTopology(pub, result.UUIDs)

	handleCommand := func(cmd telemetry.Command) {
		switch cmd {
		case telemetry.CommandEnumerate:
			log.Printf("Command: re-enumerating bus")
			if res, err := enumDriver.EnumerateDevices(ctx, *useSeq, *useBin); err != nil {
				log.Printf("Re-enumeration failed: %v", err)
			} else {
				if err := topology.SaveFile(*cachePath, topology.NewRecord(res.UUIDs)); err != nil {
					log.Printf("Failed to persist topology cache: %v", err)
				}
				recordTopology(pub, res.UUIDs)
			}
		case telemetry.CommandScan:
			log.Printf("Command: scanning bus addresses")
			if _, err := loc.ScanBusAddresses(ctx, 1, frame.MaxAddress, false); err != nil {
				log.Printf("Scan failed: %v", err)
			}
		default:
			log.Printf("Unknown command: %s", cmd)
		}
	}
	go pub.WatchCommands(handleCommand)
	go pub.WatchControlChannel(ctx, handleCommand)
	go pub.PublishLoop(ctx, *statsPeriod)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	pub.Stop()
	cancel()
	log.Printf("Shutting down...")
}

// recordTopology persists the current UUID set to Redis, or clears the
// field entirely when the bus came up empty, so a dashboard watching
// KeyHostStatistics never sees a stale, non-empty topology.
func recordTopology(pub *telemetry.Publisher, uuids []uint32) {
	if len(uuids) == 0 {
		if _, err := pub.ClearTopology(); err != nil {
			log.Printf("Failed to clear topology cache in Redis: %v", err)
		}
		return
	}
	if err := pub.RecordTopology(uuids); err != nil {
		log.Printf("Failed to record topology in Redis: %v", err)
	}
}

// loadOrEnumerate tries the on-disk topology cache first, verifying it
// cheaply against the live bus; a missing, corrupt, or stale cache
// falls back to a full enumeration pass, which is then persisted for
// next time.
func loadOrEnumerate(ctx context.Context, tr *transport.Engine, drv *enumerate.Driver) (enumerate.Result, error) {
	if cached, err := topology.LoadFile(*cachePath); err == nil && cached.Verify(ctx, tr) {
		log.Printf("Loaded valid topology cache from %s", *cachePath)
		uuids := make([]uint32, len(cached.Devices))
		for i, e := range cached.Devices {
			uuids[i] = e.UUID
		}
		return enumerate.Result{UUIDs: uuids, OrderKnown: true}, nil
	}

	log.Printf("No usable topology cache, running full enumeration")
	result, err := drv.EnumerateDevices(ctx, *useSeq, *useBin)
	if err != nil {
		return result, err
	}
	if err := topology.SaveFile(*cachePath, topology.NewRecord(result.UUIDs)); err != nil {
		log.Printf("Warning: failed to persist topology cache to %s: %v", *cachePath, err)
	}
	return result, nil
}
