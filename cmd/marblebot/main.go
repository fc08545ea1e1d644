// Command marblebot connects headless marbles to a room and rolls them around on a scripted tilt.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sakshamg567/tiltmarble/internal/client"
	"github.com/sakshamg567/tiltmarble/internal/physics"
	"github.com/sakshamg567/tiltmarble/internal/protocol"
	"github.com/sakshamg567/tiltmarble/internal/roster"
	"github.com/sakshamg567/tiltmarble/internal/shop"
	"github.com/sakshamg567/tiltmarble/internal/tilt"
	"github.com/sakshamg567/tiltmarble/internal/transport"
	"github.com/sakshamg567/tiltmarble/internal/transport/docstore"
	"github.com/sakshamg567/tiltmarble/internal/transport/relay"
	"github.com/sakshamg567/tiltmarble/logger"
)

func main() {
	n := flag.Int("n", 4, "number of bots")
	link := flag.String("room", "", "room id or game link; a new room is created when empty")
	backend := flag.String("backend", "relay", "relay or redis")
	server := flag.String("url", "http://localhost:3000", "relay server base url")
	redisURL := flag.String("redis", "redis://localhost:6379", "redis url for -backend redis")
	codec := flag.String("codec", "json", "relay wire codec: json or msgpack")
	catalog := flag.String("catalog", "", "shop catalog file, one item per line: "+shop.CatalogFormat)
	name := flag.String("name", "bot", "name prefix")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *verbose {
		logger.SetLevel(logger.LevelDebug)
	}

	roomID, created, err := resolveRoom(*link, *backend, *server)
	if err != nil {
		fatalf("%v", err)
	}
	if created {
		logger.Info("Created room: %s", roomID)
	} else {
		logger.Info("Using existing room: %s", roomID)
	}

	items := shop.DefaultCatalog()
	if *catalog != "" {
		if items, err = shop.LoadCatalog(*catalog); err != nil {
			fatalf("catalog: %v", err)
		}
	}

	tr, closeTr, err := dialTransport(*backend, *server, *redisURL, *codec, *name)
	if err != nil {
		fatalf("%v", err)
	}
	defer closeTr()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < *n; i++ {
		i := i // per-iteration copy (go1.22 loopvar semantics)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runBot(ctx, tr(i), roomID, fmt.Sprintf("%s%d", *name, i), i, items); err != nil && ctx.Err() == nil {
				logger.Error("bot %d: %v", i, err)
			}
		}()
	}
	wg.Wait()
	// give the leave frames a moment to flush
	time.Sleep(200 * time.Millisecond)
}

// dialTransport returns a factory handing each bot its own transport. Redis bots share one pool.
func dialTransport(backend, server, redisURL, codecName, namePrefix string) (func(i int) transport.Transport, func(), error) {
	switch backend {
	case "relay":
		codec, err := protocol.CodecByName(codecName)
		if err != nil {
			return nil, nil, err
		}
		var mu sync.Mutex
		var clients []*relay.Client
		factory := func(i int) transport.Transport {
			c := relay.New(relay.Config{URL: wsBase(server), PlayerID: botID(i), Name: fmt.Sprintf("%s%d", namePrefix, i), Codec: codec})
			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
			return c
		}
		closeAll := func() {
			mu.Lock()
			defer mu.Unlock()
			for _, c := range clients {
				c.Close()
			}
		}
		return factory, closeAll, nil

	case "redis":
		pool := docstore.NewPool(redisURL)
		store := docstore.NewRedisStore(pool, roster.DefaultConfig(), docstore.WithRedisLogger(logger.WithPrefix("[redis] ")))
		var mu sync.Mutex
		var trs []*docstore.Transport
		factory := func(int) transport.Transport {
			tr := docstore.NewTransport(store, docstore.DefaultConfig())
			mu.Lock()
			trs = append(trs, tr)
			mu.Unlock()
			return tr
		}
		closeAll := func() {
			mu.Lock()
			defer mu.Unlock()
			for _, tr := range trs {
				tr.Close()
			}
			pool.Close()
		}
		return factory, closeAll, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", backend)
}

func botID(i int) string {
	return fmt.Sprintf("bot-%d-%d", os.Getpid(), i)
}

func runBot(ctx context.Context, tr transport.Transport, roomID, name string, i int, items []shop.Item) error {
	cfg := client.DefaultConfig()
	cfg.RoomID = roomID
	cfg.PlayerID = botID(i)
	cfg.Name = name
	c := client.New(cfg, tr)

	sensor := &tilt.ScriptedSensor{
		Amplitude: 25,
		Period:    time.Duration(3+i%4) * time.Second,
		Phase:     float64(i) * math.Pi / 3,
	}
	defer sensor.Stop()
	ctl := tilt.NewController(sensor)
	if err := ctl.Start(ctx); err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer c.Stop()

	loop := &client.Loop{
		Client:  c,
		Input:   ctl,
		Bounds:  physics.CenteredBounds(800, 500),
		Params:  physics.DefaultParams(),
		Tracker: shop.NewTracker(items),
		OnFrame: func(f client.Frame) {
			for _, it := range f.Picked {
				logger.Info("%s picked up %s", name, it.Name)
			}
			if f.Tick%uint64(physics.TickHz*5) == 0 {
				logger.Debug("%s at (%.0f,%.0f), %d others, ready=%v", name, f.Local.X, f.Local.Y, len(f.Remotes), f.Ready)
			}
		},
	}
	logger.Info("%s joined %s", name, roomID)
	return loop.Run(ctx)
}

func fatalf(format string, v ...any) {
	logger.Error(format, v...)
	os.Exit(1)
}
