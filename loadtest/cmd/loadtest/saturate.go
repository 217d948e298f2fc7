package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/toxiguard/chat-relay/loadtest/client"
	"github.com/toxiguard/chat-relay/loadtest/stats"
)

// occupancy is one room's members as seen by the load generator.
type occupancy struct {
	name     string
	mu       sync.Mutex
	members  []*client.Client
	received atomic.Int64 // chat lines delivered to any member
	expected atomic.Int64 // lines that should have been delivered
}

func (o *occupancy) add(c *client.Client) {
	o.mu.Lock()
	o.members = append(o.members, c)
	o.mu.Unlock()
}

// live returns the members whose connection is still open.
func (o *occupancy) live() []*client.Client {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*client.Client, 0, len(o.members))
	for _, c := range o.members {
		select {
		case <-c.Done():
		default:
			out = append(out, c)
		}
	}
	return out
}

func (o *occupancy) closeAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, c := range o.members {
		c.Close()
	}
}

// runSaturate fills rooms with mostly idle members and holds them. During the
// hold, one live member per room speaks every round and every other live
// member of that room must hear it, so a full relay shows up as lost
// deliveries as well as dropped connections.
func runSaturate(args []string) {
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080", "Relay base URL")
	connections := fs.Int("connections", 1000, "Number of connections to open")
	rooms := fs.Int("rooms", 10, "Number of rooms to spread connections across")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration")
	hold := fs.Duration("hold", 30*time.Second, "Hold duration after all connections are open")
	round := fs.Duration("round", 5*time.Second, "Interval between delivery checks during the hold")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous dial attempts")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL")
	fs.Parse(args)

	*rooms = max(*rooms, 1)
	fmt.Printf("Saturate test: %d connections over %d rooms to %s (ramp=%s, hold=%s, round=%s)\n",
		*connections, *rooms, *url, *rampUp, *hold, *round)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	scraper := stats.NewScraper(*metricsURL, *round)
	collector.SetScraper(scraper)
	scraper.Start(ctx)
	defer scraper.Stop()

	occ := make([]*occupancy, *rooms)
	for i := range occ {
		occ[i] = &occupancy{name: roomName(i)}
	}
	defer func() {
		for _, o := range occ {
			o.closeAll()
		}
	}()

	fmt.Println("\n--- Join ---")
	started := time.Now()
	joinRooms(ctx, *url, occ, *connections, *rampUp, *concurrency, collector)
	fmt.Printf("Joined %d/%d in %s (%d errors)\n",
		collector.ConnectionCount(), *connections, time.Since(started).Round(time.Millisecond), collector.ErrorCount())

	if ctx.Err() == nil {
		fmt.Printf("\n--- Hold (%s) ---\n", *hold)
		holdRooms(ctx, occ, *hold, *round, collector)
	}

	var received, expected int64
	for _, o := range occ {
		received += o.received.Load()
		expected += o.expected.Load()
	}
	if expected > 0 {
		fmt.Printf("\nRoom delivery: %d/%d (%.2f%%)\n", received, expected, float64(received)/float64(expected)*100)
	}
	collector.Report()
}

// joinRooms dials n members round-robin across occ, pacing dials over rampUp.
func joinRooms(ctx context.Context, url string, occ []*occupancy, n int, rampUp time.Duration, concurrency int, collector *stats.Collector) {
	pace := time.NewTicker(max(rampUp/time.Duration(max(n, 1)), time.Millisecond))
	defer pace.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))

	for i := 0; i < n; i++ {
		select {
		case <-gctx.Done():
			fmt.Println("Interrupted while joining.")
			_ = g.Wait()
			return
		case <-pace.C:
		}

		o := occ[i%len(occ)]
		username := fmt.Sprintf("%s-m%d", o.name, i/len(occ))
		g.Go(func() error {
			dialCtx, cancel := context.WithTimeout(gctx, 10*time.Second)
			defer cancel()

			c, err := client.Dial(dialCtx, url, o.name, username)
			if err != nil {
				collector.AddError()
				return nil
			}
			c.OnBroadcast(func(b client.Broadcast, latency time.Duration) {
				// The speaker's own echo is not a delivery to another member.
				if b.Username != c.Username() {
					o.received.Add(1)
				}
				collector.AddBroadcast(b.IsToxic, latency)
			})
			c.Start()
			collector.AddConnect(c.GetMetrics().ConnectLatency)
			o.add(c)
			return nil
		})
	}
	_ = g.Wait()
}

// holdRooms runs one delivery round per tick until hold elapses.
func holdRooms(ctx context.Context, occ []*occupancy, hold, round time.Duration, collector *stats.Collector) {
	deadline := time.NewTimer(hold)
	defer deadline.Stop()
	tick := time.NewTicker(round)
	defer tick.Stop()

	joined := collector.ConnectionCount()
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			fmt.Println("Interrupted during hold.")
			return
		case <-deadline.C:
			return
		case <-tick.C:
		}

		alive := 0
		for _, o := range occ {
			live := o.live()
			alive += len(live)
			if len(live) == 0 {
				continue
			}
			speaker := live[n%len(live)]
			if err := speaker.SendChat(fmt.Sprintf("round %d", n)); err != nil {
				collector.AddError()
				continue
			}
			o.expected.Add(int64(len(live) - 1))
		}
		fmt.Printf("  [round %d] alive: %d/%d  dropped: %d  broadcasts: %d\n",
			n, alive, joined, joined-alive, collector.BroadcastCount())
	}
}
