package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/toxiguard/chat-relay/loadtest/client"
	"github.com/toxiguard/chat-relay/loadtest/stats"
)

func roomName(i int) string {
	return fmt.Sprintf("load%d", i)
}

// runChat fills rooms with chatting users. Every user sends stamped messages
// at a fixed interval, a share of them toxic, and occasionally reports one.
// Round trip is measured from each sender's own echo, which travels the full
// classify and broadcast path.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080", "Relay base URL")
	rooms := fs.Int("rooms", 10, "Number of rooms")
	perRoom := fs.Int("per-room", 10, "Users per room")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration for connection creation")
	duration := fs.Duration("duration", 30*time.Second, "How long users chat")
	msgInterval := fs.Duration("msg-interval", 2*time.Second, "Interval between messages per user")
	msgSize := fs.Int("msg-size", 128, "Size of each message payload in bytes")
	toxicRatio := fs.Float64("toxic-ratio", 0.1, "Share of messages carrying a toxic phrase")
	toxicPhrase := fs.String("toxic-phrase", "you are an idiot", "Phrase the classifier is expected to flag")
	reportRatio := fs.Float64("report-ratio", 0.02, "Share of messages followed by a report")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	fs.Parse(args)

	total := *rooms * *perRoom
	fmt.Printf("Chat test: %d rooms x %d users (%d clients) to %s (ramp=%s, duration=%s, interval=%s, toxic=%.0f%%)\n",
		*rooms, *perRoom, total, *url, *rampUp, *duration, *msgInterval, *toxicRatio*100)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	scraper := stats.NewScraper(*metricsURL, *scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)
	defer scraper.Stop()

	// -----------------------------------------------------------------------
	// Phase 1: join rooms
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Phase 1: Join rooms ---")

	interval := *rampUp / time.Duration(max(total, 1))
	if interval <= 0 {
		interval = time.Millisecond
	}

	var mu sync.Mutex
	clients := make([]*client.Client, 0, total)
	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup

	rampTicker := time.NewTicker(interval)
	interrupted := false
	for n := 0; n < total && !interrupted; {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during connection phase.")
			interrupted = true
		case <-rampTicker.C:
			i := n
			n++
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				defer cancel()

				c, err := client.Dial(connCtx, *url, roomName(i%*rooms), fmt.Sprintf("user%d", i))
				if err != nil {
					collector.AddError()
					return
				}
				c.OnBroadcast(func(b client.Broadcast, latency time.Duration) {
					collector.AddBroadcast(b.IsToxic, latency)
				})
				c.OnConfirmation(func(conf client.Confirmation) {
					collector.AddConfirmation(conf.Success)
				})
				c.Start()
				collector.AddConnect(c.GetMetrics().ConnectLatency)

				mu.Lock()
				clients = append(clients, c)
				mu.Unlock()
			}()
		}
	}
	rampTicker.Stop()
	wg.Wait()

	fmt.Printf("Joined: %d/%d  errors: %d\n", collector.ConnectionCount(), total, collector.ErrorCount())

	// -----------------------------------------------------------------------
	// Phase 2: chat
	// -----------------------------------------------------------------------
	if !interrupted {
		fmt.Println("\n--- Phase 2: Chat ---")

		chatCtx, cancel := context.WithTimeout(ctx, *duration)
		filler := strings.Repeat("x", max(*msgSize, 1))

		mu.Lock()
		for i, c := range clients {
			wg.Add(1)
			go func(c *client.Client, seed int64) {
				defer wg.Done()
				chatLoop(chatCtx, c, rand.New(rand.NewSource(seed)), chatParams{
					interval:    *msgInterval,
					filler:      filler,
					toxicRatio:  *toxicRatio,
					toxicPhrase: *toxicPhrase,
					reportRatio: *reportRatio,
				}, collector)
			}(c, time.Now().UnixNano()+int64(i))
		}
		mu.Unlock()

		progress := time.NewTicker(5 * time.Second)
	progressLoop:
		for {
			select {
			case <-chatCtx.Done():
				break progressLoop
			case <-progress.C:
				fmt.Printf("  [chat] broadcasts: %d  errors: %d\n", collector.BroadcastCount(), collector.ErrorCount())
			}
		}
		progress.Stop()
		cancel()
		wg.Wait()

		// Let the last echoes arrive.
		time.Sleep(500 * time.Millisecond)
	}

	// -----------------------------------------------------------------------
	// Cleanup
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Cleanup ---")
	mu.Lock()
	for _, c := range clients {
		c.Close()
	}
	mu.Unlock()

	collector.Report()
}

type chatParams struct {
	interval    time.Duration
	filler      string
	toxicRatio  float64
	toxicPhrase string
	reportRatio float64
}

func chatLoop(ctx context.Context, c *client.Client, rng *rand.Rand, p chatParams, collector *stats.Collector) {
	// Stagger the first send so rooms do not fire in lockstep.
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(rng.Int63n(int64(p.interval) + 1))):
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		text := p.filler
		if rng.Float64() < p.toxicRatio {
			text = p.toxicPhrase + " " + text
		}
		if err := c.SendChat(text); err != nil {
			collector.AddError()
			return
		}
		if rng.Float64() < p.reportRatio {
			if err := c.SendReport(text, fmt.Sprint(rng.Intn(3)), "someone"); err != nil {
				collector.AddError()
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			return
		case <-ticker.C:
		}
	}
}
