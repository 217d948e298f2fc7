package stats

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sample is the relay's state as exposed on /metrics at one instant.
type Sample struct {
	At             time.Time
	Connections    float64
	Messages       map[string]float64 // by verdict
	Reports        map[string]float64 // by outcome
	ProtocolErrors float64
	Degraded       bool
	ClassifySum    float64
	ClassifyCount  float64
}

// ParseSample reads a Prometheus text exposition and keeps the relay_*
// series.
func ParseSample(r io.Reader) (Sample, error) {
	s := Sample{
		At:       time.Now(),
		Messages: make(map[string]float64),
		Reports:  make(map[string]float64),
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		name, labels, value, ok := parseSeries(line)
		if !ok {
			continue
		}
		switch name {
		case "relay_connections_total":
			s.Connections = value
		case "relay_messages_total":
			s.Messages[labels["verdict"]] = value
		case "relay_reports_total":
			s.Reports[labels["outcome"]] = value
		case "relay_protocol_errors_total":
			s.ProtocolErrors = value
		case "relay_classifier_degraded":
			s.Degraded = value > 0
		case "relay_classification_latency_seconds_sum":
			s.ClassifySum = value
		case "relay_classification_latency_seconds_count":
			s.ClassifyCount = value
		}
	}
	return s, sc.Err()
}

// parseSeries splits `name{k="v",...} value` into its parts.
func parseSeries(line string) (name string, labels map[string]string, value float64, ok bool) {
	head, raw, found := strings.Cut(line, "} ")
	if found {
		var set string
		name, set, found = strings.Cut(head, "{")
		if !found {
			return "", nil, 0, false
		}
		labels = make(map[string]string)
		for _, pair := range strings.Split(set, ",") {
			k, v, ok := strings.Cut(pair, "=")
			if !ok {
				continue
			}
			labels[strings.TrimSpace(k)] = strings.Trim(v, `"`)
		}
	} else {
		if strings.ContainsRune(line, '{') {
			return "", nil, 0, false
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return "", nil, 0, false
		}
		name, raw = fields[0], fields[1]
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return "", nil, 0, false
	}
	return name, labels, v, true
}

func sum(m map[string]float64) float64 {
	var total float64
	for _, v := range m {
		total += v
	}
	return total
}

// Scraper samples the relay's /metrics endpoint while a scenario runs.
type Scraper struct {
	url      string
	interval time.Duration
	http     *http.Client

	mu      sync.Mutex
	first   *Sample
	last    *Sample
	peak    float64
	wasDown bool

	stop context.CancelFunc
	done chan struct{}
}

// NewScraper creates a Scraper polling metricsURL every interval.
func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	return &Scraper{
		url:      metricsURL,
		interval: interval,
		http:     &http.Client{Timeout: 5 * time.Second},
		done:     make(chan struct{}),
	}
}

// Start samples immediately and then on every interval until ctx ends or
// Stop is called.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.stop = context.WithCancel(ctx)
	go func() {
		defer close(s.done)
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			s.sample()
			select {
			case <-ctx.Done():
				s.sample()
				return
			case <-t.C:
			}
		}
	}()
}

// Stop ends sampling and waits for the final sample. Safe to call twice.
func (s *Scraper) Stop() {
	if s.stop == nil {
		return
	}
	s.stop()
	<-s.done
}

func (s *Scraper) sample() {
	resp, err := s.http.Get(s.url)
	if err != nil {
		// The relay may not be up yet.
		return
	}
	defer resp.Body.Close()

	smp, err := ParseSample(resp.Body)
	if err != nil {
		return
	}
	s.record(smp)
}

func (s *Scraper) record(smp Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.first == nil {
		s.first = &smp
	}
	s.last = &smp
	s.peak = max(s.peak, smp.Connections)
	s.wasDown = s.wasDown || smp.Degraded
}

// Report prints what the relay itself saw between the first and last sample.
func (s *Scraper) Report() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.first == nil {
		fmt.Println("\n--- Relay Metrics (no samples) ---")
		return
	}
	a, b := s.first, s.last

	fmt.Printf("\n--- Relay Metrics (%s window) ---\n", b.At.Sub(a.At).Round(time.Second))
	fmt.Printf("  Connections:     %.0f now, %.0f peak\n", b.Connections, s.peak)

	msgs := sum(b.Messages) - sum(a.Messages)
	toxic := b.Messages["toxic"] - a.Messages["toxic"]
	fmt.Printf("  Messages:        %.0f published", msgs)
	if msgs > 0 {
		fmt.Printf(", %.0f flagged (%.2f%%)", toxic, toxic/msgs*100)
	}
	fmt.Println()

	fmt.Printf("  Reports:         %.0f stored, %.0f invalid type, %.0f store failures\n",
		b.Reports["stored"]-a.Reports["stored"],
		b.Reports["invalid_type"]-a.Reports["invalid_type"],
		b.Reports["store_failure"]-a.Reports["store_failure"])
	fmt.Printf("  Protocol errors: %.0f\n", b.ProtocolErrors-a.ProtocolErrors)

	if n := b.ClassifyCount - a.ClassifyCount; n > 0 {
		fmt.Printf("  Classify avg:    %.4fs over %.0f calls\n", (b.ClassifySum-a.ClassifySum)/n, n)
	}
	if s.wasDown {
		fmt.Println("  Classifier:      DEGRADED during the run, messages passed unflagged")
	}
}
