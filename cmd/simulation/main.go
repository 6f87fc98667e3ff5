package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	minOrders     = 15
	maxOrders     = 150
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
)

var (
	// ISIN-style 12 character instruments
	instruments = []string{
		"US0378331005",
		"US02079K3059",
		"US5949181045",
		"US0231351067",
		"US30303M1027",
	}
	sides = []string{"buy", "sell"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// orderPayload mirrors the POST /orders request body
type orderPayload struct {
	Type       string           `json:"type"`
	Side       string           `json:"side"`
	Instrument string           `json:"instrument"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
	Quantity   int64            `json:"quantity"`
}

// simulationClient handles HTTP communication with the order intake API
type simulationClient struct {
	baseURL string
	client  *http.Client

	mu         sync.Mutex
	stats      map[string]*routeStats
	duplicates int
}

// newSimulationClient creates and initializes a new simulation client
func newSimulationClient() *simulationClient {
	return &simulationClient{
		baseURL: serverAddress,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		stats: map[string]*routeStats{
			"create": {name: "Create Order"},
			"list":   {name: "List Orders"},
		},
	}
}

// randomPayload builds a valid random order request
func randomPayload() orderPayload {
	payload := orderPayload{
		Type:       "market",
		Side:       sides[rand.Intn(len(sides))],
		Instrument: instruments[rand.Intn(len(instruments))],
		Quantity:   int64(rand.Intn(1000) + 1),
	}

	if rand.Float64() < 0.5 {
		price := decimal.NewFromFloat(float64(rand.Intn(49000)+1000) / 100).Round(2)
		payload.Type = "limit"
		payload.LimitPrice = &price
	}

	return payload
}

// createOrder submits one order and records the outcome
func (sc *simulationClient) createOrder(payload orderPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal order payload")
		return
	}

	start := time.Now()
	resp, err := sc.client.Post(sc.baseURL+"/api/v1/orders", "application/json", bytes.NewReader(body))
	elapsed := time.Since(start)

	sc.mu.Lock()
	defer sc.mu.Unlock()

	stats := sc.stats["create"]
	stats.addDuration(elapsed)

	if err != nil {
		stats.failures++
		log.Error().Err(err).Msg("create order request failed")
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusCreated:
	case http.StatusConflict:
		sc.duplicates++
	default:
		stats.failures++
		log.Warn().Int("status", resp.StatusCode).Msg("unexpected create order response")
	}
}

// listOrders fetches one page of orders and returns the reported total
func (sc *simulationClient) listOrders(skip, limit int) (int64, error) {
	start := time.Now()
	resp, err := sc.client.Get(fmt.Sprintf("%s/api/v1/orders?skip=%d&limit=%d", sc.baseURL, skip, limit))
	elapsed := time.Since(start)

	sc.mu.Lock()
	stats := sc.stats["list"]
	stats.addDuration(elapsed)
	if err != nil {
		stats.failures++
	}
	sc.mu.Unlock()

	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var decoded struct {
		Data struct {
			Total int64 `json:"total"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, err
	}

	return decoded.Data.Total, nil
}

// printStats reports per-route latency statistics
func (sc *simulationClient) printStats() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		log.Info().
			Str("route", stats.name).
			Int("calls", stats.totalCalls).
			Int("failures", stats.failures).
			Dur("min", min).
			Dur("max", max).
			Dur("mean", mean).
			Dur("median", median).
			Dur("p95", p95).
			Dur("p99", p99).
			Msg("route statistics")
	}

	log.Info().Int("duplicate_rejections", sc.duplicates).Msg("dedup statistics")
}

// main drives a randomized load of order submissions, including deliberate
// duplicate payloads to exercise the dedup window, then reports statistics
func main() {
	totalOrders := rand.Intn(maxOrders-minOrders+1) + minOrders
	log.Info().Int("orders", totalOrders).Msg("starting order intake simulation")

	sc := newSimulationClient()

	payloads := make(chan orderPayload, totalOrders*2)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for payload := range payloads {
				sc.createOrder(payload)
			}
		}()
	}

	for i := 0; i < totalOrders; i++ {
		payload := randomPayload()
		payloads <- payload

		// Roughly one in five payloads is resubmitted immediately, which
		// should land inside the dedup window and draw a 409.
		if rand.Intn(5) == 0 {
			payloads <- payload
		}
	}
	close(payloads)
	wg.Wait()

	// Give the background processor time to drain before sampling the list.
	time.Sleep(2 * time.Second)

	total, err := sc.listOrders(0, 10)
	if err != nil {
		log.Error().Err(err).Msg("failed to list orders")
	} else {
		log.Info().Int64("total_orders", total).Msg("orders recorded by the API")
	}

	sc.printStats()
}
