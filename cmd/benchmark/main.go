package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	keyStrategy string
	accounts    int
)

// Metrics
var (
	totalRequests uint64
	success201    uint64 // Transfers applied
	reject409     uint64 // Duplicate or out-of-order keys
	reject422     uint64 // Insufficient funds
	abort503      uint64 // Retries exhausted on conflicts
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.StringVar(&keyStrategy, "keys", "requestTime", "Idempotency key strategy of the server: requestId | requestTime")
	flag.IntVar(&accounts, "accounts", 1000, "Number of seeded accounts")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s | Keys: %s", workload, concurrency, duration, keyStrategy)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, i, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, id int, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for n := 0; time.Since(start) < duration; n++ {
		from, to := generateAccounts()

		payload := map[string]interface{}{
			"from_account_id": from,
			"to_account_id":   to,
			"amount":          int64(100),
		}
		// requestTime keys are ordered per account, so concurrent workers
		// hitting the same account surface as 409s.
		if keyStrategy == "requestId" {
			payload["request_id"] = fmt.Sprintf("bench-%d-%d-%d", id, n, time.Now().UnixNano())
		} else {
			payload["request_time"] = time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/transfers", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 201:
			atomic.AddUint64(&success201, 1)
		case 409:
			atomic.AddUint64(&reject409, 1)
		case 422:
			atomic.AddUint64(&reject422, 1)
		case 503:
			atomic.AddUint64(&abort503, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

// accountID matches the seeder's naming.
func accountID(n int) string {
	return fmt.Sprintf("acct-%04d", n)
}

func generateAccounts() (string, string) {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic goes to the first two accounts
		if rand.Float32() < 0.90 {
			if rand.Float32() < 0.5 {
				return accountID(1), accountID(2)
			}
			return accountID(2), accountID(1)
		}
	}

	// Uniform Random
	a := rand.Intn(accounts) + 1
	b := rand.Intn(accounts) + 1
	for a == b {
		b = rand.Intn(accounts) + 1
	}
	return accountID(a), accountID(b)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	r409 := atomic.LoadUint64(&reject409)
	r422 := atomic.LoadUint64(&reject422)
	a503 := atomic.LoadUint64(&abort503)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	var abortRate float64
	if total > 0 {
		abortRate = float64(a503) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":        workload,
		"keys":            keyStrategy,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  tps,
		"success_applied": s201,
		"rejected_key":    r409,
		"rejected_funds":  r422,
		"aborts_conflict": a503,
		"abort_rate_pct":  abortRate,
		"errors":          fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s_%s.json", workload, keyStrategy)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("Unable to save results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
