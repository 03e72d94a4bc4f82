// capture-load hammers the agent's capture endpoint and reports latency
// percentiles. Run it with the reconciler stopped to confirm that capture
// latency does not depend on the network: the numbers should be identical
// online and offline.
package main

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

func main() {
	url := "http://localhost:8090/api/v1/capture"
	contentType := "application/json"

	numEmployees := 500
	requestsPerEmployee := 2
	totalRequests := numEmployees * requestsPerEmployee
	concurrency := 20

	fmt.Printf("Starting capture load: %d employees (%d requests each) to %s with concurrency %d\n",
		numEmployees, requestsPerEmployee, url, concurrency)

	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	var successCount, failCount int64
	var mu sync.Mutex
	var latencies []time.Duration

	startTime := time.Now()

	for i := 0; i < numEmployees; i++ {
		wg.Add(1)
		sem <- struct{}{}

		employeeID := fmt.Sprintf("load-emp-%d", i)

		go func(empID string) {
			defer wg.Done()
			defer func() { <-sem }()

			for j := 0; j < requestsPerEmployee; j++ {
				action := "check_in"
				if j%2 == 1 {
					action = "check_out"
				}
				payload := []byte(fmt.Sprintf(`{"employeeId": %q, "action": %q}`, empID, action))

				reqStart := time.Now()
				resp, err := http.Post(url, contentType, bytes.NewBuffer(payload))
				elapsed := time.Since(reqStart)
				if err != nil {
					atomic.AddInt64(&failCount, 1)
					continue
				}
				resp.Body.Close()

				if resp.StatusCode >= 200 && resp.StatusCode < 300 {
					atomic.AddInt64(&successCount, 1)
					mu.Lock()
					latencies = append(latencies, elapsed)
					mu.Unlock()
				} else {
					atomic.AddInt64(&failCount, 1)
				}
			}
		}(employeeID)
	}

	wg.Wait()
	duration := time.Since(startTime)

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	fmt.Println("\n--- Capture Load Results ---")
	fmt.Printf("Total Duration: %v\n", duration)
	fmt.Printf("Total Requests: %d\n", totalRequests)
	fmt.Printf("Successful:     %d\n", successCount)
	fmt.Printf("Failed:         %d\n", failCount)
	fmt.Printf("Requests/Sec:   %.2f\n", float64(totalRequests)/duration.Seconds())
	if len(latencies) > 0 {
		fmt.Printf("Latency p50:    %v\n", latencies[len(latencies)/2])
		fmt.Printf("Latency p99:    %v\n", latencies[len(latencies)*99/100])
	}
}
