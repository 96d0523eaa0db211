package api

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestConcurrentSessionLoad drives many sessions through the chat endpoint
// at once.
func TestConcurrentSessionLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping load test in short mode")
	}

	server, _, _ := createTestServer()

	concurrentUsers := 200
	requestsPerUser := 5

	var wg sync.WaitGroup
	var successCount int64
	var errorCount int64
	var totalDuration int64 // in nanoseconds

	startTime := time.Now()

	for i := 0; i < concurrentUsers; i++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()

			path := fmt.Sprintf("/api/sessions/user-%d/messages", userID)
			for j := 0; j < requestsPerUser; j++ {
				reqStart := time.Now()
				w := doRequest(server, "POST", path, map[string]string{"text": "hello"})
				atomic.AddInt64(&totalDuration, int64(time.Since(reqStart)))

				if w.Code == http.StatusOK {
					atomic.AddInt64(&successCount, 1)
				} else {
					atomic.AddInt64(&errorCount, 1)
				}
			}
		}(i)
	}

	wg.Wait()
	totalTime := time.Since(startTime)

	totalRequests := int64(concurrentUsers * requestsPerUser)
	avgDuration := time.Duration(totalDuration / totalRequests)

	t.Logf("Load test results:")
	t.Logf("  Total requests: %d", totalRequests)
	t.Logf("  Successful: %d", successCount)
	t.Logf("  Errors: %d", errorCount)
	t.Logf("  Total time: %v", totalTime)
	t.Logf("  Average response time: %v", avgDuration)

	if errorCount > 0 {
		t.Errorf("%d of %d requests failed", errorCount, totalRequests)
	}
	if avgDuration > 500*time.Millisecond {
		t.Errorf("Average response time %v exceeds 500ms threshold", avgDuration)
	}
}

// BenchmarkHealthEndpoint benchmarks the health endpoint
func BenchmarkHealthEndpoint(b *testing.B) {
	server, _, _ := createTestServer()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		doRequest(server, "GET", "/health", nil)
	}
}

// BenchmarkCorrelationAgent benchmarks request decoding and encoding on the
// analyzer endpoint
func BenchmarkCorrelationAgent(b *testing.B) {
	server, _, _ := createTestServer()
	req := analysisRequest()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		doRequest(server, "POST", "/api/agents/correlation/analyze", req)
	}
}

// BenchmarkConcurrentRequests benchmarks concurrent request handling
func BenchmarkConcurrentRequests(b *testing.B) {
	server, _, _ := createTestServer()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			doRequest(server, "GET", "/health", nil)
		}
	})
}
