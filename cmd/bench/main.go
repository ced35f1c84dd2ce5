// Command bench sends a burst of messages through a running server and
// reports latency. The fasthttp client keeps the probe itself off the
// measurement critical path.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	var (
		base   string
		apiKey string
		userID string
		thread string
		n      int
	)
	flag.StringVar(&base, "url", "http://localhost:8080", "server base URL")
	flag.StringVar(&apiKey, "key", "", "backend API key")
	flag.StringVar(&userID, "user", "bench-user", "acting user id")
	flag.StringVar(&thread, "thread", "bench-thread", "target thread")
	flag.IntVar(&n, "n", 1000, "number of messages to send")
	flag.Parse()
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "--key required")
		os.Exit(2)
	}

	client := &fasthttp.Client{
		MaxConnsPerHost: 64,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
	}

	lat := make([]time.Duration, 0, n)
	errs := 0
	start := time.Now()
	for i := 0; i < n; i++ {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		req.SetRequestURI(base + "/v1/messages")
		req.Header.SetMethod(fasthttp.MethodPost)
		req.Header.SetContentType("application/json")
		req.Header.Set("X-API-Key", apiKey)
		req.Header.Set("X-User-ID", userID)
		req.SetBodyString(fmt.Sprintf(`{"content":"bench message %d","thread":"%s"}`, i, thread))

		t0 := time.Now()
		err := client.Do(req, resp)
		d := time.Since(t0)
		if err != nil || resp.StatusCode() != fasthttp.StatusCreated {
			errs++
			if errs == 1 {
				fmt.Fprintf(os.Stderr, "first failure: err=%v status=%d body=%s\n", err, resp.StatusCode(), resp.Body())
			}
		} else {
			lat = append(lat, d)
		}
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}
	elapsed := time.Since(start)

	if len(lat) == 0 {
		fmt.Fprintf(os.Stderr, "all %d requests failed\n", n)
		os.Exit(1)
	}
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
	pct := func(p float64) time.Duration { return lat[int(float64(len(lat)-1)*p)] }

	fmt.Printf("sent: %d  ok: %d  errors: %d\n", n, len(lat), errs)
	fmt.Printf("throughput: %.0f msg/s\n", float64(len(lat))/elapsed.Seconds())
	fmt.Printf("latency p50: %v  p95: %v  p99: %v  max: %v\n",
		pct(0.50), pct(0.95), pct(0.99), lat[len(lat)-1])
}
