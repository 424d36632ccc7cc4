// Command loadtest drives a running search service with a mix of boolean and
// top-k queries and reports throughput, latency percentiles and the cache hit
// ratio seen by the handlers.
//
// Usage:
//
//	go run ./cmd/loadtest [-url base] [-concurrency n] [-duration d] [-topk ratio] [-queries file]
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BScong/text-indexing/pkg/tracing"
)

var defaultQueries = []string{
	"earthquake",
	"earthquake damage",
	"freeway&traffic",
	"harbor budget council",
	"orchestra season",
	"police&shooting",
	"school board election",
	"drought water&rationing",
	"stock market",
	"olympic games",
	"airport noise",
	"fire&canyon",
}

type workload struct {
	baseURL     string
	concurrency int
	duration    time.Duration
	topKRatio   float64
	k           int
	queries     []string
}

// outcome is one finished request.
type outcome struct {
	mode     string
	status   int
	latency  time.Duration
	cacheHit bool
	err      error
}

type collector struct {
	mu        sync.Mutex
	latencies map[string][]time.Duration
	statuses  map[int]int
	total     atomic.Int64
	failed    atomic.Int64
	cacheHits atomic.Int64
}

func newCollector() *collector {
	return &collector{latencies: map[string][]time.Duration{}, statuses: map[int]int{}}
}

func (c *collector) add(o outcome) {
	c.total.Add(1)
	if o.err != nil || o.status >= 300 {
		c.failed.Add(1)
	}
	if o.cacheHit {
		c.cacheHits.Add(1)
	}
	if o.err != nil {
		return
	}
	c.mu.Lock()
	c.latencies[o.mode] = append(c.latencies[o.mode], o.latency)
	c.statuses[o.status]++
	c.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the search service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	topK := flag.Float64("topk", 0.5, "share of requests sent to /topk instead of /search")
	k := flag.Int("k", 10, "k for top-k requests")
	queriesFile := flag.String("queries", "", "file with one query per line")
	flag.Parse()

	queries := defaultQueries
	if *queriesFile != "" {
		f, err := os.Open(*queriesFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "opening queries: %v\n", err)
			os.Exit(2)
		}
		queries, err = readQueries(f)
		f.Close()
		if err != nil || len(queries) == 0 {
			fmt.Fprintf(os.Stderr, "no queries read from %s: %v\n", *queriesFile, err)
			os.Exit(2)
		}
	}

	w := workload{
		baseURL:     strings.TrimRight(*baseURL, "/"),
		concurrency: *concurrency,
		duration:    *duration,
		topKRatio:   *topK,
		k:           *k,
		queries:     queries,
	}

	fmt.Println("=== Search Load Test ===")
	fmt.Printf("Target:      %s\n", w.baseURL)
	fmt.Printf("Concurrency: %d\n", w.concurrency)
	fmt.Printf("Duration:    %s\n", w.duration)
	fmt.Printf("Queries:     %d unique, %.0f%% top-%d\n", len(w.queries), w.topKRatio*100, w.k)
	fmt.Println()

	c := run(context.Background(), w)
	if !report(os.Stdout, c, w.duration) {
		os.Exit(1)
	}
}

// readQueries returns the non-blank lines of r; lines starting with # are
// skipped.
func readQueries(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

// requestURL picks the endpoint for request n so that topKRatio of every
// hundred requests go to /topk.
func (w workload) requestURL(n int) (mode, u string) {
	q := url.QueryEscape(w.queries[n%len(w.queries)])
	if float64(n%100) < w.topKRatio*100 {
		return "topk", fmt.Sprintf("%s/api/v1/topk?q=%s&k=%d", w.baseURL, q, w.k)
	}
	return "search", fmt.Sprintf("%s/api/v1/search?q=%s&limit=%d", w.baseURL, q, w.k)
}

func run(parent context.Context, w workload) *collector {
	c := newCollector()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        w.concurrency * 2,
			MaxIdleConnsPerHost: w.concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(parent, w.duration)
	defer cancel()

	var next atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for range w.concurrency {
		g.Go(func() error {
			for gctx.Err() == nil {
				mode, u := w.requestURL(int(next.Add(1) - 1))
				o := fetch(gctx, client, u)
				if gctx.Err() != nil {
					return nil
				}
				o.mode = mode
				c.add(o)
			}
			return nil
		})
	}
	g.Wait()
	return c
}

func fetch(ctx context.Context, client *http.Client, u string) outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return outcome{err: err}
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return outcome{latency: time.Since(start), err: err}
	}
	defer resp.Body.Close()

	var body struct {
		CacheHit bool `json:"cache_hit"`
	}
	if resp.StatusCode == http.StatusOK {
		json.NewDecoder(resp.Body).Decode(&body)
	}
	io.Copy(io.Discard, resp.Body)
	return outcome{status: resp.StatusCode, latency: time.Since(start), cacheHit: body.CacheHit}
}

// report prints the summary and returns false when nothing completed.
func report(out io.Writer, c *collector, elapsed time.Duration) bool {
	total := c.total.Load()
	failed := c.failed.Load()

	fmt.Fprintln(out, "=== Results ===")
	fmt.Fprintf(out, "Total Requests:  %d\n", total)
	fmt.Fprintf(out, "Failed:          %d\n", failed)
	if total == 0 {
		fmt.Fprintln(out, "WARNING: No requests completed. Is the service running?")
		return false
	}
	fmt.Fprintf(out, "Error Rate:      %.2f%%\n", float64(failed)/float64(total)*100)
	fmt.Fprintf(out, "Requests/sec:    %.2f\n", float64(total)/elapsed.Seconds())
	fmt.Fprintf(out, "Cache Hit Rate:  %.1f%%\n", float64(c.cacheHits.Load())/float64(total)*100)

	c.mu.Lock()
	defer c.mu.Unlock()
	modes := make([]string, 0, len(c.latencies))
	for m := range c.latencies {
		modes = append(modes, m)
	}
	slices.Sort(modes)
	for _, m := range modes {
		lat := slices.Clone(c.latencies[m])
		slices.Sort(lat)
		s := tracing.Summarize(lat)
		fmt.Fprintf(out, "\n=== Latency (%s, %d requests) ===\n", m, s.Count)
		fmt.Fprintf(out, "Min:    %s\n", s.Min)
		fmt.Fprintf(out, "Mean:   %s\n", s.Mean)
		fmt.Fprintf(out, "P50:    %s\n", s.Median)
		fmt.Fprintf(out, "P90:    %s\n", percentile(lat, 90))
		fmt.Fprintf(out, "P99:    %s\n", percentile(lat, 99))
		fmt.Fprintf(out, "Max:    %s\n", s.Max)
	}

	fmt.Fprintln(out, "\n=== Status Codes ===")
	codes := make([]int, 0, len(c.statuses))
	for code := range c.statuses {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Fprintf(out, "  %d: %d\n", code, c.statuses[code])
	}
	return true
}

// percentile expects sorted input and uses the nearest-rank method.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
