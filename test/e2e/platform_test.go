// Package e2e exercises a running deployment: the search service over HTTP
// and, when Kafka is reachable, the ingest path through the document-ingest
// topic into an indexer started with -consume.
//
// Prerequisites:
//   - searcher running against an index (E2E_SEARCHER_URL)
//   - optionally Kafka plus an indexer with -consume (E2E_KAFKA_BROKERS)
//
// Every test skips when its service is unreachable.
//
// Run with:
//
//	go test -v -timeout=120s ./test/e2e/...
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/BScong/text-indexing/internal/corpus"
	"github.com/BScong/text-indexing/internal/ingestion/publisher"
	"github.com/BScong/text-indexing/pkg/config"
	"github.com/BScong/text-indexing/pkg/kafka"
)

type e2eConfig struct {
	SearcherURL  string
	KafkaBrokers []string
	PollSeconds  int
}

func loadE2EConfig() e2eConfig {
	return e2eConfig{
		SearcherURL:  envOrDefault("E2E_SEARCHER_URL", "http://localhost:8080"),
		KafkaBrokers: strings.Split(envOrDefault("E2E_KAFKA_BROKERS", "localhost:9092"), ","),
		PollSeconds:  envOrDefaultInt("E2E_POLL_SECONDS", 30),
	}
}

func getJSON(t *testing.T, client *http.Client, u string, out any) int {
	t.Helper()
	resp, err := client.Get(u)
	if err != nil {
		t.Skipf("search service unavailable: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		t.Logf("GET %s: %d %s", u, resp.StatusCode, body)
		return resp.StatusCode
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decoding %s: %v", u, err)
	}
	return resp.StatusCode
}

func TestSearcherHealth(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 5 * time.Second}

	for _, path := range []string{"/health/live", "/health/ready"} {
		t.Run(path, func(t *testing.T) {
			var body map[string]any
			if code := getJSON(t, client, cfg.SearcherURL+path, &body); code != http.StatusOK {
				t.Errorf("expected 200, got %d", code)
			}
			if body["status"] == nil {
				t.Errorf("missing status in %v", body)
			}
		})
	}
}

func TestSearchEndpoints(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 10 * time.Second}

	var stats map[string]float64
	if code := getJSON(t, client, cfg.SearcherURL+"/api/v1/stats", &stats); code != http.StatusOK {
		t.Fatalf("stats status %d", code)
	}
	t.Logf("index: vocabulary=%v docs=%v", stats["vocabulary_size"], stats["docs_indexed"])

	var result map[string]any
	if code := getJSON(t, client, cfg.SearcherURL+"/api/v1/search?q=earthquake&limit=5", &result); code != http.StatusOK {
		t.Fatalf("search status %d", code)
	}
	if _, ok := result["total_hits"]; !ok {
		t.Errorf("search response lacks total_hits: %v", result)
	}

	result = nil
	if code := getJSON(t, client, cfg.SearcherURL+"/api/v1/topk?q=earthquake+damage&k=3", &result); code != http.StatusOK {
		t.Fatalf("topk status %d", code)
	}
	if results, _ := result["results"].([]any); len(results) > 3 {
		t.Errorf("topk returned %d results for k=3", len(results))
	}
}

func TestSearchCacheStats(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 5 * time.Second}

	var stats map[string]any
	if code := getJSON(t, client, cfg.SearcherURL+"/api/v1/cache/stats", &stats); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if stats["status"] == "disabled" {
		t.Log("cache is disabled, skipping field check")
		return
	}
	for _, field := range []string{"hits", "misses", "total", "hit_rate"} {
		if _, ok := stats[field]; !ok {
			t.Errorf("missing expected field: %s", field)
		}
	}
}

// TestIngestAndSearch publishes a document with a unique word and polls the
// searcher until the indexer has merged it.
func TestIngestAndSearch(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 5 * time.Second}

	if _, err := client.Get(cfg.SearcherURL + "/health/live"); err != nil {
		t.Skipf("search service unavailable: %v", err)
	}
	conn, err := net.DialTimeout("tcp", cfg.KafkaBrokers[0], 2*time.Second)
	if err != nil {
		t.Skipf("kafka unavailable: %v", err)
	}
	conn.Close()

	kc := config.Default().Kafka
	kc.Brokers = cfg.KafkaBrokers
	producer := kafka.NewProducer(kc, kc.Topics.DocumentIngest)
	defer producer.Close()

	word := fmt.Sprintf("zqe%d", time.Now().UnixNano()%1_000_000_000)
	doc := corpus.Document{
		ID:     corpus.DocumentID(uint32(time.Now().Unix()%corpus.FileStride), 999),
		Title:  "End to end " + word,
		Text:   "This document carries the marker " + word + ".\n",
		Source: "e2e",
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := publisher.New(producer).PublishDocuments(ctx, []corpus.Document{doc}); err != nil {
		t.Fatalf("publishing: %v", err)
	}

	for attempt := 0; attempt < cfg.PollSeconds; attempt++ {
		time.Sleep(time.Second)
		var result map[string]any
		resp, err := client.Get(cfg.SearcherURL + "/api/v1/search?q=" + url.QueryEscape(word))
		if err != nil {
			continue
		}
		json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if hits, _ := result["total_hits"].(float64); hits > 0 {
			t.Logf("document searchable after %ds", attempt+1)
			return
		}
	}
	t.Logf("document not searchable within %ds; is an indexer running with -consume?", cfg.PollSeconds)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
