// Package benchmark measures merge throughput, text normalization and query
// latency over a synthetic corpus.
package benchmark

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/BScong/text-indexing/internal/corpus"
	"github.com/BScong/text-indexing/internal/indexer"
	"github.com/BScong/text-indexing/internal/indexer/tokenizer"
	"github.com/BScong/text-indexing/pkg/config"
)

var vocabulary = strings.Fields(`search index query posting vocabulary merge score
	document term frequency inverse threshold vector context similar stem filter
	batch corpus headline byline subject graphic newspaper council weather market
	election earthquake stadium harbor freeway museum orchestra hospital airport`)

func benchConfig(dir string) config.IndexConfig {
	return config.IndexConfig{
		DataDir:        dir,
		PostingsFile:   "index.pl",
		VocabularyFile: "index_voc.db",
		BatchSize:      1,
		FlushThreshold: 1 << 20,
		VectorSeed:     1,
	}
}

// syntheticDocs builds n documents of words drawn from vocabulary with a
// skewed distribution, numbered from first.
func syntheticDocs(rng *rand.Rand, first, n, words int) []corpus.Document {
	docs := make([]corpus.Document, n)
	for i := range docs {
		var b strings.Builder
		for j := 0; j < words; j++ {
			w := vocabulary[min(int(rng.ExpFloat64()*6), len(vocabulary)-1)]
			b.WriteString(w)
			b.WriteByte(' ')
		}
		docs[i] = corpus.Document{ID: uint32(first + i), Text: b.String()}
	}
	return docs
}

func newEngine(b *testing.B) *indexer.Engine {
	b.Helper()
	e, err := indexer.NewEngine(benchConfig(b.TempDir()), tokenizer.New(config.Default().Tokenizer))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { e.Close() })
	return e
}

// BenchmarkIndexBatch measures one merge of a batch into an index that
// already holds 2000 documents.
func BenchmarkIndexBatch(b *testing.B) {
	for _, size := range []int{10, 100, 500} {
		b.Run(fmt.Sprintf("batch_%d", size), func(b *testing.B) {
			e := newEngine(b)
			rng := rand.New(rand.NewPCG(1, 2))
			if _, err := e.IndexBatch(context.Background(), syntheticDocs(rng, 1, 2000, 80)); err != nil {
				b.Fatal(err)
			}
			next := 2001
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				batch := syntheticDocs(rng, next, size, 80)
				next += size
				if _, err := e.IndexBatch(context.Background(), batch); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkPipelineTerms(b *testing.B) {
	p := tokenizer.New(config.Default().Tokenizer)
	text := strings.Repeat("The Council voted on Tuesday to widen the Harbor Freeway, officials said. ", 40)
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	for i := 0; i < b.N; i++ {
		_ = p.Terms(text)
	}
}

func BenchmarkPipelineTermsParallel(b *testing.B) {
	p := tokenizer.New(config.Default().Tokenizer)
	text := "Earthquake damage closed the stadium and the museum for repairs."
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = p.Terms(text)
		}
	})
}
