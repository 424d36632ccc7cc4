package indexer

import (
	"math"

	"github.com/BScong/text-indexing/internal/indexer/index"
	"github.com/BScong/text-indexing/internal/indexer/postings"
)

// TermFrequency is the smoothed frequency 0.5 + 0.5*raw/maxFreq.
func TermFrequency(raw, maxFreq uint32) float64 {
	return index.TermFrequency(raw, maxFreq)
}

// InverseDocumentFrequency is log10(docsIndexed / (1 + docFreq)). It is
// negative once a term appears in most of the collection.
func InverseDocumentFrequency(docsIndexed uint64, docFreq uint32) float64 {
	return math.Log10(float64(docsIndexed) / float64(1+uint64(docFreq)))
}

// rescore overlays a batch onto a stored list. Stored scores are divided by
// the old idf to recover the smoothed frequencies; an idf of exactly zero
// leaves them as stored. Documents already in the list are overwritten in
// place and new ones are appended in batch order.
func rescore(stored postings.List, entry index.TermEntry, batch []index.DocTF, docsIndexed uint64) (postings.List, index.TermEntry) {
	ids := make([]uint32, 0, len(stored)+len(batch))
	tfs := make([]float64, 0, len(stored)+len(batch))
	pos := make(map[uint32]int, len(stored)+len(batch))

	for _, p := range stored {
		tf := float64(p.Score)
		if entry.IDF != 0 {
			tf /= entry.IDF
		}
		pos[p.DocID] = len(ids)
		ids = append(ids, p.DocID)
		tfs = append(tfs, tf)
	}
	for _, d := range batch {
		if i, ok := pos[d.DocID]; ok {
			tfs[i] = d.TF
			continue
		}
		pos[d.DocID] = len(ids)
		ids = append(ids, d.DocID)
		tfs = append(tfs, d.TF)
	}

	entry.DocFreq += uint32(len(batch))
	entry.IDF = InverseDocumentFrequency(docsIndexed, entry.DocFreq)
	return scoreList(ids, tfs, entry.IDF), entry
}

// scoreNew builds the list of a term first seen in this batch.
func scoreNew(batch []index.DocTF, docsIndexed uint64) (postings.List, index.TermEntry) {
	ids := make([]uint32, len(batch))
	tfs := make([]float64, len(batch))
	for i, d := range batch {
		ids[i] = d.DocID
		tfs[i] = d.TF
	}
	entry := index.TermEntry{DocFreq: uint32(len(batch))}
	entry.IDF = InverseDocumentFrequency(docsIndexed, entry.DocFreq)
	return scoreList(ids, tfs, entry.IDF), entry
}

func scoreList(ids []uint32, tfs []float64, idf float64) postings.List {
	list := make(postings.List, len(ids))
	for i := range ids {
		list[i] = postings.Entry{DocID: ids[i], Score: float32(tfs[i] * idf)}
	}
	return list
}
