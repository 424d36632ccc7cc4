package index

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/BScong/text-indexing/internal/indexer/postings"
	"github.com/BScong/text-indexing/internal/indexer/semantic"
	apperrors "github.com/BScong/text-indexing/pkg/errors"
)

// FormatVersion is bumped whenever the persisted layout changes.
const FormatVersion uint32 = 2

const termEntrySize = 20

var (
	bucketMeta    = []byte("meta")
	bucketTerms   = []byte("terms")
	bucketVectors = []byte("vectors")

	keyDocsIndexed  = []byte("docs_indexed")
	keyPostingBytes = []byte("posting_bytes")
	keyVersion      = []byte("format_version")
)

// Save persists s to the bbolt file at path in a single transaction,
// replacing whatever was stored before.
func (s *State) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: creating vocabulary directory: %v", apperrors.ErrIndexIO, err)
	}
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("%w: opening vocabulary store: %v", apperrors.ErrIndexIO, err)
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := make(map[string]*bolt.Bucket, 3)
		for _, name := range [][]byte{bucketMeta, bucketTerms, bucketVectors} {
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return fmt.Errorf("clearing bucket %s: %w", name, err)
				}
			}
			b, err := tx.CreateBucket(name)
			if err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
			buckets[string(name)] = b
		}

		meta := buckets[string(bucketMeta)]
		if err := meta.Put(keyVersion, binary.BigEndian.AppendUint32(nil, FormatVersion)); err != nil {
			return err
		}
		if err := meta.Put(keyDocsIndexed, binary.BigEndian.AppendUint64(nil, s.DocsIndexed)); err != nil {
			return err
		}
		if err := meta.Put(keyPostingBytes, binary.BigEndian.AppendUint64(nil, s.PostingBytes)); err != nil {
			return err
		}

		terms := buckets[string(bucketTerms)]
		for term, e := range s.Terms {
			if err := terms.Put([]byte(term), encodeTermEntry(e)); err != nil {
				return fmt.Errorf("storing term %q: %w", term, err)
			}
		}

		vectors := buckets[string(bucketVectors)]
		for term, v := range s.ContextVectors {
			if err := vectors.Put([]byte(term), encodeVector(v)); err != nil {
				return fmt.Errorf("storing vector %q: %w", term, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: saving vocabulary: %v", apperrors.ErrIndexIO, err)
	}
	return nil
}

// Load reads the state persisted at path. A missing file is an empty index.
func Load(path string) (*State, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}
		return nil, fmt.Errorf("%w: stat vocabulary store: %v", apperrors.ErrIndexIO, err)
	}
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: 5 * time.Second, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("%w: opening vocabulary store: %v", apperrors.ErrIndexIO, err)
	}
	defer db.Close()

	s := NewState()
	err = db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return fmt.Errorf("missing %s bucket", bucketMeta)
		}
		version := meta.Get(keyVersion)
		if len(version) != 4 || binary.BigEndian.Uint32(version) != FormatVersion {
			return fmt.Errorf("unsupported vocabulary format version %x", version)
		}
		docs := meta.Get(keyDocsIndexed)
		if len(docs) != 8 {
			return fmt.Errorf("malformed %s", keyDocsIndexed)
		}
		s.DocsIndexed = binary.BigEndian.Uint64(docs)
		size := meta.Get(keyPostingBytes)
		if len(size) != 8 {
			return fmt.Errorf("malformed %s", keyPostingBytes)
		}
		s.PostingBytes = binary.BigEndian.Uint64(size)

		if terms := tx.Bucket(bucketTerms); terms != nil {
			if err := terms.ForEach(func(k, v []byte) error {
				e, err := decodeTermEntry(v)
				if err != nil {
					return fmt.Errorf("term %q: %w", k, err)
				}
				s.Terms[string(k)] = e
				return nil
			}); err != nil {
				return err
			}
		}
		if vectors := tx.Bucket(bucketVectors); vectors != nil {
			return vectors.ForEach(func(k, v []byte) error {
				vec, err := decodeVector(v)
				if err != nil {
					return fmt.Errorf("vector %q: %w", k, err)
				}
				s.ContextVectors[string(k)] = vec
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: loading vocabulary: %w", apperrors.ErrIndexIO, err)
	}
	return s, nil
}

func encodeTermEntry(e TermEntry) []byte {
	b := make([]byte, 0, termEntrySize)
	b = binary.BigEndian.AppendUint32(b, e.Location.Length)
	b = binary.BigEndian.AppendUint32(b, e.Location.Offset)
	b = binary.BigEndian.AppendUint32(b, e.DocFreq)
	return binary.BigEndian.AppendUint64(b, math.Float64bits(e.IDF))
}

func decodeTermEntry(b []byte) (TermEntry, error) {
	if len(b) != termEntrySize {
		return TermEntry{}, fmt.Errorf("entry is %d bytes, want %d", len(b), termEntrySize)
	}
	e := TermEntry{
		Location: postings.Location{
			Length: binary.BigEndian.Uint32(b[0:4]),
			Offset: binary.BigEndian.Uint32(b[4:8]),
		},
		DocFreq: binary.BigEndian.Uint32(b[8:12]),
		IDF:     math.Float64frombits(binary.BigEndian.Uint64(b[12:20])),
	}
	if e.Location.Length%postings.RowSize != 0 {
		return TermEntry{}, fmt.Errorf("%w: length %d", apperrors.ErrCorruptPostings, e.Location.Length)
	}
	return e, nil
}

func encodeVector(v semantic.Vector) []byte {
	b := make([]byte, 0, len(v)*8)
	for _, x := range v {
		b = binary.BigEndian.AppendUint64(b, math.Float64bits(x))
	}
	return b
}

func decodeVector(b []byte) (semantic.Vector, error) {
	if len(b) != semantic.Dimension*8 {
		return nil, fmt.Errorf("vector is %d bytes, want %d", len(b), semantic.Dimension*8)
	}
	v := make(semantic.Vector, semantic.Dimension)
	for i := range v {
		v[i] = math.Float64frombits(binary.BigEndian.Uint64(b[i*8:]))
	}
	return v, nil
}
