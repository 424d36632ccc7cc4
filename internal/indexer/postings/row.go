// Package postings implements the binary posting-list file: every term's
// list is a run of fixed 8-byte rows stored back to back, addressed by a
// (length, offset) Location kept in the vocabulary.
package postings

import (
	"encoding/binary"
	"fmt"
	"math"

	apperrors "github.com/BScong/text-indexing/pkg/errors"
)

// RowSize is the encoded size of one Entry: a big-endian uint32 document id
// followed by a big-endian IEEE-754 float32 score.
const RowSize = 8

// Entry is one (document, score) pair of a posting list.
type Entry struct {
	DocID uint32
	Score float32
}

// List is a posting list in insertion order.
type List []Entry

// Location addresses a term's rows inside the posting file.
type Location struct {
	Length uint32
	Offset uint32
}

// Rows returns the number of entries the location spans.
func (l Location) Rows() int {
	return int(l.Length / RowSize)
}

// End returns the first byte past the range.
func (l Location) End() uint64 {
	return uint64(l.Offset) + uint64(l.Length)
}

// AppendRow encodes e onto dst.
func AppendRow(dst []byte, e Entry) []byte {
	dst = binary.BigEndian.AppendUint32(dst, e.DocID)
	return binary.BigEndian.AppendUint32(dst, math.Float32bits(e.Score))
}

// Encode returns the rows of list back to back.
func Encode(list List) []byte {
	buf := make([]byte, 0, len(list)*RowSize)
	for _, e := range list {
		buf = AppendRow(buf, e)
	}
	return buf
}

// DecodeRow decodes a single row; b must hold at least RowSize bytes.
func DecodeRow(b []byte) Entry {
	return Entry{
		DocID: binary.BigEndian.Uint32(b[0:4]),
		Score: math.Float32frombits(binary.BigEndian.Uint32(b[4:8])),
	}
}

// Decode splits b into rows. A length that is not a multiple of RowSize
// means the vocabulary and the file disagree.
func Decode(b []byte) (List, error) {
	if len(b)%RowSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", apperrors.ErrCorruptPostings, len(b), RowSize)
	}
	list := make(List, 0, len(b)/RowSize)
	for i := 0; i < len(b); i += RowSize {
		list = append(list, DecodeRow(b[i:i+RowSize]))
	}
	return list, nil
}

// Find returns the score of docID in the list.
func (l List) Find(docID uint32) (float32, bool) {
	for _, e := range l {
		if e.DocID == docID {
			return e.Score, true
		}
	}
	return 0, false
}
