package postings

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"

	apperrors "github.com/BScong/text-indexing/pkg/errors"
)

// DefaultFlushThreshold bounds the in-memory buffer during a merge.
const DefaultFlushThreshold = 1000000

// Writer appends posting lists to a temporary file. Rows are staged in
// memory and written out whenever the buffer grows past the flush
// threshold; Finalize renames the temporary file over the live one.
type Writer struct {
	file      *os.File
	tmpPath   string
	buf       bytes.Buffer
	threshold int
	offset    uint64
	flushes   int
	closed    bool
}

// NewWriter truncates (or creates) tmpPath and returns a Writer on it.
func NewWriter(tmpPath string, threshold int) (*Writer, error) {
	if threshold <= 0 {
		threshold = DefaultFlushThreshold
	}
	if err := os.MkdirAll(filepath.Dir(tmpPath), 0755); err != nil {
		return nil, fmt.Errorf("%w: creating posting directory: %v", apperrors.ErrIndexIO, err)
	}
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: creating temp posting file: %v", apperrors.ErrIndexIO, err)
	}
	return &Writer{
		file:      f,
		tmpPath:   tmpPath,
		threshold: threshold,
	}, nil
}

// Append writes list as consecutive rows and returns where it landed.
func (w *Writer) Append(list List) (Location, error) {
	if w.closed {
		return Location{}, fmt.Errorf("%w: append on closed posting writer", apperrors.ErrInternal)
	}
	length := uint64(len(list)) * RowSize
	if w.offset+length > math.MaxUint32 {
		return Location{}, fmt.Errorf("%w: offset %d + %d bytes", apperrors.ErrPostingsTooLarge, w.offset, length)
	}
	loc := Location{Length: uint32(length), Offset: uint32(w.offset)}
	var row [RowSize]byte
	for _, e := range list {
		w.buf.Write(AppendRow(row[:0], e))
		if w.buf.Len() > w.threshold {
			if err := w.flush(); err != nil {
				return Location{}, err
			}
		}
	}
	w.offset += length
	return loc, nil
}

// Size returns the number of bytes appended so far.
func (w *Writer) Size() uint64 {
	return w.offset
}

// Flushes returns how many times the buffer was written out.
func (w *Writer) Flushes() int {
	return w.flushes
}

func (w *Writer) flush() error {
	if w.buf.Len() == 0 {
		return nil
	}
	if _, err := w.file.Write(w.buf.Bytes()); err != nil {
		return fmt.Errorf("%w: writing posting buffer: %v", apperrors.ErrIndexIO, err)
	}
	w.buf.Reset()
	w.flushes++
	return nil
}

// Finalize flushes the remaining rows, syncs the temporary file and renames
// it over finalPath. Readers holding the previous file keep reading it.
func (w *Writer) Finalize(finalPath string) error {
	if w.closed {
		return fmt.Errorf("%w: finalize on closed posting writer", apperrors.ErrInternal)
	}
	if err := w.flush(); err != nil {
		w.Abort()
		return err
	}
	if err := w.file.Sync(); err != nil {
		w.Abort()
		return fmt.Errorf("%w: syncing temp posting file: %v", apperrors.ErrIndexIO, err)
	}
	w.closed = true
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("%w: closing temp posting file: %v", apperrors.ErrIndexIO, err)
	}
	if err := os.Rename(w.tmpPath, finalPath); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("%w: replacing posting file: %v", apperrors.ErrIndexIO, err)
	}
	return nil
}

// Abort discards the temporary file. The live file is left untouched.
func (w *Writer) Abort() error {
	if !w.closed {
		w.closed = true
		w.file.Close()
	}
	if err := os.Remove(w.tmpPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing temp posting file: %v", apperrors.ErrIndexIO, err)
	}
	return nil
}
