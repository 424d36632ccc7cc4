package postings

import (
	"errors"
	"fmt"
	"io"
	"os"

	apperrors "github.com/BScong/text-indexing/pkg/errors"
)

// ReadRange reads exactly loc.Length bytes at loc.Offset and decodes them.
// Short files and lengths that are not a multiple of RowSize are fatal.
func ReadRange(r io.ReaderAt, loc Location) (List, error) {
	if loc.Length%RowSize != 0 {
		return nil, fmt.Errorf("%w: length %d at offset %d", apperrors.ErrCorruptPostings, loc.Length, loc.Offset)
	}
	if loc.Length == 0 {
		return List{}, nil
	}
	if r == nil {
		return nil, fmt.Errorf("reading %d bytes at offset %d from empty store: %w", loc.Length, loc.Offset, io.ErrUnexpectedEOF)
	}
	buf := make([]byte, loc.Length)
	n, err := r.ReadAt(buf, int64(loc.Offset))
	if n < len(buf) {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("reading %d bytes at offset %d: %w", loc.Length, loc.Offset, err)
	}
	return Decode(buf)
}

// ReadNth reads the n-th row of the list at loc without decoding the rest.
func ReadNth(r io.ReaderAt, loc Location, n int) (Entry, error) {
	if loc.Length%RowSize != 0 {
		return Entry{}, fmt.Errorf("%w: length %d at offset %d", apperrors.ErrCorruptPostings, loc.Length, loc.Offset)
	}
	if n < 0 || n >= loc.Rows() {
		return Entry{}, fmt.Errorf("%w: row %d outside list of %d rows", apperrors.ErrInvalidInput, n, loc.Rows())
	}
	if r == nil {
		return Entry{}, fmt.Errorf("reading row %d from empty store: %w", n, io.ErrUnexpectedEOF)
	}
	buf := make([]byte, RowSize)
	read, err := r.ReadAt(buf, int64(loc.Offset)+int64(n*RowSize))
	if read < RowSize {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Entry{}, fmt.Errorf("reading row %d at offset %d: %w", n, loc.Offset, err)
	}
	return DecodeRow(buf), nil
}

// File is a read-only handle on a posting file. A missing file is an empty
// store so a fresh index can be queried.
type File struct {
	file *os.File
	path string
	size int64
}

// Open opens the posting file at path for range reads.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{path: path}, nil
		}
		return nil, fmt.Errorf("%w: opening posting file: %v", apperrors.ErrIndexIO, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat posting file: %v", apperrors.ErrIndexIO, err)
	}
	return &File{file: f, path: path, size: info.Size()}, nil
}

// ReadRange decodes the list at loc.
func (f *File) ReadRange(loc Location) (List, error) {
	if loc.End() > uint64(f.size) {
		return nil, fmt.Errorf("%w: range [%d,%d) beyond file size %d: %w",
			apperrors.ErrIndexIO, loc.Offset, loc.End(), f.size, io.ErrUnexpectedEOF)
	}
	return ReadRange(f.readerAt(), loc)
}

// ReadNth returns the n-th entry of the list at loc.
func (f *File) ReadNth(loc Location, n int) (Entry, error) {
	return ReadNth(f.readerAt(), loc, n)
}

// Size returns the size of the file when it was opened.
func (f *File) Size() int64 {
	return f.size
}

// Path returns the path the handle was opened from.
func (f *File) Path() string {
	return f.path
}

// Close releases the handle.
func (f *File) Close() error {
	if f.file == nil {
		return nil
	}
	return f.file.Close()
}

func (f *File) readerAt() io.ReaderAt {
	if f.file == nil {
		return nil
	}
	return f.file
}
