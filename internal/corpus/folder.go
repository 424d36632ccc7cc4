package corpus

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/BScong/text-indexing/pkg/errors"
)

// ListFiles returns the regular files in dir whose names start with prefix,
// in lexical order. The position of a file in this list is its file index.
func ListFiles(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading corpus folder %s: %w", dir, err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

// ParseFile reads all records of one collection file.
func ParseFile(path string, fileIndex int) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening collection file: %w", err)
	}
	defer f.Close()
	return Parse(f, fileIndex, filepath.Base(path))
}

// Folder is a Source over the collection files of a directory. Each batch
// holds the documents of up to filesPerBatch files.
type Folder struct {
	dir           string
	files         []string
	first         int
	filesPerBatch int
	next          int
	logger        *slog.Logger
}

// NewFolder lists dir and prepares to read every matching file.
func NewFolder(dir, prefix string, filesPerBatch int) (*Folder, error) {
	files, err := ListFiles(dir, prefix)
	if err != nil {
		return nil, err
	}
	return newFolder(dir, files, 0, filesPerBatch), nil
}

// NewFolderFrom reads only the matching files from position first onwards,
// keeping their file indexes. It is used to pick up files added after an
// earlier run.
func NewFolderFrom(dir, prefix string, first, filesPerBatch int) (*Folder, error) {
	files, err := ListFiles(dir, prefix)
	if err != nil {
		return nil, err
	}
	if first > len(files) {
		first = len(files)
	}
	return newFolder(dir, files[first:], first, filesPerBatch), nil
}

func newFolder(dir string, files []string, first, filesPerBatch int) *Folder {
	if filesPerBatch < 1 {
		filesPerBatch = 1
	}
	return &Folder{
		dir:           dir,
		files:         files,
		first:         first,
		filesPerBatch: filesPerBatch,
		logger:        slog.Default().With("component", "corpus"),
	}
}

// Files returns the file names this source reads.
func (f *Folder) Files() []string {
	return f.files
}

// NextBatch parses the next group of files.
func (f *Folder) NextBatch(ctx context.Context) ([]Document, error) {
	if f.next >= len(f.files) {
		return nil, io.EOF
	}
	end := min(f.next+f.filesPerBatch, len(f.files))
	var docs []Document
	for i := f.next; i < end; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		parsed, err := ParseFile(filepath.Join(f.dir, f.files[i]), f.first+i)
		if err != nil {
			return nil, err
		}
		f.logger.Debug("collection file parsed", "file", f.files[i], "documents", len(parsed))
		docs = append(docs, parsed...)
	}
	f.next = end
	return docs, nil
}

// Reader fetches the original text of indexed documents for display.
type Reader struct {
	dir    string
	prefix string
}

// NewReader returns a Reader over the collection files in dir.
func NewReader(dir, prefix string) *Reader {
	return &Reader{dir: dir, prefix: prefix}
}

// ReadDocument re-parses the file id points into and returns the record.
func (r *Reader) ReadDocument(id uint32) (Document, error) {
	docID, fileIndex := SplitID(id)
	files, err := ListFiles(r.dir, r.prefix)
	if err != nil {
		return Document{}, err
	}
	if fileIndex >= len(files) {
		return Document{}, fmt.Errorf("%w: %d", apperrors.ErrDocumentNotFound, id)
	}
	docs, err := ParseFile(filepath.Join(r.dir, files[fileIndex]), fileIndex)
	if err != nil {
		return Document{}, err
	}
	for _, d := range docs {
		if d.ID == DocumentID(docID, fileIndex) {
			return d, nil
		}
	}
	return Document{}, fmt.Errorf("%w: %d", apperrors.ErrDocumentNotFound, id)
}
