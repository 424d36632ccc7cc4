// Package corpus reads the document collections the indexer consumes:
// folders of files holding SGML <DOC> records in the LA Times layout.
package corpus

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// FileStride separates the id ranges of consecutive collection files. A
// document's id is its DOCID plus fileIndex*FileStride.
const FileStride = 1_000_000

// Sections are the record fields whose text is indexed, in output order.
var Sections = []string{"headline", "byline", "text", "subject", "graphic"}

// Document is one record ready for indexing.
type Document struct {
	ID     uint32 `json:"id"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

// Source yields documents in batches and returns io.EOF once drained.
type Source interface {
	NextBatch(ctx context.Context) ([]Document, error)
}

// DocumentID combines a record's DOCID with the index of the file it came
// from.
func DocumentID(docID uint32, fileIndex int) uint32 {
	return docID + uint32(fileIndex)*FileStride
}

// SplitID is the inverse of DocumentID.
func SplitID(id uint32) (docID uint32, fileIndex int) {
	return id % FileStride, int(id / FileStride)
}

// Parse reads every <DOC> record from r. Records without a numeric DOCID are
// rejected.
func Parse(r io.Reader, fileIndex int, source string) ([]Document, error) {
	z := html.NewTokenizer(r)
	var (
		docs     []Document
		inDoc    bool
		current  string
		depth    int
		sections map[string]*strings.Builder
	)

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return nil, fmt.Errorf("parsing %s: %w", source, err)
			}
			if inDoc {
				return nil, fmt.Errorf("parsing %s: unterminated <DOC> record", source)
			}
			return docs, nil

		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case tag == "doc":
				inDoc = true
				current = ""
				sections = make(map[string]*strings.Builder)
			case inDoc && current == "" && isField(tag):
				current = tag
				depth = 1
				if sections[tag] == nil {
					sections[tag] = &strings.Builder{}
				}
			case current != "":
				depth++
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case tag == "doc" && inDoc:
				doc, err := buildDocument(sections, fileIndex, source)
				if err != nil {
					return nil, err
				}
				docs = append(docs, doc)
				inDoc = false
				current = ""
			case tag == current:
				current = ""
			case current != "" && depth > 1:
				depth--
			}

		case html.TextToken:
			if current != "" {
				sections[current].Write(z.Text())
			}
		}
	}
}

func isField(tag string) bool {
	if tag == "docid" {
		return true
	}
	for _, s := range Sections {
		if s == tag {
			return true
		}
	}
	return false
}

func buildDocument(sections map[string]*strings.Builder, fileIndex int, source string) (Document, error) {
	raw := ""
	if b := sections["docid"]; b != nil {
		raw = strings.TrimSpace(b.String())
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return Document{}, fmt.Errorf("parsing %s: record with invalid DOCID %q", source, raw)
	}
	docID := uint32(n)
	if docID >= FileStride {
		return Document{}, fmt.Errorf("parsing %s: DOCID %d exceeds per-file range", source, docID)
	}

	var text strings.Builder
	for _, name := range Sections {
		if b := sections[name]; b != nil {
			text.WriteString(b.String())
		}
		text.WriteByte('\n')
	}

	title := ""
	if b := sections["headline"]; b != nil {
		title = strings.Join(strings.Fields(b.String()), " ")
	}

	return Document{
		ID:     DocumentID(docID, fileIndex),
		Title:  title,
		Text:   text.String(),
		Source: source,
	}, nil
}
