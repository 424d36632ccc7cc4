// Package catalogue records which source file and headline every indexed
// document came from, so search results can be shown with titles without
// re-reading the collection.
package catalogue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BScong/text-indexing/internal/corpus"
	"github.com/BScong/text-indexing/internal/indexer"
	apperrors "github.com/BScong/text-indexing/pkg/errors"
	"github.com/BScong/text-indexing/pkg/sqldb"
)

const schema = `CREATE TABLE IF NOT EXISTS documents (
	id     BIGINT PRIMARY KEY,
	title  TEXT NOT NULL,
	source TEXT NOT NULL
)`

// Entry is one catalogued document.
type Entry struct {
	ID     uint32 `json:"id"`
	Title  string `json:"title"`
	Source string `json:"source"`
}

// Catalogue stores entries in a SQL database.
type Catalogue struct {
	db     *sqldb.Client
	logger *slog.Logger
}

var _ indexer.Recorder = (*Catalogue)(nil)

// New creates the schema if needed.
func New(ctx context.Context, db *sqldb.Client) (*Catalogue, error) {
	if _, err := db.DB.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating catalogue schema: %w", err)
	}
	return &Catalogue{
		db:     db,
		logger: slog.Default().With("component", "catalogue"),
	}, nil
}

// Record upserts an entry per document in one transaction.
func (c *Catalogue) Record(ctx context.Context, docs []corpus.Document) error {
	if len(docs) == 0 {
		return nil
	}
	query := c.db.Rebind(`INSERT INTO documents (id, title, source) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET title = excluded.title, source = excluded.source`)
	err := c.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()
		for _, doc := range docs {
			if _, err := stmt.ExecContext(ctx, int64(doc.ID), doc.Title, doc.Source); err != nil {
				return fmt.Errorf("recording document %d: %w", doc.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.logger.Debug("documents recorded", "count", len(docs))
	return nil
}

// Lookup returns the entry for id or ErrDocumentNotFound.
func (c *Catalogue) Lookup(ctx context.Context, id uint32) (Entry, error) {
	e := Entry{ID: id}
	err := c.db.DB.QueryRowContext(ctx,
		c.db.Rebind(`SELECT title, source FROM documents WHERE id = ?`), int64(id),
	).Scan(&e.Title, &e.Source)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("document %d: %w", id, apperrors.ErrDocumentNotFound)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("looking up document %d: %w", id, err)
	}
	return e, nil
}

// Titles maps each known id to its title. Unknown ids are absent.
func (c *Catalogue) Titles(ctx context.Context, ids []uint32) (map[uint32]string, error) {
	titles := make(map[uint32]string, len(ids))
	if len(ids) == 0 {
		return titles, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = int64(id)
	}
	rows, err := c.db.DB.QueryContext(ctx,
		c.db.Rebind(`SELECT id, title FROM documents WHERE id IN (`+placeholders+`)`), args...)
	if err != nil {
		return nil, fmt.Errorf("querying titles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id    int64
			title string
		)
		if err := rows.Scan(&id, &title); err != nil {
			return nil, fmt.Errorf("scanning title: %w", err)
		}
		titles[uint32(id)] = title
	}
	return titles, rows.Err()
}

// Count returns the number of catalogued documents.
func (c *Catalogue) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

// Ping checks the database connection.
func (c *Catalogue) Ping(ctx context.Context) error {
	return c.db.Ping(ctx)
}
