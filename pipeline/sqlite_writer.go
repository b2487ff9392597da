package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/aluiziolira/go-scrape-gallery/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS images (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	search_topic TEXT NOT NULL,
	page_num INTEGER NOT NULL,
	image_page TEXT NOT NULL,
	image_url TEXT NOT NULL,
	image_title TEXT NOT NULL,
	image_author TEXT NOT NULL,
	image_favs INTEGER NOT NULL,
	image_com INTEGER NOT NULL,
	image_views INTEGER NOT NULL,
	private_collections INTEGER NOT NULL,
	tags TEXT NOT NULL,
	location TEXT,
	description TEXT,
	image_px TEXT,
	image_size REAL,
	published_date TEXT NOT NULL,
	last_comment TEXT,
	image_license TEXT
);
CREATE TABLE IF NOT EXISTS failed_links (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	search_topic TEXT NOT NULL,
	page_num INTEGER NOT NULL,
	link TEXT NOT NULL,
	reason TEXT NOT NULL,
	detail TEXT
);
`

const insertImage = `
INSERT INTO images (
	run_id, search_topic, page_num, image_page, image_url, image_title, image_author,
	image_favs, image_com, image_views, private_collections, tags, location, description,
	image_px, image_size, published_date, last_comment, image_license
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// SQLiteWriter stores rows in an embedded SQLite database, tagged with the
// crawl's run ID so several runs can share one file.
type SQLiteWriter struct {
	db    *sql.DB
	runID string
	mu    sync.Mutex
}

// NewSQLiteWriter opens (or creates) the database at filename.
func NewSQLiteWriter(filename, runID string) (*SQLiteWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}

	return &SQLiteWriter{db: db, runID: runID}, nil
}

// Write inserts rows in a single transaction.
func (sw *SQLiteWriter) Write(rows []models.Row) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	ctx := context.Background()
	tx, err := sw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sqlite tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertImage)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		tags := row.Tags
		if tags == nil {
			tags = []string{}
		}
		tagsJSON, err := json.Marshal(tags)
		if err != nil {
			return fmt.Errorf("encode tags: %w", err)
		}

		_, err = stmt.ExecContext(ctx,
			sw.runID,
			row.SearchTopic,
			row.PageNum,
			row.ImagePage,
			row.ImageURL,
			row.Title,
			row.Author,
			row.Favs,
			row.Comments,
			row.Views,
			row.PrivateCollections,
			string(tagsJSON),
			nullString(row.Location),
			nullString(row.Description),
			nullString(row.Pixels),
			nullFloat(row.SizeMB),
			row.PublishedDate,
			nullString(row.LastComment),
			nullString(row.License),
		)
		if err != nil {
			return fmt.Errorf("insert image row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite tx: %w", err)
	}
	return nil
}

// WriteFailures stores failed links for the run.
func (sw *SQLiteWriter) WriteFailures(failures []models.ExtractionFailure) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	ctx := context.Background()
	tx, err := sw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sqlite tx: %w", err)
	}
	defer tx.Rollback()

	for _, f := range failures {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO failed_links (run_id, search_topic, page_num, link, reason, detail) VALUES (?, ?, ?, ?, ?, ?)`,
			sw.runID, f.Topic, f.PageNum, f.Link, string(f.Reason), f.Detail,
		)
		if err != nil {
			return fmt.Errorf("insert failed link: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite tx: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (sw *SQLiteWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.db.Close()
}

// Validate ensures the run stored at least one row.
func (sw *SQLiteWriter) Validate() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	var count int
	if err := sw.db.QueryRow(`SELECT COUNT(*) FROM images WHERE run_id = ?`, sw.runID).Scan(&count); err != nil {
		return fmt.Errorf("count sqlite rows: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("sqlite has no rows for run %s", sw.runID)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
