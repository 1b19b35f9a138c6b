package writer

import (
	"database/sql"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/logsieve/logsieve/internal/model"
	lserrors "github.com/logsieve/logsieve/pkg/errors"
)

// duckdbBatchSize bounds how many rows accumulate before a transaction
// commits them.
const duckdbBatchSize = 1024

// DuckDBSink appends events to an `events` table in a DuckDB database
// file. Heterogeneous fields go into a JSON column so no schema
// unification is needed. The sink runs only on the coordinator.
type DuckDBSink struct {
	db   *sql.DB
	stmt *sql.Stmt

	mu    sync.Mutex
	batch []*model.Event
	rows  int64
}

// NewDuckDBSink opens (or creates) the database at path and prepares the
// events table.
func NewDuckDBSink(path string) (*DuckDBSink, error) {
	if path == "" {
		return nil, lserrors.Usage("duckdb output requires --output-file")
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, lserrors.Wrap(err, lserrors.SeverityFatal, lserrors.CodeSinkFailed,
			"opening duckdb database")
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			ts     TIMESTAMP,
			lnum   INTEGER,
			file   VARCHAR,
			level  VARCHAR,
			msg    VARCHAR,
			fields JSON,
			raw    VARCHAR
		)
	`)
	if err != nil {
		db.Close()
		return nil, lserrors.Wrap(err, lserrors.SeverityFatal, lserrors.CodeSinkFailed,
			"creating events table")
	}

	stmt, err := db.Prepare(`
		INSERT INTO events (ts, lnum, file, level, msg, fields, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		db.Close()
		return nil, lserrors.Wrap(err, lserrors.SeverityFatal, lserrors.CodeSinkFailed,
			"preparing insert")
	}

	return &DuckDBSink{
		db:    db,
		stmt:  stmt,
		batch: make([]*model.Event, 0, duckdbBatchSize),
	}, nil
}

// WriteEvent buffers one event, committing a batch when full.
func (s *DuckDBSink) WriteEvent(e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch = append(s.batch, e)
	if len(s.batch) >= duckdbBatchSize {
		return s.flushLocked()
	}
	return nil
}

// Flush commits any buffered rows.
func (s *DuckDBSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *DuckDBSink) flushLocked() error {
	if len(s.batch) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return lserrors.Wrap(err, lserrors.SeverityFatal, lserrors.CodeSinkFailed,
			"beginning transaction")
	}
	stmt := tx.Stmt(s.stmt)
	for _, e := range s.batch {
		var ts interface{}
		if t, ok := e.Timestamp(); ok {
			ts = t.UTC().Format(time.RFC3339Nano)
		}
		var msg interface{}
		if v, ok := e.Get("msg"); ok {
			msg = v.Render()
		}
		var level interface{}
		if l := e.Level(); l != "" {
			level = l
		}
		if _, err := stmt.Exec(ts, e.LNum, e.File, level, msg, fieldsJSON(e), e.Raw); err != nil {
			tx.Rollback()
			return lserrors.Wrap(err, lserrors.SeverityFatal, lserrors.CodeSinkFailed,
				"inserting event")
		}
	}
	if err := tx.Commit(); err != nil {
		return lserrors.Wrap(err, lserrors.SeverityFatal, lserrors.CodeSinkFailed,
			"committing batch")
	}
	s.rows += int64(len(s.batch))
	s.batch = s.batch[:0]
	return nil
}

// Rows returns the number of committed rows.
func (s *DuckDBSink) Rows() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Close flushes and releases the database.
func (s *DuckDBSink) Close() error {
	if err := s.Flush(); err != nil {
		s.db.Close()
		return err
	}
	s.stmt.Close()
	return s.db.Close()
}

func fieldsJSON(e *model.Event) string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, fd := range e.Fields() {
		if i > 0 {
			sb.WriteByte(',')
		}
		model.String(fd.Name).AppendJSON(&sb)
		sb.WriteByte(':')
		fd.Value.AppendJSON(&sb)
	}
	sb.WriteByte('}')
	return sb.String()
}
