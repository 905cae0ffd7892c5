// Package tracestore records interpreter trace output in a SQLite
// database, one row per line, so that long traces can be queried after
// the run.
package tracestore

import (
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/chazu/jvmcore/vm"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	label   TEXT NOT NULL,
	started INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS lines (
	run   INTEGER NOT NULL REFERENCES runs(id),
	seq   INTEGER NOT NULL,
	depth INTEGER NOT NULL,
	line  TEXT NOT NULL,
	PRIMARY KEY (run, seq)
);`

// Line is one recorded trace line.
type Line struct {
	Seq   int
	Depth int
	Text  string
}

// Run describes one recorded run.
type Run struct {
	ID      int64
	Label   string
	Started time.Time
	Lines   int
}

// Store is a vm.TraceWriter writing to a SQLite database. Every Open
// starts a new run in the database.
type Store struct {
	db     *sql.DB
	insert *sql.Stmt
	run    int64

	mu    sync.Mutex
	seq   int
	depth int
	err   error
}

// Open opens or creates the database at path and starts a run labelled
// label.
func Open(path, label string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening trace database %s", path)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "configuring trace database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating trace schema")
	}

	res, err := db.Exec("INSERT INTO runs (label, started) VALUES (?, ?)", label, time.Now().UnixNano())
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "starting trace run")
	}
	run, err := res.LastInsertId()
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "starting trace run")
	}
	insert, err := db.Prepare("INSERT INTO lines (run, seq, depth, line) VALUES (?, ?, ?, ?)")
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "preparing trace insert")
	}
	return &Store{db: db, insert: insert, run: run}, nil
}

// RunID returns the id of the run this store writes.
func (s *Store) RunID() int64 { return s.run }

// WriteLn implements vm.TraceWriter. The first write error is kept and
// reported by Err; later lines are dropped.
func (s *Store) WriteLn(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	if _, err := s.insert.Exec(s.run, s.seq, s.depth, strings.TrimRight(line, "\n")); err != nil {
		s.err = errors.Wrap(err, "writing trace line")
		return
	}
	s.seq++
}

// Indent implements vm.TraceWriter.
func (s *Store) Indent() {
	s.mu.Lock()
	s.depth++
	s.mu.Unlock()
}

// Outdent implements vm.TraceWriter.
func (s *Store) Outdent() {
	s.mu.Lock()
	if s.depth > 0 {
		s.depth--
	}
	s.mu.Unlock()
}

// Err returns the first error hit while writing.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Lines returns the lines of the current run in order.
func (s *Store) Lines() ([]Line, error) {
	return s.RunLines(s.run)
}

// RunLines returns the lines of run in order.
func (s *Store) RunLines(run int64) ([]Line, error) {
	rows, err := s.db.Query("SELECT seq, depth, line FROM lines WHERE run = ? ORDER BY seq", run)
	if err != nil {
		return nil, errors.Wrap(err, "querying trace lines")
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.Seq, &l.Depth, &l.Text); err != nil {
			return nil, errors.Wrap(err, "scanning trace line")
		}
		lines = append(lines, l)
	}
	return lines, errors.Wrap(rows.Err(), "reading trace lines")
}

// Runs lists every run in the database, oldest first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT r.id, r.label, r.started, COUNT(l.seq)
		FROM runs r LEFT JOIN lines l ON l.run = r.id
		GROUP BY r.id ORDER BY r.id`)
	if err != nil {
		return nil, errors.Wrap(err, "querying trace runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started int64
		if err := rows.Scan(&r.ID, &r.Label, &started, &r.Lines); err != nil {
			return nil, errors.Wrap(err, "scanning trace run")
		}
		r.Started = time.Unix(0, started)
		runs = append(runs, r)
	}
	return runs, errors.Wrap(rows.Err(), "reading trace runs")
}

// Search returns lines of the current run containing substr.
func (s *Store) Search(substr string) ([]Line, error) {
	rows, err := s.db.Query(
		"SELECT seq, depth, line FROM lines WHERE run = ? AND instr(line, ?) > 0 ORDER BY seq", s.run, substr)
	if err != nil {
		return nil, errors.Wrap(err, "searching trace lines")
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.Seq, &l.Depth, &l.Text); err != nil {
			return nil, errors.Wrap(err, "scanning trace line")
		}
		lines = append(lines, l)
	}
	return lines, errors.Wrap(rows.Err(), "reading trace lines")
}

// Close closes the database.
func (s *Store) Close() error {
	s.insert.Close()
	return errors.Wrap(s.db.Close(), "closing trace database")
}

var _ vm.TraceWriter = (*Store)(nil)
