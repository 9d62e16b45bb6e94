// Package store keeps a history of successful meter readings in SQLite.
package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/NotCoffee418/dbmigrator"
	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/meterlink/internal/decode"
	"github.com/shaunagostinho/meterlink/internal/meter"
	"github.com/shaunagostinho/meterlink/internal/reader"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrNotFound is returned when no reading has the requested id.
var ErrNotFound = errors.New("store: reading not found")

// migrateMu guards dbmigrator's package-level database type setting.
var migrateMu sync.Mutex

// Row is one stored reading.
type Row struct {
	ID          string               `json:"id"`
	TakenAt     time.Time            `json:"takenAt"`
	Dialect     meter.Dialect        `json:"dialect"`
	Fingerprint string               `json:"fingerprint"`
	Bytes       int                  `json:"bytes"`
	Raw         []byte               `json:"raw"`
	Parsed      *decode.ParsedRecord `json:"parsed,omitempty"`
}

// History is the reading history database.
type History struct {
	db  *sql.DB
	log *logrus.Entry
}

// Open opens (creating if needed) the database at path and applies
// pending migrations.
func Open(path string) (*History, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection also keeps :memory:
	// databases from splitting per connection.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", path, err)
	}

	migrateMu.Lock()
	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(db, migrationFS, "migrations")
	migrateMu.Unlock()

	h := &History{db: db, log: logrus.WithField("component", "store")}
	if _, err := h.Count(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema not ready: %w", err)
	}
	h.log.Infof("history database ready at %s", path)
	return h, nil
}

func (h *History) Close() error { return h.db.Close() }

// Record stores a successful result. Failed reads are not kept.
func (h *History) Record(res *reader.Result) {
	if !res.OK() || !res.Raw.Valid {
		return
	}
	row := Row{
		ID:          res.ID,
		TakenAt:     res.StartedAt,
		Dialect:     res.Dialect,
		Fingerprint: res.Raw.Fingerprint(),
		Bytes:       res.Raw.Len(),
		Raw:         res.Raw.Data,
		Parsed:      res.Parsed,
	}
	if err := h.Insert(row); err != nil {
		h.log.WithError(err).Warn("failed to store reading")
	}
}

// Insert adds one row.
func (h *History) Insert(row Row) error {
	var parsed, kwh any
	if row.Parsed != nil {
		b, err := json.Marshal(row.Parsed)
		if err != nil {
			return fmt.Errorf("store: encode parsed: %w", err)
		}
		parsed = string(b)
		if row.Parsed.Has(decode.FieldKWh) {
			kwh = row.Parsed.Energy.KWh
		}
	}
	_, err := h.db.Exec(
		"INSERT INTO readings (id, taken_at, dialect, fingerprint, bytes, raw, parsed, kwh) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		row.ID,
		row.TakenAt.UnixMilli(),
		row.Dialect.String(),
		row.Fingerprint,
		row.Bytes,
		row.Raw,
		parsed,
		kwh,
	)
	if err != nil {
		return fmt.Errorf("store: insert %s: %w", row.ID, err)
	}
	return nil
}

const selectColumns = "SELECT id, taken_at, dialect, fingerprint, bytes, raw, parsed FROM readings "

// Recent returns up to limit readings, newest first. A DialectUnknown
// filter matches every dialect.
func (h *History) Recent(limit int, dialect meter.Dialect) ([]Row, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if dialect == meter.DialectUnknown {
		rows, err = h.db.Query(selectColumns+"ORDER BY taken_at DESC LIMIT ?", limit)
	} else {
		rows, err = h.db.Query(selectColumns+"WHERE dialect = ? ORDER BY taken_at DESC LIMIT ?", dialect.String(), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns the reading with the given id.
func (h *History) Get(id string) (Row, error) {
	row := h.db.QueryRow(selectColumns+"WHERE id = ?", id)
	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, ErrNotFound
	}
	return r, err
}

// Count returns the number of stored readings.
func (h *History) Count() (int, error) {
	var n int
	if err := h.db.QueryRow("SELECT COUNT(*) FROM readings").Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// Prune deletes readings taken before cutoff and returns how many went.
func (h *History) Prune(cutoff time.Time) (int64, error) {
	res, err := h.db.Exec("DELETE FROM readings WHERE taken_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (Row, error) {
	var (
		r       Row
		takenAt int64
		dialect string
		parsed  sql.NullString
	)
	if err := s.Scan(&r.ID, &takenAt, &dialect, &r.Fingerprint, &r.Bytes, &r.Raw, &parsed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Row{}, err
		}
		return Row{}, fmt.Errorf("store: scan: %w", err)
	}
	r.TakenAt = time.UnixMilli(takenAt)
	d, err := meter.ParseDialect(dialect)
	if err != nil {
		return Row{}, fmt.Errorf("store: row %s: %w", r.ID, err)
	}
	r.Dialect = d
	if parsed.Valid {
		var p decode.ParsedRecord
		if err := json.Unmarshal([]byte(parsed.String), &p); err != nil {
			return Row{}, fmt.Errorf("store: row %s: %w", r.ID, err)
		}
		r.Parsed = &p
	}
	return r, nil
}
