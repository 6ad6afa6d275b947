package history

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/ansel1/merry"
	jsoniter "github.com/json-iterator/go"
	"github.com/tommy351/reqecho/pkg/echo"

	// Register the sqlite driver
	_ "modernc.org/sqlite"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const schema = `CREATE TABLE IF NOT EXISTS requests (
	id TEXT PRIMARY KEY,
	ts INTEGER NOT NULL,
	method TEXT NOT NULL,
	path TEXT NOT NULL,
	ip TEXT NOT NULL,
	response TEXT NOT NULL
)`

const index = `CREATE INDEX IF NOT EXISTS requests_ts ON requests (ts)`

const pragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// SQLite mirrors entries into a database file so they survive restarts.
// Only the newest entries are kept.
type SQLite struct {
	db   *sql.DB
	keep int
}

// OpenSQLite opens or creates the database at path. Add trims the table to
// the newest keep entries.
func OpenSQLite(path string, keep int) (*SQLite, error) {
	if keep < 1 {
		keep = 1
	}

	sep := "?"

	if strings.Contains(path, "?") {
		sep = "&"
	}

	db, err := sql.Open("sqlite", path+sep+pragmas)

	if err != nil {
		return nil, merry.Wrap(err)
	}

	// Writers would otherwise compete for the file lock.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{schema, index} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, merry.Wrap(err).WithValue("path", path)
		}
	}

	return &SQLite{db: db, keep: keep}, nil
}

func (s *SQLite) Add(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e.Response)

	if err != nil {
		return merry.Wrap(err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO requests (id, ts, method, path, ip, response) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UnixNano(), e.Response.Method, e.Response.Path, e.Response.IP, string(data))

	if err != nil {
		return merry.Wrap(err)
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM requests WHERE rowid NOT IN (SELECT rowid FROM requests ORDER BY ts DESC, rowid DESC LIMIT ?)`,
		s.keep)

	return merry.Wrap(err)
}

// Len returns the number of stored entries.
func (s *SQLite) Len(ctx context.Context) (int, error) {
	var n int

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM requests`).Scan(&n); err != nil {
		return 0, merry.Wrap(err)
	}

	return n, nil
}

// Recent returns up to limit entries, oldest first.
func (s *SQLite) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, response FROM requests ORDER BY ts DESC, rowid DESC LIMIT ?`, limit)

	if err != nil {
		return nil, merry.Wrap(err)
	}

	defer rows.Close()

	var out []Entry

	for rows.Next() {
		var (
			e    Entry
			ts   int64
			data string
		)

		if err := rows.Scan(&e.ID, &ts, &data); err != nil {
			return nil, merry.Wrap(err)
		}

		e.Timestamp = time.Unix(0, ts).UTC()
		e.Response = new(echo.Response)

		if err := json.Unmarshal([]byte(data), e.Response); err != nil {
			return nil, merry.Wrap(err).WithValue("id", e.ID)
		}

		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, merry.Wrap(err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	return out, nil
}

func (s *SQLite) Close() error {
	return merry.Wrap(s.db.Close())
}
