package executor

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// scanDestPool provides reusable scan destinations for row counting. Values
// are discarded after each Scan, so one slice serves every row of a query.
var scanDestPool = sync.Pool{
	New: func() interface{} {
		s := make([]interface{}, 0, 16)
		return &s
	},
}

// getScanDest returns n scan targets backed by a pooled slice.
func getScanDest(n int) *[]interface{} {
	sp := scanDestPool.Get().(*[]interface{})
	s := *sp
	if cap(s) >= n {
		s = s[:n]
	} else {
		s = make([]interface{}, n)
	}
	for i := range s {
		s[i] = new(sql.RawBytes)
	}
	*sp = s
	return sp
}

// Session is one database session. A session is used by one worker at a time.
type Session struct {
	id       int
	db       *sql.DB
	openedAt time.Time
}

// OpenSession opens and pings a single-connection database handle.
func OpenSession(ctx context.Context, id int, driver, dsn string) (*Session, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("session %d: failed to open %s: %w", id, driver, err)
	}

	// One physical connection per session keeps sessions exclusive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("session %d: failed to ping: %w", id, err)
	}

	return &Session{id: id, db: db, openedAt: time.Now()}, nil
}

// ID returns the session's slot number in its pool.
func (s *Session) ID() int {
	return s.id
}

// OpenedAt returns when the session was established.
func (s *Session) OpenedAt() time.Time {
	return s.openedAt
}

// Query runs query and returns the number of rows it produced. Row values
// are read and discarded.
func (s *Session) Query(ctx context.Context, query string) (int64, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, err
	}

	dest := getScanDest(len(cols))
	defer scanDestPool.Put(dest)

	var n int64
	for rows.Next() {
		if err := rows.Scan((*dest)...); err != nil {
			return n, err
		}
		n++
	}
	return n, rows.Err()
}

// Exec runs a statement that returns no rows.
func (s *Session) Exec(ctx context.Context, stmt string) error {
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

// Ping checks that the session still answers.
func (s *Session) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying handle.
func (s *Session) Close() error {
	return s.db.Close()
}
