package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the backend of record: conversation rows, processed webhook ids and
// the outbox, all in one SQLite file per instance.
type DB struct {
	*sql.DB
}

// Open connects to the SQLite file at path. Transactions start IMMEDIATE so
// concurrent webhook deliveries queue on the write lock instead of failing
// with SQLITE_BUSY when a read upgrades to a write.
func Open(path string) (*DB, error) {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_txlock", "immediate")
	db, err := sql.Open("sqlite3", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db %s: %w", path, err)
	}
	return &DB{db}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
