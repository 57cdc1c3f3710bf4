package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/thombles/whoisit/internal/spec"
)

// SQLiteStore keeps the operator-facing audit trail of answered
// queries. It is deliberately not a cache: resolution always happens
// fresh, the store only records what was said to whom.

type SQLiteStore struct {
	db *sql.DB
}

type SQLiteStoreCtx struct {
	_db *sql.DB
	ctx context.Context
}

var _ spec.Store = &SQLiteStore{}

const SQL_SCHEMA string = `
CREATE TABLE IF NOT EXISTS query (
	time INTEGER NOT NULL,
	remote TEXT NOT NULL,
	server_port INTEGER NOT NULL,
	client_port INTEGER NOT NULL,
	status TEXT NOT NULL,
	username TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS query_time_i ON query (time);
`

// NewSQLiteStore returns a spec.Store implementation that uses SQLite
func NewSQLiteStore(fileName string, ctx context.Context) (spec.Store, error) {
	db, err := sql.Open("sqlite3", fileName)
	store := &SQLiteStore{db: db}
	if err != nil {
		return store, dbErr(err, "opening database")
	}
	// limit concurrent access until we figure out a way to start transactions
	// with the BEGIN CONCURRENT statement in Go.
	db.SetMaxOpenConns(1)
	_, err = db.Exec(SQL_SCHEMA)
	if err != nil {
		return store, dbErr(err, "creating database schema")
	}
	return store, nil
}

func (s *SQLiteStore) Close() {
	s.db.Close()
}

func (s *SQLiteStore) WithCtx(ctx context.Context) spec.StoreCtx {
	return &SQLiteStoreCtx{
		_db: s.db,
		ctx: ctx,
	}
}

func IsConflict(err error) bool {
	if sqErr, isSq := err.(sqlite3.Error); isSq {
		if sqErr.Code == sqlite3.ErrBusy || sqErr.Code == sqlite3.ErrLocked {
			return true
		}
	}
	return false
}

func (s SQLiteStoreCtx) doTxn(name string, work func(tx *sql.Tx) error) error {
	db := s._db
	limit := 120
	for {
		tx, err := db.Begin()
		if err != nil {
			if IsConflict(err) {
				s.Sleep(250 * time.Millisecond)
				limit--
				if limit != 0 {
					continue
				}
			}
			return fmt.Errorf("[Store] cannot begin transaction: %v", err)
		}
		defer tx.Rollback()
		err = work(tx)
		if err != nil {
			if IsConflict(err) {
				s.Sleep(250 * time.Millisecond)
				limit--
				if limit != 0 {
					continue
				}
			}
			return fmt.Errorf("[Store] %v: %v", name, err)
		}
		err = tx.Commit()
		if err != nil {
			if IsConflict(err) {
				s.Sleep(250 * time.Millisecond)
				limit--
				if limit != 0 {
					continue
				}
			}
			return fmt.Errorf("[Store] cannot commit %v: %v", name, err)
		}
		return nil
	}
}

func (s SQLiteStoreCtx) Sleep(dur time.Duration) {
	select {
	case <-s.ctx.Done():
	case <-time.After(dur):
	}
}

func dbErr(err error, where string) error {
	if sqErr, isSq := err.(sqlite3.Error); isSq {
		if sqErr.Code == sqlite3.ErrBusy || sqErr.Code == sqlite3.ErrLocked {
			// SQLite has a single-writer policy, even in WAL (write-ahead) mode.
			// SQLite will return BUSY if the database is locked by another connection.
			return fmt.Errorf("SQLiteStore: db-conflict: %s: %w", where, err)
		}
	}
	return fmt.Errorf("SQLiteStore: db-problem: %s: %w", where, err)
}

// STORE INTERFACE

func (s SQLiteStoreCtx) AddQuery(rec spec.QueryRecord) error {
	return s.doTxn("AddQuery", func(tx *sql.Tx) error {
		_, err := tx.Exec(
			"INSERT INTO query (time,remote,server_port,client_port,status,username) VALUES (?,?,?,?,?,?)",
			rec.Time, rec.RemoteAddr, rec.ServerPort, rec.ClientPort, rec.Status, rec.UserName)
		return err
	})
}

func (s SQLiteStoreCtx) RecentQueries(limit int) (res []spec.QueryRecord, err error) {
	if limit <= 0 {
		limit = 100
	}
	err = s.doTxn("RecentQueries", func(tx *sql.Tx) error {
		rows, err := tx.Query(
			"SELECT time,remote,server_port,client_port,status,username FROM query ORDER BY time DESC LIMIT ?",
			limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var rec spec.QueryRecord
			err := rows.Scan(&rec.Time, &rec.RemoteAddr, &rec.ServerPort, &rec.ClientPort, &rec.Status, &rec.UserName)
			if err != nil {
				return err
			}
			res = append(res, rec)
		}
		return rows.Err()
	})
	return
}

func (s SQLiteStoreCtx) QueryStats() (total int64, failed int64, err error) {
	err = s.doTxn("QueryStats", func(tx *sql.Tx) error {
		row := tx.QueryRow("WITH t AS (SELECT COUNT(*) AS num, 1 AS rn FROM query), u AS (SELECT COUNT(*) AS bad, 1 AS rn FROM query WHERE status <> 'USERID') SELECT t.num, u.bad FROM t INNER JOIN u ON t.rn=u.rn")
		return row.Scan(&total, &failed)
	})
	return
}

func (s SQLiteStoreCtx) TrimQueries(keep time.Duration) (removed int64, err error) {
	cutoff := time.Now().Add(-keep).Unix()
	err = s.doTxn("TrimQueries", func(tx *sql.Tx) error {
		res, err := tx.Exec("DELETE FROM query WHERE time < ?", cutoff)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	return
}
