package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"

	_ "modernc.org/sqlite"
)

// DB holds separate pools for reads and the single serialized writer.
type DB struct {
	path  string
	Read  *sql.DB
	Write *sql.DB
}

// sqliteDBString builds a modernc.org/sqlite DSN with WAL and busy-timeout pragmas.
func sqliteDBString(file string, readonly bool) string {
	params := make(url.Values)
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "busy_timeout(10000)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "temp_store(MEMORY)")

	if readonly {
		params.Add("mode", "ro")
	} else {
		params.Add("_txlock", "immediate")
		params.Add("mode", "rwc")
	}

	return "file:" + file + "?" + params.Encode()
}

func openPool(file string, readonly bool) (*sql.DB, error) {
	pool, err := sql.Open("sqlite", sqliteDBString(file, readonly))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if readonly {
		conns := max(4, runtime.NumCPU())
		pool.SetMaxOpenConns(conns)
		pool.SetMaxIdleConns(conns)
	} else {
		// One writer connection serializes writes.
		pool.SetMaxOpenConns(1)
		pool.SetMaxIdleConns(1)
	}

	if err := pool.Ping(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Open creates the file if needed and returns both pools.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// The writer must come first: it creates the file the reader opens.
	write, err := openPool(path, false)
	if err != nil {
		return nil, fmt.Errorf("open write pool: %w", err)
	}
	read, err := openPool(path, true)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read pool: %w", err)
	}

	return &DB{path: path, Read: read, Write: write}, nil
}

func (d *DB) Path() string { return d.path }

// WithTx runs fn in a transaction on the write pool.
func (d *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.Write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (d *DB) Close() error {
	var errs []error
	if d.Read != nil {
		if err := d.Read.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close read pool: %w", err))
		}
	}
	if d.Write != nil {
		if err := d.Write.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close write pool: %w", err))
		}
	}
	return errors.Join(errs...)
}
