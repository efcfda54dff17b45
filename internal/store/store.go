// Package store persists player accounts in SQLite. Passwords are kept as
// bcrypt hashes.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

var (
	ErrUnknownAccount = errors.New("store: unknown account")
	ErrAccountExists  = errors.New("store: account exists")
)

const (
	busyRetries = 3
	busyDelay   = 50 * time.Millisecond
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    name TEXT PRIMARY KEY,
    hash BLOB NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_login DATETIME
);
`

// Store is an accounts table. With autoRegister an unknown name is created
// on its first login instead of being rejected.
type Store struct {
	db           *sql.DB
	autoRegister bool
	cost         int
}

// Open opens or creates the database at path.
func Open(path string, autoRegister bool) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open accounts db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping accounts db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init accounts schema: %w", err)
	}

	return &Store{db: db, autoRegister: autoRegister, cost: bcrypt.DefaultCost}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Add creates an account. An existing name is ErrAccountExists.
func (s *Store) Add(ctx context.Context, name, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	var added int64
	err = retry(func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO accounts (name, hash) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
			name, hash)
		if err != nil {
			return err
		}
		added, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("add account %q: %w", name, err)
	}
	if added == 0 {
		return fmt.Errorf("%w: %q", ErrAccountExists, name)
	}
	return nil
}

// Verify reports whether password matches the account. An unknown name is
// registered when auto-registration is on, and ErrUnknownAccount otherwise.
func (s *Store) Verify(ctx context.Context, name, password string) (bool, error) {
	var hash []byte
	err := retry(func() error {
		return s.db.QueryRowContext(ctx, `SELECT hash FROM accounts WHERE name = ?`, name).Scan(&hash)
	})

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if !s.autoRegister {
			return false, fmt.Errorf("%w: %q", ErrUnknownAccount, name)
		}
		if err := s.Add(ctx, name, password); err != nil {
			return false, err
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("look up account %q: %w", name, err)
	}

	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return false, nil
	}

	err = retry(func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE accounts SET last_login = ? WHERE name = ?`, time.Now().UTC(), name)
		return err
	})
	if err != nil {
		return true, fmt.Errorf("stamp login for %q: %w", name, err)
	}
	return true, nil
}

// Count returns the number of accounts.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := retry(func() error {
		return s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n)
	})
	return n, err
}

// retry runs op again while SQLite reports the database busy.
func retry(op func() error) error {
	var err error
	for i := 0; i <= busyRetries; i++ {
		if err = op(); err == nil || !isBusy(err) {
			return err
		}
		if i < busyRetries {
			time.Sleep(busyDelay)
		}
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database is busy")
}
