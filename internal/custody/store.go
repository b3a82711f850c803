package custody

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/id"
)

// Record is the only persisted wallet state. EncryptedKey is replaced
// wholesale, never patched.
type Record struct {
	Account      string    `json:"account"`
	Address      string    `json:"address"`
	EncryptedKey []byte    `json:"encrypted_key"`
	CreatedAt    time.Time `json:"created_at"`
}

// RecordStore keeps one encrypted wallet record per account.
type RecordStore interface {
	Get(account string) (Record, bool, error)
	Put(record Record) error
	Delete(account string) error
}

type SQLiteStore struct {
	db   *sql.DB
	lock *flock.Flock
}

func OpenStore(path, lockPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create wallet store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o700); err != nil {
		return nil, fmt.Errorf("create wallet lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open wallet sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		`CREATE TABLE IF NOT EXISTS wallets (
			account TEXT PRIMARY KEY,
			address TEXT NOT NULL,
			encrypted_key BLOB NOT NULL,
			created_at INTEGER NOT NULL
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init wallet schema: %w", err)
		}
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = db.Close()
		return nil, fmt.Errorf("restrict wallet store permissions: %w", err)
	}
	return &SQLiteStore{db: db, lock: flock.New(lockPath)}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Get(account string) (Record, bool, error) {
	var (
		rec     Record
		created int64
	)
	err := s.db.QueryRow("SELECT account, address, encrypted_key, created_at FROM wallets WHERE account = ?", account).
		Scan(&rec.Account, &rec.Address, &rec.EncryptedKey, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, clierr.Wrap(clierr.CodeInternal, "read wallet record", err)
	}
	rec.CreatedAt = time.Unix(created, 0).UTC()
	return rec, true, nil
}

func (s *SQLiteStore) Put(record Record) error {
	if strings.TrimSpace(record.Account) == "" {
		return clierr.New(clierr.CodeUsage, "save wallet: missing account")
	}
	if !id.IsEVMAddress(record.Address) {
		return clierr.New(clierr.CodeInternal, "save wallet: invalid address "+record.Address)
	}
	if len(record.EncryptedKey) == 0 {
		return clierr.New(clierr.CodeInternal, "save wallet: missing encrypted key")
	}
	return s.withLock(func() error {
		if record.CreatedAt.IsZero() {
			record.CreatedAt = time.Now().UTC()
		}
		_, err := s.db.Exec(`
			INSERT INTO wallets (account, address, encrypted_key, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(account) DO UPDATE SET
				address=excluded.address,
				encrypted_key=excluded.encrypted_key,
				created_at=excluded.created_at
		`, record.Account, record.Address, record.EncryptedKey, record.CreatedAt.Unix())
		if err != nil {
			return clierr.Wrap(clierr.CodeInternal, "save wallet record", err)
		}
		return nil
	})
}

func (s *SQLiteStore) Delete(account string) error {
	return s.withLock(func() error {
		if _, err := s.db.Exec("DELETE FROM wallets WHERE account = ?", account); err != nil {
			return clierr.Wrap(clierr.CodeInternal, "delete wallet record", err)
		}
		return nil
	})
}

func (s *SQLiteStore) withLock(fn func() error) error {
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "lock wallet store", err)
	}
	if !locked {
		return clierr.New(clierr.CodeInternal, "lock wallet store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}
