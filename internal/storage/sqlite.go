package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// SQLiteProvider stores credential entries in a SQLite file. Values are
// encrypted at rest. Several scopes (one per console profile) can share a
// file without seeing each other's entries.
type SQLiteProvider struct {
	db    *sql.DB
	scope string
	key   []byte
	mu    sync.RWMutex
	now   func() time.Time
}

// NewSQLiteProvider opens or creates dbPath. The encryption key is derived
// from passphrase with a salt kept in the database itself.
func NewSQLiteProvider(dbPath, scope, passphrase string) (*SQLiteProvider, error) {
	// WAL and a busy timeout let several console processes share the file
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	p := &SQLiteProvider{
		db:    db,
		scope: scope,
		now:   time.Now,
	}

	if err := p.init(); err != nil {
		db.Close()
		return nil, err
	}

	if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("dbPath", dbPath).Msg("failed to restrict database permissions")
	}

	salt, err := p.salt()
	if err != nil {
		db.Close()
		return nil, err
	}
	if p.key, err = DeriveKey(passphrase, salt); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	return p, nil
}

func (p *SQLiteProvider) init() error {
	metaQuery := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);
	`
	if _, err := p.db.Exec(metaQuery); err != nil {
		return fmt.Errorf("failed to create meta table: %w", err)
	}

	entriesQuery := `
	CREATE TABLE IF NOT EXISTS credential_entries (
		scope TEXT NOT NULL,
		name TEXT NOT NULL,
		encrypted_value TEXT NOT NULL,
		path TEXT NOT NULL,
		same_site INTEGER NOT NULL,
		secure INTEGER NOT NULL,
		http_only INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		PRIMARY KEY (scope, name)
	);
	`
	if _, err := p.db.Exec(entriesQuery); err != nil {
		return fmt.Errorf("failed to create credential_entries table: %w", err)
	}
	return nil
}

// salt returns the database's KDF salt, creating it on first use.
func (p *SQLiteProvider) salt() ([]byte, error) {
	var salt []byte
	err := p.db.QueryRow("SELECT value FROM meta WHERE key = 'kdf_salt'").Scan(&salt)
	if err == nil {
		return salt, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to query salt: %w", err)
	}

	if salt, err = NewSalt(); err != nil {
		return nil, err
	}
	// Another process may have raced us; keep whichever salt landed first
	if _, err := p.db.Exec("INSERT OR IGNORE INTO meta (key, value) VALUES ('kdf_salt', ?)", salt); err != nil {
		return nil, fmt.Errorf("failed to store salt: %w", err)
	}
	if err := p.db.QueryRow("SELECT value FROM meta WHERE key = 'kdf_salt'").Scan(&salt); err != nil {
		return nil, fmt.Errorf("failed to query salt: %w", err)
	}
	return salt, nil
}

// Available reports whether the database is reachable.
func (p *SQLiteProvider) Available() bool {
	return p.db.Ping() == nil
}

// Get returns the decrypted value of a live entry.
func (p *SQLiteProvider) Get(name string) (string, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var encrypted string
	var expiresAt int64
	err := p.db.QueryRow(
		"SELECT encrypted_value, expires_at FROM credential_entries WHERE scope = ? AND name = ?",
		p.scope, name,
	).Scan(&encrypted, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query entry: %w", err)
	}
	if p.now().UnixMilli() >= expiresAt {
		return "", false, nil
	}

	plaintext, err := Decrypt(encrypted, p.key)
	if err != nil {
		return "", false, fmt.Errorf("failed to decrypt entry %s: %w", name, err)
	}
	return string(plaintext), true, nil
}

// Set encrypts and upserts an entry.
func (p *SQLiteProvider) Set(name, value string, opts CookieOptions) error {
	encrypted, err := Encrypt([]byte(value), p.key)
	if err != nil {
		return fmt.Errorf("failed to encrypt entry %s: %w", name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	_, err = p.db.Exec(`
		INSERT INTO credential_entries (scope, name, encrypted_value, path, same_site, secure, http_only, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, name) DO UPDATE SET
			encrypted_value = excluded.encrypted_value,
			path = excluded.path,
			same_site = excluded.same_site,
			secure = excluded.secure,
			http_only = excluded.http_only,
			expires_at = excluded.expires_at
	`, p.scope, name, encrypted, opts.Path, int(opts.SameSite), opts.Secure, opts.HTTPOnly, p.now().Add(opts.MaxAge).UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save entry %s: %w", name, err)
	}
	return nil
}

// Delete removes an entry.
func (p *SQLiteProvider) Delete(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.db.Exec("DELETE FROM credential_entries WHERE scope = ? AND name = ?", p.scope, name); err != nil {
		return fmt.Errorf("failed to delete entry %s: %w", name, err)
	}
	return nil
}

// Options returns the stored attributes of an entry.
func (p *SQLiteProvider) Options(name string) (CookieOptions, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var opts CookieOptions
	var sameSite int
	var expiresAt int64
	err := p.db.QueryRow(
		"SELECT path, same_site, secure, http_only, expires_at FROM credential_entries WHERE scope = ? AND name = ?",
		p.scope, name,
	).Scan(&opts.Path, &sameSite, &opts.Secure, &opts.HTTPOnly, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CookieOptions{}, false, nil
	}
	if err != nil {
		return CookieOptions{}, false, fmt.Errorf("failed to query entry: %w", err)
	}
	opts.SameSite = http.SameSite(sameSite)
	opts.MaxAge = time.UnixMilli(expiresAt).Sub(p.now())
	return opts, true, nil
}

// PruneExpired deletes expired entries across all scopes and returns how many
// were removed.
func (p *SQLiteProvider) PruneExpired() (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, err := p.db.Exec("DELETE FROM credential_entries WHERE expires_at <= ?", p.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune entries: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection.
func (p *SQLiteProvider) Close() error {
	return p.db.Close()
}
