package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

const (
	driverSQLite = "sqlite"
	driverMySQL  = "mysql"
)

// dialect holds the statements that differ between SQLite and MySQL
type dialect struct {
	driver            string
	dsn               func(string) string
	configure         func(*sql.DB) error
	schema            []string
	upsertEntry       string
	upsertTranslation string
	upsertPage        string
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "", driverSQLite:
		return sqliteDialect, nil
	case driverMySQL:
		return mysqlDialect, nil
	}
	return dialect{}, fmt.Errorf("unsupported cache driver: %s", driver)
}

var sqliteDialect = dialect{
	driver: driverSQLite,
	dsn: func(path string) string {
		// Add busy_timeout and WAL mode via connection string
		if strings.Contains(path, "?") {
			return path
		}
		return path + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
	},
	configure: func(db *sql.DB) error {
		// Verify pragmas are set
		if _, err := db.Exec("PRAGMA busy_timeout=10000"); err != nil {
			return fmt.Errorf("failed to set busy_timeout: %w", err)
		}
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return fmt.Errorf("failed to enable WAL mode: %w", err)
		}
		return nil
	},
	schema: []string{`
	CREATE TABLE IF NOT EXISTS entries (
		cache_key TEXT PRIMARY KEY,
		apod_date TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at INTEGER NOT NULL
	)`, `
	CREATE TABLE IF NOT EXISTS translations (
		source_hash TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		translated TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`, `
	CREATE TABLE IF NOT EXISTS pages (
		apod_date TEXT PRIMARY KEY,
		size INTEGER NOT NULL,
		inline_data BLOB,
		s3_key TEXT,
		created_at INTEGER NOT NULL
	)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_created_at ON entries(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_translations_created_at ON translations(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_pages_created_at ON pages(created_at)`,
	},
	upsertEntry: `
		INSERT INTO entries (cache_key, apod_date, data, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			apod_date = excluded.apod_date,
			data = excluded.data,
			created_at = excluded.created_at
	`,
	upsertTranslation: `
		INSERT INTO translations (source_hash, source, translated, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source_hash) DO UPDATE SET
			translated = excluded.translated,
			created_at = excluded.created_at
	`,
	upsertPage: `
		INSERT INTO pages (apod_date, size, inline_data, s3_key, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(apod_date) DO UPDATE SET
			size = excluded.size,
			inline_data = excluded.inline_data,
			s3_key = excluded.s3_key,
			created_at = excluded.created_at
	`,
}

var mysqlDialect = dialect{
	driver: driverMySQL,
	dsn:    func(dsn string) string { return dsn },
	configure: func(db *sql.DB) error {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetConnMaxIdleTime(10 * time.Minute)
		if err := db.Ping(); err != nil {
			return fmt.Errorf("failed to ping MySQL: %w", err)
		}
		return nil
	},
	schema: []string{`
	CREATE TABLE IF NOT EXISTS entries (
		cache_key VARCHAR(64) PRIMARY KEY,
		apod_date CHAR(10) NOT NULL,
		data MEDIUMBLOB NOT NULL,
		created_at BIGINT NOT NULL,
		INDEX idx_entries_created_at (created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`, `
	CREATE TABLE IF NOT EXISTS translations (
		source_hash CHAR(64) PRIMARY KEY,
		source MEDIUMTEXT NOT NULL,
		translated MEDIUMTEXT NOT NULL,
		created_at BIGINT NOT NULL,
		INDEX idx_translations_created_at (created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`, `
	CREATE TABLE IF NOT EXISTS pages (
		apod_date CHAR(10) PRIMARY KEY,
		size INT NOT NULL,
		inline_data MEDIUMBLOB,
		s3_key VARCHAR(255),
		created_at BIGINT NOT NULL,
		INDEX idx_pages_created_at (created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
	upsertEntry: `
		INSERT INTO entries (cache_key, apod_date, data, created_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			apod_date = VALUES(apod_date),
			data = VALUES(data),
			created_at = VALUES(created_at)
	`,
	upsertTranslation: `
		INSERT INTO translations (source_hash, source, translated, created_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			translated = VALUES(translated),
			created_at = VALUES(created_at)
	`,
	upsertPage: `
		INSERT INTO pages (apod_date, size, inline_data, s3_key, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			size = VALUES(size),
			inline_data = VALUES(inline_data),
			s3_key = VALUES(s3_key),
			created_at = VALUES(created_at)
	`,
}

func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func pageKey(day string) string {
	return "pages/" + strings.ReplaceAll(day, "-", "/") + ".html"
}
