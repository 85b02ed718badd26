package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/johann/apod/internal/config"
	"go.uber.org/zap"
)

// ErrObjectMissing is returned by an ObjectStore for unknown keys
var ErrObjectMissing = errors.New("object missing")

// ObjectStore holds archived pages outside the database
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Storage persists cached entries, translations and archived pages
type Storage struct {
	db      *sql.DB
	dialect dialect
	objects ObjectStore
	log     *zap.SugaredLogger
	writeMu sync.Mutex // Serialize write operations
}

// Stats summarizes the cache contents
type Stats struct {
	Entries      int64 `json:"entries"`
	Translations int64 `json:"translations"`
	Pages        int64 `json:"pages"`
	PageBytes    int64 `json:"page_bytes"`
	ArchivedToS3 int64 `json:"archived_to_s3"`
}

// PruneResult counts rows removed by Prune
type PruneResult struct {
	Entries      int64
	Translations int64
	Pages        int64
}

// New opens the configured cache database and, when a bucket is set, the S3
// page archive
func New(cfg *config.ServerConfig, log *zap.SugaredLogger) (*Storage, error) {
	var objects ObjectStore
	if cfg.S3Bucket != "" {
		s3Client, err := NewS3Client(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 client: %w", err)
		}
		objects = s3Client
	}

	dsn := cfg.CacheDSN
	if cfg.CacheDriver == driverSQLite && dsn == "" {
		dsn = cfg.DBPath
	}
	return Open(cfg.CacheDriver, dsn, objects, log)
}

// Open connects to driver ("sqlite" or "mysql") and migrates the schema.
// objects may be nil, in which case pages are stored inline.
func Open(driver, dsn string, objects ObjectStore, log *zap.SugaredLogger) (*Storage, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, d.dsn(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := d.configure(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Storage{
		db:      db,
		dialect: d,
		objects: objects,
		log:     log,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *Storage) migrate() error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the storage
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetEntry returns the serialized entry stored under key
func (s *Storage) GetEntry(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM entries WHERE cache_key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// PutEntry stores a serialized entry, replacing any previous value
func (s *Storage) PutEntry(ctx context.Context, key string, day time.Time, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, s.dialect.upsertEntry,
		key, day.Format("2006-01-02"), data, time.Now().Unix())
	return err
}

// GetTranslation returns the cached translation of source
func (s *Storage) GetTranslation(ctx context.Context, source string) (string, bool, error) {
	var translated string
	err := s.db.QueryRowContext(ctx, `SELECT translated FROM translations WHERE source_hash = ?`,
		hashText(source)).Scan(&translated)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return translated, true, nil
}

// PutTranslation stores the translation of source
func (s *Storage) PutTranslation(ctx context.Context, source, translated string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, s.dialect.upsertTranslation,
		hashText(source), source, translated, time.Now().Unix())
	return err
}

// SavePage archives the raw page of day. Pages go to the object store when
// one is configured and inline into the database otherwise.
func (s *Storage) SavePage(ctx context.Context, day string, page []byte) error {
	var inlineData []byte
	var s3Key sql.NullString

	if s.objects != nil {
		key := pageKey(day)
		if err := s.objects.Put(ctx, key, page); err != nil {
			return fmt.Errorf("failed to upload to S3: %w", err)
		}
		s3Key = sql.NullString{String: key, Valid: true}
	} else {
		inlineData = page
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, s.dialect.upsertPage,
		day, len(page), inlineData, s3Key, time.Now().Unix())
	return err
}

// GetPage returns the archived page of day
func (s *Storage) GetPage(ctx context.Context, day string) ([]byte, bool, error) {
	var inlineData []byte
	var s3Key sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT inline_data, s3_key FROM pages WHERE apod_date = ?
	`, day).Scan(&inlineData, &s3Key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if inlineData != nil {
		return inlineData, true, nil
	}

	if s3Key.Valid && s3Key.String != "" {
		if s.objects == nil {
			return nil, false, fmt.Errorf("page %s is archived in S3 but no bucket is configured", day)
		}
		data, err := s.objects.Get(ctx, s3Key.String)
		if errors.Is(err, ErrObjectMissing) {
			s.log.Warnw("archived page missing from bucket", "day", day, "key", s3Key.String)
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return data, true, nil
	}

	return nil, false, fmt.Errorf("page has no data: %s", day)
}

// Prune deletes everything cached before cutoff, including archived objects
func (s *Storage) Prune(ctx context.Context, cutoff time.Time) (PruneResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var res PruneResult
	ts := cutoff.Unix()

	r, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE created_at < ?`, ts)
	if err != nil {
		return res, err
	}
	res.Entries, _ = r.RowsAffected()

	r, err = s.db.ExecContext(ctx, `DELETE FROM translations WHERE created_at < ?`, ts)
	if err != nil {
		return res, err
	}
	res.Translations, _ = r.RowsAffected()

	res.Pages, err = s.deletePagesLocked(ctx, `WHERE created_at < ?`, ts)
	return res, err
}

// Purge drops all cached entries and translations. Archived pages are kept
// unless pages is set.
func (s *Storage) Purge(ctx context.Context, pages bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM translations`); err != nil {
		return err
	}
	if pages {
		if _, err := s.deletePagesLocked(ctx, ""); err != nil {
			return err
		}
	}
	return nil
}

// deletePagesLocked must be called with writeMu held
func (s *Storage) deletePagesLocked(ctx context.Context, where string, args ...any) (int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT apod_date, s3_key FROM pages `+where, args...)
	if err != nil {
		return 0, err
	}

	var days []string
	var s3Keys []string
	for rows.Next() {
		var day string
		var s3Key sql.NullString
		if err := rows.Scan(&day, &s3Key); err != nil {
			rows.Close()
			return 0, err
		}
		days = append(days, day)
		if s3Key.Valid && s3Key.String != "" {
			s3Keys = append(s3Keys, s3Key.String)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if s.objects != nil {
		for _, key := range s3Keys {
			if err := s.objects.Delete(ctx, key); err != nil {
				s.log.Warnw("failed to delete S3 object", "key", key, "error", err)
			}
		}
	}

	for _, day := range days {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE apod_date = ?`, day); err != nil {
			return 0, err
		}
	}

	return int64(len(days)), nil
}

// Stats counts cached rows
func (s *Storage) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&st.Entries); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM translations`).Scan(&st.Translations); err != nil {
		return st, err
	}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(size), 0), COUNT(s3_key) FROM pages
	`).Scan(&st.Pages, &st.PageBytes, &st.ArchivedToS3)
	return st, err
}
