package storage

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Backend is the persistent layer behind a Tiered cache
type Backend interface {
	GetEntry(ctx context.Context, key string) ([]byte, bool, error)
	PutEntry(ctx context.Context, key string, day time.Time, data []byte) error
	GetTranslation(ctx context.Context, source string) (string, bool, error)
	PutTranslation(ctx context.Context, source, translated string) error
	GetPage(ctx context.Context, day string) ([]byte, bool, error)
	SavePage(ctx context.Context, day string, page []byte) error
	Purge(ctx context.Context, pages bool) error
}

// Tiered keeps recently used entries and translations in memory in front of
// a Backend. Pages are always read from the backend.
type Tiered struct {
	backend      Backend
	entries      *lru.Cache[string, []byte]
	translations *lru.Cache[string, string]
}

// NewTiered wraps backend with in-memory LRUs of the given size
func NewTiered(backend Backend, size int) (*Tiered, error) {
	if size < 1 {
		size = 1
	}
	entries, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	translations, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &Tiered{backend: backend, entries: entries, translations: translations}, nil
}

func (t *Tiered) GetEntry(ctx context.Context, key string) ([]byte, bool, error) {
	if data, ok := t.entries.Get(key); ok {
		return data, true, nil
	}
	data, ok, err := t.backend.GetEntry(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	t.entries.Add(key, data)
	return data, true, nil
}

func (t *Tiered) PutEntry(ctx context.Context, key string, day time.Time, data []byte) error {
	if err := t.backend.PutEntry(ctx, key, day, data); err != nil {
		return err
	}
	t.entries.Add(key, data)
	return nil
}

func (t *Tiered) GetTranslation(ctx context.Context, source string) (string, bool, error) {
	if s, ok := t.translations.Get(source); ok {
		return s, true, nil
	}
	s, ok, err := t.backend.GetTranslation(ctx, source)
	if err != nil || !ok {
		return "", false, err
	}
	t.translations.Add(source, s)
	return s, true, nil
}

func (t *Tiered) PutTranslation(ctx context.Context, source, translated string) error {
	if err := t.backend.PutTranslation(ctx, source, translated); err != nil {
		return err
	}
	t.translations.Add(source, translated)
	return nil
}

func (t *Tiered) GetPage(ctx context.Context, day string) ([]byte, bool, error) {
	return t.backend.GetPage(ctx, day)
}

func (t *Tiered) SavePage(ctx context.Context, day string, page []byte) error {
	return t.backend.SavePage(ctx, day, page)
}

// Purge empties the memory tier and the backend
func (t *Tiered) Purge(ctx context.Context, pages bool) error {
	t.entries.Purge()
	t.translations.Purge()
	return t.backend.Purge(ctx, pages)
}

// Len reports how many entries the memory tier holds
func (t *Tiered) Len() int {
	return t.entries.Len()
}
