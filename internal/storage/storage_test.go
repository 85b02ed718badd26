package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (m *memObjects) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memObjects) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectMissing
	}
	return data, nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func openTest(t *testing.T, objects ObjectStore) *Storage {
	t.Helper()
	s, err := Open(driverSQLite, filepath.Join(t.TempDir(), "apod.db"), objects, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEntries(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, nil)
	day := time.Date(2020, 1, 5, 0, 0, 0, 0, time.UTC)

	_, ok, err := s.GetEntry(ctx, "2020y1m5dFalseFalse")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutEntry(ctx, "2020y1m5dFalseFalse", day, []byte(`{"title":"a"}`)))
	require.NoError(t, s.PutEntry(ctx, "2020y1m5dFalseFalse", day, []byte(`{"title":"b"}`)))

	data, ok, err := s.GetEntry(ctx, "2020y1m5dFalseFalse")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"title":"b"}`, string(data))
}

func TestTranslations(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, nil)

	require.NoError(t, s.PutTranslation(ctx, "Orion Nebula", "猎户座星云"))
	got, ok, err := s.GetTranslation(ctx, "Orion Nebula")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "猎户座星云", got)

	_, ok, err = s.GetTranslation(ctx, "orion nebula")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPagesInline(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, nil)

	require.NoError(t, s.SavePage(ctx, "2020-01-05", []byte("<html>page</html>")))
	page, ok, err := s.GetPage(ctx, "2020-01-05")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "<html>page</html>", string(page))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Pages)
	assert.Equal(t, int64(len("<html>page</html>")), st.PageBytes)
	assert.Equal(t, int64(0), st.ArchivedToS3)
}

func TestPagesObjectStore(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjects()
	s := openTest(t, objects)

	require.NoError(t, s.SavePage(ctx, "2020-01-05", []byte("<html>page</html>")))
	assert.Contains(t, objects.objects, "pages/2020/01/05.html")

	page, ok, err := s.GetPage(ctx, "2020-01-05")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "<html>page</html>", string(page))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.ArchivedToS3)

	require.NoError(t, s.Purge(ctx, true))
	assert.Equal(t, []string{"pages/2020/01/05.html"}, objects.deleted)
	_, ok, err = s.GetPage(ctx, "2020-01-05")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPagesObjectMissing(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjects()
	s := openTest(t, objects)

	require.NoError(t, s.SavePage(ctx, "2020-01-05", []byte("<html>page</html>")))
	delete(objects.objects, "pages/2020/01/05.html")

	_, ok, err := s.GetPage(ctx, "2020-01-05")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, nil)
	day := time.Date(2020, 1, 5, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.PutEntry(ctx, "k", day, []byte(`{}`)))
	require.NoError(t, s.PutTranslation(ctx, "a", "b"))
	require.NoError(t, s.SavePage(ctx, "2020-01-05", []byte("x")))

	res, err := s.Prune(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, PruneResult{}, res)

	res, err = s.Prune(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, PruneResult{Entries: 1, Translations: 1, Pages: 1}, res)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)
}

func TestPurgeKeepsPages(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, nil)

	require.NoError(t, s.PutEntry(ctx, "k", time.Now(), []byte(`{}`)))
	require.NoError(t, s.PutTranslation(ctx, "a", "b"))
	require.NoError(t, s.SavePage(ctx, "2020-01-05", []byte("x")))

	require.NoError(t, s.Purge(ctx, false))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Entries)
	assert.Equal(t, int64(0), st.Translations)
	assert.Equal(t, int64(1), st.Pages)
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open("postgres", "", nil, zap.NewNop().Sugar())
	assert.ErrorContains(t, err, "unsupported cache driver")
}

func TestTiered(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, nil)
	tc, err := NewTiered(s, 2)
	require.NoError(t, err)

	day := time.Date(2020, 1, 5, 0, 0, 0, 0, time.UTC)
	require.NoError(t, tc.PutEntry(ctx, "k1", day, []byte(`1`)))
	assert.Equal(t, 1, tc.Len())

	// Entries written behind the memory tier are read through it
	require.NoError(t, s.PutEntry(ctx, "k2", day, []byte(`2`)))
	data, ok, err := tc.GetEntry(ctx, "k2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", string(data))
	assert.Equal(t, 2, tc.Len())

	require.NoError(t, tc.PutTranslation(ctx, "a", "b"))
	got, ok, err := tc.GetTranslation(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", got)

	require.NoError(t, tc.SavePage(ctx, "2020-01-05", []byte("x")))
	page, ok, err := tc.GetPage(ctx, "2020-01-05")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "x", string(page))

	require.NoError(t, tc.Purge(ctx, false))
	assert.Equal(t, 0, tc.Len())
	_, ok, err = tc.GetEntry(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}
