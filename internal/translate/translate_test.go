package translate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memCache struct {
	mu sync.Mutex
	m  map[string]string
}

func (c *memCache) GetTranslation(_ context.Context, source string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[source]
	return v, ok, nil
}

func (c *memCache) PutTranslation(_ context.Context, source, translated string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[source] = translated
	return nil
}

func newUpstreams(t *testing.T, libre, google http.HandlerFunc) Config {
	t.Helper()
	l := httptest.NewServer(libre)
	g := httptest.NewServer(google)
	t.Cleanup(l.Close)
	t.Cleanup(g.Close)
	return Config{Enabled: true, LibreURL: l.URL + "/translate", GoogleURL: g.URL + "/translate_a/single"}
}

func TestToZH_LibreAndCache(t *testing.T) {
	var libreHits int32
	cfg := newUpstreams(t,
		func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&libreHits, 1)
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "en", r.PostForm.Get("source"))
			assert.Equal(t, "zh", r.PostForm.Get("target"))
			assert.Equal(t, "text", r.PostForm.Get("format"))
			w.Write([]byte(`{"translatedText":"星云"}`))
		},
		func(w http.ResponseWriter, r *http.Request) {
			t.Error("google should not be called")
		})

	cache := &memCache{m: map[string]string{}}
	tr := New(cfg, http.DefaultClient, cache, zap.NewNop().Sugar())

	assert.Equal(t, "星云", tr.ToZH(context.Background(), "Nebula"))
	assert.Equal(t, "星云", tr.ToZH(context.Background(), "Nebula"))
	assert.EqualValues(t, 1, atomic.LoadInt32(&libreHits))
	assert.Equal(t, "星云", cache.m["Nebula"])
}

func TestToZH_GoogleFallback(t *testing.T) {
	cfg := newUpstreams(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"translatedText":""}`))
		},
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "gtx", r.URL.Query().Get("client"))
			assert.Equal(t, "zh-CN", r.URL.Query().Get("tl"))
			w.Write([]byte(`[[["你好，","Hello, ",null,null,1],["世界","world",null,null,1]],null,"en"]`))
		})

	tr := New(cfg, http.DefaultClient, nil, zap.NewNop().Sugar())
	assert.Equal(t, "你好，世界", tr.ToZH(context.Background(), "Hello, world"))
}

func TestToZH_FailureReturnsInput(t *testing.T) {
	cfg := newUpstreams(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		},
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		})

	cache := &memCache{m: map[string]string{}}
	tr := New(cfg, http.DefaultClient, cache, zap.NewNop().Sugar())
	assert.Equal(t, "Nebula", tr.ToZH(context.Background(), "Nebula"))
	assert.Empty(t, cache.m)
}

func TestToZH_DisabledOrEmpty(t *testing.T) {
	tr := New(Config{Enabled: false, LibreURL: "http://127.0.0.1:1"}, http.DefaultClient, nil, zap.NewNop().Sugar())
	assert.Equal(t, "Nebula", tr.ToZH(context.Background(), "Nebula"))

	tr = New(Config{Enabled: true}, http.DefaultClient, nil, zap.NewNop().Sugar())
	assert.Equal(t, "", tr.ToZH(context.Background(), ""))
}
