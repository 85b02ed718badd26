package apod

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

var siteToday = time.Date(2026, 10, 8, 0, 0, 0, 0, time.UTC)

func TestService_ForDateCachesResult(t *testing.T) {
	site := newAPODSite(t, siteToday)
	cache := newMemCache()
	svc := newTestService(t, site, cache, Options{})
	ctx := context.Background()

	e, err := svc.ForDate(ctx, "2020-01-05", Flags{})
	require.NoError(t, err)
	assert.Equal(t, "2020-01-05", e.Date)
	assert.Equal(t, "Nebula 0105", e.Title)
	assert.Equal(t, ServiceVersion, e.ServiceVersion)
	assert.Contains(t, cache.entries, "2020y1m5dFalseFalse")

	again, err := svc.ForDate(ctx, "2020-01-05", Flags{})
	require.NoError(t, err)
	assert.Equal(t, e, again)
	assert.EqualValues(t, 1, site.pathHits("ap200105.html"))
}

func TestService_ForDateUsesArchive(t *testing.T) {
	site := newAPODSite(t, siteToday)
	cache := newMemCache()
	svc := newTestService(t, site, cache, Options{})
	ctx := context.Background()

	_, err := svc.ForDate(ctx, "2020-01-05", Flags{})
	require.NoError(t, err)
	require.Contains(t, cache.pages, "2020-01-05")

	// A different flag combination misses the entry cache but not the archive
	_, err = svc.ForDate(ctx, "2020-01-05", Flags{Thumbs: true})
	require.NoError(t, err)
	assert.EqualValues(t, 1, site.pathHits("ap200105.html"))
}

func TestService_ForDateToday(t *testing.T) {
	site := newAPODSite(t, siteToday)
	yesterday := siteToday.AddDate(0, 0, -1)
	site.current = &yesterday
	cache := newMemCache()
	svc := newTestService(t, site, cache, Options{})

	e, err := svc.ForDate(context.Background(), "", Flags{})
	require.NoError(t, err)
	assert.Equal(t, "2026-10-07", e.Date)
	assert.Contains(t, cache.entries, "2026y10m7dFalseFalse")
	assert.NotContains(t, cache.pages, "2026-10-07")
}

func TestService_ForDateErrors(t *testing.T) {
	site := newAPODSite(t, siteToday)
	site.missing["2020-01-06"] = true
	svc := newTestService(t, site, newMemCache(), Options{})
	ctx := context.Background()

	_, err := svc.ForDate(ctx, "2020-01-06", Flags{})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.ForDate(ctx, "1990-01-01", Flags{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.ForDate(ctx, "yesterday", Flags{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_UpstreamFailure(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	log := zap.NewNop().Sugar()
	pages := NewPageSource(http.DefaultClient, broken.URL+"/", nil, sdktrace.NewTracerProvider().Tracer("t"), log)
	svc := NewService(pages, nil, nil, nil, Options{Now: func() time.Time { return siteToday }}, log)

	_, err := svc.ForDate(context.Background(), "2020-01-05", Flags{})
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestService_ConceptTags(t *testing.T) {
	site := newAPODSite(t, siteToday)
	svc := newTestService(t, site, nil, Options{})

	e, err := svc.ForDate(context.Background(), "2020-01-05", Flags{ConceptTags: true})
	require.NoError(t, err)
	assert.Equal(t, "concept_tags functionality turned off in current service", e.Concepts)

	tags := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"concepts":[{"text":"Nebula"}]}`))
	}))
	defer tags.Close()

	svc.concepts = NewConceptTagger(http.DefaultClient, tags.URL, "key")
	e, err = svc.ForDate(context.Background(), "2020-01-05", Flags{ConceptTags: true})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"0": "Nebula"}, e.Concepts)
}

func TestService_VideoThumbs(t *testing.T) {
	site := newAPODSite(t, siteToday)
	site.video = true
	svc := newTestService(t, site, nil, Options{})

	e, err := svc.ForDate(context.Background(), "2017-08-21", Flags{Thumbs: true})
	require.NoError(t, err)
	assert.Equal(t, MediaVideo, e.MediaType)
	assert.Equal(t, "https://img.youtube.com/vi/dQw4w9WgXcQ/0.jpg", e.ThumbnailURL)

	e, err = svc.ForDate(context.Background(), "2017-08-21", Flags{})
	require.NoError(t, err)
	assert.Empty(t, e.ThumbnailURL)
}

func TestService_Range(t *testing.T) {
	site := newAPODSite(t, siteToday)
	site.missing["2020-01-03"] = true
	svc := newTestService(t, site, newMemCache(), Options{Workers: 3})

	entries, err := svc.Range(context.Background(), "2020-01-01", "2020-01-05", Flags{})
	require.NoError(t, err)

	var dates []string
	for _, e := range entries {
		dates = append(dates, e.Date)
	}
	assert.Equal(t, []string{"2020-01-01", "2020-01-02", "2020-01-04", "2020-01-05"}, dates)
}

func TestService_RangeEndsTodayAndDropsLaggingPage(t *testing.T) {
	site := newAPODSite(t, siteToday)
	yesterday := siteToday.AddDate(0, 0, -1)
	site.current = &yesterday
	svc := newTestService(t, site, nil, Options{Workers: 2})

	entries, err := svc.Range(context.Background(), "2026-10-06", "", Flags{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2026-10-06", entries[0].Date)
	assert.Equal(t, "2026-10-07", entries[1].Date)
	assert.EqualValues(t, 1, site.pathHits("astropix.html"))
}

func TestService_RangeValidation(t *testing.T) {
	site := newAPODSite(t, siteToday)
	svc := newTestService(t, site, nil, Options{})
	ctx := context.Background()

	_, err := svc.Range(ctx, "2020-01-05", "2020-01-01", Flags{})
	assert.EqualError(t, err, "start_date cannot be after end_date")

	_, err = svc.Range(ctx, "2020-01-05", "2030-01-01", Flags{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Range(ctx, "bad", "", Flags{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_Random(t *testing.T) {
	site := newAPODSite(t, siteToday)
	// Identity shuffle makes the candidate order FirstDate, FirstDate+1, ...
	site.missing["1995-06-17"] = true
	svc := newTestService(t, site, newMemCache(), Options{
		Workers: 4,
		Shuffle: func([]time.Time) {},
	})

	entries, err := svc.Random(context.Background(), 3, Flags{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "1995-06-16", entries[0].Date)
	assert.Equal(t, "1995-06-18", entries[1].Date)
	assert.Equal(t, "1995-06-19", entries[2].Date)
}

func TestService_RandomCountBounds(t *testing.T) {
	site := newAPODSite(t, siteToday)
	svc := newTestService(t, site, nil, Options{})

	for _, n := range []int{0, 101} {
		_, err := svc.Random(context.Background(), n, Flags{})
		assert.EqualError(t, err, "Count must be positive and cannot exceed 100")
	}
}

func TestService_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	site := newAPODSite(t, siteToday)
	svc := newTestService(t, site, nil, Options{Tracer: tp.Tracer("test")})

	_, err := svc.ForDate(context.Background(), "2020-01-05", Flags{})
	require.NoError(t, err)

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{"apod.fetch_page", "apod.for_date"}, names)
}
