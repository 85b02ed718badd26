package apod

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/johann/apod/internal/apod"

// Cache stores serialized entries under CacheKey keys
type Cache interface {
	GetEntry(ctx context.Context, key string) ([]byte, bool, error)
	PutEntry(ctx context.Context, key string, day time.Time, data []byte) error
}

// Options configures a Service
type Options struct {
	// Workers bounds concurrent page fetches for range and random lookups
	Workers int
	Tracer  trace.Tracer
	Now     func() time.Time
	// Shuffle reorders candidate days for random lookups
	Shuffle func(days []time.Time)
}

// Service answers apod lookups
type Service struct {
	pages    *PageSource
	cache    Cache
	thumbs   *Thumbnailer
	concepts *ConceptTagger
	workers  int
	tracer   trace.Tracer
	now      func() time.Time
	shuffle  func([]time.Time)
	log      *zap.SugaredLogger
}

// NewService wires a Service. concepts may be nil.
func NewService(pages *PageSource, cache Cache, thumbs *Thumbnailer, concepts *ConceptTagger, opts Options, log *zap.SugaredLogger) *Service {
	s := &Service{
		pages:    pages,
		cache:    cache,
		thumbs:   thumbs,
		concepts: concepts,
		workers:  opts.Workers,
		tracer:   opts.Tracer,
		now:      opts.Now,
		shuffle:  opts.Shuffle,
		log:      log,
	}
	if s.workers < 1 {
		s.workers = 1
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.shuffle == nil {
		s.shuffle = func(days []time.Time) {
			rand.Shuffle(len(days), func(i, j int) { days[i], days[j] = days[j], days[i] })
		}
	}
	return s
}

// Today returns the current day in UTC
func (s *Service) Today() time.Time {
	return truncateDay(s.now())
}

// ForDate returns the entry for date, or the current entry when date is
// empty. The result is cached under the date the entry actually carries.
func (s *Service) ForDate(ctx context.Context, date string, f Flags) (*Entry, error) {
	ctx, span := s.tracer.Start(ctx, "apod.for_date", trace.WithAttributes(attribute.String("apod.date", date)))
	defer span.End()

	var day *time.Time
	key := CacheKey(s.Today(), f)
	if date != "" {
		d, err := ParseDate(date)
		if err != nil {
			return nil, err
		}
		if err := ValidateDate(d, s.Today()); err != nil {
			return nil, err
		}
		day = &d
		key = CacheKey(d, f)
	}

	if e, ok := s.lookup(ctx, key); ok {
		span.SetAttributes(attribute.Bool("apod.cache_hit", true))
		return e, nil
	}

	e, err := s.fetch(ctx, day, f)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrNotFound
	}

	s.store(ctx, e, f)
	return e, nil
}

// Random returns count entries for randomly chosen days
func (s *Service) Random(ctx context.Context, count int, f Flags) ([]*Entry, error) {
	if count > 100 || count <= 0 {
		return nil, badRequest("Count must be positive and cannot exceed 100")
	}

	ctx, span := s.tracer.Start(ctx, "apod.random", trace.WithAttributes(attribute.Int("apod.count", count)))
	defer span.End()

	today := s.Today()
	var days []time.Time
	for d := FirstDate; !d.After(today); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	s.shuffle(days)

	out := make([]*Entry, 0, count)
	for len(days) > 0 && len(out) < count {
		n := count - len(out)
		if n > len(days) {
			n = len(days)
		}
		batch := days[:n]
		days = days[n:]

		entries, err := s.fetchMany(ctx, batch, today, f)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e != nil && len(out) < count {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// Range returns the entries from start to end inclusive. An empty end means
// today. Days without an entry are skipped.
func (s *Service) Range(ctx context.Context, start, end string, f Flags) ([]*Entry, error) {
	today := s.Today()

	startDay, err := ParseDate(start)
	if err != nil {
		return nil, err
	}
	if err := ValidateDate(startDay, today); err != nil {
		return nil, err
	}

	endDay := today
	if end != "" {
		if endDay, err = ParseDate(end); err != nil {
			return nil, err
		}
	}
	if err := ValidateDate(endDay, today); err != nil {
		return nil, err
	}

	if startDay.After(endDay) {
		return nil, badRequest("start_date cannot be after end_date")
	}

	ctx, span := s.tracer.Start(ctx, "apod.range", trace.WithAttributes(
		attribute.String("apod.start_date", startDay.Format(dateLayout)),
		attribute.String("apod.end_date", endDay.Format(dateLayout)),
	))
	defer span.End()

	var days []time.Time
	for d := startDay; !d.After(endDay); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}

	entries, err := s.fetchMany(ctx, days, today, f)
	if err != nil {
		return nil, err
	}

	out := make([]*Entry, 0, len(entries))
	for i, e := range entries {
		// The current page can still show yesterday's entry
		if e != nil && e.Date == days[i].Format(dateLayout) {
			out = append(out, e)
		}
	}
	return out, nil
}

// fetchMany resolves days concurrently, bounded by the worker count. The
// result is aligned with days; missing or failed days are nil.
func (s *Service) fetchMany(ctx context.Context, days []time.Time, today time.Time, f Flags) ([]*Entry, error) {
	results := make([]*Entry, len(days))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, d := range days {
		g.Go(func() error {
			var day *time.Time
			if !d.Equal(today) {
				day = &d
				if e, ok := s.lookup(gctx, CacheKey(d, f)); ok {
					results[i] = e
					return nil
				}
			}

			e, err := s.fetch(gctx, day, f)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.log.Warnw("skipping day", "date", d.Format(dateLayout), "error", err)
				return nil
			}
			if e != nil {
				s.store(gctx, e, f)
			}
			results[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// fetch scrapes and enriches one day. A nil entry with a nil error means no
// data exists.
func (s *Service) fetch(ctx context.Context, day *time.Time, f Flags) (*Entry, error) {
	page, err := s.pages.Fetch(ctx, day)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, nil
	}

	e, err := ParsePage(page, s.pages.BaseURL(), day)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	e.ServiceVersion = ServiceVersion

	if f.Thumbs && e.MediaType == MediaVideo && s.thumbs != nil {
		thumb, err := s.thumbs.Thumbnail(ctx, e.URL)
		if err != nil {
			s.log.Warnw("thumbnail lookup failed", "url", e.URL, "error", err)
		} else {
			e.ThumbnailURL = thumb
		}
	}

	if f.ConceptTags {
		if !s.concepts.Enabled() {
			e.Concepts = conceptsDisabled
		} else {
			concepts, err := s.concepts.Tag(ctx, e.Explanation)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
			}
			e.Concepts = concepts
		}
	}

	return e, nil
}

func (s *Service) lookup(ctx context.Context, key string) (*Entry, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, ok, err := s.cache.GetEntry(ctx, key)
	if err != nil {
		s.log.Warnw("cache read failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		s.log.Warnw("discarding corrupt cache entry", "key", key, "error", err)
		return nil, false
	}
	return &e, true
}

func (s *Service) store(ctx context.Context, e *Entry, f Flags) {
	if s.cache == nil {
		return
	}
	day, err := e.Day()
	if err != nil {
		s.log.Warnw("entry carries an invalid date", "date", e.Date, "error", err)
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		s.log.Warnw("failed to encode entry", "date", e.Date, "error", err)
		return
	}
	if err := s.cache.PutEntry(ctx, CacheKey(day, f), day, data); err != nil {
		s.log.Warnw("cache write failed", "date", e.Date, "error", err)
	}
}

// IsNotFound reports whether err means no entry exists
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
