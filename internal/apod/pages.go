package apod

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// maxPageSize bounds a scraped page
const maxPageSize = 4 << 20

// Archive stores raw pages of past days. Archived pages never change.
type Archive interface {
	GetPage(ctx context.Context, day string) ([]byte, bool, error)
	SavePage(ctx context.Context, day string, page []byte) error
}

// PageSource fetches APOD HTML pages, preferring the archive for past days
type PageSource struct {
	client  *http.Client
	baseURL string
	archive Archive
	tracer  trace.Tracer
	log     *zap.SugaredLogger
}

// NewPageSource creates a page source rooted at baseURL. archive may be nil.
func NewPageSource(client *http.Client, baseURL string, archive Archive, tracer trace.Tracer, log *zap.SugaredLogger) *PageSource {
	return &PageSource{
		client:  client,
		baseURL: baseURL,
		archive: archive,
		tracer:  tracer,
		log:     log,
	}
}

// BaseURL returns the root relative links are resolved against
func (p *PageSource) BaseURL() string {
	return p.baseURL
}

// URL returns the page address for day, or the current page when day is nil
func (p *PageSource) URL(day *time.Time) string {
	if day == nil {
		return p.baseURL + "astropix.html"
	}
	return p.baseURL + "ap" + day.Format("060102") + ".html"
}

// Fetch returns the page for day. A nil page with a nil error means APOD
// published nothing for that day.
func (p *PageSource) Fetch(ctx context.Context, day *time.Time) ([]byte, error) {
	label := "today"
	if day != nil {
		label = day.Format(dateLayout)
	}

	ctx, span := p.tracer.Start(ctx, "apod.fetch_page", trace.WithAttributes(attribute.String("apod.date", label)))
	defer span.End()

	if day != nil && p.archive != nil {
		page, ok, err := p.archive.GetPage(ctx, label)
		if err != nil {
			p.log.Warnw("page archive read failed", "date", label, "error", err)
		} else if ok {
			span.SetAttributes(attribute.Bool("apod.archived", true))
			return page, nil
		}
	}

	page, err := p.download(ctx, p.URL(day))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if page == nil {
		span.SetAttributes(attribute.Bool("apod.missing", true))
		return nil, nil
	}

	if day != nil && p.archive != nil {
		if err := p.archive.SavePage(ctx, label, page); err != nil {
			p.log.Warnw("page archive write failed", "date", label, "error", err)
		}
	}
	return page, nil
}

func (p *PageSource) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrUpstream, url, resp.StatusCode)
	}

	page, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return page, nil
}
