package apod

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

func imagePage(day time.Time, title string) string {
	return fmt.Sprintf(`<html>
<head><title> APOD: %[1]s - %[2]s
</title></head>
<body>
<center>
<h1> Astronomy Picture of the Day </h1>
<p>
<a href="archivepix.html">Discover the cosmos!</a>
<p>
%[1]s
<br>
<a href="image/%[3]s/%[2]s_big.jpg">
<IMG SRC="image/%[3]s/%[2]s_small.jpg" alt="%[2]s">
</a>
</center>

<center>
<b> %[2]s </b> <br>
<b> Image Credit &amp;
<a href="lib/about_apod.html#srapply">Copyright</a>: </b>
<a href="https://example.org/">Jane   Observer</a>
</center> <p>

<b> Explanation: </b>
The <a href="ap%[4]s.html">%[2]s</a> glows in
this deep image.   It lies 1,500 light-years away.
<p> <center>
<b> Tomorrow's picture: </b>dark matter
</center>
</body>
</html>`, day.Format("2006 January 2"), title, day.Format("0601"), day.Format("060102"))
}

func videoPage(day time.Time, src string) string {
	return fmt.Sprintf(`<html>
<head><title>APOD: %[1]s - Solar Eclipse</title></head>
<body>
<center>
<h1> Astronomy Picture of the Day </h1>
<p>
%[1]s
<br>
<iframe width="960" height="540" src="%[2]s" frameborder="0" allowfullscreen></iframe>
</center>
<center>
<b> Solar Eclipse </b> <br>
<b> Video Credit: </b> NASA
</center> <p>
<b> Explanation: </b> The Moon passes in front of the Sun.
<p> <center><b> Tomorrow's picture: </b>open space</center>
</body>
</html>`, day.Format("2006 January 2"), src)
}

// earlyPage mimics 1995 entries, which put the credit in the first center
// and have no bold title.
func earlyPage() string {
	return `<html>
<head><title>APOD: June 20, 1995 - Neutron Star Earth</title></head>
<body>
<center><h1>Astronomy Picture of the Day</h1>
<a href="image/9506/ns_earth.gif"><IMG SRC="image/9506/ns_earth.gif"></a>
</center>
<center>Picture credit: Dr. Corvin</center>
<center>Tomorrow's picture: more</center>
<p>
Explanation: What if Earth were a neutron star? Tomorrow's picture: more
</body>
</html>`
}

// apodSite serves generated APOD pages. Days in missing return 404.
type apodSite struct {
	srv     *httptest.Server
	today   time.Time
	missing map[string]bool
	// current overrides the day shown on astropix.html
	current *time.Time
	hits    int32
	paths   sync.Map
	video   bool
}

func newAPODSite(t *testing.T, today time.Time) *apodSite {
	t.Helper()
	s := &apodSite{today: today, missing: map[string]bool{}}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *apodSite) base() string { return s.srv.URL + "/apod/" }

func (s *apodSite) serve(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&s.hits, 1)
	name := strings.TrimPrefix(r.URL.Path, "/apod/")
	n, _ := s.paths.LoadOrStore(name, new(int32))
	atomic.AddInt32(n.(*int32), 1)

	var day time.Time
	switch {
	case name == "astropix.html":
		day = s.today
		if s.current != nil {
			day = *s.current
		}
	case strings.HasPrefix(name, "ap") && strings.HasSuffix(name, ".html"):
		d, err := time.Parse("060102", strings.TrimSuffix(strings.TrimPrefix(name, "ap"), ".html"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		day = d
	default:
		http.NotFound(w, r)
		return
	}

	if s.missing[day.Format(dateLayout)] {
		http.NotFound(w, r)
		return
	}
	if s.video {
		fmt.Fprint(w, videoPage(day, "https://www.youtube.com/embed/dQw4w9WgXcQ?rel=0"))
		return
	}
	fmt.Fprint(w, imagePage(day, "Nebula "+day.Format("0102")))
}

func (s *apodSite) pathHits(name string) int32 {
	n, ok := s.paths.Load(name)
	if !ok {
		return 0
	}
	return atomic.LoadInt32(n.(*int32))
}

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	pages   map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{entries: map[string][]byte{}, pages: map[string][]byte{}}
}

func (m *memCache) GetEntry(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.entries[key]
	return data, ok, nil
}

func (m *memCache) PutEntry(_ context.Context, key string, _ time.Time, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = data
	return nil
}

func (m *memCache) GetPage(_ context.Context, day string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.pages[day]
	return data, ok, nil
}

func (m *memCache) SavePage(_ context.Context, day string, page []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[day] = page
	return nil
}

func newTestService(t *testing.T, site *apodSite, cache *memCache, opts Options) *Service {
	t.Helper()
	log := zap.NewNop().Sugar()
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("test")
		opts.Tracer = tracer
	}
	if opts.Now == nil {
		today := site.today
		opts.Now = func() time.Time { return today.Add(10 * time.Hour) }
	}
	var archive Archive
	if cache != nil {
		archive = cache
	}
	pages := NewPageSource(http.DefaultClient, site.base(), archive, tracer, log)
	var c Cache
	if cache != nil {
		c = cache
	}
	return NewService(pages, c, NewThumbnailer(http.DefaultClient, ""), nil, opts, log)
}
