package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/johann/apod/internal/apod"
	"github.com/johann/apod/internal/nasa"
	"github.com/johann/apod/internal/storage"
)

// errorBody is the JSON shape of every error response
type errorBody struct {
	ServiceVersion string `json:"service_version"`
	Msg            string `json:"msg"`
	Code           int    `json:"code"`
}

// CacheStats is returned by GET /api/cache/stats
type CacheStats struct {
	storage.Stats
	MemoryEntries int `json:"memory_entries"`
}

// abort writes an error body. With usage set the allowed-field sentence is
// appended to msg.
func abort(c *gin.Context, code int, msg string, usage bool) {
	if usage {
		msg += " " + apod.Usage("'") + "'"
	}
	c.AbortWithStatusJSON(code, errorBody{
		ServiceVersion: apod.ServiceVersion,
		Msg:            msg,
		Code:           code,
	})
}

// abortAPOD maps a lookup error to its response. date is echoed back in the
// not found message.
func (s *Server) abortAPOD(c *gin.Context, err error, date string) {
	var reqErr *apod.RequestError
	switch {
	case errors.As(err, &reqErr):
		abort(c, http.StatusBadRequest, reqErr.Msg, reqErr.Usage)
	case apod.IsNotFound(err):
		if date == "" {
			date = "today"
		}
		abort(c, http.StatusNotFound, "No data available for date: "+date, false)
	default:
		s.log.Errorw("Internal Service Error", "error", err)
		abort(c, http.StatusInternalServerError, "Internal Service Error", false)
	}
}

func (s *Server) handleHome(c *gin.Context) {
	data := gin.H{
		"version":     apod.ServiceVersion,
		"service_url": c.Request.Host,
		"methodname":  apod.MethodName,
		"usage":       apod.Usage(`"`) + `"`,
	}
	if s.router.HTMLRender == nil {
		c.JSON(http.StatusOK, data)
		return
	}
	c.HTML(http.StatusOK, "home.html", data)
}

func (s *Server) handleAPOD(c *gin.Context) {
	start := time.Now()
	mode := "invalid"
	defer func() {
		s.metrics.observe(mode, c.Writer.Status(), start)
	}()

	if err := apod.ValidateFields(c.Request.URL.Query()); err != nil {
		s.abortAPOD(c, err, "")
		return
	}

	var req apod.Request
	if err := c.ShouldBindQuery(&req); err != nil {
		abort(c, http.StatusBadRequest, "Bad Request: incorrect field passed.", true)
		return
	}

	flags, err := req.Flags()
	if err != nil {
		s.abortAPOD(c, err, "")
		return
	}

	m, err := req.Mode()
	if err != nil {
		s.abortAPOD(c, err, "")
		return
	}
	mode = m.String()

	ctx := c.Request.Context()
	switch m {
	case apod.ModeDate:
		entry, err := s.apod.ForDate(ctx, req.Date, flags)
		if err != nil {
			s.abortAPOD(c, err, req.Date)
			return
		}
		c.JSON(http.StatusOK, entry)

	case apod.ModeRandom:
		count, err := apod.ParseCount(req.Count)
		if err != nil {
			s.abortAPOD(c, err, "")
			return
		}
		entries, err := s.apod.Random(ctx, count, flags)
		if err != nil {
			s.abortAPOD(c, err, "")
			return
		}
		c.JSON(http.StatusOK, entries)

	case apod.ModeRange:
		entries, err := s.apod.Range(ctx, req.StartDate, req.EndDate, flags)
		if err != nil {
			s.abortAPOD(c, err, "")
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

func (s *Server) handleNASA(c *gin.Context) {
	resp, err := s.nasa.Get(c.Request.Context(), c.Query("date"), c.Query("thumbs"))
	switch {
	case errors.Is(err, nasa.ErrMissingKey):
		s.log.Error("NASA_API_KEY is not configured")
		abort(c, http.StatusInternalServerError, "Server misconfiguration: NASA_API_KEY is missing.", false)
		return
	case err != nil:
		abort(c, http.StatusBadGateway, "Upstream NASA API request failed.", false)
		return
	}

	if resp.RateLimit != "" {
		c.Header("X-RateLimit-Limit", resp.RateLimit)
	}
	if resp.RateRemaining != "" {
		c.Header("X-RateLimit-Remaining", resp.RateRemaining)
		if n, err := strconv.Atoi(resp.RateRemaining); err == nil {
			s.metrics.nasaRateRemaining.Set(float64(n))
		}
	}

	c.JSON(resp.Status, resp.Payload)
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.storage.Ping(c.Request.Context()); err != nil {
		s.log.Errorw("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service_version": apod.ServiceVersion})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service_version": apod.ServiceVersion})
}

func (s *Server) handleCacheStats(c *gin.Context) {
	st, err := s.storage.Stats(c.Request.Context())
	if err != nil {
		s.log.Errorw("failed to read cache stats", "error", err)
		abort(c, http.StatusInternalServerError, "Internal Service Error", false)
		return
	}
	s.metrics.setStats(st)

	c.JSON(http.StatusOK, CacheStats{Stats: st, MemoryEntries: s.cache.Len()})
}

func (s *Server) handlePurgeCache(c *gin.Context) {
	pages, _ := apod.ParseBool(c.Query("pages"))

	if err := s.cache.Purge(c.Request.Context(), pages); err != nil {
		s.log.Errorw("failed to purge cache", "error", err)
		abort(c, http.StatusInternalServerError, "Internal Service Error", false)
		return
	}
	s.log.Infow("cache purged", "pages", pages, "ip", clientIP(c))

	c.JSON(http.StatusOK, gin.H{"status": "purged", "pages": pages})
}

func (s *Server) handleNotFound(c *gin.Context) {
	s.log.Infow("invalid page request", "path", c.Request.URL.Path)
	abort(c, http.StatusNotFound, "Sorry, Nothing at this URL.", true)
}

func (s *Server) rejectRateLimited(c *gin.Context) {
	s.metrics.rateLimited.Inc()
	abort(c, http.StatusTooManyRequests, "Rate limit exceeded, try again later.", false)
}
