package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/johann/apod/internal/apod"
	"github.com/johann/apod/internal/config"
	"github.com/johann/apod/internal/httpclient"
	"github.com/johann/apod/internal/nasa"
	"github.com/johann/apod/internal/storage"
	"github.com/johann/apod/internal/tracing"
	"github.com/johann/apod/internal/translate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options tunes a Server beyond what the config file holds
type Options struct {
	// MetricsPort serves /metrics on its own port, disabled when 0
	MetricsPort int
	// Registerer receives the server metrics, prometheus.DefaultRegisterer when nil
	Registerer prometheus.Registerer
	// Web holds templates/home.html and static/
	Web fs.FS
	// Now overrides the clock used to decide what "today" is
	Now func() time.Time
}

// Server is the APOD HTTP service
type Server struct {
	config      *config.ServerConfig
	storage     *storage.Storage
	cache       *storage.Tiered
	apod        *apod.Service
	nasa        *nasa.Proxy
	router      *gin.Engine
	handler     http.Handler
	metricsPort int
	metrics     *Metrics
	registry    prometheus.Gatherer
	authBlocker *AuthBlocker
	limiter     *RequestLimiter
	stopTracing func(context.Context) error
	log         *zap.SugaredLogger
}

// New creates a new server instance
func New(cfg *config.ServerConfig, opts Options, log *zap.SugaredLogger) (*Server, error) {
	store, err := storage.New(cfg, log.Named("storage"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	cache, err := storage.NewTiered(store, cfg.LRUSize)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize memory cache: %w", err)
	}

	conceptsKey, err := cfg.ConceptsKey()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to read concepts key: %w", err)
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer, ok := reg.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	metrics := NewMetrics(reg)

	tracer, stopTracing := tracing.Setup(cfg.TracingEnabled, log.Named("tracing"))

	client := httpclient.New(httpclient.Options{
		Timeout: cfg.UpstreamTimeout(),
		Retries: cfg.UpstreamRetries,
		Logger:  log.Named("http"),
		Wrap:    metrics.instrumentTransport,
	})

	var concepts *apod.ConceptTagger
	if conceptsKey != "" {
		concepts = apod.NewConceptTagger(client, cfg.ConceptsURL, conceptsKey)
	} else {
		log.Infow("no concepts API key found, concept tagging is not supported", "key_file", cfg.ConceptsKeyFile)
	}

	pages := apod.NewPageSource(client, cfg.APODBaseURL, cache, tracer, log.Named("pages"))
	svc := apod.NewService(
		pages,
		instrumentedCache{Cache: cache, lookups: metrics.cacheLookups},
		apod.NewThumbnailer(client, ""),
		concepts,
		apod.Options{Workers: cfg.Workers, Tracer: tracer, Now: opts.Now},
		log.Named("apod"),
	)

	translator := translate.New(translate.Config{
		Enabled:   cfg.TranslateEnabled,
		LibreURL:  cfg.TranslateURL,
		GoogleURL: cfg.GoogleTranslateURL,
	}, client, cache, log.Named("translate"))

	s := &Server{
		config:      cfg,
		storage:     store,
		cache:       cache,
		apod:        svc,
		nasa:        nasa.New(client, cfg.NASAAPIURL, cfg.NASAAPIKey, translator, log.Named("nasa")),
		metricsPort: opts.MetricsPort,
		metrics:     metrics,
		registry:    gatherer,
		authBlocker: NewAuthBlocker(15 * time.Second),
		limiter:     NewRequestLimiter(cfg.RateLimitPerHour),
		stopTracing: stopTracing,
		log:         log,
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	if err := s.router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		s.Close()
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	s.router.TrustedPlatform = trustedPlatform(cfg.TrustedPlatform)
	if err := s.setupRoutes(opts.Web); err != nil {
		s.Close()
		return nil, err
	}
	s.handler = corsHandler()(s.router)

	return s, nil
}

// Handler returns the HTTP handler serving the API
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	// Start metrics server if configured
	if s.metricsPort > 0 {
		go s.runMetricsServer(ctx)
	}

	// Start pruning job
	go s.runPruner(ctx)

	srv := &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.log.Infow("shutting down", "addr", s.config.ListenAddr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Close releases the storage and background workers
func (s *Server) Close() error {
	s.authBlocker.Close()
	s.limiter.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.stopTracing(ctx); err != nil {
		s.log.Warnw("failed to flush traces", "error", err)
	}
	return s.storage.Close()
}

func (s *Server) setupRoutes(web fs.FS) error {
	s.router.Use(requestID(), s.requestLogger(), s.recovery())

	if web != nil {
		tmpl, err := template.ParseFS(web, "templates/*.html")
		if err != nil {
			return fmt.Errorf("failed to parse templates: %w", err)
		}
		s.router.SetHTMLTemplate(tmpl)

		static, err := fs.Sub(web, "static")
		if err != nil {
			return fmt.Errorf("failed to open static assets: %w", err)
		}
		s.router.StaticFS("/static", http.FS(static))
	}
	s.router.GET("/", s.handleHome)

	// apod method, with and without the trailing slash
	limited := s.limiter.middleware(s.rejectRateLimited)
	method := "/" + apod.ServiceVersion + "/" + apod.MethodName
	s.router.GET(method, limited, s.handleAPOD)
	s.router.GET(method+"/", limited, s.handleAPOD)

	s.router.GET("/api/apod", s.handleNASA)
	s.router.GET("/api/health", s.handleHealth)

	// Protected endpoints (auth required)
	protected := s.router.Group("/api/cache")
	protected.Use(s.authMiddleware())
	{
		protected.GET("/stats", s.handleCacheStats)
		protected.DELETE("", s.handlePurgeCache)
	}

	s.router.NoRoute(s.handleNotFound)
	return nil
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := clientIP(c)

		if s.config.Token == "" {
			abort(c, http.StatusServiceUnavailable, "Cache administration is disabled: no token configured.", false)
			return
		}

		// Check if IP is blocked due to previous failed attempts
		if s.authBlocker.IsBlocked(clientIP) {
			logFailedAuth(s.log, clientIP, "ip temporarily blocked", true)
			abort(c, http.StatusTooManyRequests, "Too many failed attempts, try again later.", false)
			return
		}

		token := c.GetHeader("Authorization")
		if token == "" {
			logFailedAuth(s.log, clientIP, "missing authorization header", false)
			s.authBlocker.BlockIP(clientIP)
			abort(c, http.StatusUnauthorized, "Missing authorization header.", false)
			return
		}

		// Check for Bearer prefix
		const prefix = "Bearer "
		if len(token) > len(prefix) && token[:len(prefix)] == prefix {
			token = token[len(prefix):]
		}

		if token != s.config.Token {
			logFailedAuth(s.log, clientIP, "invalid token", false)
			s.authBlocker.BlockIP(clientIP)
			abort(c, http.StatusUnauthorized, "Invalid token.", false)
			return
		}

		c.Next()
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	log := s.log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []any{
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"query", c.Request.URL.RawQuery,
			"ip", clientIP(c),
			"latency", time.Since(start),
			"request_id", c.GetString("request_id"),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Errorw("request", fields...)
			return
		}
		log.Infow("request", fields...)
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		s.log.Errorw("panic while handling request", "path", c.Request.URL.Path, "error", recovered)
		abort(c, http.StatusInternalServerError, fmt.Sprintf("Sorry, unexpected error: %v", recovered), false)
	})
}

// corsHandler allows any origin to call the API and read the rate limit
// headers. Preflight requests are answered before they reach the router.
func corsHandler() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-Request-ID"},
		MaxAge:         3600,
	})
}

func (s *Server) runMetricsServer(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.metricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Errorw("metrics server failed", "error", err)
	}
}

func (s *Server) runPruner(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	// Run once at startup
	s.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.prune(ctx)
		}
	}
}

func (s *Server) prune(ctx context.Context) {
	if s.config.RetentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -s.config.RetentionDays)

	res, err := s.storage.Prune(ctx, cutoff)
	if err != nil {
		s.log.Errorw("pruning failed", "error", err)
		return
	}
	if res.Entries+res.Translations+res.Pages > 0 {
		s.log.Infow("pruned cache", "entries", res.Entries, "translations", res.Translations, "pages", res.Pages)
	}

	if st, err := s.storage.Stats(ctx); err == nil {
		s.metrics.setStats(st)
	}
}
