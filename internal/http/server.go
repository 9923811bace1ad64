package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"incomes/internal/auth"
	"incomes/internal/backup"
	"incomes/internal/core"
	"incomes/internal/log"
	"incomes/internal/middleware/ratelimit"
	"incomes/internal/middleware/security"
	"incomes/internal/middleware/trace"
	"incomes/internal/services"
)

// BackupService is the administrative view of the backup job.
type BackupService interface {
	Run(ctx context.Context) backup.Outcome
	List() ([]backup.FileInfo, error)
	Records(ctx context.Context, limit int) ([]core.BackupRecord, error)
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Dependencies struct {
	Auth   *auth.Service
	Income *services.IncomeService
	Import *services.ImportService
	Backup BackupService
	DB     Pinger
}

type Options struct {
	CORSOrigins        []string
	TrustedProxies     []string // CIDRs added to the loopback and private ranges
	RateLimitPerMinute int // 0 disables limiting
	MaxImportSizeBytes int64
}

type Server struct {
	http.Server
	deps     Dependencies
	opts     Options
	logger   *log.Logger
	limiter  *ratelimit.Limiter
	detector *security.Detector

	shutdownOnce sync.Once
}

// NewServer wires the routes and middleware into a ready-to-run http.Server.
func NewServer(addr string, deps Dependencies, opts Options, logger *log.Logger) *Server {
	if opts.MaxImportSizeBytes <= 0 {
		opts.MaxImportSizeBytes = 10 << 20
	}
	s := &Server{
		deps:     deps,
		opts:     opts,
		logger:   logger.WithComponent(log.ComponentHTTP),
		detector: security.NewDetector(),
	}
	for _, cidr := range opts.TrustedProxies {
		if err := s.detector.AddTrustedProxy(cidr); err != nil {
			s.logger.Warn("Ignoring trusted proxy", log.FieldError, err)
		}
	}
	if opts.RateLimitPerMinute > 0 {
		s.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute})
	}
	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(trace.NewMiddleware(s.logger, s.detector.ExtractClientIP).Handler)
	r.Use(chimw.Recoverer)
	r.Use(security.Headers(security.DefaultHeadersConfig()))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", trace.HeaderRequestID},
		ExposedHeaders:   []string{"Content-Disposition", trace.HeaderRequestID},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(s.flagSuspicious)
	r.Use(s.limitWrites)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", s.handleLogin)
			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Get("/me", s.handleMe)
				r.Post("/change-password", s.handleChangePassword)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Route("/income/sources", func(r chi.Router) {
				r.Get("/", s.handleListSources)
				r.Post("/", s.handleCreateSource)
				r.Put("/{id}", s.handleUpdateSource)
				r.Delete("/{id}", s.handleDeleteSource)
			})

			r.Route("/income/records", func(r chi.Router) {
				r.Get("/", s.handleListRecords)
				r.Post("/", s.handleCreateRecord)
				r.Get("/export", s.handleExport)
				r.Post("/import", s.handleImport)
				r.Get("/stats/yearly-trend", s.handleYearlyTrend)
				r.Get("/stats/monthly-breakdown", s.handleMonthlyBreakdown)
				r.Get("/stats/annual-totals", s.handleAnnualTotals)
				r.Put("/{id}", s.handleUpdateRecord)
				r.Delete("/{id}", s.handleDeleteRecord)
			})

			r.Route("/backup", func(r chi.Router) {
				r.Use(requireAdmin)
				r.Post("/trigger", s.handleTriggerBackup)
				r.Get("/list", s.handleListBackups)
				r.Get("/logs", s.handleBackupLogs)
			})
		})
	})

	return r
}

// flagSuspicious logs probing requests; they are still served normally.
func (s *Server) flagSuspicious(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.detector.DetectSuspiciousRequest(r) {
			log.FromContext(r.Context()).WithComponent(log.ComponentSecurity).WarnContext(r.Context(), "Suspicious request",
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldClientIP, s.detector.ExtractClientIP(r),
				log.FieldUserAgent, r.UserAgent(),
				"flagged_total", s.detector.SuspiciousRequests())
		}
		next.ServeHTTP(w, r)
	})
}

// limitWrites rate-limits state-changing requests per client IP.
func (s *Server) limitWrites(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	limited := s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).WithComponent(log.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, s.detector.ExtractClientIP(r),
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			"rejected_total", s.limiter.Rejected(),
			"tracked_clients", s.limiter.ActiveClients())
		writeDetail(w, http.StatusTooManyRequests, "请求过于频繁，请稍后再试")
	})(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
		default:
			limited.ServeHTTP(w, r)
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			s.logger.ErrorContext(r.Context(), "Health check failed", log.FieldError, err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Shutdown stops background helpers and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		if s.limiter != nil {
			s.limiter.Stop()
		}
		err = s.Server.Shutdown(ctx)
	})
	return err
}
