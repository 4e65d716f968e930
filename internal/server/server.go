package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"csv-file-drop/internal/auth"
	"csv-file-drop/internal/config"
	"csv-file-drop/internal/files"
	"csv-file-drop/internal/users"
)

type Config struct {
	Addr           string // e.g. ":8080"
	Version        string
	MaxUploadBytes int64
	Login          config.LoginConfig

	Users *users.Service
	Files *files.Service
	Codec *auth.TokenCodec
	Log   *zap.Logger

	// Components are probed by /health, keyed by the name reported.
	Components map[string]Pinger
}

type Server struct {
	httpServer *http.Server

	users   *users.Service
	files   *files.Service
	codec   *auth.TokenCodec
	log     *zap.Logger
	metrics *Metrics

	limiter    *rateLimiter
	lockout    *accountLockout
	components map[string]Pinger

	version        string
	maxUploadBytes int64

	sweepCtx   context.Context
	stopSweeps context.CancelFunc
}

func New(cfg Config) *Server {
	s := &Server{
		users:          cfg.Users,
		files:          cfg.Files,
		codec:          cfg.Codec,
		log:            cfg.Log,
		metrics:        NewMetrics(cfg.Version),
		limiter:        newRateLimiter(cfg.Login.RateLimit, cfg.Login.RateWindow, cfg.Login.TrustProxyHeaders),
		lockout:        newAccountLockout(cfg.Login.MaxAttempts, cfg.Login.LockoutDuration, cfg.Login.LockoutWindow),
		components:     cfg.Components,
		version:        cfg.Version,
		maxUploadBytes: cfg.MaxUploadBytes,
	}
	s.sweepCtx, s.stopSweeps = context.WithCancel(context.Background())

	mux := http.NewServeMux()

	mux.Handle("POST /token/{$}", s.limiter.middleware(http.HandlerFunc(s.handleToken)))

	mux.Handle("GET /users/{$}", s.requireAuth(handleListUsers))
	mux.Handle("POST /users/{$}", s.requireAuth(handleCreateUser))
	mux.Handle("GET /users/{username}", s.requireAuth(handleGetUser))
	mux.Handle("PUT /users/{username}", s.requireAuth(handleUpdateUser))
	mux.Handle("DELETE /users/{username}", s.requireAuth(handleDeleteUser))

	mux.Handle("POST /uploadfiles/{$}", s.requireAuth(s.handleUpload))
	mux.Handle("GET /uploadfiles/{$}", s.requireAuth(handleListFiles))
	mux.Handle("GET /uploadfiles/{filename}", s.requireAuth(handleReadFile))
	mux.Handle("DELETE /uploadfiles/{filename}", s.requireAuth(handleDeleteFile))

	mux.HandleFunc("GET /health", s.HandleHealth)
	mux.HandleFunc("GET /health/live", s.HandleLive)
	mux.Handle("GET /metrics", s.metrics.Handler())

	// Wrap middleware: requestID -> logging -> security headers -> gzip -> mux
	var handler http.Handler = mux
	handler = compressionMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = loggingMiddleware(s.log, s.metrics, cfg.Login.TrustProxyHeaders, handler)
	handler = requestIDMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the full middleware chain, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}

	go s.limiter.run(s.sweepCtx)
	go s.lockout.run(s.sweepCtx)

	s.log.Info("listening", zap.String("addr", ln.Addr().String()), zap.String("version", s.version))
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.stopSweeps()
	return s.httpServer.Shutdown(ctx)
}
