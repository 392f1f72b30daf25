// Package server assembles the HTTP surface of txflow: transaction query
// endpoints with ETag revalidation, nonce issuance, the live subscription
// route, health and diagnostic routes, and the perimeter pipeline of
// request-id, logging, security headers, CORS, firewall, rate limiting,
// and wallet authentication which fronts them all.
package server

import (
	"context"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"

	"github.com/solfeed/txflow/cache"
	"github.com/solfeed/txflow/config"
	"github.com/solfeed/txflow/ingest"
	"github.com/solfeed/txflow/kv"
	"github.com/solfeed/txflow/store"
	"github.com/solfeed/txflow/waf"
)

// Deps are the capability handles the server serves from. A nil Store, KV,
// Broker, or WS disables the corresponding surface or readiness probe.
type Deps struct {
	Store  store.Store
	KV     kv.Store
	Cache  cache.Cache
	Stats  *ingest.Stats
	Scorer *waf.Scorer
	WS     http.Handler
	Broker Pinger
}

// Server is the HTTP front of the service.
type Server struct {
	cfg     config.All
	name    string
	version string

	store   store.Store
	kv      kv.Store
	cache   cache.Cache
	stats   *ingest.Stats
	scorer  *waf.Scorer
	ws      http.Handler
	broker  Pinger
	limiter *RateLimiter
	gate    *WalletAuth
}

// New returns a Server over |cfg| and |deps|. |name| and |version| are
// reported by the version route.
func New(cfg config.All, deps Deps, name, version string) *Server {
	var s = &Server{
		cfg:     cfg,
		name:    name,
		version: version,
		store:   deps.Store,
		kv:      deps.KV,
		cache:   deps.Cache,
		stats:   deps.Stats,
		scorer:  deps.Scorer,
		ws:      deps.WS,
		broker:  deps.Broker,
		limiter: NewRateLimiter(cfg.RateLimit, cfg.Auth.WalletHeader),
		gate:    NewWalletAuth(cfg.Auth, deps.KV),
	}
	if s.cache == nil {
		s.cache = cache.Disabled{}
	}
	return s
}

// Routes builds the route table.
func (s *Server) Routes() *mux.Router {
	var router = mux.NewRouter()

	router.Path("/healthz").Methods("GET").HandlerFunc(s.healthz)
	router.Path("/readyz").Methods("GET").HandlerFunc(s.readyz)
	router.Path("/version").Methods("GET").HandlerFunc(s.versionInfo)
	router.Path("/metrics").Methods("GET").Handler(promhttp.Handler())

	router.Path("/api/auth/nonce").Methods("POST").HandlerFunc(s.issueNonce)
	router.Path("/api/transactions").Methods("GET").HandlerFunc(s.listTransactions)
	router.Path("/api/transactions/{signature}").Methods("GET").HandlerFunc(s.getTransaction)
	router.Path("/api/admin/ingest/stats").Methods("GET").HandlerFunc(s.ingestStats)

	if s.scorer != nil {
		router.Path(s.cfg.WAF.DebugRoutePath).Methods("GET").HandlerFunc(s.wafDebug)
	}
	if s.ws != nil && s.cfg.WS.Enabled {
		router.Path(s.cfg.WS.Path).Methods("GET").Handler(s.ws)
	}
	return router
}

// Handler wraps the route table in the perimeter pipeline. Ordering
// matters: the client address must be resolved before the firewall and
// rate limiter consult it, and request ids before anything logs.
func (s *Server) Handler() http.Handler {
	var mw = []middleware{
		requestID(s.cfg.HTTP.RequestIDHeader),
		realIP(s.cfg.RateLimit.RespectXForwardedFor),
		requestLog,
		securityHeaders(s.cfg.Security),
		cors(s.cfg.CORS),
	}
	if s.scorer != nil {
		mw = append(mw, s.scorer.Middleware(ClientIPFromRequest))
	}
	mw = append(mw,
		s.limiter.Middleware,
		s.gate.Middleware,
		bodyLimit(s.cfg.Server.RequestBodyLimitBytes),
	)
	return chain(s.Routes(), mw...)
}

// Run serves HTTP until |ctx| is cancelled, then drains in-flight requests
// within the configured grace period.
func (s *Server) Run(ctx context.Context) error {
	var listener, err = net.Listen("tcp", s.cfg.Server.Addr())
	if err != nil {
		return err
	}
	if s.cfg.Server.Workers > 0 {
		listener = netutil.LimitListener(listener, s.cfg.Server.Workers)
	}
	log.WithFields(log.Fields{
		"addr":    listener.Addr().String(),
		"workers": s.cfg.Server.Workers,
	}).Info("http server listening")

	var srv = &http.Server{Handler: s.Handler()}
	var served = make(chan error, 1)
	go func() { served <- srv.Serve(listener) }()

	select {
	case err = <-served:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.GracefulShutdown())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithField("err", err).Warn("graceful shutdown expired; closing")
		_ = srv.Close()
	}
	if err = <-served; err != http.ErrServerClosed {
		return err
	}
	log.Info("http server stopped")
	return nil
}
