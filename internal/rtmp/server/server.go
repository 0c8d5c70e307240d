package server

// RTMP handshake server
// ---------------------
// TCP listener + connection manager around the conn package:
//   * Listen on configured address (default :1935)
//   * Accept loop spawning a goroutine per connection that runs the handshake
//   * Handshake outcomes exported as Prometheus metrics and hook events
//   * Established connections handed to a Handler (default: drain)
//   * Graceful shutdown: stop accepting, abort handshakes, close all
//     connections, wait

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/alxayo/go-rtmp-handshake/internal/bufpool"
	rerrors "github.com/alxayo/go-rtmp-handshake/internal/errors"
	"github.com/alxayo/go-rtmp-handshake/internal/logger"
	"github.com/alxayo/go-rtmp-handshake/internal/metrics"
	iconn "github.com/alxayo/go-rtmp-handshake/internal/rtmp/conn"
	"github.com/alxayo/go-rtmp-handshake/internal/rtmp/server/hooks"
)

// Config holds server configuration knobs.
type Config struct {
	ListenAddr       string
	MetricsAddr      string        // empty disables the /metrics endpoint
	HandshakeTimeout time.Duration // per blocking read/write while handshaking
	Hooks            hooks.Config
	Webhooks         []string // URLs receiving every event as JSON
}

// applyDefaults fills zero values with sensible defaults.
func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":1935"
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	def := hooks.DefaultConfig()
	if c.Hooks.Timeout <= 0 {
		c.Hooks.Timeout = def.Timeout
	}
	if c.Hooks.Concurrency <= 0 {
		c.Hooks.Concurrency = def.Concurrency
	}
}

// Handler takes over a connection once the handshake completed. It owns the
// connection until it returns; the server closes it afterwards.
type Handler func(ctx context.Context, c *iconn.Connection)

// DrainHandler discards everything the peer sends until it disconnects or
// the server stops.
func DrainHandler(ctx context.Context, c *iconn.Connection) {
	n, err := io.Copy(io.Discard, c.Reader())
	if err != nil && !errors.Is(err, net.ErrClosed) {
		c.Logger().Debug("drain ended", "bytes", n, "error", err)
		return
	}
	c.Logger().Debug("drain ended", "bytes", n)
}

// Server encapsulates listener + active connection tracking.
type Server struct {
	cfg     Config
	log     *slog.Logger
	pool    *bufpool.Pool
	reg     *prometheus.Registry
	obs     *metrics.Observer
	handler Handler

	mu         sync.RWMutex
	l          net.Listener
	metricsLn  net.Listener
	metricsSrv *http.Server
	hooks      *hooks.Manager
	group      *errgroup.Group
	ctx        context.Context
	cancel     context.CancelFunc
	conns      map[net.Conn]*iconn.Connection // nil value while handshaking
	connWg     sync.WaitGroup
	closing    bool
}

// New creates a new, unstarted Server instance.
func New(cfg Config) *Server {
	cfg.applyDefaults()
	reg := metrics.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pool := bufpool.Default()
	metrics.RegisterPoolGauge(reg, pool.Outstanding)
	return &Server{
		cfg:     cfg,
		log:     logger.Logger().With("component", "rtmp_server"),
		pool:    pool,
		reg:     reg,
		obs:     metrics.NewObserver(reg),
		handler: DrainHandler,
		conns:   make(map[net.Conn]*iconn.Connection),
	}
}

// SetHandler replaces the post-handshake handler. MUST be called before Start.
func (s *Server) SetHandler(h Handler) {
	if h != nil {
		s.handler = h
	}
}

// Registry exposes the Prometheus registry backing /metrics.
func (s *Server) Registry() *prometheus.Registry { return s.reg }

// Start begins listening and launches the accept loop (and the metrics
// endpoint when configured). It's safe to call only once; repeated calls
// return an error.
func (s *Server) Start() error {
	if s == nil {
		return errors.New("nil server")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.l != nil || s.closing {
		return errors.New("server already started")
	}

	hm, err := s.buildHooks()
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		_ = hm.Close()
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	var mln net.Listener
	if s.cfg.MetricsAddr != "" {
		mln, err = net.Listen("tcp", s.cfg.MetricsAddr)
		if err != nil {
			_ = ln.Close()
			_ = hm.Close()
			return fmt.Errorf("listen metrics %s: %w", s.cfg.MetricsAddr, err)
		}
	}

	s.l = ln
	s.hooks = hm
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.group = &errgroup.Group{}
	s.group.Go(func() error { return s.acceptLoop(ln) })

	if mln != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(s.reg))
		s.metricsLn = mln
		s.metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		srv := s.metricsSrv
		s.group.Go(func() error {
			if err := srv.Serve(mln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		s.log.Info("Metrics endpoint listening", "addr", mln.Addr().String())
	}

	s.log.Info("RTMP server listening", "addr", ln.Addr().String())
	return nil
}

func (s *Server) buildHooks() (*hooks.Manager, error) {
	hm, err := hooks.NewManager(s.cfg.Hooks, s.log.With("component", "hooks"))
	if err != nil {
		return nil, fmt.Errorf("hooks: %w", err)
	}
	events := []hooks.EventType{
		hooks.EventConnectionAccept,
		hooks.EventHandshakeComplete,
		hooks.EventHandshakeFailed,
		hooks.EventConnectionClose,
	}
	for i, url := range s.cfg.Webhooks {
		hook := hooks.NewWebhookHook(fmt.Sprintf("webhook-%d", i), url, s.cfg.Hooks.Timeout)
		for _, ev := range events {
			if err := hm.RegisterHook(ev, hook); err != nil {
				_ = hm.Close()
				return nil, fmt.Errorf("hooks: %w", err)
			}
		}
	}
	return hm, nil
}

// acceptLoop runs until listener close.
func (s *Server) acceptLoop(l net.Listener) error {
	for {
		raw, err := l.Accept()
		if err != nil {
			s.mu.RLock()
			closing := s.closing
			s.mu.RUnlock()
			if closing || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.log.Warn("accept error", "error", err)
			return fmt.Errorf("accept: %w", err)
		}
		if !s.track(raw) {
			_ = raw.Close()
			return nil
		}
		go s.serveConn(raw)
	}
}

// track registers a socket and reserves a slot in connWg. Returns false once
// the server is closing.
func (s *Server) track(raw net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[raw] = nil
	s.connWg.Add(1)
	return true
}

func (s *Server) untrack(raw net.Conn) {
	s.mu.Lock()
	delete(s.conns, raw)
	s.mu.Unlock()
	s.connWg.Done()
}

func (s *Server) serveConn(raw net.Conn) {
	defer s.untrack(raw)
	ctx := s.ctx
	peer := raw.RemoteAddr().String()
	s.hooks.TriggerEvent(ctx, *hooks.NewEvent(hooks.EventConnectionAccept).WithPeerAddr(peer))

	s.obs.HandshakeStarted()
	start := time.Now()
	c, err := iconn.Establish(ctx, raw, iconn.Options{
		ReadTimeout:  s.cfg.HandshakeTimeout,
		WriteTimeout: s.cfg.HandshakeTimeout,
		Pool:         s.pool,
		Logger:       s.log,
	})
	s.obs.HandshakeFinished(time.Since(start), err)
	if err != nil {
		s.hooks.TriggerEvent(ctx, *hooks.NewEvent(hooks.EventHandshakeFailed).
			WithPeerAddr(peer).
			WithData("reason", rerrors.Reason(err)).
			WithData("error", err.Error()))
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = c.Close()
		return
	}
	s.conns[raw] = c
	s.mu.Unlock()

	s.obs.ConnectionOpened()
	s.hooks.TriggerEvent(ctx, *hooks.NewEvent(hooks.EventHandshakeComplete).
		WithConnID(c.ID()).
		WithPeerAddr(peer).
		WithData("handshake_ms", c.HandshakeDuration().Milliseconds()))

	s.handler(ctx, c)

	_ = c.Close()
	s.obs.ConnectionClosed()
	s.hooks.TriggerEvent(ctx, *hooks.NewEvent(hooks.EventConnectionClose).
		WithConnID(c.ID()).
		WithPeerAddr(peer).
		WithData("duration_ms", time.Since(c.AcceptedAt()).Milliseconds()))
	c.Logger().Info("Connection closed")
}

// Stop gracefully shuts down the server: stops accepting new connections,
// aborts in-flight handshakes, closes all active connections and waits for
// every goroutine to finish.
func (s *Server) Stop() error {
	if s == nil {
		return errors.New("nil server")
	}
	s.mu.Lock()
	if s.l == nil || s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	l := s.l
	msrv := s.metricsSrv
	s.cancel()
	for raw := range s.conns {
		_ = raw.Close()
	}
	s.mu.Unlock()

	_ = l.Close()
	if msrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := msrv.Shutdown(ctx); err != nil {
			s.log.Warn("metrics shutdown", "error", err)
		}
	}
	s.connWg.Wait()
	err := s.group.Wait()
	_ = s.hooks.Close()
	s.log.Info("RTMP server stopped")
	return err
}

// Addr returns the bound listener address (nil if not started).
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.l == nil {
		return nil
	}
	return s.l.Addr()
}

// MetricsAddr returns the bound metrics address (nil if disabled or not started).
func (s *Server) MetricsAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.metricsLn == nil {
		return nil
	}
	return s.metricsLn.Addr()
}

// ConnectionCount returns the number of connections that completed the
// handshake and are still open.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.conns {
		if c != nil {
			n++
		}
	}
	return n
}
