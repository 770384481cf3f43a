package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"playerhub/internal/domain"
	"playerhub/internal/metrics"
	"playerhub/internal/services/cache/loader"
	"playerhub/internal/services/session/player"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// StreamProxy is the part of the interception proxy the HTTP surface uses.
type StreamProxy interface {
	OnRequest(markedURL string, r *loader.Request) error
	OnCancel(markedURL string, r *loader.Request)
	ContentInfo(ctx context.Context, markedURL string) (domain.ContentInfo, error)
	TeardownSource(source string) bool
	Sources(ctx context.Context) ([]loader.Stats, error)
}

type PlayerController interface {
	Play() error
	Pause() error
	Seek(seconds float64) error
	Replace(url, next string) error
	Stop() error
	Signal(s player.Signal) error
	Lifecycle(e domain.LifecycleEvent) error
	Snapshot(ctx context.Context) (player.Snapshot, error)
}

type WatchHistoryStore interface {
	Get(ctx context.Context, source string) (domain.WatchPosition, error)
	ListRecent(ctx context.Context, limit int) ([]domain.WatchPosition, error)
}

const (
	defaultRateLimitRPS   = 100
	defaultRateLimitBurst = 200
)

type Server struct {
	proxy          StreamProxy
	player         PlayerController
	watchHistory   WatchHistoryStore
	allowedOrigins []string
	rps            float64
	burst          int
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
}

type ServerOption func(*Server)

func WithProxy(p StreamProxy) ServerOption {
	return func(s *Server) {
		s.proxy = p
	}
}

func WithPlayer(p PlayerController) ServerOption {
	return func(s *Server) {
		s.player = p
	}
}

func WithWatchHistory(store WatchHistoryStore) ServerOption {
	return func(s *Server) {
		s.watchHistory = store
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.rps = rps
			s.burst = burst
		}
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// SetPlayer sets the player controller after construction. The controller
// needs the server's remote engine, so it is usually built second.
func (s *Server) SetPlayer(p PlayerController) {
	s.player = p
}

// RemoteEngine returns a playback engine that forwards commands to the
// WebSocket clients.
func (s *Server) RemoteEngine() *RemoteEngine {
	return &RemoteEngine{hub: s.wsHub}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.wsHub == nil {
		http.Error(w, "websocket not available", http.StatusServiceUnavailable)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.wsHub.register <- client
	go client.writePump()
	go client.readPump()
}

// StatusChanged broadcasts a player status change.
func (s *Server) StatusChanged(status domain.PlaybackStatus, err error) {
	msg := statusMessage{Status: status}
	if err != nil {
		msg.Error = err.Error()
	}
	s.wsHub.Broadcast("status", msg)
}

func (s *Server) ProgressChanged(position, duration float64) {
	s.wsHub.Broadcast("progress", progressMessage{Position: position, Duration: duration})
}

func (s *Server) BufferedChanged(r domain.TimeRange) {
	s.wsHub.Broadcast("buffered", r)
}

// BroadcastCacheStats publishes the live loaders to WebSocket clients and
// refreshes the resident bytes gauge.
func (s *Server) BroadcastCacheStats(ctx context.Context) {
	if s.proxy == nil {
		return
	}
	stats, err := s.proxy.Sources(ctx)
	if err != nil {
		s.logger.Debug("cache stats unavailable", slog.String("error", err.Error()))
		return
	}
	var resident int64
	for _, st := range stats {
		resident += st.ResidentBytes
	}
	metrics.CacheResidentBytes.Set(float64(resident))
	s.wsHub.Broadcast("cache", stats)
}

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		rps:   defaultRateLimitRPS,
		burst: defaultRateLimitBurst,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger)
	s.wsHub.onMessage = s.handleClientMessage
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/player/", s.handlePlayer)
	mux.HandleFunc("/cache/sources", s.handleCacheSources)
	mux.HandleFunc("/watch-history", s.handleWatchHistory)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "playerhub",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && !strings.HasPrefix(p, "/ws")
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(s.rps, s.burst, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close stops the WebSocket hub, disconnecting all clients.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}
