package snapshot

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"reflect"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/indubitablygregarious/immerse-yourself/internal/metrics"
	"github.com/indubitablygregarious/immerse-yourself/internal/orchestrator"
)

// pollInterval governs how often the publisher samples the Orchestrator
// for changes. Snapshots are cheap to build (no I/O, just lock + engine
// queries) so sub-second polling is inexpensive.
const pollInterval = 500 * time.Millisecond

// source is the read side of the Orchestrator the publisher depends on.
type source interface {
	Snapshot() orchestrator.Snapshot
}

// Server wires the snapshot HTTP/WebSocket surface: GET /snapshot (one-shot
// poll), GET /snapshot/ws (push), and GET /metrics (Prometheus).
type Server struct {
	log    *slog.Logger
	src    source
	met    *metrics.Metrics
	hub    *Hub
	router chi.Router
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewServer builds the router. Call Run(ctx) to start the hub and
// publisher loop before serving traffic.
func NewServer(src source, met *metrics.Metrics, log *slog.Logger) *Server {
	s := &Server{log: log, src: src, met: met, hub: newHub(log)}
	r := chi.NewRouter()
	r.Get("/snapshot", s.handleSnapshot)
	r.Get("/snapshot/ws", s.handleWS)
	r.Get("/metrics", s.handleMetrics)
	s.router = r
	return s
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.met.Handler(func() {
		snap := s.src.Snapshot()
		s.met.SetActiveAtmosphereStreams(len(snap.ActiveAtmosphereURLs))
		s.met.SetQueueDepth(snap.PendingDownloads)
	}).ServeHTTP(w, r)
}

func (s *Server) Router() chi.Router { return s.router }

// Run starts the hub and the change-polling publisher loop. Blocks until
// ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	go s.hub.Run(ctx)
	s.publishLoop(ctx)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.src.Snapshot())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("snapshot: ws upgrade failed", "error", err)
		return
	}
	c := newClient(s.hub, conn, r.RemoteAddr, s.log)
	s.hub.register <- c

	go c.writePump(context.Background())
	go c.readPump(context.Background())

	if payload, err := json.Marshal(s.src.Snapshot()); err == nil {
		select {
		case c.send <- payload:
		default:
		}
	}
}

// publishLoop samples the Orchestrator at pollInterval and broadcasts
// only when the snapshot actually changed, so idle periods cost nothing
// beyond the comparison.
func (s *Server) publishLoop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var last orchestrator.Snapshot
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.src.Snapshot()
			if !first && reflect.DeepEqual(snap, last) {
				continue
			}
			first = false
			last = snap
			payload, err := json.Marshal(snap)
			if err != nil {
				s.log.Warn("snapshot: marshal failed", "error", err)
				continue
			}
			s.hub.broadcastJSON(payload)
		}
	}
}
