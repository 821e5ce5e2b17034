package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"posload/pkg/engine"
)

const (
	DefaultAddr      = ":5055"
	defaultHeartbeat = 10 * time.Second
	shutdownTimeout  = 5 * time.Second
	clientBuffer     = 64
)

// Node summary statuses.
const (
	StatusSuccess          = "success"
	StatusThresholdsFailed = "thresholds_failed"
	StatusError            = "error"
)

// NodeSummary is the final report a node sends once its run is over.
type NodeSummary struct {
	Node      int             `json:"node_id"`
	Journey   string          `json:"journey"`
	RunID     string          `json:"run_id"`
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Summary   *engine.Summary `json:"summary,omitempty"`
}

// Status is served on GET /api/status.
type Status struct {
	Events  int64         `json:"events"`
	Clients int           `json:"clients"`
	Nodes   []NodeSummary `json:"nodes"`
}

// sseBroker fans messages out to the connected SSE clients. Slow clients
// miss messages rather than stall the broadcaster.
type sseBroker struct {
	clients map[chan []byte]bool
	mu      sync.Mutex
}

func newSSEBroker() *sseBroker {
	return &sseBroker{
		clients: make(map[chan []byte]bool),
	}
}

func (b *sseBroker) addClient(ch chan []byte) {
	b.mu.Lock()
	b.clients[ch] = true
	b.mu.Unlock()
}

func (b *sseBroker) removeClient(ch chan []byte) {
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
	close(ch)
}

func (b *sseBroker) clientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *sseBroker) broadcast(msg []byte) {
	b.mu.Lock()
	for ch := range b.clients {
		select {
		case ch <- msg:
		default:
		}
	}
	b.mu.Unlock()
}

// Server collects live events and summaries from load nodes and fans them
// out to dashboards over SSE.
type Server struct {
	// Heartbeat is the interval of SSE keep-alive comments.
	Heartbeat time.Duration

	broker *sseBroker
	log    *slog.Logger
	events atomic.Int64

	mu    sync.Mutex
	nodes map[int]NodeSummary
}

func NewServer(log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		Heartbeat: defaultHeartbeat,
		broker:    newSSEBroker(),
		log:       log,
		nodes:     make(map[int]NodeSummary),
	}
}

// Handler returns the collector routes wrapped in a permissive CORS policy
// so browser dashboards on other origins can subscribe.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/report", s.handleReport)
	mux.HandleFunc("/api/summary", s.handleSummary)
	mux.HandleFunc("/api/status", s.handleStatus)

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(mux)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("Collector listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("collector server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Status snapshots the collector state.
func (s *Server) Status() Status {
	s.mu.Lock()
	nodes := make([]NodeSummary, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	s.mu.Unlock()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Node < nodes[j].Node })

	return Status{
		Events:  s.events.Load(),
		Clients: s.broker.clientCount(),
		Nodes:   nodes,
	}
}

// --- GET /api/events ---
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := make(chan []byte, clientBuffer)
	s.broker.addClient(ch)
	defer s.broker.removeClient(ch)

	heartbeat := s.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case msg := <-ch:
			_, _ = w.Write(msg)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// --- POST /api/report ---
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var ev engine.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid event body", http.StatusBadRequest)
		s.log.Warn("Invalid report received", "err", err)
		return
	}
	s.events.Add(1)
	s.log.Debug("Report received", "name", ev.Name, "path", ev.Path,
		"status", ev.Status, "latency_ms", ev.LatencyMs, "err", ev.Err)

	data, _ := json.Marshal(ev)
	s.broker.broadcast(frame("", data))

	writeJSON(w, http.StatusOK, map[string]string{"message": "Report received successfully"})
}

// --- POST /api/summary ---
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var sum NodeSummary
	if err := json.NewDecoder(r.Body).Decode(&sum); err != nil {
		http.Error(w, "invalid summary body", http.StatusBadRequest)
		s.log.Warn("Invalid summary received", "err", err)
		return
	}
	if sum.Timestamp.IsZero() {
		sum.Timestamp = time.Now()
	}

	s.mu.Lock()
	s.nodes[sum.Node] = sum
	s.mu.Unlock()
	s.log.Info("Node summary received", "node", sum.Node, "journey", sum.Journey, "status", sum.Status)

	data, _ := json.Marshal(sum)
	s.broker.broadcast(frame("summary", data))

	writeJSON(w, http.StatusOK, map[string]string{"message": "Summary received successfully"})
}

// --- GET /api/status ---
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.Status())
}

// frame formats one SSE message; an empty kind is the default "message" event.
func frame(kind string, data []byte) []byte {
	if kind == "" {
		return []byte(fmt.Sprintf("data: %s\n\n", data))
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", kind, data))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
