package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/meterlink/internal/meter"
	"github.com/shaunagostinho/meterlink/internal/reader"
	"github.com/shaunagostinho/meterlink/internal/report"
	"github.com/shaunagostinho/meterlink/internal/store"
)

// Server exposes meter readings over HTTP and broadcasts every finished
// reading to WebSocket clients.
type Server struct {
	cfg     *Config
	reader  *reader.Reader
	history *store.History // nil when history is disabled
	webFS   fs.FS
	log     *logrus.Entry

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to WebSocket clients.
type Frame struct {
	Reading *reader.Frame   `json:"reading,omitempty"`
	Config  json.RawMessage `json:"config,omitempty"`
	Stamp   int64           `json:"stamp"` // Unix ms
}

// ReadRequest is the body of POST /api/read. Empty fields fall back to the
// configured defaults.
type ReadRequest struct {
	Dialect string `json:"dialect"`
	Parse   *bool  `json:"parse"`
}

// ReadResponse carries the reading and the report lines it produced.
type ReadResponse struct {
	Reading reader.Frame `json:"reading"`
	Lines   []string     `json:"lines"`
}

// DialectInfo describes one supported dialect.
type DialectInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Transport   string `json:"transport"`
	Baud        int    `json:"baud"`
	Phases      int    `json:"phases"`
}

// New creates a new Server and registers it as a recorder on rd so every
// reading, whoever requested it, reaches the WebSocket clients.
func New(cfg *Config, rd *reader.Reader, history *store.History, webFS fs.FS) *Server {
	s := &Server{
		cfg:     cfg,
		reader:  rd,
		history: history,
		webFS:   webFS,
		log:     logrus.WithField("component", "server"),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	rd.AddRecorder(s)
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/read", s.handleRead)
	mux.HandleFunc("/api/dialects", s.handleDialects)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/history/{id}", s.handleHistoryItem)
	mux.HandleFunc("/api/config", s.handleConfig)
	return mux
}

// Run starts the HTTP server, the optional poll loop and history pruning.
func (s *Server) Run(ctx context.Context) error {
	go s.pollLoop(ctx)
	if s.history != nil {
		go s.pruneLoop(ctx)
	}

	s.cfg.mu.RLock()
	addr := s.cfg.Server.ListenAddr
	s.cfg.mu.RUnlock()

	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.log.Infof("listening on %s", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Record broadcasts a finished reading.
func (s *Server) Record(res *reader.Result) {
	f := res.Frame()
	s.broadcast(Frame{Reading: &f, Stamp: time.Now().UnixMilli()})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("ws upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	// Send the current config first
	if cfg, err := s.cfg.ToJSON(); err == nil {
		if data, err := json.Marshal(Frame{Config: cfg, Stamp: time.Now().UnixMilli()}); err == nil {
			client.send <- data
		}
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()
	s.log.Infof("ws client connected (%d total)", n)

	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive / close detection)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			close(client.send)
			n := len(s.clients)
			s.clientsMu.Unlock()
			s.log.Infof("ws client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ReadRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	rreq, err := s.request(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	lines := &report.Collector{}
	rreq.Sink = lines

	res, err := s.reader.TryReadMeter(rreq)
	if errors.Is(err, reader.ErrBusy) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	status := http.StatusOK
	if err != nil {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, ReadResponse{Reading: res.Frame(), Lines: lines.Lines()})
}

// request resolves a ReadRequest against the configured defaults.
func (s *Server) request(req ReadRequest) (reader.Request, error) {
	s.cfg.mu.RLock()
	name, parse := s.cfg.Meter.Dialect, s.cfg.Meter.Parse
	s.cfg.mu.RUnlock()

	if req.Dialect != "" {
		name = req.Dialect
	}
	if req.Parse != nil {
		parse = *req.Parse
	}
	d, err := meter.ParseDialect(name)
	if err != nil {
		return reader.Request{}, err
	}
	return reader.Request{Dialect: d, Parse: parse}, nil
}

func (s *Server) handleDialects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, Dialects())
}

// Dialects lists every supported dialect with its catalogue entry.
func Dialects() []DialectInfo {
	var out []DialectInfo
	for _, d := range meter.Dialects() {
		e, err := meter.Lookup(d)
		if err != nil {
			continue
		}
		out = append(out, DialectInfo{
			Name:        d.String(),
			Description: d.Description(),
			Transport:   e.Transport.String(),
			Baud:        e.Baud,
			Phases:      d.Phases(),
		})
	}
	return out
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "history disabled", http.StatusServiceUnavailable)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	dialect := meter.DialectUnknown
	if v := r.URL.Query().Get("dialect"); v != "" {
		d, err := meter.ParseDialect(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		dialect = d
	}

	rows, err := s.history.Recent(limit, dialect)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []store.Row{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleHistoryItem(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "history disabled", http.StatusServiceUnavailable)
		return
	}
	row, err := s.history.Get(r.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, row)
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost, http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.cfg.Save(); err != nil {
			s.log.WithError(err).Warn("config save failed")
		}
		if data, err := s.cfg.ToJSON(); err == nil {
			s.broadcast(Frame{Config: data, Stamp: time.Now().UnixMilli()})
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// pollLoop reads the default dialect every meter.poll_seconds. A tick that
// finds a read already running is skipped.
func (s *Server) pollLoop(ctx context.Context) {
	s.cfg.mu.RLock()
	secs := s.cfg.Meter.PollSeconds
	s.cfg.mu.RUnlock()
	if secs <= 0 {
		return
	}

	ticker := time.NewTicker(time.Duration(secs) * time.Second)
	defer ticker.Stop()
	s.log.Infof("polling every %ds", secs)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			req, err := s.request(ReadRequest{})
			if err != nil {
				s.log.WithError(err).Warn("poll skipped")
				continue
			}
			if _, err := s.reader.TryReadMeter(req); errors.Is(err, reader.ErrBusy) {
				s.log.Debug("poll skipped, read in progress")
			}
		}
	}
}

// pruneLoop drops history older than history.retention_days, once at start
// and then hourly.
func (s *Server) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		s.prune()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) prune() {
	s.cfg.mu.RLock()
	days := s.cfg.History.RetentionDays
	s.cfg.mu.RUnlock()
	if days <= 0 {
		return
	}
	n, err := s.history.Prune(time.Now().AddDate(0, 0, -days))
	if err != nil {
		s.log.WithError(err).Warn("history prune failed")
		return
	}
	if n > 0 {
		s.log.Infof("pruned %d readings older than %d days", n, days)
	}
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
