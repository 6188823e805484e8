package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/linedash/internal/link"
	"github.com/shaunagostinho/linedash/internal/logger"
	"github.com/shaunagostinho/linedash/internal/monitor"
	"github.com/shaunagostinho/linedash/internal/robot"
	"github.com/shaunagostinho/linedash/internal/telemetry"
)

// Robot is the command side of the active connection.
type Robot interface {
	Send(command string) error
	Port() string
}

// Server renders telemetry to WebSocket clients and exposes the robot
// command and parameter API.
type Server struct {
	cfg    *Config
	state  *telemetry.State
	buf    *telemetry.Buffer
	params *robot.Store
	robot  Robot
	ch     *robot.Channel
	status *Status
	webFS  fs.FS
	logger *logger.Logger
	stats  func() monitor.Stats

	bg context.Context // parent for async robot sequences

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Snapshot *telemetry.Snapshot `json:"snapshot,omitempty"`
	Plot     *PlotData           `json:"plot,omitempty"`
	Status   string              `json:"status"`
	Port     string              `json:"port"`
	Params   *robot.Parameters   `json:"params,omitempty"`
	Stats    *monitor.Stats      `json:"stats,omitempty"`
	Stamp    int64               `json:"stamp"` // Unix ms
}

// PlotData is the L/O time series for the current window.
type PlotData struct {
	Samples []telemetry.Sample `json:"samples"`
	TimeMin float64            `json:"timeMin"`
	TimeMax float64            `json:"timeMax"`
	Window  float64            `json:"window"`
}

type commandRequest struct {
	Command string `json:"command"`
}

type pathRequest struct {
	Path string `json:"path"`
}

// New creates a new Server. status is shared with the link so connection
// transitions show up in every frame.
func New(cfg *Config, state *telemetry.State, buf *telemetry.Buffer, params *robot.Store,
	rb Robot, status *Status, webFS fs.FS) *Server {
	if status == nil {
		status = NewStatus()
	}
	return &Server{
		cfg:     cfg,
		state:   state,
		buf:     buf,
		params:  params,
		robot:   rb,
		ch:      robot.NewChannel(rb, status),
		status:  status,
		webFS:   webFS,
		logger:  logger.New(cfg.LoggerConfig()),
		bg:      context.Background(),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetStatsSource adds reader loop counters to broadcast frames.
func (s *Server) SetStatsSource(f func() monitor.Stats) {
	s.stats = f
}

// Channel returns the robot command channel used by the API.
func (s *Server) Channel() *robot.Channel {
	return s.ch
}

// Handler builds the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}
	mux.HandleFunc("/ws", s.handleWS)

	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/command", s.handleCommand)
	mux.HandleFunc("/api/clear", s.handleClear)

	mux.HandleFunc("/api/params", s.handleParams)
	mux.HandleFunc("/api/params/read", s.handleParamsRead)
	mux.HandleFunc("/api/params/write", s.handleParamsWrite)
	mux.HandleFunc("/api/params/load", s.handleParamsLoad)
	mux.HandleFunc("/api/params/save", s.handleParamsSave)
	return mux
}

// Run starts the HTTP server and the render loop.
func (s *Server) Run(ctx context.Context) error {
	s.bg = ctx
	handler := s.Handler()

	go s.renderLoop(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
	}

	if data, err := json.Marshal(s.frame()); err == nil {
		client.send <- data
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()
	log.Printf("[ws] client %s connected (%d total)", client.id, n)

	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Inbound messages are robot commands.
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("[ws] client %s disconnected (%d total)", client.id, n)
		}()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var req commandRequest
			if err := json.Unmarshal(msg, &req); err != nil || strings.TrimSpace(req.Command) == "" {
				continue
			}
			if err := s.ch.Send(strings.TrimSpace(req.Command)); err != nil {
				log.Printf("[ws] client %s command failed: %v", client.id, err)
			}
		}
	}()
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		s.logger.SetEnabled(s.cfg.LoggingEnabled())
		writeOK(w)

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Command) == "" {
		http.Error(w, "command required", 400)
		return
	}
	if err := s.ch.Send(strings.TrimSpace(req.Command)); err != nil {
		sendError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	s.buf.Clear()
	log.Printf("[server] plot data cleared")
	writeOK(w)
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.params.Get())

	case http.MethodPost:
		var p robot.Parameters
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		writeJSON(w, s.ApplyParams(p))

	default:
		http.Error(w, "method not allowed", 405)
	}
}

// ApplyParams merges p into the store and carries plot settings over to
// the render loop.
func (s *Server) ApplyParams(p robot.Parameters) robot.Parameters {
	merged := s.params.Update(p)
	var window, windowMax float64
	if p.TimeWindow != nil {
		window = *p.TimeWindow
	}
	if p.TimeWindowMax != nil {
		windowMax = *p.TimeWindowMax
	}
	if window != 0 || windowMax != 0 {
		s.cfg.SetPlotWindow(window, windowMax)
	}
	return merged
}

func (s *Server) handleParamsRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	if s.robot.Port() == "" {
		sendError(w, link.ErrNotConnected)
		return
	}
	go s.ch.ReadAll(s.bg)
	writeAccepted(w)
}

func (s *Server) handleParamsWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	if s.robot.Port() == "" {
		sendError(w, link.ErrNotConnected)
		return
	}
	go s.ch.WriteAll(s.bg, s.params.Get())
	writeAccepted(w)
}

func (s *Server) handleParamsLoad(w http.ResponseWriter, r *http.Request) {
	path, ok := s.paramsPath(w, r)
	if !ok {
		return
	}
	p, err := robot.LoadFile(path)
	if err != nil {
		s.status.Notify("Error loading file: " + err.Error())
		http.Error(w, err.Error(), 400)
		return
	}
	merged := s.ApplyParams(p)
	s.status.Notify("Loaded parameters from " + path)
	writeJSON(w, merged)
}

func (s *Server) handleParamsSave(w http.ResponseWriter, r *http.Request) {
	path, ok := s.paramsPath(w, r)
	if !ok {
		return
	}
	if err := robot.SaveFile(path, s.params.Get()); err != nil {
		s.status.Notify("Error saving file: " + err.Error())
		http.Error(w, err.Error(), 500)
		return
	}
	s.status.Notify("Saved parameters to " + path)
	writeOK(w)
}

// paramsPath reads an optional {"path"} body, defaulting to the configured
// parameter file.
func (s *Server) paramsPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return "", false
	}
	var req pathRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, err.Error(), 400)
			return "", false
		}
	}
	if req.Path == "" {
		s.cfg.mu.RLock()
		req.Path = s.cfg.Params.Path
		s.cfg.mu.RUnlock()
	}
	if req.Path == "" {
		http.Error(w, "path required", 400)
		return "", false
	}
	return req.Path, true
}

// renderLoop broadcasts the telemetry snapshot and plot window at the
// configured rate and feeds the CSV logger.
func (s *Server) renderLoop(ctx context.Context) {
	hz := s.cfg.PlotView().RenderHz
	if hz <= 0 {
		hz = 30
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()
	defer s.logger.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f := s.frame()
			s.broadcast(f)
			if f.Plot != nil {
				s.logger.Record(*f.Snapshot, telemetry.Window{
					Samples: f.Plot.Samples,
					TimeMin: f.Plot.TimeMin,
					TimeMax: f.Plot.TimeMax,
				})
			}
		}
	}
}

// frame copies the shared state into one broadcast frame. Each copy is a
// short critical section; nothing here waits on the reader loop.
func (s *Server) frame() Frame {
	snap := s.state.Snapshot()
	params := s.params.Get()
	window := s.cfg.PlotView().WindowSec

	f := Frame{
		Snapshot: &snap,
		Params:   &params,
		Status:   s.status.Text(),
		Port:     s.robot.Port(),
		Stamp:    time.Now().UnixMilli(),
	}
	if win, ok := s.buf.Window(window); ok {
		f.Plot = &PlotData{
			Samples: win.Samples,
			TimeMin: win.TimeMin,
			TimeMax: win.TimeMax,
			Window:  window,
		}
	}
	if s.stats != nil {
		st := s.stats()
		f.Stats = &st
	}
	return f
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

func sendError(w http.ResponseWriter, err error) {
	if errors.Is(err, link.ErrNotConnected) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	http.Error(w, err.Error(), http.StatusBadGateway)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] encode response: %v", err)
	}
}

func writeAccepted(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"status":"accepted"}`))
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
