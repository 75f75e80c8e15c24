// Plot status API server
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package monitor serves live plot status over HTTP and WebSocket so
// a frontend can watch a plot in progress and pause or stop it.
package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"plotdrive/pkg/log"
)

var logger = log.GetLogger("monitor")

// Snapshot is one point-in-time view of the plot state.
type Snapshot struct {
	State string `json:"state"` // "idle", "plotting", "paused", "stopped"

	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Defined bool    `json:"position_defined"`
	PenUp   bool    `json:"pen_up"`

	StopCode     string `json:"stop_code"`
	CopiesToPlot int    `json:"copies_to_plot"`

	UpTravelInch   float64 `json:"up_travel_inch"`
	DownTravelInch float64 `json:"down_travel_inch"`
	TimeEstimateMs float64 `json:"time_estimate_ms"`

	PauseDistInch float64 `json:"pause_dist_inch"`
}

// PlotterInterface is what the server needs from the plot host.
type PlotterInterface interface {
	// Snapshot returns the current plot state.
	Snapshot() Snapshot

	// RequestPause asks the plot loop to pause at the next safe
	// point.
	RequestPause()

	// EmergencyStop aborts motion immediately.
	EmergencyStop() error
}

// Config holds server configuration.
type Config struct {
	// Addr is the HTTP listen address, e.g. ":9730".
	Addr string

	Plotter PlotterInterface

	// BroadcastInterval is how often subscribed WebSocket clients
	// receive a status notification. Defaults to 250ms.
	BroadcastInterval time.Duration
}

// Server serves plot status and control endpoints.
type Server struct {
	plotter PlotterInterface

	httpServer *http.Server
	addr       string
	interval   time.Duration

	wsUpgrader websocket.Upgrader
	wsClients  map[int64]*wsClient
	wsClientMu sync.RWMutex
	nextWSID   int64

	running   atomic.Bool
	startTime time.Time
}

// New creates a status server.
func New(cfg Config) *Server {
	interval := cfg.BroadcastInterval
	if interval == 0 {
		interval = 250 * time.Millisecond
	}
	s := &Server{
		plotter:   cfg.Plotter,
		addr:      cfg.Addr,
		interval:  interval,
		wsClients: make(map[int64]*wsClient),
		startTime: time.Now(),
	}
	s.wsUpgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// Handler returns the HTTP handler serving all endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/websocket", s.handleWebSocket)
	mux.HandleFunc("/plotter/status", s.handleStatus)
	mux.HandleFunc("/plotter/pause", s.handlePause)
	mux.HandleFunc("/plotter/stop", s.handleStop)
	mux.HandleFunc("/server/info", s.handleServerInfo)
	return s.corsMiddleware(mux)
}

// Start starts the server. It blocks until the listener fails or
// Stop is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}
	s.running.Store(true)
	logger.Info("Status server listening on %s", s.addr)

	go s.broadcastLoop()

	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down and disconnects all clients.
func (s *Server) Stop() error {
	s.running.Store(false)

	s.wsClientMu.Lock()
	for _, client := range s.wsClients {
		client.close()
	}
	s.wsClients = make(map[int64]*wsClient)
	s.wsClientMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) snapshot() Snapshot {
	if s.plotter == nil {
		return Snapshot{State: "idle", StopCode: "none"}
	}
	return s.plotter.Snapshot()
}

// REST handlers

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"result": s.snapshot()})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.plotter != nil {
		s.plotter.RequestPause()
	}
	logger.Info("Pause requested via API")
	s.writeJSON(w, map[string]any{"result": "ok"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	logger.Info("Emergency stop requested via API")
	if s.plotter != nil {
		if err := s.plotter.EmergencyStop(); err != nil {
			s.writeJSONError(w, err)
			return
		}
	}
	s.writeJSON(w, map[string]any{"result": "ok"})
}

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	s.wsClientMu.RLock()
	clients := len(s.wsClients)
	s.wsClientMu.RUnlock()

	s.writeJSON(w, map[string]any{"result": map[string]any{
		"uptime_sec":      time.Since(s.startTime).Seconds(),
		"websocket_count": clients,
	}})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeJSONError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": err.Error()},
	})
}

// WebSocket notification envelope.
type wsNotification struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// wsRequest is a control message from a client.
type wsRequest struct {
	Method string `json:"method"`
	ID     any    `json:"id,omitempty"`
}

type wsResponse struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	ID     any    `json:"id,omitempty"`
}

// wsClient is one WebSocket connection.
type wsClient struct {
	id     int64
	conn   *websocket.Conn
	server *Server
	sendCh chan any
	done   chan struct{}
	mu     sync.Mutex
}

func (s *Server) newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		id:     atomic.AddInt64(&s.nextWSID, 1),
		conn:   conn,
		server: s,
		sendCh: make(chan any, 64),
		done:   make(chan struct{}),
	}
}

// send queues a message, dropping it if the client is slow.
func (c *wsClient) send(msg any) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		logger.Debug("dropping message to client %d (channel full)", c.id)
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}
	c.conn.Close()
}

func (c *wsClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("websocket read error: %v", err)
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg, ok := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				logger.Debug("websocket write error: %v", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) handleMessage(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.send(wsResponse{Error: "parse error"})
		return
	}

	s := c.server
	switch req.Method {
	case "plotter.status":
		c.send(wsResponse{Result: s.snapshot(), ID: req.ID})
	case "plotter.pause":
		if s.plotter != nil {
			s.plotter.RequestPause()
		}
		c.send(wsResponse{Result: "ok", ID: req.ID})
	case "plotter.stop":
		if s.plotter != nil {
			if err := s.plotter.EmergencyStop(); err != nil {
				c.send(wsResponse{Error: err.Error(), ID: req.ID})
				return
			}
		}
		c.send(wsResponse{Result: "ok", ID: req.ID})
	default:
		c.send(wsResponse{Error: fmt.Sprintf("method not found: %s", req.Method), ID: req.ID})
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade: %v", err)
		return
	}

	client := s.newWSClient(conn)

	s.wsClientMu.Lock()
	s.wsClients[client.id] = client
	s.wsClientMu.Unlock()

	logger.Debug("websocket client %d connected", client.id)

	go client.writePump()

	// Initial state so new clients do not wait for the broadcast
	// tick.
	client.send(wsNotification{Method: "notify_status", Params: s.snapshot()})

	client.readPump()
}

func (s *Server) removeClient(client *wsClient) {
	s.wsClientMu.Lock()
	delete(s.wsClients, client.id)
	s.wsClientMu.Unlock()
	logger.Debug("websocket client %d disconnected", client.id)
}

func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for s.running.Load() {
		<-ticker.C
		s.Broadcast()
	}
}

// Broadcast pushes the current snapshot to every connected client.
func (s *Server) Broadcast() {
	snap := s.snapshot()
	msg := wsNotification{Method: "notify_status", Params: snap}

	s.wsClientMu.RLock()
	defer s.wsClientMu.RUnlock()
	for _, client := range s.wsClients {
		client.send(msg)
	}
}
