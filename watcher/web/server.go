package web

import (
	"context"
	"embed"
	"io"
	"io/fs"
	"net/http"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/spance/capwatch/watcher"
	"github.com/spance/capwatch/watcher/definitions"
)

//go:embed static
var staticFiles embed.FS

const (
	kindStatus  = "status"
	kindDevices = "devices"
)

// Controller is the part of the loop the web UI drives.
type Controller interface {
	Play(ctx context.Context, deviceID string) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() watcher.Status
	LastSnapshot() *definitions.Snapshot
}

type Event struct {
	Type    string                   `json:"type"`
	Status  *watcher.Status          `json:"status,omitempty"`
	Devices []definitions.DeviceInfo `json:"devices,omitempty"`
}

type playRequest struct {
	DeviceID string `json:"device_id"`
}

type Server struct {
	controller Controller
	devices    watcher.DeviceManager
	hub        *Hub
	upgrader   websocket.Upgrader
}

func NewServer(controller Controller, devices watcher.DeviceManager, hub *Hub) *Server {
	return &Server{
		controller: controller,
		devices:    devices,
		hub:        hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	static, _ := fs.Sub(staticFiles, "static")
	mux.Handle("/", http.FileServer(http.FS(static)))

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/devices", s.handleDevices)
	mux.HandleFunc("/api/play", s.handlePlay)
	mux.HandleFunc("/api/start", s.handleAction(s.controller.Start))
	mux.HandleFunc("/api/stop", s.handleAction(s.controller.Stop))
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/ws", s.handleWebsocket)
	return mux
}

// PublishStatus pushes a loop status to every viewer. Safe to use as a loop subscriber.
func (s *Server) PublishStatus(st watcher.Status) {
	data, err := json.Marshal(Event{Type: kindStatus, Status: &st})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode status")
		return
	}
	s.hub.Broadcast(kindStatus, data)
}

// PublishDevices refreshes the camera list and pushes it to every viewer.
func (s *Server) PublishDevices(ctx context.Context) {
	devices, err := s.devices.ListDevices(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to list cameras")
		return
	}
	data, err := json.Marshal(Event{Type: kindDevices, Devices: devices})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode devices")
		return
	}
	s.hub.Broadcast(kindDevices, data)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.ListDevices(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if devices == nil {
		devices = []definitions.DeviceInfo{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req playRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	if err := s.controller.Play(r.Context(), req.DeviceID); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleAction(action func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := action(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeJSON(w, http.StatusOK, s.controller.Status())
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := s.controller.LastSnapshot()
	if snapshot == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", snapshot.MIMEType)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(snapshot.Data)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade error")
		return
	}
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	s.hub.Register(conn)
	defer s.hub.Unregister(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
