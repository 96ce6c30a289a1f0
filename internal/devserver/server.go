// Package devserver serves the built asset directory over HTTP during watch
// sessions and pushes live-reload notifications to connected game clients.
package devserver

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Faultbox/spriteforge/internal/logger"
	"github.com/Faultbox/spriteforge/internal/pipeline"
	"github.com/Faultbox/spriteforge/internal/sprites"
)

// Server is the development asset server. It is read-only: the pipeline owns
// the output directory, the server just exposes it plus a reload socket.
type Server struct {
	addr     string
	assetDir string
	hub      *hub
	upgrader websocket.Upgrader
}

// New wires a server to the pipeline's event bus: every sheet update or
// removal is forwarded to all connected live-reload clients.
func New(addr, assetDir string, bus *pipeline.Bus) *Server {
	s := &Server{
		addr:     addr,
		assetDir: assetDir,
		hub:      newHub(),
		upgrader: websocket.Upgrader{
			// Local tooling; the game client connects from file:// or
			// another dev port.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	bus.Subscribe(s.onEvent)
	return s
}

// Handler builds the HTTP routing surface.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/livereload", s.handleLiveReload)
	r.HandleFunc("/api/sheets", s.handleSheetList)
	r.HandleFunc("/api/sheets/{name}", s.handleSheet)
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.assetDir)))

	return handlers.RecoveryHandler()(handlers.CompressHandler(r))
}

// ListenAndServe blocks serving the asset directory.
func (s *Server) ListenAndServe() error {
	logger.Sugar.Infof("[devserver] serving %s on http://%s", s.assetDir, s.addr)
	return http.ListenAndServe(s.addr, s.Handler())
}

// reloadMessage is the wire format pushed over the live-reload socket.
type reloadMessage struct {
	Event string `json:"event"`
	Sheet string `json:"sheet"`
}

func (s *Server) onEvent(e pipeline.Event) {
	msg := reloadMessage{Event: e.Name}
	switch p := e.Payload.(type) {
	case string:
		msg.Sheet = p
	case *sprites.SheetDescriptor:
		msg.Sheet = p.Name
	}
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Sugar.Errorf("[devserver] encoding reload message: %v", err)
		return
	}
	s.hub.broadcast(data)
}

func (s *Server) handleLiveReload(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Warnf("[devserver] ws upgrade: %v", err)
		return
	}
	s.hub.add(conn)
}

// handleSheetList enumerates the sheet descriptors present in the output
// directory.
func (s *Server) handleSheetList(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.assetDir)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sheets := []string{}
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".sheet.json"); ok {
			sheets = append(sheets, name)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sheets)
}

// handleSheet serves one descriptor by sheet name.
func (s *Server) handleSheet(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if strings.ContainsAny(name, "/\\") {
		http.NotFound(w, r)
		return
	}
	path := filepath.Join(s.assetDir, name+".sheet.json")
	if _, err := os.Stat(path); err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	http.ServeFile(w, r, path)
}
