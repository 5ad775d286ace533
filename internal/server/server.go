// Package server hosts the local monitor: a small HTTP API over the running
// driver plus a websocket feed of sample envelopes and state changes.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/marhydro/oceandrv/protocol"
	"github.com/marhydro/oceandrv/sample"
	"github.com/marhydro/oceandrv/transport"
)

// Driver is the slice of the protocol machine the monitor drives. Narrowed
// to an interface so handler tests run against a fake.
type Driver interface {
	State() protocol.State
	AllParams() map[string]interface{}
	Discover() (protocol.State, error)
	SetParams(params map[string]interface{}) error
	StartAutosample() error
	StopAutosample() error
	SyncClock() error
	AcquireStatus() error
	AcquireSample() error
}

type Server struct {
	mux *http.ServeMux
	hub *WSHub

	mu  sync.Mutex
	drv Driver

	// last known state, served even while an operation holds the driver
	lastState protocol.State
}

func New(drv Driver) *Server {
	s := &Server{
		mux: http.NewServeMux(),
		hub: NewWSHub(),
		drv: drv,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/state", s.handleState)
	s.mux.HandleFunc("/api/parameters", s.handleParameters)
	s.mux.HandleFunc("/api/command", s.handleCommand)
	s.mux.HandleFunc("/api/ports", s.handlePorts)
	s.mux.HandleFunc("/ws", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// PublishSample pushes one sample envelope to every monitor client.
func (s *Server) PublishSample(rec *sample.Record) {
	env, err := rec.Envelope()
	if err != nil {
		return
	}
	s.hub.Broadcast(WSMessage{Type: "sample", Data: env})
}

// NotifyState mirrors driver state changes to monitor clients.
func (s *Server) NotifyState(st protocol.State) {
	s.mu.Lock()
	s.lastState = st
	s.mu.Unlock()
	s.hub.Broadcast(WSMessage{Type: "state", Data: st.String()})
}

// NotifyConfig mirrors effective parameter changes to monitor clients.
func (s *Server) NotifyConfig(params map[string]interface{}) {
	s.hub.Broadcast(WSMessage{Type: "config", Data: params})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	st := s.lastState
	s.mu.Unlock()
	writeJSON(w, map[string]string{"state": st.String()})
}

func (s *Server) handleParameters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.drv.AllParams())
	case http.MethodPost:
		var params map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			http.Error(w, fmt.Sprintf("bad parameter payload: %v", err), http.StatusBadRequest)
			return
		}
		if len(params) == 0 {
			http.Error(w, "no parameters given", http.StatusBadRequest)
			return
		}
		if err := s.drv.SetParams(params); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]string{"result": "ok"})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// commandRequest names one driver operation to run.
type commandRequest struct {
	Op string `json:"op"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("bad command payload: %v", err), http.StatusBadRequest)
		return
	}

	var err error
	switch req.Op {
	case "discover":
		_, err = s.drv.Discover()
	case "start_autosample":
		err = s.drv.StartAutosample()
	case "stop_autosample":
		err = s.drv.StopAutosample()
	case "clock_sync":
		err = s.drv.SyncClock()
	case "acquire_status":
		err = s.drv.AcquireStatus()
	case "acquire_sample":
		err = s.drv.AcquireSample()
	default:
		http.Error(w, fmt.Sprintf("unknown op %q", req.Op), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, map[string]string{"result": "ok", "state": s.drv.State().String()})
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ports := transport.ListPorts()
	if ports == nil {
		ports = []string{}
	}
	writeJSON(w, map[string]interface{}{"ports": ports})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
