// Package web provides the HTTP status and control server for the tank
// controller.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/sweeney/tank-controller/internal/history"
	"github.com/sweeney/tank-controller/internal/logic"
	"github.com/sweeney/tank-controller/internal/metrics"
	"github.com/sweeney/tank-controller/internal/status"
	"github.com/sweeney/tank-controller/internal/valve"
)

// Controller is the slice of logic.Controller the server drives.
type Controller interface {
	Open(name string) error
	Close(name string) error
	Status(name string) (valve.Status, error)
	ChangeWater(d time.Duration) error
	LockedOut() bool
}

// HistoryReader serves /history.json.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// Options are the server's optional collaborators.
type Options struct {
	History HistoryReader
	Metrics *metrics.Metrics
}

// Server serves the status page and the valve controls over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	ctrl       Controller
	history    HistoryReader
}

// New creates a Server reading state from tracker and sending commands to ctrl.
func New(addr string, tracker *status.Tracker, ctrl Controller, opts Options) *Server {
	s := &Server{tracker: tracker, ctrl: ctrl, history: opts.History}

	r := mux.NewRouter()
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
		r.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	r.HandleFunc("/valve/{name}", s.handleValveGet).Methods(http.MethodGet)
	r.HandleFunc("/valve/{name}", s.handleValvePost).Methods(http.MethodPost)
	r.HandleFunc("/waterchange", s.handleWaterChange).Methods(http.MethodPost)
	r.HandleFunc("/lockout", s.handleLockout).Methods(http.MethodGet)
	r.HandleFunc("/history.json", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/subscribe/{name}", s.handleSubscribe).Methods(http.MethodGet, http.MethodPost)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

type valveJSON struct {
	State string `json:"state"`
}

func (s *Server) handleValveGet(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	st, err := s.ctrl.Status(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.Header().Set("Device", logic.DeviceValve(name))
	writeJSON(w, http.StatusOK, valveJSON{State: string(st)})
}

func (s *Server) handleValvePost(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var err error
	switch want := strings.ToLower(r.FormValue("state")); valve.Status(want) {
	case valve.StatusOpen:
		err = s.ctrl.Open(name)
	case valve.StatusClosed:
		err = s.ctrl.Close(name)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("state must be %q or %q, got %q", valve.StatusOpen, valve.StatusClosed, want))
		return
	}

	switch {
	case errors.Is(err, valve.ErrUnknownValve):
		writeError(w, http.StatusNotFound, err)
		return
	case errors.Is(err, valve.ErrPrecheckRefused):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.handleValveGet(w, r)
}

// maxDurationSeconds is the largest whole-second count a time.Duration holds.
const maxDurationSeconds = int64(math.MaxInt64 / int64(time.Second))

func (s *Server) handleWaterChange(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	secs, err := strconv.ParseInt(r.FormValue("duration"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("duration must be whole seconds: %w", err))
		return
	}
	if secs > maxDurationSeconds || secs < -maxDurationSeconds {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %d seconds is out of range", logic.ErrInvalidDuration, secs))
		return
	}
	d := time.Duration(secs) * time.Second

	err = s.ctrl.ChangeWater(d)
	switch {
	case errors.Is(err, logic.ErrInvalidDuration):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, logic.ErrLockedOut):
		writeError(w, http.StatusLocked, err)
	case errors.Is(err, logic.ErrRefused):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"draining": true, "duration_s": secs})
	}
}

func (s *Server) handleLockout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"locked_out": s.ctrl.LockedOut()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("history disabled"))
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("bad limit %q", v))
			return
		}
		limit = n
	}
	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

// handleSubscribe acknowledges a home-automation hub's subscription
// handshake. State changes are pushed over MQTT, not to the caller.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("OK"))
}
