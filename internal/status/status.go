// Package status exposes a small read-only HTTP introspection server
// over the running simulator's devices, grounded on the team's
// internal/api/server.go chi setup but stripped to the two GET routes
// this simulator has any use for: there is no auth boundary, no
// mutation route, and no web UI to mount.
package status

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

// DeviceView is a snapshot of one device's session and radio state,
// safe to serialize (no key material is exposed).
type DeviceView struct {
	DevAddr      string  `json:"devaddr"`
	FrameCounter uint32  `json:"frame_counter"`
	DataRate     int     `json:"data_rate"`
	TXPower      int     `json:"tx_power"`
	NbTrans      int     `json:"nb_trans"`
	LastSNR      float64 `json:"last_snr"`
	WaitingAck   bool    `json:"waiting_for_ack"`
}

// Source is implemented by the device manager: it supplies the current
// snapshot of every device this server reports on.
type Source interface {
	Snapshot() []DeviceView
}

// Server is the read-only status/introspection HTTP server.
type Server struct {
	router chi.Router
	http   *http.Server
	source Source
}

// New builds a Server backed by source, listening on addr once
// ListenAndServe is called.
func New(addr string, source Source) *Server {
	s := &Server{router: chi.NewRouter(), source: source}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(10 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/devices", s.listDevices)
		r.Get("/devices/{devaddr}", s.getDevice)
	})

	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe starts serving and blocks until the server stops.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.http.Addr).Msg("starting status introspection server")
	return s.http.ListenAndServe()
}

// Shutdown stops the server immediately, closing open connections
// without waiting for in-flight requests.
func (s *Server) Shutdown() error {
	return s.http.Close()
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.source.Snapshot())
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	devAddr := chi.URLParam(r, "devaddr")
	for _, d := range s.source.Snapshot() {
		if d.DevAddr == devAddr {
			respondJSON(w, http.StatusOK, d)
			return
		}
	}
	respondJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
