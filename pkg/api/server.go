package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/hashlocklabs/slicefill/pkg/coordinator"
)

// Server exposes a read-only status surface for operators: health plus the
// set of in-flight orders. The service is unattended; this is the only
// interactive view into it.
type Server struct {
	coord  *coordinator.Coordinator
	router *mux.Router
	log    *zap.SugaredLogger
}

func NewServer(coord *coordinator.Coordinator, log *zap.SugaredLogger) *Server {
	s := &Server{
		coord:  coord,
		router: mux.NewRouter(),
		log:    log,
	}
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/orders", s.handleOrders).Methods("GET")
	return s
}

func (s *Server) Start(addr string) error {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})

	s.log.Infow("status_api_listening", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

type healthResponse struct {
	Status  string `json:"status"`
	Tracked int    `json:"trackedOrders"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, healthResponse{Status: "ok", Tracked: s.coord.Tracked()})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.coord.Snapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorw("status_api_encode_failed", "err", err)
	}
}
