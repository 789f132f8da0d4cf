// Package api exposes the fleet services over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"droneops-control/internal/auth"
	"droneops-control/internal/cache"
	"droneops-control/internal/drone"
	"droneops-control/internal/fleet"
	"droneops-control/internal/metrics"
	"droneops-control/internal/mission"
	"droneops-control/internal/org"
	"droneops-control/internal/telemetry"
)

// Server wires the domain services into an HTTP API.
type Server struct {
	gate     *auth.Gate
	accounts *auth.Service
	orgs     *org.Service
	drones   *drone.Service
	missions *mission.Service
	ingest   *telemetry.Ingest
	cache    cache.Cache
	log      *slog.Logger
	router   *mux.Router
}

// NewServer creates the API server and registers all routes.
func NewServer(gate *auth.Gate, accounts *auth.Service, orgs *org.Service,
	drones *drone.Service, missions *mission.Service, ingest *telemetry.Ingest,
	c cache.Cache, log *slog.Logger) *Server {
	s := &Server{
		gate:     gate,
		accounts: accounts,
		orgs:     orgs,
		drones:   drones,
		missions: missions,
		ingest:   ingest,
		cache:    c,
		log:      log,
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

// Handler returns the root handler, ready to serve.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router

	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/api/v1/auth/register", s.handleRegister).Methods("POST")
	r.HandleFunc("/api/v1/auth/login", s.handleLogin).Methods("POST")
	r.HandleFunc("/api/v1/auth/password", s.handleChangePassword).Methods("POST")
	r.HandleFunc("/api/v1/auth/me", s.handleMe).Methods("GET")
	r.HandleFunc("/api/v1/auth/organizations", s.handleMyOrganizations).Methods("GET")

	r.HandleFunc("/api/v1/organizations", s.handleCreateOrganization).Methods("POST")
	r.HandleFunc("/api/v1/organizations", s.handleListOrganizations).Methods("GET")
	r.HandleFunc("/api/v1/organizations/{id}", s.handleGetOrganization).Methods("GET")
	r.HandleFunc("/api/v1/organizations/{id}", s.handleUpdateOrganization).Methods("PATCH")
	r.HandleFunc("/api/v1/organizations/{id}", s.handleDeleteOrganization).Methods("DELETE")
	r.HandleFunc("/api/v1/organizations/{id}/stats", s.handleOrganizationStats).Methods("GET")

	r.HandleFunc("/api/v1/organizations/{id}/users", s.handleCreateUser).Methods("POST")
	r.HandleFunc("/api/v1/organizations/{id}/users", s.handleListUsers).Methods("GET")
	r.HandleFunc("/api/v1/organizations/{id}/users/{userID}", s.handleUpdateUser).Methods("PATCH")
	r.HandleFunc("/api/v1/organizations/{id}/users/{userID}/toggle", s.handleToggleUser).Methods("POST")
	r.HandleFunc("/api/v1/users/{id}", s.handleDeleteUser).Methods("DELETE")

	r.HandleFunc("/api/v1/organizations/{id}/members", s.handleAddMember).Methods("POST")
	r.HandleFunc("/api/v1/organizations/{id}/members/{userID}", s.handleUpdateMemberRole).Methods("PATCH")
	r.HandleFunc("/api/v1/organizations/{id}/members/{userID}", s.handleRemoveMember).Methods("DELETE")

	r.HandleFunc("/api/v1/organizations/{id}/sites", s.handleCreateSite).Methods("POST")
	r.HandleFunc("/api/v1/organizations/{id}/sites", s.handleListSites).Methods("GET")
	r.HandleFunc("/api/v1/sites/{id}", s.handleGetSite).Methods("GET")
	r.HandleFunc("/api/v1/sites/{id}", s.handleUpdateSite).Methods("PATCH")
	r.HandleFunc("/api/v1/sites/{id}", s.handleDeleteSite).Methods("DELETE")

	r.HandleFunc("/api/v1/drones", s.handleCreateDrone).Methods("POST")
	r.HandleFunc("/api/v1/organizations/{id}/drones", s.handleListDrones).Methods("GET")
	r.HandleFunc("/api/v1/organizations/{id}/drones/available", s.handleAvailableDrones).Methods("GET")
	r.HandleFunc("/api/v1/drones/{id}", s.handleGetDrone).Methods("GET")
	r.HandleFunc("/api/v1/drones/{id}", s.handleUpdateDrone).Methods("PATCH")
	r.HandleFunc("/api/v1/drones/{id}", s.handleDeleteDrone).Methods("DELETE")
	r.HandleFunc("/api/v1/drones/{id}/status", s.handleDroneStatus).Methods("PUT")
	r.HandleFunc("/api/v1/drones/{id}/location", s.handleDroneLocation).Methods("PUT")
	r.HandleFunc("/api/v1/drones/{id}/battery", s.handleDroneBattery).Methods("PUT")

	r.HandleFunc("/api/v1/missions", s.handleCreateMission).Methods("POST")
	r.HandleFunc("/api/v1/organizations/{id}/missions", s.handleListMissions).Methods("GET")
	r.HandleFunc("/api/v1/organizations/{id}/missions/active", s.handleActiveMissions).Methods("GET")
	r.HandleFunc("/api/v1/missions/mine", s.handleMyMissions).Methods("GET")
	r.HandleFunc("/api/v1/missions/{id}", s.handleGetMission).Methods("GET")
	r.HandleFunc("/api/v1/missions/{id}", s.handleUpdateMission).Methods("PATCH")
	r.HandleFunc("/api/v1/missions/{id}", s.handleDeleteMission).Methods("DELETE")
	r.HandleFunc("/api/v1/missions/{id}/assign", s.handleAssignMission).Methods("POST")
	r.HandleFunc("/api/v1/missions/{id}/start", s.transitionHandler(s.missions.Start)).Methods("POST")
	r.HandleFunc("/api/v1/missions/{id}/pause", s.transitionHandler(s.missions.Pause)).Methods("POST")
	r.HandleFunc("/api/v1/missions/{id}/resume", s.transitionHandler(s.missions.Resume)).Methods("POST")
	r.HandleFunc("/api/v1/missions/{id}/abort", s.transitionHandler(s.missions.Abort)).Methods("POST")
	r.HandleFunc("/api/v1/missions/{id}/complete", s.transitionHandler(s.missions.Complete)).Methods("POST")

	r.HandleFunc("/api/v1/missions/{id}/waypoints", s.handleListWaypoints).Methods("GET")
	r.HandleFunc("/api/v1/missions/{id}/waypoints", s.handleAddWaypoint).Methods("POST")
	r.HandleFunc("/api/v1/missions/{id}/waypoints/reorder", s.handleReorderWaypoints).Methods("PUT")
	r.HandleFunc("/api/v1/waypoints/{id}", s.handleUpdateWaypoint).Methods("PATCH")
	r.HandleFunc("/api/v1/waypoints/{id}", s.handleDeleteWaypoint).Methods("DELETE")

	r.HandleFunc("/api/v1/missions/{id}/logs", s.handleAppendFlightLog).Methods("POST")
	r.HandleFunc("/api/v1/missions/{id}/logs", s.handleRecentFlightLogs).Methods("GET")

	r.HandleFunc("/api/v1/cache/stats", s.handleCacheStats).Methods("GET")

	r.Use(s.observe)
	r.Use(s.authenticate)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

type ctxKey int

const principalKey ctxKey = 0

func principalFrom(r *http.Request) *auth.Principal {
	p, _ := r.Context().Value(principalKey).(*auth.Principal)
	return p
}

// publicPaths need no bearer token.
var publicPaths = map[string]bool{
	"/healthz":              true,
	"/metrics":              true,
	"/api/v1/auth/register": true,
	"/api/v1/auth/login":    true,
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			s.writeError(w, r, fleet.Unauthenticated())
			return
		}
		p, err := s.gate.Authenticate(r.Context(), token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(sr.status)).Inc()
		metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		s.log.Debug("request", "method", r.Method, "route", route,
			"status", sr.status, "duration", time.Since(start))
	})
}

type errorBody struct {
	Kind       fleet.Kind        `json:"kind"`
	Message    string            `json:"message"`
	Violations []fleet.Violation `json:"violations,omitempty"`
}

var kindStatus = map[fleet.Kind]int{
	fleet.KindUnauthenticated:   http.StatusUnauthorized,
	fleet.KindForbidden:         http.StatusForbidden,
	fleet.KindNotFound:          http.StatusNotFound,
	fleet.KindValidation:        http.StatusBadRequest,
	fleet.KindConflict:          http.StatusConflict,
	fleet.KindInvalidTransition: http.StatusUnprocessableEntity,
	fleet.KindInternal:          http.StatusInternalServerError,
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := fleet.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	body := errorBody{Kind: kind, Message: err.Error()}
	var de *fleet.Error
	if errors.As(err, &de) {
		body.Message = de.Message
		body.Violations = de.Violations
	}
	if kind == fleet.KindInternal {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		body.Message = "internal error"
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decode reads a JSON request body, rejecting anything unparsable.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fleet.Invalid([]fleet.Violation{{Field: "body", Message: "invalid JSON"}})
	}
	return nil
}
