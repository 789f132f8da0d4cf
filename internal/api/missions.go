package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"droneops-control/internal/auth"
	"droneops-control/internal/fleet"
	"droneops-control/internal/mission"
	"droneops-control/internal/telemetry"
)

func (s *Server) handleCreateMission(w http.ResponseWriter, r *http.Request) {
	var req mission.CreateInput
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.missions.Create(r.Context(), principalFrom(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleListMissions(w http.ResponseWriter, r *http.Request) {
	status := fleet.MissionStatus(r.URL.Query().Get("status"))
	missions, err := s.missions.List(r.Context(), principalFrom(r), mux.Vars(r)["id"], status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, missions)
}

func (s *Server) handleActiveMissions(w http.ResponseWriter, r *http.Request) {
	missions, err := s.missions.Active(r.Context(), principalFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, missions)
}

func (s *Server) handleMyMissions(w http.ResponseWriter, r *http.Request) {
	missions, err := s.missions.Mine(r.Context(), principalFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, missions)
}

func (s *Server) handleGetMission(w http.ResponseWriter, r *http.Request) {
	m, err := s.missions.Get(r.Context(), principalFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleUpdateMission(w http.ResponseWriter, r *http.Request) {
	var req mission.UpdateInput
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.missions.Update(r.Context(), principalFrom(r), mux.Vars(r)["id"], req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMission(w http.ResponseWriter, r *http.Request) {
	if err := s.missions.Delete(r.Context(), principalFrom(r), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAssignMission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.missions.Assign(r.Context(), principalFrom(r), mux.Vars(r)["id"], req.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// transitionHandler adapts a mission lifecycle method to a route handler.
func (s *Server) transitionHandler(op func(context.Context, *auth.Principal, string) (*fleet.Mission, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := op(r.Context(), principalFrom(r), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func (s *Server) handleListWaypoints(w http.ResponseWriter, r *http.Request) {
	wps, err := s.missions.Waypoints(r.Context(), principalFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wps)
}

func (s *Server) handleAddWaypoint(w http.ResponseWriter, r *http.Request) {
	var req mission.WaypointInput
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	wp, err := s.missions.AddWaypoint(r.Context(), principalFrom(r), mux.Vars(r)["id"], req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wp)
}

func (s *Server) handleReorderWaypoints(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WaypointIDs []string `json:"waypoint_ids"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	wps, err := s.missions.Reorder(r.Context(), principalFrom(r), mux.Vars(r)["id"], req.WaypointIDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wps)
}

func (s *Server) handleUpdateWaypoint(w http.ResponseWriter, r *http.Request) {
	var req mission.WaypointInput
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	wp, err := s.missions.UpdateWaypoint(r.Context(), principalFrom(r), mux.Vars(r)["id"], req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wp)
}

func (s *Server) handleDeleteWaypoint(w http.ResponseWriter, r *http.Request) {
	if err := s.missions.DeleteWaypoint(r.Context(), principalFrom(r), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAppendFlightLog(w http.ResponseWriter, r *http.Request) {
	var req telemetry.Row
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.MissionID = mux.Vars(r)["id"]
	entry, err := s.ingest.Append(r.Context(), principalFrom(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleRecentFlightLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	logs, err := s.ingest.Recent(r.Context(), principalFrom(r), mux.Vars(r)["id"], limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
