package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"droneops-control/internal/drone"
	"droneops-control/internal/fleet"
)

func (s *Server) handleCreateDrone(w http.ResponseWriter, r *http.Request) {
	var req drone.CreateInput
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.drones.Create(r.Context(), principalFrom(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleListDrones(w http.ResponseWriter, r *http.Request) {
	drones, err := s.drones.List(r.Context(), principalFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, drones)
}

func (s *Server) handleAvailableDrones(w http.ResponseWriter, r *http.Request) {
	drones, err := s.drones.Available(r.Context(), principalFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, drones)
}

func (s *Server) handleGetDrone(w http.ResponseWriter, r *http.Request) {
	d, err := s.drones.Get(r.Context(), principalFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleUpdateDrone(w http.ResponseWriter, r *http.Request) {
	var req drone.UpdateInput
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.drones.Update(r.Context(), principalFrom(r), mux.Vars(r)["id"], req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteDrone(w http.ResponseWriter, r *http.Request) {
	if err := s.drones.Delete(r.Context(), principalFrom(r), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDroneStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status fleet.DroneStatus `json:"status"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.drones.UpdateStatus(r.Context(), principalFrom(r), mux.Vars(r)["id"], req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDroneLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Altitude  float64 `json:"altitude"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.drones.UpdateLocation(r.Context(), principalFrom(r), mux.Vars(r)["id"],
		req.Latitude, req.Longitude, req.Altitude)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDroneBattery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BatteryLevel float64 `json:"battery_level"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.drones.UpdateBattery(r.Context(), principalFrom(r), mux.Vars(r)["id"], req.BatteryLevel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
