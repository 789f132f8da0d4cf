package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"droneops-control/internal/fleet"
	"droneops-control/internal/org"
)

type organizationRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (s *Server) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req organizationRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	var name, description string
	if req.Name != nil {
		name = *req.Name
	}
	if req.Description != nil {
		description = *req.Description
	}
	o, err := s.orgs.Create(r.Context(), principalFrom(r), name, description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := s.orgs.List(r.Context(), principalFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orgs)
}

func (s *Server) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	o, err := s.orgs.Get(r.Context(), principalFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleUpdateOrganization(w http.ResponseWriter, r *http.Request) {
	var req organizationRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	o, err := s.orgs.Update(r.Context(), principalFrom(r), mux.Vars(r)["id"], req.Name, req.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleDeleteOrganization(w http.ResponseWriter, r *http.Request) {
	if err := s.orgs.Delete(r.Context(), principalFrom(r), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOrganizationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.orgs.GetStats(r.Context(), principalFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req org.CreateUserInput
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.orgs.CreateUser(r.Context(), principalFrom(r), mux.Vars(r)["id"], req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.orgs.Users(r.Context(), principalFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req org.UpdateUserInput
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	u, err := s.orgs.UpdateUser(r.Context(), principalFrom(r), vars["id"], vars["userID"], req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleToggleUser(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	u, err := s.orgs.ToggleUserStatus(r.Context(), principalFrom(r), vars["id"], vars["userID"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.orgs.DeleteUser(r.Context(), principalFrom(r), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type memberRequest struct {
	UserID string     `json:"user_id"`
	Role   fleet.Role `json:"role"`
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.orgs.AddMember(r.Context(), principalFrom(r), mux.Vars(r)["id"], req.UserID, req.Role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleUpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	if err := s.orgs.UpdateMemberRole(r.Context(), principalFrom(r), vars["id"], vars["userID"], req.Role); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.orgs.RemoveMember(r.Context(), principalFrom(r), vars["id"], vars["userID"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateSite(w http.ResponseWriter, r *http.Request) {
	var req org.SiteInput
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	site, err := s.orgs.CreateSite(r.Context(), principalFrom(r), mux.Vars(r)["id"], req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, site)
}

func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.orgs.Sites(r.Context(), principalFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sites)
}

func (s *Server) handleGetSite(w http.ResponseWriter, r *http.Request) {
	site, err := s.orgs.GetSite(r.Context(), principalFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, site)
}

func (s *Server) handleUpdateSite(w http.ResponseWriter, r *http.Request) {
	var req org.SiteInput
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	site, err := s.orgs.UpdateSite(r.Context(), principalFrom(r), mux.Vars(r)["id"], req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, site)
}

func (s *Server) handleDeleteSite(w http.ResponseWriter, r *http.Request) {
	if err := s.orgs.DeleteSite(r.Context(), principalFrom(r), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
