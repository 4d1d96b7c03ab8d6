package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kiteflow/trader/internal/botconfig"
)

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.configStore.LoadCurrent()
	if err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleConfigSave(w http.ResponseWriter, r *http.Request) {
	var cfg botconfig.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation-failed", "invalid JSON body")
		return
	}
	if err := cfg.Validate(); err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	if err := s.configStore.SaveCurrent(cfg); err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleConfigList(w http.ResponseWriter, r *http.Request) {
	names, err := s.configStore.ListNamed()
	if err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"configs": names})
}

func (s *Server) handleConfigGetNamed(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	cfg, err := s.configStore.LoadNamed(name)
	if err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleConfigDeleteNamed(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.configStore.DeleteNamed(name); err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": name})
}

func (s *Server) handleConfigPresets(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, botconfig.Presets())
}

func (s *Server) handleConfigValidate(w http.ResponseWriter, r *http.Request) {
	var cfg botconfig.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation-failed", "invalid JSON body")
		return
	}
	if err := cfg.Validate(); err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true})
}
