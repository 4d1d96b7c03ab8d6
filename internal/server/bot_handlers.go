package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kiteflow/trader/internal/botconfig"
	"github.com/kiteflow/trader/internal/domain"
)

func (s *Server) handleBotStart(w http.ResponseWriter, r *http.Request) {
	var cfg botconfig.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation-failed", "invalid JSON body")
		return
	}
	if err := s.supervisor.Start(r.Context(), cfg); err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	if err := s.configStore.SaveCurrent(cfg); err != nil {
		s.log.Warn().Err(err).Msg("bot started but failed to persist config as current")
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"started": true})
}

func (s *Server) handleBotStop(w http.ResponseWriter, r *http.Request) {
	if err := s.supervisor.Stop(r.Context()); err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"stopped": true})
}

func (s *Server) handleBotRestart(w http.ResponseWriter, r *http.Request) {
	var cfg botconfig.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation-failed", "invalid JSON body")
		return
	}
	if err := s.supervisor.Restart(r.Context(), cfg); err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"restarted": true})
}

func (s *Server) handleBotStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.supervisor.Snapshot(r.Context())
	if err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap.Status)
}

func (s *Server) handleBotAccount(w http.ResponseWriter, r *http.Request) {
	snap, err := s.supervisor.Snapshot(r.Context())
	if err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap.Account)
}

func (s *Server) handleBotPositions(w http.ResponseWriter, r *http.Request) {
	snap, err := s.supervisor.Snapshot(r.Context())
	if err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"positions": snap.Positions})
}

func (s *Server) handleBotTrades(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"trades": []domain.Trade{}})
		return
	}
	trades, err := s.ledger.TradesSince(nil, 0)
	if err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
}

func (s *Server) handleBotActivities(w http.ResponseWriter, r *http.Request) {
	kind := domain.ActivityKind(r.URL.Query().Get("kind"))
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"activities": s.acts.Recent(kind, 200)})
}

func (s *Server) handleBotActivitiesClear(w http.ResponseWriter, r *http.Request) {
	s.acts.Clear()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": true})
}

func (s *Server) handleBotClosePosition(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "trading_symbol")
	exchange := r.URL.Query().Get("exchange")
	if exchange == "" {
		exchange = "NSE"
	}
	if err := s.supervisor.ClosePosition(r.Context(), exchange, symbol); err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"requested": true})
}
