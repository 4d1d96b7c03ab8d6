package server

import (
	"net/http"

	"github.com/kiteflow/trader/internal/analytics"
)

func (s *Server) handleBotStats(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"instruments": []analytics.InstrumentStats{}})
		return
	}
	trades, err := s.ledger.TradesSince(nil, 0)
	if err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"instruments": analytics.TradeStats(trades)})
}
