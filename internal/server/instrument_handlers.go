package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kiteflow/trader/internal/catalog"
	"github.com/kiteflow/trader/internal/domain"
)

func (s *Server) handleInstrumentSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := catalog.Filter{
		Search:   q.Get("search"),
		Exchange: q.Get("exchange"),
		Segment:  domain.Segment(q.Get("segment")),
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		f.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		f.Offset = v
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"instruments": s.catalog.Search(f)})
}

func (s *Server) handleInstrumentByToken(w http.ResponseWriter, r *http.Request) {
	token, err := strconv.ParseInt(chi.URLParam(r, "instrument_token"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "validation-failed", "instrument_token must be numeric", "instrument_token")
		return
	}
	inst, err := s.catalog.ByToken(token)
	if err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleInstrumentQuote(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "trading_symbol")
	exchange := r.URL.Query().Get("exchange")
	if exchange == "" {
		exchange = "NSE"
	}
	inst, err := s.catalog.ByKey(exchange, symbol)
	if err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	br := s.broker()
	if br == nil || !br.IsConnected() {
		s.writeError(w, http.StatusServiceUnavailable, "broker-unreachable", "no broker connected")
		return
	}
	quote, err := br.Quote(r.Context(), inst)
	if err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, quote)
}
