package server

import "net/http"

func (s *Server) handleSessionIssue(w http.ResponseWriter, r *http.Request) {
	tok, err := s.sessions.Issue()
	if err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tok)
}

func (s *Server) handleSessionRevoke(w http.ResponseWriter, r *http.Request) {
	tok := r.Header.Get(sessionTokenHeader)
	if tok == "" {
		s.writeError(w, http.StatusBadRequest, "validation-failed", "missing session token header")
		return
	}
	s.sessions.Revoke(tok)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"revoked": true})
}
