package server

import (
	"encoding/json"
	"net/http"

	"github.com/kiteflow/trader/internal/domain"
)

// supportedBrokerField describes one credential field a broker's Connect
// body requires.
type supportedBrokerField struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
}

type supportedBroker struct {
	Name             string                 `json:"name"`
	Kind             string                 `json:"kind"`
	CredentialFields []supportedBrokerField `json:"credential_fields"`
}

func (s *Server) handleBrokerList(w http.ResponseWriter, r *http.Request) {
	out := []supportedBroker{
		{Name: "paper", Kind: "paper", CredentialFields: nil},
	}
	if s.liveBrokers != nil {
		for _, name := range s.liveBrokerNames {
			out = append(out, supportedBroker{
				Name: name, Kind: "live",
				CredentialFields: []supportedBrokerField{
					{Name: "api_key", Required: true},
					{Name: "api_secret", Required: true},
				},
			})
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"brokers": out})
}

type brokerConnectRequest struct {
	Broker      string            `json:"broker"`
	Credentials map[string]string `json:"credentials"`
}

func (s *Server) handleBrokerConnect(w http.ResponseWriter, r *http.Request) {
	var req brokerConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation-failed", "invalid JSON body")
		return
	}
	if req.Broker == "" {
		s.writeError(w, http.StatusBadRequest, "validation-failed", "broker is required", "broker")
		return
	}

	if req.Broker == "paper" {
		result, err := s.paperBroker.Connect(r.Context(), domain.Credential{Broker: "paper"})
		if err != nil {
			s.writeErrFromAdapter(w, err)
			return
		}
		s.setCurrentBroker(s.paperBroker, "paper")
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"broker": result.Broker, "kind": result.Kind, "connected_at": result.ConnectedAt})
		return
	}

	if s.liveBrokers == nil {
		s.writeError(w, http.StatusBadRequest, "validation-failed", "no live broker configured", "broker")
		return
	}
	adapter, ok := s.liveBrokers(req.Broker)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "validation-failed", "unknown broker", "broker")
		return
	}

	cred := domain.Credential{
		Broker:    req.Broker,
		APIKey:    req.Credentials["api_key"],
		APISecret: req.Credentials["api_secret"],
	}
	if saved, err := s.vault.Load(req.Broker); err == nil {
		cred.AccessToken = saved.AccessToken
		cred.ExpiresAt = saved.ExpiresAt
		if cred.APIKey == "" {
			cred.APIKey = saved.APIKey
		}
		if cred.APISecret == "" {
			cred.APISecret = saved.APISecret
		}
	}

	result, err := adapter.Connect(r.Context(), cred)
	if err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	if err := s.vault.Save(req.Broker, cred); err != nil {
		s.log.Error().Err(err).Msg("failed to persist credential after connect")
	}
	s.setCurrentBroker(adapter, req.Broker)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"broker": result.Broker, "kind": result.Kind, "connected_at": result.ConnectedAt})
}

func (s *Server) handleBrokerDisconnect(w http.ResponseWriter, r *http.Request) {
	br := s.broker()
	if br == nil {
		s.writeError(w, http.StatusNotFound, "not-found", "no broker currently connected")
		return
	}
	if err := br.Disconnect(r.Context()); err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"disconnected": true})
}

func (s *Server) handleBrokerStatus(w http.ResponseWriter, r *http.Request) {
	br := s.broker()
	if br == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"connected": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"connected": br.IsConnected(),
		"broker":    s.currentBrokerName(),
		"kind":      string(br.Kind()),
	})
}

type oauthInitiateRequest struct {
	Broker    string `json:"broker"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

func (s *Server) handleOAuthInitiate(w http.ResponseWriter, r *http.Request) {
	var req oauthInitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation-failed", "invalid JSON body")
		return
	}
	if s.liveBrokers == nil {
		s.writeError(w, http.StatusBadRequest, "validation-failed", "no live broker configured", "broker")
		return
	}
	adapter, ok := s.liveBrokers(req.Broker)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "validation-failed", "unknown broker", "broker")
		return
	}
	s.pendingOAuthMu.Lock()
	s.pendingOAuth[req.Broker] = req
	s.pendingOAuthMu.Unlock()

	url, state, err := adapter.IssueOAuthState(req.APIKey)
	if err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"authorization_url": url, "state": state})
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	requestToken := r.URL.Query().Get("request_token")
	state := r.URL.Query().Get("state")
	broker := r.URL.Query().Get("broker")
	if requestToken == "" || state == "" {
		s.writeError(w, http.StatusBadRequest, "validation-failed", "request_token and state are required")
		return
	}
	if s.liveBrokers == nil {
		s.writeError(w, http.StatusBadRequest, "validation-failed", "no live broker configured", "broker")
		return
	}

	s.pendingOAuthMu.Lock()
	pending, ok := s.pendingOAuth[broker]
	delete(s.pendingOAuth, broker)
	s.pendingOAuthMu.Unlock()
	if !ok {
		s.writeError(w, http.StatusBadRequest, "validation-failed", "no pending oauth initiation for this broker", "broker")
		return
	}

	adapter, ok := s.liveBrokers(broker)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "validation-failed", "unknown broker", "broker")
		return
	}

	cred, err := adapter.CompleteOAuth(r.Context(), pending.APIKey, pending.APISecret, requestToken, state)
	if err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	if err := s.vault.Save(broker, cred); err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	if _, err := adapter.Connect(r.Context(), cred); err != nil {
		s.writeErrFromAdapter(w, err)
		return
	}
	s.setCurrentBroker(adapter, broker)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"connected": true, "broker": broker})
}
