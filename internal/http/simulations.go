package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"medisim/internal/core"
	"medisim/pkg"
)

type startRequest struct {
	CaseID string `json:"case_id"`
	UserID string `json:"user_id"`
}

type startResponse struct {
	SimulationID        string     `json:"simulation_id"`
	State               core.State `json:"state"`
	Greeting            string     `json:"greeting"`
	ProviderUnavailable bool       `json:"provider_unavailable"`
}

type questionRequest struct {
	Text string `json:"text"`
}

type questionResponse struct {
	Text                string             `json:"text"`
	Classification      pkg.Classification `json:"classification"`
	ProviderUnavailable bool               `json:"provider_unavailable"`
	State               core.State         `json:"state"`
}

type completeRequest struct {
	Diagnosis string `json:"diagnosis"`
	Reasoning string `json:"reasoning"`
}

// handleStartSimulation opens a session for the case and fetches the
// patient's greeting.  A provider outage still starts the simulation; the
// client gets the template greeting and the provider_unavailable flag.
func (s *Server) handleStartSimulation(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CaseID == "" {
		writeMessage(w, http.StatusBadRequest, "case_id is required")
		return
	}

	sess, err := s.sims.Open(r.Context(), req.CaseID, req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	greeting, err := sess.Greeting(r.Context())
	unavailable := errors.Is(err, core.ErrProviderUnavailable)
	if err != nil && !unavailable {
		if abandonErr := s.sims.Abandon(r.Context(), sess.ID()); abandonErr != nil {
			slog.Warn("failed to abandon simulation after greeting error", "session_id", sess.ID(), "error", abandonErr)
		}
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, startResponse{
		SimulationID:        sess.ID(),
		State:               sess.State(),
		Greeting:            greeting,
		ProviderUnavailable: unavailable,
	})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*core.Session, bool) {
	sess, err := s.sims.Get(chi.URLParam(r, "simID"))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req questionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := ask(r.Context(), sess, req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ask runs one question and folds a provider outage into the response.
func ask(ctx context.Context, sess *core.Session, text string) (questionResponse, error) {
	resp, err := sess.Ask(ctx, text)
	unavailable := errors.Is(err, core.ErrProviderUnavailable)
	if err != nil && !unavailable {
		return questionResponse{}, err
	}
	return questionResponse{
		Text:                resp.Text,
		Classification:      resp.Classification,
		ProviderUnavailable: unavailable,
		State:               sess.State(),
	}, nil
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	turns, err := sess.Turns()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"simulation_id": sess.ID(),
		"state":         sess.State(),
		"turns":         turns,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Reset(); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.sims.Finish(r.Context(), chi.URLParam(r, "simID"), req.Diagnosis, req.Reasoning)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAbandonSimulation(w http.ResponseWriter, r *http.Request) {
	if err := s.sims.Abandon(r.Context(), chi.URLParam(r, "simID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
