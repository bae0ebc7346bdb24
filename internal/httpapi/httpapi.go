// Package httpapi implements the stable HTTP surface (spec §6.1) over the
// Match Authority Service, the Multisig Governance Core, and the Slashing
// Core, grounded on the teacher's services/otc-gateway/server router shape.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"matchguard/internal/apierr"
	"matchguard/internal/governance"
	"matchguard/internal/identity"
	"matchguard/internal/matchauthority"
	"matchguard/internal/slashing"
	"matchguard/internal/store"
	"matchguard/internal/wsapi"
)

type ctxKey string

const ctxKeyCaller ctxKey = "caller"

// Server wires the core services into a chi router.
type Server struct {
	match      *matchauthority.Service
	governance *governance.Core
	slashing   *slashing.Core
	identity   identity.Oracle
	ws         *wsapi.Handler

	router http.Handler
}

// New constructs the configured router. ws may be nil, in which case the
// WebSocket surface of spec §6.2 is not mounted.
func New(match *matchauthority.Service, gov *governance.Core, slash *slashing.Core, idOracle identity.Oracle, ws *wsapi.Handler) *Server {
	s := &Server{match: match, governance: gov, slashing: slash, identity: idOracle, ws: ws}
	s.router = s.buildRouter()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(s.authenticate)

	r.Route("/api/matches", func(m chi.Router) {
		m.Post("/", s.createMatch)
		m.Get("/{id}", s.getMatch)
		m.Post("/{id}/start", s.startMatch)
		m.Post("/{id}/complete", s.completeMatch)
		m.Post("/{id}/dispute", s.raiseDispute)
		m.Post("/{id}/finalize", s.finalizeMatch)
		m.Post("/{id}/reconcile", s.reconcileMatch)
	})

	r.Route("/api/governance", func(g chi.Router) {
		g.Post("/proposals", s.createProposal)
		g.Post("/proposals/{id}/approve", s.approveProposal)
		g.Post("/proposals/{id}/revoke", s.revokeApproval)
		g.Post("/proposals/{id}/execute", s.executeProposal)
		g.Post("/proposals/{id}/cancel", s.cancelProposal)
	})

	r.Route("/api/slashing", func(sl chi.Router) {
		sl.Post("/cases", s.openCase)
		sl.Post("/cases/{id}/approve", s.approveCase)
		sl.Post("/cases/{id}/execute", s.executeCase)
		sl.Post("/cases/{id}/cancel", s.cancelCase)
	})

	if s.ws != nil {
		s.ws.Route(r)
	}

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// authenticate resolves the bearer token into an identity.Caller and stashes
// it in the request context; handlers that need authorization pull it back
// out via callerFromContext. A missing or unrecognised token yields an
// apierr.KindAuth error from the oracle, which writeError renders as 403.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.identity == nil || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		caller, err := s.identity.Resolve(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyCaller, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerFromContext(ctx context.Context) identity.Caller {
	c, _ := ctx.Value(ctxKeyCaller).(identity.Caller)
	return c
}

type matchView struct {
	Match       any `json:"match"`
	Transitions any `json:"transitions"`
}

func toMatchView(v matchauthority.MatchView) matchView {
	return matchView{Match: v.Match, Transitions: v.Transitions}
}

func (s *Server) createMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerA        string `json:"player_a"`
		PlayerB        string `json:"player_b"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	view, err := s.match.CreateMatch(r.Context(), matchauthority.CreateMatchInput{
		PlayerA: req.PlayerA, PlayerB: req.PlayerB, IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMatchView(view))
}

func (s *Server) getMatch(w http.ResponseWriter, r *http.Request) {
	view, err := s.match.GetMatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchView(view))
}

func (s *Server) startMatch(w http.ResponseWriter, r *http.Request) {
	view, err := s.match.StartMatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchView(view))
}

func (s *Server) completeMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Winner string `json:"winner"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	view, err := s.match.CompleteMatch(r.Context(), chi.URLParam(r, "id"), req.Winner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchView(view))
}

func (s *Server) raiseDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor  string `json:"actor"`
		Reason string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	view, err := s.match.RaiseDispute(r.Context(), chi.URLParam(r, "id"), req.Actor, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchView(view))
}

func (s *Server) finalizeMatch(w http.ResponseWriter, r *http.Request) {
	view, err := s.match.FinalizeMatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchView(view))
}

func (s *Server) reconcileMatch(w http.ResponseWriter, r *http.Request) {
	synced, message, err := s.match.ReconcileMatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"is_synchronized": synced, "message": message})
}

func (s *Server) createProposal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetContract string         `json:"target_contract"`
		FunctionName   string         `json:"function_name"`
		Args           map[string]any `json:"args"`
		ExecuteAfter   *time.Time     `json:"execute_after"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller := callerFromContext(r.Context())
	p, err := s.governance.CreateProposal(r.Context(), governance.CreateProposalInput{
		Proposer: caller.Subject, TargetContract: req.TargetContract, FunctionName: req.FunctionName,
		Args: req.Args, ExecuteAfter: req.ExecuteAfter,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) approveProposal(w http.ResponseWriter, r *http.Request) {
	caller := callerFromContext(r.Context())
	p, err := s.governance.Approve(r.Context(), caller.Subject, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) revokeApproval(w http.ResponseWriter, r *http.Request) {
	caller := callerFromContext(r.Context())
	p, err := s.governance.RevokeApproval(r.Context(), caller.Subject, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) executeProposal(w http.ResponseWriter, r *http.Request) {
	caller := callerFromContext(r.Context())
	p, err := s.governance.Execute(r.Context(), caller.Subject, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) cancelProposal(w http.ResponseWriter, r *http.Request) {
	caller := callerFromContext(r.Context())
	p, err := s.governance.CancelProposal(r.Context(), caller.Subject, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) openCase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject      string `json:"subject"`
		ReasonCode   int    `json:"reason_code"`
		EvidenceHash string `json:"evidence_hash"`
		PenaltyType  string `json:"penalty_type"`
		Amount       string `json:"amount"`
		Asset        string `json:"asset"`
		DurationSec  int64  `json:"duration_seconds"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller := callerFromContext(r.Context())
	c, err := s.slashing.OpenCase(r.Context(), slashing.OpenCaseInput{
		Caller: caller, Subject: req.Subject, ReasonCode: req.ReasonCode, EvidenceHash: req.EvidenceHash,
		PenaltyType: store.PenaltyType(req.PenaltyType), Amount: req.Amount, Asset: req.Asset,
		Duration: time.Duration(req.DurationSec) * time.Second,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) approveCase(w http.ResponseWriter, r *http.Request) {
	caller := callerFromContext(r.Context())
	c, err := s.slashing.ApproveCase(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) executeCase(w http.ResponseWriter, r *http.Request) {
	caller := callerFromContext(r.Context())
	c, err := s.slashing.ExecuteCase(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) cancelCase(w http.ResponseWriter, r *http.Request) {
	caller := callerFromContext(r.Context())
	c, err := s.slashing.CancelCase(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, context.Canceled) {
		return apierr.Wrap(apierr.KindValidation, apierr.CodeInvalidInput, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a core error onto the JSON envelope and status code
// required by spec §6.1: {error, code, details?}.
func writeError(w http.ResponseWriter, err error) {
	status := apierr.HTTPStatus(err)
	body := map[string]any{"error": err.Error()}
	if apiErr, ok := apierr.As(err); ok {
		body["code"] = apiErr.Code
		if apiErr.Details != nil {
			body["details"] = apiErr.Details
		}
	} else {
		body["code"] = apierr.CodeInternal
	}
	writeJSON(w, status, body)
}
