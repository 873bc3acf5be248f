package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lifeadmin/commitd/internal/auth"
	"github.com/lifeadmin/commitd/internal/config"
	"github.com/lifeadmin/commitd/internal/lifecycle"
	"github.com/lifeadmin/commitd/internal/models"
	"github.com/lifeadmin/commitd/internal/notify"
	"github.com/lifeadmin/commitd/internal/reconcile"
	"github.com/lifeadmin/commitd/internal/store"
	"github.com/lifeadmin/commitd/internal/sweeper"
)

type Server struct {
	cfg      config.Config
	service  *lifecycle.Service
	engine   *reconcile.Engine
	sweeper  *sweeper.Sweeper
	store    store.Store
	notifier notify.Notifier
}

func New(cfg config.Config, svc *lifecycle.Service, engine *reconcile.Engine, sw *sweeper.Sweeper, st store.Store, ntf notify.Notifier) *Server {
	return &Server{cfg: cfg, service: svc, engine: engine, sweeper: sw, store: st, notifier: ntf}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	r.Get("/commitments", s.handleSnapshot)
	r.Get("/commitments/{owner}", s.handleOwned)
	r.Post("/track", s.handleTrack)
	r.Post("/proof", s.handleProof)
	r.Post("/run-reminders", s.handleRunReminders)
	r.Get("/test-notify", s.handleTestNotify)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireVerifier(s.cfg.VerifierJWTSecret, verifierFromPath))
		r.Get("/verifier/{verifierID}", s.handleVerifierQueue)
		r.Post("/approve", s.handleApprove)
		r.Post("/reject", s.handleReject)
	})

	return r
}

// verifierFromPath binds the token subject to the verifier being queried; the
// POST routes carry the verifier in the body and are re-checked against the
// record by the lifecycle service.
func verifierFromPath(r *http.Request) string {
	return chi.URLParam(r, "verifierID")
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"service": "commitd"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	}
	if err := s.store.Ping(ctx); err != nil {
		status["ok"] = false
		status["store"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleOwned(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	items, err := s.engine.Owned(r.Context(), owner)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, items)
}

// trackRequest tolerates the field aliases clients send; normalization maps
// each alias set to one canonical field before the core sees the data.
type trackRequest struct {
	MintAddress string          `json:"mintAddress"`
	ID          string          `json:"id"`
	Owner       string          `json:"owner"`
	Email       string          `json:"email"`
	MetadataURI string          `json:"metadataUri"`
	Service     string          `json:"service"`
	Goal        string          `json:"goal"`
	RenewalDate string          `json:"renewalDate"`
	Deadline    string          `json:"deadline"`
	StakeAmount json.RawMessage `json:"stakeAmount"`
	Stake       json.RawMessage `json:"stake"`
	Verifier    string          `json:"verifier"`
}

func (req trackRequest) normalize() lifecycle.TrackRequest {
	out := lifecycle.TrackRequest{
		ID:          firstNonEmpty(trim(req.MintAddress), trim(req.ID)),
		Owner:       req.Owner,
		Verifier:    req.Verifier,
		Email:       req.Email,
		MetadataURI: req.MetadataURI,
		Service:     firstNonEmpty(req.Service, req.Goal),
		Stake:       stakeFromRaw(req.StakeAmount, req.Stake),
	}
	if s := firstNonEmpty(req.RenewalDate, req.Deadline); s != "" {
		if t, err := models.ParseDeadline(s); err == nil {
			out.Deadline = t
		}
	}
	return out
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := s.service.Track(r.Context(), req.normalize())
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	if !created {
		respondJSON(w, http.StatusOK, map[string]string{"message": "Already tracked"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type proofRequest struct {
	MintAddress string `json:"mintAddress"`
	ID          string `json:"id"`
	ProofCid    string `json:"proofCid"`
	ProofRef    string `json:"proofRef"`
	SubmittedBy string `json:"submittedBy"`
	Recovery    *struct {
		Service  string          `json:"service"`
		Stake    json.RawMessage `json:"stake"`
		Deadline string          `json:"deadline"`
	} `json:"recovery"`
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	var req proofRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	in := lifecycle.ProofRequest{
		ID:          firstNonEmpty(trim(req.MintAddress), trim(req.ID)),
		SubmittedBy: req.SubmittedBy,
		ProofRef:    firstNonEmpty(req.ProofCid, req.ProofRef),
	}
	if req.Recovery != nil && req.Recovery.Service != "" {
		hints := &lifecycle.RecoveryHints{
			Service: req.Recovery.Service,
			Stake:   stakeFromRaw(req.Recovery.Stake),
		}
		if req.Recovery.Deadline != "" {
			if t, err := models.ParseDeadline(req.Recovery.Deadline); err == nil {
				hints.Deadline = t
			}
		}
		in.Recovery = hints
	}
	rec, err := s.service.SubmitProof(r.Context(), in)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "status": rec.Status})
}

func (s *Server) handleVerifierQueue(w http.ResponseWriter, r *http.Request) {
	verifierID := chi.URLParam(r, "verifierID")
	records, err := s.store.FindByVerifier(r.Context(), verifierID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, records)
}

type approveRequest struct {
	MintAddress string `json:"mintAddress"`
	ID          string `json:"id"`
	Verifier    string `json:"verifier"`
	TxSignature string `json:"txSignature"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.service.Approve(r.Context(), lifecycle.ApproveRequest{
		ID:           firstNonEmpty(trim(req.MintAddress), trim(req.ID)),
		Verifier:     req.Verifier,
		ResolutionTx: req.TxSignature,
	})
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "refundTx": rec.ResolutionTx})
}

type rejectRequest struct {
	MintAddress string `json:"mintAddress"`
	ID          string `json:"id"`
	Verifier    string `json:"verifier"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	_, err := s.service.Reject(r.Context(), lifecycle.RejectRequest{
		ID:       firstNonEmpty(trim(req.MintAddress), trim(req.ID)),
		Verifier: req.Verifier,
	})
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleRunReminders(w http.ResponseWriter, r *http.Request) {
	sent, err := s.sweeper.Sweep(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "sent": sent})
}

func (s *Server) handleTestNotify(w http.ResponseWriter, r *http.Request) {
	to := r.URL.Query().Get("to")
	if to == "" {
		respondError(w, http.StatusBadRequest, "missing ?to=address")
		return
	}
	err := s.notifier.Send(r.Context(), notify.Message{
		To:      to,
		Subject: "commitd notification check",
		Text:    "Notification system is configured correctly.",
		HTML:    "<h2>Notification system working</h2>",
	})
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, lifecycle.ErrTerminal):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
