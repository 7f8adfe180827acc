package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/agoramesh/agora/pkg/crypto"
	"github.com/agoramesh/agora/pkg/envelope"
	"github.com/agoramesh/agora/pkg/escrow"
	"github.com/agoramesh/agora/pkg/node"
	"github.com/agoramesh/agora/pkg/observability"
	"github.com/agoramesh/agora/pkg/registry"
)

// Server exposes the node over HTTP.
type Server struct {
	node      *node.Node
	logger    *slog.Logger
	telemetry *observability.Provider
	limiter   *RateLimiter
}

// NewServer wires the node behind the HTTP surface. telemetry may be a
// disabled provider; limiter may be nil to skip rate limiting (tests).
func NewServer(n *node.Node, logger *slog.Logger, telemetry *observability.Provider, limiter *RateLimiter) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if telemetry == nil {
		telemetry = &observability.Provider{}
	}
	return &Server{node: n, logger: logger, telemetry: telemetry, limiter: limiter}
}

// Handler builds the full route table with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/agents", s.handleRegisterAgent)
	mux.HandleFunc("POST /v1/offers", s.handlePublishOffer)
	mux.HandleFunc("GET /v1/offers", s.handleListOffers)
	mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /v1/jobs/{id}/events", s.handleListEvents)
	mux.HandleFunc("POST /v1/jobs/{id}/actions/{kind}", s.handleSubmitAction)
	mux.HandleFunc("GET /v1/jobs/{id}/audit-bundle", s.handleAuditBundle)
	mux.HandleFunc("POST /v1/verify", s.handleVerify)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	var h http.Handler = mux
	h = RequestLogger(s.logger, h)
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	return h
}

// writeProblem maps domain errors onto HTTP statuses. The mapping is part of
// the API contract: the same rejection always yields the same status.
func (s *Server) writeProblem(w http.ResponseWriter, r *http.Request, err error) {
	var validation *envelope.ValidationError
	var inadmissible *escrow.InadmissibleTransitionError

	switch {
	case errors.As(err, &validation):
		WriteError(w, r, http.StatusBadRequest, validation.Code, validation.Message)
	case errors.Is(err, crypto.ErrInvalidEncoding):
		WriteError(w, r, http.StatusBadRequest, "Invalid Encoding", err.Error())
	case errors.Is(err, registry.ErrUnknownSigner):
		WriteError(w, r, http.StatusUnauthorized, "Unknown Signer", err.Error())
	case errors.Is(err, crypto.ErrInvalidSignature):
		WriteError(w, r, http.StatusUnauthorized, "Invalid Signature", err.Error())
	case errors.Is(err, crypto.ErrIdentityMismatch):
		WriteError(w, r, http.StatusForbidden, "Identity Mismatch", err.Error())
	case errors.Is(err, node.ErrActorMismatch):
		WriteError(w, r, http.StatusForbidden, "Actor Mismatch", err.Error())
	case errors.Is(err, node.ErrJobNotFound), errors.Is(err, node.ErrOfferNotFound):
		WriteError(w, r, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, node.ErrJobExists), errors.Is(err, node.ErrOfferExists),
		errors.Is(err, registry.ErrAlreadyRegistered):
		WriteError(w, r, http.StatusConflict, "Already Exists", err.Error())
	case errors.As(err, &inadmissible):
		WriteError(w, r, http.StatusConflict, "Inadmissible Transition", err.Error())
	case errors.Is(err, escrow.ErrDisputesUnsupported):
		WriteError(w, r, http.StatusNotImplemented, "Disputes Unsupported", err.Error())
	case errors.Is(err, node.ErrConcurrentAppendConflict):
		WriteError(w, r, http.StatusConflict, "Append Conflict", err.Error())
	default:
		s.logger.ErrorContext(r.Context(), "internal error", "error", err, "path", r.URL.Path)
		WriteError(w, r, http.StatusInternalServerError, "Internal Error", "unexpected failure")
	}
}
