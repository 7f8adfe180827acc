package api

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/agoramesh/agora/pkg/audit"
	"github.com/agoramesh/agora/pkg/envelope"
	"github.com/agoramesh/agora/pkg/escrow"
)

// maxBodyBytes bounds request bodies; signed payloads are small by design.
const maxBodyBytes = 1 << 20

func (s *Server) decodeEnvelope(w http.ResponseWriter, r *http.Request) (*envelope.Signed, bool) {
	var env envelope.Signed
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		WriteError(w, r, http.StatusBadRequest, envelope.CodeEnvelopeShape, err.Error())
		return nil, false
	}
	return &env, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	ctx, done := s.telemetry.TrackAction(r.Context(), "register_agent")
	env, ok := s.decodeEnvelope(w, r)
	if !ok {
		done(nil)
		return
	}

	agent, err := s.node.RegisterAgent(ctx, env)
	done(err)
	if err != nil {
		s.writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handlePublishOffer(w http.ResponseWriter, r *http.Request) {
	ctx, done := s.telemetry.TrackAction(r.Context(), "publish_offer")
	env, ok := s.decodeEnvelope(w, r)
	if !ok {
		done(nil)
		return
	}

	offer, err := s.node.PublishOffer(ctx, env)
	done(err)
	if err != nil {
		s.writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := s.node.ListOffers(r.Context())
	if err != nil {
		s.writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, offers)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	ctx, done := s.telemetry.TrackAction(r.Context(), "create_job")
	env, ok := s.decodeEnvelope(w, r)
	if !ok {
		done(nil)
		return
	}

	job, event, err := s.node.CreateJob(ctx, env)
	done(err)
	if err != nil {
		s.writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"job": job, "event": event})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.node.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.node.ListEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleSubmitAction(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	kind := escrow.EventKind(r.PathValue("kind"))

	ctx, done := s.telemetry.TrackAction(r.Context(), "submit_action",
		attribute.String("event_type", string(kind)))
	env, ok := s.decodeEnvelope(w, r)
	if !ok {
		done(nil)
		return
	}

	event, err := s.node.SubmitAction(ctx, jobID, kind, env)
	done(err)
	if err != nil {
		s.writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

func (s *Server) handleAuditBundle(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.node.BuildAuditBundle(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeProblem(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := bundle.WriteJSON(w); err != nil {
		s.logger.ErrorContext(r.Context(), "bundle write failed", "error", err)
	}
}

// handleVerify replays a posted bundle offline. The report is 200 whether or
// not the bundle verifies: validity is in the body, not the status.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	bundle, err := audit.ReadBundle(http.MaxBytesReader(w, r.Body, 16*maxBodyBytes))
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "Malformed Bundle", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, audit.ReplayVerify(bundle))
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"authority": s.node.AuthorityID(),
	})
}
