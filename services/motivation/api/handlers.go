package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/vitalis-labs/service_layer/internal/database"
	svcerrors "github.com/vitalis-labs/service_layer/internal/errors"
	"github.com/vitalis-labs/service_layer/internal/httputil"
	"github.com/vitalis-labs/service_layer/internal/middleware"
	"github.com/vitalis-labs/service_layer/internal/progress"
	"github.com/vitalis-labs/service_layer/internal/topics"
)

const msgUnlockWarning = "Progress saved, but the next step could not be unlocked"

// registerRoutes registers the standard routes and the authenticated API.
func (s *Service) registerRoutes() {
	s.RegisterStandardRoutes()

	api := s.Router().NewRoute().Subrouter()
	api.Use(s.auth.Handler, middleware.RequireUserID, s.limiter.Handler)

	api.HandleFunc("/progress", s.handleGetProgress).Methods(http.MethodGet)
	api.HandleFunc("/progress/select", s.handleSelectStep).Methods(http.MethodPost)
	api.HandleFunc("/progress/complete", s.handleCompleteCurrent).Methods(http.MethodPost)
	api.HandleFunc("/progress/steps/{id:[0-9]+}/complete", s.handleCompleteStep).Methods(http.MethodPost)
	api.HandleFunc("/topics/{topic}", s.handleGetTopic).Methods(http.MethodGet)
	api.HandleFunc("/topics/{topic}", s.handleSubmitTopic).Methods(http.MethodPut)
}

// =============================================================================
// Progress
// =============================================================================

// handleGetProgress reloads and returns the caller's journey. A session
// created by this request has just been read and is returned as is.
func (s *Service) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	session, loaded := s.sessions.Load(r.Context(), middleware.GetUserID(r.Context()))
	if loaded {
		httputil.WriteJSON(w, http.StatusOK, session.View())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session.Refresh(r.Context()))
}

// handleSelectStep navigates to a step if it is reachable.
func (s *Service) handleSelectStep(w http.ResponseWriter, r *http.Request) {
	var input SelectStepInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	if err := s.validate.Struct(input); err != nil {
		httputil.WriteServiceError(w, r, svcerrors.Validation(err).WithDetails("error", err.Error()))
		return
	}

	session := s.sessions.Get(r.Context(), middleware.GetUserID(r.Context()))
	view, accepted := session.SelectStep(input.StepID)
	httputil.WriteJSON(w, http.StatusOK, SelectStepResponse{Accepted: accepted, Progress: view})
}

// handleCompleteCurrent completes the step currently shown.
func (s *Service) handleCompleteCurrent(w http.ResponseWriter, r *http.Request) {
	session := s.sessions.Get(r.Context(), middleware.GetUserID(r.Context()))
	view, err := session.CompleteCurrent(r.Context())
	s.writeCompletion(w, r, view, err)
}

// handleCompleteStep completes a step by id and, unless unlock_next is false,
// makes the following step available.
func (s *Service) handleCompleteStep(w http.ResponseWriter, r *http.Request) {
	stepID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteServiceError(w, r, svcerrors.BadRequest("step id must be an integer"))
		return
	}

	var input CompleteStepInput
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &input); err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
	}

	session := s.sessions.Get(r.Context(), middleware.GetUserID(r.Context()))
	var view progress.View
	if input.UnlockNext != nil && !*input.UnlockNext {
		view, err = session.Complete(r.Context(), stepID)
	} else {
		view, err = session.CompleteAndUnlockNext(r.Context(), stepID)
	}
	s.writeCompletion(w, r, view, err)
}

// writeCompletion writes the outcome of a completion. A partial unlock still
// saved the step, so it answers 200 with a warning.
func (s *Service) writeCompletion(w http.ResponseWriter, r *http.Request, view progress.View, err error) {
	if err == nil {
		httputil.WriteJSON(w, http.StatusOK, CompletionResponse{Progress: view})
		return
	}
	if progress.IsPartialUnlock(err) {
		httputil.WriteJSON(w, http.StatusOK, CompletionResponse{Progress: view, Warning: msgUnlockWarning})
		return
	}
	httputil.WriteServiceError(w, r, mapError(err))
}

// =============================================================================
// Topics
// =============================================================================

// handleGetTopic returns the caller's saved answers for a topic.
func (s *Service) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]
	answers, err := s.topics.Load(r.Context(), middleware.GetUserID(r.Context()), topic)
	if err != nil {
		httputil.WriteServiceError(w, r, mapError(err))
		return
	}

	resp := TopicResponse{Topic: topic, Answers: answers}
	if step, ok := s.sessions.Catalog().ByTopic(topic); ok {
		resp.StepID = step.ID
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// handleSubmitTopic saves answers and completes the topic's step.
func (s *Service) handleSubmitTopic(w http.ResponseWriter, r *http.Request) {
	var input SubmitTopicInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	if err := s.validate.Struct(input); err != nil {
		httputil.WriteServiceError(w, r, svcerrors.Validation(err).WithDetails("error", err.Error()))
		return
	}

	view, err := s.topics.Submit(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["topic"], input.Answers)
	s.writeCompletion(w, r, view, err)
}

// =============================================================================
// Error mapping
// =============================================================================

// mapError translates journey errors to HTTP errors. Anything unrecognized
// came from the store and is reported as an upstream failure.
func mapError(err error) *svcerrors.ServiceError {
	switch {
	case errors.Is(err, progress.ErrBusy):
		return svcerrors.Conflict("A save is already in progress")
	case errors.Is(err, progress.ErrSessionClosed):
		return svcerrors.Conflict("Session closed")
	case errors.Is(err, progress.ErrUnknownStep):
		return svcerrors.NotFound("step", "")
	case errors.Is(err, progress.ErrStepLocked):
		return svcerrors.Forbidden("Step is locked")
	case errors.Is(err, topics.ErrUnknownTopic):
		return svcerrors.NotFound("topic", "")
	case errors.Is(err, topics.ErrInvalidAnswers):
		return svcerrors.Validation(err).WithDetails("error", err.Error())
	case errors.Is(err, database.ErrInvalidInput):
		return svcerrors.BadRequest(err.Error())
	case progress.IsDataAccess(err):
		return svcerrors.Upstream("Failed to save progress", err)
	default:
		return svcerrors.Upstream("Storage request failed", err)
	}
}
