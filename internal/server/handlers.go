package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/tsunagu/internal/feedback"
	"github.com/hyperjump/tsunagu/internal/jobs"
	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/hyperjump/tsunagu/internal/storage"
	"github.com/hyperjump/tsunagu/internal/webhook"
	"go.uber.org/zap"
)

const (
	onlineMessage = "TutorCruncher's service for managing Intercom is Online"
	defaultLimit  = 20
	maxLimit      = 200
	maxBodyBytes  = 1 << 20
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"message": onlineMessage})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRobots(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "User-agent: *\nDisallow: /\n")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.app.Status(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	kind := models.RunKind(r.URL.Query().Get("kind"))
	if kind != "" && kind != models.RunDedupe && kind != models.RunSync {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown run kind %q", kind))
		return
	}
	runs, err := s.app.Storage.ListRuns(r.Context(), kind, queryLimit(r))
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*models.Run{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.app.Storage.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleStartDedupe(w http.ResponseWriter, r *http.Request) {
	s.startRun(w, r, s.app.StartDuplicateReconciliation)
}

func (s *Server) handleStartSync(w http.ResponseWriter, r *http.Request) {
	s.startRun(w, r, s.app.StartKnowledgeSync)
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request, start func(dryRun bool) (*models.Run, error)) {
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))
	run, err := start(dryRun)
	if errors.Is(err, jobs.ErrAlreadyRunning) {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("start run failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Debug("run started", zap.String("kind", string(run.Kind)), zap.String("run", run.ID), zap.Bool("dry_run", dryRun))
	s.respondJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.app.Storage.ListEvents(r.Context(), queryLimit(r))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []*models.WebhookEvent{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (s *Server) handleHelpSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	hits, err := s.app.SearchHelp(r.Context(), q, queryLimit(r))
	if err != nil {
		s.logger.Error("help search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"query": q, "hits": hits})
}

func (s *Server) handleIntercomCallback(w http.ResponseWriter, r *http.Request) {
	var n webhook.Notification
	if err := decodeBody(r, &n); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	msg, err := s.app.Webhooks.HandleIntercom(r.Context(), n)
	if err != nil {
		s.logger.Error("intercom callback failed", zap.String("topic", n.Topic), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) handleBlogCallback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	msg, err := s.app.Webhooks.BlogSubscribe(r.Context(), body.Email)
	if errors.Is(err, webhook.ErrEmailRequired) {
		s.respondError(w, http.StatusBadRequest, "Email address is required")
		return
	}
	if err != nil {
		s.logger.Error("blog callback failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) handleDeployHook(w http.ResponseWriter, r *http.Request) {
	msg, run, err := s.app.Webhooks.Deploy(r.Context())
	if err != nil {
		s.logger.Error("deploy hook failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{"message": msg}
	if run != nil {
		resp["run"] = run
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHelpFeedback(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Header.Get("Referer")
	}
	if origin == "" || !strings.HasPrefix(origin, s.allowedOrigin) {
		s.respondError(w, http.StatusForbidden,
			fmt.Sprintf("The current Origin, %s, does not match the allowed domains", origin))
		return
	}
	var f feedback.Feedback
	if err := decodeBody(r, &f); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := f.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("Processing feedback from help page...", zap.String("page", f.PageURL))
	ctx := context.WithoutCancel(r.Context())
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		msg, err := s.app.Feedback.Process(ctx, f)
		if err != nil {
			s.logger.Error("feedback processing failed", zap.String("page", f.PageURL), zap.Error(err))
			return
		}
		s.logger.Debug("feedback processed", zap.String("message", msg))
	}()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "OK")
}

func decodeBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
