package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/raphaelgruber/repokb-go/internal/models"
	"github.com/raphaelgruber/repokb-go/internal/service"
)

const maxRequestBodySize = 1 << 20 // 1MB

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// serviceError maps service sentinel errors onto HTTP status codes.
func serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, service.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func repoURLFromPath(r *http.Request) string {
	owner := chi.URLParam(r, "owner")
	repo := chi.URLParam(r, "repo")
	return "https://github.com/" + owner + "/" + repo
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.pinger.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ok":     false,
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "ready"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var opts models.IngestOptions
	if err := decodeBody(w, r, &opts); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}

	snap, err := s.ingest.Submit(r.Context(), opts)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ingest.JobStatus(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type queryRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
	FilterType string `json:"filter_type,omitempty"`
	RepoURL    string `json:"repo_url,omitempty"`
}

func (q queryRequest) toService() service.QueryRequest {
	return service.QueryRequest{
		Query:   q.Query,
		RepoURL: q.RepoURL,
		DocType: q.FilterType,
		TopK:    q.MaxResults,
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeBody(w, r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}

	res, err := s.query.Ask(r.Context(), req.toService())
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"answer":        res.Answer,
		"sources":       res.Sources,
		"total_sources": len(res.Sources),
	})
}

func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeBody(w, r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeEvent := func(payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	// The request context ends when the client disconnects, which
	// cancels generation upstream.
	err := s.query.AskStream(r.Context(), req.toService(),
		func(sources []models.RetrievedSource) error {
			return writeEvent(map[string]any{
				"type":          "sources",
				"sources":       sources,
				"total_sources": len(sources),
			})
		},
		func(token string) error {
			return writeEvent(map[string]any{"type": "text", "text": token})
		})
	if err != nil {
		if werr := writeEvent(map[string]any{"type": "error", "error": err.Error()}); werr != nil {
			s.logger.Warn("failed to write stream error event", "error", werr)
		}
		return
	}
	if err := writeEvent(map[string]any{"type": "done"}); err != nil {
		s.logger.Warn("failed to write stream done event", "error", err)
	}
}

func (s *Server) handleListRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := s.ingest.ListRepositories(r.Context())
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"repositories": repos,
		"total":        len(repos),
	})
}

func (s *Server) handleDeleteRepository(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.ingest.DeleteRepository(r.Context(), repoURLFromPath(r))
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted_documents": deleted})
}

func (s *Server) handleBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := s.commits.Branches(r.Context(), repoURLFromPath(r))
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"branches": branches,
		"total":    len(branches),
	})
}

func (s *Server) handleCommits(w http.ResponseWriter, r *http.Request) {
	branch := r.URL.Query().Get("branch")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit: %v", err)
			return
		}
		limit = n
	}

	commits, err := s.commits.Commits(r.Context(), repoURLFromPath(r), branch, limit)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"commits": commits,
		"total":   len(commits),
	})
}

func (s *Server) handleCommitDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.commits.Detail(r.Context(), repoURLFromPath(r), chi.URLParam(r, "sha"))
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleCommitExplain(w http.ResponseWriter, r *http.Request) {
	explanation, err := s.commits.Explain(r.Context(), repoURLFromPath(r), chi.URLParam(r, "sha"))
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, explanation)
}

type commitChatRequest struct {
	Message string            `json:"message"`
	History []models.ChatTurn `json:"history"`
}

func (s *Server) handleCommitChat(w http.ResponseWriter, r *http.Request) {
	var req commitChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}

	reply, err := s.commits.Chat(r.Context(), repoURLFromPath(r), chi.URLParam(r, "sha"), req.History, req.Message)
	if err != nil {
		serviceError(w, err)
		return
	}

	history := append(req.History,
		models.ChatTurn{Role: "user", Content: req.Message},
		models.ChatTurn{Role: "assistant", Content: reply},
	)
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}
