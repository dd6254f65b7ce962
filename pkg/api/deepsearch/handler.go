// Package deepsearch exposes the pipeline as an HTTP tool endpoint.
package deepsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"dart_deepsearch/pkg/core/pipeline"
	"dart_deepsearch/pkg/core/store"
	"dart_deepsearch/pkg/core/utils"
	"dart_deepsearch/pkg/models"
)

type SearchRequest struct {
	Query   string          `json:"query"`
	Options *RequestOptions `json:"options,omitempty"`
}

type RequestOptions struct {
	MaxAttempts         int    `json:"max_attempts,omitempty"`
	MaxResultsPerSearch int    `json:"max_results_per_search,omitempty"`
	Language            string `json:"language,omitempty"`
}

// searchPipeline is the slice of the orchestrator the handler needs.
type searchPipeline interface {
	DeepSearch(ctx context.Context, query string, opts pipeline.RunOptions) (*models.Envelope, error)
}

// Handler holds dependencies for the deep-search endpoints.
type Handler struct {
	pipeline searchPipeline
	repo     *store.RunRepo // nil disables run history
}

func NewHandler(p searchPipeline, repo *store.RunRepo) *Handler {
	return &Handler{pipeline: p, repo: repo}
}

// HandleDeepSearch runs the pipeline for the posted query. The response
// is always the envelope, whatever happened inside the run; hard
// failures are logged here and classified in the envelope's error field.
func (h *Handler) HandleDeepSearch(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	opts := pipeline.RunOptions{}
	if req.Options != nil {
		opts.MaxAttempts = req.Options.MaxAttempts
		opts.MaxResultsPerSearch = req.Options.MaxResultsPerSearch
		opts.Language = req.Options.Language
	}

	env, err := h.pipeline.DeepSearch(r.Context(), req.Query, opts)
	if err != nil {
		fmt.Printf("[API] deep search run %s hard failure: %v\n", env.Telemetry.RunID, err)
	}
	h.saveHistory(env)

	if r.URL.Query().Get("format") == "html" {
		html, rerr := utils.RenderMarkdown(env.Answer)
		if rerr != nil {
			http.Error(w, "Failed to render answer", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, html)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(env)
}

// saveHistory records the run summary without blocking the response.
func (h *Handler) saveHistory(env *models.Envelope) {
	if h.repo == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.repo.Save(ctx, env); err != nil {
			fmt.Printf("[WARNING] Failed to save run history: %v\n", err)
		}
	}()
}

// HandleRuns lists recent run summaries from the history store.
func (h *Handler) HandleRuns(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.repo == nil {
		http.Error(w, "Run history is not configured", http.StatusNotImplemented)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := h.repo.Recent(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}
