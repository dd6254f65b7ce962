// Package company serves the single-shot company lookup tool over the
// same directory the pipeline resolves against.
package company

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"dart_deepsearch/pkg/models"
)

type LookupResponse struct {
	Query      string                `json:"query"`
	Candidates []models.CompanyMatch `json:"candidates"`
}

// resolver is the slice of dartapi.Directory the handler needs.
type resolver interface {
	Resolve(ctx context.Context, name string) ([]models.CompanyMatch, error)
	ByStockCode(ctx context.Context, code string) (models.Company, bool, error)
}

type Handler struct {
	directory resolver
}

func NewHandler(dir resolver) *Handler {
	return &Handler{directory: dir}
}

// HandleLookup resolves ?name= to directory candidates. A 6-digit
// numeric input is treated as a stock code before falling back to the
// fuzzy name match.
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		http.Error(w, "Missing name parameter", http.StatusBadRequest)
		return
	}

	resp := LookupResponse{Query: name, Candidates: []models.CompanyMatch{}}

	if isStockCode(name) {
		found, ok, err := h.directory.ByStockCode(r.Context(), name)
		if err != nil {
			http.Error(w, fmt.Sprintf("Directory unavailable: %v", err), http.StatusBadGateway)
			return
		}
		if ok {
			resp.Candidates = append(resp.Candidates, models.CompanyMatch{Company: found, Score: 100})
		}
	} else {
		matches, err := h.directory.Resolve(r.Context(), name)
		if err != nil {
			http.Error(w, fmt.Sprintf("Directory unavailable: %v", err), http.StatusBadGateway)
			return
		}
		resp.Candidates = append(resp.Candidates, matches...)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func isStockCode(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
