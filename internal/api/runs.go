package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atelierhq/atelier-studio/generation-plane/internal/store"
)

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	results := make([]map[string]any, 0, len(runs))
	for _, run := range runs {
		results = append(results, runResponse(run))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"runs": results})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(runResponse(*run))
}

// listRunSteps exposes the memoization log for audit and debugging;
// records persist for the life of the run.
func (s *Server) listRunSteps(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	records, err := s.store.ListStepRecords(r.Context(), runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	results := make([]map[string]any, 0, len(records))
	for _, record := range records {
		entry := map[string]any{
			"step_name":         record.StepName,
			"status":            record.Status,
			"input_fingerprint": record.InputFingerprint,
			"attempt":           record.Attempt,
			"updated_at":        record.UpdatedAt,
		}
		if record.Status == store.StepStatusSucceeded {
			entry["output"] = record.Output
		}
		if record.Error != "" {
			entry["error"] = record.Error
		}
		results = append(results, entry)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"steps": results})
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if err := s.workflows.CancelRun(r.Context(), runID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func runResponse(run store.WorkflowRun) map[string]any {
	response := map[string]any{
		"id":              run.ID,
		"conversation_id": run.ConversationID,
		"message_id":      run.MessageID,
		"status":          run.Status,
		"created_at":      run.CreatedAt,
	}
	if run.Error != "" {
		response["error"] = run.Error
	}
	if run.CompletedAt != "" {
		response["completed_at"] = run.CompletedAt
	}
	return response
}
