package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/lox/smosaic/internal/models"
)

type HealthStatus struct {
	Status           string `json:"status"`
	MigrationVersion int    `json:"migration_version"`
	Error            string `json:"error,omitempty"`
}

// RunDetail is a run with its audit rows.
type RunDetail struct {
	Run        models.Run               `json:"run"`
	Candidates []models.CandidateRecord `json:"candidates"`
	Outputs    []models.OutputRecord    `json:"outputs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	version, err := s.store.MigrationVersion()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(HealthStatus{Status: "error", Error: err.Error()})
		return
	}
	json.NewEncoder(w).Encode(HealthStatus{Status: "ok", MigrationVersion: version})
}

func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(r.URL.Query().Get("band"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []models.Run{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}

func (s *Server) handleAPIRun(w http.ResponseWriter, r *http.Request) {
	detail, err := s.runDetail(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if detail == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(detail)
}

func (s *Server) runDetail(id string) (*RunDetail, error) {
	run, err := s.store.GetRun(id)
	if err != nil || run == nil {
		return nil, err
	}
	candidates, err := s.store.ListCandidates(id)
	if err != nil {
		return nil, err
	}
	outputs, err := s.store.ListOutputs(id)
	if err != nil {
		return nil, err
	}
	return &RunDetail{Run: *run, Candidates: candidates, Outputs: outputs}, nil
}

func (s *Server) handleQuicklook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	outputs, err := s.store.ListOutputs(vars["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	p := quicklookPath(outputs, vars["scene"])
	if p == "" {
		http.NotFound(w, r)
		return
	}

	f, err := s.fs.Open(p)
	if err != nil {
		http.Error(w, "quicklook unavailable", http.StatusNotFound)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	io.Copy(w, f)
}

func quicklookPath(outputs []models.OutputRecord, scene string) string {
	for _, o := range outputs {
		if o.SceneID == scene && o.Kind == models.KindQuicklook {
			return o.Path
		}
	}
	return ""
}
