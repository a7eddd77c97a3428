package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ternarybob/ctxpipe/internal/ctxmodel"
	"github.com/ternarybob/ctxpipe/internal/frontend"
	"github.com/ternarybob/ctxpipe/internal/metrics"
	"github.com/ternarybob/ctxpipe/internal/objectstore"
	"github.com/ternarybob/ctxpipe/internal/rules"
)

// submitResponse is the JSON body returned by POST /submit.
type submitResponse struct {
	WorkID string `json:"work_id"`
}

// handleSubmit accepts a multipart upload, finalizes it into the
// object store, detects its type and enqueues a root job. It blocks
// only for the publisher to accept and enqueue the job, not for any
// downstream processing.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Limits.MaxSubmitSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("parse multipart form: %v", err), http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("missing file field: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	tempPath, size, err := s.stageTempFile(file)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to stage submitted file")
		http.Error(w, "failed to stage upload", http.StatusInternalServerError)
		return
	}

	objectID, size, err := objectstore.Finalize(tempPath, s.cfg.Storage.ObjectsPath)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to finalize submitted object")
		http.Error(w, "failed to store upload", http.StatusInternalServerError)
		return
	}

	objectType := r.FormValue("object_type")
	if objectType == "" {
		objectType, err = frontend.DetectType(objectstore.Path(s.cfg.Storage.ObjectsPath, objectID))
		if err != nil {
			s.logger.Warn().Err(err).Str("object_id", objectID).Msg("type detection failed, defaulting to UNKNOWN")
			objectType = "UNKNOWN"
		}
	}

	maxRecursion := s.cfg.Limits.MaxRecursion
	if v := r.FormValue("max_recursion"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil && uint32(n) <= s.cfg.Limits.MaxRecursion {
			maxRecursion = uint32(n)
		}
	}
	ttl := s.cfg.Limits.WorkTTL
	if v := r.FormValue("ttl_seconds"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			ttl = time.Duration(n) * time.Second
			if ttl > ctxmodel.MaxWorkTTL {
				ttl = ctxmodel.MaxWorkTTL
			}
		}
	}
	var relationMetadata ctxmodel.Metadata
	if v := r.FormValue("relation_metadata"); v != "" {
		if err := json.Unmarshal([]byte(v), &relationMetadata); err != nil {
			http.Error(w, fmt.Sprintf("invalid relation_metadata: %v", err), http.StatusBadRequest)
			return
		}
	}

	reply := make(chan JobReply, 1)
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	err = s.publisher.Submit(ctx, BrokerAction{Job: &JobAction{
		Object: ctxmodel.Info{
			ObjectID:       objectID,
			ObjectType:     objectType,
			Size:           size,
			CreateTimeUnix: float64(time.Now().Unix()),
		},
		MaxRecursion:     maxRecursion,
		TTLDeadlineUnix:  float64(time.Now().Add(ttl).Unix()),
		RelationMetadata: relationMetadata,
		ReplyTo:          reply,
	}})
	if err != nil {
		http.Error(w, "failed to enqueue job", http.StatusServiceUnavailable)
		return
	}

	select {
	case r := <-reply:
		if r.Err != nil {
			s.logger.Error().Err(r.Err).Msg("failed to publish root job")
			http.Error(w, "failed to publish job", http.StatusInternalServerError)
			return
		}
		metrics.EndpointWorkRequestsTotal.Inc()
		writeJSON(w, http.StatusAccepted, submitResponse{WorkID: r.WorkID})
	case <-ctx.Done():
		http.Error(w, "timed out waiting for job to publish", http.StatusGatewayTimeout)
	}
}

// stageTempFile copies an uploaded file into a scratch path inside
// the object store's own directory, so the final os.Rename in
// objectstore.Finalize stays on one filesystem.
func (s *Server) stageTempFile(r io.Reader) (path string, size int64, err error) {
	if err := os.MkdirAll(s.cfg.Storage.ObjectsPath, 0o755); err != nil {
		return "", 0, fmt.Errorf("create objects dir: %w", err)
	}
	f, err := os.CreateTemp(s.cfg.Storage.ObjectsPath, "upload-*.tmp")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		objectstore.Discard(f.Name())
		return "", 0, fmt.Errorf("copy upload: %w", err)
	}
	return f.Name(), n, nil
}

// handleSearch compiles q as a Search rule and returns every matching
// object, most recent first, bounded by MaxSearchResults.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		http.Error(w, "missing q parameter", http.StatusBadRequest)
		return
	}
	compiled, err := rules.ParseToSQL(q, rules.Search)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid rule: %v", err), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Limits.SearchTimeout)
	defer cancel()
	results, err := s.db.Search(ctx, compiled.SQL, compiled.Args, s.cfg.Limits.MaxSearchResults)
	if err != nil {
		s.logger.Error().Err(err).Str("query", q).Msg("search failed")
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// handleActions serves GET /actions/{work_id}.
func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	workID := strings.TrimPrefix(r.URL.Path, "/actions/")
	if workID == "" {
		http.Error(w, "missing work id", http.StatusBadRequest)
		return
	}

	exists, completed, err := s.db.WorkStatus(r.Context(), workID)
	if err != nil {
		http.Error(w, "failed to look up work", http.StatusInternalServerError)
		return
	}
	if !exists {
		http.Error(w, "unknown work id", http.StatusNotFound)
		return
	}

	actions, err := s.db.GetWorkActions(r.Context(), workID, s.cfg.Limits.MaxActionResults)
	if err != nil {
		s.logger.Error().Err(err).Str("work_id", workID).Msg("failed to load work actions")
		http.Error(w, "failed to load actions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ctxmodel.WorkActions{
		WorkID:  workID,
		Time:    float64(time.Now().Unix()),
		Actions: actions,
	})
	_ = completed // completion state is implied by whether actions can still grow; exposed via /actions for now
}

// applyScenariosRequest is the body of POST /apply_scenarios.
type applyScenariosRequest struct {
	WorkIDs []string `json:"work_ids"`
}

// handleApplyScenarios re-evaluates scenarios for a (usually
// reprocessing-triggered) set of already-completed works.
func (s *Server) handleApplyScenarios(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.cfg.Limits.ReprocessEnabled {
		http.Error(w, "reprocessing is disabled", http.StatusForbidden)
		return
	}

	var req applyScenariosRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid body: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.WorkIDs) == 0 {
		http.Error(w, "work_ids must not be empty", http.StatusBadRequest)
		return
	}

	reply := make(chan error, 1)
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	err := s.publisher.Submit(ctx, BrokerAction{ApplyScenarios: &ApplyScenariosAction{WorkIDs: req.WorkIDs, ReplyTo: reply}})
	if err != nil {
		http.Error(w, "failed to enqueue scenario reapplication", http.StatusServiceUnavailable)
		return
	}
	select {
	case err := <-reply:
		if err != nil {
			s.logger.Error().Err(err).Msg("apply_scenarios failed")
			http.Error(w, "failed to reapply scenarios", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	case <-ctx.Done():
		http.Error(w, "timed out applying scenarios", http.StatusGatewayTimeout)
	}
}

// handleReload bumps the scenario generation and fans the change out
// over the in-process broker, for the director's next poll/tick.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reply := make(chan error, 1)
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	err := s.publisher.Submit(ctx, BrokerAction{Reload: &ReloadAction{ReplyTo: reply}})
	if err != nil {
		http.Error(w, "failed to enqueue reload", http.StatusServiceUnavailable)
		return
	}
	select {
	case err := <-reply:
		if err != nil {
			http.Error(w, "reload failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case <-ctx.Done():
		http.Error(w, "timed out reloading scenarios", http.StatusGatewayTimeout)
	}
}

func (s *Server) handleMetrics() http.Handler {
	return promhttp.Handler()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
