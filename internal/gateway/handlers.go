package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/holdboard/holdboard/internal/overlay"
	"github.com/holdboard/holdboard/pkg/proto"
)

// fileView is one rendered row: the committed record with pending edits
// resolved on top.
type fileView struct {
	Name           string            `json:"name"`
	Metadata       map[string]string `json:"metadata"`
	Locked         bool              `json:"locked"`
	LockDuration   string            `json:"lock_duration,omitempty"`
	Pending        bool              `json:"pending"`
	ExpirationDate *time.Time        `json:"expiration_date,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type filesResponse struct {
	Files   []fileView `json:"files"`
	Page    int        `json:"page"`
	Size    int        `json:"size"`
	Total   int        `json:"total"`
	Pages   int        `json:"pages"`
	Expired int        `json:"expired"` // Objects partitioned out because their hold lapsed
}

// handleFiles serves the merged, paginated listing for one bucket:
// server fetch, overlay merge, pending-edit resolution.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	bucket := r.URL.Query().Get("bucket")
	if bucket == "" {
		s.jsonError(w, "bucket is required", http.StatusBadRequest)
		return
	}
	query := r.URL.Query().Get("query")

	sess := s.sessions.resolve(w, r)
	rec := sess.recorder
	rec.SetActiveBucket(bucket, query)

	objects, generation, err := s.backend.ListObjects(r.Context(), bucket, query)
	if err != nil {
		s.metrics.BackendRequests.WithLabelValues("list", "error").Inc()
		s.jsonError(w, "listing fetch failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	s.metrics.BackendRequests.WithLabelValues("list", "ok").Inc()
	sess.committer.SetGeneration(bucket, generation)

	// The fetch is only applied if this bucket and filter are still the
	// active ones; a request that raced a bucket or filter switch renders
	// from a transient merge instead of clobbering the newer view.
	var states []overlay.EffectiveState
	var expiredCount int
	if activeBucket, activeQuery := rec.ActiveView(); activeBucket == bucket && activeQuery == query {
		rec.Reconcile(objects)
		states = rec.View()
		expiredCount = len(rec.Overlay().ExpiredObjects)
	} else {
		now := time.Now()
		ov := sess.store.Load(bucket)
		view, expired := overlay.BuildView(objects, ov, now)
		states = make([]overlay.EffectiveState, 0, len(view))
		for _, record := range view {
			states = append(states, overlay.ResolveEffectiveState(record, ov, now))
		}
		expiredCount = len(expired)
	}

	pageSize := rec.PageSize()
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			pageSize = n
		}
	}
	page := rec.CurrentPage()
	if p := r.URL.Query().Get("page"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			page = n
			rec.SetPage(n)
		}
	}

	total := len(states)
	pages := (total + pageSize - 1) / pageSize
	if pages == 0 {
		pages = 1
	}
	if page > pages {
		page = pages
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	files := make([]fileView, 0, end-start)
	for _, state := range states[start:end] {
		view := fileView{
			Name:           state.Record.Name,
			Metadata:       state.Metadata,
			Locked:         state.Locked,
			Pending:        state.Pending,
			ExpirationDate: state.Record.ExpirationDate,
			UpdatedAt:      state.Record.UpdatedAt,
		}
		if state.Locked {
			view.LockDuration = state.Classification.String()
		}
		files = append(files, view)
	}

	s.writeJSON(w, filesResponse{
		Files:   files,
		Page:    page,
		Size:    pageSize,
		Total:   total,
		Pages:   pages,
		Expired: expiredCount,
	})
}

func (s *Server) handleBuckets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	buckets, err := s.backend.ListBuckets(r.Context())
	if err != nil {
		s.metrics.BackendRequests.WithLabelValues("buckets", "error").Inc()
		s.jsonError(w, "bucket enumeration failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	s.metrics.BackendRequests.WithLabelValues("buckets", "ok").Inc()
	s.writeJSON(w, proto.BucketListResponse{Buckets: buckets})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	fragment := r.URL.Query().Get("q")
	if strings.TrimSpace(fragment) == "" {
		s.jsonError(w, "search query is required", http.StatusBadRequest)
		return
	}

	var buckets []string
	if raw := r.URL.Query().Get("buckets"); raw != "" {
		buckets = strings.Split(raw, ",")
	} else {
		all, err := s.backend.ListBuckets(r.Context())
		if err != nil {
			s.jsonError(w, "bucket enumeration failed: "+err.Error(), http.StatusBadGateway)
			return
		}
		buckets = all
	}

	results, err := s.backend.SearchObjects(r.Context(), fragment, buckets)
	if err != nil {
		s.metrics.BackendRequests.WithLabelValues("search", "error").Inc()
		s.jsonError(w, "search failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	s.metrics.BackendRequests.WithLabelValues("search", "ok").Inc()
	s.writeJSON(w, proto.SearchResponse{Results: results})
}

func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	bucket := r.URL.Query().Get("bucket")
	name := r.URL.Query().Get("filename")
	if bucket == "" || name == "" {
		s.jsonError(w, "bucket and filename are required", http.StatusBadRequest)
		return
	}

	exists, err := s.backend.ObjectExists(r.Context(), bucket, name)
	if err != nil {
		s.metrics.BackendRequests.WithLabelValues("exists", "error").Inc()
		s.jsonError(w, "existence check failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	s.metrics.BackendRequests.WithLabelValues("exists", "ok").Inc()
	s.writeJSON(w, proto.ExistsResponse{Exists: exists})
}

type metadataEditRequest struct {
	Targets  map[string][]string `json:"targets"` // bucket -> object names
	Metadata map[string]string   `json:"metadata"`
}

// handleMetadataEdit stages a full metadata replacement. Targets may
// span several buckets: one modal edit over multi-bucket search results
// lands everywhere at once.
func (s *Server) handleMetadataEdit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req metadataEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Targets) == 0 {
		s.jsonError(w, "no targets given", http.StatusBadRequest)
		return
	}

	sess := s.sessions.resolve(w, r)
	for bucket, names := range req.Targets {
		if err := sess.recorder.RecordMetadataEdit(bucket, names, req.Metadata); err != nil {
			s.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	s.updateStagedMetrics(sess)
	w.WriteHeader(http.StatusNoContent)
}

type lockEditRequest struct {
	Targets map[string][]string `json:"targets"`
	Unlock  bool                `json:"unlock,omitempty"`
	Until   *time.Time          `json:"until,omitempty"` // nil with Unlock false means indefinite
}

func (s *Server) handleLockEdit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req lockEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Targets) == 0 {
		s.jsonError(w, "no targets given", http.StatusBadRequest)
		return
	}

	sess := s.sessions.resolve(w, r)
	for bucket, names := range req.Targets {
		var err error
		switch {
		case req.Unlock:
			err = sess.recorder.RecordUnlock(bucket, names)
		case req.Until != nil:
			err = sess.recorder.RecordLockEdit(bucket, names, overlay.Until(*req.Until))
		default:
			err = sess.recorder.RecordLockEdit(bucket, names, overlay.Indefinite())
		}
		if err != nil {
			s.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	s.updateStagedMetrics(sess)
	w.WriteHeader(http.StatusNoContent)
}

type toggleLockRequest struct {
	Name   string `json:"name"`
	Locked bool   `json:"locked"` // Current effective lock state as rendered
}

type toggleLockResponse struct {
	NeedsSelection bool `json:"needs_selection"`
}

func (s *Server) handleToggleLock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req toggleLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sess := s.sessions.resolve(w, r)
	needsSelection, err := sess.recorder.ToggleLock(req.Name, req.Locked)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, toggleLockResponse{NeedsSelection: needsSelection})
}

type addObjectsRequest struct {
	Bucket string   `json:"bucket,omitempty"`
	Names  []string `json:"names,omitempty"`
	URLs   []string `json:"urls,omitempty"`
}

// handleAddObjects registers objects by name or by pasted object URL.
// URL forms carry their own bucket; plain names use the request bucket.
func (s *Server) handleAddObjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req addObjectsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	targets := make(map[string][]string)
	for _, raw := range req.URLs {
		bucket, name, err := ParseObjectURL(raw)
		if err != nil {
			s.jsonError(w, "invalid object URL: "+raw, http.StatusBadRequest)
			return
		}
		targets[bucket] = append(targets[bucket], name)
	}
	if len(req.Names) > 0 {
		if req.Bucket == "" {
			s.jsonError(w, "bucket is required for plain names", http.StatusBadRequest)
			return
		}
		targets[req.Bucket] = append(targets[req.Bucket], req.Names...)
	}
	if len(targets) == 0 {
		s.jsonError(w, "no objects given", http.StatusBadRequest)
		return
	}

	sess := s.sessions.resolve(w, r)
	for bucket, names := range targets {
		if err := sess.recorder.RecordObjectAddition(bucket, names); err != nil {
			s.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	s.updateStagedMetrics(sess)
	s.writeJSON(w, map[string]int{"page": sess.recorder.CurrentPage()})
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess := s.sessions.resolve(w, r)
	resp := proto.ChangesResponse{Buckets: []proto.BucketChanges{}}
	for _, bucket := range sess.store.ListDirtyBuckets() {
		ov := sess.store.Load(bucket)
		resp.Buckets = append(resp.Buckets, proto.BucketChanges{
			Bucket:        bucket,
			MetadataEdits: len(ov.MetadataEdits),
			LockEdits:     len(ov.LockEdits),
			AddedObjects:  len(ov.AddedObjects),
		})
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess := s.sessions.resolve(w, r)
	sess.recorder.DiscardAll()
	s.updateStagedMetrics(sess)
	w.WriteHeader(http.StatusNoContent)
}

type commitRequest struct {
	Buckets []string `json:"buckets,omitempty"` // Empty means every dirty bucket
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// An empty body means commit everything staged.
	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sess := s.sessions.resolve(w, r)
	buckets := req.Buckets
	if len(buckets) == 0 {
		buckets = sess.store.ListDirtyBuckets()
	}
	if len(buckets) == 0 {
		s.writeJSON(w, proto.CommitResponse{Outcomes: []proto.CommitOutcome{}})
		return
	}

	start := time.Now()
	outcomes := sess.committer.Commit(r.Context(), buckets)
	s.metrics.CommitDuration.Observe(time.Since(start).Seconds())

	resp := proto.CommitResponse{Outcomes: make([]proto.CommitOutcome, 0, len(outcomes))}
	anyConflict, anyError, anySuccess := false, false, false
	committed := make([]string, 0, len(outcomes))
	for _, bucket := range buckets {
		outcome, ok := outcomes[bucket]
		if !ok {
			continue // Nothing staged for this bucket
		}
		entry := proto.CommitOutcome{
			Bucket:   bucket,
			Updated:  outcome.Updated,
			Conflict: outcome.Conflict,
		}
		switch {
		case outcome.Conflict:
			anyConflict = true
			entry.Error = "bucket changed since last fetch, refresh before retrying"
			s.metrics.CommitsTotal.WithLabelValues("conflict").Inc()
		case errors.Is(outcome.Err, overlay.ErrCommitInFlight):
			anyConflict = true
			entry.Conflict = true
			entry.Error = outcome.Err.Error()
			s.metrics.CommitsTotal.WithLabelValues("conflict").Inc()
		case outcome.Err != nil:
			anyError = true
			entry.Error = outcome.Err.Error()
			s.metrics.CommitsTotal.WithLabelValues("error").Inc()
		default:
			anySuccess = true
			committed = append(committed, bucket)
			s.metrics.CommitsTotal.WithLabelValues("ok").Inc()
		}
		resp.Outcomes = append(resp.Outcomes, entry)
	}

	if anySuccess {
		// Committed overlays were cleared behind the recorder; re-sync
		// the active bucket so the next render reflects ground truth
		// once the UI refetches.
		sess.recorder.ReloadActive()
		s.hub.broadcast(proto.Event{Type: "commit-complete", Buckets: committed})
	}
	s.updateStagedMetrics(sess)

	switch {
	case anyConflict:
		w.WriteHeader(http.StatusConflict)
	case anyError:
		w.WriteHeader(http.StatusBadGateway)
	}
	s.writeJSON(w, resp)
}

func (s *Server) updateStagedMetrics(sess *session) {
	var metadata, locks, added float64
	for _, bucket := range sess.store.ListDirtyBuckets() {
		ov := sess.store.Load(bucket)
		metadata += float64(len(ov.MetadataEdits))
		locks += float64(len(ov.LockEdits))
		added += float64(len(ov.AddedObjects))
	}
	s.metrics.StagedEdits.WithLabelValues("metadata").Set(metadata)
	s.metrics.StagedEdits.WithLabelValues("lock").Set(locks)
	s.metrics.StagedEdits.WithLabelValues("added").Set(added)
}
