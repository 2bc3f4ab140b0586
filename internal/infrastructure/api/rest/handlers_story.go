package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mbflow-labs/storygraph/internal/domain"
	"github.com/mbflow-labs/storygraph/internal/graph"
	"github.com/mbflow-labs/storygraph/internal/infrastructure/storage"
	"github.com/mbflow-labs/storygraph/internal/infrastructure/tracing"
	"github.com/mbflow-labs/storygraph/internal/vm"
)

// StepRequest selects the edge a player is choosing to follow. An empty
// EdgeUID makes no selection: the driver re-runs the tick at the current
// cursor.
type StepRequest struct {
	EdgeUID string `json:"edge_uid"`
}

// RunRequest bounds an auto-play call.
type RunRequest struct {
	MaxSteps int `json:"max_steps"`
}

// TickResultResponse is the wire shape of a vm.TickResult.
type TickResultResponse struct {
	PatchID       uuid.UUID      `json:"patch_id"`
	CursorUID     uuid.UUID      `json:"cursor_uid"`
	Journal       []FragmentView `json:"journal"`
	NextCursorUID *uuid.UUID     `json:"next_cursor_uid,omitempty"`
}

// FragmentView is the wire shape of a domain.Fragment.
type FragmentView struct {
	Type    string       `json:"type"`
	Content domain.Value `json:"content"`
}

// RunResultResponse is the wire shape of a vm.RunResult.
type RunResultResponse struct {
	PatchCount int    `json:"patch_count"`
	Reason     string `json:"reason"`
	Error      string `json:"error,omitempty"`
}

func fragmentViews(fragments []domain.Fragment) []FragmentView {
	out := make([]FragmentView, len(fragments))
	for i, f := range fragments {
		out[i] = FragmentView{Type: string(f.Type), Content: f.Content}
	}
	return out
}

func tickResultResponse(result vm.TickResult) TickResultResponse {
	return TickResultResponse{
		PatchID:       result.PatchID,
		CursorUID:     result.CursorUID,
		Journal:       fragmentViews(result.Journal),
		NextCursorUID: result.NextCursorUID,
	}
}

// handleGraphSnapshot handles GET /api/v1/stories/{id}/graph.
func (s *Server) handleGraphSnapshot(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFor(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	sess.mu.Lock()
	dto := sess.engine.Graph().ToDTO()
	epoch := sess.engine.Epoch()
	sess.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"epoch": epoch, "graph": dto})
}

// handleCursor handles GET /api/v1/stories/{id}/cursor.
func (s *Server) handleCursor(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFor(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	sess.mu.Lock()
	cursor := sess.driver.Cursor()
	sess.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"cursor_uid": cursor})
}

// handleStep handles POST /api/v1/stories/{id}/step.
func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	storyID := r.PathValue("id")
	ctx, span := tracing.StartSpan(r.Context(), "rest.step", attribute.String("story_id", storyID))
	defer span.End()

	sess, err := s.sessionFor(storyID)
	if err != nil {
		tracing.RecordError(span, err)
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var req StepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	edge, err := resolveEdge(sess.engine.Graph(), sess.driver.Cursor(), req.EdgeUID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	patches, result := sess.driver.Step(edge)
	if result.Err != nil {
		tracing.RecordError(span, result.Err)
		writeError(w, http.StatusUnprocessableEntity, result.Err.Error())
		return
	}

	if err := s.persistPatches(ctx, storyID, sess, patches); err != nil {
		s.logger.Error().Err(err).Str("story_id", storyID).Msg("failed to persist step patches")
	}

	writeJSON(w, http.StatusOK, tickResultResponse(result))
}

// handleRunUntilBlocked handles POST /api/v1/stories/{id}/run.
func (s *Server) handleRunUntilBlocked(w http.ResponseWriter, r *http.Request) {
	storyID := r.PathValue("id")
	ctx, span := tracing.StartSpan(r.Context(), "rest.run_until_blocked", attribute.String("story_id", storyID))
	defer span.End()

	sess, err := s.sessionFor(storyID)
	if err != nil {
		tracing.RecordError(span, err)
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var req RunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.MaxSteps <= 0 {
		req.MaxSteps = 1000
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	result := sess.driver.RunUntilBlocked(req.MaxSteps)
	span.SetAttributes(attribute.Int("patch_count", len(result.Patches)), attribute.String("reason", string(result.Reason)))
	if err := s.persistPatches(ctx, storyID, sess, result.Patches); err != nil {
		s.logger.Error().Err(err).Str("story_id", storyID).Msg("failed to persist run patches")
	}

	resp := RunResultResponse{PatchCount: len(result.Patches), Reason: string(result.Reason)}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePatches handles GET /api/v1/stories/{id}/patches?from=&to=.
func (s *Server) handlePatches(w http.ResponseWriter, r *http.Request) {
	storyID := r.PathValue("id")
	from := parseIntQuery(r, "from", 0)
	to := parseIntQuery(r, "to", 1<<62)

	patches, err := s.store.GetPatches(r.Context(), storyID, from, to)
	if err != nil {
		var notFound *storage.ErrNotFound
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load patches")
		return
	}
	writeJSON(w, http.StatusOK, patches)
}

// persistPatches appends patches sequentially, versioning off the
// story's current patch count in storage, and writes a fresh snapshot
// once the committed version crosses the session's snapshot cadence.
// Callers must hold sess.mu.
func (s *Server) persistPatches(ctx context.Context, storyID string, sess *session, patches []*domain.Patch) error {
	if len(patches) == 0 {
		return nil
	}
	existing, err := s.store.GetPatches(ctx, storyID, 0, 1<<62)
	if err != nil {
		return err
	}
	version := int64(len(existing))
	snapshotEvery := int64(sess.engine.Config().SnapshotEvery)
	for _, p := range patches {
		if err := s.store.AppendPatch(ctx, storyID, version, p); err != nil {
			return err
		}
		version++
		if snapshotEvery > 0 && version%snapshotEvery == 0 {
			snap := storage.Snapshot{
				StoryID: storyID,
				Version: version,
				Cursor:  sess.driver.Cursor(),
				DTO:     sess.engine.Graph().ToDTO(),
			}
			if err := s.store.SaveSnapshot(ctx, snap); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveEdge looks up the edge a player selected by uid among the
// current cursor's outgoing edges. An empty uid means "no player
// selection" and yields a nil edge.
func resolveEdge(g *graph.Graph, cursor uuid.UUID, edgeUID string) (*domain.Edge, error) {
	if edgeUID == "" {
		return nil, nil
	}
	id, err := uuid.Parse(edgeUID)
	if err != nil {
		return nil, errors.New("edge_uid is not a valid uuid")
	}
	edge, ok := g.GetEdge(id)
	if !ok {
		return nil, errors.New("edge not found")
	}
	if edge.SrcID != cursor {
		return nil, errors.New("edge does not originate from the current cursor")
	}
	return edge, nil
}
