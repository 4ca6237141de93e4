package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tesela-labs/tesela/internal/freeze"
	"github.com/tesela-labs/tesela/internal/graph"
	"github.com/tesela-labs/tesela/internal/lifecycle"
	"github.com/tesela-labs/tesela/internal/ops"
	"github.com/tesela-labs/tesela/internal/projection"
	"github.com/tesela-labs/tesela/internal/readiness"
	"github.com/tesela-labs/tesela/internal/storage/memory"
	"github.com/tesela-labs/tesela/internal/types"
)

const testProject = "proj-1"

func newTestServer(t *testing.T, cfg Config) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	if err := store.CreateProject(context.Background(), &types.Project{ID: testProject}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	g := graph.NewMemoryStore()
	sync := projection.New(store, g, projection.Config{BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond}, nil)
	engine := lifecycle.NewEngine(store, lifecycle.Config{}, nil)
	gate := readiness.NewGate(store, readiness.Config{}, nil)
	frozen := freeze.NewController(store, nil)
	runner := ops.NewRunner(store, sync, frozen, ops.Config{}, nil)
	return NewServer(store, engine, gate, frozen, runner, sync, cfg, nil), store
}

// do executes one request against the router and decodes the JSON body.
func do(t *testing.T, s *Server, method, target string, headers map[string]string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, target, rec.Body.String(), err)
		}
	}
	return rec
}

func seedFragment(t *testing.T, store *memory.Store, id string) {
	t.Helper()
	if _, err := store.UpsertFragments(context.Background(), []*types.Fragment{
		{ID: id, ProjectID: testProject, Text: "sin agua potable"},
	}); err != nil {
		t.Fatalf("UpsertFragments: %v", err)
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	var out map[string]string
	rec := do(t, s, http.MethodGet, "/health", nil, nil, &out)
	if rec.Code != http.StatusOK || out["status"] != "ok" {
		t.Errorf("health = %d %v", rec.Code, out)
	}
}

func TestRoleEnforcement(t *testing.T) {
	s, _ := newTestServer(t, Config{APIKeys: map[string]string{
		"key-analyst": "analyst",
		"key-admin":   "admin",
	}})

	// No key at all.
	rec := do(t, s, http.MethodGet, "/readiness?project="+testProject, nil, nil, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("missing key: %d, want 403", rec.Code)
	}

	// Analyst reaches analyst routes but not admin routes.
	analyst := map[string]string{"X-API-Key": "key-analyst"}
	rec = do(t, s, http.MethodGet, "/readiness?project="+testProject, analyst, nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("analyst readiness: %d, want 200", rec.Code)
	}
	rec = do(t, s, http.MethodGet, "/freeze?project="+testProject, analyst, nil, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("analyst freeze: %d, want 403", rec.Code)
	}

	admin := map[string]string{"X-API-Key": "key-admin"}
	rec = do(t, s, http.MethodGet, "/freeze?project="+testProject, admin, nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("admin freeze: %d, want 200", rec.Code)
	}
}

func TestSubmitCreated(t *testing.T) {
	s, store := newTestServer(t, Config{})
	seedFragment(t, store, "frag-1")

	var cand types.Candidate
	rec := do(t, s, http.MethodPost, "/candidates", nil, map[string]any{
		"project_id":  testProject,
		"codigo":      "escasez de agua",
		"fragment_id": "frag-1",
		"source":      "manual",
		"confidence":  0.8,
	}, &cand)
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
	}
	if cand.State != types.CandidatePending || cand.ID == "" {
		t.Errorf("candidate = %+v, want pending with id", cand)
	}
}

func TestErrorEnvelopeShape(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	var env errorEnvelope
	rec := do(t, s, http.MethodPost, "/candidates", map[string]string{"X-Request-ID": "req-42"}, map[string]any{
		"project_id":  testProject,
		"codigo":      "escasez de agua",
		"fragment_id": "no-such-fragment",
		"source":      "manual",
	}, &env)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if env.Error != "not_found" || env.RequestID != "req-42" {
		t.Errorf("envelope = %+v", env)
	}
	if rec.Header().Get("X-Request-ID") != "req-42" {
		t.Errorf("request id header not echoed")
	}
}

func TestAxialRefusalCarriesBlockingReasons(t *testing.T) {
	s, store := newTestServer(t, Config{})
	ctx := context.Background()
	seedFragment(t, store, "frag-1")
	code := &types.CatalogCode{ProjectID: testProject, Codigo: "escasez de agua", Status: types.CodeActive}
	if _, err := store.CreateCode(ctx, code); err != nil {
		t.Fatalf("CreateCode: %v", err)
	}
	// An assignment without a stable id blocks the gate.
	if _, err := store.CreateAssignment(ctx, &types.Assignment{
		ProjectID:  testProject,
		FragmentID: "frag-1",
		Codigo:     "escasez de agua",
	}); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}

	var env errorEnvelope
	rec := do(t, s, http.MethodPost, "/axial/relations", nil, map[string]any{
		"project_id": testProject,
		"categoria":  "crisis hidrica",
		"codigo":     "escasez de agua",
		"relation":   "cause",
	}, &env)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if env.Error != "not_ready" || len(env.BlockingReasons) == 0 {
		t.Errorf("envelope = %+v, want not_ready with blocking_reasons", env)
	}
}

func TestMergeDryRunByDefault(t *testing.T) {
	s, store := newTestServer(t, Config{})
	ctx := context.Background()
	seedFragment(t, store, "frag-1")

	var cand types.Candidate
	do(t, s, http.MethodPost, "/candidates", nil, map[string]any{
		"project_id":  testProject,
		"codigo":      "falta de agua",
		"fragment_id": "frag-1",
		"source":      "manual",
	}, &cand)

	// No dry_run field in the body: the merge must not execute.
	var result lifecycle.MergeResult
	rec := do(t, s, http.MethodPost, "/candidates/merge", nil, map[string]any{
		"project_id":    testProject,
		"source_ids":    []string{cand.ID},
		"target_codigo": "escasez de agua",
	}, &result)
	if rec.Code != http.StatusOK {
		t.Fatalf("merge: %d %s", rec.Code, rec.Body.String())
	}
	if !result.DryRun || result.WouldMove != 1 {
		t.Errorf("result = %+v, want dry run with would_move=1", result)
	}
	got, err := store.GetCandidate(ctx, testProject, cand.ID)
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if got.State != types.CandidatePending {
		t.Errorf("defaulted merge executed: state = %s", got.State)
	}
}

func TestOperationDisciplineNoopWithoutSession(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	// Real run requested, confirm set, but no X-Session-ID header.
	var resp ops.Response
	rec := do(t, s, http.MethodPost, "/ops/backfill_code_ids", nil, map[string]any{
		"project_id": testProject,
		"dry_run":    false,
		"confirm":    true,
	}, &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("ops: %d %s", rec.Code, rec.Body.String())
	}
	if resp.Outcome != types.OutcomeNoop {
		t.Errorf("outcome = %s, want noop", resp.Outcome)
	}

	// The session header completes the discipline.
	resp = ops.Response{}
	rec = do(t, s, http.MethodPost, "/ops/backfill_code_ids", map[string]string{"X-Session-ID": "s-1"}, map[string]any{
		"project_id": testProject,
		"dry_run":    false,
		"confirm":    true,
	}, &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("ops with session: %d %s", rec.Code, rec.Body.String())
	}
	// Nothing to backfill on an empty project, but the run executed: the
	// discipline message is gone.
	if resp.Outcome != types.OutcomeNoop || resp.Message != "" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	var report types.ReadinessReport
	rec := do(t, s, http.MethodGet, "/readiness?project="+testProject, nil, nil, &report)
	if rec.Code != http.StatusOK {
		t.Fatalf("readiness: %d", rec.Code)
	}
	if !report.AxialReady {
		t.Errorf("empty project not ready: %+v", report)
	}
}

func TestReadinessRequiresProject(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	var env errorEnvelope
	rec := do(t, s, http.MethodGet, "/readiness", nil, nil, &env)
	if rec.Code != http.StatusBadRequest || env.Error != "invalid_request" {
		t.Errorf("got %d %+v, want 400 invalid_request", rec.Code, env)
	}
}

func TestSyncEntityUnknownRejected(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	rec := do(t, s, http.MethodPost, "/sync/everything", nil, map[string]any{"project_id": testProject}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown entity: %d, want 400", rec.Code)
	}
}

func TestSyncEntityRealRunProjects(t *testing.T) {
	s, store := newTestServer(t, Config{})
	seedFragment(t, store, "frag-1")

	var result projection.Result
	rec := do(t, s, http.MethodPost, "/sync/all", map[string]string{"X-Session-ID": "s-1"}, map[string]any{
		"project_id": testProject,
		"dry_run":    false,
	}, &result)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync: %d %s", rec.Code, rec.Body.String())
	}
	if result.Synced != 1 {
		t.Errorf("synced = %d, want 1", result.Synced)
	}
}

func TestFreezeRoundTrip(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	var st types.FreezeState
	rec := do(t, s, http.MethodPost, "/freeze", map[string]string{"X-Actor": "ana"}, map[string]any{
		"project_id": testProject,
		"note":       "reporting window",
	}, &st)
	if rec.Code != http.StatusOK || !st.IsFrozen {
		t.Fatalf("freeze: %d %+v", rec.Code, st)
	}

	rec = do(t, s, http.MethodGet, "/freeze?project="+testProject, nil, nil, &st)
	if rec.Code != http.StatusOK || !st.IsFrozen {
		t.Errorf("get freeze: %d %+v", rec.Code, st)
	}

	rec = do(t, s, http.MethodPost, "/freeze/break", map[string]string{"X-Actor": "ana"}, map[string]any{
		"project_id": testProject,
	}, &st)
	if rec.Code != http.StatusOK || st.IsFrozen {
		t.Errorf("break: %d %+v", rec.Code, st)
	}
}

func TestUnknownBodyFieldRejected(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	rec := do(t, s, http.MethodPost, "/candidates", nil, map[string]any{
		"project_id": testProject,
		"codigo":     "x y",
		"bogus":      true,
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field: %d, want 400", rec.Code)
	}
}
