package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgnsrekt/snapcheck/internal/artifact"
	"github.com/dgnsrekt/snapcheck/internal/cdpcontrol"
	"github.com/dgnsrekt/snapcheck/internal/controller"
)

type stubService struct {
	started  []controller.RunRequest
	startErr error
	runs     map[string]controller.Run
}

func (s *stubService) Start(req controller.RunRequest) (controller.Run, error) {
	if s.startErr != nil {
		return controller.Run{}, s.startErr
	}
	s.started = append(s.started, req)
	return controller.Run{ID: "run-1", Status: controller.StatusRunning, URL: req.URL, StartedAt: time.Now()}, nil
}

func (s *stubService) Get(id string) (controller.Run, error) {
	run, ok := s.runs[id]
	if !ok {
		return controller.Run{}, cdpcontrol.NewError(cdpcontrol.CodeRunNotFound, "run not found: "+id, nil)
	}
	return run, nil
}

func (s *stubService) List() []controller.Run {
	var out []controller.Run
	for _, r := range s.runs {
		out = append(out, r)
	}
	return out
}

func (s *stubService) Cancel(id string) (controller.Run, error) { return s.Get(id) }

type stubArtifacts struct {
	meta artifact.Meta
	png  []byte
}

func (a *stubArtifacts) Get(id string) (artifact.Meta, error) {
	if id != a.meta.ID {
		return artifact.Meta{}, artifact.ErrNotFound
	}
	return a.meta, nil
}

func (a *stubArtifacts) List(runID string) ([]artifact.Meta, error) {
	if runID != a.meta.RunID {
		return nil, nil
	}
	return []artifact.Meta{a.meta}, nil
}

func (a *stubArtifacts) ReadImage(id string) ([]byte, string, error) {
	if _, err := a.Get(id); err != nil {
		return nil, "", err
	}
	return a.png, "png", nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStartRun(t *testing.T) {
	svc := &stubService{}
	h := NewServer(svc, nil, nil)

	w := do(t, h, http.MethodPost, "/api/v1/runs", `{"url":"https://shop.test/","starting_query":"dress"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusAccepted, w.Body.String())
	}
	var run controller.Run
	if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if run.ID != "run-1" || run.Status != controller.StatusRunning {
		t.Fatalf("run = %+v", run)
	}
	if len(svc.started) != 1 || svc.started[0].StartingQuery != "dress" || svc.started[0].URL != "https://shop.test/" {
		t.Fatalf("started = %+v", svc.started)
	}
}

func TestStartRunEmptyBody(t *testing.T) {
	svc := &stubService{}
	h := NewServer(svc, nil, nil)

	w := do(t, h, http.MethodPost, "/api/v1/runs", `{}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(svc.started) != 1 || svc.started[0].URL != "" {
		t.Fatalf("started = %+v", svc.started)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", cdpcontrol.NewError(cdpcontrol.CodeValidation, "no suite configured", nil), http.StatusBadRequest},
		{"in progress", cdpcontrol.NewError(cdpcontrol.CodeRunInProgress, "run x is still in progress", nil), http.StatusConflict},
		{"cdp", cdpcontrol.NewError(cdpcontrol.CodeCDPUnavailable, "no tab", nil), http.StatusBadGateway},
		{"timeout", cdpcontrol.NewError(cdpcontrol.CodeEvalTimeout, "slow", nil), http.StatusGatewayTimeout},
		{"uncoded", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewServer(&stubService{startErr: tc.err}, nil, nil)
			w := do(t, h, http.MethodPost, "/api/v1/runs", `{}`)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestGetAndListRuns(t *testing.T) {
	svc := &stubService{runs: map[string]controller.Run{
		"run-1": {ID: "run-1", Status: controller.StatusPassed},
	}}
	h := NewServer(svc, nil, nil)

	if w := do(t, h, http.MethodGet, "/api/v1/runs/run-1", ""); w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/runs/missing", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d, want 404", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/runs/run-1/cancel", ""); w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", w.Code)
	}

	w := do(t, h, http.MethodGet, "/api/v1/runs", "")
	var body struct {
		Runs []controller.Run `json:"runs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Runs) != 1 || body.Runs[0].ID != "run-1" {
		t.Fatalf("runs = %+v", body.Runs)
	}

	empty := NewServer(&stubService{}, nil, nil)
	if w := do(t, empty, http.MethodGet, "/api/v1/runs", ""); !bytes.Contains(w.Body.Bytes(), []byte(`"runs":[]`)) {
		t.Fatalf("empty list body = %s", w.Body.String())
	}
}

func TestArtifactEndpoints(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	store := &stubArtifacts{
		meta: artifact.Meta{ID: "3b241101-e2bb-4255-8caf-4136c566a962", RunID: "run-1", Format: "png"},
		png:  png,
	}
	h := NewServer(&stubService{}, store, nil)

	w := do(t, h, http.MethodGet, "/api/v1/runs/run-1/artifacts", "")
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(store.meta.ID)) {
		t.Fatalf("list = %d %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodGet, "/api/v1/artifacts/"+store.meta.ID+"/image", "")
	if w.Code != http.StatusOK {
		t.Fatalf("image status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("Content-Type = %q", ct)
	}
	if !bytes.Equal(w.Body.Bytes(), png) {
		t.Fatalf("image body = %v", w.Body.Bytes())
	}

	if w := do(t, h, http.MethodGet, "/api/v1/artifacts/3b241101-e2bb-4255-8caf-000000000000", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown artifact status = %d, want 404", w.Code)
	}
}

func TestHealth(t *testing.T) {
	h := NewServer(&stubService{}, nil, nil)
	w := do(t, h, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"ok"`)) {
		t.Fatalf("health = %d %s", w.Code, w.Body.String())
	}
}
