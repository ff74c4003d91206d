package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"

	"github.com/agentic-research/cfsync/internal/spec"
	"github.com/google/uuid"
)

// Call is one recorded operation against a MemoryPlatform.
type Call struct {
	Op   string
	Name string
}

// Operation names recorded in Call.Op.
const (
	OpGetPipeline    = "GetPipeline"
	OpCreatePipeline = "CreatePipeline"
	OpUpdatePipeline = "UpdatePipeline"
	OpGetProject     = "GetProject"
	OpCreateProject  = "CreateProject"
)

var (
	pipelineExistsBody = []byte(`{"status":409,"code":"3001","name":"PIPELINE_ALREADY_EXISTS","message":"Pipeline already exists"}`)
	projectExistsBody  = []byte(`{"status":409,"code":"1002","name":"PROJECT_ALREADY_EXISTS","message":"Project already exists"}`)
)

// MemoryPlatform is an in-process stand-in for the platform. It answers with
// the same error envelopes as the hosted API and records every call.
type MemoryPlatform struct {
	mu        sync.RWMutex
	pipelines map[string]map[string]any
	projects  map[string]map[string]any
	failures  map[Call]error
	calls     []Call
}

func NewMemoryPlatform() *MemoryPlatform {
	return &MemoryPlatform{
		pipelines: make(map[string]map[string]any),
		projects:  make(map[string]map[string]any),
		failures:  make(map[Call]error),
	}
}

// AddPipeline seeds a remote pipeline without recording a call. Its name
// is read from metadata.name.
func (m *MemoryPlatform) AddPipeline(doc map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipelines[spec.Spec(doc).Name()] = cloneDoc(doc)
}

// AddProject seeds a remote project without recording a call.
func (m *MemoryPlatform) AddProject(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[name] = newProject(name)
}

// FailOn makes every subsequent op on name return err.
func (m *MemoryPlatform) FailOn(op, name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[Call{Op: op, Name: name}] = err
}

// Pipeline returns a copy of the stored pipeline.
func (m *MemoryPlatform) Pipeline(name string) (map[string]any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pipelines[name]
	if !ok {
		return nil, false
	}
	return cloneDoc(p), true
}

// Projects returns the stored project names in sorted order.
func (m *MemoryPlatform) Projects() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.projects))
	for name := range m.projects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Calls returns the recorded calls in order.
func (m *MemoryPlatform) Calls() []Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Call(nil), m.calls...)
}

// CallsTo returns the recorded calls with the given op.
func (m *MemoryPlatform) CallsTo(op string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// record appends the call and returns any injected failure.
// Must be called with m.mu held.
func (m *MemoryPlatform) record(op, name string) error {
	c := Call{Op: op, Name: name}
	m.calls = append(m.calls, c)
	return m.failures[c]
}

func (m *MemoryPlatform) GetPipeline(ctx context.Context, name string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpGetPipeline, name); err != nil {
		return nil, err
	}
	p, ok := m.pipelines[name]
	if !ok {
		return nil, pipelineNotFound(name)
	}
	return cloneDoc(p), nil
}

func (m *MemoryPlatform) CreatePipeline(ctx context.Context, s spec.Spec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	name := s.Name()
	if err := m.record(OpCreatePipeline, name); err != nil {
		return err
	}
	if _, ok := m.pipelines[name]; ok {
		return &APIError{Method: http.MethodPost, Path: "/api/pipelines", Status: http.StatusConflict, Body: pipelineExistsBody}
	}
	m.pipelines[name] = cloneDoc(s)
	return nil
}

func (m *MemoryPlatform) UpdatePipeline(ctx context.Context, name string, s spec.Spec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpUpdatePipeline, name); err != nil {
		return err
	}
	if _, ok := m.pipelines[name]; !ok {
		return pipelineNotFound(name)
	}
	m.pipelines[name] = cloneDoc(s)
	return nil
}

func (m *MemoryPlatform) GetProject(ctx context.Context, name string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpGetProject, name); err != nil {
		return nil, err
	}
	p, ok := m.projects[name]
	if !ok {
		return nil, projectNotFound(name)
	}
	return cloneDoc(p), nil
}

func (m *MemoryPlatform) CreateProject(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpCreateProject, name); err != nil {
		return err
	}
	if _, ok := m.projects[name]; ok {
		return &APIError{Method: http.MethodPost, Path: "/api/projects", Status: http.StatusConflict, Body: projectExistsBody}
	}
	m.projects[name] = newProject(name)
	return nil
}

// Handler serves the platform's REST routes backed by m, so an HTTPClient
// can be pointed at it.
func (m *MemoryPlatform) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/pipelines/{name}", func(w http.ResponseWriter, r *http.Request) {
		p, err := m.GetPipeline(r.Context(), r.PathValue("name"))
		respond(w, p, err)
	})
	mux.HandleFunc("POST /api/pipelines", func(w http.ResponseWriter, r *http.Request) {
		var s spec.Spec
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		respond(w, nil, m.CreatePipeline(r.Context(), s))
	})
	mux.HandleFunc("PUT /api/pipelines/{name}", func(w http.ResponseWriter, r *http.Request) {
		var s spec.Spec
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		respond(w, nil, m.UpdatePipeline(r.Context(), r.PathValue("name"), s))
	})
	mux.HandleFunc("GET /api/projects/name/{name}", func(w http.ResponseWriter, r *http.Request) {
		p, err := m.GetProject(r.Context(), r.PathValue("name"))
		respond(w, p, err)
	})
	mux.HandleFunc("POST /api/projects", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ProjectName string `json:"projectName"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		respond(w, nil, m.CreateProject(r.Context(), body.ProjectName))
	})
	return mux
}

func respond(w http.ResponseWriter, body any, err error) {
	w.Header().Set("Content-Type", "application/json")
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		w.WriteHeader(apiErr.Status)
		_, _ = w.Write(apiErr.Body)
	case err != nil:
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  500,
			"code":    "500",
			"name":    "INTERNAL_SERVER_ERROR",
			"message": err.Error(),
		})
	case body == nil:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	default:
		_ = json.NewEncoder(w).Encode(body)
	}
}

func newProject(name string) map[string]any {
	return map[string]any{"id": uuid.NewString(), "projectName": name}
}

func cloneDoc(doc map[string]any) map[string]any {
	c, err := spec.Spec(doc).Clone()
	if err != nil {
		return nil
	}
	return c
}
