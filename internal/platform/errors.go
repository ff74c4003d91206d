package platform

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// APIError is a non-2xx response from the platform.
//
// Error() renders the response envelope as a JSON-encoded JSON string,
// the same shape the platform's own SDK surfaces, so consumers that only
// see the error text can still recover the envelope.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   []byte
}

func (e *APIError) Error() string {
	b, err := json.Marshal(e.Envelope())
	if err != nil {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.Status)
	}
	quoted, _ := json.Marshal(string(b))
	return string(quoted)
}

// StatusCode returns the HTTP status of the response.
func (e *APIError) StatusCode() int {
	return e.Status
}

// Envelope returns the decoded error body. Bodies that are not a JSON
// object are wrapped in a synthetic name/code/message envelope.
func (e *APIError) Envelope() map[string]any {
	var env map[string]any
	if err := json.Unmarshal(e.Body, &env); err == nil && env != nil {
		return env
	}
	return map[string]any{
		"name":    "HTTP_" + strconv.Itoa(e.Status),
		"code":    strconv.Itoa(e.Status),
		"message": fmt.Sprintf("%d - %s", e.Status, e.Body),
	}
}

// Envelopes the platform answers with when an object does not exist.
// Pipelines report a dedicated error name; projects come back as an
// internal error whose message carries the upstream 404.
var (
	pipelineNotFoundBody = []byte(`{"status":404,"code":"3000","name":"PIPELINE_NOT_FOUND_ERROR","message":"Pipeline not found"}`)
	projectNotFoundBody  = []byte(`{"status":500,"code":"1001","name":"INTERNAL_SERVER_ERROR","message":"404 - {}"}`)
)

func pipelineNotFound(name string) *APIError {
	return &APIError{Method: "GET", Path: pipelinePath(name), Status: 404, Body: pipelineNotFoundBody}
}

func projectNotFound(name string) *APIError {
	return &APIError{Method: "GET", Path: projectPath(name), Status: 500, Body: projectNotFoundBody}
}
