// Package action resolves a policy action to a concrete side effect: a
// configured HTTP route first, then a native adapter.
package action

import (
	"errors"
	"time"
)

// Sentinel errors for route and adapter lookups.
var (
	ErrRouteExists     = errors.New("route already exists")
	ErrRouteNotFound   = errors.New("route not found")
	ErrAdapterNotFound = errors.New("adapter config not found")
)

// Route maps an action type to an outbound HTTP call.
type Route struct {
	ActionType      string    `json:"actionType" validate:"required"`
	TargetURL       string    `json:"targetUrl" validate:"required"`
	HTTPMethod      string    `json:"httpMethod"`
	PayloadTemplate string    `json:"payloadTemplate"`
	AuthSecret      string    `json:"authSecret,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// AdapterConfig holds connection settings for a named downstream platform.
type AdapterConfig struct {
	ID             int64             `json:"id"`
	AdapterName    string            `json:"adapterName" validate:"required"`
	BaseURL        string            `json:"baseUrl" validate:"required"`
	AuthToken      string            `json:"authToken,omitempty"`
	APIKey         string            `json:"apiKey,omitempty"`
	DefaultHeaders map[string]string `json:"defaultHeaders"`
	IsActive       bool              `json:"isActive"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// Trace records one action attempt. Request is the parsed JSON payload or a
// diagnostic string; Response is the body text or an *ErrorResponse.
type Trace struct {
	ActionType string `json:"actionType"`
	Endpoint   string `json:"endpoint"`
	Request    any    `json:"request"`
	Response   any    `json:"response"`
	StatusCode int    `json:"statusCode"`
}

// ErrorResponse is the Response of a failed or skipped action.
type ErrorResponse struct {
	Error  string `json:"error"`
	Status string `json:"status,omitempty"`
}

// Failed reports whether the trace carries an error response.
func (t Trace) Failed() bool {
	_, ok := t.Response.(*ErrorResponse)
	return ok
}

// Skipped reports whether no route or adapter could take the action.
func (t Trace) Skipped() bool {
	er, ok := t.Response.(*ErrorResponse)
	return ok && er.Status == "Skipped"
}
